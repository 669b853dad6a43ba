package router

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/waktihq/notify/internal/handler"
	healthHandler "github.com/waktihq/notify/internal/handler/health"
	presenceHandler "github.com/waktihq/notify/internal/handler/presence"
	queueHandler "github.com/waktihq/notify/internal/handler/queue"
	schedulerHandler "github.com/waktihq/notify/internal/handler/scheduler"
	"github.com/waktihq/notify/internal/middleware"
)

// Handler registers its routes on a group, picking auth per endpoint.
type Handler interface {
	RegisterRoutes(*gin.RouterGroup, *middleware.AuthMiddleware)
}

type Router struct {
	engine     *gin.Engine
	auth       *middleware.AuthMiddleware
	queueH     *queueHandler.Handler
	schedulerH *schedulerHandler.Handler
	presenceH  *presenceHandler.Handler
	healthH    *healthHandler.Handler
	metrics    *routerMetrics
}

type routerMetrics struct {
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
}

func initRouterMetrics(prefix string) *routerMetrics {
	return &routerMetrics{
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: prefix + "_request_duration_seconds",
				Help: "Duration of HTTP requests in seconds",
			},
			[]string{"method", "path", "status"},
		),
		requestTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
	}
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		r.metrics.requestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		r.metrics.requestTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}

type RouterConfig struct {
	RateLimit  rate.Limit
	RateBurst  int
	CORSConfig middleware.CORSConfig
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	queueH *queueHandler.Handler,
	schedulerH *schedulerHandler.Handler,
	presenceH *presenceHandler.Handler,
	healthH *healthHandler.Handler,
	config RouterConfig,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	handler.RegisterValidations()

	engine := gin.New()

	r := &Router{
		engine:     engine,
		auth:       auth,
		queueH:     queueH,
		schedulerH: schedulerH,
		presenceH:  presenceH,
		healthH:    healthH,
		metrics:    initRouterMetrics("notify_http"),
	}

	engine.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		middleware.ErrorHandler(),
		r.metricsMiddleware(),
	)

	engine.Use(middleware.CORS(config.CORSConfig))

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:  config.RateLimit,
		Burst: config.RateBurst,
	})
	engine.Use(rateLimiter.RateLimit())

	return r
}

func (r *Router) Setup() {
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.engine.GET("/health", r.healthH.LivenessCheck)

	api := r.engine.Group("/v1")

	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	r.healthH.RegisterRoutes(api)
	r.queueH.RegisterRoutes(api, r.auth)
	r.schedulerH.RegisterRoutes(api, r.auth)
	r.presenceH.RegisterRoutes(api, r.auth)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
