package queue

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/waktihq/notify/internal/handler"
	"github.com/waktihq/notify/internal/middleware"
	"github.com/waktihq/notify/internal/model"
	"github.com/waktihq/notify/internal/service/queue"
	"github.com/waktihq/notify/pkg/httputil"
)

type Handler struct {
	service queue.Service
}

func NewHandler(service queue.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	q := r.Group("/queue")
	{
		q.POST("", auth.Authenticate(), h.Enqueue)
		q.POST("/process", auth.RequireServiceKey(), h.Process)
	}
}

type enqueueRequest struct {
	NotificationType string        `json:"notification_type" binding:"required"`
	Channel          string        `json:"channel" binding:"omitempty,oneof=push email"`
	Title            string        `json:"title" binding:"required"`
	Body             string        `json:"body" binding:"required"`
	Data             model.JSONMap `json:"data"`
	DeepLink         string        `json:"deep_link" binding:"omitempty,deeplink"`
	ScheduledFor     *time.Time    `json:"scheduled_for"`
}

func (h *Handler) Enqueue(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing user identity"))
		return
	}

	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	n := &model.QueuedNotification{
		UserID:           userID,
		NotificationType: req.NotificationType,
		Channel:          req.Channel,
		Title:            req.Title,
		Body:             req.Body,
		Data:             req.Data,
		DeepLink:         req.DeepLink,
	}
	if req.ScheduledFor != nil {
		n.ScheduledFor = *req.ScheduledFor
	}

	if err := h.service.Enqueue(c.Request.Context(), n); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(n))
}

func (h *Handler) Process(c *gin.Context) {
	result, err := h.service.Drain(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}
