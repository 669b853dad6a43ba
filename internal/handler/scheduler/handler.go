package scheduler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/waktihq/notify/internal/handler"
	"github.com/waktihq/notify/internal/middleware"
	"github.com/waktihq/notify/internal/model"
	"github.com/waktihq/notify/internal/service/scheduler"
	"github.com/waktihq/notify/pkg/httputil"
)

type Handler struct {
	service scheduler.Service
}

func NewHandler(service scheduler.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	p := r.Group("/push")
	{
		p.POST("/reminder", auth.Authenticate(), h.ScheduleReminder)
		p.POST("/doc-expiry", auth.Authenticate(), h.ScheduleDocExpiry)
		p.POST("/doc-expiry/reschedule", auth.Authenticate(), h.RescheduleDocExpiry)
		p.POST("/events", auth.RequireServiceKey(), h.DeliveryEvent)
	}
}

type reminderRequest struct {
	Title        string        `json:"title" binding:"required"`
	Body         string        `json:"body"`
	Data         model.JSONMap `json:"data"`
	DeepLink     string        `json:"deep_link" binding:"omitempty,deeplink"`
	ScheduledFor time.Time     `json:"scheduled_for" binding:"required"`
}

func (h *Handler) ScheduleReminder(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing user identity"))
		return
	}

	var req reminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	record, err := h.service.ScheduleReminder(c.Request.Context(), &scheduler.ReminderRequest{
		UserID:       userID,
		Title:        req.Title,
		Body:         req.Body,
		Data:         req.Data,
		DeepLink:     req.DeepLink,
		ScheduledFor: req.ScheduledFor,
	})
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(record))
}

type docExpiryRequest struct {
	DocID      uuid.UUID `json:"doc_id" binding:"required"`
	DocName    string    `json:"doc_name"`
	ExpiryDate time.Time `json:"expiry_date" binding:"required"`
}

func (h *Handler) ScheduleDocExpiry(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing user identity"))
		return
	}

	var req docExpiryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	record, err := h.service.ScheduleDocExpiry(c.Request.Context(), &scheduler.DocExpiryRequest{
		UserID:     userID,
		DocID:      req.DocID,
		DocName:    req.DocName,
		ExpiryDate: req.ExpiryDate,
	})
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(record))
}

type rescheduleRequest struct {
	DocID      uuid.UUID `json:"doc_id" binding:"required"`
	ExpiryDate time.Time `json:"expiry_date" binding:"required"`
}

func (h *Handler) RescheduleDocExpiry(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing user identity"))
		return
	}

	var req rescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	record, err := h.service.RescheduleDocExpiry(c.Request.Context(), userID, req.DocID, req.ExpiryDate)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(record))
}

type deliveryEventRequest struct {
	NotificationID string     `json:"notification_id" binding:"required"`
	DeliveredAt    *time.Time `json:"delivered_at"`
}

// DeliveryEvent receives the provider's delivery webhook and flips the
// matching history row from scheduled to delivered.
func (h *Handler) DeliveryEvent(c *gin.Context) {
	var req deliveryEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	deliveredAt := time.Now()
	if req.DeliveredAt != nil {
		deliveredAt = *req.DeliveredAt
	}

	if err := h.service.ConfirmDelivered(c.Request.Context(), req.NotificationID, deliveredAt); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"confirmed": true}))
}
