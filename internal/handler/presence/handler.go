package presence

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/waktihq/notify/internal/handler"
	"github.com/waktihq/notify/internal/middleware"
	"github.com/waktihq/notify/internal/presence"
)

// Handler exposes a read view over the shared presence registry and relays
// client heartbeats/typing signals into the channel.
type Handler struct {
	registry *presence.Registry
}

func NewHandler(registry *presence.Registry) *Handler {
	return &Handler{registry: registry}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	p := r.Group("/presence", auth.Authenticate())
	{
		p.GET("", h.ListOnline)
		p.GET("/:user_id", h.GetPresence)
		p.PUT("/heartbeat", h.Heartbeat)
		p.PUT("/typing", h.SetTyping)
	}
}

type presenceView struct {
	UserID   string `json:"user_id"`
	Online   bool   `json:"online"`
	Typing   bool   `json:"typing"`
	LastSeen string `json:"last_seen"`
}

func (h *Handler) GetPresence(c *gin.Context) {
	id, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid user ID"))
		return
	}

	userID := id.String()
	c.JSON(http.StatusOK, handler.NewSuccessResponse(presenceView{
		UserID:   userID,
		Online:   h.registry.IsOnline(userID),
		Typing:   h.registry.IsTyping(userID),
		LastSeen: h.registry.LastSeenLabel(userID),
	}))
}

func (h *Handler) ListOnline(c *gin.Context) {
	online := h.registry.OnlineUserIDs()
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
		"count": len(online),
		"users": online,
	}))
}

type heartbeatRequest struct {
	Typing bool `json:"typing"`
}

// Heartbeat refreshes the calling user's presence entry. Clients send one
// every 30 seconds while visible; a backgrounded client simply stops, and the
// freshness window takes it offline.
func (h *Handler) Heartbeat(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing user identity"))
		return
	}

	var req heartbeatRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
			return
		}
	}

	if err := h.registry.TrackUser(c.Request.Context(), userID.String(), req.Typing); err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"tracked": true}))
}

type typingRequest struct {
	Typing bool `json:"typing"`
}

func (h *Handler) SetTyping(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing user identity"))
		return
	}

	var req typingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	if err := h.registry.BroadcastTyping(c.Request.Context(), userID.String(), req.Typing); err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"typing": req.Typing}))
}
