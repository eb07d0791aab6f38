// Package httpapi exposes the manager command API and realtime endpoints
// over HTTP.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bekhzad-khamidullaev/queue-stats/internal/ami"
)

// ManagerHandler handles HTTP requests that turn into manager actions.
type ManagerHandler struct {
	gateway Gateway
	logger  *slog.Logger
}

// NewManagerHandler creates a new ManagerHandler.
func NewManagerHandler(gateway Gateway, logger *slog.Logger) *ManagerHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ManagerHandler{
		gateway: gateway,
		logger:  logger.With("component", "httpapi"),
	}
}

// OriginateRequest is the request body for placing a call.
type OriginateRequest struct {
	Channel     string   `json:"channel" binding:"required"`
	Exten       string   `json:"exten"`
	Context     string   `json:"context"`
	Priority    int      `json:"priority"`
	Application string   `json:"application"`
	Data        string   `json:"data"`
	CallerID    string   `json:"caller_id"`
	TimeoutSec  int      `json:"timeout_sec"`
	Variables   []string `json:"variables"`
}

// HangupRequest is the request body for tearing down a channel.
type HangupRequest struct {
	Channel string `json:"channel" binding:"required"`
	Cause   int    `json:"cause"`
}

// RedirectRequest is the request body for moving a channel in the dialplan.
type RedirectRequest struct {
	Channel      string `json:"channel" binding:"required"`
	ExtraChannel string `json:"extra_channel"`
	Exten        string `json:"exten" binding:"required"`
	Context      string `json:"context" binding:"required"`
	Priority     int    `json:"priority"`
}

// QueuePauseRequest is the request body for pausing or unpausing a member.
// Paused is a pointer so an explicit false survives binding.
type QueuePauseRequest struct {
	Queue     string `json:"queue"`
	Interface string `json:"interface" binding:"required"`
	Paused    *bool  `json:"paused" binding:"required"`
	Reason    string `json:"reason"`
}

// QueueAddRequest is the request body for adding a queue member.
type QueueAddRequest struct {
	Queue      string `json:"queue" binding:"required"`
	Interface  string `json:"interface" binding:"required"`
	MemberName string `json:"member_name"`
	Penalty    int    `json:"penalty"`
	Paused     bool   `json:"paused"`
}

// QueueRemoveRequest is the request body for removing a queue member.
type QueueRemoveRequest struct {
	Queue     string `json:"queue" binding:"required"`
	Interface string `json:"interface" binding:"required"`
}

// ActionResponse acknowledges an accepted manager action.
type ActionResponse struct {
	Status string `json:"status"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// sendActionError maps manager failures onto HTTP status codes. Only
// per-action outcomes reach this boundary; transport errors surface as
// the session-level sentinels.
func sendActionError(c *gin.Context, err error) {
	var actionErr *ami.ActionError
	switch {
	case errors.Is(err, ami.ErrNotReady):
		sendError(c, http.StatusServiceUnavailable, "MANAGER_NOT_READY", err.Error())
	case errors.Is(err, ami.ErrTimeout):
		sendError(c, http.StatusGatewayTimeout, "MANAGER_TIMEOUT", err.Error())
	case errors.As(err, &actionErr):
		sendError(c, http.StatusBadGateway, "MANAGER_REJECTED", err.Error())
	case errors.Is(err, ami.ErrConnectionLost), errors.Is(err, ami.ErrSessionClosed):
		sendError(c, http.StatusServiceUnavailable, "MANAGER_UNAVAILABLE", err.Error())
	default:
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// Originate handles POST /api/ami/originate.
func (h *ManagerHandler) Originate(c *gin.Context) {
	var req OriginateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	if req.Exten == "" && req.Application == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Either exten or application is required")
		return
	}

	err := h.gateway.Originate(c.Request.Context(), ami.OriginateRequest{
		Channel:     req.Channel,
		Exten:       req.Exten,
		Context:     req.Context,
		Priority:    req.Priority,
		Application: req.Application,
		Data:        req.Data,
		CallerID:    req.CallerID,
		Timeout:     time.Duration(req.TimeoutSec) * time.Second,
		Variables:   req.Variables,
	})
	if err != nil {
		h.logger.Warn("Originate failed", "channel", req.Channel, "error", err)
		sendActionError(c, err)
		return
	}

	c.JSON(http.StatusOK, ActionResponse{Status: "ok"})
}

// Hangup handles POST /api/ami/hangup.
func (h *ManagerHandler) Hangup(c *gin.Context) {
	var req HangupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	if err := h.gateway.Hangup(c.Request.Context(), req.Channel, req.Cause); err != nil {
		h.logger.Warn("Hangup failed", "channel", req.Channel, "error", err)
		sendActionError(c, err)
		return
	}

	c.JSON(http.StatusOK, ActionResponse{Status: "ok"})
}

// Redirect handles POST /api/ami/redirect.
func (h *ManagerHandler) Redirect(c *gin.Context) {
	var req RedirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	err := h.gateway.Redirect(c.Request.Context(), ami.RedirectRequest{
		Channel:      req.Channel,
		ExtraChannel: req.ExtraChannel,
		Exten:        req.Exten,
		Context:      req.Context,
		Priority:     req.Priority,
	})
	if err != nil {
		h.logger.Warn("Redirect failed", "channel", req.Channel, "error", err)
		sendActionError(c, err)
		return
	}

	c.JSON(http.StatusOK, ActionResponse{Status: "ok"})
}

// QueuePause handles POST /api/ami/queue/pause.
func (h *ManagerHandler) QueuePause(c *gin.Context) {
	var req QueuePauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	err := h.gateway.QueuePause(c.Request.Context(), req.Queue, req.Interface, *req.Paused, req.Reason)
	if err != nil {
		h.logger.Warn("QueuePause failed", "interface", req.Interface, "error", err)
		sendActionError(c, err)
		return
	}

	c.JSON(http.StatusOK, ActionResponse{Status: "ok"})
}

// QueueAdd handles POST /api/ami/queue/add.
func (h *ManagerHandler) QueueAdd(c *gin.Context) {
	var req QueueAddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	err := h.gateway.QueueAdd(c.Request.Context(), ami.QueueAddRequest{
		Queue:      req.Queue,
		Interface:  req.Interface,
		MemberName: req.MemberName,
		Penalty:    req.Penalty,
		Paused:     req.Paused,
	})
	if err != nil {
		h.logger.Warn("QueueAdd failed", "queue", req.Queue, "interface", req.Interface, "error", err)
		sendActionError(c, err)
		return
	}

	c.JSON(http.StatusOK, ActionResponse{Status: "ok"})
}

// QueueRemove handles POST /api/ami/queue/remove.
func (h *ManagerHandler) QueueRemove(c *gin.Context) {
	var req QueueRemoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	if err := h.gateway.QueueRemove(c.Request.Context(), req.Queue, req.Interface); err != nil {
		h.logger.Warn("QueueRemove failed", "queue", req.Queue, "interface", req.Interface, "error", err)
		sendActionError(c, err)
		return
	}

	c.JSON(http.StatusOK, ActionResponse{Status: "ok"})
}

// Queues handles GET /api/ami/queues - a live QueueStatus listing.
// An optional ?queue= parameter narrows to one queue.
func (h *ManagerHandler) Queues(c *gin.Context) {
	queues, err := h.gateway.QueueStatus(c.Request.Context(), c.Query("queue"))
	if err != nil {
		sendActionError(c, err)
		return
	}
	c.JSON(http.StatusOK, queues)
}

// Channels handles GET /api/ami/channels - a live channel listing.
func (h *ManagerHandler) Channels(c *gin.Context) {
	channels, err := h.gateway.Channels(c.Request.Context())
	if err != nil {
		sendActionError(c, err)
		return
	}
	c.JSON(http.StatusOK, channels)
}

// Ping handles GET /api/ami/ping - a manager round trip.
func (h *ManagerHandler) Ping(c *gin.Context) {
	if err := h.gateway.Ping(c.Request.Context()); err != nil {
		sendActionError(c, err)
		return
	}
	c.JSON(http.StatusOK, ActionResponse{Status: "ok"})
}

// RegisterRoutes registers the manager routes on a Gin router group.
func (h *ManagerHandler) RegisterRoutes(rg *gin.RouterGroup) {
	amiGroup := rg.Group("/ami")
	{
		amiGroup.POST("/originate", h.Originate)
		amiGroup.POST("/hangup", h.Hangup)
		amiGroup.POST("/redirect", h.Redirect)
		amiGroup.POST("/queue/pause", h.QueuePause)
		amiGroup.POST("/queue/add", h.QueueAdd)
		amiGroup.POST("/queue/remove", h.QueueRemove)
		amiGroup.GET("/queues", h.Queues)
		amiGroup.GET("/channels", h.Channels)
		amiGroup.GET("/ping", h.Ping)
	}
}
