package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bekhzad-khamidullaev/queue-stats/internal/live"
	"github.com/bekhzad-khamidullaev/queue-stats/internal/state"
)

// RealtimeHandler serves the in-memory picture: a one-shot snapshot and
// the websocket stream.
type RealtimeHandler struct {
	registry *state.Registry
	hub      *live.Hub
}

// NewRealtimeHandler creates a new RealtimeHandler.
func NewRealtimeHandler(registry *state.Registry, hub *live.Hub) *RealtimeHandler {
	return &RealtimeHandler{
		registry: registry,
		hub:      hub,
	}
}

// Snapshot handles GET /api/realtime/snapshot.
func (h *RealtimeHandler) Snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.Snapshot())
}

// Stream handles GET /api/realtime/ws - upgrades and hands the
// connection to the hub.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	h.hub.HandleWS(c.Writer, c.Request)
}

// RegisterRoutes registers the realtime routes on a Gin router group.
func (h *RealtimeHandler) RegisterRoutes(rg *gin.RouterGroup) {
	realtime := rg.Group("/realtime")
	{
		realtime.GET("/snapshot", h.Snapshot)
		realtime.GET("/ws", h.Stream)
	}
}
