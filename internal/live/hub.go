package live

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/bekhzad-khamidullaev/queue-stats/internal/ami"
	"github.com/bekhzad-khamidullaev/queue-stats/internal/bus"
	"github.com/bekhzad-khamidullaev/queue-stats/internal/state"
)

// Config holds hub configuration.
type Config struct {
	// SendBuffer is the per-client outbound frame queue. A client that
	// cannot drain it loses frames rather than stalling the hub.
	SendBuffer int

	// MaxClients caps concurrent attachments. Zero means unlimited.
	MaxClients int

	// AllowedOrigins restricts websocket upgrades. Empty allows
	// same-host and localhost origins.
	AllowedOrigins []string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SendBuffer: 64,
	}
}

// Hub attaches websocket clients to the event stream. Every client gets
// a status frame and a full snapshot on attach, then its own bus
// subscription, so a slow dashboard tab never stalls another.
type Hub struct {
	cfg      Config
	registry *state.Registry
	events   *bus.Bus
	states   <-chan ami.State
	logger   *slog.Logger

	allowedOrigins map[string]bool
	allowedHosts   map[string]bool

	mu      sync.RWMutex
	clients map[*client]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	attached      atomic.Int64
	framesDropped atomic.Int64
}

// NewHub creates a hub. The states channel should come from
// Session.Watch so clients see connectivity transitions.
func NewHub(cfg Config, registry *state.Registry, events *bus.Bus, states <-chan ami.State, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultConfig().SendBuffer
	}

	h := &Hub{
		cfg:            cfg,
		registry:       registry,
		events:         events,
		states:         states,
		logger:         logger.With("component", "live"),
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		clients:        make(map[*client]bool),
	}

	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		h.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			h.allowedHosts[parsed.Host] = true
		}
	}

	return h
}

// Start begins the status broadcast loop.
func (h *Hub) Start(ctx context.Context) error {
	h.ctx, h.cancel = context.WithCancel(ctx)

	h.wg.Add(1)
	go h.statusLoop()

	h.logger.Info("Live hub started")
	return nil
}

// Stop detaches every client and shuts the hub down.
func (h *Hub) Stop(ctx context.Context) error {
	if h.cancel != nil {
		h.cancel()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.detach(c)
	}

	h.logger.Info("Live hub stopped")
	return nil
}

// HandleWS upgrades the request and serves the client until it
// disconnects. Runs the command read loop on the caller's goroutine.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: h.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c, ok := h.attach(conn)
	if !ok {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many clients"))
		conn.Close()
		return
	}

	h.logger.Debug("Client attached", "remote", r.RemoteAddr, "clients", h.ClientCount())
	c.readPump()
	h.logger.Debug("Client detached", "remote", r.RemoteAddr, "clients", h.ClientCount())
}

// attach registers a connection: status frame, full snapshot, then a
// live subscription. Snapshot before subscribe keeps the stream from
// running ahead of the picture it extends.
func (h *Hub) attach(conn *websocket.Conn) (*client, bool) {
	h.mu.Lock()
	if h.cfg.MaxClients > 0 && len(h.clients) >= h.cfg.MaxClients {
		h.mu.Unlock()
		return nil, false
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
	}
	h.clients[c] = true
	h.mu.Unlock()

	go c.writePump()

	snap := h.registry.Snapshot()
	c.enqueue(Frame{Type: MsgStatus, Payload: StatusPayload{
		State:     snap.SessionState,
		Connected: snap.Connected,
	}})
	c.enqueue(Frame{Type: MsgSnapshot, Payload: snap})

	c.sub = h.events.Subscribe("ws:"+conn.RemoteAddr().String(), bus.All(), bus.SinkFunc(
		func(ev *ami.Event) error {
			c.enqueue(Frame{Type: MsgEvent, Payload: eventPayload(ev)})
			return nil
		}))

	h.attached.Add(1)
	return c, true
}

// detach removes a client. Safe to call from either pump or Stop; only
// the first call acts.
func (h *Hub) detach(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.mu.Unlock()

	if c.sub != nil {
		h.events.Unsubscribe(c.sub.ID())
	}
	c.closeSend()
	c.conn.Close()
}

// statusLoop pushes connectivity transitions to every client.
func (h *Hub) statusLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return
		case st, ok := <-h.states:
			if !ok {
				return
			}
			h.broadcast(Frame{Type: MsgStatus, Payload: StatusPayload{
				State:     st.String(),
				Connected: st == ami.StateReady,
			}})
		}
	}
}

// broadcast queues a frame for every attached client.
func (h *Hub) broadcast(frame Frame) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(frame)
	}
}

// ClientCount returns the number of attached clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats contains hub counters.
type Stats struct {
	Clients       int
	Attached      int64
	FramesDropped int64
}

// Stats returns a snapshot of hub counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Clients:       h.ClientCount(),
		Attached:      h.attached.Load(),
		FramesDropped: h.framesDropped.Load(),
	}
}

// checkOrigin mirrors browser expectations: configured origins win,
// otherwise same-host and localhost are accepted.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(h.allowedOrigins) > 0 {
		if h.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return h.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Host
	if host == "" {
		return false
	}
	if host == r.Host {
		return true
	}
	if host == "localhost" || strings.HasPrefix(host, "localhost:") {
		return true
	}
	if host == "127.0.0.1" || strings.HasPrefix(host, "127.0.0.1:") {
		return true
	}
	if host == "::1" || strings.HasPrefix(host, "[::1]:") {
		return true
	}
	return false
}
