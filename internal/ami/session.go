package ami

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// pendingAction correlates a submitted action with its response. List
// actions additionally collect the ActionID-tagged events the peer emits
// before the completion marker.
type pendingAction struct {
	respCh chan *Response
	errCh  chan error

	wantList bool
	complete string
	resp     *Response
	events   []*Event
	doneCh   chan struct{}
}

// SessionStats is a point-in-time snapshot of session counters.
type SessionStats struct {
	State              string
	Events             int64
	EventsDropped      int64
	Responses          int64
	UnmatchedResponses int64
	DecodeErrors       int64
	FramingErrors      int64
	Reconnects         int64
	PendingActions     int
}

// Session keeps one authenticated manager connection alive, demultiplexes
// the interleaved event/response stream, and reconnects with exponential
// backoff on failure. Only one session per endpoint is active at a time.
type Session struct {
	cfg    SessionConfig
	logger *slog.Logger

	state atomic.Int32

	events     chan *Event
	eventsOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connMu sync.Mutex
	conn   *Conn

	pendingMu sync.Mutex
	pending   map[string]*pendingAction

	watchMu  sync.Mutex
	watchers []chan State

	stopOnce sync.Once

	eventsSeen    atomic.Int64
	eventsDropped atomic.Int64
	responses     atomic.Int64
	unmatched     atomic.Int64
	decodeErrors  atomic.Int64
	framingErrors atomic.Int64
	reconnects    atomic.Int64
}

// NewSession creates a manager session.
func NewSession(cfg SessionConfig, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultSessionConfig().EventBuffer
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultSessionConfig().ActionTimeout
	}
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = DefaultSessionConfig().ReconnectBaseWait
	}
	if cfg.ReconnectMaxWait <= 0 {
		cfg.ReconnectMaxWait = DefaultSessionConfig().ReconnectMaxWait
	}

	return &Session{
		cfg:     cfg,
		logger:  logger,
		events:  make(chan *Event, cfg.EventBuffer),
		pending: make(map[string]*pendingAction),
	}
}

// Start begins the connect-login-pump loop.
func (s *Session) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("manager session started", "address", s.cfg.Address)
	return nil
}

// Stop closes the session: the read loop is cancelled and every pending
// action fails with ErrConnectionLost. Downstream subscribers are not
// touched; they simply stop receiving events.
func (s *Session) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.setState(StateDisconnecting)
		if s.cancel != nil {
			s.cancel()
		}
		if c := s.currentConn(); c != nil {
			c.Close()
		}
		s.failPending(ErrConnectionLost)
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.eventsOnce.Do(func() { close(s.events) })
		s.logger.Info("manager session stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("session shutdown timeout")
		return ctx.Err()
	}
}

// Events returns the decoded event feed. The channel is closed after Stop.
func (s *Session) Events() <-chan *Event {
	return s.events
}

// State returns the current session state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Ready reports whether actions may be submitted.
func (s *Session) Ready() bool {
	return s.State() == StateReady
}

// Watch returns a channel receiving state transitions. The channel is
// buffered; a lagging receiver misses intermediate transitions.
func (s *Session) Watch() <-chan State {
	ch := make(chan State, 8)
	s.watchMu.Lock()
	s.watchers = append(s.watchers, ch)
	s.watchMu.Unlock()
	return ch
}

// Stats returns current session statistics.
func (s *Session) Stats() SessionStats {
	s.pendingMu.Lock()
	pending := len(s.pending)
	s.pendingMu.Unlock()

	return SessionStats{
		State:              s.State().String(),
		Events:             s.eventsSeen.Load(),
		EventsDropped:      s.eventsDropped.Load(),
		Responses:          s.responses.Load(),
		UnmatchedResponses: s.unmatched.Load(),
		DecodeErrors:       s.decodeErrors.Load(),
		FramingErrors:      s.framingErrors.Load(),
		Reconnects:         s.reconnects.Load(),
		PendingActions:     pending,
	}
}

// Submit sends one action and waits for the correlated response. Only
// callable in Ready; timeout <= 0 uses the configured default. On timeout
// the pending entry is removed, so a late response is dropped as unmatched.
func (s *Session) Submit(ctx context.Context, action string, params Fields, timeout time.Duration) (*Response, error) {
	resp, _, err := s.submit(ctx, action, params, false, "", timeout)
	return resp, err
}

// SubmitList sends an action whose result arrives as a run of events
// tagged with the action's identifier. Collection ends at the named
// completion event or any event whose EventList field reads Complete.
// An Error response ends collection immediately with no events.
func (s *Session) SubmitList(ctx context.Context, action string, params Fields, complete string, timeout time.Duration) (*Response, []*Event, error) {
	return s.submit(ctx, action, params, true, complete, timeout)
}

func (s *Session) submit(ctx context.Context, action string, params Fields, wantList bool, complete string, timeout time.Duration) (*Response, []*Event, error) {
	if s.State() != StateReady {
		return nil, nil, ErrNotReady
	}
	conn := s.currentConn()
	if conn == nil {
		return nil, nil, ErrNotReady
	}
	if timeout <= 0 {
		timeout = s.cfg.ActionTimeout
	}

	id := uuid.NewString()
	data, err := Encode(action, id, params)
	if err != nil {
		return nil, nil, err
	}

	p := &pendingAction{
		respCh:   make(chan *Response, 1),
		errCh:    make(chan error, 1),
		wantList: wantList,
		complete: complete,
	}
	if wantList {
		p.doneCh = make(chan struct{})
	}

	s.pendingMu.Lock()
	s.pending[id] = p
	s.pendingMu.Unlock()

	if err := conn.WriteBlock(data); err != nil {
		s.unregister(id)
		return nil, nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	if !wantList {
		select {
		case <-ctx.Done():
			s.unregister(id)
			return nil, nil, ctx.Err()
		case <-time.After(timeout):
			s.unregister(id)
			s.logger.Warn("action timed out", "action", action, "action_id", id, "timeout", timeout)
			return nil, nil, ErrTimeout
		case err := <-p.errCh:
			return nil, nil, err
		case resp := <-p.respCh:
			return resp, nil, nil
		}
	}

	select {
	case <-ctx.Done():
		s.unregister(id)
		return nil, nil, ctx.Err()
	case <-time.After(timeout):
		s.unregister(id)
		s.logger.Warn("list action timed out", "action", action, "action_id", id, "timeout", timeout)
		return nil, nil, ErrTimeout
	case err := <-p.errCh:
		return nil, nil, err
	case <-p.doneCh:
		return p.resp, p.events, nil
	}
}

// run is the supervisor loop: dial, login, pump, reconnect with capped
// jittered backoff until the session is stopped.
func (s *Session) run() {
	defer s.wg.Done()

	wait := s.cfg.ReconnectBaseWait

	for {
		if s.ctx.Err() != nil {
			s.setState(StateDisconnected)
			return
		}

		s.setState(StateConnecting)
		conn, err := Dial(s.ctx, s.cfg.connConfig(), s.logger)
		if err != nil {
			s.setState(StateDisconnected)
			s.logger.Warn("manager connect failed", "error", err, "retry_in", wait)
			if !s.sleep(wait) {
				return
			}
			wait = nextWait(wait, s.cfg.ReconnectMaxWait)
			continue
		}

		s.setConn(conn)
		s.setState(StateAuthenticating)

		if err := s.login(conn); err != nil {
			conn.Close()
			s.clearConn()
			s.setState(StateDisconnected)

			var authErr *AuthError
			if errors.As(err, &authErr) {
				if authErr.Fatal && s.cfg.HaltOnAuthFailure {
					s.logger.Error("manager login rejected, reconnect halted", "error", err)
					return
				}
				s.logger.Warn("manager login rejected", "error", err, "retry_in", wait)
			} else {
				s.logger.Warn("manager login failed", "error", err, "retry_in", wait)
			}
			if !s.sleep(wait) {
				return
			}
			wait = nextWait(wait, s.cfg.ReconnectMaxWait)
			continue
		}

		wait = s.cfg.ReconnectBaseWait
		s.setState(StateReady)
		s.logger.Info("manager session ready", "address", s.cfg.Address, "banner", conn.Banner())

		// Unblock the read loop when the session is cancelled.
		readDone := make(chan struct{})
		go func() {
			select {
			case <-s.ctx.Done():
				conn.Close()
			case <-readDone:
			}
		}()

		err = s.readLoop(conn)
		close(readDone)

		s.failPending(ErrConnectionLost)
		conn.Close()
		s.clearConn()

		if s.ctx.Err() != nil {
			s.setState(StateDisconnected)
			return
		}

		s.setState(StateDisconnected)
		s.reconnects.Add(1)
		s.logger.Warn("manager connection lost", "error", err, "retry_in", wait)

		if !s.sleep(wait) {
			return
		}
		wait = nextWait(wait, s.cfg.ReconnectMaxWait)
	}
}

// login submits the Login action and waits for its response. Events that
// arrive before the response (FullyBooted and friends) are published, not
// discarded. The read deadline bounds the whole handshake.
func (s *Session) login(conn *Conn) error {
	id := uuid.NewString()

	params := Fields{}
	params.Add("Username", s.cfg.Username)
	params.Add("Secret", s.cfg.Secret)

	data, err := Encode("Login", id, params)
	if err != nil {
		return err
	}
	if err := conn.WriteBlock(data); err != nil {
		return err
	}

	conn.tcp.SetReadDeadline(time.Now().Add(s.cfg.ActionTimeout))
	defer conn.tcp.SetReadDeadline(time.Time{})

	for {
		frame, err := conn.ReadBlock()
		if err != nil {
			var fe *FramingError
			if errors.As(err, &fe) {
				s.framingErrors.Add(1)
				continue
			}
			return fmt.Errorf("read login response: %w", err)
		}

		msg, err := Decode(frame)
		if err != nil {
			s.decodeErrors.Add(1)
			continue
		}

		switch m := msg.(type) {
		case *Response:
			if m.ActionID != "" && m.ActionID != id {
				continue
			}
			if !m.Success {
				return &AuthError{
					Message: m.Message,
					Fatal:   isCredentialReject(m.Message),
				}
			}
			return nil
		case *Event:
			m.ReceivedAt = time.Now()
			s.publishEvent(m)
		}
	}
}

// isCredentialReject reports whether a login rejection names bad
// credentials rather than a transient condition.
func isCredentialReject(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "authentication")
}

// readLoop pumps blocks off the connection until it dies. Framing and
// decode failures are logged and skipped; they never tear down the session.
func (s *Session) readLoop(conn *Conn) error {
	for {
		frame, err := conn.ReadBlock()
		if err != nil {
			var fe *FramingError
			if errors.As(err, &fe) {
				s.framingErrors.Add(1)
				s.logger.Warn("malformed manager line, resynchronized", "line", fe.Line)
				continue
			}
			return err
		}

		msg, err := Decode(frame)
		if err != nil {
			s.decodeErrors.Add(1)
			s.logger.Warn("undecodable manager frame, skipped", "error", err)
			continue
		}

		switch m := msg.(type) {
		case *Response:
			s.responses.Add(1)
			s.resolve(m)
		case *Event:
			m.ReceivedAt = time.Now()
			s.routeEvent(m)
		}
	}
}

// resolve matches a response to its pending action. Responses with no
// match are dropped and counted; events never resolve a pending action.
func (s *Session) resolve(resp *Response) {
	if resp.ActionID == "" {
		s.unmatched.Add(1)
		s.logger.Warn("response without action id dropped")
		return
	}

	s.pendingMu.Lock()
	p, ok := s.pending[resp.ActionID]
	if !ok {
		s.pendingMu.Unlock()
		s.unmatched.Add(1)
		s.logger.Warn("unmatched response dropped", "action_id", resp.ActionID)
		return
	}

	if p.wantList {
		p.resp = resp
		if !resp.Success {
			// No list follows a rejected action.
			delete(s.pending, resp.ActionID)
			close(p.doneCh)
		}
		s.pendingMu.Unlock()
		return
	}

	delete(s.pending, resp.ActionID)
	s.pendingMu.Unlock()

	select {
	case p.respCh <- resp:
	default:
	}
}

// routeEvent feeds list collectors and the event channel. List events are
// published as well; subscribers see the same stream either way.
func (s *Session) routeEvent(ev *Event) {
	if ev.ActionID != "" {
		s.collectListEvent(ev)
	}
	s.publishEvent(ev)
}

func (s *Session) collectListEvent(ev *Event) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	p, ok := s.pending[ev.ActionID]
	if !ok || !p.wantList {
		return
	}
	if listComplete(p, ev) {
		delete(s.pending, ev.ActionID)
		close(p.doneCh)
		return
	}
	p.events = append(p.events, ev)
}

// listComplete reports the list terminator: the named completion event or
// any event whose EventList field reads Complete.
func listComplete(p *pendingAction, ev *Event) bool {
	if p.complete != "" && strings.EqualFold(ev.Name, p.complete) {
		return true
	}
	return strings.EqualFold(ev.Fields.Get("EventList"), "Complete")
}

func (s *Session) publishEvent(ev *Event) {
	s.eventsSeen.Add(1)
	select {
	case s.events <- ev:
	default:
		s.eventsDropped.Add(1)
		s.logger.Warn("event buffer full, dropping event", "event", ev.Name)
	}
}

// failPending resolves every pending action with err.
func (s *Session) failPending(err error) {
	s.pendingMu.Lock()
	pending := s.pending
	s.pending = make(map[string]*pendingAction)
	s.pendingMu.Unlock()

	for _, p := range pending {
		select {
		case p.errCh <- err:
		default:
		}
	}
	if len(pending) > 0 {
		s.logger.Warn("failed pending actions", "count", len(pending), "error", err)
	}
}

func (s *Session) unregister(id string) {
	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()
}

func (s *Session) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	if old == st {
		return
	}
	s.logger.Debug("session state changed", "from", old.String(), "to", st.String())

	s.watchMu.Lock()
	for _, ch := range s.watchers {
		select {
		case ch <- st:
		default:
		}
	}
	s.watchMu.Unlock()
}

func (s *Session) setConn(c *Conn) {
	s.connMu.Lock()
	s.conn = c
	s.connMu.Unlock()
}

func (s *Session) clearConn() {
	s.connMu.Lock()
	s.conn = nil
	s.connMu.Unlock()
}

func (s *Session) currentConn() *Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}

// sleep waits for the backoff delay, ending early on cancellation.
func (s *Session) sleep(d time.Duration) bool {
	select {
	case <-s.ctx.Done():
		return false
	case <-time.After(jitter(d)):
		return true
	}
}

// nextWait doubles the backoff up to the cap.
func nextWait(wait, max time.Duration) time.Duration {
	wait *= 2
	if wait > max {
		wait = max
	}
	return wait
}

// jitter spreads a delay up to a quarter either way so restarting fleets
// do not reconnect in lockstep.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	q := d / 4
	return d - q + time.Duration(rand.Int63n(int64(2*q+1)))
}
