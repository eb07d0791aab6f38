package bus

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/bekhzad-khamidullaev/queue-stats/internal/ami"
)

// Sink receives the events delivered to one subscriber. Send is called
// from the subscriber's drain goroutine, one event at a time, in
// publish order.
type Sink interface {
	Send(ev *ami.Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(*ami.Event) error

// Send calls f(ev).
func (f SinkFunc) Send(ev *ami.Event) error { return f(ev) }

// Filter selects events by name. The zero value matches nothing; use
// All or Names to build one.
type Filter struct {
	all   bool
	names map[string]struct{}
}

// All returns a filter matching every event.
func All() Filter {
	return Filter{all: true}
}

// Names returns a filter matching the given event names,
// case-insensitively. With no names it matches nothing.
func Names(names ...string) Filter {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[strings.ToLower(n)] = struct{}{}
	}
	return Filter{names: m}
}

// Matches reports whether the filter selects the event name.
func (f Filter) Matches(name string) bool {
	if f.all {
		return true
	}
	_, ok := f.names[strings.ToLower(name)]
	return ok
}

// Config contains bus configuration.
type Config struct {
	// Backlog is the per-subscriber ring capacity. When a subscriber
	// falls behind by more than this, its oldest pending events are
	// evicted.
	Backlog int

	// RetryBudget is the number of consecutive Send failures tolerated
	// before a subscriber is unregistered.
	RetryBudget int
}

// DefaultConfig returns the default bus configuration.
func DefaultConfig() Config {
	return Config{
		Backlog:     256,
		RetryBudget: 3,
	}
}

// Subscriber is one registered event consumer. Each subscriber owns a
// bounded backlog and a drain goroutine feeding its sink, so one slow
// consumer never stalls the publisher or its peers.
type Subscriber struct {
	id   string
	name string
	bus  *Bus
	sink Sink
	ring *Ring[*ami.Event]

	filterMu sync.RWMutex
	filter   Filter

	delivered atomic.Int64
	failures  int // consecutive Send failures, drain goroutine only

	done chan struct{} // closed when the drain goroutine exits
}

// ID returns the subscriber's unique identifier.
func (s *Subscriber) ID() string { return s.id }

// Name returns the subscriber's display name.
func (s *Subscriber) Name() string { return s.name }

// SetFilter replaces the subscriber's filter. Events already buffered
// are delivered regardless; the new filter applies from the next
// publish.
func (s *Subscriber) SetFilter(f Filter) {
	s.filterMu.Lock()
	s.filter = f
	s.filterMu.Unlock()
}

func (s *Subscriber) matches(name string) bool {
	s.filterMu.RLock()
	defer s.filterMu.RUnlock()
	return s.filter.Matches(name)
}

// SubscriberStats contains statistics for one subscriber.
type SubscriberStats struct {
	ID        string
	Name      string
	Delivered int64
	Dropped   int64
	Backlog   int
}

// Stats returns the subscriber's statistics.
func (s *Subscriber) Stats() SubscriberStats {
	rs := s.ring.Stats()
	return SubscriberStats{
		ID:        s.id,
		Name:      s.name,
		Delivered: s.delivered.Load(),
		Dropped:   rs.Dropped,
		Backlog:   rs.Count,
	}
}

func (s *Subscriber) drain() {
	defer close(s.done)

	for {
		ev, ok := s.ring.Pop()
		if !ok {
			return
		}

		if err := s.sink.Send(ev); err != nil {
			s.failures++
			s.bus.logger.Warn("Subscriber send failed",
				"subscriber", s.name,
				"event", ev.Name,
				"failures", s.failures,
				"error", err)
			if s.failures > s.bus.cfg.RetryBudget {
				s.bus.logger.Warn("Subscriber exceeded retry budget, unregistering",
					"subscriber", s.name,
					"id", s.id)
				s.bus.Unsubscribe(s.id)
				return
			}
			continue
		}

		s.failures = 0
		s.delivered.Add(1)
	}
}

// Bus fans AMI events out to registered subscribers. Publish never
// blocks on a consumer: each subscriber buffers independently and
// drops its own oldest events under pressure.
type Bus struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string]*Subscriber

	published atomic.Int64
}

// New creates a bus with the given configuration.
func New(cfg Config, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Backlog <= 0 {
		cfg.Backlog = def.Backlog
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = def.RetryBudget
	}
	return &Bus{
		cfg:    cfg,
		logger: logger.With("component", "bus"),
		subs:   make(map[string]*Subscriber),
	}
}

// Subscribe registers a sink under the given filter and starts its
// drain goroutine. The returned handle identifies the subscription
// until Unsubscribe.
func (b *Bus) Subscribe(name string, filter Filter, sink Sink) *Subscriber {
	sub := &Subscriber{
		id:     uuid.NewString(),
		name:   name,
		bus:    b,
		sink:   sink,
		filter: filter,
		ring:   NewRing[*ami.Event](b.cfg.Backlog),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	go sub.drain()

	b.logger.Debug("Subscriber registered", "subscriber", name, "id", sub.id)
	return sub
}

// Unsubscribe removes a subscriber and closes its backlog. Buffered
// events still drain to the sink before the drain goroutine exits.
// Unknown or already-removed ids are a no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if !ok {
		return
	}

	sub.ring.Close()
	b.logger.Debug("Subscriber unregistered", "subscriber", sub.name, "id", id)
}

// Publish fans an event out to every subscriber whose filter matches.
// It never blocks: a full subscriber backlog evicts that subscriber's
// oldest event instead.
func (b *Bus) Publish(ev *ami.Event) {
	b.published.Add(1)

	b.mu.RLock()
	subs := make([]*Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.matches(ev.Name) {
			continue
		}
		if _, dropped := s.ring.Push(ev); dropped {
			b.logger.Debug("Subscriber backlog full, oldest event dropped",
				"subscriber", s.name,
				"event", ev.Name)
		}
	}
}

// Close unregisters every subscriber and waits for their drain
// goroutines to finish delivering buffered events.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*Subscriber)
	b.mu.Unlock()

	for _, s := range subs {
		s.ring.Close()
	}
	for _, s := range subs {
		<-s.done
	}
}

// Stats contains bus statistics.
type Stats struct {
	Published   int64
	Subscribers []SubscriberStats
}

// Stats returns a snapshot of bus statistics.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Stats{Published: b.published.Load()}
	for _, s := range b.subs {
		st.Subscribers = append(st.Subscribers, s.Stats())
	}
	return st
}
