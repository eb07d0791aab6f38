package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bekhzad-khamidullaev/queue-stats/internal/ami"
	"github.com/bekhzad-khamidullaev/queue-stats/internal/bus"
)

// Config contains Redis stream configuration.
type Config struct {
	// Stream is the stream key events are appended to.
	Stream string

	// MaxLen caps the stream length. Trimming is approximate, the way
	// Redis prefers it. Zero disables trimming.
	MaxLen int64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Stream: "queue-stats:events",
		MaxLen: 100000,
	}
}

// StreamAdder is the Redis surface the relay uses. redis.UniversalClient
// satisfies it.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Metrics holds relay counters.
type Metrics struct {
	Published int64
	Errors    int64
}

// streamEvent is the JSON payload stored in each stream entry.
type streamEvent struct {
	Name       string            `json:"name"`
	ReceivedAt time.Time         `json:"received_at"`
	Fields     map[string]string `json:"fields"`
}

// Relay appends every bus event to a Redis stream.
type Relay struct {
	cfg    Config
	logger *slog.Logger

	client StreamAdder
	events *bus.Bus

	sub *bus.Subscriber

	ctx    context.Context
	cancel context.CancelFunc

	published atomic.Int64
	errors    atomic.Int64
}

// New creates a Relay.
func New(cfg Config, client StreamAdder, events *bus.Bus, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Stream == "" {
		cfg.Stream = DefaultConfig().Stream
	}
	return &Relay{
		cfg:    cfg,
		logger: logger.With("component", "relay"),
		client: client,
		events: events,
	}
}

// Start subscribes the relay to the full event stream.
func (r *Relay) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.sub = r.events.Subscribe("relay", bus.All(), bus.SinkFunc(r.forward))

	r.logger.Info("Relay started", "stream", r.cfg.Stream, "max_len", r.cfg.MaxLen)
	return nil
}

// Stop unsubscribes. Close the bus first so in-flight deliveries finish.
func (r *Relay) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.sub != nil {
		r.events.Unsubscribe(r.sub.ID())
	}

	r.logger.Info("Relay stopped",
		"published", r.published.Load(),
		"errors", r.errors.Load(),
	)
	return nil
}

// Stats returns current counters.
func (r *Relay) Stats() Metrics {
	return Metrics{
		Published: r.published.Load(),
		Errors:    r.errors.Load(),
	}
}

// forward runs on the bus drain goroutine. XAdd failures are counted
// and logged but never returned: a Redis outage must not burn the
// subscriber's retry budget and sever the feed for good.
func (r *Relay) forward(ev *ami.Event) error {
	payload := streamEvent{
		Name:       ev.Name,
		ReceivedAt: ev.ReceivedAt,
		Fields:     ev.Fields.Map(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		r.errors.Add(1)
		r.logger.Error("Event marshal failed", "event", ev.Name, "error", err)
		return nil
	}

	err = r.client.XAdd(r.ctx, &redis.XAddArgs{
		Stream: r.cfg.Stream,
		MaxLen: r.cfg.MaxLen,
		Approx: true,
		Values: map[string]any{
			"event": ev.Name,
			"data":  data,
		},
	}).Err()
	if err != nil {
		r.errors.Add(1)
		r.logger.Warn("Stream append failed", "event", ev.Name, "error", err)
		return nil
	}

	r.published.Add(1)
	return nil
}
