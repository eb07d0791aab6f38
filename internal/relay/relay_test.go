package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bekhzad-khamidullaev/queue-stats/internal/ami"
	"github.com/bekhzad-khamidullaev/queue-stats/internal/bus"
)

// stubAdder records XAdd calls instead of talking to Redis.
type stubAdder struct {
	mu   sync.Mutex
	adds []*redis.XAddArgs
	err  error
}

func (s *stubAdder) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adds = append(s.adds, a)
	cmd := redis.NewStringCmd(ctx)
	if s.err != nil {
		cmd.SetErr(s.err)
	} else {
		cmd.SetVal("1-1")
	}
	return cmd
}

func (s *stubAdder) addCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.adds)
}

func (s *stubAdder) add(i int) *redis.XAddArgs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adds[i]
}

func (s *stubAdder) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func event(name string, kv ...string) *ami.Event {
	ev := &ami.Event{Name: name, ReceivedAt: time.Now()}
	for i := 0; i+1 < len(kv); i += 2 {
		ev.Fields.Add(kv[i], kv[i+1])
	}
	return ev
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestRelay(t *testing.T, cfg Config, adder *stubAdder) (*Relay, *bus.Bus) {
	t.Helper()
	events := bus.New(bus.DefaultConfig(), nil)
	r := New(cfg, adder, events, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		events.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		r.Stop(ctx)
	})
	return r, events
}

func TestRelay_ForwardsEvents(t *testing.T) {
	adder := &stubAdder{}
	r, events := newTestRelay(t, Config{Stream: "test:events", MaxLen: 500}, adder)

	events.Publish(event("Hangup", "Channel", "SIP/1001-0001", "Cause", "16"))

	waitFor(t, func() bool { return adder.addCount() == 1 }, "stream append")

	args := adder.add(0)
	if args.Stream != "test:events" {
		t.Errorf("Stream = %q, want test:events", args.Stream)
	}
	if args.MaxLen != 500 {
		t.Errorf("MaxLen = %d, want 500", args.MaxLen)
	}
	if !args.Approx {
		t.Error("Approx = false, want approximate trimming")
	}

	values, ok := args.Values.(map[string]any)
	if !ok {
		t.Fatalf("Values = %T, want map", args.Values)
	}
	if values["event"] != "Hangup" {
		t.Errorf("event value = %v, want Hangup", values["event"])
	}

	var payload streamEvent
	if err := json.Unmarshal(values["data"].([]byte), &payload); err != nil {
		t.Fatalf("data unmarshal: %v", err)
	}
	if payload.Name != "Hangup" {
		t.Errorf("payload name = %q, want Hangup", payload.Name)
	}
	if payload.Fields["Channel"] != "SIP/1001-0001" {
		t.Errorf("payload channel = %q, want SIP/1001-0001", payload.Fields["Channel"])
	}
	if payload.ReceivedAt.IsZero() {
		t.Error("payload received_at is zero")
	}

	if stats := r.Stats(); stats.Published != 1 {
		t.Errorf("Published = %d, want 1", stats.Published)
	}
}

func TestRelay_ErrorKeepsSubscription(t *testing.T) {
	adder := &stubAdder{err: errors.New("connection refused")}
	r, events := newTestRelay(t, Config{Stream: "test:events"}, adder)

	events.Publish(event("Hangup"))
	events.Publish(event("Newchannel"))

	waitFor(t, func() bool { return r.Stats().Errors == 2 }, "append errors")

	if stats := r.Stats(); stats.Published != 0 {
		t.Errorf("Published = %d, want 0 while Redis is down", stats.Published)
	}

	// Redis comes back; the subscription must still be alive.
	adder.setErr(nil)
	events.Publish(event("QueueCallerJoin"))

	waitFor(t, func() bool { return r.Stats().Published == 1 }, "recovery append")
}

func TestRelay_StopUnsubscribes(t *testing.T) {
	adder := &stubAdder{}
	events := bus.New(bus.DefaultConfig(), nil)
	defer events.Close()

	r := New(Config{Stream: "test:events"}, adder, events, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := len(events.Stats().Subscribers); got != 1 {
		t.Fatalf("subscribers = %d, want 1", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if got := len(events.Stats().Subscribers); got != 0 {
		t.Errorf("subscribers = %d, want 0 after stop", got)
	}

	events.Publish(event("Hangup"))
	time.Sleep(20 * time.Millisecond)
	if adder.addCount() != 0 {
		t.Errorf("adds = %d, want 0 after stop", adder.addCount())
	}
}

func TestNew_Defaults(t *testing.T) {
	r := New(Config{}, nil, nil, nil)

	if r.cfg.Stream != DefaultConfig().Stream {
		t.Errorf("Stream = %q, want default", r.cfg.Stream)
	}
}
