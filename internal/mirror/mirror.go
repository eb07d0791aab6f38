package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bekhzad-khamidullaev/queue-stats/internal/ami"
	"github.com/bekhzad-khamidullaev/queue-stats/internal/bus"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS queue_members (
	queue         TEXT NOT NULL,
	interface     TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	penalty       INTEGER NOT NULL DEFAULT 0,
	paused        BOOLEAN NOT NULL DEFAULT FALSE,
	paused_reason TEXT NOT NULL DEFAULT '',
	status        INTEGER NOT NULL DEFAULT 0,
	calls_taken   INTEGER NOT NULL DEFAULT 0,
	last_call     BIGINT NOT NULL DEFAULT 0,
	in_call       BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (queue, interface)
)`

const upsertSQL = `
INSERT INTO queue_members (queue, interface, name, penalty, paused, paused_reason,
                           status, calls_taken, last_call, in_call, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (queue, interface) DO UPDATE SET
	name = EXCLUDED.name,
	penalty = EXCLUDED.penalty,
	paused = EXCLUDED.paused,
	paused_reason = EXCLUDED.paused_reason,
	status = EXCLUDED.status,
	calls_taken = EXCLUDED.calls_taken,
	last_call = EXCLUDED.last_call,
	in_call = EXCLUDED.in_call,
	updated_at = EXCLUDED.updated_at`

const deleteSQL = `DELETE FROM queue_members WHERE queue = $1 AND interface = $2`

const deleteStaleSQL = `DELETE FROM queue_members WHERE updated_at < $1`

// resyncTimeout bounds one authoritative listing plus its writes.
const resyncTimeout = 30 * time.Second

// DB is the database surface the mirror uses. *pgxpool.Pool satisfies it.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// MemberSource lists authoritative queue membership. *ami.Client
// satisfies it.
type MemberSource interface {
	QueueStatus(ctx context.Context, queue string) ([]ami.QueueInfo, error)
}

// Mirror consumes member events from the bus and writes batched
// mutations to the queue_members table.
type Mirror struct {
	cfg    Config
	logger *slog.Logger

	db     DB
	events *bus.Bus
	source MemberSource
	states <-chan ami.State

	sub *bus.Subscriber

	// Batching
	pending     []memberOp
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// New creates a Mirror. The states channel should come from
// Session.Watch so resync fires on every ready transition.
func New(cfg Config, db DB, events *bus.Bus, source MemberSource, states <-chan ami.State, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	return &Mirror{
		cfg:     cfg,
		logger:  logger.With("component", "mirror"),
		db:      db,
		events:  events,
		source:  source,
		states:  states,
		pending: make([]memberOp, 0, cfg.BatchSize),
	}
}

// EnsureSchema creates the queue_members table when missing.
func (m *Mirror) EnsureSchema(ctx context.Context) error {
	if _, err := m.db.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create queue_members: %w", err)
	}
	return nil
}

// Start subscribes to member events and begins the flush loop.
func (m *Mirror) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.flushTicker = time.NewTicker(m.cfg.FlushInterval)

	m.sub = m.events.Subscribe("mirror", bus.Names(memberEventNames()...), bus.SinkFunc(m.handleEvent))

	m.wg.Add(1)
	go m.flushLoop()

	m.wg.Add(1)
	go m.watchLoop()

	m.logger.Info("Mirror started",
		"batch_size", m.cfg.BatchSize,
		"flush_interval", m.cfg.FlushInterval,
	)
	return nil
}

// Stop unsubscribes, drains the loops and flushes what is pending.
// Stop the bus first so no deliveries race the final flush.
func (m *Mirror) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	if m.flushTicker != nil {
		m.flushTicker.Stop()
	}
	if m.sub != nil {
		m.events.Unsubscribe(m.sub.ID())
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Mirror stop timed out")
	}

	m.flush(ctx)

	m.logger.Info("Mirror stopped")
	return nil
}

// Stats returns current counters.
func (m *Mirror) Stats() Metrics {
	m.batchMu.Lock()
	defer m.batchMu.Unlock()
	return m.metrics
}

// handleEvent runs on the bus drain goroutine and accumulates one
// pending operation per event.
func (m *Mirror) handleEvent(ev *ami.Event) error {
	op, ok := opFromEvent(ev)
	if !ok {
		return nil
	}

	m.batchMu.Lock()
	m.pending = append(m.pending, op)
	shouldFlush := len(m.pending) >= m.cfg.BatchSize
	m.batchMu.Unlock()

	if shouldFlush {
		m.flush(m.ctx)
	}
	return nil
}

// flushLoop periodically flushes pending operations.
func (m *Mirror) flushLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.flushTicker.C:
			m.flush(m.ctx)
		}
	}
}

// watchLoop resyncs on every ready transition.
func (m *Mirror) watchLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case st, ok := <-m.states:
			if !ok {
				return
			}
			if st == ami.StateReady {
				m.resync()
			}
		}
	}
}

// flush writes pending operations to the database.
func (m *Mirror) flush(ctx context.Context) {
	m.batchMu.Lock()
	if len(m.pending) == 0 {
		m.batchMu.Unlock()
		return
	}
	pending := m.pending
	m.pending = make([]memberOp, 0, m.cfg.BatchSize)
	m.batchMu.Unlock()

	ops := coalesce(pending)
	start := time.Now()

	upserts, deletes, err := m.apply(ctx, ops)

	m.batchMu.Lock()
	if err != nil {
		m.metrics.Errors++
	}
	m.metrics.Upserts += upserts
	m.metrics.Deletes += deletes
	m.metrics.Flushes++
	m.batchMu.Unlock()

	if err != nil {
		m.logger.Error("Mirror flush failed", "error", err, "ops", len(ops))
		return
	}

	m.logger.Debug("Flushed member mutations",
		"ops", len(ops),
		"coalesced_from", len(pending),
		"duration", time.Since(start),
	)
}

// apply sends one pgx batch for a coalesced operation list.
func (m *Mirror) apply(ctx context.Context, ops []memberOp) (upserts, deletes int64, err error) {
	batch := &pgx.Batch{}
	for _, op := range ops {
		switch op.kind {
		case opUpsert:
			r := op.row
			batch.Queue(upsertSQL,
				r.Queue, r.Interface, r.Name, r.Penalty, r.Paused, r.PausedReason,
				r.Status, r.CallsTaken, r.LastCall, r.InCall, r.UpdatedAt)
		case opDelete:
			batch.Queue(deleteSQL, op.row.Queue, op.row.Interface)
		}
	}

	results := m.db.SendBatch(ctx, batch)
	defer results.Close()

	for _, op := range ops {
		if _, execErr := results.Exec(); execErr != nil {
			// The batch runs as one pipeline; an error aborts the rest.
			return 0, 0, execErr
		}
		switch op.kind {
		case opUpsert:
			upserts++
		case opDelete:
			deletes++
		}
	}
	return upserts, deletes, nil
}

// resync replaces the table contents with an authoritative listing.
// Pending operations flush first so stale ones cannot overwrite it.
func (m *Mirror) resync() {
	ctx, cancel := context.WithTimeout(m.ctx, resyncTimeout)
	defer cancel()

	m.flush(ctx)

	start := time.Now()
	queues, err := m.source.QueueStatus(ctx, "")
	if err != nil {
		m.logger.Error("Mirror resync listing failed", "error", err)
		m.batchMu.Lock()
		m.metrics.Errors++
		m.batchMu.Unlock()
		return
	}

	ops := make([]memberOp, 0, len(queues))
	for _, q := range queues {
		for _, member := range q.Members {
			ops = append(ops, memberOp{kind: opUpsert, row: rowFromInfo(member, start)})
		}
	}

	upserts, _, err := m.apply(ctx, ops)
	if err != nil {
		m.logger.Error("Mirror resync write failed", "error", err)
		m.batchMu.Lock()
		m.metrics.Errors++
		m.batchMu.Unlock()
		return
	}

	// Rows untouched by this pass are members that no longer exist.
	if _, err := m.db.Exec(ctx, deleteStaleSQL, start); err != nil {
		m.logger.Error("Mirror stale sweep failed", "error", err)
		m.batchMu.Lock()
		m.metrics.Errors++
		m.batchMu.Unlock()
		return
	}

	m.batchMu.Lock()
	m.metrics.Upserts += upserts
	m.metrics.Resyncs++
	m.batchMu.Unlock()

	m.logger.Info("Mirror resynced",
		"queues", len(queues),
		"members", len(ops),
		"duration", time.Since(start),
	)
}
