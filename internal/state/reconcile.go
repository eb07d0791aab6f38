package state

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bekhzad-khamidullaev/queue-stats/internal/ami"
)

// Source provides the full listings a resync replaces the registry
// with. *ami.Client satisfies it.
type Source interface {
	QueueStatus(ctx context.Context, queue string) ([]ami.QueueInfo, error)
	QueueSummary(ctx context.Context, queue string) ([]ami.QueueSummaryInfo, error)
	Channels(ctx context.Context) ([]ami.ChannelInfo, error)
}

// ReconcilerConfig holds reconciler configuration.
type ReconcilerConfig struct {
	Interval time.Duration // Full resync interval (default: 60s)
	Timeout  time.Duration // Per-resync timeout (default: 15s)
}

// DefaultReconcilerConfig returns sensible defaults.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Interval: 60 * time.Second,
		Timeout:  15 * time.Second,
	}
}

// Reconciler keeps the registry honest. It mirrors session state
// transitions into the registry, runs a full resync whenever the
// session becomes ready, and repeats the resync on a timer so missed
// events cannot skew the picture forever.
//
// The states channel should be obtained from Session.Watch before the
// session starts, so the first ready transition is not missed.
type Reconciler struct {
	cfg      ReconcilerConfig
	source   Source
	registry *Registry
	states   <-chan ami.State
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	resyncs      atomic.Int64
	resyncErrors atomic.Int64
}

// NewReconciler creates a reconciler feeding the given registry.
func NewReconciler(cfg ReconcilerConfig, source Source, registry *Registry, states <-chan ami.State, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultReconcilerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Reconciler{
		cfg:      cfg,
		source:   source,
		registry: registry,
		states:   states,
		logger:   logger.With("component", "reconciler"),
	}
}

// Start begins the watch and resync loops.
func (r *Reconciler) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.watchLoop()

	r.wg.Add(1)
	go r.tickLoop()

	r.logger.Info("Reconciler started", "interval", r.cfg.Interval)
	return nil
}

// Stop gracefully shuts down.
func (r *Reconciler) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Reconciler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// watchLoop mirrors session transitions and resyncs on ready.
func (r *Reconciler) watchLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case st, ok := <-r.states:
			if !ok {
				return
			}
			r.registry.SetSessionState(st)
			if st == ami.StateReady {
				r.resync()
			}
		}
	}
}

// tickLoop repeats the resync while the session stays ready.
func (r *Reconciler) tickLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if r.registry.SessionState() == ami.StateReady {
				r.resync()
			}
		}
	}
}

// resync replaces the registry picture with fresh full listings. The
// three listings run concurrently over the session; the queue listing
// is authoritative, summary and channel listings are merged best-effort
// so one failed action does not blank the rest.
func (r *Reconciler) resync() {
	start := time.Now()

	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.Timeout)
	defer cancel()

	var (
		queues   []ami.QueueInfo
		sums     []ami.QueueSummaryInfo
		channels []ami.ChannelInfo
		sumErr   error
		chanErr  error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		queues, err = r.source.QueueStatus(gctx, "")
		return err
	})
	g.Go(func() error {
		sums, sumErr = r.source.QueueSummary(gctx, "")
		return nil
	})
	g.Go(func() error {
		channels, chanErr = r.source.Channels(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		r.resyncErrors.Add(1)
		r.logger.Error("Resync queue listing failed", "error", err)
		return
	}

	// Queues first: ReplaceQueues resets the picture the other two
	// merge into.
	r.registry.ReplaceQueues(queues)

	if sumErr != nil {
		r.logger.Warn("Resync queue summary failed", "error", sumErr)
	} else {
		r.registry.ApplySummaries(sums)
	}

	if chanErr != nil {
		r.logger.Warn("Resync channel listing failed", "error", chanErr)
	} else {
		r.registry.ReplaceChannels(channels)
	}

	r.resyncs.Add(1)
	r.logger.Info("Resync complete",
		"queues", len(queues),
		"duration", time.Since(start))
}

// ReconcilerStats contains reconciler counters.
type ReconcilerStats struct {
	Resyncs int64
	Errors  int64
}

// Stats returns reconciler counters.
func (r *Reconciler) Stats() ReconcilerStats {
	return ReconcilerStats{
		Resyncs: r.resyncs.Load(),
		Errors:  r.resyncErrors.Load(),
	}
}
