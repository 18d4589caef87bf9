package db

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/unklstewy/adsb-scanner/internal/scanner"
)

// EventStore is the subset of EventRepository the archiver writes to.
type EventStore interface {
	InsertBatch(ctx context.Context, events []scanner.LogEvent) error
}

// Pruner deletes events older than a given age.
type Pruner interface {
	PruneEvents(ctx context.Context, maxAge time.Duration) (int64, error)
}

// ArchiverConfig controls batching and pruning.
type ArchiverConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	PruneInterval time.Duration
	Retention     time.Duration
	MaxPending    int
}

// DefaultArchiverConfig returns the archiver defaults.
func DefaultArchiverConfig() ArchiverConfig {
	return ArchiverConfig{
		BatchSize:     50,
		FlushInterval: 2 * time.Second,
		PruneInterval: 15 * time.Minute,
		Retention:     72 * time.Hour,
		MaxPending:    1000,
	}
}

// Archiver buffers diagnostic events and writes them in batches.
// Add never blocks; when MaxPending is reached the oldest buffered event is dropped.
type Archiver struct {
	store  EventStore
	pruner Pruner
	cfg    ArchiverConfig
	logger *slog.Logger

	mu      sync.Mutex
	pending []scanner.LogEvent
	dropped int

	wake chan struct{}
}

// NewArchiver creates an archiver. pruner may be nil to disable pruning.
func NewArchiver(store EventStore, pruner Pruner, cfg ArchiverConfig, logger *slog.Logger) *Archiver {
	def := DefaultArchiverConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = def.PruneInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = def.MaxPending
	}
	return &Archiver{
		store:  store,
		pruner: pruner,
		cfg:    cfg,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Add queues an event for archiving.
func (a *Archiver) Add(ev scanner.LogEvent) {
	a.mu.Lock()
	if len(a.pending) >= a.cfg.MaxPending {
		a.pending = a.pending[1:]
		a.dropped++
	}
	a.pending = append(a.pending, ev)
	full := len(a.pending) >= a.cfg.BatchSize
	a.mu.Unlock()

	if full {
		select {
		case a.wake <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of buffered events.
func (a *Archiver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Run flushes on every tick or full batch until ctx is done, then flushes once more.
func (a *Archiver) Run(ctx context.Context) {
	flush := time.NewTicker(a.cfg.FlushInterval)
	defer flush.Stop()
	prune := time.NewTicker(a.cfg.PruneInterval)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			a.Flush(final)
			cancel()
			return
		case <-flush.C:
			a.Flush(ctx)
		case <-a.wake:
			a.Flush(ctx)
		case <-prune.C:
			a.prune(ctx)
		}
	}
}

// Flush writes buffered events. Events from a failed batch stay buffered.
func (a *Archiver) Flush(ctx context.Context) {
	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	dropped := a.dropped
	a.dropped = 0
	a.mu.Unlock()

	if dropped > 0 {
		a.logger.Warn("Archive buffer overflowed", "dropped", dropped)
	}

	for len(batch) > 0 {
		n := min(len(batch), a.cfg.BatchSize)
		err := WithRetry(ctx, 2, func(ctx context.Context) error {
			return a.store.InsertBatch(ctx, batch[:n])
		})
		if err != nil {
			a.logger.Error("Failed to archive events", "error", err, "count", len(batch))
			a.requeue(batch)
			return
		}
		batch = batch[n:]
	}
}

func (a *Archiver) requeue(batch []scanner.LogEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	merged := append(append([]scanner.LogEvent{}, batch...), a.pending...)
	if over := len(merged) - a.cfg.MaxPending; over > 0 {
		merged = merged[over:]
		a.dropped += over
	}
	a.pending = merged
}

func (a *Archiver) prune(ctx context.Context) {
	if a.pruner == nil {
		return
	}
	n, err := a.pruner.PruneEvents(ctx, a.cfg.Retention)
	if err != nil {
		a.logger.Error("Failed to prune event archive", "error", err)
		return
	}
	if n > 0 {
		a.logger.Info("Pruned event archive", "deleted", n, "retention", a.cfg.Retention)
	}
}
