package db

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unklstewy/adsb-scanner/internal/scanner"
)

type fakeStore struct {
	mu      sync.Mutex
	batches [][]scanner.LogEvent
	err     error
}

func (s *fakeStore) InsertBatch(ctx context.Context, events []scanner.LogEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, append([]scanner.LogEvent(nil), events...))
	return nil
}

func (s *fakeStore) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

type fakePruner struct {
	mu     sync.Mutex
	calls  int
	maxAge time.Duration
}

func (p *fakePruner) PruneEvents(ctx context.Context, maxAge time.Duration) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.maxAge = maxAge
	return 3, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func event(msg string) scanner.LogEvent {
	return scanner.LogEvent{ID: uuid.New(), Timestamp: time.Now(), Severity: scanner.SeverityInfo, Message: msg}
}

func TestArchiverFlushBatches(t *testing.T) {
	store := &fakeStore{}
	a := NewArchiver(store, nil, ArchiverConfig{BatchSize: 2}, discardLogger())

	for i := 0; i < 5; i++ {
		a.Add(event("e"))
	}
	a.Flush(context.Background())

	require.Len(t, store.batches, 3)
	assert.Equal(t, 5, store.total())
	assert.Zero(t, a.Pending(), "buffer should be empty")
}

func TestArchiverDropsOldestWhenFull(t *testing.T) {
	store := &fakeStore{}
	a := NewArchiver(store, nil, ArchiverConfig{BatchSize: 100, MaxPending: 3}, discardLogger())

	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		a.Add(event(msg))
	}
	require.Equal(t, 3, a.Pending())

	a.Flush(context.Background())
	require.Len(t, store.batches, 1)
	got := store.batches[0]
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].Message, "oldest events are dropped")
	assert.Equal(t, "e", got[2].Message)
}

func TestArchiverRequeuesFailedBatch(t *testing.T) {
	store := &fakeStore{err: errors.New("pq: relation does not exist")}
	a := NewArchiver(store, nil, ArchiverConfig{BatchSize: 10}, discardLogger())

	a.Add(event("a"))
	a.Add(event("b"))
	a.Flush(context.Background())

	require.Equal(t, 2, a.Pending(), "failed events stay buffered")

	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()

	a.Flush(context.Background())
	assert.Equal(t, 2, store.total(), "events archived after recovery")
}

func TestArchiverRun(t *testing.T) {
	store := &fakeStore{}
	pruner := &fakePruner{}
	a := NewArchiver(store, pruner, ArchiverConfig{
		BatchSize:     2,
		FlushInterval: time.Hour,
		PruneInterval: 10 * time.Millisecond,
		Retention:     time.Hour,
	}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	// A full batch flushes without waiting for the ticker
	a.Add(event("a"))
	a.Add(event("b"))
	require.Eventually(t, func() bool { return store.total() == 2 },
		2*time.Second, 5*time.Millisecond, "full batch should flush")

	// Leftovers flush on shutdown
	a.Add(event("c"))
	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 3, store.total(), "final flush on shutdown")

	pruner.mu.Lock()
	defer pruner.mu.Unlock()
	assert.NotZero(t, pruner.calls, "prune should run")
	assert.Equal(t, time.Hour, pruner.maxAge)
}
