package db

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unklstewy/adsb-scanner/internal/scanner"
	"github.com/unklstewy/adsb-scanner/pkg/config"
)

// TestConnString tests connection string formatting.
func TestConnString(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		Username: "testuser",
		Password: "testpass",
		Database: "testdb",
		SSLMode:  "disable",
	}

	assert.Equal(t,
		"host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable",
		ConnString(cfg))
}

// TestConnectFailure tests that an unreachable server produces a wrapped error.
func TestConnectFailure(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "127.0.0.1",
		Port:     1, // nothing listens here
		Username: "nobody",
		Database: "none",
		SSLMode:  "disable",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	db, err := Connect(ctx, cfg)
	if err == nil {
		db.Close()
	}
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping database")
}

func TestRetention(t *testing.T) {
	tests := []struct {
		hours    int
		expected time.Duration
	}{
		{0, 72 * time.Hour},
		{-1, 72 * time.Hour},
		{6, 6 * time.Hour},
	}

	for _, tt := range tests {
		db := &DB{config: config.DatabaseConfig{RetentionHours: tt.hours}}
		assert.Equal(t, tt.expected, db.Retention(), "RetentionHours=%d", tt.hours)
	}
}

func TestClampLimit(t *testing.T) {
	tests := map[int]int{
		0:    100,
		-5:   100,
		20:   20,
		5000: MaxRecentEvents,
		1000: 1000,
	}
	for in, expected := range tests {
		assert.Equal(t, expected, clampLimit(in), "clampLimit(%d)", in)
	}
}

func TestEventArgs(t *testing.T) {
	local := time.FixedZone("X", 3600)
	ev := scanner.LogEvent{
		ID:        uuid.New(),
		Timestamp: time.Date(2025, 6, 1, 13, 0, 0, 0, local),
		Severity:  scanner.SeverityWarn,
		Message:   "Failing over",
		Session:   42,
		Provider:  "adsb.lol",
	}

	args := eventArgs(ev)
	require.Len(t, args, 7)

	ts, ok := args[1].(time.Time)
	require.True(t, ok)
	assert.Equal(t, time.UTC, ts.Location())
	assert.Equal(t, 12, ts.Hour())
	assert.Equal(t, "WARN", args[2])
	assert.Equal(t, int64(42), args[5])
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		err      error
		expected bool
	}{
		{nil, false},
		{errors.New("dial tcp: Connection Refused"), true},
		{errors.New("write: broken pipe"), true},
		{errors.New("driver: bad connection"), true},
		{io.EOF, true},
		{errors.New(`pq: duplicate key value violates unique constraint`), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, IsConnectionError(tt.err), "IsConnectionError(%v)", tt.err)
	}
}

func TestWithRetry(t *testing.T) {
	t.Run("Retries connection errors", func(t *testing.T) {
		attempts := 0
		err := withRetry(context.Background(), 3, time.Millisecond, func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("connection reset by peer")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("Does not retry other errors", func(t *testing.T) {
		attempts := 0
		err := withRetry(context.Background(), 3, time.Millisecond, func(ctx context.Context) error {
			attempts++
			return errors.New("syntax error")
		})
		assert.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("Gives up after max retries", func(t *testing.T) {
		attempts := 0
		err := withRetry(context.Background(), 2, time.Millisecond, func(ctx context.Context) error {
			attempts++
			return errors.New("timeout")
		})
		assert.Error(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("Stops when context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := withRetry(ctx, 5, time.Hour, func(ctx context.Context) error {
			return errors.New("connection refused")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "retry cancelled")
	})
}

func TestHealthCheckNil(t *testing.T) {
	var db *DB
	assert.Error(t, db.HealthCheck(context.Background()))
	assert.Error(t, (&DB{}).HealthCheck(context.Background()))
}

// TestEventRepositoryIntegration runs against a real PostgreSQL server when
// ADSB_SCANNER_TEST_DB_HOST is set.
func TestEventRepositoryIntegration(t *testing.T) {
	host := os.Getenv("ADSB_SCANNER_TEST_DB_HOST")
	if host == "" {
		t.Skip("ADSB_SCANNER_TEST_DB_HOST not set")
	}

	cfg := config.DefaultConfig().Database
	cfg.Host = host
	if port := os.Getenv("ADSB_SCANNER_TEST_DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		require.NoError(t, err, "bad port")
		cfg.Port = p
	}
	cfg.Password = os.Getenv("ADSB_SCANNER_TEST_DB_PASSWORD")

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := ReconnectWithRetry(ctx, cfg, 3, 100*time.Millisecond, logger)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.InitSchema(ctx))
	require.NoError(t, db.HealthCheck(ctx))

	repo := NewEventRepository(db)
	now := time.Now().UTC().Truncate(time.Millisecond)
	session := uint64(now.UnixNano())

	old := scanner.LogEvent{ID: uuid.New(), Timestamp: now.Add(-48 * time.Hour), Severity: scanner.SeverityInfo, Message: "old", Session: session}
	fresh := []scanner.LogEvent{
		{ID: uuid.New(), Timestamp: now.Add(-time.Second), Severity: scanner.SeverityError, Message: "adsb.lol fetch failed", Detail: "HTTP 503", Session: session, Provider: "adsb.lol"},
		{ID: uuid.New(), Timestamp: now, Severity: scanner.SeveritySuccess, Message: "3 targets from opensky", Session: session, Provider: "opensky"},
	}

	require.NoError(t, repo.Insert(ctx, old))
	require.NoError(t, repo.InsertBatch(ctx, fresh))
	// Duplicate IDs are ignored
	require.NoError(t, repo.Insert(ctx, fresh[0]))

	events, err := repo.Recent(ctx, 2, "")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, fresh[1].ID, events[0].ID, "newest event first")
	assert.Equal(t, session, events[0].Session)

	errorsOnly, err := repo.Recent(ctx, 10, scanner.SeverityError)
	require.NoError(t, err)
	for _, ev := range errorsOnly {
		assert.Equal(t, scanner.SeverityError, ev.Severity)
	}

	deleted, err := db.PruneEvents(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, deleted, int64(1))

	stats, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Contains(t, stats, "events")
}
