package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/unklstewy/adsb-scanner/internal/auth"
	"github.com/unklstewy/adsb-scanner/internal/normalize"
	"github.com/unklstewy/adsb-scanner/internal/scanner"
)

type fakeScanner struct {
	mu      sync.Mutex
	status  scanner.Status
	starts  int
	stops   int
	lastSet []any
	err     error
}

func newFakeScanner() *fakeScanner {
	return &fakeScanner{status: scanner.Status{
		State:     scanner.StateIdle,
		Provider:  "airplanes.live",
		Providers: []string{"airplanes.live", "adsb.lol", "opensky"},
		Session:   1,
		Settings: scanner.Settings{
			PreferredProvider: "airplanes.live",
			OriginLatitude:    51,
			OriginLongitude:   0,
			RangeKm:           50,
		},
	}}
}

func (f *fakeScanner) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.status.State = scanner.StateScanning
}

func (f *fakeScanner) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.status.State = scanner.StateIdle
}

func (f *fakeScanner) UpdateConfig(u scanner.ConfigUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := &f.status.Settings
	provider := ""
	if u.Provider != nil {
		provider = *u.Provider
	}
	lat, lon, rangeKm := s.OriginLatitude, s.OriginLongitude, s.RangeKm
	if u.Latitude != nil {
		lat = *u.Latitude
	}
	if u.Longitude != nil {
		lon = *u.Longitude
	}
	if u.RangeKm != nil {
		rangeKm = *u.RangeKm
	}

	f.lastSet = []any{provider, lat, lon, rangeKm}
	if f.err != nil {
		return f.err
	}
	if provider != "" {
		f.status.Provider = provider
	}
	if s.OriginLatitude != lat || s.OriginLongitude != lon || s.RangeKm != rangeKm {
		f.status.Session++
	}
	s.OriginLatitude, s.OriginLongitude, s.RangeKm = lat, lon, rangeKm
	return nil
}

func (f *fakeScanner) Status() scanner.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

type fakeArchive struct {
	events   []scanner.LogEvent
	err      error
	limit    int
	severity scanner.Severity
}

func (a *fakeArchive) Recent(ctx context.Context, limit int, severity scanner.Severity) ([]scanner.LogEvent, error) {
	a.limit, a.severity = limit, severity
	return a.events, a.err
}

func newTestServer(t *testing.T, opts Options) (*Server, *fakeScanner) {
	t.Helper()
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	sc := newFakeScanner()
	s := NewServer(sc, opts)
	t.Cleanup(s.Close)
	return s, sc
}

func do(t *testing.T, h http.Handler, method, path string, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func testSnapshot(session uint64) scanner.Snapshot {
	return scanner.Snapshot{
		ID:       uuid.New(),
		Session:  session,
		State:    scanner.StateScanning,
		Provider: "adsb.lol",
		Targets: []normalize.Target{{
			ID:                "abc123",
			Callsign:          "BAW1",
			X:                 1392,
			Y:                 1105.74,
			Altitude:          10668,
			RadarCrossSection: 40,
			Classification:    "airliner",
			TypeCode:          "A320",
		}},
		Latency:   250 * time.Millisecond,
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestStatus(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	rec := do(t, s.Handler(), http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var st scanner.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, scanner.StateIdle, st.State)
	assert.Equal(t, "airplanes.live", st.Provider)
	assert.Len(t, st.Providers, 3)
}

func TestSnapshot(t *testing.T) {
	s, sc := newTestServer(t, Options{})

	t.Run("none yet", func(t *testing.T) {
		rec := do(t, s.Handler(), http.MethodGet, "/api/v1/snapshot", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	snap := testSnapshot(1)
	s.PublishSnapshot(snap)

	t.Run("json", func(t *testing.T) {
		rec := do(t, s.Handler(), http.MethodGet, "/api/v1/snapshot", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var got scanner.Snapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, snap.ID, got.ID)
		assert.Equal(t, "BAW1", got.Targets[0].Callsign)
		assert.Equal(t, snap.Latency, got.Latency)
	})

	t.Run("msgpack", func(t *testing.T) {
		rec := do(t, s.Handler(), http.MethodGet, "/api/v1/snapshot", "", "Accept", "application/msgpack;q=1.0, application/json;q=0.5")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, ContentTypeMsgpack, rec.Header().Get("Content-Type"))

		var got map[string]any
		dec := msgpack.NewDecoder(bytes.NewReader(rec.Body.Bytes()))
		require.NoError(t, dec.Decode(&got))
		assert.Equal(t, "adsb.lol", got["provider"])
		targets, ok := got["targets"].([]any)
		require.True(t, ok)
		assert.Len(t, targets, 1)
	})

	t.Run("superseded session", func(t *testing.T) {
		lat := 52.0
		require.NoError(t, sc.UpdateConfig(scanner.ConfigUpdate{Latitude: &lat}))
		rec := do(t, s.Handler(), http.MethodGet, "/api/v1/snapshot", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSetConfig(t *testing.T) {
	t.Run("partial update keeps other fields", func(t *testing.T) {
		s, sc := newTestServer(t, Options{})
		rec := do(t, s.Handler(), http.MethodPut, "/api/v1/config", `{"range_km": 400}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []any{"", 51.0, 0.0, 400.0}, sc.lastSet)

		var st scanner.Status
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
		assert.Equal(t, uint64(2), st.Session)
	})

	t.Run("provider only", func(t *testing.T) {
		s, sc := newTestServer(t, Options{})
		rec := do(t, s.Handler(), http.MethodPut, "/api/v1/config", `{"provider": "opensky"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []any{"opensky", 51.0, 0.0, 50.0}, sc.lastSet)
		assert.Equal(t, uint64(1), sc.Status().Session)
	})

	t.Run("unknown provider", func(t *testing.T) {
		s, sc := newTestServer(t, Options{})
		sc.err = fmt.Errorf("%w: %q", scanner.ErrUnknownProvider, "nope")
		rec := do(t, s.Handler(), http.MethodPut, "/api/v1/config", `{"provider": "nope"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), "unknown provider")
	})

	t.Run("invalid settings", func(t *testing.T) {
		s, sc := newTestServer(t, Options{})
		sc.err = errors.New("origin latitude must be between -90 and 90")
		rec := do(t, s.Handler(), http.MethodPut, "/api/v1/config", `{"origin_latitude": 95}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		s, sc := newTestServer(t, Options{})
		rec := do(t, s.Handler(), http.MethodPut, "/api/v1/config", `{"lat": 1}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Nil(t, sc.lastSet)
	})
}

func TestStartStop(t *testing.T) {
	s, sc := newTestServer(t, Options{})

	rec := do(t, s.Handler(), http.MethodPost, "/api/v1/scanner/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"SCANNING"`)

	rec = do(t, s.Handler(), http.MethodPost, "/api/v1/scanner/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"IDLE"`)

	assert.Equal(t, 1, sc.starts)
	assert.Equal(t, 1, sc.stops)

	rec = do(t, s.Handler(), http.MethodGet, "/api/v1/scanner/start", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestControlRequiresToken(t *testing.T) {
	svc := auth.NewService(auth.Config{Secret: "test-secret"})
	s, sc := newTestServer(t, Options{Auth: svc})

	operator, err := svc.GenerateToken("ops", auth.RoleOperator)
	require.NoError(t, err)
	viewer, err := svc.GenerateToken("wall", auth.RoleViewer)
	require.NoError(t, err)

	rec := do(t, s.Handler(), http.MethodPost, "/api/v1/scanner/start", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)

	rec = do(t, s.Handler(), http.MethodPost, "/api/v1/scanner/start", "", "Authorization", "Bearer "+viewer)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 0, sc.starts)

	rec = do(t, s.Handler(), http.MethodPost, "/api/v1/scanner/start", "", "Authorization", "Bearer "+operator)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, sc.starts)

	rec = do(t, s.Handler(), http.MethodPut, "/api/v1/config", `{"range_km": 80}`, "Authorization", "Bearer "+operator)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Read-only routes stay open
	rec = do(t, s.Handler(), http.MethodGet, "/api/v1/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEventsInMemory(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	for i := 0; i < recentEvents+5; i++ {
		sev := scanner.SeverityInfo
		if i%2 == 0 {
			sev = scanner.SeverityError
		}
		s.PublishEvent(scanner.LogEvent{ID: uuid.New(), Severity: sev, Message: fmt.Sprintf("event %d", i)})
	}

	t.Run("newest first with limit", func(t *testing.T) {
		rec := do(t, s.Handler(), http.MethodGet, "/api/v1/events?limit=3", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var events []scanner.LogEvent
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
		require.Len(t, events, 3)
		assert.Equal(t, fmt.Sprintf("event %d", recentEvents+4), events[0].Message)
	})

	t.Run("history is capped", func(t *testing.T) {
		assert.Len(t, s.recent(10_000, ""), recentEvents)
	})

	t.Run("severity filter", func(t *testing.T) {
		rec := do(t, s.Handler(), http.MethodGet, "/api/v1/events?severity=error&limit=1000", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var events []scanner.LogEvent
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
		assert.NotEmpty(t, events)
		for _, ev := range events {
			assert.Equal(t, scanner.SeverityError, ev.Severity)
		}
	})

	t.Run("bad parameters", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, do(t, s.Handler(), http.MethodGet, "/api/v1/events?limit=abc", "").Code)
		assert.Equal(t, http.StatusBadRequest, do(t, s.Handler(), http.MethodGet, "/api/v1/events?limit=0", "").Code)
		assert.Equal(t, http.StatusBadRequest, do(t, s.Handler(), http.MethodGet, "/api/v1/events?severity=loud", "").Code)
	})
}

func TestEventsFromArchive(t *testing.T) {
	archive := &fakeArchive{events: []scanner.LogEvent{{ID: uuid.New(), Severity: scanner.SeverityWarn, Message: "Failing over"}}}
	s, _ := newTestServer(t, Options{Archive: archive})

	rec := do(t, s.Handler(), http.MethodGet, "/api/v1/events?limit=20&severity=warn", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Failing over")
	assert.Equal(t, 20, archive.limit)
	assert.Equal(t, scanner.SeverityWarn, archive.severity)

	archive.err = errors.New("connection refused")
	rec = do(t, s.Handler(), http.MethodGet, "/api/v1/events", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsMount(t *testing.T) {
	s, _ := newTestServer(t, Options{MetricsEnabled: true})
	rec := do(t, s.Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "adsb_scanner_")

	off, _ := newTestServer(t, Options{})
	assert.Equal(t, http.StatusNotFound, do(t, off.Handler(), http.MethodGet, "/metrics", "").Code)
}

func TestCORS(t *testing.T) {
	s, _ := newTestServer(t, Options{AllowedOrigins: []string{"https://scope.example"}})

	rec := do(t, s.Handler(), http.MethodOptions, "/api/v1/config", "",
		"Origin", "https://scope.example",
		"Access-Control-Request-Method", "PUT")
	assert.Equal(t, "https://scope.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, s.Handler(), http.MethodGet, "/api/v1/status", "", "Origin", "https://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestOriginChecker(t *testing.T) {
	assert.Nil(t, originChecker(nil))
	assert.Nil(t, originChecker([]string{"*"}))

	check := originChecker([]string{"https://scope.example"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.True(t, check(req), "requests without Origin are allowed")

	req.Header.Set("Origin", "https://SCOPE.example")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))
}

func TestStream(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	s.PublishSnapshot(testSnapshot(1))

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readFrame := func() Frame {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		return f
	}

	assert.Equal(t, FrameStatus, readFrame().Type)
	assert.Equal(t, FrameSnapshot, readFrame().Type)

	require.Eventually(t, func() bool { return s.Hub().Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	s.PublishEvent(scanner.LogEvent{ID: uuid.New(), Severity: scanner.SeveritySuccess, Message: "1 targets from adsb.lol"})
	f := readFrame()
	assert.Equal(t, FrameEvent, f.Type)

	var ev scanner.LogEvent
	require.NoError(t, json.Unmarshal(f.Payload, &ev))
	assert.Equal(t, "1 targets from adsb.lol", ev.Message)

	conn.Close()
	require.Eventually(t, func() bool { return s.Hub().Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestSupersededSnapshotNotPublished(t *testing.T) {
	s, sc := newTestServer(t, Options{})
	lat := 52.0
	require.NoError(t, sc.UpdateConfig(scanner.ConfigUpdate{Latitude: &lat}))
	require.Equal(t, uint64(2), sc.Status().Session)

	current := testSnapshot(2)
	s.PublishSnapshot(current)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readFrame := func() Frame {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		return f
	}
	assert.Equal(t, FrameStatus, readFrame().Type)
	assert.Equal(t, FrameSnapshot, readFrame().Type)
	require.Eventually(t, func() bool { return s.Hub().Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Read by the collector before the reconfiguration, published after it
	s.PublishSnapshot(testSnapshot(1))
	s.PublishEvent(scanner.LogEvent{ID: uuid.New(), Severity: scanner.SeverityInfo, Message: "Area of interest changed"})

	assert.Equal(t, FrameEvent, readFrame().Type, "stale snapshot must not be streamed")

	rec := do(t, s.Handler(), http.MethodGet, "/api/v1/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got scanner.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, current.ID, got.ID)
}

func TestStreamClosedHub(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	s.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, s.Hub().Clients())
}

func TestAcceptsMsgpack(t *testing.T) {
	tests := []struct {
		accept   string
		expected bool
	}{
		{"", false},
		{"application/json", false},
		{"application/msgpack", true},
		{"application/x-msgpack", true},
		{"text/html, application/msgpack;q=0.9", true},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Accept", tt.accept)
		assert.Equal(t, tt.expected, acceptsMsgpack(req), tt.accept)
	}
}
