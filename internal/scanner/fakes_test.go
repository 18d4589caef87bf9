package scanner

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unklstewy/adsb-scanner/pkg/adsb"
)

const waitTimeout = 2 * time.Second

// fakeClock fires timers only when advanced. Every After call is reported on
// scheduled so tests can assert the delay the loop chose.
type fakeClock struct {
	mu        sync.Mutex
	now       time.Time
	timers    []fakeTimer
	scheduled chan time.Duration
}

type fakeTimer struct {
	deadline time.Time
	ch       chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		scheduled: make(chan time.Duration, 256),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	c.timers = append(c.timers, fakeTimer{deadline: c.now.Add(d), ch: ch})
	c.mu.Unlock()
	c.scheduled <- d
	return ch
}

// Advance moves time forward and fires every timer that is due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	pending := c.timers[:0]
	for _, t := range c.timers {
		if !t.deadline.After(c.now) {
			t.ch <- c.now
			continue
		}
		pending = append(pending, t)
	}
	c.timers = pending
}

// nextScheduled waits for the loop to schedule its next iteration.
func (c *fakeClock) nextScheduled(t *testing.T) time.Duration {
	t.Helper()
	select {
	case d := <-c.scheduled:
		return d
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for the loop to schedule an iteration")
		return 0
	}
}

// assertNothingScheduled fails if the loop schedules anything within a short window.
func (c *fakeClock) assertNothingScheduled(t *testing.T) {
	t.Helper()
	select {
	case d := <-c.scheduled:
		t.Fatalf("unexpected iteration scheduled after %v", d)
	case <-time.After(50 * time.Millisecond):
	}
}

// fakeProbe is a switchable reachability probe.
type fakeProbe struct {
	unreachable atomic.Bool
}

func (p *fakeProbe) Reachable(ctx context.Context) bool {
	return !p.unreachable.Load()
}

// fakeProvider records each query and answers with respond. The default
// response is one report at the query point plus 0.01° north.
type fakeProvider struct {
	name    string
	calls   chan adsb.Query
	count   atomic.Int32
	closed  atomic.Bool
	respond func(ctx context.Context, q adsb.Query) ([]adsb.Report, error)
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{
		name:  name,
		calls: make(chan adsb.Query, 256),
	}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Fetch(ctx context.Context, q adsb.Query) ([]adsb.Report, error) {
	p.count.Add(1)
	p.calls <- q
	if p.respond != nil {
		return p.respond(ctx, q)
	}
	return []adsb.Report{reportAt(q.Latitude+0.01, q.Longitude)}, nil
}

func (p *fakeProvider) Close() error {
	p.closed.Store(true)
	return nil
}

// nextCall waits for the provider to be called.
func (p *fakeProvider) nextCall(t *testing.T) adsb.Query {
	t.Helper()
	select {
	case q := <-p.calls:
		return q
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s to be fetched", p.name)
		return adsb.Query{}
	}
}

// assertNotCalled fails if the provider is called within a short window.
func (p *fakeProvider) assertNotCalled(t *testing.T) {
	t.Helper()
	select {
	case q := <-p.calls:
		t.Fatalf("unexpected fetch from %s: %+v", p.name, q)
	case <-time.After(50 * time.Millisecond):
	}
}

func failing(err error) func(ctx context.Context, q adsb.Query) ([]adsb.Report, error) {
	return func(ctx context.Context, q adsb.Query) ([]adsb.Report, error) {
		return nil, err
	}
}

func reportAt(lat, lon float64) adsb.Report {
	return adsb.Report{
		Hex:       "abc123",
		Callsign:  "TEST1",
		Latitude:  lat,
		Longitude: lon,
		Altitude:  35000,
		Speed:     450,
		Track:     90,
		TypeCode:  "B738",
		Units:     adsb.UnitsImperial,
	}
}

func transportError(provider string) error {
	return &adsb.FetchError{Provider: provider, Kind: adsb.ErrTransport, StatusCode: 503}
}

type harness struct {
	ctrl      *Controller
	clock     *fakeClock
	probe     *fakeProbe
	providers []*fakeProvider
}

func newHarness(t *testing.T, settings Settings, names ...string) *harness {
	t.Helper()

	h := &harness{clock: newFakeClock(), probe: &fakeProbe{}}
	providers := make([]adsb.Provider, len(names))
	for i, name := range names {
		fp := newFakeProvider(name)
		h.providers = append(h.providers, fp)
		providers[i] = fp
	}

	ctrl, err := New(providers, settings, WithClock(h.clock), WithProbe(h.probe))
	require.NoError(t, err)
	h.ctrl = ctrl

	t.Cleanup(func() {
		ctrl.Close()
	})
	return h
}

func (h *harness) nextSnapshot(t *testing.T) Snapshot {
	t.Helper()
	select {
	case s := <-h.ctrl.Snapshots():
		return s
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a snapshot")
		return Snapshot{}
	}
}

// drainEvents returns every queued event without blocking.
func (h *harness) drainEvents() []LogEvent {
	var out []LogEvent
	for {
		select {
		case ev, ok := <-h.ctrl.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func defaultSettings() Settings {
	return Settings{OriginLatitude: 51.0, OriginLongitude: 0.0, RangeKm: 50}
}
