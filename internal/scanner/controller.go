// Package scanner runs the polling loop that turns provider fetches into
// target snapshots.
//
// A Controller owns the settings, the machine state and the session token.
// Every Start or position/range change opens a new cancellation scope with
// its own loop goroutine; the token captured by that goroutine is compared
// against the current token, under the controller lock, before anything is
// emitted or rescheduled. A superseded loop therefore exits without side
// effects even when its request completes after the change.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unklstewy/adsb-scanner/internal/metrics"
	"github.com/unklstewy/adsb-scanner/internal/normalize"
	"github.com/unklstewy/adsb-scanner/pkg/adsb"
	"github.com/unklstewy/adsb-scanner/pkg/coordinates"
)

var (
	// ErrUnknownProvider is returned for a provider name outside the failover sequence.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrNoProviders is returned by New when the failover sequence is empty.
	ErrNoProviders = errors.New("no providers configured")
)

// Settings is the scanner's area of interest and provider preference.
type Settings struct {
	PreferredProvider string  `json:"preferred_provider"`
	OriginLatitude    float64 `json:"origin_latitude"`
	OriginLongitude   float64 `json:"origin_longitude"`
	RangeKm           float64 `json:"range_km"`
}

// Origin returns the projection origin.
func (s Settings) Origin() coordinates.Geographic {
	return coordinates.Geographic{Latitude: s.OriginLatitude, Longitude: s.OriginLongitude}
}

// Validate checks the position and range.
func (s Settings) Validate() error {
	var errs []error
	if math.IsNaN(s.OriginLatitude) || s.OriginLatitude < -90 || s.OriginLatitude > 90 {
		errs = append(errs, fmt.Errorf("origin latitude must be between -90 and 90, got %v", s.OriginLatitude))
	}
	if math.IsNaN(s.OriginLongitude) || s.OriginLongitude < -180 || s.OriginLongitude > 180 {
		errs = append(errs, fmt.Errorf("origin longitude must be between -180 and 180, got %v", s.OriginLongitude))
	}
	if math.IsNaN(s.RangeKm) || math.IsInf(s.RangeKm, 0) || s.RangeKm <= 0 {
		errs = append(errs, fmt.Errorf("range must be a positive number of km, got %v", s.RangeKm))
	}
	return errors.Join(errs...)
}

func (s Settings) samePosition(o Settings) bool {
	return s.OriginLatitude == o.OriginLatitude &&
		s.OriginLongitude == o.OriginLongitude &&
		s.RangeKm == o.RangeKm
}

// Status is a point-in-time view of the controller.
type Status struct {
	State     State    `json:"state"`
	Provider  string   `json:"provider"`
	Providers []string `json:"providers"`
	Session   uint64   `json:"session"`
	Failures  int      `json:"failures"`
	Settings  Settings `json:"settings"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the system clock.
func WithClock(clock Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithProbe replaces the default InterfaceProbe.
func WithProbe(probe ReachabilityProbe) Option {
	return func(c *Controller) { c.probe = probe }
}

// WithSchedule replaces DefaultSchedule.
func WithSchedule(s Schedule) Option {
	return func(c *Controller) { c.schedule = s }
}

// WithNormalizer replaces the default Normalizer.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(c *Controller) { c.normalizer = n }
}

// WithLogger sets the logger every diagnostic event is mirrored to.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithEventBuffer sets the capacity of the event queue.
func WithEventBuffer(n int) Option {
	return func(c *Controller) { c.eventBuffer = n }
}

// Controller is the scanner state machine. All methods are safe for
// concurrent use and none of them block on the network.
type Controller struct {
	providers  []adsb.Provider
	normalizer *normalize.Normalizer
	clock      Clock
	probe      ReachabilityProbe
	schedule   Schedule
	logger     *slog.Logger

	eventBuffer int
	snapshots   *snapshotSink
	events      *eventSink

	mu       sync.Mutex
	settings Settings
	token    uint64
	cursor   int
	failures int
	state    State
	cancel   context.CancelFunc
	closed   bool

	wg sync.WaitGroup
}

// New creates an idle controller. providers is the failover sequence; the
// cursor starts on settings.PreferredProvider, or the first provider when it
// is empty.
func New(providers []adsb.Provider, settings Settings, opts ...Option) (*Controller, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		providers: providers,
		clock:     SystemClock{},
		probe:     InterfaceProbe{},
		schedule:  DefaultSchedule(),
		settings:  settings,
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.normalizer == nil {
		c.normalizer = normalize.New(nil, 0)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.schedule.FailoverThreshold < 1 {
		c.schedule.FailoverThreshold = 1
	}

	if settings.PreferredProvider != "" {
		idx := c.indexOf(settings.PreferredProvider)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, settings.PreferredProvider)
		}
		c.cursor = idx
	}
	c.settings.PreferredProvider = providers[c.cursor].Name()

	c.snapshots = newSnapshotSink()
	c.events = newEventSink(c.eventBuffer)

	metrics.SetState(c.state.String(), stateNames())
	metrics.SetSession(c.token)

	return c, nil
}

// Snapshots delivers target snapshots. An undelivered snapshot is replaced by
// a newer one. The channel is closed by Close.
func (c *Controller) Snapshots() <-chan Snapshot {
	return c.snapshots.ch
}

// Events delivers diagnostic events in order. When the queue is full the
// oldest event is dropped. The channel is closed by Close.
func (c *Controller) Events() <-chan LogEvent {
	return c.events.ch
}

// Start begins scanning. It is a no-op unless the controller is idle.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.state != StateIdle {
		return
	}

	c.failures = 0
	c.setStateLocked(StateScanning)
	c.emitLocked(SeverityInfo, c.currentProviderLocked(), "Scanner started",
		fmt.Sprintf("origin %.4f, %.4f range %.0f km", c.settings.OriginLatitude, c.settings.OriginLongitude, c.settings.RangeKm))
	c.launchLocked()
}

// Stop cancels the pending timer and any in-flight request and returns to
// IDLE. The session token is unchanged.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateIdle {
		return
	}

	c.cancelLocked()
	c.setStateLocked(StateIdle)
	c.emitLocked(SeverityInfo, "", "Scanner stopped", "")
}

// SetConfig applies new settings. A known provider moves the failover cursor
// without invalidating the session; an empty or unknown provider keeps the
// current one. A change of position or range starts a new session: the
// in-flight request and pending timer are cancelled, any undelivered snapshot
// is discarded and, unless the controller is idle, the loop restarts
// immediately. An unknown provider is reported as ErrUnknownProvider after
// the position change has been applied.
func (c *Controller) SetConfig(provider string, lat, lon, rangeKm float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.applyLocked(provider, lat, lon, rangeKm)
}

// ConfigUpdate is a partial settings change. Nil fields keep their current
// value.
type ConfigUpdate struct {
	Provider  *string  `json:"provider"`
	Latitude  *float64 `json:"origin_latitude"`
	Longitude *float64 `json:"origin_longitude"`
	RangeKm   *float64 `json:"range_km"`
}

// UpdateConfig merges u into the current settings and applies the result as
// SetConfig does. The merge and the apply happen under one lock, so
// concurrent partial updates never overwrite each other's fields.
func (c *Controller) UpdateConfig(u ConfigUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	provider := ""
	if u.Provider != nil {
		provider = *u.Provider
	}
	lat, lon, rng := c.settings.OriginLatitude, c.settings.OriginLongitude, c.settings.RangeKm
	if u.Latitude != nil {
		lat = *u.Latitude
	}
	if u.Longitude != nil {
		lon = *u.Longitude
	}
	if u.RangeKm != nil {
		rng = *u.RangeKm
	}
	return c.applyLocked(provider, lat, lon, rng)
}

func (c *Controller) applyLocked(provider string, lat, lon, rangeKm float64) error {
	next := Settings{OriginLatitude: lat, OriginLongitude: lon, RangeKm: rangeKm}
	if err := next.Validate(); err != nil {
		return err
	}
	if c.closed {
		return nil
	}

	var providerErr error
	if provider != "" {
		if idx := c.indexOf(provider); idx < 0 {
			providerErr = fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
			c.emitLocked(SeverityWarn, "", "Unknown provider ignored", provider)
		} else if idx != c.cursor {
			c.cursor = idx
			c.failures = 0
			c.emitLocked(SeverityInfo, provider, "Provider selected", "")
		}
	}
	c.settings.PreferredProvider = c.providers[c.cursor].Name()

	if c.settings.samePosition(next) {
		return providerErr
	}

	c.settings.OriginLatitude = lat
	c.settings.OriginLongitude = lon
	c.settings.RangeKm = rangeKm
	c.token++
	c.snapshots.drain()
	metrics.SetSession(c.token)

	c.emitLocked(SeverityInfo, "", "Area of interest changed",
		fmt.Sprintf("origin %.4f, %.4f range %.0f km", lat, lon, rangeKm))

	if c.state != StateIdle {
		c.cancelLocked()
		c.launchLocked()
	}
	return providerErr
}

// Status returns a copy of the controller's current view.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return Status{
		State:     c.state,
		Provider:  c.currentProviderLocked(),
		Providers: names,
		Session:   c.token,
		Failures:  c.failures,
		Settings:  c.settings,
	}
}

// Close stops scanning, waits for the loop to exit, closes the providers and
// closes both output channels. The controller cannot be restarted.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.cancelLocked()
	c.setStateLocked(StateIdle)
	c.closed = true
	c.mu.Unlock()

	c.wg.Wait()

	var errs []error
	for _, p := range c.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", p.Name(), err))
		}
	}

	close(c.snapshots.ch)
	close(c.events.ch)
	return errors.Join(errs...)
}

// launchLocked opens a new cancellation scope and starts a loop under the
// current token.
func (c *Controller) launchLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(1)
	go c.run(ctx, c.token)
}

func (c *Controller) cancelLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// run is the scheduling loop for one scope. Only one delay or fetch is ever
// outstanding per loop.
func (c *Controller) run(ctx context.Context, token uint64) {
	defer c.wg.Done()

	var delay time.Duration
	for {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-c.clock.After(delay):
			}
		}

		next, ok := c.iterate(ctx, token)
		if !ok {
			return
		}
		delay = next
	}
}

// iterate runs one fetch cycle and returns the delay before the next one.
// ok is false when the scope is stale or cancelled.
func (c *Controller) iterate(ctx context.Context, token uint64) (time.Duration, bool) {
	c.mu.Lock()
	if !c.validLocked(ctx, token) {
		c.mu.Unlock()
		return 0, false
	}
	settings := c.settings
	idx := c.cursor
	provider := c.providers[idx]
	c.mu.Unlock()

	if !c.probe.Reachable(ctx) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.validLocked(ctx, token) {
			return 0, false
		}
		c.setStateLocked(StateFault)
		c.emitLocked(SeverityError, "", "Network unreachable",
			fmt.Sprintf("retrying in %v", c.schedule.UnreachableDelay))
		metrics.RecordUnreachable()
		return c.schedule.UnreachableDelay, true
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	started := c.clock.Now()
	reports, err := provider.Fetch(fetchCtx, adsb.Query{
		Latitude:  settings.OriginLatitude,
		Longitude: settings.OriginLongitude,
		RangeKm:   settings.RangeKm,
	})
	latency := c.clock.Now().Sub(started)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Superseded or stopped while the request was in flight
	if !c.validLocked(ctx, token) {
		return 0, false
	}

	if err != nil {
		metrics.ObserveFetch(provider.Name(), fetchResult(err), latency)
		return c.failedLocked(idx, provider.Name(), err), true
	}

	targets := c.normalizer.Normalize(settings.Origin(), reports)

	c.failures = 0
	c.setStateLocked(StateScanning)
	c.emitLocked(SeveritySuccess, provider.Name(),
		fmt.Sprintf("%d targets from %s", len(targets), provider.Name()),
		fmt.Sprintf("latency %v", latency.Round(time.Millisecond)))

	c.snapshots.push(Snapshot{
		ID:        uuid.New(),
		Session:   token,
		State:     c.state,
		Provider:  provider.Name(),
		Settings:  settings,
		Targets:   targets,
		Latency:   latency,
		CreatedAt: c.clock.Now(),
	})

	metrics.ObserveFetch(provider.Name(), metrics.ResultSuccess, latency)
	metrics.SetTargets(len(targets))

	return c.schedule.NextInterval(settings.RangeKm), true
}

// failedLocked accounts a non-cancelled fetch failure of providers[idx] and
// returns the retry delay.
func (c *Controller) failedLocked(idx int, name string, err error) time.Duration {
	c.emitLocked(SeverityError, name, fmt.Sprintf("%s fetch failed", name), failureDetail(err))

	// The cursor moved by SetConfig during the request; the new provider
	// has not failed yet.
	if idx != c.cursor {
		return c.schedule.RetryDelay
	}

	c.failures++
	if c.failures < c.schedule.FailoverThreshold {
		return c.schedule.RetryDelay
	}

	c.failures = 0
	c.cursor = (c.cursor + 1) % len(c.providers)
	next := c.providers[c.cursor].Name()
	c.settings.PreferredProvider = next

	c.emitLocked(SeverityWarn, next, fmt.Sprintf("Failing over from %s to %s", name, next),
		fmt.Sprintf("%d consecutive failures", c.schedule.FailoverThreshold))
	metrics.RecordFailover(name, next)

	return c.schedule.FailoverDelay
}

func (c *Controller) validLocked(ctx context.Context, token uint64) bool {
	return ctx.Err() == nil && token == c.token && c.state != StateIdle
}

func (c *Controller) setStateLocked(s State) {
	c.state = s
	metrics.SetState(s.String(), stateNames())
}

func (c *Controller) currentProviderLocked() string {
	return c.providers[c.cursor].Name()
}

func (c *Controller) indexOf(name string) int {
	for i, p := range c.providers {
		if p.Name() == name {
			return i
		}
	}
	return -1
}

// emitLocked queues an event and mirrors it to the logger.
func (c *Controller) emitLocked(sev Severity, provider, message, detail string) {
	ev := LogEvent{
		ID:        uuid.New(),
		Timestamp: c.clock.Now(),
		Severity:  sev,
		Message:   message,
		Detail:    detail,
		Session:   c.token,
		Provider:  provider,
	}

	attrs := []any{"severity", string(sev), "session", ev.Session}
	if provider != "" {
		attrs = append(attrs, "provider", provider)
	}
	if detail != "" {
		attrs = append(attrs, "detail", detail)
	}
	c.logger.Log(context.Background(), sev.Level(), message, attrs...)

	if !c.closed {
		c.events.push(ev)
	}
}

func fetchResult(err error) string {
	switch {
	case errors.Is(err, adsb.ErrMixedContent):
		return metrics.ResultMixedContent
	case errors.Is(err, adsb.ErrMalformed):
		return metrics.ResultMalformed
	default:
		return metrics.ResultTransport
	}
}

// failureDetail renders err with operator advice for the cases that need it.
func failureDetail(err error) string {
	if errors.Is(err, adsb.ErrMixedContent) {
		return err.Error() + "; use an https base URL for this provider or disable scanner.secure_origin"
	}
	if rle, ok := adsb.IsRateLimitError(err); ok && rle.RetryAfter > 0 {
		return fmt.Sprintf("%v; provider asked to wait %v", err, rle.RetryAfter)
	}
	return err.Error()
}
