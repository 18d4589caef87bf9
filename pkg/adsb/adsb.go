// Package adsb contains clients for third-party ADS-B aggregators.
//
// Every client implements Provider: it turns a (latitude, longitude, range)
// query into the provider-specific request, executes it, and maps the native
// JSON layout into Report records. Reports keep the provider's native units;
// the Units tag tells downstream code whether feet/knots conversion applies.
package adsb

import (
	"context"
	"math"
	"time"
)

// Units identifies the unit system of a Report's altitude and speed.
type Units int

const (
	// UnitsImperial means altitude in feet and speed in knots.
	UnitsImperial Units = iota

	// UnitsMetric means altitude in meters and speed in meters per second.
	UnitsMetric
)

// String returns a short name for the unit system.
func (u Units) String() string {
	switch u {
	case UnitsImperial:
		return "ft/kt"
	case UnitsMetric:
		return "m/mps"
	default:
		return "unknown"
	}
}

// Report is a single aircraft position report in a provider-neutral layout.
type Report struct {
	// Hex is the 24-bit ICAO aircraft address (e.g., "a12345")
	Hex string

	// Callsign is the flight number or registration broadcast by the aircraft
	Callsign string

	// Latitude in decimal degrees; NaN when the provider omitted it
	Latitude float64

	// Longitude in decimal degrees; NaN when the provider omitted it
	Longitude float64

	// Altitude in feet (UnitsImperial) or meters (UnitsMetric)
	Altitude float64

	// Speed is ground speed in knots (UnitsImperial) or m/s (UnitsMetric)
	Speed float64

	// Track is the ground track in degrees clockwise from true north
	Track float64

	// TypeCode is the ICAO aircraft type designator (e.g., "B738"), if known
	TypeCode string

	// Registration is the aircraft tail number, if known
	Registration string

	// Units tags Altitude and Speed
	Units Units

	// LastSeen is the time of the last position update
	LastSeen time.Time
}

// HasPosition reports whether both coordinates are finite numbers.
func (r Report) HasPosition() bool {
	return isFinite(r.Latitude) && isFinite(r.Longitude)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Query describes the area of interest for a fetch.
type Query struct {
	// Latitude of the search center in decimal degrees
	Latitude float64

	// Longitude of the search center in decimal degrees
	Longitude float64

	// RangeKm is the requested search radius; providers clamp it to their maximum
	RangeKm float64
}

// Provider is the interface that all ADS-B data providers must implement.
type Provider interface {
	// Name returns the provider identity used for failover ordering and logs.
	Name() string

	// Fetch returns all aircraft currently reported inside the query area.
	// A cancelled ctx yields an error satisfying errors.Is(err, context.Canceled).
	Fetch(ctx context.Context, q Query) ([]Report, error)

	// Close cleanly shuts down the provider.
	Close() error
}
