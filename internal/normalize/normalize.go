// Package normalize turns provider reports into radar targets on a local
// Cartesian plane centered on the scanner origin.
package normalize

import (
	"math"
	"strings"
	"time"

	"github.com/unklstewy/adsb-scanner/pkg/adsb"
	"github.com/unklstewy/adsb-scanner/pkg/config"
	"github.com/unklstewy/adsb-scanner/pkg/coordinates"
)

// Geodetic is the target's position as reported by the provider.
type Geodetic struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Track     float64 `json:"track"`
}

// Target is a normalized aircraft. +X is east and +Y is north, in meters from
// the origin; velocities are in m/s and altitude in meters.
type Target struct {
	ID                string    `json:"id"`
	Callsign          string    `json:"callsign"`
	X                 float64   `json:"x"`
	Y                 float64   `json:"y"`
	VX                float64   `json:"vx"`
	VY                float64   `json:"vy"`
	Altitude          float64   `json:"altitude"`
	RadarCrossSection float64   `json:"rcs"`
	Classification    string    `json:"classification"`
	TypeCode          string    `json:"type_code,omitempty"`
	Registration      string    `json:"registration,omitempty"`
	Geodetic          Geodetic  `json:"geodetic"`
	FirstSeen         time.Time `json:"first_seen"`
	LastSeen          time.Time `json:"last_seen"`
}

// Speed returns the ground speed in m/s.
func (t Target) Speed() float64 {
	return math.Hypot(t.VX, t.VY)
}

// Range returns the distance from the origin in meters.
func (t Target) Range() float64 {
	return math.Hypot(t.X, t.Y)
}

// Rule maps ICAO type-code prefixes to a radar cross-section estimate.
type Rule struct {
	Class    string
	Prefixes []string
	RCS      float64 // m²
}

// Matches reports whether typeCode starts with any of the rule's prefixes.
// A prefix ending in '$' must match the whole type code.
func (r Rule) Matches(typeCode string) bool {
	for _, p := range r.Prefixes {
		if exact, ok := strings.CutSuffix(p, "$"); ok {
			if exact != "" && typeCode == exact {
				return true
			}
			continue
		}
		if p != "" && strings.HasPrefix(typeCode, p) {
			return true
		}
	}
	return false
}

// Fallback class and RCS for type codes no rule matches.
const (
	DefaultClass = "unknown"
	DefaultRCS   = 10.0
)

// DefaultRules is the built-in RCS table. Order matters: the first matching
// rule wins, so longer or more specific prefixes come first.
func DefaultRules() []Rule {
	return []Rule{
		{Class: "heavy", RCS: 100, Prefixes: []string{"A38", "B74", "B77", "B78", "A35", "A34", "A33", "C17$", "C5M", "C130", "C30J", "A400"}},
		{Class: "airliner", RCS: 40, Prefixes: []string{"A31", "A32", "A2", "B73", "B75", "B76", "B37M", "B38M", "B39M", "E17", "E19", "E2", "CRJ", "DH8", "AT7", "AT4", "MD", "BCS"}},
		{Class: "rotorcraft", RCS: 3, Prefixes: []string{"EC", "H1", "AS3", "AS5", "R22", "R44", "R66", "B06", "B407", "S76", "S92", "A109", "A139"}},
		{Class: "military", RCS: 5, Prefixes: []string{"F16", "F15", "F18", "F35", "F22", "EUFI", "TOR", "HAWK", "A10$", "RFAL"}},
		{Class: "business", RCS: 8, Prefixes: []string{"GLF", "GLEX", "GL5T", "GL7T", "C25", "C56", "C68", "C75", "LJ", "FA", "CL3", "CL6", "PC12", "PC24"}},
		{Class: "light", RCS: 2, Prefixes: []string{"C1", "C2", "PA", "SR2", "DA4", "DA2", "BE3", "BE2", "EXP", "ULAC", "GLID"}},
	}
}

// Normalizer projects, converts and classifies reports.
type Normalizer struct {
	rules      []Rule
	defaultRCS float64
}

// New creates a Normalizer with the given rule table.
// A nil table selects DefaultRules; defaultRCS <= 0 selects DefaultRCS.
func New(rules []Rule, defaultRCS float64) *Normalizer {
	if rules == nil {
		rules = DefaultRules()
	}
	if defaultRCS <= 0 {
		defaultRCS = DefaultRCS
	}
	return &Normalizer{rules: rules, defaultRCS: defaultRCS}
}

// FromConfig builds a Normalizer from the normalizer configuration section.
func FromConfig(cfg config.NormalizerConfig) *Normalizer {
	var rules []Rule
	for _, rc := range cfg.RCSRules {
		prefixes := make([]string, 0, len(rc.Prefixes))
		for _, p := range rc.Prefixes {
			prefixes = append(prefixes, strings.ToUpper(strings.TrimSpace(p)))
		}
		rules = append(rules, Rule{Class: rc.Class, Prefixes: prefixes, RCS: rc.RCS})
	}
	return New(rules, cfg.DefaultRCS)
}

// Rules returns a copy of the active rule table.
func (n *Normalizer) Rules() []Rule {
	out := make([]Rule, len(n.rules))
	copy(out, n.rules)
	return out
}

// Classify returns the class and RCS for an ICAO type code.
func (n *Normalizer) Classify(typeCode string) (string, float64) {
	typeCode = strings.ToUpper(strings.TrimSpace(typeCode))
	if typeCode != "" {
		for _, r := range n.rules {
			if r.Matches(typeCode) {
				return r.Class, r.RCS
			}
		}
	}
	return DefaultClass, n.defaultRCS
}

// Normalize converts reports to targets relative to origin, preserving order.
// Reports without a finite latitude and longitude are dropped.
func (n *Normalizer) Normalize(origin coordinates.Geographic, reports []adsb.Report) []Target {
	proj := coordinates.NewLocalProjection(origin)

	targets := make([]Target, 0, len(reports))
	for _, r := range reports {
		if !r.HasPosition() {
			continue
		}
		targets = append(targets, n.target(proj, r))
	}
	return targets
}

func (n *Normalizer) target(proj coordinates.LocalProjection, r adsb.Report) Target {
	x, y := proj.Project(r.Latitude, r.Longitude)

	altitude, speed := r.Altitude, r.Speed
	if r.Units == adsb.UnitsImperial {
		altitude *= coordinates.FeetToMeters
		speed *= coordinates.KnotsToMetersPerSecond
	}

	// Heading is clockwise from north, so east is sin and north is cos
	heading := r.Track * coordinates.DegreesToRadians
	class, rcs := n.Classify(r.TypeCode)

	return Target{
		ID:                r.Hex,
		Callsign:          r.Callsign,
		X:                 x,
		Y:                 y,
		VX:                speed * math.Sin(heading),
		VY:                speed * math.Cos(heading),
		Altitude:          altitude,
		RadarCrossSection: rcs,
		Classification:    class,
		TypeCode:          r.TypeCode,
		Registration:      r.Registration,
		Geodetic: Geodetic{
			Latitude:  r.Latitude,
			Longitude: r.Longitude,
			Track:     r.Track,
		},
		FirstSeen: r.LastSeen,
		LastSeen:  r.LastSeen,
	}
}
