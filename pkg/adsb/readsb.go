package adsb

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/unklstewy/adsb-scanner/pkg/coordinates"
)

// DefaultReadsbMaxRangeNM is the largest radius readsb-style aggregators accept.
const DefaultReadsbMaxRangeNM = 250.0

// ReadsbClient implements Provider for aggregators that expose the readsb
// "v2" JSON API with a radial /point endpoint: airplanes.live, adsb.lol and
// compatible mirrors.
//
// API Documentation: https://airplanes.live/api-guide/
// Field documentation: https://airplanes.live/adsb-field-explanations/
type ReadsbClient struct {
	httpClient

	// name is the provider identity
	name string

	// baseURL is the API base URL (e.g., https://api.airplanes.live/v2)
	baseURL string

	// maxRangeNM caps the requested radius
	maxRangeNM float64
}

// NewReadsbClient creates a client for a readsb-compatible aggregator.
// maxRangeNM <= 0 selects DefaultReadsbMaxRangeNM.
func NewReadsbClient(name, baseURL string, maxRangeNM float64, opts ...Option) *ReadsbClient {
	if maxRangeNM <= 0 {
		maxRangeNM = DefaultReadsbMaxRangeNM
	}
	return &ReadsbClient{
		httpClient: newHTTPClient(name, opts...),
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxRangeNM: maxRangeNM,
	}
}

// Name returns the provider identity.
func (c *ReadsbClient) Name() string {
	return c.name
}

// Fetch returns all aircraft within a radius of a given point.
// Uses the /point/[lat]/[lon]/[radius] endpoint with the radius in whole
// nautical miles, rounded up, at least 1 and clamped to the provider maximum.
func (c *ReadsbClient) Fetch(ctx context.Context, q Query) ([]Report, error) {
	radiusNM := math.Max(1, math.Ceil(coordinates.KmToNauticalMiles(q.RangeKm)))
	radiusNM = math.Min(radiusNM, c.maxRangeNM)

	url := fmt.Sprintf("%s/point/%.4f/%.4f/%.0f", c.baseURL, q.Latitude, q.Longitude, radiusNM)

	var apiResp readsbResponse
	if err := c.getJSON(ctx, url, &apiResp); err != nil {
		return nil, err
	}

	aircraft := apiResp.aircraft()
	reports := make([]Report, 0, len(aircraft))
	for _, ac := range aircraft {
		if ac.Hex == "" {
			return nil, c.malformed("aircraft record without hex identifier")
		}
		reports = append(reports, c.convert(ac, apiResp.Now))
	}

	return reports, nil
}

// Lookup returns a specific aircraft by its ICAO hex code.
// Uses the /hex/[hex] endpoint. Returns nil if the aircraft is not currently tracked.
func (c *ReadsbClient) Lookup(ctx context.Context, hex string) (*Report, error) {
	url := fmt.Sprintf("%s/hex/%s", c.baseURL, strings.ToLower(hex))

	var apiResp readsbResponse
	if err := c.getJSON(ctx, url, &apiResp); err != nil {
		return nil, err
	}

	aircraft := apiResp.aircraft()
	if len(aircraft) == 0 {
		return nil, nil
	}

	report := c.convert(aircraft[0], apiResp.Now)
	return &report, nil
}

// Close cleanly shuts down the client.
// There are no persistent connections, so this is a no-op.
func (c *ReadsbClient) Close() error {
	return nil
}

// readsbResponse represents the JSON response from a readsb v2 API.
type readsbResponse struct {
	// Aircraft is the array of aircraft data
	Aircraft []readsbAircraft `json:"ac"`

	// Legacy is used by mirrors that still name the array "aircraft"
	Legacy []readsbAircraft `json:"aircraft"`

	// Total number of aircraft
	Total int `json:"total"`

	// Now is the server timestamp in milliseconds since the epoch
	Now float64 `json:"now"`
}

func (r readsbResponse) aircraft() []readsbAircraft {
	if len(r.Aircraft) > 0 {
		return r.Aircraft
	}
	return r.Legacy
}

// readsbAircraft represents a single aircraft in a readsb v2 response.
type readsbAircraft struct {
	// Hex is the ICAO Mode S hex code (e.g., "a12345")
	Hex string `json:"hex"`

	// Flight is the callsign/flight number (space padded)
	Flight *string `json:"flight"`

	// Registration is the tail number
	Registration *string `json:"r"`

	// Type is the ICAO aircraft type designator
	Type *string `json:"t"`

	// Lat is latitude in decimal degrees
	Lat *float64 `json:"lat"`

	// Lon is longitude in decimal degrees
	Lon *float64 `json:"lon"`

	// AltBaro is barometric altitude in feet
	// Note: Can be string "ground" or float
	AltBaro interface{} `json:"alt_baro"`

	// AltGeom is geometric (GPS) altitude in feet
	AltGeom interface{} `json:"alt_geom"`

	// Gs is ground speed in knots
	Gs *float64 `json:"gs"`

	// Track is ground track in degrees (0-360)
	Track *float64 `json:"track"`

	// Seen is seconds since last update
	Seen *float64 `json:"seen"`
}

// convert maps a readsb aircraft onto a Report in feet/knots.
func (c *ReadsbClient) convert(ac readsbAircraft, nowMillis float64) Report {
	report := Report{
		Hex:       strings.ToLower(strings.TrimSpace(ac.Hex)),
		Latitude:  math.NaN(),
		Longitude: math.NaN(),
		Units:     UnitsImperial,
	}

	if ac.Flight != nil {
		report.Callsign = strings.TrimSpace(*ac.Flight)
	}
	if ac.Registration != nil {
		report.Registration = strings.TrimSpace(*ac.Registration)
	}
	if ac.Type != nil {
		report.TypeCode = strings.ToUpper(strings.TrimSpace(*ac.Type))
	}

	if ac.Lat != nil {
		report.Latitude = *ac.Lat
	}
	if ac.Lon != nil {
		report.Longitude = *ac.Lon
	}

	// Prefer geometric (GPS) over barometric altitude
	if alt := parseAltitude(ac.AltGeom); alt != nil {
		report.Altitude = *alt
	} else if alt := parseAltitude(ac.AltBaro); alt != nil {
		report.Altitude = *alt
	}

	if ac.Gs != nil {
		report.Speed = *ac.Gs
	}
	if ac.Track != nil {
		report.Track = *ac.Track
	}

	// Timestamp - "seen" seconds before the server clock, or our clock when absent
	ref := c.now()
	if nowMillis > 0 {
		ref = time.UnixMilli(int64(nowMillis)).UTC()
	}
	if ac.Seen != nil {
		ref = ref.Add(-time.Duration(*ac.Seen * float64(time.Second)))
	}
	report.LastSeen = ref

	return report
}

// parseAltitude safely extracts altitude from interface{} which can be float64 or string.
// Returns nil if the value is invalid; "ground" is reported as zero.
func parseAltitude(val interface{}) *float64 {
	if val == nil {
		return nil
	}

	switch v := val.(type) {
	case float64:
		return &v
	case string:
		if v == "ground" {
			zero := 0.0
			return &zero
		}
		return nil
	default:
		return nil
	}
}
