package adsb

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/unklstewy/adsb-scanner/pkg/coordinates"
)

// DefaultOpenSkyMaxRangeKm caps bounding boxes sent to OpenSky.
const DefaultOpenSkyMaxRangeKm = 500.0

// State vector indices in the OpenSky /states/all response.
// https://openskynetwork.github.io/opensky-api/rest.html#all-state-vectors
const (
	osIcao24       = 0
	osCallsign     = 1
	osTimePosition = 3
	osLastContact  = 4
	osLongitude    = 5
	osLatitude     = 6
	osBaroAltitude = 7
	osVelocity     = 9
	osTrueTrack    = 10

	osMinFields = osTrueTrack + 1
)

// OpenSkyClient implements Provider for the OpenSky Network REST API.
// OpenSky takes a bounding box rather than a radius and returns state vectors
// as positional arrays in meters and meters per second.
type OpenSkyClient struct {
	httpClient

	// name is the provider identity
	name string

	// baseURL is the API base URL (default: https://opensky-network.org/api)
	baseURL string

	// maxRangeKm caps the requested radius
	maxRangeKm float64
}

// NewOpenSkyClient creates an OpenSky client.
// maxRangeKm <= 0 selects DefaultOpenSkyMaxRangeKm.
func NewOpenSkyClient(name, baseURL string, maxRangeKm float64, opts ...Option) *OpenSkyClient {
	if maxRangeKm <= 0 {
		maxRangeKm = DefaultOpenSkyMaxRangeKm
	}
	return &OpenSkyClient{
		httpClient: newHTTPClient(name, opts...),
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxRangeKm: maxRangeKm,
	}
}

// Name returns the provider identity.
func (c *OpenSkyClient) Name() string {
	return c.name
}

// Fetch returns all state vectors inside the box enclosing the query circle.
// Vectors in the box corners, outside the requested radius, are dropped.
func (c *OpenSkyClient) Fetch(ctx context.Context, q Query) ([]Report, error) {
	rangeKm := math.Min(q.RangeKm, c.maxRangeKm)
	center := coordinates.Geographic{Latitude: q.Latitude, Longitude: q.Longitude}
	box := coordinates.BoundingBoxAround(center, rangeKm)

	params := url.Values{}
	params.Set("lamin", strconv.FormatFloat(box.MinLatitude, 'f', 4, 64))
	params.Set("lomin", strconv.FormatFloat(box.MinLongitude, 'f', 4, 64))
	params.Set("lamax", strconv.FormatFloat(box.MaxLatitude, 'f', 4, 64))
	params.Set("lomax", strconv.FormatFloat(box.MaxLongitude, 'f', 4, 64))

	var apiResp openSkyResponse
	if err := c.getJSON(ctx, c.baseURL+"/states/all?"+params.Encode(), &apiResp); err != nil {
		return nil, err
	}

	reports := make([]Report, 0, len(apiResp.States))
	for i, state := range apiResp.States {
		report, err := c.convert(state, apiResp.Time)
		if err != nil {
			return nil, c.malformed("state %d: %v", i, err)
		}

		if report.HasPosition() {
			pos := coordinates.Geographic{Latitude: report.Latitude, Longitude: report.Longitude}
			if coordinates.DistanceKm(center, pos) > rangeKm {
				continue
			}
		}
		reports = append(reports, report)
	}

	return reports, nil
}

// Close cleanly shuts down the client.
func (c *OpenSkyClient) Close() error {
	return nil
}

// openSkyResponse is the /states/all payload. States is null when the box is empty.
type openSkyResponse struct {
	Time   int64           `json:"time"`
	States [][]interface{} `json:"states"`
}

// convert extracts a Report from a positional state vector.
func (c *OpenSkyClient) convert(state []interface{}, responseTime int64) (Report, error) {
	if len(state) < osMinFields {
		return Report{}, fmt.Errorf("expected at least %d fields, got %d", osMinFields, len(state))
	}

	icao, ok := state[osIcao24].(string)
	if !ok || strings.TrimSpace(icao) == "" {
		return Report{}, fmt.Errorf("missing icao24")
	}

	report := Report{
		Hex:       strings.ToLower(strings.TrimSpace(icao)),
		Latitude:  optionalNumber(state[osLatitude], math.NaN()),
		Longitude: optionalNumber(state[osLongitude], math.NaN()),
		Altitude:  optionalNumber(state[osBaroAltitude], 0),
		Speed:     optionalNumber(state[osVelocity], 0),
		Track:     optionalNumber(state[osTrueTrack], 0),
		Units:     UnitsMetric,
	}
	if callsign, ok := state[osCallsign].(string); ok {
		report.Callsign = strings.TrimSpace(callsign)
	}

	switch {
	case isNumber(state[osTimePosition]):
		report.LastSeen = time.Unix(int64(optionalNumber(state[osTimePosition], 0)), 0).UTC()
	case isNumber(state[osLastContact]):
		report.LastSeen = time.Unix(int64(optionalNumber(state[osLastContact], 0)), 0).UTC()
	case responseTime > 0:
		report.LastSeen = time.Unix(responseTime, 0).UTC()
	default:
		report.LastSeen = c.now()
	}

	return report, nil
}

func isNumber(v interface{}) bool {
	_, ok := v.(float64)
	return ok
}

// optionalNumber returns v as a float64, or def when v is null or not a number.
func optionalNumber(v interface{}, def float64) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	return def
}
