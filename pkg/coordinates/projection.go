package coordinates

import "math"

// LocalProjection is a flat-earth (equirectangular) projection centered on an
// origin. +X points east and +Y points north, both in meters.
//
// The approximation is accurate to well under a meter of round-trip error
// for points within a few hundred kilometers of the origin, which covers every
// range the scanner requests.
type LocalProjection struct {
	origin Geographic
	cosLat float64
}

// NewLocalProjection creates a projection centered on the given origin.
func NewLocalProjection(origin Geographic) LocalProjection {
	return LocalProjection{
		origin: origin,
		cosLat: math.Cos(origin.Latitude * DegreesToRadians),
	}
}

// Origin returns the projection center.
func (p LocalProjection) Origin() Geographic {
	return p.origin
}

// Project converts a latitude/longitude to local X/Y meters.
func (p LocalProjection) Project(lat, lon float64) (x, y float64) {
	y = (lat - p.origin.Latitude) * MetersPerDegreeLatitude
	x = (lon - p.origin.Longitude) * MetersPerDegreeLongitude * p.cosLat
	return x, y
}

// Unproject converts local X/Y meters back to latitude/longitude.
// At the poles the longitude term is undefined and the origin longitude is returned.
func (p LocalProjection) Unproject(x, y float64) (lat, lon float64) {
	lat = p.origin.Latitude + y/MetersPerDegreeLatitude
	if p.cosLat == 0 {
		return lat, p.origin.Longitude
	}
	lon = p.origin.Longitude + x/(MetersPerDegreeLongitude*p.cosLat)
	return lat, lon
}

// BoundingBox is a latitude/longitude rectangle in decimal degrees.
type BoundingBox struct {
	MinLatitude  float64
	MinLongitude float64
	MaxLatitude  float64
	MaxLongitude float64
}

// BoundingBoxAround returns the box that encloses a circle of rangeKm around
// center. Latitude deltas use the meters-per-degree of latitude; longitude
// deltas are widened by 1/cos(latitude). Latitudes are clamped to ±90 and
// longitudes to ±180. A circle that reaches a pole spans every longitude.
// A box crossing the antimeridian is cut at ±180.
func BoundingBoxAround(center Geographic, rangeKm float64) BoundingBox {
	meters := rangeKm * 1000.0
	dLat := meters / MetersPerDegreeLatitude

	box := BoundingBox{
		MinLatitude: math.Max(center.Latitude-dLat, -90.0),
		MaxLatitude: math.Min(center.Latitude+dLat, 90.0),
	}

	cosLat := math.Cos(center.Latitude * DegreesToRadians)
	if box.MinLatitude <= -90.0 || box.MaxLatitude >= 90.0 || cosLat <= 1e-9 {
		box.MinLongitude, box.MaxLongitude = -180.0, 180.0
		return box
	}

	dLon := meters / (MetersPerDegreeLongitude * cosLat)
	box.MinLongitude = math.Max(center.Longitude-dLon, -180.0)
	box.MaxLongitude = math.Min(center.Longitude+dLon, 180.0)
	return box
}
