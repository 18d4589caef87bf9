package tracking

import (
	"math"
	"time"

	"github.com/unklstewy/adsb-scanner/pkg/coordinates"
)

// MaxPredictionAge is the age beyond which a prediction has zero confidence.
const MaxPredictionAge = 60 * time.Second

// Kinematics is the last observed state of a target in the local plane.
type Kinematics struct {
	// X and Y are east/north offsets from the scope origin in meters
	X, Y float64

	// VX and VY are east/north velocity in m/s
	VX, VY float64

	// Latitude, Longitude and Track are the geodetic position and course
	Latitude  float64
	Longitude float64
	Track     float64

	// LastSeen is when the position was observed
	LastSeen time.Time
}

// Speed returns the ground speed in m/s.
func (k Kinematics) Speed() float64 {
	return math.Hypot(k.VX, k.VY)
}

// PredictedPosition represents a target's predicted position.
type PredictedPosition struct {
	// X, Y are the predicted local-plane offsets in meters
	X, Y float64

	// Position is the predicted geographic location
	Position coordinates.Geographic

	// PredictionTime is when this prediction is valid
	PredictionTime time.Time

	// Elapsed is the time extrapolated from the last observation
	Elapsed time.Duration

	// Confidence is a measure of prediction reliability (0-1)
	// Lower confidence for longer predictions
	Confidence float64
}

// PredictPosition dead-reckons a target forward to predictionTime.
// Snapshots arrive every 6-15 seconds, so displays call this between
// snapshots to keep targets moving.
//
// Assumptions:
// - Target maintains current speed and course (reasonable for short predictions)
// - No wind correction
//
// Returns: Predicted position with confidence score
func PredictPosition(k Kinematics, predictionTime time.Time) PredictedPosition {
	deltaT := predictionTime.Sub(k.LastSeen).Seconds()

	// For very short or negative deltas, return current position
	if deltaT <= 0 {
		return PredictedPosition{
			X:              k.X,
			Y:              k.Y,
			Position:       coordinates.Geographic{Latitude: k.Latitude, Longitude: k.Longitude},
			PredictionTime: predictionTime,
			Confidence:     1.0,
		}
	}

	// 1.0 at 0s, 0.5 at 30s, 0.0 at 60s+
	confidence := math.Max(0.0, 1.0-deltaT/MaxPredictionAge.Seconds())

	newLat, newLon := predictHorizontalPosition(k.Latitude, k.Longitude, k.Speed(), k.Track, deltaT)

	return PredictedPosition{
		X:              k.X + k.VX*deltaT,
		Y:              k.Y + k.VY*deltaT,
		Position:       coordinates.Geographic{Latitude: newLat, Longitude: newLon},
		PredictionTime: predictionTime,
		Elapsed:        time.Duration(deltaT * float64(time.Second)),
		Confidence:     confidence,
	}
}

// predictHorizontalPosition calculates new lat/lon after moving along a great circle path.
// This uses the forward azimuth formula from spherical trigonometry.
//
// Parameters:
//   - lat: Starting latitude in decimal degrees
//   - lon: Starting longitude in decimal degrees
//   - speedMps: Ground speed in m/s
//   - trackDeg: Track (heading) in degrees (0-360, 0=North)
//   - deltaT: Time delta in seconds
//
// Returns: New latitude and longitude in decimal degrees
func predictHorizontalPosition(lat, lon, speedMps, trackDeg, deltaT float64) (float64, float64) {
	latRad := lat * coordinates.DegreesToRadians
	lonRad := lon * coordinates.DegreesToRadians
	trackRad := trackDeg * coordinates.DegreesToRadians

	// Angular distance (distance / Earth radius)
	angularDistance := speedMps * deltaT / (coordinates.EarthRadiusKm * 1000.0)

	// lat2 = asin(sin(lat1)*cos(d) + cos(lat1)*sin(d)*cos(track))
	newLatRad := math.Asin(
		math.Sin(latRad)*math.Cos(angularDistance) +
			math.Cos(latRad)*math.Sin(angularDistance)*math.Cos(trackRad),
	)

	// lon2 = lon1 + atan2(sin(track)*sin(d)*cos(lat1), cos(d)-sin(lat1)*sin(lat2))
	newLonRad := lonRad + math.Atan2(
		math.Sin(trackRad)*math.Sin(angularDistance)*math.Cos(latRad),
		math.Cos(angularDistance)-math.Sin(latRad)*math.Sin(newLatRad),
	)

	newLat := newLatRad * coordinates.RadiansToDegrees
	newLon := newLonRad * coordinates.RadiansToDegrees

	// Normalize longitude to [-180, 180]
	if newLon > 180.0 {
		newLon -= 360.0
	} else if newLon < -180.0 {
		newLon += 360.0
	}

	return newLat, newLon
}
