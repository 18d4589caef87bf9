package tracking

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestPredictPosition tests dead-reckoning between snapshots.
func TestPredictPosition(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	eastbound := Kinematics{
		X:         1000,
		Y:         -500,
		VX:        200,
		VY:        0,
		Latitude:  51.0,
		Longitude: 0.0,
		Track:     90.0,
		LastSeen:  now,
	}

	t.Run("Zero delta time returns current position", func(t *testing.T) {
		pred := PredictPosition(eastbound, now)

		assert.Equal(t, 1000.0, pred.X)
		assert.Equal(t, -500.0, pred.Y)
		assert.Equal(t, 51.0, pred.Position.Latitude)
		assert.Equal(t, 1.0, pred.Confidence)
	})

	t.Run("Negative delta time returns current position", func(t *testing.T) {
		pred := PredictPosition(eastbound, now.Add(-5*time.Second))

		assert.Equal(t, 1.0, pred.Confidence, "past time keeps full confidence")
		assert.Zero(t, pred.Elapsed)
	})

	t.Run("Local plane moves with velocity", func(t *testing.T) {
		pred := PredictPosition(eastbound, now.Add(6*time.Second))

		assert.InDelta(t, 2200, pred.X, 1e-9)
		assert.Equal(t, -500.0, pred.Y, "Y unchanged")
		assert.Equal(t, 6*time.Second, pred.Elapsed)
	})

	t.Run("Geodetic position agrees with local plane", func(t *testing.T) {
		pred := PredictPosition(eastbound, now.Add(10*time.Second))

		// 2000 m east at 51°N is about 0.02857° of longitude
		expectedLon := 2000.0 / (111320.0 * math.Cos(51.0*math.Pi/180))
		assert.InDelta(t, expectedLon, pred.Position.Longitude, 1e-4)
		assert.InDelta(t, 51.0, pred.Position.Latitude, 1e-4)
	})

	t.Run("Confidence decreases with time", func(t *testing.T) {
		pred := PredictPosition(eastbound, now.Add(30*time.Second))

		// Confidence should be 0.5 at 30s (1.0 - 30/60)
		assert.InDelta(t, 0.5, pred.Confidence, 0.01)

		pred = PredictPosition(eastbound, now.Add(2*time.Minute))
		assert.Zero(t, pred.Confidence, "no confidence past %v", MaxPredictionAge)
	})
}

func TestKinematicsSpeed(t *testing.T) {
	k := Kinematics{VX: 3, VY: 4}
	assert.Equal(t, 5.0, k.Speed())
}

// TestPredictHorizontalPosition tests great circle navigation.
func TestPredictHorizontalPosition(t *testing.T) {
	const speed = 154.3 // ~300 knots in m/s

	t.Run("Eastward movement", func(t *testing.T) {
		lat, lon := predictHorizontalPosition(
			35.0, -80.0, // Starting position
			speed,
			90.0,   // East
			3600.0, // 1 hour
		)

		assert.Greater(t, lon, -80.0, "longitude should increase")
		assert.InDelta(t, 35.0, lat, 1.0)
	})

	t.Run("Northward movement", func(t *testing.T) {
		lat, lon := predictHorizontalPosition(
			35.0, -80.0,
			speed,
			0.0,    // North
			3600.0, // 1 hour
		)

		assert.Greater(t, lat, 35.0, "latitude should increase")
		assert.InDelta(t, -80.0, lon, 0.5)
	})

	t.Run("Longitude normalization", func(t *testing.T) {
		// Start near 180° and move east
		_, lon := predictHorizontalPosition(
			0.0, 179.0,
			speed,
			90.0,   // East
			3600.0, // 1 hour
		)

		// Should wrap to negative longitude
		assert.LessOrEqual(t, lon, 0.0)
		assert.GreaterOrEqual(t, lon, -180.0)
	})
}
