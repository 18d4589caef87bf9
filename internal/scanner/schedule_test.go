package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unklstewy/adsb-scanner/pkg/config"
)

func TestDefaultSchedule(t *testing.T) {
	s := DefaultSchedule()
	assert.Equal(t, 6*time.Second, s.NextInterval(50))
	assert.Equal(t, 6*time.Second, s.NextInterval(300))
	assert.Equal(t, 15*time.Second, s.NextInterval(300.1))
	assert.Equal(t, 3*time.Second, s.RetryDelay)
	assert.Equal(t, time.Second, s.FailoverDelay)
	assert.Equal(t, 5*time.Second, s.UnreachableDelay)
	assert.Equal(t, 2, s.FailoverThreshold)
}

func TestScheduleFromConfig(t *testing.T) {
	t.Run("defaults match", func(t *testing.T) {
		assert.Equal(t, DefaultSchedule(), ScheduleFromConfig(config.DefaultConfig().Scanner.Schedule))
	})

	t.Run("overrides", func(t *testing.T) {
		s := ScheduleFromConfig(config.ScheduleConfig{
			ShortIntervalMS:   1000,
			LongRangeKm:       100,
			FailoverThreshold: 3,
		})
		assert.Equal(t, time.Second, s.ShortInterval)
		assert.Equal(t, 15*time.Second, s.LongInterval)
		assert.Equal(t, 100.0, s.LongRangeKm)
		assert.Equal(t, 3, s.FailoverThreshold)
	})

	t.Run("zero keeps defaults", func(t *testing.T) {
		assert.Equal(t, DefaultSchedule(), ScheduleFromConfig(config.ScheduleConfig{}))
	})
}

func TestStateText(t *testing.T) {
	for _, s := range States {
		data, err := json.Marshal(s)
		require.NoError(t, err)

		var back State
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, s, back)
	}

	assert.Equal(t, `"SCANNING"`, mustJSON(t, StateScanning))
	assert.Equal(t, "State(9)", State(9).String())

	var s State
	assert.Error(t, s.UnmarshalText([]byte("BOGUS")))
}

func TestSeverityLevel(t *testing.T) {
	assert.Equal(t, "INFO", SeveritySuccess.Level().String())
	assert.Equal(t, "WARN", SeverityWarn.Level().String())
	assert.Equal(t, "ERROR", SeverityError.Level().String())
}

func TestInterfaceProbe(t *testing.T) {
	tests := []struct {
		name     string
		ifaces   []net.Interface
		err      error
		expected bool
	}{
		{"listing fails", nil, errors.New("boom"), false},
		{"no interfaces", nil, nil, false},
		{"loopback only", []net.Interface{{Index: 1, Name: "lo", Flags: net.FlagUp | net.FlagLoopback}}, nil, false},
		{"down interface", []net.Interface{{Index: 2, Name: "eth9", Flags: 0}}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := InterfaceProbe{interfaces: func() ([]net.Interface, error) { return tt.ifaces, tt.err }}
			assert.Equal(t, tt.expected, probe.Reachable(context.Background()))
		})
	}
}

func TestProbeFunc(t *testing.T) {
	var p ReachabilityProbe = ProbeFunc(func(ctx context.Context) bool { return true })
	assert.True(t, p.Reachable(context.Background()))
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
