package scanner

import (
	"time"

	"github.com/unklstewy/adsb-scanner/pkg/config"
)

// Schedule holds the loop delays.
type Schedule struct {
	// ShortInterval follows a success when the range is at most LongRangeKm
	ShortInterval time.Duration

	// LongInterval follows a success when the range exceeds LongRangeKm
	LongInterval time.Duration
	LongRangeKm  float64

	// RetryDelay follows a failure below the failover threshold
	RetryDelay time.Duration

	// FailoverDelay follows a provider rotation
	FailoverDelay time.Duration

	// UnreachableDelay follows a failed reachability probe
	UnreachableDelay time.Duration

	// FailoverThreshold is the number of consecutive failures that rotates providers
	FailoverThreshold int
}

// DefaultSchedule returns the standard loop timing.
func DefaultSchedule() Schedule {
	return Schedule{
		ShortInterval:     6000 * time.Millisecond,
		LongInterval:      15000 * time.Millisecond,
		LongRangeKm:       300,
		RetryDelay:        3000 * time.Millisecond,
		FailoverDelay:     1000 * time.Millisecond,
		UnreachableDelay:  5000 * time.Millisecond,
		FailoverThreshold: 2,
	}
}

// ScheduleFromConfig converts the millisecond configuration. Zero or negative
// fields keep their defaults.
func ScheduleFromConfig(cfg config.ScheduleConfig) Schedule {
	s := DefaultSchedule()
	setMillis(&s.ShortInterval, cfg.ShortIntervalMS)
	setMillis(&s.LongInterval, cfg.LongIntervalMS)
	setMillis(&s.RetryDelay, cfg.RetryDelayMS)
	setMillis(&s.FailoverDelay, cfg.FailoverDelayMS)
	setMillis(&s.UnreachableDelay, cfg.UnreachableDelayMS)
	if cfg.LongRangeKm > 0 {
		s.LongRangeKm = cfg.LongRangeKm
	}
	if cfg.FailoverThreshold > 0 {
		s.FailoverThreshold = cfg.FailoverThreshold
	}
	return s
}

// NextInterval returns the delay after a successful fetch at rangeKm.
func (s Schedule) NextInterval(rangeKm float64) time.Duration {
	if rangeKm > s.LongRangeKm {
		return s.LongInterval
	}
	return s.ShortInterval
}

func setMillis(d *time.Duration, ms int) {
	if ms > 0 {
		*d = time.Duration(ms) * time.Millisecond
	}
}
