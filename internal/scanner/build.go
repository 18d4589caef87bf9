package scanner

import (
	"fmt"

	"github.com/unklstewy/adsb-scanner/internal/normalize"
	"github.com/unklstewy/adsb-scanner/pkg/adsb"
	"github.com/unklstewy/adsb-scanner/pkg/config"
)

// NewFromConfig builds a controller with the providers, normalizer and
// schedule described by cfg. opts are applied after the configured ones.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Controller, error) {
	providers, err := adsb.NewProviders(cfg.Providers, cfg.Scanner.SecureOrigin)
	if err != nil {
		return nil, fmt.Errorf("building providers: %w", err)
	}

	settings := Settings{
		PreferredProvider: cfg.Scanner.PreferredProvider,
		OriginLatitude:    cfg.Scanner.OriginLatitude,
		OriginLongitude:   cfg.Scanner.OriginLongitude,
		RangeKm:           cfg.Scanner.RangeKm,
	}

	all := []Option{
		WithSchedule(ScheduleFromConfig(cfg.Scanner.Schedule)),
		WithNormalizer(normalize.FromConfig(cfg.Normalizer)),
	}
	if cfg.Scanner.EventBufferSize > 0 {
		all = append(all, WithEventBuffer(cfg.Scanner.EventBufferSize))
	}
	all = append(all, opts...)

	ctrl, err := New(providers, settings, all...)
	if err != nil {
		for _, p := range providers {
			p.Close()
		}
		return nil, err
	}
	return ctrl, nil
}
