package adsb

import (
	"errors"
	"fmt"
	"time"

	"github.com/unklstewy/adsb-scanner/pkg/config"
)

// Provider types accepted in configuration.
const (
	TypeReadsb  = "readsb"
	TypeOpenSky = "opensky"
)

// NewProvider builds a provider client from its configuration entry.
// Extra options are applied after the ones derived from src.
func NewProvider(src config.ProviderConfig, secureOrigin bool, extra ...Option) (Provider, error) {
	opts := []Option{
		WithTimeout(seconds(src.TimeoutSeconds)),
		WithRateLimit(seconds(src.RateLimitSeconds)),
		WithSecureOrigin(secureOrigin),
	}
	opts = append(opts, extra...)

	switch src.Type {
	case TypeReadsb:
		return NewReadsbClient(src.Name, src.BaseURL, src.MaxRangeNM, opts...), nil
	case TypeOpenSky:
		return NewOpenSkyClient(src.Name, src.BaseURL, src.MaxRangeKm, opts...), nil
	default:
		return nil, fmt.Errorf("provider %q: unknown type %q", src.Name, src.Type)
	}
}

// NewProviders builds the enabled providers in configuration order, which is
// also the failover order.
func NewProviders(sources []config.ProviderConfig, secureOrigin bool, extra ...Option) ([]Provider, error) {
	var providers []Provider
	for _, src := range sources {
		if !src.Enabled {
			continue
		}
		p, err := NewProvider(src, secureOrigin, extra...)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	if len(providers) == 0 {
		return nil, errors.New("no ADS-B providers enabled")
	}
	return providers, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
