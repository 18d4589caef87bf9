package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/unklstewy/adsb-scanner/internal/normalize"
	"github.com/unklstewy/adsb-scanner/pkg/adsb"
	"github.com/unklstewy/adsb-scanner/pkg/config"
	"github.com/unklstewy/adsb-scanner/pkg/coordinates"
	"github.com/unklstewy/adsb-scanner/pkg/tracking"
)

// Probe-provider runs one fetch against a single configured provider and
// prints what the scanner would see. Useful for checking URLs, rate limits
// and mixed-content settings before enabling a provider.
func main() {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	name := flag.String("provider", "", "Provider name (default: the preferred provider)")
	lat := flag.Float64("lat", 0, "Search latitude (default: scanner origin)")
	lon := flag.Float64("lon", 0, "Search longitude (default: scanner origin)")
	rangeKm := flag.Float64("range", 0, "Search radius in km (default: scanner range)")
	hex := flag.String("hex", "", "Look up a single ICAO address (readsb providers only)")
	retries := flag.Int("retries", 3, "Retries for retryable failures")
	limit := flag.Int("limit", 10, "Targets to print")
	rules := flag.Bool("rules", false, "Print the RCS classification table and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *rules {
		printRules(normalize.FromConfig(cfg.Normalizer))
		return
	}

	providerName := *name
	if providerName == "" {
		providerName = cfg.Scanner.PreferredProvider
	}
	src, ok := cfg.Provider(providerName)
	if !ok {
		log.Fatalf("Provider %q not found in configuration", providerName)
	}

	q := adsb.Query{
		Latitude:  cfg.Scanner.OriginLatitude,
		Longitude: cfg.Scanner.OriginLongitude,
		RangeKm:   cfg.Scanner.RangeKm,
	}
	if *lat != 0 || *lon != 0 {
		q.Latitude, q.Longitude = *lat, *lon
	}
	if *rangeKm > 0 {
		q.RangeKm = *rangeKm
	}

	log.Printf("ADS-B Provider Probe - %s", src.Name)
	log.Println("=====================================")
	log.Printf("Type:     %s", src.Type)
	log.Printf("Base URL: %s", src.BaseURL)
	log.Printf("Query:    %.4f°, %.4f° within %.0f km", q.Latitude, q.Longitude, q.RangeKm)
	if cfg.Scanner.SecureOrigin {
		log.Printf("Secure origin: plain http providers are rejected")
	}

	provider, err := adsb.NewProvider(src, cfg.Scanner.SecureOrigin)
	if err != nil {
		log.Fatalf("Failed to create provider: %v", err)
	}
	defer provider.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	retryCfg := adsb.DefaultRetryConfig()
	retryCfg.MaxRetries = *retries
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Printf("  ⚠️  Attempt %d failed: %v (retrying in %v)", attempt, err, delay)
	}

	if *hex != "" {
		lookup(ctx, provider, *hex, retryCfg)
		return
	}

	start := time.Now()
	reports, err := probe(ctx, provider, q, retryCfg)
	if err != nil {
		log.Fatalf("Fetch failed after %v: %v", time.Since(start).Round(time.Millisecond), err)
	}
	log.Printf("✓ %d reports in %v", len(reports), time.Since(start).Round(time.Millisecond))
	log.Println("=====================================")

	origin := coordinates.Geographic{Latitude: q.Latitude, Longitude: q.Longitude}
	targets := normalize.FromConfig(cfg.Normalizer).Normalize(origin, reports)
	sort.Slice(targets, func(i, j int) bool { return targets[i].Range() < targets[j].Range() })

	log.Printf("%d targets after normalization (%d dropped without position)",
		len(targets), len(reports)-len(targets))

	now := time.Now()
	for i, t := range targets {
		if i >= *limit {
			log.Printf("\n... and %d more targets", len(targets)-*limit)
			break
		}
		pos := coordinates.Geographic{Latitude: t.Geodetic.Latitude, Longitude: t.Geodetic.Longitude}
		bearing := coordinates.Bearing(origin, pos)

		// Where the target should be now, given provider latency
		predicted := tracking.PredictPosition(tracking.Kinematics{
			X: t.X, Y: t.Y, VX: t.VX, VY: t.VY,
			Latitude: t.Geodetic.Latitude, Longitude: t.Geodetic.Longitude,
			Track: t.Geodetic.Track, LastSeen: t.LastSeen,
		}, now)

		log.Printf("\nTarget #%d:", i+1)
		log.Printf("  ICAO:     %s", t.ID)
		log.Printf("  Callsign: %s", t.Callsign)
		log.Printf("  Type:     %s (%s, RCS %.1f m²)", t.TypeCode, t.Classification, t.RadarCrossSection)
		log.Printf("  Position: %.4f°, %.4f°", t.Geodetic.Latitude, t.Geodetic.Longitude)
		log.Printf("  Local:    x=%.0f m y=%.0f m", t.X, t.Y)
		log.Printf("  Altitude: %.0f m", t.Altitude)
		log.Printf("  Speed:    %.0f m/s", t.Speed())
		log.Printf("  Track:    %.0f°", t.Geodetic.Track)
		log.Printf("  Bearing:  %.0f° %s at %.1f km", bearing, azimuthToCardinal(bearing), t.Range()/1000)
		log.Printf("  Last Seen: %s (%.1fs ago)", t.LastSeen.Format("15:04:05"), now.Sub(t.LastSeen).Seconds())
		if predicted.Elapsed > 0 {
			log.Printf("  → Now at: x=%.0f m y=%.0f m (confidence: %.0f%%)",
				predicted.X, predicted.Y, predicted.Confidence*100)
		}
	}

	log.Println("\n=====================================")
	log.Println("Probe complete!")
}

// probe fetches once, retrying failures that may succeed on a later attempt.
func probe(ctx context.Context, p adsb.Provider, q adsb.Query, cfg adsb.RetryConfig) ([]adsb.Report, error) {
	return adsb.RetryWithBackoff(ctx, cfg, func(ctx context.Context) ([]adsb.Report, error) {
		return p.Fetch(ctx, q)
	})
}

// hexLookup is implemented by providers that can fetch one aircraft by address.
type hexLookup interface {
	Lookup(ctx context.Context, hex string) (*adsb.Report, error)
}

func lookup(ctx context.Context, p adsb.Provider, hex string, cfg adsb.RetryConfig) {
	l, ok := p.(hexLookup)
	if !ok {
		log.Fatalf("Provider %s does not support lookup by ICAO address", p.Name())
	}

	r, err := adsb.RetryWithBackoff(ctx, cfg, func(ctx context.Context) (*adsb.Report, error) {
		return l.Lookup(ctx, hex)
	})
	if err != nil {
		log.Fatalf("Lookup failed: %v", err)
	}
	if r == nil {
		log.Printf("Aircraft %s not currently reported", hex)
		return
	}

	log.Printf("✓ Found %s", r.Hex)
	log.Printf("  Callsign: %s", r.Callsign)
	log.Printf("  Type:     %s %s", r.TypeCode, r.Registration)
	if r.HasPosition() {
		log.Printf("  Position: %.4f°, %.4f°", r.Latitude, r.Longitude)
	} else {
		log.Printf("  Position: unknown")
	}
	log.Printf("  Altitude: %.0f (%s)", r.Altitude, r.Units)
	log.Printf("  Speed:    %.0f (%s)", r.Speed, r.Units)
	log.Printf("  Track:    %.0f°", r.Track)
}

// printRules lists the classification table in match order.
func printRules(n *normalize.Normalizer) {
	log.Println("RCS classification rules (first match wins)")
	log.Println("=====================================")
	for i, r := range n.Rules() {
		log.Printf("%2d. %-10s %6.1f m²  %s", i+1, r.Class, r.RCS, strings.Join(r.Prefixes, " "))
	}
	class, rcs := n.Classify("")
	log.Printf("    %-10s %6.1f m²  (no match)", class, rcs)
}

// azimuthToCardinal converts azimuth in degrees to cardinal direction.
func azimuthToCardinal(azimuth float64) string {
	directions := []string{"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE",
		"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW"}
	index := int((coordinates.NormalizeAzimuth(azimuth) + 11.25) / 22.5)
	return directions[index%16]
}
