package main

import (
	"context"
	"log"
	"log/slog"
	"sync"
	"time"

	"github.com/unklstewy/adsb-scanner/internal/scanner"
)

// outputs is the controller's side of the collector.
type outputs interface {
	Snapshots() <-chan scanner.Snapshot
	Events() <-chan scanner.LogEvent
}

type statusSource interface {
	Status() scanner.Status
}

// publisher receives everything the scanner emits (the API server).
type publisher interface {
	PublishSnapshot(scanner.Snapshot)
	PublishEvent(scanner.LogEvent)
}

// archiver buffers events for the database.
type archiver interface {
	Add(scanner.LogEvent)
	Run(ctx context.Context)
}

// archiveStats is the database side of the periodic summary.
type archiveStats interface {
	HealthCheck(ctx context.Context) error
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

// Collector dispatches scanner output until the controller closes its channels.
type Collector struct {
	source   outputs
	status   statusSource
	server   publisher
	archiver archiver
	database archiveStats
	logger   *slog.Logger

	// StatsInterval is how often a summary line is logged (default 30s)
	StatsInterval time.Duration

	// Statistics
	snapshots   int
	events      int
	lastTarget  int
	lastUpdate  time.Time
	archiveDown bool
}

// Run blocks until both controller channels are closed. The archiver is
// stopped only after the last event has been handed to it.
func (c *Collector) Run(ctx context.Context) {
	var wg sync.WaitGroup
	archiveCtx, stopArchive := context.WithCancel(context.Background())
	if c.archiver != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.archiver.Run(archiveCtx)
		}()
	}
	defer func() {
		stopArchive()
		wg.Wait()
	}()

	interval := c.StatsInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	statsTicker := time.NewTicker(interval)
	defer statsTicker.Stop()

	snapshots := c.source.Snapshots()
	events := c.source.Events()

	for snapshots != nil || events != nil {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				snapshots = nil
				continue
			}
			c.handleSnapshot(snap)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.handleEvent(ev)
		case <-statsTicker.C:
			c.printStats(ctx)
		}
	}
}

func (c *Collector) handleSnapshot(snap scanner.Snapshot) {
	c.snapshots++
	c.lastTarget = len(snap.Targets)
	c.lastUpdate = snap.CreatedAt
	if c.server != nil {
		c.server.PublishSnapshot(snap)
	}
}

func (c *Collector) handleEvent(ev scanner.LogEvent) {
	c.events++
	if c.server != nil {
		c.server.PublishEvent(ev)
	}
	if c.archiver != nil {
		c.archiver.Add(ev)
	}
}

// printStats displays current statistics.
func (c *Collector) printStats(ctx context.Context) {
	st := c.status.Status()
	age := "never"
	if !c.lastUpdate.IsZero() {
		age = time.Since(c.lastUpdate).Round(time.Second).String() + " ago"
	}

	log.Printf("📊 %s via %s | session %d | %d targets (updated %s) | %d snapshots, %d events",
		st.State, st.Provider, st.Session, c.lastTarget, age, c.snapshots, c.events)

	if c.database == nil {
		return
	}

	if err := c.database.HealthCheck(ctx); err != nil {
		if !c.archiveDown {
			log.Printf("   ⚠️  Archive unreachable: %v", err)
		}
		c.archiveDown = true
		c.logger.Warn("Event archive health check failed", "error", err)
		return
	}
	if c.archiveDown {
		log.Println("   ✓ Archive reachable again")
		c.archiveDown = false
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	stats, err := c.database.GetStats(queryCtx)
	if err != nil {
		c.logger.Warn("Failed to read archive stats", "error", err)
		return
	}
	log.Printf("   Archive: %v events across %v sessions", stats["events"], stats["sessions"])
}
