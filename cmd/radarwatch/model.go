package main

import (
	"fmt"
	"math"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/unklstewy/adsb-scanner/internal/normalize"
	"github.com/unklstewy/adsb-scanner/internal/scanner"
	"github.com/unklstewy/adsb-scanner/pkg/tracking"
)

// Range limits for +/- adjustment
const (
	minRangeKm  = 5.0
	maxRangeKm  = 1000.0
	rangeFactor = 1.5
	maxEvents   = 8
)

// scannerControl is the part of the controller the viewer drives.
type scannerControl interface {
	Start()
	Stop()
	SetConfig(provider string, lat, lon, rangeKm float64) error
	Status() scanner.Status
}

// targetView is one target as drawn this frame.
type targetView struct {
	target     normalize.Target
	predicted  tracking.PredictedPosition
	bearing    float64
	rangeNM    float64
	age        float64
	predicting bool
}

type model struct {
	ctrl      scannerControl
	snapshots <-chan scanner.Snapshot
	events    <-chan scanner.LogEvent

	status   scanner.Status
	snapshot scanner.Snapshot
	targets  []targetView
	log      []scanner.LogEvent
	selected int
	now      time.Time
	err      error

	width  int
	height int
}

type tickMsg time.Time

type snapshotMsg scanner.Snapshot

type eventMsg scanner.LogEvent

// closedMsg is sent when the controller's output channels are closed.
type closedMsg struct{}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForSnapshot(ch <-chan scanner.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return snapshotMsg(snap)
	}
}

func waitForEvent(ch <-chan scanner.LogEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return eventMsg(ev)
	}
}

func newModel(ctrl scannerControl, snapshots <-chan scanner.Snapshot, events <-chan scanner.LogEvent) model {
	return model{
		ctrl:      ctrl,
		snapshots: snapshots,
		events:    events,
		status:    ctrl.Status(),
		now:       time.Now(),
		width:     120,
		height:    40,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tick(), waitForSnapshot(m.snapshots), waitForEvent(m.events))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		// Clear error on any keypress
		if m.err != nil {
			m.err = nil
			return m, nil
		}
		return m.handleKey(msg.String())

	case tickMsg:
		m.now = time.Time(msg)
		m.status = m.ctrl.Status()
		m.refreshTargets()
		return m, tick()

	case snapshotMsg:
		m.snapshot = scanner.Snapshot(msg)
		m.status = m.ctrl.Status()
		m.refreshTargets()
		return m, waitForSnapshot(m.snapshots)

	case eventMsg:
		m.log = append(m.log, scanner.LogEvent(msg))
		if len(m.log) > maxEvents {
			m.log = m.log[len(m.log)-maxEvents:]
		}
		return m, waitForEvent(m.events)

	case closedMsg:
		return m, tea.Quit
	}

	return m, nil
}

func (m model) handleKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "s":
		if m.status.State == scanner.StateIdle {
			m.ctrl.Start()
		} else {
			m.ctrl.Stop()
		}
		m.status = m.ctrl.Status()
	case "+", "=":
		m.err = m.setRange(m.status.Settings.RangeKm * rangeFactor)
	case "-", "_":
		m.err = m.setRange(m.status.Settings.RangeKm / rangeFactor)
	case "p":
		m.err = m.nextProvider()
	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if m.selected < len(m.targets)-1 {
			m.selected++
		}
	}
	return m, nil
}

func (m *model) setRange(rangeKm float64) error {
	rangeKm = math.Max(minRangeKm, math.Min(maxRangeKm, rangeKm))
	s := m.status.Settings
	if rangeKm == s.RangeKm {
		return nil
	}
	if err := m.ctrl.SetConfig("", s.OriginLatitude, s.OriginLongitude, rangeKm); err != nil {
		return fmt.Errorf("set range: %w", err)
	}
	m.status = m.ctrl.Status()
	return nil
}

func (m *model) nextProvider() error {
	providers := m.status.Providers
	if len(providers) < 2 {
		return nil
	}
	next := providers[0]
	for i, name := range providers {
		if name == m.status.Provider {
			next = providers[(i+1)%len(providers)]
			break
		}
	}
	s := m.status.Settings
	if err := m.ctrl.SetConfig(next, s.OriginLatitude, s.OriginLongitude, s.RangeKm); err != nil {
		return fmt.Errorf("switch provider: %w", err)
	}
	m.status = m.ctrl.Status()
	return nil
}

// refreshTargets dead-reckons every target in the current snapshot to m.now.
// Targets from a superseded session are dropped.
func (m *model) refreshTargets() {
	if m.snapshot.Session != m.status.Session {
		m.targets = nil
		m.selected = 0
		return
	}

	origin := m.snapshot.Settings.Origin()
	views := make([]targetView, 0, len(m.snapshot.Targets))
	for _, t := range m.snapshot.Targets {
		pred := tracking.PredictPosition(tracking.Kinematics{
			X:         t.X,
			Y:         t.Y,
			VX:        t.VX,
			VY:        t.VY,
			Latitude:  t.Geodetic.Latitude,
			Longitude: t.Geodetic.Longitude,
			Track:     t.Geodetic.Track,
			LastSeen:  t.LastSeen,
		}, m.now)

		views = append(views, targetView{
			target:     t,
			predicted:  pred,
			bearing:    bearingOf(origin, pred),
			rangeNM:    rangeNMOf(origin, pred),
			age:        m.now.Sub(t.LastSeen).Seconds(),
			predicting: pred.Elapsed > 0,
		})
	}

	// Nearest first
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].rangeNM < views[j].rangeNM
	})

	m.targets = views
	if m.selected >= len(m.targets) {
		m.selected = max(0, len(m.targets)-1)
	}
}
