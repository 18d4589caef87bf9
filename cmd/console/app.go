package main

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/unklstewy/adsb-scanner/internal/normalize"
	"github.com/unklstewy/adsb-scanner/internal/scanner"
	"github.com/unklstewy/adsb-scanner/pkg/coordinates"
)

// Range limits for +/- adjustment
const (
	minRangeKm  = 5.0
	maxRangeKm  = 1000.0
	rangeFactor = 1.2
)

// scannerControl is the controller as the console drives it.
type scannerControl interface {
	Start()
	Stop()
	SetConfig(provider string, lat, lon, rangeKm float64) error
	Status() scanner.Status
	Snapshots() <-chan scanner.Snapshot
	Events() <-chan scanner.LogEvent
}

var tableHeaders = []string{"ICAO", "CALLSIGN", "TYPE", "CLASS", "RCS m²", "ALT m", "SPD m/s", "TRK", "BRG", "RNG km", "AGE"}

// App represents the main application
type App struct {
	ctrl scannerControl

	// UI components
	tviewApp   *tview.Application
	table      *tview.Table
	status     *tview.TextView
	controls   *tview.TextView
	logs       *LogManager
	rootLayout *tview.Flex

	// State
	mu       sync.RWMutex
	snapshot scanner.Snapshot
	stopChan chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewApp creates a new application instance
func NewApp(ctrl scannerControl, maxLogLines int) *App {
	app := &App{
		ctrl:     ctrl,
		logs:     NewLogManager(maxLogLines),
		stopChan: make(chan struct{}),
		now:      time.Now,
	}

	app.setupUI()
	return app
}

// setupUI initializes the user interface
func (a *App) setupUI() {
	a.tviewApp = tview.NewApplication()

	a.table = tview.NewTable().
		SetFixed(1, 0).
		SetSelectable(true, false)
	a.table.SetBorder(true).SetTitle(" Targets ")
	fillTargetTable(a.table, scanner.Settings{}, nil, a.now())

	a.status = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	a.status.SetBorder(true).SetTitle(" Scanner ")
	a.updateStatus()

	a.controls = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	a.controls.SetBorder(true).SetTitle(" Controls ")
	a.controls.SetText(`[yellow]SCANNER[-]
  [white]s[-]         Start/Stop
  [white]p[-]         Next provider
  [white]+/-[-]       Range

[yellow]EVENTS[-]
  [white]a[-]         Auto-scroll
  [white]c[-]         Clear

[yellow]CONTROL[-]
  [white]q[-]         Quit`)

	// Right sidebar with status and controls
	sidebar := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.status, 0, 3, false).
		AddItem(a.controls, 0, 2, false)

	top := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(a.table, 0, 7, true).
		AddItem(sidebar, 0, 3, false)

	a.rootLayout = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(top, 0, 7, true).
		AddItem(a.logs.GetView(), 0, 3, false)

	a.tviewApp.SetRoot(a.rootLayout, true)
	a.tviewApp.SetInputCapture(a.handleKeyboard)

	a.logs.Info("Console started")
}

// handleKeyboard handles keyboard input. It runs on the UI goroutine.
func (a *App) handleKeyboard(event *tcell.EventKey) *tcell.EventKey {
	key := event.Key()
	r := event.Rune()

	switch {
	case key == tcell.KeyEscape || r == 'q':
		a.Stop()
		return nil
	case r == 's':
		a.toggleScanner()
	case r == 'p':
		a.nextProvider()
	case r == '+' || r == '=':
		a.setRange(a.ctrl.Status().Settings.RangeKm * rangeFactor)
	case r == '-':
		a.setRange(a.ctrl.Status().Settings.RangeKm / rangeFactor)
	case r == 'a':
		enabled := !a.logs.AutoScroll()
		a.logs.SetAutoScroll(enabled)
		a.logs.Info("Auto-scroll: %v", enabled)
	case r == 'c':
		a.logs.Clear()
	default:
		// Arrow keys and paging go to the table
		return event
	}

	a.updateStatus()
	return nil
}

func (a *App) toggleScanner() {
	if a.ctrl.Status().State == scanner.StateIdle {
		a.ctrl.Start()
		a.logs.Info("Scanner started")
		return
	}
	a.ctrl.Stop()
	a.logs.Info("Scanner stopped")
}

func (a *App) nextProvider() {
	st := a.ctrl.Status()
	if len(st.Providers) < 2 {
		a.logs.Warn("Only one provider configured")
		return
	}
	next := st.Providers[0]
	for i, name := range st.Providers {
		if name == st.Provider {
			next = st.Providers[(i+1)%len(st.Providers)]
			break
		}
	}
	s := st.Settings
	if err := a.ctrl.SetConfig(next, s.OriginLatitude, s.OriginLongitude, s.RangeKm); err != nil {
		a.logs.Error("Switch to %s failed: %v", next, err)
		return
	}
	a.logs.Info("Provider: %s", next)
}

func (a *App) setRange(rangeKm float64) {
	rangeKm = math.Max(minRangeKm, math.Min(maxRangeKm, rangeKm))
	s := a.ctrl.Status().Settings
	if rangeKm == s.RangeKm {
		return
	}
	if err := a.ctrl.SetConfig("", s.OriginLatitude, s.OriginLongitude, rangeKm); err != nil {
		a.logs.Error("Range change failed: %v", err)
		return
	}
	a.logs.Info("Range: %.0f km", rangeKm)
}

// applySnapshot replaces the table contents. It runs on the UI goroutine.
func (a *App) applySnapshot(snap scanner.Snapshot) {
	a.mu.Lock()
	a.snapshot = snap
	a.mu.Unlock()

	fillTargetTable(a.table, snap.Settings, snap.Targets, a.now())
	a.updateStatus()
}

// updateStatus updates the status panel content
func (a *App) updateStatus() {
	a.mu.RLock()
	snap := a.snapshot
	a.mu.RUnlock()

	a.status.SetText(statusText(a.ctrl.Status(), snap, a.now()))
}

func statusText(st scanner.Status, snap scanner.Snapshot, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "[yellow]STATE:[-]    [%s]%s[-]\n", stateColor(st.State), st.State)
	fmt.Fprintf(&b, "[gray]Provider:[-] [white]%s[-]\n", st.Provider)
	fmt.Fprintf(&b, "[gray]Sources:[-]  [white]%s[-]\n", strings.Join(st.Providers, ", "))
	fmt.Fprintf(&b, "[gray]Session:[-]  [white]%d[-]\n", st.Session)
	if st.Failures > 0 {
		fmt.Fprintf(&b, "[gray]Failures:[-] [red]%d[-]\n", st.Failures)
	}
	b.WriteString("\n")

	s := st.Settings
	fmt.Fprintf(&b, "[yellow]ORIGIN:[-]   [white]%.4f°, %.4f°[-]\n", s.OriginLatitude, s.OriginLongitude)
	fmt.Fprintf(&b, "[gray]Range:[-]    [white]%.0f km[-] [gray](%.0f NM)[-]\n", s.RangeKm, coordinates.KmToNauticalMiles(s.RangeKm))
	b.WriteString("\n")

	if snap.CreatedAt.IsZero() {
		b.WriteString("[gray]No snapshot yet[-]\n")
		return b.String()
	}
	stale := ""
	if snap.Session != st.Session {
		stale = " [red](superseded)[-]"
	}
	fmt.Fprintf(&b, "[yellow]SNAPSHOT:[-] [white]%d targets[-]%s\n", len(snap.Targets), stale)
	fmt.Fprintf(&b, "[gray]Latency:[-]  [white]%v[-]\n", snap.Latency.Round(time.Millisecond))
	fmt.Fprintf(&b, "[gray]Age:[-]      [white]%.0fs[-]\n", now.Sub(snap.CreatedAt).Seconds())
	return b.String()
}

func stateColor(s scanner.State) string {
	switch s {
	case scanner.StateScanning:
		return "green"
	case scanner.StateFault:
		return "red"
	case scanner.StateRecovery:
		return "orange"
	default:
		return "gray"
	}
}

// fillTargetTable renders targets nearest first below a fixed header row.
func fillTargetTable(table *tview.Table, settings scanner.Settings, targets []normalize.Target, now time.Time) {
	table.Clear()
	for col, h := range tableHeaders {
		table.SetCell(0, col, tview.NewTableCell(h).
			SetTextColor(tcell.ColorYellow).
			SetSelectable(false))
	}

	sorted := make([]normalize.Target, len(targets))
	copy(sorted, targets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Range() < sorted[j].Range()
	})

	origin := settings.Origin()
	for i, t := range sorted {
		row := i + 1
		pos := coordinates.Geographic{Latitude: t.Geodetic.Latitude, Longitude: t.Geodetic.Longitude}
		age := now.Sub(t.LastSeen).Seconds()

		ageColor := tcell.ColorGreen
		if age > 30 {
			ageColor = tcell.ColorYellow
		}
		if age > 60 {
			ageColor = tcell.ColorRed
		}

		cells := []*tview.TableCell{
			tview.NewTableCell(strings.ToUpper(t.ID)),
			tview.NewTableCell(t.Callsign).SetTextColor(tcell.ColorAqua),
			tview.NewTableCell(t.TypeCode),
			tview.NewTableCell(t.Classification),
			tview.NewTableCell(fmt.Sprintf("%.1f", t.RadarCrossSection)).SetAlign(tview.AlignRight),
			tview.NewTableCell(fmt.Sprintf("%.0f", t.Altitude)).SetAlign(tview.AlignRight),
			tview.NewTableCell(fmt.Sprintf("%.0f", t.Speed())).SetAlign(tview.AlignRight),
			tview.NewTableCell(fmt.Sprintf("%03.0f°", t.Geodetic.Track)).SetAlign(tview.AlignRight),
			tview.NewTableCell(fmt.Sprintf("%03.0f°", coordinates.Bearing(origin, pos))).SetAlign(tview.AlignRight),
			tview.NewTableCell(fmt.Sprintf("%.1f", t.Range()/1000)).SetAlign(tview.AlignRight),
			tview.NewTableCell(fmt.Sprintf("%.0fs", age)).SetTextColor(ageColor).SetAlign(tview.AlignRight),
		}
		for col, c := range cells {
			table.SetCell(row, col, c)
		}
	}
}

// Run starts the application
func (a *App) Run() error {
	go a.consume()
	return a.tviewApp.Run()
}

// consume forwards controller output to the UI until the channels close or
// the application stops.
func (a *App) consume() {
	snapshots := a.ctrl.Snapshots()
	events := a.ctrl.Events()
	refresh := time.NewTicker(time.Second)
	defer refresh.Stop()

	for snapshots != nil || events != nil {
		select {
		case <-a.stopChan:
			return
		case snap, ok := <-snapshots:
			if !ok {
				snapshots = nil
				continue
			}
			a.tviewApp.QueueUpdateDraw(func() {
				a.applySnapshot(snap)
			})
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			a.logs.AddEvent(ev)
			a.tviewApp.Draw()
		case <-refresh.C:
			a.tviewApp.QueueUpdateDraw(a.updateStatus)
		}
	}

	a.Stop()
}

// Stop stops the application
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopChan)
		a.tviewApp.Stop()
	})
}
