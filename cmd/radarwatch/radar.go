package main

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/unklstewy/adsb-scanner/internal/scanner"
	"github.com/unklstewy/adsb-scanner/pkg/coordinates"
	"github.com/unklstewy/adsb-scanner/pkg/tracking"
)

// Character aspect ratio correction: terminal characters are ~2:1 (height:width)
const aspectRatio = 0.5

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	severityStyles = map[scanner.Severity]lipgloss.Style{
		scanner.SeverityInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		scanner.SeverityWarn:    lipgloss.NewStyle().Foreground(lipgloss.Color("226")),
		scanner.SeverityError:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		scanner.SeveritySuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
	}

	stateStyles = map[scanner.State]lipgloss.Style{
		scanner.StateIdle:     lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Bold(true),
		scanner.StateScanning: lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true),
		scanner.StateFault:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		scanner.StateRecovery: lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true),
	}
)

func bearingOf(origin coordinates.Geographic, p tracking.PredictedPosition) float64 {
	return coordinates.Bearing(origin, p.Position)
}

func rangeNMOf(origin coordinates.Geographic, p tracking.PredictedPosition) float64 {
	return coordinates.DistanceNauticalMiles(origin, p.Position)
}

// radarSize returns the radar grid dimensions for the current terminal.
func (m model) radarSize() (int, int) {
	radarWidth := m.width - 50 // Reserve space for info panel
	if radarWidth < 60 {
		radarWidth = 60
	}
	radarHeight := m.height - 14 // Reserve space for header, list and events
	if radarHeight < 20 {
		radarHeight = 20
	}
	return radarWidth, radarHeight
}

// radarScale returns grid cells per meter and the screen radius in rows.
func (m model) radarScale(radarWidth, radarHeight int) (float64, float64) {
	maxScreenRadiusY := float64(radarHeight/2 - 2)
	maxScreenRadiusX := float64(radarWidth/2-3) * aspectRatio
	maxScreenRadius := math.Min(maxScreenRadiusX, maxScreenRadiusY)
	rangeM := m.status.Settings.RangeKm * 1000
	if rangeM <= 0 {
		return 0, maxScreenRadius
	}
	return maxScreenRadius / rangeM, maxScreenRadius
}

// radarToScreen converts local-plane meters to a grid cell.
// Returns -1,-1 if the point is outside the radar range or the grid.
func (m model) radarToScreen(x, y float64) (int, int) {
	radarWidth, radarHeight := m.radarSize()
	scale, _ := m.radarScale(radarWidth, radarHeight)
	if scale == 0 || math.Hypot(x, y) > m.status.Settings.RangeKm*1000 {
		return -1, -1
	}

	centerX := (radarWidth - 2) / 2
	centerY := radarHeight / 2

	// +Y is north, which is up on screen
	sx := centerX + int(math.Round(x*scale/aspectRatio))
	sy := centerY - int(math.Round(y*scale))

	if sx < 0 || sx >= radarWidth-2 || sy < 0 || sy >= radarHeight {
		return -1, -1
	}
	return sx, sy
}

func (m model) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("ADS-B SCANNER RADAR"))
	s.WriteString("  ")
	s.WriteString(m.renderStatusLine())
	s.WriteString("\n\n")

	if m.err != nil {
		s.WriteString(errStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		s.WriteString("\n\n")
		s.WriteString(helpStyle.Render("Press any key to continue..."))
		return s.String()
	}

	radarLines := strings.Split(m.renderRadar(), "\n")
	infoLines := strings.Split(m.renderInfo(), "\n")
	radarWidth, _ := m.radarSize()

	maxLines := max(len(radarLines), len(infoLines))
	for i := 0; i < maxLines; i++ {
		if i < len(radarLines) {
			s.WriteString(radarLines[i])
		} else {
			s.WriteString(strings.Repeat(" ", radarWidth))
		}
		s.WriteString("  ")
		if i < len(infoLines) {
			s.WriteString(infoLines[i])
		}
		s.WriteString("\n")
	}

	s.WriteString(m.renderTargetList())
	s.WriteString("\n")
	s.WriteString(m.renderEvents())
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("S: Start/Stop  +/-: Range  P: Next provider  ↑/↓: Select  Q: Quit"))
	s.WriteString("\n")

	return s.String()
}

func (m model) renderStatusLine() string {
	style, ok := stateStyles[m.status.State]
	if !ok {
		style = lipgloss.NewStyle()
	}
	line := fmt.Sprintf("via %s  session %d", m.status.Provider, m.status.Session)
	if m.status.Failures > 0 {
		line += fmt.Sprintf("  failures %d", m.status.Failures)
	}
	return style.Render(m.status.State.String()) + "  " + line
}

// renderRadar draws range rings, the origin and every dead-reckoned target.
func (m model) renderRadar() string {
	var radar strings.Builder

	radarWidth, radarHeight := m.radarSize()
	scale, maxScreenRadius := m.radarScale(radarWidth, radarHeight)

	radar.WriteString(borderStyle.Render("┌" + strings.Repeat("─", radarWidth-2) + "┐"))
	radar.WriteString("\n")

	grid := make([][]rune, radarHeight)
	for i := range grid {
		grid[i] = make([]rune, radarWidth-2)
		for j := range grid[i] {
			grid[i][j] = ' '
		}
	}

	centerX := (radarWidth - 2) / 2
	centerY := radarHeight / 2

	// Rings at quarter, half, three quarters and full range
	rangeKm := m.status.Settings.RangeKm
	for _, frac := range []float64{0.25, 0.5, 0.75, 1.0} {
		screenRadius := int(frac * maxScreenRadius)
		drawCircle(grid, centerX, centerY, screenRadius, aspectRatio, '─')

		label := fmt.Sprintf("%.0f", coordinates.KmToNauticalMiles(rangeKm*frac))
		labelY := centerY - screenRadius
		labelX := centerX - len(label)/2
		putString(grid, labelX, labelY, label)
	}

	// Cardinal directions
	if y := centerY - int(maxScreenRadius) - 1; y >= 0 {
		grid[y][centerX] = 'N'
	}
	if y := centerY + int(maxScreenRadius) + 1; y < radarHeight {
		grid[y][centerX] = 'S'
	}
	if x := centerX + int(maxScreenRadius/aspectRatio) + 1; x < radarWidth-2 {
		grid[centerY][x] = 'E'
	}
	if x := centerX - int(maxScreenRadius/aspectRatio) - 1; x >= 0 {
		grid[centerY][x] = 'W'
	}

	grid[centerY][centerX] = '+'

	if scale > 0 {
		for i, tv := range m.targets {
			x, y := m.radarToScreen(tv.predicted.X, tv.predicted.Y)
			if x < 0 {
				continue
			}
			symbol := '○'
			if i == m.selected {
				symbol = '●'
			}
			if tv.target.Speed() > 25 {
				drawVelocityVector(grid, x, y, tv.target.Geodetic.Track, tv.target.Speed())
			}
			grid[y][x] = symbol
			if i == m.selected {
				putString(grid, x+2, y, targetLabel(tv))
			}
		}
	}

	for y := 0; y < radarHeight; y++ {
		radar.WriteString(borderStyle.Render("│"))
		for x := 0; x < radarWidth-2; x++ {
			char := grid[y][x]
			switch char {
			case '+':
				radar.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true).Render(string(char)))
			case '●':
				radar.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Render(string(char)))
			case '○':
				radar.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("75")).Render(string(char)))
			case '─':
				radar.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("238")).Render(string(char)))
			case '·':
				radar.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Render(string(char)))
			default:
				radar.WriteRune(char)
			}
		}
		radar.WriteString(borderStyle.Render("│"))
		radar.WriteString("\n")
	}

	radar.WriteString(borderStyle.Render("└" + strings.Repeat("─", radarWidth-2) + "┘"))

	return radar.String()
}

func targetLabel(tv targetView) string {
	if tv.target.Callsign != "" {
		return tv.target.Callsign
	}
	return strings.ToUpper(tv.target.ID)
}

// drawCircle draws a circle on the grid using Bresenham's circle algorithm.
// X offsets are stretched by 1/aspectRatio so circles look round.
func drawCircle(grid [][]rune, cx, cy, radius int, aspectRatio float64, char rune) {
	x := radius
	y := 0
	err := 0

	for x >= y {
		xScaled := int(float64(x) / aspectRatio)
		yScaled := int(float64(y) / aspectRatio)

		setPixel(grid, cx+xScaled, cy+y, char)
		setPixel(grid, cx+yScaled, cy+x, char)
		setPixel(grid, cx-yScaled, cy+x, char)
		setPixel(grid, cx-xScaled, cy+y, char)
		setPixel(grid, cx-xScaled, cy-y, char)
		setPixel(grid, cx-yScaled, cy-x, char)
		setPixel(grid, cx+yScaled, cy-x, char)
		setPixel(grid, cx+xScaled, cy-y, char)

		y++
		err += 1 + 2*y
		if 2*(err-x)+1 > 0 {
			x--
			err += 1 - 2*x
		}
	}
}

// setPixel sets a cell if it is in bounds and empty or part of a ring.
func setPixel(grid [][]rune, x, y int, char rune) {
	if y >= 0 && y < len(grid) && x >= 0 && x < len(grid[0]) {
		if grid[y][x] == ' ' || grid[y][x] == '─' {
			grid[y][x] = char
		}
	}
}

func putString(grid [][]rune, x, y int, s string) {
	for i, ch := range []rune(s) {
		setPixel(grid, x+i, y, ch)
	}
}

// drawVelocityVector draws a short trail of dots ahead of a target.
func drawVelocityVector(grid [][]rune, x, y int, trackDeg, speedMps float64) {
	length := int(speedMps/75.0) + 1
	if length > 4 {
		length = 4
	}

	trackRad := trackDeg * coordinates.DegreesToRadians
	for i := 1; i <= length; i++ {
		dx := int(math.Round(float64(i) * math.Sin(trackRad) / aspectRatio))
		dy := -int(math.Round(float64(i) * math.Cos(trackRad)))
		setPixel(grid, x+dx, y+dy, '·')
	}
}

// renderInfo renders the side panel.
func (m model) renderInfo() string {
	var info strings.Builder

	s := m.status.Settings
	info.WriteString(headerStyle.Render("SCOPE"))
	info.WriteString("\n\n")
	info.WriteString(fmt.Sprintf("Origin:   %.4f°, %.4f°\n", s.OriginLatitude, s.OriginLongitude))
	info.WriteString(fmt.Sprintf("Range:    %.0f km (%.0f NM)\n", s.RangeKm, coordinates.KmToNauticalMiles(s.RangeKm)))
	info.WriteString(fmt.Sprintf("Provider: %s\n", m.status.Provider))
	info.WriteString(fmt.Sprintf("Sources:  %s\n", strings.Join(m.status.Providers, ", ")))
	info.WriteString("\n")

	info.WriteString(headerStyle.Render("LAST SNAPSHOT"))
	info.WriteString("\n\n")
	if m.snapshot.CreatedAt.IsZero() {
		info.WriteString(helpStyle.Render("Waiting for data..."))
		info.WriteString("\n")
	} else {
		info.WriteString(fmt.Sprintf("Targets:  %d\n", len(m.snapshot.Targets)))
		info.WriteString(fmt.Sprintf("Latency:  %v\n", m.snapshot.Latency.Round(time.Millisecond)))
		info.WriteString(fmt.Sprintf("Age:      %.0fs\n", m.now.Sub(m.snapshot.CreatedAt).Seconds()))
	}
	info.WriteString("\n")

	info.WriteString(helpStyle.Render("○ Target  ● Selected  · Heading"))
	return info.String()
}

func (m model) renderTargetList() string {
	var list strings.Builder

	list.WriteString(headerStyle.Render("Targets:"))
	list.WriteString(fmt.Sprintf(" (%d)", len(m.targets)))
	list.WriteString("\n")

	if len(m.targets) == 0 {
		list.WriteString(helpStyle.Render("  No targets in range"))
		list.WriteString("\n")
		return list.String()
	}

	// Show up to 5 targets
	start := 0
	if m.selected > 2 && len(m.targets) > 5 {
		start = m.selected - 2
	}
	end := min(start+5, len(m.targets))

	for i := start; i < end; i++ {
		tv := m.targets[i]

		prefix := "  "
		if i == m.selected {
			prefix = "→ "
		}

		ageStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
		if tv.age > 30 {
			ageStyle = ageStyle.Foreground(lipgloss.Color("226"))
		}
		if tv.age > 60 {
			ageStyle = ageStyle.Foreground(lipgloss.Color("196"))
		}

		callsign := tv.target.Callsign
		if callsign == "" {
			callsign = "--------"
		}
		dr := ""
		if tv.predicting {
			dr = fmt.Sprintf(" [DR %.0f%%]", tv.predicted.Confidence*100)
		}

		line := fmt.Sprintf("%s%-8s %-6s %-4s %6.0f m %4.0f m/s  Brg:%3.0f° %5.1f nm  %-10s",
			prefix,
			callsign,
			strings.ToUpper(tv.target.ID),
			tv.target.TypeCode,
			tv.target.Altitude,
			tv.target.Speed(),
			tv.bearing,
			tv.rangeNM,
			tv.target.Classification,
		)
		if i == m.selected {
			line = lipgloss.NewStyle().Background(lipgloss.Color("237")).Render(line)
		}

		list.WriteString(line)
		list.WriteString(ageStyle.Render(fmt.Sprintf(" %3.0fs%s", tv.age, dr)))
		list.WriteString("\n")
	}

	return list.String()
}

func (m model) renderEvents() string {
	var ev strings.Builder
	ev.WriteString(headerStyle.Render("Events:"))
	ev.WriteString("\n")
	for _, e := range m.log {
		style, ok := severityStyles[e.Severity]
		if !ok {
			style = lipgloss.NewStyle()
		}
		ev.WriteString(helpStyle.Render(e.Timestamp.Format("15:04:05")))
		ev.WriteString(" ")
		ev.WriteString(style.Render(e.String()))
		ev.WriteString("\n")
	}
	return ev.String()
}
