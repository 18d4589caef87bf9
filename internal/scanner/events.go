package scanner

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/unklstewy/adsb-scanner/internal/normalize"
)

// Severity classifies a diagnostic event.
type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarn    Severity = "WARN"
	SeverityError   Severity = "ERROR"
	SeveritySuccess Severity = "SUCCESS"
)

// Level maps a severity onto a slog level. SUCCESS logs at info.
func (s Severity) Level() slog.Level {
	switch s {
	case SeverityWarn:
		return slog.LevelWarn
	case SeverityError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogEvent is one entry in the diagnostic stream.
type LogEvent struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Detail    string    `json:"detail,omitempty"`
	Session   uint64    `json:"session"`
	Provider  string    `json:"provider,omitempty"`
}

func (e LogEvent) String() string {
	if e.Detail == "" {
		return fmt.Sprintf("[%s] %s", e.Severity, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Severity, e.Message, e.Detail)
}

// Snapshot is one immutable batch of targets. Consumers must not modify
// Targets.
type Snapshot struct {
	ID        uuid.UUID          `json:"id"`
	Session   uint64             `json:"session"`
	State     State              `json:"state"`
	Provider  string             `json:"provider"`
	Settings  Settings           `json:"settings"`
	Targets   []normalize.Target `json:"targets"`
	Latency   time.Duration      `json:"latency_ns"`
	CreatedAt time.Time          `json:"created_at"`
}
