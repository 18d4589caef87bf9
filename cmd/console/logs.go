package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/rivo/tview"

	"github.com/unklstewy/adsb-scanner/internal/scanner"
)

// LogManager manages the log panel and message history
type LogManager struct {
	// textView is the tview component for displaying logs
	textView *tview.TextView

	// messages stores recent scanner events and local messages
	messages []scanner.LogEvent

	// maxMessages is the maximum number of messages to keep
	maxMessages int

	// mu protects concurrent access to messages
	mu sync.Mutex

	// autoScroll controls whether new messages auto-scroll
	autoScroll bool

	// now is replaceable in tests
	now func() time.Time
}

// NewLogManager creates a new log manager
func NewLogManager(maxMessages int) *LogManager {
	if maxMessages <= 0 {
		maxMessages = 500
	}

	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetMaxLines(maxMessages)

	textView.SetBorder(true).SetTitle(" Events ")

	return &LogManager{
		textView:    textView,
		messages:    make([]scanner.LogEvent, 0, maxMessages),
		maxMessages: maxMessages,
		autoScroll:  true,
		now:         time.Now,
	}
}

// GetView returns the tview component
func (lm *LogManager) GetView() tview.Primitive {
	return lm.textView
}

// AddEvent appends a scanner event.
func (lm *LogManager) AddEvent(ev scanner.LogEvent) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.messages = append(lm.messages, ev)

	// Trim old messages if we exceed max
	if len(lm.messages) > lm.maxMessages {
		lm.messages = lm.messages[len(lm.messages)-lm.maxMessages:]
	}

	lm.refresh()
}

// AddLog adds a local message with the specified severity
func (lm *LogManager) AddLog(sev scanner.Severity, format string, args ...interface{}) {
	lm.AddEvent(scanner.LogEvent{
		Timestamp: lm.now(),
		Severity:  sev,
		Message:   fmt.Sprintf(format, args...),
	})
}

// Info logs an info message
func (lm *LogManager) Info(format string, args ...interface{}) {
	lm.AddLog(scanner.SeverityInfo, format, args...)
}

// Warn logs a warning message
func (lm *LogManager) Warn(format string, args ...interface{}) {
	lm.AddLog(scanner.SeverityWarn, format, args...)
}

// Error logs an error message
func (lm *LogManager) Error(format string, args ...interface{}) {
	lm.AddLog(scanner.SeverityError, format, args...)
}

// Messages returns a copy of the retained messages, oldest first.
func (lm *LogManager) Messages() []scanner.LogEvent {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	out := make([]scanner.LogEvent, len(lm.messages))
	copy(out, lm.messages)
	return out
}

// refresh updates the text view with current messages
func (lm *LogManager) refresh() {
	lm.textView.Clear()

	for _, msg := range lm.messages {
		color := colorForSeverity(msg.Severity)
		levelStr := fmt.Sprintf("[%s]%-7s[-]", color, msg.Severity)
		timeStr := msg.Timestamp.Format("15:04:05")

		// Format: HH:MM:SS SEVERITY [provider] Message: detail
		line := fmt.Sprintf("[gray]%s[-] %s ", timeStr, levelStr)
		if msg.Provider != "" {
			line += fmt.Sprintf("[blue]%s[-] ", tview.Escape(msg.Provider))
		}
		line += tview.Escape(msg.Message)
		if msg.Detail != "" {
			line += "[gray]: " + tview.Escape(msg.Detail) + "[-]"
		}
		fmt.Fprintln(lm.textView, line)
	}

	// Auto-scroll to bottom if enabled
	if lm.autoScroll {
		lm.textView.ScrollToEnd()
	}
}

// colorForSeverity returns the tview color tag for a severity
func colorForSeverity(sev scanner.Severity) string {
	switch sev {
	case scanner.SeverityInfo:
		return "white"
	case scanner.SeverityWarn:
		return "yellow"
	case scanner.SeverityError:
		return "red"
	case scanner.SeveritySuccess:
		return "green"
	default:
		return "white"
	}
}

// Clear removes all log messages
func (lm *LogManager) Clear() {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.messages = make([]scanner.LogEvent, 0, lm.maxMessages)
	lm.textView.Clear()
}

// SetAutoScroll enables or disables automatic scrolling
func (lm *LogManager) SetAutoScroll(enabled bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.autoScroll = enabled
}

// AutoScroll reports whether new messages scroll the view.
func (lm *LogManager) AutoScroll() bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	return lm.autoScroll
}
