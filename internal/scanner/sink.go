package scanner

import "github.com/unklstewy/adsb-scanner/internal/metrics"

// DefaultEventBuffer is the event queue capacity when none is configured.
const DefaultEventBuffer = 256

// snapshotSink is a one-slot channel where a newer snapshot replaces an
// undelivered one. Callers serialize push, drain and close.
type snapshotSink struct {
	ch chan Snapshot
}

func newSnapshotSink() *snapshotSink {
	return &snapshotSink{ch: make(chan Snapshot, 1)}
}

func (s *snapshotSink) push(snap Snapshot) {
	for {
		select {
		case s.ch <- snap:
			return
		default:
		}
		select {
		case <-s.ch:
			metrics.RecordDropped("snapshots")
		default:
		}
	}
}

// drain discards an undelivered snapshot.
func (s *snapshotSink) drain() {
	select {
	case <-s.ch:
	default:
	}
}

// eventSink is a capped FIFO; when full the oldest event is discarded.
// Callers serialize push and close.
type eventSink struct {
	ch chan LogEvent
}

func newEventSink(capacity int) *eventSink {
	if capacity <= 0 {
		capacity = DefaultEventBuffer
	}
	return &eventSink{ch: make(chan LogEvent, capacity)}
}

func (s *eventSink) push(ev LogEvent) {
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case <-s.ch:
			metrics.RecordDropped("events")
		default:
		}
	}
}
