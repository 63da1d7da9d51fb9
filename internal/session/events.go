package session

import (
	"time"

	"github.com/greenshelf/strainscan/internal/models"
)

// EventType names a session notification
type EventType string

const (
	EventStability        EventType = "stability"
	EventScanAppended     EventType = "scan_appended"
	EventScanFailed       EventType = "scan_failed"
	EventDeviceReacquired EventType = "device_reacquired"
	EventSessionEnded     EventType = "session_ended"
)

// Selection hints what the consumer owes the operator once a session ends
const (
	SelectionNone     = "none"
	SelectionSingle   = "single"
	SelectionMultiple = "multiple"
)

// Event is one notification for the session consumer
type Event struct {
	Type      EventType                `json:"type"`
	SessionID string                   `json:"session_id"`
	At        time.Time                `json:"at"`
	Stability *models.StabilityMetrics `json:"stability,omitempty"`
	Record    *models.ProductRecord    `json:"record,omitempty"`
	Duplicate bool                     `json:"duplicate,omitempty"`
	Error     string                   `json:"error,omitempty"`
	Session   *models.ScanSession      `json:"session,omitempty"`
	Selection string                   `json:"selection,omitempty"`
}

func selectionFor(s *models.ScanSession) string {
	switch len(s.Scans) {
	case 0:
		return SelectionNone
	case 1:
		return SelectionSingle
	}
	return SelectionMultiple
}

// emit delivers ev without blocking; slow consumers lose events.
func (m *Manager) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case m.events <- ev:
	default:
		if n := m.dropped.Add(1); n == 1 || n%100 == 0 {
			m.logger.Warn("Session event dropped, consumer is slow", "type", ev.Type, "dropped_total", n)
		}
	}
}
