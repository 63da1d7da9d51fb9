package enrichment

import (
	"context"
	"errors"

	"github.com/greenshelf/strainscan/internal/models"
)

// Stream event types
const (
	StreamProgress = "progress"
	StreamComplete = "complete"
	StreamError    = "error"
)

// StreamEvent is one message of a streamed enrichment. A stream always ends
// with exactly one complete or error event.
type StreamEvent struct {
	Type      string                `json:"type"`
	Phase     string                `json:"phase,omitempty"`
	Message   string                `json:"message,omitempty"`
	Record    *models.ProductRecord `json:"record,omitempty"`
	Duplicate bool                  `json:"duplicate,omitempty"`
	Fallback  *models.ProductRecord `json:"fallback,omitempty"`
}

// Stream runs Enrich in the background and relays its progress. The channel
// is closed after the terminal event or when ctx is cancelled.
func (s *Service) Stream(ctx context.Context, req Request) <-chan StreamEvent {
	events := make(chan StreamEvent, 8)

	send := func(ev StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(events)

		req.Progress = func(ev Event) {
			send(StreamEvent{Type: StreamProgress, Phase: ev.Phase, Message: ev.Message})
		}

		result, err := s.Enrich(ctx, req)
		if err != nil {
			final := StreamEvent{Type: StreamError, Message: err.Error()}
			var pipelineErr *PipelineError
			if errors.As(err, &pipelineErr) {
				final.Fallback = pipelineErr.Fallback
			}
			send(final)
			return
		}
		send(StreamEvent{Type: StreamComplete, Record: result.Record, Duplicate: result.Duplicate})
	}()

	return events
}
