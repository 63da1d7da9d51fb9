package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/greenshelf/strainscan/internal/capture"
	"github.com/greenshelf/strainscan/internal/enrichment"
	"github.com/greenshelf/strainscan/internal/models"
)

type submission struct {
	result *enrichment.Result
	err    error
}

// run is the session event loop. It alone touches the stream, the in-flight
// flag and the stability state, so none of them need locking.
func (m *Manager) run(ctx context.Context, sessionID, operatorID string, stream capture.Stream, trigger <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		if err := m.device.Release(); err != nil {
			m.logger.Warn("Failed to release capture device", "session_id", sessionID, "err", err)
		}
	}()

	logger := m.logger.With("session_id", sessionID)

	stabilityTicker := time.NewTicker(m.cfg.StabilityInterval)
	defer stabilityTicker.Stop()
	submitTicker := time.NewTicker(m.cfg.SubmitInterval)
	defer submitTicker.Stop()

	// Buffered so a late result never blocks its goroutine after the loop exits.
	results := make(chan submission, 1)

	var (
		inFlight          bool
		last              models.StabilityMetrics
		retry             <-chan time.Time
		reacquireAttempts int
		lastGood          = time.Now()
	)

	submit := func(gated bool) {
		if inFlight {
			logger.Debug("Submission skipped, enrichment in flight")
			return
		}
		if stream == nil || (gated && !last.IsAcceptable) {
			return
		}
		frames := m.burst(ctx, stream)
		if len(frames) == 0 {
			return
		}
		images, err := frameImages(frames, m.cfg.MaxImageDim)
		if err != nil {
			logger.Warn("Unable to encode capture burst", "err", err)
			m.emit(Event{Type: EventScanFailed, SessionID: sessionID, Error: err.Error()})
			return
		}

		inFlight = true
		req := enrichment.Request{Images: images, Source: models.SourceImage, OperatorID: operatorID}
		// Ending the session must not cancel the call.
		callCtx := context.WithoutCancel(ctx)
		logger.Debug("Submitting capture burst", "frames", len(frames))
		go func() {
			res, err := m.enricher.Enrich(callCtx, req)
			results <- submission{result: res, err: err}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-stabilityTicker.C:
			now := time.Now()
			var (
				frame *models.CaptureFrame
				fresh bool
			)
			if stream != nil {
				f, err := stream.CurrentFrame()
				switch {
				case err == nil && !f.Empty():
					frame = f
					if f.CapturedAt.IsZero() || now.Sub(f.CapturedAt) <= m.cfg.StallTimeout {
						lastGood = now
						fresh = true
					}
				case errors.Is(err, capture.ErrNoFrame):
					lastGood = now
					fresh = true
				case err != nil:
					logger.Debug("Frame read failed", "err", err)
				}
			}

			playing := stream != nil && stream.Playing()
			if !playing || now.Sub(lastGood) > m.cfg.StallTimeout {
				if reacquireAttempts >= m.cfg.MaxReacquireAttempts {
					logger.Error("Capture device could not be reacquired, ending session", "attempts", reacquireAttempts)
					m.endFromLoop(sessionID, ReasonDeviceUnavailable)
					return
				}
				reacquireAttempts++
				// The attempt counter only resets once the new stream delivers.
				stream = m.reacquire(ctx, logger, reacquireAttempts)
				if stream != nil {
					lastGood = time.Now()
					last = models.StabilityMetrics{}
					m.emit(Event{Type: EventDeviceReacquired, SessionID: sessionID})
				}
				continue
			}

			if fresh {
				reacquireAttempts = 0
			}
			last = m.assessor.Assess(frame)
			metrics := last
			m.emit(Event{Type: EventStability, SessionID: sessionID, Stability: &metrics})

		case <-submitTicker.C:
			submit(true)

		case <-trigger:
			submit(false)

		case <-retry:
			retry = nil
			submit(false)

		case sub := <-results:
			inFlight = false
			var pipelineErr *enrichment.PipelineError
			switch {
			case sub.err == nil && sub.result != nil && sub.result.Record != nil:
				rec := sub.result.Record
				if !m.appendScan(sessionID, rec) {
					logger.Debug("Discarding result for inactive session", "name", rec.Name)
					continue
				}
				logger.Info("Scan appended", "name", rec.Name, "duplicate", sub.result.Duplicate)
				m.emit(Event{Type: EventScanAppended, SessionID: sessionID, Record: rec.Clone(), Duplicate: sub.result.Duplicate})
			case errors.As(sub.err, &pipelineErr):
				logger.Warn("Identification failed, retrying", "err", sub.err, "retry_in", m.cfg.RetryDelay)
				m.emit(Event{Type: EventScanFailed, SessionID: sessionID, Error: sub.err.Error()})
				retry = time.After(m.cfg.RetryDelay)
			default:
				msg := "empty enrichment result"
				if sub.err != nil {
					msg = sub.err.Error()
				}
				logger.Warn("Identification failed", "err", msg)
				m.emit(Event{Type: EventScanFailed, SessionID: sessionID, Error: msg})
			}
		}
	}
}

// reacquire releases and re-acquires the device once. It returns nil when the
// device is still unavailable.
func (m *Manager) reacquire(ctx context.Context, logger *slog.Logger, attempt int) capture.Stream {
	if err := m.device.Release(); err != nil {
		logger.Warn("Failed to release stalled device", "err", err)
	}
	stream, err := m.device.Acquire(ctx)
	if err != nil {
		logger.Warn("Device reacquire failed", "attempt", attempt, "err", err)
		return nil
	}
	m.assessor.Reset()
	logger.Info("Capture device reacquired", "attempt", attempt)
	return stream
}

// burst reads up to BurstSize frames with distinct sequence numbers
func (m *Manager) burst(ctx context.Context, stream capture.Stream) []*models.CaptureFrame {
	frames := make([]*models.CaptureFrame, 0, m.cfg.BurstSize)
	seen := make(map[uint64]struct{}, m.cfg.BurstSize)
	for i := 0; i < m.cfg.BurstSize; i++ {
		if i > 0 && m.cfg.BurstGap > 0 {
			select {
			case <-time.After(m.cfg.BurstGap):
			case <-ctx.Done():
				return frames
			}
		}
		f, err := stream.CurrentFrame()
		if err != nil || f.Empty() {
			continue
		}
		if _, dup := seen[f.Seq]; dup {
			continue
		}
		seen[f.Seq] = struct{}{}
		frames = append(frames, f)
	}
	return frames
}
