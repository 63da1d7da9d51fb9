// Package session runs continuous capture: it owns the capture device, gates
// submissions on frame stability, and accumulates identified records into a
// scan session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/greenshelf/strainscan/internal/capture"
	"github.com/greenshelf/strainscan/internal/enrichment"
	"github.com/greenshelf/strainscan/internal/models"
	"github.com/greenshelf/strainscan/internal/providers"
	"github.com/greenshelf/strainscan/internal/stability"
)

var (
	ErrSessionActive = errors.New("a session is already active")
	ErrNotActive     = errors.New("no active session")
	ErrDevice        = errors.New("capture device error")
)

// State is the manager lifecycle state
type State string

const (
	StateIdle   State = "idle"
	StateActive State = "active"
	StateEnded  State = "ended"
)

// End reasons
const (
	ReasonOperator          = "operator"
	ReasonDeviceUnavailable = "device_unavailable"
)

// Enricher is the pipeline invoked for each submission
type Enricher interface {
	Enrich(ctx context.Context, req enrichment.Request) (*enrichment.Result, error)
}

// Config tunes the capture loop
type Config struct {
	StabilityInterval    time.Duration
	SubmitInterval       time.Duration
	RetryDelay           time.Duration
	StallTimeout         time.Duration
	MaxReacquireAttempts int
	BurstSize            int
	BurstGap             time.Duration
	MaxImageDim          int
	EventBuffer          int
	Stability            stability.Config
}

// DefaultConfig returns the stock loop timings
func DefaultConfig() Config {
	return Config{
		StabilityInterval:    500 * time.Millisecond,
		SubmitInterval:       3 * time.Second,
		RetryDelay:           1500 * time.Millisecond,
		StallTimeout:         5 * time.Second,
		MaxReacquireAttempts: 5,
		BurstSize:            3,
		BurstGap:             80 * time.Millisecond,
		MaxImageDim:          1024,
		EventBuffer:          64,
		Stability:            stability.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.StabilityInterval <= 0 {
		c.StabilityInterval = def.StabilityInterval
	}
	if c.SubmitInterval <= 0 {
		c.SubmitInterval = def.SubmitInterval
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = def.StallTimeout
	}
	if c.MaxReacquireAttempts <= 0 {
		c.MaxReacquireAttempts = def.MaxReacquireAttempts
	}
	if c.BurstSize <= 0 {
		c.BurstSize = def.BurstSize
	}
	if c.BurstGap < 0 {
		c.BurstGap = 0
	}
	if c.MaxImageDim <= 0 {
		c.MaxImageDim = def.MaxImageDim
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
	return c
}

// Manager drives one operator's continuous capture. At most one session is
// active at a time and at most one enrichment call is in flight per session.
type Manager struct {
	device   capture.Device
	enricher Enricher
	cfg      Config
	logger   *slog.Logger
	assessor *stability.Assessor

	// lifecycle serialises Start and End
	lifecycle sync.Mutex

	mu      sync.Mutex
	state   State
	session *models.ScanSession
	cancel  context.CancelFunc
	done    chan struct{}
	trigger chan struct{}

	events  chan Event
	dropped atomic.Int64
}

// NewManager returns an idle manager that owns device
func NewManager(device capture.Device, enricher Enricher, cfg Config, logger *slog.Logger) *Manager {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		device:   device,
		enricher: enricher,
		cfg:      cfg,
		logger:   logger,
		assessor: stability.New(cfg.Stability),
		state:    StateIdle,
		events:   make(chan Event, cfg.EventBuffer),
	}
}

// Events returns the notification stream shared by every session of this manager
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State returns the current lifecycle state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a snapshot of the current (or last) session, or nil
func (m *Manager) Session() *models.ScanSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Clone()
}

// Start acquires the device and begins a new session
func (m *Manager) Start(ctx context.Context, operatorID string) (*models.ScanSession, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	if m.state == StateActive {
		m.mu.Unlock()
		return nil, ErrSessionActive
	}
	prevDone := m.done
	m.mu.Unlock()

	// A loop that ended itself may still be releasing the device.
	if prevDone != nil {
		<-prevDone
	}

	stream, err := m.device.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDevice, err)
	}
	m.assessor.Reset()

	sess := &models.ScanSession{
		ID:         uuid.NewString(),
		OperatorID: operatorID,
		StartedAt:  time.Now().UTC(),
		State:      models.SessionActive,
		Scans:      []*models.ProductRecord{},
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	trigger := make(chan struct{}, 1)

	m.mu.Lock()
	m.state = StateActive
	m.session = sess
	m.cancel = cancel
	m.done = done
	m.trigger = trigger
	snapshot := sess.Clone()
	m.mu.Unlock()

	m.logger.Info("Scan session started", "session_id", sess.ID, "operator_id", operatorID)
	go m.run(loopCtx, sess.ID, operatorID, stream, trigger, done)
	return snapshot, nil
}

// End stops the active session, releases the device and freezes the scan
// list. An enrichment call still in flight is left to finish; its result is
// discarded.
func (m *Manager) End() (*models.ScanSession, error) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return nil, ErrNotActive
	}
	snapshot := m.markEndedLocked(ReasonOperator)
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done

	m.announceEnded(snapshot)
	return snapshot, nil
}

// Trigger forces a submission outside the gate timer. The stability gate is
// bypassed; the in-flight rule is not.
func (m *Manager) Trigger() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive {
		return ErrNotActive
	}
	select {
	case m.trigger <- struct{}{}:
	default:
	}
	return nil
}

func (m *Manager) markEndedLocked(reason string) *models.ScanSession {
	now := time.Now().UTC()
	m.state = StateEnded
	m.session.State = models.SessionEnded
	m.session.EndedAt = &now
	m.session.EndReason = reason
	return m.session.Clone()
}

func (m *Manager) announceEnded(snapshot *models.ScanSession) {
	m.logger.Info("Scan session ended",
		"session_id", snapshot.ID,
		"reason", snapshot.EndReason,
		"scans", len(snapshot.Scans))
	m.emit(Event{
		Type:      EventSessionEnded,
		SessionID: snapshot.ID,
		Session:   snapshot,
		Selection: selectionFor(snapshot),
	})
}

// appendScan adds rec to the session if it is still the active one
func (m *Manager) appendScan(sessionID string, rec *models.ProductRecord) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive || m.session == nil || m.session.ID != sessionID {
		return false
	}
	m.session.Scans = append(m.session.Scans, rec)
	at := time.Now().UTC()
	m.session.LastScanAt = &at
	return true
}

// endFromLoop ends the session after an unrecoverable device failure
func (m *Manager) endFromLoop(sessionID, reason string) {
	m.mu.Lock()
	if m.state != StateActive || m.session == nil || m.session.ID != sessionID {
		m.mu.Unlock()
		return
	}
	snapshot := m.markEndedLocked(reason)
	m.mu.Unlock()
	m.announceEnded(snapshot)
}

// Close ends any active session. Safe to call on an idle manager.
func (m *Manager) Close() error {
	if _, err := m.End(); err != nil && !errors.Is(err, ErrNotActive) {
		return err
	}
	return nil
}

func frameImages(frames []*models.CaptureFrame, maxDim int) ([]providers.Image, error) {
	images := make([]providers.Image, 0, len(frames))
	for _, f := range frames {
		data, err := capture.EncodeJPEG(f, maxDim)
		if err != nil {
			return nil, err
		}
		images = append(images, providers.Image{Data: data, MIMEType: "image/jpeg"})
	}
	return images, nil
}
