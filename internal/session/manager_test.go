package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/greenshelf/strainscan/internal/capture"
	"github.com/greenshelf/strainscan/internal/enrichment"
	"github.com/greenshelf/strainscan/internal/models"
)

func checkerFrame() *models.CaptureFrame {
	const w, h, square = 128, 96, 16
	pix := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := byte(20)
			if ((x/square)+(y/square))%2 == 0 {
				v = 235
			}
			i := (y*w + x) * 4
			pix[i], pix[i+1], pix[i+2], pix[i+3] = v, v, v, 255
		}
	}
	return &models.CaptureFrame{Width: w, Height: h, Pix: pix}
}

// flatFrame has no detail at all; a low level also makes it too dark.
func flatFrame(level byte) *models.CaptureFrame {
	const w, h = 128, 96
	pix := make([]byte, w*h*4)
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = level, level, level, 255
	}
	return &models.CaptureFrame{Width: w, Height: h, Pix: pix}
}

type fakeDevice struct {
	mu         sync.Mutex
	acquireErr error
	acquires   int
	releases   int
	playing    bool
	seq        uint64
	// silent makes Acquire succeed without the stream ever playing.
	silent bool
	// flat, when non-zero, is the gray level of every frame served.
	flat byte
}

func (d *fakeDevice) Acquire(ctx context.Context) (capture.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquires++
	if d.acquireErr != nil {
		return nil, d.acquireErr
	}
	d.playing = !d.silent
	return &fakeStream{dev: d}, nil
}

func (d *fakeDevice) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releases++
	d.playing = false
	return nil
}

func (d *fakeDevice) pause() {
	d.mu.Lock()
	d.playing = false
	d.mu.Unlock()
}

func (d *fakeDevice) goSilent() {
	d.mu.Lock()
	d.silent = true
	d.playing = false
	d.mu.Unlock()
}

func (d *fakeDevice) setFlat(flat byte) {
	d.mu.Lock()
	d.flat = flat
	d.mu.Unlock()
}

func (d *fakeDevice) failAcquire(err error) {
	d.mu.Lock()
	d.acquireErr = err
	d.mu.Unlock()
}

func (d *fakeDevice) counts() (acquires, releases int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquires, d.releases
}

type fakeStream struct {
	dev *fakeDevice
}

func (s *fakeStream) CurrentFrame() (*models.CaptureFrame, error) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if !s.dev.playing {
		return nil, capture.ErrDeviceUnavailable
	}
	s.dev.seq++
	f := checkerFrame()
	if s.dev.flat != 0 {
		f = flatFrame(s.dev.flat)
	}
	f.Seq = s.dev.seq
	f.CapturedAt = time.Now()
	return f, nil
}

func (s *fakeStream) Playing() bool {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	return s.dev.playing
}

// stubEnricher records concurrency and answers through fn
type stubEnricher struct {
	delay       time.Duration
	fn          func(call int32) (*enrichment.Result, error)
	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (e *stubEnricher) Enrich(ctx context.Context, req enrichment.Request) (*enrichment.Result, error) {
	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		cur := e.maxInFlight.Load()
		if n <= cur || e.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	call := e.calls.Add(1)
	if len(req.Images) == 0 {
		return nil, errors.New("no images submitted")
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.fn != nil {
		return e.fn(call)
	}
	return &enrichment.Result{Record: &models.ProductRecord{Name: "Blue Dream"}}, nil
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.StabilityInterval = 2 * time.Millisecond
	cfg.SubmitInterval = 5 * time.Millisecond
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.StallTimeout = time.Second
	cfg.BurstSize = 2
	cfg.BurstGap = 0
	cfg.MaxImageDim = 64
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestLifecycle(t *testing.T) {
	dev := &fakeDevice{}
	cfg := fastConfig()
	cfg.SubmitInterval = time.Hour
	m := NewManager(dev, &stubEnricher{}, cfg, nil)

	if m.State() != StateIdle {
		t.Fatalf("initial state = %s", m.State())
	}
	if _, err := m.End(); !errors.Is(err, ErrNotActive) {
		t.Fatalf("End on idle = %v, want ErrNotActive", err)
	}

	sess, err := m.Start(context.Background(), "op-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.State != models.SessionActive || sess.OperatorID != "op-1" || sess.ID == "" {
		t.Fatalf("session = %+v", sess)
	}
	if _, err := m.Start(context.Background(), "op-1"); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("second Start = %v, want ErrSessionActive", err)
	}

	ended, err := m.End()
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if ended.State != models.SessionEnded || ended.EndedAt == nil || ended.EndReason != ReasonOperator {
		t.Fatalf("ended session = %+v", ended)
	}
	if m.State() != StateEnded {
		t.Fatalf("state = %s, want ended", m.State())
	}
	if acquires, releases := dev.counts(); releases < acquires {
		t.Fatalf("device not released: acquires %d releases %d", acquires, releases)
	}
	if err := m.Trigger(); !errors.Is(err, ErrNotActive) {
		t.Fatalf("Trigger after End = %v", err)
	}

	again, err := m.Start(context.Background(), "op-1")
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if again.ID == sess.ID {
		t.Fatal("restart should create a new session")
	}
	_ = m.Close()
}

func TestStartDeviceError(t *testing.T) {
	dev := &fakeDevice{acquireErr: capture.ErrDeviceUnavailable}
	m := NewManager(dev, &stubEnricher{}, fastConfig(), nil)

	_, err := m.Start(context.Background(), "op")
	if !errors.Is(err, ErrDevice) || !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Fatalf("Start = %v, want ErrDevice wrapping ErrDeviceUnavailable", err)
	}
	if m.State() != StateIdle {
		t.Fatalf("state = %s, want idle", m.State())
	}
}

func TestAtMostOneInFlight(t *testing.T) {
	enricher := &stubEnricher{delay: 30 * time.Millisecond}
	m := NewManager(&fakeDevice{}, enricher, fastConfig(), nil)

	if _, err := m.Start(context.Background(), "op"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				_ = m.Trigger()
				time.Sleep(time.Millisecond)
			}
		}
	}()

	waitFor(t, 2*time.Second, func() bool { return len(m.Session().Scans) >= 3 })
	close(stop)
	if _, err := m.End(); err != nil {
		t.Fatalf("End: %v", err)
	}

	if got := enricher.maxInFlight.Load(); got != 1 {
		t.Fatalf("max concurrent enrichments = %d, want 1", got)
	}
}

func TestLateResultDiscarded(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	enricher := &stubEnricher{fn: func(int32) (*enrichment.Result, error) {
		started <- struct{}{}
		<-release
		return &enrichment.Result{Record: &models.ProductRecord{Name: "Late"}}, nil
	}}
	cfg := fastConfig()
	cfg.SubmitInterval = time.Hour
	m := NewManager(&fakeDevice{}, enricher, cfg, nil)

	if _, err := m.Start(context.Background(), "op"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Trigger(); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("enrichment never started")
	}

	ended, err := m.End()
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	close(release)
	time.Sleep(20 * time.Millisecond)

	if len(ended.Scans) != 0 {
		t.Fatalf("ended snapshot has %d scans", len(ended.Scans))
	}
	if got := m.Session(); len(got.Scans) != 0 || got.State != models.SessionEnded {
		t.Fatalf("late result leaked into ended session: %+v", got)
	}
}

func TestPipelineErrorRetriesWithoutAppending(t *testing.T) {
	enricher := &stubEnricher{fn: func(call int32) (*enrichment.Result, error) {
		if call == 1 {
			return nil, &enrichment.PipelineError{
				Err:      errors.New("unparseable"),
				Fallback: &models.ProductRecord{Name: "Unknown Strain"},
			}
		}
		return &enrichment.Result{Record: &models.ProductRecord{Name: "Gelato"}}, nil
	}}
	cfg := fastConfig()
	cfg.SubmitInterval = time.Hour
	m := NewManager(&fakeDevice{}, enricher, cfg, nil)

	if _, err := m.Start(context.Background(), "op"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Close()
	_ = m.Trigger()

	waitFor(t, 2*time.Second, func() bool { return len(m.Session().Scans) == 1 })
	sess := m.Session()
	if sess.Scans[0].Name != "Gelato" {
		t.Fatalf("scans = %+v, fallback must not be appended", sess.Scans)
	}
	if sess.State != models.SessionActive {
		t.Fatal("total failure must not end the session")
	}
	if enricher.calls.Load() < 2 {
		t.Fatalf("calls = %d, want automatic retry", enricher.calls.Load())
	}
}

func TestStalledStreamIsReacquired(t *testing.T) {
	dev := &fakeDevice{}
	cfg := fastConfig()
	cfg.SubmitInterval = time.Hour
	cfg.EventBuffer = 4096
	m := NewManager(dev, &stubEnricher{}, cfg, nil)

	sess, err := m.Start(context.Background(), "op")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Close()

	dev.pause()
	waitFor(t, 2*time.Second, func() bool {
		acquires, _ := dev.counts()
		return acquires >= 2
	})

	if m.State() != StateActive {
		t.Fatalf("state = %s, reacquire must keep the session", m.State())
	}
	if got := m.Session(); got.ID != sess.ID {
		t.Fatalf("session replaced during reacquire: %s != %s", got.ID, sess.ID)
	}

	sawReacquired := false
	for !sawReacquired {
		select {
		case ev := <-m.Events():
			sawReacquired = ev.Type == EventDeviceReacquired
		case <-time.After(time.Second):
			t.Fatal("no device_reacquired event")
		}
	}
}

func TestUnrecoverableDeviceEndsSession(t *testing.T) {
	dev := &fakeDevice{}
	cfg := fastConfig()
	cfg.SubmitInterval = time.Hour
	cfg.MaxReacquireAttempts = 2
	cfg.EventBuffer = 1024
	m := NewManager(dev, &stubEnricher{}, cfg, nil)

	if _, err := m.Start(context.Background(), "op"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	dev.failAcquire(capture.ErrDeviceUnavailable)
	dev.pause()

	waitFor(t, 2*time.Second, func() bool { return m.State() == StateEnded })
	sess := m.Session()
	if sess.EndReason != ReasonDeviceUnavailable {
		t.Fatalf("EndReason = %q", sess.EndReason)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-m.Events():
			if ev.Type == EventSessionEnded {
				if ev.Selection != SelectionNone {
					t.Errorf("Selection = %q, want none", ev.Selection)
				}
				return
			}
		case <-deadline:
			t.Fatal("no session_ended event")
		}
	}
}

func TestSilentDeviceEndsSession(t *testing.T) {
	dev := &fakeDevice{}
	cfg := fastConfig()
	cfg.StabilityInterval = 10 * time.Millisecond
	cfg.SubmitInterval = time.Hour
	cfg.MaxReacquireAttempts = 3
	cfg.EventBuffer = 1024
	m := NewManager(dev, &stubEnricher{}, cfg, nil)

	if _, err := m.Start(context.Background(), "op"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Close()
	dev.goSilent()

	waitFor(t, 2*time.Second, func() bool { return m.State() == StateEnded })
	if got := m.Session().EndReason; got != ReasonDeviceUnavailable {
		t.Fatalf("EndReason = %q, want %q", got, ReasonDeviceUnavailable)
	}
	acquires, _ := dev.counts()
	if limit := 1 + cfg.MaxReacquireAttempts; acquires > limit {
		t.Fatalf("acquires = %d, want at most %d", acquires, limit)
	}
}

func TestTimedSubmissionWaitsForAcceptableFrames(t *testing.T) {
	tests := []struct {
		name string
		dev  *fakeDevice
	}{
		{name: "blurred", dev: &fakeDevice{flat: 128}},
		{name: "dark", dev: &fakeDevice{flat: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enricher := &stubEnricher{}
			cfg := fastConfig()
			cfg.EventBuffer = 4096
			m := NewManager(tt.dev, enricher, cfg, nil)

			if _, err := m.Start(context.Background(), "op"); err != nil {
				t.Fatalf("Start: %v", err)
			}
			defer m.Close()

			time.Sleep(100 * time.Millisecond)
			if got := enricher.calls.Load(); got != 0 {
				t.Fatalf("calls = %d while frames are unacceptable, want 0", got)
			}

			tt.dev.setFlat(0)
			waitFor(t, 2*time.Second, func() bool { return enricher.calls.Load() >= 1 })
		})
	}
}

func TestSelectionFor(t *testing.T) {
	tests := []struct {
		scans int
		want  string
	}{
		{0, SelectionNone},
		{1, SelectionSingle},
		{3, SelectionMultiple},
	}
	for _, tt := range tests {
		s := &models.ScanSession{}
		for i := 0; i < tt.scans; i++ {
			s.Scans = append(s.Scans, &models.ProductRecord{})
		}
		if got := selectionFor(s); got != tt.want {
			t.Errorf("selectionFor(%d scans) = %q, want %q", tt.scans, got, tt.want)
		}
	}
}
