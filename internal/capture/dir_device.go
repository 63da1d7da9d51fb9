package capture

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/greenshelf/strainscan/internal/models"
)

// DirDevice is a "drop folder" camera: the newest image file in a directory is
// the current frame.
type DirDevice struct {
	dir    string
	logger *slog.Logger

	mu       sync.Mutex
	acquired bool
	seq      uint64
	lastPath string
	lastMod  time.Time
	last     *models.CaptureFrame
}

// NewDirDevice returns a device reading frames from dir. A nil logger uses
// the default.
func NewDirDevice(dir string, logger *slog.Logger) *DirDevice {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirDevice{dir: dir, logger: logger}
}

// Acquire verifies the directory exists and starts a stream over it.
func (d *DirDevice) Acquire(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(d.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrDeviceUnavailable, d.dir)
	}

	d.mu.Lock()
	d.acquired = true
	d.mu.Unlock()

	d.logger.Debug("Capture device acquired", "dir", d.dir)
	return &dirStream{dev: d}, nil
}

// Release stops the stream. Safe to call more than once.
func (d *DirDevice) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquired = false
	d.last = nil
	d.lastPath = ""
	return nil
}

type dirStream struct {
	dev *DirDevice
}

func (s *dirStream) Playing() bool {
	s.dev.mu.Lock()
	acquired := s.dev.acquired
	s.dev.mu.Unlock()
	if !acquired {
		return false
	}
	info, err := os.Stat(s.dev.dir)
	return err == nil && info.IsDir()
}

func (s *dirStream) CurrentFrame() (*models.CaptureFrame, error) {
	d := s.dev
	path, mod, err := newestImage(d.dir)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.acquired {
		return nil, ErrDeviceUnavailable
	}

	if path == d.lastPath && mod.Equal(d.lastMod) && d.last != nil {
		frame := *d.last
		frame.CapturedAt = time.Now()
		return &frame, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame %s: %w", filepath.Base(path), err)
	}

	d.seq++
	frame := FrameFromImage(img)
	frame.Seq = d.seq
	frame.CapturedAt = time.Now()

	d.last = frame
	d.lastPath = path
	d.lastMod = mod

	cp := *frame
	return &cp, nil
}

func newestImage(dir string) (string, time.Time, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	var (
		newest  string
		newestT time.Time
	)
	for _, entry := range entries {
		if entry.IsDir() || !isImage(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestT) {
			newest = filepath.Join(dir, entry.Name())
			newestT = info.ModTime()
		}
	}
	if newest == "" {
		return "", time.Time{}, ErrNoFrame
	}
	return newest, newestT, nil
}

func isImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif":
		return true
	}
	return false
}
