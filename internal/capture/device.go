// Package capture defines the capture device abstraction consumed by the
// session manager, plus a directory-backed device used by the CLI and server.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/greenshelf/strainscan/internal/models"
	"golang.org/x/image/draw"
)

var (
	// ErrDeviceUnavailable is returned when the device cannot be acquired.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrNoFrame is returned when the stream has not produced a frame yet.
	ErrNoFrame = errors.New("no frame available")
)

// Device is a capture source. The session manager owns it exclusively for the
// lifetime of a session.
type Device interface {
	Acquire(ctx context.Context) (Stream, error)
	Release() error
}

// Stream is an acquired device feed.
type Stream interface {
	// CurrentFrame returns the most recent frame.
	CurrentFrame() (*models.CaptureFrame, error)
	// Playing reports whether the feed is still live. A false value means the
	// stream stalled or paused and should be reacquired.
	Playing() bool
}

// EncodeJPEG converts a frame into a JPEG inference payload, scaling it down so
// the longest side is at most maxDim pixels (0 keeps the original size).
func EncodeJPEG(frame *models.CaptureFrame, maxDim int) ([]byte, error) {
	if frame.Empty() {
		return nil, ErrNoFrame
	}
	var img image.Image = &image.RGBA{
		Pix:    frame.Pix,
		Stride: frame.Width * 4,
		Rect:   image.Rect(0, 0, frame.Width, frame.Height),
	}

	if longest := max(frame.Width, frame.Height); maxDim > 0 && longest > maxDim {
		w := frame.Width * maxDim / longest
		h := frame.Height * maxDim / longest
		dst := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// FrameFromImage converts a decoded image into an RGBA capture frame.
func FrameFromImage(img image.Image) *models.CaptureFrame {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return &models.CaptureFrame{
		Width:  b.Dx(),
		Height: b.Dy(),
		Pix:    rgba.Pix,
	}
}
