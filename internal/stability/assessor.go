// Package stability decides whether the capture feed is steady, sharp and lit
// well enough to be worth submitting for identification.
package stability

import (
	"image"
	"math"
	"sync"

	"github.com/greenshelf/strainscan/internal/models"
	"golang.org/x/image/draw"
)

// Recommendations surfaced to the operator.
const (
	RecommendHoldSteady = "Hold steady"
	RecommendRefocus    = "Move closer or refocus"
	RecommendMoreLight  = "More light needed"
	RecommendTooBright  = "Too bright"
	RecommendLooksGood  = "Looks good"
)

const (
	gridWidth  = 64
	gridHeight = 48
)

// Config holds the thresholds used by the assessor.
type Config struct {
	// MotionThreshold is the mean absolute luma difference (0-1) above which
	// the frame is considered moving.
	MotionThreshold float64
	// MinSharpness is the minimum Laplacian variance on the downsampled grid.
	MinSharpness  float64
	MinBrightness float64
	MaxBrightness float64
	// MinStableFrames is how many consecutive low-motion frames are required.
	MinStableFrames int
	History         int
}

// DefaultConfig returns the thresholds used when none are configured.
func DefaultConfig() Config {
	return Config{
		MotionThreshold: 0.08,
		MinSharpness:    50,
		MinBrightness:   0.15,
		MaxBrightness:   0.92,
		MinStableFrames: 2,
		History:         4,
	}
}

// Assessor keeps a short history of downsampled frames. Safe for concurrent use.
type Assessor struct {
	cfg Config

	mu        sync.Mutex
	history   []*image.Gray
	stableRun int
}

// New returns an assessor using cfg, with zero fields replaced by defaults.
func New(cfg Config) *Assessor {
	def := DefaultConfig()
	if cfg.MotionThreshold <= 0 {
		cfg.MotionThreshold = def.MotionThreshold
	}
	if cfg.MinSharpness <= 0 {
		cfg.MinSharpness = def.MinSharpness
	}
	if cfg.MinBrightness <= 0 {
		cfg.MinBrightness = def.MinBrightness
	}
	if cfg.MaxBrightness <= 0 {
		cfg.MaxBrightness = def.MaxBrightness
	}
	if cfg.MinStableFrames <= 0 {
		cfg.MinStableFrames = def.MinStableFrames
	}
	if cfg.History <= 0 {
		cfg.History = def.History
	}
	return &Assessor{cfg: cfg}
}

// Assess evaluates frame against the recent history. A missing frame yields a
// neutral "hold steady" result; this never fails.
func (a *Assessor) Assess(frame *models.CaptureFrame) models.StabilityMetrics {
	if frame.Empty() {
		return models.StabilityMetrics{Recommendation: RecommendHoldSteady}
	}

	grid := downsample(frame)
	brightness := meanLuma(grid)
	sharpness := laplacianVariance(grid)

	a.mu.Lock()
	defer a.mu.Unlock()

	motion := 0.0
	if n := len(a.history); n > 0 {
		motion = meanAbsDiff(a.history[n-1], grid)
		if motion <= a.cfg.MotionThreshold {
			a.stableRun++
		} else {
			a.stableRun = 1
		}
	} else {
		a.stableRun = 1
	}
	a.history = append(a.history, grid)
	if len(a.history) > a.cfg.History {
		a.history = a.history[len(a.history)-a.cfg.History:]
	}

	m := models.StabilityMetrics{
		Motion:     motion,
		Sharpness:  sharpness,
		Brightness: brightness,
	}
	switch {
	case motion > a.cfg.MotionThreshold || a.stableRun < a.cfg.MinStableFrames:
		m.Recommendation = RecommendHoldSteady
	case brightness < a.cfg.MinBrightness:
		m.Recommendation = RecommendMoreLight
	case brightness > a.cfg.MaxBrightness:
		m.Recommendation = RecommendTooBright
	case sharpness < a.cfg.MinSharpness:
		m.Recommendation = RecommendRefocus
	default:
		m.Recommendation = RecommendLooksGood
		m.IsAcceptable = true
	}
	return m
}

// Reset drops the frame history, e.g. after the device was reacquired.
func (a *Assessor) Reset() {
	a.mu.Lock()
	a.history = nil
	a.stableRun = 0
	a.mu.Unlock()
}

func downsample(frame *models.CaptureFrame) *image.Gray {
	src := &image.RGBA{
		Pix:    frame.Pix,
		Stride: frame.Width * 4,
		Rect:   image.Rect(0, 0, frame.Width, frame.Height),
	}
	dst := image.NewGray(image.Rect(0, 0, gridWidth, gridHeight))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

func meanLuma(g *image.Gray) float64 {
	if len(g.Pix) == 0 {
		return 0
	}
	var sum int
	for _, p := range g.Pix {
		sum += int(p)
	}
	return float64(sum) / float64(len(g.Pix)) / 255
}

func meanAbsDiff(prev, cur *image.Gray) float64 {
	if len(prev.Pix) != len(cur.Pix) || len(cur.Pix) == 0 {
		return 1
	}
	var sum int
	for i := range cur.Pix {
		d := int(cur.Pix[i]) - int(prev.Pix[i])
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return float64(sum) / float64(len(cur.Pix)) / 255
}

// laplacianVariance is a focus measure: blurry frames have little high-frequency energy.
func laplacianVariance(g *image.Gray) float64 {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if w < 3 || h < 3 {
		return 0
	}
	var sum, sumSq float64
	n := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			c := float64(g.GrayAt(x, y).Y)
			l := float64(g.GrayAt(x-1, y).Y) + float64(g.GrayAt(x+1, y).Y) +
				float64(g.GrayAt(x, y-1).Y) + float64(g.GrayAt(x, y+1).Y) - 4*c
			sum += l
			sumSq += l * l
			n++
		}
	}
	mean := sum / float64(n)
	return math.Max(0, sumSq/float64(n)-mean*mean)
}
