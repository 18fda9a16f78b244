package capture

import (
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/watchpost/internal/timeutil"
)

// MotionSettings supplies the live motion thresholds. They are read on every
// Admit call so operator changes take effect on the next frame.
type MotionSettings interface {
	MotionCanny() (low, high int)
	MotionPixelThreshold() float64
	MotionCooldown() time.Duration
}

// MotionGate decides whether a frame differs enough from its predecessor to
// justify running the detector. It compares Canny edge maps, which are far
// less sensitive to lighting changes than raw pixel differences.
type MotionGate struct {
	settings   MotionSettings
	clock      timeutil.Clock
	logger     *slog.Logger
	mu         sync.Mutex
	prevEdges  gocv.Mat
	hasPrev    bool
	lastAdmit  time.Time
	lastChange float64
}

// NewMotionGate creates a gate reading thresholds from settings. A nil clock
// uses the wall clock.
func NewMotionGate(settings MotionSettings, clock timeutil.Clock, logger *slog.Logger) *MotionGate {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MotionGate{
		settings:  settings,
		clock:     clock,
		logger:    logger.With("component", "motion"),
		prevEdges: gocv.NewMat(),
	}
}

// Admit reports whether frame shows motion.
//
// Algorithm:
//  1. Convert frame to grayscale and compute its Canny edge map
//  2. If there is no baseline (or the size changed), store it and return false
//  3. Inside the cooldown window since the last admission, store and return false
//  4. Count differing edge pixels / total pixels = change percentage
//  5. Admit when the percentage exceeds the pixel threshold
//
// The stored edge map is replaced on every non-empty frame.
func (g *MotionGate) Admit(frame *gocv.Mat) bool {
	if frame == nil || frame.Empty() {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	low, high := g.settings.MotionCanny()
	threshold := g.settings.MotionPixelThreshold()
	cooldown := g.settings.MotionCooldown()

	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, float32(low), float32(high))

	if !g.hasPrev || g.prevEdges.Rows() != edges.Rows() || g.prevEdges.Cols() != edges.Cols() {
		if g.hasPrev {
			g.logger.Info("frame size changed, resetting motion baseline",
				"width", edges.Cols(), "height", edges.Rows())
		}
		g.store(edges)
		return false
	}

	now := g.clock.Now()
	if !g.lastAdmit.IsZero() && now.Sub(g.lastAdmit) < cooldown {
		// Keep the baseline fresh during cooldown to avoid stale comparisons
		g.store(edges)
		return false
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(g.prevEdges, edges, &diff)

	changed := gocv.CountNonZero(diff)
	total := diff.Rows() * diff.Cols()
	change := float64(changed) / float64(total) * 100.0
	g.lastChange = change

	g.store(edges)

	if change > threshold {
		g.lastAdmit = now
		g.logger.Debug("motion detected", "change_pct", change, "threshold_pct", threshold)
		return true
	}
	return false
}

// store copies edges into the baseline. Must hold g.mu.
func (g *MotionGate) store(edges gocv.Mat) {
	edges.CopyTo(&g.prevEdges)
	g.hasPrev = true
}

// LastChange returns the change percentage computed by the most recent
// comparison.
func (g *MotionGate) LastChange() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastChange
}

// Reset clears the baseline and cooldown so the next frame starts fresh.
func (g *MotionGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.release()
	g.lastAdmit = time.Time{}
	g.lastChange = 0
}

// Close releases the stored edge map. The gate can still be used afterwards;
// the next frame becomes a new baseline.
func (g *MotionGate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.release()
}

// release frees the stored edge map, empty or not, and leaves a fresh Mat
// for the next baseline.
func (g *MotionGate) release() {
	g.prevEdges.Close()
	g.prevEdges = gocv.NewMat()
	g.hasPrev = false
}
