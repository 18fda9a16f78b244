package capture

import (
	"image"
	"image/color"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/watchpost/internal/settings"
	"github.com/ayusman/watchpost/internal/timeutil"
)

func newTestGate(t *testing.T, cooldown time.Duration) (*MotionGate, *settings.Runtime, *timeutil.MockClock) {
	t.Helper()
	d := settings.DefaultValues()
	d.MotionCooldown = cooldown
	rt := settings.New(d)
	clock := timeutil.NewMockClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	g := NewMotionGate(rt, clock, nil)
	t.Cleanup(g.Close)
	return g, rt, clock
}

// frameWithBox returns a black frame with a filled white square at (x, y).
func frameWithBox(rows, cols, x, y, size int) gocv.Mat {
	m := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC3)
	gocv.Rectangle(&m, image.Rect(x, y, x+size, y+size), color.RGBA{255, 255, 255, 0}, -1)
	return m
}

func TestMotionGate_FirstFrameIsBaseline(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	g, _, _ := newTestGate(t, 0)

	frame := frameWithBox(120, 160, 10, 10, 40)
	defer frame.Close()

	if g.Admit(&frame) {
		t.Error("first frame must never be admitted")
	}
}

func TestMotionGate_NilAndEmptyFrames(t *testing.T) {
	g, _, _ := newTestGate(t, 0)

	if g.Admit(nil) {
		t.Error("nil frame must not be admitted")
	}

	empty := gocv.NewMat()
	defer empty.Close()
	if g.Admit(&empty) {
		t.Error("empty frame must not be admitted")
	}
	if g.hasPrev {
		t.Error("empty frame must not become the baseline")
	}
}

func TestMotionGate_StaticSceneNotAdmitted(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	g, _, _ := newTestGate(t, 0)

	a := frameWithBox(120, 160, 10, 10, 40)
	defer a.Close()
	b := frameWithBox(120, 160, 10, 10, 40)
	defer b.Close()

	g.Admit(&a)
	if g.Admit(&b) {
		t.Errorf("identical frames admitted, change = %f", g.LastChange())
	}
	if g.LastChange() != 0 {
		t.Errorf("LastChange() = %f, want 0", g.LastChange())
	}
}

func TestMotionGate_MovingObjectAdmitted(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	g, _, _ := newTestGate(t, 0)

	a := frameWithBox(120, 160, 10, 10, 40)
	defer a.Close()
	b := frameWithBox(120, 160, 90, 60, 40)
	defer b.Close()

	g.Admit(&a)
	if !g.Admit(&b) {
		t.Errorf("moved square not admitted, change = %f", g.LastChange())
	}
}

func TestMotionGate_Cooldown(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	g, _, clock := newTestGate(t, 2*time.Second)

	a := frameWithBox(120, 160, 10, 10, 40)
	defer a.Close()
	b := frameWithBox(120, 160, 90, 60, 40)
	defer b.Close()

	g.Admit(&a)
	if !g.Admit(&b) {
		t.Fatal("expected first motion to be admitted")
	}

	// Large change inside the cooldown window is suppressed
	clock.Advance(time.Second)
	if g.Admit(&a) {
		t.Error("motion inside cooldown must not be admitted")
	}

	// Baseline was still refreshed to a, so b differs again after cooldown
	clock.Advance(1500 * time.Millisecond)
	if !g.Admit(&b) {
		t.Error("motion after cooldown should be admitted")
	}
}

func TestMotionGate_ThresholdReadLive(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	g, rt, _ := newTestGate(t, 0)
	rt.SetMotionPixelThreshold(100)

	a := frameWithBox(120, 160, 10, 10, 40)
	defer a.Close()
	b := frameWithBox(120, 160, 90, 60, 40)
	defer b.Close()

	g.Admit(&a)
	if g.Admit(&b) {
		t.Error("nothing can exceed a 100% threshold")
	}

	rt.SetMotionPixelThreshold(0.1)
	if !g.Admit(&a) {
		t.Errorf("lowered threshold should admit, change = %f", g.LastChange())
	}
}

func TestMotionGate_SizeChangeResetsBaseline(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	g, _, _ := newTestGate(t, 0)

	small := frameWithBox(120, 160, 10, 10, 40)
	defer small.Close()
	large := frameWithBox(240, 320, 90, 60, 40)
	defer large.Close()
	moved := frameWithBox(240, 320, 200, 150, 40)
	defer moved.Close()

	g.Admit(&small)
	if g.Admit(&large) {
		t.Error("resolution change must reset the baseline, not admit")
	}
	if !g.Admit(&moved) {
		t.Error("motion at the new resolution should be admitted")
	}
}

func TestMotionGate_Reset(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	g, _, _ := newTestGate(t, 0)

	a := frameWithBox(120, 160, 10, 10, 40)
	defer a.Close()
	b := frameWithBox(120, 160, 90, 60, 40)
	defer b.Close()

	g.Admit(&a)
	g.Reset()

	if g.hasPrev {
		t.Error("baseline should be cleared after Reset")
	}
	if g.Admit(&b) {
		t.Error("first frame after Reset is a baseline")
	}
}

func TestMotionGate_Close_Multiple(t *testing.T) {
	g, _, _ := newTestGate(t, 0)

	// Close multiple times should not panic
	g.Close()
	g.Close()
}

func TestMotionGate_ReleaseEmptyBaselineThenAdmit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	g, _, _ := newTestGate(t, 0)
	for i := 0; i < 3; i++ {
		g.Reset()
		g.Close()
	}
	if !g.prevEdges.Empty() {
		t.Fatal("released baseline should be an empty Mat")
	}

	a := frameWithBox(120, 160, 10, 10, 40)
	defer a.Close()
	b := frameWithBox(120, 160, 90, 60, 40)
	defer b.Close()

	if g.Admit(&a) {
		t.Error("first frame after release is a baseline")
	}
	if !g.Admit(&b) {
		t.Error("moved object should be admitted after release")
	}
}
