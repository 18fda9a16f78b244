// Package settings holds the operator-tunable runtime configuration shared by
// the capture pipeline and the remote control front end.
package settings

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Value domains enforced by every setter.
const (
	MinCanny           = 0
	MaxCanny           = 255
	MinPixelThreshold  = 0.0
	MaxPixelThreshold  = 100.0
	MinConfidence      = 0.0
	MaxConfidence      = 1.0
	MinStabilityFrames = 1
	MinMaxMisses       = 1
)

// Parameter names accepted by Set.
const (
	ParamCannyLow        = "canny_low"
	ParamCannyHigh       = "canny_high"
	ParamPixelThreshold  = "pixel_threshold"
	ParamCooldown        = "cooldown"
	ParamConfidence      = "confidence"
	ParamStabilityFrames = "stability_frames"
	ParamMaxMisses       = "max_misses"
)

var (
	// ErrUnknownParameter is returned by Set for names not in Params.
	ErrUnknownParameter = errors.New("unknown parameter")
	// ErrInvalidValue is returned by Set when the value cannot be parsed.
	ErrInvalidValue = errors.New("invalid value")
	// ErrAllClassesEnabled is returned by DisableClass while the allow-list
	// is empty: nothing can be removed from "every class".
	ErrAllClassesEnabled = errors.New("every class is enabled; enable the classes to keep instead")
	// ErrLastEnabledClass is returned by DisableClass for the only member of
	// the allow-list, since an empty list enables every class.
	ErrLastEnabledClass = errors.New("cannot disable the last enabled class; enable another class first or enable all")
)

// Defaults are the startup values of every knob.
type Defaults struct {
	MotionCannyLow       int
	MotionCannyHigh      int
	MotionPixelThreshold float64
	MotionCooldown       time.Duration
	DetectorConfidence   float64
	StabilityFrames      int
	StabilityMaxMisses   int
	EnabledClasses       []string
}

// DefaultValues returns the factory defaults.
func DefaultValues() Defaults {
	return Defaults{
		MotionCannyLow:       50,
		MotionCannyHigh:      150,
		MotionPixelThreshold: 0.5,
		MotionCooldown:       2 * time.Second,
		DetectorConfidence:   0.5,
		StabilityFrames:      2,
		StabilityMaxMisses:   2,
	}
}

// Snapshot is a point-in-time copy of every knob.
type Snapshot struct {
	MotionCannyLow       int           `json:"motion_canny_low"`
	MotionCannyHigh      int           `json:"motion_canny_high"`
	MotionPixelThreshold float64       `json:"motion_pixel_threshold"`
	MotionCooldown       time.Duration `json:"motion_cooldown"`
	DetectorConfidence   float64       `json:"detector_confidence"`
	StabilityFrames      int           `json:"stability_frames"`
	StabilityMaxMisses   int           `json:"stability_max_misses"`
	EnabledClasses       []string      `json:"enabled_classes"`
}

// Runtime is a concurrently mutable settings store. Every write clamps to the
// field's domain under the lock, so readers never observe an invalid value.
type Runtime struct {
	mu sync.Mutex

	cannyLow       int
	cannyHigh      int
	pixelThreshold float64
	cooldown       time.Duration
	confidence     float64
	stabilityFrame int
	maxMisses      int
	classes        map[string]struct{}

	observers []func(Snapshot)
	version   uint64

	// notifyMu orders observer calls; notified is the newest version
	// delivered.
	notifyMu sync.Mutex
	notified uint64
}

// New creates a Runtime from d, clamping each value.
func New(d Defaults) *Runtime {
	r := &Runtime{classes: make(map[string]struct{})}
	r.cannyLow = clampInt(d.MotionCannyLow, MinCanny, MaxCanny)
	r.cannyHigh = clampInt(d.MotionCannyHigh, MinCanny, MaxCanny)
	if r.cannyLow > r.cannyHigh {
		r.cannyHigh = r.cannyLow
	}
	r.pixelThreshold = clampFloat(d.MotionPixelThreshold, MinPixelThreshold, MaxPixelThreshold)
	r.cooldown = max(d.MotionCooldown, 0)
	r.confidence = clampFloat(d.DetectorConfidence, MinConfidence, MaxConfidence)
	r.stabilityFrame = max(d.StabilityFrames, MinStabilityFrames)
	r.maxMisses = max(d.StabilityMaxMisses, MinMaxMisses)
	for _, c := range d.EnabledClasses {
		if c = normalizeClass(c); c != "" {
			r.classes[c] = struct{}{}
		}
	}
	return r
}

// OnChange registers fn to be called with a fresh snapshot after every write.
// Observers run on the writer's goroutine, outside the settings lock, one
// write at a time. A snapshot older than one already delivered is skipped, so
// the last call always carries the current settings.
func (r *Runtime) OnChange(fn func(Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// update applies fn under the lock and then notifies observers.
func (r *Runtime) update(fn func()) {
	_ = r.tryUpdate(func() error {
		fn()
		return nil
	})
}

// tryUpdate applies fn under the lock. If fn fails nothing is notified.
func (r *Runtime) tryUpdate(fn func() error) error {
	r.mu.Lock()
	if err := fn(); err != nil {
		r.mu.Unlock()
		return err
	}
	r.version++
	version := r.version
	observers := slices.Clone(r.observers)
	var snap Snapshot
	if len(observers) > 0 {
		snap = r.snapshotLocked()
	}
	r.mu.Unlock()

	if len(observers) == 0 {
		return nil
	}
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	if version < r.notified {
		return nil
	}
	r.notified = version
	for _, o := range observers {
		o(snap)
	}
	return nil
}

func (r *Runtime) MotionCannyLow() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cannyLow
}

// SetMotionCannyLow sets the lower Canny threshold, clamped to [0,255]. If the
// result exceeds the upper threshold, the upper threshold is raised to match.
func (r *Runtime) SetMotionCannyLow(v int) {
	r.update(func() {
		r.cannyLow = clampInt(v, MinCanny, MaxCanny)
		if r.cannyLow > r.cannyHigh {
			r.cannyHigh = r.cannyLow
		}
	})
}

func (r *Runtime) MotionCannyHigh() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cannyHigh
}

// SetMotionCannyHigh sets the upper Canny threshold, clamped to [0,255]. If the
// result is below the lower threshold, the lower threshold is lowered to match.
func (r *Runtime) SetMotionCannyHigh(v int) {
	r.update(func() {
		r.cannyHigh = clampInt(v, MinCanny, MaxCanny)
		if r.cannyHigh < r.cannyLow {
			r.cannyLow = r.cannyHigh
		}
	})
}

// MotionCanny returns both thresholds read under one lock.
func (r *Runtime) MotionCanny() (low, high int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cannyLow, r.cannyHigh
}

func (r *Runtime) MotionPixelThreshold() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pixelThreshold
}

// SetMotionPixelThreshold sets the changed-pixel percentage, clamped to [0,100].
func (r *Runtime) SetMotionPixelThreshold(v float64) {
	r.update(func() { r.pixelThreshold = clampFloat(v, MinPixelThreshold, MaxPixelThreshold) })
}

func (r *Runtime) MotionCooldown() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cooldown
}

// SetMotionCooldown sets the minimum time between admissions; negative values
// become zero.
func (r *Runtime) SetMotionCooldown(d time.Duration) {
	r.update(func() { r.cooldown = max(d, 0) })
}

func (r *Runtime) DetectorConfidence() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.confidence
}

// SetDetectorConfidence sets the detector confidence floor, clamped to [0,1].
func (r *Runtime) SetDetectorConfidence(v float64) {
	r.update(func() { r.confidence = clampFloat(v, MinConfidence, MaxConfidence) })
}

func (r *Runtime) StabilityFrames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stabilityFrame
}

// SetStabilityFrames sets the consecutive hits needed to display a detection (>= 1).
func (r *Runtime) SetStabilityFrames(v int) {
	r.update(func() { r.stabilityFrame = max(v, MinStabilityFrames) })
}

func (r *Runtime) StabilityMaxMisses() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxMisses
}

// SetStabilityMaxMisses sets how many frames a track may be missing before it
// is dropped (>= 1).
func (r *Runtime) SetStabilityMaxMisses(v int) {
	r.update(func() { r.maxMisses = max(v, MinMaxMisses) })
}

// Stability returns min-consecutive and max-missed read under one lock.
func (r *Runtime) Stability() (minConsecutive, maxMissed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stabilityFrame, r.maxMisses
}

// EnabledClasses returns a sorted copy of the allow-list. Empty means every
// class is enabled.
func (r *Runtime) EnabledClasses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.classListLocked()
}

// SetEnabledClasses replaces the allow-list.
func (r *Runtime) SetEnabledClasses(classes []string) {
	r.update(func() {
		r.classes = make(map[string]struct{}, len(classes))
		for _, c := range classes {
			if c = normalizeClass(c); c != "" {
				r.classes[c] = struct{}{}
			}
		}
	})
}

// EnableClass adds name to the allow-list.
func (r *Runtime) EnableClass(name string) {
	name = normalizeClass(name)
	if name == "" {
		return
	}
	r.update(func() { r.classes[name] = struct{}{} })
}

// DisableClass removes name from the allow-list. It refuses when the list is
// empty or name is its only member, because either write would leave every
// class enabled. Disabling a class that is not listed is a no-op.
func (r *Runtime) DisableClass(name string) error {
	name = normalizeClass(name)
	return r.tryUpdate(func() error {
		if len(r.classes) == 0 {
			return ErrAllClassesEnabled
		}
		if _, ok := r.classes[name]; ok && len(r.classes) == 1 {
			return ErrLastEnabledClass
		}
		delete(r.classes, name)
		return nil
	})
}

// EnableAllClasses clears the allow-list.
func (r *Runtime) EnableAllClasses() {
	r.update(func() { r.classes = make(map[string]struct{}) })
}

// IsClassEnabled reports whether detections of name should pass.
func (r *Runtime) IsClassEnabled(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.classes) == 0 {
		return true
	}
	_, ok := r.classes[normalizeClass(name)]
	return ok
}

// Snapshot returns every knob read under a single lock.
func (r *Runtime) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Runtime) snapshotLocked() Snapshot {
	return Snapshot{
		MotionCannyLow:       r.cannyLow,
		MotionCannyHigh:      r.cannyHigh,
		MotionPixelThreshold: r.pixelThreshold,
		MotionCooldown:       r.cooldown,
		DetectorConfidence:   r.confidence,
		StabilityFrames:      r.stabilityFrame,
		StabilityMaxMisses:   r.maxMisses,
		EnabledClasses:       r.classListLocked(),
	}
}

func (r *Runtime) classListLocked() []string {
	out := make([]string, 0, len(r.classes))
	for c := range r.classes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Restore applies a previously persisted snapshot, clamping every field, as a
// single write.
func (r *Runtime) Restore(s Snapshot) {
	r.update(func() {
		r.cannyLow = clampInt(s.MotionCannyLow, MinCanny, MaxCanny)
		r.cannyHigh = max(clampInt(s.MotionCannyHigh, MinCanny, MaxCanny), r.cannyLow)
		r.pixelThreshold = clampFloat(s.MotionPixelThreshold, MinPixelThreshold, MaxPixelThreshold)
		r.cooldown = max(s.MotionCooldown, 0)
		r.confidence = clampFloat(s.DetectorConfidence, MinConfidence, MaxConfidence)
		r.stabilityFrame = max(s.StabilityFrames, MinStabilityFrames)
		r.maxMisses = max(s.StabilityMaxMisses, MinMaxMisses)
		r.classes = make(map[string]struct{}, len(s.EnabledClasses))
		for _, c := range s.EnabledClasses {
			if c = normalizeClass(c); c != "" {
				r.classes[c] = struct{}{}
			}
		}
	})
}

// Params lists the parameter names accepted by Set.
func Params() []string {
	return []string{
		ParamCannyLow,
		ParamCannyHigh,
		ParamPixelThreshold,
		ParamCooldown,
		ParamConfidence,
		ParamStabilityFrames,
		ParamMaxMisses,
	}
}

// Set parses value for the named parameter and applies it through the
// matching setter. It returns the stored value after clamping. On error the
// settings are left untouched.
func (r *Runtime) Set(param, value string) (string, error) {
	param = strings.ToLower(strings.TrimSpace(param))
	value = strings.TrimSpace(value)

	switch param {
	case ParamCannyLow, ParamCannyHigh, ParamStabilityFrames, ParamMaxMisses:
		n, err := strconv.Atoi(value)
		if err != nil {
			return "", fmt.Errorf("%w: %s expects an integer, got %q", ErrInvalidValue, param, value)
		}
		switch param {
		case ParamCannyLow:
			r.SetMotionCannyLow(n)
			return strconv.Itoa(r.MotionCannyLow()), nil
		case ParamCannyHigh:
			r.SetMotionCannyHigh(n)
			return strconv.Itoa(r.MotionCannyHigh()), nil
		case ParamStabilityFrames:
			r.SetStabilityFrames(n)
			return strconv.Itoa(r.StabilityFrames()), nil
		default:
			r.SetStabilityMaxMisses(n)
			return strconv.Itoa(r.StabilityMaxMisses()), nil
		}

	case ParamPixelThreshold, ParamConfidence, ParamCooldown:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return "", fmt.Errorf("%w: %s expects a number, got %q", ErrInvalidValue, param, value)
		}
		switch param {
		case ParamPixelThreshold:
			r.SetMotionPixelThreshold(f)
			return formatFloat(r.MotionPixelThreshold()), nil
		case ParamConfidence:
			r.SetDetectorConfidence(f)
			return formatFloat(r.DetectorConfidence()), nil
		default:
			r.SetMotionCooldown(secondsToDuration(f))
			return formatFloat(r.MotionCooldown().Seconds()), nil
		}
	}

	return "", fmt.Errorf("%w: %q (valid: %s)", ErrUnknownParameter, param, strings.Join(Params(), ", "))
}

// Summary renders the settings for the settings-view command.
func (s Snapshot) Summary() string {
	classes := "All"
	if len(s.EnabledClasses) > 0 {
		classes = strings.Join(s.EnabledClasses, ", ")
	}

	var b strings.Builder
	b.WriteString("Runtime Settings\n\n")
	b.WriteString("Motion Detection:\n")
	fmt.Fprintf(&b, "  Canny Low: %d\n", s.MotionCannyLow)
	fmt.Fprintf(&b, "  Canny High: %d\n", s.MotionCannyHigh)
	fmt.Fprintf(&b, "  Pixel Threshold: %s%%\n", formatFloat(s.MotionPixelThreshold))
	fmt.Fprintf(&b, "  Cooldown: %ss\n", formatFloat(s.MotionCooldown.Seconds()))
	b.WriteString("\nDetector:\n")
	fmt.Fprintf(&b, "  Confidence: %.2f\n", s.DetectorConfidence)
	b.WriteString("\nDetection Stability:\n")
	fmt.Fprintf(&b, "  Min Frames: %d\n", s.StabilityFrames)
	fmt.Fprintf(&b, "  Max Misses: %d\n", s.StabilityMaxMisses)
	b.WriteString("\nEnabled Classes:\n")
	b.WriteString("  " + classes + "\n")
	return b.String()
}

// secondsToDuration converts without wrapping: values beyond the Duration
// range saturate.
func secondsToDuration(f float64) time.Duration {
	ns := f * float64(time.Second)
	switch {
	case ns >= math.MaxInt64:
		return time.Duration(math.MaxInt64)
	case ns <= math.MinInt64:
		return time.Duration(math.MinInt64)
	}
	return time.Duration(ns)
}

func normalizeClass(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func clampInt(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return min(max(v, lo), hi)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
