// Package state holds the data shared between the capture pipeline and the
// remote front end: the latest observation, recent confirmed detections and
// running counters.
package state

import (
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/watchpost/internal/detector"
	"github.com/ayusman/watchpost/internal/timeutil"
)

// DefaultHistoryCapacity is the number of confirmed detections retained.
const DefaultHistoryCapacity = 1000

// Observation is a frame together with the detections computed for it.
// Frame is owned by whoever holds the Observation and must be closed.
type Observation struct {
	Frame      *gocv.Mat
	Timestamp  time.Time
	Detections []detector.Detection
}

// Close releases the frame.
func (o *Observation) Close() {
	if o.Frame != nil {
		o.Frame.Close()
		o.Frame = nil
	}
}

// Stats is a read-only view of the running counters.
type Stats struct {
	Uptime          time.Duration
	TotalDetections int
	ClassCounts     map[string]int
	// LastDetection is zero when nothing has been recorded.
	LastDetection time.Time
}

// Shared is safe for concurrent use. Every method takes the same lock, so a
// reader never sees a frame paired with another frame's detections.
type Shared struct {
	clock timeutil.Clock
	start time.Time

	mu sync.Mutex
	// current is replaced as one unit; current.Frame is nil before the first frame.
	current       Observation
	history       []detector.Detection
	head          int
	size          int
	classCounts   map[string]int
	lastDetection time.Time
}

// New creates a Shared state retaining up to capacity confirmed detections.
// A non-positive capacity uses DefaultHistoryCapacity; a nil clock the wall clock.
func New(capacity int, clock timeutil.Clock) *Shared {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Shared{
		clock:       clock,
		start:       clock.Now(),
		history:     make([]detector.Detection, capacity),
		classCounts: make(map[string]int),
	}
}

func cloneFrame(frame *gocv.Mat) *gocv.Mat {
	if frame == nil || frame.Empty() {
		return nil
	}
	c := frame.Clone()
	return &c
}

// UpdateFrame replaces the latest frame and its timestamp, keeping the
// current detections. A nil or empty frame is ignored.
func (s *Shared) UpdateFrame(frame *gocv.Mat) {
	c := cloneFrame(frame)
	if c == nil {
		return
	}
	now := s.clock.Now()

	s.mu.Lock()
	old := s.current.Frame
	s.current.Frame = c
	s.current.Timestamp = now
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

// UpdateFrameWithDetections replaces the frame, timestamp and detections as
// one unit. dets may be empty, which clears the displayed detections.
func (s *Shared) UpdateFrameWithDetections(frame *gocv.Mat, dets []detector.Detection) {
	c := cloneFrame(frame)
	if c == nil {
		return
	}
	next := Observation{
		Frame:      c,
		Timestamp:  s.clock.Now(),
		Detections: detector.CloneAll(dets),
	}

	s.mu.Lock()
	old := s.current.Frame
	s.current = next
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

// Record appends confirmed detections to the history, evicting the oldest
// once capacity is reached, and bumps the per-class counters. An empty slice
// changes nothing.
func (s *Shared) Record(confirmed []detector.Detection) {
	if len(confirmed) == 0 {
		return
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range confirmed {
		capacity := len(s.history)
		s.history[(s.head+s.size)%capacity] = d.Clone()
		if s.size < capacity {
			s.size++
		} else {
			s.head = (s.head + 1) % capacity
		}
		s.classCounts[d.Class]++
	}
	s.lastDetection = now
}

// SnapshotLatestFrame returns a copy of the latest frame and its timestamp.
// ok is false when no frame has been captured yet. The caller must close the
// returned Mat.
func (s *Shared) SnapshotLatestFrame() (frame *gocv.Mat, ts time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current.Frame == nil {
		return nil, time.Time{}, false
	}
	return cloneFrame(s.current.Frame), s.current.Timestamp, true
}

// SnapshotLatestFrameWithDetections returns an independent copy of the
// current observation. The caller must Close it.
func (s *Shared) SnapshotLatestFrameWithDetections() (Observation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current.Frame == nil {
		return Observation{}, false
	}
	return Observation{
		Frame:      cloneFrame(s.current.Frame),
		Timestamp:  s.current.Timestamp,
		Detections: detector.CloneAll(s.current.Detections),
	}, true
}

// LatestDetections returns a copy of the detections attached to the latest frame.
func (s *Shared) LatestDetections() []detector.Detection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return detector.CloneAll(s.current.Detections)
}

// LatestDetectionsAt is LatestDetections plus the timestamp of the frame they
// belong to, without copying the frame. ts is zero before the first frame.
func (s *Shared) LatestDetectionsAt() (dets []detector.Detection, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return detector.CloneAll(s.current.Detections), s.current.Timestamp
}

// Stats returns the running counters.
func (s *Shared) Stats() Stats {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int, len(s.classCounts))
	total := 0
	for class, n := range s.classCounts {
		counts[class] = n
		total += n
	}
	return Stats{
		Uptime:          now.Sub(s.start),
		TotalDetections: total,
		ClassCounts:     counts,
		LastDetection:   s.lastDetection,
	}
}

// History returns the retained confirmed detections, oldest first.
func (s *Shared) History() []detector.Detection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyLocked(time.Time{})
}

// HistorySince returns retained detections with Timestamp at or after t,
// oldest first.
func (s *Shared) HistorySince(t time.Time) []detector.Detection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyLocked(t)
}

func (s *Shared) historyLocked(since time.Time) []detector.Detection {
	out := make([]detector.Detection, 0, s.size)
	capacity := len(s.history)
	for i := 0; i < s.size; i++ {
		d := s.history[(s.head+i)%capacity]
		if !since.IsZero() && d.Timestamp.Before(since) {
			continue
		}
		out = append(out, d.Clone())
	}
	return out
}

// Capacity returns the maximum number of retained detections.
func (s *Shared) Capacity() int {
	return len(s.history)
}

// Reset clears history, counters and the last detection time. The latest
// frame is kept.
func (s *Shared) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.history {
		s.history[i] = detector.Detection{}
	}
	s.head = 0
	s.size = 0
	s.classCounts = make(map[string]int)
	s.lastDetection = time.Time{}
}

// Close releases the held frame.
func (s *Shared) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Close()
	s.current.Detections = nil
}
