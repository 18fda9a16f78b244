// Package stabilizer turns noisy per-frame detections into debounced
// display and confirmation events.
package stabilizer

import (
	"log/slog"
	"sync"

	"github.com/ayusman/watchpost/internal/detector"
)

// GridSize is the pixel quantum used to key untracked detections by region.
const GridSize = 16

// Thresholds supplies the live stability parameters.
type Thresholds interface {
	// Stability returns the consecutive frames required before a detection is
	// shown and the number of frames a track may go unseen before it is dropped.
	Stability() (minConsecutive, maxMissed int)
}

// Result is the output of one Filter call.
type Result struct {
	// Display holds every detection whose track has met the consecutive-frame
	// threshold on this frame.
	Display []detector.Detection
	// Confirmed holds the subset whose track met the threshold for the first
	// time on this frame.
	Confirmed []detector.Detection
}

type keyKind uint8

const (
	byTrack keyKind = iota
	byRegion
)

// key identifies one persistent object across frames. Tracked detections key
// on (class, id); untracked ones on (class, box quantized to GridSize).
type key struct {
	kind           keyKind
	class          string
	id             int
	x1, y1, x2, y2 int
}

func keyFor(d detector.Detection) key {
	if d.TrackID != nil {
		return key{kind: byTrack, class: d.Class, id: *d.TrackID}
	}
	return key{
		kind:  byRegion,
		class: d.Class,
		x1:    floorDiv(d.BBox.X1, GridSize),
		y1:    floorDiv(d.BBox.Y1, GridSize),
		x2:    floorDiv(d.BBox.X2, GridSize),
		y2:    floorDiv(d.BBox.Y2, GridSize),
	}
}

// floorDiv rounds toward negative infinity so boxes straddling zero land in
// distinct cells.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

type track struct {
	consecutive int
	lastFrame   uint64
	latest      detector.Detection
}

// Stabilizer tracks objects across frames. It is safe for concurrent use,
// though the pipeline calls it from a single goroutine.
type Stabilizer struct {
	thresholds Thresholds
	logger     *slog.Logger
	mu         sync.Mutex
	frame      uint64
	tracks     map[key]*track
}

// New creates a Stabilizer reading thresholds on every Filter call.
func New(thresholds Thresholds, logger *slog.Logger) *Stabilizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stabilizer{
		thresholds: thresholds,
		logger:     logger.With("component", "stabilizer"),
		tracks:     make(map[key]*track),
	}
}

// Filter advances one frame and classifies raw detections.
//
// A track's consecutive count grows on every hit while the track is alive and
// restarts at 1 for new tracks. Tracks not hit this frame are dropped once they
// have been missing for more than maxMissed frames; until then their count is
// left as is, so a brief detector miss does not restart debouncing.
func (s *Stabilizer) Filter(raw []detector.Detection) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	minConsecutive, maxMissed := s.thresholds.Stability()
	minConsecutive = max(1, minConsecutive)
	maxMissed = max(1, maxMissed)

	s.frame++
	frame := s.frame

	var res Result
	// Index into res.Display per key, so a duplicate replaces the earlier entry.
	shown := make(map[key]int)
	confirmedIdx := make(map[key]int)

	for _, d := range raw {
		if err := d.Validate(); err != nil {
			s.logger.Debug("skipping invalid detection", "error", err)
			continue
		}

		k := keyFor(d)
		t, ok := s.tracks[k]
		if !ok {
			t = &track{}
			s.tracks[k] = t
		}

		if t.lastFrame != frame {
			// Within miss tolerance the streak continues across the gap.
			if ok && frame-t.lastFrame <= uint64(maxMissed)+1 {
				t.consecutive++
			} else {
				t.consecutive = 1
			}
			t.lastFrame = frame
		}
		t.latest = d

		if t.consecutive < minConsecutive {
			continue
		}
		if i, dup := shown[k]; dup {
			res.Display[i] = d
		} else {
			shown[k] = len(res.Display)
			res.Display = append(res.Display, d)
		}
		if t.consecutive == minConsecutive {
			if i, dup := confirmedIdx[k]; dup {
				res.Confirmed[i] = d
			} else {
				confirmedIdx[k] = len(res.Confirmed)
				res.Confirmed = append(res.Confirmed, d)
			}
		}
	}

	for k, t := range s.tracks {
		if t.lastFrame == frame {
			continue
		}
		if frame-t.lastFrame > uint64(maxMissed) {
			delete(s.tracks, k)
		}
	}

	return res
}

// Tracks returns the number of live tracks.
func (s *Stabilizer) Tracks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracks)
}

// Reset drops all tracks and restarts frame counting.
func (s *Stabilizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = make(map[key]*track)
	s.frame = 0
}
