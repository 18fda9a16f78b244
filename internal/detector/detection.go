package detector

import (
	"errors"
	"fmt"
	"image"
	"time"
)

// ErrInvalidDetection is returned by Validate for malformed detections.
var ErrInvalidDetection = errors.New("invalid detection")

// BBox is an axis-aligned bounding box in pixel coordinates.
// X1 < X2 and Y1 < Y2 for a valid box.
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Width returns the horizontal extent of the box.
func (b BBox) Width() int { return b.X2 - b.X1 }

// Height returns the vertical extent of the box.
func (b BBox) Height() int { return b.Y2 - b.Y1 }

// Rect converts the box to an image.Rectangle.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Detection is one detected object instance at one moment.
type Detection struct {
	Timestamp  time.Time `json:"timestamp"`
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	TrackID    *int      `json:"track_id,omitempty"`
	BBox       BBox      `json:"bbox"`
	Thumbnail  []byte    `json:"-"`
}

// Validate reports whether the detection satisfies the box and confidence
// invariants.
func (d Detection) Validate() error {
	if d.Class == "" {
		return fmt.Errorf("%w: empty class", ErrInvalidDetection)
	}
	if d.Confidence < 0 || d.Confidence > 1 || d.Confidence != d.Confidence {
		return fmt.Errorf("%w: confidence %v out of range", ErrInvalidDetection, d.Confidence)
	}
	if d.BBox.X1 >= d.BBox.X2 || d.BBox.Y1 >= d.BBox.Y2 {
		return fmt.Errorf("%w: degenerate bbox %+v", ErrInvalidDetection, d.BBox)
	}
	return nil
}

// Clone returns a deep copy; TrackID and Thumbnail are not shared.
func (d Detection) Clone() Detection {
	c := d
	if d.TrackID != nil {
		id := *d.TrackID
		c.TrackID = &id
	}
	if d.Thumbnail != nil {
		c.Thumbnail = append([]byte(nil), d.Thumbnail...)
	}
	return c
}

// WithThumbnail returns a copy of d carrying the given JPEG thumbnail.
func (d Detection) WithThumbnail(jpeg []byte) Detection {
	c := d.Clone()
	c.Thumbnail = append([]byte(nil), jpeg...)
	return c
}

// HasTrackID reports whether the detector assigned a persistent track id.
func (d Detection) HasTrackID() bool {
	return d.TrackID != nil
}

// CloneAll deep-copies a slice of detections. A nil input yields nil.
func CloneAll(dets []Detection) []Detection {
	if dets == nil {
		return nil
	}
	out := make([]Detection, len(dets))
	for i, d := range dets {
		out[i] = d.Clone()
	}
	return out
}

// RawDetection is a single result as reported by the inference backend,
// before it is stamped with a capture time.
type RawDetection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	TrackID    *int    `json:"track_id,omitempty"`
	BBox       [4]int  `json:"bbox"`
}

// ToDetection converts r into a Detection observed at ts.
func (r RawDetection) ToDetection(ts time.Time) Detection {
	d := Detection{
		Timestamp:  ts,
		Class:      r.Class,
		Confidence: r.Confidence,
		BBox:       BBox{X1: r.BBox[0], Y1: r.BBox[1], X2: r.BBox[2], Y2: r.BBox[3]},
	}
	if r.TrackID != nil {
		id := *r.TrackID
		d.TrackID = &id
	}
	return d
}

// ToDetections converts a batch of raw results observed at ts.
func ToDetections(raw []RawDetection, ts time.Time) []Detection {
	out := make([]Detection, 0, len(raw))
	for _, r := range raw {
		out = append(out, r.ToDetection(ts))
	}
	return out
}
