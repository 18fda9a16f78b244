package detector

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Thumbnail defaults.
const (
	ThumbnailSize    = 200
	ThumbnailQuality = 50
	thumbnailPadding = 0.1
)

// ErrEmptyCrop is returned when a box does not overlap the frame.
var ErrEmptyCrop = errors.New("crop region is empty")

// CropRegion expands box by 10% on each side and clips it to the frame size.
func CropRegion(box BBox, frameWidth, frameHeight int) (image.Rectangle, error) {
	w := max(1, box.Width())
	h := max(1, box.Height())
	padX := int(float64(w) * thumbnailPadding)
	padY := int(float64(h) * thumbnailPadding)

	// image.Rect would canonicalize an inverted box, so build it directly.
	r := image.Rectangle{
		Min: image.Pt(max(0, box.X1-padX), max(0, box.Y1-padY)),
		Max: image.Pt(min(frameWidth, box.X2+padX), min(frameHeight, box.Y2+padY)),
	}
	if r.Dx() <= 0 || r.Dy() <= 0 {
		return image.Rectangle{}, ErrEmptyCrop
	}
	return r, nil
}

// Thumbnail crops det's region out of frame, resizes it to a square and
// encodes it as a low quality JPEG.
func Thumbnail(frame *gocv.Mat, box BBox) ([]byte, error) {
	if frame == nil || frame.Empty() {
		return nil, ErrEmptyCrop
	}

	rect, err := CropRegion(box, frame.Cols(), frame.Rows())
	if err != nil {
		return nil, err
	}

	crop := frame.Region(rect)
	defer crop.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(crop, &resized, image.Pt(ThumbnailSize, ThumbnailSize), 0, 0, gocv.InterpolationArea)

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, resized, []int{gocv.IMWriteJpegQuality, ThumbnailQuality})
	if err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}

// AttachThumbnails returns copies of dets enriched with thumbnails cut from
// frame. Detections that already carry one, or whose crop fails, are
// returned unchanged.
func AttachThumbnails(frame *gocv.Mat, dets []Detection) []Detection {
	out := make([]Detection, len(dets))
	for i, d := range dets {
		if d.Thumbnail != nil {
			out[i] = d.Clone()
			continue
		}
		thumb, err := Thumbnail(frame, d.BBox)
		if err != nil {
			out[i] = d.Clone()
			continue
		}
		out[i] = d.WithThumbnail(thumb)
	}
	return out
}
