package server

import (
	"fmt"
	"net/http"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/watchpost/internal/state"
	"github.com/ayusman/watchpost/internal/timeutil"
)

// DefaultStreamFPS is the MJPEG frame rate when none is configured.
const DefaultStreamFPS = 5

// StreamHandler serves the latest captured frames as MJPEG. It reads from
// the shared state and never touches the camera.
type StreamHandler struct {
	state *state.Shared
	clock timeutil.Clock
	fps   int
}

// NewStreamHandler creates a new StreamHandler over st.
func NewStreamHandler(st *state.Shared, clock timeutil.Clock, fps int) *StreamHandler {
	if fps <= 0 {
		fps = DefaultStreamFPS
	}
	return &StreamHandler{state: st, clock: clock, fps: fps}
}

// ServeHTTP streams MJPEG frames to connected clients until the request
// context ends.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ticker := h.clock.NewTicker(time.Second / time.Duration(h.fps))
	defer ticker.Stop()

	var last time.Time
	for {
		frame, ts, ok := h.state.SnapshotLatestFrame()
		if ok && !ts.Equal(last) {
			last = ts
			err := writePart(w, frame)
			frame.Close()
			if err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		} else if ok {
			frame.Close()
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C():
		}
	}
}

// writePart writes one JPEG part of the multipart stream. Encoding failures
// skip the frame.
func writePart(w http.ResponseWriter, frame *gocv.Mat) error {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil
	}
	defer buf.Close()

	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", buf.Len()); err != nil {
		return err
	}
	if _, err := w.Write(buf.GetBytes()); err != nil {
		return err
	}
	_, err = fmt.Fprint(w, "\r\n")
	return err
}
