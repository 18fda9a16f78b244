package detector

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu         sync.Mutex
	results    []RawDetection
	queue      [][]RawDetection
	err        error
	calls      int
	confidence float64
	closed     bool
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetResults sets the detections returned by every Infer call.
func (m *MockDetector) SetResults(results []RawDetection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = results
}

// QueueResults appends per-call results. Queued batches are returned in order
// before falling back to the fixed results.
func (m *MockDetector) QueueResults(batches ...[]RawDetection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, batches...)
}

// SetError sets the error that will be returned by Infer.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Infer has been invoked.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastConfidence returns the confidence passed to the most recent Infer call.
func (m *MockDetector) LastConfidence() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confidence
}

// Infer returns the pre-configured detections or error, dropping results
// below confidence the way a real backend would.
func (m *MockDetector) Infer(frame *gocv.Mat, confidence float64) ([]RawDetection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.confidence = confidence
	if m.err != nil {
		return nil, m.err
	}

	results := m.results
	if len(m.queue) > 0 {
		results = m.queue[0]
		m.queue = m.queue[1:]
	}

	out := make([]RawDetection, 0, len(results))
	for _, r := range results {
		if r.Confidence >= confidence {
			out = append(out, r)
		}
	}
	return out, nil
}

// Close marks the mock as closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Person returns a preset raw person detection with the given track id.
func Person(trackID int) RawDetection {
	id := trackID
	return RawDetection{
		Class:      "person",
		Confidence: 0.9,
		TrackID:    &id,
		BBox:       [4]int{100, 80, 220, 400},
	}
}

// Cat returns a preset untracked raw cat detection.
func Cat() RawDetection {
	return RawDetection{
		Class:      "cat",
		Confidence: 0.75,
		BBox:       [4]int{300, 320, 420, 410},
	}
}
