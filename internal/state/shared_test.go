package state

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/watchpost/internal/detector"
	"github.com/ayusman/watchpost/internal/timeutil"
)

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func det(class string, at time.Time) detector.Detection {
	return detector.Detection{
		Timestamp:  at,
		Class:      class,
		Confidence: 0.8,
		BBox:       detector.BBox{X1: 1, Y1: 1, X2: 10, Y2: 10},
	}
}

func grayFrame(v float64) gocv.Mat {
	m := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC1)
	m.SetTo(gocv.NewScalar(v, 0, 0, 0))
	return m
}

func TestRecord_EmptyIsNoop(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	s := New(10, clock)

	s.Record(nil)
	s.Record([]detector.Detection{})

	st := s.Stats()
	assert.Equal(t, 0, st.TotalDetections)
	assert.Empty(t, st.ClassCounts)
	assert.True(t, st.LastDetection.IsZero())
	assert.Empty(t, s.History())
}

func TestRecord_CountsAndLastDetection(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	s := New(10, clock)

	clock.Advance(time.Minute)
	s.Record([]detector.Detection{det("person", epoch), det("cat", epoch), det("person", epoch)})

	st := s.Stats()
	assert.Equal(t, 3, st.TotalDetections)
	assert.Equal(t, map[string]int{"person": 2, "cat": 1}, st.ClassCounts)
	assert.Equal(t, epoch.Add(time.Minute), st.LastDetection)
	assert.Equal(t, time.Minute, st.Uptime)

	// Record([]) afterwards leaves the timestamp alone
	clock.Advance(time.Minute)
	s.Record(nil)
	assert.Equal(t, epoch.Add(time.Minute), s.Stats().LastDetection)
}

func TestRecord_EvictsOldestAtCapacity(t *testing.T) {
	s := New(3, timeutil.NewMockClock(epoch))

	for i := 0; i < 4; i++ {
		s.Record([]detector.Detection{det("c"+strconv.Itoa(i), epoch.Add(time.Duration(i)*time.Second))})
	}

	h := s.History()
	require.Len(t, h, 3)
	got := []string{h[0].Class, h[1].Class, h[2].Class}
	if diff := cmp.Diff([]string{"c1", "c2", "c3"}, got); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 4, s.Stats().TotalDetections, "counters are not bounded by history capacity")
}

func TestHistorySince(t *testing.T) {
	s := New(10, timeutil.NewMockClock(epoch))
	s.Record([]detector.Detection{
		det("old", epoch.Add(-2*time.Hour)),
		det("recent", epoch.Add(-30*time.Minute)),
		det("now", epoch),
	})

	h := s.HistorySince(epoch.Add(-time.Hour))
	require.Len(t, h, 2)
	assert.Equal(t, "recent", h[0].Class)
	assert.Equal(t, "now", h[1].Class)
}

func TestHistory_ReturnsCopies(t *testing.T) {
	s := New(10, timeutil.NewMockClock(epoch))
	id := 4
	d := det("person", epoch)
	d.TrackID = &id
	s.Record([]detector.Detection{d})

	h := s.History()
	*h[0].TrackID = 99
	h[0].Class = "mutated"

	again := s.History()
	assert.Equal(t, "person", again[0].Class)
	assert.Equal(t, 4, *again[0].TrackID)
}

func TestReset(t *testing.T) {
	s := New(10, timeutil.NewMockClock(epoch))
	s.Record([]detector.Detection{det("person", epoch)})

	s.Reset()

	st := s.Stats()
	assert.Equal(t, 0, st.TotalDetections)
	assert.Empty(t, st.ClassCounts)
	assert.True(t, st.LastDetection.IsZero())
	assert.Empty(t, s.History())

	s.Record([]detector.Detection{det("cat", epoch)})
	assert.Len(t, s.History(), 1)
}

func TestStats_ClassCountsIsCopy(t *testing.T) {
	s := New(10, timeutil.NewMockClock(epoch))
	s.Record([]detector.Detection{det("person", epoch)})

	st := s.Stats()
	st.ClassCounts["person"] = 100

	assert.Equal(t, 1, s.Stats().ClassCounts["person"])
}

func TestNew_DefaultCapacity(t *testing.T) {
	s := New(0, nil)
	assert.Equal(t, DefaultHistoryCapacity, s.Capacity())
}

func TestSnapshot_NoFrame(t *testing.T) {
	s := New(10, timeutil.NewMockClock(epoch))

	_, _, ok := s.SnapshotLatestFrame()
	assert.False(t, ok)
	_, ok = s.SnapshotLatestFrameWithDetections()
	assert.False(t, ok)
}

func TestUpdateFrame_KeepsDetections(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	clock := timeutil.NewMockClock(epoch)
	s := New(10, clock)
	defer s.Close()

	f1 := grayFrame(10)
	defer f1.Close()
	f2 := grayFrame(20)
	defer f2.Close()

	s.UpdateFrameWithDetections(&f1, []detector.Detection{det("person", epoch)})
	clock.Advance(time.Second)
	s.UpdateFrame(&f2)

	obs, ok := s.SnapshotLatestFrameWithDetections()
	require.True(t, ok)
	defer obs.Close()

	assert.Equal(t, uint8(20), obs.Frame.GetUCharAt(0, 0))
	assert.Equal(t, epoch.Add(time.Second), obs.Timestamp)
	require.Len(t, obs.Detections, 1)
	assert.Equal(t, "person", obs.Detections[0].Class)

	// Empty detections clear the display set together with the new frame
	s.UpdateFrameWithDetections(&f1, nil)
	assert.Empty(t, s.LatestDetections())
}

func TestSnapshot_IsIndependent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	s := New(10, timeutil.NewMockClock(epoch))
	defer s.Close()

	src := grayFrame(50)
	defer src.Close()
	s.UpdateFrame(&src)

	// Mutating the caller's frame after the update must not leak in
	src.SetTo(gocv.NewScalar(99, 0, 0, 0))

	snap, _, ok := s.SnapshotLatestFrame()
	require.True(t, ok)
	defer snap.Close()
	assert.Equal(t, uint8(50), snap.GetUCharAt(0, 0))

	// Mutating the snapshot must not leak back
	snap.SetTo(gocv.NewScalar(1, 0, 0, 0))
	again, _, _ := s.SnapshotLatestFrame()
	defer again.Close()
	assert.Equal(t, uint8(50), again.GetUCharAt(0, 0))
}

func TestUpdateFrameWithDetections_AtomicPair(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	s := New(10, nil)
	defer s.Close()

	const rounds = 200
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= rounds; i++ {
			f := grayFrame(float64(i))
			s.UpdateFrameWithDetections(&f, []detector.Detection{det(strconv.Itoa(i), epoch)})
			f.Close()
		}
		close(stop)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				obs, ok := s.SnapshotLatestFrameWithDetections()
				if !ok {
					continue
				}
				pixel := int(obs.Frame.GetUCharAt(0, 0))
				if len(obs.Detections) != 1 || obs.Detections[0].Class != strconv.Itoa(pixel) {
					t.Errorf("frame %d paired with detections %+v", pixel, obs.Detections)
				}
				obs.Close()
			}
		}()
	}

	wg.Wait()
}

func TestLatestDetectionsAt(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	clock := timeutil.NewMockClock(epoch)
	s := New(10, clock)
	defer s.Close()

	dets, ts := s.LatestDetectionsAt()
	assert.Empty(t, dets)
	assert.True(t, ts.IsZero())

	f := grayFrame(5)
	defer f.Close()
	clock.Advance(time.Minute)
	s.UpdateFrameWithDetections(&f, []detector.Detection{det("cat", epoch)})

	dets, ts = s.LatestDetectionsAt()
	require.Len(t, dets, 1)
	assert.Equal(t, "cat", dets[0].Class)
	assert.Equal(t, epoch.Add(time.Minute), ts)
}
