package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeline_Recorders(t *testing.T) {
	m := New()

	m.NotificationSent("push")
	m.NotificationSent("push")
	m.NotificationFailed("mqtt")
	m.ObserveRequest("status", "ok")
	m.SetCaptureAvailable(true)
	m.Confirmed.WithLabelValues("person").Add(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.NotificationsSent.WithLabelValues("push")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsError.WithLabelValues("mqtt")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("status", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CaptureAvailable))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Confirmed.WithLabelValues("person")))

	m.SetCaptureAvailable(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CaptureAvailable))
}

func TestPipeline_Handler(t *testing.T) {
	m := New()
	m.FramesCaptured.Add(5)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "watchpost_frames_captured_total 5"))
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNew_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.FramesAdmitted.Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.FramesAdmitted))
	assert.NotSame(t, a.Registry(), b.Registry())
}
