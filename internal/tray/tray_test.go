package tray

import (
	"sync"
	"testing"
)

type fakeController struct {
	mu      sync.Mutex
	enabled bool
	calls   int
}

func (f *fakeController) SetEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = enabled
	f.calls++
}

func (f *fakeController) IsEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

type fixedStatus string

func (s fixedStatus) ShortStatus() string { return string(s) }

func TestHandleToggle(t *testing.T) {
	ctrl := &fakeController{enabled: true}
	tr := New(ctrl, nil, nil)

	if got := tr.handleToggle(); got {
		t.Error("first toggle should pause")
	}
	if ctrl.IsEnabled() {
		t.Error("controller should be paused")
	}
	if got := tr.handleToggle(); !got {
		t.Error("second toggle should resume")
	}
	if ctrl.calls != 2 {
		t.Errorf("expected 2 SetEnabled calls, got %d", ctrl.calls)
	}
}

func TestStatusTitle(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		status  StatusSource
		want    string
	}{
		{"paused", false, fixedStatus("up 1m"), "Paused"},
		{"no source", true, nil, "Monitoring"},
		{"from source", true, fixedStatus("up 1m, 3 events"), "up 1m, 3 events"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(&fakeController{enabled: tt.enabled}, tt.status, nil)
			if got := tr.statusTitle(); got != tt.want {
				t.Errorf("statusTitle() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToggleTitle(t *testing.T) {
	if toggleTitle(true) == toggleTitle(false) {
		t.Error("titles should differ by state")
	}
}

func TestRefresh_BeforeReady(t *testing.T) {
	tr := New(&fakeController{enabled: true}, fixedStatus("ok"), nil)
	// No menu items yet; must not panic.
	tr.Refresh()
}
