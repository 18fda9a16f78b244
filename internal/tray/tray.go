// Package tray provides an optional desktop tray menu for pausing watchpost
// and glancing at its status.
package tray

import (
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/ayusman/watchpost/internal/timeutil"
)

const defaultRefresh = 5 * time.Second

// Controller pauses and resumes monitoring.
type Controller interface {
	SetEnabled(enabled bool)
	IsEnabled() bool
}

// StatusSource renders the one-line status shown in the menu.
type StatusSource interface {
	ShortStatus() string
}

// Tray represents the system tray application.
type Tray struct {
	control Controller
	status  StatusSource
	clock   timeutil.Clock
	refresh time.Duration

	mu     sync.RWMutex
	onQuit func()

	// Menu items stored for later updates
	menuToggle *systray.MenuItem
	menuStatus *systray.MenuItem
	done       chan struct{}
	closeOnce  sync.Once
}

// New creates a Tray bound to control. status may be nil.
func New(control Controller, status StatusSource, clock timeutil.Clock) *Tray {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Tray{
		control: control,
		status:  status,
		clock:   clock,
		refresh: defaultRefresh,
		done:    make(chan struct{}),
	}
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application. It must be called from the main
// goroutine and blocks until Quit.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit removes the tray icon and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("Watchpost")
	systray.SetTooltip("Watchpost camera monitor")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.control.IsEnabled()), "Pause or resume monitoring")
	systray.AddSeparator()
	t.menuStatus = systray.AddMenuItem("Starting...", "Current status")
	t.menuStatus.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Watchpost")

	go t.refreshLoop()
	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			case <-t.done:
				return
			}
		}
	}()
}

func (t *Tray) onExit() {
	t.closeOnce.Do(func() { close(t.done) })
}

func (t *Tray) refreshLoop() {
	ticker := t.clock.NewTicker(t.refresh)
	defer ticker.Stop()

	for {
		t.Refresh()
		select {
		case <-t.done:
			return
		case <-ticker.C():
		}
	}
}

// Refresh updates the menu titles from the controller and status source.
func (t *Tray) Refresh() {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(t.control.IsEnabled()))
	}
	if t.menuStatus != nil {
		t.menuStatus.SetTitle(t.statusTitle())
	}
}

func (t *Tray) statusTitle() string {
	if !t.control.IsEnabled() {
		return "Paused"
	}
	if t.status == nil {
		return "Monitoring"
	}
	return t.status.ShortStatus()
}

// handleToggle flips monitoring and returns the new state.
func (t *Tray) handleToggle() bool {
	enabled := !t.control.IsEnabled()
	t.control.SetEnabled(enabled)
	t.Refresh()
	return enabled
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback()
	}
	systray.Quit()
}

func toggleTitle(enabled bool) string {
	if enabled {
		return "● Monitoring"
	}
	return "○ Paused"
}
