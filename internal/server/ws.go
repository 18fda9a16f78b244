package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/watchpost/internal/detector"
	"github.com/ayusman/watchpost/internal/state"
	"github.com/ayusman/watchpost/internal/timeutil"
)

const (
	// DefaultLiveInterval is how often the live feed polls for new detections.
	DefaultLiveInterval = 250 * time.Millisecond
	liveWriteWait       = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // operator identity is checked before the upgrade
	},
}

// LiveMessage is one update on the live feed.
type LiveMessage struct {
	Timestamp  int64                `json:"timestamp"`
	Detections []detector.Detection `json:"detections"`
}

// LiveHandler broadcasts the display detections of each new frame via
// WebSocket. Only Run writes to connections.
type LiveHandler struct {
	state    *state.Shared
	clock    timeutil.Clock
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewLiveHandler creates a LiveHandler polling st every interval.
func NewLiveHandler(st *state.Shared, clock timeutil.Clock, interval time.Duration, logger *slog.Logger) *LiveHandler {
	if interval <= 0 {
		interval = DefaultLiveInterval
	}
	return &LiveHandler{
		state:    st,
		clock:    clock,
		interval: interval,
		logger:   logger,
		clients:  make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP handles WebSocket upgrade requests and blocks until the client
// goes away.
func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("live client connected", "remote", r.RemoteAddr)

	defer h.remove(conn)

	// Drain client messages; a read error means the connection is gone.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Clients returns the number of connected clients.
func (h *LiveHandler) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *LiveHandler) remove(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// Run broadcasts until ctx is cancelled, then closes every client.
func (h *LiveHandler) Run(ctx context.Context) error {
	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case <-ticker.C():
		}

		if h.Clients() == 0 {
			continue
		}
		dets, ts := h.state.LatestDetectionsAt()
		if ts.IsZero() || ts.Equal(last) {
			continue
		}
		last = ts

		if dets == nil {
			dets = []detector.Detection{}
		}
		msg, err := json.Marshal(LiveMessage{Timestamp: ts.UnixMilli(), Detections: dets})
		if err != nil {
			h.logger.Error("failed to encode live message", "error", err)
			continue
		}
		h.broadcast(msg)
	}
}

func (h *LiveHandler) broadcast(msg []byte) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(liveWriteWait))
		if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Debug("dropping live client", "error", err)
			h.remove(c)
		}
	}
}

func (h *LiveHandler) closeAll() {
	h.mu.Lock()
	conns := h.clients
	h.clients = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()

	for c := range conns {
		c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(liveWriteWait))
		c.Close()
	}
}
