package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ayusman/watchpost/internal/backoff"
	"github.com/ayusman/watchpost/internal/detector"
	"github.com/ayusman/watchpost/internal/ratelimit"
	"github.com/ayusman/watchpost/internal/timeutil"
)

// RateLimitIdentity is the limiter identity used for alert cooldowns. The
// action is "<sink>:<class>".
const RateLimitIdentity = "alerts"

// DefaultQueueSize bounds the number of undelivered alerts.
const DefaultQueueSize = 64

// Config holds dispatcher settings.
type Config struct {
	QueueSize int
	Retry     backoff.Policy
}

// DefaultConfig returns a config with a 3-attempt retry.
func DefaultConfig() Config {
	return Config{
		QueueSize: DefaultQueueSize,
		Retry: backoff.Policy{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
	}
}

// SinkStatus reports the delivery health of one sink.
type SinkStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
	LastError string `json:"last_error,omitempty"`
}

// Dispatcher queues alerts and delivers them on a single worker goroutine.
// When the queue is full the oldest alert is dropped.
type Dispatcher struct {
	cfg      Config
	sinks    []Sink
	limiter  *ratelimit.Limiter
	clock    timeutil.Clock
	recorder Recorder
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending []Alert
	status  map[string]*SinkStatus
	dropped int
	closed  bool

	signal chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

// NewDispatcher starts a dispatcher delivering to sinks. limiter may be nil to
// disable per-class cooldowns; recorder may be nil.
func NewDispatcher(cfg Config, sinks []Sink, limiter *ratelimit.Limiter, clock timeutil.Clock, recorder Recorder, logger *slog.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		cfg:      cfg,
		sinks:    sinks,
		limiter:  limiter,
		clock:    clock,
		recorder: recorder,
		logger:   logger.With("component", "notify"),
		status:   make(map[string]*SinkStatus),
		signal:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	for _, s := range sinks {
		d.status[s.Name()] = &SinkStatus{Name: s.Name(), Available: true}
	}

	go d.run()
	return d
}

// Notify enqueues an alert for dets and returns immediately. It reports
// whether an alert was queued.
func (d *Dispatcher) Notify(dets []detector.Detection) bool {
	if len(dets) == 0 || len(d.sinks) == 0 {
		return false
	}
	alert := NewAlert(dets, d.clock.Now())

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	if len(d.pending) >= d.cfg.QueueSize {
		old := d.pending[0]
		d.pending = d.pending[1:]
		d.dropped++
		d.logger.Warn("notification queue full, dropping oldest alert", "alert_id", old.ID)
	}
	d.pending = append(d.pending, alert)
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
	return true
}

// Status returns per-sink delivery state in sink order.
func (d *Dispatcher) Status() []SinkStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]SinkStatus, 0, len(d.sinks))
	for _, s := range d.sinks {
		out = append(out, *d.status[s.Name()])
	}
	return out
}

// Dropped returns how many alerts were discarded because the queue was full.
func (d *Dispatcher) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Pending returns the number of queued alerts.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close stops accepting alerts, delivers what is queued and closes the sinks.
// If ctx expires first, in-flight deliveries are cancelled and the remaining
// alerts are discarded.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	close(d.stop)

	var err error
	select {
	case <-d.done:
	case <-ctx.Done():
		d.cancel()
		<-d.done
		err = ctx.Err()
	}
	d.cancel()

	for _, s := range d.sinks {
		if cerr := s.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	return err
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for {
		if a, ok := d.next(); ok {
			d.deliver(a)
			continue
		}
		select {
		case <-d.signal:
		case <-d.stop:
			for {
				a, ok := d.next()
				if !ok {
					return
				}
				d.deliver(a)
			}
		}
	}
}

func (d *Dispatcher) next() (Alert, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return Alert{}, false
	}
	a := d.pending[0]
	d.pending = d.pending[1:]
	return a, true
}

func (d *Dispatcher) deliver(a Alert) {
	for _, sink := range d.sinks {
		if d.ctx.Err() != nil {
			return
		}

		filtered := d.allowed(sink.Name(), a)
		if len(filtered.Detections) == 0 {
			d.logger.Debug("alert suppressed by cooldown", "sink", sink.Name(), "alert_id", a.ID)
			continue
		}

		err := backoff.Retry(d.ctx, d.clock, d.cfg.Retry, func(ctx context.Context) error {
			return sink.Send(ctx, filtered)
		})
		if err == nil {
			d.spend(sink.Name(), filtered)
		}
		d.record(sink.Name(), err)
	}
}

// allowed keeps the detections whose (sink, class) pair is out of cooldown.
// It only looks at the cooldown; spend starts it once the sink accepted the alert.
func (d *Dispatcher) allowed(sink string, a Alert) Alert {
	if d.limiter == nil {
		return a
	}
	classes := make(map[string]bool)
	for _, c := range a.Classes() {
		if d.limiter.Remaining(RateLimitIdentity, sink+":"+c) == 0 {
			classes[c] = true
		}
	}
	return a.Only(classes)
}

// spend starts the cooldown of every class delivered to sink.
func (d *Dispatcher) spend(sink string, delivered Alert) {
	if d.limiter == nil {
		return
	}
	for _, c := range delivered.Classes() {
		d.limiter.Allow(RateLimitIdentity, sink+":"+c)
	}
}

func (d *Dispatcher) record(sink string, err error) {
	d.mu.Lock()
	st := d.status[sink]
	if err == nil {
		st.Sent++
		st.Available = true
		st.LastError = ""
	} else {
		st.Failed++
		st.LastError = err.Error()
		if errors.Is(err, backoff.ErrExhausted) {
			st.Available = false
		}
	}
	d.mu.Unlock()

	if err == nil {
		d.recorder.NotificationSent(sink)
		return
	}
	d.recorder.NotificationFailed(sink)
	d.logger.Warn("notification delivery failed", "sink", sink, "error", err)
}
