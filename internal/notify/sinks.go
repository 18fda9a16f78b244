package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/ayusman/watchpost/internal/hook"
)

// ShoutrrrSink sends alerts through shoutrrr service URLs such as
// telegram://token@telegram?chats=123.
type ShoutrrrSink struct {
	sender *router.ServiceRouter
}

// NewShoutrrrSink builds one sender for all urls.
func NewShoutrrrSink(urls []string, timeout time.Duration) (*ShoutrrrSink, error) {
	if len(urls) == 0 {
		return nil, errors.New("at least one URL is required")
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("create shoutrrr sender: %s", redact(err.Error(), urls))
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	return &ShoutrrrSink{sender: sender}, nil
}

// Name implements Sink.
func (s *ShoutrrrSink) Name() string { return "push" }

// Send implements Sink. The router applies its own timeout.
func (s *ShoutrrrSink) Send(_ context.Context, a Alert) error {
	params := stypes.Params{}
	params.SetTitle(a.Title())

	for _, err := range s.sender.Send(a.Message(), &params) {
		if err != nil {
			return err
		}
	}
	return nil
}

// Close implements Sink.
func (s *ShoutrrrSink) Close() error { return nil }

// redact strips URL credentials from an error message.
func redact(msg string, urls []string) string {
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || u.User == nil {
			continue
		}
		msg = strings.ReplaceAll(msg, u.User.String(), "***")
	}
	return msg
}

// MQTTConfig configures the MQTT sink.
type MQTTConfig struct {
	Broker         string
	Topic          string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	Retain         bool
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// MQTTSink publishes each alert as JSON to a topic.
type MQTTSink struct {
	cfg    MQTTConfig
	client mqtt.Client
	logger *slog.Logger
}

// NewMQTTSink creates an auto-reconnecting client. Call Connect before the
// first send.
func NewMQTTSink(cfg MQTTConfig, logger *slog.Logger) *MQTTSink {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("mqtt connection established", "broker", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, will auto-reconnect", "broker", cfg.Broker, "error", err)
	}

	return newMQTTSink(cfg, mqtt.NewClient(opts), logger)
}

func newMQTTSink(cfg MQTTConfig, client mqtt.Client, logger *slog.Logger) *MQTTSink {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	return &MQTTSink{cfg: cfg, client: client, logger: logger}
}

// Connect dials the broker.
func (s *MQTTSink) Connect() error {
	token := s.client.Connect()
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

// Name implements Sink.
func (s *MQTTSink) Name() string { return "mqtt" }

// Send implements Sink.
func (s *MQTTSink) Send(ctx context.Context, a Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	token := s.client.Publish(s.cfg.Topic, s.cfg.QoS, s.cfg.Retain, payload)
	if !token.WaitTimeout(s.cfg.PublishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// Close implements Sink.
func (s *MQTTSink) Close() error {
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	return nil
}

// HookSink runs every discovered hook subscribed to sighting events.
type HookSink struct {
	manager  *hook.Manager
	executor *hook.Executor

	// Hooks that already accepted alertID. A retry of the same alert runs
	// only the rest.
	mu      sync.Mutex
	alertID string
	done    map[string]bool
}

// NewHookSink creates a sink over the hooks known to manager.
func NewHookSink(manager *hook.Manager, executor *hook.Executor) *HookSink {
	return &HookSink{manager: manager, executor: executor}
}

// Name implements Sink.
func (s *HookSink) Name() string { return "hooks" }

// Send implements Sink. Every hook runs even if an earlier one fails. When
// the same alert is sent again after a failure, hooks that succeeded the
// first time are skipped.
func (s *HookSink) Send(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alertID != a.ID {
		s.alertID = a.ID
		s.done = make(map[string]bool)
	}

	var errs []error
	for _, h := range s.manager.ForEvent(hook.EventSighting) {
		if s.done[h.Manifest.Name] {
			continue
		}
		if _, err := s.executor.Execute(ctx, h, &hook.Request{
			Event:   hook.EventSighting,
			Payload: payload,
		}); err != nil {
			errs = append(errs, fmt.Errorf("hook %s: %w", h.Manifest.Name, err))
			continue
		}
		s.done[h.Manifest.Name] = true
	}
	return errors.Join(errs...)
}

// Close implements Sink.
func (s *HookSink) Close() error { return nil }
