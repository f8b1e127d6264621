// Package emitter forwards spoken alerts to an MQTT broker so caregivers can
// follow along remotely.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Craftycody123/vision-safe-nav/internal/logger"
	"github.com/Craftycody123/vision-safe-nav/internal/voice"
	"github.com/Craftycody123/vision-safe-nav/internal/warning"
)

// DefaultTopic is the topic alerts are published on.
const DefaultTopic = "vision-safe-nav/alerts"

// Config describes the broker connection.
type Config struct {
	Broker   string // host:port, or a full tcp:// / ssl:// URL
	ClientID string
	Topic    string
	QoS      byte
	Username string
	Password string
}

// Event is the JSON payload of one alert.
type Event struct {
	RunID      string           `json:"run_id"`
	Message    string           `json:"message"`
	Warning    *warning.Warning `json:"warning,omitempty"`
	SpokenAt   time.Time        `json:"spoken_at"`
	DurationMs int64            `json:"duration_ms"`
	Error      string           `json:"error,omitempty"`
}

// publisher is the part of mqtt.Client the emitter uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTEmitter publishes alerts from a background worker. Enqueueing never
// blocks; events are dropped when the queue is full.
type MQTTEmitter struct {
	cfg    Config
	client mqtt.Client
	pub    publisher

	queue     chan Event
	wg        sync.WaitGroup
	closeOnce sync.Once

	connected atomic.Bool
	published atomic.Uint64
	dropped   atomic.Uint64
	errors    atomic.Uint64
}

// Connect dials the broker and starts the publish worker.
func Connect(ctx context.Context, cfg Config) (*MQTTEmitter, error) {
	return connect(ctx, cfg, mqtt.NewClient)
}

// connect does the work of Connect with a swappable client constructor. A
// failed connect disconnects the client so its retry loop stops.
func connect(ctx context.Context, cfg Config, newClient func(*mqtt.ClientOptions) mqtt.Client) (*MQTTEmitter, error) {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("vision-safe-nav-%d", time.Now().UnixNano())
	}

	e := newEmitter(cfg, nil)

	broker := cfg.Broker
	if !hasScheme(broker) {
		broker = "tcp://" + broker
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		e.connected.Store(true)
		logger.Info("MQTT", "connected to %s as %s", broker, cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.connected.Store(false)
		logger.Warn("MQTT", "connection lost, will auto-reconnect: %v", err)
	}

	client := newClient(opts)
	token := client.Connect()
	wait := 5 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		wait = time.Until(dl)
	}
	if !token.WaitTimeout(wait) {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	e.client = client
	e.pub = client
	e.connected.Store(true)
	e.start()
	return e, nil
}

func newEmitter(cfg Config, pub publisher) *MQTTEmitter {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	return &MQTTEmitter{cfg: cfg, pub: pub, queue: make(chan Event, 32)}
}

func (e *MQTTEmitter) start() {
	e.wg.Add(1)
	go e.worker()
}

func (e *MQTTEmitter) worker() {
	defer e.wg.Done()
	for ev := range e.queue {
		if err := e.publish(ev); err != nil {
			e.errors.Add(1)
			logger.Warn("MQTT", "publish %q: %v", ev.Message, err)
		}
	}
}

func (e *MQTTEmitter) publish(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	token := e.pub.Publish(e.cfg.Topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	e.published.Add(1)
	logger.Debug("MQTT", "alert published to %s (%d bytes)", e.cfg.Topic, len(payload))
	return nil
}

// Enqueue schedules ev for publishing.
func (e *MQTTEmitter) Enqueue(ev Event) bool {
	select {
	case e.queue <- ev:
		return true
	default:
		e.dropped.Add(1)
		return false
	}
}

// Observer returns a voice observer that publishes every utterance.
func (e *MQTTEmitter) Observer() voice.Observer {
	return func(u voice.Utterance) {
		ev := Event{
			RunID:      u.RunID,
			Message:    u.Message,
			Warning:    u.Top,
			SpokenAt:   u.StartedAt,
			DurationMs: u.Duration.Milliseconds(),
		}
		if u.Err != nil {
			ev.Error = u.Err.Error()
		}
		e.Enqueue(ev)
	}
}

// Stats reports publish counters.
func (e *MQTTEmitter) Stats() map[string]uint64 {
	return map[string]uint64{
		"published": e.published.Load(),
		"dropped":   e.dropped.Load(),
		"errors":    e.errors.Load(),
	}
}

// Close drains the queue and disconnects. Observers must not fire after Close.
func (e *MQTTEmitter) Close() {
	e.closeOnce.Do(func() {
		close(e.queue)
		e.wg.Wait()
		if e.client != nil {
			e.client.Disconnect(250)
		}
		logger.Info("MQTT", "emitter closed (published=%d dropped=%d errors=%d)",
			e.published.Load(), e.dropped.Load(), e.errors.Load())
	})
}

func hasScheme(broker string) bool {
	for _, s := range []string{"tcp://", "ssl://", "ws://", "wss://", "mqtt://", "mqtts://"} {
		if strings.HasPrefix(broker, s) {
			return true
		}
	}
	return false
}

// Connected reports whether the broker link is up.
func (e *MQTTEmitter) Connected() bool {
	return e.connected.Load()
}
