package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Craftycody123/vision-safe-nav/internal/voice"
	"github.com/Craftycody123/vision-safe-nav/internal/warning"
)

type fakeToken struct{ err error }

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t fakeToken) Error() error { return t.err }

type fakePublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload.([]byte))
	return fakeToken{err: p.err}
}

func TestObserverPublishesUtterance(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	e := newEmitter(Config{}, pub)
	e.start()

	top := warning.Warning{Object: "couch", Direction: warning.Right, Priority: 2}
	e.Observer()(voice.Utterance{
		Announcement: voice.Announcement{RunID: "run-1", Message: "couch right", Top: &top},
		StartedAt:    time.UnixMilli(1000),
		Duration:     800 * time.Millisecond,
	})
	e.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.payloads, 1)
	assert.Equal(t, DefaultTopic, pub.topics[0])

	var ev Event
	require.NoError(t, json.Unmarshal(pub.payloads[0], &ev))
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, "couch right", ev.Message)
	require.NotNil(t, ev.Warning)
	assert.Equal(t, top, *ev.Warning)
	assert.Equal(t, int64(800), ev.DurationMs)
	assert.Equal(t, uint64(1), e.Stats()["published"])
}

func TestPublishErrorsAreCounted(t *testing.T) {
	t.Parallel()

	e := newEmitter(Config{Topic: "custom/topic"}, &fakePublisher{err: errors.New("not connected")})
	e.start()
	assert.True(t, e.Enqueue(Event{Message: "path clear"}))
	e.Close()

	assert.Equal(t, uint64(1), e.Stats()["errors"])
	assert.Equal(t, uint64(0), e.Stats()["published"])
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	t.Parallel()

	e := newEmitter(Config{}, &fakePublisher{})
	for i := 0; i < cap(e.queue); i++ {
		require.True(t, e.Enqueue(Event{Message: "x"}))
	}
	assert.False(t, e.Enqueue(Event{Message: "overflow"}))
	assert.Equal(t, uint64(1), e.Stats()["dropped"])
}

func TestHasScheme(t *testing.T) {
	t.Parallel()

	assert.True(t, hasScheme("tcp://broker:1883"))
	assert.True(t, hasScheme("ssl://broker:8883"))
	assert.False(t, hasScheme("broker:1883"))
}

// stalledToken never completes within a wait.
type stalledToken struct{ fakeToken }

func (stalledToken) WaitTimeout(time.Duration) bool { return false }

// dialClient embeds mqtt.Client so only the methods connect uses need bodies.
type dialClient struct {
	mqtt.Client
	token        mqtt.Token
	broker       string
	disconnected chan uint
}

func (c *dialClient) Connect() mqtt.Token { return c.token }

func (c *dialClient) Disconnect(quiesce uint) { c.disconnected <- quiesce }

func dialer(c *dialClient) func(*mqtt.ClientOptions) mqtt.Client {
	return func(opts *mqtt.ClientOptions) mqtt.Client {
		c.broker = opts.Servers[0].String()
		return c
	}
}

func TestConnectFailureDisconnects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		token mqtt.Token
		want  string
	}{
		{"timeout", stalledToken{}, "mqtt connection timeout"},
		{"refused", fakeToken{err: errors.New("not authorized")}, "not authorized"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := &dialClient{token: tt.token, disconnected: make(chan uint, 1)}
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			e, err := connect(ctx, Config{Broker: "broker:1883"}, dialer(c))
			require.ErrorContains(t, err, tt.want)
			assert.Nil(t, e)
			assert.Equal(t, "tcp://broker:1883", c.broker)

			select {
			case q := <-c.disconnected:
				assert.Equal(t, uint(0), q)
			default:
				t.Fatal("client left reconnecting after a failed connect")
			}
		})
	}
}

func TestConnectSuccessKeepsClient(t *testing.T) {
	t.Parallel()

	c := &dialClient{token: fakeToken{}, disconnected: make(chan uint, 1)}
	e, err := connect(context.Background(), Config{Broker: "ssl://broker:8883"}, dialer(c))
	require.NoError(t, err)
	assert.True(t, e.Connected())
	assert.Equal(t, "ssl://broker:8883", c.broker)
	assert.Empty(t, c.disconnected)

	e.Close()
	assert.Equal(t, uint(250), <-c.disconnected)
}
