package celestron

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"nexstar/pkg/alpaca"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	token *fakeToken
	msgs  chan message
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{token: &fakeToken{}, msgs: make(chan message, 16)}
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	select {
	case p.msgs <- message{topic, payload.([]byte)}:
	default:
	}
	return p.token
}

func TestPublishTelemetry(t *testing.T) {
	pub := newFakePublisher()
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	status := alpaca.TelescopeStatus{
		RightAscension: 5.5,
		Declination:    -12,
		Azimuth:        180,
		Altitude:       45,
		Tracking:       true,
	}

	require.NoError(t, publishTelemetry(pub, "nexstar/telemetry", newTelemetryMsg(status, true, now)))

	msg := <-pub.msgs
	assert.Equal(t, "nexstar/telemetry", msg.topic)
	assert.JSONEq(t, `{"ra":5.5,"dec":-12,"az":180,"alt":45,"slewing":false,"tracking":true,"aligned":true,"timestamp":"2025-01-02T03:04:05Z"}`, string(msg.payload))

	pub.token.err = errors.New("broker gone")
	assert.ErrorContains(t, publishTelemetry(pub, "t", telemetryMsg{}), "broker gone")

	pub.token = &fakeToken{timeout: true}
	assert.ErrorContains(t, publishTelemetry(pub, "t", telemetryMsg{}), "timeout")
}

func TestRunPublishesTelemetry(t *testing.T) {
	d, _ := newSimDriver(t)
	connect(t, d)

	// Replace the idle poll loop with a fast one.
	d.cancel()
	<-d.done

	pub := newFakePublisher()
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.run(ctx, 10*time.Millisecond, pub, "obs/telemetry")

	require.NoError(t, d.SlewToCoordinatesAsync(2, 10))

	var got telemetryMsg
	deadline := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case msg := <-pub.msgs:
			assert.Equal(t, "obs/telemetry", msg.topic)
			require.NoError(t, json.Unmarshal(msg.payload, &got))
			done = !got.Slewing && got.RA > 1
		case <-deadline:
			t.Fatal("no telemetry after slew")
		}
	}

	assert.InDelta(t, 2.0, got.RA, 1e-6)
	assert.InDelta(t, 10.0, got.Dec, 1e-6)
	assert.True(t, got.Aligned)

	require.NoError(t, d.Disconnect())
}
