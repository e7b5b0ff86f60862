package celestron

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"nexstar/pkg/alpaca"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const publishTimeout = 2 * time.Second

// publisher is the subset of mqtt.Client used to send telemetry.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// createMQTTClient initializes and connects a new MQTT client.
func createMQTTClient(cfg MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.SetClientID("nexstar-alpaca")
	opts.AddBroker(cfg.Host)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)

	mqttClient := mqtt.NewClient(opts)
	if token := mqttClient.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %v", token.Error())
	}
	return mqttClient, nil
}

type telemetryMsg struct {
	RA        float64 `json:"ra"`  // hours
	Dec       float64 `json:"dec"` // degrees
	Az        float64 `json:"az"`
	Alt       float64 `json:"alt"`
	Slewing   bool    `json:"slewing"`
	Tracking  bool    `json:"tracking"`
	Aligned   bool    `json:"aligned"`
	Timestamp string  `json:"timestamp"`
}

func newTelemetryMsg(status alpaca.TelescopeStatus, aligned bool, now time.Time) telemetryMsg {
	return telemetryMsg{
		RA:        status.RightAscension,
		Dec:       status.Declination,
		Az:        status.Azimuth,
		Alt:       status.Altitude,
		Slewing:   status.Slewing,
		Tracking:  status.Tracking,
		Aligned:   aligned,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

func publishTelemetry(pub publisher, topic string, msg telemetryMsg) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	token := pub.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timeout publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish telemetry: %v", err)
	}
	return nil
}

// run polls the mount every interval until ctx is cancelled, publishing each
// fresh status when pub is not nil.
func (d *Driver) run(ctx context.Context, interval time.Duration, pub publisher, topic string) {
	defer close(d.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.Debugf("Polling mount every %s", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		d.mu.Lock()
		err := d.poll()
		d.mu.Unlock()
		if err != nil {
			d.logger.Warnf("Failed to poll mount: %v", err)
			continue
		}

		if pub == nil {
			continue
		}

		d.statusMu.RLock()
		msg := newTelemetryMsg(d.status, d.aligned, time.Now())
		d.statusMu.RUnlock()

		if err := publishTelemetry(pub, topic, msg); err != nil {
			d.logger.Warnf("Telemetry: %v", err)
		}
	}
}
