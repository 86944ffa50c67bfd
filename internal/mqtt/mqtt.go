// Package mqtt publishes backlight state changes to an MQTT broker.
package mqtt

import (
	"encoding/json"
	"time"
)

// Publisher publishes state events to MQTT.
type Publisher interface {
	// Publish sends a state event to the broker. Failures are reported but
	// must not stop the daemon.
	Publish(event Event) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Event is a backlight state change.
type Event struct {
	Timestamp time.Time
	State     string
	From      string
	Cause     string
	LED       string
}

// Payload is the JSON body of a state message.
type Payload struct {
	Backlight BacklightPayload `json:"backlight"`
}

type BacklightPayload struct {
	Timestamp string `json:"timestamp"`
	LED       string `json:"led,omitempty"`
	State     string `json:"state"`
	From      string `json:"from"`
	Cause     string `json:"cause"`
}

// FormatPayload creates the JSON payload for a state event.
func FormatPayload(event Event) ([]byte, error) {
	payload := Payload{
		Backlight: BacklightPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			LED:       event.LED,
			State:     event.State,
			From:      event.From,
			Cause:     event.Cause,
		},
	}
	return json.Marshal(payload)
}

// AvailabilityTopic is where the daemon announces "online", with "offline"
// set as its last will.
func AvailabilityTopic(topic string) string {
	return topic + "/availability"
}
