package status

import (
	"encoding/json"
	"time"
)

// StateJSON is the wire form of a Snapshot.
type StateJSON struct {
	State         string     `json:"state"`
	Pending       bool       `json:"pending,omitempty"`
	Since         string     `json:"since,omitempty"`
	LastCause     string     `json:"last_cause,omitempty"`
	LED           string     `json:"led"`
	MaxBrightness int64      `json:"max_brightness"`
	ActiveLevel   int64      `json:"active_level"`
	IdleLevel     int64      `json:"idle_level"`
	TimeoutSecs   float64    `json:"timeout_seconds"`
	Inputs        []string   `json:"inputs"`
	Dropped       []string   `json:"dropped_inputs,omitempty"`
	Counts        CountsJSON `json:"counts"`
	LastError     string     `json:"last_error,omitempty"`
	MQTT          *MQTTJSON  `json:"mqtt,omitempty"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
}

type CountsJSON struct {
	Activations int `json:"activations"`
	Idles       int `json:"idles"`
	Resumes     int `json:"resumes"`
	WriteErrors int `json:"write_errors"`
}

type MQTTJSON struct {
	Connected bool `json:"connected"`
}

func buildState(snap Snapshot) StateJSON {
	inputs := snap.Devices.Inputs
	if inputs == nil {
		inputs = []string{}
	}
	out := StateJSON{
		State:         snap.State.String(),
		Pending:       snap.Pending,
		LastCause:     string(snap.LastCause),
		LED:           snap.Devices.LED,
		MaxBrightness: snap.Devices.MaxBrightness,
		ActiveLevel:   snap.Devices.ActiveLevel,
		IdleLevel:     snap.Devices.IdleLevel,
		TimeoutSecs:   snap.Devices.Timeout.Seconds(),
		Inputs:        inputs,
		Dropped:       snap.Dropped,
		Counts: CountsJSON{
			Activations: snap.Counts.Activations,
			Idles:       snap.Counts.Idles,
			Resumes:     snap.Counts.Resumes,
			WriteErrors: snap.Counts.WriteErrors,
		},
		LastError:     snap.LastError,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
	}
	if !snap.Since.IsZero() {
		out.Since = snap.Since.UTC().Format(time.RFC3339)
	}
	if snap.MQTTEnabled {
		out.MQTT = &MQTTJSON{Connected: snap.MQTTOnline}
	}
	return out
}

// FormatJSON renders a snapshot for D-Bus clients.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.Marshal(buildState(snap))
	return data
}
