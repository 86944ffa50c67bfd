// Package dbus exposes daemon state and history on the system bus.
package dbus

import (
	"encoding/json"
	"fmt"
	"sync"

	godbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/cptspacemanspiff/kbd-backlightd/internal/activity"
	"github.com/cptspacemanspiff/kbd-backlightd/internal/backlight"
	"github.com/cptspacemanspiff/kbd-backlightd/internal/status"
	"github.com/cptspacemanspiff/kbd-backlightd/internal/storage"
)

const (
	busName   = "io.github.cptspacemanspiff.KbdBacklight"
	objPath   = "/io/github/cptspacemanspiff/KbdBacklight"
	ifaceName = "io.github.cptspacemanspiff.KbdBacklight"

	maxRangeSeconds = 365 * 86400
)

const introspectXML = `
<node>
  <interface name="` + ifaceName + `">
    <method name="GetState">
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetHistory">
      <arg direction="in" type="x" name="from_epoch"/>
      <arg direction="in" type="x" name="to_epoch"/>
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetDeviceEvents">
      <arg direction="in" type="x" name="from_epoch"/>
      <arg direction="in" type="x" name="to_epoch"/>
      <arg direction="out" type="s" name="json"/>
    </method>
    <signal name="StateChanged">
      <arg type="s" name="state"/>
      <arg type="s" name="cause"/>
    </signal>
  </interface>
` + introspect.IntrospectDataString + `
</node>`

// StateSource provides the current daemon state.
type StateSource interface {
	Snapshot() status.Snapshot
}

// History provides stored transitions and device events.
type History interface {
	TransitionsInRange(from, to int64) ([]storage.TransitionRecord, error)
	DeviceEventsInRange(from, to int64) ([]storage.DeviceEvent, error)
}

// Service exposes the daemon over D-Bus. History may be nil when storage
// is disabled; the history methods then fail.
type Service struct {
	state   StateSource
	history History

	mu        sync.Mutex
	emit      func(state, cause string) error
	announced backlight.State
}

// NewService creates a new D-Bus service.
func NewService(state StateSource, history History) *Service {
	return &Service{state: state, history: history}
}

// Export registers the service on the system bus.
func (s *Service) Export() (*godbus.Conn, error) {
	conn, err := godbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}

	if err := conn.Export(s, objPath, ifaceName); err != nil {
		return nil, fmt.Errorf("export service: %w", err)
	}
	if err := conn.Export(introspect.Introspectable(introspectXML), objPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, fmt.Errorf("export introspection: %w", err)
	}

	reply, err := conn.RequestName(busName, godbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, fmt.Errorf("request name: %w", err)
	}
	if reply != godbus.RequestNameReplyPrimaryOwner {
		return nil, fmt.Errorf("name %s already taken", busName)
	}

	s.mu.Lock()
	s.emit = func(state, cause string) error {
		return conn.Emit(objPath, ifaceName+".StateChanged", state, cause)
	}
	s.mu.Unlock()
	return conn, nil
}

// Observe emits StateChanged when a successful write leaves the LED in a
// different state from the one last announced.
func (s *Service) Observe(tr activity.Transition) {
	if tr.Err != nil {
		return
	}
	s.mu.Lock()
	if tr.To == s.announced {
		s.mu.Unlock()
		return
	}
	s.announced = tr.To
	emit := s.emit
	s.mu.Unlock()
	if emit == nil {
		return
	}
	_ = emit(tr.To.String(), string(tr.Cause))
}

// GetState returns the current daemon state as JSON.
func (s *Service) GetState() (string, *godbus.Error) {
	return string(status.FormatJSON(s.state.Snapshot())), nil
}

// GetHistory returns backlight transitions in a time range as JSON.
func (s *Service) GetHistory(fromEpoch, toEpoch int64) (string, *godbus.Error) {
	if err := s.checkHistory(fromEpoch, toEpoch); err != nil {
		return "", err
	}
	records, err := s.history.TransitionsInRange(fromEpoch, toEpoch)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	if records == nil {
		records = []storage.TransitionRecord{}
	}
	return marshal(map[string]any{"transitions": records})
}

// GetDeviceEvents returns input device events in a time range as JSON.
func (s *Service) GetDeviceEvents(fromEpoch, toEpoch int64) (string, *godbus.Error) {
	if err := s.checkHistory(fromEpoch, toEpoch); err != nil {
		return "", err
	}
	events, err := s.history.DeviceEventsInRange(fromEpoch, toEpoch)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	if events == nil {
		events = []storage.DeviceEvent{}
	}
	return marshal(events)
}

func (s *Service) checkHistory(from, to int64) *godbus.Error {
	if s.history == nil {
		return godbus.MakeFailedError(fmt.Errorf("history is disabled"))
	}
	if err := validateRange(from, to); err != nil {
		return godbus.MakeFailedError(err)
	}
	return nil
}

func validateRange(from, to int64) error {
	switch {
	case from < 0:
		return fmt.Errorf("from_epoch must not be negative, got %d", from)
	case to < from:
		return fmt.Errorf("to_epoch %d is before from_epoch %d", to, from)
	case to-from > maxRangeSeconds:
		return fmt.Errorf("range of %d seconds exceeds the maximum of %d", to-from, maxRangeSeconds)
	}
	return nil
}

func marshal(v any) (string, *godbus.Error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return string(data), nil
}
