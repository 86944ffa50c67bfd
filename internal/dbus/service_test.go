package dbus

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	godbus "github.com/godbus/dbus/v5"

	"github.com/cptspacemanspiff/kbd-backlightd/internal/activity"
	"github.com/cptspacemanspiff/kbd-backlightd/internal/backlight"
	"github.com/cptspacemanspiff/kbd-backlightd/internal/status"
	"github.com/cptspacemanspiff/kbd-backlightd/internal/storage"
)

func newTestService(t *testing.T) (*Service, *status.Tracker, *storage.DB) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := storage.Open(path)
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("db.Close() error = %v", err)
		}
	})

	tracker := status.NewTracker(time.Unix(0, 0), status.Devices{
		LED:    "tpacpi::kbd_backlight",
		Inputs: []string{"/dev/input/event3"},
	})
	return NewService(tracker, db), tracker, db
}

func TestService_InvalidTimeRanges(t *testing.T) {
	svc, _, _ := newTestService(t)

	tests := []struct {
		name string
		call func() *godbus.Error
	}{
		{
			name: "GetHistory negative from",
			call: func() *godbus.Error {
				_, err := svc.GetHistory(-1, 0)
				return err
			},
		},
		{
			name: "GetHistory to before from",
			call: func() *godbus.Error {
				_, err := svc.GetHistory(10, 9)
				return err
			},
		},
		{
			name: "GetHistory range too large",
			call: func() *godbus.Error {
				_, err := svc.GetHistory(0, 86400*366)
				return err
			},
		},
		{
			name: "GetDeviceEvents negative from",
			call: func() *godbus.Error {
				_, err := svc.GetDeviceEvents(-1, 0)
				return err
			},
		},
		{
			name: "GetDeviceEvents to before from",
			call: func() *godbus.Error {
				_, err := svc.GetDeviceEvents(10, 9)
				return err
			},
		},
		{
			name: "GetDeviceEvents range too large",
			call: func() *godbus.Error {
				_, err := svc.GetDeviceEvents(0, 86400*366)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); err == nil {
				t.Fatal("expected D-Bus error, got nil")
			}
		})
	}
}

func TestService_MaximumRangeAccepted(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.GetHistory(0, maxRangeSeconds); err != nil {
		t.Fatalf("GetHistory(0, max) error = %v", err)
	}
}

func TestService_SuccessJSONShapes(t *testing.T) {
	svc, tracker, db := newTestService(t)

	tracker.Observe(activity.Transition{Time: time.Unix(100, 0), From: backlight.StateUnknown, To: backlight.StateActive, Cause: activity.CauseStartup})
	if err := db.InsertTransition(storage.TransitionRecord{Timestamp: 100, From: "unknown", To: "active", Cause: "startup"}); err != nil {
		t.Fatalf("InsertTransition() error = %v", err)
	}
	if err := db.InsertDeviceEvent(storage.DeviceEvent{Timestamp: 100, Path: "/dev/input/event3", Event: storage.DeviceOpened}); err != nil {
		t.Fatalf("InsertDeviceEvent() error = %v", err)
	}

	stateJSON, dbusErr := svc.GetState()
	if dbusErr != nil {
		t.Fatalf("GetState() error = %v", dbusErr)
	}
	var state map[string]json.RawMessage
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		t.Fatalf("unmarshal state JSON: %v", err)
	}
	for _, key := range []string{"state", "led", "inputs", "counts"} {
		if _, ok := state[key]; !ok {
			t.Fatalf("state JSON missing key %q: %s", key, stateJSON)
		}
	}
	if string(state["state"]) != `"active"` {
		t.Fatalf("state = %s, want \"active\"", state["state"])
	}

	historyJSON, dbusErr := svc.GetHistory(0, 200)
	if dbusErr != nil {
		t.Fatalf("GetHistory() error = %v", dbusErr)
	}
	var history map[string][]storage.TransitionRecord
	if err := json.Unmarshal([]byte(historyJSON), &history); err != nil {
		t.Fatalf("unmarshal history JSON: %v", err)
	}
	if got := history["transitions"]; len(got) != 1 || got[0].To != "active" {
		t.Fatalf("history transitions = %#v, want one startup row", got)
	}

	eventsJSON, dbusErr := svc.GetDeviceEvents(0, 200)
	if dbusErr != nil {
		t.Fatalf("GetDeviceEvents() error = %v", dbusErr)
	}
	var events []storage.DeviceEvent
	if err := json.Unmarshal([]byte(eventsJSON), &events); err != nil {
		t.Fatalf("unmarshal device events JSON array: %v", err)
	}
	if len(events) != 1 || events[0].Event != storage.DeviceOpened {
		t.Fatalf("device events = %#v, want one opened event", events)
	}
}

func TestService_EmptyRangesAreArrays(t *testing.T) {
	svc, _, _ := newTestService(t)

	historyJSON, dbusErr := svc.GetHistory(0, 10)
	if dbusErr != nil {
		t.Fatalf("GetHistory() error = %v", dbusErr)
	}
	if historyJSON != `{"transitions":[]}` {
		t.Fatalf("GetHistory() = %s, want empty transitions array", historyJSON)
	}

	eventsJSON, dbusErr := svc.GetDeviceEvents(0, 10)
	if dbusErr != nil {
		t.Fatalf("GetDeviceEvents() error = %v", dbusErr)
	}
	if eventsJSON != "[]" {
		t.Fatalf("GetDeviceEvents() = %s, want []", eventsJSON)
	}
}

func TestService_HistoryDisabled(t *testing.T) {
	tracker := status.NewTracker(time.Unix(0, 0), status.Devices{})
	svc := NewService(tracker, nil)

	if _, err := svc.GetState(); err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if _, err := svc.GetHistory(0, 10); err == nil {
		t.Fatal("GetHistory() error = nil, want disabled error")
	}
	if _, err := svc.GetDeviceEvents(0, 10); err == nil {
		t.Fatal("GetDeviceEvents() error = nil, want disabled error")
	}
}

func TestService_ObserveWithoutConnection(t *testing.T) {
	svc, _, _ := newTestService(t)

	// Not exported: emitting is a no-op.
	svc.Observe(activity.Transition{From: backlight.StateActive, To: backlight.StateIdle, Cause: activity.CauseTimeout})
}

func TestService_StateChangedFollowsAppliedState(t *testing.T) {
	svc, _, _ := newTestService(t)

	var got []string
	svc.emit = func(state, cause string) error {
		got = append(got, state+"/"+cause)
		return nil
	}

	eio := errors.New("eio")
	for _, tr := range []activity.Transition{
		{From: backlight.StateUnknown, To: backlight.StateActive, Cause: activity.CauseStartup},
		{From: backlight.StateActive, To: backlight.StateIdle, Cause: activity.CauseTimeout},
		{From: backlight.StateIdle, To: backlight.StateActive, Cause: activity.CauseActivity, Err: eio},
		{From: backlight.StateActive, To: backlight.StateActive, Cause: activity.CauseRetry},
		{From: backlight.StateActive, To: backlight.StateActive, Cause: activity.CauseRetry},
		{From: backlight.StateActive, To: backlight.StateActive, Cause: activity.CauseResume},
	} {
		svc.Observe(tr)
	}

	want := []string{"active/startup", "idle/timeout", "active/retry"}
	if len(got) != len(want) {
		t.Fatalf("StateChanged emitted %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("StateChanged emitted %v, want %v", got, want)
		}
	}
}
