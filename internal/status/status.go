// Package status keeps a thread-safe view of daemon state for readers
// outside the main loop, such as the D-Bus service.
package status

import (
	"sync"
	"time"

	"github.com/cptspacemanspiff/kbd-backlightd/internal/activity"
	"github.com/cptspacemanspiff/kbd-backlightd/internal/backlight"
)

// Devices describes what the daemon is driving.
type Devices struct {
	LED           string
	MaxBrightness int64
	ActiveLevel   int64
	IdleLevel     int64
	Inputs        []string
	Timeout       time.Duration
}

// Counts tallies transitions by outcome.
type Counts struct {
	Activations int
	Idles       int
	Resumes     int
	WriteErrors int
}

// Snapshot is a point-in-time copy of daemon state. State is the last
// level the LED accepted; Pending is set while a later write has failed.
type Snapshot struct {
	State       backlight.State
	Pending     bool
	Since       time.Time
	LastCause   activity.Cause
	Devices     Devices
	Dropped     []string
	Counts      Counts
	LastError   string
	MQTTEnabled bool
	MQTTOnline  bool
	StartTime   time.Time
	Now         time.Time
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

func NewTracker(startTime time.Time, devices Devices) *Tracker {
	devices.Inputs = append([]string(nil), devices.Inputs...)
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Devices:   devices,
		},
		now: time.Now,
	}
}

// Observe records a transition. It is called from the daemon loop.
func (t *Tracker) Observe(tr activity.Transition) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tr.Err != nil {
		t.snap.Pending = true
		t.snap.Counts.WriteErrors++
		t.snap.LastError = tr.Err.Error()
		return
	}

	prev := t.snap.State
	if tr.To != prev || t.snap.Since.IsZero() {
		t.snap.Since = tr.Time
	}
	t.snap.State = tr.To
	t.snap.Pending = false
	t.snap.LastCause = tr.Cause

	switch {
	case tr.Cause == activity.CauseResume:
		t.snap.Counts.Resumes++
	case tr.To == backlight.StateIdle:
		t.snap.Counts.Idles++
	case tr.From != tr.To || prev != tr.To:
		t.snap.Counts.Activations++
	}
}

// DropInput moves path from the live inputs to the dropped list.
func (t *Tracker) DropInput(path string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	live := t.snap.Devices.Inputs[:0:0]
	for _, p := range t.snap.Devices.Inputs {
		if p != path {
			live = append(live, p)
		}
	}
	t.snap.Devices.Inputs = live
	t.snap.Dropped = append(t.snap.Dropped, path)
	if err != nil {
		t.snap.LastError = path + ": " + err.Error()
	}
}

// SetMQTT records whether the publisher is configured and connected.
func (t *Tracker) SetMQTT(enabled, online bool) {
	t.mu.Lock()
	t.snap.MQTTEnabled = enabled
	t.snap.MQTTOnline = online
	t.mu.Unlock()
}

// Snapshot returns a copy of the current state with Now set.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Devices.Inputs = append([]string(nil), t.snap.Devices.Inputs...)
	s.Dropped = append([]string(nil), t.snap.Dropped...)
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
