// Package activity decides when the keyboard backlight should be lit.
// It has no device dependencies: time is passed in by the caller and the
// LED is reached through the Backlight interface.
package activity

import (
	"time"

	"github.com/cptspacemanspiff/kbd-backlightd/internal/backlight"
)

// Backlight is the brightness controller driven by the machine.
type Backlight interface {
	SetActive() error
	SetIdle() error
	// Pending reports whether the last write failed.
	Pending() bool
}

// Cause names what triggered a transition.
type Cause string

const (
	CauseStartup  Cause = "startup"
	CauseActivity Cause = "activity"
	CauseTimeout  Cause = "timeout"
	CauseResume   Cause = "resume"
	CauseRetry    Cause = "retry"
)

// Transition describes a brightness write issued by the machine.
// Err is the write error, if any; the machine's state has moved to To
// regardless, and the write is retried on the next transition.
type Transition struct {
	Time  time.Time
	From  backlight.State
	To    backlight.State
	Cause Cause
	Err   error
}

// Machine folds activity signals and timer ticks into backlight writes.
// It is not safe for concurrent use.
type Machine struct {
	ctrl     Backlight
	timeout  time.Duration
	state    backlight.State
	deadline time.Time
}

// New creates a machine that turns the backlight idle after timeout
// without activity.
func New(ctrl Backlight, timeout time.Duration) *Machine {
	return &Machine{
		ctrl:    ctrl,
		timeout: timeout,
	}
}

// Start lights the backlight and arms the first idle deadline.
func (m *Machine) Start(now time.Time) Transition {
	m.state = backlight.StateActive
	m.deadline = now.Add(m.timeout)
	return Transition{
		Time:  now,
		From:  backlight.StateUnknown,
		To:    backlight.StateActive,
		Cause: CauseStartup,
		Err:   m.ctrl.SetActive(),
	}
}

// Signal records user activity at t. It returns the transition performed,
// or nil when the backlight was already active.
func (m *Machine) Signal(t time.Time) *Transition {
	m.deadline = t.Add(m.timeout)

	if m.state == backlight.StateActive {
		if !m.ctrl.Pending() {
			return nil
		}
		// A previous write failed; try again now that we have a reason to.
		return &Transition{
			Time:  t,
			From:  backlight.StateActive,
			To:    backlight.StateActive,
			Cause: CauseRetry,
			Err:   m.ctrl.SetActive(),
		}
	}

	from := m.state
	m.state = backlight.StateActive
	return &Transition{
		Time:  t,
		From:  from,
		To:    backlight.StateActive,
		Cause: CauseActivity,
		Err:   m.ctrl.SetActive(),
	}
}

// Tick advances the clock to t. Once t reaches the deadline while active the
// backlight goes idle. Ticks while idle do nothing.
func (m *Machine) Tick(t time.Time) *Transition {
	if m.state != backlight.StateActive || t.Before(m.deadline) {
		return nil
	}
	m.state = backlight.StateIdle
	return &Transition{
		Time:  t,
		From:  backlight.StateActive,
		To:    backlight.StateIdle,
		Cause: CauseTimeout,
		Err:   m.ctrl.SetIdle(),
	}
}

// Resume handles a wake from suspend. Firmware commonly resets LEDs across
// sleep, so the active level is written even if the machine was active.
func (m *Machine) Resume(t time.Time) Transition {
	from := m.state
	m.state = backlight.StateActive
	m.deadline = t.Add(m.timeout)
	return Transition{
		Time:  t,
		From:  from,
		To:    backlight.StateActive,
		Cause: CauseResume,
		Err:   m.ctrl.SetActive(),
	}
}

// State returns the current state.
func (m *Machine) State() backlight.State {
	return m.state
}

// Deadline returns the instant the backlight goes idle absent activity.
// It is only meaningful while the state is active.
func (m *Machine) Deadline() time.Time {
	return m.deadline
}
