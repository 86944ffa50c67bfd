// Package daemon runs the activity machine against live input signals,
// the idle timer and resume notifications.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cptspacemanspiff/kbd-backlightd/internal/activity"
	"github.com/cptspacemanspiff/kbd-backlightd/internal/backlight"
	"github.com/cptspacemanspiff/kbd-backlightd/internal/input"
)

// ErrNoInputs is returned by Run when every input device has gone away.
var ErrNoInputs = errors.New("no input devices left")

// Observer is told about every transition the machine performs. Observers
// run on the loop goroutine and must not block.
type Observer interface {
	Observe(activity.Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(activity.Transition)

func (f ObserverFunc) Observe(tr activity.Transition) { f(tr) }

type Options struct {
	// Wake delivers a value on each resume from suspend. Nil disables it.
	Wake      <-chan struct{}
	Observers []Observer
	Logger    *slog.Logger

	// Clock hooks; nil means the real clock.
	Now   func() time.Time
	After func(time.Duration) <-chan time.Time
}

// Loop is the single goroutine that owns the machine.
type Loop struct {
	machine   *activity.Machine
	signals   <-chan input.Signal
	wake      <-chan struct{}
	observers []Observer
	log       *slog.Logger
	now       func() time.Time
	after     func(time.Duration) <-chan time.Time
}

func New(machine *activity.Machine, signals <-chan input.Signal, opts Options) *Loop {
	l := &Loop{
		machine:   machine,
		signals:   signals,
		wake:      opts.Wake,
		observers: opts.Observers,
		log:       opts.Logger,
		now:       opts.Now,
		after:     opts.After,
	}
	if l.log == nil {
		l.log = slog.Default()
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.after == nil {
		l.after = time.After
	}
	return l
}

// Run lights the backlight and processes events until ctx is cancelled,
// which returns nil, or the signal stream ends, which returns ErrNoInputs.
func (l *Loop) Run(ctx context.Context) error {
	l.emit(l.machine.Start(l.now()))

	for {
		var timer <-chan time.Time
		if l.machine.State() == backlight.StateActive {
			timer = l.after(l.machine.Deadline().Sub(l.now()))
		}

		select {
		case <-ctx.Done():
			return nil

		case sig, ok := <-l.signals:
			if !ok {
				return ErrNoInputs
			}
			l.signal(sig)

		case <-l.wake:
			l.log.Info("re-applying brightness after resume")
			l.emit(l.machine.Resume(l.now()))

		case <-timer:
			// Activity that raced the timer wins.
			if !l.drain() {
				return ErrNoInputs
			}
			if tr := l.machine.Tick(l.now()); tr != nil {
				l.emit(*tr)
			}
		}
	}
}

func (l *Loop) signal(sig input.Signal) {
	if tr := l.machine.Signal(sig.Time); tr != nil {
		l.emit(*tr)
	}
}

// drain dispatches signals already queued without blocking. It reports
// false if the stream has closed.
func (l *Loop) drain() bool {
	for {
		select {
		case sig, ok := <-l.signals:
			if !ok {
				return false
			}
			l.signal(sig)
		default:
			return true
		}
	}
}

func (l *Loop) emit(tr activity.Transition) {
	if tr.Err != nil {
		l.log.Warn("brightness write failed, will retry on next transition", "cause", tr.Cause, "err", tr.Err)
	} else {
		l.log.Info("backlight "+tr.To.String(), "from", tr.From, "cause", tr.Cause)
	}
	for _, o := range l.observers {
		o.Observe(tr)
	}
}
