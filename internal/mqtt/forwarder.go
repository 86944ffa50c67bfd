package mqtt

import (
	"context"
	"log/slog"

	"github.com/cptspacemanspiff/kbd-backlightd/internal/activity"
	"github.com/cptspacemanspiff/kbd-backlightd/internal/backlight"
)

const forwardQueue = 32

// Forwarder hands state changes from the daemon loop to a Publisher on its
// own goroutine. When the queue is full new events are dropped.
type Forwarder struct {
	pub    Publisher
	led    string
	queue  chan Event
	log    *slog.Logger
	status func(connected bool)

	// last is the most recent state queued for publishing. Only touched
	// by Observe.
	last backlight.State
}

// NewForwarder creates a forwarder. onStatus, if non-nil, is called after
// each publish attempt with the connection state.
func NewForwarder(pub Publisher, led string, logger *slog.Logger, onStatus func(connected bool)) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		pub:    pub,
		led:    led,
		queue:  make(chan Event, forwardQueue),
		log:    logger,
		status: onStatus,
	}
}

// Observe queues successful writes that change the published state, plus
// every resume. It never blocks and must be called from a single goroutine.
func (f *Forwarder) Observe(tr activity.Transition) {
	if tr.Err != nil || (tr.To == f.last && tr.Cause != activity.CauseResume) {
		return
	}
	ev := Event{
		Timestamp: tr.Time,
		State:     tr.To.String(),
		From:      tr.From.String(),
		Cause:     string(tr.Cause),
		LED:       f.led,
	}
	select {
	case f.queue <- ev:
		f.last = tr.To
	default:
		f.log.Warn("mqtt queue full, dropping state event", "state", ev.State)
	}
}

// Run publishes queued events until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-f.queue:
			if err := f.pub.Publish(ev); err != nil {
				f.log.Warn("mqtt publish failed", "state", ev.State, "err", err)
			} else {
				f.log.Debug("mqtt published", "state", ev.State, "cause", ev.Cause)
			}
			if f.status != nil {
				if cs, ok := f.pub.(ConnectionStatus); ok {
					f.status(cs.IsConnected())
				}
			}
		}
	}
}
