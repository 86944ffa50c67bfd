package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/cptspacemanspiff/kbd-backlightd/internal/activity"
)

const recordQueue = 64

// record is one pending insert; exactly one field is set.
type record struct {
	transition *TransitionRecord
	device     *DeviceEvent
}

// Recorder writes daemon events to the database from its own goroutine, so
// callers never wait on SQLite. Events arriving while the queue is full are
// dropped; insert failures are logged and otherwise ignored.
type Recorder struct {
	db    *DB
	log   *slog.Logger
	now   func() time.Time
	queue chan record
}

func NewRecorder(db *DB, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		db:    db,
		log:   logger,
		now:   time.Now,
		queue: make(chan record, recordQueue),
	}
}

// Observe queues a transition. It never blocks.
func (r *Recorder) Observe(tr activity.Transition) {
	rec := TransitionRecord{
		Timestamp: tr.Time.Unix(),
		From:      tr.From.String(),
		To:        tr.To.String(),
		Cause:     string(tr.Cause),
	}
	if tr.Err != nil {
		rec.Error = tr.Err.Error()
	}
	r.enqueue(record{transition: &rec})
}

// DeviceOpened queues that an input device is being watched.
func (r *Recorder) DeviceOpened(path string) {
	r.device(DeviceEvent{Path: path, Event: DeviceOpened})
}

// DeviceDropped queues that an input device failed and was dropped.
func (r *Recorder) DeviceDropped(path string, err error) {
	e := DeviceEvent{Path: path, Event: DeviceDropped}
	if err != nil {
		e.Error = err.Error()
	}
	r.device(e)
}

func (r *Recorder) device(e DeviceEvent) {
	e.Timestamp = r.now().Unix()
	r.enqueue(record{device: &e})
}

func (r *Recorder) enqueue(rec record) {
	select {
	case r.queue <- rec:
	default:
		r.log.Warn("history queue full, dropping record")
	}
}

// Run writes queued records until ctx is cancelled, then flushes what is
// already queued.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case rec := <-r.queue:
					r.write(rec)
				default:
					return
				}
			}
		case rec := <-r.queue:
			r.write(rec)
		}
	}
}

func (r *Recorder) write(rec record) {
	switch {
	case rec.transition != nil:
		if err := r.db.InsertTransition(*rec.transition); err != nil {
			r.log.Warn("record transition failed", "err", err)
		}
	case rec.device != nil:
		if err := r.db.InsertDeviceEvent(*rec.device); err != nil {
			r.log.Warn("record device event failed", "path", rec.device.Path, "err", err)
		}
	}
}
