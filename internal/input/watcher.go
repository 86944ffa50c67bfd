// Package input merges activity from several evdev devices into a single
// stream of signals.
package input

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	evdev "github.com/holoplot/go-evdev"

	"github.com/cptspacemanspiff/kbd-backlightd/internal/device"
)

const defaultBuffer = 16

// Signal reports user activity on an input device.
type Signal struct {
	Time   time.Time
	Source string
}

// Source is one input device.
type Source interface {
	Path() string
	// Wait blocks until the device reports user activity. It returns an
	// error once the device is closed or has gone away.
	Wait() error
	Close() error
}

// Options tunes a Watcher.
type Options struct {
	// Coalesce suppresses signals from a device that arrive within this
	// long of the previous signal from the same device.
	Coalesce time.Duration
	// Buffer is the capacity of the signal channel.
	Buffer int
	Logger *slog.Logger
	// OnDrop, if set, is called from the reader goroutine when a device
	// fails mid-run.
	OnDrop func(path string, err error)
}

// Watcher fans in activity from a fixed set of sources. Sources that fail
// are dropped; when none remain the signal channel is closed.
type Watcher struct {
	sources []Source
	signals chan Signal
	done    chan struct{}
	opts    Options
	log     *slog.Logger
	now     func() time.Time

	wg        sync.WaitGroup
	live      atomic.Int32
	startOnce sync.Once
	closeOnce sync.Once
}

// Open opens every path as an evdev device. If any device cannot be
// opened, those already opened are closed and an error wrapping
// device.ErrUnavailable is returned.
func Open(paths []string, opts Options) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no input devices given", device.ErrUnavailable)
	}
	sources := make([]Source, 0, len(paths))
	for _, path := range paths {
		dev, err := evdev.OpenWithFlags(path, os.O_RDONLY)
		if err != nil {
			for _, s := range sources {
				s.Close()
			}
			return nil, fmt.Errorf("%w: %s: %v", device.ErrUnavailable, path, err)
		}
		sources = append(sources, &evdevSource{dev: dev, path: path})
	}
	return New(sources, opts), nil
}

// New creates a watcher over already opened sources.
func New(sources []Source, opts Options) *Watcher {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		sources: sources,
		signals: make(chan Signal, opts.Buffer),
		done:    make(chan struct{}),
		opts:    opts,
		log:     logger,
		now:     time.Now,
	}
}

// Start launches one reader per source. Cancelling ctx closes the watcher.
// Start may only be called once; later calls do nothing.
func (w *Watcher) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.live.Store(int32(len(w.sources)))
		w.wg.Add(len(w.sources))
		for _, src := range w.sources {
			w.log.Debug("watching input", "path", src.Path())
			go w.read(src)
		}
		go func() {
			w.wg.Wait()
			close(w.signals)
		}()
		go func() {
			select {
			case <-ctx.Done():
				w.Close()
			case <-w.done:
			}
		}()
	})
}

// Signals returns the merged activity stream. It is closed when every
// source has been dropped or the watcher is closed.
func (w *Watcher) Signals() <-chan Signal {
	return w.signals
}

// Close stops all readers and releases the devices. It is safe to call
// more than once.
func (w *Watcher) Close() error {
	var errs []error
	w.closeOnce.Do(func() {
		close(w.done)
		for _, src := range w.sources {
			if err := src.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", src.Path(), err))
			}
		}
	})
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

func (w *Watcher) closing() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *Watcher) read(src Source) {
	defer w.wg.Done()

	var last time.Time
	for {
		if err := src.Wait(); err != nil {
			if w.closing() {
				return
			}
			w.drop(src, err)
			return
		}

		now := w.now()
		if !last.IsZero() && now.Sub(last) < w.opts.Coalesce {
			continue
		}
		last = now

		select {
		case w.signals <- Signal{Time: now, Source: src.Path()}:
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) drop(src Source, err error) {
	src.Close()
	remaining := w.live.Add(-1)
	w.log.Warn("input device dropped", "path", src.Path(), "err", err, "remaining", remaining)
	if w.opts.OnDrop != nil {
		w.opts.OnDrop(src.Path(), err)
	}
}

// evdevSource reads a kernel input device.
type evdevSource struct {
	dev  *evdev.InputDevice
	path string
}

func (s *evdevSource) Path() string {
	return s.path
}

// Wait returns on the next key, relative or absolute event. Sync, misc and
// LED events are not user activity.
func (s *evdevSource) Wait() error {
	for {
		ev, err := s.dev.ReadOne()
		if err != nil {
			return err
		}
		switch ev.Type {
		case evdev.EV_KEY, evdev.EV_REL, evdev.EV_ABS:
			return nil
		}
	}
}

func (s *evdevSource) Close() error {
	return s.dev.Close()
}
