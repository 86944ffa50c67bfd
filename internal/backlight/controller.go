package backlight

import (
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"time"
)

// fadeStep is the interval between intermediate writes while fading.
const fadeStep = 10 * time.Millisecond

// Options tunes how a Controller applies brightness changes.
type Options struct {
	// Fade is the duration of the linear transition between levels.
	// Zero writes the target value directly.
	Fade   time.Duration
	Logger *slog.Logger
}

// WriteError reports a brightness write the LED device rejected.
type WriteError struct {
	LED   string
	State State
	Value int64
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("set %s to %s (brightness %d): %v", e.LED, e.State, e.Value, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Controller owns the brightness attribute of a single LED device.
// It is not safe for concurrent use.
type Controller struct {
	name   string
	attr   attribute
	max    int64
	active int64
	idle   int64
	fade   time.Duration
	now    func() time.Time
	sleep  func(time.Duration)
	log    *slog.Logger

	applied  State
	intended State
	pending  bool
}

// Open opens the LED device directory ledPath (for example
// /sys/class/leds/tpacpi::kbd_backlight). activePct and idlePct are
// percentages of the device's max_brightness.
func Open(ledPath string, activePct, idlePct int, opts Options) (*Controller, error) {
	maxBrightness, err := readIntFile(filepath.Join(ledPath, "max_brightness"))
	if err != nil {
		return nil, fmt.Errorf("read max_brightness: %w", err)
	}
	if maxBrightness <= 0 {
		return nil, fmt.Errorf("%s: invalid max_brightness %d", ledPath, maxBrightness)
	}
	attr, err := openAttribute(filepath.Join(ledPath, "brightness"))
	if err != nil {
		return nil, fmt.Errorf("open brightness: %w", err)
	}
	return newController(filepath.Base(ledPath), attr, maxBrightness, activePct, idlePct, opts), nil
}

func newController(name string, attr attribute, maxBrightness int64, activePct, idlePct int, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		name:   name,
		attr:   attr,
		max:    maxBrightness,
		active: Scale(activePct, maxBrightness),
		idle:   Scale(idlePct, maxBrightness),
		fade:   opts.Fade,
		now:    time.Now,
		sleep:  time.Sleep,
		log:    logger,
	}
	c.log.Debug("led opened", "led", name, "max_brightness", maxBrightness,
		"active", c.active, "idle", c.idle, "fade", c.fade)
	return c
}

// Scale converts a 0-100 percentage into a raw brightness value for a device
// whose maximum is max.
func Scale(pct int, max int64) int64 {
	if pct <= 0 {
		return 0
	}
	if pct >= 100 {
		return max
	}
	return int64(math.Round(float64(pct) / 100 * float64(max)))
}

// SetActive writes the active brightness. The write is issued even when the
// controller believes the LED is already active.
func (c *Controller) SetActive() error {
	return c.apply(StateActive, c.active)
}

// SetIdle writes the idle brightness, unconditionally like SetActive.
func (c *Controller) SetIdle() error {
	return c.apply(StateIdle, c.idle)
}

func (c *Controller) apply(target State, value int64) error {
	c.intended = target
	if err := c.write(value); err != nil {
		c.pending = true
		return &WriteError{LED: c.name, State: target, Value: value, Err: err}
	}
	c.applied = target
	c.pending = false
	c.log.Debug("brightness set", "led", c.name, "state", target, "value", value)
	return nil
}

func (c *Controller) write(target int64) error {
	if c.fade <= 0 {
		return c.attr.WriteInt(target)
	}
	start, err := c.attr.ReadInt()
	if err != nil {
		c.log.Debug("read current brightness failed, not fading", "led", c.name, "err", err)
		return c.attr.WriteInt(target)
	}
	begin := c.now()
	for {
		t := float64(c.now().Sub(begin)) / float64(c.fade)
		if t >= 1 {
			return c.attr.WriteInt(target)
		}
		if err := c.attr.WriteInt(lerp(start, target, t)); err != nil {
			return err
		}
		c.sleep(fadeStep)
	}
}

func lerp(start, end int64, t float64) int64 {
	return int64(math.Round(float64(start) + t*float64(end-start)))
}

// Applied returns the state of the last successful write.
func (c *Controller) Applied() State {
	return c.applied
}

// Intended returns the state most recently requested.
func (c *Controller) Intended() State {
	return c.intended
}

// Pending reports whether the most recent write failed and the intended
// state has not reached the device.
func (c *Controller) Pending() bool {
	return c.pending
}

// Name returns the LED device name.
func (c *Controller) Name() string {
	return c.name
}

// MaxBrightness returns the device's advertised maximum.
func (c *Controller) MaxBrightness() int64 {
	return c.max
}

// Levels returns the raw active and idle brightness values.
func (c *Controller) Levels() (active, idle int64) {
	return c.active, c.idle
}

// Close releases the brightness attribute.
func (c *Controller) Close() error {
	return c.attr.Close()
}
