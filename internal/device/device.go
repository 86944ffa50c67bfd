// Package device locates the input devices and the keyboard backlight LED
// the daemon works with.
package device

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/cptspacemanspiff/kbd-backlightd/internal/config"
)

var (
	// ErrNotFound is returned when a configured device does not exist or
	// auto-detection finds no suitable device.
	ErrNotFound = errors.New("device not found")
	// ErrUnavailable is returned when a device exists but cannot be opened.
	ErrUnavailable = errors.New("device unavailable")
)

// Devices is the result of resolving a configuration against the system.
type Devices struct {
	Inputs []Input
	LED    LED
}

// InputPaths returns the event device paths of all selected inputs.
func (d Devices) InputPaths() []string {
	paths := make([]string, 0, len(d.Inputs))
	for _, in := range d.Inputs {
		paths = append(paths, in.Path)
	}
	return paths
}

// Resolve turns the configured device selection into concrete devices.
// Explicit paths and names are used as given; anything left empty is
// auto-detected.
func Resolve(cfg config.Resolved, logger *slog.Logger) (Devices, error) {
	if logger == nil {
		logger = slog.Default()
	}

	inputs, err := ResolveInputs(cfg.InputPaths, cfg.InputNames)
	if err != nil {
		return Devices{}, fmt.Errorf("resolve inputs: %w", err)
	}
	for _, in := range inputs {
		logger.Info("input selected", "path", in.Path, "name", in.Name, "kind", in.Kind)
	}

	led, err := ResolveLED(cfg.LEDPath, cfg.LEDName)
	if err != nil {
		return Devices{}, fmt.Errorf("resolve led: %w", err)
	}
	if len(led.Others) > 0 {
		logger.Warn("multiple keyboard backlights found, using the first",
			"selected", led.Name, "ignored", led.Others)
	}
	logger.Info("led selected", "path", led.Path)

	return Devices{Inputs: inputs, LED: led}, nil
}
