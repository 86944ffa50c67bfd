package device

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// sysfsRoot is the sysfs mount point; overridden in tests.
var sysfsRoot = "/sys"

// backlightMarker identifies keyboard backlight LEDs by name, as in
// "tpacpi::kbd_backlight" or "asus::kbd_backlight".
const backlightMarker = "kbd_backlight"

// LED is the LED class device driven by the daemon.
type LED struct {
	Path string
	Name string
	// Others lists further keyboard backlights found by auto-detection
	// that were not selected.
	Others []string
}

func ledClassDir() string {
	return filepath.Join(sysfsRoot, "class/leds")
}

// ResolveLED picks the keyboard backlight. An explicit path wins over a
// name; with neither, the LED class is scanned for a kbd_backlight entry and
// the first in sorted order is used.
func ResolveLED(path, name string) (LED, error) {
	switch {
	case path != "":
		return checkLED(path)
	case name != "":
		return checkLED(filepath.Join(ledClassDir(), name))
	}

	entries, err := os.ReadDir(ledClassDir())
	if err != nil {
		return LED{}, fmt.Errorf("%w: read %s: %v", ErrNotFound, ledClassDir(), err)
	}
	var names []string
	for _, e := range entries {
		if strings.Contains(e.Name(), backlightMarker) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return LED{}, fmt.Errorf("%w: no LED named *%s* in %s", ErrNotFound, backlightMarker, ledClassDir())
	}
	sort.Strings(names)

	led, err := checkLED(filepath.Join(ledClassDir(), names[0]))
	if err != nil {
		return LED{}, err
	}
	led.Others = names[1:]
	return led, nil
}

func checkLED(dir string) (LED, error) {
	for _, attr := range []string{"brightness", "max_brightness"} {
		if _, err := os.Stat(filepath.Join(dir, attr)); err != nil {
			return LED{}, fmt.Errorf("%w: %s: %v", ErrNotFound, dir, err)
		}
	}
	return LED{Path: dir, Name: filepath.Base(dir)}, nil
}
