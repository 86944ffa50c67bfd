package device

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	evdev "github.com/holoplot/go-evdev"
)

// inputDir is where evdev nodes live; overridden in tests.
var inputDir = "/dev/input"

// Kind is a bit set of the roles an input device can play.
type Kind uint8

const (
	KindKeyboard Kind = 1 << iota
	KindPointer
)

func (k Kind) String() string {
	var parts []string
	if k&KindKeyboard != 0 {
		parts = append(parts, "keyboard")
	}
	if k&KindPointer != 0 {
		parts = append(parts, "pointer")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// Input is an evdev device selected for activity monitoring.
type Input struct {
	Path string
	Name string
	Kind Kind
}

// prober is the subset of *evdev.InputDevice used to classify a device.
type prober interface {
	Name() (string, error)
	CapableTypes() []evdev.EvType
	CapableEvents(t evdev.EvType) []evdev.EvCode
	Properties() []evdev.EvProp
	Close() error
}

var openProber = func(path string) (prober, error) {
	return evdev.OpenWithFlags(path, os.O_RDONLY)
}

// Classify reports whether a device looks like a keyboard, a pointer
// (mouse or trackpad), both or neither.
func Classify(p prober) Kind {
	types := make(map[evdev.EvType]bool)
	for _, t := range p.CapableTypes() {
		types[t] = true
	}
	if !types[evdev.EV_KEY] {
		return 0
	}
	keys := codeSet(p.CapableEvents(evdev.EV_KEY))

	var kind Kind
	// Keyboards carry letter keys; key autorepeat is the fallback for
	// keyboards with unusual layouts.
	if (keys[evdev.KEY_A] && keys[evdev.KEY_Z]) || (types[evdev.EV_REP] && hasKeyboardKey(keys)) {
		kind |= KindKeyboard
	}

	if types[evdev.EV_REL] {
		rel := codeSet(p.CapableEvents(evdev.EV_REL))
		if rel[evdev.REL_X] && rel[evdev.REL_Y] && keys[evdev.BTN_LEFT] {
			kind |= KindPointer
		}
	}
	if types[evdev.EV_ABS] && keys[evdev.BTN_TOUCH] {
		abs := codeSet(p.CapableEvents(evdev.EV_ABS))
		// Touchscreens and drawing tablets are direct input devices;
		// trackpads are not.
		if abs[evdev.ABS_X] && !hasProp(p.Properties(), evdev.INPUT_PROP_DIRECT) {
			kind |= KindPointer
		}
	}
	return kind
}

// hasKeyboardKey reports whether keys includes anything below the button
// range, which excludes mice that advertise autorepeat.
func hasKeyboardKey(keys map[evdev.EvCode]bool) bool {
	for code := range keys {
		if code > 0 && code < evdev.BTN_MISC {
			return true
		}
	}
	return false
}

func codeSet(codes []evdev.EvCode) map[evdev.EvCode]bool {
	set := make(map[evdev.EvCode]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	return set
}

func hasProp(props []evdev.EvProp, want evdev.EvProp) bool {
	for _, p := range props {
		if p == want {
			return true
		}
	}
	return false
}

// List enumerates every evdev node and classifies it. Nodes that cannot be
// opened are returned in failed, keyed by path.
func List() (inputs []Input, failed map[string]error, err error) {
	paths, err := filepath.Glob(filepath.Join(inputDir, "event*"))
	if err != nil {
		return nil, nil, fmt.Errorf("glob input devices: %w", err)
	}
	sort.Slice(paths, func(i, j int) bool { return eventIndexLess(paths[i], paths[j]) })

	failed = make(map[string]error)
	for _, path := range paths {
		p, err := openProber(path)
		if err != nil {
			failed[path] = err
			continue
		}
		name, _ := p.Name()
		inputs = append(inputs, Input{Path: path, Name: name, Kind: Classify(p)})
		p.Close()
	}
	return inputs, failed, nil
}

// eventIndexLess orders event2 before event10.
func eventIndexLess(a, b string) bool {
	na, nb := filepath.Base(a), filepath.Base(b)
	if len(na) != len(nb) {
		return len(na) < len(nb)
	}
	return na < nb
}

// ResolveInputs selects the input devices to watch. Explicit paths must
// exist; each name must match at least one device. With neither, every
// keyboard and pointer is selected.
func ResolveInputs(paths, names []string) ([]Input, error) {
	var selected []Input
	seen := make(map[string]bool)
	add := func(in Input) {
		if !seen[in.Path] {
			seen[in.Path] = true
			selected = append(selected, in)
		}
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, path, err)
		}
		add(Input{Path: path})
	}

	if len(paths) > 0 && len(names) == 0 {
		return selected, nil
	}

	all, failed, err := List()
	if err != nil {
		return nil, err
	}

	if len(names) > 0 {
		for _, name := range names {
			matched := false
			for _, in := range all {
				if in.Name == name {
					add(in)
					matched = true
				}
			}
			if !matched {
				return nil, fmt.Errorf("%w: no input device named %q%s", ErrNotFound, name, describeFailures(failed))
			}
		}
		return selected, nil
	}

	for _, in := range all {
		if in.Kind != 0 {
			add(in)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: no keyboard or pointer in %s%s", ErrNotFound, inputDir, describeFailures(failed))
	}
	return selected, nil
}

func describeFailures(failed map[string]error) string {
	if len(failed) == 0 {
		return ""
	}
	paths := make([]string, 0, len(failed))
	for p := range failed {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return fmt.Sprintf(" (%d devices could not be opened, e.g. %s: %v)", len(failed), paths[0], failed[paths[0]])
}
