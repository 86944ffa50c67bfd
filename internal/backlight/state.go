// Package backlight drives an LED class keyboard backlight through its sysfs
// brightness attribute.
package backlight

// State is the brightness level a controller was asked to apply.
type State string

const (
	StateUnknown State = ""
	StateActive  State = "active"
	StateIdle    State = "idle"
)

func (s State) String() string {
	if s == StateUnknown {
		return "unknown"
	}
	return string(s)
}
