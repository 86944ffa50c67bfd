package storage

// TransitionRecord is one brightness write issued by the daemon.
type TransitionRecord struct {
	Timestamp int64  `json:"timestamp"`
	From      string `json:"from"`
	To        string `json:"to"`
	Cause     string `json:"cause"`
	Error     string `json:"error,omitempty"`
}

// DeviceEvent records a change in the set of watched input devices.
type DeviceEvent struct {
	Timestamp int64  `json:"timestamp"`
	Path      string `json:"path"`
	Event     string `json:"event"`
	Error     string `json:"error,omitempty"`
}

const (
	DeviceOpened  = "opened"
	DeviceDropped = "dropped"
)
