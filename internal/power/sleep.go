// Package power reports system suspend and resume from systemd-logind.
package power

import (
	"log/slog"

	"github.com/godbus/dbus/v5"
)

const (
	logindManager      = "org.freedesktop.login1.Manager"
	prepareForSleep    = logindManager + ".PrepareForSleep"
	prepareForShutdown = logindManager + ".PrepareForShutdown"
)

// SleepMonitor listens for logind PrepareForSleep signals. Many firmwares
// reset the keyboard backlight across suspend, so the daemon re-applies its
// level each time Wake fires.
type SleepMonitor struct {
	conn    *dbus.Conn
	signals chan *dbus.Signal
	done    chan struct{}
	wake    chan struct{}
	log     *slog.Logger
}

// NewSleepMonitor connects to the system bus and starts listening.
func NewSleepMonitor(logger *slog.Logger) (*SleepMonitor, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}

	for _, member := range []string{"PrepareForSleep", "PrepareForShutdown"} {
		err = conn.AddMatchSignal(
			dbus.WithMatchInterface(logindManager),
			dbus.WithMatchMember(member),
		)
		if err != nil {
			return nil, err
		}
	}

	m := newSleepMonitor(logger)
	m.conn = conn
	conn.Signal(m.signals)
	go m.listen()
	return m, nil
}

func newSleepMonitor(logger *slog.Logger) *SleepMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SleepMonitor{
		signals: make(chan *dbus.Signal, 16),
		done:    make(chan struct{}),
		wake:    make(chan struct{}, 1),
		log:     logger,
	}
}

// Wake receives a value each time the system resumes. Wakes that arrive
// while one is already pending are merged.
func (m *SleepMonitor) Wake() <-chan struct{} {
	return m.wake
}

// Close stops the monitor.
func (m *SleepMonitor) Close() {
	close(m.done)
	if m.conn != nil {
		m.conn.RemoveSignal(m.signals)
	}
}

func (m *SleepMonitor) listen() {
	for {
		select {
		case sig := <-m.signals:
			m.handle(sig)
		case <-m.done:
			return
		}
	}
}

func (m *SleepMonitor) handle(sig *dbus.Signal) {
	if sig == nil || len(sig.Body) < 1 {
		return
	}
	active, ok := sig.Body[0].(bool)
	if !ok {
		return
	}

	switch sig.Name {
	case prepareForShutdown:
		if active {
			m.log.Info("system preparing for shutdown")
		}
	case prepareForSleep:
		if active {
			m.log.Info("system going to sleep")
			return
		}
		m.log.Info("system woke up")
		select {
		case m.wake <- struct{}{}:
		default:
		}
	}
}
