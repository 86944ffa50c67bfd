// Command kbd-backlightd turns the keyboard backlight on while the keyboard
// or pointer is in use and off again after a period of inactivity.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/cptspacemanspiff/kbd-backlightd/internal/activity"
	"github.com/cptspacemanspiff/kbd-backlightd/internal/backlight"
	"github.com/cptspacemanspiff/kbd-backlightd/internal/config"
	"github.com/cptspacemanspiff/kbd-backlightd/internal/daemon"
	dbussvc "github.com/cptspacemanspiff/kbd-backlightd/internal/dbus"
	"github.com/cptspacemanspiff/kbd-backlightd/internal/device"
	"github.com/cptspacemanspiff/kbd-backlightd/internal/input"
	"github.com/cptspacemanspiff/kbd-backlightd/internal/mqtt"
	"github.com/cptspacemanspiff/kbd-backlightd/internal/power"
	"github.com/cptspacemanspiff/kbd-backlightd/internal/status"
	"github.com/cptspacemanspiff/kbd-backlightd/internal/storage"
)

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "kbd-backlightd: %v\n", err)
		os.Exit(2)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kbd-backlightd: %v\n", err)
		os.Exit(1)
	}

	if opts.writeConfig != "" {
		if err := config.Save(opts.writeConfig, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "kbd-backlightd: write config: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if opts.listDevices {
		if err := listDevices(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "kbd-backlightd: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger, logCloser := newLogger(os.Stderr, parseTopics(opts.logTopics, opts.verbose), cfg.Logging)
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("kbd-backlightd failed", "err", err)
		logCloser.Close()
		os.Exit(1)
	}
	logger.Info("shutting down")
}

// loadConfig reads the config file if one was given, otherwise starts from
// the defaults, and applies --brightness.
func loadConfig(opts options) (*config.Config, error) {
	if opts.configPath != "" {
		cfg, err := config.Load(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("load configuration from %q: %w", opts.configPath, err)
		}
		return cfg, nil
	}

	cfg := config.DefaultConfig()
	if opts.brightnessSet {
		cfg.General.Brightness = opts.brightness
	}
	return config.NormalizeAndValidate(cfg)
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	inputLog := logger.With("topic", "input")
	backlightLog := logger.With("topic", "backlight")
	activityLog := logger.With("topic", "activity")
	powerLog := logger.With("topic", "power")
	storageLog := logger.With("topic", "storage")
	mqttLog := logger.With("topic", "mqtt")

	r := cfg.Resolve()

	devs, err := device.Resolve(r, inputLog)
	if err != nil {
		return err
	}

	ctrl, err := backlight.Open(devs.LED.Path, r.ActiveBrightness, r.IdleBrightness, backlight.Options{
		Fade:   r.Fade,
		Logger: backlightLog,
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	active, idle := ctrl.Levels()
	tracker := status.NewTracker(time.Now(), status.Devices{
		LED:           ctrl.Name(),
		MaxBrightness: ctrl.MaxBrightness(),
		ActiveLevel:   active,
		IdleLevel:     idle,
		Inputs:        devs.InputPaths(),
		Timeout:       r.IdleTimeout,
	})
	observers := []daemon.Observer{tracker}

	var history dbussvc.History
	var recorder *storage.Recorder
	if cfg.Storage.DBPath != "" {
		store, err := openStore(cfg.Storage.DBPath)
		if err != nil {
			logger.Warn("history disabled", "err", err)
		} else {
			defer store.Close()
			history = store
			if last, err := store.LatestTransition(); err != nil {
				storageLog.Warn("read last transition failed", "err", err)
			} else if last != nil {
				storageLog.Info("previous run ended",
					"state", last.To,
					"cause", last.Cause,
					"at", time.Unix(last.Timestamp, 0).Format(time.RFC3339))
			}
			recorder = storage.NewRecorder(store, storageLog)
			observers = append(observers, recorder)
			recCtx, stopRecorder := context.WithCancel(ctx)
			recorderDone := make(chan struct{})
			go func() {
				recorder.Run(recCtx)
				close(recorderDone)
			}()
			defer func() {
				stopRecorder()
				<-recorderDone
			}()
			go store.RunCleanup(ctx,
				time.Duration(cfg.Storage.RetentionDays)*24*time.Hour,
				time.Duration(cfg.Storage.CleanupIntervalHours)*time.Hour,
				storageLog)
		}
	}

	watcher, err := input.Open(devs.InputPaths(), input.Options{
		Coalesce: r.Coalesce,
		Logger:   inputLog,
		OnDrop: func(path string, err error) {
			tracker.DropInput(path, err)
			if recorder != nil {
				recorder.DeviceDropped(path, err)
			}
		},
	})
	if err != nil {
		return err
	}
	defer watcher.Close()
	if recorder != nil {
		for _, path := range devs.InputPaths() {
			recorder.DeviceOpened(path)
		}
	}

	var wake <-chan struct{}
	if sleepMon, err := power.NewSleepMonitor(powerLog); err != nil {
		logger.Warn("sleep monitor unavailable", "err", err)
	} else {
		defer sleepMon.Close()
		wake = sleepMon.Wake()
	}

	if cfg.DBus.Enabled {
		svc := dbussvc.NewService(tracker, history)
		if conn, err := svc.Export(); err != nil {
			logger.Warn("D-Bus service unavailable", "err", err)
		} else {
			defer conn.Close()
			observers = append(observers, svc)
			logger.Info("D-Bus service registered")
		}
	}

	if cfg.MQTT.Broker != "" {
		pub, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
		})
		if err != nil {
			logger.Warn("MQTT publisher unavailable", "broker", cfg.MQTT.Broker, "err", err)
			tracker.SetMQTT(true, false)
		} else {
			defer pub.Close()
			tracker.SetMQTT(true, pub.IsConnected())
			fw := mqtt.NewForwarder(pub, ctrl.Name(), mqttLog, func(connected bool) {
				tracker.SetMQTT(true, connected)
			})
			go fw.Run(ctx)
			observers = append(observers, fw)
			mqttLog.Info("MQTT publisher connected", "broker", cfg.MQTT.Broker, "topic", cfg.MQTT.Topic)
		}
	}

	machine := activity.New(ctrl, r.IdleTimeout)
	watcher.Start(ctx)
	loop := daemon.New(machine, watcher.Signals(), daemon.Options{
		Wake:      wake,
		Observers: observers,
		Logger:    activityLog,
	})

	logger.Info("kbd-backlightd started",
		"led", ctrl.Name(),
		"inputs", len(devs.Inputs),
		"timeout", r.IdleTimeout)
	return loop.Run(ctx)
}

func openStore(path string) (*storage.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return storage.Open(path)
}

// listDevices prints every evdev node with its classification and the
// keyboard backlight auto-detection would pick.
func listDevices(w io.Writer) error {
	inputs, failed, err := device.List()
	if err != nil {
		return err
	}
	led, ledErr := device.ResolveLED("", "")
	return writeDeviceList(w, inputs, failed, led, ledErr)
}

func writeDeviceList(w io.Writer, inputs []device.Input, failed map[string]error, led device.LED, ledErr error) error {
	fmt.Fprintln(w, "Input devices:")
	if len(inputs) == 0 && len(failed) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, in := range inputs {
		mark := " "
		if in.Kind != 0 {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %-22s %-16s %s\n", mark, in.Path, in.Kind, in.Name)
	}
	for _, path := range sortedKeys(failed) {
		fmt.Fprintf(w, "! %-22s %v\n", path, failed[path])
	}

	fmt.Fprintln(w, "Keyboard backlight:")
	if ledErr != nil {
		fmt.Fprintf(w, "  %v\n", ledErr)
		return nil
	}
	fmt.Fprintf(w, "* %s (%s)\n", led.Name, led.Path)
	for _, other := range led.Others {
		fmt.Fprintf(w, "  %s\n", other)
	}
	return nil
}

func sortedKeys(m map[string]error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
