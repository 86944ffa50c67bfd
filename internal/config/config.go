package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	minTimeoutSeconds       = 1
	maxTimeoutSeconds       = 86400
	minBrightness           = 0
	maxBrightness           = 100
	maxFadeSeconds          = 5.0
	minCoalesceMs           = 0
	maxCoalesceMs           = 1000
	minRetentionDays        = 1
	maxRetentionDays        = 3650
	minCleanupIntervalHours = 1
	maxCleanupIntervalHours = 720
	minLogSizeMB            = 1
	maxLogSizeMB            = 1024
	minLogBackups           = 0
	maxLogBackups           = 100
)

type Config struct {
	General GeneralConfig `toml:"general"`
	Inputs  []InputConfig `toml:"input"`
	LED     LEDConfig     `toml:"led"`
	Storage StorageConfig `toml:"storage"`
	DBus    DBusConfig    `toml:"dbus"`
	MQTT    MQTTConfig    `toml:"mqtt"`
	Logging LoggingConfig `toml:"logging"`
}

type GeneralConfig struct {
	TimeoutSeconds int     `toml:"timeout_seconds"`
	Brightness     int     `toml:"brightness"`
	IdleBrightness int     `toml:"idle_brightness"`
	FadeSeconds    float64 `toml:"fade_seconds"`
	CoalesceMs     int     `toml:"coalesce_ms"`
}

// InputConfig selects an input device either by evdev node path or by the
// device name the kernel reports.
type InputConfig struct {
	Path string `toml:"path,omitempty"`
	Name string `toml:"name,omitempty"`
}

// LEDConfig selects the LED by directory path or by its name under
// /sys/class/leds. Both empty means auto-detect.
type LEDConfig struct {
	Path string `toml:"path,omitempty"`
	Name string `toml:"name,omitempty"`
}

// StorageConfig controls the transition history database. An empty DBPath
// disables history.
type StorageConfig struct {
	DBPath               string `toml:"db_path"`
	RetentionDays        int    `toml:"retention_days"`
	CleanupIntervalHours int    `toml:"cleanup_interval_hours"`
}

type DBusConfig struct {
	Enabled bool `toml:"enabled"`
}

// MQTTConfig configures the optional state publisher. An empty Broker
// disables it.
type MQTTConfig struct {
	Broker   string `toml:"broker"`
	Topic    string `toml:"topic"`
	ClientID string `toml:"client_id"`
}

// LoggingConfig configures an optional rotating log file in addition to
// stderr.
type LoggingConfig struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			TimeoutSeconds: 10,
			Brightness:     100,
			IdleBrightness: 0,
			FadeSeconds:    0.1,
			CoalesceMs:     100,
		},
		Storage: StorageConfig{
			DBPath:               "/var/lib/kbd-backlightd/history.db",
			RetentionDays:        30,
			CleanupIntervalHours: 24,
		},
		DBus: DBusConfig{
			Enabled: true,
		},
		MQTT: MQTTConfig{
			Topic:    "kbd-backlightd/state",
			ClientID: "kbd-backlightd",
		},
		Logging: LoggingConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return NormalizeAndValidate(cfg)
}

func NormalizeAndValidate(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}

	sanitized := *cfg
	sanitized.Inputs = append([]InputConfig(nil), cfg.Inputs...)

	g := sanitized.General
	if err := validateRange("general.timeout_seconds", g.TimeoutSeconds, minTimeoutSeconds, maxTimeoutSeconds); err != nil {
		return nil, err
	}
	if err := validateRange("general.brightness", g.Brightness, minBrightness, maxBrightness); err != nil {
		return nil, err
	}
	if err := validateRange("general.idle_brightness", g.IdleBrightness, minBrightness, g.Brightness); err != nil {
		return nil, err
	}
	if g.FadeSeconds < 0 || g.FadeSeconds > maxFadeSeconds {
		return nil, fmt.Errorf("general.fade_seconds must be between 0 and %g, got %g", maxFadeSeconds, g.FadeSeconds)
	}
	if err := validateRange("general.coalesce_ms", g.CoalesceMs, minCoalesceMs, maxCoalesceMs); err != nil {
		return nil, err
	}

	for i, in := range sanitized.Inputs {
		key := fmt.Sprintf("input[%d]", i)
		path := strings.TrimSpace(in.Path)
		name := strings.TrimSpace(in.Name)
		switch {
		case path != "" && name != "":
			return nil, fmt.Errorf("%s: path and name are mutually exclusive", key)
		case path == "" && name == "":
			return nil, fmt.Errorf("%s: one of path or name is required", key)
		case path != "":
			cleaned, err := sanitizePath(key+".path", path)
			if err != nil {
				return nil, err
			}
			sanitized.Inputs[i] = InputConfig{Path: cleaned}
		default:
			sanitized.Inputs[i] = InputConfig{Name: name}
		}
	}

	sanitized.LED.Name = strings.TrimSpace(sanitized.LED.Name)
	if strings.TrimSpace(sanitized.LED.Path) != "" {
		if sanitized.LED.Name != "" {
			return nil, fmt.Errorf("led: path and name are mutually exclusive")
		}
		var err error
		sanitized.LED.Path, err = sanitizePath("led.path", sanitized.LED.Path)
		if err != nil {
			return nil, err
		}
	} else {
		sanitized.LED.Path = ""
	}
	if strings.ContainsRune(sanitized.LED.Name, '/') {
		return nil, fmt.Errorf("led.name must not contain '/', got %q", sanitized.LED.Name)
	}

	if strings.TrimSpace(sanitized.Storage.DBPath) != "" {
		var err error
		sanitized.Storage.DBPath, err = sanitizePath("storage.db_path", sanitized.Storage.DBPath)
		if err != nil {
			return nil, err
		}
		if err := validateRange("storage.retention_days", sanitized.Storage.RetentionDays, minRetentionDays, maxRetentionDays); err != nil {
			return nil, err
		}
		if err := validateRange("storage.cleanup_interval_hours", sanitized.Storage.CleanupIntervalHours, minCleanupIntervalHours, maxCleanupIntervalHours); err != nil {
			return nil, err
		}
	} else {
		sanitized.Storage.DBPath = ""
	}

	sanitized.MQTT.Broker = strings.TrimSpace(sanitized.MQTT.Broker)
	if sanitized.MQTT.Broker != "" {
		if strings.TrimSpace(sanitized.MQTT.Topic) == "" {
			return nil, fmt.Errorf("mqtt.topic must not be empty when mqtt.broker is set")
		}
		if strings.TrimSpace(sanitized.MQTT.ClientID) == "" {
			return nil, fmt.Errorf("mqtt.client_id must not be empty when mqtt.broker is set")
		}
	}

	if strings.TrimSpace(sanitized.Logging.File) != "" {
		var err error
		sanitized.Logging.File, err = sanitizePath("logging.file", sanitized.Logging.File)
		if err != nil {
			return nil, err
		}
		if err := validateRange("logging.max_size_mb", sanitized.Logging.MaxSizeMB, minLogSizeMB, maxLogSizeMB); err != nil {
			return nil, err
		}
		if err := validateRange("logging.max_backups", sanitized.Logging.MaxBackups, minLogBackups, maxLogBackups); err != nil {
			return nil, err
		}
	} else {
		sanitized.Logging.File = ""
	}

	return &sanitized, nil
}

// Resolved is the device selection and timing the daemon core runs with.
// Empty selections mean auto-detect.
type Resolved struct {
	InputPaths       []string
	InputNames       []string
	LEDPath          string
	LEDName          string
	ActiveBrightness int
	IdleBrightness   int
	IdleTimeout      time.Duration
	Fade             time.Duration
	Coalesce         time.Duration
}

// Resolve flattens a validated config into the values the core consumes.
func (c *Config) Resolve() Resolved {
	r := Resolved{
		LEDPath:          c.LED.Path,
		LEDName:          c.LED.Name,
		ActiveBrightness: c.General.Brightness,
		IdleBrightness:   c.General.IdleBrightness,
		IdleTimeout:      time.Duration(c.General.TimeoutSeconds) * time.Second,
		Fade:             time.Duration(c.General.FadeSeconds * float64(time.Second)),
		Coalesce:         time.Duration(c.General.CoalesceMs) * time.Millisecond,
	}
	for _, in := range c.Inputs {
		if in.Path != "" {
			r.InputPaths = append(r.InputPaths, in.Path)
		} else {
			r.InputNames = append(r.InputNames, in.Name)
		}
	}
	return r
}

func Save(path string, cfg *Config) error {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return fmt.Errorf("config path must not be empty")
	}

	sanitized, err := NormalizeAndValidate(cfg)
	if err != nil {
		return err
	}

	var data bytes.Buffer
	if err := toml.NewEncoder(&data).Encode(sanitized); err != nil {
		return fmt.Errorf("encode config TOML: %w", err)
	}

	dir := filepath.Dir(trimmedPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".config-*.toml")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data.Bytes()); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmpFile.Chmod(0o644); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, trimmedPath); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	tmpPath = ""

	return nil
}

func sanitizePath(name, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%s must not be empty", name)
	}
	cleaned := filepath.Clean(trimmed)
	if !filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%s must be an absolute path, got %q", name, value)
	}
	return cleaned, nil
}

func validateRange(name string, value, min, max int) error {
	if value < min || value > max {
		return fmt.Errorf("%s must be between %d and %d, got %d", name, min, max, value)
	}

	return nil
}
