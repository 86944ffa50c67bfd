package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.General.TimeoutSeconds != 10 {
		t.Fatalf("unexpected TimeoutSeconds: %d", cfg.General.TimeoutSeconds)
	}
	if cfg.General.Brightness != 100 {
		t.Fatalf("unexpected Brightness: %d", cfg.General.Brightness)
	}
	if cfg.General.IdleBrightness != 0 {
		t.Fatalf("unexpected IdleBrightness: %d", cfg.General.IdleBrightness)
	}
	if cfg.General.FadeSeconds != 0.1 {
		t.Fatalf("unexpected FadeSeconds: %g", cfg.General.FadeSeconds)
	}
	if cfg.Storage.DBPath != "/var/lib/kbd-backlightd/history.db" {
		t.Fatalf("unexpected DBPath: %q", cfg.Storage.DBPath)
	}
	if !cfg.DBus.Enabled {
		t.Fatal("D-Bus should be enabled by default")
	}
	if cfg.MQTT.Broker != "" {
		t.Fatalf("MQTT should be disabled by default, broker = %q", cfg.MQTT.Broker)
	}

	if _, err := NormalizeAndValidate(cfg); err != nil {
		t.Fatalf("default config does not validate: %v", err)
	}
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, ""))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.General.TimeoutSeconds != 10 || cfg.General.Brightness != 100 {
		t.Fatalf("Load(\"\") general = %+v, want defaults", cfg.General)
	}
	if len(cfg.Inputs) != 0 || cfg.LED.Path != "" || cfg.LED.Name != "" {
		t.Fatalf("Load(\"\") devices = %+v %+v, want auto-detect", cfg.Inputs, cfg.LED)
	}
}

func TestLoad_OverridesAndKeepsDefaults(t *testing.T) {
	path := writeTempConfig(t, `
[general]
timeout_seconds = 30
brightness = 50

[[input]]
path = "/dev/input/event3"

[[input]]
name = "SynPS/2 Synaptics TouchPad"

[led]
name = "tpacpi::kbd_backlight"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.General.TimeoutSeconds != 30 {
		t.Fatalf("TimeoutSeconds = %d, want 30", cfg.General.TimeoutSeconds)
	}
	if cfg.General.Brightness != 50 {
		t.Fatalf("Brightness = %d, want 50", cfg.General.Brightness)
	}
	if cfg.General.CoalesceMs != 100 {
		t.Fatalf("CoalesceMs = %d, want default 100", cfg.General.CoalesceMs)
	}
	if cfg.Storage.RetentionDays != 30 {
		t.Fatalf("RetentionDays = %d, want default 30", cfg.Storage.RetentionDays)
	}
	if len(cfg.Inputs) != 2 {
		t.Fatalf("Inputs = %+v, want 2 entries", cfg.Inputs)
	}

	r := cfg.Resolve()
	if len(r.InputPaths) != 1 || r.InputPaths[0] != "/dev/input/event3" {
		t.Fatalf("InputPaths = %v, want [/dev/input/event3]", r.InputPaths)
	}
	if len(r.InputNames) != 1 || r.InputNames[0] != "SynPS/2 Synaptics TouchPad" {
		t.Fatalf("InputNames = %v, want the touchpad", r.InputNames)
	}
	if r.LEDName != "tpacpi::kbd_backlight" || r.LEDPath != "" {
		t.Fatalf("LED = %q/%q, want name only", r.LEDPath, r.LEDName)
	}
	if r.IdleTimeout != 30*time.Second {
		t.Fatalf("IdleTimeout = %v, want 30s", r.IdleTimeout)
	}
	if r.Fade != 100*time.Millisecond {
		t.Fatalf("Fade = %v, want 100ms", r.Fade)
	}
	if r.Coalesce != 100*time.Millisecond {
		t.Fatalf("Coalesce = %v, want 100ms", r.Coalesce)
	}
	if r.ActiveBrightness != 50 || r.IdleBrightness != 0 {
		t.Fatalf("brightness = %d/%d, want 50/0", r.ActiveBrightness, r.IdleBrightness)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err == nil {
		t.Fatal("Load() error = nil, want missing file error")
	}
	if !os.IsNotExist(err) {
		t.Fatalf("Load() error = %v, want not-exist error", err)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTempConfig(t, "not = [valid")
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() error = nil, want TOML parse error")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name       string
		contents   string
		wantErrSub string
	}{
		{
			name: "timeout must be positive",
			contents: `
[general]
timeout_seconds = 0
`,
			wantErrSub: "general.timeout_seconds must be between 1 and 86400, got 0",
		},
		{
			name: "brightness above 100",
			contents: `
[general]
brightness = 101
`,
			wantErrSub: "general.brightness must be between 0 and 100, got 101",
		},
		{
			name: "negative brightness",
			contents: `
[general]
brightness = -1
`,
			wantErrSub: "general.brightness must be between 0 and 100",
		},
		{
			name: "idle brighter than active",
			contents: `
[general]
brightness = 40
idle_brightness = 50
`,
			wantErrSub: "general.idle_brightness must be between 0 and 40, got 50",
		},
		{
			name: "fade too long",
			contents: `
[general]
fade_seconds = 10.0
`,
			wantErrSub: "general.fade_seconds must be between 0 and 5",
		},
		{
			name: "coalesce too long",
			contents: `
[general]
coalesce_ms = 5000
`,
			wantErrSub: "general.coalesce_ms must be between 0 and 1000",
		},
		{
			name: "input with path and name",
			contents: `
[[input]]
path = "/dev/input/event0"
name = "kbd"
`,
			wantErrSub: "input[0]: path and name are mutually exclusive",
		},
		{
			name: "empty input",
			contents: `
[[input]]
`,
			wantErrSub: "input[0]: one of path or name is required",
		},
		{
			name: "relative input path",
			contents: `
[[input]]
path = "event0"
`,
			wantErrSub: "input[0].path must be an absolute path",
		},
		{
			name: "led with path and name",
			contents: `
[led]
path = "/sys/class/leds/a::kbd_backlight"
name = "a::kbd_backlight"
`,
			wantErrSub: "led: path and name are mutually exclusive",
		},
		{
			name: "led name with slash",
			contents: `
[led]
name = "../a"
`,
			wantErrSub: "led.name must not contain '/'",
		},
		{
			name: "retention_days must be positive",
			contents: `
[storage]
retention_days = 0
`,
			wantErrSub: "storage.retention_days must be between 1 and 3650",
		},
		{
			name: "mqtt without topic",
			contents: `
[mqtt]
broker = "tcp://localhost:1883"
topic = ""
`,
			wantErrSub: "mqtt.topic must not be empty",
		},
		{
			name: "relative log file",
			contents: `
[logging]
file = "daemon.log"
`,
			wantErrSub: "logging.file must be an absolute path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempConfig(t, tt.contents)

			_, err := Load(path)
			if err == nil {
				t.Fatalf("Load() error = nil, want error containing %q", tt.wantErrSub)
			}
			if !strings.Contains(err.Error(), tt.wantErrSub) {
				t.Fatalf("Load() error = %q, want contains %q", err.Error(), tt.wantErrSub)
			}
		})
	}
}

func TestNormalizeAndValidate_DisabledStorageSkipsChecks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.DBPath = "  "
	cfg.Storage.RetentionDays = 0

	got, err := NormalizeAndValidate(cfg)
	if err != nil {
		t.Fatalf("NormalizeAndValidate() error = %v", err)
	}
	if got.Storage.DBPath != "" {
		t.Fatalf("DBPath = %q, want empty", got.Storage.DBPath)
	}
}

func TestNormalizeAndValidate_DoesNotMutateInput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Inputs = []InputConfig{{Path: "/dev/input/../input/event1"}}

	got, err := NormalizeAndValidate(cfg)
	if err != nil {
		t.Fatalf("NormalizeAndValidate() error = %v", err)
	}
	if got.Inputs[0].Path != "/dev/input/event1" {
		t.Fatalf("normalized path = %q, want /dev/input/event1", got.Inputs[0].Path)
	}
	if cfg.Inputs[0].Path != "/dev/input/../input/event1" {
		t.Fatalf("input config mutated: %q", cfg.Inputs[0].Path)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := DefaultConfig()
	cfg.General.TimeoutSeconds = 42
	cfg.Inputs = []InputConfig{{Name: "AT Translated Set 2 keyboard"}}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.General.TimeoutSeconds != 42 {
		t.Fatalf("TimeoutSeconds = %d, want 42", loaded.General.TimeoutSeconds)
	}
	if len(loaded.Inputs) != 1 || loaded.Inputs[0].Name != "AT Translated Set 2 keyboard" {
		t.Fatalf("Inputs = %+v, want the keyboard by name", loaded.Inputs)
	}
}

func TestSave_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.General.Brightness = 200

	if err := Save(filepath.Join(t.TempDir(), "config.toml"), cfg); err == nil {
		t.Fatal("Save() error = nil, want validation error")
	}
	if err := Save("  ", DefaultConfig()); err == nil {
		t.Fatal("Save() error = nil, want empty path error")
	}
}
