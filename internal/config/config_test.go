package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg == nil {
		t.Fatal("Default returned nil")
	}
	if cfg.Version != Version {
		t.Errorf("Version = %d, want %d", cfg.Version, Version)
	}
	if cfg.Capture.PrivacyLevel != "full" {
		t.Errorf("default privacy level = %q, want full", cfg.Capture.PrivacyLevel)
	}
	if cfg.Replay.MinSpeed >= cfg.Replay.MaxSpeed {
		t.Errorf("speed range [%v, %v] is not ascending", cfg.Replay.MinSpeed, cfg.Replay.MaxSpeed)
	}
	if !strings.Contains(cfg.Storage.Path, "typetrace") {
		t.Errorf("storage path should live under typetrace data dir: %s", cfg.Storage.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config fails validation: %v", err)
	}
}

func TestDefaultPath(t *testing.T) {
	path := DefaultPath()
	if path == "" {
		t.Fatal("DefaultPath returned empty string")
	}
	if !strings.HasSuffix(path, "config.toml") {
		t.Errorf("expected path ending with config.toml, got %s", path)
	}
	if !strings.Contains(path, "typetrace") {
		t.Errorf("config path should contain typetrace: %s", path)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"zero buffer", func(c *Config) { c.Capture.BufferSize = 0 }, ErrInvalidBufferSize},
		{"zero sample rate", func(c *Config) { c.Capture.SampleRateMs = 0 }, ErrInvalidSampleRate},
		{"negative sample rate", func(c *Config) { c.Capture.SampleRateMs = -10 }, ErrInvalidSampleRate},
		{"unknown privacy level", func(c *Config) { c.Capture.PrivacyLevel = "secret" }, ErrInvalidPrivacyLevel},
		{"zero min speed", func(c *Config) { c.Replay.MinSpeed = 0 }, ErrInvalidSpeedRange},
		{"inverted speed range", func(c *Config) { c.Replay.MinSpeed = 4; c.Replay.MaxSpeed = 1 }, ErrInvalidSpeedRange},
		{"zero pause threshold", func(c *Config) { c.Analytics.PauseThresholdMs = 0 }, ErrInvalidThreshold},
		{"zero burst gap", func(c *Config) { c.Analytics.BurstGapMs = 0 }, ErrInvalidThreshold},
		{"zero burst minimum", func(c *Config) { c.Analytics.BurstMinKeystrokes = 0 }, ErrInvalidThreshold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate = %v, want %v", err, tt.want)
			}
		})
	}

	cfg := Default()
	cfg.Storage.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Error("empty storage path passed validation")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("TYPETRACE_DB_PATH", "/tmp/override.db")
	t.Setenv("TYPETRACE_LOG_LEVEL", "debug")
	t.Setenv("TYPETRACE_PRIVACY_LEVEL", "anonymized")
	t.Setenv("TYPETRACE_BUFFER_SIZE", "512")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Storage.Path != "/tmp/override.db" {
		t.Errorf("Storage.Path = %q", cfg.Storage.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
	if cfg.Capture.PrivacyLevel != "anonymized" {
		t.Errorf("Capture.PrivacyLevel = %q", cfg.Capture.PrivacyLevel)
	}
	if cfg.Capture.BufferSize != 512 {
		t.Errorf("Capture.BufferSize = %d", cfg.Capture.BufferSize)
	}
}

func TestApplyEnvOverridesIgnoresBadValues(t *testing.T) {
	t.Setenv("TYPETRACE_BUFFER_SIZE", "not-a-number")

	cfg := Default()
	want := cfg.Capture.BufferSize
	cfg.ApplyEnvOverrides()
	if cfg.Capture.BufferSize != want {
		t.Errorf("Capture.BufferSize = %d, want unchanged %d", cfg.Capture.BufferSize, want)
	}
}

func TestSaveAndLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Capture.PasteThreshold = 7
	cfg.Replay.MaxSpeed = 8.0
	cfg.Analytics.BurstMinKeystrokes = 15
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Capture.PasteThreshold != 7 {
		t.Errorf("PasteThreshold = %d, want 7", loaded.Capture.PasteThreshold)
	}
	if loaded.Replay.MaxSpeed != 8.0 {
		t.Errorf("MaxSpeed = %v, want 8.0", loaded.Replay.MaxSpeed)
	}
	if loaded.Analytics.BurstMinKeystrokes != 15 {
		t.Errorf("BurstMinKeystrokes = %d, want 15", loaded.Analytics.BurstMinKeystrokes)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "capture:\n  paste_threshold: 9\nreplay:\n  max_speed: 6.0\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	loaded, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Capture.PasteThreshold != 9 {
		t.Errorf("PasteThreshold = %d, want 9", loaded.Capture.PasteThreshold)
	}
	if loaded.Replay.MaxSpeed != 6.0 {
		t.Errorf("MaxSpeed = %v, want 6.0", loaded.Replay.MaxSpeed)
	}
	// Untouched sections keep their defaults.
	if loaded.Capture.BufferSize != Default().Capture.BufferSize {
		t.Errorf("BufferSize = %d, want default", loaded.Capture.BufferSize)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "missing.toml"))
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Capture.SampleRateMs != Default().Capture.SampleRateMs {
		t.Errorf("SampleRateMs = %d, want default", cfg.Capture.SampleRateMs)
	}
	if loader.Current() != cfg {
		t.Error("Current does not return the loaded config")
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Capture.PasteThreshold = 3
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loader := NewLoader(path)
	defer loader.Close()
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	changed := make(chan *Config, 1)
	loader.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})
	if err := loader.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	cfg.Capture.PasteThreshold = 9
	if err := cfg.Save(path); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case next := <-changed:
		if next.Capture.PasteThreshold != 9 {
			t.Errorf("reloaded PasteThreshold = %d, want 9", next.Capture.PasteThreshold)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not observed")
	}

	if got := loader.Current().Capture.PasteThreshold; got != 9 {
		t.Errorf("Current().Capture.PasteThreshold = %d, want 9", got)
	}
}

func TestLoadInvalidConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := "[capture]\nbuffer_size = -1\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLoader(path).Load(); err == nil {
		t.Fatal("negative buffer_size passed Load")
	}
}
