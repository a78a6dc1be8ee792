// Package config handles configuration loading, validation, and
// management for typetrace.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete typetrace configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Capture configuration for event recording.
	Capture CaptureConfig `toml:"capture" json:"capture" yaml:"capture"`

	// Replay configuration for session playback.
	Replay ReplayConfig `toml:"replay" json:"replay" yaml:"replay"`

	// Analytics configuration for session metrics.
	Analytics AnalyticsConfig `toml:"analytics" json:"analytics" yaml:"analytics"`

	// Retention configuration for the data lifecycle.
	Retention RetentionConfig `toml:"retention" json:"retention" yaml:"retention"`

	// Storage configuration for persistence.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// CaptureConfig holds event capture configuration.
type CaptureConfig struct {
	// SampleRateMs is the sampling tick in milliseconds. Insertions
	// arriving within one tick are coalesced for paste detection.
	SampleRateMs int `toml:"sample_rate_ms" json:"sample_rate_ms" yaml:"sample_rate_ms"`

	// BufferSize is the number of events buffered before an
	// asynchronous flush to the store.
	BufferSize int `toml:"buffer_size" json:"buffer_size" yaml:"buffer_size"`

	// PasteThreshold is the insertion length (runes) above which a
	// single-tick insertion is flagged as a paste.
	PasteThreshold int `toml:"paste_threshold" json:"paste_threshold" yaml:"paste_threshold"`

	// EnablePasteDetection toggles paste flagging.
	EnablePasteDetection bool `toml:"enable_paste_detection" json:"enable_paste_detection" yaml:"enable_paste_detection"`

	// EnableSelectionTracking toggles recording of selection events.
	EnableSelectionTracking bool `toml:"enable_selection_tracking" json:"enable_selection_tracking" yaml:"enable_selection_tracking"`

	// EnableTimingAnalysis toggles per-event timing capture.
	EnableTimingAnalysis bool `toml:"enable_timing_analysis" json:"enable_timing_analysis" yaml:"enable_timing_analysis"`

	// InactivityTimeoutSec finalizes an idle session after this many
	// seconds, exactly as an explicit stop would. 0 disables auto-stop.
	InactivityTimeoutSec int `toml:"inactivity_timeout_sec" json:"inactivity_timeout_sec" yaml:"inactivity_timeout_sec"`

	// PrivacyLevel is the default privacy level for new sessions:
	// "full", "anonymized", or "metadata_only".
	PrivacyLevel string `toml:"privacy_level" json:"privacy_level" yaml:"privacy_level"`

	// FallbackDir caches finalized sessions that failed to persist.
	FallbackDir string `toml:"fallback_dir" json:"fallback_dir" yaml:"fallback_dir"`
}

// ReplayConfig holds playback configuration.
type ReplayConfig struct {
	// MinSpeed and MaxSpeed bound the playback speed multiplier.
	MinSpeed float64 `toml:"min_speed" json:"min_speed" yaml:"min_speed"`
	MaxSpeed float64 `toml:"max_speed" json:"max_speed" yaml:"max_speed"`

	// SkipIncrementSec is the jump size for skip forward/backward.
	SkipIncrementSec int `toml:"skip_increment_sec" json:"skip_increment_sec" yaml:"skip_increment_sec"`

	// PreserveTimingAccuracy schedules each event at recorded_delay /
	// speed. When false a fixed minimum tick is used for responsive
	// scrubbing.
	PreserveTimingAccuracy bool `toml:"preserve_timing_accuracy" json:"preserve_timing_accuracy" yaml:"preserve_timing_accuracy"`

	// MinTickMs is the fixed tick used when timing accuracy is off.
	MinTickMs int `toml:"min_tick_ms" json:"min_tick_ms" yaml:"min_tick_ms"`

	// CheckpointInterval is the event spacing of seek checkpoints.
	CheckpointInterval int `toml:"checkpoint_interval" json:"checkpoint_interval" yaml:"checkpoint_interval"`
}

// AnalyticsConfig holds analytics thresholds.
type AnalyticsConfig struct {
	// PauseThresholdMs is the gap above which time is excluded from
	// active writing time.
	PauseThresholdMs int64 `toml:"pause_threshold_ms" json:"pause_threshold_ms" yaml:"pause_threshold_ms"`

	// BurstGapMs is the maximum inter-key gap inside a burst.
	BurstGapMs int64 `toml:"burst_gap_ms" json:"burst_gap_ms" yaml:"burst_gap_ms"`

	// BurstMinKeystrokes is the minimum run length counted as a burst.
	BurstMinKeystrokes int `toml:"burst_min_keystrokes" json:"burst_min_keystrokes" yaml:"burst_min_keystrokes"`
}

// RetentionConfig holds the data-retention lifecycle configuration.
type RetentionConfig struct {
	// SweepIntervalSec is how often the auto-delete sweeper runs.
	SweepIntervalSec int `toml:"sweep_interval_sec" json:"sweep_interval_sec" yaml:"sweep_interval_sec"`

	// ConfirmationTTLSec is how long deletion confirmation codes stay
	// valid.
	ConfirmationTTLSec int `toml:"confirmation_ttl_sec" json:"confirmation_ttl_sec" yaml:"confirmation_ttl_sec"`

	// ExportDir is where export artifacts are written.
	ExportDir string `toml:"export_dir" json:"export_dir" yaml:"export_dir"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Path is the path to the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file", or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path when output includes "file".
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// AuditPath is the append-only data-handling audit log path.
	AuditPath string `toml:"audit_path" json:"audit_path" yaml:"audit_path"`
}

// Default returns the default configuration.
func Default() *Config {
	dataDir := PlatformDataDir()
	return &Config{
		Version: Version,
		Capture: CaptureConfig{
			SampleRateMs:            50,
			BufferSize:              256,
			PasteThreshold:          3,
			EnablePasteDetection:    true,
			EnableSelectionTracking: true,
			EnableTimingAnalysis:    true,
			InactivityTimeoutSec:    300,
			PrivacyLevel:            "full",
			FallbackDir:             filepath.Join(dataDir, "pending"),
		},
		Replay: ReplayConfig{
			MinSpeed:               0.25,
			MaxSpeed:               4.0,
			SkipIncrementSec:       10,
			PreserveTimingAccuracy: true,
			MinTickMs:              10,
			CheckpointInterval:     200,
		},
		Analytics: AnalyticsConfig{
			PauseThresholdMs:   2000,
			BurstGapMs:         1000,
			BurstMinKeystrokes: 10,
		},
		Retention: RetentionConfig{
			SweepIntervalSec:   3600,
			ConfirmationTTLSec: 900,
			ExportDir:          filepath.Join(dataDir, "exports"),
		},
		Storage: StorageConfig{
			Path:          filepath.Join(dataDir, "typetrace.db"),
			BusyTimeoutMs: 5000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Validation errors.
var (
	ErrInvalidBufferSize   = errors.New("config: capture buffer_size must be positive")
	ErrInvalidSampleRate   = errors.New("config: capture sample_rate_ms must be positive")
	ErrInvalidSpeedRange   = errors.New("config: replay speed range is invalid")
	ErrInvalidPrivacyLevel = errors.New("config: unknown privacy level")
	ErrInvalidThreshold    = errors.New("config: analytics threshold must be positive")
)

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Capture.BufferSize <= 0 {
		return ErrInvalidBufferSize
	}
	if c.Capture.SampleRateMs <= 0 {
		return ErrInvalidSampleRate
	}
	switch c.Capture.PrivacyLevel {
	case "full", "anonymized", "metadata_only":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPrivacyLevel, c.Capture.PrivacyLevel)
	}
	if c.Replay.MinSpeed <= 0 || c.Replay.MaxSpeed < c.Replay.MinSpeed {
		return fmt.Errorf("%w: [%v, %v]", ErrInvalidSpeedRange, c.Replay.MinSpeed, c.Replay.MaxSpeed)
	}
	if c.Analytics.PauseThresholdMs <= 0 || c.Analytics.BurstGapMs <= 0 {
		return ErrInvalidThreshold
	}
	if c.Analytics.BurstMinKeystrokes <= 0 {
		return ErrInvalidThreshold
	}
	if c.Storage.Path == "" {
		return errors.New("config: storage path is required")
	}
	return nil
}

// InactivityTimeout returns the capture inactivity timeout as a duration.
func (c *CaptureConfig) InactivityTimeout() time.Duration {
	return time.Duration(c.InactivityTimeoutSec) * time.Second
}

// ApplyEnvOverrides applies TYPETRACE_* environment overrides.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("TYPETRACE_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("TYPETRACE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TYPETRACE_PRIVACY_LEVEL"); v != "" {
		c.Capture.PrivacyLevel = v
	}
	if v := os.Getenv("TYPETRACE_EXPORT_DIR"); v != "" {
		c.Retention.ExportDir = v
	}
	if v := os.Getenv("TYPETRACE_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Capture.BufferSize = n
		}
	}
}

// Save writes the configuration to a TOML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/typetrace/
//   - Linux:   ~/.local/share/typetrace/
//   - Windows: %APPDATA%\typetrace\
func PlatformDataDir() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "typetrace")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "typetrace")
	default:
		dataHome := os.Getenv("XDG_DATA_HOME")
		if dataHome == "" {
			dataHome = filepath.Join(home, ".local", "share")
		}
		return filepath.Join(dataHome, "typetrace")
	}
}

// PlatformConfigDir returns the platform-specific config directory.
func PlatformConfigDir() string {
	switch runtime.GOOS {
	case "darwin", "windows":
		return PlatformDataDir()
	default:
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			home, _ := os.UserHomeDir()
			configHome = filepath.Join(home, ".config")
		}
		return filepath.Join(configHome, "typetrace")
	}
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}
