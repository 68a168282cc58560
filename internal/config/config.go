package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tdu-cpslab/volp/internal/logger"
)

// Modes of the control loop
const (
	ModeEdge = "edge" // wait for the trigger, record while it is held
	ModeOnce = "once" // one fixed-duration cycle
)

// Storage backends
const (
	BackendDrive = "drive"
	BackendS3    = "s3"
)

// Trigger sources
const (
	SourceGPIO   = "gpio"
	SourceHotkey = "hotkey"
)

// Config holds application configuration
type Config struct {
	Mode         string        `yaml:"mode"`
	SoundDir     string        `yaml:"sound_dir"`
	ExitOnError  bool          `yaml:"exit_on_error"`
	StageTimeout time.Duration `yaml:"stage_timeout"`

	Audio     AudioConfig     `yaml:"audio"`
	Capture   CaptureConfig   `yaml:"capture"`
	Trigger   TriggerConfig   `yaml:"trigger"`
	Storage   StorageConfig   `yaml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`

	mu sync.RWMutex
}

// AudioConfig selects the input device and capture format
type AudioConfig struct {
	DeviceID        int    `yaml:"device_id"` // -1 means use system default device
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	SampleType      string `yaml:"sample_type"` // "float32" or "int32"
	Latency         string `yaml:"latency"`     // "low" or "high"
	FramesPerBuffer int    `yaml:"frames_per_buffer"`
}

// CaptureConfig controls how long a capture runs
type CaptureConfig struct {
	Duration     time.Duration `yaml:"duration"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxDuration  time.Duration `yaml:"max_duration"`
}

// TriggerConfig selects the trigger input and indicator outputs
type TriggerConfig struct {
	Source     string `yaml:"source"`
	InputPin   string `yaml:"input_pin"`
	ActiveHigh bool   `yaml:"active_high"`
	OutputPin  string `yaml:"output_pin"` // empty disables the GPIO indicator
	Hotkey     string `yaml:"hotkey"`     // e.g. "ctrl+shift+r"
	HotkeyMode string `yaml:"hotkey_mode"`
	Tray       bool   `yaml:"tray"`
}

// StorageConfig selects where recordings are uploaded
type StorageConfig struct {
	Backend string      `yaml:"backend"`
	Drive   DriveConfig `yaml:"drive"`
	S3      S3Config    `yaml:"s3"`
}

// DriveConfig holds Google Drive upload settings
type DriveConfig struct {
	Credentials string        `yaml:"credentials"`
	FolderID    string        `yaml:"folder_id"`
	UploadURL   string        `yaml:"upload_url"`
	ShareBase   string        `yaml:"share_base"`
	Timeout     time.Duration `yaml:"timeout"`
}

// S3Config holds S3-compatible upload settings
type S3Config struct {
	Bucket        string        `yaml:"bucket"`
	Prefix        string        `yaml:"prefix"`
	Region        string        `yaml:"region"`
	Endpoint      string        `yaml:"endpoint"`
	UsePathStyle  bool          `yaml:"use_path_style"`
	PresignExpiry time.Duration `yaml:"presign_expiry"`
}

// TelemetryConfig holds MQTT broker settings
type TelemetryConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Port        int           `yaml:"port"`
	ClientID    string        `yaml:"client_id"`
	Topic       string        `yaml:"topic"`
	CertFile    string        `yaml:"cert_file"`
	KeyFile     string        `yaml:"key_file"`
	CAFile      string        `yaml:"ca_file"`
	KeepAlive   time.Duration `yaml:"keep_alive"`
	AckTimeout  time.Duration `yaml:"ack_timeout"`
	GracePeriod time.Duration `yaml:"grace_period"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Dir           string `yaml:"dir"`
	Level         string `yaml:"level"`
	RetentionDays int    `yaml:"retention_days"`
}

// ServerConfig holds the local status server settings
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"` // 0.0.0.0 exposes /metrics to a remote scraper
	Port    int    `yaml:"port"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Mode:         ModeEdge,
		SoundDir:     "./sound",
		StageTimeout: 2 * time.Minute,
		Audio: AudioConfig{
			DeviceID:        -1,
			SampleRate:      44100,
			Channels:        1,
			SampleType:      "float32",
			Latency:         "high",
			FramesPerBuffer: 1024,
		},
		Capture: CaptureConfig{
			Duration:     3 * time.Second,
			PollInterval: 100 * time.Millisecond,
			MaxDuration:  10 * time.Minute,
		},
		Trigger: TriggerConfig{
			Source:     SourceGPIO,
			InputPin:   "GPIO22",
			ActiveHigh: true,
			OutputPin:  "GPIO24",
			Hotkey:     "ctrl+shift+r",
			HotkeyMode: "hold",
		},
		Storage: StorageConfig{
			Backend: BackendDrive,
			Drive: DriveConfig{
				Credentials: "./service-account.json",
				UploadURL:   "https://www.googleapis.com/upload/drive/v3/files",
				ShareBase:   "https://drive.google.com/uc",
				Timeout:     60 * time.Second,
			},
			S3: S3Config{
				PresignExpiry: 7 * 24 * time.Hour,
			},
		},
		Telemetry: TelemetryConfig{
			Port:        8883,
			ClientID:    "volp-recorder",
			Topic:       "volp/share/link",
			CertFile:    "./certs/certificate.pem.crt",
			KeyFile:     "./certs/private.pem.key",
			CAFile:      "./certs/AmazonRootCA1.pem",
			KeepAlive:   5 * time.Second,
			AckTimeout:  30 * time.Second,
			GracePeriod: 10 * time.Second,
		},
		Log: LogConfig{
			Level:         "info",
			RetentionDays: 7,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8765,
		},
	}
}

// LoadEnv loads KEY=VALUE pairs from a .env file into the process environment.
// A missing file is not an error; variables already set are not overridden.
func LoadEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load loads configuration from the specified path.
// ${VAR} and ${VAR:-default} references are expanded before parsing.
func Load(path string) (*Config, error) {
	// If file doesn't exist, return default config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return config, nil
}

// Save saves configuration to the specified path
func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	return "config.yaml"
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Mode:         c.Mode,
		SoundDir:     c.SoundDir,
		ExitOnError:  c.ExitOnError,
		StageTimeout: c.StageTimeout,
		Audio:        c.Audio,
		Capture:      c.Capture,
		Trigger:      c.Trigger,
		Storage:      c.Storage,
		Telemetry:    c.Telemetry,
		Log:          c.Log,
		Server:       c.Server,
	}
}

// Redacted returns a copy safe to expose over the status API
func (c *Config) Redacted() *Config {
	clone := c.Clone()
	if clone.Storage.Drive.FolderID != "" {
		clone.Storage.Drive.FolderID = "****"
	}
	if clone.Telemetry.Endpoint != "" {
		clone.Telemetry.Endpoint = "****"
	}
	return clone
}

// ExpandPath expands ~ to home directory in file paths
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	return absPath, nil
}

// Validate validates all configuration fields
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Mode != ModeEdge && c.Mode != ModeOnce {
		return fmt.Errorf("invalid mode: %s (must be '%s' or '%s')", c.Mode, ModeEdge, ModeOnce)
	}

	if c.SoundDir == "" {
		return fmt.Errorf("sound_dir cannot be empty")
	}

	if c.StageTimeout < 0 {
		return fmt.Errorf("invalid stage_timeout: %v", c.StageTimeout)
	}

	if c.Audio.SampleRate <= 0 || c.Audio.SampleRate > 192000 {
		return fmt.Errorf("invalid audio.sample_rate: %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels <= 0 || c.Audio.Channels > 8 {
		return fmt.Errorf("invalid audio.channels: %d", c.Audio.Channels)
	}
	if c.Audio.SampleType != "float32" && c.Audio.SampleType != "int32" {
		return fmt.Errorf("invalid audio.sample_type: %s (must be 'float32' or 'int32')", c.Audio.SampleType)
	}
	if c.Audio.Latency != "low" && c.Audio.Latency != "high" {
		return fmt.Errorf("invalid audio.latency: %s (must be 'low' or 'high')", c.Audio.Latency)
	}

	if c.Capture.Duration <= 0 {
		return fmt.Errorf("invalid capture.duration: %v", c.Capture.Duration)
	}
	if c.Capture.PollInterval <= 0 {
		return fmt.Errorf("invalid capture.poll_interval: %v", c.Capture.PollInterval)
	}
	if c.Capture.MaxDuration < 0 {
		return fmt.Errorf("invalid capture.max_duration: %v", c.Capture.MaxDuration)
	}

	switch c.Trigger.Source {
	case SourceGPIO:
		if c.Mode == ModeEdge && c.Trigger.InputPin == "" {
			return fmt.Errorf("trigger.input_pin is required for the gpio source")
		}
	case SourceHotkey:
		if c.Trigger.Hotkey == "" {
			return fmt.Errorf("trigger.hotkey is required for the hotkey source")
		}
	default:
		return fmt.Errorf("invalid trigger.source: %s (must be '%s' or '%s')", c.Trigger.Source, SourceGPIO, SourceHotkey)
	}
	if c.Trigger.HotkeyMode != "hold" && c.Trigger.HotkeyMode != "toggle" {
		return fmt.Errorf("invalid trigger.hotkey_mode: %s (must be 'hold' or 'toggle')", c.Trigger.HotkeyMode)
	}

	switch c.Storage.Backend {
	case BackendDrive:
		if c.Storage.Drive.Credentials == "" {
			return fmt.Errorf("storage.drive.credentials is required")
		}
		if c.Storage.Drive.UploadURL == "" || c.Storage.Drive.ShareBase == "" {
			return fmt.Errorf("storage.drive.upload_url and storage.drive.share_base are required")
		}
	case BackendS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required")
		}
		if c.Storage.S3.PresignExpiry < 0 || c.Storage.S3.PresignExpiry > 7*24*time.Hour {
			return fmt.Errorf("invalid storage.s3.presign_expiry: %v (at most 168h)", c.Storage.S3.PresignExpiry)
		}
	default:
		return fmt.Errorf("invalid storage.backend: %s (must be '%s' or '%s')", c.Storage.Backend, BackendDrive, BackendS3)
	}

	if c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required")
	}
	if c.Telemetry.Port <= 0 || c.Telemetry.Port > 65535 {
		return fmt.Errorf("invalid telemetry.port: %d", c.Telemetry.Port)
	}
	if c.Telemetry.Topic == "" || c.Telemetry.ClientID == "" {
		return fmt.Errorf("telemetry.topic and telemetry.client_id are required")
	}
	if c.Telemetry.CertFile == "" || c.Telemetry.KeyFile == "" || c.Telemetry.CAFile == "" {
		return fmt.Errorf("telemetry.cert_file, telemetry.key_file and telemetry.ca_file are required")
	}
	if c.Telemetry.AckTimeout <= 0 {
		return fmt.Errorf("invalid telemetry.ack_timeout: %v", c.Telemetry.AckTimeout)
	}
	if c.Telemetry.GracePeriod < 0 {
		return fmt.Errorf("invalid telemetry.grace_period: %v", c.Telemetry.GracePeriod)
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level: %w", err)
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}

	return nil
}
