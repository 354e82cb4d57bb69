package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Log    LogConfig    `yaml:"log"`
	DB     DBConfig     `yaml:"db"`
	Server ServerConfig `yaml:"server"`
	Audio  AudioConfig  `yaml:"audio"`
	Proof  ProofConfig  `yaml:"proof"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
	Events   LogSettings `yaml:"events"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig holds settings for the local control API.
type ServerConfig struct {
	Address         string   `yaml:"address"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// Audio output backends.
const (
	OutputSpeaker = "speaker"
	OutputNone    = "none"
)

// AudioConfig holds alarm sound settings.
type AudioConfig struct {
	Output     string `yaml:"output"`      // "speaker", "none"
	AlarmSound string `yaml:"alarm_sound"` // mp3 or wav
}

// ProofConfig holds proof photo comparison settings.
type ProofConfig struct {
	ReferencePhoto string `yaml:"reference_photo"`
	ThumbSize      int    `yaml:"thumb_size"`
	SampleSize     int    `yaml:"sample_size"`
	Tolerance      int    `yaml:"tolerance"`
	Threshold      Ratio  `yaml:"threshold"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
			Events: LogSettings{
				Path:  "./logs/events.log",
				Level: "INFO",
			},
		},
		DB: DBConfig{
			Path: "./data/snoozer.db",
		},
		Server: ServerConfig{
			Address:         "localhost:1955",
			ShutdownTimeout: Duration(5 * time.Second),
		},
		Audio: AudioConfig{
			Output:     OutputSpeaker,
			AlarmSound: "./sounds/alarm.mp3",
		},
		Proof: ProofConfig{
			ThumbSize:  32,
			SampleSize: 1000,
			Tolerance:  40,
			Threshold:  Ratio(0.65),
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// If the file exists, it merges defaults with existing values but does NOT save back to disk.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv fills values from the environment. Nothing here is written back to disk.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SNOOZER_ALARM_SOUND"); v != "" {
		cfg.Audio.AlarmSound = v
	}
	if v := os.Getenv("SNOOZER_DB_PATH"); v != "" {
		cfg.DB.Path = v
	}
	if v := os.Getenv("SNOOZER_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}

	cfg.DB.Path = os.ExpandEnv(cfg.DB.Path)
	cfg.Audio.AlarmSound = os.ExpandEnv(cfg.Audio.AlarmSound)
	cfg.Proof.ReferencePhoto = os.ExpandEnv(cfg.Proof.ReferencePhoto)
	cfg.Log.Server.Path = os.ExpandEnv(cfg.Log.Server.Path)
	cfg.Log.Requests.Path = os.ExpandEnv(cfg.Log.Requests.Path)
	cfg.Log.Events.Path = os.ExpandEnv(cfg.Log.Events.Path)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if !slices.Contains([]string{OutputSpeaker, OutputNone}, c.Audio.Output) {
		return fmt.Errorf("invalid audio.output '%s': must be '%s' or '%s'", c.Audio.Output, OutputSpeaker, OutputNone)
	}
	if c.Proof.Threshold <= 0 || c.Proof.Threshold > 1 {
		return fmt.Errorf("invalid proof.threshold %v: must be in (0, 1]", float64(c.Proof.Threshold))
	}
	if c.Proof.Tolerance < 1 || c.Proof.Tolerance > 255 {
		return fmt.Errorf("invalid proof.tolerance %d: must be in [1, 255]", c.Proof.Tolerance)
	}
	if c.Proof.ThumbSize < 1 || c.Proof.SampleSize < 1 {
		return fmt.Errorf("proof.thumb_size and proof.sample_size must be positive")
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Snoozer Configuration
# ---------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
#   Ratio:    0.65 or 65%
# The list of screens allowed to play sound is built in and cannot be configured.

`)
	data = append(header, data...)

	reOutput := regexp.MustCompile(`(?m)^(\s+)output:`)
	data = reOutput.ReplaceAll(data, []byte("${1}# Options: speaker, none\n${1}output:"))

	reThreshold := regexp.MustCompile(`(?m)^(\s+)threshold:`)
	data = reThreshold.ReplaceAll(data, []byte("${1}# Minimum similarity for a proof photo to count as a match\n${1}threshold:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
