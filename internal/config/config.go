// Package config loads and validates runtime configuration for Mudra.
//
// Values come from an optional YAML file merged with MUDRA_* environment
// variables; environment variables win.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable the binary understands. Zero values are
// replaced by defaults in Load.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	// Data and artifacts.
	DataDir        string `mapstructure:"data_dir"`
	OutputDir      string `mapstructure:"output_dir"`
	CheckpointPath string `mapstructure:"checkpoint_path"`
	DBPath         string `mapstructure:"db_path"`

	// Model.
	InputSize   int     `mapstructure:"input_size"`
	DropoutRate float64 `mapstructure:"dropout_rate"`

	// Training.
	Seed           int64   `mapstructure:"seed"`
	BatchSize      int     `mapstructure:"batch_size"`
	WarmupEpochs   int     `mapstructure:"warmup_epochs"`
	FineTuneEpochs int     `mapstructure:"finetune_epochs"`
	LearningRate   float64 `mapstructure:"learning_rate"`
	Augment        bool    `mapstructure:"augment"`
	PretrainedPath string  `mapstructure:"pretrained_path"`

	// Stream acquisition.
	StreamURL     string        `mapstructure:"stream_url"`
	StreamTimeout time.Duration `mapstructure:"stream_timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	Source        string        `mapstructure:"source"`
	CameraID      int           `mapstructure:"camera_id"`

	// Inference.
	WindowSize int    `mapstructure:"window_size"`
	QueueSize  int    `mapstructure:"queue_size"`
	ONNXModel  string `mapstructure:"onnx_model"`
	ONNXMeta   string `mapstructure:"onnx_meta"`

	// Surfaces.
	ServerAddr string `mapstructure:"server_addr"`
	Display    bool   `mapstructure:"display"`
	Tray       bool   `mapstructure:"tray"`
}

// Load reads configuration from the given YAML file (may be empty for
// env-only operation) and the MUDRA_* environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MUDRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("data_dir", "data")
	v.SetDefault("output_dir", "out")
	v.SetDefault("checkpoint_path", "out/best.ckpt")
	v.SetDefault("db_path", "mudra.db")
	v.SetDefault("input_size", 96)
	v.SetDefault("dropout_rate", 0.2)
	v.SetDefault("seed", 1)
	v.SetDefault("batch_size", 16)
	v.SetDefault("warmup_epochs", 10)
	v.SetDefault("finetune_epochs", 20)
	v.SetDefault("learning_rate", 0.01)
	v.SetDefault("augment", true)
	v.SetDefault("stream_url", "http://192.168.4.1/jpg")
	v.SetDefault("stream_timeout", 5*time.Second)
	v.SetDefault("max_retries", 5)
	v.SetDefault("source", "mjpeg")
	v.SetDefault("camera_id", 0)
	v.SetDefault("window_size", 5)
	v.SetDefault("queue_size", 4)
	v.SetDefault("server_addr", ":8080")
	v.SetDefault("display", false)
	v.SetDefault("tray", false)
}

// Validate checks enumerated and range-bound fields.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	switch c.Source {
	case "mjpeg", "snapshot", "camera":
	default:
		return fmt.Errorf("invalid source %q (want mjpeg, snapshot or camera)", c.Source)
	}
	if c.InputSize < 8 {
		return fmt.Errorf("input_size must be at least 8, got %d", c.InputSize)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return fmt.Errorf("dropout_rate must be in [0, 1), got %g", c.DropoutRate)
	}
	if c.WindowSize < 1 {
		return fmt.Errorf("window_size must be positive, got %d", c.WindowSize)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be positive, got %d", c.QueueSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	return nil
}
