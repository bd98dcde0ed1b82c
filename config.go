package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Tutortoise/image-scan-service/classify"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	ModelPath      string   `yaml:"model_path"`
	ORTLibraryPath string   `yaml:"ort_library_path"`
	Labels         []string `yaml:"labels"`
	InputWidth     int      `yaml:"input_width"`
	InputHeight    int      `yaml:"input_height"`
	InputLayout    string   `yaml:"input_layout"`
	InputName      string   `yaml:"input_name"`
	OutputName     string   `yaml:"output_name"`

	PoolSize       int `yaml:"pool_size"`
	IntraOpThreads int `yaml:"intra_op_threads"`

	LoadTimeoutSeconds      int `yaml:"load_timeout_seconds"`
	InferenceTimeoutSeconds int `yaml:"inference_timeout_seconds"`
	SessionTTLMinutes       int `yaml:"session_ttl_minutes"`
	MaxUploadMB             int `yaml:"max_upload_mb"`

	Debug bool `yaml:"debug"`

	Layout classify.Layout `yaml:"-"`
}

var defaultLabels = []string{"Class 1", "Class 2", "Class 3"}

func LoadConfig() (Config, error) {
	var cfg Config

	// Load from config.yaml if it exists
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("error parsing %s: %w", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.ListenAddr, "LISTEN_ADDR")
	envOverride(&cfg.ModelPath, "MODEL_PATH")
	envOverride(&cfg.ORTLibraryPath, "ORT_LIBRARY_PATH")
	envOverride(&cfg.InputLayout, "INPUT_LAYOUT")
	envOverride(&cfg.InputName, "INPUT_NAME")
	envOverride(&cfg.OutputName, "OUTPUT_NAME")
	envOverrideInt(&cfg.InputWidth, "INPUT_WIDTH")
	envOverrideInt(&cfg.InputHeight, "INPUT_HEIGHT")
	envOverrideInt(&cfg.PoolSize, "POOL_SIZE")
	envOverrideInt(&cfg.IntraOpThreads, "INTRA_OP_THREADS")
	envOverrideInt(&cfg.LoadTimeoutSeconds, "LOAD_TIMEOUT_SECONDS")
	envOverrideInt(&cfg.InferenceTimeoutSeconds, "INFERENCE_TIMEOUT_SECONDS")
	envOverrideInt(&cfg.SessionTTLMinutes, "SESSION_TTL_MINUTES")
	envOverrideInt(&cfg.MaxUploadMB, "MAX_UPLOAD_MB")

	if v := os.Getenv("DEBUG"); v != "" {
		cfg.Debug = v == "true"
	}

	if labels := os.Getenv("LABELS"); labels != "" {
		cfg.Labels = nil
		for _, label := range strings.Split(labels, ",") {
			label = strings.TrimSpace(label)
			if label != "" {
				cfg.Labels = append(cfg.Labels, label)
			}
		}
	}

	// Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8080"
	}
	if cfg.ModelPath == "" {
		cfg.ModelPath = "assets/model/model_unquant.onnx"
	}
	if len(cfg.Labels) == 0 {
		cfg.Labels = append([]string(nil), defaultLabels...)
	}
	if cfg.InputWidth == 0 {
		cfg.InputWidth = classify.DefaultInputWidth
	}
	if cfg.InputHeight == 0 {
		cfg.InputHeight = classify.DefaultInputHeight
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = classify.DefaultPoolSize
	}
	if cfg.LoadTimeoutSeconds == 0 {
		cfg.LoadTimeoutSeconds = 60
	}
	if cfg.InferenceTimeoutSeconds == 0 {
		cfg.InferenceTimeoutSeconds = 30
	}
	if cfg.SessionTTLMinutes == 0 {
		cfg.SessionTTLMinutes = 30
	}
	if cfg.MaxUploadMB == 0 {
		cfg.MaxUploadMB = 10
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	layout, err := classify.ParseLayout(c.InputLayout)
	if err != nil {
		return err
	}
	c.Layout = layout
	c.InputLayout = string(layout)

	switch {
	case c.InputWidth < 1 || c.InputHeight < 1:
		return fmt.Errorf("input size must be positive, got %dx%d", c.InputWidth, c.InputHeight)
	case c.PoolSize < 1:
		return fmt.Errorf("pool_size must be positive, got %d", c.PoolSize)
	case c.LoadTimeoutSeconds < 0 || c.InferenceTimeoutSeconds < 0:
		return fmt.Errorf("timeouts must not be negative")
	case c.SessionTTLMinutes < 1:
		return fmt.Errorf("session_ttl_minutes must be positive, got %d", c.SessionTTLMinutes)
	case c.MaxUploadMB < 1:
		return fmt.Errorf("max_upload_mb must be positive, got %d", c.MaxUploadMB)
	}
	return nil
}

func (c Config) InputSpec() classify.InputSpec {
	return classify.InputSpec{
		Width:  c.InputWidth,
		Height: c.InputHeight,
		Layout: c.Layout,
	}
}

func (c Config) LoadTimeout() time.Duration {
	return time.Duration(c.LoadTimeoutSeconds) * time.Second
}

func (c Config) InferenceTimeout() time.Duration {
	return time.Duration(c.InferenceTimeoutSeconds) * time.Second
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

func (c Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

func envOverride(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func envOverrideInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("Ignoring invalid %s=%q: %v", key, v, err)
			return
		}
		*target = n
	}
}
