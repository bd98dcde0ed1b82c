package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Tutortoise/image-scan-service/classify"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing-config.yaml"))

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:8080" {
		t.Fatalf("unexpected listen addr default: %q", cfg.ListenAddr)
	}
	if cfg.ModelPath != "assets/model/model_unquant.onnx" {
		t.Fatalf("unexpected model path default: %q", cfg.ModelPath)
	}
	if len(cfg.Labels) != 3 || cfg.Labels[0] != "Class 1" {
		t.Fatalf("unexpected labels default: %v", cfg.Labels)
	}
	spec := cfg.InputSpec()
	if spec.Width != 224 || spec.Height != 224 || spec.Layout != classify.LayoutNHWC {
		t.Fatalf("unexpected input spec: %+v", spec)
	}
	if cfg.PoolSize != classify.DefaultPoolSize {
		t.Fatalf("unexpected pool size: %d", cfg.PoolSize)
	}
	if cfg.MaxUploadBytes() != 10<<20 {
		t.Fatalf("unexpected upload limit: %d", cfg.MaxUploadBytes())
	}
}

func TestLoadConfigYAMLAndEnvOverride(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
model_path: "/models/xray.onnx"
labels: ["Healthy", "Pneumonia"]
input_layout: "NCHW"
pool_size: 2
debug: true
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", cfgPath)
	t.Setenv("POOL_SIZE", "6")
	t.Setenv("LABELS", "cat, dog ,, bird")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.ModelPath != "/models/xray.onnx" {
		t.Fatalf("expected yaml model path, got %q", cfg.ModelPath)
	}
	if cfg.PoolSize != 6 {
		t.Fatalf("expected env pool size, got %d", cfg.PoolSize)
	}
	if len(cfg.Labels) != 3 || cfg.Labels[1] != "dog" || cfg.Labels[2] != "bird" {
		t.Fatalf("expected env labels, got %v", cfg.Labels)
	}
	if cfg.Layout != classify.LayoutNCHW || cfg.InputLayout != "nchw" {
		t.Fatalf("expected nchw layout, got %q", cfg.Layout)
	}
	if !cfg.Debug {
		t.Fatalf("expected debug from yaml")
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"layout", "INPUT_LAYOUT", "chw"},
		{"pool", "POOL_SIZE", "-1"},
		{"upload", "MAX_UPLOAD_MB", "-3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
			t.Setenv(tt.key, tt.val)
			if _, err := LoadConfig(); err == nil {
				t.Fatalf("expected validation error for %s=%s", tt.key, tt.val)
			}
		})
	}
}

func TestLoadConfigBadYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(cfgPath, []byte("labels: [unterminated"), 0o644)
	t.Setenv("CONFIG_PATH", cfgPath)

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected parse error")
	}
}
