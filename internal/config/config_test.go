package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
params:
  n_subj: 20
  beta1: 40
sweep:
  n_reps: 500
  seed: 7
  vary:
    n_subj: [10, 20, 40]
results:
  backend: sqlite
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}

	if cfg.Params.NSubj != 20 {
		t.Errorf("expected n_subj 20, got %d", cfg.Params.NSubj)
	}
	if cfg.Params.Beta1 != 40 {
		t.Errorf("expected beta1 40, got %g", cfg.Params.Beta1)
	}
	// Unset fields keep their defaults.
	if cfg.Params.Sigma != Default().Params.Sigma {
		t.Errorf("expected default sigma, got %g", cfg.Params.Sigma)
	}
	if cfg.Sweep.NReps != 500 || cfg.Sweep.Seed != 7 {
		t.Errorf("unexpected sweep config: %+v", cfg.Sweep)
	}
	if len(cfg.Sweep.Vary["n_subj"]) != 3 {
		t.Errorf("unexpected vary grid: %v", cfg.Sweep.Vary)
	}
	if cfg.Results.Backend != BackendSQLite {
		t.Errorf("expected sqlite backend, got %q", cfg.Results.Backend)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %q", cfg.Logging.Level)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should be valid: %v", err)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("params: ["), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected an error for malformed YAML")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Sweep.NReps != Default().Sweep.NReps {
		t.Errorf("expected default n_reps, got %d", cfg.Sweep.NReps)
	}
}

func TestLoadReadsProjectConfig(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, ".powersim")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	content := "sweep:\n  n_reps: 42\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Sweep.NReps != 42 {
		t.Errorf("expected n_reps 42 from project config, got %d", cfg.Sweep.NReps)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POWERSIM_LOG_LEVEL", "trace")
	t.Setenv("POWERSIM_RESULTS_BACKEND", "sqlite")
	t.Setenv("POWERSIM_SEED", "99")
	t.Setenv("POWERSIM_N_REPS", "13")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Logging.Level != "trace" {
		t.Errorf("expected trace level, got %q", cfg.Logging.Level)
	}
	if cfg.Results.Backend != BackendSQLite {
		t.Errorf("expected sqlite backend, got %q", cfg.Results.Backend)
	}
	if cfg.Sweep.Seed != 99 {
		t.Errorf("expected seed 99, got %d", cfg.Sweep.Seed)
	}
	if cfg.Sweep.NReps != 13 {
		t.Errorf("expected n_reps 13, got %d", cfg.Sweep.NReps)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*StudyConfig)
		wantErr string
	}{
		{
			name:    "zero reps",
			mutate:  func(c *StudyConfig) { c.Sweep.NReps = 0 },
			wantErr: "n_reps",
		},
		{
			name:    "unknown sweep parameter",
			mutate:  func(c *StudyConfig) { c.Sweep.Vary = map[string][]float64{"gamma": {1}} },
			wantErr: "unknown sweep parameter",
		},
		{
			name:    "bad backend",
			mutate:  func(c *StudyConfig) { c.Results.Backend = "parquet" },
			wantErr: "invalid results backend",
		},
		{
			name:    "bad set size",
			mutate:  func(c *StudyConfig) { c.Pilot.SetSize = -1 },
			wantErr: "set_size",
		},
		{
			name:    "bad log level",
			mutate:  func(c *StudyConfig) { c.Logging.Level = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:    "bad params",
			mutate:  func(c *StudyConfig) { c.Params.Sigma = -5 },
			wantErr: "sigma",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
