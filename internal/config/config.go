// Package config provides unified configuration loading for powersim.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/powersim/internal/params"
	"github.com/nvandessel/powersim/internal/pilot"
)

// StudyConfig contains all powersim configuration settings.
type StudyConfig struct {
	// Params is the base generating parameter set.
	Params params.Set `json:"params" yaml:"params"`

	// Sweep contains settings for the sensitivity sweep.
	Sweep SweepConfig `json:"sweep" yaml:"sweep"`

	// Results contains settings for the results backend.
	Results ResultsConfig `json:"results" yaml:"results"`

	// Pilot contains settings for pilot-data ingestion.
	Pilot PilotConfig `json:"pilot" yaml:"pilot"`

	// Logging contains settings for operational and decision logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// SweepConfig configures the sensitivity sweep.
type SweepConfig struct {
	// Vary maps parameter names to the grid of values to sweep over.
	// Parameters not listed keep their base value.
	Vary map[string][]float64 `json:"vary,omitempty" yaml:"vary,omitempty"`

	// NReps is the number of simulated replications per grid point.
	NReps int `json:"n_reps" yaml:"n_reps"`

	// Seed is the base seed for the sweep's random streams.
	Seed uint64 `json:"seed" yaml:"seed"`
}

// ResultsConfig configures where fit rows are persisted.
type ResultsConfig struct {
	// Backend selects the results store: "csv" (default) or "sqlite".
	Backend string `json:"backend" yaml:"backend"`

	// Path overrides the default results location under .powersim/.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// PilotConfig configures pilot-data ingestion.
type PilotConfig struct {
	// Dir is the directory holding per-subject pilot CSVs.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`

	// SetSize keeps only pilot trials at this set size.
	SetSize float64 `json:"set_size" yaml:"set_size"`
}

// LoggingConfig configures powersim's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables decision logging to .powersim/decisions.jsonl.
	// "trace" additionally logs every replication's fit.
	Level string `json:"level" yaml:"level"`
}

// Backend names for ResultsConfig.
const (
	BackendCSV    = "csv"
	BackendSQLite = "sqlite"
)

// Default returns a StudyConfig with sensible defaults.
func Default() *StudyConfig {
	return &StudyConfig{
		Params: params.Default(),
		Sweep: SweepConfig{
			NReps: 100,
			Seed:  1,
		},
		Results: ResultsConfig{
			Backend: BackendCSV,
		},
		Pilot: PilotConfig{
			SetSize: pilot.DefaultSetSize,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the project's config file and environment
// variables. Order: defaults -> <root>/.powersim/config.yaml -> environment.
func Load(root string) (*StudyConfig, error) {
	config := Default()

	configPath := filepath.Join(root, ".powersim", "config.yaml")
	if _, statErr := os.Stat(configPath); statErr == nil {
		fileConfig, loadErr := LoadFromFile(configPath)
		if loadErr != nil {
			return nil, fmt.Errorf("loading config file: %w", loadErr)
		}
		config = fileConfig
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*StudyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return config, nil
}

// Grid builds the sweep grid from the base parameters and the vary map.
func (c *StudyConfig) Grid() params.Grid {
	return params.Grid{Base: c.Params, Vary: c.Sweep.Vary}
}

// Validate checks that the configuration is valid.
func (c *StudyConfig) Validate() error {
	if err := c.Params.Validate(); err != nil {
		return err
	}

	if c.Sweep.NReps <= 0 {
		return fmt.Errorf("n_reps must be positive, got %d", c.Sweep.NReps)
	}
	for name := range c.Sweep.Vary {
		if _, ok := c.Params.Param(name); !ok {
			return fmt.Errorf("unknown sweep parameter: %s (valid: %v)", name, params.Names())
		}
	}

	if c.Results.Backend != BackendCSV && c.Results.Backend != BackendSQLite {
		return fmt.Errorf("invalid results backend: %s (valid: csv, sqlite)", c.Results.Backend)
	}

	if c.Pilot.SetSize <= 0 {
		return fmt.Errorf("pilot set_size must be positive, got %g", c.Pilot.SetSize)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *StudyConfig) {
	if v := os.Getenv("POWERSIM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}

	if v := os.Getenv("POWERSIM_RESULTS_BACKEND"); v != "" {
		config.Results.Backend = v
	}

	if v := os.Getenv("POWERSIM_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Sweep.Seed = n
		}
	}

	if v := os.Getenv("POWERSIM_N_REPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Sweep.NReps = n
		}
	}
}
