// Package config loads the YAML tuning file that shapes the pipeline:
// decision thresholds, the retrain trigger, runner delays, and the optional
// simulator. Files are checked against an embedded JSON schema before
// decoding, so typos surface as load errors instead of silently falling back
// to defaults.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/bdobrica/Togusa/internal/togusa/training"
)

//go:embed config.schema.json
var configSchema string

// Config is the daemon's tuning configuration. Every field has a default;
// a YAML file only overrides what it names.
type Config struct {
	// ModelsDir is where trained model artifacts are written.
	ModelsDir string `yaml:"models_dir"`
	// DatasetPath is the labeled corpus for the initial import.
	DatasetPath string `yaml:"dataset_path"`
	// ThresholdAllow and ThresholdBlock bound the three decision zones.
	// These seed the settings row on first open; afterwards the store is
	// authoritative.
	ThresholdAllow float64 `yaml:"threshold_allow"`
	ThresholdBlock float64 `yaml:"threshold_block"`
	// RetrainGoldThreshold is how many new gold labels arm the retrain
	// trigger. Zero disables counter-driven retraining.
	RetrainGoldThreshold int  `yaml:"retrain_gold_threshold"`
	AutoRetrain          bool `yaml:"auto_retrain"`
	// DefaultTemplate picks the training pool size for scheduled runs.
	DefaultTemplate string `yaml:"default_template"`

	Scorer    ScorerConfig    `yaml:"scorer"`
	Retrain   RetrainConfig   `yaml:"retrain"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Digest    DigestConfig    `yaml:"digest"`
}

// ScorerConfig holds the adaptive delays of the scoring workers, in
// milliseconds.
type ScorerConfig struct {
	NotReadyMS int `yaml:"not_ready_ms"`
	IdleMS     int `yaml:"idle_ms"`
	BusyMS     int `yaml:"busy_ms"`
	ErrorMS    int `yaml:"error_ms"`
}

func (c ScorerConfig) NotReadyDelay() time.Duration { return millis(c.NotReadyMS) }
func (c ScorerConfig) IdleDelay() time.Duration     { return millis(c.IdleMS) }
func (c ScorerConfig) BusyDelay() time.Duration     { return millis(c.BusyMS) }
func (c ScorerConfig) ErrorDelay() time.Duration    { return millis(c.ErrorMS) }

// RetrainConfig holds the retrain loop timing, in milliseconds.
type RetrainConfig struct {
	CheckIntervalMS int `yaml:"check_interval_ms"`
	ErrorBackoffMS  int `yaml:"error_backoff_ms"`
}

func (c RetrainConfig) CheckInterval() time.Duration { return millis(c.CheckIntervalMS) }
func (c RetrainConfig) ErrorBackoff() time.Duration  { return millis(c.ErrorBackoffMS) }

// SimulatorConfig holds the optional holdout-replay feeder settings.
type SimulatorConfig struct {
	Enabled    bool `yaml:"enabled"`
	IntervalMS int  `yaml:"interval_ms"`
	BatchSize  int  `yaml:"batch_size"`
	CopyLabel  bool `yaml:"copy_label"`
}

func (c SimulatorConfig) Interval() time.Duration { return millis(c.IntervalMS) }

// DigestConfig holds the review-digest notifier batching window.
type DigestConfig struct {
	WindowMS int `yaml:"window_ms"`
	MaxBatch int `yaml:"max_batch"`
}

func (c DigestConfig) Window() time.Duration { return millis(c.WindowMS) }

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// Default returns the tuning configuration the daemon runs with when no
// YAML file is given.
func Default() Config {
	return Config{
		ModelsDir:            "models",
		DatasetPath:          "Dataset/SMSSpamCollection",
		ThresholdAllow:       0.30,
		ThresholdBlock:       0.70,
		RetrainGoldThreshold: 100,
		AutoRetrain:          true,
		DefaultTemplate:      string(training.DefaultTemplate),
		Scorer: ScorerConfig{
			NotReadyMS: 2000,
			IdleMS:     500,
			BusyMS:     100,
			ErrorMS:    1000,
		},
		Retrain: RetrainConfig{
			CheckIntervalMS: 10000,
			ErrorBackoffMS:  5000,
		},
		Simulator: SimulatorConfig{
			Enabled:    false,
			IntervalMS: 5000,
			BatchSize:  5,
			CopyLabel:  true,
		},
		Digest: DigestConfig{
			WindowMS: 10000,
			MaxBatch: 16,
		},
	}
}

// Load reads and parses the YAML tuning file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML tuning document over the defaults and validates it.
// It is the canonical entry point for loading tuning configurations.
func Parse(data []byte) (*Config, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validateSchema checks the raw document against the embedded JSON schema.
// An empty document is fine; it means all defaults.
func validateSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("config parse: %w", err)
	}
	if doc == nil {
		return nil
	}
	schema, err := jsonschema.CompileString("config.schema.json", configSchema)
	if err != nil {
		return fmt.Errorf("config schema compile: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	return nil
}

// Validate checks a Config for consistency beyond what the schema can see.
// It returns the first validation error encountered, or nil if the config
// is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ModelsDir) == "" {
		return fmt.Errorf("models_dir must not be empty")
	}
	if strings.TrimSpace(c.DatasetPath) == "" {
		return fmt.Errorf("dataset_path must not be empty")
	}
	if c.ThresholdAllow < 0 || c.ThresholdAllow > 1 {
		return fmt.Errorf("threshold_allow %.2f is outside valid range [0.0, 1.0]", c.ThresholdAllow)
	}
	if c.ThresholdBlock < 0 || c.ThresholdBlock > 1 {
		return fmt.Errorf("threshold_block %.2f is outside valid range [0.0, 1.0]", c.ThresholdBlock)
	}
	if c.ThresholdAllow > c.ThresholdBlock {
		return fmt.Errorf("threshold_allow %.2f must not exceed threshold_block %.2f",
			c.ThresholdAllow, c.ThresholdBlock)
	}
	if c.RetrainGoldThreshold < 0 {
		return fmt.Errorf("retrain_gold_threshold must be >= 0")
	}
	if _, err := training.ParseTemplate(c.DefaultTemplate); err != nil {
		return fmt.Errorf("default_template: %w", err)
	}

	for _, f := range []struct {
		name  string
		value int
	}{
		{"scorer.not_ready_ms", c.Scorer.NotReadyMS},
		{"scorer.idle_ms", c.Scorer.IdleMS},
		{"scorer.busy_ms", c.Scorer.BusyMS},
		{"scorer.error_ms", c.Scorer.ErrorMS},
		{"retrain.check_interval_ms", c.Retrain.CheckIntervalMS},
		{"retrain.error_backoff_ms", c.Retrain.ErrorBackoffMS},
		{"simulator.interval_ms", c.Simulator.IntervalMS},
		{"simulator.batch_size", c.Simulator.BatchSize},
		{"digest.window_ms", c.Digest.WindowMS},
		{"digest.max_batch", c.Digest.MaxBatch},
	} {
		if f.value < 0 {
			return fmt.Errorf("%s must be >= 0", f.name)
		}
	}
	return nil
}

// Template returns the parsed default training template. Call Validate
// first; an invalid name falls back to the package default here.
func (c *Config) Template() training.Template {
	tpl, err := training.ParseTemplate(c.DefaultTemplate)
	if err != nil {
		return training.DefaultTemplate
	}
	return tpl
}
