package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/invariant"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/orchestrator"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/scheduler"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/signals"
)

// EnvConfigPath names the config file when no --config flag is given.
const EnvConfigPath = "SOPHRON_CONFIG"

var validate = validator.New()

// #region config
// Config is the full sophron configuration.
type Config struct {
	BaselineProbeRate    float64  `yaml:"baseline_probe_rate" validate:"gte=0,lte=1"`
	SurgeProbeRate       float64  `yaml:"surge_probe_rate" validate:"gte=0,lte=1,gtefield=BaselineProbeRate"`
	ShiftThreshold       float64  `yaml:"shift_threshold" validate:"gte=0"`
	DriftThreshold       float64  `yaml:"drift_threshold" validate:"gte=0"`
	DeceptThreshold      float64  `yaml:"decept_threshold" validate:"gte=0,lte=1"`
	MetricDeltaThreshold float64  `yaml:"metric_delta_threshold" validate:"gte=0"`
	MaxTemporalGap       Duration `yaml:"max_temporal_gap" validate:"gte=0"`
	FailOnViolation      bool     `yaml:"fail_on_violation"`
	ConfigHash           string   `yaml:"config_hash"`
	ProbeBudget          float64  `yaml:"probe_budget" validate:"gte=0"`
	DatabasePath         string   `yaml:"database_path"`

	Log LogConfig `yaml:"log"`
	RPC RPCConfig `yaml:"rpc"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
}

// RPCConfig configures the gRPC listener of `sophron serve`.
type RPCConfig struct {
	Address        string `yaml:"address" validate:"required,hostname_port"`
	MetricsAddress string `yaml:"metrics_address" validate:"omitempty,hostname_port"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		BaselineProbeRate:    0.05,
		SurgeProbeRate:       0.25,
		ShiftThreshold:       0.1,
		DriftThreshold:       0.3,
		DeceptThreshold:      0.3,
		MetricDeltaThreshold: 0.15,
		MaxTemporalGap:       Duration(time.Hour),
		FailOnViolation:      false,
		ProbeBudget:          100,
		DatabasePath:         "sophron.db",
		Log:                  LogConfig{Level: "info", Format: "json"},
		RPC:                  RPCConfig{Address: "127.0.0.1:7443", MetricsAddress: "127.0.0.1:9464"},
	}
}

// #endregion config

// #region load
// Load reads a YAML file over the defaults, applies environment overrides and
// validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SOPHRON_DATABASE_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("SOPHRON_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("SOPHRON_CONFIG_HASH"); v != "" {
		c.ConfigHash = v
	}
}

// Validate checks field ranges and cross-field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// #endregion load

// #region component-configs
// SchedulerConfig maps the rates and trigger thresholds onto the scheduler.
func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		BaselineRate:         c.BaselineProbeRate,
		SurgeRate:            c.SurgeProbeRate,
		DriftThreshold:       c.DriftThreshold,
		MetricDeltaThreshold: c.MetricDeltaThreshold,
	}
}

// DeriverConfig maps the detector thresholds onto the signal deriver.
func (c *Config) DeriverConfig() signals.DeriverConfig {
	return signals.DeriverConfig{
		ShiftThreshold:  c.ShiftThreshold,
		DriftThreshold:  c.DriftThreshold,
		DeceptThreshold: c.DeceptThreshold,
	}
}

// InvariantConfig maps the audit settings onto the validator.
func (c *Config) InvariantConfig() invariant.Config {
	return invariant.Config{
		ConfigHash:      c.ConfigHash,
		MaxTemporalGap:  time.Duration(c.MaxTemporalGap),
		FailOnViolation: c.FailOnViolation,
	}
}

// OrchestratorConfig combines the component configs with the probe budget.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		Deriver:     c.DeriverConfig(),
		Invariant:   c.InvariantConfig(),
		Scheduler:   c.SchedulerConfig(),
		ProbeBudget: c.ProbeBudget,
	}
}

// #endregion component-configs

// #region duration
// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// UnmarshalYAML accepts "90m", "1h30m" and similar strings.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// #endregion duration
