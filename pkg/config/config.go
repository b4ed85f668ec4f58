// Package config provides configuration loading and validation for the
// mission core. Process configuration is a JSON file with environment
// variable overrides; workflow definitions are separate YAML documents
// loaded through pkg/workflow.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Default configuration values.
const (
	DefaultDBPath              = "missions.db"
	DefaultWorkflowFile        = "workflow.yaml"
	DefaultEventLogDir         = "logs"
	DefaultGateTimeoutSec      = 300
	DefaultExecutorTimeoutSec  = 1800
	DefaultHardBudgetEnforce   = true
	DefaultAlertThresholdRatio = 0.8
)

// Config is the main configuration for the mission core.
type Config struct {
	DBPath              string  `json:"db_path"`
	WorkflowFile        string  `json:"workflow_file"`
	EventLogDir         string  `json:"event_log_dir"`
	GateTimeoutSec      int     `json:"gate_timeout_sec"`
	ExecutorTimeoutSec  int     `json:"executor_timeout_sec"`
	HardBudgetEnforce   bool    `json:"hard_budget_enforce"`
	DefaultMaxCostUSD   float64 `json:"default_max_cost_usd"`
	AlertThresholdRatio float64 `json:"alert_threshold_ratio"`
	MetricsEnabled      bool    `json:"metrics_enabled"`
}

// Default returns a configuration populated with default values.
func Default() *Config {
	return &Config{
		DBPath:              DefaultDBPath,
		WorkflowFile:        DefaultWorkflowFile,
		EventLogDir:         DefaultEventLogDir,
		GateTimeoutSec:      DefaultGateTimeoutSec,
		ExecutorTimeoutSec:  DefaultExecutorTimeoutSec,
		HardBudgetEnforce:   DefaultHardBudgetEnforce,
		AlertThresholdRatio: DefaultAlertThresholdRatio,
		MetricsEnabled:      true,
	}
}

// Load reads configuration from the given JSON file, applying defaults
// for missing fields and environment variable overrides on top. A missing
// file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies MISSIONCORE_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MISSIONCORE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("MISSIONCORE_WORKFLOW_FILE"); v != "" {
		cfg.WorkflowFile = v
	}
	if v := os.Getenv("MISSIONCORE_EVENT_LOG_DIR"); v != "" {
		cfg.EventLogDir = v
	}
	if v := os.Getenv("MISSIONCORE_GATE_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GateTimeoutSec = n
		}
	}
	if v := os.Getenv("MISSIONCORE_EXECUTOR_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ExecutorTimeoutSec = n
		}
	}
	if v := os.Getenv("MISSIONCORE_HARD_BUDGET"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.HardBudgetEnforce = b
		}
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.GateTimeoutSec <= 0 {
		return fmt.Errorf("gate_timeout_sec must be positive, got %d", c.GateTimeoutSec)
	}
	if c.ExecutorTimeoutSec <= 0 {
		return fmt.Errorf("executor_timeout_sec must be positive, got %d", c.ExecutorTimeoutSec)
	}
	if c.AlertThresholdRatio < 0 || c.AlertThresholdRatio > 1 {
		return fmt.Errorf("alert_threshold_ratio must be in [0,1], got %f", c.AlertThresholdRatio)
	}
	return nil
}
