package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Sentinel errors for configuration loading.
var (
	ErrInvalidYAML      = errors.New("invalid YAML syntax")
	ErrValidationFailed = errors.New("configuration validation failed")
)

// Initialize loads, merges, and validates configuration.
//
// Steps performed:
//  1. Read faultline.yaml from configDir (missing file = pure defaults)
//  2. Expand {{.ENV_VAR}} references
//  3. Parse YAML
//  4. Merge user values over built-in defaults
//  5. Validate
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	cfg := builtinDefaults()

	path := filepath.Join(configDir, "faultline.yaml")
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Info("No faultline.yaml found, using built-in defaults")
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	default:
		expanded := ExpandEnv(data)
		user := &Config{}
		if err := yaml.Unmarshal(expanded, user); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidYAML, path, err)
		}
		// User values override defaults; zero values fall through.
		// An explicit 0.0 threshold is a meaningful setting (answer
		// whenever a hypothesis is supported), so it must survive the
		// merge rather than pick up the 0.7 default.
		explicitZeroThreshold := user.Pipeline.ConfidenceThreshold == 0 &&
			yamlHas(expanded, "pipeline", "confidence_threshold")
		if err := mergo.Merge(user, cfg); err != nil {
			return nil, fmt.Errorf("failed to merge configuration: %w", err)
		}
		if explicitZeroThreshold {
			user.Pipeline.ConfidenceThreshold = 0
		}
		cfg = user
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	log.Info("Configuration initialized",
		"metrics_url", cfg.Observability.MetricsURL,
		"dashboard_url", cfg.Observability.DashboardURL,
		"primary_model", cfg.LLM.PrimaryModel,
		"confidence_threshold", cfg.Pipeline.ConfidenceThreshold)

	return cfg, nil
}

// yamlHas reports whether the document sets the given nested key.
func yamlHas(data []byte, keys ...string) bool {
	var raw map[string]any
	if yaml.Unmarshal(data, &raw) != nil {
		return false
	}
	node := any(raw)
	for _, key := range keys {
		m, ok := node.(map[string]any)
		if !ok {
			return false
		}
		if node, ok = m[key]; !ok {
			return false
		}
	}
	return true
}

func validate(cfg *Config) error {
	check := func(ok bool, field, reason string) error {
		if ok {
			return nil
		}
		return fmt.Errorf("%w: %s: %s", ErrValidationFailed, field, reason)
	}

	p := cfg.Pipeline
	for _, c := range []error{
		check(p.ConfidenceThreshold >= 0 && p.ConfidenceThreshold <= 1, "pipeline.confidence_threshold", "must be in [0,1]"),
		check(p.MinEvidenceSources >= 1, "pipeline.min_evidence_sources", "must be >= 1"),
		check(p.MaxHypotheses >= 2, "pipeline.max_hypotheses", "must be >= 2"),
		check(p.MaxToolIterations >= 1, "pipeline.max_tool_iterations", "must be >= 1"),
		check(p.AgentTimeoutSeconds >= 1, "pipeline.agent_timeout_seconds", "must be >= 1"),
		check(p.RunTimeoutSeconds > p.AgentTimeoutSeconds, "pipeline.run_timeout_seconds", "must exceed agent timeout"),
		check(cfg.Queue.WorkerCount >= 1, "queue.worker_count", "must be >= 1"),
		check(cfg.Observability.MetricsURL != "", "observability.metrics_url", "must not be empty"),
		check(cfg.Observability.DashboardURL != "", "observability.dashboard_url", "must not be empty"),
	} {
		if c != nil {
			return c
		}
	}
	return nil
}
