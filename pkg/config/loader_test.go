package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Initialize(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 0.7, cfg.Pipeline.ConfidenceThreshold)
	assert.Equal(t, 2, cfg.Pipeline.MinEvidenceSources)
	assert.Equal(t, 5, cfg.Pipeline.MaxHypotheses)
	assert.Equal(t, 10, cfg.Pipeline.MaxToolIterations)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.AgentTimeout())
	assert.Equal(t, 120*time.Second, cfg.Pipeline.RunTimeout())
	assert.Equal(t, "http://localhost:9090", cfg.Observability.MetricsURL)
}

func TestInitialize_UserValuesOverrideDefaults(t *testing.T) {
	dir := t.TempDir()
	yaml := `
pipeline:
  confidence_threshold: 0.8
  max_hypotheses: 3
observability:
  metrics_url: http://prom.internal:9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "faultline.yaml"), []byte(yaml), 0o600))

	cfg, err := Initialize(dir)
	require.NoError(t, err)

	assert.Equal(t, 0.8, cfg.Pipeline.ConfidenceThreshold)
	assert.Equal(t, 3, cfg.Pipeline.MaxHypotheses)
	assert.Equal(t, "http://prom.internal:9090", cfg.Observability.MetricsURL)
	// Untouched fields keep defaults.
	assert.Equal(t, 2, cfg.Pipeline.MinEvidenceSources)
	assert.Equal(t, "http://localhost:3000", cfg.Observability.DashboardURL)
}

func TestInitialize_ExplicitZeroThresholdSurvivesMerge(t *testing.T) {
	dir := t.TempDir()
	yaml := `
pipeline:
  confidence_threshold: 0.0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "faultline.yaml"), []byte(yaml), 0o600))

	cfg, err := Initialize(dir)
	require.NoError(t, err)

	// 0.0 is a deliberate setting, not an unset field.
	assert.Equal(t, 0.0, cfg.Pipeline.ConfidenceThreshold)
	// An absent key still picks up the default.
	assert.Equal(t, 2, cfg.Pipeline.MinEvidenceSources)
}

func TestInitialize_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_DASHBOARD_KEY", "secret-token")
	dir := t.TempDir()
	yaml := `
observability:
  dashboard_api_key: "{{.TEST_DASHBOARD_KEY}}"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "faultline.yaml"), []byte(yaml), 0o600))

	cfg, err := Initialize(dir)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", cfg.Observability.DashboardAPIKey)
}

func TestInitialize_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "threshold out of range",
			yaml: "pipeline:\n  confidence_threshold: 1.5\n",
		},
		{
			name: "run timeout below agent timeout",
			yaml: "pipeline:\n  agent_timeout_seconds: 60\n  run_timeout_seconds: 30\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "faultline.yaml"), []byte(tt.yaml), 0o600))

			_, err := Initialize(dir)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidationFailed)
		})
	}
}

func TestInitialize_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "faultline.yaml"), []byte("pipeline: ["), 0o600))

	_, err := Initialize(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestRunbooksConfig_CacheTTLDuration(t *testing.T) {
	assert.Equal(t, 30*time.Minute, RunbooksConfig{CacheTTL: "30m"}.CacheTTLDuration())
	assert.Equal(t, time.Hour, RunbooksConfig{CacheTTL: "bogus"}.CacheTTLDuration())
	assert.Equal(t, time.Hour, RunbooksConfig{}.CacheTTLDuration())
}
