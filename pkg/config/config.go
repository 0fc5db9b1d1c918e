// Package config loads and validates faultline configuration from
// faultline.yaml plus environment variables, merging user settings over
// built-in defaults.
package config

import "time"

// Config is the fully-resolved runtime configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	LLM           LLMConfig           `yaml:"llm"`
	Observability ObservabilityConfig `yaml:"observability"`
	Vector        VectorConfig        `yaml:"vector"`
	Runbooks      RunbooksConfig      `yaml:"runbooks"`
	Queue         QueueConfig         `yaml:"queue"`
	LogLevel      string              `yaml:"log_level"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	HTTPPort         string   `yaml:"http_port"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}

// PipelineConfig holds the decision thresholds and budgets recognized by
// the analysis pipeline.
type PipelineConfig struct {
	ConfidenceThreshold      float64 `yaml:"confidence_threshold"`
	MinEvidenceSources       int     `yaml:"min_evidence_sources"`
	MaxHypotheses            int     `yaml:"max_hypotheses"`
	MaxToolIterations        int     `yaml:"max_tool_iterations"`
	AgentTimeoutSeconds      int     `yaml:"agent_timeout_seconds"`
	RunTimeoutSeconds        int     `yaml:"run_timeout_seconds"`
	CorrelationWindowSeconds int     `yaml:"correlation_window_seconds"`
	GapThresholdSeconds      int     `yaml:"gap_threshold_seconds"`
	MaxLogEvidence           int     `yaml:"max_log_evidence"`
}

// AgentTimeout is the per-agent soft timeout.
func (p PipelineConfig) AgentTimeout() time.Duration {
	return time.Duration(p.AgentTimeoutSeconds) * time.Second
}

// RunTimeout is the per-run hard deadline.
func (p PipelineConfig) RunTimeout() time.Duration {
	return time.Duration(p.RunTimeoutSeconds) * time.Second
}

// CorrelationWindow is the sliding window for timeline correlation.
func (p PipelineConfig) CorrelationWindow() time.Duration {
	return time.Duration(p.CorrelationWindowSeconds) * time.Second
}

// GapThreshold is the minimum silent interval reported as a gap.
func (p PipelineConfig) GapThreshold() time.Duration {
	return time.Duration(p.GapThresholdSeconds) * time.Second
}

// LLMConfig holds reasoning/vision model settings.
type LLMConfig struct {
	// APIKeyEnv names the environment variable holding the Anthropic key.
	// The key itself never appears in YAML.
	APIKeyEnv         string `yaml:"api_key_env"`
	PrimaryModel      string `yaml:"primary_model"`
	VisionModel       string `yaml:"vision_model"`
	EmbeddingModel    string `yaml:"embedding_model"`
	MaxTokens         int    `yaml:"max_tokens"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

// ObservabilityConfig holds the consumed backend endpoints.
type ObservabilityConfig struct {
	MetricsURL      string `yaml:"metrics_url"`
	DashboardURL    string `yaml:"dashboard_url"`
	DashboardAPIKey string `yaml:"dashboard_api_key"`
}

// VectorConfig holds the similarity-index settings.
type VectorConfig struct {
	IndexPath string `yaml:"index_path"`
}

// RunbooksConfig holds runbook sourcing settings.
type RunbooksConfig struct {
	AllowedDomains []string `yaml:"allowed_domains"`
	CacheTTL       string   `yaml:"cache_ttl"` // Go duration string
	URLs           []string `yaml:"urls"`      // seeded into the runbooks corpus at startup
}

// CacheTTLDuration parses CacheTTL, falling back to one hour.
func (r RunbooksConfig) CacheTTLDuration() time.Duration {
	d, err := time.ParseDuration(r.CacheTTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// QueueConfig holds worker pool settings for async analyses.
type QueueConfig struct {
	WorkerCount       int `yaml:"worker_count"`
	MaxQueueDepth     int `yaml:"max_queue_depth"`
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`
	PollIntervalMS    int `yaml:"poll_interval_ms"`
	PollJitterMS      int `yaml:"poll_jitter_ms"`
}

// PollInterval is the worker idle poll period.
func (q QueueConfig) PollInterval() time.Duration {
	return time.Duration(q.PollIntervalMS) * time.Millisecond
}

// PollJitter is the symmetric jitter applied to PollInterval.
func (q QueueConfig) PollJitter() time.Duration {
	return time.Duration(q.PollJitterMS) * time.Millisecond
}

// builtinDefaults returns the configuration used when faultline.yaml
// omits a value. Every field a component reads has a usable default.
func builtinDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: "8080",
		},
		Pipeline: PipelineConfig{
			ConfidenceThreshold:      0.7,
			MinEvidenceSources:       2,
			MaxHypotheses:            5,
			MaxToolIterations:        10,
			AgentTimeoutSeconds:      30,
			RunTimeoutSeconds:        120,
			CorrelationWindowSeconds: 120,
			GapThresholdSeconds:      300,
			MaxLogEvidence:           20,
		},
		LLM: LLMConfig{
			APIKeyEnv:         "ANTHROPIC_API_KEY",
			PrimaryModel:      "claude-sonnet-4-20250514",
			VisionModel:       "claude-sonnet-4-20250514",
			EmbeddingModel:    "bge-large-en-v1.5",
			MaxTokens:         4096,
			RequestsPerMinute: 60,
		},
		Observability: ObservabilityConfig{
			MetricsURL:   "http://localhost:9090",
			DashboardURL: "http://localhost:3000",
		},
		Vector: VectorConfig{
			IndexPath: "./data/indexes",
		},
		Runbooks: RunbooksConfig{
			CacheTTL: "1h",
		},
		Queue: QueueConfig{
			WorkerCount:       2,
			MaxQueueDepth:     32,
			MaxConcurrentRuns: 4,
			PollIntervalMS:    200,
			PollJitterMS:      100,
		},
		LogLevel: "info",
	}
}
