package model

import "time"

// Config is the complete runtime configuration, assembled from defaults,
// the config file, REQFORGE_* environment variables, and CLI flags.
type Config struct {
	LLM       LLMConfig       `yaml:"llm" mapstructure:"llm"`
	Semantic  SemanticConfig  `yaml:"semantic" mapstructure:"semantic"`
	Guardrail GuardrailConfig `yaml:"guardrail" mapstructure:"guardrail"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Usage     UsageConfig     `yaml:"usage" mapstructure:"usage"`
	Trace     TraceConfig     `yaml:"trace" mapstructure:"trace"`
	Output    OutputConfig    `yaml:"output" mapstructure:"output"`
}

// LLMConfig configures the external oracle transport.
type LLMConfig struct {
	// Provider name: "openai", "local", ""
	Provider string `yaml:"provider" mapstructure:"provider"`

	// Model name (provider-specific)
	Model string `yaml:"model" mapstructure:"model"`

	// APIKey for OpenAI
	APIKey string `yaml:"api_key" mapstructure:"api_key"`

	// BaseURL for custom endpoints
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// Timeout for a single API request
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// RequestsPerSecond caps the oracle call rate per model
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// SemanticConfig configures the semantic contradiction confirmation step.
type SemanticConfig struct {
	// Enabled toggles the oracle confirmation of suspicious pairs
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// MaxPairs is the maximum pairs per oracle call
	MaxPairs int `yaml:"max_pairs" mapstructure:"max_pairs"`

	// MaxTokens limits the oracle response length
	MaxTokens int `yaml:"max_tokens" mapstructure:"max_tokens"`

	// CostCeilingUSD fails the check closed when the aggregated call cost
	// estimate exceeds it; zero disables the ceiling
	CostCeilingUSD float64 `yaml:"cost_ceiling_usd" mapstructure:"cost_ceiling_usd"`
}

// GuardrailConfig holds pre-flight limits enforced before any oracle call.
type GuardrailConfig struct {
	// MaxInputChars rejects oversized raw text
	MaxInputChars int `yaml:"max_input_chars" mapstructure:"max_input_chars"`

	// DailyTokenQuota rejects runs once the ledger's daily total passes it;
	// zero disables the quota
	DailyTokenQuota int `yaml:"daily_token_quota" mapstructure:"daily_token_quota"`
}

// PricingConfig holds per-million-token prices used for cost estimates.
// Zero prices disable estimation.
type PricingConfig struct {
	InputPerMTokensUSD  float64 `yaml:"input_per_mtokens_usd" mapstructure:"input_per_mtokens_usd"`
	OutputPerMTokensUSD float64 `yaml:"output_per_mtokens_usd" mapstructure:"output_per_mtokens_usd"`

	// SingleCallAlertUSD records a cost_alert in result meta when one run's
	// estimate exceeds it; zero disables the alert
	SingleCallAlertUSD float64 `yaml:"single_call_alert_usd" mapstructure:"single_call_alert_usd"`
}

// CacheConfig configures structuring-response caching.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir     string        `yaml:"dir" mapstructure:"dir"`
	TTL     time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// UsageConfig configures the on-disk usage ledger.
type UsageConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// TraceConfig configures the optional telemetry sink.
type TraceConfig struct {
	// Endpoint is the HTTP URL traces are posted to; empty selects the no-op sink
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`

	// APIKey is sent as a bearer token when set
	APIKey string `yaml:"api_key" mapstructure:"api_key"`

	// IncludeRaw includes truncated raw oracle responses in trace payloads
	IncludeRaw bool `yaml:"include_raw" mapstructure:"include_raw"`
}

// OutputConfig controls CLI output behavior.
type OutputConfig struct {
	Verbose bool   `yaml:"verbose" mapstructure:"verbose"`
	RunsDir string `yaml:"runs_dir" mapstructure:"runs_dir"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:          "", // Disabled by default; pipeline falls back to the local stub
			Model:             "",
			Timeout:           30 * time.Second,
			RequestsPerSecond: 2,
		},
		Semantic: SemanticConfig{
			Enabled:   true,
			MaxPairs:  5,
			MaxTokens: 256,
		},
		Guardrail: GuardrailConfig{
			MaxInputChars: 8000,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     24 * time.Hour,
		},
		Usage: UsageConfig{
			Enabled: true,
			Path:    "runs/usage.json",
		},
		Output: OutputConfig{
			RunsDir: "runs",
		},
	}
}
