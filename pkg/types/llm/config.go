package llm

// Supported providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// RetryConfig controls retries of a failed model call.
type RetryConfig struct {
	Attempts     int    `mapstructure:"attempts" json:"attempts" yaml:"attempts"`                // Maximum number of attempts
	InitialDelay int    `mapstructure:"initial_delay" json:"initial_delay" yaml:"initial_delay"` // Initial delay in milliseconds
	MaxDelay     int    `mapstructure:"max_delay" json:"max_delay" yaml:"max_delay"`             // Maximum delay in milliseconds
	BackoffType  string `mapstructure:"backoff_type" json:"backoff_type" yaml:"backoff_type"`    // "fixed" or "exponential"
}

// DefaultRetryConfig is applied when no attempts are configured.
var DefaultRetryConfig = RetryConfig{
	Attempts:     3,
	InitialDelay: 1000,
	MaxDelay:     10000,
	BackoffType:  "exponential",
}

// ProfileConfig is a named set of overrides merged onto Config.
type ProfileConfig map[string]any

// Config holds the configuration for the LLM client
type Config struct {
	Provider  string                   `mapstructure:"provider" json:"provider" yaml:"provider"`
	Model     string                   `mapstructure:"model" json:"model" yaml:"model"`
	MaxTokens int                      `mapstructure:"max_tokens" json:"max_tokens" yaml:"max_tokens"`
	APIKey    string                   `mapstructure:"api_key" json:"-" yaml:"api_key"`
	BaseURL   string                   `mapstructure:"base_url" json:"base_url,omitempty" yaml:"base_url"`
	Retry     RetryConfig              `mapstructure:"retry" json:"retry" yaml:"retry"`
	Profiles  map[string]ProfileConfig `mapstructure:"profiles" json:"profiles,omitempty" yaml:"profiles"`
}
