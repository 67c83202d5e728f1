package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmtypes "github.com/jingkaihe/keel/pkg/types/llm"
)

const sampleConfig = `
provider: openai
model: gpt-4.1
retry:
  attempts: 5
profiles:
  default:
    model: ignored
  local:
    provider: openai
    base_url: http://localhost:11434/v1
    max_tokens: "2048"
  claude:
    provider: anthropic
    model: claude-sonnet-4-20250514
`

func newViper(t *testing.T, profile string) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(sampleConfig)))
	if profile != "" {
		v.Set("profile", profile)
	}
	return v
}

func TestConfigFromDefaults(t *testing.T) {
	v := viper.New()
	config, err := ConfigFrom(v)
	require.NoError(t, err)
	assert.Equal(t, llmtypes.ProviderAnthropic, config.Provider)
	assert.Equal(t, DefaultMaxTokens, config.MaxTokens)
	assert.Equal(t, llmtypes.DefaultRetryConfig, config.Retry)
}

func TestConfigFromProfiles(t *testing.T) {
	config, err := ConfigFrom(newViper(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", config.Model)
	assert.Equal(t, 5, config.Retry.Attempts)
	assert.NotContains(t, config.Profiles, "default")

	config, err = ConfigFrom(newViper(t, "local"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434/v1", config.BaseURL)
	assert.Equal(t, 2048, config.MaxTokens)
	assert.Equal(t, "gpt-4.1", config.Model)

	config, err = ConfigFrom(newViper(t, "claude"))
	require.NoError(t, err)
	assert.Equal(t, llmtypes.ProviderAnthropic, config.Provider)

	config, err = ConfigFrom(newViper(t, "default"))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", config.Model)

	_, err = ConfigFrom(newViper(t, "missing"))
	assert.ErrorContains(t, err, `profile "missing" is not defined`)
}

func TestNewClient(t *testing.T) {
	ctx := context.Background()

	c, err := NewClient(ctx, llmtypes.Config{Provider: llmtypes.ProviderOpenAI, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, llmtypes.ProviderOpenAI, c.Provider())

	c, err = NewClient(ctx, llmtypes.Config{Provider: llmtypes.ProviderAnthropic, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, llmtypes.ProviderAnthropic, c.Provider())

	c, err = NewClient(ctx, llmtypes.Config{Provider: llmtypes.ProviderGoogle, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, llmtypes.ProviderGoogle, c.Provider())

	_, err = NewClient(ctx, llmtypes.Config{Provider: "bedrock"})
	assert.ErrorContains(t, err, "unsupported provider")
}
