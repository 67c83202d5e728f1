package llm

import (
	"context"

	"github.com/pkg/errors"

	"github.com/jingkaihe/keel/pkg/llm/anthropic"
	"github.com/jingkaihe/keel/pkg/llm/google"
	"github.com/jingkaihe/keel/pkg/llm/openai"
	llmtypes "github.com/jingkaihe/keel/pkg/types/llm"
)

// NewClient returns the streaming client for config.Provider.
func NewClient(ctx context.Context, config llmtypes.Config) (llmtypes.Client, error) {
	switch config.Provider {
	case llmtypes.ProviderOpenAI:
		return openai.New(config)
	case llmtypes.ProviderAnthropic, "":
		return anthropic.New(config)
	case llmtypes.ProviderGoogle:
		return google.New(ctx, config)
	default:
		return nil, errors.Errorf("unsupported provider %q", config.Provider)
	}
}
