// Package llm builds provider clients from configuration.
package llm

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	llmtypes "github.com/jingkaihe/keel/pkg/types/llm"
)

// DefaultMaxTokens is used when max_tokens is not configured.
const DefaultMaxTokens = 8192

// GetConfigFromViper decodes the model configuration from the global viper
// instance and applies the active profile on top of it.
func GetConfigFromViper() (llmtypes.Config, error) {
	return ConfigFrom(viper.GetViper())
}

// ConfigFrom decodes the model configuration from v.
func ConfigFrom(v *viper.Viper) (llmtypes.Config, error) {
	var config llmtypes.Config
	if err := v.Unmarshal(&config); err != nil {
		return config, errors.Wrap(err, "failed to unmarshal configuration")
	}

	if config.Profiles != nil {
		delete(config.Profiles, "default")
	}
	if name := activeProfile(v); name != "" {
		profile, ok := config.Profiles[name]
		if !ok {
			return config, errors.Errorf("profile %q is not defined", name)
		}
		if err := applyProfile(&config, profile); err != nil {
			return config, err
		}
	}

	if config.Provider == "" {
		config.Provider = llmtypes.ProviderAnthropic
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.Retry.Attempts == 0 {
		config.Retry = llmtypes.DefaultRetryConfig
	}
	return config, nil
}

func activeProfile(v *viper.Viper) string {
	profile := v.GetString("profile")
	if profile == "default" {
		return ""
	}
	return profile
}

func applyProfile(config *llmtypes.Config, profile llmtypes.ProfileConfig) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           config,
		WeaklyTypedInput: true,
		ZeroFields:       false,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create profile decoder")
	}
	if err := decoder.Decode(map[string]any(profile)); err != nil {
		return errors.Wrap(err, "failed to apply profile configuration")
	}
	return nil
}
