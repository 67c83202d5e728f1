// Package base holds the pieces shared by every model provider client.
package base

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"

	"github.com/jingkaihe/keel/pkg/logger"
	llmtypes "github.com/jingkaihe/keel/pkg/types/llm"
)

// ErrStreamInterrupted marks a failure after text was already streamed to the
// caller; such failures are never retried so chunks are not duplicated.
var ErrStreamInterrupted = errors.New("stream interrupted after output started")

// ExecuteWithRetry runs operation under cfg. Errors for which retryable
// returns false, and interrupted streams, fail immediately.
func ExecuteWithRetry(ctx context.Context, cfg llmtypes.RetryConfig, provider string, retryable func(error) bool, operation func() error) error {
	if cfg.Attempts <= 1 {
		return operation()
	}

	initialDelay := time.Duration(cfg.InitialDelay) * time.Millisecond
	maxDelay := time.Duration(cfg.MaxDelay) * time.Millisecond

	var delayType retry.DelayTypeFunc
	switch cfg.BackoffType {
	case "fixed":
		delayType = retry.FixedDelay
	case "exponential":
		fallthrough
	default:
		delayType = retry.BackOffDelay
	}

	var originalErrors []error
	err := retry.Do(
		func() error {
			err := operation()
			if err != nil {
				originalErrors = append(originalErrors, err)
			}
			return err
		},
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, ErrStreamInterrupted) && retryable(err)
		}),
		retry.Attempts(uint(cfg.Attempts)),
		retry.Delay(initialDelay),
		retry.DelayType(delayType),
		retry.MaxDelay(maxDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithError(err).WithField("attempt", n+1).WithField("max_attempts", cfg.Attempts).Warnf("retrying %s API call", provider)
		}),
	)

	if err != nil && len(originalErrors) > 1 {
		return errors.Wrapf(err, "all %d attempts failed", len(originalErrors))
	}
	return err
}
