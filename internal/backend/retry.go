package backend

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RetryConfig bounds the retry policy for transport-level failures.
type RetryConfig struct {
	MaxRetries      int           `yaml:"max_retries" mapstructure:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval" mapstructure:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval" mapstructure:"max_interval"`
}

// DefaultRetryConfig returns the default retry bounds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// RetryingInvoker retries transient failures with exponential backoff plus
// jitter. Authentication and validation errors are never retried.
type RetryingInvoker struct {
	next   Invoker
	cfg    RetryConfig
	logger *zap.Logger
}

// NewRetryingInvoker wraps next with the retry policy.
func NewRetryingInvoker(next Invoker, cfg RetryConfig, logger *zap.Logger) *RetryingInvoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultRetryConfig().MaxRetries
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultRetryConfig().InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultRetryConfig().MaxInterval
	}
	return &RetryingInvoker{next: next, cfg: cfg, logger: logger}
}

// Execute dispatches through the wrapped invoker, retrying categorized
// transient failures.
func (r *RetryingInvoker) Execute(ctx context.Context, prompt string, opts Options) (*Response, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.InitialInterval
	policy.MaxInterval = r.cfg.MaxInterval
	// RandomizationFactor defaults to 0.5, which provides the jitter.

	var out *Response
	attempt := 0
	operation := func() error {
		attempt++
		resp, err := r.next.Execute(ctx, prompt, opts)
		if err == nil {
			out = resp
			return nil
		}
		err = Categorize(err)
		if !Retryable(err) {
			return backoff.Permanent(err)
		}
		r.logger.Warn("retrying backend call",
			zap.Int("attempt", attempt),
			zap.String("category", string(CategoryOf(err))),
			zap.Error(err))
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(r.cfg.MaxRetries)), ctx))
	if err != nil {
		return nil, Categorize(err)
	}
	return out, nil
}
