package backend

import (
	"context"

	"golang.org/x/time/rate"
)

// ThrottledInvoker gates dispatches behind a token-bucket limiter so the
// inference service is never hit faster than configured, independent of the
// orchestrator's own concurrency ceiling.
type ThrottledInvoker struct {
	next    Invoker
	limiter *rate.Limiter
}

// NewThrottledInvoker wraps next with a limiter of rps requests per second
// and the given burst.
func NewThrottledInvoker(next Invoker, rps float64, burst int) *ThrottledInvoker {
	if burst < 1 {
		burst = 1
	}
	return &ThrottledInvoker{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Execute waits for a limiter token, then dispatches.
func (t *ThrottledInvoker) Execute(ctx context.Context, prompt string, opts Options) (*Response, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, Categorize(err)
	}
	return t.next.Execute(ctx, prompt, opts)
}
