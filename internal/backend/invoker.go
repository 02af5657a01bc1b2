// Package backend defines the consumed interface to LLM execution engines
// and the error taxonomy the orchestrator reasons about. Concrete provider
// wire protocols live outside this repository; the only transport shipped
// here is the JSON contract with the companion inference service.
package backend

import (
	"context"
	"time"
)

// Options parameterize a single backend execution.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	// StopSequences constrain local models; remote backends may ignore them.
	StopSequences []string
}

// Response is the backend's answer plus the facts it reports about itself.
type Response struct {
	Text       string `json:"text"`
	StopReason string `json:"stop_reason,omitempty"`
	TokenCount int    `json:"token_count,omitempty"`
}

// TokenFunc receives streamed output fragments as they arrive.
type TokenFunc func(token string)

// Invoker executes a prompt against a backend model.
type Invoker interface {
	Execute(ctx context.Context, prompt string, opts Options) (*Response, error)
}

// StreamingInvoker is implemented by backends that can deliver output
// incrementally. Backends without native streaming are wrapped by the
// orchestrator's chunk synthesizer instead.
type StreamingInvoker interface {
	Invoker
	ExecuteStream(ctx context.Context, prompt string, opts Options, onToken TokenFunc) (*Response, error)
}
