package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultExecuteTimeout = 120 * time.Second

// HTTPInvoker executes prompts against the companion inference service over
// its internal JSON contract. It is not a provider client: the service hides
// whichever hosted API or local engine actually runs the model.
type HTTPInvoker struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPInvoker creates an invoker for the inference service at baseURL.
func NewHTTPInvoker(baseURL string, logger *zap.Logger) *HTTPInvoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPInvoker{
		baseURL: baseURL,
		client:  &http.Client{},
		logger:  logger,
	}
}

type executeRequest struct {
	Prompt        string   `json:"prompt"`
	Model         string   `json:"model,omitempty"`
	Temperature   float64  `json:"temperature,omitempty"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
	StopSequences []string `json:"stop_sequences,omitempty"`
}

// Execute posts the prompt to the service's /execute endpoint. An elapsed
// timeout aborts the in-flight call through the request context.
func (h *HTTPInvoker) Execute(ctx context.Context, prompt string, opts Options) (*Response, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultExecuteTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(executeRequest{
		Prompt:        prompt,
		Model:         opts.Model,
		Temperature:   opts.Temperature,
		MaxTokens:     opts.MaxTokens,
		StopSequences: opts.StopSequences,
	})
	if err != nil {
		return nil, NewError(CategoryValidation, "marshal execute request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, NewError(CategoryValidation, "build execute request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, Categorize(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		h.logger.Warn("inference service error",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", payload))
		return nil, NewError(categoryForStatus(resp.StatusCode),
			fmt.Sprintf("inference service returned %d", resp.StatusCode), nil)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, NewError(CategoryTransport, "decode execute response", err)
	}

	h.logger.Debug("backend execute completed",
		zap.String("model", opts.Model),
		zap.Duration("duration", time.Since(start)),
		zap.Int("tokens", out.TokenCount),
		zap.String("stop_reason", out.StopReason))
	return &out, nil
}
