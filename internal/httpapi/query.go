package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hydra-lab/queryd/internal/backend"
	"github.com/hydra-lab/queryd/internal/orchestrator"
	"github.com/hydra-lab/queryd/internal/personas"
)

// queryRequest is the JSON body of the query endpoints. Either a single
// prompt or a multi-turn message list is accepted.
type queryRequest struct {
	Prompt      string            `json:"prompt"`
	Messages    []backend.Message `json:"messages,omitempty"`
	Persona     string            `json:"persona,omitempty"`
	NoAutoAgent bool              `json:"no_auto_agent,omitempty"`
	NoCache     bool              `json:"no_cache,omitempty"`
	NoIterate   bool              `json:"no_iterate,omitempty"`
	Model       string            `json:"model,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Timeout     time.Duration     `json:"timeout,omitempty"`
}

func (q *queryRequest) options() orchestrator.Options {
	return orchestrator.Options{
		Persona:     q.Persona,
		NoAutoAgent: q.NoAutoAgent,
		NoCache:     q.NoCache,
		NoIterate:   q.NoIterate,
		Model:       q.Model,
		Temperature: q.Temperature,
		MaxTokens:   q.MaxTokens,
		Timeout:     q.Timeout,
	}
}

func decodeQuery(r *http.Request) (*queryRequest, error) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if len(req.Messages) > 0 {
		if req.Prompt != "" {
			return nil, errors.New("prompt and messages are mutually exclusive")
		}
		if err := backend.ValidateMessages(req.Messages); err != nil {
			return nil, err
		}
		req.Prompt = flattenMessages(req.Messages)
	}
	if req.Prompt == "" {
		return nil, errors.New("prompt is required")
	}
	return &req, nil
}

// flattenMessages renders a validated multi-turn conversation into a single
// prompt: prior turns become role-labelled context, the final user message is
// the question itself.
func flattenMessages(messages []backend.Message) string {
	last := messages[len(messages)-1]
	if len(messages) == 1 {
		return last.Content
	}
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, m := range messages[:len(messages)-1] {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
	}
	b.WriteString("\n")
	b.WriteString(last.Content)
	return b.String()
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, err := decodeQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.orch.Process(r.Context(), req.Prompt, req.options())
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleQueryStream delivers response tokens over SSE as they arrive, then a
// final "result" event with the full metadata.
func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	req, err := decodeQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming not supported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	opts := req.options()
	// Tokens are delivered synchronously from the Process call, so writing
	// from the callback is safe.
	opts.OnToken = func(token string) {
		data, _ := json.Marshal(map[string]string{"token": token})
		fmt.Fprintf(w, "event: token\ndata: %s\n\n", data)
		flusher.Flush()
	}

	result, err := s.orch.Process(r.Context(), req.Prompt, opts)
	if err != nil {
		data, _ := json.Marshal(map[string]string{"error": err.Error()})
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
		flusher.Flush()
		return
	}
	data, _ := json.Marshal(result)
	fmt.Fprintf(w, "event: result\ndata: %s\n\n", data)
	flusher.Flush()
}

// batchRequest runs several prompts with shared options.
type batchRequest struct {
	Prompts     []string `json:"prompts"`
	Concurrency int      `json:"concurrency,omitempty"`
	queryRequest
}

type batchItem struct {
	Prompt string               `json:"prompt"`
	Result *orchestrator.Result `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if len(req.Prompts) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("prompts is required"))
		return
	}

	results := s.orch.ProcessParallel(r.Context(), req.Prompts, req.Concurrency, req.options())
	items := make([]batchItem, 0, len(results))
	for _, br := range results {
		item := batchItem{Prompt: br.Prompt, Result: br.Result}
		if br.Err != nil {
			item.Error = br.Err.Error()
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": items})
	s.logger.Debug("batch completed", zap.Int("prompts", len(req.Prompts)))
}

func statusForError(err error) int {
	if errors.Is(err, personas.ErrPersonaNotFound) {
		return http.StatusBadRequest
	}
	switch backend.CategoryOf(err) {
	case backend.CategoryValidation:
		return http.StatusBadRequest
	case backend.CategoryAuth:
		return http.StatusUnauthorized
	case backend.CategoryRateLimit:
		return http.StatusTooManyRequests
	case backend.CategoryTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
