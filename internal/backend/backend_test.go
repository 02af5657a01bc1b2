package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: CategoryTimeout},
		{name: "connection reset", err: errors.New("read tcp: connection reset by peer"), want: CategoryTransport},
		{name: "rate limit", err: errors.New("429 too many requests"), want: CategoryRateLimit},
		{name: "auth", err: errors.New("401 unauthorized"), want: CategoryAuth},
		{name: "generic", err: errors.New("something odd"), want: CategoryInternal},
		{name: "already categorized", err: NewError(CategoryValidation, "bad input", nil), want: CategoryValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CategoryOf(Categorize(tt.err)))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(NewError(CategoryTransport, "", nil)))
	assert.True(t, Retryable(NewError(CategoryTimeout, "", nil)))
	assert.True(t, Retryable(NewError(CategoryRateLimit, "", nil)))
	assert.False(t, Retryable(NewError(CategoryAuth, "", nil)))
	assert.False(t, Retryable(NewError(CategoryValidation, "", nil)))
}

type scriptedInvoker struct {
	calls     int
	responses []func() (*Response, error)
}

func (s *scriptedInvoker) Execute(context.Context, string, Options) (*Response, error) {
	fn := s.responses[s.calls]
	if s.calls < len(s.responses)-1 {
		s.calls++
	}
	return fn()
}

func TestRetryingInvokerRecoversFromTransport(t *testing.T) {
	inv := &scriptedInvoker{responses: []func() (*Response, error){
		func() (*Response, error) { return nil, NewError(CategoryTransport, "reset", nil) },
		func() (*Response, error) { return &Response{Text: "ok"}, nil },
	}}
	r := NewRetryingInvoker(inv, RetryConfig{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}, zap.NewNop())

	resp, err := r.Execute(context.Background(), "p", Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 1, inv.calls)
}

func TestRetryingInvokerSkipsAuthAndValidation(t *testing.T) {
	for _, category := range []Category{CategoryAuth, CategoryValidation} {
		inv := &scriptedInvoker{responses: []func() (*Response, error){
			func() (*Response, error) { return nil, NewError(category, "no", nil) },
			func() (*Response, error) { return &Response{Text: "should not happen"}, nil },
		}}
		r := NewRetryingInvoker(inv, RetryConfig{MaxRetries: 5, InitialInterval: time.Millisecond}, zap.NewNop())

		_, err := r.Execute(context.Background(), "p", Options{})
		require.Error(t, err)
		assert.Equal(t, category, CategoryOf(err))
		assert.Equal(t, 0, inv.calls, "category %s must not retry", category)
	}
}

func TestValidateMessages(t *testing.T) {
	tests := []struct {
		name     string
		messages []Message
		wantErr  bool
	}{
		{
			name: "valid conversation",
			messages: []Message{
				{Role: "system", Content: "Be brief."},
				{Role: "user", Content: "Hello"},
				{Role: "assistant", Content: "Hi"},
			},
		},
		{name: "empty list", wantErr: true},
		{
			name:     "missing role",
			messages: []Message{{Content: "no role"}},
			wantErr:  true,
		},
		{
			name:     "unknown role",
			messages: []Message{{Role: "narrator", Content: "hm"}},
			wantErr:  true,
		},
		{
			name:     "empty content",
			messages: []Message{{Role: "user", Content: "  "}},
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessages(tt.messages)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, CategoryValidation, CategoryOf(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestHTTPInvokerExecute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/execute", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"text":"answer [DONE]","stop_reason":"end_turn","token_count":12}`))
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.URL, zap.NewNop())
	resp, err := inv.Execute(context.Background(), "question", Options{Model: "m", Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "answer [DONE]", resp.Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 12, resp.TokenCount)
}

func TestHTTPInvokerStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   Category
	}{
		{status: 401, want: CategoryAuth},
		{status: 429, want: CategoryRateLimit},
		{status: 422, want: CategoryValidation},
		{status: 500, want: CategoryTransport},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		inv := NewHTTPInvoker(srv.URL, zap.NewNop())
		_, err := inv.Execute(context.Background(), "q", Options{Timeout: time.Second})
		require.Error(t, err)
		assert.Equal(t, tt.want, CategoryOf(err), "status %d", tt.status)
		srv.Close()
	}
}
