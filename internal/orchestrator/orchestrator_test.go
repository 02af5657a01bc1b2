package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hydra-lab/queryd/internal/backend"
	"github.com/hydra-lab/queryd/internal/cache"
	"github.com/hydra-lab/queryd/internal/events"
	"github.com/hydra-lab/queryd/internal/personas"
	"github.com/hydra-lab/queryd/internal/quality"
)

// fakeInvoker scripts backend behavior per call.
type fakeInvoker struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, prompt string, opts backend.Options) (*backend.Response, error)

	inFlight  atomic.Int32
	highWater atomic.Int32
	delay     time.Duration
}

func (f *fakeInvoker) Execute(ctx context.Context, prompt string, opts backend.Options) (*backend.Response, error) {
	cur := f.inFlight.Add(1)
	for {
		hw := f.highWater.Load()
		if cur <= hw || f.highWater.CompareAndSwap(hw, cur) {
			break
		}
	}
	defer f.inFlight.Add(-1)

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.fn == nil {
		return &backend.Response{Text: "A perfectly adequate default answer. [DONE]"}, nil
	}
	return f.fn(call, prompt, opts)
}

// probeStore counts cache interactions.
type probeStore struct {
	inner *cache.Memory
	gets  atomic.Int32
	sets  atomic.Int32
}

func (p *probeStore) Get(ctx context.Context, key string) (*cache.Entry, bool) {
	p.gets.Add(1)
	return p.inner.Get(ctx, key)
}

func (p *probeStore) Set(ctx context.Context, key string, entry *cache.Entry) {
	p.sets.Add(1)
	p.inner.Set(ctx, key, entry)
}

type staticContext struct{ text string }

func (s staticContext) IsEmpty() bool    { return s.text == "" }
func (s staticContext) AsString() string { return s.text }

type testDeps struct {
	invoker *fakeInvoker
	store   *probeStore
	bus     *events.Bus
}

func newTestOrchestrator(t *testing.T, cfg Config, qcfg quality.Config, inv *fakeInvoker, ctxProvider ContextProvider) (*Orchestrator, *testDeps) {
	t.Helper()
	if inv == nil {
		inv = &fakeInvoker{}
	}
	store := &probeStore{inner: cache.NewMemory(time.Minute)}
	t.Cleanup(store.inner.Close)
	bus := events.NewBus(64)

	router := personas.NewRouter(personas.DefaultRegistry(), nil, zap.NewNop())
	evaluator := quality.NewEvaluator(qcfg, zap.NewNop())
	o := New(cfg, router, evaluator, inv, store, ctxProvider, bus, nil, zap.NewNop())
	t.Cleanup(o.Close)
	return o, &testDeps{invoker: inv, store: store, bus: bus}
}

func TestProcessSingleDispatch(t *testing.T) {
	inv := &fakeInvoker{fn: func(call int, prompt string, opts backend.Options) (*backend.Response, error) {
		return &backend.Response{Text: "Binary search halves the range each step. [DONE]"}, nil
	}}
	o, _ := newTestOrchestrator(t, DefaultConfig(), quality.Config{Enabled: false}, inv, nil)

	res, err := o.Process(context.Background(), "implement binary search", Options{})
	require.NoError(t, err)
	assert.Equal(t, "Binary search halves the range each step.", res.Response)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, "coder", res.Agent)
	assert.False(t, res.Cached)
	assert.False(t, res.Partial)
	assert.NotEmpty(t, res.RequestID)
}

func TestProcessCacheHitShortCircuits(t *testing.T) {
	inv := &fakeInvoker{}
	o, deps := newTestOrchestrator(t, DefaultConfig(), quality.Config{Enabled: false}, inv, nil)
	ctx := context.Background()

	first, err := o.Process(ctx, "explain the research method", Options{})
	require.NoError(t, err)
	require.False(t, first.Cached)

	second, err := o.Process(ctx, "explain the research method", Options{})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Response, second.Response)
	assert.Equal(t, first.Agent, second.Agent)
	assert.Equal(t, 1, deps.invoker.calls, "cache hit must not dispatch")
}

func TestProcessNoCacheNeverTouchesStore(t *testing.T) {
	o, deps := newTestOrchestrator(t, DefaultConfig(), quality.Config{Enabled: false}, nil, nil)

	_, err := o.Process(context.Background(), "some prompt", Options{NoCache: true})
	require.NoError(t, err)
	assert.Zero(t, deps.store.gets.Load())
	assert.Zero(t, deps.store.sets.Load())
}

func TestProcessShortResponseNotCached(t *testing.T) {
	inv := &fakeInvoker{fn: func(int, string, backend.Options) (*backend.Response, error) {
		return &backend.Response{Text: "ok"}, nil
	}}
	o, deps := newTestOrchestrator(t, DefaultConfig(), quality.Config{Enabled: false}, inv, nil)

	_, err := o.Process(context.Background(), "hm", Options{})
	require.NoError(t, err)
	assert.Zero(t, deps.store.sets.Load(), "responses under the minimum length are not cached")
}

func TestProcessContextInjection(t *testing.T) {
	var seen string
	inv := &fakeInvoker{fn: func(_ int, prompt string, _ backend.Options) (*backend.Response, error) {
		seen = prompt
		return &backend.Response{Text: "Noted, the context was considered."}, nil
	}}
	o, _ := newTestOrchestrator(t, DefaultConfig(), quality.Config{Enabled: false}, inv,
		staticContext{text: "Project: queryd. Language: Go."})

	_, err := o.Process(context.Background(), "summarize the project", Options{})
	require.NoError(t, err)
	assert.Contains(t, seen, "Project: queryd. Language: Go.")
	assert.Contains(t, seen, "summarize the project")
}

func TestProcessPersonaOverrideAndNotFound(t *testing.T) {
	var opts backend.Options
	inv := &fakeInvoker{fn: func(_ int, _ string, o backend.Options) (*backend.Response, error) {
		opts = o
		return &backend.Response{Text: "A sufficiently long answer here."}, nil
	}}
	o, _ := newTestOrchestrator(t, DefaultConfig(), quality.Config{Enabled: false}, inv, nil)

	res, err := o.Process(context.Background(), "anything at all", Options{Persona: "security"})
	require.NoError(t, err)
	assert.Equal(t, "security", res.Agent)
	assert.Equal(t, "remote-large-default", opts.Model)

	_, err = o.Process(context.Background(), "anything", Options{Persona: "nonexistent"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, personas.ErrPersonaNotFound))
}

func TestProcessNoAutoAgentSkipsTemplating(t *testing.T) {
	var seen string
	inv := &fakeInvoker{fn: func(_ int, prompt string, _ backend.Options) (*backend.Response, error) {
		seen = prompt
		return &backend.Response{Text: "Raw prompt processed as requested."}, nil
	}}
	o, _ := newTestOrchestrator(t, DefaultConfig(), quality.Config{Enabled: false}, inv, nil)

	res, err := o.Process(context.Background(), "raw prompt", Options{NoAutoAgent: true})
	require.NoError(t, err)
	assert.Equal(t, "raw prompt", seen)
	assert.Empty(t, res.Agent)
}

func TestProcessLocalTierGetsStopSequences(t *testing.T) {
	var opts backend.Options
	inv := &fakeInvoker{fn: func(_ int, _ string, o backend.Options) (*backend.Response, error) {
		opts = o
		return &backend.Response{Text: "A local model answered this one."}, nil
	}}
	o, _ := newTestOrchestrator(t, DefaultConfig(), quality.Config{Enabled: false}, inv, nil)

	_, err := o.Process(context.Background(), "whatever", Options{Persona: "generalist"})
	require.NoError(t, err)
	assert.Equal(t, personas.LocalStopSequences, opts.StopSequences)
	assert.Equal(t, "local-default", opts.Model)
}

func TestProcessExplicitZeroTemperature(t *testing.T) {
	var opts backend.Options
	inv := &fakeInvoker{fn: func(_ int, _ string, o backend.Options) (*backend.Response, error) {
		opts = o
		return &backend.Response{Text: "Deterministic output as requested."}, nil
	}}
	o, _ := newTestOrchestrator(t, DefaultConfig(), quality.Config{Enabled: false}, inv, nil)

	// security's persona default is 0.1; an explicit zero must win.
	zero := 0.0
	_, err := o.Process(context.Background(), "anything", Options{
		Persona:     "security",
		Temperature: &zero,
		NoCache:     true,
	})
	require.NoError(t, err)
	assert.Zero(t, opts.Temperature)

	// Unset keeps the persona default.
	_, err = o.Process(context.Background(), "anything", Options{
		Persona: "security",
		NoCache: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.1, opts.Temperature)
}

func TestQualityLoopIterates(t *testing.T) {
	inv := &fakeInvoker{fn: func(call int, _ string, _ backend.Options) (*backend.Response, error) {
		if call == 1 {
			return &backend.Response{Text: "Here is the beginning of it. [CONTINUE]"}, nil
		}
		return &backend.Response{Text: "The full, clear and complete answer to the question. [DONE]"}, nil
	}}
	o, _ := newTestOrchestrator(t, DefaultConfig(), quality.DefaultConfig(), inv, nil)

	res, err := o.Process(context.Background(), "explain raft consensus", Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, "The full, clear and complete answer to the question.", res.Response)
	assert.False(t, res.Partial)
}

func TestQualityLoopRespectsMaxIterations(t *testing.T) {
	inv := &fakeInvoker{fn: func(int, string, backend.Options) (*backend.Response, error) {
		return &backend.Response{Text: "still going [CONTINUE]"}, nil
	}}
	o, _ := newTestOrchestrator(t, DefaultConfig(), quality.DefaultConfig(), inv, nil)

	res, err := o.Process(context.Background(), "never satisfied", Options{})
	require.NoError(t, err)
	assert.Equal(t, quality.DefaultConfig().MaxIterations, res.Iterations)
	assert.Equal(t, quality.DefaultConfig().MaxIterations, inv.calls)
}

func TestQualityLoopSalvagesPartial(t *testing.T) {
	inv := &fakeInvoker{fn: func(call int, _ string, _ backend.Options) (*backend.Response, error) {
		switch call {
		case 1:
			return &backend.Response{Text: "The answer begins here: [CONTINUE]"}, nil
		case 2:
			return &backend.Response{Text: "and adds more detail now [CONTINUE]"}, nil
		default:
			return nil, backend.NewError(backend.CategoryTransport, "connection reset", nil)
		}
	}}
	o, deps := newTestOrchestrator(t, DefaultConfig(), quality.DefaultConfig(), inv, nil)

	res, err := o.Process(context.Background(), "tell me everything", Options{})
	require.NoError(t, err, "mid-loop failure after successful iterations must resolve")
	assert.True(t, res.Partial)
	assert.Equal(t, 2, res.Iterations)
	assert.Contains(t, res.Response, "The answer begins here:")
	assert.Contains(t, res.Response, "and adds more detail now")
	assert.Zero(t, deps.store.sets.Load(), "partial results are not cached")
}

func TestQualityLoopFirstFailurePropagates(t *testing.T) {
	inv := &fakeInvoker{fn: func(int, string, backend.Options) (*backend.Response, error) {
		return nil, backend.NewError(backend.CategoryAuth, "bad key", nil)
	}}
	o, _ := newTestOrchestrator(t, DefaultConfig(), quality.DefaultConfig(), inv, nil)

	_, err := o.Process(context.Background(), "anything", Options{})
	require.Error(t, err)
	assert.Equal(t, backend.CategoryAuth, backend.CategoryOf(err))
}

func TestProcessRecordsPersonaStats(t *testing.T) {
	o, _ := newTestOrchestrator(t, DefaultConfig(), quality.Config{Enabled: false}, nil, nil)

	_, err := o.Process(context.Background(), "fix this bug in the code", Options{})
	require.NoError(t, err)

	stats := o.Router().Stats()
	assert.Equal(t, int64(1), stats["coder"].Calls)
	assert.Zero(t, stats["coder"].Errors)
}

func TestProcessEmitsLifecycleEvents(t *testing.T) {
	o, deps := newTestOrchestrator(t, DefaultConfig(), quality.Config{Enabled: false}, nil, nil)
	ch := deps.bus.Subscribe(16)
	defer deps.bus.Unsubscribe(ch)

	_, err := o.Process(context.Background(), "emit some events please", Options{})
	require.NoError(t, err)

	select {
	case evt := <-ch:
		assert.Equal(t, events.TypeComplete, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("no complete event")
	}
}

func TestEnqueueHonorsConcurrencyCeiling(t *testing.T) {
	const n, ceiling = 12, 3
	inv := &fakeInvoker{delay: 15 * time.Millisecond}
	cfg := DefaultConfig()
	cfg.Concurrency = ceiling
	o, _ := newTestOrchestrator(t, cfg, quality.Config{Enabled: false}, inv, nil)
	ctx := context.Background()

	pendings := make([]*Pending, 0, n)
	for i := 0; i < n; i++ {
		p, err := o.Enqueue(ctx, "queued request", Options{NoCache: true})
		require.NoError(t, err)
		pendings = append(pendings, p)
	}
	for _, p := range pendings {
		_, err := p.Wait(ctx)
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, inv.highWater.Load(), int32(ceiling),
		"in-flight dispatches must never exceed the ceiling")

	stats := o.QueueStats()
	assert.EqualValues(t, n, stats.TotalCompleted)
	assert.Zero(t, stats.TotalFailed)
}

func TestEnqueueQueueFull(t *testing.T) {
	inv := &fakeInvoker{delay: 200 * time.Millisecond}
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	cfg.QueueCapacity = 1
	o, _ := newTestOrchestrator(t, cfg, quality.Config{Enabled: false}, inv, nil)
	ctx := context.Background()

	// First item is picked up by the single worker, second occupies the
	// queue slot; the third has nowhere to go.
	first, err := o.Enqueue(ctx, "one", Options{NoCache: true})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = o.Enqueue(ctx, "two", Options{NoCache: true})
	require.NoError(t, err)
	_, err = o.Enqueue(ctx, "three", Options{NoCache: true})
	assert.ErrorIs(t, err, ErrQueueFull)

	_, err = first.Wait(ctx)
	require.NoError(t, err)
}

func TestPendingCancelBeforeAdmission(t *testing.T) {
	inv := &fakeInvoker{delay: 100 * time.Millisecond}
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	o, _ := newTestOrchestrator(t, cfg, quality.Config{Enabled: false}, inv, nil)
	ctx := context.Background()

	blocker, err := o.Enqueue(ctx, "blocker", Options{NoCache: true})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	victim, err := o.Enqueue(ctx, "victim", Options{NoCache: true})
	require.NoError(t, err)
	assert.True(t, victim.Cancel())

	_, err = victim.Wait(ctx)
	assert.ErrorIs(t, err, ErrCancelled)
	_, err = blocker.Wait(ctx)
	require.NoError(t, err)
}

func TestPendingCancelAfterAdmission(t *testing.T) {
	inv := &fakeInvoker{delay: 100 * time.Millisecond}
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	o, _ := newTestOrchestrator(t, cfg, quality.Config{Enabled: false}, inv, nil)
	ctx := context.Background()

	p, err := o.Enqueue(ctx, "already running", Options{NoCache: true})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	// The worker has claimed the item; Cancel must report that it lost.
	assert.False(t, p.Cancel())
	res, err := p.Wait(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Response)
}

func TestProcessParallelChunksAndOrder(t *testing.T) {
	inv := &fakeInvoker{delay: 10 * time.Millisecond}
	o, _ := newTestOrchestrator(t, DefaultConfig(), quality.Config{Enabled: false}, inv, nil)

	prompts := []string{"alpha one", "beta two", "gamma three", "delta four", "epsilon five"}
	results := o.ProcessParallel(context.Background(), prompts, 2, Options{NoCache: true})

	require.Len(t, results, len(prompts))
	for i, r := range results {
		assert.Equal(t, prompts[i], r.Prompt)
		require.NoError(t, r.Err)
		assert.NotEmpty(t, r.Result.Response)
	}
	assert.LessOrEqual(t, inv.highWater.Load(), int32(2))
}

func TestStreamingSynthesis(t *testing.T) {
	response := "First line of the answer with several words in it.\nSecond line here.\n" +
		strings.Repeat("wordy ", 30) + "done."
	inv := &fakeInvoker{fn: func(int, string, backend.Options) (*backend.Response, error) {
		return &backend.Response{Text: response}, nil
	}}
	cfg := DefaultConfig()
	cfg.StreamDelay = time.Millisecond
	o, _ := newTestOrchestrator(t, cfg, quality.Config{Enabled: false}, inv, nil)

	var mu sync.Mutex
	var chunks []string
	_, err := o.Process(context.Background(), "stream me", Options{
		NoCache: true,
		OnToken: func(token string) {
			mu.Lock()
			chunks = append(chunks, token)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 80)
	}
	assert.Equal(t, response, strings.Join(chunks, ""))
}
