// Package orchestrator owns the request lifecycle: cache lookup, context
// injection, persona prompt construction, backend dispatch, optional
// streaming, the quality iteration loop, result caching and lifecycle
// events, plus a bounded concurrent work queue.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hydra-lab/queryd/internal/backend"
	"github.com/hydra-lab/queryd/internal/cache"
	"github.com/hydra-lab/queryd/internal/events"
	"github.com/hydra-lab/queryd/internal/personas"
	"github.com/hydra-lab/queryd/internal/quality"
)

// minCacheChars is the response length below which caching is pointless.
const minCacheChars = 10

// ContextProvider supplies conversational or environmental context to
// prepend to prompts. The orchestrator never inspects its storage.
type ContextProvider interface {
	IsEmpty() bool
	AsString() string
}

// Config holds the orchestrator's tunables.
type Config struct {
	Concurrency     int                          `yaml:"concurrency" mapstructure:"concurrency"`
	QueueCapacity   int                          `yaml:"queue_capacity" mapstructure:"queue_capacity"`
	DefaultTimeout  time.Duration                `yaml:"default_timeout" mapstructure:"default_timeout"`
	StreamChunkSize int                          `yaml:"stream_chunk_size" mapstructure:"stream_chunk_size"`
	StreamDelay     time.Duration                `yaml:"stream_delay" mapstructure:"stream_delay"`
	Models          map[personas.ModelTier]string `yaml:"models" mapstructure:"models"`
	Tools           []string                     `yaml:"tools" mapstructure:"tools"`
}

// DefaultConfig returns sensible defaults for a single-node deployment.
func DefaultConfig() Config {
	return Config{
		Concurrency:     4,
		QueueCapacity:   256,
		DefaultTimeout:  2 * time.Minute,
		StreamChunkSize: 80,
		StreamDelay:     10 * time.Millisecond,
		Models: map[personas.ModelTier]string{
			personas.TierRemoteLarge: "remote-large-default",
			personas.TierRemoteSmall: "remote-small-default",
			personas.TierLocal:       "local-default",
		},
	}
}

// Options control a single Process call. Each pipeline stage is skippable.
type Options struct {
	// Persona is an explicit persona name; empty or "auto" classifies.
	Persona string
	// NoAutoAgent skips persona selection and prompt templating entirely.
	NoAutoAgent bool
	// NoCache disables both cache lookup and write-through for this call.
	NoCache bool
	// NoIterate disables the quality loop for this call.
	NoIterate bool
	// Model overrides the tier-derived model identifier.
	Model string
	// Temperature overrides the persona temperature when set; nil keeps the
	// persona default. A pointer so an explicit zero is expressible.
	Temperature *float64
	// MaxTokens bounds the backend generation.
	MaxTokens int
	// Timeout bounds each backend call; zero uses the configured default.
	Timeout time.Duration
	// OnToken, when set, receives the response as a stream of chunks. If the
	// backend cannot stream natively the full response is synthesized into
	// paced chunks so callers get a consistent streaming experience.
	OnToken backend.TokenFunc
}

// Result is the outcome of one orchestrated request.
type Result struct {
	RequestID  string        `json:"request_id"`
	Response   string        `json:"response"`
	Duration   time.Duration `json:"duration"`
	Iterations int           `json:"iterations"`
	Agent      string        `json:"agent,omitempty"`
	Model      string        `json:"model,omitempty"`
	Cached     bool          `json:"cached,omitempty"`
	// Partial marks a response salvaged from fewer iterations than requested
	// after a mid-loop backend failure.
	Partial bool `json:"partial,omitempty"`
}

// Orchestrator coordinates routing, dispatch, quality iteration and caching.
// All collaborators are injected; there are no package singletons.
type Orchestrator struct {
	cfg       Config
	router    *personas.Router
	evaluator *quality.Evaluator
	invoker   backend.Invoker
	store     cache.Store
	context   ContextProvider
	bus       *events.Bus
	metrics   *Metrics
	logger    *zap.Logger

	queue *workQueue
}

// New wires an orchestrator from its collaborators. store, contextProvider,
// bus and metrics may be nil; the corresponding stages become no-ops.
func New(cfg Config, router *personas.Router, evaluator *quality.Evaluator,
	invoker backend.Invoker, store cache.Store, contextProvider ContextProvider,
	bus *events.Bus, metrics *Metrics, logger *zap.Logger) *Orchestrator {

	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultConfig().QueueCapacity
	}
	if cfg.StreamChunkSize <= 0 {
		cfg.StreamChunkSize = DefaultConfig().StreamChunkSize
	}
	if cfg.StreamDelay <= 0 {
		cfg.StreamDelay = DefaultConfig().StreamDelay
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig().DefaultTimeout
	}

	o := &Orchestrator{
		cfg:       cfg,
		router:    router,
		evaluator: evaluator,
		invoker:   invoker,
		store:     store,
		context:   contextProvider,
		bus:       bus,
		metrics:   metrics,
		logger:    logger,
	}
	o.queue = newWorkQueue(o, cfg.Concurrency, cfg.QueueCapacity)
	return o
}

// Router exposes the router for stats endpoints.
func (o *Orchestrator) Router() *personas.Router { return o.router }

// Close drains the work queue and stops its workers.
func (o *Orchestrator) Close() {
	o.queue.close()
}

// Process runs the full request pipeline synchronously.
func (o *Orchestrator) Process(ctx context.Context, prompt string, opts Options) (*Result, error) {
	start := time.Now()
	requestID := uuid.NewString()
	log := o.logger.With(zap.String("request_id", requestID))

	// Stage 1: cache lookup. Never consulted when caching is disabled for
	// this call.
	key := cacheKey(prompt, opts)
	if !opts.NoCache && o.store != nil {
		if entry, ok := o.store.Get(ctx, key); ok {
			if o.metrics != nil {
				o.metrics.CacheHits.Inc()
			}
			o.publish(events.Event{Type: events.TypeCached, RequestID: requestID, Agent: entry.Agent, Model: entry.Model})
			log.Debug("cache hit", zap.String("agent", entry.Agent))
			return &Result{
				RequestID:  requestID,
				Response:   entry.Response,
				Duration:   time.Since(start),
				Iterations: entry.Iterations,
				Agent:      entry.Agent,
				Model:      entry.Model,
				Cached:     true,
			}, nil
		}
	}

	// Stage 2: context assembly.
	effective := prompt
	if o.context != nil && !o.context.IsEmpty() {
		effective = o.context.AsString() + "\n\n" + prompt
	}

	// Stage 3: persona selection and prompt construction.
	var persona *personas.Persona
	finalPrompt := effective
	if !opts.NoAutoAgent {
		p, err := o.router.Select(opts.Persona, effective)
		if err != nil {
			o.fail(requestID, start, "", err)
			return nil, err
		}
		persona = p
		finalPrompt = personas.BuildPrompt(persona, effective, personas.PromptOptions{
			RemoteModel: persona.ModelTier != personas.TierLocal,
			Tools:       o.cfg.Tools,
		})
	}

	execOpts := o.executeOptions(persona, opts)

	// Stage 4: dispatch, either one-shot or through the quality loop.
	var (
		response   string
		iterations int
		partial    bool
		streamed   bool
		dispatched time.Duration
		err        error
	)
	if o.loopEnabled(opts) {
		response, iterations, partial, err = o.runQualityLoop(ctx, requestID, finalPrompt, execOpts)
		dispatched = time.Since(start)
	} else {
		var resp *backend.Response
		if s, ok := o.invoker.(backend.StreamingInvoker); ok && opts.OnToken != nil {
			// Backends with native streaming deliver tokens directly.
			resp, err = s.ExecuteStream(ctx, finalPrompt, execOpts, opts.OnToken)
			streamed = err == nil
		} else {
			resp, err = o.invoker.Execute(ctx, finalPrompt, execOpts)
		}
		dispatched = time.Since(start)
		if err == nil {
			response = quality.StripMarkers(resp.Text)
			iterations = 1
		} else {
			err = backend.Categorize(err)
		}
	}

	// Stage 6 bookkeeping happens on both paths: persona stats stay
	// observable for failures too.
	if persona != nil {
		o.router.RecordExecution(persona.Name, dispatched, err)
	}
	if err != nil {
		agentName := ""
		if persona != nil {
			agentName = persona.Name
		}
		o.fail(requestID, start, agentName, err)
		return nil, err
	}

	// Stage 5: streaming synthesis for backends without native streaming.
	if opts.OnToken != nil && !streamed {
		o.streamSynthesized(ctx, response, opts.OnToken)
	}

	result := &Result{
		RequestID:  requestID,
		Response:   response,
		Duration:   time.Since(start),
		Iterations: iterations,
		Model:      execOpts.Model,
		Partial:    partial,
	}
	if persona != nil {
		result.Agent = persona.Name
	}

	if !opts.NoCache && o.store != nil && len(response) >= minCacheChars && !partial {
		o.store.Set(ctx, key, &cache.Entry{
			Response:   response,
			Agent:      result.Agent,
			Model:      result.Model,
			Iterations: iterations,
			Duration:   result.Duration,
		})
	}

	if o.metrics != nil {
		o.metrics.RequestsTotal.WithLabelValues("success").Inc()
		o.metrics.RequestLatency.Observe(result.Duration.Seconds())
		o.metrics.Iterations.Observe(float64(iterations))
		if partial {
			o.metrics.SalvagedPartials.Inc()
		}
	}
	o.publish(events.Event{Type: events.TypeComplete, RequestID: requestID, Agent: result.Agent, Model: result.Model})
	log.Info("request completed",
		zap.String("agent", result.Agent),
		zap.Int("iterations", iterations),
		zap.Bool("partial", partial),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// runQualityLoop drives dispatch → evaluate → continue-or-merge. Iterations
// are strictly sequential: each continuation prompt depends on the evaluated
// output of the previous pass. A backend failure after at least one
// successful iteration salvages the best-available merged answer instead of
// discarding user-visible progress.
func (o *Orchestrator) runQualityLoop(ctx context.Context, requestID, prompt string, execOpts backend.Options) (string, int, bool, error) {
	ictx := &quality.IterationContext{OriginalPrompt: prompt}
	next := prompt
	for {
		iterStart := time.Now()
		resp, err := o.invoker.Execute(ctx, next, execOpts)
		if err != nil {
			if len(ictx.Previous) > 0 {
				o.logger.Warn("salvaging partial result after mid-loop failure",
					zap.String("request_id", requestID),
					zap.Int("iterations", ictx.Iteration),
					zap.Error(err))
				return quality.MergeResponses(ictx.Previous), ictx.Iteration, true, nil
			}
			return "", 0, false, backend.Categorize(err)
		}

		decision := o.evaluator.Evaluate(resp.Text, ictx, quality.ResponseMetadata{
			StopReason: resp.StopReason,
			TokenCount: resp.TokenCount,
		})
		ictx.Append(quality.IterationRecord{
			Text:     resp.Text,
			Score:    decision.Score,
			Reason:   decision.Reason,
			Duration: time.Since(iterStart),
		})
		o.publish(events.Event{
			Type:      events.TypeIteration,
			RequestID: requestID,
			Message:   fmt.Sprintf("iteration %d scored %.0f/10", ictx.Iteration, decision.Score),
		})

		if !o.evaluator.ShouldIterate(decision, ictx) {
			break
		}
		next = o.evaluator.BuildContinuationPrompt(ictx, o.evaluator.Config().Strategy)
	}
	return quality.MergeResponses(ictx.Previous), ictx.Iteration, false, nil
}

func (o *Orchestrator) loopEnabled(opts Options) bool {
	return o.evaluator != nil && o.evaluator.Config().Enabled && !opts.NoIterate
}

// executeOptions resolves model, temperature and timeout from the persona and
// per-call overrides.
func (o *Orchestrator) executeOptions(persona *personas.Persona, opts Options) backend.Options {
	out := backend.Options{
		Model:     opts.Model,
		MaxTokens: opts.MaxTokens,
		Timeout:   opts.Timeout,
	}
	if opts.Temperature != nil {
		out.Temperature = *opts.Temperature
	}
	if out.Timeout <= 0 {
		out.Timeout = o.cfg.DefaultTimeout
	}
	if persona != nil {
		if out.Model == "" {
			out.Model = o.cfg.Models[persona.ModelTier]
		}
		if opts.Temperature == nil {
			out.Temperature = persona.Temperature
		}
		if persona.ModelTier == personas.TierLocal {
			out.StopSequences = personas.LocalStopSequences
		}
	}
	return out
}

func (o *Orchestrator) fail(requestID string, start time.Time, agent string, err error) {
	if o.metrics != nil {
		o.metrics.RequestsTotal.WithLabelValues("error").Inc()
		o.metrics.RequestLatency.Observe(time.Since(start).Seconds())
	}
	o.publish(events.Event{
		Type:      events.TypeError,
		RequestID: requestID,
		Agent:     agent,
		Message:   err.Error(),
	})
	o.logger.Warn("request failed",
		zap.String("request_id", requestID),
		zap.String("category", string(backend.CategoryOf(err))),
		zap.Error(err))
}

func (o *Orchestrator) publish(evt events.Event) {
	if o.bus != nil {
		o.bus.Publish(evt)
	}
}

// cacheKey derives a stable key from the prompt and the options that change
// the answer.
func cacheKey(prompt string, opts Options) string {
	temp := "persona"
	if opts.Temperature != nil {
		temp = fmt.Sprintf("%.2f", *opts.Temperature)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%d|%t", prompt, opts.Persona, opts.Model,
		temp, opts.MaxTokens, opts.NoAutoAgent)
	return hex.EncodeToString(h.Sum(nil))
}
