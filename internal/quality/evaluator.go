package quality

import (
	"strings"

	"go.uber.org/zap"

	"github.com/hydra-lab/queryd/internal/personas"
)

const (
	baseScore = 7.0
	maxScore  = 10.0

	deltaContinueMarker = -5.0
	deltaDoneMarker     = 3.0
	deltaTruncated      = -4.0
	deltaRefusal        = 3.0
	deltaIncomplete     = -2.0
	deltaNoTerminal     = -2.0
	deltaTooShort       = -2.0
	deltaLong           = 1.0

	longResponseChars  = 500
	shortResponseChars = 100
	longPromptChars    = 50
)

// refusalPhrases mark answers the model declined to give. A refusal is never
// grounds for iteration: re-asking will not change the model's mind.
var refusalPhrases = []string{
	"i cannot help with",
	"i can't help with",
	"i cannot assist",
	"i don't know how to do that",
	"i am unable to",
	"i'm unable to",
	"i won't be able to",
	"nie mogę pomóc",
	"nie mogę w tym pomóc",
	"nie potrafię tego zrobić",
}

// incompletePhrases signal the answer is a sketch rather than a result.
var incompletePhrases = []string{
	"todo",
	"placeholder",
	"to be continued",
	"left as an exercise",
	"fill in the rest",
	"rest of the implementation",
}

// Evaluator scores responses and drives iteration decisions.
type Evaluator struct {
	cfg    Config
	logger *zap.Logger
}

// NewEvaluator creates an evaluator with the given configuration.
func NewEvaluator(cfg Config, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultConfig().MaxIterations
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyImprove
	}
	return &Evaluator{cfg: cfg, logger: logger}
}

// Config returns the evaluator's effective configuration.
func (e *Evaluator) Config() Config { return e.cfg }

// Evaluate scores a single response against the heuristic signal table. It is
// a pure function of its inputs.
func (e *Evaluator) Evaluate(response string, ctx *IterationContext, meta ResponseMetadata) Decision {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return Decision{ShouldContinue: true, Score: 0, Reason: "empty response"}
	}

	score := baseScore
	var reasons []string
	lower := strings.ToLower(trimmed)
	body := strings.TrimSpace(StripMarkers(trimmed))

	if strings.Contains(trimmed, personas.MarkerContinue) {
		score += deltaContinueMarker
		reasons = append(reasons, "model signalled more to say")
	}
	if strings.Contains(trimmed, personas.MarkerDone) {
		score += deltaDoneMarker
		reasons = append(reasons, "model signalled completion")
	}
	if meta.Truncated() {
		score += deltaTruncated
		reasons = append(reasons, "truncated by length limit")
	}

	refused := containsAny(lower, refusalPhrases)
	if refused {
		score += deltaRefusal
		reasons = append(reasons, "refusal detected")
	}

	if containsAny(lower, incompletePhrases) {
		score += deltaIncomplete
		reasons = append(reasons, "incompleteness markers present")
	}
	if len(body) > longPromptChars && !endsWithTerminal(body) {
		score += deltaNoTerminal
		reasons = append(reasons, "no terminal punctuation")
	}
	if ctx != nil && len(ctx.OriginalPrompt) > longPromptChars && len(body) < shortResponseChars {
		score += deltaTooShort
		reasons = append(reasons, "short answer to a long prompt")
	}
	if len(body) > longResponseChars {
		score += deltaLong
		reasons = append(reasons, "substantial length")
	}

	if score < 0 {
		score = 0
	}
	if score > maxScore {
		score = maxScore
	}

	d := Decision{
		Score:          score,
		Reason:         strings.Join(reasons, "; "),
		ShouldContinue: score < e.cfg.Threshold,
	}
	// Refusal is terminal regardless of every other signal.
	if refused {
		d.ShouldContinue = false
	}
	if d.Reason == "" {
		d.Reason = "no quality signals"
	}
	return d
}

// ShouldIterate reports whether the loop should run another pass.
func (e *Evaluator) ShouldIterate(d Decision, ctx *IterationContext) bool {
	if !e.cfg.Enabled {
		return false
	}
	if ctx.Iteration >= e.cfg.MaxIterations {
		return false
	}
	return d.ShouldContinue
}

func containsAny(haystack string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(haystack, p) {
			return true
		}
	}
	return false
}

func endsWithTerminal(s string) bool {
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case '.', '!', '?', ':', '`':
		return true
	}
	// Fenced code blocks and quotes often end on their own line.
	return strings.HasSuffix(s, "```") || strings.HasSuffix(s, "\"")
}
