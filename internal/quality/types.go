package quality

import (
	"time"
)

// IterationRecord captures one completed loop pass.
type IterationRecord struct {
	Text     string        `json:"text"`
	Score    float64       `json:"score"`
	Reason   string        `json:"reason"`
	Duration time.Duration `json:"duration"`
}

// IterationContext is created once per top-level request and mutated only by
// the orchestration loop driving it. Previous is append-only within one
// request.
type IterationContext struct {
	OriginalPrompt string            `json:"original_prompt"`
	Iteration      int               `json:"iteration"`
	Previous       []IterationRecord `json:"previous"`
	TotalDuration  time.Duration     `json:"total_duration"`
}

// Append records a completed iteration.
func (c *IterationContext) Append(rec IterationRecord) {
	c.Previous = append(c.Previous, rec)
	c.TotalDuration += rec.Duration
	c.Iteration++
}

// Last returns the most recent iteration record, or nil.
func (c *IterationContext) Last() *IterationRecord {
	if len(c.Previous) == 0 {
		return nil
	}
	return &c.Previous[len(c.Previous)-1]
}

// Decision is the pure output of evaluating one response. The continuation
// prompt itself is built separately, after the iteration record is appended,
// so it can include the evaluated response's tail.
type Decision struct {
	ShouldContinue bool    `json:"should_continue"`
	Score          float64 `json:"score"`
	Reason         string  `json:"reason"`
}

// ResponseMetadata carries backend-reported facts that influence scoring.
type ResponseMetadata struct {
	StopReason string `json:"stop_reason"`
	TokenCount int    `json:"token_count"`
}

// Truncated reports whether the backend stopped due to a length limit.
func (m ResponseMetadata) Truncated() bool {
	switch m.StopReason {
	case "length", "max_tokens", "length_limit":
		return true
	}
	return false
}

// Strategy names a continuation-prompt construction strategy.
type Strategy string

const (
	// StrategyEmpty re-asks the original question verbatim.
	StrategyEmpty Strategy = "empty"
	// StrategyContinue asks the model to resume from the tail of its
	// truncated answer.
	StrategyContinue Strategy = "continue"
	// StrategyImprove surfaces the prior score and reason and asks for a
	// revised complete answer.
	StrategyImprove Strategy = "improve"
)

// Config holds the loop's tunables. The score deltas and thresholds are fixed
// heuristic constants with no empirical derivation behind them; they are
// configurable defaults, not ground truth.
type Config struct {
	Enabled       bool     `yaml:"enabled" mapstructure:"enabled"`
	Threshold     float64  `yaml:"threshold" mapstructure:"threshold"`
	MaxIterations int      `yaml:"max_iterations" mapstructure:"max_iterations"`
	Strategy      Strategy `yaml:"strategy" mapstructure:"strategy"`
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Threshold:     7,
		MaxIterations: 3,
		Strategy:      StrategyImprove,
	}
}
