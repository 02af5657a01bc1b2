package personas

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"
)

// AutoSelect is the persona name that triggers keyword classification.
const AutoSelect = "auto"

// classifyThreshold is the minimum winning score required to commit to a
// classified persona. Below it the prompt is too ambiguous and the designated
// research fallback is used instead.
const classifyThreshold = 1.0

// Router maps prompts to personas via keyword scoring. Stateless except for
// the per-persona execution statistics table.
type Router struct {
	registry *Registry
	metrics  *Metrics
	logger   *zap.Logger

	mu    sync.RWMutex
	stats map[string]*PersonaStats
}

// NewRouter creates a router over the given registry.
func NewRouter(registry *Registry, metrics *Metrics, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		registry: registry,
		metrics:  metrics,
		logger:   logger,
		stats:    make(map[string]*PersonaStats),
	}
}

// Registry returns the router's current persona registry.
func (r *Router) Registry() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.registry
}

// SwapRegistry atomically replaces the persona registry. Execution statistics
// are kept; they are keyed by persona name, not by registry identity.
func (r *Router) SwapRegistry(reg *Registry) {
	r.mu.Lock()
	r.registry = reg
	r.mu.Unlock()
}

// Classify scores every persona against the prompt and picks the strictly
// highest score. Ties keep the first persona in registry order. A winning
// score below 1.0 falls back to the research persona: open-ended prompts are
// better served by investigation than by any weakly matched specialist.
func (r *Router) Classify(prompt string) ClassificationResult {
	start := time.Now()
	r.mu.RLock()
	registry := r.registry
	r.mu.RUnlock()

	scores := make(map[string]float64, len(registry.Personas()))
	var best *Persona
	bestScore := -1.0
	for _, p := range registry.Personas() {
		score := scorePersona(prompt, p.Keywords)
		scores[p.Name] = score
		if score > bestScore {
			best = p
			bestScore = score
		}
	}

	result := ClassificationResult{Selected: best, Score: bestScore, Scores: scores}
	if bestScore < classifyThreshold {
		result.Selected = registry.Fallback()
		result.Fallback = true
	}

	if r.metrics != nil {
		r.metrics.RecordClassification(result.Selected.Name, result.Fallback, time.Since(start))
	}
	r.logger.Debug("classified prompt",
		zap.String("persona", result.Selected.Name),
		zap.Float64("score", result.Score),
		zap.Bool("fallback", result.Fallback))
	return result
}

// Select resolves a persona by name, or classifies when name is "auto" or
// empty. Manual selection is not forgiving: an unknown name is an error with
// the known persona names listed, never a fallback.
func (r *Router) Select(name, prompt string) (*Persona, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || strings.EqualFold(trimmed, AutoSelect) {
		return r.Classify(prompt).Selected, nil
	}

	r.mu.RLock()
	registry := r.registry
	r.mu.RUnlock()

	p, ok := registry.Get(trimmed)
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrPersonaNotFound, name,
			strings.Join(registry.Names(), ", "))
	}
	return p, nil
}

// RecordExecution updates the stats table after a dispatch. Failures increment
// the error counter but never block future selection of that persona.
func (r *Router) RecordExecution(name string, duration time.Duration, execErr error) {
	r.mu.Lock()
	st := r.stats[name]
	if st == nil {
		st = &PersonaStats{}
		r.stats[name] = st
	}
	st.Calls++
	st.TotalTime += duration
	if execErr != nil {
		st.Errors++
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordExecution(name, duration, execErr == nil)
	}
}

// Stats returns a copy of the per-persona statistics table.
func (r *Router) Stats() map[string]PersonaStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]PersonaStats, len(r.stats))
	for name, st := range r.stats {
		out[name] = *st
	}
	return out
}

// ResetStats clears the statistics table.
func (r *Router) ResetStats() {
	r.mu.Lock()
	r.stats = make(map[string]*PersonaStats)
	r.mu.Unlock()
}

// scorePersona sums keyword scores for one persona: +1 per keyword found as a
// case-insensitive substring, +0.5 more when that keyword also matches at a
// word boundary, rewarding precise matches over incidental substrings.
func scorePersona(prompt string, keywords []string) float64 {
	lower := strings.ToLower(prompt)
	score := 0.0
	for _, kw := range keywords {
		k := strings.ToLower(kw)
		if k == "" || !strings.Contains(lower, k) {
			continue
		}
		score += 1.0
		if matchesAtWordBoundary(lower, k) {
			score += 0.5
		}
	}
	return score
}

// matchesAtWordBoundary reports whether needle occurs in haystack bounded on
// both sides by non-letter, non-digit runes (or the string edges).
func matchesAtWordBoundary(haystack, needle string) bool {
	for from := 0; ; {
		idx := strings.Index(haystack[from:], needle)
		if idx < 0 {
			return false
		}
		start := from + idx
		end := start + len(needle)
		if boundaryBefore(haystack, start) && boundaryAfter(haystack, end) {
			return true
		}
		from = start + 1
		if from >= len(haystack) {
			return false
		}
	}
}

func boundaryBefore(s string, idx int) bool {
	if idx == 0 {
		return true
	}
	r := lastRune(s[:idx])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(s string, idx int) bool {
	if idx >= len(s) {
		return true
	}
	r := firstRune(s[idx:])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

func lastRune(s string) rune {
	var last rune
	for _, r := range s {
		last = r
	}
	return last
}
