package personas

import (
	"time"
)

// Marker tokens the backend model is instructed to emit at the end of its
// answer. The quality evaluator parses these; prompt templates and evaluator
// must agree on the exact literals.
const (
	MarkerContinue = "[CONTINUE]"
	MarkerDone     = "[DONE]"
)

// ModelTier selects which class of backend a persona prefers.
type ModelTier string

const (
	TierRemoteLarge ModelTier = "remote-large"
	TierRemoteSmall ModelTier = "remote-small"
	TierLocal       ModelTier = "local"
)

// Persona is an immutable behavioral profile. Keywords are maintained in two
// languages (English and Polish) so the same persona is reachable via either.
type Persona struct {
	Name        string    `yaml:"name" json:"name"`
	Role        string    `yaml:"role" json:"role"`
	ModelTier   ModelTier `yaml:"model_tier" json:"model_tier"`
	Temperature float64   `yaml:"temperature" json:"temperature"`
	Keywords    []string  `yaml:"keywords" json:"keywords"`
}

// ClassificationResult is the ephemeral output of one Classify call.
type ClassificationResult struct {
	Selected *Persona           `json:"selected"`
	Score    float64            `json:"score"`
	Scores   map[string]float64 `json:"scores"`
	Fallback bool               `json:"fallback"`
}

// PersonaStats accumulates per-persona execution statistics for the process
// lifetime. Reset only on explicit request.
type PersonaStats struct {
	Calls     int64         `json:"calls"`
	TotalTime time.Duration `json:"total_time"`
	Errors    int64         `json:"errors"`
}

// PromptOptions controls which prompt template BuildPrompt produces.
type PromptOptions struct {
	// RemoteModel selects the short natural-language preamble used for hosted
	// APIs. Local models get the structured, delimiter-bounded template with
	// hard stop sequences instead.
	RemoteModel bool
	// Tools lists tool names advertised in the local template.
	Tools []string
}
