package quality

import (
	"strings"
	"unicode"

	"github.com/hydra-lab/queryd/internal/personas"
)

// replacementMargin is how much the final iteration's score must beat the
// prior one by to be treated as a full rewrite rather than a fragment.
const replacementMargin = 1.0

// StripMarkers removes the control markers from a response.
func StripMarkers(s string) string {
	s = strings.ReplaceAll(s, personas.MarkerContinue, "")
	s = strings.ReplaceAll(s, personas.MarkerDone, "")
	return strings.TrimSpace(s)
}

// MergeResponses folds the loop's iterations into one answer. A final pass
// that clearly outscored its predecessor replaces everything; a final pass
// that reads like a continuation fragment is concatenated onto the earlier
// output; anything else keeps the latest response alone.
func MergeResponses(records []IterationRecord) string {
	switch len(records) {
	case 0:
		return ""
	case 1:
		return StripMarkers(records[0].Text)
	}

	final := records[len(records)-1]
	prior := records[len(records)-2]

	if final.Score > prior.Score+replacementMargin {
		return StripMarkers(final.Text)
	}

	if looksLikeContinuation(StripMarkers(final.Text)) {
		parts := make([]string, 0, len(records))
		for _, rec := range records {
			if text := StripMarkers(rec.Text); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n\n")
	}

	return StripMarkers(final.Text)
}

// looksLikeContinuation guesses whether text is a fragment resuming earlier
// output rather than a fresh answer: it starts lowercase or with a list
// bullet.
func looksLikeContinuation(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	first := firstRune(trimmed)
	if unicode.IsLower(first) {
		return true
	}
	switch first {
	case '-', '*', '+':
		return true
	}
	return false
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}
