package quality

import (
	"fmt"
	"strings"
)

// tailChars bounds how much prior output is replayed into a continuation
// prompt, capping prompt growth across iterations.
const tailChars = 1500

// BuildContinuationPrompt constructs the prompt for the next loop pass.
func (e *Evaluator) BuildContinuationPrompt(ctx *IterationContext, strategy Strategy) string {
	last := ctx.Last()
	if last == nil || strategy == StrategyEmpty {
		return ctx.OriginalPrompt
	}

	switch strategy {
	case StrategyContinue:
		var b strings.Builder
		b.WriteString("Your previous answer was cut off. Continue exactly where you left off; ")
		b.WriteString("do not repeat what you already wrote.\n\n")
		b.WriteString("Tail of your previous answer:\n")
		b.WriteString(tail(StripMarkers(last.Text), tailChars))
		return b.String()
	default: // StrategyImprove
		var b strings.Builder
		fmt.Fprintf(&b, "Your previous answer scored %.0f/10", last.Score)
		if last.Reason != "" {
			fmt.Fprintf(&b, " (%s)", last.Reason)
		}
		b.WriteString(". Write a revised, complete answer to the original question.\n\n")
		b.WriteString("Original question:\n")
		b.WriteString(ctx.OriginalPrompt)
		b.WriteString("\n\nYour previous answer (tail):\n")
		b.WriteString(tail(StripMarkers(last.Text), tailChars))
		return b.String()
	}
}

// tail returns at most n trailing bytes of s, aligned to a rune boundary.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[len(s)-n:]
	// Drop a leading partial rune if the cut landed mid-sequence.
	for i := 0; i < len(cut); i++ {
		if cut[i]&0xC0 != 0x80 {
			return cut[i:]
		}
	}
	return cut
}
