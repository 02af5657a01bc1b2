package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/hydra-lab/queryd/internal/backend"
)

// streamSynthesized replays a complete response as paced chunks so callers
// get the same streaming experience regardless of backend capability.
func (o *Orchestrator) streamSynthesized(ctx context.Context, text string, onToken backend.TokenFunc) {
	chunks := chunkResponse(text, o.cfg.StreamChunkSize)
	for i, chunk := range chunks {
		if i > 0 {
			select {
			case <-time.After(o.cfg.StreamDelay):
			case <-ctx.Done():
				return
			}
		}
		onToken(chunk)
	}
}

// chunkResponse splits text into chunks of at most size characters, breaking
// at word boundaries and preserving line breaks. Words longer than size are
// hard-split.
func chunkResponse(text string, size int) []string {
	if text == "" {
		return nil
	}
	var chunks []string
	// SplitAfter keeps each line's trailing newline attached, so emitting
	// the chunks verbatim reconstructs the original text.
	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		chunks = append(chunks, chunkLine(line, size)...)
	}
	return chunks
}

func chunkLine(line string, size int) []string {
	if len(line) <= size {
		return []string{line}
	}
	var chunks []string
	var current strings.Builder
	for _, word := range splitAfterSpaces(line) {
		if current.Len() > 0 && current.Len()+len(word) > size {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		for len(word) > size {
			// A single oversized token gets hard-split, backed off to a rune
			// boundary so multi-byte characters are never cut in half.
			if current.Len() > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			cut := size
			for cut > 0 && word[cut]&0xC0 == 0x80 {
				cut--
			}
			if cut == 0 {
				cut = size
			}
			chunks = append(chunks, word[:cut])
			word = word[cut:]
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// splitAfterSpaces splits into words with their trailing spaces attached, so
// concatenating the parts reproduces the input exactly.
func splitAfterSpaces(s string) []string {
	var parts []string
	start := 0
	inSpace := false
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			inSpace = true
			continue
		}
		if inSpace {
			parts = append(parts, s[start:i])
			start = i
			inSpace = false
		}
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}
