package personas

import (
	"strings"
)

// Role delimiters for the local-model template. Local models lack the
// instruction-following reliability of hosted APIs and must be constrained
// with hard stop sequences; any change to the template below must keep
// LocalStopSequences synchronized with these literals.
const (
	localSystemDelim    = "### SYSTEM"
	localUserDelim      = "### USER"
	localAssistantDelim = "### ASSISTANT"
)

// LocalStopSequences is the exact stop-sequence list passed to local backends
// alongside prompts produced by BuildPrompt with RemoteModel=false.
var LocalStopSequences = []string{localSystemDelim, localUserDelim}

// BuildPrompt renders the persona prompt for a backend. It is a pure function
// of its inputs: the same persona, prompt and options always produce the same
// string.
func BuildPrompt(p *Persona, userPrompt string, opts PromptOptions) string {
	if opts.RemoteModel {
		return buildRemotePrompt(p, userPrompt)
	}
	return buildLocalPrompt(p, userPrompt, opts.Tools)
}

// buildRemotePrompt produces a short natural-language preamble for hosted
// APIs: persona identity, role, expertise keywords and output-formatting
// rules (completion markers, language mirroring).
func buildRemotePrompt(p *Persona, userPrompt string) string {
	var b strings.Builder
	b.WriteString("You are ")
	b.WriteString(p.Name)
	b.WriteString(", a ")
	b.WriteString(p.Role)
	b.WriteString(". Your areas of expertise include: ")
	b.WriteString(strings.Join(p.Keywords, ", "))
	b.WriteString(".\n\n")
	b.WriteString("Answer in the same language the question was asked in. ")
	b.WriteString("End your answer with the literal token ")
	b.WriteString(MarkerDone)
	b.WriteString(" when it is complete, or ")
	b.WriteString(MarkerContinue)
	b.WriteString(" if more content follows.\n\n")
	b.WriteString(userPrompt)
	return b.String()
}

// buildLocalPrompt produces the structured, delimiter-bounded template for
// local inference engines, including the operating environment description,
// available tool names and explicit stop markers.
func buildLocalPrompt(p *Persona, userPrompt string, tools []string) string {
	var b strings.Builder
	b.WriteString(localSystemDelim)
	b.WriteString("\nYou are ")
	b.WriteString(p.Name)
	b.WriteString(", a ")
	b.WriteString(p.Role)
	b.WriteString(".\nExpertise: ")
	b.WriteString(strings.Join(p.Keywords, ", "))
	b.WriteString("\n\nOperating environment: you run inside a local query ")
	b.WriteString("orchestrator without network access. You receive a single ")
	b.WriteString("question and must produce a single self-contained answer. ")
	b.WriteString("Do not simulate a conversation and do not produce the ")
	b.WriteString("delimiters used in this prompt.\n")
	if len(tools) > 0 {
		b.WriteString("Available tools: ")
		b.WriteString(strings.Join(tools, ", "))
		b.WriteString("\n")
	}
	b.WriteString("\nRules:\n")
	b.WriteString("- Answer in the same language the question was asked in.\n")
	b.WriteString("- End with the literal token ")
	b.WriteString(MarkerDone)
	b.WriteString(" when the answer is complete.\n")
	b.WriteString("- End with the literal token ")
	b.WriteString(MarkerContinue)
	b.WriteString(" if more content follows.\n")
	b.WriteString("- Stop immediately after the marker.\n\n")
	b.WriteString(localUserDelim)
	b.WriteString("\n")
	b.WriteString(userPrompt)
	b.WriteString("\n\n")
	b.WriteString(localAssistantDelim)
	b.WriteString("\n")
	return b.String()
}
