// Package reasoning separates a model's <think>...</think> trace from its
// answer in streamed text.
package reasoning

import (
	"strings"

	"modelcore/pkg/types"
)

const (
	StartMarker = "<think>"
	EndMarker   = "</think>"
)

// Split divides the accumulated raw output into reasoning and answer text.
//
// A trace starts when raw begins with StartMarker, or unconditionally when
// forceStart is set (models that omit the opening marker). Until final, a
// tail that could still grow into a marker is held back so that both parts
// only ever grow between calls.
func Split(raw string, forceStart, final bool) (reasoning, text string) {
	body := strings.TrimLeft(raw, " \t\r\n")
	switch {
	case strings.HasPrefix(body, StartMarker):
		body = body[len(StartMarker):]
	case forceStart:
		if !final && body != "" && strings.HasPrefix(StartMarker, body) {
			return "", ""
		}
	default:
		if !final && body != "" && strings.HasPrefix(StartMarker, body) {
			return "", ""
		}
		return "", raw
	}
	if i := strings.Index(body, EndMarker); i >= 0 {
		return body[:i], body[i+len(EndMarker):]
	}
	if final {
		return body, ""
	}
	return body[:len(body)-partialSuffix(body, EndMarker)], ""
}

// PromptOpensTrace reports whether a rendered prompt already ends inside a
// reasoning trace, so the model output will lack the start marker.
func PromptOpensTrace(prompt string) bool {
	return strings.HasSuffix(strings.TrimRight(prompt, " \t\r\n"), StartMarker)
}

// partialSuffix returns the length of the longest proper prefix of marker
// that s ends with.
func partialSuffix(s, marker string) int {
	for n := len(marker) - 1; n > 0; n-- {
		if strings.HasSuffix(s, marker[:n]) {
			return n
		}
	}
	return 0
}

// Accumulator turns raw deltas into cumulative outputs.
type Accumulator struct {
	// Enabled turns splitting on; when false all text is answer text.
	Enabled bool
	// ForceStart treats output as reasoning before any start marker.
	ForceStart bool

	raw strings.Builder
}

// Push appends a delta and returns the current output.
func (a *Accumulator) Push(delta string) types.ModelOutput {
	a.raw.WriteString(delta)
	return a.output(false)
}

// Set replaces the accumulated text, for engines that report full text.
func (a *Accumulator) Set(full string) types.ModelOutput {
	a.raw.Reset()
	a.raw.WriteString(full)
	return a.output(false)
}

// Final returns the output with held-back tails released.
func (a *Accumulator) Final() types.ModelOutput { return a.output(true) }

// Raw returns everything received so far.
func (a *Accumulator) Raw() string { return a.raw.String() }

func (a *Accumulator) output(final bool) types.ModelOutput {
	if !a.Enabled {
		return types.ModelOutput{Text: a.raw.String()}
	}
	r, t := Split(a.raw.String(), a.ForceStart, final)
	return types.ModelOutput{Text: t, ReasoningContent: r}
}
