// Package budget provides token estimation and byte-budget truncation for
// the Context Assembler. Because downstream text is overwhelmingly mixed
// English/Japanese prose, estimation is script-aware rather than a flat
// characters-per-token ratio (see DESIGN.md for why this departs from the
// teacher's original heuristic).
package budget

import (
	"unicode"

	"github.com/cloudwego/eino/schema"
)

const (
	// asciiCharsPerToken is the characters-per-token ratio for ASCII-range
	// text (English prose, code, punctuation).
	asciiCharsPerToken = 4.0

	// nonASCIICharsPerToken is the characters-per-token ratio for non-ASCII
	// text, where CJK prose in particular tends to carry more information
	// per rune than the ASCII average.
	nonASCIICharsPerToken = 1.5

	// DefaultMaxContextTokens is the default input context budget in tokens,
	// conservative enough to fit within 8k-context local models while
	// leaving room for the output.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s, classifying each rune as
// ASCII or non-ASCII and applying the matching ratio, mirroring
// original_source's TokenEstimator.estimate.
func Estimate(s string) int {
	if s == "" {
		return 0
	}
	var ascii, nonASCII int
	for _, r := range s {
		if r <= unicode.MaxASCII {
			ascii++
		} else {
			nonASCII++
		}
	}
	total := float64(ascii)/asciiCharsPerToken + float64(nonASCII)/nonASCIICharsPerToken
	n := int(total)
	if n == 0 && (ascii > 0 || nonASCII > 0) {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing a small per-message overhead plus role and
// content estimates.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TrimHistory removes the oldest messages from history until the combined
// estimated token count of fixed + history fits within maxTokens. fixed
// messages (system prompt, assembled context, current turn) are never
// dropped here.
func TrimHistory(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	if len(history) == 0 {
		return history
	}
	fixedTokens := EstimateMessages(fixed)
	for len(history) > 0 {
		if fixedTokens+EstimateMessages(history) <= maxTokens {
			break
		}
		history = history[1:]
	}
	return history
}

// TruncateBytes hard-truncates s to at most n bytes, preserving the prefix
// and appending "..." when content was cut. Truncation happens on a rune
// boundary so multi-byte UTF-8 sequences are never split. This is the
// Context Assembler's per-section byte-budget primitive (spec §4.2).
func TruncateBytes(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	const suffix = "..."
	cut := n - len(suffix)
	if cut <= 0 {
		cut = n
	}
	// Walk back to a rune boundary.
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	if n-len(suffix) <= 0 {
		return s[:cut]
	}
	return s[:cut] + suffix
}

// isRuneStart reports whether b is the first byte of a UTF-8 rune (i.e.
// not a continuation byte 10xxxxxx).
func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
