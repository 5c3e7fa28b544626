// Package budget estimates the token cost of a request before dispatch.
// The estimate is a heuristic: CJK codepoints count as one token each, the
// remaining characters as one token per four, plus a fixed per-message
// overhead for role/separator framing.
package budget

import (
	"github.com/davidbz/markl/internal/domain"
)

// perMessageOverhead approximates role and separator tokens.
const perMessageOverhead = 4

// cjkRanges covers the codepoint blocks counted as one token per character.
var cjkRanges = [][2]rune{
	{0x1100, 0x11FF},   // Hangul Jamo
	{0x2E80, 0x2EFF},   // CJK Radicals Supplement
	{0x3000, 0x303F},   // CJK Symbols and Punctuation
	{0x3040, 0x30FF},   // Hiragana, Katakana
	{0x3400, 0x4DBF},   // CJK Extension A
	{0x4E00, 0x9FFF},   // CJK Unified Ideographs
	{0xAC00, 0xD7AF},   // Hangul Syllables
	{0xF900, 0xFAFF},   // CJK Compatibility Ideographs
	{0xFF00, 0xFFEF},   // Halfwidth and Fullwidth Forms
	{0x20000, 0x2A6DF}, // CJK Extension B
}

// EstimateTokens estimates the token cost of the given messages.
func EstimateTokens(messages []domain.ChatMessage) int {
	total := 0
	for _, msg := range messages {
		total += estimateText(messageText(msg)) + perMessageOverhead
	}
	return total
}

// Check fails with ContextLimitExceeded when the estimate exceeds the
// model's maximum context length. No truncation, no chunking.
func Check(messages []domain.ChatMessage, maxContextLength int) error {
	estimated := EstimateTokens(messages)
	if maxContextLength > 0 && estimated > maxContextLength {
		return &domain.ContextLimitExceeded{
			EstimatedTokens:  estimated,
			MaxContextLength: maxContextLength,
		}
	}
	return nil
}

func estimateText(text string) int {
	cjk := 0
	other := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	return cjk + (other+3)/4
}

// messageText concatenates the text parts of a message. Non-text parts do
// not contribute to the estimate.
func messageText(msg domain.ChatMessage) string {
	if !msg.Content.IsParts() {
		return msg.Content.Text
	}

	text := ""
	for _, part := range msg.Content.Parts {
		if part.Type == domain.PartText {
			text += part.Text
		}
	}
	return text
}

func isCJK(r rune) bool {
	for _, rng := range cjkRanges {
		if r >= rng[0] && r <= rng[1] {
			return true
		}
	}
	return false
}
