package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStructuredPlainJSON(t *testing.T) {
	result := ParseStructured(`{"signal": "BUY", "confidence": "HIGH"}`)
	assert.Equal(t, "BUY", result["signal"])
	assert.Equal(t, "HIGH", result["confidence"])
}

func TestParseStructuredMarkdownFence(t *testing.T) {
	text := "Here is my analysis:\n```json\n{\"signal\": \"SELL\"}\n```\nDone."
	result := ParseStructured(text)
	assert.Equal(t, "SELL", result["signal"])
}

func TestParseStructuredStripsThinking(t *testing.T) {
	text := `<thinking>{"signal": "BUY"} is tempting but momentum is weak</thinking>
{"signal": "HOLD", "confidence": "LOW"}`
	result := ParseStructured(text)
	assert.Equal(t, "HOLD", result["signal"])
}

func TestParseStructuredTakesLastObject(t *testing.T) {
	text := `First draft: {"signal": "BUY"}
On reflection: {"signal": "SELL", "confidence": "MEDIUM"}`
	result := ParseStructured(text)
	assert.Equal(t, "SELL", result["signal"])
}

func TestParseStructuredBracesInsideStrings(t *testing.T) {
	text := `{"reason": "price broke the {upper} band", "signal": "SELL"}`
	result := ParseStructured(text)
	assert.Equal(t, "SELL", result["signal"])
}

func TestParseStructuredParseError(t *testing.T) {
	result := ParseStructured("the market looks uncertain, no structured output here")
	require.Equal(t, true, result["parse_error"])
	assert.Contains(t, result["raw"], "uncertain")
}

func TestParseStructuredUnbalanced(t *testing.T) {
	result := ParseStructured(`{"signal": "BUY", "confidence":`)
	assert.Equal(t, true, result["parse_error"])
}
