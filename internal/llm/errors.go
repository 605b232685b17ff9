package llm

import (
	"fmt"
	"strings"
)

// ErrorKind classifies generation failures. Rate-limit and model-invalid
// errors trigger the provider fallback chain; transport errors bubble.
type ErrorKind string

const (
	KindRateLimit    ErrorKind = "rate_limit"
	KindModelInvalid ErrorKind = "model_invalid"
	KindTransport    ErrorKind = "transport"
)

// Error is a classified generation failure
type Error struct {
	Kind  ErrorKind
	Model string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm %s (%s): %v", e.Kind, e.Model, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// TriggersFallback reports whether the next model in the chain should be
// tried.
func (e *Error) TriggersFallback() bool {
	return e.Kind == KindRateLimit || e.Kind == KindModelInvalid
}

// classifyStatus maps an HTTP status and error body to an ErrorKind
func classifyStatus(status int, errType, message string) ErrorKind {
	if status == 429 {
		return KindRateLimit
	}
	lower := strings.ToLower(errType + " " + message)
	if status == 404 || status == 400 {
		if strings.Contains(lower, "model") || strings.Contains(lower, "decommission") {
			return KindModelInvalid
		}
	}
	if strings.Contains(lower, "rate limit") || strings.Contains(lower, "quota") {
		return KindRateLimit
	}
	return KindTransport
}
