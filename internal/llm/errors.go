package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for provider failures.
// Generate wraps every provider error with at most one of these, so callers
// branch with errors.Is instead of inspecting message text.
var (
	// ErrRateLimited indicates quota exhaustion or throttling (HTTP 429).
	ErrRateLimited = errors.New("llm rate limited")

	// ErrFatalAPI indicates a credential or billing problem that retrying cannot fix.
	ErrFatalAPI = errors.New("fatal LLM API error")

	// ErrTransient indicates a timeout or upstream outage.
	ErrTransient = errors.New("transient LLM error")
)

var rateLimitPatterns = []string{
	"quota",
	"429",
	"rate limit",
	"ratelimit",
	"resource_exhausted",
	"resource exhausted",
	"too many requests",
}

var fatalPatterns = []string{
	"credit balance",
	"billing",
	"invalid api key",
	"api key not valid",
	"authentication",
	"unauthorized",
	"permission denied",
	"401",
	"403",
}

var transientPatterns = []string{
	"timeout",
	"connection reset",
	"connection refused",
	"unavailable",
	"overloaded",
	"500",
	"502",
	"503",
	"504",
}

func containsAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// classify returns the sentinel matching err, or nil when none applies.
// Rate limiting wins over the other classes since quota errors often
// arrive with auth-like wording.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, rateLimitPatterns):
		return ErrRateLimited
	case containsAny(msg, fatalPatterns):
		return ErrFatalAPI
	case containsAny(msg, transientPatterns):
		return ErrTransient
	}
	return nil
}

// wrapProviderError tags err with its sentinel. Unclassified errors pass through.
func wrapProviderError(err error) error {
	sentinel := classify(err)
	if sentinel == nil || errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// IsRateLimited reports whether err is, or wraps, ErrRateLimited.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
