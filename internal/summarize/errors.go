package summarize

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/TobiSchelling/docpipe/internal/retry"
)

// ErrCircuitOpen is returned when a provider's circuit rejects the call.
var ErrCircuitOpen = errors.New("provider circuit open")

// ErrQuotaExhausted marks a hard quota limit on a provider. Unlike
// transient rate limiting it is never retried on that provider for the
// remainder of the run.
var ErrQuotaExhausted = errors.New("provider quota exhausted")

// ErrMalformedResponse marks a provider response that could not be parsed
// into a structured summary.
var ErrMalformedResponse = errors.New("malformed provider response")

// APIError is a non-2xx response from a provider API.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("%s API returned %d: %s", e.Provider, e.StatusCode, body)
}

// Quota reports whether this error is a hard quota exhaustion rather than
// transient throttling.
func (e *APIError) Quota() bool {
	if e.StatusCode == http.StatusPaymentRequired {
		return true
	}
	lower := strings.ToLower(e.Body)
	return strings.Contains(lower, "insufficient_quota") ||
		strings.Contains(lower, "quota exceeded") ||
		strings.Contains(lower, "billing")
}

// AllProvidersError aggregates the terminal error of every provider tried.
type AllProvidersError struct {
	Errors map[string]error // provider name -> terminal error
}

func (e *AllProvidersError) Error() string {
	names := make([]string, 0, len(e.Errors))
	for name := range e.Errors {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s: %v", name, e.Errors[name])
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}

// ClassifyProviderError maps provider call errors onto the retry taxonomy.
// Quota exhaustion and client errors are permanent, 429 waits the
// Retry-After hint, 5xx and transport errors retry with backoff.
func ClassifyProviderError(err error) retry.Classification {
	if errors.Is(err, ErrQuotaExhausted) {
		return retry.Classification{Class: retry.Permanent}
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		if errors.Is(err, ErrMalformedResponse) {
			return retry.Classification{Class: retry.Permanent}
		}
		// Transport-level failure.
		return retry.Classification{Class: retry.Transient}
	}

	switch {
	case apiErr.Quota():
		return retry.Classification{Class: retry.Permanent}
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return retry.Classification{Class: retry.RateLimited, Wait: apiErr.RetryAfter}
	case apiErr.StatusCode >= 500:
		return retry.Classification{Class: retry.Transient}
	default:
		return retry.Classification{Class: retry.Permanent}
	}
}

// IsQuotaExhausted reports whether err represents hard quota exhaustion.
func IsQuotaExhausted(err error) bool {
	if errors.Is(err, ErrQuotaExhausted) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Quota()
}
