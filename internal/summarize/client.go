package summarize

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/TobiSchelling/docpipe/internal/breaker"
	"github.com/TobiSchelling/docpipe/internal/model"
	"github.com/TobiSchelling/docpipe/internal/retry"
)

// RetryConfig is the per-provider retry policy.
type RetryConfig struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// BreakerConfig is the per-provider circuit breaker policy.
type BreakerConfig struct {
	FailureThreshold   int
	SuccessThreshold   int
	HalfOpenProbeLimit int
	Cooldown           time.Duration
}

// ProviderStats accumulates usage and outcome counters for one provider.
type ProviderStats struct {
	Calls     int
	Successes int
	Failures  int
	Retries   int
	Fallbacks int // calls served by this provider because another was down
	Usage     model.Usage
}

// Client wraps summarization providers with retry, circuit breaking, and
// automatic fallback. It owns one health record per provider for the
// process lifetime.
type Client struct {
	providers []Provider // priority order: primary first

	mu       sync.Mutex
	health   map[string]*breaker.Breaker
	quotaOut map[string]bool
	stats    map[string]*ProviderStats
	execs    map[string]*retry.Executor
}

// NewClient creates a Client over the given providers in priority order.
// A nil fallback entry is allowed and skipped.
func NewClient(primary, fallback Provider, rc RetryConfig, bc BreakerConfig) *Client {
	c := &Client{
		health:   make(map[string]*breaker.Breaker),
		quotaOut: make(map[string]bool),
		stats:    make(map[string]*ProviderStats),
		execs:    make(map[string]*retry.Executor),
	}

	for _, p := range []Provider{primary, fallback} {
		if p == nil {
			continue
		}
		name := p.Name()
		c.providers = append(c.providers, p)
		c.health[name] = breaker.New(bc.FailureThreshold, bc.SuccessThreshold, bc.HalfOpenProbeLimit, bc.Cooldown)
		c.stats[name] = &ProviderStats{}

		exec := retry.New(rc.MaxAttempts, rc.BaseDelay, rc.MaxDelay, rc.JitterFactor)
		exec.OnAttempt = c.attemptRecorder(name)
		c.execs[name] = exec
	}

	return c
}

// attemptRecorder counts retry attempts beyond the first for one provider.
func (c *Client) attemptRecorder(name string) func(retry.Attempt) {
	return func(a retry.Attempt) {
		if a.Number <= 1 {
			return
		}
		c.mu.Lock()
		c.stats[name].Retries++
		c.mu.Unlock()
	}
}

// Summarize runs the summarization call through the provider chain. The
// primary is skipped when its circuit is open or its quota is exhausted;
// any terminal primary failure falls through to the fallback. When every
// provider fails, an AllProvidersError names each provider's terminal error.
// The returned string is the name of the provider that served the call.
func (c *Client) Summarize(ctx context.Context, title, text string, target Target) (*model.Summary, model.Usage, string, error) {
	var total model.Usage
	errs := make(map[string]error)

	for i, p := range c.providers {
		name := p.Name()

		if c.isQuotaExhausted(name) {
			errs[name] = ErrQuotaExhausted
			continue
		}
		if !c.health[name].Allow() {
			errs[name] = ErrCircuitOpen
			continue
		}

		summary, usage, err := c.call(ctx, p, title, text, target)
		total.Add(usage)

		if err == nil {
			if i > 0 {
				c.countFallback(name)
			}
			return summary, total, name, nil
		}

		errs[name] = err
		if IsQuotaExhausted(err) {
			c.markQuotaExhausted(name)
			log.Printf("Provider %s quota exhausted; disabled for this run", name)
		}
		if ctx.Err() != nil {
			break
		}
	}

	return nil, total, "", &AllProvidersError{Errors: errs}
}

// call runs one provider through its retry executor and records the
// terminal outcome on its health record and counters.
func (c *Client) call(ctx context.Context, p Provider, title, text string, target Target) (*model.Summary, model.Usage, error) {
	name := p.Name()
	var summary *model.Summary
	var total model.Usage

	err := c.execs[name].Do(ctx, func(ctx context.Context) error {
		s, usage, cerr := p.Summarize(ctx, title, text, target)
		total.Add(usage)
		if cerr != nil {
			return cerr
		}
		summary = s
		return nil
	}, ClassifyProviderError)

	c.mu.Lock()
	st := c.stats[name]
	st.Calls++
	st.Usage.Add(total)
	if err == nil {
		st.Successes++
	} else {
		st.Failures++
	}
	c.mu.Unlock()

	if err == nil {
		c.health[name].RecordSuccess()
	} else {
		c.health[name].RecordFailure()
	}

	return summary, total, err
}

// HealthState returns the circuit state for a provider.
func (c *Client) HealthState(name string) breaker.State {
	if h, ok := c.health[name]; ok {
		return h.State()
	}
	return breaker.Closed
}

// Stats returns a snapshot of per-provider counters.
func (c *Client) Stats() map[string]ProviderStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]ProviderStats, len(c.stats))
	for name, st := range c.stats {
		out[name] = *st
	}
	return out
}

func (c *Client) isQuotaExhausted(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quotaOut[name]
}

func (c *Client) markQuotaExhausted(name string) {
	c.mu.Lock()
	c.quotaOut[name] = true
	c.mu.Unlock()
}

func (c *Client) countFallback(name string) {
	c.mu.Lock()
	c.stats[name].Fallbacks++
	c.mu.Unlock()
}

// CreateProviders builds the primary and optional fallback provider from
// configuration. The configured provider comes first; the other becomes
// the fallback when enabled and configured.
func CreateProviders(providerName, ollamaModel, ollamaURL, openaiModel, apiKeyEnv string, fallbackEnabled bool) (Provider, Provider) {
	ollama := NewOllamaProvider(ollamaModel, ollamaURL)
	openai := NewOpenAIProvider(openaiModel, apiKeyEnv)

	var primary, fallback Provider
	if providerName == "openai" {
		primary, fallback = openai, ollama
	} else {
		primary, fallback = ollama, openai
	}

	if !fallbackEnabled || !fallback.IsConfigured() {
		fallback = nil
	}
	if fallback != nil {
		log.Printf("Using %s with fallback %s", primary.Name(), fallback.Name())
	} else {
		log.Printf("Using %s (no fallback provider)", primary.Name())
	}
	return primary, fallback
}
