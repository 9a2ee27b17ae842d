package extract

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/TobiSchelling/docpipe/internal/model"
	"github.com/TobiSchelling/docpipe/internal/retry"
)

// ErrNoText is returned inside a failed Attempt when no backend produced
// any usable text.
var ErrNoText = errors.New("no backend produced text")

// Attempt is the outcome of one backend try. The chain retains the full
// attempt list transiently and returns only the winning attempt.
type Attempt struct {
	Backend  string
	Success  bool
	Text     string
	Quality  float64
	Duration time.Duration
	Err      error
}

// Chain tries conversion backends in priority order, scoring each output,
// and stops at the first result meeting the quality threshold. If no
// backend qualifies, the highest-scoring partial result is returned.
type Chain struct {
	backends   []Backend
	scorer     *Scorer
	exec       *retry.Executor
	minQuality float64
}

// NewChain builds a Chain over the given backends. Backends reporting
// unavailable at construction are dropped up front.
func NewChain(backends []Backend, scorer *Scorer, exec *retry.Executor, minQuality float64) *Chain {
	available := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if !b.Available() {
			log.Printf("Backend %s unavailable, skipping", b.Name())
			continue
		}
		available = append(available, b)
	}
	return &Chain{
		backends:   available,
		scorer:     scorer,
		exec:       exec,
		minQuality: minQuality,
	}
}

// Backends returns the names of the active backends in chain order.
func (c *Chain) Backends() []string {
	names := make([]string, len(c.backends))
	for i, b := range c.backends {
		names[i] = b.Name()
	}
	return names
}

// Convert runs doc through the backend chain and returns the best attempt.
// A successful attempt never carries empty text; if every backend fails to
// produce text the attempt is marked failed so the caller can degrade.
func (c *Chain) Convert(ctx context.Context, doc *model.Document) Attempt {
	var best Attempt
	best.Err = ErrNoText

	for _, backend := range c.backends {
		attempt := c.tryBackend(ctx, backend, doc)

		if attempt.Success && attempt.Quality >= c.minQuality {
			return attempt
		}
		if attempt.Success && attempt.Quality > best.Quality {
			best = attempt
		}
		if !attempt.Success && !best.Success && best.Err == ErrNoText && attempt.Err != nil {
			best.Err = attempt.Err
			best.Backend = attempt.Backend
		}

		if ctx.Err() != nil {
			break
		}
	}

	if best.Success {
		log.Printf("No backend met quality %.2f for %s; best was %s at %.2f",
			c.minQuality, doc.URL, best.Backend, best.Quality)
	}
	return best
}

// tryBackend runs one backend through the retry executor and scores its
// output.
func (c *Chain) tryBackend(ctx context.Context, backend Backend, doc *model.Document) Attempt {
	start := time.Now()

	var text string
	err := c.exec.Do(ctx, func(ctx context.Context) error {
		out, cerr := backend.Convert(ctx, doc)
		if cerr != nil {
			return cerr
		}
		text = out
		return nil
	}, classifyConvertError)

	attempt := Attempt{
		Backend:  backend.Name(),
		Duration: time.Since(start),
	}
	if err != nil {
		attempt.Err = err
		return attempt
	}

	attempt.Quality = c.scorer.Score(text)
	if text == "" || attempt.Quality == 0.0 && len(text) < minTextLength {
		attempt.Err = ErrNoText
		return attempt
	}

	attempt.Success = true
	attempt.Text = text
	return attempt
}

// classifyConvertError treats conversion failures as permanent: backends
// are deterministic over the already-downloaded bytes, so retrying the
// same input cannot help.
func classifyConvertError(error) retry.Classification {
	return retry.Classification{Class: retry.Permanent}
}
