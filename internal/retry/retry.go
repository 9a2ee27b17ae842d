package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Class categorizes an error for retry purposes.
type Class int

const (
	// Permanent errors fail the call immediately.
	Permanent Class = iota
	// Transient errors are retried with exponential backoff.
	Transient
	// RateLimited errors are retried after the server-indicated wait.
	RateLimited
)

// Classification is the retry decision for one error.
type Classification struct {
	Class Class
	Wait  time.Duration // server wait hint, only meaningful for RateLimited
}

// Classifier maps an error to its retry classification.
type Classifier func(error) Classification

// ClassifyAllTransient treats every error as retryable. Useful as a default
// for operations with no richer error signal.
func ClassifyAllTransient(error) Classification {
	return Classification{Class: Transient}
}

// Attempt describes one attempt of an operation, reported to OnAttempt
// for cost and telemetry accounting.
type Attempt struct {
	Number int           // 1-based attempt number
	Err    error         // nil on success
	Delay  time.Duration // sleep before the next attempt, 0 if none
}

// Executor runs operations with retry, exponential backoff with jitter,
// and rate-limit-aware waiting.
type Executor struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64

	// OnAttempt, if set, is called after every attempt including the
	// successful one and the last failure.
	OnAttempt func(Attempt)

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Executor with the given retry policy.
func New(maxAttempts int, baseDelay, maxDelay time.Duration, jitterFactor float64) *Executor {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Executor{
		MaxAttempts:  maxAttempts,
		BaseDelay:    baseDelay,
		MaxDelay:     maxDelay,
		JitterFactor: jitterFactor,
		sleep:        sleepCtx,
	}
}

// Do runs op up to MaxAttempts times. Permanent errors fail immediately,
// transient errors back off exponentially, rate-limited errors wait the
// classified hint capped at MaxDelay. The last error is returned when all
// attempts are exhausted.
func (e *Executor) Do(ctx context.Context, op func(context.Context) error, classify Classifier) error {
	if classify == nil {
		classify = ClassifyAllTransient
	}

	var lastErr error
	for attempt := 0; attempt < e.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			e.report(Attempt{Number: attempt + 1})
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			e.report(Attempt{Number: attempt + 1, Err: err})
			return err
		}

		c := classify(err)
		if c.Class == Permanent || attempt == e.MaxAttempts-1 {
			e.report(Attempt{Number: attempt + 1, Err: err})
			return err
		}

		delay := e.delayFor(attempt, c)
		e.report(Attempt{Number: attempt + 1, Err: err, Delay: delay})

		if serr := e.sleep(ctx, delay); serr != nil {
			return errors.Join(serr, lastErr)
		}
	}
	return lastErr
}

// delayFor computes the sleep before the attempt after attempt (0-based).
func (e *Executor) delayFor(attempt int, c Classification) time.Duration {
	if c.Class == RateLimited && c.Wait > 0 {
		if c.Wait > e.MaxDelay {
			return e.MaxDelay
		}
		return c.Wait
	}

	backoff := float64(e.BaseDelay) * math.Pow(2, float64(attempt))
	if backoff > float64(e.MaxDelay) {
		backoff = float64(e.MaxDelay)
	}
	if e.JitterFactor > 0 {
		// Uniform in [1-jitter, 1+jitter]. The package-level source is
		// locked internally, so a shared Executor stays race-free.
		factor := 1 + (rand.Float64()*2-1)*e.JitterFactor
		backoff *= factor
		if backoff > float64(e.MaxDelay) {
			backoff = float64(e.MaxDelay)
		}
	}
	if backoff < 0 {
		backoff = 0
	}
	return time.Duration(backoff)
}

func (e *Executor) report(a Attempt) {
	if e.OnAttempt != nil {
		e.OnAttempt(a)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
