// Package retry runs an operation under a bounded attempt budget, letting a
// classifier decide which failures are worth another attempt.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"
)

// Class is the retry decision for a failure.
type Class int

// Failure classes.
const (
	// Retryable failures consume one attempt and try again.
	Retryable Class = iota
	// Fatal failures stop immediately; the operation is abandoned.
	Fatal
	// Terminal failures stop immediately and signal the caller to stop
	// issuing further work, e.g. past the end of a token range.
	Terminal
)

func (c Class) String() string {
	switch c {
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	case Terminal:
		return "terminal"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Classifier maps an operation error to a Class.
type Classifier func(error) Class

// ErrExhausted is matched by every ExhaustedError.
var ErrExhausted = errors.New("retry budget exhausted")

// ExhaustedError reports the attempt count and last failure after the
// budget ran out.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap exposes ErrExhausted and the last failure.
func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Last}
}

// Policy bounds attempts and spaces them with jittered exponential backoff.
// A zero BaseDelay retries immediately.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Backoff returns the wait before the attempt following attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay/2) + jitter(time.Duration(delay)/2)
}

func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Do calls op until it succeeds, the classifier stops it, the budget runs
// out, or ctx is done. It returns the number of attempts made. Only the
// caller's ctx stops the loop early; an op that times out on its own deadline
// is classified like any other failure. A nil classify treats every error as
// Retryable.
func Do(ctx context.Context, p Policy, classify Classifier, op func(ctx context.Context, attempt int) error) (int, error) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	for attempt := 1; ; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, fmt.Errorf("attempt %d: %w", attempt, ctxErr)
		}
		class := Retryable
		if classify != nil {
			class = classify(err)
		}
		if class != Retryable {
			return attempt, err
		}
		if attempt >= p.MaxAttempts {
			return attempt, &ExhaustedError{Attempts: attempt, Last: err}
		}
		if wait := p.Backoff(attempt); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, fmt.Errorf("attempt %d: %w", attempt, ctx.Err())
			case <-timer.C:
			}
		}
	}
}
