package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultTimeout = 20 * time.Second
	MinTimeout     = time.Second
	MaxTimeout     = 120 * time.Second
)

// ClampTimeout bounds d to [MinTimeout, MaxTimeout]; zero selects DefaultTimeout.
func ClampTimeout(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultTimeout
	case d < MinTimeout:
		return MinTimeout
	case d > MaxTimeout:
		return MaxTimeout
	}
	return d
}

// TimeoutEmbedder gives every provider call its own deadline. A provider that
// ignores cancellation is abandoned when the deadline passes.
type TimeoutEmbedder struct {
	next    Embedder
	timeout time.Duration
}

// NewTimeoutEmbedder wraps next with a clamped per-call timeout.
func NewTimeoutEmbedder(next Embedder, timeout time.Duration) *TimeoutEmbedder {
	return &TimeoutEmbedder{next: next, timeout: ClampTimeout(timeout)}
}

// Timeout returns the effective per-call timeout.
func (e *TimeoutEmbedder) Timeout() time.Duration {
	return e.timeout
}

func (e *TimeoutEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, e, text)
}

func (e *TimeoutEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type result struct {
		vectors [][]float32
		err     error
	}
	done := make(chan result, 1)
	go func() {
		v, err := e.next.EmbedBatch(callCtx, texts)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, e.timeoutError()
		}
		return r.vectors, r.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, e.timeoutError()
	}
}

func (e *TimeoutEmbedder) timeoutError() error {
	return fmt.Errorf("%w after %s", ErrTimeout, e.timeout)
}

func (e *TimeoutEmbedder) Dimensions() int { return e.next.Dimensions() }

func (e *TimeoutEmbedder) Close() error { return e.next.Close() }

func (e *TimeoutEmbedder) Unwrap() Embedder { return e.next }

// RateLimitedEmbedder waits on a token bucket before each provider call.
type RateLimitedEmbedder struct {
	next    Embedder
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder allows perSecond calls with the given burst.
func NewRateLimitedEmbedder(next Embedder, perSecond float64, burst int) *RateLimitedEmbedder {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedEmbedder{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (e *RateLimitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return e.next.Embed(ctx, text)
}

func (e *RateLimitedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return e.next.EmbedBatch(ctx, texts)
}

func (e *RateLimitedEmbedder) Dimensions() int { return e.next.Dimensions() }

func (e *RateLimitedEmbedder) Close() error { return e.next.Close() }

func (e *RateLimitedEmbedder) Unwrap() Embedder { return e.next }
