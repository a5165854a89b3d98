package assistant

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// Generator produces one completion from one model.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, model, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, model, prompt string) (string, error) {
	return f(ctx, model, prompt)
}

// Middleware wraps a Generator with a cross-cutting concern.
type Middleware func(Generator) Generator

// Chain applies mws so that the first one is outermost.
func Chain(g Generator, mws ...Middleware) Generator {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			g = mws[i](g)
		}
	}
	return g
}

// PermanentError marks a failure that retrying the same model cannot fix.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Retry retries Generate up to maxAttempts with exponential backoff starting
// at baseDelay. It stops on a PermanentError or a cancelled context.
func Retry(maxAttempts int, baseDelay time.Duration) Middleware {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 300 * time.Millisecond
	}
	return func(next Generator) Generator {
		return GeneratorFunc(func(ctx context.Context, model, prompt string) (string, error) {
			var last error
			for i := 0; i < maxAttempts; i++ {
				out, err := next.Generate(ctx, model, prompt)
				if err == nil {
					return out, nil
				}
				var pErr *PermanentError
				if errors.As(err, &pErr) {
					return "", err
				}
				last = err
				if i == maxAttempts-1 {
					break
				}
				t := time.NewTimer(baseDelay * time.Duration(1<<i))
				select {
				case <-ctx.Done():
					t.Stop()
					return "", ctx.Err()
				case <-t.C:
				}
			}
			return "", last
		})
	}
}

// RateLimit throttles calls to rps with the given burst. rps <= 0 disables it.
func RateLimit(rps float64, burst int) Middleware {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next Generator) Generator {
		return GeneratorFunc(func(ctx context.Context, model, prompt string) (string, error) {
			if err := limiter.Wait(ctx); err != nil {
				return "", err
			}
			return next.Generate(ctx, model, prompt)
		})
	}
}
