// Package retry runs actions repeatedly until they succeed or a strategy
// gives up on them.
package retry

import (
	"context"
)

// Action is a function to be performed in a retriable manner.
type Action func() error

// Retrier retries the provided action with a fixed set of strategies.
type Retrier interface {
	Retry(action Action) (uint, error)
	RetryContext(ctx context.Context, action Action) (uint, error)
}

type retrier struct {
	strategies []Strategy
}

// NewRetrier returns a Retrier bound to the provided strategies. With no
// strategies the retrier retries until the action succeeds.
func NewRetrier(strategies ...Strategy) Retrier {
	return &retrier{
		strategies: strategies,
	}
}

func (r *retrier) Retry(action Action) (uint, error) {
	return Retry(action, r.strategies...)
}

func (r *retrier) RetryContext(ctx context.Context, action Action) (uint, error) {
	return RetryContext(ctx, action, r.strategies...)
}

// Retry is RetryContext without cancellation.
func Retry(action Action, strategies ...Strategy) (uint, error) {
	return RetryContext(context.Background(), action, strategies...)
}

// RetryContext executes action until it succeeds, a strategy declines another
// attempt, or ctx is done. It returns the number of attempts made along with
// the last error observed.
//
// Strategies run in order after each failure, so strategies that sleep should
// be listed last.
func RetryContext(ctx context.Context, action Action, strategies ...Strategy) (uint, error) {
	var attempts uint
	for {
		if err := ctx.Err(); err != nil {
			return attempts, err
		}

		attempts++
		err := action()
		if err == nil {
			return attempts, nil
		}

		for _, s := range strategies {
			if !s(attempts, err) {
				return attempts, err
			}
		}

		if ctx.Err() != nil {
			return attempts, err
		}
	}
}
