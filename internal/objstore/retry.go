package objstore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds the retries of a Retrying store.
type RetryPolicy struct {
	Attempts uint64        // retries after the first try
	Base     time.Duration // first backoff
	Max      time.Duration // cap on a single backoff
}

// DefaultRetryPolicy retries three times, backing off from 200ms up to 5s.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Base: 200 * time.Millisecond, Max: 5 * time.Second}

// Backoff builds the capped exponential backoff of the policy.
func (p RetryPolicy) Backoff() retry.Backoff {
	b := retry.NewExponential(p.Base)
	b = retry.WithCappedDuration(p.Max, b)
	return retry.WithMaxRetries(p.Attempts, b)
}

// Retrying wraps a Store and retries transient failures. Missing objects,
// invalid keys and cancellation are not retried.
type Retrying struct {
	next   Store
	policy RetryPolicy
}

// NewRetrying wraps next with policy.
func NewRetrying(next Store, policy RetryPolicy) *Retrying {
	return &Retrying{next: next, policy: policy}
}

// ReadJSON implements Store.
func (r *Retrying) ReadJSON(ctx context.Context, key string, v any) error {
	return r.do(ctx, "read", key, func(ctx context.Context) error {
		return r.next.ReadJSON(ctx, key, v)
	})
}

// WriteJSON implements Store.
func (r *Retrying) WriteJSON(ctx context.Context, key string, v any) error {
	return r.do(ctx, "write", key, func(ctx context.Context) error {
		return r.next.WriteJSON(ctx, key, v)
	})
}

// ListKeys implements Store.
func (r *Retrying) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := r.do(ctx, "list", prefix, func(ctx context.Context) error {
		var err error
		keys, err = r.next.ListKeys(ctx, prefix)
		return err
	})
	return keys, err
}

func (r *Retrying) do(ctx context.Context, op, key string, fn func(context.Context) error) error {
	attempt := 0
	return retry.Do(ctx, r.policy.Backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil || !transient(err) {
			return err
		}
		slog.Debug("object store operation failed, retrying",
			"op", op,
			"key", key,
			"attempt", attempt,
			"error", err,
		)
		return retry.RetryableError(err)
	})
}

func transient(err error) bool {
	var syntax *json.SyntaxError
	var typ *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntax), errors.As(err, &typ):
		return false
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidKey),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
