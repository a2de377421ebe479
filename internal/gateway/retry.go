package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/ivmarkov/ticketflow/internal/domain"
)

// RetryProvider re-issues transient Open failures with a linear backoff
// before the caller sees ErrGatewayUnavailable. Permanent errors (declines,
// bad requests) surface immediately. Translate passes through untouched.
type RetryProvider struct {
	Provider
	maxAttempts int
	backoff     time.Duration
}

func WithRetry(p Provider, maxAttempts int) *RetryProvider {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &RetryProvider{
		Provider:    p,
		maxAttempts: maxAttempts,
		backoff:     500 * time.Millisecond,
	}
}

func (r *RetryProvider) Open(ctx context.Context, req OpenRequest) (OpenResult, error) {
	var lastErr error

	for i := 0; i < r.maxAttempts; i++ {
		res, err := r.Provider.Open(ctx, req)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, domain.ErrGatewayUnavailable) {
			return OpenResult{}, err
		}

		lastErr = err
		if i < r.maxAttempts-1 {
			select {
			case <-ctx.Done():
				return OpenResult{}, ctx.Err()
			case <-time.After(time.Duration(i+1) * r.backoff):
			}
		}
	}

	return OpenResult{}, lastErr
}
