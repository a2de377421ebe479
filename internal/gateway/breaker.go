package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/ivmarkov/ticketflow/internal/domain"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateHalfOpen
	stateOpen
)

type breakerCounts struct {
	requests            uint32
	totalFailures       uint32
	consecutiveFailures uint32
}

// CircuitBreaker guards the outbound charge call so a dead provider fails
// fast instead of tying up request handlers until their timeouts lapse.
type CircuitBreaker struct {
	maxRequests  uint32
	interval     time.Duration
	timeout      time.Duration
	failureRatio float64

	mutex  sync.Mutex
	state  breakerState
	counts breakerCounts
	expiry time.Time
}

func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{
		maxRequests:  10,
		interval:     60 * time.Second,
		timeout:      30 * time.Second,
		failureRatio: 0.6,
		state:        stateClosed,
	}
}

// BreakerProvider decorates a Provider, routing Open through the breaker.
// Translate is pure local computation and passes through untouched.
type BreakerProvider struct {
	Provider
	cb *CircuitBreaker
}

func WithBreaker(p Provider) *BreakerProvider {
	return &BreakerProvider{Provider: p, cb: NewCircuitBreaker()}
}

func (b *BreakerProvider) Open(ctx context.Context, req OpenRequest) (OpenResult, error) {
	if err := b.cb.beforeRequest(); err != nil {
		return OpenResult{}, err
	}
	res, err := b.Provider.Open(ctx, req)
	b.cb.afterRequest(err == nil)
	return res, err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()
	cb.advance(now)

	if cb.state == stateOpen {
		return domain.ErrGatewayUnavailable
	}
	if cb.state == stateHalfOpen && cb.counts.requests >= cb.maxRequests {
		return domain.ErrGatewayUnavailable
	}

	cb.counts.requests++
	return nil
}

func (cb *CircuitBreaker) afterRequest(success bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if success {
		cb.counts.consecutiveFailures = 0
		if cb.state == stateHalfOpen {
			cb.state = stateClosed
			cb.counts = breakerCounts{}
			cb.expiry = time.Now().Add(cb.interval)
		}
		return
	}

	cb.counts.totalFailures++
	cb.counts.consecutiveFailures++
	if cb.readyToTrip() {
		cb.state = stateOpen
		cb.expiry = time.Now().Add(cb.timeout)
	}
}

func (cb *CircuitBreaker) readyToTrip() bool {
	if cb.counts.consecutiveFailures >= 5 {
		return true
	}
	return cb.counts.requests >= cb.maxRequests &&
		float64(cb.counts.totalFailures)/float64(cb.counts.requests) >= cb.failureRatio
}

func (cb *CircuitBreaker) advance(now time.Time) {
	switch cb.state {
	case stateClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.counts = breakerCounts{}
			cb.expiry = now.Add(cb.interval)
		}
	case stateOpen:
		if cb.expiry.Before(now) {
			cb.state = stateHalfOpen
			cb.counts = breakerCounts{}
		}
	}
}
