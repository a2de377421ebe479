package gateway

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Event is one internal payment event translated from a provider webhook.
// The reconciler consumes these and never sees provider payload shapes.
type Event interface {
	ExternalTxn() string
}

type PaymentSucceeded struct {
	OrderRef      string
	ExternalTxnID string
	Amount        decimal.Decimal
	Currency      string
	Raw           []byte
}

func (e PaymentSucceeded) ExternalTxn() string { return e.ExternalTxnID }

func (e PaymentSucceeded) AmountCents() int64 {
	return e.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

type PaymentFailed struct {
	OrderRef      string
	ExternalTxnID string
	Reason        string
	Raw           []byte
}

func (e PaymentFailed) ExternalTxn() string { return e.ExternalTxnID }

type ChargeDisputed struct {
	ExternalTxnID string
	Raw           []byte
}

func (e ChargeDisputed) ExternalTxn() string { return e.ExternalTxnID }

type OpenRequest struct {
	OrderID       string
	AmountCents   int64
	Currency      string
	CustomerEmail string
	Description   string
}

type OpenResult struct {
	ProviderRef string
	RedirectURL string
}

// Provider opens payment requests with an external processor and translates
// its webhook payloads into internal events. Translate must verify payload
// authenticity before looking at any content and fail closed on mismatch.
type Provider interface {
	Name() string
	Open(ctx context.Context, req OpenRequest) (OpenResult, error)
	Translate(body []byte, signature string) (Event, error)
}

// Registry holds the configured providers keyed by name.
type Registry struct {
	providers map[string]Provider
	primary   string
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
	if r.primary == "" {
		r.primary = p.Name()
	}
}

func (r *Registry) Get(name string) (Provider, error) {
	if name == "" {
		name = r.primary
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unsupported payment provider: %s", name)
	}
	return p, nil
}

func (r *Registry) Primary() (Provider, error) {
	return r.Get(r.primary)
}
