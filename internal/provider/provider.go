// Package provider holds the settlement provider contract and its
// implementations: an HTTP JSON client and a deterministic sandbox.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"mass-payments/internal/models"
)

type Status string

const (
	StatusSettled  Status = "settled"
	StatusPending  Status = "pending"
	StatusRejected Status = "rejected"
	StatusCanceled Status = "cancelled"
	StatusUnknown  Status = "unknown"
)

var (
	ErrUnavailable      = errors.New("settlement provider unavailable")
	ErrTimeout          = errors.New("settlement provider timed out")
	ErrAlreadySettled   = errors.New("payment already settled")
	ErrUnknownTxn       = errors.New("unknown transaction")
	ErrProviderNotFound = errors.New("no settlement provider for corridor")
)

// Result is what a provider reports for one executed instruction.
type Result struct {
	TransactionID string `json:"transaction_id"`
	Status        Status `json:"status"`
	Reason        string `json:"reason,omitempty"`
}

// Provider moves money for one corridor. Execute must be idempotent on the
// instruction id.
type Provider interface {
	Name() string
	Execute(ctx context.Context, inst models.PaymentInstruction) (Result, error)
	QueryStatus(ctx context.Context, transactionID string) (Status, error)
	Cancel(ctx context.Context, transactionID string) error
}

// Registry maps corridor provider names to implementations.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	fallback  Provider
}

func NewRegistry(fallback Provider) *Registry {
	return &Registry{providers: make(map[string]Provider), fallback: fallback}
}

func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Resolve returns the provider registered under name, or the fallback.
func (r *Registry) Resolve(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, name)
}
