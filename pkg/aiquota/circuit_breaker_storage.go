package aiquota

import (
	"context"
)

// CircuitBreakerStorage wraps a Storage implementation with circuit breaker protection.
type CircuitBreakerStorage struct {
	storage Storage
	cb      CircuitBreaker
}

// NewCircuitBreakerStorage creates a new storage wrapper with circuit breaker.
func NewCircuitBreakerStorage(storage Storage, cb CircuitBreaker) *CircuitBreakerStorage {
	return &CircuitBreakerStorage{storage: storage, cb: cb}
}

func (s *CircuitBreakerStorage) GetUsage(ctx context.Context, userID, windowKey string) (*Usage, error) {
	var usage *Usage
	err := s.cb.Execute(ctx, func() error {
		var e error
		usage, e = s.storage.GetUsage(ctx, userID, windowKey)
		return e
	})
	return usage, err
}

func (s *CircuitBreakerStorage) ConsumeUsage(ctx context.Context, req *ConsumeRequest) (*ConsumeOutcome, error) {
	var outcome *ConsumeOutcome
	err := s.cb.Execute(ctx, func() error {
		var e error
		outcome, e = s.storage.ConsumeUsage(ctx, req)
		return e
	})
	return outcome, err
}
