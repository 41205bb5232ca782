package aiquota

import (
	"context"
)

// Storage defines the interface for quota ledger persistence.
// Implementations shared by several server instances must make ConsumeUsage a
// single atomic operation at the storage level.
type Storage interface {
	// GetUsage retrieves the ledger row for a window.
	// Returns nil (not an error) when no row exists yet.
	GetUsage(ctx context.Context, userID, windowKey string) (*Usage, error)

	// ConsumeUsage ensures the row exists, then atomically increments the
	// counter for req.Kind only if it is below req.Limit.
	// The returned Usage holds the counters after the operation.
	ConsumeUsage(ctx context.Context, req *ConsumeRequest) (*ConsumeOutcome, error)
}

// ConsumeRequest represents a single-unit consumption against one ledger row
type ConsumeRequest struct {
	UserID    string
	WindowKey string
	Kind      UsageKind
	Limit     int
}

// ConsumeOutcome is the storage-level result of ConsumeUsage
type ConsumeOutcome struct {
	Allowed bool
	Usage   Usage
}
