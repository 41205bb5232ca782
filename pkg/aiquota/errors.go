package aiquota

import "errors"

var (
	// ErrStorageUnavailable is returned when the ledger store cannot be reached.
	// Consume callers must treat it as a denial.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidKind is returned for an unknown usage kind
	ErrInvalidKind = errors.New("invalid usage kind")

	// ErrInvalidUserID is returned when the user id is empty
	ErrInvalidUserID = errors.New("invalid user id")

	// ErrInvalidPolicy is returned by NewManager for a malformed policy table
	ErrInvalidPolicy = errors.New("invalid tier policy")

	// ErrInvalidWindow is returned for an unknown reset window
	ErrInvalidWindow = errors.New("invalid reset window")
)
