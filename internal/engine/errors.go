package engine

import "errors"

// Error taxonomy of the transaction engine. Insufficient-stock and
// unknown-asset failures reuse the sentinels of the ledger and asset
// registry; everything here is rejected before any mutation survives the
// call (the enclosing database transaction rolls back).
var (
	// ErrValidation marks a malformed request
	ErrValidation = errors.New("invalid transaction request")

	// ErrOverdueBlocked hard-blocks DISTRIBUTE creation while the
	// destination unit holds unreturned overdue stock
	ErrOverdueBlocked = errors.New("destination unit holds overdue stock")

	// ErrNotFound marks an unknown transaction id
	ErrNotFound = errors.New("transaction not found")

	// ErrAlreadyCompleted rejects a second validation of a completed
	// transaction
	ErrAlreadyCompleted = errors.New("transaction already completed")

	// ErrInvalidTransition rejects any status change outside the
	// transition table
	ErrInvalidTransition = errors.New("transaction status transition not allowed")
)
