package custody

import "errors"

var (
	// ErrNotFound is returned when no record exists for the supplied id.
	ErrNotFound = errors.New("custody: record not found")
	// ErrInvalidStage rejects operations attempted from the wrong
	// lifecycle stage, including decodes of unrecognised stage codes.
	ErrInvalidStage = errors.New("custody: invalid stage")
	// ErrInsufficientFunds rejects amounts exceeding the custodied balance
	// or the payer's external balance.
	ErrInsufficientFunds = errors.New("custody: insufficient funds")
	// ErrUnauthorized rejects callers that do not hold the expected role.
	ErrUnauthorized = errors.New("custody: unauthorized caller")
	// ErrInvalidAmount rejects zero, negative or out-of-range quantities.
	ErrInvalidAmount = errors.New("custody: invalid amount")
	// ErrDuplicateRecord rejects initialisation over an existing record.
	ErrDuplicateRecord = errors.New("custody: record already exists")
	// ErrAlreadySettled rejects a second settlement of the same record.
	ErrAlreadySettled = errors.New("custody: record already settled")
	// ErrLedgerTransfer wraps an underlying ledger failure; the operation
	// aborts with no state change.
	ErrLedgerTransfer = errors.New("custody: ledger transfer failed")
	// ErrInvalidAsset rejects malformed asset references.
	ErrInvalidAsset = errors.New("custody: invalid asset")
	// ErrOracleNotConfigured rejects flip settlement when no fairness
	// oracle has been installed.
	ErrOracleNotConfigured = errors.New("custody: winner oracle not configured")
)
