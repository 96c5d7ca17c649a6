package model

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrAlreadyPaidThisWeek = errors.New("allowance already paid this week")
	ErrProofRequired       = errors.New("proof required")
	ErrZeroAllowanceAmount = errors.New("weekly allowance amount is zero")
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidKind       = errors.New("invalid transaction kind")
	ErrInvalidRecurrence = errors.New("invalid recurrence")
	ErrInvalidInput      = errors.New("invalid input")
	ErrLedgerCorrupt     = errors.New("ledger corrupt")
)
