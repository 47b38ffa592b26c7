package service

import "errors"

var (
	ErrNotFound = errors.New("error not found")

	// ErrInsufficientShares: seller's active ledger quantity is below the
	// requested amount. Business-rule violation, surfaced to the caller, no
	// retry.
	ErrInsufficientShares = errors.New("error insufficient shares")

	// ErrOwnershipMismatch: the ledger and the custodian disagree before the
	// transfer even starts. Blocks initiation, needs manual reconciliation.
	ErrOwnershipMismatch = errors.New("error ownership mismatch")

	// ErrInvalidTransferState: a transition outside the legal table was
	// attempted, or a concurrent writer got there first.
	ErrInvalidTransferState = errors.New("error invalid transfer state")

	// ErrTransferInProgress: a trade already has a non-terminal transfer;
	// the orchestrator refuses to start a duplicate pipeline.
	ErrTransferInProgress = errors.New("error transfer already in progress")

	// ErrTradeNotPending: settlement was requested for a trade already in a
	// terminal status.
	ErrTradeNotPending = errors.New("error trade is not pending")

	// ErrSettlementRollback: the ledger/portfolio mutation failed after the
	// custodian confirmed. The transfer stays confirmed and settlement is
	// retried, never silently marked settled.
	ErrSettlementRollback = errors.New("error settlement rolled back")
)
