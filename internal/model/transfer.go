package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferStatus is the closed set of custodial transfer states. The same
// vocabulary is used by the custodian's status reports.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferSubmitted TransferStatus = "submitted"
	TransferConfirmed TransferStatus = "confirmed"
	TransferSettled   TransferStatus = "settled"
	TransferFailed    TransferStatus = "failed"
	TransferCancelled TransferStatus = "cancelled"
)

// transitions holds every legal state change. Anything not listed here is
// rejected with service.ErrInvalidTransferState.
var transitions = map[TransferStatus][]TransferStatus{
	TransferPending:   {TransferSubmitted, TransferFailed, TransferCancelled},
	TransferSubmitted: {TransferConfirmed, TransferFailed, TransferCancelled},
	TransferConfirmed: {TransferSettled, TransferFailed, TransferCancelled},
	TransferSettled:   {},
	TransferFailed:    {},
	TransferCancelled: {},
}

func (s TransferStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s TransferStatus) IsTerminal() bool {
	return s == TransferSettled || s == TransferFailed || s == TransferCancelled
}

// CanTransition reports whether s -> to is a legal state change.
func (s TransferStatus) CanTransition(to TransferStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// OpenTransferStatuses are the non-terminal states swept by the monitor.
var OpenTransferStatuses = []TransferStatus{TransferPending, TransferSubmitted, TransferConfirmed}

type TransferMetadata struct {
	FromAccount  string          `json:"fromAccount,omitempty"`
	ToAccount    string          `json:"toAccount,omitempty"`
	Instructions string          `json:"instructions,omitempty"`
	Fees         decimal.Decimal `json:"fees,omitempty"`
}

type CustodialTransfer struct {
	TransferID         string
	TradeID            string
	FromUserID         string
	ToUserID           string
	ProductID          string
	Quantity           int
	Status             TransferStatus
	CustodianReference string
	FailureReason      string
	Metadata           TransferMetadata
	SubmittedAt        *time.Time
	ConfirmedAt        *time.Time
	SettledAt          *time.Time
	FailedAt           *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
