package custodianModel

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferRequest is the body sent to the custodian's initiate endpoint.
type TransferRequest struct {
	TransferID  string `json:"transfer_id"`
	FromAccount string `json:"from_account"`
	ToAccount   string `json:"to_account"`
	Symbol      string `json:"symbol"`
	Quantity    int    `json:"quantity"`
}

type InitiateResult struct {
	TransferID         string `json:"transfer_id"`
	CustodianReference string `json:"custodian_reference"`
}

type SubmitResult struct {
	Status                  string          `json:"status"`
	EstimatedSettlementDate *time.Time      `json:"estimated_settlement_date,omitempty"`
	Fees                    decimal.Decimal `json:"fees"`
}

type StatusResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type Balance struct {
	Account  string `json:"account"`
	Symbol   string `json:"symbol"`
	Quantity int    `json:"quantity"`
}
