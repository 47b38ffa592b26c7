package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type TradeStatus string

const (
	TradePending TradeStatus = "pending"
	TradeSettled TradeStatus = "settled"
	TradeFailed  TradeStatus = "failed"
)

// Trade is produced by the trading layer. Settlement only reads it and
// updates Status and CustodialTransferID.
type Trade struct {
	TradeID             string
	BuyerID             string
	SellerID            string
	ProductID           string
	Quantity            int
	PricePerShare       decimal.Decimal
	Status              TradeStatus
	CustodialTransferID string
	CreatedAt           time.Time
}
