package model

import (
	"github.com/shopspring/decimal"
)

// PortfolioHolding is the derived per-user view of one product position.
// It mirrors the ledger for fast reads and is never consulted for transfer
// eligibility (the ledger is authoritative).
type PortfolioHolding struct {
	UserID    string
	ProductID string
	Quantity  int
	CostBasis decimal.Decimal
}

type Portfolio struct {
	UserID   string
	Holdings []PortfolioHolding
}

func (p Portfolio) Quantity(productID string) int {
	for _, h := range p.Holdings {
		if h.ProductID == productID {
			return h.Quantity
		}
	}
	return 0
}
