package dbModel

import (
	"github.com/shopspring/decimal"
)

type PortfolioHolding struct {
	UserID    string          `db:"user_id"`
	ProductID string          `db:"product_id"`
	Quantity  int             `db:"quantity"`
	CostBasis decimal.Decimal `db:"cost_basis"`
}
