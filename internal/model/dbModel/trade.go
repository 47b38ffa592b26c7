package dbModel

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

type Trade struct {
	TradeID             string          `db:"trade_id"`
	BuyerID             string          `db:"buyer_id"`
	SellerID            string          `db:"seller_id"`
	ProductID           string          `db:"product_id"`
	Quantity            int             `db:"quantity"`
	PricePerShare       decimal.Decimal `db:"price_per_share"`
	Status              string          `db:"status"`
	CustodialTransferID sql.NullString  `db:"custodial_transfer_id"`
	CreatedAt           time.Time       `db:"dt_create"`
}
