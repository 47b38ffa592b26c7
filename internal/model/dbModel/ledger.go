package dbModel

import (
	"time"

	"github.com/shopspring/decimal"
)

type LedgerEntry struct {
	EntryID          int64           `db:"entry_id"`
	OwnerID          string          `db:"owner_id"`
	ProductID        string          `db:"product_id"`
	Quantity         int             `db:"quantity"`
	Status           string          `db:"status"`
	AcquisitionPrice decimal.Decimal `db:"acquisition_price"`
	CreatedAt        time.Time       `db:"dt_create"`
}

type TransferRecord struct {
	EntryID    int64     `db:"entry_id"`
	TransferID string    `db:"transfer_id"`
	FromID     string    `db:"from_id"`
	ToID       string    `db:"to_id"`
	Quantity   int       `db:"quantity"`
	CreatedAt  time.Time `db:"dt_create"`
}
