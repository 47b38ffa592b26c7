package dbModel

import (
	"database/sql"
	"time"

	"encoding/json"
)

type CustodialTransfer struct {
	TransferID         string          `db:"transfer_id"`
	TradeID            string          `db:"trade_id"`
	FromUserID         string          `db:"from_user_id"`
	ToUserID           string          `db:"to_user_id"`
	ProductID          string          `db:"product_id"`
	Quantity           int             `db:"quantity"`
	Status             string          `db:"status"`
	CustodianReference sql.NullString  `db:"custodian_reference"`
	FailureReason      sql.NullString  `db:"failure_reason"`
	Metadata           json.RawMessage `db:"metadata"`
	SubmittedAt        sql.NullTime    `db:"submitted_at"`
	ConfirmedAt        sql.NullTime    `db:"confirmed_at"`
	SettledAt          sql.NullTime    `db:"settled_at"`
	FailedAt           sql.NullTime    `db:"failed_at"`
	CreatedAt          time.Time       `db:"dt_create"`
	UpdatedAt          time.Time       `db:"dt_update"`
}
