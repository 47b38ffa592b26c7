package dbModel

import (
	"database/sql"
	"time"
)

type SettlementWorkflow struct {
	WorkflowID string    `db:"workflow_id"`
	TradeID    string    `db:"trade_id"`
	TransferID string    `db:"transfer_id"`
	Status     string    `db:"status"`
	CreatedAt  time.Time `db:"dt_create"`
	UpdatedAt  time.Time `db:"dt_update"`
}

type WorkflowStep struct {
	WorkflowID  string         `db:"workflow_id"`
	Step        string         `db:"step"`
	Status      string         `db:"status"`
	Error       sql.NullString `db:"error"`
	StartedAt   time.Time      `db:"dt_create"`
	CompletedAt sql.NullTime   `db:"dt_complete"`
}
