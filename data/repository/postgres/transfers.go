package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/piq110/capcore-backend-sub001/data/repository"
	"github.com/piq110/capcore-backend-sub001/internal/converter/dbConverter"
	"github.com/piq110/capcore-backend-sub001/internal/model"
	"github.com/piq110/capcore-backend-sub001/internal/model/dbModel"
	"github.com/piq110/capcore-backend-sub001/utils"
)

// InsertTransfer creates the transfer in status pending. A partial unique
// index on trade_id over non-terminal statuses guarantees at most one live
// transfer per trade; a second insert returns ErrAlreadyExists.
func (r *Postgres) InsertTransfer(ctx context.Context, transfer model.CustodialTransfer) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.InsertTransfer"
	query := `
		INSERT INTO custodial_transfers(transfer_id, trade_id, from_user_id, to_user_id, product_id, quantity, status, metadata)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8)
		`

	slog.Debug("InsertTransfer start", slog.String("rqID", rqID), slog.String("op", op), slog.String("transferID", transfer.TransferID), slog.String("tradeID", transfer.TradeID))
	defer func() {
		if err != nil {
			slog.Error("InsertTransfer failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("InsertTransfer completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	metadata, err := json.Marshal(transfer.Metadata)
	if err != nil {
		return err
	}

	_, err = r.txOrDb(ctx).ExecContext(
		ctx,
		query,
		transfer.TransferID,
		transfer.TradeID,
		transfer.FromUserID,
		transfer.ToUserID,
		transfer.ProductID,
		transfer.Quantity,
		transfer.Status,
		metadata,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23505" { // unique_violation
				return repository.ErrAlreadyExists
			}
		}
		return err
	}

	return nil
}

func (r *Postgres) GetTransfer(ctx context.Context, transferID string) (transfer model.CustodialTransfer, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetTransfer"
	query := `
		SELECT transfer_id, trade_id, from_user_id, to_user_id, product_id, quantity, status,
			custodian_reference, failure_reason, metadata, submitted_at, confirmed_at, settled_at, failed_at, dt_create, dt_update
		FROM custodial_transfers
		WHERE transfer_id = $1
		`

	slog.Debug("GetTransfer start", slog.String("rqID", rqID), slog.String("op", op), slog.String("transferID", transferID))
	defer func() {
		if err != nil {
			slog.Error("GetTransfer failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetTransfer completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	dbTransfer := dbModel.CustodialTransfer{}
	err = r.txOrDb(ctx).QueryRowxContext(ctx, query, transferID).StructScan(&dbTransfer)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.CustodialTransfer{}, repository.ErrNotFound
		}
		return model.CustodialTransfer{}, err
	}

	return dbConverter.ConvertTransfer(dbTransfer), nil
}

func (r *Postgres) SetCustodianReference(ctx context.Context, transferID, reference string, metadata model.TransferMetadata) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.SetCustodianReference"
	query := `
		UPDATE custodial_transfers
		SET custodian_reference = $1, metadata = $2, dt_update = now()
		WHERE transfer_id = $3
		`

	slog.Debug("SetCustodianReference start", slog.String("rqID", rqID), slog.String("op", op), slog.String("transferID", transferID), slog.String("reference", reference))
	defer func() {
		if err != nil {
			slog.Error("SetCustodianReference failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("SetCustodianReference completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	raw, err := json.Marshal(metadata)
	if err != nil {
		return err
	}

	_, err = r.txOrDb(ctx).ExecContext(ctx, query, reference, raw, transferID)
	if err != nil {
		return err
	}

	return nil
}

// UpdateTransferStatus performs the compare-and-swap every transition goes
// through: the row is only touched when it still carries the expected
// status. A stale caller gets ErrStaleStatus and no state change.
func (r *Postgres) UpdateTransferStatus(ctx context.Context, transferID string, from, to model.TransferStatus, reason string) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.UpdateTransferStatus"
	query := `
		UPDATE custodial_transfers
		SET
			status = $1,
			dt_update = $3,
			failure_reason = COALESCE(NULLIF($2, ''), failure_reason),
			submitted_at = CASE WHEN $1 = 'submitted' THEN $3 ELSE submitted_at END,
			confirmed_at = CASE WHEN $1 = 'confirmed' THEN $3 ELSE confirmed_at END,
			settled_at   = CASE WHEN $1 = 'settled'   THEN $3 ELSE settled_at END,
			failed_at    = CASE WHEN $1 IN ('failed', 'cancelled') THEN $3 ELSE failed_at END
		WHERE transfer_id = $4
		AND status = $5
		`

	slog.Debug("UpdateTransferStatus start", slog.String("rqID", rqID), slog.String("op", op), slog.String("transferID", transferID), slog.String("from", string(from)), slog.String("to", string(to)))
	defer func() {
		if err != nil {
			slog.Error("UpdateTransferStatus failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("UpdateTransferStatus completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	res, err := r.txOrDb(ctx).ExecContext(ctx, query, to, reason, time.Now().UTC(), transferID, from)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrStaleStatus
	}

	return nil
}

func (r *Postgres) GetTransfersByStatuses(ctx context.Context, statuses []model.TransferStatus) (transfers []model.CustodialTransfer, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetTransfersByStatuses"
	query := `
		SELECT transfer_id, trade_id, from_user_id, to_user_id, product_id, quantity, status,
			custodian_reference, failure_reason, metadata, submitted_at, confirmed_at, settled_at, failed_at, dt_create, dt_update
		FROM custodial_transfers
		WHERE status IN (?)
		ORDER BY dt_create
		`

	slog.Debug("GetTransfersByStatuses start", slog.String("rqID", rqID), slog.String("op", op), slog.Any("statuses", statuses))
	defer func() {
		if err != nil {
			slog.Error("GetTransfersByStatuses failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetTransfersByStatuses completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	query, args, err := sqlx.In(query, statuses)
	if err != nil {
		return nil, err
	}
	query = r.txOrDb(ctx).Rebind(query)

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var dbTransfer dbModel.CustodialTransfer
		err = rows.StructScan(&dbTransfer)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, dbConverter.ConvertTransfer(dbTransfer))
	}

	return transfers, nil
}

// GetOpenTransfersOlderThan lists non-terminal transfers whose status has
// not changed since the cutoff, for stuck-transfer flagging.
func (r *Postgres) GetOpenTransfersOlderThan(ctx context.Context, cutoff time.Time) (transfers []model.CustodialTransfer, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetOpenTransfersOlderThan"
	query := `
		SELECT transfer_id, trade_id, from_user_id, to_user_id, product_id, quantity, status,
			custodian_reference, failure_reason, metadata, submitted_at, confirmed_at, settled_at, failed_at, dt_create, dt_update
		FROM custodial_transfers
		WHERE status IN ('pending', 'submitted', 'confirmed')
		AND dt_update < $1
		ORDER BY dt_update
		`

	slog.Debug("GetOpenTransfersOlderThan start", slog.String("rqID", rqID), slog.String("op", op), slog.Time("cutoff", cutoff))
	defer func() {
		if err != nil {
			slog.Error("GetOpenTransfersOlderThan failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetOpenTransfersOlderThan completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var dbTransfer dbModel.CustodialTransfer
		err = rows.StructScan(&dbTransfer)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, dbConverter.ConvertTransfer(dbTransfer))
	}

	return transfers, nil
}
