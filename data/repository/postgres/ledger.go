package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/piq110/capcore-backend-sub001/data/repository"
	"github.com/piq110/capcore-backend-sub001/internal/converter/dbConverter"
	"github.com/piq110/capcore-backend-sub001/internal/model"
	"github.com/piq110/capcore-backend-sub001/internal/model/dbModel"
	"github.com/piq110/capcore-backend-sub001/utils"
	"github.com/shopspring/decimal"
)

// GetActiveEntriesForUpdate row-locks the owner's active parcels so a
// concurrent transfer for the same (owner, product) serializes behind us.
// Must be called inside WithinTransaction.
func (r *Postgres) GetActiveEntriesForUpdate(ctx context.Context, ownerID, productID string) (entries []model.LedgerEntry, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetActiveEntriesForUpdate"
	query := `
		SELECT entry_id, owner_id, product_id, quantity, status, acquisition_price, dt_create
		FROM ledger_entries
		WHERE owner_id = $1
		AND product_id = $2
		AND status = 'active'
		ORDER BY entry_id
		FOR UPDATE
		`

	slog.Debug("GetActiveEntriesForUpdate start", slog.String("rqID", rqID), slog.String("op", op), slog.String("ownerID", ownerID), slog.String("productID", productID))
	defer func() {
		if err != nil {
			slog.Error("GetActiveEntriesForUpdate failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetActiveEntriesForUpdate completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, ownerID, productID)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var dbEntry dbModel.LedgerEntry
		err = rows.StructScan(&dbEntry)
		if err != nil {
			return nil, err
		}
		entries = append(entries, dbConverter.ConvertLedgerEntry(dbEntry))
	}

	return entries, nil
}

func (r *Postgres) GetActiveQuantity(ctx context.Context, ownerID, productID string) (quantity int, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetActiveQuantity"
	query := `
		SELECT COALESCE(SUM(quantity), 0)
		FROM ledger_entries
		WHERE owner_id = $1
		AND product_id = $2
		AND status = 'active'
		`

	slog.Debug("GetActiveQuantity start", slog.String("rqID", rqID), slog.String("op", op), slog.String("ownerID", ownerID), slog.String("productID", productID))
	defer func() {
		if err != nil {
			slog.Error("GetActiveQuantity failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetActiveQuantity completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.txOrDb(ctx).QueryRowContext(ctx, query, ownerID, productID).Scan(&quantity)
	if err != nil {
		return 0, err
	}

	return quantity, nil
}

// DecrementEntry drains quantity from one parcel, marking it transferred
// when it reaches zero. Entries are never deleted.
func (r *Postgres) DecrementEntry(ctx context.Context, entryID int64, quantity int) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.DecrementEntry"
	query := `
		UPDATE ledger_entries
		SET
			quantity = quantity - $1,
			status = CASE WHEN quantity - $1 = 0 THEN 'transferred' ELSE status END
		WHERE entry_id = $2
		AND status = 'active'
		AND quantity >= $1
		`

	slog.Debug("DecrementEntry start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("entryID", entryID), slog.Int("quantity", quantity))
	defer func() {
		if err != nil {
			slog.Error("DecrementEntry failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("DecrementEntry completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	res, err := r.txOrDb(ctx).ExecContext(ctx, query, quantity, entryID)
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

// UpsertActiveEntry adds quantity to the destination owner's active parcel
// for the product, creating one when none exists. An existing parcel gets
// the quantity-weighted blend of its price and the incoming one. Returns
// the entry id for history bookkeeping.
func (r *Postgres) UpsertActiveEntry(ctx context.Context, ownerID, productID string, quantity int, acquisitionPrice decimal.Decimal) (entryID int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.UpsertActiveEntry"
	updateQuery := `
		UPDATE ledger_entries
		SET
			acquisition_price = (acquisition_price * quantity + $4 * $1) / (quantity + $1),
			quantity = quantity + $1
		WHERE entry_id = (
			SELECT entry_id FROM ledger_entries
			WHERE owner_id = $2 AND product_id = $3 AND status = 'active'
			ORDER BY entry_id
			LIMIT 1
			FOR UPDATE
		)
		RETURNING entry_id
		`
	insertQuery := `
		INSERT INTO ledger_entries(owner_id, product_id, quantity, status, acquisition_price)
		VALUES($1, $2, $3, 'active', $4)
		RETURNING entry_id
		`

	slog.Debug("UpsertActiveEntry start", slog.String("rqID", rqID), slog.String("op", op), slog.String("ownerID", ownerID), slog.String("productID", productID), slog.Int("quantity", quantity))
	defer func() {
		if err != nil {
			slog.Error("UpsertActiveEntry failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("UpsertActiveEntry completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.txOrDb(ctx).QueryRowContext(ctx, updateQuery, quantity, ownerID, productID, acquisitionPrice).Scan(&entryID)
	if err == nil {
		return entryID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	err = r.txOrDb(ctx).QueryRowContext(ctx, insertQuery, ownerID, productID, quantity, acquisitionPrice).Scan(&entryID)
	if err != nil {
		return 0, err
	}

	return entryID, nil
}

func (r *Postgres) CreateEntry(ctx context.Context, ownerID, productID string, quantity int, acquisitionPrice decimal.Decimal) (entryID int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.CreateEntry"
	query := `
		INSERT INTO ledger_entries(owner_id, product_id, quantity, status, acquisition_price)
		VALUES($1, $2, $3, 'active', $4)
		RETURNING entry_id
		`

	slog.Debug("CreateEntry start", slog.String("rqID", rqID), slog.String("op", op), slog.String("ownerID", ownerID), slog.String("productID", productID), slog.Int("quantity", quantity))
	defer func() {
		if err != nil {
			slog.Error("CreateEntry failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("CreateEntry completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.txOrDb(ctx).QueryRowContext(ctx, query, ownerID, productID, quantity, acquisitionPrice).Scan(&entryID)
	if err != nil {
		return 0, err
	}

	return entryID, nil
}

func (r *Postgres) InsertTransferHistory(ctx context.Context, entryID int64, record model.TransferRecord) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.InsertTransferHistory"
	query := `
		INSERT INTO ledger_transfer_history(entry_id, transfer_id, from_id, to_id, quantity)
		VALUES($1, $2, $3, $4, $5)
		`

	slog.Debug("InsertTransferHistory start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("entryID", entryID), slog.String("transferID", record.TransferID))
	defer func() {
		if err != nil {
			slog.Error("InsertTransferHistory failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("InsertTransferHistory completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.txOrDb(ctx).ExecContext(ctx, query, entryID, record.TransferID, record.FromID, record.ToID, record.Quantity)
	if err != nil {
		return err
	}

	return nil
}

func (r *Postgres) GetTransferHistory(ctx context.Context, entryID int64) (records []model.TransferRecord, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetTransferHistory"
	query := `
		SELECT transfer_id, from_id, to_id, quantity, dt_create
		FROM ledger_transfer_history
		WHERE entry_id = $1
		ORDER BY id
		`

	slog.Debug("GetTransferHistory start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("entryID", entryID))
	defer func() {
		if err != nil {
			slog.Error("GetTransferHistory failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetTransferHistory completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, entryID)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var record model.TransferRecord
		err = rows.Scan(&record.TransferID, &record.FromID, &record.ToID, &record.Quantity, &record.CreatedAt)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, nil
}

func (r *Postgres) GetActiveProducts(ctx context.Context) (productIDs []string, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetActiveProducts"
	query := `
		SELECT DISTINCT product_id
		FROM ledger_entries
		WHERE status = 'active'
		ORDER BY product_id
		`

	slog.Debug("GetActiveProducts start", slog.String("rqID", rqID), slog.String("op", op))
	defer func() {
		if err != nil {
			slog.Error("GetActiveProducts failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetActiveProducts completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.txOrDb(ctx).SelectContext(ctx, &productIDs, query)
	if err != nil {
		return nil, err
	}

	return productIDs, nil
}
