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

func (r *Postgres) GetHolding(ctx context.Context, userID, productID string) (holding model.PortfolioHolding, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetHolding"
	query := `
		SELECT user_id, product_id, quantity, cost_basis
		FROM portfolios
		WHERE user_id = $1
		AND product_id = $2
		`

	slog.Debug("GetHolding start", slog.String("rqID", rqID), slog.String("op", op), slog.String("userID", userID), slog.String("productID", productID))
	defer func() {
		if err != nil {
			slog.Error("GetHolding failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetHolding completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	dbHolding := dbModel.PortfolioHolding{}
	err = r.txOrDb(ctx).QueryRowxContext(ctx, query, userID, productID).StructScan(&dbHolding)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PortfolioHolding{}, repository.ErrNotFound
		}
		return model.PortfolioHolding{}, err
	}

	return dbConverter.ConvertHolding(dbHolding), nil
}

func (r *Postgres) GetHoldings(ctx context.Context, userID string) (holdings []model.PortfolioHolding, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetHoldings"
	query := `
		SELECT user_id, product_id, quantity, cost_basis
		FROM portfolios
		WHERE user_id = $1
		ORDER BY product_id
		`

	slog.Debug("GetHoldings start", slog.String("rqID", rqID), slog.String("op", op), slog.String("userID", userID))
	defer func() {
		if err != nil {
			slog.Error("GetHoldings failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetHoldings completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var dbHolding dbModel.PortfolioHolding
		err = rows.StructScan(&dbHolding)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, dbConverter.ConvertHolding(dbHolding))
	}

	return holdings, nil
}

// ApplyHoldingDelta shifts a user's derived position by the given amounts,
// creating the row when missing. A decrement that would take the quantity
// below zero matches no row and returns ErrNegativeQuantity: the ledger and
// portfolio already disagree, and the surrounding transaction must not
// commit half a settlement.
func (r *Postgres) ApplyHoldingDelta(ctx context.Context, userID, productID string, quantityDelta int, costBasisDelta decimal.Decimal) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.ApplyHoldingDelta"
	query := `
		INSERT INTO portfolios(user_id, product_id, quantity, cost_basis)
		VALUES($1, $2, $3, $4)
		ON CONFLICT (user_id, product_id) DO UPDATE
		SET
			quantity = portfolios.quantity + EXCLUDED.quantity,
			cost_basis = portfolios.cost_basis + EXCLUDED.cost_basis
		WHERE portfolios.quantity + EXCLUDED.quantity >= 0
		`

	slog.Debug("ApplyHoldingDelta start", slog.String("rqID", rqID), slog.String("op", op), slog.String("userID", userID), slog.String("productID", productID), slog.Int("quantityDelta", quantityDelta))
	defer func() {
		if err != nil {
			slog.Error("ApplyHoldingDelta failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("ApplyHoldingDelta completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	res, err := r.txOrDb(ctx).ExecContext(ctx, query, userID, productID, quantityDelta, costBasisDelta)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrNegativeQuantity
	}

	return nil
}

// SetHoldingQuantity overwrites the derived quantity. Used only by
// reconciliation auto-correction.
func (r *Postgres) SetHoldingQuantity(ctx context.Context, userID, productID string, quantity int) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.SetHoldingQuantity"
	query := `
		INSERT INTO portfolios(user_id, product_id, quantity, cost_basis)
		VALUES($1, $2, $3, 0)
		ON CONFLICT (user_id, product_id) DO UPDATE
		SET quantity = EXCLUDED.quantity
		`

	slog.Debug("SetHoldingQuantity start", slog.String("rqID", rqID), slog.String("op", op), slog.String("userID", userID), slog.String("productID", productID), slog.Int("quantity", quantity))
	defer func() {
		if err != nil {
			slog.Error("SetHoldingQuantity failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("SetHoldingQuantity completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.txOrDb(ctx).ExecContext(ctx, query, userID, productID, quantity)
	if err != nil {
		return err
	}

	return nil
}

func (r *Postgres) GetUsersWithHoldings(ctx context.Context) (userIDs []string, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetUsersWithHoldings"
	query := `
		SELECT DISTINCT user_id
		FROM portfolios
		ORDER BY user_id
		`

	slog.Debug("GetUsersWithHoldings start", slog.String("rqID", rqID), slog.String("op", op))
	defer func() {
		if err != nil {
			slog.Error("GetUsersWithHoldings failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetUsersWithHoldings completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.txOrDb(ctx).SelectContext(ctx, &userIDs, query)
	if err != nil {
		return nil, err
	}

	return userIDs, nil
}
