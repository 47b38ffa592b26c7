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
)

func (r *Postgres) GetTrade(ctx context.Context, tradeID string) (trade model.Trade, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetTrade"
	query := `
		SELECT trade_id, buyer_id, seller_id, product_id, quantity, price_per_share, status, custodial_transfer_id, dt_create
		FROM trades
		WHERE trade_id = $1
		`

	slog.Debug("GetTrade start", slog.String("rqID", rqID), slog.String("op", op), slog.String("tradeID", tradeID))
	defer func() {
		if err != nil {
			slog.Error("GetTrade failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetTrade completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	dbTrade := dbModel.Trade{}
	err = r.txOrDb(ctx).QueryRowxContext(ctx, query, tradeID).StructScan(&dbTrade)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Trade{}, repository.ErrNotFound
		}
		return model.Trade{}, err
	}

	return dbConverter.ConvertTrade(dbTrade), nil
}

// UpdateTradeStatus is conditional on the current status so concurrent
// writers cannot overwrite each other's terminal state.
func (r *Postgres) UpdateTradeStatus(ctx context.Context, tradeID string, from, to model.TradeStatus) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.UpdateTradeStatus"
	query := `
		UPDATE trades
		SET status = $1
		WHERE trade_id = $2
		AND status = $3
		`

	slog.Debug("UpdateTradeStatus start", slog.String("rqID", rqID), slog.String("op", op), slog.String("tradeID", tradeID), slog.String("from", string(from)), slog.String("to", string(to)))
	defer func() {
		if err != nil {
			slog.Error("UpdateTradeStatus failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("UpdateTradeStatus completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	res, err := r.txOrDb(ctx).ExecContext(ctx, query, to, tradeID, from)
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

func (r *Postgres) SetTradeTransfer(ctx context.Context, tradeID, transferID string) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.SetTradeTransfer"
	query := `
		UPDATE trades
		SET custodial_transfer_id = $1
		WHERE trade_id = $2
		`

	slog.Debug("SetTradeTransfer start", slog.String("rqID", rqID), slog.String("op", op), slog.String("tradeID", tradeID), slog.String("transferID", transferID))
	defer func() {
		if err != nil {
			slog.Error("SetTradeTransfer failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("SetTradeTransfer completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.txOrDb(ctx).ExecContext(ctx, query, transferID, tradeID)
	if err != nil {
		return err
	}

	return nil
}

// GetFailedTradesWithOpenTransfers returns trades already marked failed whose
// custodial transfer is still in a non-terminal state.
func (r *Postgres) GetFailedTradesWithOpenTransfers(ctx context.Context) (trades []model.Trade, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetFailedTradesWithOpenTransfers"
	query := `
		SELECT t.trade_id, t.buyer_id, t.seller_id, t.product_id, t.quantity, t.price_per_share, t.status, t.custodial_transfer_id, t.dt_create
		FROM trades t
		JOIN custodial_transfers ct ON ct.transfer_id = t.custodial_transfer_id
		WHERE t.status = 'failed'
		AND ct.status IN ('pending', 'submitted', 'confirmed')
		`

	slog.Debug("GetFailedTradesWithOpenTransfers start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetFailedTradesWithOpenTransfers failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetFailedTradesWithOpenTransfers completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var dbTrade dbModel.Trade
		err = rows.StructScan(&dbTrade)
		if err != nil {
			return nil, err
		}
		trades = append(trades, dbConverter.ConvertTrade(dbTrade))
	}

	return trades, nil
}
