package monitorService

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/piq110/capcore-backend-sub001/config"
	"github.com/piq110/capcore-backend-sub001/internal/metrics"
	"github.com/piq110/capcore-backend-sub001/internal/model"
	"github.com/piq110/capcore-backend-sub001/internal/model/custodianModel"
	"github.com/piq110/capcore-backend-sub001/internal/service"
	"github.com/piq110/capcore-backend-sub001/utils"
)

type CustodianApi interface {
	PollStatus(ctx context.Context, reference string) (custodianModel.StatusResult, error)
}

// Settlements is the slice of the settlement service the monitor drives.
// All state changes go through it so the conditional-update discipline
// holds even when the monitor and an orchestrator race.
type Settlements interface {
	Submit(ctx context.Context, transferID string) error
	Confirm(ctx context.Context, transferID string) error
	Settle(ctx context.Context, transferID string) error
	Fail(ctx context.Context, transferID, reason string) error
	Cancel(ctx context.Context, transferID string) error
}

type Alerter interface {
	Alert(ctx context.Context, message string) error
}

type Repository interface {
	GetTransfersByStatuses(ctx context.Context, statuses []model.TransferStatus) ([]model.CustodialTransfer, error)
	GetOpenTransfersOlderThan(ctx context.Context, cutoff time.Time) ([]model.CustodialTransfer, error)
	GetFailedTradesWithOpenTransfers(ctx context.Context) ([]model.Trade, error)
}

// MonitorService is the recovery path for transfers whose orchestration died
// mid-flight: it re-polls the custodian, advances whatever the custodian has
// already decided, flags transfers that stopped moving and cancels transfers
// orphaned by failed trades.
type MonitorService struct {
	repo           Repository
	custodianApi   CustodianApi
	settlements    Settlements
	alerter        Alerter
	stuckThreshold time.Duration
}

func New(cfg *config.Config, repo Repository, custodianApi CustodianApi, settlements Settlements, alerter Alerter) *MonitorService {
	return &MonitorService{
		repo:           repo,
		custodianApi:   custodianApi,
		settlements:    settlements,
		alerter:        alerter,
		stuckThreshold: cfg.Settlement.StuckThreshold,
	}
}

// Run executes one monitor tick: poll open transfers, flag stuck ones and
// sweep transfers left open by failed trades. Each phase tolerates the
// others failing.
func (s *MonitorService) Run(ctx context.Context) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "MonitorService.Run"

	slog.Info("monitor tick start", slog.String("rqID", rqID), slog.String("op", op))

	if err := s.PollOpenTransfers(ctx); err != nil {
		slog.Error("PollOpenTransfers failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
	}
	if err := s.FlagStuckTransfers(ctx); err != nil {
		slog.Error("FlagStuckTransfers failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
	}
	if err := s.SweepFailedTrades(ctx); err != nil {
		slog.Error("SweepFailedTrades failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
	}

	slog.Info("monitor tick completed", slog.String("rqID", rqID), slog.String("op", op))
}

// PollOpenTransfers asks the custodian for the current status of every
// non-terminal transfer and advances local state to match. A transfer
// reported failed marks the trade failed too; ledger entries are never
// touched here, settled share movements are immutable.
func (s *MonitorService) PollOpenTransfers(ctx context.Context) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "MonitorService.PollOpenTransfers"

	slog.Debug("PollOpenTransfers start", slog.String("rqID", rqID), slog.String("op", op))
	defer func() {
		if err != nil {
			slog.Error("PollOpenTransfers failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("PollOpenTransfers completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	transfers, err := s.repo.GetTransfersByStatuses(ctx, model.OpenTransferStatuses)
	if err != nil {
		return err
	}

	for _, transfer := range transfers {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if pollErr := s.pollOne(ctx, transfer); pollErr != nil {
			slog.Error(
				"transfer poll failed",
				slog.String("rqID", rqID),
				slog.String("op", op),
				slog.String("transferID", transfer.TransferID),
				slog.String("err", pollErr.Error()),
			)
		}
	}

	return nil
}

// happy-path progression order; terminal failure states are not ranked and
// always act on the local transfer
var statusRank = map[model.TransferStatus]int{
	model.TransferPending:   0,
	model.TransferSubmitted: 1,
	model.TransferConfirmed: 2,
	model.TransferSettled:   3,
}

func (s *MonitorService) pollOne(ctx context.Context, transfer model.CustodialTransfer) error {
	if transfer.CustodianReference == "" {
		// initiated locally but never registered with the custodian;
		// FlagStuckTransfers will surface it once it ages out
		return nil
	}

	status, err := s.custodianApi.PollStatus(ctx, transfer.CustodianReference)
	if err != nil {
		return err
	}

	remote := model.TransferStatus(status.Status)
	if remote == transfer.Status {
		return nil
	}
	// a stale read on the custodian side may report a status we already left;
	// there is nothing to advance, the next tick will catch up
	if rank, ok := statusRank[remote]; ok && rank < statusRank[transfer.Status] {
		slog.Debug(
			"custodian status behind local",
			slog.String("transferID", transfer.TransferID),
			slog.String("local", string(transfer.Status)),
			slog.String("remote", string(remote)),
		)
		return nil
	}

	slog.Info(
		"custodian reports transfer advanced",
		slog.String("transferID", transfer.TransferID),
		slog.String("local", string(transfer.Status)),
		slog.String("remote", string(remote)),
	)

	switch remote {
	case model.TransferSubmitted:
		err = s.settlements.Submit(ctx, transfer.TransferID)
	case model.TransferConfirmed:
		err = s.settlements.Confirm(ctx, transfer.TransferID)
	case model.TransferSettled:
		// the custodian settled before we did; run the local settlement
		// transaction to catch the ledger and portfolios up
		if transfer.Status == model.TransferSubmitted {
			if err = s.settlements.Confirm(ctx, transfer.TransferID); err != nil {
				break
			}
		}
		err = s.settlements.Settle(ctx, transfer.TransferID)
	case model.TransferFailed:
		reason := status.Message
		if reason == "" {
			reason = "custodian reported failure"
		}
		err = s.settlements.Fail(ctx, transfer.TransferID, reason)
	case model.TransferCancelled:
		err = s.settlements.Cancel(ctx, transfer.TransferID)
	default:
		return fmt.Errorf("custodian returned unknown status %q for transfer %s", status.Status, transfer.TransferID)
	}

	// another actor advancing the same transfer first is not a fault
	if errors.Is(err, service.ErrInvalidTransferState) {
		slog.Debug("transfer advanced concurrently", slog.String("transferID", transfer.TransferID))
		return nil
	}
	return err
}

// FlagStuckTransfers raises an alert for every open transfer whose status
// has not changed within the stuck threshold. Flagging never changes
// transfer state; a stuck transfer may still settle.
func (s *MonitorService) FlagStuckTransfers(ctx context.Context) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "MonitorService.FlagStuckTransfers"

	slog.Debug("FlagStuckTransfers start", slog.String("rqID", rqID), slog.String("op", op))
	defer func() {
		if err != nil {
			slog.Error("FlagStuckTransfers failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("FlagStuckTransfers completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	cutoff := time.Now().Add(-s.stuckThreshold)
	stuck, err := s.repo.GetOpenTransfersOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}

	metrics.StuckTransfers.Set(float64(len(stuck)))

	for _, transfer := range stuck {
		age := time.Since(transfer.UpdatedAt).Round(time.Minute)
		slog.Warn(
			"transfer stuck",
			slog.String("rqID", rqID),
			slog.String("op", op),
			slog.String("transferID", transfer.TransferID),
			slog.String("status", string(transfer.Status)),
			slog.String("age", age.String()),
		)
		s.alert(ctx, fmt.Sprintf(
			"stuck transfer %s (trade %s): status %s unchanged for %s",
			transfer.TransferID, transfer.TradeID, transfer.Status, age,
		))
	}

	return nil
}

// SweepFailedTrades cancels transfers still open for trades that have
// already failed, so they cannot settle shares for a dead trade.
func (s *MonitorService) SweepFailedTrades(ctx context.Context) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "MonitorService.SweepFailedTrades"

	slog.Debug("SweepFailedTrades start", slog.String("rqID", rqID), slog.String("op", op))
	defer func() {
		if err != nil {
			slog.Error("SweepFailedTrades failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("SweepFailedTrades completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	trades, err := s.repo.GetFailedTradesWithOpenTransfers(ctx)
	if err != nil {
		return err
	}

	for _, trade := range trades {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if trade.CustodialTransferID == "" {
			continue
		}
		cancelErr := s.settlements.Cancel(ctx, trade.CustodialTransferID)
		if errors.Is(cancelErr, service.ErrInvalidTransferState) {
			continue
		}
		if cancelErr != nil {
			slog.Error(
				"failed to cancel orphaned transfer",
				slog.String("rqID", rqID),
				slog.String("op", op),
				slog.String("tradeID", trade.TradeID),
				slog.String("transferID", trade.CustodialTransferID),
				slog.String("err", cancelErr.Error()),
			)
			continue
		}
		slog.Info(
			"orphaned transfer cancelled",
			slog.String("rqID", rqID),
			slog.String("op", op),
			slog.String("tradeID", trade.TradeID),
			slog.String("transferID", trade.CustodialTransferID),
		)
	}

	return nil
}

func (s *MonitorService) alert(ctx context.Context, message string) {
	if s.alerter == nil {
		return
	}
	if err := s.alerter.Alert(ctx, message); err != nil {
		slog.Error("failed to deliver alert", slog.String("err", err.Error()), slog.String("message", message))
	}
}
