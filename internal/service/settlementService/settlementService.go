package settlementService

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/piq110/capcore-backend-sub001/data/repository"
	"github.com/piq110/capcore-backend-sub001/internal/externalApi"
	"github.com/piq110/capcore-backend-sub001/internal/metrics"
	"github.com/piq110/capcore-backend-sub001/internal/model"
	"github.com/piq110/capcore-backend-sub001/internal/model/custodianModel"
	"github.com/piq110/capcore-backend-sub001/internal/service"
	"github.com/piq110/capcore-backend-sub001/utils"
	"github.com/shopspring/decimal"
)

type CustodianApi interface {
	Initiate(ctx context.Context, req custodianModel.TransferRequest) (custodianModel.InitiateResult, error)
	Submit(ctx context.Context, reference string) (custodianModel.SubmitResult, error)
	Confirm(ctx context.Context, reference string) error
	Settle(ctx context.Context, reference string) error
	GetBalances(ctx context.Context, accountFilter string) ([]custodianModel.Balance, error)
}

type Ledger interface {
	Transfer(ctx context.Context, fromOwner, toOwner, productID string, quantity int, transferRef string) error
	Balance(ctx context.Context, ownerID, productID string) (int, error)
}

type Cache interface {
	GetPortfolio(ctx context.Context, userID string) (model.Portfolio, error)
	SetPortfolio(ctx context.Context, portfolio model.Portfolio) error
	FlushPortfolios(ctx context.Context, userIDs ...string) error
}

type Alerter interface {
	Alert(ctx context.Context, message string) error
}

type Repository interface {
	WithinTransaction(ctx context.Context, tFunc func(ctx context.Context) error) error

	GetTrade(ctx context.Context, tradeID string) (model.Trade, error)
	UpdateTradeStatus(ctx context.Context, tradeID string, from, to model.TradeStatus) error
	SetTradeTransfer(ctx context.Context, tradeID, transferID string) error

	InsertTransfer(ctx context.Context, transfer model.CustodialTransfer) error
	GetTransfer(ctx context.Context, transferID string) (model.CustodialTransfer, error)
	SetCustodianReference(ctx context.Context, transferID, reference string, metadata model.TransferMetadata) error
	UpdateTransferStatus(ctx context.Context, transferID string, from, to model.TransferStatus, reason string) error

	GetHolding(ctx context.Context, userID, productID string) (model.PortfolioHolding, error)
	GetHoldings(ctx context.Context, userID string) ([]model.PortfolioHolding, error)
	ApplyHoldingDelta(ctx context.Context, userID, productID string, quantityDelta int, costBasisDelta decimal.Decimal) error

	InsertWorkflow(ctx context.Context, workflowID, tradeID string) error
	SetWorkflowTransfer(ctx context.Context, workflowID, transferID string) error
	UpdateWorkflowStatus(ctx context.Context, workflowID string, status model.WorkflowStatus) error
	InsertWorkflowStep(ctx context.Context, workflowID, step string) error
	CompleteWorkflowStep(ctx context.Context, workflowID, step string, status model.StepStatus, stepErr string) error
	GetWorkflow(ctx context.Context, workflowID string) (model.SettlementWorkflow, error)
}

// SettlementService is the only writer of custodial transfer state. Every
// transition goes through a conditional update keyed on the status the
// caller observed, so a stale orchestrator or concurrent monitor tick fails
// its transition instead of corrupting state.
type SettlementService struct {
	repo         Repository
	ledger       Ledger
	custodianApi CustodianApi
	cache        Cache
	alerter      Alerter
}

func New(repo Repository, ledger Ledger, custodianApi CustodianApi, cache Cache, alerter Alerter) *SettlementService {
	return &SettlementService{
		repo:         repo,
		ledger:       ledger,
		custodianApi: custodianApi,
		cache:        cache,
		alerter:      alerter,
	}
}

// custodianAccount maps a platform user to their custodian account number.
func custodianAccount(userID string) string {
	return "acct-" + userID
}

func (s *SettlementService) alert(ctx context.Context, message string) {
	if s.alerter == nil {
		return
	}
	if err := s.alerter.Alert(ctx, message); err != nil {
		slog.Error("failed to deliver alert", slog.String("err", err.Error()), slog.String("message", message))
	}
}

// transition applies one legal state change. Illegal targets and lost races
// both come back as ErrInvalidTransferState with status untouched.
func (s *SettlementService) transition(ctx context.Context, transfer model.CustodialTransfer, to model.TransferStatus, reason string) error {
	if !transfer.Status.CanTransition(to) {
		metrics.InvalidTransitions.Inc()
		slog.Error(
			"illegal transfer transition attempted",
			slog.String("rqID", utils.GetRequestIDFromCtx(ctx)),
			slog.String("transferID", transfer.TransferID),
			slog.String("from", string(transfer.Status)),
			slog.String("to", string(to)),
		)
		return service.ErrInvalidTransferState
	}

	err := s.repo.UpdateTransferStatus(ctx, transfer.TransferID, transfer.Status, to, reason)
	if err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			metrics.InvalidTransitions.Inc()
			return service.ErrInvalidTransferState
		}
		return err
	}

	metrics.TransferTransitions.WithLabelValues(string(transfer.Status), string(to)).Inc()
	return nil
}

// Submit moves a pending transfer to submitted.
func (s *SettlementService) Submit(ctx context.Context, transferID string) error {
	transfer, err := s.repo.GetTransfer(ctx, transferID)
	if err != nil {
		return err
	}
	return s.transition(ctx, transfer, model.TransferSubmitted, "")
}

// Confirm moves a submitted transfer to confirmed.
func (s *SettlementService) Confirm(ctx context.Context, transferID string) error {
	transfer, err := s.repo.GetTransfer(ctx, transferID)
	if err != nil {
		return err
	}
	return s.transition(ctx, transfer, model.TransferConfirmed, "")
}

// Fail moves an open transfer to failed and marks the trade failed. The two
// writes share one transaction.
func (s *SettlementService) Fail(ctx context.Context, transferID, reason string) error {
	transfer, err := s.repo.GetTransfer(ctx, transferID)
	if err != nil {
		return err
	}

	return s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.transition(ctx, transfer, model.TransferFailed, reason); err != nil {
			return err
		}

		err := s.repo.UpdateTradeStatus(ctx, transfer.TradeID, model.TradePending, model.TradeFailed)
		if err != nil && !errors.Is(err, repository.ErrStaleStatus) {
			// stale means the trade already left pending, nothing to do
			return err
		}
		return nil
	})
}

// Cancel moves an open transfer to cancelled. The associated trade is left
// alone: cancellation is used when the trade is already failed.
func (s *SettlementService) Cancel(ctx context.Context, transferID string) error {
	transfer, err := s.repo.GetTransfer(ctx, transferID)
	if err != nil {
		return err
	}
	return s.transition(ctx, transfer, model.TransferCancelled, "")
}

// Settle finalizes a confirmed transfer: ledger move, portfolio updates and
// the settled mark happen in one transaction or not at all. A mutation
// failure after the custodian confirmed leaves the transfer confirmed for
// retry and raises a critical alert; it is never silently marked settled.
func (s *SettlementService) Settle(ctx context.Context, transferID string) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "SettlementService.Settle"

	slog.Debug("Settle start", slog.String("rqID", rqID), slog.String("op", op), slog.String("transferID", transferID))
	defer func() {
		slog.Debug("Settle finished", slog.String("rqID", rqID), slog.String("op", op), slog.String("transferID", transferID))
	}()

	transfer, err := s.repo.GetTransfer(ctx, transferID)
	if err != nil {
		return err
	}
	if transfer.Status != model.TransferConfirmed {
		metrics.InvalidTransitions.Inc()
		return service.ErrInvalidTransferState
	}

	trade, err := s.repo.GetTrade(ctx, transfer.TradeID)
	if err != nil {
		return err
	}

	_, err = s.runSettlement(ctx, transfer, trade, nil)
	return err
}

// runSettlement executes the atomic settlement transaction, optionally
// recording workflow steps inside it so step completions roll back together
// with the mutations they describe.
func (s *SettlementService) runSettlement(ctx context.Context, transfer model.CustodialTransfer, trade model.Trade, record func(ctx context.Context, step string) error) (failedStep string, err error) {
	txErr := s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		step, err := s.applySettlement(ctx, transfer, trade, record)
		failedStep = step
		return err
	})

	if txErr != nil {
		if errors.Is(txErr, repository.ErrStaleStatus) {
			// a concurrent settle won the race, our mutations rolled back
			metrics.InvalidTransitions.Inc()
			return failedStep, service.ErrInvalidTransferState
		}
		if errors.Is(txErr, externalApi.ErrCustodianUnavailable) || errors.Is(txErr, externalApi.ErrCustodianTimeout) {
			return failedStep, txErr
		}

		metrics.SettlementRollbacks.Inc()
		s.alert(ctx, fmt.Sprintf("CRITICAL: settlement rolled back for transfer %s (trade %s): %s", transfer.TransferID, trade.TradeID, txErr))
		return failedStep, fmt.Errorf("settle transfer %s: %w: %v", transfer.TransferID, service.ErrSettlementRollback, txErr)
	}

	metrics.TransferTransitions.WithLabelValues(string(model.TransferConfirmed), string(model.TransferSettled)).Inc()
	metrics.SettlementsTotal.WithLabelValues("settled").Inc()

	if err := s.cache.FlushPortfolios(ctx, transfer.FromUserID, transfer.ToUserID); err != nil {
		slog.Error("failed to flush portfolio cache after settlement", slog.String("err", err.Error()), slog.String("transferID", transfer.TransferID))
	}

	return "", nil
}

// applySettlement holds the settlement mutation order: share register,
// portfolios, then the settled marks. Must run inside a transaction.
func (s *SettlementService) applySettlement(ctx context.Context, transfer model.CustodialTransfer, trade model.Trade, record func(ctx context.Context, step string) error) (string, error) {
	if err := s.ledger.Transfer(ctx, transfer.FromUserID, transfer.ToUserID, transfer.ProductID, transfer.Quantity, transfer.TransferID); err != nil {
		return model.StepUpdateRegister, err
	}
	if record != nil {
		if err := record(ctx, model.StepUpdateRegister); err != nil {
			return model.StepUpdateRegister, err
		}
	}

	sellerCost, err := s.sellerCostReduction(ctx, transfer)
	if err != nil {
		return model.StepUpdatePortfolios, err
	}
	if err := s.repo.ApplyHoldingDelta(ctx, transfer.FromUserID, transfer.ProductID, -transfer.Quantity, sellerCost.Neg()); err != nil {
		return model.StepUpdatePortfolios, err
	}
	buyerCost := trade.PricePerShare.Mul(decimal.NewFromInt(int64(transfer.Quantity)))
	if err := s.repo.ApplyHoldingDelta(ctx, transfer.ToUserID, transfer.ProductID, transfer.Quantity, buyerCost); err != nil {
		return model.StepUpdatePortfolios, err
	}
	if record != nil {
		if err := record(ctx, model.StepUpdatePortfolios); err != nil {
			return model.StepUpdatePortfolios, err
		}
	}

	// idempotent on the custodian side, a no-op when already settled
	if err := s.custodianApi.Settle(ctx, transfer.CustodianReference); err != nil {
		return model.StepFinalizeOwnership, err
	}
	if err := s.repo.UpdateTransferStatus(ctx, transfer.TransferID, model.TransferConfirmed, model.TransferSettled, ""); err != nil {
		return model.StepFinalizeOwnership, err
	}
	if err := s.repo.UpdateTradeStatus(ctx, trade.TradeID, model.TradePending, model.TradeSettled); err != nil {
		return model.StepFinalizeOwnership, err
	}
	if record != nil {
		if err := record(ctx, model.StepFinalizeOwnership); err != nil {
			return model.StepFinalizeOwnership, err
		}
	}

	return "", nil
}

// sellerCostReduction removes cost basis proportionally to the quantity
// leaving the seller's holding.
func (s *SettlementService) sellerCostReduction(ctx context.Context, transfer model.CustodialTransfer) (decimal.Decimal, error) {
	holding, err := s.repo.GetHolding(ctx, transfer.FromUserID, transfer.ProductID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	if holding.Quantity <= 0 {
		return decimal.Zero, nil
	}

	return holding.CostBasis.
		Mul(decimal.NewFromInt(int64(transfer.Quantity))).
		Div(decimal.NewFromInt(int64(holding.Quantity))), nil
}

func (s *SettlementService) GetTransfer(ctx context.Context, transferID string) (model.CustodialTransfer, error) {
	transfer, err := s.repo.GetTransfer(ctx, transferID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.CustodialTransfer{}, service.ErrNotFound
		}
		return model.CustodialTransfer{}, err
	}
	return transfer, nil
}

func (s *SettlementService) GetWorkflow(ctx context.Context, workflowID string) (model.SettlementWorkflow, error) {
	workflow, err := s.repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.SettlementWorkflow{}, service.ErrNotFound
		}
		return model.SettlementWorkflow{}, err
	}
	return workflow, nil
}

// GetPortfolio serves the derived view, cache first.
func (s *SettlementService) GetPortfolio(ctx context.Context, userID string) (model.Portfolio, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "SettlementService.GetPortfolio"

	if portfolio, err := s.cache.GetPortfolio(ctx, userID); err == nil {
		return portfolio, nil
	}

	holdings, err := s.repo.GetHoldings(ctx, userID)
	if err != nil {
		slog.Error("got error from repo.GetHoldings", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.Portfolio{}, err
	}

	portfolio := model.Portfolio{UserID: userID, Holdings: holdings}
	if err := s.cache.SetPortfolio(ctx, portfolio); err != nil {
		slog.Error("failed to cache portfolio", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
	}

	return portfolio, nil
}
