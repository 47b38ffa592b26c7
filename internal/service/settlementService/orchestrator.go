package settlementService

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/piq110/capcore-backend-sub001/data/repository"
	"github.com/piq110/capcore-backend-sub001/internal/metrics"
	"github.com/piq110/capcore-backend-sub001/internal/model"
	"github.com/piq110/capcore-backend-sub001/internal/model/custodianModel"
	"github.com/piq110/capcore-backend-sub001/internal/service"
	"github.com/piq110/capcore-backend-sub001/utils"
)

// SettleTrade drives the fixed settlement pipeline for one trade. A step
// failure halts the pipeline, marks the workflow failed and leaves completed
// steps' side effects in place; recovery from there is the monitor's job.
// The returned workflow always reflects the failure point, so callers never
// see a raw panic or an unexplained error.
func (s *SettlementService) SettleTrade(ctx context.Context, tradeID string) (model.SettlementWorkflow, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "SettlementService.SettleTrade"

	slog.Info("SettleTrade start", slog.String("rqID", rqID), slog.String("op", op), slog.String("tradeID", tradeID))
	defer func() {
		slog.Info("SettleTrade finished", slog.String("rqID", rqID), slog.String("op", op), slog.String("tradeID", tradeID))
	}()

	trade, err := s.repo.GetTrade(ctx, tradeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.SettlementWorkflow{}, service.ErrNotFound
		}
		return model.SettlementWorkflow{}, err
	}
	if trade.Status != model.TradePending {
		return model.SettlementWorkflow{}, fmt.Errorf("trade %s is %s: %w", tradeID, trade.Status, service.ErrTradeNotPending)
	}

	workflowID := uuid.NewString()
	if err := s.repo.InsertWorkflow(ctx, workflowID, tradeID); err != nil {
		return model.SettlementWorkflow{}, err
	}
	for _, step := range model.PipelineSteps {
		if err := s.repo.InsertWorkflowStep(ctx, workflowID, step); err != nil {
			return model.SettlementWorkflow{}, err
		}
	}

	complete := func(step string) error {
		return s.repo.CompleteWorkflowStep(ctx, workflowID, step, model.StepCompleted, "")
	}
	fail := func(step string, stepErr error) (model.SettlementWorkflow, error) {
		slog.Error(
			"settlement step failed",
			slog.String("rqID", rqID),
			slog.String("op", op),
			slog.String("tradeID", tradeID),
			slog.String("step", step),
			slog.String("err", stepErr.Error()),
		)
		if err := s.repo.CompleteWorkflowStep(ctx, workflowID, step, model.StepFailed, stepErr.Error()); err != nil {
			slog.Error("failed to record step failure", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		}
		if err := s.repo.UpdateWorkflowStatus(ctx, workflowID, model.WorkflowFailed); err != nil {
			slog.Error("failed to mark workflow failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		}
		metrics.SettlementsTotal.WithLabelValues("failed").Inc()

		workflow, err := s.repo.GetWorkflow(ctx, workflowID)
		if err != nil {
			slog.Error("failed to load workflow after step failure", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
			workflow = model.SettlementWorkflow{WorkflowID: workflowID, TradeID: tradeID, Status: model.WorkflowFailed}
		}
		return workflow, stepErr
	}

	// validate_ownership: the ledger is authoritative, a stale portfolio
	// number never makes a sale eligible
	sellerBalance, err := s.ledger.Balance(ctx, trade.SellerID, trade.ProductID)
	if err != nil {
		return fail(model.StepValidateOwnership, err)
	}
	if sellerBalance < trade.Quantity {
		return fail(model.StepValidateOwnership, service.ErrInsufficientShares)
	}
	custodianBalances, err := s.custodianApi.GetBalances(ctx, custodianAccount(trade.SellerID))
	if err != nil {
		return fail(model.StepValidateOwnership, err)
	}
	custodianQty := 0
	for _, balance := range custodianBalances {
		if balance.Symbol == trade.ProductID {
			custodianQty += balance.Quantity
		}
	}
	if custodianQty < trade.Quantity {
		return fail(model.StepValidateOwnership, fmt.Errorf("custodian holds %d, ledger holds %d: %w", custodianQty, sellerBalance, service.ErrOwnershipMismatch))
	}
	if err := complete(model.StepValidateOwnership); err != nil {
		return fail(model.StepValidateOwnership, err)
	}

	// initiate_custodial_transfer: the partial unique index on open
	// transfers makes the duplicate-pipeline check race-free
	transferID := uuid.NewString()
	metadata := model.TransferMetadata{
		FromAccount: custodianAccount(trade.SellerID),
		ToAccount:   custodianAccount(trade.BuyerID),
	}
	transfer := model.CustodialTransfer{
		TransferID: transferID,
		TradeID:    trade.TradeID,
		FromUserID: trade.SellerID,
		ToUserID:   trade.BuyerID,
		ProductID:  trade.ProductID,
		Quantity:   trade.Quantity,
		Status:     model.TransferPending,
		Metadata:   metadata,
	}
	if err := s.repo.InsertTransfer(ctx, transfer); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return fail(model.StepInitiateTransfer, service.ErrTransferInProgress)
		}
		return fail(model.StepInitiateTransfer, err)
	}
	if err := s.repo.SetTradeTransfer(ctx, tradeID, transferID); err != nil {
		return fail(model.StepInitiateTransfer, err)
	}
	if err := s.repo.SetWorkflowTransfer(ctx, workflowID, transferID); err != nil {
		return fail(model.StepInitiateTransfer, err)
	}
	initRes, err := s.custodianApi.Initiate(ctx, custodianModel.TransferRequest{
		TransferID:  transferID,
		FromAccount: metadata.FromAccount,
		ToAccount:   metadata.ToAccount,
		Symbol:      trade.ProductID,
		Quantity:    trade.Quantity,
	})
	if err != nil {
		return fail(model.StepInitiateTransfer, err)
	}
	transfer.CustodianReference = initRes.CustodianReference
	if err := s.repo.SetCustodianReference(ctx, transferID, initRes.CustodianReference, metadata); err != nil {
		return fail(model.StepInitiateTransfer, err)
	}
	if err := complete(model.StepInitiateTransfer); err != nil {
		return fail(model.StepInitiateTransfer, err)
	}

	// submit_to_custodian
	submitRes, err := s.custodianApi.Submit(ctx, transfer.CustodianReference)
	if err != nil {
		return fail(model.StepSubmitToCustodian, err)
	}
	metadata.Fees = submitRes.Fees
	if err := s.repo.SetCustodianReference(ctx, transferID, transfer.CustodianReference, metadata); err != nil {
		return fail(model.StepSubmitToCustodian, err)
	}
	if submitRes.Status == string(model.TransferFailed) {
		submitErr := fmt.Errorf("custodian rejected submission for transfer %s", transferID)
		if err := s.Fail(ctx, transferID, submitErr.Error()); err != nil {
			slog.Error("failed to fail transfer after custodian rejection", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		}
		return fail(model.StepSubmitToCustodian, submitErr)
	}
	if err := s.transition(ctx, transfer, model.TransferSubmitted, ""); err != nil {
		return fail(model.StepSubmitToCustodian, err)
	}
	transfer.Status = model.TransferSubmitted
	if err := complete(model.StepSubmitToCustodian); err != nil {
		return fail(model.StepSubmitToCustodian, err)
	}

	// confirm_custodial_transfer
	if err := s.custodianApi.Confirm(ctx, transfer.CustodianReference); err != nil {
		return fail(model.StepConfirmTransfer, err)
	}
	if err := s.transition(ctx, transfer, model.TransferConfirmed, ""); err != nil {
		return fail(model.StepConfirmTransfer, err)
	}
	transfer.Status = model.TransferConfirmed
	if err := complete(model.StepConfirmTransfer); err != nil {
		return fail(model.StepConfirmTransfer, err)
	}

	// update_share_register / update_portfolios / finalize_ownership run in
	// one transaction; step completions are recorded inside it so they roll
	// back together with the mutations
	failedStep, err := s.runSettlement(ctx, transfer, trade, func(ctx context.Context, step string) error {
		return s.repo.CompleteWorkflowStep(ctx, workflowID, step, model.StepCompleted, "")
	})
	if err != nil {
		if failedStep == "" {
			failedStep = model.StepFinalizeOwnership
		}
		return fail(failedStep, err)
	}

	if err := s.repo.UpdateWorkflowStatus(ctx, workflowID, model.WorkflowCompleted); err != nil {
		slog.Error("failed to mark workflow completed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
	}

	workflow, err := s.repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return model.SettlementWorkflow{}, err
	}

	return workflow, nil
}
