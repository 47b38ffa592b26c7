package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/piq110/capcore-backend-sub001/internal/externalApi"
	"github.com/piq110/capcore-backend-sub001/internal/model"
	"github.com/piq110/capcore-backend-sub001/internal/service"
)

type Settlements interface {
	SettleTrade(ctx context.Context, tradeID string) (model.SettlementWorkflow, error)
	GetTransfer(ctx context.Context, transferID string) (model.CustodialTransfer, error)
	GetWorkflow(ctx context.Context, workflowID string) (model.SettlementWorkflow, error)
	GetPortfolio(ctx context.Context, userID string) (model.Portfolio, error)
}

type Reconciler interface {
	RunFullReconciliation(ctx context.Context, dryRun bool) (model.ReconciliationReport, error)
}

type Controller struct {
	settlements Settlements
	reconciler  Reconciler
}

func NewController(settlements Settlements, reconciler Reconciler) *Controller {
	return &Controller{settlements: settlements, reconciler: reconciler}
}

// SettleTrade handles POST /api/v1/trades/{tradeID}/settlement.
func (c *Controller) SettleTrade(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tradeID := chi.URLParam(r, "tradeID")
	if tradeID == "" {
		writeError(w, "tradeID is required", http.StatusBadRequest)
		return
	}

	workflow, err := c.settlements.SettleTrade(ctx, tradeID)
	if err != nil {
		// pipeline failures still carry the workflow; return it alongside
		// the error status so the caller sees which step died
		status := statusFromErr(err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(settlementFailureResponse{
			Error:    publicErrMessage(err),
			Workflow: toWorkflowResponse(workflow),
		})
		return
	}

	writeJSON(w, http.StatusOK, toWorkflowResponse(workflow))
}

// GetTransfer handles GET /api/v1/transfers/{transferID}.
func (c *Controller) GetTransfer(w http.ResponseWriter, r *http.Request) {
	transferID := chi.URLParam(r, "transferID")
	if transferID == "" {
		writeError(w, "transferID is required", http.StatusBadRequest)
		return
	}

	transfer, err := c.settlements.GetTransfer(r.Context(), transferID)
	if err != nil {
		writeError(w, publicErrMessage(err), statusFromErr(err))
		return
	}

	writeJSON(w, http.StatusOK, toTransferResponse(transfer))
}

// GetWorkflow handles GET /api/v1/workflows/{workflowID}.
func (c *Controller) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")
	if workflowID == "" {
		writeError(w, "workflowID is required", http.StatusBadRequest)
		return
	}

	workflow, err := c.settlements.GetWorkflow(r.Context(), workflowID)
	if err != nil {
		writeError(w, publicErrMessage(err), statusFromErr(err))
		return
	}

	writeJSON(w, http.StatusOK, toWorkflowResponse(workflow))
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}.
func (c *Controller) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, "userID is required", http.StatusBadRequest)
		return
	}

	portfolio, err := c.settlements.GetPortfolio(r.Context(), userID)
	if err != nil {
		writeError(w, publicErrMessage(err), statusFromErr(err))
		return
	}

	writeJSON(w, http.StatusOK, toPortfolioResponse(portfolio))
}

// RunReconciliation handles POST /api/v1/reconciliation/run. The dry_run
// query parameter defaults to true: mutating reconciliation must be asked
// for explicitly.
func (c *Controller) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	dryRun := r.URL.Query().Get("dry_run") != "false"

	report, err := c.reconciler.RunFullReconciliation(r.Context(), dryRun)
	if err != nil {
		writeError(w, publicErrMessage(err), statusFromErr(err))
		return
	}

	writeJSON(w, http.StatusOK, toReconciliationResponse(report))
}

type settlementFailureResponse struct {
	Error    string           `json:"error"`
	Workflow workflowResponse `json:"workflow"`
}

func statusFromErr(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrTradeNotPending),
		errors.Is(err, service.ErrTransferInProgress),
		errors.Is(err, service.ErrInvalidTransferState):
		return http.StatusConflict
	case errors.Is(err, service.ErrInsufficientShares),
		errors.Is(err, service.ErrOwnershipMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, externalApi.ErrCustodianTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, externalApi.ErrCustodianUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// publicErrMessage keeps internals out of responses: sentinel errors pass
// through, anything else collapses to a generic message.
func publicErrMessage(err error) string {
	for _, known := range []error{
		service.ErrNotFound,
		service.ErrTradeNotPending,
		service.ErrTransferInProgress,
		service.ErrInvalidTransferState,
		service.ErrInsufficientShares,
		service.ErrOwnershipMismatch,
		service.ErrSettlementRollback,
		externalApi.ErrCustodianTimeout,
		externalApi.ErrCustodianUnavailable,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal error"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", slog.String("err", err.Error()))
	}
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
