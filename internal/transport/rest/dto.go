package rest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/piq110/capcore-backend-sub001/internal/model"
)

type transferResponse struct {
	TransferID         string     `json:"transfer_id"`
	TradeID            string     `json:"trade_id"`
	FromUserID         string     `json:"from_user_id"`
	ToUserID           string     `json:"to_user_id"`
	ProductID          string     `json:"product_id"`
	Quantity           int        `json:"quantity"`
	Status             string     `json:"status"`
	CustodianReference string     `json:"custodian_reference,omitempty"`
	FailureReason      string     `json:"failure_reason,omitempty"`
	SubmittedAt        *time.Time `json:"submitted_at,omitempty"`
	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty"`
	SettledAt          *time.Time `json:"settled_at,omitempty"`
	FailedAt           *time.Time `json:"failed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func toTransferResponse(t model.CustodialTransfer) transferResponse {
	return transferResponse{
		TransferID:         t.TransferID,
		TradeID:            t.TradeID,
		FromUserID:         t.FromUserID,
		ToUserID:           t.ToUserID,
		ProductID:          t.ProductID,
		Quantity:           t.Quantity,
		Status:             string(t.Status),
		CustodianReference: t.CustodianReference,
		FailureReason:      t.FailureReason,
		SubmittedAt:        t.SubmittedAt,
		ConfirmedAt:        t.ConfirmedAt,
		SettledAt:          t.SettledAt,
		FailedAt:           t.FailedAt,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}
}

type workflowStepResponse struct {
	Step        string     `json:"step"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type workflowResponse struct {
	WorkflowID string                 `json:"workflow_id"`
	TradeID    string                 `json:"trade_id"`
	TransferID string                 `json:"transfer_id,omitempty"`
	Status     string                 `json:"status"`
	Steps      []workflowStepResponse `json:"steps"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

func toWorkflowResponse(w model.SettlementWorkflow) workflowResponse {
	resp := workflowResponse{
		WorkflowID: w.WorkflowID,
		TradeID:    w.TradeID,
		TransferID: w.TransferID,
		Status:     string(w.Status),
		CreatedAt:  w.CreatedAt,
		UpdatedAt:  w.UpdatedAt,
	}
	for _, step := range w.Steps {
		resp.Steps = append(resp.Steps, workflowStepResponse{
			Step:        step.Step,
			Status:      string(step.Status),
			Error:       step.Error,
			StartedAt:   step.StartedAt,
			CompletedAt: step.CompletedAt,
		})
	}
	return resp
}

type holdingResponse struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	CostBasis decimal.Decimal `json:"cost_basis"`
}

type portfolioResponse struct {
	UserID   string            `json:"user_id"`
	Holdings []holdingResponse `json:"holdings"`
}

func toPortfolioResponse(p model.Portfolio) portfolioResponse {
	resp := portfolioResponse{UserID: p.UserID, Holdings: []holdingResponse{}}
	for _, h := range p.Holdings {
		resp.Holdings = append(resp.Holdings, holdingResponse{
			ProductID: h.ProductID,
			Quantity:  h.Quantity,
			CostBasis: h.CostBasis,
		})
	}
	return resp
}

type discrepancyResponse struct {
	Type              string `json:"type"`
	UserID            string `json:"user_id"`
	ProductID         string `json:"product_id"`
	PlatformQuantity  int    `json:"platform_quantity"`
	RegisterQuantity  int    `json:"register_quantity"`
	CustodianQuantity int    `json:"custodian_quantity"`
	Severity          string `json:"severity"`
}

type correctionResponse struct {
	UserID      string `json:"user_id"`
	ProductID   string `json:"product_id"`
	FromQty     int    `json:"from_qty"`
	ToQty       int    `json:"to_qty"`
	Description string `json:"description"`
	Applied     bool   `json:"applied"`
}

type reconciliationResponse struct {
	StartedAt     time.Time             `json:"started_at"`
	FinishedAt    time.Time             `json:"finished_at"`
	Checked       int                   `json:"checked"`
	DryRun        bool                  `json:"dry_run"`
	Discrepancies []discrepancyResponse `json:"discrepancies"`
	Corrections   []correctionResponse  `json:"corrections"`
}

func toReconciliationResponse(r model.ReconciliationReport) reconciliationResponse {
	resp := reconciliationResponse{
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
		Checked:       r.Checked,
		DryRun:        r.DryRun,
		Discrepancies: []discrepancyResponse{},
		Corrections:   []correctionResponse{},
	}
	for _, d := range r.Discrepancies {
		resp.Discrepancies = append(resp.Discrepancies, discrepancyResponse{
			Type:              string(d.Type),
			UserID:            d.UserID,
			ProductID:         d.ProductID,
			PlatformQuantity:  d.PlatformQuantity,
			RegisterQuantity:  d.RegisterQuantity,
			CustodianQuantity: d.CustodianQuantity,
			Severity:          string(d.Severity),
		})
	}
	for _, c := range r.Corrections {
		resp.Corrections = append(resp.Corrections, correctionResponse{
			UserID:      c.UserID,
			ProductID:   c.ProductID,
			FromQty:     c.FromQty,
			ToQty:       c.ToQty,
			Description: c.Description,
			Applied:     c.Applied,
		})
	}
	return resp
}
