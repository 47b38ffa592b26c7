package model

import "time"

type WorkflowStatus string

const (
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
)

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

const (
	StepValidateOwnership = "validate_ownership"
	StepInitiateTransfer  = "initiate_custodial_transfer"
	StepSubmitToCustodian = "submit_to_custodian"
	StepConfirmTransfer   = "confirm_custodial_transfer"
	StepUpdateRegister    = "update_share_register"
	StepUpdatePortfolios  = "update_portfolios"
	StepFinalizeOwnership = "finalize_ownership"
)

// PipelineSteps is the fixed order the orchestrator walks for every trade.
var PipelineSteps = []string{
	StepValidateOwnership,
	StepInitiateTransfer,
	StepSubmitToCustodian,
	StepConfirmTransfer,
	StepUpdateRegister,
	StepUpdatePortfolios,
	StepFinalizeOwnership,
}

type WorkflowStep struct {
	Step        string
	Status      StepStatus
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// SettlementWorkflow is the audit record of one orchestrator run. It is
// always returned to the caller, reflecting the failure point if any step
// went wrong.
type SettlementWorkflow struct {
	WorkflowID string
	TradeID    string
	TransferID string
	Status     WorkflowStatus
	Steps      []WorkflowStep
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (w *SettlementWorkflow) Step(name string) *WorkflowStep {
	for i := range w.Steps {
		if w.Steps[i].Step == name {
			return &w.Steps[i]
		}
	}
	return nil
}
