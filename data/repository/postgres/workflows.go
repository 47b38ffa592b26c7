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

func (r *Postgres) InsertWorkflow(ctx context.Context, workflowID, tradeID string) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.InsertWorkflow"
	query := `
		INSERT INTO settlement_workflows(workflow_id, trade_id, status)
		VALUES($1, $2, 'running')
		`

	slog.Debug("InsertWorkflow start", slog.String("rqID", rqID), slog.String("op", op), slog.String("workflowID", workflowID), slog.String("tradeID", tradeID))
	defer func() {
		if err != nil {
			slog.Error("InsertWorkflow failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("InsertWorkflow completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.txOrDb(ctx).ExecContext(ctx, query, workflowID, tradeID)
	if err != nil {
		return err
	}

	return nil
}

func (r *Postgres) SetWorkflowTransfer(ctx context.Context, workflowID, transferID string) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.SetWorkflowTransfer"
	query := `
		UPDATE settlement_workflows
		SET transfer_id = $1, dt_update = now()
		WHERE workflow_id = $2
		`

	slog.Debug("SetWorkflowTransfer start", slog.String("rqID", rqID), slog.String("op", op), slog.String("workflowID", workflowID), slog.String("transferID", transferID))
	defer func() {
		if err != nil {
			slog.Error("SetWorkflowTransfer failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("SetWorkflowTransfer completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.txOrDb(ctx).ExecContext(ctx, query, transferID, workflowID)
	if err != nil {
		return err
	}

	return nil
}

func (r *Postgres) UpdateWorkflowStatus(ctx context.Context, workflowID string, status model.WorkflowStatus) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.UpdateWorkflowStatus"
	query := `
		UPDATE settlement_workflows
		SET status = $1, dt_update = now()
		WHERE workflow_id = $2
		`

	slog.Debug("UpdateWorkflowStatus start", slog.String("rqID", rqID), slog.String("op", op), slog.String("workflowID", workflowID), slog.String("status", string(status)))
	defer func() {
		if err != nil {
			slog.Error("UpdateWorkflowStatus failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("UpdateWorkflowStatus completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.txOrDb(ctx).ExecContext(ctx, query, status, workflowID)
	if err != nil {
		return err
	}

	return nil
}

func (r *Postgres) InsertWorkflowStep(ctx context.Context, workflowID, step string) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.InsertWorkflowStep"
	query := `
		INSERT INTO settlement_workflow_steps(workflow_id, step, status)
		VALUES($1, $2, 'pending')
		`

	slog.Debug("InsertWorkflowStep start", slog.String("rqID", rqID), slog.String("op", op), slog.String("workflowID", workflowID), slog.String("step", step))
	defer func() {
		if err != nil {
			slog.Error("InsertWorkflowStep failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("InsertWorkflowStep completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.txOrDb(ctx).ExecContext(ctx, query, workflowID, step)
	if err != nil {
		return err
	}

	return nil
}

func (r *Postgres) CompleteWorkflowStep(ctx context.Context, workflowID, step string, status model.StepStatus, stepErr string) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.CompleteWorkflowStep"
	query := `
		UPDATE settlement_workflow_steps
		SET status = $1, error = NULLIF($2, ''), dt_complete = now()
		WHERE workflow_id = $3
		AND step = $4
		`

	slog.Debug("CompleteWorkflowStep start", slog.String("rqID", rqID), slog.String("op", op), slog.String("workflowID", workflowID), slog.String("step", step), slog.String("status", string(status)))
	defer func() {
		if err != nil {
			slog.Error("CompleteWorkflowStep failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("CompleteWorkflowStep completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.txOrDb(ctx).ExecContext(ctx, query, status, stepErr, workflowID, step)
	if err != nil {
		return err
	}

	return nil
}

func (r *Postgres) GetWorkflow(ctx context.Context, workflowID string) (workflow model.SettlementWorkflow, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetWorkflow"
	workflowQuery := `
		SELECT workflow_id, trade_id, COALESCE(transfer_id, '') AS transfer_id, status, dt_create, dt_update
		FROM settlement_workflows
		WHERE workflow_id = $1
		`
	stepsQuery := `
		SELECT workflow_id, step, status, error, dt_create, dt_complete
		FROM settlement_workflow_steps
		WHERE workflow_id = $1
		ORDER BY id
		`

	slog.Debug("GetWorkflow start", slog.String("rqID", rqID), slog.String("op", op), slog.String("workflowID", workflowID))
	defer func() {
		if err != nil {
			slog.Error("GetWorkflow failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetWorkflow completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	dbWorkflow := dbModel.SettlementWorkflow{}
	err = r.txOrDb(ctx).QueryRowxContext(ctx, workflowQuery, workflowID).StructScan(&dbWorkflow)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.SettlementWorkflow{}, repository.ErrNotFound
		}
		return model.SettlementWorkflow{}, err
	}

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, stepsQuery, workflowID)
	if err != nil {
		return model.SettlementWorkflow{}, err
	}

	defer rows.Close()

	var dbSteps []dbModel.WorkflowStep
	for rows.Next() {
		var dbStep dbModel.WorkflowStep
		err = rows.StructScan(&dbStep)
		if err != nil {
			return model.SettlementWorkflow{}, err
		}
		dbSteps = append(dbSteps, dbStep)
	}

	return dbConverter.ConvertWorkflow(dbWorkflow, dbSteps), nil
}
