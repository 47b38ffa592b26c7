package dbConverter

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/piq110/capcore-backend-sub001/internal/model"
	"github.com/piq110/capcore-backend-sub001/internal/model/dbModel"
)

func ConvertTrade(dbTrade dbModel.Trade) model.Trade {
	return model.Trade{
		TradeID:             dbTrade.TradeID,
		BuyerID:             dbTrade.BuyerID,
		SellerID:            dbTrade.SellerID,
		ProductID:           dbTrade.ProductID,
		Quantity:            dbTrade.Quantity,
		PricePerShare:       dbTrade.PricePerShare,
		Status:              model.TradeStatus(dbTrade.Status),
		CustodialTransferID: dbTrade.CustodialTransferID.String,
		CreatedAt:           dbTrade.CreatedAt,
	}
}

func ConvertTransfer(dbTransfer dbModel.CustodialTransfer) model.CustodialTransfer {
	transfer := model.CustodialTransfer{
		TransferID:         dbTransfer.TransferID,
		TradeID:            dbTransfer.TradeID,
		FromUserID:         dbTransfer.FromUserID,
		ToUserID:           dbTransfer.ToUserID,
		ProductID:          dbTransfer.ProductID,
		Quantity:           dbTransfer.Quantity,
		Status:             model.TransferStatus(dbTransfer.Status),
		CustodianReference: dbTransfer.CustodianReference.String,
		FailureReason:      dbTransfer.FailureReason.String,
		SubmittedAt:        nullTimePtr(dbTransfer.SubmittedAt),
		ConfirmedAt:        nullTimePtr(dbTransfer.ConfirmedAt),
		SettledAt:          nullTimePtr(dbTransfer.SettledAt),
		FailedAt:           nullTimePtr(dbTransfer.FailedAt),
		CreatedAt:          dbTransfer.CreatedAt,
		UpdatedAt:          dbTransfer.UpdatedAt,
	}

	if len(dbTransfer.Metadata) > 0 {
		// metadata is written by us, a decode failure only loses the extras
		_ = json.Unmarshal(dbTransfer.Metadata, &transfer.Metadata)
	}

	return transfer
}

func ConvertLedgerEntry(dbEntry dbModel.LedgerEntry) model.LedgerEntry {
	return model.LedgerEntry{
		EntryID:          dbEntry.EntryID,
		OwnerID:          dbEntry.OwnerID,
		ProductID:        dbEntry.ProductID,
		Quantity:         dbEntry.Quantity,
		Status:           model.LedgerEntryStatus(dbEntry.Status),
		AcquisitionPrice: dbEntry.AcquisitionPrice,
		CreatedAt:        dbEntry.CreatedAt,
	}
}

func ConvertHolding(dbHolding dbModel.PortfolioHolding) model.PortfolioHolding {
	return model.PortfolioHolding{
		UserID:    dbHolding.UserID,
		ProductID: dbHolding.ProductID,
		Quantity:  dbHolding.Quantity,
		CostBasis: dbHolding.CostBasis,
	}
}

func ConvertWorkflow(dbWorkflow dbModel.SettlementWorkflow, dbSteps []dbModel.WorkflowStep) model.SettlementWorkflow {
	workflow := model.SettlementWorkflow{
		WorkflowID: dbWorkflow.WorkflowID,
		TradeID:    dbWorkflow.TradeID,
		TransferID: dbWorkflow.TransferID,
		Status:     model.WorkflowStatus(dbWorkflow.Status),
		CreatedAt:  dbWorkflow.CreatedAt,
		UpdatedAt:  dbWorkflow.UpdatedAt,
	}

	for _, dbStep := range dbSteps {
		workflow.Steps = append(workflow.Steps, model.WorkflowStep{
			Step:        dbStep.Step,
			Status:      model.StepStatus(dbStep.Status),
			Error:       dbStep.Error.String,
			StartedAt:   dbStep.StartedAt,
			CompletedAt: nullTimePtr(dbStep.CompletedAt),
		})
	}

	return workflow
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
