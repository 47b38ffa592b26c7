package ledgerService

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/piq110/capcore-backend-sub001/internal/model"
	"github.com/piq110/capcore-backend-sub001/internal/service"
	"github.com/piq110/capcore-backend-sub001/utils"
	"github.com/shopspring/decimal"
)

type Repository interface {
	GetActiveEntriesForUpdate(ctx context.Context, ownerID, productID string) ([]model.LedgerEntry, error)
	GetActiveQuantity(ctx context.Context, ownerID, productID string) (int, error)
	DecrementEntry(ctx context.Context, entryID int64, quantity int) error
	UpsertActiveEntry(ctx context.Context, ownerID, productID string, quantity int, acquisitionPrice decimal.Decimal) (int64, error)
	CreateEntry(ctx context.Context, ownerID, productID string, quantity int, acquisitionPrice decimal.Decimal) (int64, error)
	InsertTransferHistory(ctx context.Context, entryID int64, record model.TransferRecord) error
}

// LedgerService owns the share register mutation rules. Transfer must be
// called inside a transaction context (repository methods pick the tx up
// from the context), so the register and any sibling portfolio mutation
// commit or roll back together.
type LedgerService struct {
	repo Repository
}

func New(repo Repository) *LedgerService {
	return &LedgerService{repo: repo}
}

// Transfer moves quantity from one owner to another, draining the source's
// active parcels oldest first and appending history on both sides. The
// overall quantity is conserved: exactly what leaves the source arrives at
// the destination.
func (s *LedgerService) Transfer(ctx context.Context, fromOwner, toOwner, productID string, quantity int, transferRef string) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LedgerService.Transfer"

	slog.Debug("Transfer start", slog.String("rqID", rqID), slog.String("op", op), slog.String("fromOwner", fromOwner), slog.String("toOwner", toOwner), slog.String("productID", productID), slog.Int("quantity", quantity))
	defer func() {
		slog.Debug("Transfer finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	if quantity <= 0 {
		return fmt.Errorf("transfer quantity must be positive, got %d", quantity)
	}

	entries, err := s.repo.GetActiveEntriesForUpdate(ctx, fromOwner, productID)
	if err != nil {
		slog.Error("got error from repo.GetActiveEntriesForUpdate", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	total := 0
	for _, entry := range entries {
		total += entry.Quantity
	}
	if total < quantity {
		slog.Warn("insufficient shares", slog.String("rqID", rqID), slog.String("op", op), slog.Int("active", total), slog.Int("requested", quantity))
		return service.ErrInsufficientShares
	}

	record := model.TransferRecord{
		TransferID: transferRef,
		FromID:     fromOwner,
		ToID:       toOwner,
	}

	// weighted acquisition price of the drained parcels carries over to the
	// destination entry
	costMoved := decimal.Zero
	remaining := quantity
	for _, entry := range entries {
		if remaining == 0 {
			break
		}

		take := entry.Quantity
		if take > remaining {
			take = remaining
		}

		if err := s.repo.DecrementEntry(ctx, entry.EntryID, take); err != nil {
			slog.Error("got error from repo.DecrementEntry", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
			return err
		}

		record.Quantity = take
		if err := s.repo.InsertTransferHistory(ctx, entry.EntryID, record); err != nil {
			slog.Error("got error from repo.InsertTransferHistory", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
			return err
		}

		costMoved = costMoved.Add(entry.AcquisitionPrice.Mul(decimal.NewFromInt(int64(take))))
		remaining -= take
	}

	acquisitionPrice := costMoved.Div(decimal.NewFromInt(int64(quantity)))

	destEntryID, err := s.repo.UpsertActiveEntry(ctx, toOwner, productID, quantity, acquisitionPrice)
	if err != nil {
		slog.Error("got error from repo.UpsertActiveEntry", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	record.Quantity = quantity
	if err := s.repo.InsertTransferHistory(ctx, destEntryID, record); err != nil {
		slog.Error("got error from repo.InsertTransferHistory", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	return nil
}

// Balance is the sum of the owner's active parcels for the product. This is
// the authoritative number for transfer eligibility.
func (s *LedgerService) Balance(ctx context.Context, ownerID, productID string) (int, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LedgerService.Balance"

	slog.Debug("Balance start", slog.String("rqID", rqID), slog.String("op", op), slog.String("ownerID", ownerID), slog.String("productID", productID))
	defer func() {
		slog.Debug("Balance finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	quantity, err := s.repo.GetActiveQuantity(ctx, ownerID, productID)
	if err != nil {
		slog.Error("got error from repo.GetActiveQuantity", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return 0, err
	}

	return quantity, nil
}

// Issue records newly acquired shares as a fresh active parcel.
func (s *LedgerService) Issue(ctx context.Context, ownerID, productID string, quantity int, acquisitionPrice decimal.Decimal) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LedgerService.Issue"

	slog.Debug("Issue start", slog.String("rqID", rqID), slog.String("op", op), slog.String("ownerID", ownerID), slog.String("productID", productID), slog.Int("quantity", quantity))
	defer func() {
		slog.Debug("Issue finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	_, err := s.repo.CreateEntry(ctx, ownerID, productID, quantity, acquisitionPrice)
	if err != nil {
		slog.Error("got error from repo.CreateEntry", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	return nil
}
