package ledgerService_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/piq110/capcore-backend-sub001/data/repository"
	"github.com/piq110/capcore-backend-sub001/internal/model"
	"github.com/piq110/capcore-backend-sub001/internal/service"
	"github.com/piq110/capcore-backend-sub001/internal/service/ledgerService"
)

// fakeRepo keeps ledger entries in memory with the same semantics as the
// Postgres implementation: FIFO ordering, entries drained to zero flip to
// transferred, history appended per touched entry.
type fakeRepo struct {
	entries []model.LedgerEntry
	history map[int64][]model.TransferRecord
	nextID  int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{history: map[int64][]model.TransferRecord{}, nextID: 1}
}

func (r *fakeRepo) seed(ownerID, productID string, quantity int, price float64) int64 {
	id := r.nextID
	r.nextID++
	r.entries = append(r.entries, model.LedgerEntry{
		EntryID:          id,
		OwnerID:          ownerID,
		ProductID:        productID,
		Quantity:         quantity,
		Status:           model.LedgerEntryActive,
		AcquisitionPrice: decimal.NewFromFloat(price),
	})
	return id
}

func (r *fakeRepo) GetActiveEntriesForUpdate(_ context.Context, ownerID, productID string) ([]model.LedgerEntry, error) {
	var out []model.LedgerEntry
	for _, e := range r.entries {
		if e.OwnerID == ownerID && e.ProductID == productID && e.Status == model.LedgerEntryActive {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeRepo) GetActiveQuantity(_ context.Context, ownerID, productID string) (int, error) {
	total := 0
	for _, e := range r.entries {
		if e.OwnerID == ownerID && e.ProductID == productID && e.Status == model.LedgerEntryActive {
			total += e.Quantity
		}
	}
	return total, nil
}

func (r *fakeRepo) DecrementEntry(_ context.Context, entryID int64, quantity int) error {
	for i := range r.entries {
		if r.entries[i].EntryID != entryID {
			continue
		}
		if r.entries[i].Quantity < quantity {
			return repository.ErrStaleStatus
		}
		r.entries[i].Quantity -= quantity
		if r.entries[i].Quantity == 0 {
			r.entries[i].Status = model.LedgerEntryTransferred
		}
		return nil
	}
	return repository.ErrNotFound
}

func (r *fakeRepo) UpsertActiveEntry(_ context.Context, ownerID, productID string, quantity int, price decimal.Decimal) (int64, error) {
	for i := range r.entries {
		e := &r.entries[i]
		if e.OwnerID == ownerID && e.ProductID == productID && e.Status == model.LedgerEntryActive {
			// quantity-weighted blend of existing and incoming price
			oldQty := decimal.NewFromInt(int64(e.Quantity))
			newQty := decimal.NewFromInt(int64(quantity))
			e.AcquisitionPrice = e.AcquisitionPrice.Mul(oldQty).
				Add(price.Mul(newQty)).
				Div(oldQty.Add(newQty))
			e.Quantity += quantity
			return e.EntryID, nil
		}
	}
	return r.CreateEntry(context.Background(), ownerID, productID, quantity, price)
}

func (r *fakeRepo) CreateEntry(_ context.Context, ownerID, productID string, quantity int, price decimal.Decimal) (int64, error) {
	id := r.nextID
	r.nextID++
	r.entries = append(r.entries, model.LedgerEntry{
		EntryID:          id,
		OwnerID:          ownerID,
		ProductID:        productID,
		Quantity:         quantity,
		Status:           model.LedgerEntryActive,
		AcquisitionPrice: price,
	})
	return id, nil
}

func (r *fakeRepo) InsertTransferHistory(_ context.Context, entryID int64, record model.TransferRecord) error {
	r.history[entryID] = append(r.history[entryID], record)
	return nil
}

func (r *fakeRepo) totalQuantity(productID string) int {
	total := 0
	for _, e := range r.entries {
		if e.ProductID == productID && e.Status == model.LedgerEntryActive {
			total += e.Quantity
		}
	}
	return total
}

func mustBalance(t *testing.T, svc *ledgerService.LedgerService, ownerID, productID string) int {
	t.Helper()
	qty, err := svc.Balance(context.Background(), ownerID, productID)
	if err != nil {
		t.Fatalf("Balance(%s, %s): %v", ownerID, productID, err)
	}
	return qty
}

func TestTransfer_DrainsOldestParcelsFirst(t *testing.T) {
	repo := newFakeRepo()
	first := repo.seed("alice", "FUND-A", 30, 10)
	second := repo.seed("alice", "FUND-A", 70, 20)
	svc := ledgerService.New(repo)

	err := svc.Transfer(context.Background(), "alice", "bob", "FUND-A", 50, "tr-1")
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	if got := mustBalance(t, svc, "alice", "FUND-A"); got != 50 {
		t.Errorf("alice balance = %d, want 50", got)
	}
	if got := mustBalance(t, svc, "bob", "FUND-A"); got != 50 {
		t.Errorf("bob balance = %d, want 50", got)
	}

	// the oldest parcel is fully drained and marked transferred
	for _, e := range repo.entries {
		if e.EntryID == first && e.Status != model.LedgerEntryTransferred {
			t.Errorf("first parcel status = %s, want transferred", e.Status)
		}
		if e.EntryID == second && e.Quantity != 50 {
			t.Errorf("second parcel quantity = %d, want 50", e.Quantity)
		}
	}

	if len(repo.history[first]) != 1 {
		t.Errorf("first parcel history rows = %d, want 1", len(repo.history[first]))
	}
}

func TestTransfer_ConservesTotalQuantity(t *testing.T) {
	repo := newFakeRepo()
	repo.seed("alice", "FUND-A", 80, 10)
	repo.seed("bob", "FUND-A", 20, 15)
	svc := ledgerService.New(repo)

	before := repo.totalQuantity("FUND-A")

	if err := svc.Transfer(context.Background(), "alice", "bob", "FUND-A", 33, "tr-2"); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	if after := repo.totalQuantity("FUND-A"); after != before {
		t.Errorf("total quantity changed: before=%d after=%d", before, after)
	}
}

func TestTransfer_InsufficientShares(t *testing.T) {
	repo := newFakeRepo()
	repo.seed("alice", "FUND-A", 10, 10)
	svc := ledgerService.New(repo)

	err := svc.Transfer(context.Background(), "alice", "bob", "FUND-A", 11, "tr-3")
	if !errors.Is(err, service.ErrInsufficientShares) {
		t.Fatalf("err = %v, want ErrInsufficientShares", err)
	}

	// nothing moved
	if got := mustBalance(t, svc, "alice", "FUND-A"); got != 10 {
		t.Errorf("alice balance = %d, want 10", got)
	}
	if got := mustBalance(t, svc, "bob", "FUND-A"); got != 0 {
		t.Errorf("bob balance = %d, want 0", got)
	}
}

func TestTransfer_RejectsNonPositiveQuantity(t *testing.T) {
	repo := newFakeRepo()
	repo.seed("alice", "FUND-A", 10, 10)
	svc := ledgerService.New(repo)

	for _, quantity := range []int{0, -5} {
		if err := svc.Transfer(context.Background(), "alice", "bob", "FUND-A", quantity, "tr-bad"); err == nil {
			t.Errorf("Transfer with quantity %d: expected error, got nil", quantity)
		}
	}

	// nothing moved
	if got := mustBalance(t, svc, "alice", "FUND-A"); got != 10 {
		t.Errorf("alice balance = %d, want 10", got)
	}
	if got := mustBalance(t, svc, "bob", "FUND-A"); got != 0 {
		t.Errorf("bob balance = %d, want 0", got)
	}
}

func TestTransfer_CarriesWeightedAcquisitionPrice(t *testing.T) {
	repo := newFakeRepo()
	repo.seed("alice", "FUND-A", 10, 10) // cost 100
	repo.seed("alice", "FUND-A", 10, 30) // cost 300
	svc := ledgerService.New(repo)

	if err := svc.Transfer(context.Background(), "alice", "bob", "FUND-A", 20, "tr-4"); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	// bob's entry carries the blended price (400 / 20 = 20)
	for _, e := range repo.entries {
		if e.OwnerID == "bob" && e.Status == model.LedgerEntryActive {
			if !e.AcquisitionPrice.Equal(decimal.NewFromInt(20)) {
				t.Errorf("bob acquisition price = %s, want 20", e.AcquisitionPrice)
			}
		}
	}
}

func TestTransfer_BlendsPriceIntoExistingParcel(t *testing.T) {
	repo := newFakeRepo()
	repo.seed("alice", "FUND-A", 10, 30)
	repo.seed("bob", "FUND-A", 10, 10)
	svc := ledgerService.New(repo)

	if err := svc.Transfer(context.Background(), "alice", "bob", "FUND-A", 10, "tr-5"); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	// bob held 10 @ 10 and receives 10 @ 30: one parcel of 20 @ 20
	for _, e := range repo.entries {
		if e.OwnerID == "bob" && e.Status == model.LedgerEntryActive {
			if e.Quantity != 20 {
				t.Errorf("bob parcel quantity = %d, want 20", e.Quantity)
			}
			if !e.AcquisitionPrice.Equal(decimal.NewFromInt(20)) {
				t.Errorf("bob acquisition price = %s, want 20", e.AcquisitionPrice)
			}
		}
	}
}

func TestIssue(t *testing.T) {
	repo := newFakeRepo()
	svc := ledgerService.New(repo)

	if err := svc.Issue(context.Background(), "carol", "FUND-B", 15, decimal.NewFromInt(7)); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if got := mustBalance(t, svc, "carol", "FUND-B"); got != 15 {
		t.Errorf("carol balance = %d, want 15", got)
	}
}
