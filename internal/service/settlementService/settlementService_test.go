package settlementService_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/piq110/capcore-backend-sub001/data/repository"
	"github.com/piq110/capcore-backend-sub001/internal/model"
	"github.com/piq110/capcore-backend-sub001/internal/model/custodianModel"
	"github.com/piq110/capcore-backend-sub001/internal/service"
	"github.com/piq110/capcore-backend-sub001/internal/service/ledgerService"
	"github.com/piq110/capcore-backend-sub001/internal/service/settlementService"
)

// fakeStore backs both the settlement repository and the ledger repository
// with the same in-memory state, mirroring the Postgres semantics that
// matter: conditional status updates, one open transfer per trade, and
// transactional rollback (WithinTransaction snapshots state and restores it
// when the callback errors).
type fakeStore struct {
	trades    map[string]model.Trade
	transfers map[string]model.CustodialTransfer
	holdings  map[string]model.PortfolioHolding
	workflows map[string]*storedWorkflow
	entries   []model.LedgerEntry
	history   map[int64][]model.TransferRecord
	nextID    int64
}

type storedWorkflow struct {
	workflow model.SettlementWorkflow
	steps    []model.WorkflowStep
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		trades:    map[string]model.Trade{},
		transfers: map[string]model.CustodialTransfer{},
		holdings:  map[string]model.PortfolioHolding{},
		workflows: map[string]*storedWorkflow{},
		history:   map[int64][]model.TransferRecord{},
		nextID:    1,
	}
}

func holdingKey(userID, productID string) string { return userID + "|" + productID }

func (f *fakeStore) snapshot() *fakeStore {
	c := newFakeStore()
	c.nextID = f.nextID
	for k, v := range f.trades {
		c.trades[k] = v
	}
	for k, v := range f.transfers {
		c.transfers[k] = v
	}
	for k, v := range f.holdings {
		c.holdings[k] = v
	}
	for k, v := range f.workflows {
		steps := make([]model.WorkflowStep, len(v.steps))
		copy(steps, v.steps)
		c.workflows[k] = &storedWorkflow{workflow: v.workflow, steps: steps}
	}
	c.entries = make([]model.LedgerEntry, len(f.entries))
	copy(c.entries, f.entries)
	for k, v := range f.history {
		records := make([]model.TransferRecord, len(v))
		copy(records, v)
		c.history[k] = records
	}
	return c
}

func (f *fakeStore) restore(s *fakeStore) {
	f.trades = s.trades
	f.transfers = s.transfers
	f.holdings = s.holdings
	f.workflows = s.workflows
	f.entries = s.entries
	f.history = s.history
	f.nextID = s.nextID
}

func (f *fakeStore) WithinTransaction(ctx context.Context, tFunc func(ctx context.Context) error) error {
	before := f.snapshot()
	if err := tFunc(ctx); err != nil {
		f.restore(before)
		return err
	}
	return nil
}

// --- trades ---

func (f *fakeStore) GetTrade(_ context.Context, tradeID string) (model.Trade, error) {
	trade, ok := f.trades[tradeID]
	if !ok {
		return model.Trade{}, repository.ErrNotFound
	}
	return trade, nil
}

func (f *fakeStore) UpdateTradeStatus(_ context.Context, tradeID string, from, to model.TradeStatus) error {
	trade, ok := f.trades[tradeID]
	if !ok || trade.Status != from {
		return repository.ErrStaleStatus
	}
	trade.Status = to
	f.trades[tradeID] = trade
	return nil
}

func (f *fakeStore) SetTradeTransfer(_ context.Context, tradeID, transferID string) error {
	trade, ok := f.trades[tradeID]
	if !ok {
		return repository.ErrNotFound
	}
	trade.CustodialTransferID = transferID
	f.trades[tradeID] = trade
	return nil
}

// --- transfers ---

func (f *fakeStore) InsertTransfer(_ context.Context, transfer model.CustodialTransfer) error {
	for _, existing := range f.transfers {
		if existing.TradeID == transfer.TradeID && !existing.Status.IsTerminal() {
			return repository.ErrAlreadyExists
		}
	}
	f.transfers[transfer.TransferID] = transfer
	return nil
}

func (f *fakeStore) GetTransfer(_ context.Context, transferID string) (model.CustodialTransfer, error) {
	transfer, ok := f.transfers[transferID]
	if !ok {
		return model.CustodialTransfer{}, repository.ErrNotFound
	}
	return transfer, nil
}

func (f *fakeStore) SetCustodianReference(_ context.Context, transferID, reference string, metadata model.TransferMetadata) error {
	transfer, ok := f.transfers[transferID]
	if !ok {
		return repository.ErrNotFound
	}
	transfer.CustodianReference = reference
	transfer.Metadata = metadata
	f.transfers[transferID] = transfer
	return nil
}

func (f *fakeStore) UpdateTransferStatus(_ context.Context, transferID string, from, to model.TransferStatus, reason string) error {
	transfer, ok := f.transfers[transferID]
	if !ok || transfer.Status != from {
		return repository.ErrStaleStatus
	}
	transfer.Status = to
	if reason != "" {
		transfer.FailureReason = reason
	}
	f.transfers[transferID] = transfer
	return nil
}

// --- holdings ---

func (f *fakeStore) GetHolding(_ context.Context, userID, productID string) (model.PortfolioHolding, error) {
	holding, ok := f.holdings[holdingKey(userID, productID)]
	if !ok {
		return model.PortfolioHolding{}, repository.ErrNotFound
	}
	return holding, nil
}

func (f *fakeStore) GetHoldings(_ context.Context, userID string) ([]model.PortfolioHolding, error) {
	var out []model.PortfolioHolding
	for _, h := range f.holdings {
		if h.UserID == userID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeStore) ApplyHoldingDelta(_ context.Context, userID, productID string, quantityDelta int, costBasisDelta decimal.Decimal) error {
	key := holdingKey(userID, productID)
	holding, ok := f.holdings[key]
	if !ok {
		holding = model.PortfolioHolding{UserID: userID, ProductID: productID, CostBasis: decimal.Zero}
	}
	if holding.Quantity+quantityDelta < 0 {
		return repository.ErrNegativeQuantity
	}
	holding.Quantity += quantityDelta
	holding.CostBasis = holding.CostBasis.Add(costBasisDelta)
	f.holdings[key] = holding
	return nil
}

// --- workflows ---

func (f *fakeStore) InsertWorkflow(_ context.Context, workflowID, tradeID string) error {
	f.workflows[workflowID] = &storedWorkflow{
		workflow: model.SettlementWorkflow{WorkflowID: workflowID, TradeID: tradeID, Status: model.WorkflowRunning},
	}
	return nil
}

func (f *fakeStore) SetWorkflowTransfer(_ context.Context, workflowID, transferID string) error {
	wf, ok := f.workflows[workflowID]
	if !ok {
		return repository.ErrNotFound
	}
	wf.workflow.TransferID = transferID
	return nil
}

func (f *fakeStore) UpdateWorkflowStatus(_ context.Context, workflowID string, status model.WorkflowStatus) error {
	wf, ok := f.workflows[workflowID]
	if !ok {
		return repository.ErrNotFound
	}
	wf.workflow.Status = status
	return nil
}

func (f *fakeStore) InsertWorkflowStep(_ context.Context, workflowID, step string) error {
	wf, ok := f.workflows[workflowID]
	if !ok {
		return repository.ErrNotFound
	}
	wf.steps = append(wf.steps, model.WorkflowStep{Step: step, Status: model.StepPending})
	return nil
}

func (f *fakeStore) CompleteWorkflowStep(_ context.Context, workflowID, step string, status model.StepStatus, stepErr string) error {
	wf, ok := f.workflows[workflowID]
	if !ok {
		return repository.ErrNotFound
	}
	for i := range wf.steps {
		if wf.steps[i].Step == step {
			wf.steps[i].Status = status
			wf.steps[i].Error = stepErr
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeStore) GetWorkflow(_ context.Context, workflowID string) (model.SettlementWorkflow, error) {
	wf, ok := f.workflows[workflowID]
	if !ok {
		return model.SettlementWorkflow{}, repository.ErrNotFound
	}
	out := wf.workflow
	out.Steps = make([]model.WorkflowStep, len(wf.steps))
	copy(out.Steps, wf.steps)
	return out, nil
}

// --- ledger (shared with ledgerService) ---

func (f *fakeStore) seedEntry(ownerID, productID string, quantity int, price float64) {
	f.entries = append(f.entries, model.LedgerEntry{
		EntryID:          f.nextID,
		OwnerID:          ownerID,
		ProductID:        productID,
		Quantity:         quantity,
		Status:           model.LedgerEntryActive,
		AcquisitionPrice: decimal.NewFromFloat(price),
	})
	f.nextID++
}

func (f *fakeStore) GetActiveEntriesForUpdate(_ context.Context, ownerID, productID string) ([]model.LedgerEntry, error) {
	var out []model.LedgerEntry
	for _, e := range f.entries {
		if e.OwnerID == ownerID && e.ProductID == productID && e.Status == model.LedgerEntryActive {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) GetActiveQuantity(_ context.Context, ownerID, productID string) (int, error) {
	total := 0
	for _, e := range f.entries {
		if e.OwnerID == ownerID && e.ProductID == productID && e.Status == model.LedgerEntryActive {
			total += e.Quantity
		}
	}
	return total, nil
}

func (f *fakeStore) DecrementEntry(_ context.Context, entryID int64, quantity int) error {
	for i := range f.entries {
		if f.entries[i].EntryID != entryID {
			continue
		}
		if f.entries[i].Quantity < quantity {
			return repository.ErrStaleStatus
		}
		f.entries[i].Quantity -= quantity
		if f.entries[i].Quantity == 0 {
			f.entries[i].Status = model.LedgerEntryTransferred
		}
		return nil
	}
	return repository.ErrNotFound
}

func (f *fakeStore) UpsertActiveEntry(_ context.Context, ownerID, productID string, quantity int, price decimal.Decimal) (int64, error) {
	for i := range f.entries {
		e := &f.entries[i]
		if e.OwnerID == ownerID && e.ProductID == productID && e.Status == model.LedgerEntryActive {
			e.Quantity += quantity
			return e.EntryID, nil
		}
	}
	return f.CreateEntry(context.Background(), ownerID, productID, quantity, price)
}

func (f *fakeStore) CreateEntry(_ context.Context, ownerID, productID string, quantity int, price decimal.Decimal) (int64, error) {
	id := f.nextID
	f.nextID++
	f.entries = append(f.entries, model.LedgerEntry{
		EntryID:          id,
		OwnerID:          ownerID,
		ProductID:        productID,
		Quantity:         quantity,
		Status:           model.LedgerEntryActive,
		AcquisitionPrice: price,
	})
	return id, nil
}

func (f *fakeStore) InsertTransferHistory(_ context.Context, entryID int64, record model.TransferRecord) error {
	f.history[entryID] = append(f.history[entryID], record)
	return nil
}

// --- fake custodian ---

type fakeCustodian struct {
	balances     map[string][]custodianModel.Balance
	submitStatus string
	settleErr    error
	settleCalls  int
}

func newFakeCustodian() *fakeCustodian {
	return &fakeCustodian{balances: map[string][]custodianModel.Balance{}, submitStatus: "submitted"}
}

func (c *fakeCustodian) Initiate(_ context.Context, req custodianModel.TransferRequest) (custodianModel.InitiateResult, error) {
	return custodianModel.InitiateResult{TransferID: req.TransferID, CustodianReference: "cust-ref-" + req.TransferID}, nil
}

func (c *fakeCustodian) Submit(_ context.Context, _ string) (custodianModel.SubmitResult, error) {
	return custodianModel.SubmitResult{Status: c.submitStatus}, nil
}

func (c *fakeCustodian) Confirm(_ context.Context, _ string) error { return nil }

func (c *fakeCustodian) Settle(_ context.Context, _ string) error {
	c.settleCalls++
	return c.settleErr
}

func (c *fakeCustodian) GetBalances(_ context.Context, accountFilter string) ([]custodianModel.Balance, error) {
	return c.balances[accountFilter], nil
}

// --- fake cache / alerter ---

type fakeCache struct {
	flushed []string
}

func (c *fakeCache) GetPortfolio(_ context.Context, _ string) (model.Portfolio, error) {
	return model.Portfolio{}, errors.New("cache miss")
}

func (c *fakeCache) SetPortfolio(_ context.Context, _ model.Portfolio) error { return nil }

func (c *fakeCache) FlushPortfolios(_ context.Context, userIDs ...string) error {
	c.flushed = append(c.flushed, userIDs...)
	return nil
}

type fakeAlerter struct {
	messages []string
}

func (a *fakeAlerter) Alert(_ context.Context, message string) error {
	a.messages = append(a.messages, message)
	return nil
}

// --- env ---

type testEnv struct {
	store     *fakeStore
	custodian *fakeCustodian
	cache     *fakeCache
	alerter   *fakeAlerter
	svc       *settlementService.SettlementService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newFakeStore()
	custodian := newFakeCustodian()
	cache := &fakeCache{}
	alerter := &fakeAlerter{}
	ledger := ledgerService.New(store)
	svc := settlementService.New(store, ledger, custodian, cache, alerter)
	return &testEnv{store: store, custodian: custodian, cache: cache, alerter: alerter, svc: svc}
}

// seedTrade sets up a pending trade with the seller holding sellerShares on
// the ledger and in their portfolio, and matching custodian balances.
func (e *testEnv) seedTrade(t *testing.T, tradeID string, quantity, sellerShares int) model.Trade {
	t.Helper()
	trade := model.Trade{
		TradeID:       tradeID,
		BuyerID:       "buyer",
		SellerID:      "seller",
		ProductID:     "FUND-A",
		Quantity:      quantity,
		PricePerShare: decimal.NewFromInt(10),
		Status:        model.TradePending,
	}
	e.store.trades[tradeID] = trade
	e.store.seedEntry("seller", "FUND-A", sellerShares, 5)
	e.store.holdings[holdingKey("seller", "FUND-A")] = model.PortfolioHolding{
		UserID:    "seller",
		ProductID: "FUND-A",
		Quantity:  sellerShares,
		CostBasis: decimal.NewFromInt(int64(sellerShares * 5)),
	}
	e.custodian.balances["acct-seller"] = []custodianModel.Balance{
		{Account: "acct-seller", Symbol: "FUND-A", Quantity: sellerShares},
	}
	return trade
}

func stepStatus(t *testing.T, wf model.SettlementWorkflow, name string) model.StepStatus {
	t.Helper()
	step := wf.Step(name)
	if step == nil {
		t.Fatalf("workflow has no step %q", name)
	}
	return step.Status
}

func TestSettleTrade_FullPipeline(t *testing.T) {
	env := newTestEnv(t)
	env.seedTrade(t, "trade-1", 40, 100)
	ctx := context.Background()

	wf, err := env.svc.SettleTrade(ctx, "trade-1")
	if err != nil {
		t.Fatalf("SettleTrade: %v", err)
	}

	if wf.Status != model.WorkflowCompleted {
		t.Errorf("workflow status = %s, want completed", wf.Status)
	}
	for _, name := range model.PipelineSteps {
		if got := stepStatus(t, wf, name); got != model.StepCompleted {
			t.Errorf("step %s = %s, want completed", name, got)
		}
	}

	transfer := env.store.transfers[wf.TransferID]
	if transfer.Status != model.TransferSettled {
		t.Errorf("transfer status = %s, want settled", transfer.Status)
	}
	if env.store.trades["trade-1"].Status != model.TradeSettled {
		t.Errorf("trade status = %s, want settled", env.store.trades["trade-1"].Status)
	}

	sellerQty, _ := env.store.GetActiveQuantity(ctx, "seller", "FUND-A")
	buyerQty, _ := env.store.GetActiveQuantity(ctx, "buyer", "FUND-A")
	if sellerQty != 60 || buyerQty != 40 {
		t.Errorf("ledger quantities = %d/%d, want 60/40", sellerQty, buyerQty)
	}

	if got := env.store.holdings[holdingKey("seller", "FUND-A")].Quantity; got != 60 {
		t.Errorf("seller holding = %d, want 60", got)
	}
	buyerHolding := env.store.holdings[holdingKey("buyer", "FUND-A")]
	if buyerHolding.Quantity != 40 {
		t.Errorf("buyer holding = %d, want 40", buyerHolding.Quantity)
	}
	if !buyerHolding.CostBasis.Equal(decimal.NewFromInt(400)) {
		t.Errorf("buyer cost basis = %s, want 400", buyerHolding.CostBasis)
	}

	if env.custodian.settleCalls != 1 {
		t.Errorf("custodian settle calls = %d, want 1", env.custodian.settleCalls)
	}
	if len(env.cache.flushed) != 2 {
		t.Errorf("flushed portfolios = %v, want seller and buyer", env.cache.flushed)
	}
}

func TestSettleTrade_TradeNotPending(t *testing.T) {
	env := newTestEnv(t)
	trade := env.seedTrade(t, "trade-1", 40, 100)
	trade.Status = model.TradeSettled
	env.store.trades["trade-1"] = trade

	_, err := env.svc.SettleTrade(context.Background(), "trade-1")
	if !errors.Is(err, service.ErrTradeNotPending) {
		t.Fatalf("err = %v, want ErrTradeNotPending", err)
	}
}

func TestSettleTrade_UnknownTrade(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.SettleTrade(context.Background(), "missing")
	if !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSettleTrade_InsufficientLedgerShares(t *testing.T) {
	env := newTestEnv(t)
	env.seedTrade(t, "trade-1", 40, 10)
	// a stale portfolio view claiming enough shares must not help
	env.store.holdings[holdingKey("seller", "FUND-A")] = model.PortfolioHolding{
		UserID: "seller", ProductID: "FUND-A", Quantity: 100, CostBasis: decimal.NewFromInt(500),
	}

	wf, err := env.svc.SettleTrade(context.Background(), "trade-1")
	if !errors.Is(err, service.ErrInsufficientShares) {
		t.Fatalf("err = %v, want ErrInsufficientShares", err)
	}
	if wf.Status != model.WorkflowFailed {
		t.Errorf("workflow status = %s, want failed", wf.Status)
	}
	if got := stepStatus(t, wf, model.StepValidateOwnership); got != model.StepFailed {
		t.Errorf("validate step = %s, want failed", got)
	}
}

func TestSettleTrade_CustodianOwnershipMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.seedTrade(t, "trade-1", 40, 100)
	env.custodian.balances["acct-seller"] = []custodianModel.Balance{
		{Account: "acct-seller", Symbol: "FUND-A", Quantity: 10},
	}

	wf, err := env.svc.SettleTrade(context.Background(), "trade-1")
	if !errors.Is(err, service.ErrOwnershipMismatch) {
		t.Fatalf("err = %v, want ErrOwnershipMismatch", err)
	}
	if got := stepStatus(t, wf, model.StepValidateOwnership); got != model.StepFailed {
		t.Errorf("validate step = %s, want failed", got)
	}
}

func TestSettleTrade_DuplicateActiveTransfer(t *testing.T) {
	env := newTestEnv(t)
	env.seedTrade(t, "trade-1", 40, 100)
	env.store.transfers["existing"] = model.CustodialTransfer{
		TransferID: "existing",
		TradeID:    "trade-1",
		Status:     model.TransferSubmitted,
	}

	wf, err := env.svc.SettleTrade(context.Background(), "trade-1")
	if !errors.Is(err, service.ErrTransferInProgress) {
		t.Fatalf("err = %v, want ErrTransferInProgress", err)
	}
	if wf.Status != model.WorkflowFailed {
		t.Errorf("workflow status = %s, want failed", wf.Status)
	}
	if got := stepStatus(t, wf, model.StepInitiateTransfer); got != model.StepFailed {
		t.Errorf("initiate step = %s, want failed", got)
	}
}

func TestSettleTrade_SettlementRollback(t *testing.T) {
	env := newTestEnv(t)
	env.seedTrade(t, "trade-1", 40, 100)
	env.custodian.settleErr = fmt.Errorf("ledger write refused")

	wf, err := env.svc.SettleTrade(context.Background(), "trade-1")
	if !errors.Is(err, service.ErrSettlementRollback) {
		t.Fatalf("err = %v, want ErrSettlementRollback", err)
	}

	// all settlement mutations rolled back
	sellerQty, _ := env.store.GetActiveQuantity(context.Background(), "seller", "FUND-A")
	buyerQty, _ := env.store.GetActiveQuantity(context.Background(), "buyer", "FUND-A")
	if sellerQty != 100 || buyerQty != 0 {
		t.Errorf("ledger quantities = %d/%d, want 100/0", sellerQty, buyerQty)
	}
	if got := env.store.holdings[holdingKey("seller", "FUND-A")].Quantity; got != 100 {
		t.Errorf("seller holding = %d, want 100", got)
	}

	// the transfer survives as confirmed for a later retry
	transfer := env.store.transfers[wf.TransferID]
	if transfer.Status != model.TransferConfirmed {
		t.Errorf("transfer status = %s, want confirmed", transfer.Status)
	}

	// step completions recorded inside the transaction rolled back too
	if got := stepStatus(t, wf, model.StepUpdateRegister); got == model.StepCompleted {
		t.Errorf("update_share_register step = %s, should not be completed", got)
	}
	if wf.Status != model.WorkflowFailed {
		t.Errorf("workflow status = %s, want failed", wf.Status)
	}

	found := false
	for _, m := range env.alerter.messages {
		if strings.Contains(m, "CRITICAL") {
			found = true
		}
	}
	if !found {
		t.Error("rollback should raise a critical alert")
	}
}

func TestSettleTrade_StaleLowPortfolioRollsBack(t *testing.T) {
	env := newTestEnv(t)
	env.seedTrade(t, "trade-1", 40, 100)
	// the derived view drifted below the ledger; decrementing it by 40
	// would go negative and must abort the whole settlement
	env.store.holdings[holdingKey("seller", "FUND-A")] = model.PortfolioHolding{
		UserID: "seller", ProductID: "FUND-A", Quantity: 10, CostBasis: decimal.NewFromInt(50),
	}

	wf, err := env.svc.SettleTrade(context.Background(), "trade-1")
	if !errors.Is(err, service.ErrSettlementRollback) {
		t.Fatalf("err = %v, want ErrSettlementRollback", err)
	}

	// the ledger move rolled back with the rest of the transaction
	sellerQty, _ := env.store.GetActiveQuantity(context.Background(), "seller", "FUND-A")
	buyerQty, _ := env.store.GetActiveQuantity(context.Background(), "buyer", "FUND-A")
	if sellerQty != 100 || buyerQty != 0 {
		t.Errorf("ledger quantities = %d/%d, want 100/0", sellerQty, buyerQty)
	}
	if got := env.store.holdings[holdingKey("seller", "FUND-A")].Quantity; got != 10 {
		t.Errorf("seller holding = %d, want untouched 10", got)
	}

	transfer := env.store.transfers[wf.TransferID]
	if transfer.Status != model.TransferConfirmed {
		t.Errorf("transfer status = %s, want confirmed", transfer.Status)
	}
	if got := stepStatus(t, wf, model.StepUpdatePortfolios); got == model.StepCompleted {
		t.Errorf("update_portfolios step = %s, should not be completed", got)
	}

	found := false
	for _, m := range env.alerter.messages {
		if strings.Contains(m, "CRITICAL") {
			found = true
		}
	}
	if !found {
		t.Error("drifted portfolio rollback should raise a critical alert")
	}
}

func TestSettle_RequiresConfirmed(t *testing.T) {
	env := newTestEnv(t)
	env.seedTrade(t, "trade-1", 40, 100)
	env.store.transfers["tr-1"] = model.CustodialTransfer{
		TransferID: "tr-1", TradeID: "trade-1", Status: model.TransferPending,
	}

	err := env.svc.Settle(context.Background(), "tr-1")
	if !errors.Is(err, service.ErrInvalidTransferState) {
		t.Fatalf("err = %v, want ErrInvalidTransferState", err)
	}
}

func TestFail_MarksTradeFailed(t *testing.T) {
	env := newTestEnv(t)
	env.seedTrade(t, "trade-1", 40, 100)
	env.store.transfers["tr-1"] = model.CustodialTransfer{
		TransferID: "tr-1", TradeID: "trade-1",
		FromUserID: "seller", ToUserID: "buyer", ProductID: "FUND-A",
		Quantity: 40, Status: model.TransferSubmitted,
	}

	if err := env.svc.Fail(context.Background(), "tr-1", "custodian rejected"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	if got := env.store.transfers["tr-1"].Status; got != model.TransferFailed {
		t.Errorf("transfer status = %s, want failed", got)
	}
	if got := env.store.transfers["tr-1"].FailureReason; got != "custodian rejected" {
		t.Errorf("failure reason = %q", got)
	}
	if got := env.store.trades["trade-1"].Status; got != model.TradeFailed {
		t.Errorf("trade status = %s, want failed", got)
	}

	// failing a transfer never touches the register
	sellerQty, _ := env.store.GetActiveQuantity(context.Background(), "seller", "FUND-A")
	if sellerQty != 100 {
		t.Errorf("seller ledger quantity = %d, want 100", sellerQty)
	}
}

func TestCancel_LeavesTradeAlone(t *testing.T) {
	env := newTestEnv(t)
	trade := env.seedTrade(t, "trade-1", 40, 100)
	trade.Status = model.TradeFailed
	env.store.trades["trade-1"] = trade
	env.store.transfers["tr-1"] = model.CustodialTransfer{
		TransferID: "tr-1", TradeID: "trade-1", Status: model.TransferPending,
	}

	if err := env.svc.Cancel(context.Background(), "tr-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if got := env.store.transfers["tr-1"].Status; got != model.TransferCancelled {
		t.Errorf("transfer status = %s, want cancelled", got)
	}
	if got := env.store.trades["trade-1"].Status; got != model.TradeFailed {
		t.Errorf("trade status = %s, want failed (untouched)", got)
	}
}

func TestTransitionFromTerminalState(t *testing.T) {
	env := newTestEnv(t)
	env.seedTrade(t, "trade-1", 40, 100)
	env.store.transfers["tr-1"] = model.CustodialTransfer{
		TransferID: "tr-1", TradeID: "trade-1", Status: model.TransferSettled,
	}

	if err := env.svc.Cancel(context.Background(), "tr-1"); !errors.Is(err, service.ErrInvalidTransferState) {
		t.Errorf("Cancel on settled = %v, want ErrInvalidTransferState", err)
	}
	if err := env.svc.Fail(context.Background(), "tr-1", "x"); !errors.Is(err, service.ErrInvalidTransferState) {
		t.Errorf("Fail on settled = %v, want ErrInvalidTransferState", err)
	}
}
