package reconciliationService

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/piq110/capcore-backend-sub001/config"
	"github.com/piq110/capcore-backend-sub001/data/repository"
	"github.com/piq110/capcore-backend-sub001/internal/metrics"
	"github.com/piq110/capcore-backend-sub001/internal/model"
	"github.com/piq110/capcore-backend-sub001/internal/model/custodianModel"
	"github.com/piq110/capcore-backend-sub001/utils"
)

type CustodianApi interface {
	GetBalances(ctx context.Context, accountFilter string) ([]custodianModel.Balance, error)
}

type Alerter interface {
	Alert(ctx context.Context, message string) error
}

type Repository interface {
	GetUsersWithHoldings(ctx context.Context) ([]string, error)
	GetActiveProducts(ctx context.Context) ([]string, error)
	GetHolding(ctx context.Context, userID, productID string) (model.PortfolioHolding, error)
	GetActiveQuantity(ctx context.Context, ownerID, productID string) (int, error)
	SetHoldingQuantity(ctx context.Context, userID, productID string, quantity int) error
}

// ReconciliationService compares the three quantity sources for each
// user/product pair: the cached-facing portfolio table, the share register
// (ledger) and the custodian's books. Runs are point-in-time snapshots;
// a transfer settling mid-run can produce transient drift, which is why
// corrections above low severity are never applied automatically.
type ReconciliationService struct {
	repo         Repository
	custodianApi CustodianApi
	alerter      Alerter
	workers      int
	autoCorrect  bool
}

func New(cfg *config.Config, repo Repository, custodianApi CustodianApi, alerter Alerter) *ReconciliationService {
	workers := cfg.Reconciliation.Workers
	if workers <= 0 {
		workers = 1
	}
	return &ReconciliationService{
		repo:         repo,
		custodianApi: custodianApi,
		alerter:      alerter,
		workers:      workers,
		autoCorrect:  cfg.Reconciliation.AutoCorrect,
	}
}

func custodianAccount(userID string) string {
	return "acct-" + userID
}

// ReconcileUserProduct checks one user/product pair and returns every
// pairwise mismatch among the three sources.
func (s *ReconciliationService) ReconcileUserProduct(ctx context.Context, userID, productID string) (discrepancies []model.Discrepancy, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "ReconciliationService.ReconcileUserProduct"

	slog.Debug("ReconcileUserProduct start", slog.String("rqID", rqID), slog.String("op", op), slog.String("userID", userID), slog.String("productID", productID))
	defer func() {
		if err != nil {
			slog.Error("ReconcileUserProduct failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("ReconcileUserProduct completed", slog.String("rqID", rqID), slog.String("op", op), slog.Int("discrepancies", len(discrepancies)))
		}
	}()

	platformQty := 0
	holding, err := s.repo.GetHolding(ctx, userID, productID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if err == nil {
		platformQty = holding.Quantity
	}

	registerQty, err := s.repo.GetActiveQuantity(ctx, userID, productID)
	if err != nil {
		return nil, err
	}

	custodianQty := 0
	balances, err := s.custodianApi.GetBalances(ctx, custodianAccount(userID))
	if err != nil {
		return nil, err
	}
	for _, balance := range balances {
		if balance.Symbol == productID {
			custodianQty += balance.Quantity
		}
	}

	pairs := []struct {
		typ  model.DiscrepancyType
		a, b int
	}{
		{model.DiscrepancyPlatformVsRegister, platformQty, registerQty},
		{model.DiscrepancyRegisterVsCustodian, registerQty, custodianQty},
		{model.DiscrepancyPlatformVsCustodian, platformQty, custodianQty},
	}
	for _, pair := range pairs {
		if pair.a == pair.b {
			continue
		}
		severity := model.SeverityFromQuantities(pair.a, pair.b)
		discrepancies = append(discrepancies, model.Discrepancy{
			Type:              pair.typ,
			UserID:            userID,
			ProductID:         productID,
			PlatformQuantity:  platformQty,
			RegisterQuantity:  registerQty,
			CustodianQuantity: custodianQty,
			Severity:          severity,
		})
		metrics.DiscrepanciesTotal.WithLabelValues(string(pair.typ), string(severity)).Inc()
	}

	return discrepancies, nil
}

// RunFullReconciliation sweeps every user/product combination and, unless
// dryRun is set, applies corrections through AutoCorrect. Pair errors are
// logged and skipped so one user's custodian outage does not abort the run.
func (s *ReconciliationService) RunFullReconciliation(ctx context.Context, dryRun bool) (report model.ReconciliationReport, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "ReconciliationService.RunFullReconciliation"

	slog.Info("RunFullReconciliation start", slog.String("rqID", rqID), slog.String("op", op), slog.Bool("dryRun", dryRun))
	defer func() {
		if err != nil {
			slog.Error("RunFullReconciliation failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Info(
				"RunFullReconciliation completed",
				slog.String("rqID", rqID),
				slog.String("op", op),
				slog.Int("checked", report.Checked),
				slog.Int("discrepancies", len(report.Discrepancies)),
				slog.Int("corrections", len(report.Corrections)),
			)
		}
	}()

	report = model.ReconciliationReport{StartedAt: time.Now(), DryRun: dryRun}

	users, err := s.repo.GetUsersWithHoldings(ctx)
	if err != nil {
		return report, err
	}
	products, err := s.repo.GetActiveProducts(ctx)
	if err != nil {
		return report, err
	}

	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(s.workers)
	for _, userID := range users {
		for _, productID := range products {
			userID, productID := userID, productID
			p.Go(func() {
				if ctx.Err() != nil {
					return
				}
				found, pairErr := s.ReconcileUserProduct(ctx, userID, productID)
				mu.Lock()
				defer mu.Unlock()
				report.Checked++
				if pairErr != nil {
					slog.Error(
						"reconciliation pair skipped",
						slog.String("rqID", rqID),
						slog.String("op", op),
						slog.String("userID", userID),
						slog.String("productID", productID),
						slog.String("err", pairErr.Error()),
					)
					return
				}
				report.Discrepancies = append(report.Discrepancies, found...)
			})
		}
	}
	p.Wait()

	if ctx.Err() != nil {
		return report, ctx.Err()
	}

	corrections, err := s.AutoCorrect(ctx, report.Discrepancies, dryRun)
	if err != nil {
		return report, err
	}
	report.Corrections = corrections
	report.FinishedAt = time.Now()

	return report, nil
}

// AutoCorrect proposes a correction for every platform-vs-register
// discrepancy: the register is the source of truth, so the portfolio row is
// rewritten to the register quantity. In dry-run mode nothing is mutated.
// Live mode applies only low-severity corrections, and only when the
// service is configured for auto-correction; everything above low is
// escalated to an operator instead.
func (s *ReconciliationService) AutoCorrect(ctx context.Context, discrepancies []model.Discrepancy, dryRun bool) (corrections []model.CorrectionAction, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "ReconciliationService.AutoCorrect"

	slog.Debug("AutoCorrect start", slog.String("rqID", rqID), slog.String("op", op), slog.Int("discrepancies", len(discrepancies)), slog.Bool("dryRun", dryRun))
	defer func() {
		if err != nil {
			slog.Error("AutoCorrect failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("AutoCorrect completed", slog.String("rqID", rqID), slog.String("op", op), slog.Int("corrections", len(corrections)))
		}
	}()

	for _, d := range discrepancies {
		if d.Type != model.DiscrepancyPlatformVsRegister {
			// custodian-side drift has no local fix; escalate anything
			// above low to an operator
			if !dryRun && d.Severity != model.SeverityLow {
				s.alert(ctx, fmt.Sprintf(
					"reconciliation: %s discrepancy (%s) for user %s product %s: platform=%d register=%d custodian=%d",
					d.Type, d.Severity, d.UserID, d.ProductID, d.PlatformQuantity, d.RegisterQuantity, d.CustodianQuantity,
				))
			}
			continue
		}

		action := model.CorrectionAction{
			UserID:      d.UserID,
			ProductID:   d.ProductID,
			FromQty:     d.PlatformQuantity,
			ToQty:       d.RegisterQuantity,
			Description: fmt.Sprintf("rewrite portfolio quantity to share register value (%s)", d.Severity),
		}

		if dryRun {
			corrections = append(corrections, action)
			continue
		}

		if d.Severity != model.SeverityLow || !s.autoCorrect {
			s.alert(ctx, fmt.Sprintf(
				"reconciliation: %s discrepancy (%s) for user %s product %s needs manual correction: platform=%d register=%d",
				d.Type, d.Severity, d.UserID, d.ProductID, d.PlatformQuantity, d.RegisterQuantity,
			))
			corrections = append(corrections, action)
			continue
		}

		if err := s.repo.SetHoldingQuantity(ctx, d.UserID, d.ProductID, d.RegisterQuantity); err != nil {
			return corrections, fmt.Errorf("correct holding for user %s product %s: %w", d.UserID, d.ProductID, err)
		}
		action.Applied = true
		corrections = append(corrections, action)
		slog.Info(
			"portfolio quantity corrected",
			slog.String("rqID", rqID),
			slog.String("op", op),
			slog.String("userID", d.UserID),
			slog.String("productID", d.ProductID),
			slog.Int("from", d.PlatformQuantity),
			slog.Int("to", d.RegisterQuantity),
		)
	}

	return corrections, nil
}

func (s *ReconciliationService) alert(ctx context.Context, message string) {
	if s.alerter == nil {
		return
	}
	if err := s.alerter.Alert(ctx, message); err != nil {
		slog.Error("failed to deliver alert", slog.String("err", err.Error()), slog.String("message", message))
	}
}
