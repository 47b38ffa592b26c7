package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type DiscrepancyType string

const (
	DiscrepancyPlatformVsRegister  DiscrepancyType = "platform_vs_register"
	DiscrepancyRegisterVsCustodian DiscrepancyType = "register_vs_custodian"
	DiscrepancyPlatformVsCustodian DiscrepancyType = "platform_vs_custodian"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityFromQuantities grades the drift between two quantities by the
// absolute difference as a percentage of the larger side. A nonzero
// difference against a zero base is always critical.
func SeverityFromQuantities(a, b int) Severity {
	if a == b {
		return SeverityLow
	}

	larger := a
	if b > larger {
		larger = b
	}
	if larger == 0 || a == 0 || b == 0 {
		return SeverityCritical
	}

	diff := a - b
	if diff < 0 {
		diff = -diff
	}

	pct := decimal.NewFromInt(int64(diff)).
		Div(decimal.NewFromInt(int64(larger))).
		Mul(decimal.NewFromInt(100))

	switch {
	case pct.GreaterThanOrEqual(decimal.NewFromInt(10)):
		return SeverityCritical
	case pct.GreaterThanOrEqual(decimal.NewFromInt(5)):
		return SeverityHigh
	case pct.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Discrepancy is one pairwise mismatch found by a reconciliation run. Runs
// are point-in-time snapshots; discrepancies are reported, not persisted.
type Discrepancy struct {
	Type              DiscrepancyType
	UserID            string
	ProductID         string
	PlatformQuantity  int
	RegisterQuantity  int
	CustodianQuantity int
	Severity          Severity
}

type CorrectionAction struct {
	UserID      string
	ProductID   string
	FromQty     int
	ToQty       int
	Description string
	Applied     bool
}

type ReconciliationReport struct {
	StartedAt     time.Time
	FinishedAt    time.Time
	Checked       int
	Discrepancies []Discrepancy
	Corrections   []CorrectionAction
	DryRun        bool
}
