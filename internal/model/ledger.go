package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type LedgerEntryStatus string

const (
	LedgerEntryActive      LedgerEntryStatus = "active"
	LedgerEntryTransferred LedgerEntryStatus = "transferred"
)

// LedgerEntry is one parcel of shares held by an owner. An owner may hold
// several entries per product (one per acquisition). Entries are never
// deleted: a fully drained entry is marked transferred and keeps its history.
type LedgerEntry struct {
	EntryID          int64
	OwnerID          string
	ProductID        string
	Quantity         int
	Status           LedgerEntryStatus
	AcquisitionPrice decimal.Decimal
	CreatedAt        time.Time
}

// TransferRecord is one row of an entry's transfer history.
type TransferRecord struct {
	TransferID string
	FromID     string
	ToID       string
	Quantity   int
	CreatedAt  time.Time
}
