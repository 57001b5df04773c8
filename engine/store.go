/*
store.go - Persistence interfaces for units, obligations, credit and payments

PURPOSE:
  Defines the boundary between the pure core and the database. The core never
  calls these; the payments service does, around each Allocate or Reverse.

READ-COMPUTE-WRITE:
  1. LoadUnit returns everything one computation needs plus the unit version
  2. The caller runs the pure core over that snapshot
  3. CommitUnit writes the proposal atomically, but only if the version is
     still the one read in step 1. Otherwise ErrConcurrentModification and
     the caller starts again from step 1 with fresh data.

  Units are independent: a commit on one unit never waits on another.

APPEND-ONLY CONTRACT:
  Credit entries are only ever inserted. Obligations are upserted, never
  deleted. Payments are marked reversed, never removed.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - engine/store/memory.go: In-memory for testing

SEE ALSO:
  - payments/service.go: The only caller of CommitUnit
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// RECORDS
// =============================================================================

// Client is an association with its own fiscal calendar.
type Client struct {
	ID     ClientID
	Name   string
	Config FiscalConfig
}

// UnitState is a consistent snapshot of one unit.
type UnitState struct {
	Unit        Unit
	Config      FiscalConfig
	Obligations []Obligation // all of them, paid included, ordered by due date
	Ledger      CreditLedger
	Version     int64
}

// Outstanding returns the obligations that are not yet paid.
func (s UnitState) Outstanding() []Obligation {
	var out []Obligation
	for _, ob := range s.Obligations {
		if ob.Status() != StatusPaid {
			out = append(out, ob)
		}
	}
	return out
}

// PaymentRecord is a recorded payment and the allocation it produced. The
// allocation is what a later deletion reverses.
type PaymentRecord struct {
	TransactionID TransactionID
	UnitID        UnitID
	Amount        Money
	AsOf          Date
	RecordedAt    time.Time
	Notes         string
	Allocation    AllocationResult
	ReversedAt    *time.Time
}

// Reversed reports whether the payment was deleted.
func (p PaymentRecord) Reversed() bool { return p.ReversedAt != nil }

// UnitWrite is one atomic change to a unit.
type UnitWrite struct {
	// Obligations are upserted by id.
	Obligations []Obligation

	// Entry is appended to the credit ledger. The caller computes it from
	// the ledger it loaded (CreditLedger.Next); the version check guarantees
	// the tail has not moved.
	Entry *CreditEntry

	// Payment is inserted. Its transaction id must be new.
	Payment *PaymentRecord

	// ReversedPayment marks an existing payment as reversed.
	ReversedPayment TransactionID

	At time.Time
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

// UnitStore is the optimistic read-compute-write boundary.
type UnitStore interface {
	// LoadUnit returns the unit's current state. ErrUnitNotFound if missing.
	LoadUnit(ctx context.Context, unitID UnitID) (*UnitState, error)

	// CommitUnit applies w if the unit is still at expectedVersion and
	// returns the new version. ErrConcurrentModification if it moved.
	CommitUnit(ctx context.Context, unitID UnitID, expectedVersion int64, w UnitWrite) (int64, error)
}

// PaymentStore reads recorded payments.
type PaymentStore interface {
	GetPayment(ctx context.Context, txID TransactionID) (*PaymentRecord, error)
	ListPayments(ctx context.Context, unitID UnitID) ([]PaymentRecord, error)
}

// DirectoryStore manages clients and units.
type DirectoryStore interface {
	SaveClient(ctx context.Context, c Client) error
	GetClient(ctx context.Context, id ClientID) (*Client, error)
	SaveUnit(ctx context.Context, u Unit) error
	ListUnits(ctx context.Context) ([]Unit, error)
}

// LedgerStore reads raw credit entries without verifying them.
type LedgerStore interface {
	LoadEntries(ctx context.Context, unitID UnitID) ([]CreditEntry, error)
}

// Store is everything the service layer needs.
type Store interface {
	UnitStore
	PaymentStore
	DirectoryStore
	LedgerStore
}
