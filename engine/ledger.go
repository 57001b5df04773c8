/*
ledger.go - Append-only per-unit credit ledger

PURPOSE:
  A unit's credit balance is money it paid beyond what it owed, held for
  future bills. The ledger is the source of truth: every change is an entry,
  and the balance is the running sum. The cached balance kept alongside the
  entries is derived from them and rebuilt whenever a ledger is loaded.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: Entries are never edited or deleted. Corrections are new
     entries (reconciliation, or the reversal of a payment).
  2. RUNNING SUM: entry[0].BalanceAfter == entry[0].Amount and
     entry[i].BalanceAfter == entry[i-1].BalanceAfter + entry[i].Amount.
  3. NON-NEGATIVE: No entry may leave the balance below zero.
  4. ORDER: Entries are ordered by Timestamp, then Sequence (insertion).
  5. RESERVED SOURCE: A source id ending in "_reversal" only appears on the
     entry written by Reverse.

ENTRY TYPES:
  starting_balance  Opening balance when a unit is migrated in. First only.
  credit_added      Positive. Overpayment routed to credit.
  credit_used       Negative. Credit drawn to pay bills, capped at balance.
  reconciliation    Either sign. Manual corrections and zero-amount markers.

EXAMPLE FLOW:
  1. starting_balance  +5,000   balance  5,000
  2. credit_added     +21,000   balance 26,000   (payment txn-7 overpaid)
  3. credit_used      -21,000   balance  5,000   (txn-7_reversal)

SEE ALSO:
  - allocator.go: Produces one LedgerDelta per payment
  - reversal.go: Produces the negated LedgerDelta
*/
package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ENTRY TYPES
// =============================================================================

type EntryType string

const (
	EntryStartingBalance EntryType = "starting_balance"
	EntryCreditAdded     EntryType = "credit_added"
	EntryCreditUsed      EntryType = "credit_used"
	EntryReconciliation  EntryType = "reconciliation"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case EntryStartingBalance, EntryCreditAdded, EntryCreditUsed, EntryReconciliation:
		return true
	}
	return false
}

// CreditEntry is one immutable ledger line.
type CreditEntry struct {
	ID                  EntryID
	UnitID              UnitID
	Timestamp           time.Time
	Sequence            int64
	Type                EntryType
	Amount              Money // signed
	BalanceAfter        Money
	SourceTransactionID TransactionID // empty when not tied to a payment
	Notes               string
}

// LedgerDelta is a proposed entry before the ledger assigns its id,
// sequence and running balance.
type LedgerDelta struct {
	Type                EntryType     `json:"type"`
	Amount              Money         `json:"amount"`
	SourceTransactionID TransactionID `json:"source_transaction_id,omitempty"`
	Notes               string        `json:"notes,omitempty"`

	// Reversal is set only by Reverse. A source id ending in ReversalSuffix
	// is accepted on reversal deltas and refused on every other delta.
	Reversal bool `json:"reversal,omitempty"`
}

// =============================================================================
// CREDIT LEDGER
// =============================================================================

// CreditLedger is one unit's ordered credit entries with the derived balance.
type CreditLedger struct {
	unitID  UnitID
	entries []CreditEntry
	balance Money
}

// NewCreditLedger builds a ledger from stored entries, which must already be
// in ledger order. The entries are verified before the balance is cached.
func NewCreditLedger(unitID UnitID, entries []CreditEntry) (CreditLedger, error) {
	for _, e := range entries {
		if e.UnitID != unitID {
			return CreditLedger{}, invalidState("entry %s belongs to unit %s, not %s", e.ID, e.UnitID, unitID)
		}
	}
	if err := VerifyEntries(entries); err != nil {
		return CreditLedger{}, err
	}
	l := CreditLedger{unitID: unitID, entries: append([]CreditEntry(nil), entries...)}
	if n := len(entries); n > 0 {
		l.balance = entries[n-1].BalanceAfter
	}
	return l, nil
}

// EmptyLedger returns a ledger with no entries.
func EmptyLedger(unitID UnitID) CreditLedger {
	return CreditLedger{unitID: unitID}
}

func (l CreditLedger) UnitID() UnitID { return l.unitID }

// CurrentBalance is the BalanceAfter of the last entry, or 0.
func (l CreditLedger) CurrentBalance() Money { return l.balance }

func (l CreditLedger) Len() int { return len(l.entries) }

// Entries returns a copy of the entries in ledger order.
func (l CreditLedger) Entries() []CreditEntry {
	return append([]CreditEntry(nil), l.entries...)
}

// Tail returns the last entry.
func (l CreditLedger) Tail() (CreditEntry, bool) {
	if len(l.entries) == 0 {
		return CreditEntry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// HasSource reports whether any entry was created for source.
func (l CreditLedger) HasSource(source TransactionID) bool {
	_, ok := l.FindBySource(source)
	return ok
}

// FindBySource returns the first entry created for source.
func (l CreditLedger) FindBySource(source TransactionID) (CreditEntry, bool) {
	if source == "" {
		return CreditEntry{}, false
	}
	for _, e := range l.entries {
		if e.SourceTransactionID == source {
			return e, true
		}
	}
	return CreditEntry{}, false
}

// Next computes the entry that appending d at time at would produce,
// without changing the ledger.
func (l CreditLedger) Next(d LedgerDelta, id EntryID, at time.Time) (CreditEntry, error) {
	if err := l.checkDelta(d); err != nil {
		return CreditEntry{}, err
	}

	seq := int64(1)
	ts := at.UTC()
	if tail, ok := l.Tail(); ok {
		seq = tail.Sequence + 1
		// Entries are ordered by timestamp first; a late clock must not
		// place the new entry before the tail.
		if ts.Before(tail.Timestamp) {
			ts = tail.Timestamp
		}
	}

	return CreditEntry{
		ID:                  id,
		UnitID:              l.unitID,
		Timestamp:           ts,
		Sequence:            seq,
		Type:                d.Type,
		Amount:              d.Amount,
		BalanceAfter:        l.balance + d.Amount,
		SourceTransactionID: d.SourceTransactionID,
		Notes:               d.Notes,
	}, nil
}

// AppendEntry appends d with a fresh entry id and returns the new entry.
func (l *CreditLedger) AppendEntry(d LedgerDelta, at time.Time) (CreditEntry, error) {
	e, err := l.Next(d, EntryID(uuid.NewString()), at)
	if err != nil {
		return CreditEntry{}, err
	}
	l.entries = append(l.entries, e)
	l.balance = e.BalanceAfter
	return e, nil
}

func (l CreditLedger) checkDelta(d LedgerDelta) error {
	if !d.Type.Valid() {
		return invalidArgument("unknown ledger entry type %q", d.Type)
	}
	switch d.Type {
	case EntryStartingBalance:
		if len(l.entries) > 0 {
			return invalidState("starting balance must be the first entry for unit %s", l.unitID)
		}
		if d.Amount < 0 {
			return invalidArgument("starting balance must not be negative")
		}
	case EntryCreditAdded:
		if d.Amount <= 0 {
			return invalidArgument("credit_added amount must be positive, got %s", d.Amount)
		}
	case EntryCreditUsed:
		if d.Amount >= 0 {
			return invalidArgument("credit_used amount must be negative, got %s", d.Amount)
		}
	}
	if IsReversalSourceID(d.Source()) != d.Reversal {
		if d.Reversal {
			return invalidArgument("reversal delta source %q must end in %s", d.Source(), ReversalSuffix)
		}
		return invalidArgument("source id %q is reserved for reversal entries", d.Source())
	}
	if d.Source() != "" && l.HasSource(d.Source()) {
		return fmt.Errorf("%w: ledger already has an entry for %s", ErrDuplicateTransaction, d.Source())
	}
	if l.balance+d.Amount < 0 {
		return &InsufficientCreditError{UnitID: l.unitID, Available: l.balance, Requested: d.Amount.Neg()}
	}
	return nil
}

// Source returns the delta's source transaction id.
func (d LedgerDelta) Source() TransactionID { return d.SourceTransactionID }

// =============================================================================
// VERIFICATION
// =============================================================================

// VerifyEntries checks the running-sum, non-negative and ordering
// invariants over one unit's entries.
func VerifyEntries(entries []CreditEntry) error {
	var prev CreditEntry
	for i, e := range entries {
		expected := e.Amount
		if i > 0 {
			expected = prev.BalanceAfter + e.Amount
			if e.Timestamp.Before(prev.Timestamp) ||
				(e.Timestamp.Equal(prev.Timestamp) && e.Sequence <= prev.Sequence) {
				return invalidState("entry %s out of order", e.ID)
			}
		}
		if e.BalanceAfter != expected {
			return invalidState("entry %d (%s): balance_after %s, expected %s", i, e.ID, e.BalanceAfter, expected)
		}
		if e.BalanceAfter < 0 {
			return invalidState("entry %d (%s): negative balance %s", i, e.ID, e.BalanceAfter)
		}
		prev = e
	}
	return nil
}
