/*
Package engine provides the payment allocation and credit ledger core.

PURPOSE:
  This package contains the pure business logic that decides where a unit's
  payment goes. Given a payment amount, the unit's outstanding obligations
  across every billing module and the unit's credit balance, it produces an
  allocation breakdown and exactly one credit ledger delta. Deleting the
  payment later replays the exact inverse against the current state.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: An integer count of minor currency units (cents/centavos)
  - Split: The base/penalty division of an amount paid against a bill
  - IDs: Type-safe identifiers for units, clients, obligations, transactions

DESIGN PRINCIPLES:
  1. Purity: Allocate and Reverse read their inputs and return proposals.
     They never write. The caller persists inside one atomic write per unit.
  2. Integer money: No float ever touches a comparison or an accumulation.
  3. Derived state: Obligation status and credit balance are computed from
     totals and the ledger, never stored as a second source of truth.
  4. Append-only credit: Corrections are new ledger entries, never edits.

USAGE:
  alloc := engine.NewAllocator(engine.DefaultModuleOrder)
  result, err := alloc.Allocate(engine.AllocationRequest{
      UnitID:              "unit-4B",
      SourceTransactionID: "txn-001",
      PaymentAmount:       60000,
      AsOf:                engine.NewDate(2026, time.August, 15),
      Obligations:         outstanding,
      CreditBalance:       ledger.CurrentBalance(),
      Config:              cfg,
  })

SEE ALSO:
  - fiscal.go: Fiscal calendar
  - penalty.go: Penalty accrual
  - ledger.go: Credit ledger
  - allocator.go: Payment allocation
  - reversal.go: Allocation reversal
*/
package engine

import (
	"strconv"
	"strings"
)

// =============================================================================
// MONEY - Integer minor units
// =============================================================================

// Money is an amount in the minor currency unit. 100 = one major unit.
type Money int64

func (m Money) IsZero() bool     { return m == 0 }
func (m Money) IsNegative() bool { return m < 0 }
func (m Money) IsPositive() bool { return m > 0 }
func (m Money) Neg() Money       { return -m }

func (m Money) Min(o Money) Money {
	if m < o {
		return m
	}
	return o
}

func (m Money) Max(o Money) Money {
	if m > o {
		return m
	}
	return o
}

// String renders the amount in major units with two decimals, e.g. "440.00".
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	cents := v % 100
	pad := ""
	if cents < 10 {
		pad = "0"
	}
	return sign + strconv.FormatInt(v/100, 10) + "." + pad + strconv.FormatInt(cents, 10)
}

// Split divides an amount paid against an obligation into its components.
type Split struct {
	Base    Money `json:"base"`
	Penalty Money `json:"penalty"`
}

func (s Split) Total() Money { return s.Base + s.Penalty }
func (s Split) IsZero() bool { return s.Base == 0 && s.Penalty == 0 }
func (s Split) Add(o Split) Split { return Split{Base: s.Base + o.Base, Penalty: s.Penalty + o.Penalty} }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UnitID string
type ClientID string
type ObligationID string
type TransactionID string
type EntryID string

// ReversalSuffix is appended to a payment's transaction id to tag the ledger
// entry that reverses it.
const ReversalSuffix = "_reversal"

// ReversalSourceID returns the ledger source id used by the reversal of txID.
func ReversalSourceID(txID TransactionID) TransactionID {
	return txID + ReversalSuffix
}

// IsReversalSourceID reports whether id carries ReversalSuffix. Such ids are
// reserved for reversal entries; payments and adjustments may not use them.
func IsReversalSourceID(id TransactionID) bool {
	return strings.HasSuffix(string(id), ReversalSuffix)
}

// =============================================================================
// UNIT - The billed party
// =============================================================================

// Unit is one property unit belonging to a client (an association).
type Unit struct {
	ID       UnitID
	ClientID ClientID
	Label    string
}
