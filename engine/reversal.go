/*
reversal.go - Exact inverse of a recorded allocation

PURPOSE:
  When the payment behind an allocation is deleted, its effect is undone
  against the CURRENT state of the unit, not by rewriting history. Each line's
  contribution is subtracted from the obligation it touched, statuses are
  re-derived, and one ledger entry negates the original credit delta.

  Later payments may have moved the obligations forward since. That is fine:
  only this allocation's contribution is removed.

LEDGER ENTRY:
  original delta  +21,000 (credit_added)  -> reversal -21,000 (credit_used)
  original delta  -8,000  (credit_used)   -> reversal +8,000  (credit_added)
  original delta  0                       -> reversal 0       (reconciliation)

  The reversal entry is written even when the amount is zero. Its source id,
  "<txid>_reversal", is what makes a second reversal detectable. The ledger
  refuses that suffix on every other entry, so no payment or adjustment can
  pose as a reversal.

ERRORS:
  ErrAlreadyReversed     The ledger already holds "<txid>_reversal"
  ErrObligationNotFound  A line references an obligation not supplied
  ErrInvalidState        A line would take a paid component below zero, or
                         the reversal would leave the credit balance negative
                         (the overpayment was spent since)

SEE ALSO:
  - allocator.go: Produces the AllocationResult consumed here
*/
package engine

import (
	"fmt"
	"slices"
)

// ReversalRequest is the recorded allocation plus the unit's current state.
type ReversalRequest struct {
	Allocation  AllocationResult
	Obligations []Obligation
	Ledger      CreditLedger
}

// ReversalLine is the inverse applied to one obligation.
type ReversalLine struct {
	ObligationID    ObligationID     `json:"obligation_id"`
	Reverted        Split            `json:"reverted"`
	ResultingStatus ObligationStatus `json:"resulting_status"`
}

// ReversalResult is the proposed new state after undoing an allocation.
type ReversalResult struct {
	UnitID              UnitID
	SourceTransactionID TransactionID
	Lines               []ReversalLine
	Updated             []Obligation
	LedgerDelta         LedgerDelta
}

// Reverse computes the inverse of req.Allocation against the current
// obligations and ledger. It never mutates its input.
func Reverse(req ReversalRequest) (*ReversalResult, error) {
	alloc := req.Allocation
	if alloc.SourceTransactionID == "" {
		return nil, invalidArgument("allocation has no source transaction id")
	}
	if alloc.UnitID == "" {
		return nil, invalidArgument("allocation has no unit id")
	}
	if req.Ledger.UnitID() != "" && req.Ledger.UnitID() != alloc.UnitID {
		return nil, invalidArgument("ledger of unit %s supplied for allocation on unit %s", req.Ledger.UnitID(), alloc.UnitID)
	}

	reversalSource := ReversalSourceID(alloc.SourceTransactionID)
	if req.Ledger.HasSource(reversalSource) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyReversed, alloc.SourceTransactionID)
	}

	original, hasOriginal := req.Ledger.FindBySource(alloc.SourceTransactionID)
	if alloc.CreditDelta != 0 && !hasOriginal {
		return nil, invalidState("ledger has no entry for %s", alloc.SourceTransactionID)
	}

	current := indexObligations(req.Obligations)
	result := &ReversalResult{
		UnitID:              alloc.UnitID,
		SourceTransactionID: alloc.SourceTransactionID,
	}

	touched := make([]ObligationID, 0, len(alloc.Lines))
	for _, line := range alloc.Lines {
		ob, ok := current[line.ObligationID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrObligationNotFound, line.ObligationID)
		}
		if ob.UnitID != alloc.UnitID {
			return nil, invalidState("obligation %s belongs to unit %s, not %s", ob.ID, ob.UnitID, alloc.UnitID)
		}

		c := line.Contribution()
		if c.Base > ob.BasePaid || c.Penalty > ob.PenaltyPaid {
			return nil, invalidState("obligation %s has paid base %s penalty %s, cannot revert base %s penalty %s",
				ob.ID, ob.BasePaid, ob.PenaltyPaid, c.Base, c.Penalty)
		}

		reverted := ob.applySplit(Split{Base: c.Base.Neg(), Penalty: c.Penalty.Neg()})
		if !slices.Contains(touched, ob.ID) {
			touched = append(touched, ob.ID)
		}
		current[ob.ID] = reverted

		result.Lines = append(result.Lines, ReversalLine{
			ObligationID:    ob.ID,
			Reverted:        c,
			ResultingStatus: reverted.Status(),
		})
	}

	for _, id := range touched {
		result.Updated = append(result.Updated, current[id])
	}

	result.LedgerDelta = reversalDelta(alloc, original, hasOriginal)
	if _, err := req.Ledger.Next(result.LedgerDelta, "", alloc.AsOf.Time); err != nil {
		return nil, err
	}

	return result, nil
}

func reversalDelta(alloc AllocationResult, original CreditEntry, hasOriginal bool) LedgerDelta {
	amount := alloc.CreditDelta.Neg()

	typ := EntryReconciliation
	switch {
	case amount > 0:
		typ = EntryCreditAdded
	case amount < 0:
		typ = EntryCreditUsed
	}

	notes := fmt.Sprintf("reversal of %s", alloc.SourceTransactionID)
	if hasOriginal {
		notes = fmt.Sprintf("reversal of entry %s (%s %s) from %s",
			original.ID, original.Type, original.Amount, alloc.SourceTransactionID)
	}

	return LedgerDelta{
		Type:                typ,
		Amount:              amount,
		SourceTransactionID: ReversalSourceID(alloc.SourceTransactionID),
		Notes:               notes,
		Reversal:            true,
	}
}
