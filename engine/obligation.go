package engine

import "github.com/google/uuid"

// =============================================================================
// OBLIGATION - One unit's bill for one period in one module
// =============================================================================

// ObligationStatus is always derived from totals. See Obligation.Status.
type ObligationStatus string

const (
	StatusUnpaid  ObligationStatus = "unpaid"
	StatusPartial ObligationStatus = "partial"
	StatusPaid    ObligationStatus = "paid"
)

// Obligation is an outstanding charge owned by its billing module's storage.
// The engine reads obligations and proposes new values; it never writes them.
type Obligation struct {
	ID      ObligationID
	UnitID  UnitID
	Module  Module
	Period  PeriodKey
	DueDate Date

	BaseCharge     Money
	PenaltyAccrued Money
	BasePaid       Money
	PenaltyPaid    Money

	// Description is free text for statements, e.g. "Water Q1 (41 m3)".
	Description string
}

// Owed is the full amount of the obligation, base plus accrued penalty.
func (o Obligation) Owed() Money { return o.BaseCharge + o.PenaltyAccrued }

// Paid is everything paid against the obligation so far.
func (o Obligation) Paid() Money { return o.BasePaid + o.PenaltyPaid }

// Outstanding is what remains to be paid, never negative.
func (o Obligation) Outstanding() Money { return (o.Owed() - o.Paid()).Max(0) }

func (o Obligation) PenaltyOutstanding() Money { return (o.PenaltyAccrued - o.PenaltyPaid).Max(0) }
func (o Obligation) BaseOutstanding() Money    { return (o.BaseCharge - o.BasePaid).Max(0) }

// Status derives the payment status:
//
//	paid    iff paid >= owed
//	partial iff 0 < paid < owed
//	unpaid  otherwise
func (o Obligation) Status() ObligationStatus {
	paid, owed := o.Paid(), o.Owed()
	switch {
	case paid >= owed:
		return StatusPaid
	case paid > 0:
		return StatusPartial
	default:
		return StatusUnpaid
	}
}

// Validate checks component sanity. Failures wrap ErrInvalidState because
// obligations come from storage, not from the caller's request.
func (o Obligation) Validate() error {
	switch {
	case o.ID == "":
		return invalidState("obligation without id")
	case o.Module == nil:
		return invalidState("obligation %s has no module", o.ID)
	case o.BaseCharge < 0 || o.PenaltyAccrued < 0:
		return invalidState("obligation %s has a negative charge", o.ID)
	case o.BasePaid < 0 || o.PenaltyPaid < 0:
		return invalidState("obligation %s has a negative paid amount", o.ID)
	case o.BasePaid > o.BaseCharge:
		return invalidState("obligation %s base overpaid (%s > %s)", o.ID, o.BasePaid, o.BaseCharge)
	case o.PenaltyPaid > o.PenaltyAccrued:
		return invalidState("obligation %s penalty overpaid (%s > %s)", o.ID, o.PenaltyPaid, o.PenaltyAccrued)
	}
	return nil
}

// applySplit returns o with s added to (or, for a negative split,
// subtracted from) its paid components.
func (o Obligation) applySplit(s Split) Obligation {
	o.BasePaid += s.Base
	o.PenaltyPaid += s.Penalty
	return o
}

func indexObligations(obs []Obligation) map[ObligationID]Obligation {
	m := make(map[ObligationID]Obligation, len(obs))
	for _, o := range obs {
		m[o.ID] = o
	}
	return m
}

// ObligationIDFor derives the id of a unit's obligation for one module period.
// Billing the same period twice yields the same id.
func ObligationIDFor(unitID UnitID, m Module, key PeriodKey) ObligationID {
	name := string(unitID) + "/" + moduleID(m) + "/" + key.String()
	return ObligationID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String())
}
