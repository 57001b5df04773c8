/*
allocator.go - Payment allocation across obligations and credit

PURPOSE:
  Decides where one payment goes. All of a unit's outstanding obligations,
  from every billing module, form one oldest-first queue. The payment, then
  the unit's credit, are walked down that queue paying penalty before base.
  The result is a line per touched obligation plus exactly one credit delta.

ALGORITHM:
  1. Drop paid obligations; refresh the penalty of the rest as of AsOf.
  2. Sort by (DueDate, module rank, period, id). Module rank comes from the
     allocator's ModuleOrder (default: dues before water).
  3. funds = payment + credit. For each obligation:
       pay penalty outstanding, then base outstanding
       each component draws from the payment first, then from credit
  4. Stop when funds run out or the queue is empty.
  5. Payment left over  -> one credit_added delta (+remainder)
     Credit drawn down  -> one credit_used delta  (-consumed)
     Both can never happen: credit is only touched once payment is gone.
  6. UnallocatedRemainder must be 0. Anything else is a defect.

  ┌──────────────┐    ┌────────────────┐    ┌───────────────────────┐
  │ outstanding  │──▶ │ refresh penalty│──▶ │ sort oldest first     │
  └──────────────┘    └────────────────┘    └───────────────────────┘
                                                        │
                  ┌──────────────────────────────────────┘
                  ▼
  ┌────────────────────────────┐    ┌──────────────────────────────┐
  │ walk: penalty, then base   │──▶ │ lines + updated + one delta   │
  │ payment first, then credit │    └──────────────────────────────┘
  └────────────────────────────┘

EXAMPLE:
  dues 44,000 (no penalty), water 5,000 penalty + 50,000 base, payment 60,000
  dues  : base 44,000 from payment                        -> paid
  water : penalty 5,000, base 11,000 from payment         -> partial
  credit delta 0

SEE ALSO:
  - penalty.go: RefreshPenalty
  - reversal.go: The inverse
*/
package engine

import (
	"fmt"
	"sort"
)

// =============================================================================
// REQUEST / RESULT
// =============================================================================

// AllocationRequest is everything the allocator needs. The caller gathers it
// from storage before calling; the allocator does no I/O.
type AllocationRequest struct {
	UnitID              UnitID
	SourceTransactionID TransactionID
	PaymentAmount       Money
	AsOf                Date
	Obligations         []Obligation
	CreditBalance       Money
	Config              FiscalConfig
}

// AllocationLine is one obligation's share of a payment.
type AllocationLine struct {
	ObligationID    ObligationID     `json:"obligation_id"`
	Module          string           `json:"module"`
	Period          PeriodKey        `json:"period"`
	DueDate         Date             `json:"due_date"`
	FromPayment     Split            `json:"from_payment"`
	FromCredit      Split            `json:"from_credit"`
	ResultingStatus ObligationStatus `json:"resulting_status"`
}

// Total is everything this line paid, from payment and credit.
func (l AllocationLine) Total() Money { return l.FromPayment.Total() + l.FromCredit.Total() }

// Contribution is the line's combined base/penalty split.
func (l AllocationLine) Contribution() Split { return l.FromPayment.Add(l.FromCredit) }

// AllocationResult is the allocator's proposal. It is also the record kept
// with the payment so the allocation can be reversed later.
type AllocationResult struct {
	UnitID              UnitID           `json:"unit_id"`
	SourceTransactionID TransactionID    `json:"source_transaction_id"`
	AsOf                Date             `json:"as_of"`
	PaymentAmount       Money            `json:"payment_amount"`
	Lines               []AllocationLine `json:"lines"`

	// CreditConsumed is how much existing credit paid obligations.
	CreditConsumed Money `json:"credit_consumed"`

	// CreditDelta is the signed amount appended to the ledger: positive for
	// an overpayment, negative when credit was drawn, zero otherwise.
	CreditDelta Money        `json:"credit_delta"`
	LedgerDelta *LedgerDelta `json:"ledger_delta,omitempty"`

	UnallocatedRemainder Money `json:"unallocated_remainder"`

	// Updated holds the proposed new state of every obligation with a line,
	// in allocation order. Not part of the stored record.
	Updated []Obligation `json:"-"`
}

// PaidFromPayment sums the payment-sourced share of all lines.
func (r AllocationResult) PaidFromPayment() Money {
	var total Money
	for _, l := range r.Lines {
		total += l.FromPayment.Total()
	}
	return total
}

// PaidFromCredit sums the credit-sourced share of all lines.
func (r AllocationResult) PaidFromCredit() Money {
	var total Money
	for _, l := range r.Lines {
		total += l.FromCredit.Total()
	}
	return total
}

// =============================================================================
// ALLOCATOR
// =============================================================================

// Allocator distributes payments. The zero value uses DefaultModuleOrder.
type Allocator struct {
	Order ModuleOrder
}

// NewAllocator returns an allocator with the given tie-break order.
func NewAllocator(order ModuleOrder) *Allocator {
	return &Allocator{Order: order}
}

func (a *Allocator) order() ModuleOrder {
	if a == nil || len(a.Order) == 0 {
		return DefaultModuleOrder
	}
	return a.Order
}

// Allocate distributes req.PaymentAmount (and, if needed, req.CreditBalance)
// across req.Obligations. It never mutates its input.
func (a *Allocator) Allocate(req AllocationRequest) (*AllocationResult, error) {
	if err := a.validate(req); err != nil {
		return nil, err
	}

	queue, err := a.queue(req)
	if err != nil {
		return nil, err
	}

	// fundsPool hands out payment before credit.
	pool := fundsPool{payment: req.PaymentAmount, credit: req.CreditBalance}

	result := &AllocationResult{
		UnitID:              req.UnitID,
		SourceTransactionID: req.SourceTransactionID,
		AsOf:                req.AsOf,
		PaymentAmount:       req.PaymentAmount,
	}

	for _, ob := range queue {
		if pool.empty() {
			break
		}

		var fromPayment, fromCredit Split

		p, c := pool.draw(ob.PenaltyOutstanding())
		fromPayment.Penalty, fromCredit.Penalty = p, c

		p, c = pool.draw(ob.BaseOutstanding())
		fromPayment.Base, fromCredit.Base = p, c

		if fromPayment.IsZero() && fromCredit.IsZero() {
			continue
		}

		updated := ob.applySplit(fromPayment.Add(fromCredit))
		result.Updated = append(result.Updated, updated)
		result.Lines = append(result.Lines, AllocationLine{
			ObligationID:    ob.ID,
			Module:          moduleID(ob.Module),
			Period:          ob.Period,
			DueDate:         ob.DueDate,
			FromPayment:     fromPayment,
			FromCredit:      fromCredit,
			ResultingStatus: updated.Status(),
		})
	}

	result.CreditConsumed = req.CreditBalance - pool.credit

	switch {
	case pool.payment > 0:
		result.CreditDelta = pool.payment
		result.LedgerDelta = &LedgerDelta{
			Type:                EntryCreditAdded,
			Amount:              pool.payment,
			SourceTransactionID: req.SourceTransactionID,
			Notes:               fmt.Sprintf("overpayment from %s", req.SourceTransactionID),
		}
	case result.CreditConsumed > 0:
		result.CreditDelta = result.CreditConsumed.Neg()
		result.LedgerDelta = &LedgerDelta{
			Type:                EntryCreditUsed,
			Amount:              result.CreditConsumed.Neg(),
			SourceTransactionID: req.SourceTransactionID,
			Notes:               fmt.Sprintf("credit applied by %s", req.SourceTransactionID),
		}
	}

	// Every unit of payment must land on a line or in credit.
	result.UnallocatedRemainder = req.PaymentAmount + result.CreditConsumed -
		result.PaidFromPayment() - result.PaidFromCredit() - result.CreditDelta.Max(0)
	if result.UnallocatedRemainder != 0 {
		return nil, invalidState("allocation of %s left %s unallocated", req.SourceTransactionID, result.UnallocatedRemainder)
	}

	return result, nil
}

func (a *Allocator) validate(req AllocationRequest) error {
	if req.UnitID == "" {
		return invalidArgument("unit id is required")
	}
	if req.PaymentAmount < 0 {
		return &NegativePaymentError{Amount: req.PaymentAmount}
	}
	if req.CreditBalance < 0 {
		return invalidArgument("credit balance must not be negative, got %s", req.CreditBalance)
	}
	if req.AsOf.IsZero() {
		return invalidArgument("as-of date is required")
	}
	if IsReversalSourceID(req.SourceTransactionID) {
		return invalidArgument("transaction id %q is reserved for reversal entries", req.SourceTransactionID)
	}
	if err := req.Config.Validate(); err != nil {
		return err
	}
	seen := make(map[ObligationID]bool, len(req.Obligations))
	for _, ob := range req.Obligations {
		if ob.UnitID != req.UnitID {
			return invalidArgument("obligation %s belongs to unit %s, not %s", ob.ID, ob.UnitID, req.UnitID)
		}
		if seen[ob.ID] {
			return invalidArgument("obligation %s supplied twice", ob.ID)
		}
		seen[ob.ID] = true
		if err := ob.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// queue returns the unpaid obligations with refreshed penalties, oldest first.
func (a *Allocator) queue(req AllocationRequest) ([]Obligation, error) {
	queue := make([]Obligation, 0, len(req.Obligations))
	for _, ob := range req.Obligations {
		if ob.Status() == StatusPaid {
			continue
		}
		refreshed, err := RefreshPenalty(ob, req.AsOf, req.Config)
		if err != nil {
			return nil, err
		}
		queue = append(queue, refreshed)
	}

	order := a.order()
	sort.SliceStable(queue, func(i, j int) bool {
		qi, qj := queue[i], queue[j]
		if !qi.DueDate.Equal(qj.DueDate) {
			return qi.DueDate.Before(qj.DueDate)
		}
		if ri, rj := order.Rank(qi.Module), order.Rank(qj.Module); ri != rj {
			return ri < rj
		}
		if mi, mj := moduleID(qi.Module), moduleID(qj.Module); mi != mj {
			return mi < mj
		}
		if qi.Period != qj.Period {
			return qi.Period.Less(qj.Period)
		}
		return qi.ID < qj.ID
	})
	return queue, nil
}

// =============================================================================
// FUNDS POOL
// =============================================================================

type fundsPool struct {
	payment Money
	credit  Money
}

func (p *fundsPool) empty() bool { return p.payment == 0 && p.credit == 0 }

// draw takes up to want, payment first, and returns how much came from each.
func (p *fundsPool) draw(want Money) (fromPayment, fromCredit Money) {
	if want <= 0 {
		return 0, 0
	}
	fromPayment = want.Min(p.payment)
	p.payment -= fromPayment
	want -= fromPayment

	fromCredit = want.Min(p.credit)
	p.credit -= fromCredit
	return fromPayment, fromCredit
}
