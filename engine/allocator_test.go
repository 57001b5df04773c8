package engine_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propledger/allocation-engine/dues"
	"github.com/propledger/allocation-engine/engine"
	"github.com/propledger/allocation-engine/water"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const unit = engine.UnitID("unit-4B")

var (
	julyFirst = engine.NewDate(2026, time.July, 1)
	payDate   = engine.NewDate(2026, time.August, 15)
)

// duesAndWater returns the bills of the split-payment example: July dues of
// 44,000 and Q3 water of 50,000 with a 5,000 penalty, both due July 1.
func duesAndWater() []engine.Obligation {
	return []engine.Obligation{
		{
			ID:             "water-q3",
			UnitID:         unit,
			Module:         water.ModuleWater,
			Period:         engine.PeriodKey{FiscalYear: 2026, FiscalMonth: 6},
			DueDate:        julyFirst,
			BaseCharge:     50000,
			PenaltyAccrued: 5000,
		},
		{
			ID:         "dues-jul",
			UnitID:     unit,
			Module:     dues.ModuleDues,
			Period:     engine.PeriodKey{FiscalYear: 2026, FiscalMonth: 6},
			DueDate:    julyFirst,
			BaseCharge: 44000,
		},
	}
}

func allocate(t *testing.T, amount, credit engine.Money, obs []engine.Obligation) *engine.AllocationResult {
	t.Helper()
	res, err := engine.NewAllocator(nil).Allocate(engine.AllocationRequest{
		UnitID:              unit,
		SourceTransactionID: "txn-1",
		PaymentAmount:       amount,
		AsOf:                payDate,
		Obligations:         obs,
		CreditBalance:       credit,
		Config:              calendarConfig(),
	})
	require.NoError(t, err)
	return res
}

func lineFor(t *testing.T, res *engine.AllocationResult, id engine.ObligationID) engine.AllocationLine {
	t.Helper()
	for _, l := range res.Lines {
		if l.ObligationID == id {
			return l
		}
	}
	t.Fatalf("no line for %s", id)
	return engine.AllocationLine{}
}

func updatedFor(t *testing.T, obs []engine.Obligation, id engine.ObligationID) engine.Obligation {
	t.Helper()
	for _, ob := range obs {
		if ob.ID == id {
			return ob
		}
	}
	t.Fatalf("no obligation %s", id)
	return engine.Obligation{}
}

// requireConserved checks that every unit of payment and consumed credit
// landed on a line or in the ledger delta.
func requireConserved(t *testing.T, res *engine.AllocationResult) {
	t.Helper()
	var paid engine.Money
	for _, l := range res.Lines {
		paid += l.Total()
	}
	require.Equal(t, res.PaymentAmount+res.CreditConsumed, paid+res.CreditDelta.Max(0))
	require.Zero(t, res.UnallocatedRemainder)
}

// =============================================================================
// ALLOCATION
// =============================================================================

func TestAllocate_SplitPayment(t *testing.T) {
	// GIVEN: Dues 44,000 and water 5,000 penalty + 50,000 base, no credit
	// WHEN: Paying 60,000
	// THEN: Dues paid; water penalty paid and 11,000 of base; water partial;
	//       no credit delta

	res := allocate(t, 60000, 0, duesAndWater())

	require.Len(t, res.Lines, 2)
	assert.Equal(t, engine.ObligationID("dues-jul"), res.Lines[0].ObligationID, "dues first on a tied due date")

	d := lineFor(t, res, "dues-jul")
	assert.Equal(t, engine.Split{Base: 44000}, d.FromPayment)
	assert.Equal(t, engine.StatusPaid, d.ResultingStatus)

	w := lineFor(t, res, "water-q3")
	assert.Equal(t, engine.Split{Base: 11000, Penalty: 5000}, w.FromPayment)
	assert.True(t, w.FromCredit.IsZero())
	assert.Equal(t, engine.StatusPartial, w.ResultingStatus)

	assert.Zero(t, res.CreditDelta)
	assert.Nil(t, res.LedgerDelta)
	requireConserved(t, res)

	wob := updatedFor(t, res.Updated, "water-q3")
	assert.Equal(t, engine.Money(11000), wob.BasePaid)
	assert.Equal(t, engine.Money(5000), wob.PenaltyPaid)
	assert.Equal(t, engine.Money(39000), wob.Outstanding())
}

func TestAllocate_OverpaymentBecomesCredit(t *testing.T) {
	// GIVEN: The same bills
	// WHEN: Paying 120,000
	// THEN: Both paid; one credit_added delta of 21,000

	res := allocate(t, 120000, 0, duesAndWater())

	for _, ob := range res.Updated {
		assert.Equal(t, engine.StatusPaid, ob.Status(), ob.ID)
	}
	assert.Equal(t, engine.Money(21000), res.CreditDelta)
	require.NotNil(t, res.LedgerDelta)
	assert.Equal(t, engine.EntryCreditAdded, res.LedgerDelta.Type)
	assert.Equal(t, engine.Money(21000), res.LedgerDelta.Amount)
	assert.Equal(t, engine.TransactionID("txn-1"), res.LedgerDelta.SourceTransactionID)
	requireConserved(t, res)

	// Appending the delta moves the balance by exactly the excess.
	l := engine.EmptyLedger(unit)
	mustAppend(t, &l, engine.LedgerDelta{Type: engine.EntryStartingBalance, Amount: 7000}, t0)
	entry := mustAppend(t, &l, *res.LedgerDelta, t0)
	assert.Equal(t, engine.Money(28000), entry.BalanceAfter)
}

func TestAllocate_CreditCoversShortfall(t *testing.T) {
	// GIVEN: Bills of 99,000 and 30,000 of credit
	// WHEN: Paying 80,000
	// THEN: Payment is used first, then 19,000 of credit; one credit_used
	//       delta of -19,000

	res := allocate(t, 80000, 30000, duesAndWater())

	assert.Equal(t, engine.Money(80000), res.PaidFromPayment())
	assert.Equal(t, engine.Money(19000), res.PaidFromCredit())
	assert.Equal(t, engine.Money(19000), res.CreditConsumed)
	assert.Equal(t, engine.Money(-19000), res.CreditDelta)
	require.NotNil(t, res.LedgerDelta)
	assert.Equal(t, engine.EntryCreditUsed, res.LedgerDelta.Type)

	w := lineFor(t, res, "water-q3")
	assert.Equal(t, engine.Split{Base: 31000, Penalty: 5000}, w.FromPayment)
	assert.Equal(t, engine.Split{Base: 19000}, w.FromCredit)
	requireConserved(t, res)
}

func TestAllocate_ZeroPaymentDrawsCredit(t *testing.T) {
	res := allocate(t, 0, 50000, duesAndWater()[1:])

	assert.Equal(t, engine.Money(-44000), res.CreditDelta)
	assert.Equal(t, engine.StatusPaid, res.Lines[0].ResultingStatus)
	requireConserved(t, res)
}

func TestAllocate_NothingToDo(t *testing.T) {
	// GIVEN: No bills and no credit
	// WHEN: Paying 0
	// THEN: No lines and no ledger delta

	res := allocate(t, 0, 0, nil)
	assert.Empty(t, res.Lines)
	assert.Nil(t, res.LedgerDelta)
	assert.Zero(t, res.CreditDelta)
}

func TestAllocate_PaymentWithNoBills(t *testing.T) {
	res := allocate(t, 5000, 1000, nil)
	assert.Empty(t, res.Lines)
	assert.Equal(t, engine.Money(5000), res.CreditDelta)
	assert.Zero(t, res.CreditConsumed)
}

func TestAllocate_OldestFirstAcrossModules(t *testing.T) {
	// GIVEN: Water due in April and dues due in May and June
	// WHEN: Paying enough for two bills
	// THEN: April water, then May dues; June dues untouched

	obs := []engine.Obligation{
		{ID: "dues-jun", UnitID: unit, Module: dues.ModuleDues, Period: engine.PeriodKey{FiscalYear: 2026, FiscalMonth: 5}, DueDate: engine.NewDate(2026, time.June, 1), BaseCharge: 1000},
		{ID: "water-q2", UnitID: unit, Module: water.ModuleWater, Period: engine.PeriodKey{FiscalYear: 2026, FiscalMonth: 3}, DueDate: engine.NewDate(2026, time.April, 1), BaseCharge: 1000},
		{ID: "dues-may", UnitID: unit, Module: dues.ModuleDues, Period: engine.PeriodKey{FiscalYear: 2026, FiscalMonth: 4}, DueDate: engine.NewDate(2026, time.May, 1), BaseCharge: 1000},
	}

	res := allocate(t, 2000, 0, obs)

	require.Len(t, res.Lines, 2)
	assert.Equal(t, engine.ObligationID("water-q2"), res.Lines[0].ObligationID)
	assert.Equal(t, engine.ObligationID("dues-may"), res.Lines[1].ObligationID)
}

func TestAllocate_ConfigurableTieBreak(t *testing.T) {
	// GIVEN: Dues and water due the same day, order water before dues
	// WHEN: Paying 50,000
	// THEN: Water is paid first

	res, err := engine.NewAllocator(engine.ModuleOrder{"water", "dues"}).Allocate(engine.AllocationRequest{
		UnitID:              unit,
		SourceTransactionID: "txn-1",
		PaymentAmount:       50000,
		AsOf:                payDate,
		Obligations:         duesAndWater(),
		Config:              calendarConfig(),
	})
	require.NoError(t, err)

	require.Len(t, res.Lines, 1)
	assert.Equal(t, engine.ObligationID("water-q3"), res.Lines[0].ObligationID)
	assert.Equal(t, engine.Split{Base: 45000, Penalty: 5000}, res.Lines[0].FromPayment)
}

func TestAllocate_PenaltyRefreshedBeforePaying(t *testing.T) {
	// GIVEN: Dues 44,000 due July 1, 5% compound after 15 days grace
	// WHEN: Paying 2,200 on August 20 (one period late)
	// THEN: The 2,200 penalty is accrued and paid before any base

	cfg := calendarConfig()
	cfg.PenaltyRate = decimal.RequireFromString("0.05")
	cfg.PenaltyGraceDays = 15
	cfg.CompoundPenalty = true

	res, err := engine.NewAllocator(nil).Allocate(engine.AllocationRequest{
		UnitID:              unit,
		SourceTransactionID: "txn-1",
		PaymentAmount:       2200,
		AsOf:                engine.NewDate(2026, time.August, 20),
		Obligations:         duesAndWater()[1:],
		Config:              cfg,
	})
	require.NoError(t, err)

	require.Len(t, res.Updated, 1)
	ob := res.Updated[0]
	assert.Equal(t, engine.Money(2200), ob.PenaltyAccrued)
	assert.Equal(t, engine.Money(2200), ob.PenaltyPaid)
	assert.Zero(t, ob.BasePaid)
	assert.Equal(t, engine.StatusPartial, ob.Status())
}

func TestAllocate_SkipsPaidAndDoesNotMutateInput(t *testing.T) {
	obs := duesAndWater()
	obs[1].BasePaid = 44000

	res := allocate(t, 1000, 0, obs)

	require.Len(t, res.Lines, 1)
	assert.Equal(t, engine.ObligationID("water-q3"), res.Lines[0].ObligationID)
	assert.Zero(t, obs[0].PenaltyPaid, "input must not change")
}

func TestAllocate_ConservesFundsAcrossAmounts(t *testing.T) {
	// Property: for every payment and credit combination, payment plus
	// consumed credit equals what the lines paid plus any credit added.
	for _, amount := range []engine.Money{0, 1, 4999, 5000, 44000, 49000, 60000, 98999, 99000, 99001, 250000} {
		for _, credit := range []engine.Money{0, 1, 21000, 200000} {
			res := allocate(t, amount, credit, duesAndWater())
			requireConserved(t, res)
			assert.False(t, res.CreditDelta > 0 && res.CreditConsumed > 0, "credit both added and used")
		}
	}
}

func TestAllocate_RejectsBadInput(t *testing.T) {
	base := engine.AllocationRequest{
		UnitID:              unit,
		SourceTransactionID: "txn-1",
		AsOf:                payDate,
		Obligations:         duesAndWater(),
		Config:              calendarConfig(),
	}
	alloc := engine.NewAllocator(nil)

	t.Run("negative payment", func(t *testing.T) {
		req := base
		req.PaymentAmount = -1
		_, err := alloc.Allocate(req)
		var nerr *engine.NegativePaymentError
		assert.ErrorAs(t, err, &nerr)
		assert.ErrorIs(t, err, engine.ErrInvalidArgument)
	})

	t.Run("reserved transaction id", func(t *testing.T) {
		req := base
		req.SourceTransactionID = engine.ReversalSourceID("txn-1")
		_, err := alloc.Allocate(req)
		assert.ErrorIs(t, err, engine.ErrInvalidArgument)
	})

	t.Run("foreign obligation", func(t *testing.T) {
		req := base
		req.Obligations = duesAndWater()
		req.Obligations[0].UnitID = "unit-9"
		_, err := alloc.Allocate(req)
		assert.ErrorIs(t, err, engine.ErrInvalidArgument)
	})

	t.Run("duplicate obligation", func(t *testing.T) {
		req := base
		req.Obligations = append(duesAndWater(), duesAndWater()[0])
		_, err := alloc.Allocate(req)
		assert.ErrorIs(t, err, engine.ErrInvalidArgument)
	})

	t.Run("overpaid obligation", func(t *testing.T) {
		req := base
		req.Obligations = duesAndWater()
		req.Obligations[1].BasePaid = 50000
		_, err := alloc.Allocate(req)
		assert.ErrorIs(t, err, engine.ErrInvalidState)
	})

	t.Run("missing as-of", func(t *testing.T) {
		req := base
		req.AsOf = engine.Date{}
		_, err := alloc.Allocate(req)
		assert.ErrorIs(t, err, engine.ErrInvalidArgument)
	})
}
