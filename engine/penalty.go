/*
penalty.go - Late-payment penalty accrual

PURPOSE:
  Computes the penalty owed on a bill from its base charge and how long it
  has been overdue. The result depends only on the stored base charge, the
  due date and the as-of date, so calling it twice gives the same answer.
  Nothing is accumulated call over call.

PENALTY PERIODS:
  graceEnd = dueDate + PenaltyGraceDays
  asOf <= graceEnd          -> 0 periods, no penalty
  asOf >  graceEnd          -> whole calendar months from graceEnd to asOf,
                               minimum 1

FORMULAS:
  Simple:    penalty = base * rate * periods
  Compound:  owed_0 = base, owed_n = owed_(n-1) * (1 + rate)
             penalty = owed_n - base

  The rate is a decimal. The product is computed exactly and rounded once to
  whole minor units (half away from zero).

EXAMPLE:
  base 50,000, rate 0.10, 2 periods
  simple:   10,000
  compound: 50,000 * 1.1 * 1.1 - 50,000 = 10,500
*/
package engine

import "github.com/shopspring/decimal"

// PenaltyPeriods returns how many penalty periods have elapsed for a bill
// due on dueDate, as of asOf.
func PenaltyPeriods(dueDate, asOf Date, graceDays int) int {
	graceEnd := dueDate.AddDays(graceDays)
	if !asOf.After(graceEnd) {
		return 0
	}
	n := WholeMonthsBetween(graceEnd, asOf)
	if n < 1 {
		n = 1
	}
	return n
}

// AccruePenalty returns the penalty accrued on o as of asOf.
func AccruePenalty(o Obligation, asOf Date, cfg FiscalConfig) (Money, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	if asOf.IsZero() {
		return 0, invalidArgument("as-of date is required")
	}
	if o.DueDate.IsZero() {
		return 0, invalidState("obligation %s has no due date", o.ID)
	}
	if o.BaseCharge < 0 {
		return 0, invalidState("obligation %s has a negative base charge", o.ID)
	}

	periods := PenaltyPeriods(o.DueDate, asOf, cfg.PenaltyGraceDays)
	if periods == 0 || o.BaseCharge == 0 || cfg.PenaltyRate.IsZero() {
		return 0, nil
	}

	base := decimal.NewFromInt(int64(o.BaseCharge))
	var penalty decimal.Decimal
	if cfg.CompoundPenalty {
		// Integer exponents are exact, by squaring.
		factor := decimal.NewFromInt(1).Add(cfg.PenaltyRate)
		owed := base.Mul(factor.Pow(decimal.NewFromInt(int64(periods))))
		penalty = owed.Sub(base)
	} else {
		penalty = base.Mul(cfg.PenaltyRate).Mul(decimal.NewFromInt(int64(periods)))
	}

	return Money(penalty.Round(0).IntPart()), nil
}

// RefreshPenalty returns o with PenaltyAccrued brought up to date. A penalty
// that was already assessed is never lowered by a refresh.
func RefreshPenalty(o Obligation, asOf Date, cfg FiscalConfig) (Obligation, error) {
	accrued, err := AccruePenalty(o, asOf, cfg)
	if err != nil {
		return o, err
	}
	o.PenaltyAccrued = o.PenaltyAccrued.Max(accrued)
	return o, nil
}
