package engine_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propledger/allocation-engine/dues"
	"github.com/propledger/allocation-engine/engine"
)

func penaltyConfig(rate string, compound bool) engine.FiscalConfig {
	cfg := calendarConfig()
	cfg.PenaltyRate = decimal.RequireFromString(rate)
	cfg.PenaltyGraceDays = 15
	cfg.CompoundPenalty = compound
	return cfg
}

func lateDues(base engine.Money) engine.Obligation {
	return engine.Obligation{
		ID:         "dues-jan",
		UnitID:     "unit-1",
		Module:     dues.ModuleDues,
		Period:     engine.PeriodKey{FiscalYear: 2026, FiscalMonth: 0},
		DueDate:    engine.NewDate(2026, time.January, 1),
		BaseCharge: base,
	}
}

func TestPenaltyPeriods_GraceBoundary(t *testing.T) {
	// GIVEN: A bill due Jan 1 with 15 days grace (grace ends Jan 16)
	// WHEN: Counting periods around the boundary
	// THEN: Nothing on or before Jan 16, at least one period after

	due := engine.NewDate(2026, time.January, 1)

	tests := []struct {
		asOf engine.Date
		want int
	}{
		{engine.NewDate(2025, time.December, 20), 0},
		{engine.NewDate(2026, time.January, 16), 0},
		{engine.NewDate(2026, time.January, 17), 1},
		{engine.NewDate(2026, time.February, 15), 1},
		{engine.NewDate(2026, time.February, 16), 1},
		{engine.NewDate(2026, time.March, 16), 2},
		{engine.NewDate(2026, time.July, 20), 6},
	}
	for _, tt := range tests {
		t.Run(tt.asOf.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, engine.PenaltyPeriods(due, tt.asOf, 15))
		})
	}
}

func TestAccruePenalty_SimpleAndCompound(t *testing.T) {
	// GIVEN: Base 50,000 at 10% and two periods overdue
	// WHEN: Accruing simple and compound penalties
	// THEN: Simple 10,000; compound 50,000 * 1.1^2 - 50,000 = 10,500

	ob := lateDues(50000)
	asOf := engine.NewDate(2026, time.March, 16)

	simple, err := engine.AccruePenalty(ob, asOf, penaltyConfig("0.10", false))
	require.NoError(t, err)
	assert.Equal(t, engine.Money(10000), simple)

	compound, err := engine.AccruePenalty(ob, asOf, penaltyConfig("0.10", true))
	require.NoError(t, err)
	assert.Equal(t, engine.Money(10500), compound)
}

func TestAccruePenalty_CompoundOverManyPeriods(t *testing.T) {
	// GIVEN: Base 50,000 left unpaid for ten and for fifty years
	// WHEN: Accruing compound penalties
	// THEN: 50,000 * (1+rate)^periods - 50,000, exact before the one rounding

	ob := lateDues(50000)

	tests := []struct {
		name string
		rate string
		asOf engine.Date
		want engine.Money
	}{
		{"120 periods at 1%", "0.01", engine.NewDate(2036, time.January, 17), 115019},
		{"600 periods at 5%", "0.05", engine.NewDate(2076, time.January, 17), 258552919644883714},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.AccruePenalty(ob, tt.asOf, penaltyConfig(tt.rate, true))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAccruePenalty_RoundsHalfAwayFromZero(t *testing.T) {
	// GIVEN: Base 33,333 at 5% for one period (1,666.65)
	// WHEN: Accruing
	// THEN: Rounded once to 1,667

	got, err := engine.AccruePenalty(lateDues(33333), engine.NewDate(2026, time.January, 20), penaltyConfig("0.05", false))
	require.NoError(t, err)
	assert.Equal(t, engine.Money(1667), got)
}

func TestAccruePenalty_IsIdempotent(t *testing.T) {
	// GIVEN: An overdue bill that already carries an accrued penalty
	// WHEN: Accruing twice as of the same date
	// THEN: Same result both times, computed from the base only

	cfg := penaltyConfig("0.05", true)
	ob := lateDues(44000)
	asOf := engine.NewDate(2026, time.May, 1)

	first, err := engine.AccruePenalty(ob, asOf, cfg)
	require.NoError(t, err)

	ob.PenaltyAccrued = first
	second, err := engine.AccruePenalty(ob, asOf, cfg)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAccruePenalty_NoPenaltyCases(t *testing.T) {
	asOf := engine.NewDate(2026, time.June, 1)

	zeroRate, err := engine.AccruePenalty(lateDues(44000), asOf, penaltyConfig("0", true))
	require.NoError(t, err)
	assert.Zero(t, zeroRate)

	zeroBase, err := engine.AccruePenalty(lateDues(0), asOf, penaltyConfig("0.05", true))
	require.NoError(t, err)
	assert.Zero(t, zeroBase)
}

func TestAccruePenalty_RejectsMissingDates(t *testing.T) {
	cfg := penaltyConfig("0.05", false)

	_, err := engine.AccruePenalty(lateDues(100), engine.Date{}, cfg)
	assert.ErrorIs(t, err, engine.ErrInvalidArgument)

	noDue := lateDues(100)
	noDue.DueDate = engine.Date{}
	_, err = engine.AccruePenalty(noDue, engine.NewDate(2026, time.June, 1), cfg)
	assert.ErrorIs(t, err, engine.ErrInvalidState)
}

func TestRefreshPenalty_NeverLowersAssessedPenalty(t *testing.T) {
	// GIVEN: A bill carrying a 5,000 penalty assessed elsewhere
	// WHEN: Refreshing under a config that computes less
	// THEN: The stored 5,000 stays

	ob := lateDues(50000)
	ob.PenaltyAccrued = 5000

	refreshed, err := engine.RefreshPenalty(ob, engine.NewDate(2026, time.January, 20), penaltyConfig("0.01", false))
	require.NoError(t, err)
	assert.Equal(t, engine.Money(5000), refreshed.PenaltyAccrued)

	// A larger computed penalty replaces it.
	refreshed, err = engine.RefreshPenalty(ob, engine.NewDate(2026, time.July, 20), penaltyConfig("0.05", false))
	require.NoError(t, err)
	assert.Equal(t, engine.Money(15000), refreshed.PenaltyAccrued)
}
