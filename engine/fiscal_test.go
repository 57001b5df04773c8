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

func julyConfig() engine.FiscalConfig {
	return engine.FiscalConfig{
		FiscalYearStartMonth: time.July,
		DuesFrequency:        engine.FrequencyMonthly,
		WaterFrequency:       engine.FrequencyQuarterly,
		PenaltyRate:          decimal.Zero,
	}
}

func calendarConfig() engine.FiscalConfig {
	cfg := julyConfig()
	cfg.FiscalYearStartMonth = time.January
	return cfg
}

// =============================================================================
// PERIOD RESOLUTION
// =============================================================================

func TestPeriodDueDate_MonthlyWrapsIntoNextCalendarYear(t *testing.T) {
	// GIVEN: Monthly dues, fiscal year starting in July
	// WHEN: Resolving fiscal month index 6 of FY2026
	// THEN: The due date is 2027-01-01

	cfg := julyConfig()

	due, err := engine.PeriodDueDate(engine.PeriodKey{FiscalYear: 2026, FiscalMonth: 6}, cfg, dues.ModuleDues)
	require.NoError(t, err)
	assert.Equal(t, engine.NewDate(2027, time.January, 1), due)
}

func TestResolvePeriod_MonthlyWithJulyStart(t *testing.T) {
	// GIVEN: Fiscal year starting in July
	// WHEN: Resolving dates on both sides of the calendar year boundary
	// THEN: Both belong to FY2026 at the expected fiscal month

	cfg := julyConfig()

	tests := []struct {
		date engine.Date
		want engine.PeriodKey
	}{
		{engine.NewDate(2026, time.July, 1), engine.PeriodKey{FiscalYear: 2026, FiscalMonth: 0}},
		{engine.NewDate(2026, time.December, 31), engine.PeriodKey{FiscalYear: 2026, FiscalMonth: 5}},
		{engine.NewDate(2027, time.January, 15), engine.PeriodKey{FiscalYear: 2026, FiscalMonth: 6}},
		{engine.NewDate(2027, time.June, 30), engine.PeriodKey{FiscalYear: 2026, FiscalMonth: 11}},
		{engine.NewDate(2027, time.July, 1), engine.PeriodKey{FiscalYear: 2027, FiscalMonth: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.date.String(), func(t *testing.T) {
			got, err := engine.ResolvePeriod(tt.date, cfg, dues.ModuleDues)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPeriodDueDate_QuarterlyMonthsShareQuarterStart(t *testing.T) {
	// GIVEN: Quarterly water billing
	// WHEN: Resolving fiscal months 0, 1, 2 and 3
	// THEN: 0-2 share the quarter start; 3 falls in the next quarter

	cfg := julyConfig()
	dueFor := func(fm int) engine.Date {
		d, err := engine.PeriodDueDate(engine.PeriodKey{FiscalYear: 2026, FiscalMonth: fm}, cfg, water.ModuleWater)
		require.NoError(t, err)
		return d
	}

	q1 := dueFor(0)
	assert.Equal(t, engine.NewDate(2026, time.July, 1), q1)
	assert.Equal(t, q1, dueFor(1))
	assert.Equal(t, q1, dueFor(2))
	assert.Equal(t, engine.NewDate(2026, time.October, 1), dueFor(3))
}

func TestResolvePeriod_QuarterlyKeyIsNormalized(t *testing.T) {
	// GIVEN: Quarterly water billing
	// WHEN: Resolving a date in the middle month of a quarter
	// THEN: The key points at the quarter's first fiscal month

	cfg := julyConfig()

	key, err := engine.ResolvePeriod(engine.NewDate(2026, time.August, 20), cfg, water.ModuleWater)
	require.NoError(t, err)
	assert.Equal(t, engine.PeriodKey{FiscalYear: 2026, FiscalMonth: 0}, key)

	normalized, err := engine.NormalizePeriod(engine.PeriodKey{FiscalYear: 2026, FiscalMonth: 8}, cfg, water.ModuleWater)
	require.NoError(t, err)
	assert.Equal(t, 6, normalized.FiscalMonth)
	assert.Equal(t, "FY2026-Q3", normalized.QuarterString())
}

func TestResolvePeriod_RoundTripEveryDayOfYear(t *testing.T) {
	// GIVEN: Both billing frequencies under a July fiscal year
	// WHEN: Resolving every day of FY2026 and taking the period's due date
	// THEN: The due date never lies after the day, and resolving the due
	//       date gives back the same key

	cfg := julyConfig()
	for _, m := range []engine.Module{dues.ModuleDues, water.ModuleWater} {
		for d := engine.NewDate(2026, time.July, 1); d.Before(engine.NewDate(2027, time.July, 1)); d = d.AddDays(1) {
			key, err := engine.ResolvePeriod(d, cfg, m)
			require.NoError(t, err)
			due, err := engine.PeriodDueDate(key, cfg, m)
			require.NoError(t, err)
			require.False(t, due.After(d), "%s: due %s after %s", m.ModuleID(), due, d)

			again, err := engine.ResolvePeriod(due, cfg, m)
			require.NoError(t, err)
			require.Equal(t, key, again)
		}
	}
}

func TestPeriodDueDate_RejectsOutOfRangeIndex(t *testing.T) {
	// GIVEN: A fiscal month index of 12
	// WHEN: Resolving its due date
	// THEN: InvalidPeriodError, classed as an invalid argument

	_, err := engine.PeriodDueDate(engine.PeriodKey{FiscalYear: 2026, FiscalMonth: 12}, julyConfig(), dues.ModuleDues)

	var perr *engine.InvalidPeriodError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 12, perr.FiscalMonth)
	assert.ErrorIs(t, err, engine.ErrInvalidArgument)

	_, err = engine.NormalizePeriod(engine.PeriodKey{FiscalYear: 2026, FiscalMonth: -1}, julyConfig(), water.ModuleWater)
	assert.ErrorIs(t, err, engine.ErrInvalidArgument)
}

func TestPeriodsInYear(t *testing.T) {
	cfg := julyConfig()
	cfg.DuesFrequency = engine.FrequencyQuarterly

	assert.Len(t, engine.PeriodsInYear(2026, julyConfig(), dues.ModuleDues), 12)

	keys := engine.PeriodsInYear(2026, cfg, dues.ModuleDues)
	require.Len(t, keys, 4)
	assert.Equal(t, []int{0, 3, 6, 9}, []int{keys[0].FiscalMonth, keys[1].FiscalMonth, keys[2].FiscalMonth, keys[3].FiscalMonth})
}

func TestFiscalConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*engine.FiscalConfig)
	}{
		{"start month zero", func(c *engine.FiscalConfig) { c.FiscalYearStartMonth = 0 }},
		{"start month 13", func(c *engine.FiscalConfig) { c.FiscalYearStartMonth = 13 }},
		{"unknown dues frequency", func(c *engine.FiscalConfig) { c.DuesFrequency = "weekly" }},
		{"monthly water", func(c *engine.FiscalConfig) { c.WaterFrequency = engine.FrequencyMonthly }},
		{"negative rate", func(c *engine.FiscalConfig) { c.PenaltyRate = decimal.RequireFromString("-0.01") }},
		{"negative grace", func(c *engine.FiscalConfig) { c.PenaltyGraceDays = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := julyConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), engine.ErrInvalidArgument)
		})
	}

	assert.NoError(t, julyConfig().Validate())
}

func TestWholeMonthsBetween(t *testing.T) {
	tests := []struct {
		from, to engine.Date
		want     int
	}{
		{engine.NewDate(2026, time.January, 16), engine.NewDate(2026, time.January, 31), 0},
		{engine.NewDate(2026, time.January, 16), engine.NewDate(2026, time.February, 16), 1},
		{engine.NewDate(2026, time.January, 16), engine.NewDate(2026, time.March, 15), 1},
		{engine.NewDate(2026, time.January, 31), engine.NewDate(2026, time.February, 28), 1},
		{engine.NewDate(2026, time.November, 1), engine.NewDate(2027, time.February, 1), 3},
		{engine.NewDate(2026, time.March, 1), engine.NewDate(2026, time.February, 1), 0},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"_"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, engine.WholeMonthsBetween(tt.from, tt.to))
		})
	}
}
