package water_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propledger/allocation-engine/engine"
	"github.com/propledger/allocation-engine/water"
)

var cfg = engine.FiscalConfig{
	FiscalYearStartMonth: time.July,
	DuesFrequency:        engine.FrequencyMonthly,
	WaterFrequency:       engine.FrequencyQuarterly,
	PenaltyRate:          decimal.Zero,
}

func tariff(rate string, minimum engine.Money) water.Tariff {
	return water.Tariff{RatePerCubicMeter: decimal.RequireFromString(rate), MinimumCharge: minimum}
}

func reading(fm int, prev, cur string) water.Reading {
	return water.Reading{
		UnitID:   "unit-4B",
		Period:   engine.PeriodKey{FiscalYear: 2026, FiscalMonth: fm},
		Previous: decimal.RequireFromString(prev),
		Current:  decimal.RequireFromString(cur),
	}
}

func TestBill_PricesConsumption(t *testing.T) {
	// GIVEN: Readings 1,204.5 -> 1,245.5 at 1,250 per m3
	// WHEN: Billing
	// THEN: 41 m3 -> 51,250, due at the quarter start

	ob, err := water.Bill(reading(0, "1204.5", "1245.5"), tariff("1250", 15000), cfg)
	require.NoError(t, err)

	assert.Equal(t, engine.Money(51250), ob.BaseCharge)
	assert.Equal(t, water.ModuleWater, ob.Module)
	assert.Equal(t, engine.NewDate(2026, time.July, 1), ob.DueDate)
	assert.Equal(t, "Water FY2026-Q1 (41 m3)", ob.Description)
	assert.Zero(t, ob.PenaltyAccrued)
}

func TestBill_AnyMonthOfQuarterNormalizes(t *testing.T) {
	// GIVEN: Readings filed against fiscal month 4 and fiscal month 5
	// WHEN: Billing both
	// THEN: Both land on the quarter's first month with the same id

	a, err := water.Bill(reading(4, "0", "10"), tariff("100", 0), cfg)
	require.NoError(t, err)
	b, err := water.Bill(reading(5, "0", "10"), tariff("100", 0), cfg)
	require.NoError(t, err)

	assert.Equal(t, 3, a.Period.FiscalMonth)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, engine.NewDate(2026, time.October, 1), a.DueDate)
}

func TestTariff_Charge(t *testing.T) {
	tests := []struct {
		name        string
		tariff      water.Tariff
		consumption string
		want        engine.Money
	}{
		{"exact", tariff("1250", 0), "40", 50000},
		{"fractional rate rounds half away from zero", tariff("0.5", 0), "3", 2},
		{"minimum applies", tariff("1250", 15000), "2", 15000},
		{"zero consumption bills the minimum", tariff("1250", 15000), "0", 15000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.tariff.Charge(decimal.RequireFromString(tt.consumption))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBill_RejectsBadInput(t *testing.T) {
	_, err := water.Bill(reading(0, "100", "99"), tariff("1250", 0), cfg)
	assert.ErrorIs(t, err, engine.ErrInvalidArgument)

	_, err = water.Bill(reading(12, "0", "1"), tariff("1250", 0), cfg)
	var perr *engine.InvalidPeriodError
	assert.ErrorAs(t, err, &perr)

	_, err = water.Bill(reading(0, "0", "1"), tariff("-1", 0), cfg)
	assert.ErrorIs(t, err, engine.ErrInvalidArgument)

	noUnit := reading(0, "0", "1")
	noUnit.UnitID = ""
	_, err = water.Bill(noUnit, tariff("1", 0), cfg)
	assert.ErrorIs(t, err, engine.ErrInvalidArgument)
}
