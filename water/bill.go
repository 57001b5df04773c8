/*
bill.go - Pricing a quarter's meter reading

PURPOSE:
  Turns the meter readings taken at the end of a quarter into that quarter's
  water obligation.

FORMULA:
  consumption = current - previous            (cubic meters, decimal)
  charge      = round(consumption * rate)     (minor units, half away from zero)
  charge      = max(charge, minimum)

  A current reading below the previous one means a replaced or misread meter.
  It is rejected rather than billed as negative consumption.

EXAMPLE:
  previous 1,204.5  current 1,245.5  rate 1,250 per m3  minimum 15,000
  consumption 41 m3 -> charge 51,250
*/
package water

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/propledger/allocation-engine/engine"
)

// Tariff prices water for a client.
type Tariff struct {
	// RatePerCubicMeter is in minor units and may carry fractions.
	RatePerCubicMeter decimal.Decimal
	MinimumCharge     engine.Money
}

// Reading is one unit's meter readings for a quarter.
type Reading struct {
	UnitID   engine.UnitID
	Period   engine.PeriodKey // any fiscal month of the quarter
	Previous decimal.Decimal
	Current  decimal.Decimal
}

// Consumption is the metered volume in cubic meters.
func (r Reading) Consumption() decimal.Decimal { return r.Current.Sub(r.Previous) }

// Charge prices consumption under t.
func (t Tariff) Charge(consumption decimal.Decimal) (engine.Money, error) {
	if t.RatePerCubicMeter.IsNegative() {
		return 0, fmt.Errorf("%w: water rate must not be negative", engine.ErrInvalidArgument)
	}
	if t.MinimumCharge < 0 {
		return 0, fmt.Errorf("%w: minimum charge must not be negative", engine.ErrInvalidArgument)
	}
	if consumption.IsNegative() {
		return 0, fmt.Errorf("%w: negative consumption %s", engine.ErrInvalidArgument, consumption)
	}
	charge := engine.Money(consumption.Mul(t.RatePerCubicMeter).Round(0).IntPart())
	return charge.Max(t.MinimumCharge), nil
}

// Bill returns the unpaid water obligation for r.
func Bill(r Reading, t Tariff, cfg engine.FiscalConfig) (engine.Obligation, error) {
	if r.UnitID == "" {
		return engine.Obligation{}, fmt.Errorf("%w: unit id is required", engine.ErrInvalidArgument)
	}
	key, err := engine.NormalizePeriod(r.Period, cfg, ModuleWater)
	if err != nil {
		return engine.Obligation{}, err
	}
	due, err := engine.PeriodDueDate(key, cfg, ModuleWater)
	if err != nil {
		return engine.Obligation{}, err
	}
	charge, err := t.Charge(r.Consumption())
	if err != nil {
		return engine.Obligation{}, err
	}

	return engine.Obligation{
		ID:          engine.ObligationIDFor(r.UnitID, ModuleWater, key),
		UnitID:      r.UnitID,
		Module:      ModuleWater,
		Period:      key,
		DueDate:     due,
		BaseCharge:  charge,
		Description: fmt.Sprintf("Water %s (%s m3)", key.QuarterString(), r.Consumption().String()),
	}, nil
}
