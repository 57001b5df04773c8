/*
schedule.go - Splitting annual dues into period obligations

PURPOSE:
  An association sets dues as one annual figure per unit. The schedule turns
  that figure into one obligation per billing period of a fiscal year, in the
  client's dues frequency.

ROUNDING:
  The annual amount is divided in whole minor units. The remainder goes one
  unit at a time to the earliest periods, so the periods always sum to the
  annual amount exactly.

  annual 100,001 monthly -> 8,334 x 5 periods, 8,333 x 7 periods

EXAMPLE:
  obs, err := dues.Schedule{UnitID: "unit-4B", FiscalYear: 2026, AnnualAmount: 528000}.Obligations(cfg)
  // 12 obligations of 44,000, due the 1st of each fiscal month
*/
package dues

import (
	"fmt"

	"github.com/propledger/allocation-engine/engine"
)

// Schedule is a unit's dues for one fiscal year.
type Schedule struct {
	UnitID       engine.UnitID
	FiscalYear   int
	AnnualAmount engine.Money
}

// Obligations returns one unpaid obligation per dues period of the year.
func (s Schedule) Obligations(cfg engine.FiscalConfig) ([]engine.Obligation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if s.UnitID == "" {
		return nil, fmt.Errorf("%w: unit id is required", engine.ErrInvalidArgument)
	}
	if s.AnnualAmount < 0 {
		return nil, fmt.Errorf("%w: annual dues must not be negative", engine.ErrInvalidArgument)
	}

	periods := engine.PeriodsInYear(s.FiscalYear, cfg, ModuleDues)
	n := engine.Money(len(periods))
	each, rem := s.AnnualAmount/n, s.AnnualAmount%n

	obs := make([]engine.Obligation, 0, len(periods))
	for i, key := range periods {
		due, err := engine.PeriodDueDate(key, cfg, ModuleDues)
		if err != nil {
			return nil, err
		}
		charge := each
		if engine.Money(i) < rem {
			charge++
		}
		obs = append(obs, engine.Obligation{
			ID:          engine.ObligationIDFor(s.UnitID, ModuleDues, key),
			UnitID:      s.UnitID,
			Module:      ModuleDues,
			Period:      key,
			DueDate:     due,
			BaseCharge:  charge,
			Description: describe(key, cfg),
		})
	}
	return obs, nil
}

func describe(key engine.PeriodKey, cfg engine.FiscalConfig) string {
	if cfg.DuesFrequency == engine.FrequencyQuarterly {
		return "Dues " + key.QuarterString()
	}
	return "Dues " + key.String()
}
