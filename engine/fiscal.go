/*
fiscal.go - Client-configurable fiscal calendar

PURPOSE:
  Maps calendar dates to a client's fiscal periods and back. Every client
  picks the month its fiscal year starts and how often each module bills.
  The config is passed by value into every call; nothing here reads ambient
  state.

FISCAL YEAR LABEL:
  A fiscal year is labelled by the calendar year it starts in. With a July
  start, FY2026 runs 2026-07-01 to 2027-06-30.

FISCAL MONTH INDEX:
  0-based, 0 = the start month. Index 6 of FY2026 with a July start is
  January 2027. An index outside 0-11 is a programmer error and fails fast.

QUARTERLY BILLING:
  Three fiscal months share one due date, the due date of the quarter's
  first fiscal month. Quarter index = fiscalMonth / 3. Period keys of
  quarterly modules are normalized to the quarter's first month.

EXAMPLE:
  cfg := FiscalConfig{FiscalYearStartMonth: time.July, DuesFrequency: FrequencyMonthly, ...}
  due, _ := PeriodDueDate(PeriodKey{FiscalYear: 2026, FiscalMonth: 6}, cfg, dues)
  // due == 2027-01-01
*/
package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FISCAL CONFIG - Per-client, immutable during an allocation
// =============================================================================

// Frequency is how often a module bills.
type Frequency string

const (
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
)

// FiscalConfig is a client's billing calendar and penalty policy.
type FiscalConfig struct {
	FiscalYearStartMonth time.Month
	DuesFrequency        Frequency
	WaterFrequency       Frequency

	// PenaltyRate is the fraction charged per penalty period, e.g. 0.05.
	PenaltyRate      decimal.Decimal
	PenaltyGraceDays int
	CompoundPenalty  bool
}

// Validate checks the config. All failures wrap ErrInvalidArgument.
func (c FiscalConfig) Validate() error {
	if c.FiscalYearStartMonth < time.January || c.FiscalYearStartMonth > time.December {
		return invalidArgument("fiscal year start month %d out of range 1-12", int(c.FiscalYearStartMonth))
	}
	if c.DuesFrequency != FrequencyMonthly && c.DuesFrequency != FrequencyQuarterly {
		return invalidArgument("unknown dues frequency %q", c.DuesFrequency)
	}
	if c.WaterFrequency != FrequencyQuarterly {
		return invalidArgument("water must bill quarterly, got %q", c.WaterFrequency)
	}
	if c.PenaltyRate.IsNegative() {
		return invalidArgument("penalty rate must not be negative")
	}
	if c.PenaltyGraceDays < 0 {
		return invalidArgument("penalty grace days must not be negative")
	}
	return nil
}

// FrequencyFor returns the billing frequency of a module. Modules the config
// does not name bill monthly.
func (c FiscalConfig) FrequencyFor(m Module) Frequency {
	switch moduleID(m) {
	case ModuleIDDues:
		return c.DuesFrequency
	case ModuleIDWater:
		return c.WaterFrequency
	default:
		return FrequencyMonthly
	}
}

// =============================================================================
// PERIOD KEY
// =============================================================================

// PeriodKey identifies one billing period within a client's fiscal calendar.
type PeriodKey struct {
	FiscalYear  int `json:"fiscal_year"`
	FiscalMonth int `json:"fiscal_month"` // 0-11
}

// Quarter returns the 0-based fiscal quarter.
func (k PeriodKey) Quarter() int { return k.FiscalMonth / 3 }

// Valid reports whether the fiscal month index is in range.
func (k PeriodKey) Valid() bool { return k.FiscalMonth >= 0 && k.FiscalMonth <= 11 }

// Less orders keys chronologically.
func (k PeriodKey) Less(o PeriodKey) bool {
	if k.FiscalYear != o.FiscalYear {
		return k.FiscalYear < o.FiscalYear
	}
	return k.FiscalMonth < o.FiscalMonth
}

func (k PeriodKey) String() string {
	return fmt.Sprintf("FY%d-M%02d", k.FiscalYear, k.FiscalMonth)
}

// QuarterString renders the key as a quarter label, e.g. "FY2026-Q3".
func (k PeriodKey) QuarterString() string {
	return fmt.Sprintf("FY%d-Q%d", k.FiscalYear, k.Quarter()+1)
}

func (k PeriodKey) checkIndex() error {
	if !k.Valid() {
		return &InvalidPeriodError{FiscalYear: k.FiscalYear, FiscalMonth: k.FiscalMonth}
	}
	return nil
}

// =============================================================================
// FISCAL CALENDAR
// =============================================================================

// FiscalYearOf returns the fiscal year label containing date.
func FiscalYearOf(date Date, cfg FiscalConfig) int {
	if date.Month() >= cfg.FiscalYearStartMonth {
		return date.Year()
	}
	return date.Year() - 1
}

// FiscalYearStart returns the first day of fiscal year fy.
func FiscalYearStart(fy int, cfg FiscalConfig) Date {
	return NewDate(fy, cfg.FiscalYearStartMonth, 1)
}

// ResolvePeriod maps a calendar date to the period key of module's billing
// period containing it. Quarterly keys are normalized to the quarter start.
func ResolvePeriod(date Date, cfg FiscalConfig, m Module) (PeriodKey, error) {
	if err := cfg.Validate(); err != nil {
		return PeriodKey{}, err
	}
	if date.IsZero() {
		return PeriodKey{}, invalidArgument("date is required")
	}
	fm := (int(date.Month()) - int(cfg.FiscalYearStartMonth) + 12) % 12
	key := PeriodKey{FiscalYear: FiscalYearOf(date, cfg), FiscalMonth: fm}
	return normalize(key, cfg, m), nil
}

// PeriodDueDate returns the due date of a period: the 1st of the calendar
// month the fiscal month falls in, or of the quarter's first month for
// quarterly modules.
func PeriodDueDate(key PeriodKey, cfg FiscalConfig, m Module) (Date, error) {
	if err := key.checkIndex(); err != nil {
		return Date{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Date{}, err
	}
	key = normalize(key, cfg, m)
	offset := int(cfg.FiscalYearStartMonth) - 1 + key.FiscalMonth
	year := key.FiscalYear + offset/12
	month := time.Month(offset%12 + 1)
	return NewDate(year, month, 1), nil
}

// NormalizePeriod returns the canonical key for module: unchanged for
// monthly billing, the quarter's first fiscal month for quarterly billing.
func NormalizePeriod(key PeriodKey, cfg FiscalConfig, m Module) (PeriodKey, error) {
	if err := key.checkIndex(); err != nil {
		return PeriodKey{}, err
	}
	return normalize(key, cfg, m), nil
}

func normalize(key PeriodKey, cfg FiscalConfig, m Module) PeriodKey {
	if cfg.FrequencyFor(m) == FrequencyQuarterly {
		key.FiscalMonth = key.Quarter() * 3
	}
	return key
}

// PeriodsInYear returns every billing period of module in fiscal year fy,
// in chronological order (12 monthly or 4 quarterly keys).
func PeriodsInYear(fy int, cfg FiscalConfig, m Module) []PeriodKey {
	step := 1
	if cfg.FrequencyFor(m) == FrequencyQuarterly {
		step = 3
	}
	keys := make([]PeriodKey, 0, 12/step)
	for fm := 0; fm < 12; fm += step {
		keys = append(keys, PeriodKey{FiscalYear: fy, FiscalMonth: fm})
	}
	return keys
}
