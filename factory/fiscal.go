/*
Package factory provides JSON to Go billing configuration conversion.

PURPOSE:
  Converts JSON client configuration into engine.FiscalConfig and
  water.Tariff values. Client settings live as JSON in the database and in
  admin requests; the factory validates them, fills defaults and builds the
  immutable Go values the core is called with.

JSON SCHEMA:
  {
    "fiscal_year_start_month": 7,
    "dues_frequency": "monthly",
    "water_frequency": "quarterly",
    "penalty_rate": "0.05",
    "penalty_grace_days": 15,
    "compound_penalty": true
  }

DEFAULTS:
  fiscal_year_start_month  1 (calendar year)
  dues_frequency           monthly
  water_frequency          quarterly
  penalty_rate             0 (no penalty)

USAGE:
  cfg, err := factory.ParseFiscalConfig(jsonString)
  // or from a preset
  cfg, err := factory.Preset("july-monthly")

SEE ALSO:
  - engine/fiscal.go: FiscalConfig definition
  - store/sqlite/sqlite.go: Stores the JSON per client
*/
package factory

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/propledger/allocation-engine/engine"
	"github.com/propledger/allocation-engine/water"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// FiscalConfigJSON is the JSON representation of a client's FiscalConfig.
type FiscalConfigJSON struct {
	FiscalYearStartMonth int             `json:"fiscal_year_start_month,omitempty" validate:"omitempty,min=1,max=12"`
	DuesFrequency        string          `json:"dues_frequency,omitempty" validate:"omitempty,oneof=monthly quarterly"`
	WaterFrequency       string          `json:"water_frequency,omitempty" validate:"omitempty,oneof=quarterly"`
	PenaltyRate          decimal.Decimal `json:"penalty_rate"`
	PenaltyGraceDays     int             `json:"penalty_grace_days,omitempty" validate:"min=0"`
	CompoundPenalty      bool            `json:"compound_penalty,omitempty"`
}

// TariffJSON is the JSON representation of a water tariff.
type TariffJSON struct {
	RatePerCubicMeter decimal.Decimal `json:"rate_per_m3"`
	MinimumCharge     int64           `json:"minimum_charge,omitempty" validate:"min=0"`
}

// =============================================================================
// FISCAL CONFIG
// =============================================================================

// ParseFiscalConfig parses a JSON string into a validated FiscalConfig.
func ParseFiscalConfig(jsonStr string) (engine.FiscalConfig, error) {
	var fj FiscalConfigJSON
	if err := json.Unmarshal([]byte(jsonStr), &fj); err != nil {
		return engine.FiscalConfig{}, fmt.Errorf("%w: failed to parse fiscal config JSON: %v", engine.ErrInvalidArgument, err)
	}
	return FromJSON(fj)
}

// FromJSON converts FiscalConfigJSON to engine.FiscalConfig, applying defaults.
func FromJSON(fj FiscalConfigJSON) (engine.FiscalConfig, error) {
	if err := ValidateStruct(fj); err != nil {
		return engine.FiscalConfig{}, err
	}

	cfg := engine.FiscalConfig{
		FiscalYearStartMonth: time.January,
		DuesFrequency:        engine.FrequencyMonthly,
		WaterFrequency:       engine.FrequencyQuarterly,
		PenaltyRate:          fj.PenaltyRate,
		PenaltyGraceDays:     fj.PenaltyGraceDays,
		CompoundPenalty:      fj.CompoundPenalty,
	}
	if fj.FiscalYearStartMonth != 0 {
		cfg.FiscalYearStartMonth = time.Month(fj.FiscalYearStartMonth)
	}
	if fj.DuesFrequency != "" {
		cfg.DuesFrequency = engine.Frequency(fj.DuesFrequency)
	}
	if fj.WaterFrequency != "" {
		cfg.WaterFrequency = engine.Frequency(fj.WaterFrequency)
	}

	if err := cfg.Validate(); err != nil {
		return engine.FiscalConfig{}, err
	}
	return cfg, nil
}

// ToJSON converts a FiscalConfig back to its JSON form.
func ToJSON(cfg engine.FiscalConfig) FiscalConfigJSON {
	return FiscalConfigJSON{
		FiscalYearStartMonth: int(cfg.FiscalYearStartMonth),
		DuesFrequency:        string(cfg.DuesFrequency),
		WaterFrequency:       string(cfg.WaterFrequency),
		PenaltyRate:          cfg.PenaltyRate,
		PenaltyGraceDays:     cfg.PenaltyGraceDays,
		CompoundPenalty:      cfg.CompoundPenalty,
	}
}

// MarshalFiscalConfig renders cfg as a JSON string for storage.
func MarshalFiscalConfig(cfg engine.FiscalConfig) (string, error) {
	b, err := json.Marshal(ToJSON(cfg))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// =============================================================================
// PRESETS
// =============================================================================

var presets = map[string]FiscalConfigJSON{
	"calendar-monthly": {
		FiscalYearStartMonth: 1,
		DuesFrequency:        "monthly",
		PenaltyRate:          decimal.RequireFromString("0.02"),
		PenaltyGraceDays:     15,
	},
	"july-monthly": {
		FiscalYearStartMonth: 7,
		DuesFrequency:        "monthly",
		PenaltyRate:          decimal.RequireFromString("0.05"),
		PenaltyGraceDays:     15,
		CompoundPenalty:      true,
	},
	"july-quarterly": {
		FiscalYearStartMonth: 7,
		DuesFrequency:        "quarterly",
		PenaltyRate:          decimal.RequireFromString("0.03"),
		PenaltyGraceDays:     30,
	},
}

// Preset returns a named starter configuration.
func Preset(name string) (engine.FiscalConfig, error) {
	fj, ok := presets[name]
	if !ok {
		return engine.FiscalConfig{}, fmt.Errorf("%w: unknown preset %q (have %s)",
			engine.ErrInvalidArgument, name, strings.Join(PresetNames(), ", "))
	}
	return FromJSON(fj)
}

// PresetNames lists the preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// =============================================================================
// WATER TARIFF
// =============================================================================

// TariffFromJSON converts TariffJSON to water.Tariff.
func TariffFromJSON(tj TariffJSON) (water.Tariff, error) {
	if err := ValidateStruct(tj); err != nil {
		return water.Tariff{}, err
	}
	if tj.RatePerCubicMeter.IsNegative() {
		return water.Tariff{}, fmt.Errorf("%w: rate_per_m3 must not be negative", engine.ErrInvalidArgument)
	}
	return water.Tariff{
		RatePerCubicMeter: tj.RatePerCubicMeter,
		MinimumCharge:     engine.Money(tj.MinimumCharge),
	}, nil
}

// =============================================================================
// TIE-BREAK ORDER
// =============================================================================

// ParseModuleOrder parses a comma-separated list of module ids, e.g.
// "dues,water". An empty string yields the default order.
func ParseModuleOrder(s string) (engine.ModuleOrder, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return engine.DefaultModuleOrder, nil
	}
	var order engine.ModuleOrder
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		id := strings.TrimSpace(part)
		if id == "" {
			return nil, fmt.Errorf("%w: empty module id in order %q", engine.ErrInvalidArgument, s)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: module %q listed twice", engine.ErrInvalidArgument, id)
		}
		seen[id] = true
		order = append(order, id)
	}
	return order, nil
}
