/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the store with realistic data
  for demos. Each scenario creates a client, a unit, bills and payments that
  demonstrate one allocation behavior.

AVAILABLE SCENARIOS:

	split-payment:   Payment covers dues, water penalty and part of water base
	overpayment:     Payment clears everything, excess becomes credit
	deleted-payment: The overpayment, then deleted and fully reversed
	late-fees:       Compounding penalties on a July fiscal year
	credit-draw:     Starting credit pays a bill with a zero payment

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Create client and unit
 3. Bill obligations through the billing modules
 4. Record (and optionally delete) payments through payments.Service

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "overpayment"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler wiring
  - dues/schedule.go, water/bill.go: Billing
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/propledger/allocation-engine/dues"
	"github.com/propledger/allocation-engine/engine"
	"github.com/propledger/allocation-engine/factory"
	"github.com/propledger/allocation-engine/payments"
	"github.com/propledger/allocation-engine/water"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "split-payment",
		Name:        "Split Payment",
		Description: "60,000 against dues 44,000 and water 5,000 penalty + 50,000 base: dues paid, water partial",
	},
	{
		ID:          "overpayment",
		Name:        "Overpayment",
		Description: "120,000 against the same bills: both paid, 21,000 added to credit",
	},
	{
		ID:          "deleted-payment",
		Name:        "Deleted Payment",
		Description: "The overpayment deleted: both bills unpaid again, 21,000 credit withdrawn",
	},
	{
		ID:          "late-fees",
		Name:        "Late Fees",
		Description: "July fiscal year, 5% compounding penalty after 15 days grace, paid months late",
	},
	{
		ID:          "credit-draw",
		Name:        "Credit Draw",
		Description: "Starting credit of 30,000 pays a water bill through a zero payment",
	},
}

const (
	demoClientID = engine.ClientID("demo-association")
	demoUnitID   = engine.UnitID("unit-4B")
)

type resetter interface {
	Reset(ctx context.Context) error
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	loaders := map[string]func(context.Context) error{
		"split-payment":   h.loadSplitPaymentScenario,
		"overpayment":     h.loadOverpaymentScenario,
		"deleted-payment": h.loadDeletedPaymentScenario,
		"late-fees":       h.loadLateFeesScenario,
		"credit-draw":     h.loadCreditDrawScenario,
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	rs, ok := h.store().(resetter)
	if !ok {
		writeError(w, http.StatusNotImplemented, "Store does not support reset", nil)
		return
	}
	if err := rs.Reset(ctx); err != nil {
		h.writeDomainError(w, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		h.writeDomainError(w, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// Calendar fiscal year, no penalty policy: the water penalty below is a
// carried balance, not something accrued here.
var flatConfig = factory.FiscalConfigJSON{
	FiscalYearStartMonth: 1,
	DuesFrequency:        "monthly",
	WaterFrequency:       "quarterly",
	PenaltyRate:          decimal.Zero,
}

var splitPaymentDate = engine.NewDate(2026, time.August, 15)

// setupDuesAndWater bills July 2026 dues of 44,000 and Q3 water of 50,000
// with 5,000 penalty carried in. Both fall due 2026-07-01.
func (h *Handler) setupDuesAndWater(ctx context.Context) error {
	cfg, err := h.createDemoUnit(ctx, flatConfig)
	if err != nil {
		return err
	}

	year, err := dues.Schedule{UnitID: demoUnitID, FiscalYear: 2026, AnnualAmount: 528000}.Obligations(cfg)
	if err != nil {
		return err
	}
	july := year[6]

	tariff, err := factory.TariffFromJSON(factory.TariffJSON{RatePerCubicMeter: decimal.NewFromInt(1250)})
	if err != nil {
		return err
	}
	q3, err := water.Bill(water.Reading{
		UnitID:   demoUnitID,
		Period:   engine.PeriodKey{FiscalYear: 2026, FiscalMonth: 6},
		Previous: decimal.RequireFromString("1204.5"),
		Current:  decimal.RequireFromString("1244.5"),
	}, tariff, cfg)
	if err != nil {
		return err
	}
	q3.PenaltyAccrued = 5000

	_, err = h.Service.BillObligations(ctx, demoUnitID, []engine.Obligation{july, q3})
	return err
}

func (h *Handler) loadSplitPaymentScenario(ctx context.Context) error {
	if err := h.setupDuesAndWater(ctx); err != nil {
		return err
	}
	return h.pay(ctx, "txn-split-001", 60000, splitPaymentDate)
}

func (h *Handler) loadOverpaymentScenario(ctx context.Context) error {
	if err := h.setupDuesAndWater(ctx); err != nil {
		return err
	}
	return h.pay(ctx, "txn-over-001", 120000, splitPaymentDate)
}

func (h *Handler) loadDeletedPaymentScenario(ctx context.Context) error {
	if err := h.loadOverpaymentScenario(ctx); err != nil {
		return err
	}
	_, err := h.Service.DeletePayment(ctx, "txn-over-001")
	return err
}

func (h *Handler) loadLateFeesScenario(ctx context.Context) error {
	preset, err := factory.Preset("july-monthly")
	if err != nil {
		return err
	}
	cfg, err := h.createDemoUnit(ctx, factory.ToJSON(preset))
	if err != nil {
		return err
	}
	obs, err := dues.Schedule{UnitID: demoUnitID, FiscalYear: 2025, AnnualAmount: 528000}.Obligations(cfg)
	if err != nil {
		return err
	}
	if _, err := h.Service.BillObligations(ctx, demoUnitID, obs); err != nil {
		return err
	}
	// July through November are past grace by the payment date.
	return h.pay(ctx, "txn-late-001", 150000, engine.NewDate(2025, time.November, 20))
}

func (h *Handler) loadCreditDrawScenario(ctx context.Context) error {
	cfg, err := h.createDemoUnit(ctx, flatConfig)
	if err != nil {
		return err
	}
	if _, err := h.Service.AdjustCredit(ctx, payments.AdjustmentInput{
		UnitID: demoUnitID,
		Type:   engine.EntryStartingBalance,
		Amount: 30000,
		Notes:  "opening credit carried from previous system",
	}); err != nil {
		return err
	}
	tariff, err := factory.TariffFromJSON(factory.TariffJSON{RatePerCubicMeter: decimal.NewFromInt(1250), MinimumCharge: 15000})
	if err != nil {
		return err
	}
	ob, err := water.Bill(water.Reading{
		UnitID:   demoUnitID,
		Period:   engine.PeriodKey{FiscalYear: 2026, FiscalMonth: 3},
		Previous: decimal.RequireFromString("1180"),
		Current:  decimal.RequireFromString("1196.8"),
	}, tariff, cfg)
	if err != nil {
		return err
	}
	if _, err := h.Service.BillObligations(ctx, demoUnitID, []engine.Obligation{ob}); err != nil {
		return err
	}
	return h.pay(ctx, "txn-credit-001", 0, engine.NewDate(2026, time.April, 10))
}

func (h *Handler) createDemoUnit(ctx context.Context, fj factory.FiscalConfigJSON) (engine.FiscalConfig, error) {
	cfg, err := factory.FromJSON(fj)
	if err != nil {
		return engine.FiscalConfig{}, err
	}
	client := engine.Client{ID: demoClientID, Name: "Demo Homeowners Association", Config: cfg}
	if err := h.store().SaveClient(ctx, client); err != nil {
		return engine.FiscalConfig{}, err
	}
	unit := engine.Unit{ID: demoUnitID, ClientID: demoClientID, Label: "Building 4, Unit B"}
	if err := h.store().SaveUnit(ctx, unit); err != nil {
		return engine.FiscalConfig{}, err
	}
	return cfg, nil
}

func (h *Handler) pay(ctx context.Context, txID engine.TransactionID, amount engine.Money, asOf engine.Date) error {
	_, err := h.Service.RecordPayment(ctx, payments.PaymentInput{
		UnitID:        demoUnitID,
		TransactionID: txID,
		Amount:        amount,
		AsOf:          asOf,
		Notes:         "demo payment",
	})
	return err
}
