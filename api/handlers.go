/*
handlers.go - HTTP API handlers for the allocation engine

PURPOSE:
  Exposes payment allocation, reversal and the credit ledger via REST API.
  Handles HTTP request/response and JSON serialization, and delegates every
  write to payments.Service.

ENDPOINTS:
  Clients:
    POST   /api/clients                         Create client (config or preset)
    GET    /api/clients/{id}                    Get client
    GET    /api/clients/presets                 List config presets

  Units:
    GET    /api/units                           List units
    POST   /api/units                           Create unit
    GET    /api/units/{id}/statement?as_of=     Obligations and credit as of a date

  Billing:
    POST   /api/units/{id}/bills/dues           Bill a fiscal year of dues
    POST   /api/units/{id}/bills/water          Bill a quarter of water

  Payments:
    POST   /api/units/{id}/payments             Record payment
    GET    /api/units/{id}/payments             Payment history
    POST   /api/units/{id}/payments/preview     Allocation without recording
    GET    /api/payments/{txid}                 Get payment
    DELETE /api/payments/{txid}                 Delete (reverse) payment

  Credit:
    POST   /api/units/{id}/credit/adjustments   Starting balance or reconciliation

  Admin:
    GET    /api/admin/ledgers/verify            Verify every unit's ledger
    GET    /api/admin/ledgers/audit             Latest scheduled ledger audit

  Scenarios:
    GET    /api/scenarios                       List demo scenarios
    POST   /api/scenarios/load                  Load a demo scenario

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (validate tags via factory.ValidateStruct)
  3. Call payments.Service
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, negative payment
  - 404: Client, unit or payment not found
  - 409: Duplicate transaction id, data integrity problem
  - 503: Version conflicts outlasted the retry budget
  - 500: Internal errors

  Deleting an already deleted payment is not an error: 200 with noop=true.

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/propledger/allocation-engine/dues"
	"github.com/propledger/allocation-engine/engine"
	"github.com/propledger/allocation-engine/factory"
	"github.com/propledger/allocation-engine/payments"
	"github.com/propledger/allocation-engine/water"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *payments.Service
	Logger  *zap.Logger

	// Audit is the ledger audit scheduler, nil when not scheduled.
	Audit *LedgerAuditScheduler

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a handler over svc.
func NewHandler(svc *payments.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Service: svc, Logger: logger}
}

func (h *Handler) store() engine.Store { return h.Service.Store() }

// =============================================================================
// CLIENT ENDPOINTS
// =============================================================================

// CreateClient creates or replaces a client.
// POST /api/clients
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if !h.decode(w, r, &req) {
		return
	}

	var (
		cfg engine.FiscalConfig
		err error
	)
	switch {
	case req.Preset != "":
		cfg, err = factory.Preset(req.Preset)
	case req.Config != nil:
		cfg, err = factory.FromJSON(*req.Config)
	default:
		err = fmt.Errorf("%w: either preset or config is required", engine.ErrInvalidArgument)
	}
	if err != nil {
		h.writeDomainError(w, "Invalid client configuration", err)
		return
	}

	client := engine.Client{ID: engine.ClientID(req.ID), Name: req.Name, Config: cfg}
	if err := h.store().SaveClient(r.Context(), client); err != nil {
		h.writeDomainError(w, "Failed to save client", err)
		return
	}
	writeJSON(w, http.StatusCreated, toClientDTO(client))
}

// GetClient returns a client.
// GET /api/clients/{id}
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	client, err := h.store().GetClient(r.Context(), engine.ClientID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to get client", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(*client))
}

// ListPresets returns the names of the built-in client configurations.
// GET /api/clients/presets
func (h *Handler) ListPresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, factory.PresetNames())
}

// =============================================================================
// UNIT ENDPOINTS
// =============================================================================

// ListUnits returns all units.
// GET /api/units
func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	units, err := h.store().ListUnits(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list units", err)
		return
	}
	dtos := make([]UnitDTO, 0, len(units))
	for _, u := range units {
		dtos = append(dtos, toUnitDTO(u))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateUnit creates a unit or relabels an existing one.
// POST /api/units
func (h *Handler) CreateUnit(w http.ResponseWriter, r *http.Request) {
	var req CreateUnitRequest
	if !h.decode(w, r, &req) {
		return
	}
	unit := engine.Unit{ID: engine.UnitID(req.ID), ClientID: engine.ClientID(req.ClientID), Label: req.Label}
	if err := h.store().SaveUnit(r.Context(), unit); err != nil {
		h.writeDomainError(w, "Failed to save unit", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUnitDTO(unit))
}

// GetStatement returns a unit's obligations and credit. Penalties are shown
// as accrued at as_of (default today) but not written.
// GET /api/units/{id}/statement
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOfParam(w, r)
	if !ok {
		return
	}
	st, err := h.Service.Statement(r.Context(), unitParam(r), asOf)
	if err != nil {
		h.writeDomainError(w, "Failed to build statement", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatementDTO(st))
}

// =============================================================================
// BILLING ENDPOINTS
// =============================================================================

// BillDues bills one fiscal year of dues for a unit.
// POST /api/units/{id}/bills/dues
func (h *Handler) BillDues(w http.ResponseWriter, r *http.Request) {
	var req BillDuesRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	unitID := unitParam(r)

	state, err := h.store().LoadUnit(ctx, unitID)
	if err != nil {
		h.writeDomainError(w, "Failed to load unit", err)
		return
	}
	obs, err := dues.Schedule{UnitID: unitID, FiscalYear: req.FiscalYear, AnnualAmount: req.AnnualAmount}.Obligations(state.Config)
	if err != nil {
		h.writeDomainError(w, "Invalid dues schedule", err)
		return
	}
	h.bill(ctx, w, unitID, obs, state.Config)
}

// BillWater bills one quarter of water for a unit.
// POST /api/units/{id}/bills/water
func (h *Handler) BillWater(w http.ResponseWriter, r *http.Request) {
	var req BillWaterRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	unitID := unitParam(r)

	tariff, err := factory.TariffFromJSON(req.Tariff)
	if err != nil {
		h.writeDomainError(w, "Invalid tariff", err)
		return
	}
	state, err := h.store().LoadUnit(ctx, unitID)
	if err != nil {
		h.writeDomainError(w, "Failed to load unit", err)
		return
	}
	ob, err := water.Bill(water.Reading{
		UnitID:   unitID,
		Period:   engine.PeriodKey{FiscalYear: req.FiscalYear, FiscalMonth: req.FiscalMonth},
		Previous: req.Previous,
		Current:  req.Current,
	}, tariff, state.Config)
	if err != nil {
		h.writeDomainError(w, "Invalid water reading", err)
		return
	}
	h.bill(ctx, w, unitID, []engine.Obligation{ob}, state.Config)
}

func (h *Handler) bill(ctx context.Context, w http.ResponseWriter, unitID engine.UnitID, obs []engine.Obligation, cfg engine.FiscalConfig) {
	added, err := h.Service.BillObligations(ctx, unitID, obs)
	if err != nil {
		h.writeDomainError(w, "Failed to bill unit", err)
		return
	}
	dtos := make([]ObligationDTO, 0, len(added))
	for _, ob := range added {
		dtos = append(dtos, toObligationDTO(ob, cfg))
	}
	writeJSON(w, http.StatusCreated, dtos)
}

// =============================================================================
// PAYMENT ENDPOINTS
// =============================================================================

// RecordPayment allocates and records a payment.
// POST /api/units/{id}/payments
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Service.RecordPayment(r.Context(), payments.PaymentInput{
		UnitID:        unitParam(r),
		TransactionID: engine.TransactionID(req.TransactionID),
		Amount:        req.Amount,
		AsOf:          req.AsOf,
		Notes:         req.Notes,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, PaymentResponse{
		Payment:       toPaymentDTO(res.Payment),
		Entry:         toCreditEntryDTOPtr(res.Entry),
		CreditBalance: int64(res.CreditBalance),
	})
}

// PreviewPayment shows where a payment would go without recording it.
// POST /api/units/{id}/payments/preview
func (h *Handler) PreviewPayment(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Service.Preview(r.Context(), unitParam(r), req.Amount, req.AsOf)
	if err != nil {
		h.writeDomainError(w, "Failed to preview payment", err)
		return
	}
	if res.Lines == nil {
		res.Lines = []engine.AllocationLine{}
	}
	writeJSON(w, http.StatusOK, res)
}

// ListPayments returns a unit's payments, reversed ones included.
// GET /api/units/{id}/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	records, err := h.Service.Payments(r.Context(), unitParam(r))
	if err != nil {
		h.writeDomainError(w, "Failed to list payments", err)
		return
	}
	dtos := make([]PaymentDTO, 0, len(records))
	for _, p := range records {
		dtos = append(dtos, toPaymentDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPayment returns one payment.
// GET /api/payments/{txid}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.store().GetPayment(r.Context(), engine.TransactionID(chi.URLParam(r, "txid")))
	if err != nil {
		h.writeDomainError(w, "Failed to get payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

// DeletePayment reverses a payment. Repeating it is a no-op.
// DELETE /api/payments/{txid}
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.DeletePayment(r.Context(), engine.TransactionID(chi.URLParam(r, "txid")))
	if err != nil {
		h.writeDomainError(w, "Failed to delete payment", err)
		return
	}
	resp := DeletePaymentResponse{
		TransactionID: string(res.TransactionID),
		Noop:          res.Noop,
		Entry:         toCreditEntryDTOPtr(res.Entry),
		CreditBalance: int64(res.CreditBalance),
	}
	if res.Reversal != nil {
		resp.Lines = res.Reversal.Lines
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// CREDIT ENDPOINTS
// =============================================================================

// AdjustCredit appends a starting balance or reconciliation entry.
// POST /api/units/{id}/credit/adjustments
func (h *Handler) AdjustCredit(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	entry, err := h.Service.AdjustCredit(r.Context(), payments.AdjustmentInput{
		UnitID:    unitParam(r),
		Type:      engine.EntryType(req.Type),
		Amount:    req.Amount,
		Reference: engine.TransactionID(req.Reference),
		Notes:     req.Notes,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to adjust credit", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCreditEntryDTO(*entry))
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// VerifyLedgers checks every unit's credit ledger. Responds 200 when all
// pass and 409 when any fails, with the per-unit reports either way.
// GET /api/admin/ledgers/verify
func (h *Handler) VerifyLedgers(w http.ResponseWriter, r *http.Request) {
	reports, err := h.Service.VerifyLedgers(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to verify ledgers", err)
		return
	}
	status := http.StatusOK
	dtos := make([]LedgerReportDTO, 0, len(reports))
	for _, rep := range reports {
		dto := LedgerReportDTO{
			UnitID:  string(rep.UnitID),
			Entries: rep.Entries,
			Balance: int64(rep.Balance),
			OK:      rep.OK(),
		}
		if rep.Err != nil {
			dto.Error = rep.Err.Error()
			status = http.StatusConflict
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, status, dtos)
}

// LastLedgerAudit reports the latest scheduled audit. Responds 409 when it
// found a broken ledger.
// GET /api/admin/ledgers/audit
func (h *Handler) LastLedgerAudit(w http.ResponseWriter, r *http.Request) {
	dto := LedgerAuditDTO{Broken: []LedgerReportDTO{}}
	if h.Audit == nil {
		writeJSON(w, http.StatusOK, dto)
		return
	}
	dto.Scheduled = true
	next := h.Audit.NextRunTime()
	dto.NextRunAt = &next

	run := h.Audit.LastRun()
	if run == nil {
		writeJSON(w, http.StatusOK, dto)
		return
	}
	dto.StartedAt = &run.StartedAt
	dto.CompletedAt = &run.CompletedAt
	dto.Units = run.Units
	if run.Err != nil {
		dto.Error = run.Err.Error()
	}
	for _, rep := range run.Broken {
		dto.Broken = append(dto.Broken, LedgerReportDTO{
			UnitID:  string(rep.UnitID),
			Entries: rep.Entries,
			Balance: int64(rep.Balance),
			Error:   rep.Err.Error(),
		})
	}
	status := http.StatusOK
	if len(dto.Broken) > 0 {
		status = http.StatusConflict
	}
	writeJSON(w, status, dto)
}

// =============================================================================
// HELPERS
// =============================================================================

func unitParam(r *http.Request) engine.UnitID {
	return engine.UnitID(chi.URLParam(r, "id"))
}

// decode reads the JSON body into v and validates it. On failure the error
// response is written and false returned.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := factory.ValidateStruct(v); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func (h *Handler) asOfParam(w http.ResponseWriter, r *http.Request) (engine.Date, bool) {
	raw := r.URL.Query().Get("as_of")
	if raw == "" {
		return engine.Date{}, true
	}
	d, err := engine.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of date, expected YYYY-MM-DD", err)
		return engine.Date{}, false
	}
	return d, true
}

// writeDomainError maps engine errors to HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error(message, zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrDuplicateTransaction):
		return http.StatusConflict
	case engine.IsClientError(err):
		return http.StatusBadRequest
	case engine.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrAlreadyReversed), errors.Is(err, engine.ErrInvalidState):
		return http.StatusConflict
	case engine.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
