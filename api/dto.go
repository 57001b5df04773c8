/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's types from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Directory:
    ClientDTO, CreateClientRequest, UnitDTO, CreateUnitRequest

  Billing:
    BillDuesRequest, BillWaterRequest, ObligationDTO

  Payments:
    RecordPaymentRequest, PreviewRequest, PaymentDTO, PaymentResponse,
    DeletePaymentResponse

  Credit:
    CreditEntryDTO, AdjustmentRequest, StatementDTO, LedgerReportDTO,
    LedgerAuditDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

MONEY:
  Every amount is an integer count of minor units. 44000 is 440.00.

VALIDATION:
  Request types carry validate tags checked by factory.ValidateStruct in the
  handlers. Cross-field rules (a reading below the previous one, an unknown
  preset) are checked by the domain packages.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/fiscal.go: FiscalConfigJSON, TariffJSON
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/propledger/allocation-engine/engine"
	"github.com/propledger/allocation-engine/factory"
	"github.com/propledger/allocation-engine/payments"
)

// =============================================================================
// DIRECTORY
// =============================================================================

// ClientDTO represents an association in API responses.
type ClientDTO struct {
	ID     string                   `json:"id"`
	Name   string                   `json:"name"`
	Config factory.FiscalConfigJSON `json:"config"`
}

// CreateClientRequest creates or replaces a client. Exactly one of Preset
// and Config is expected; Preset wins when both are set.
type CreateClientRequest struct {
	ID     string                    `json:"id" validate:"required,max=64"`
	Name   string                    `json:"name" validate:"required"`
	Preset string                    `json:"preset,omitempty"`
	Config *factory.FiscalConfigJSON `json:"config,omitempty"`
}

// UnitDTO represents a unit in API responses.
type UnitDTO struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id"`
	Label    string `json:"label"`
}

// CreateUnitRequest creates or relabels a unit.
type CreateUnitRequest struct {
	ID       string `json:"id" validate:"required,max=64"`
	ClientID string `json:"client_id" validate:"required"`
	Label    string `json:"label"`
}

// =============================================================================
// BILLING
// =============================================================================

// BillDuesRequest bills a fiscal year of dues for a unit.
type BillDuesRequest struct {
	FiscalYear   int          `json:"fiscal_year" validate:"required,min=1900,max=9999"`
	AnnualAmount engine.Money `json:"annual_amount" validate:"min=0"`
}

// BillWaterRequest bills one quarter of water for a unit.
type BillWaterRequest struct {
	FiscalYear  int                `json:"fiscal_year" validate:"required,min=1900,max=9999"`
	FiscalMonth int                `json:"fiscal_month" validate:"min=0,max=11"`
	Previous    decimal.Decimal    `json:"previous_reading"`
	Current     decimal.Decimal    `json:"current_reading"`
	Tariff      factory.TariffJSON `json:"tariff"`
}

// ObligationDTO represents one bill in API responses.
type ObligationDTO struct {
	ID             string `json:"id"`
	Module         string `json:"module"`
	Period         string `json:"period"`
	DueDate        string `json:"due_date"`
	BaseCharge     int64  `json:"base_charge"`
	PenaltyAccrued int64  `json:"penalty_accrued"`
	BasePaid       int64  `json:"base_paid"`
	PenaltyPaid    int64  `json:"penalty_paid"`
	Outstanding    int64  `json:"outstanding"`
	Status         string `json:"status"`
	Description    string `json:"description,omitempty"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

// RecordPaymentRequest records a payment. A missing transaction id is
// generated; a missing as_of date means today.
type RecordPaymentRequest struct {
	TransactionID string       `json:"transaction_id,omitempty" validate:"omitempty,max=128"`
	Amount        engine.Money `json:"amount" validate:"min=0"`
	AsOf          engine.Date  `json:"as_of"`
	Notes         string       `json:"notes,omitempty"`
}

// PreviewRequest asks where a payment would go without recording it.
type PreviewRequest struct {
	Amount engine.Money `json:"amount" validate:"min=0"`
	AsOf   engine.Date  `json:"as_of"`
}

// PaymentDTO represents a recorded payment.
type PaymentDTO struct {
	TransactionID string                  `json:"transaction_id"`
	UnitID        string                  `json:"unit_id"`
	Amount        int64                   `json:"amount"`
	AsOf          string                  `json:"as_of"`
	RecordedAt    time.Time               `json:"recorded_at"`
	Notes         string                  `json:"notes,omitempty"`
	Reversed      bool                    `json:"reversed"`
	ReversedAt    *time.Time              `json:"reversed_at,omitempty"`
	Allocation    engine.AllocationResult `json:"allocation"`
}

// PaymentResponse is returned after recording a payment.
type PaymentResponse struct {
	Payment       PaymentDTO      `json:"payment"`
	Entry         *CreditEntryDTO `json:"credit_entry,omitempty"`
	CreditBalance int64           `json:"credit_balance"`
}

// DeletePaymentResponse is returned after deleting a payment. Noop is set
// when the payment had already been reversed.
type DeletePaymentResponse struct {
	TransactionID string                `json:"transaction_id"`
	Noop          bool                  `json:"noop"`
	Lines         []engine.ReversalLine `json:"lines,omitempty"`
	Entry         *CreditEntryDTO       `json:"credit_entry,omitempty"`
	CreditBalance int64                 `json:"credit_balance"`
}

// =============================================================================
// CREDIT
// =============================================================================

// CreditEntryDTO represents one ledger line.
type CreditEntryDTO struct {
	ID                  string    `json:"id"`
	Sequence            int64     `json:"sequence"`
	Timestamp           time.Time `json:"timestamp"`
	Type                string    `json:"type"`
	Amount              int64     `json:"amount"`
	BalanceAfter        int64     `json:"balance_after"`
	SourceTransactionID string    `json:"source_transaction_id,omitempty"`
	Notes               string    `json:"notes,omitempty"`
}

// AdjustmentRequest is a manual credit entry.
type AdjustmentRequest struct {
	Type      string       `json:"type" validate:"required,oneof=starting_balance reconciliation"`
	Amount    engine.Money `json:"amount"`
	Reference string       `json:"reference,omitempty" validate:"omitempty,max=128"`
	Notes     string       `json:"notes,omitempty"`
}

// StatementDTO is a unit's bills and credit as of a date.
type StatementDTO struct {
	Unit             UnitDTO          `json:"unit"`
	AsOf             string           `json:"as_of"`
	Obligations      []ObligationDTO  `json:"obligations"`
	Entries          []CreditEntryDTO `json:"credit_entries"`
	CreditBalance    int64            `json:"credit_balance"`
	TotalOutstanding int64            `json:"total_outstanding"`
	Version          int64            `json:"version"`
}

// LedgerReportDTO is one unit's ledger verification outcome.
type LedgerReportDTO struct {
	UnitID  string `json:"unit_id"`
	Entries int    `json:"entries"`
	Balance int64  `json:"balance"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toClientDTO(c engine.Client) ClientDTO {
	return ClientDTO{ID: string(c.ID), Name: c.Name, Config: factory.ToJSON(c.Config)}
}

func toUnitDTO(u engine.Unit) UnitDTO {
	return UnitDTO{ID: string(u.ID), ClientID: string(u.ClientID), Label: u.Label}
}

func toObligationDTO(ob engine.Obligation, cfg engine.FiscalConfig) ObligationDTO {
	period := ob.Period.String()
	if cfg.FrequencyFor(ob.Module) == engine.FrequencyQuarterly {
		period = ob.Period.QuarterString()
	}
	return ObligationDTO{
		ID:             string(ob.ID),
		Module:         ob.Module.ModuleID(),
		Period:         period,
		DueDate:        ob.DueDate.String(),
		BaseCharge:     int64(ob.BaseCharge),
		PenaltyAccrued: int64(ob.PenaltyAccrued),
		BasePaid:       int64(ob.BasePaid),
		PenaltyPaid:    int64(ob.PenaltyPaid),
		Outstanding:    int64(ob.Outstanding()),
		Status:         string(ob.Status()),
		Description:    ob.Description,
	}
}

func toCreditEntryDTO(e engine.CreditEntry) CreditEntryDTO {
	return CreditEntryDTO{
		ID:                  string(e.ID),
		Sequence:            e.Sequence,
		Timestamp:           e.Timestamp,
		Type:                string(e.Type),
		Amount:              int64(e.Amount),
		BalanceAfter:        int64(e.BalanceAfter),
		SourceTransactionID: string(e.SourceTransactionID),
		Notes:               e.Notes,
	}
}

func toCreditEntryDTOPtr(e *engine.CreditEntry) *CreditEntryDTO {
	if e == nil {
		return nil
	}
	dto := toCreditEntryDTO(*e)
	return &dto
}

func toPaymentDTO(p engine.PaymentRecord) PaymentDTO {
	alloc := p.Allocation
	if alloc.Lines == nil {
		alloc.Lines = []engine.AllocationLine{}
	}
	return PaymentDTO{
		TransactionID: string(p.TransactionID),
		UnitID:        string(p.UnitID),
		Amount:        int64(p.Amount),
		AsOf:          p.AsOf.String(),
		RecordedAt:    p.RecordedAt,
		Notes:         p.Notes,
		Reversed:      p.Reversed(),
		ReversedAt:    p.ReversedAt,
		Allocation:    alloc,
	}
}

func toStatementDTO(st *payments.Statement) StatementDTO {
	dto := StatementDTO{
		Unit:             toUnitDTO(st.Unit),
		AsOf:             st.AsOf.String(),
		Obligations:      make([]ObligationDTO, 0, len(st.Obligations)),
		Entries:          make([]CreditEntryDTO, 0, len(st.Entries)),
		CreditBalance:    int64(st.CreditBalance),
		TotalOutstanding: int64(st.TotalOutstanding),
		Version:          st.Version,
	}
	for _, ob := range st.Obligations {
		dto.Obligations = append(dto.Obligations, toObligationDTO(ob, st.Config))
	}
	for _, e := range st.Entries {
		dto.Entries = append(dto.Entries, toCreditEntryDTO(e))
	}
	return dto
}

// LedgerAuditDTO is the latest scheduled ledger audit.
type LedgerAuditDTO struct {
	Scheduled   bool              `json:"scheduled"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	NextRunAt   *time.Time        `json:"next_run_at,omitempty"`
	Units       int               `json:"units"`
	Broken      []LedgerReportDTO `json:"broken"`
	Error       string            `json:"error,omitempty"`
}
