/*
Package payments runs the allocation core against storage.

PURPOSE:
  The engine is pure: it never reads or writes. This package is the calling
  layer that gives it data and persists its proposals. Every write to a unit
  goes through one optimistic read-compute-write cycle:

    ┌──────────┐   ┌─────────────────────┐   ┌───────────────────────────┐
    │ LoadUnit │──▶│ Allocate / Reverse  │──▶│ CommitUnit(expectedVer)    │
    └──────────┘   └─────────────────────┘   └───────────────────────────┘
         ▲                                                 │
         └────────── ErrConcurrentModification ────────────┘
                     (bounded by MaxAttempts)

  A conflict throws the whole computation away and starts again from fresh
  data. Partial results are never merged. Different units never contend.

IDEMPOTENT DELETE:
  Deleting a payment that was already reversed succeeds as a no-op.

SEE ALSO:
  - engine/allocator.go, engine/reversal.go: The core
  - engine/store.go: UnitStore contract
*/
package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/propledger/allocation-engine/engine"
	"github.com/propledger/allocation-engine/observability"
)

// DefaultMaxAttempts bounds the read-compute-write cycle when Options leaves
// MaxAttempts unset.
const DefaultMaxAttempts = 5

// Options configures a Service. Zero values get defaults.
type Options struct {
	Logger      *zap.Logger
	Metrics     *observability.Metrics
	Order       engine.ModuleOrder
	MaxAttempts int
	Clock       func() time.Time
}

// Service records and deletes payments and adjusts credit.
type Service struct {
	store       engine.Store
	allocator   *engine.Allocator
	logger      *zap.Logger
	metrics     *observability.Metrics
	maxAttempts int
	now         func() time.Time
}

// New creates a service over store.
func New(store engine.Store, opts Options) *Service {
	s := &Service{
		store:       store,
		allocator:   engine.NewAllocator(opts.Order),
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		maxAttempts: opts.MaxAttempts,
		now:         opts.Clock,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = DefaultMaxAttempts
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Store returns the backing store.
func (s *Service) Store() engine.Store { return s.store }

// =============================================================================
// RECORD PAYMENT
// =============================================================================

// PaymentInput is a payment to record.
type PaymentInput struct {
	UnitID        engine.UnitID
	TransactionID engine.TransactionID // generated when empty
	Amount        engine.Money
	AsOf          engine.Date // today when zero
	Notes         string
}

// PaymentResult is a recorded payment and its effect on credit.
type PaymentResult struct {
	Payment       engine.PaymentRecord
	Entry         *engine.CreditEntry
	CreditBalance engine.Money
}

// RecordPayment allocates a payment and persists the allocation, the
// obligation updates and the credit entry in one commit.
func (s *Service) RecordPayment(ctx context.Context, in PaymentInput) (*PaymentResult, error) {
	const op = "record_payment"

	if in.UnitID == "" {
		return nil, fmt.Errorf("%w: unit id is required", engine.ErrInvalidArgument)
	}
	if in.Amount < 0 {
		s.metrics.ObserveOperation(op, "rejected")
		return nil, &engine.NegativePaymentError{Amount: in.Amount}
	}
	if in.TransactionID == "" {
		in.TransactionID = engine.TransactionID(uuid.NewString())
	}
	if engine.IsReversalSourceID(in.TransactionID) {
		s.metrics.ObserveOperation(op, "rejected")
		return nil, fmt.Errorf("%w: transaction id %s must not end in %s",
			engine.ErrInvalidArgument, in.TransactionID, engine.ReversalSuffix)
	}
	if in.AsOf.IsZero() {
		in.AsOf = engine.DateOf(s.now().UTC())
	}

	if _, err := s.store.GetPayment(ctx, in.TransactionID); err == nil {
		s.metrics.ObserveOperation(op, "duplicate")
		return nil, fmt.Errorf("%w: %s", engine.ErrDuplicateTransaction, in.TransactionID)
	} else if !errors.Is(err, engine.ErrPaymentNotFound) {
		return nil, err
	}

	var result *PaymentResult
	err := s.withUnit(ctx, op, in.UnitID, func(state *engine.UnitState, now time.Time) (*engine.UnitWrite, error) {
		alloc, err := s.allocator.Allocate(engine.AllocationRequest{
			UnitID:              in.UnitID,
			SourceTransactionID: in.TransactionID,
			PaymentAmount:       in.Amount,
			AsOf:                in.AsOf,
			Obligations:         state.Outstanding(),
			CreditBalance:       state.Ledger.CurrentBalance(),
			Config:              state.Config,
		})
		if err != nil {
			return nil, err
		}

		record := engine.PaymentRecord{
			TransactionID: in.TransactionID,
			UnitID:        in.UnitID,
			Amount:        in.Amount,
			AsOf:          in.AsOf,
			RecordedAt:    now,
			Notes:         in.Notes,
			Allocation:    *alloc,
		}
		w := &engine.UnitWrite{Obligations: alloc.Updated, Payment: &record, At: now}

		balance := state.Ledger.CurrentBalance()
		if alloc.LedgerDelta != nil {
			entry, err := state.Ledger.Next(*alloc.LedgerDelta, newEntryID(), now)
			if err != nil {
				return nil, err
			}
			w.Entry = &entry
			balance = entry.BalanceAfter
		}

		result = &PaymentResult{Payment: record, Entry: w.Entry, CreditBalance: balance}
		return w, nil
	})
	if err != nil {
		s.fail(op, in.UnitID, err, zap.String("transaction_id", string(in.TransactionID)))
		return nil, err
	}

	alloc := result.Payment.Allocation
	s.metrics.ObserveOperation(op, "ok")
	s.metrics.ObserveLines(len(alloc.Lines))
	s.metrics.ObserveCreditDelta(int64(alloc.CreditDelta))
	s.logger.Info("payment recorded",
		zap.String("unit_id", string(in.UnitID)),
		zap.String("transaction_id", string(in.TransactionID)),
		zap.Int64("amount", int64(in.Amount)),
		zap.Int("lines", len(alloc.Lines)),
		zap.Int64("credit_delta", int64(alloc.CreditDelta)),
	)
	return result, nil
}

// Preview runs the allocation for a hypothetical payment without writing.
func (s *Service) Preview(ctx context.Context, unitID engine.UnitID, amount engine.Money, asOf engine.Date) (*engine.AllocationResult, error) {
	if asOf.IsZero() {
		asOf = engine.DateOf(s.now().UTC())
	}
	state, err := s.store.LoadUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	result, err := s.allocator.Allocate(engine.AllocationRequest{
		UnitID:              unitID,
		SourceTransactionID: "preview",
		PaymentAmount:       amount,
		AsOf:                asOf,
		Obligations:         state.Outstanding(),
		CreditBalance:       state.Ledger.CurrentBalance(),
		Config:              state.Config,
	})
	if err != nil {
		s.metrics.ObserveOperation("preview", outcome(err))
		return nil, err
	}
	s.metrics.ObserveOperation("preview", "ok")
	return result, nil
}

// =============================================================================
// DELETE PAYMENT
// =============================================================================

// DeleteResult describes the effect of a deletion. Noop is set when the
// payment had already been reversed.
type DeleteResult struct {
	TransactionID engine.TransactionID
	Noop          bool
	Reversal      *engine.ReversalResult
	Entry         *engine.CreditEntry
	CreditBalance engine.Money
}

// DeletePayment reverses a recorded payment against the unit's current state.
func (s *Service) DeletePayment(ctx context.Context, txID engine.TransactionID) (*DeleteResult, error) {
	const op = "delete_payment"

	payment, err := s.store.GetPayment(ctx, txID)
	if err != nil {
		s.metrics.ObserveOperation(op, outcome(err))
		return nil, err
	}
	if payment.Reversed() {
		s.metrics.ObserveOperation(op, "noop")
		return &DeleteResult{TransactionID: txID, Noop: true}, nil
	}

	var result *DeleteResult
	err = s.withUnit(ctx, op, payment.UnitID, func(state *engine.UnitState, now time.Time) (*engine.UnitWrite, error) {
		rev, err := engine.Reverse(engine.ReversalRequest{
			Allocation:  payment.Allocation,
			Obligations: state.Obligations,
			Ledger:      state.Ledger,
		})
		if err != nil {
			return nil, err
		}
		entry, err := state.Ledger.Next(rev.LedgerDelta, newEntryID(), now)
		if err != nil {
			return nil, err
		}
		result = &DeleteResult{
			TransactionID: txID,
			Reversal:      rev,
			Entry:         &entry,
			CreditBalance: entry.BalanceAfter,
		}
		return &engine.UnitWrite{
			Obligations:     rev.Updated,
			Entry:           &entry,
			ReversedPayment: txID,
			At:              now,
		}, nil
	})
	if errors.Is(err, engine.ErrAlreadyReversed) {
		s.metrics.ObserveOperation(op, "noop")
		s.logger.Info("payment already reversed", zap.String("transaction_id", string(txID)))
		return &DeleteResult{TransactionID: txID, Noop: true}, nil
	}
	if err != nil {
		s.fail(op, payment.UnitID, err, zap.String("transaction_id", string(txID)))
		return nil, err
	}

	s.metrics.ObserveOperation(op, "ok")
	s.metrics.ObserveCreditDelta(int64(result.Entry.Amount))
	s.logger.Info("payment reversed",
		zap.String("unit_id", string(payment.UnitID)),
		zap.String("transaction_id", string(txID)),
		zap.Int("lines", len(result.Reversal.Lines)),
		zap.Int64("credit_delta", int64(result.Entry.Amount)),
	)
	return result, nil
}

// =============================================================================
// CREDIT ADJUSTMENTS
// =============================================================================

// AdjustmentInput is a manual ledger entry.
type AdjustmentInput struct {
	UnitID    engine.UnitID
	Type      engine.EntryType // starting_balance or reconciliation
	Amount    engine.Money
	Reference engine.TransactionID // optional, must be unique in the ledger
	Notes     string
}

// AdjustCredit appends a starting balance or reconciliation entry. Entries
// of the allocation types only come from payments.
func (s *Service) AdjustCredit(ctx context.Context, in AdjustmentInput) (*engine.CreditEntry, error) {
	const op = "adjust_credit"

	if in.Type != engine.EntryStartingBalance && in.Type != engine.EntryReconciliation {
		return nil, fmt.Errorf("%w: adjustments must be %s or %s, got %q",
			engine.ErrInvalidArgument, engine.EntryStartingBalance, engine.EntryReconciliation, in.Type)
	}
	if engine.IsReversalSourceID(in.Reference) {
		return nil, fmt.Errorf("%w: reference %s must not end in %s",
			engine.ErrInvalidArgument, in.Reference, engine.ReversalSuffix)
	}

	var entry engine.CreditEntry
	err := s.withUnit(ctx, op, in.UnitID, func(state *engine.UnitState, now time.Time) (*engine.UnitWrite, error) {
		e, err := state.Ledger.Next(engine.LedgerDelta{
			Type:                in.Type,
			Amount:              in.Amount,
			SourceTransactionID: in.Reference,
			Notes:               in.Notes,
		}, newEntryID(), now)
		if err != nil {
			return nil, err
		}
		entry = e
		return &engine.UnitWrite{Entry: &e, At: now}, nil
	})
	if err != nil {
		s.fail(op, in.UnitID, err)
		return nil, err
	}

	s.metrics.ObserveOperation(op, "ok")
	s.metrics.ObserveCreditDelta(int64(entry.Amount))
	s.logger.Info("credit adjusted",
		zap.String("unit_id", string(in.UnitID)),
		zap.String("type", string(in.Type)),
		zap.Int64("amount", int64(in.Amount)),
		zap.Int64("balance_after", int64(entry.BalanceAfter)),
	)
	return &entry, nil
}

// =============================================================================
// BILLING
// =============================================================================

// BillObligations adds newly billed obligations to a unit. Obligations whose
// id already exists are skipped, so billing a period twice is harmless.
// Returns the obligations actually added.
func (s *Service) BillObligations(ctx context.Context, unitID engine.UnitID, obs []engine.Obligation) ([]engine.Obligation, error) {
	const op = "bill"

	var added []engine.Obligation
	err := s.withUnit(ctx, op, unitID, func(state *engine.UnitState, now time.Time) (*engine.UnitWrite, error) {
		existing := make(map[engine.ObligationID]bool, len(state.Obligations))
		for _, ob := range state.Obligations {
			existing[ob.ID] = true
		}
		added = added[:0]
		for _, ob := range obs {
			if ob.UnitID != unitID {
				return nil, fmt.Errorf("%w: obligation %s belongs to unit %s, not %s",
					engine.ErrInvalidArgument, ob.ID, ob.UnitID, unitID)
			}
			if err := ob.Validate(); err != nil {
				return nil, err
			}
			if existing[ob.ID] {
				continue
			}
			existing[ob.ID] = true
			added = append(added, ob)
		}
		if len(added) == 0 {
			return nil, nil
		}
		return &engine.UnitWrite{Obligations: added, At: now}, nil
	})
	if err != nil {
		s.fail(op, unitID, err)
		return nil, err
	}

	s.metrics.ObserveOperation(op, "ok")
	s.logger.Info("obligations billed",
		zap.String("unit_id", string(unitID)),
		zap.Int("added", len(added)),
		zap.Int("skipped", len(obs)-len(added)),
	)
	return added, nil
}

// =============================================================================
// READ-COMPUTE-WRITE
// =============================================================================

// computeFunc builds the write for one attempt. A nil write means there is
// nothing to commit.
type computeFunc func(state *engine.UnitState, now time.Time) (*engine.UnitWrite, error)

func (s *Service) withUnit(ctx context.Context, op string, unitID engine.UnitID, compute computeFunc) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		state, err := s.store.LoadUnit(ctx, unitID)
		if err != nil {
			return err
		}

		w, err := compute(state, s.now().UTC())
		if err != nil {
			return err
		}
		if w == nil {
			return nil
		}

		_, err = s.store.CommitUnit(ctx, unitID, state.Version, *w)
		if err == nil {
			return nil
		}
		if !engine.IsRetryable(err) {
			return err
		}

		lastErr = err
		s.metrics.ObserveConflict(op)
		s.logger.Debug("version conflict, retrying",
			zap.String("operation", op),
			zap.String("unit_id", string(unitID)),
			zap.Int("attempt", attempt),
		)
	}
	return fmt.Errorf("%s on unit %s gave up after %d attempts: %w", op, unitID, s.maxAttempts, lastErr)
}

func (s *Service) fail(op string, unitID engine.UnitID, err error, fields ...zap.Field) {
	s.metrics.ObserveOperation(op, outcome(err))
	fields = append(fields, zap.String("operation", op), zap.String("unit_id", string(unitID)), zap.Error(err))
	if errors.Is(err, engine.ErrInvalidState) {
		s.logger.Error("unit data integrity problem", fields...)
		return
	}
	s.logger.Warn("operation failed", fields...)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case engine.IsRetryable(err):
		return "conflict"
	case engine.IsNotFound(err):
		return "not_found"
	case engine.IsClientError(err):
		return "rejected"
	case errors.Is(err, engine.ErrInvalidState):
		return "invalid_state"
	default:
		return "error"
	}
}

func newEntryID() engine.EntryID { return engine.EntryID(uuid.NewString()) }
