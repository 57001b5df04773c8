// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/propledger/allocation-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is an in-memory engine.Store. One mutex guards every map: payment
// transaction ids are unique across units, so a commit reads shared state.
// The lock is held for map work only, never across an allocation.
type Memory struct {
	mu       sync.RWMutex
	clients  map[engine.ClientID]engine.Client
	units    map[engine.UnitID]*unitRecord
	payments map[engine.TransactionID]engine.PaymentRecord
}

type unitRecord struct {
	unit        engine.Unit
	version     int64
	obligations map[engine.ObligationID]engine.Obligation
	entries     []engine.CreditEntry
}

var _ engine.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		clients:  make(map[engine.ClientID]engine.Client),
		units:    make(map[engine.UnitID]*unitRecord),
		payments: make(map[engine.TransactionID]engine.PaymentRecord),
	}
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (m *Memory) SaveClient(_ context.Context, c engine.Client) error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = c
	return nil
}

func (m *Memory) GetClient(_ context.Context, id engine.ClientID) (*engine.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrClientNotFound, id)
	}
	return &c, nil
}

// SaveUnit creates or relabels a unit. The client must exist.
func (m *Memory) SaveUnit(_ context.Context, u engine.Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[u.ClientID]; !ok {
		return fmt.Errorf("%w: %s", engine.ErrClientNotFound, u.ClientID)
	}
	if rec, ok := m.units[u.ID]; ok {
		rec.unit = u
		return nil
	}
	m.units[u.ID] = &unitRecord{
		unit:        u,
		obligations: make(map[engine.ObligationID]engine.Obligation),
	}
	return nil
}

func (m *Memory) ListUnits(_ context.Context) ([]engine.Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	units := make([]engine.Unit, 0, len(m.units))
	for _, rec := range m.units {
		units = append(units, rec.unit)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })
	return units, nil
}

// =============================================================================
// UNIT READ-COMPUTE-WRITE
// =============================================================================

func (m *Memory) LoadUnit(_ context.Context, unitID engine.UnitID) (*engine.UnitState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.units[unitID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrUnitNotFound, unitID)
	}
	client, ok := m.clients[rec.unit.ClientID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrClientNotFound, rec.unit.ClientID)
	}

	ledger, err := engine.NewCreditLedger(unitID, rec.entries)
	if err != nil {
		return nil, err
	}

	obs := make([]engine.Obligation, 0, len(rec.obligations))
	for _, ob := range rec.obligations {
		obs = append(obs, ob)
	}
	sortObligations(obs)

	return &engine.UnitState{
		Unit:        rec.unit,
		Config:      client.Config,
		Obligations: obs,
		Ledger:      ledger,
		Version:     rec.version,
	}, nil
}

// CommitUnit applies w atomically if the unit is still at expectedVersion.
// Everything is checked before anything is written.
func (m *Memory) CommitUnit(_ context.Context, unitID engine.UnitID, expectedVersion int64, w engine.UnitWrite) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.units[unitID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", engine.ErrUnitNotFound, unitID)
	}
	if rec.version != expectedVersion {
		return 0, fmt.Errorf("%w: unit %s at version %d, expected %d",
			engine.ErrConcurrentModification, unitID, rec.version, expectedVersion)
	}

	for _, ob := range w.Obligations {
		if ob.UnitID != unitID {
			return 0, fmt.Errorf("%w: obligation %s belongs to unit %s", engine.ErrInvalidState, ob.ID, ob.UnitID)
		}
		if err := ob.Validate(); err != nil {
			return 0, err
		}
	}
	if w.Entry != nil {
		if err := checkAppend(rec.entries, *w.Entry, unitID); err != nil {
			return 0, err
		}
	}
	if w.Payment != nil {
		if _, exists := m.payments[w.Payment.TransactionID]; exists {
			return 0, fmt.Errorf("%w: %s", engine.ErrDuplicateTransaction, w.Payment.TransactionID)
		}
	}
	if w.ReversedPayment != "" {
		p, ok := m.payments[w.ReversedPayment]
		if !ok {
			return 0, fmt.Errorf("%w: %s", engine.ErrPaymentNotFound, w.ReversedPayment)
		}
		if p.Reversed() {
			return 0, fmt.Errorf("%w: %s", engine.ErrAlreadyReversed, w.ReversedPayment)
		}
	}

	for _, ob := range w.Obligations {
		rec.obligations[ob.ID] = ob
	}
	if w.Entry != nil {
		rec.entries = append(rec.entries, *w.Entry)
	}
	if w.Payment != nil {
		m.payments[w.Payment.TransactionID] = *w.Payment
	}
	if w.ReversedPayment != "" {
		p := m.payments[w.ReversedPayment]
		at := w.At
		p.ReversedAt = &at
		m.payments[w.ReversedPayment] = p
	}

	rec.version++
	return rec.version, nil
}

// checkAppend verifies that e continues the ledger.
func checkAppend(entries []engine.CreditEntry, e engine.CreditEntry, unitID engine.UnitID) error {
	if e.UnitID != unitID {
		return fmt.Errorf("%w: entry %s belongs to unit %s", engine.ErrInvalidState, e.ID, e.UnitID)
	}
	if e.SourceTransactionID != "" {
		for _, existing := range entries {
			if existing.SourceTransactionID == e.SourceTransactionID {
				return fmt.Errorf("%w: ledger already has an entry for %s", engine.ErrDuplicateTransaction, e.SourceTransactionID)
			}
		}
	}
	return engine.VerifyEntries(append(append([]engine.CreditEntry(nil), entries...), e))
}

// =============================================================================
// PAYMENTS AND LEDGER READS
// =============================================================================

func (m *Memory) GetPayment(_ context.Context, txID engine.TransactionID) (*engine.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[txID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrPaymentNotFound, txID)
	}
	return &p, nil
}

func (m *Memory) ListPayments(_ context.Context, unitID engine.UnitID) ([]engine.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []engine.PaymentRecord
	for _, p := range m.payments {
		if p.UnitID == unitID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].RecordedAt.Equal(result[j].RecordedAt) {
			return result[i].RecordedAt.Before(result[j].RecordedAt)
		}
		return result[i].TransactionID < result[j].TransactionID
	})
	return result, nil
}

func (m *Memory) LoadEntries(_ context.Context, unitID engine.UnitID) ([]engine.CreditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.units[unitID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrUnitNotFound, unitID)
	}
	result := make([]engine.CreditEntry, len(rec.entries))
	copy(result, rec.entries)
	return result, nil
}

func sortObligations(obs []engine.Obligation) {
	sort.Slice(obs, func(i, j int) bool {
		if !obs[i].DueDate.Equal(obs[j].DueDate) {
			return obs[i].DueDate.Before(obs[j].DueDate)
		}
		return obs[i].ID < obs[j].ID
	})
}

// Reset clears all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients = make(map[engine.ClientID]engine.Client)
	m.units = make(map[engine.UnitID]*unitRecord)
	m.payments = make(map[engine.TransactionID]engine.PaymentRecord)
	return nil
}
