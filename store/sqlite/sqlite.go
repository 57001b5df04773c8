/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements engine.Store on SQLite. In production the same patterns apply to
  PostgreSQL with minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  engine.UnitStore:      Versioned read-compute-write per unit
  engine.PaymentStore:   Recorded payments with their allocation breakdown
  engine.DirectoryStore: Clients and units
  engine.LedgerStore:    Raw credit entries for verification

APPEND-ONLY ENFORCEMENT:
  - credit_entries is insert-only. No UPDATE or DELETE statement touches it.
  - payments rows are never deleted; reversal sets reversed_at once.
  - obligations are upserted, never deleted.

OPTIMISTIC CONCURRENCY:
  units.version is bumped by every commit:

    UPDATE units SET version = version + 1 WHERE id = ? AND version = ?

  Zero rows affected means another writer got there first, and the whole
  commit rolls back with engine.ErrConcurrentModification. A write lock still
  held by another connection after the busy timeout is reported the same way,
  so the caller retries.

  There is no Go-side store lock: commits to different units only meet at
  SQLite's write lock. LoadUnit reads inside one transaction so the version
  and the rows it guards come from the same snapshot.

KEY TABLES:
  clients:         Fiscal config JSON per client
  units:           Unit directory plus the version column
  obligations:     Bill state per unit, module and period
  credit_entries:  Append-only credit ledger
  payments:        Payment records with allocation_json for reversal

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time; others wait up to _busy_timeout (5s)
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./allocation.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/propledger/allocation-engine/engine"
	"github.com/propledger/allocation-engine/factory"
)

// Store implements engine.Store using SQLite.
type Store struct {
	db *sql.DB
}

var _ engine.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		config_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS units (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL REFERENCES clients(id),
		label TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_units_client
		ON units(client_id);

	-- One obligation per unit, module and period
	CREATE TABLE IF NOT EXISTS obligations (
		id TEXT PRIMARY KEY,
		unit_id TEXT NOT NULL REFERENCES units(id),
		module TEXT NOT NULL,
		fiscal_year INTEGER NOT NULL,
		fiscal_month INTEGER NOT NULL CHECK (fiscal_month BETWEEN 0 AND 11),
		due_date TEXT NOT NULL,
		base_charge INTEGER NOT NULL CHECK (base_charge >= 0),
		penalty_accrued INTEGER NOT NULL DEFAULT 0 CHECK (penalty_accrued >= 0),
		base_paid INTEGER NOT NULL DEFAULT 0 CHECK (base_paid >= 0),
		penalty_paid INTEGER NOT NULL DEFAULT 0 CHECK (penalty_paid >= 0),
		description TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		UNIQUE(unit_id, module, fiscal_year, fiscal_month)
	);

	CREATE INDEX IF NOT EXISTS idx_obligations_unit_due
		ON obligations(unit_id, due_date);

	-- Credit ledger (append-only)
	CREATE TABLE IF NOT EXISTS credit_entries (
		id TEXT PRIMARY KEY,
		unit_id TEXT NOT NULL REFERENCES units(id),
		ts TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		entry_type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		balance_after INTEGER NOT NULL CHECK (balance_after >= 0),
		source_transaction_id TEXT,
		notes TEXT NOT NULL DEFAULT '',
		UNIQUE(unit_id, sequence)
	);

	-- CRITICAL: at most one entry per source per unit. This is what makes a
	-- second reversal of the same payment impossible at the storage level.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_entries_source
		ON credit_entries(unit_id, source_transaction_id)
		WHERE source_transaction_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS payments (
		transaction_id TEXT PRIMARY KEY,
		unit_id TEXT NOT NULL REFERENCES units(id),
		amount INTEGER NOT NULL CHECK (amount >= 0),
		as_of TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		allocation_json TEXT NOT NULL,
		reversed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_payments_unit
		ON payments(unit_id, recorded_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// DIRECTORY STORE (engine.DirectoryStore interface)
// =============================================================================

// SaveClient creates or updates a client and its fiscal config.
func (s *Store) SaveClient(ctx context.Context, c engine.Client) error {
	configJSON, err := factory.MarshalFiscalConfig(c.Config)
	if err != nil {
		return err
	}
	if err := c.Config.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO clients (id, name, config_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			config_json = excluded.config_json,
			updated_at = excluded.updated_at
	`
	now := formatTime(time.Now())
	_, err = s.db.ExecContext(ctx, query, c.ID, c.Name, configJSON, now, now)
	return err
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, id engine.ClientID) (*engine.Client, error) {
	var c engine.Client
	var configJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, config_json FROM clients WHERE id = ?", id,
	).Scan(&c.ID, &c.Name, &configJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", engine.ErrClientNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if c.Config, err = factory.ParseFiscalConfig(configJSON); err != nil {
		return nil, fmt.Errorf("client %s has bad config: %w", id, err)
	}
	return &c, nil
}

// SaveUnit creates a unit or updates its label. The version is untouched.
func (s *Store) SaveUnit(ctx context.Context, u engine.Unit) error {
	var exists int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM clients WHERE id = ?", u.ClientID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", engine.ErrClientNotFound, u.ClientID)
	}

	query := `
		INSERT INTO units (id, client_id, label, version, created_at)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(id) DO UPDATE SET
			label = excluded.label
	`
	_, err := s.db.ExecContext(ctx, query, u.ID, u.ClientID, u.Label, formatTime(time.Now()))
	return err
}

// ListUnits returns all units ordered by id.
func (s *Store) ListUnits(ctx context.Context) ([]engine.Unit, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, client_id, label FROM units ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []engine.Unit
	for rows.Next() {
		var u engine.Unit
		if err := rows.Scan(&u.ID, &u.ClientID, &u.Label); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// =============================================================================
// UNIT STORE (engine.UnitStore interface)
// =============================================================================

// LoadUnit reads the unit, its client's config, every obligation and the
// verified credit ledger.
func (s *Store) LoadUnit(ctx context.Context, unitID engine.UnitID) (*engine.UnitState, error) {
	// One read transaction, so the version and the rows it guards come from
	// the same snapshot.
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin read: %w", err)
	}
	defer tx.Rollback()

	state := &engine.UnitState{}
	var configJSON string
	err = tx.QueryRowContext(ctx, `
		SELECT u.id, u.client_id, u.label, u.version, c.config_json
		FROM units u JOIN clients c ON c.id = u.client_id
		WHERE u.id = ?`, unitID,
	).Scan(&state.Unit.ID, &state.Unit.ClientID, &state.Unit.Label, &state.Version, &configJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", engine.ErrUnitNotFound, unitID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load unit: %w", err)
	}

	if state.Config, err = factory.ParseFiscalConfig(configJSON); err != nil {
		return nil, fmt.Errorf("client %s has bad config: %w", state.Unit.ClientID, err)
	}
	if state.Obligations, err = s.queryObligations(ctx, tx, unitID); err != nil {
		return nil, err
	}

	entries, err := s.queryEntries(ctx, tx, unitID)
	if err != nil {
		return nil, err
	}
	if state.Ledger, err = engine.NewCreditLedger(unitID, entries); err != nil {
		return nil, err
	}

	return state, nil
}

// CommitUnit writes w in one database transaction if the unit is still at
// expectedVersion.
func (s *Store) CommitUnit(ctx context.Context, unitID engine.UnitID, expectedVersion int64, w engine.UnitWrite) (int64, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	res, err := sqlTx.ExecContext(ctx,
		"UPDATE units SET version = version + 1 WHERE id = ? AND version = ?",
		unitID, expectedVersion)
	if isBusyError(err) {
		return 0, fmt.Errorf("%w: unit %s: %v", engine.ErrConcurrentModification, unitID, err)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to bump unit version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var current int64
		err := sqlTx.QueryRowContext(ctx, "SELECT version FROM units WHERE id = ?", unitID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", engine.ErrUnitNotFound, unitID)
		}
		if err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("%w: unit %s at version %d, expected %d",
			engine.ErrConcurrentModification, unitID, current, expectedVersion)
	}

	at := w.At
	if at.IsZero() {
		at = time.Now()
	}

	for _, ob := range w.Obligations {
		if ob.UnitID != unitID {
			return 0, fmt.Errorf("%w: obligation %s belongs to unit %s", engine.ErrInvalidState, ob.ID, ob.UnitID)
		}
		if err := ob.Validate(); err != nil {
			return 0, err
		}
		if err := s.upsertObligation(ctx, sqlTx, ob, at); err != nil {
			return 0, err
		}
	}
	if w.Entry != nil {
		if err := s.appendEntry(ctx, sqlTx, unitID, *w.Entry); err != nil {
			return 0, err
		}
	}
	if w.Payment != nil {
		if err := s.insertPayment(ctx, sqlTx, *w.Payment); err != nil {
			return 0, err
		}
	}
	if w.ReversedPayment != "" {
		if err := s.markReversed(ctx, sqlTx, w.ReversedPayment, at); err != nil {
			return 0, err
		}
	}

	if err := sqlTx.Commit(); err != nil {
		if isBusyError(err) {
			return 0, fmt.Errorf("%w: unit %s: %v", engine.ErrConcurrentModification, unitID, err)
		}
		return 0, fmt.Errorf("failed to commit unit %s: %w", unitID, err)
	}
	return expectedVersion + 1, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) upsertObligation(ctx context.Context, db execer, ob engine.Obligation, at time.Time) error {
	query := `
		INSERT INTO obligations
		(id, unit_id, module, fiscal_year, fiscal_month, due_date,
		 base_charge, penalty_accrued, base_paid, penalty_paid, description, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			penalty_accrued = excluded.penalty_accrued,
			base_paid = excluded.base_paid,
			penalty_paid = excluded.penalty_paid,
			updated_at = excluded.updated_at
	`
	_, err := db.ExecContext(ctx, query,
		ob.ID, ob.UnitID, ob.Module.ModuleID(),
		ob.Period.FiscalYear, ob.Period.FiscalMonth, ob.DueDate.String(),
		int64(ob.BaseCharge), int64(ob.PenaltyAccrued), int64(ob.BasePaid), int64(ob.PenaltyPaid),
		ob.Description, formatTime(at),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: unit %s already billed for %s %s",
				engine.ErrInvalidState, ob.UnitID, ob.Module.ModuleID(), ob.Period)
		}
		return fmt.Errorf("failed to save obligation %s: %w", ob.ID, err)
	}
	return nil
}

// appendEntry inserts e after checking that it continues the stored tail.
func (s *Store) appendEntry(ctx context.Context, db execer, unitID engine.UnitID, e engine.CreditEntry) error {
	if e.UnitID != unitID {
		return fmt.Errorf("%w: entry %s belongs to unit %s", engine.ErrInvalidState, e.ID, e.UnitID)
	}

	var tailSeq, tailBalance int64
	var tailTS string
	err := db.QueryRowContext(ctx, `
		SELECT sequence, balance_after, ts FROM credit_entries
		WHERE unit_id = ? ORDER BY ts DESC, sequence DESC LIMIT 1`, unitID,
	).Scan(&tailSeq, &tailBalance, &tailTS)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if e.BalanceAfter != e.Amount {
			return fmt.Errorf("%w: first entry balance %s != amount %s", engine.ErrInvalidState, e.BalanceAfter, e.Amount)
		}
	case err != nil:
		return err
	default:
		if e.Sequence <= tailSeq {
			return fmt.Errorf("%w: entry sequence %d does not follow %d", engine.ErrInvalidState, e.Sequence, tailSeq)
		}
		if e.BalanceAfter != engine.Money(tailBalance)+e.Amount {
			return fmt.Errorf("%w: entry balance %s does not continue tail %s",
				engine.ErrInvalidState, e.BalanceAfter, engine.Money(tailBalance))
		}
		if ts, _ := time.Parse(timeLayout, tailTS); e.Timestamp.Before(ts) {
			return fmt.Errorf("%w: entry timestamp precedes ledger tail", engine.ErrInvalidState)
		}
	}
	if e.BalanceAfter < 0 {
		return &engine.InsufficientCreditError{UnitID: unitID, Available: e.BalanceAfter - e.Amount, Requested: e.Amount.Neg()}
	}

	query := `
		INSERT INTO credit_entries
		(id, unit_id, ts, sequence, entry_type, amount, balance_after, source_transaction_id, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.ExecContext(ctx, query,
		e.ID, e.UnitID, formatTime(e.Timestamp), e.Sequence, string(e.Type),
		int64(e.Amount), int64(e.BalanceAfter), nullString(string(e.SourceTransactionID)), e.Notes,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: ledger already has an entry for %s", engine.ErrDuplicateTransaction, e.SourceTransactionID)
		}
		return fmt.Errorf("failed to append credit entry: %w", err)
	}
	return nil
}

func (s *Store) insertPayment(ctx context.Context, db execer, p engine.PaymentRecord) error {
	allocationJSON, err := json.Marshal(p.Allocation)
	if err != nil {
		return fmt.Errorf("failed to encode allocation: %w", err)
	}

	query := `
		INSERT INTO payments
		(transaction_id, unit_id, amount, as_of, recorded_at, notes, allocation_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.ExecContext(ctx, query,
		p.TransactionID, p.UnitID, int64(p.Amount), p.AsOf.String(),
		formatTime(p.RecordedAt), p.Notes, string(allocationJSON),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", engine.ErrDuplicateTransaction, p.TransactionID)
		}
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

func (s *Store) markReversed(ctx context.Context, db execer, txID engine.TransactionID, at time.Time) error {
	res, err := db.ExecContext(ctx,
		"UPDATE payments SET reversed_at = ? WHERE transaction_id = ? AND reversed_at IS NULL",
		formatTime(at), txID)
	if err != nil {
		return fmt.Errorf("failed to mark payment reversed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM payments WHERE transaction_id = ?", txID).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", engine.ErrPaymentNotFound, txID)
	}
	return fmt.Errorf("%w: %s", engine.ErrAlreadyReversed, txID)
}

func (s *Store) queryObligations(ctx context.Context, db querier, unitID engine.UnitID) ([]engine.Obligation, error) {
	query := `
		SELECT id, unit_id, module, fiscal_year, fiscal_month, due_date,
		       base_charge, penalty_accrued, base_paid, penalty_paid, description
		FROM obligations
		WHERE unit_id = ?
		ORDER BY due_date ASC, id ASC
	`
	rows, err := db.QueryContext(ctx, query, unitID)
	if err != nil {
		return nil, fmt.Errorf("failed to query obligations: %w", err)
	}
	defer rows.Close()

	var obs []engine.Obligation
	for rows.Next() {
		var (
			ob                                 engine.Obligation
			moduleID, dueDate                  string
			base, penalty, basePaid, penaltyPd int64
		)
		if err := rows.Scan(&ob.ID, &ob.UnitID, &moduleID, &ob.Period.FiscalYear, &ob.Period.FiscalMonth,
			&dueDate, &base, &penalty, &basePaid, &penaltyPd, &ob.Description); err != nil {
			return nil, fmt.Errorf("failed to scan obligation: %w", err)
		}
		// Convert string to Module via registry
		ob.Module = engine.GetOrCreateModule(moduleID)
		if ob.DueDate, err = engine.ParseDate(dueDate); err != nil {
			return nil, fmt.Errorf("obligation %s: %w", ob.ID, err)
		}
		ob.BaseCharge, ob.PenaltyAccrued = engine.Money(base), engine.Money(penalty)
		ob.BasePaid, ob.PenaltyPaid = engine.Money(basePaid), engine.Money(penaltyPd)
		obs = append(obs, ob)
	}
	return obs, rows.Err()
}

// =============================================================================
// LEDGER STORE (engine.LedgerStore interface)
// =============================================================================

// LoadEntries returns a unit's credit entries in ledger order, unverified.
func (s *Store) LoadEntries(ctx context.Context, unitID engine.UnitID) ([]engine.CreditEntry, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM units WHERE id = ?", unitID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", engine.ErrUnitNotFound, unitID)
	}
	return s.queryEntries(ctx, s.db, unitID)
}

func (s *Store) queryEntries(ctx context.Context, db querier, unitID engine.UnitID) ([]engine.CreditEntry, error) {
	query := `
		SELECT id, unit_id, ts, sequence, entry_type, amount, balance_after, source_transaction_id, notes
		FROM credit_entries
		WHERE unit_id = ?
		ORDER BY ts ASC, sequence ASC
	`
	rows, err := db.QueryContext(ctx, query, unitID)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit entries: %w", err)
	}
	defer rows.Close()

	var entries []engine.CreditEntry
	for rows.Next() {
		var (
			e               engine.CreditEntry
			ts, entryType   string
			amount, balance int64
			source          sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.UnitID, &ts, &e.Sequence, &entryType, &amount, &balance, &source, &e.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan credit entry: %w", err)
		}
		e.Timestamp, _ = time.Parse(timeLayout, ts)
		e.Type = engine.EntryType(entryType)
		e.Amount, e.BalanceAfter = engine.Money(amount), engine.Money(balance)
		e.SourceTransactionID = engine.TransactionID(source.String)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// PAYMENT STORE (engine.PaymentStore interface)
// =============================================================================

const paymentColumns = `transaction_id, unit_id, amount, as_of, recorded_at, notes, allocation_json, reversed_at`

// GetPayment retrieves a payment by transaction id.
func (s *Store) GetPayment(ctx context.Context, txID engine.TransactionID) (*engine.PaymentRecord, error) {
	payments, err := s.queryPayments(ctx, "SELECT "+paymentColumns+" FROM payments WHERE transaction_id = ?", txID)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, fmt.Errorf("%w: %s", engine.ErrPaymentNotFound, txID)
	}
	return &payments[0], nil
}

// ListPayments returns a unit's payments in recording order.
func (s *Store) ListPayments(ctx context.Context, unitID engine.UnitID) ([]engine.PaymentRecord, error) {
	return s.queryPayments(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE unit_id = ? ORDER BY recorded_at ASC, transaction_id ASC",
		unitID)
}

func (s *Store) queryPayments(ctx context.Context, query string, args ...any) ([]engine.PaymentRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []engine.PaymentRecord
	for rows.Next() {
		var (
			p                         engine.PaymentRecord
			amount                    int64
			asOf, recordedAt, allocJS string
			reversedAt                sql.NullString
		)
		if err := rows.Scan(&p.TransactionID, &p.UnitID, &amount, &asOf, &recordedAt, &p.Notes, &allocJS, &reversedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.Amount = engine.Money(amount)
		if p.AsOf, err = engine.ParseDate(asOf); err != nil {
			return nil, fmt.Errorf("payment %s: %w", p.TransactionID, err)
		}
		p.RecordedAt, _ = time.Parse(timeLayout, recordedAt)
		if err := json.Unmarshal([]byte(allocJS), &p.Allocation); err != nil {
			return nil, fmt.Errorf("payment %s has bad allocation: %w", p.TransactionID, err)
		}
		if reversedAt.Valid {
			t, _ := time.Parse(timeLayout, reversedAt.String)
			p.ReversedAt = &t
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{"payments", "credit_entries", "obligations", "units", "clients"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

// timeLayout is fixed-width so that text order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// isBusyError reports whether another connection held the write lock past
// the busy timeout.
func isBusyError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
