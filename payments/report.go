package payments

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/propledger/allocation-engine/engine"
)

// verifyConcurrency bounds the ledgers loaded at once by VerifyLedgers.
const verifyConcurrency = 8

// Statement is a read-only view of a unit as of a date. Penalties are
// refreshed for display; nothing is written.
type Statement struct {
	Unit             engine.Unit
	Config           engine.FiscalConfig
	AsOf             engine.Date
	Obligations      []engine.Obligation
	Entries          []engine.CreditEntry
	CreditBalance    engine.Money
	TotalOutstanding engine.Money
	Version          int64
}

// Statement builds the unit's statement as of asOf (today when zero).
func (s *Service) Statement(ctx context.Context, unitID engine.UnitID, asOf engine.Date) (*Statement, error) {
	if asOf.IsZero() {
		asOf = engine.DateOf(s.now().UTC())
	}
	state, err := s.store.LoadUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}

	st := &Statement{
		Unit:          state.Unit,
		Config:        state.Config,
		AsOf:          asOf,
		Entries:       state.Ledger.Entries(),
		CreditBalance: state.Ledger.CurrentBalance(),
		Version:       state.Version,
	}
	for _, ob := range state.Obligations {
		if ob.Status() != engine.StatusPaid {
			ob, err = engine.RefreshPenalty(ob, asOf, state.Config)
			if err != nil {
				return nil, err
			}
		}
		st.Obligations = append(st.Obligations, ob)
		st.TotalOutstanding += ob.Outstanding()
	}
	return st, nil
}

// Payments lists a unit's recorded payments, reversed ones included.
func (s *Service) Payments(ctx context.Context, unitID engine.UnitID) ([]engine.PaymentRecord, error) {
	return s.store.ListPayments(ctx, unitID)
}

// LedgerReport is the verification outcome for one unit's ledger.
type LedgerReport struct {
	UnitID  engine.UnitID
	Entries int
	Balance engine.Money
	Err     error
}

// OK reports whether the ledger passed verification.
func (r LedgerReport) OK() bool { return r.Err == nil }

// VerifyLedgers checks the running-sum invariant of every unit's ledger.
// A broken ledger is reported, not returned as an error; the error return is
// for storage failures.
func (s *Service) VerifyLedgers(ctx context.Context) ([]LedgerReport, error) {
	units, err := s.store.ListUnits(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]LedgerReport, len(units))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(verifyConcurrency)
	for i, u := range units {
		g.Go(func() error {
			entries, err := s.store.LoadEntries(ctx, u.ID)
			if err != nil {
				return err
			}
			r := LedgerReport{UnitID: u.ID, Entries: len(entries)}
			if n := len(entries); n > 0 {
				r.Balance = entries[n-1].BalanceAfter
			}
			r.Err = engine.VerifyEntries(entries)
			reports[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}
