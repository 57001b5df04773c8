/*
scenarios_test.go - Tests for demo scenarios

Each scenario is loaded through the API and checked against the numbers its
description promises.
*/
package api

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *testServer) loadScenario(t *testing.T, id string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (s *testServer) statement(t *testing.T, asOf string) StatementDTO {
	t.Helper()
	rec := s.do(t, http.MethodGet, "/api/units/"+string(demoUnitID)+"/statement?as_of="+asOf, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeAs[StatementDTO](t, rec)
}

func byModule(st StatementDTO, module string) ObligationDTO {
	for _, ob := range st.Obligations {
		if ob.Module == module {
			return ob
		}
	}
	return ObligationDTO{}
}

func TestScenario_SplitPayment(t *testing.T) {
	// GIVEN: Split payment scenario
	// WHEN: Loading the scenario
	// THEN: Dues paid, water penalty paid, 11,000 on water base, no credit

	s := setupTestServer(t)
	s.loadScenario(t, "split-payment")

	st := s.statement(t, "2026-08-15")
	dues := byModule(st, "dues")
	water := byModule(st, "water")

	assert.Equal(t, "paid", dues.Status)
	assert.Equal(t, "partial", water.Status)
	assert.Equal(t, int64(5000), water.PenaltyPaid)
	assert.Equal(t, int64(11000), water.BasePaid)
	assert.Equal(t, int64(39000), st.TotalOutstanding)
	assert.Zero(t, st.CreditBalance)
	assert.Empty(t, st.Entries)
}

func TestScenario_Overpayment(t *testing.T) {
	s := setupTestServer(t)
	s.loadScenario(t, "overpayment")

	st := s.statement(t, "2026-08-15")
	assert.Zero(t, st.TotalOutstanding)
	assert.Equal(t, int64(21000), st.CreditBalance)
	require.Len(t, st.Entries, 1)
	assert.Equal(t, "credit_added", st.Entries[0].Type)
	assert.Equal(t, "txn-over-001", st.Entries[0].SourceTransactionID)
}

func TestScenario_DeletedPayment(t *testing.T) {
	// GIVEN: The overpayment scenario followed by deletion
	// WHEN: Loading the scenario
	// THEN: Both bills unpaid and the credit back to zero through a
	//       credit_used entry of -21,000

	s := setupTestServer(t)
	s.loadScenario(t, "deleted-payment")

	st := s.statement(t, "2026-08-15")
	for _, ob := range st.Obligations {
		assert.Equal(t, "unpaid", ob.Status, ob.ID)
	}
	assert.Zero(t, st.CreditBalance)
	require.Len(t, st.Entries, 2)
	assert.Equal(t, "credit_used", st.Entries[1].Type)
	assert.Equal(t, int64(-21000), st.Entries[1].Amount)
	assert.Equal(t, "txn-over-001_reversal", st.Entries[1].SourceTransactionID)

	rec := s.do(t, http.MethodGet, "/api/payments/txn-over-001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeAs[PaymentDTO](t, rec).Reversed)
}

func TestScenario_LateFees(t *testing.T) {
	// GIVEN: July fiscal year, 5% compounding after 15 days grace
	// WHEN: 150,000 is paid on 2025-11-20
	// THEN: July carries four periods of penalty (9,482) and is paid with
	//       August; September is partly paid

	s := setupTestServer(t)
	s.loadScenario(t, "late-fees")

	st := s.statement(t, "2025-11-20")
	require.Len(t, st.Obligations, 12)

	july, aug, sep := st.Obligations[0], st.Obligations[1], st.Obligations[2]
	assert.Equal(t, "2025-07-01", july.DueDate)
	assert.Equal(t, int64(9482), july.PenaltyAccrued)
	assert.Equal(t, "paid", july.Status)
	assert.Equal(t, "paid", aug.Status)
	assert.Equal(t, "partial", sep.Status)
	assert.Equal(t, sep.PenaltyAccrued, sep.PenaltyPaid)
	assert.Zero(t, st.CreditBalance)
}

func TestScenario_CreditDraw(t *testing.T) {
	s := setupTestServer(t)
	s.loadScenario(t, "credit-draw")

	st := s.statement(t, "2026-04-10")
	require.Len(t, st.Obligations, 1)
	assert.Equal(t, int64(21000), st.Obligations[0].BaseCharge)
	assert.Equal(t, "paid", st.Obligations[0].Status)
	assert.Equal(t, int64(9000), st.CreditBalance)
	require.Len(t, st.Entries, 2)
	assert.Equal(t, "starting_balance", st.Entries[0].Type)
	assert.Equal(t, int64(-21000), st.Entries[1].Amount)
}

func TestScenario_ReloadResetsStore(t *testing.T) {
	// GIVEN: One scenario loaded
	// WHEN: Loading another
	// THEN: Nothing from the first remains and the current scenario updates

	s := setupTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", string(bytes.TrimSpace(rec.Body.Bytes())))

	s.loadScenario(t, "overpayment")
	s.loadScenario(t, "split-payment")

	st := s.statement(t, "2026-08-15")
	assert.Zero(t, st.CreditBalance)

	rec = s.do(t, http.MethodGet, "/api/payments/txn-over-001", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "split-payment", decodeAs[ScenarioDTO](t, rec).ID)
}

func TestScenario_AllScenariosLoadWithoutError(t *testing.T) {
	// GIVEN: All available scenarios
	// WHEN: Loading each scenario
	// THEN: None should error and every ledger verifies

	s := setupTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeAs[[]ScenarioDTO](t, rec)
	require.Len(t, list, 5)

	for _, sc := range list {
		t.Run(sc.ID, func(t *testing.T) {
			s.loadScenario(t, sc.ID)
			rec := s.do(t, http.MethodGet, "/api/admin/ledgers/verify", nil)
			assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		})
	}

	rec = s.do(t, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
