// Package dues implements association dues billing.
// Dues are a fixed annual amount billed monthly or quarterly over the
// client's fiscal year.
package dues

import "github.com/propledger/allocation-engine/engine"

// =============================================================================
// DUES MODULE TYPE
// =============================================================================

// Module is the concrete billing module for the dues domain.
// Implements engine.Module.
type Module string

func (m Module) ModuleID() string     { return string(m) }
func (m Module) ModuleDomain() string { return "dues" }

// Compile-time check that Module implements engine.Module
var _ engine.Module = Module("")

// ModuleDues bills association dues.
const ModuleDues Module = engine.ModuleIDDues

func init() {
	engine.RegisterModule(ModuleDues)
}
