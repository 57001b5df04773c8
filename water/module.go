// Package water implements metered water billing.
// Water is always billed quarterly from meter readings.
package water

import "github.com/propledger/allocation-engine/engine"

// Module is the concrete billing module for the water domain.
type Module string

func (m Module) ModuleID() string     { return string(m) }
func (m Module) ModuleDomain() string { return "water" }

var _ engine.Module = Module("")

// ModuleWater bills metered water.
const ModuleWater Module = engine.ModuleIDWater

func init() {
	engine.RegisterModule(ModuleWater)
}
