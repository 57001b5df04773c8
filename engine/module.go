/*
module.go - Billing module registration and tie-break ordering

PURPOSE:
  Obligations come from independently-billed modules (dues, water). The
  engine has no knowledge of either: domain packages register their Module
  implementations, and storage uses the registry to turn stored ids back into
  concrete modules.

HOW IT WORKS:
  1. Domain packages define their Module implementation
  2. They register it from init()
  3. Stores call GetOrCreateModule when scanning rows

TIE-BREAK:
  When two obligations share a due date, ModuleOrder decides which is paid
  first. The default is dues before water. It is a policy, not a law: clients
  may configure a different order.

SEE ALSO:
  - dues/module.go: Dues module
  - water/module.go: Water module
  - allocator.go: Uses ModuleOrder when sorting the queue
*/
package engine

import (
	"fmt"
	"sync"
)

// =============================================================================
// MODULE - A billing module
// =============================================================================

// Module identifies which billing module an obligation belongs to.
type Module interface {
	// ModuleID returns the unique identifier, e.g. "dues".
	ModuleID() string

	// ModuleDomain returns the owning domain package.
	ModuleDomain() string
}

// Well-known module ids. The engine only uses them for the default order.
const (
	ModuleIDDues  = "dues"
	ModuleIDWater = "water"
)

// =============================================================================
// MODULE REGISTRY
// =============================================================================

var (
	moduleRegistry = make(map[string]Module)
	registryMu     sync.RWMutex
)

// RegisterModule adds a module to the global registry.
func RegisterModule(m Module) {
	registryMu.Lock()
	defer registryMu.Unlock()
	moduleRegistry[m.ModuleID()] = m
}

// LookupModule finds a registered module by id. Returns nil if not found.
func LookupModule(id string) Module {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return moduleRegistry[id]
}

// MustLookupModule finds a registered module or panics.
func MustLookupModule(id string) Module {
	m := LookupModule(id)
	if m == nil {
		panic(fmt.Sprintf("module not registered: %s", id))
	}
	return m
}

// StringModule is a fallback for ids whose domain package is not linked in.
type StringModule struct {
	ID     string
	Domain string
}

func (m StringModule) ModuleID() string     { return m.ID }
func (m StringModule) ModuleDomain() string { return m.Domain }

// GetOrCreateModule looks up a module, or returns a StringModule fallback.
func GetOrCreateModule(id string) Module {
	if m := LookupModule(id); m != nil {
		return m
	}
	return StringModule{ID: id, Domain: "unknown"}
}

// =============================================================================
// MODULE ORDER - Tie-break policy
// =============================================================================

// ModuleOrder lists module ids in payment priority for obligations that fall
// due on the same day. Earlier = paid first.
type ModuleOrder []string

// DefaultModuleOrder pays dues before water on tied due dates.
var DefaultModuleOrder = ModuleOrder{ModuleIDDues, ModuleIDWater}

// Rank returns the priority rank of a module. Unknown modules rank after all
// listed ones.
func (o ModuleOrder) Rank(m Module) int {
	if m == nil {
		return len(o)
	}
	for i, id := range o {
		if id == m.ModuleID() {
			return i
		}
	}
	return len(o)
}

func moduleID(m Module) string {
	if m == nil {
		return ""
	}
	return m.ModuleID()
}
