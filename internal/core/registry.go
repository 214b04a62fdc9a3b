package core

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// registry holds the compiled-in modules, keyed by ID.
var registry = struct {
	sync.RWMutex
	byID map[ModuleID]ModuleInfo
}{byID: make(map[ModuleID]ModuleInfo)}

// RegisterModule records the module described by instance.ModuleInfo. It is
// meant for init functions and panics on a programming error: an ID
// without a namespace, a nil constructor or a duplicate ID.
func RegisterModule(instance Module) {
	info := instance.ModuleInfo()
	switch {
	case info.ID == "":
		panic("core: module ID must not be empty")
	case info.ID.Namespace() == string(info.ID):
		panic(fmt.Sprintf("core: module ID %q has no namespace", info.ID))
	case info.New == nil:
		panic(fmt.Sprintf("core: module %s has a nil constructor", info.ID))
	}

	registry.Lock()
	defer registry.Unlock()
	if _, dup := registry.byID[info.ID]; dup {
		panic(fmt.Sprintf("core: module %s registered twice", info.ID))
	}
	registry.byID[info.ID] = info
}

// GetModule returns the ModuleInfo registered under id.
func GetModule(id string) (ModuleInfo, bool) {
	registry.RLock()
	defer registry.RUnlock()
	info, ok := registry.byID[ModuleID(id)]
	return info, ok
}

// GetModules returns every registered module sorted by ID.
func GetModules() []ModuleInfo {
	return filterModules(func(ModuleInfo) bool { return true })
}

// GetModulesByNamespace returns the modules in namespace, sorted by ID
// ("backend" matches "backend.openai" and "backend.youtube").
func GetModulesByNamespace(namespace string) []ModuleInfo {
	return filterModules(func(info ModuleInfo) bool {
		return info.ID.Namespace() == namespace
	})
}

func filterModules(keep func(ModuleInfo) bool) []ModuleInfo {
	registry.RLock()
	defer registry.RUnlock()

	out := make([]ModuleInfo, 0, len(registry.byID))
	for _, id := range slices.Sorted(maps.Keys(registry.byID)) {
		if info := registry.byID[id]; keep(info) {
			out = append(out, info)
		}
	}
	return slices.Clip(out)
}

// resetRegistry clears the registry. Only for testing.
func resetRegistry() {
	registry.Lock()
	defer registry.Unlock()
	registry.byID = make(map[ModuleID]ModuleInfo)
}
