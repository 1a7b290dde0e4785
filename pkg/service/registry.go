package service

import (
	"sort"
	"sync"
	"sync/atomic"
)

// ScenarioRegistry resolves scenarios by name. Lookups read an immutable
// snapshot map; registration copies the snapshot and swaps it atomically, so
// the map behind a snapshot is never mutated in place.
type ScenarioRegistry struct {
	snapshot atomic.Pointer[map[string]Scenario]
	mu       sync.Mutex // serializes writers only
}

func NewScenarioRegistry() *ScenarioRegistry {
	r := &ScenarioRegistry{}
	empty := map[string]Scenario{}
	r.snapshot.Store(&empty)
	return r
}

// Register adds or replaces a scenario under its name.
func (r *ScenarioRegistry) Register(s Scenario) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := *r.snapshot.Load()
	next := make(map[string]Scenario, len(current)+1)
	for name, sc := range current {
		next[name] = sc
	}
	next[s.Name()] = s
	r.snapshot.Store(&next)
}

// Lookup returns the scenario registered under name, if any.
func (r *ScenarioRegistry) Lookup(name string) (Scenario, bool) {
	s, ok := (*r.snapshot.Load())[name]
	return s, ok
}

// Names returns the registered scenario names in sorted order.
func (r *ScenarioRegistry) Names() []string {
	current := *r.snapshot.Load()
	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
