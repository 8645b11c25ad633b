// Package selection tracks which loaded records are selected and which have
// their metadata expanded, and drives the bulk download. Both sets are
// defined over the currently loaded identifiers only; anything else is pruned
// as the result set changes.
package selection

import (
	"sort"
	"sync"
)

// Manager owns the selected and expanded ID sets.
type Manager struct {
	mu       sync.Mutex
	selected map[int64]struct{}
	expanded map[int64]struct{}
}

func NewManager() *Manager {
	return &Manager{
		selected: make(map[int64]struct{}),
		expanded: make(map[int64]struct{}),
	}
}

// ToggleSelection flips one record's selected state.
func (m *Manager) ToggleSelection(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	toggle(m.selected, id)
}

// Selected reports whether id is selected.
func (m *Manager) Selected(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.selected[id]
	return ok
}

// SelectedIDs returns the selected identifiers in ascending order.
func (m *Manager) SelectedIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedIDs(m.selected)
}

// SelectedCount returns the number of selected records.
func (m *Manager) SelectedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.selected)
}

// ToggleSelectAll selects every currently loaded record unless all of them
// already are, in which case it deselects all of them. The scope is the
// loaded set, never the full filtered result count.
func (m *Manager) ToggleSelectAll(currentIDs []int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	toggleAll(m.selected, currentIDs)
}

// ToggleMetadataExpansion flips one record's metadata panel.
func (m *Manager) ToggleMetadataExpansion(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	toggle(m.expanded, id)
}

// Expanded reports whether id's metadata panel is open.
func (m *Manager) Expanded(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.expanded[id]
	return ok
}

// ExpandedIDs returns the expanded identifiers in ascending order.
func (m *Manager) ExpandedIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedIDs(m.expanded)
}

// ToggleAllMetadata expands every loaded record's metadata unless all are
// already expanded, in which case it collapses all of them.
func (m *Manager) ToggleAllMetadata(currentIDs []int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	toggleAll(m.expanded, currentIDs)
}

// ClearExpansions collapses everything. Called whenever the loaded set
// changes identity, so expansion state never points at an unrendered record.
func (m *Manager) ClearExpansions() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.expanded)
}

// Prune drops selected and expanded identifiers that are no longer loaded.
func (m *Manager) Prune(currentIDs []int64) {
	loaded := make(map[int64]struct{}, len(currentIDs))
	for _, id := range currentIDs {
		loaded[id] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.selected {
		if _, ok := loaded[id]; !ok {
			delete(m.selected, id)
		}
	}
	for id := range m.expanded {
		if _, ok := loaded[id]; !ok {
			delete(m.expanded, id)
		}
	}
}

func toggle(set map[int64]struct{}, id int64) {
	if _, ok := set[id]; ok {
		delete(set, id)
	} else {
		set[id] = struct{}{}
	}
}

func toggleAll(set map[int64]struct{}, currentIDs []int64) {
	all := len(currentIDs) > 0
	for _, id := range currentIDs {
		if _, ok := set[id]; !ok {
			all = false
			break
		}
	}

	if all {
		for _, id := range currentIDs {
			delete(set, id)
		}
		return
	}
	for _, id := range currentIDs {
		set[id] = struct{}{}
	}
}

func sortedIDs(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
