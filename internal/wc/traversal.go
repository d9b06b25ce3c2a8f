package wc

import (
	"sync"

	shared "wcedit/shared/types"
)

// TraversalInfo collects before/after values of the externals property
// observed during close_directory, for the driver to act on after
// close_edit. Append-only within one edit.
type TraversalInfo struct {
	mu  sync.Mutex
	Old map[string]string
	New map[string]string
}

func NewTraversalInfo() *TraversalInfo {
	return &TraversalInfo{Old: map[string]string{}, New: map[string]string{}}
}

func (t *TraversalInfo) record(dirPath, oldValue, newValue string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Old[dirPath] = oldValue
	t.New[dirPath] = newValue
}

// recordExternals captures the before/after value of the externals
// property when an incoming change genuinely alters it.
func recordExternals(ec *EditContext, props *propFileStore, dirPath string, regular []shared.PropChange) error {
	for _, c := range regular {
		if c.Name != externalsProp {
			continue
		}
		current, err := props.read(dirPath, shared.ThisDir)
		if err != nil {
			return err
		}
		oldValue := current[externalsProp]
		newValue := ""
		if !c.IsTombstone() {
			newValue = *c.Value
		}
		if oldValue != newValue {
			ec.Traversal.record(dirPath, oldValue, newValue)
		}
	}
	return nil
}
