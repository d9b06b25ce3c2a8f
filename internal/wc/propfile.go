package wc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	shared "wcedit/shared/types"
)

// propFileStore persists the regular (user-visible) properties of each
// versioned node under its directory's admin area, one JSON file per node
// — "props/this-dir" for the directory itself, "props/<name>" for files.
// Installation never writes these files in place: the merged result is
// staged into the admin tmp area and rotated in by an mv log command, so
// a crash mid-close leaves either the old or the new prop file, never a
// torn one.
type propFileStore struct {
	adminDirName string
}

func newPropFileStore(adminDirName string) *propFileStore {
	return &propFileStore{adminDirName: adminDirName}
}

const thisDirPropFile = "this-dir"

func (s *propFileStore) relPath(name string) string {
	if name == shared.ThisDir {
		name = thisDirPropFile
	}
	return filepath.Join(s.adminDirName, "props", name)
}

func (s *propFileStore) read(dirPath, name string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(dirPath, s.relPath(name)))
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := map[string]string{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("wc: parsing props for %s in %s: %w", name, dirPath, err)
	}
	return m, nil
}

// applyPropChanges folds a diff into a property map: tombstones delete,
// everything else sets.
func applyPropChanges(m map[string]string, changes []shared.PropChange) {
	for _, c := range changes {
		if c.IsTombstone() {
			delete(m, c.Name)
			continue
		}
		m[c.Name] = *c.Value
	}
}

// stageMerged writes the merged property map for name to a staging file
// under the admin tmp area and appends the mv command that rotates it
// into place at replay time. Both paths in the command are relative to
// dirPath, matching the mv verb's contract.
func (s *propFileStore) stageMerged(buf *LogBuffer, dirPath, name string, merged map[string]string) error {
	dst := s.relPath(name)
	if err := os.MkdirAll(filepath.Dir(filepath.Join(dirPath, dst)), 0755); err != nil {
		return fmt.Errorf("wc: creating props dir for %s: %w", dirPath, err)
	}

	stagedName := filepath.Base(dst) + ".props." + tempSuffix()
	src := filepath.Join(s.adminDirName, "tmp", stagedName)
	if err := os.MkdirAll(filepath.Dir(filepath.Join(dirPath, src)), 0755); err != nil {
		return fmt.Errorf("wc: creating tmp dir for %s: %w", dirPath, err)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dirPath, src), data, 0644); err != nil {
		return fmt.Errorf("wc: staging props for %s: %w", name, err)
	}

	buf.append(VerbMv, map[string]string{"src": src, "dst": dst})
	return nil
}

// mergeRegularProps loads the node's current regular props, folds changes
// in, stages the result, and reports the resulting prop state: unchanged
// when the diff was a no-op, changed otherwise.
func (s *propFileStore) mergeRegularProps(buf *LogBuffer, dirPath, name string, changes []shared.PropChange) (shared.State, error) {
	if len(changes) == 0 {
		return shared.StateUnchanged, nil
	}

	current, err := s.read(dirPath, name)
	if err != nil {
		return shared.StateUnknown, err
	}

	merged := make(map[string]string, len(current))
	for k, v := range current {
		merged[k] = v
	}
	applyPropChanges(merged, changes)

	if mapsEqual(current, merged) {
		return shared.StateUnchanged, nil
	}
	if err := s.stageMerged(buf, dirPath, name, merged); err != nil {
		return shared.StateUnknown, err
	}
	return shared.StateChanged, nil
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
