package wc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	shared "wcedit/shared/types"
)

// wcPropStore persists working-copy-only properties under each
// directory's admin area, one JSON file per entry — "wcprops/this-dir"
// for the directory itself, "wcprops/<name>" for files. Wc-props are
// never versioned or diffed against a pristine copy; MODIFY_WCPROP just
// sets or clears a key.
type wcPropStore struct {
	adminDirName string
}

func newWCPropStore(adminDirName string) *wcPropStore {
	return &wcPropStore{adminDirName: adminDirName}
}

func (s *wcPropStore) path(dirPath, entryName string) string {
	if entryName == shared.ThisDir {
		entryName = thisDirPropFile
	}
	return filepath.Join(dirPath, s.adminDirName, "wcprops", entryName)
}

func (s *wcPropStore) read(dirPath, entryName string) (map[string]string, error) {
	data, err := os.ReadFile(s.path(dirPath, entryName))
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := map[string]string{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("wc: parsing wcprops for %s in %s: %w", entryName, dirPath, err)
	}
	return m, nil
}

func (s *wcPropStore) write(dirPath, entryName string, m map[string]string) error {
	p := s.path(dirPath, entryName)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("wc: creating wcprops dir for %s: %w", dirPath, err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0644)
}

func (s *wcPropStore) set(dirPath, entryName, name, value string) error {
	m, err := s.read(dirPath, entryName)
	if err != nil {
		return err
	}
	m[name] = value
	return s.write(dirPath, entryName, m)
}

func (s *wcPropStore) delete(dirPath, entryName, name string) error {
	m, err := s.read(dirPath, entryName)
	if err != nil {
		return err
	}
	delete(m, name)
	return s.write(dirPath, entryName, m)
}
