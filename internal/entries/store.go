// Package entries persists the per-directory entry maps the editor reads
// and writes as it walks the tree. Each directory's entries (including its
// own THIS_DIR record) live under one badger key, so a directory's whole
// set can be read or replaced atomically the way the log runner expects.
package entries

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	shared "wcedit/shared/types"
)

const keyPrefix = "entries"

// Store is the badger-backed, LRU-fronted entries store. One instance is
// shared across a whole update; directory maps are cached by path so a
// directory visited by OpenDirectory and later closed doesn't round-trip
// through badger twice.
type Store struct {
	db    *badger.DB
	cache *lru.Cache[string, map[string]*shared.Entry]
}

func NewStore(db *badger.DB, cacheSize int) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = 64
	}
	cache, err := lru.New[string, map[string]*shared.Entry](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("entries: building cache: %w", err)
	}
	return &Store{db: db, cache: cache}, nil
}

func makeKey(dirPath string) []byte {
	return []byte(fmt.Sprintf("%s:%s", keyPrefix, dirPath))
}

// ReadDir returns the entry map for dirPath, or an empty (non-nil) map if
// the directory has no entries recorded yet.
func (s *Store) ReadDir(dirPath string) (map[string]*shared.Entry, error) {
	if m, ok := s.cache.Get(dirPath); ok {
		return m, nil
	}

	m := make(map[string]*shared.Entry)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(makeKey(dirPath))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("entries: reading %q: %w", dirPath, err)
	}

	s.cache.Add(dirPath, m)
	return m, nil
}

// WriteDir replaces the whole entry map for dirPath in one transaction and
// refreshes the cache, so a reader racing the write never sees a partial
// directory.
func (s *Store) WriteDir(dirPath string, m map[string]*shared.Entry) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("entries: marshaling %q: %w", dirPath, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(makeKey(dirPath), data)
	})
	if err != nil {
		return fmt.Errorf("entries: writing %q: %w", dirPath, err)
	}

	s.cache.Add(dirPath, m)
	return nil
}

// Get returns the single named entry from dirPath's map, or nil if absent.
func (s *Store) Get(dirPath, name string) (*shared.Entry, error) {
	m, err := s.ReadDir(dirPath)
	if err != nil {
		return nil, err
	}
	return m[name], nil
}

// FieldMask selects which Entry fields Modify should overwrite, mirroring
// the driver's habit of only ever touching a handful of fields per
// modify-entry log command.
type FieldMask struct {
	Kind        bool
	Revision    bool
	URL         bool
	Schedule    bool
	Deleted     bool
	Incomplete  bool
	Checksum    bool
	PristineKey bool
	TextTime    bool
	PropTime    bool
	CopyfromURL bool
	CopyfromRev bool
	CmtAuthor   bool
	CmtRev      bool
	CmtDate     bool
	UUID        bool
}

// Modify applies changed's masked fields onto the existing entry for name
// within dirPath, creating the entry if it doesn't exist yet, and persists
// the whole directory map.
func (s *Store) Modify(dirPath, name string, changed *shared.Entry, mask FieldMask) error {
	m, err := s.ReadDir(dirPath)
	if err != nil {
		return err
	}

	existing, ok := m[name]
	if !ok {
		existing = &shared.Entry{Name: name}
	}
	applyMask(existing, changed, mask)
	m[name] = existing

	return s.WriteDir(dirPath, m)
}

func applyMask(dst, src *shared.Entry, mask FieldMask) {
	if mask.Kind {
		dst.Kind = src.Kind
	}
	if mask.Revision {
		dst.Revision = src.Revision
	}
	if mask.URL {
		dst.URL = src.URL
	}
	if mask.Schedule {
		dst.Schedule = src.Schedule
	}
	if mask.Deleted {
		dst.Deleted = src.Deleted
	}
	if mask.Incomplete {
		dst.Incomplete = src.Incomplete
	}
	if mask.Checksum {
		dst.Checksum = src.Checksum
	}
	if mask.PristineKey {
		dst.PristineKey = src.PristineKey
	}
	if mask.TextTime {
		dst.TextTime = src.TextTime
	}
	if mask.PropTime {
		dst.PropTime = src.PropTime
	}
	if mask.CopyfromURL {
		dst.CopyfromURL = src.CopyfromURL
	}
	if mask.CopyfromRev {
		dst.CopyfromRev = src.CopyfromRev
	}
	if mask.CmtAuthor {
		dst.CmtAuthor = src.CmtAuthor
	}
	if mask.CmtRev {
		dst.CmtRev = src.CmtRev
	}
	if mask.CmtDate {
		dst.CmtDate = src.CmtDate
	}
	if mask.UUID {
		dst.UUID = src.UUID
	}
}

// Remove deletes name from dirPath's map and persists the result. Removing
// a name that isn't present is not an error, matching delete-entry's
// idempotent replay semantics.
func (s *Store) Remove(dirPath, name string) error {
	m, err := s.ReadDir(dirPath)
	if err != nil {
		return err
	}
	if _, ok := m[name]; !ok {
		return nil
	}
	delete(m, name)
	return s.WriteDir(dirPath, m)
}
