// Package pristine is the content-addressed store for text bases: the
// unmodified full text of each versioned file, keyed by its SHA-256 hash,
// fanned out two levels deep on disk and reference-counted in badger so a
// text base shared by several entries (unmodified copies, or two entries
// that happen to hash the same) is only evicted once nothing points at it.
package pristine

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"wcedit/shared/utils"
)

var (
	ErrNotFound    = errors.New("pristine: content not found")
	ErrInvalidHash = errors.New("pristine: invalid content hash")
)

// Meta is the badger-resident bookkeeping record for one pristine blob.
type Meta struct {
	Hash       string    `json:"hash"`
	Size       int64     `json:"size"`
	RefCount   uint32    `json:"ref_count"`
	Compressed bool      `json:"compressed"`
	CreatedAt  time.Time `json:"created_at"`
	AccessedAt time.Time `json:"accessed_at"`
}

// Options configures a Store.
type Options struct {
	Root        string
	CacheSize   int
	Compression CompressionOptions
}

// Store is the pristine text-base store.
type Store struct {
	root  string
	db    *badger.DB
	cache *lru.Cache[string, []byte]
	codec *codec
	mu    sync.Mutex
}

func New(db *badger.DB, opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("pristine: root directory is required")
	}
	if err := os.MkdirAll(opts.Root, 0755); err != nil {
		return nil, fmt.Errorf("pristine: creating root directory: %w", err)
	}

	cacheSize := opts.CacheSize
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("pristine: creating cache: %w", err)
	}

	c, err := newCodec(opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("pristine: %w", err)
	}

	return &Store{root: opts.Root, db: db, cache: cache, codec: c}, nil
}

func (s *Store) Close() {
	s.codec.close()
}

// Store writes content under its content hash, incrementing the blob's
// reference count if it already exists, and returns the hash.
func (s *Store) Store(content []byte) (string, error) {
	if content == nil {
		content = []byte{}
	}
	hash := hashContent(content)

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.exists(hash)
	if err != nil {
		return "", fmt.Errorf("pristine: checking existence: %w", err)
	}
	if exists {
		if err := s.incrementRefCount(hash); err != nil {
			return "", fmt.Errorf("pristine: incrementing ref count: %w", err)
		}
		return hash, nil
	}

	data, isCompressed := s.codec.encode(content)

	path := s.contentPath(hash)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("pristine: creating content directory: %w", err)
	}
	// Blobs are immutable once written; read-only mode is the on-disk
	// statement of that, the same guarantee the readonly log verb makes
	// for a rotated text base.
	if err := os.WriteFile(path, data, 0444); err != nil {
		return "", fmt.Errorf("pristine: writing content file: %w", err)
	}

	meta := Meta{
		Hash:       hash,
		Size:       int64(len(content)),
		RefCount:   1,
		Compressed: isCompressed,
		CreatedAt:  time.Now(),
		AccessedAt: time.Now(),
	}
	if err := s.storeMeta(meta); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("pristine: storing metadata: %w", err)
	}

	s.cache.Add(hash, content)
	return hash, nil
}

// Get returns the decompressed content for hash.
func (s *Store) Get(hash string) ([]byte, error) {
	if !isValidHash(hash) {
		return nil, ErrInvalidHash
	}

	if content, ok := s.cache.Get(hash); ok {
		return content, nil
	}

	meta, err := s.getMeta(hash)
	if err != nil {
		return nil, fmt.Errorf("pristine: getting metadata: %w", err)
	}

	raw, err := os.ReadFile(s.contentPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("pristine: reading content: %w", err)
	}

	content, err := s.codec.decode(raw, meta.Compressed)
	if err != nil {
		return nil, fmt.Errorf("pristine: %w", err)
	}

	if hashContent(content) != hash {
		return nil, fmt.Errorf("pristine: content hash mismatch for %s", hash)
	}

	s.cache.Add(hash, content)
	meta.AccessedAt = time.Now()
	if err := s.storeMeta(meta); err != nil {
		return nil, fmt.Errorf("pristine: updating metadata: %w", err)
	}

	return content, nil
}

// Release drops one reference to hash, deleting the blob once the count
// reaches zero. Called when an entry that pointed at this text base is
// superseded or removed.
func (s *Store) Release(hash string) error {
	if !isValidHash(hash) {
		return ErrInvalidHash
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.getMeta(hash)
	if err != nil {
		return fmt.Errorf("pristine: getting metadata: %w", err)
	}

	if meta.RefCount > 0 {
		meta.RefCount--
	}
	if meta.RefCount == 0 {
		path := s.contentPath(hash)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("pristine: removing content file: %w", err)
		}
		if err := s.deleteMeta(hash); err != nil {
			return fmt.Errorf("pristine: deleting metadata: %w", err)
		}
		s.cache.Remove(hash)
		return nil
	}

	return s.storeMeta(meta)
}

// Exists reports whether hash is present in the store.
func (s *Store) Exists(hash string) (bool, error) {
	if !isValidHash(hash) {
		return false, ErrInvalidHash
	}
	return s.exists(hash)
}

func (s *Store) exists(hash string) (bool, error) {
	if s.cache.Contains(hash) {
		return true, nil
	}
	_, err := s.getMeta(hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func hashContent(content []byte) string {
	return utils.HashContent(content)
}

func (s *Store) contentPath(hash string) string {
	return filepath.Join(s.root, hash[:2], hash[2:])
}

func isValidHash(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

func (s *Store) incrementRefCount(hash string) error {
	meta, err := s.getMeta(hash)
	if err != nil {
		return err
	}
	meta.RefCount++
	return s.storeMeta(meta)
}

func metaKey(hash string) []byte {
	return []byte(fmt.Sprintf("pristine:%s", hash))
}

func (s *Store) storeMeta(meta Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(meta.Hash), data)
	})
}

func (s *Store) getMeta(hash string) (Meta, error) {
	var meta Meta
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(hash))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	return meta, err
}

func (s *Store) deleteMeta(hash string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(metaKey(hash))
	})
}
