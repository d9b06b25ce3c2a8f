package wc

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"wcedit/internal/admlock"
	"wcedit/internal/entries"
	"wcedit/internal/merge"
	"wcedit/internal/pristine"
	"wcedit/internal/wcconfig"
	shared "wcedit/shared/types"
)

// WorkingCopy bundles one open working copy's backing stores. Close
// releases everything it opened; callers that built an EditContext from
// it should call Close only after the edit (and its lock) have finished.
type WorkingCopy struct {
	Root     string
	Config   *wcconfig.Config
	DB       *badger.DB
	Entries  *entries.Store
	Pristine *pristine.Store
	Lock     *admlock.Manager
	Logger   *zap.Logger
}

// Open wires up the stores backing one working copy rooted at root,
// creating the administrative area if it doesn't exist yet.
func Open(root string, cfg *wcconfig.Config, logger *zap.Logger) (*WorkingCopy, error) {
	if cfg == nil {
		cfg = wcconfig.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	admDir := filepath.Join(root, cfg.AdminDirName)
	if err := os.MkdirAll(admDir, 0755); err != nil {
		return nil, fmt.Errorf("wc: creating admin area: %w", err)
	}

	dbPath := cfg.Entries.Path
	if dbPath == "" {
		dbPath = filepath.Join(admDir, "entries.db")
	}
	opts := badger.DefaultOptions(dbPath).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("wc: opening entries database: %w", err)
	}

	entriesStore, err := entries.NewStore(db, 64)
	if err != nil {
		db.Close()
		return nil, err
	}

	pristinePath := cfg.Pristine.Path
	if pristinePath == "" {
		pristinePath = filepath.Join(admDir, "pristine")
	}
	compressionOpts := pristine.DefaultCompressionOptions()
	if cfg.Pristine.CompressionThreshold > 0 {
		compressionOpts.MinSize = cfg.Pristine.CompressionThreshold
	}
	pristineStore, err := pristine.New(db, pristine.Options{
		Root:        pristinePath,
		CacheSize:   cfg.Pristine.CacheSize,
		Compression: compressionOpts,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	lock, err := admlock.NewManager(cfg.AdminDirName, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &WorkingCopy{
		Root:     root,
		Config:   cfg,
		DB:       db,
		Entries:  entriesStore,
		Pristine: pristineStore,
		Lock:     lock,
		Logger:   logger,
	}, nil
}

func (wc *WorkingCopy) Close() error {
	wc.Pristine.Close()
	if err := wc.Lock.Close(); err != nil {
		return err
	}
	return wc.DB.Close()
}

// NewEditContext builds the EditContext for one edit against wc, rooted
// at anchor (typically wc.Root) and restricted to target (empty for a
// whole-working-copy update).
func (wc *WorkingCopy) NewEditContext(anchor, target string, targetRevision int64, notifier shared.Notifier) *EditContext {
	return &EditContext{
		Anchor:         anchor,
		Target:         target,
		TargetRevision: targetRevision,
		AdminDirName:   wc.Config.AdminDirName,
		UseCommitTimes: wc.Config.UseCommitTimes,
		Entries:        wc.Entries,
		Pristine:       wc.Pristine,
		Merger:         merge.NewMerger(),
		Lock:           wc.Lock,
		Notifier:       notifier,
		Logger:         wc.Logger,
		Traversal:      NewTraversalInfo(),
	}
}
