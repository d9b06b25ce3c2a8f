// Package wc implements the update editor: the driven state machine that
// folds a stream of tree-delta callbacks describing a new revision into a
// working copy, merging against local modifications through a crash-safe
// per-directory log.
package wc

import (
	"sync"

	"go.uber.org/zap"

	"wcedit/internal/admlock"
	"wcedit/internal/entries"
	"wcedit/internal/merge"
	"wcedit/internal/pristine"
	"wcedit/internal/wcconfig"
	shared "wcedit/shared/types"
)

// CancelFunc reports whether the edit has been asked to stop. It is the
// editor's only cooperative-cancellation hook: the editor checks it at
// the start of each callback and passes it down to collaborators that
// do long-running work (log replay, window handling).
type CancelFunc func() error

// EditContext is constructed once per edit and threaded through every
// callback. Everything on it is immutable after NewEditContext except for
// TargetRevision, which SetTargetRevision records, and RootOpened and
// TargetDeleted, which latch exactly once.
type EditContext struct {
	Anchor         string
	Target         string // basename restriction within Anchor, "" if none
	TargetRevision int64
	Recurse        bool
	UseCommitTimes bool
	SwitchURL      string // non-empty iff this edit is a switch
	AdminDirName   string // e.g. ".wc"; defaults to wcconfig.Default().AdminDirName

	Entries  *entries.Store
	Pristine *pristine.Store
	Merger   *merge.Merger
	Lock     *admlock.Manager

	Notifier shared.Notifier
	Cancel   CancelFunc
	Logger   *zap.Logger

	Traversal *TraversalInfo

	mu            sync.Mutex
	RootOpened    bool
	TargetDeleted bool
}

func (ec *EditContext) markRootOpened() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.RootOpened = true
}

func (ec *EditContext) markTargetDeleted() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.TargetDeleted = true
}

func (ec *EditContext) isTargetDeleted() bool {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.TargetDeleted
}

func (ec *EditContext) checkCancelled() error {
	if ec.Cancel == nil {
		return nil
	}
	return ec.Cancel()
}

// adminDirName returns the working copy's administrative directory name,
// falling back to the package default if the context wasn't given one.
func (ec *EditContext) adminDirName() string {
	if ec.AdminDirName != "" {
		return ec.AdminDirName
	}
	return wcconfig.Default().AdminDirName
}

// BumpInfo is the reference-counted completion tracker for one directory.
// Its count starts at 1 (for the directory itself), is incremented once
// per child directory and once per file entered, and decremented at each
// child's close and at the directory's own close. Reaching zero triggers
// complete_directory and recurses the decrement up through Parent.
type BumpInfo struct {
	mu       sync.Mutex
	Path     string
	Parent   *BumpInfo
	refCount int
}

func newBumpInfo(path string, parent *BumpInfo) *BumpInfo {
	return &BumpInfo{Path: path, Parent: parent, refCount: 1}
}

func (b *BumpInfo) addRef() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refCount++
}

// decrement drops the ref count by one and reports whether it reached
// zero (i.e. the directory is now complete).
func (b *BumpInfo) decrement() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refCount--
	return b.refCount == 0
}

// DirState is per-directory state live between open/add and close.
type DirState struct {
	Path           string
	Base           string
	URL            string
	Parent         *DirState
	Added          bool
	IsRoot         bool
	IsAnchorTarget bool

	PropChanges []shared.PropChange
	Bump        *BumpInfo
}

// FileState is per-file state live between open/add and close.
type FileState struct {
	Path  string
	Base  string
	URL   string
	Added bool

	TextChanged bool
	PropChanged bool
	PropChanges []shared.PropChange

	// NewTextBasePath is where apply_textdelta parked the reconstructed
	// full text; install_file picks it up from here at close.
	NewTextBasePath string

	// SupersededPristine is the pristine key the install replaced; its
	// reference is dropped once the log has replayed.
	SupersededPristine string

	LastChangedDate string

	Digest *runningDigest

	Dir *DirState
}
