package wc

import (
	"os"
	"path/filepath"

	wcerrors "wcedit/internal/errors"
	shared "wcedit/shared/types"
)

// completeDirectory finishes a directory once every child it opened or
// added has itself closed: it clears the incomplete flag on the
// directory's own entry, sweeps stale tombstones and vanished
// subdirectories out of its entry map, and writes the result back in one
// pass so a reader never observes a half-swept directory.
func completeDirectory(ec *EditContext, dir *DirState) error {
	m, err := ec.Entries.ReadDir(dir.Path)
	if err != nil {
		return err
	}

	thisDir, ok := m[shared.ThisDir]
	if !ok {
		return wcerrors.EntryNotFound("no this-dir entry recorded for " + dir.Path)
	}
	thisDir.Incomplete = false
	m[shared.ThisDir] = thisDir

	if dir.IsRoot && ec.Target != "" {
		// Target-restricted edit: cleanup is scoped to the one target
		// entry. A tombstone the edit itself wrote stays — it is the
		// record of the target's deletion.
		if e, present := m[ec.Target]; present {
			sweepEntry(ec, dir.Path, ec.Target, e, m, ec.isTargetDeleted())
		}
	} else {
		for name, e := range m {
			if name == shared.ThisDir {
				continue
			}
			sweepEntry(ec, dir.Path, name, e, m, false)
		}
	}

	return ec.Entries.WriteDir(dir.Path, m)
}

// sweepEntry drops e from m when it is a stale tombstone or refers to a
// subdirectory that vanished from disk without being scheduled for add,
// notifying the delete in the latter case. keepTombstone preserves a
// deliberately written target tombstone.
func sweepEntry(ec *EditContext, dirPath, name string, e *shared.Entry, m map[string]*shared.Entry, keepTombstone bool) {
	if e.Deleted {
		if !keepTombstone {
			delete(m, name)
		}
		return
	}

	if e.Kind == shared.KindDir && !e.IsScheduledAdd() {
		childPath := filepath.Join(dirPath, name)
		if _, statErr := os.Stat(childPath); os.IsNotExist(statErr) {
			delete(m, name)
			notify(ec, childPath, shared.NotifyDelete, shared.KindDir, shared.StateUnknown, shared.StateUnknown, ec.TargetRevision)
		}
	}
}

// bumpFileClosed accounts for one closed file against its own
// directory's completion counter.
func bumpFileClosed(ec *EditContext, dir *DirState) error {
	return bump(ec, dir)
}

// bumpDirectoryClosed accounts for a directory's own close against its
// own completion counter — the self-reference newBumpInfo seeded it
// with. Reaching zero here means every child this directory opened or
// added has already closed.
func bumpDirectoryClosed(ec *EditContext, dir *DirState) error {
	return bump(ec, dir)
}

// bump decrements dir's own completion counter and, once it reaches
// zero, completes dir and recurses to decrement its parent's counter —
// the one reference the parent holds open on dir's behalf since dir was
// opened or added.
func bump(ec *EditContext, dir *DirState) error {
	if !dir.Bump.decrement() {
		return nil
	}
	if err := completeDirectory(ec, dir); err != nil {
		return err
	}
	if dir.Parent == nil {
		return nil
	}
	return bump(ec, dir.Parent)
}
