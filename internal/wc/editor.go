package wc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	wcerrors "wcedit/internal/errors"
	shared "wcedit/shared/types"
)

func timeNowRFC3339() string {
	return time.Now().Format(time.RFC3339Nano)
}

// Editor is the driven state machine: a server-side driver calls its
// methods in strict nesting order (open/add a directory or file, act on
// it, close it) to fold one revision's tree delta into the working copy
// rooted at ec.Anchor.
type Editor struct {
	ec     *EditContext
	runner *runner
}

func NewEditor(ec *EditContext) *Editor {
	return &Editor{ec: ec, runner: newRunner(ec)}
}

func (ed *Editor) SetTargetRevision(ctx context.Context, revision int64) error {
	ed.ec.TargetRevision = revision
	return nil
}

// OpenRoot opens the anchor directory, marking it incomplete until
// CloseDirectory (via the bump chain) clears the flag again.
func (ed *Editor) OpenRoot(ctx context.Context, baseRevision int64) (*DirState, error) {
	if err := ed.ec.checkCancelled(); err != nil {
		return nil, err
	}
	// The write lock is taken by whoever drives the edit, before it
	// starts; the editor only ever asserts possession.
	if ed.ec.Lock != nil && !ed.ec.Lock.IsLocked(ed.ec.Anchor) {
		return nil, wcerrors.Internal(fmt.Sprintf("working copy %s is not locked for writing", ed.ec.Anchor))
	}
	ed.ec.markRootOpened()

	path := ed.ec.Anchor
	url := ed.ec.SwitchURL
	if url == "" {
		if thisDir, err := ed.ec.Entries.Get(path, shared.ThisDir); err == nil && thisDir != nil {
			url = thisDir.URL
		}
	}

	dir := &DirState{
		Path:           path,
		Base:           filepath.Base(path),
		URL:            url,
		IsRoot:         true,
		IsAnchorTarget: ed.ec.Target != "",
		Bump:           newBumpInfo(path, nil),
	}

	// With a target, the root entry itself isn't part of the edit — the
	// target's own open/add/delete updates it. Without one, the root is
	// treated exactly as an open_directory on itself.
	if ed.ec.Target == "" {
		if err := prepareDirectory(ed.ec, path, url); err != nil {
			return nil, err
		}
	}
	return dir, nil
}

// prepareDirectory writes dirPath's own entry with the edit's target
// revision and post-edit URL, and marks it incomplete until
// complete_directory clears the flag.
func prepareDirectory(ec *EditContext, dirPath, url string) error {
	m, err := ec.Entries.ReadDir(dirPath)
	if err != nil {
		return err
	}
	thisDir, ok := m[shared.ThisDir]
	if !ok {
		thisDir = &shared.Entry{Name: shared.ThisDir, Kind: shared.KindDir}
	}
	thisDir.Revision = ec.TargetRevision
	if url != "" {
		thisDir.URL = url
	}
	thisDir.Incomplete = true
	m[shared.ThisDir] = thisDir
	return ec.Entries.WriteDir(dirPath, m)
}

// DeleteEntry removes name from parent, refusing when the entry carries
// local modifications the incoming delete would silently discard.
// Deleting the edit's own target does not remove the entries-store
// record outright — it leaves a tombstone so the caller can observe that
// the requested target itself vanished.
func (ed *Editor) DeleteEntry(ctx context.Context, path string, revision int64, parent *DirState) error {
	if err := ed.ec.checkCancelled(); err != nil {
		return err
	}
	name := filepath.Base(path)

	entry, err := ed.ec.Entries.Get(parent.Path, name)
	if err != nil {
		return err
	}
	if entry == nil {
		return wcerrors.EntryNotFound(fmt.Sprintf("no entry %q in %s to delete", name, parent.Path))
	}

	fullPath := filepath.Join(parent.Path, name)
	if entry.Kind == shared.KindFile {
		modified, err := isLocallyModified(fullPath, entry)
		if err != nil {
			return err
		}
		if modified {
			return wcerrors.Obstructed(fmt.Sprintf("%s has local modifications; refusing incoming delete", fullPath))
		}
	}

	isTarget := parent.IsRoot && ed.ec.Target == name

	// A switch re-roots URLs before the delete replays; removing the
	// subdirectory from revision control up front sidesteps the URL
	// mismatch that would otherwise block the parent's delete.
	if ed.ec.SwitchURL != "" && entry.Kind == shared.KindDir && !isTarget {
		if err := ed.ec.Entries.Remove(parent.Path, name); err != nil {
			return err
		}
	}

	if err := os.RemoveAll(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("wc: removing %s: %w", fullPath, err)
	}

	buf := newLogBuffer(parent.Path)
	if isTarget {
		// Deleting the edit's own target leaves a phantom tombstone at the
		// new revision, so the parent can report the delete accurately.
		ed.ec.markTargetDeleted()
		buf.append(VerbModifyEntry, map[string]string{
			"name":     name,
			"kind":     string(entry.Kind),
			"revision": fmt.Sprintf("%d", ed.ec.TargetRevision),
			"deleted":  "true",
		})
	} else {
		buf.append(VerbDeleteEntry, map[string]string{"name": name})
	}

	if err := ed.runner.flushAndRun(parent.Path, buf, ed.ec.Cancel); err != nil {
		if wcerrors.Is(err, wcerrors.ErrorTypeLeftLocalMod) {
			os.Remove(logFilePath(ed.ec.adminDirName(), parent.Path))
			return wcerrors.Obstructed(fmt.Sprintf("%s left local modifications behind; refusing incoming delete", fullPath))
		}
		return err
	}

	notify(ed.ec, fullPath, shared.NotifyDelete, entry.Kind, shared.StateUnknown, shared.StateUnknown, ed.ec.TargetRevision)
	return nil
}

// AddDirectory begins a new directory. copyfromPath non-empty means the
// driver wants it created from history, a form of copy this editor
// doesn't implement.
func (ed *Editor) AddDirectory(ctx context.Context, path string, parent *DirState, copyfromPath string, copyfromRev int64) (*DirState, error) {
	if err := ed.ec.checkCancelled(); err != nil {
		return nil, err
	}
	if copyfromPath != "" {
		return nil, wcerrors.Unsupported("add_directory with copyfrom is not supported")
	}

	name := filepath.Base(path)
	fullPath := filepath.Join(parent.Path, name)

	if name == ed.ec.adminDirName() {
		return nil, wcerrors.Obstructed(fmt.Sprintf("%s collides with the administrative directory name", fullPath))
	}

	existing, err := ed.ec.Entries.Get(parent.Path, name)
	if err != nil {
		return nil, err
	}
	if existing.IsScheduledAdd() {
		return nil, wcerrors.Obstructed(fmt.Sprintf("%s is already scheduled for addition", fullPath))
	}
	if _, statErr := os.Lstat(fullPath); statErr == nil {
		return nil, wcerrors.Obstructed(fmt.Sprintf("%s already exists on disk", fullPath))
	}

	// The initial entry clears any tombstone the name may carry; revision
	// and URL live on the child's own this-dir record.
	buf := newLogBuffer(parent.Path)
	buf.append(VerbModifyEntry, map[string]string{
		"name":    name,
		"kind":    string(shared.KindDir),
		"deleted": "false",
	})
	if err := ed.runner.flushAndRun(parent.Path, buf, ed.ec.Cancel); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(fullPath, 0755); err != nil {
		return nil, fmt.Errorf("wc: creating directory %s: %w", fullPath, err)
	}

	parent.Bump.addRef()
	dir := &DirState{
		Path:           fullPath,
		Base:           name,
		Parent:         parent,
		Added:          true,
		URL:            childURL(parent.URL, name),
		IsAnchorTarget: parent.IsAnchorTarget && ed.ec.Target == name,
		Bump:           newBumpInfo(fullPath, parent.Bump),
	}

	if err := prepareDirectory(ed.ec, fullPath, dir.URL); err != nil {
		return nil, err
	}

	notify(ed.ec, fullPath, shared.NotifyAdd, shared.KindDir, shared.StateUnknown, shared.StateUnknown, ed.ec.TargetRevision)
	return dir, nil
}

// OpenDirectory resumes an already-versioned directory.
func (ed *Editor) OpenDirectory(ctx context.Context, path string, parent *DirState, baseRevision int64) (*DirState, error) {
	if err := ed.ec.checkCancelled(); err != nil {
		return nil, err
	}
	name := filepath.Base(path)
	fullPath := filepath.Join(parent.Path, name)

	existing, err := ed.ec.Entries.Get(parent.Path, name)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, wcerrors.EntryNotFound(fmt.Sprintf("no entry %q in %s to open", name, parent.Path))
	}

	parent.Bump.addRef()
	dir := &DirState{
		Path:           fullPath,
		Base:           name,
		Parent:         parent,
		URL:            childURL(parent.URL, name),
		IsAnchorTarget: parent.IsAnchorTarget && ed.ec.Target == name,
		Bump:           newBumpInfo(fullPath, parent.Bump),
	}

	if err := prepareDirectory(ed.ec, fullPath, dir.URL); err != nil {
		return nil, err
	}
	return dir, nil
}

func childURL(parentURL, name string) string {
	if parentURL == "" {
		return ""
	}
	return parentURL + "/" + name
}

func (ed *Editor) ChangeDirProp(ctx context.Context, dir *DirState, name string, value *string) error {
	dir.PropChanges = append(dir.PropChanges, shared.PropChange{Name: name, Value: value})
	return nil
}

// CloseDirectory flushes the directory's accumulated property changes,
// replays its log, and bumps its own completion counter — which, once
// every child it opened or added has also closed, triggers
// complete_directory and recurses the bump upward through Parent.
func (ed *Editor) CloseDirectory(ctx context.Context, dir *DirState) error {
	if err := ed.ec.checkCancelled(); err != nil {
		return err
	}

	regular, entryProps, wcProps := partitionProps(dir.PropChanges)

	buf := newLogBuffer(dir.Path)
	propStore := newPropFileStore(ed.ec.adminDirName())

	if len(regular) > 0 {
		if ed.ec.Traversal != nil {
			if err := recordExternals(ed.ec, propStore, dir.Path, regular); err != nil {
				return err
			}
		}
	}

	propState, err := propStore.mergeRegularProps(buf, dir.Path, shared.ThisDir, regular)
	if err != nil {
		return err
	}
	if propState != shared.StateUnchanged {
		buf.append(VerbModifyEntry, map[string]string{"name": shared.ThisDir, "prop-time": timeNowRFC3339()})
	}

	changed := &shared.Entry{Name: shared.ThisDir}
	var mask entriesFieldMaskHolder
	for _, c := range entryProps {
		if c.IsTombstone() {
			// Tombstoned entry-props leave the stored field untouched.
			continue
		}
		applyEntryProp(changed, c.Name, *c.Value)
		mask.markFor(c.Name)
	}
	if mask.any() {
		emitEntryPropCommand(buf, shared.ThisDir, changed, mask)
	}

	for _, c := range wcProps {
		attrs := map[string]string{"entry": shared.ThisDir, "name": c.Name}
		if c.IsTombstone() {
			attrs["deleted"] = "true"
		} else {
			attrs["value"] = *c.Value
		}
		buf.append(VerbModifyWCProp, attrs)
	}

	if ed.ec.SwitchURL != "" && dir.URL != "" {
		buf.append(VerbModifyEntry, map[string]string{"name": shared.ThisDir, "url": dir.URL})
	}

	if err := ed.runner.flushAndRun(dir.Path, buf, ed.ec.Cancel); err != nil {
		return err
	}

	if err := bumpDirectoryClosed(ed.ec, dir); err != nil {
		return err
	}

	// Added directories were already announced by AddDirectory.
	if !dir.Added {
		notify(ed.ec, dir.Path, shared.NotifyUpdate, shared.KindDir, shared.StateUnchanged, propState, ed.ec.TargetRevision)
	}
	return nil
}

// AddFile begins a new file, rejecting an entry already scheduled for
// addition and any object already on disk at the path, as AddDirectory
// does. Unlike AddDirectory it does not check the name against the
// administrative directory name.
func (ed *Editor) AddFile(ctx context.Context, path string, parent *DirState, copyfromPath string, copyfromRev int64) (*FileState, error) {
	if err := ed.ec.checkCancelled(); err != nil {
		return nil, err
	}
	if copyfromPath != "" {
		return nil, wcerrors.Unsupported("add_file with copyfrom is not supported")
	}

	name := filepath.Base(path)
	fullPath := filepath.Join(parent.Path, name)

	existing, err := ed.ec.Entries.Get(parent.Path, name)
	if err != nil {
		return nil, err
	}
	if existing.IsScheduledAdd() {
		return nil, wcerrors.Obstructed(fmt.Sprintf("%s is already scheduled for addition", fullPath))
	}
	if _, statErr := os.Lstat(fullPath); statErr == nil {
		return nil, wcerrors.Obstructed(fmt.Sprintf("%s already exists on disk", fullPath))
	}

	parent.Bump.addRef()
	return &FileState{Path: fullPath, Base: name, URL: childURL(parent.URL, name), Added: true, Dir: parent}, nil
}

// OpenFile resumes an already-versioned file.
func (ed *Editor) OpenFile(ctx context.Context, path string, parent *DirState, baseRevision int64) (*FileState, error) {
	if err := ed.ec.checkCancelled(); err != nil {
		return nil, err
	}
	name := filepath.Base(path)
	fullPath := filepath.Join(parent.Path, name)

	existing, err := ed.ec.Entries.Get(parent.Path, name)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, wcerrors.EntryNotFound(fmt.Sprintf("no entry %q in %s to open", name, parent.Path))
	}

	parent.Bump.addRef()
	return &FileState{Path: fullPath, Base: name, URL: childURL(parent.URL, name), Dir: parent}, nil
}

func (ed *Editor) ApplyTextDelta(ctx context.Context, file *FileState, baseChecksum *string) (WindowHandler, error) {
	return applyTextDelta(ed.ec, file, baseChecksum)
}

func (ed *Editor) ChangeFileProp(ctx context.Context, file *FileState, name string, value *string) error {
	file.PropChanged = true
	file.PropChanges = append(file.PropChanges, shared.PropChange{Name: name, Value: value})
	if ed.ec.UseCommitTimes && name == committedDateProp && value != nil {
		file.LastChangedDate = *value
	}
	return nil
}

// CloseFile installs the file's accumulated text and property changes,
// verifies the driver's claimed checksum against what was actually
// installed, notifies, and bumps the containing directory's completion
// counter.
func (ed *Editor) CloseFile(ctx context.Context, file *FileState, textChecksum *string) error {
	if err := ed.ec.checkCancelled(); err != nil {
		return err
	}

	buf := newLogBuffer(file.Dir.Path)
	contentState, propState, err := installFile(ed.ec, file, buf, textChecksum)
	if err != nil {
		return err
	}

	if err := ed.runner.flushAndRun(file.Dir.Path, buf, ed.ec.Cancel); err != nil {
		return err
	}

	// The replayed log no longer references the old text base; drop the
	// reference this install superseded. A failure here is logged, not
	// returned — the install itself already succeeded.
	if file.SupersededPristine != "" {
		if rerr := ed.ec.Pristine.Release(file.SupersededPristine); rerr != nil && ed.ec.Logger != nil {
			ed.ec.Logger.Warn("releasing superseded text base",
				zap.String("path", file.Path), zap.Error(rerr))
		}
	}

	contentState, err = probeConflict(ed.ec, file, contentState)
	if err != nil {
		return err
	}

	if err := bumpFileClosed(ed.ec, file.Dir); err != nil {
		return err
	}

	if contentState == shared.StateUnchanged && propState == shared.StateUnchanged && !file.Added {
		return nil
	}

	action := shared.NotifyUpdate
	if file.Added {
		action = shared.NotifyAdd
	}
	notify(ed.ec, file.Path, action, shared.KindFile, contentState, propState, ed.ec.TargetRevision)
	return nil
}

// probeConflict upgrades contentState to Conflicted if install left
// .mine/.oldrev/.newrev side files behind for this file, matching the
// post-replay conflict probe: conflicted takes precedence over merged
// over changed over unchanged.
func probeConflict(ec *EditContext, file *FileState, contentState shared.State) (shared.State, error) {
	if contentState != shared.StateMerged {
		return contentState, nil
	}
	if _, err := os.Stat(file.Path + ".mine"); err == nil {
		return shared.StateConflicted, nil
	}
	return contentState, nil
}

// CloseEdit finalizes the edit by firing the completed notification. It
// does not complete the root directory; that happens when the root's own
// CloseDirectory bump brings its counter to zero.
func (ed *Editor) CloseEdit(ctx context.Context, root *DirState) error {
	if err := ed.ec.checkCancelled(); err != nil {
		return err
	}
	notifyCompleted(ed.ec, ed.ec.TargetRevision)
	return nil
}
