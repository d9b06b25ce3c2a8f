package wc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wcerrors "wcedit/internal/errors"
	shared "wcedit/shared/types"
)

// feedText drives one file through add/open, a single-window text delta,
// and close, declaring the content's own checksum the way a driver would.
func feedText(t *testing.T, ed *Editor, dir *DirState, name, content string, adding bool) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(dir.Path, name)

	var file *FileState
	var err error
	if adding {
		file, err = ed.AddFile(ctx, path, dir, "", 0)
	} else {
		file, err = ed.OpenFile(ctx, path, dir, 0)
	}
	require.NoError(t, err)

	handler, err := ed.ApplyTextDelta(ctx, file, nil)
	require.NoError(t, err)
	require.NoError(t, handler(Window(content)))
	require.NoError(t, handler(nil))

	sum := md5HexOf([]byte(content))
	require.NoError(t, ed.CloseFile(ctx, file, &sum))
}

func TestFreshCheckoutOfSingleFile(t *testing.T) {
	wcp, root := setupWC(t)
	ctx := context.Background()

	ec := wcp.NewEditContext(root, "", 7, nil)
	ed := NewEditor(ec)

	require.NoError(t, ed.SetTargetRevision(ctx, 7))
	rootDir, err := ed.OpenRoot(ctx, 0)
	require.NoError(t, err)

	file, err := ed.AddFile(ctx, filepath.Join(root, "hello.txt"), rootDir, "", 0)
	require.NoError(t, err)

	handler, err := ed.ApplyTextDelta(ctx, file, nil)
	require.NoError(t, err)
	require.NoError(t, handler(Window("hi\n")))
	require.NoError(t, handler(nil))

	checksum := "764efa883dda1e11db47671c4a3bbd9e"
	require.NoError(t, ed.CloseFile(ctx, file, &checksum))
	require.NoError(t, ed.CloseDirectory(ctx, rootDir))
	require.NoError(t, ed.CloseEdit(ctx, rootDir))

	content, err := os.ReadFile(filepath.Join(root, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(content))

	entry, err := wcp.Entries.Get(root, "hello.txt")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(7), entry.Revision)
	assert.Equal(t, checksum, entry.Checksum)

	thisDir, err := wcp.Entries.Get(root, shared.ThisDir)
	require.NoError(t, err)
	require.NotNil(t, thisDir)
	assert.False(t, thisDir.Incomplete)
}

func TestUpdateOverLocalEditMergesCleanly(t *testing.T) {
	wcp, root := setupWC(t)
	fixture := t.TempDir()
	writeFixtureFile(t, fixture, "a.txt", "line1\nline2\nline3\n")

	ed1 := NewEditor(wcp.NewEditContext(root, "", 3, nil))
	require.NoError(t, DriveFixture(context.Background(), ed1, fixture))

	// Local edit to line 2.
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("line1\nLOCAL\nline3\n"), 0644))

	writeFixtureFile(t, fixture, "a.txt", "line1\nline2\nline3modified\n")
	notifier := &recordingNotifier{}
	ed2 := NewEditor(wcp.NewEditContext(root, "", 4, notifier))
	require.NoError(t, DriveFixture(context.Background(), ed2, fixture))

	content, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "line1\nLOCAL\nline3modified\n", string(content))

	entry, err := wcp.Entries.Get(root, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(4), entry.Revision)

	n, ok := notifier.find(filepath.Join(root, "a.txt"))
	require.True(t, ok)
	assert.Equal(t, shared.StateMerged, n.ContentState)
}

func TestAddDirectoryObstructedByUnversionedDir(t *testing.T) {
	wcp, root := setupWC(t)
	ctx := context.Background()

	require.NoError(t, os.Mkdir(filepath.Join(root, "D"), 0755))

	ec := wcp.NewEditContext(root, "", 1, nil)
	ed := NewEditor(ec)
	rootDir, err := ed.OpenRoot(ctx, 0)
	require.NoError(t, err)

	_, err = ed.AddDirectory(ctx, filepath.Join(root, "D"), rootDir, "", 0)
	require.Error(t, err)
	assert.True(t, wcerrors.Is(err, wcerrors.ErrorTypeObstructedUpdate))

	// No entry was written for the refused add.
	entry, err := wcp.Entries.Get(root, "D")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestAddFileObstructedByOnDiskFile(t *testing.T) {
	wcp, root := setupWC(t)
	ctx := context.Background()

	// An unversioned file squatting on the incoming name.
	require.NoError(t, os.WriteFile(filepath.Join(root, "squat.txt"), []byte("unversioned\n"), 0644))

	ed := NewEditor(wcp.NewEditContext(root, "", 1, nil))
	rootDir, err := ed.OpenRoot(ctx, 0)
	require.NoError(t, err)

	_, err = ed.AddFile(ctx, filepath.Join(root, "squat.txt"), rootDir, "", 0)
	require.Error(t, err)
	assert.True(t, wcerrors.Is(err, wcerrors.ErrorTypeObstructedUpdate))
}

func TestAddFileObstructedByVersionedFileOnDisk(t *testing.T) {
	wcp, root := setupWC(t)
	fixture := t.TempDir()
	writeFixtureFile(t, fixture, "a.txt", "versioned\n")

	ed1 := NewEditor(wcp.NewEditContext(root, "", 1, nil))
	require.NoError(t, DriveFixture(context.Background(), ed1, fixture))

	// On-disk existence alone obstructs an add, entry or no entry.
	ctx := context.Background()
	ed := NewEditor(wcp.NewEditContext(root, "", 2, nil))
	rootDir, err := ed.OpenRoot(ctx, 0)
	require.NoError(t, err)

	_, err = ed.AddFile(ctx, filepath.Join(root, "a.txt"), rootDir, "", 0)
	require.Error(t, err)
	assert.True(t, wcerrors.Is(err, wcerrors.ErrorTypeObstructedUpdate))
}

func TestAddDirectoryWithCopyfromIsUnsupported(t *testing.T) {
	wcp, root := setupWC(t)
	ctx := context.Background()

	ed := NewEditor(wcp.NewEditContext(root, "", 1, nil))
	rootDir, err := ed.OpenRoot(ctx, 0)
	require.NoError(t, err)

	_, err = ed.AddDirectory(ctx, filepath.Join(root, "copied"), rootDir, "http://repo/src", 5)
	require.Error(t, err)
	assert.True(t, wcerrors.Is(err, wcerrors.ErrorTypeUnsupported))
}

func TestTargetDeletionLeavesTombstone(t *testing.T) {
	wcp, root := setupWC(t)
	fixture := t.TempDir()
	writeFixtureFile(t, fixture, "gone", "doomed content\n")

	ed1 := NewEditor(wcp.NewEditContext(root, "", 1, nil))
	require.NoError(t, DriveFixture(context.Background(), ed1, fixture))

	ctx := context.Background()
	ec := wcp.NewEditContext(root, "gone", 10, nil)
	ed := NewEditor(ec)

	require.NoError(t, ed.SetTargetRevision(ctx, 10))
	rootDir, err := ed.OpenRoot(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, ed.DeleteEntry(ctx, filepath.Join(root, "gone"), 0, rootDir))
	require.NoError(t, ed.CloseDirectory(ctx, rootDir))
	require.NoError(t, ed.CloseEdit(ctx, rootDir))

	_, statErr := os.Stat(filepath.Join(root, "gone"))
	assert.True(t, os.IsNotExist(statErr))

	// The tombstone survives complete_directory on the parent.
	entry, err := wcp.Entries.Get(root, "gone")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.Deleted)
	assert.Equal(t, int64(10), entry.Revision)

	thisDir, err := wcp.Entries.Get(root, shared.ThisDir)
	require.NoError(t, err)
	require.NotNil(t, thisDir)
	assert.False(t, thisDir.Incomplete)
}

func TestDeleteEntryRefusesLocallyModifiedFile(t *testing.T) {
	wcp, root := setupWC(t)
	fixture := t.TempDir()
	writeFixtureFile(t, fixture, "a.txt", "pristine\n")

	ed1 := NewEditor(wcp.NewEditContext(root, "", 1, nil))
	require.NoError(t, DriveFixture(context.Background(), ed1, fixture))

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("edited locally\n"), 0644))

	ctx := context.Background()
	ed := NewEditor(wcp.NewEditContext(root, "", 2, nil))
	rootDir, err := ed.OpenRoot(ctx, 0)
	require.NoError(t, err)

	err = ed.DeleteEntry(ctx, filepath.Join(root, "a.txt"), 0, rootDir)
	require.Error(t, err)
	assert.True(t, wcerrors.Is(err, wcerrors.ErrorTypeObstructedUpdate))

	// The local edit is untouched.
	content, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "edited locally\n", string(content))
}

func TestCloseFileChecksumMismatch(t *testing.T) {
	wcp, root := setupWC(t)
	ctx := context.Background()

	ed := NewEditor(wcp.NewEditContext(root, "", 1, nil))
	rootDir, err := ed.OpenRoot(ctx, 0)
	require.NoError(t, err)

	file, err := ed.AddFile(ctx, filepath.Join(root, "x.txt"), rootDir, "", 0)
	require.NoError(t, err)

	handler, err := ed.ApplyTextDelta(ctx, file, nil)
	require.NoError(t, err)
	require.NoError(t, handler(Window("hi\n")))
	require.NoError(t, handler(nil))

	wrong := "00000000000000000000000000000000"
	err = ed.CloseFile(ctx, file, &wrong)
	require.Error(t, err)
	assert.True(t, wcerrors.Is(err, wcerrors.ErrorTypeChecksumMismatch))
}

func TestCloseDirectoryRecordsExternals(t *testing.T) {
	wcp, root := setupWC(t)
	ctx := context.Background()

	ec := wcp.NewEditContext(root, "", 1, nil)
	ed := NewEditor(ec)
	rootDir, err := ed.OpenRoot(ctx, 0)
	require.NoError(t, err)

	value := "vendor http://repo/vendor"
	require.NoError(t, ed.ChangeDirProp(ctx, rootDir, externalsProp, &value))
	require.NoError(t, ed.CloseDirectory(ctx, rootDir))

	assert.Equal(t, "", ec.Traversal.Old[root])
	assert.Equal(t, value, ec.Traversal.New[root])

	// The merged prop file was rotated into place by the replayed log.
	props, err := newPropFileStore(ec.adminDirName()).read(root, shared.ThisDir)
	require.NoError(t, err)
	assert.Equal(t, value, props[externalsProp])
}

func TestUseCommitTimesStampsInstalledFile(t *testing.T) {
	wcp, root := setupWC(t)
	ctx := context.Background()

	ec := wcp.NewEditContext(root, "", 1, nil)
	ec.UseCommitTimes = true
	ed := NewEditor(ec)

	rootDir, err := ed.OpenRoot(ctx, 0)
	require.NoError(t, err)

	file, err := ed.AddFile(ctx, filepath.Join(root, "stamped.txt"), rootDir, "", 0)
	require.NoError(t, err)

	commitTime := "2020-01-02T03:04:05Z"
	require.NoError(t, ed.ChangeFileProp(ctx, file, committedDateProp, &commitTime))
	assert.Equal(t, commitTime, file.LastChangedDate)

	handler, err := ed.ApplyTextDelta(ctx, file, nil)
	require.NoError(t, err)
	require.NoError(t, handler(Window("content\n")))
	require.NoError(t, handler(nil))
	require.NoError(t, ed.CloseFile(ctx, file, nil))

	info, err := os.Stat(filepath.Join(root, "stamped.txt"))
	require.NoError(t, err)
	expected, err := time.Parse(time.RFC3339Nano, commitTime)
	require.NoError(t, err)
	assert.WithinDuration(t, expected, info.ModTime(), time.Second)
}

func TestMagicPropChangeRetranslatesInPlace(t *testing.T) {
	wcp, root := setupWC(t)
	fixture := t.TempDir()
	writeFixtureFile(t, fixture, "a.txt", "original\n")

	ed1 := NewEditor(wcp.NewEditContext(root, "", 1, nil))
	require.NoError(t, DriveFixture(context.Background(), ed1, fixture))

	// Local edit, then a prop-only change to a magic prop.
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("local edit\n"), 0644))

	ctx := context.Background()
	ed := NewEditor(wcp.NewEditContext(root, "", 2, nil))
	rootDir, err := ed.OpenRoot(ctx, 0)
	require.NoError(t, err)

	file, err := ed.OpenFile(ctx, filepath.Join(root, "a.txt"), rootDir, 1)
	require.NoError(t, err)

	eol := "native"
	require.NoError(t, ed.ChangeFileProp(ctx, file, "svn:eol-style", &eol))
	require.NoError(t, ed.CloseFile(ctx, file, nil))
	require.NoError(t, ed.CloseDirectory(ctx, rootDir))
	require.NoError(t, ed.CloseEdit(ctx, rootDir))

	// Retranslation round-trips the working file; the local edit survives.
	content, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "local edit\n", string(content))
}

func TestBumpCompletesDirectoriesBottomUp(t *testing.T) {
	wcp, root := setupWC(t)
	ctx := context.Background()

	ed := NewEditor(wcp.NewEditContext(root, "", 1, nil))
	rootDir, err := ed.OpenRoot(ctx, 0)
	require.NoError(t, err)

	sub, err := ed.AddDirectory(ctx, filepath.Join(root, "sub"), rootDir, "", 0)
	require.NoError(t, err)

	// Closing the parent before its child leaves the parent incomplete:
	// the child's open reference holds the parent's count above zero.
	require.NoError(t, ed.CloseDirectory(ctx, rootDir))
	rootThisDir, err := wcp.Entries.Get(root, shared.ThisDir)
	require.NoError(t, err)
	assert.True(t, rootThisDir.Incomplete)

	feedText(t, ed, sub, "f.txt", "nested\n", true)
	require.NoError(t, ed.CloseDirectory(ctx, sub))
	require.NoError(t, ed.CloseEdit(ctx, rootDir))

	// The child's close cascaded completion upward.
	subThisDir, err := wcp.Entries.Get(filepath.Join(root, "sub"), shared.ThisDir)
	require.NoError(t, err)
	assert.False(t, subThisDir.Incomplete)

	rootThisDir, err = wcp.Entries.Get(root, shared.ThisDir)
	require.NoError(t, err)
	assert.False(t, rootThisDir.Incomplete)
}
