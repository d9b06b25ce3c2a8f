package wc

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wcedit/internal/wcconfig"
	shared "wcedit/shared/types"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []shared.Notification
}

func (r *recordingNotifier) Notify(n shared.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, n)
}

func (r *recordingNotifier) find(path string) (shared.Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.events {
		if n.Path == path {
			return n, true
		}
	}
	return shared.Notification{}, false
}

func setupWC(t *testing.T) (*WorkingCopy, string) {
	t.Helper()
	root := t.TempDir()
	wcp, err := Open(root, wcconfig.Default(), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, wcp.Lock.Acquire(root))
	t.Cleanup(func() {
		wcp.Lock.Release(root)
		wcp.Close()
	})
	return wcp, root
}

func writeFixtureFile(t *testing.T, fixtureRoot, relPath, content string) {
	t.Helper()
	full := filepath.Join(fixtureRoot, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

func TestDriveFixtureAddsNewTree(t *testing.T) {
	wcp, root := setupWC(t)
	fixture := t.TempDir()
	writeFixtureFile(t, fixture, "a.txt", "hello")
	writeFixtureFile(t, fixture, "sub/b.txt", "world")

	notifier := &recordingNotifier{}
	ec := wcp.NewEditContext(root, "", 1, notifier)
	ed := NewEditor(ec)

	require.NoError(t, DriveFixture(context.Background(), ed, fixture))

	aContent, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(aContent))

	bContent, err := os.ReadFile(filepath.Join(root, "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "world", string(bContent))

	aEntry, err := wcp.Entries.Get(root, "a.txt")
	require.NoError(t, err)
	require.NotNil(t, aEntry)
	assert.Equal(t, shared.KindFile, aEntry.Kind)
	assert.Equal(t, int64(1), aEntry.Revision)
	assert.False(t, aEntry.Incomplete)
	assert.NotEmpty(t, aEntry.PristineKey)

	subThisDir, err := wcp.Entries.Get(filepath.Join(root, "sub"), shared.ThisDir)
	require.NoError(t, err)
	require.NotNil(t, subThisDir)
	assert.False(t, subThisDir.Incomplete)

	rootThisDir, err := wcp.Entries.Get(root, shared.ThisDir)
	require.NoError(t, err)
	require.NotNil(t, rootThisDir)
	assert.False(t, rootThisDir.Incomplete)

	if n, ok := notifier.find(filepath.Join(root, "a.txt")); assert.True(t, ok) {
		assert.Equal(t, shared.NotifyAdd, n.Action)
	}

	completed := false
	for _, n := range notifier.events {
		if n.Action == shared.NotifyCompleted {
			completed = true
			assert.Equal(t, int64(1), n.Revision)
		}
	}
	assert.True(t, completed, "expected an update_completed notification")
}

func TestDriveFixtureUpdatesChangedFile(t *testing.T) {
	wcp, root := setupWC(t)
	fixture := t.TempDir()
	writeFixtureFile(t, fixture, "a.txt", "v1")

	ed1 := NewEditor(wcp.NewEditContext(root, "", 1, nil))
	require.NoError(t, DriveFixture(context.Background(), ed1, fixture))

	writeFixtureFile(t, fixture, "a.txt", "v2")
	notifier := &recordingNotifier{}
	ed2 := NewEditor(wcp.NewEditContext(root, "", 2, notifier))
	require.NoError(t, DriveFixture(context.Background(), ed2, fixture))

	content, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(content))

	entry, err := wcp.Entries.Get(root, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.Revision)

	n, ok := notifier.find(filepath.Join(root, "a.txt"))
	require.True(t, ok)
	assert.Equal(t, shared.StateChanged, n.ContentState)
}

func TestDriveFixtureDeletesRemovedEntries(t *testing.T) {
	wcp, root := setupWC(t)
	fixture := t.TempDir()
	writeFixtureFile(t, fixture, "a.txt", "keep")
	writeFixtureFile(t, fixture, "b.txt", "remove me")

	ed1 := NewEditor(wcp.NewEditContext(root, "", 1, nil))
	require.NoError(t, DriveFixture(context.Background(), ed1, fixture))

	require.NoError(t, os.Remove(filepath.Join(fixture, "b.txt")))
	notifier := &recordingNotifier{}
	ed2 := NewEditor(wcp.NewEditContext(root, "", 2, notifier))
	require.NoError(t, DriveFixture(context.Background(), ed2, fixture))

	_, err := os.Stat(filepath.Join(root, "b.txt"))
	assert.True(t, os.IsNotExist(err))

	bEntry, err := wcp.Entries.Get(root, "b.txt")
	require.NoError(t, err)
	assert.Nil(t, bEntry)

	n, ok := notifier.find(filepath.Join(root, "b.txt"))
	require.True(t, ok)
	assert.Equal(t, shared.NotifyDelete, n.Action)
}

func TestDriveFixtureConflictingLocalEditProducesConflict(t *testing.T) {
	wcp, root := setupWC(t)
	fixture := t.TempDir()
	writeFixtureFile(t, fixture, "a.txt", "line one\n")

	ed1 := NewEditor(wcp.NewEditContext(root, "", 1, nil))
	require.NoError(t, DriveFixture(context.Background(), ed1, fixture))

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("mine edit\n"), 0644))
	writeFixtureFile(t, fixture, "a.txt", "theirs edit\n")

	notifier := &recordingNotifier{}
	ed2 := NewEditor(wcp.NewEditContext(root, "", 2, notifier))
	require.NoError(t, DriveFixture(context.Background(), ed2, fixture))

	_, err := os.Stat(filepath.Join(root, "a.txt.mine"))
	require.NoError(t, err, "expected a conflict side file")

	n, ok := notifier.find(filepath.Join(root, "a.txt"))
	require.True(t, ok)
	assert.Equal(t, shared.StateConflicted, n.ContentState)
}
