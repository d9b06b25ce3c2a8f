package wc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wcedit/internal/wcconfig"
)

func TestOpenCreatesAdminArea(t *testing.T) {
	root := t.TempDir()
	wcp, err := Open(root, wcconfig.Default(), zap.NewNop())
	require.NoError(t, err)
	defer wcp.Close()

	info, err := os.Stat(filepath.Join(root, wcconfig.Default().AdminDirName))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenDefaultsConfigAndLogger(t *testing.T) {
	root := t.TempDir()
	wcp, err := Open(root, nil, nil)
	require.NoError(t, err)
	defer wcp.Close()

	assert.Equal(t, ".wc", wcp.Config.AdminDirName)
	assert.NotNil(t, wcp.Logger)
}

func TestNewEditContextWiresConfig(t *testing.T) {
	root := t.TempDir()
	wcp, err := Open(root, wcconfig.Default(), zap.NewNop())
	require.NoError(t, err)
	defer wcp.Close()

	ec := wcp.NewEditContext(root, "target.txt", 7, nil)
	assert.Equal(t, root, ec.Anchor)
	assert.Equal(t, "target.txt", ec.Target)
	assert.Equal(t, int64(7), ec.TargetRevision)
	assert.Equal(t, wcp.Config.AdminDirName, ec.AdminDirName)
	assert.NotNil(t, ec.Merger)
	assert.NotNil(t, ec.Traversal)
}
