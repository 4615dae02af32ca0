package brainroot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoot_EnvOverride(t *testing.T) {
	Reset()
	dir := t.TempDir()
	t.Setenv("NUCLEAR_BRAIN_PATH", dir)
	defer Reset()

	root, err := Root()
	require.NoError(t, err)
	require.Equal(t, filepath.Clean(dir), root)

	for _, kind := range []string{KindLedger, KindEngrams, KindSessions, KindConfig, KindLocks} {
		info, err := os.Stat(filepath.Join(root, kind))
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
}

func TestPath_CreatesSubdir(t *testing.T) {
	Reset()
	t.Setenv("NUCLEAR_BRAIN_PATH", t.TempDir())
	defer Reset()

	p, err := Path(KindLedger)
	require.NoError(t, err)
	require.DirExists(t, p)
}
