package configgen

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCounter_BumpsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	c := New()
	require.NoError(t, c.Watch(dir))
	defer c.Stop()

	require.Equal(t, int64(0), c.Generation())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "tiers.yaml"), []byte("tier: 1\n"), 0644))

	require.Eventually(t, func() bool {
		return c.Generation() > 0
	}, 2*time.Second, 10*time.Millisecond)
}
