package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eidetic-works/nucleus-mcp/internal/nerr"
	"github.com/eidetic-works/nucleus-mcp/internal/protocol"
)

func echoEntry(minTier Tier) Entry {
	return Entry{
		Descriptor: protocol.Tool{Name: "dangerous_op", Description: "", InputSchema: protocol.ToolInputSchema{Type: "object"}},
		Capability: "fs_write",
		MinTier:    minTier,
		Handler: func(ctx context.Context, args map[string]interface{}) (protocol.CallToolResult, error) {
			return protocol.TextResult("ok"), nil
		},
	}
}

func TestVisibility_TierFiltersListAndLookup(t *testing.T) {
	r := New(TierLaunch)
	require.NoError(t, r.Register(echoEntry(TierAdvanced)))

	require.False(t, r.Visible("dangerous_op"))
	require.Empty(t, r.List())

	_, err := r.Lookup("dangerous_op")
	require.Error(t, err)
	require.True(t, nerr.As(err, nerr.KindToolNotVisible))

	advanced := New(TierAdvanced)
	require.NoError(t, advanced.Register(echoEntry(TierAdvanced)))
	require.True(t, advanced.Visible("dangerous_op"))
	require.Len(t, advanced.List(), 1)
}

func TestRegister_RejectsColonNames(t *testing.T) {
	r := New(TierAdvanced)
	e := echoEntry(TierLaunch)
	e.Descriptor.Name = "m1:echo"
	err := r.Register(e)
	require.Error(t, err)
}

func TestTierFromEnv(t *testing.T) {
	require.Equal(t, TierLaunch, TierFromEnv("", ""))
	require.Equal(t, TierStandard, TierFromEnv("standard", ""))
	require.Equal(t, TierAdvanced, TierFromEnv("", betaToken))
	require.Equal(t, TierAdvanced, TierFromEnv("2", ""))
}
