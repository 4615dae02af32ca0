package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eidetic-works/nucleus-mcp/internal/brainroot"
	"github.com/eidetic-works/nucleus-mcp/internal/broker"
	"github.com/eidetic-works/nucleus-mcp/internal/ledger"
	"github.com/eidetic-works/nucleus-mcp/internal/lockmgr"
	"github.com/eidetic-works/nucleus-mcp/internal/mounter"
	"github.com/eidetic-works/nucleus-mcp/internal/nerr"
	"github.com/eidetic-works/nucleus-mcp/internal/protocol"
	"github.com/eidetic-works/nucleus-mcp/internal/registry"
)

func newTestDispatcher(t *testing.T, tier registry.Tier) (*Dispatcher, *registry.Registry, *broker.Broker, *ledger.Ledger) {
	t.Helper()
	brainroot.Reset()
	t.Setenv("NUCLEAR_BRAIN_PATH", t.TempDir())
	t.Cleanup(brainroot.Reset)

	locks := lockmgr.New()
	reg := registry.New(tier)
	b := broker.New(locks)
	l := ledger.New(locks)
	mnt := mounter.New(locks)
	return New(reg, mnt, b, l), reg, b, l
}

func TestDispatch_DefaultDeny_ThenGrantSucceeds(t *testing.T) {
	d, reg, b, _ := newTestDispatcher(t, registry.TierAdvanced)
	ctx := context.Background()

	require.NoError(t, reg.Register(registry.Entry{
		Descriptor: protocol.Tool{Name: "dangerous_op", InputSchema: protocol.ToolInputSchema{Type: "object"}},
		Capability: "fs_write",
		MinTier:    registry.TierAdvanced,
		Handler: func(ctx context.Context, args map[string]interface{}) (protocol.CallToolResult, error) {
			return protocol.TextResult("done"), nil
		},
	}))

	_, err := d.Dispatch(ctx, "agent-1", "dangerous_op", map[string]interface{}{"path": "/tmp/x"})
	require.Error(t, err)
	ne, ok := err.(*nerr.Error)
	require.True(t, ok)
	require.Equal(t, nerr.KindPermissionDenied, ne.Kind)
	require.NotEmpty(t, ne.Fingerprint)

	_, err = b.Grant(ctx, broker.GrantRequest{ActorID: "agent-1", Capability: "fs_write", Params: map[string]interface{}{"path": "/tmp/x"}}, "user", nil)
	require.NoError(t, err)

	result, err := d.Dispatch(ctx, "agent-1", "dangerous_op", map[string]interface{}{"path": "/tmp/x"})
	require.NoError(t, err)
	require.Equal(t, "done", result.Content[0].Text)
}

func TestDispatch_NotVisible(t *testing.T) {
	d, reg, _, _ := newTestDispatcher(t, registry.TierLaunch)
	ctx := context.Background()

	require.NoError(t, reg.Register(registry.Entry{
		Descriptor: protocol.Tool{Name: "advanced_tool", InputSchema: protocol.ToolInputSchema{Type: "object"}},
		Capability: OpenCapability,
		MinTier:    registry.TierAdvanced,
		Handler: func(ctx context.Context, args map[string]interface{}) (protocol.CallToolResult, error) {
			return protocol.TextResult("x"), nil
		},
	}))

	_, err := d.Dispatch(ctx, "agent-1", "advanced_tool", nil)
	require.Error(t, err)
	require.True(t, nerr.As(err, nerr.KindToolNotVisible))
}

func TestDispatch_AuditWrittenBeforeReturning(t *testing.T) {
	d, reg, _, l := newTestDispatcher(t, registry.TierAdvanced)
	ctx := context.Background()

	require.NoError(t, reg.Register(registry.Entry{
		Descriptor: protocol.Tool{Name: "open_tool", InputSchema: protocol.ToolInputSchema{Type: "object"}},
		Capability: OpenCapability,
		MinTier:    registry.TierLaunch,
		Handler: func(ctx context.Context, args map[string]interface{}) (protocol.CallToolResult, error) {
			return protocol.TextResult("ok"), nil
		},
	}))

	_, err := d.Dispatch(ctx, "agent-1", "open_tool", map[string]interface{}{"a": 1})
	require.NoError(t, err)

	entries, err := l.Tail(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "tool_call", entries[0].Action)
	require.Equal(t, "open_tool", entries[0].Target)
}

func TestDispatch_HandlerPanicBecomesHandlerError(t *testing.T) {
	d, reg, _, _ := newTestDispatcher(t, registry.TierAdvanced)
	ctx := context.Background()

	require.NoError(t, reg.Register(registry.Entry{
		Descriptor: protocol.Tool{Name: "panics", InputSchema: protocol.ToolInputSchema{Type: "object"}},
		Capability: OpenCapability,
		MinTier:    registry.TierLaunch,
		Handler: func(ctx context.Context, args map[string]interface{}) (protocol.CallToolResult, error) {
			panic("boom")
		},
	}))

	_, err := d.Dispatch(ctx, "agent-1", "panics", nil)
	require.Error(t, err)
	require.True(t, nerr.As(err, nerr.KindHandlerError))
}
