package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eidetic-works/nucleus-mcp/internal/brainroot"
	"github.com/eidetic-works/nucleus-mcp/internal/broker"
	"github.com/eidetic-works/nucleus-mcp/internal/dispatch"
	"github.com/eidetic-works/nucleus-mcp/internal/ledger"
	"github.com/eidetic-works/nucleus-mcp/internal/lockmgr"
	"github.com/eidetic-works/nucleus-mcp/internal/mounter"
	"github.com/eidetic-works/nucleus-mcp/internal/protocol"
	"github.com/eidetic-works/nucleus-mcp/internal/registry"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	brainroot.Reset()
	t.Setenv("NUCLEAR_BRAIN_PATH", t.TempDir())
	t.Cleanup(brainroot.Reset)

	locks := lockmgr.New()
	reg := registry.New(registry.TierAdvanced)
	require.NoError(t, reg.Register(registry.Entry{
		Descriptor: protocol.Tool{Name: "brain_ping", InputSchema: protocol.ToolInputSchema{Type: "object"}},
		Capability: dispatch.OpenCapability,
		MinTier:    registry.TierLaunch,
		Handler: func(ctx context.Context, args map[string]interface{}) (protocol.CallToolResult, error) {
			return protocol.TextResult(`{"status":"ok"}`), nil
		},
	}))
	mnt := mounter.New(locks)
	b := broker.New(locks)
	l := ledger.New(locks)
	d := dispatch.New(reg, mnt, b, l)
	return New(reg, d, mnt)
}

func readEnvelopes(t *testing.T, data []byte) []protocol.Envelope {
	t.Helper()
	var out []protocol.Envelope
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &env))
		out = append(out, env)
	}
	return out
}

func TestServer_InitializeHandshake(t *testing.T) {
	s := newTestServer(t)
	in := bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}` + "\n")
	var out bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Serve(ctx, in, &out))

	envs := readEnvelopes(t, out.Bytes())
	require.Len(t, envs, 1)
	var result protocol.InitializeResult
	require.NoError(t, json.Unmarshal(envs[0].Result, &result))
	require.Equal(t, "nucleus-mcp", result.ServerInfo.Name)
}

func TestServer_NotInitializedFirst(t *testing.T) {
	s := newTestServer(t)
	in := bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}` + "\n")
	var out bytes.Buffer

	require.NoError(t, s.Serve(context.Background(), in, &out))

	envs := readEnvelopes(t, out.Bytes())
	require.Len(t, envs, 1)
	require.NotNil(t, envs[0].Error)
	require.Equal(t, 1001, envs[0].Error.Code)
}

func TestServer_ToolsCallRoundTrip(t *testing.T) {
	s := newTestServer(t)
	in := bytes.NewBufferString(
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}` + "\n" +
			`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"brain_ping","arguments":{}}}` + "\n",
	)
	var out bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Serve(ctx, in, &out))

	envs := readEnvelopes(t, out.Bytes())
	require.Len(t, envs, 2)

	var callResult protocol.CallToolResult
	for _, env := range envs {
		if env.Result != nil {
			var probe struct {
				Content []protocol.ContentBlock `json:"content"`
			}
			if json.Unmarshal(env.Result, &probe) == nil && len(probe.Content) > 0 {
				callResult = protocol.CallToolResult{Content: probe.Content}
			}
		}
	}
	require.Contains(t, callResult.Content[0].Text, "ok")
}

func TestServer_OversizedFrameDoesNotKillServer(t *testing.T) {
	s := newTestServer(t)

	big := bytes.Repeat([]byte{'a'}, protocol.MaxFrameSize+10)
	var in bytes.Buffer
	in.Write(big)
	in.WriteByte('\n')
	in.WriteString(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}` + "\n")
	var out bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Serve(ctx, &in, &out))

	envs := readEnvelopes(t, out.Bytes())
	require.Len(t, envs, 2)
	require.NotNil(t, envs[0].Error)
	require.Equal(t, -32700, envs[0].Error.Code)

	var result protocol.InitializeResult
	require.NoError(t, json.Unmarshal(envs[1].Result, &result))
	require.Equal(t, "nucleus-mcp", result.ServerInfo.Name)
}
