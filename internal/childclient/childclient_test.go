package childclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eidetic-works/nucleus-mcp/internal/nerr"
	"github.com/eidetic-works/nucleus-mcp/internal/protocol"
)

// newHelperClient spawns this same test binary re-executed as a fake MCP
// child (see TestHelperProcess below), the standard Go idiom for exercising
// os/exec-based code without shelling out to an external interpreter.
func newHelperClient(t *testing.T, scenario string) *Client {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	c := New("m1", exe, []string{"-test.run=TestHelperProcess", "--"}, append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "NUCLEUS_CHILD_SCENARIO="+scenario))
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

func TestClient_InitializeAndListTools(t *testing.T) {
	c := newHelperClient(t, "echo")
	ctx := context.Background()

	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Initialize(ctx))
	require.Equal(t, StateReady, c.State())

	tools, err := c.ListTools(ctx, time.Second)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	require.Equal(t, "echo", tools[0].Name)
}

func TestClient_Call(t *testing.T) {
	c := newHelperClient(t, "echo")
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Initialize(ctx))

	res, err := c.Call(ctx, "echo", map[string]interface{}{"message": "hi"}, time.Second)
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	require.Contains(t, res.Content[0].Text, "hi")
}

func TestClient_CrashFailsPendingCalls(t *testing.T) {
	c := newHelperClient(t, "crash-after-one")
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Initialize(ctx))

	_, err := c.Call(ctx, "echo", map[string]interface{}{"message": "first"}, 2*time.Second)
	require.NoError(t, err)

	_, err = c.Call(ctx, "echo", map[string]interface{}{"message": "second"}, 2*time.Second)
	require.Error(t, err)
	require.True(t, nerr.As(err, nerr.KindChildClosed))
}

// TestHelperProcess is not a real test; it is re-executed as a subprocess by
// newHelperClient to act as a minimal MCP child speaking stdio JSON-RPC.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	scenario := os.Getenv("NUCLEUS_CHILD_SCENARIO")
	runFakeChild(scenario)
	os.Exit(0)
}

func runFakeChild(scenario string) {
	reader := bufio.NewScanner(os.Stdin)
	reader.Buffer(make([]byte, 0, 64*1024), protocol.MaxFrameSize+1)
	calls := 0
	for reader.Scan() {
		line := reader.Bytes()
		env, err := protocol.ParseEnvelope(line)
		if err != nil {
			continue
		}
		if !env.IsRequest() {
			continue
		}
		switch env.Method {
		case "initialize":
			writeResult(*env.ID, protocol.InitializeResult{
				ServerInfo:   protocol.ServerInfo{Name: "fake-child", Version: "0.0.1"},
				Capabilities: protocol.Capabilities{Tools: map[string]interface{}{}},
			})
		case "tools/list":
			writeResult(*env.ID, protocol.ListToolsResult{Tools: []protocol.Tool{{
				Name:        "echo",
				Description: "",
				InputSchema: protocol.ToolInputSchema{Type: "object"},
			}}})
		case "tools/call":
			calls++
			if scenario == "crash-after-one" && calls > 1 {
				os.Exit(1)
			}
			var params protocol.CallToolParams
			_ = json.Unmarshal(env.Params, &params)
			msg, _ := params.Arguments["message"].(string)
			writeResult(*env.ID, protocol.TextResult(fmt.Sprintf("echo: %s", msg)))
		}
	}
}

func writeResult(id protocol.RequestID, result interface{}) {
	env, err := protocol.NewResult(id, result)
	if err != nil {
		return
	}
	b, err := json.Marshal(env)
	if err != nil {
		return
	}
	os.Stdout.Write(b)
	os.Stdout.Write([]byte("\n"))
}
