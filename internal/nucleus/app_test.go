package nucleus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eidetic-works/nucleus-mcp/internal/brainroot"
	"github.com/eidetic-works/nucleus-mcp/internal/config"
	"github.com/eidetic-works/nucleus-mcp/internal/nerr"
	"github.com/eidetic-works/nucleus-mcp/internal/protocol"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	brainroot.Reset()
	t.Setenv("NUCLEAR_BRAIN_PATH", t.TempDir())
	t.Cleanup(brainroot.Reset)

	cfg := config.Default()
	cfg.Tier = "standard"
	root, err := brainroot.Root()
	require.NoError(t, err)
	return New(cfg, root)
}

func helperEnv(scenario string) map[string]interface{} {
	out := make(map[string]interface{}, len(os.Environ())+2)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			out[kv[:i]] = kv[i+1:]
		}
	}
	out["GO_WANT_HELPER_PROCESS"] = "1"
	out["NUCLEUS_CHILD_SCENARIO"] = scenario
	return out
}

// grantAndRetry runs fn once, and if it returns a PermissionDenied error,
// grants that fingerprint and runs fn a second time. This mirrors the
// host-side "call, get denied, grant the fingerprint, replay" flow spec.md
// §4.7 documents as the consent gate's intended usage (S4).
func grantAndRetry(t *testing.T, app *App, actor, tool string, args map[string]interface{}) (protocol.CallToolResult, error) {
	t.Helper()
	ctx := context.Background()
	res, err := app.Dispatcher.Dispatch(ctx, actor, tool, args)
	if err == nil {
		return res, nil
	}
	nErr, ok := err.(*nerr.Error)
	if !ok || nErr.Kind != nerr.KindPermissionDenied {
		return res, err
	}
	require.NoError(t, app.Broker.GrantFingerprint(ctx, nErr.Fingerprint, "test"))
	return app.Dispatcher.Dispatch(ctx, actor, tool, args)
}

func TestApp_MountInvokeAndAudit(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	exe, err := os.Executable()
	require.NoError(t, err)

	mountArgs := map[string]interface{}{
		"name":    "echoer",
		"command": exe,
		"args":    []interface{}{"-test.run=TestHelperProcess", "--"},
		"env":     helperEnv("echo"),
	}
	mountResult, err := grantAndRetry(t, app, "host", "brain_mount_server", mountArgs)
	require.NoError(t, err)

	var mounted struct {
		MountID string `json:"mount_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(mountResult.Content[0].Text), &mounted))
	require.NotEmpty(t, mounted.MountID)

	listResult, err := app.Dispatcher.Dispatch(ctx, "host", "brain_list_mounted", nil)
	require.NoError(t, err)
	require.Contains(t, listResult.Content[0].Text, "echoer")

	invokeArgs := map[string]interface{}{
		"mount_id": mounted.MountID,
		"tool":     "echo",
		"args":     map[string]interface{}{"message": "hi"},
	}
	invokeResult, err := grantAndRetry(t, app, "host", "brain_invoke_mounted_tool", invokeArgs)
	require.NoError(t, err)
	require.Contains(t, invokeResult.Content[0].Text, "hi")

	directResult, err := app.Dispatcher.Dispatch(ctx, "host", "echoer:echo", map[string]interface{}{"message": "direct"})
	require.NoError(t, err)
	require.Contains(t, directResult.Content[0].Text, "direct")

	verifyResult, err := app.Dispatcher.Dispatch(ctx, "host", "brain_verify_audit", nil)
	require.NoError(t, err)
	require.Contains(t, verifyResult.Content[0].Text, `"ok":true`)

	auditResult, err := app.Dispatcher.Dispatch(ctx, "host", "brain_audit_log", map[string]interface{}{"limit": float64(50)})
	require.NoError(t, err)
	require.Contains(t, auditResult.Content[0].Text, "echoer:echo")

	app.Mounter.Shutdown()
}

func TestApp_PingAndConfigGeneration(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	pingResult, err := app.Dispatcher.Dispatch(ctx, "host", "brain_ping", nil)
	require.NoError(t, err)
	require.Contains(t, pingResult.Content[0].Text, `"status":"ok"`)

	genResult, err := app.Dispatcher.Dispatch(ctx, "host", "brain_config_generation", nil)
	require.NoError(t, err)
	require.Contains(t, genResult.Content[0].Text, app.BrainRoot)
}

// TestHelperProcess is re-executed as a subprocess to act as a minimal MCP
// child speaking stdio JSON-RPC, mirroring childclient's own helper.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	reader := bufio.NewScanner(os.Stdin)
	reader.Buffer(make([]byte, 0, 64*1024), protocol.MaxFrameSize+1)
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
			writeHelperResult(*env.ID, protocol.InitializeResult{
				ServerInfo:   protocol.ServerInfo{Name: "fake-child", Version: "0.0.1"},
				Capabilities: protocol.Capabilities{Tools: map[string]interface{}{}},
			})
		case "tools/list":
			writeHelperResult(*env.ID, protocol.ListToolsResult{Tools: []protocol.Tool{{
				Name:        "echo",
				InputSchema: protocol.ToolInputSchema{Type: "object"},
			}}})
		case "tools/call":
			var params protocol.CallToolParams
			_ = json.Unmarshal(env.Params, &params)
			msg, _ := params.Arguments["message"].(string)
			writeHelperResult(*env.ID, protocol.TextResult(fmt.Sprintf("echo: %s", msg)))
		}
	}
	os.Exit(0)
}

func writeHelperResult(id protocol.RequestID, result interface{}) {
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
