package nucleus

import (
	"context"
	"encoding/json"

	"github.com/eidetic-works/nucleus-mcp/internal/dispatch"
	"github.com/eidetic-works/nucleus-mcp/internal/nerr"
	"github.com/eidetic-works/nucleus-mcp/internal/protocol"
	"github.com/eidetic-works/nucleus-mcp/internal/registry"
	"github.com/eidetic-works/nucleus-mcp/pkg/qname"
)

// registerNativeTools registers every native tool contract from spec.md §6,
// plus the [SUPPLEMENT] observability tools recovered from
// original_source/.../runtime/*.
func registerNativeTools(a *App) {
	tools := []registry.Entry{
		mountServerTool(a),
		unmountServerTool(a),
		listMountedTool(a),
		discoverMountedToolsTool(a),
		invokeMountedToolTool(a),
		grantPermissionTool(a),
		revokePermissionTool(a),
		listGrantsTool(a),
		auditLogTool(a),
		verifyAuditTool(a),
		configGenerationTool(a),
		pingTool(a),
	}
	for _, t := range tools {
		if err := a.Registry.Register(t); err != nil {
			// Registration failures here indicate a naming bug in this
			// file, not a runtime condition; surface it loudly.
			panic(err)
		}
	}
}

func jsonResult(v interface{}) (protocol.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return protocol.CallToolResult{}, nerr.New(nerr.KindHandlerError, "encode result: %v", err)
	}
	return protocol.TextResult(string(b)), nil
}

func stringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok
}

func mountServerTool(a *App) registry.Entry {
	return registry.Entry{
		Descriptor: protocol.Tool{
			Name:        "brain_mount_server",
			Description: "Mount a downstream MCP child server as a stdio subprocess.",
			InputSchema: protocol.ToolInputSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"name":    map[string]interface{}{"type": "string"},
					"command": map[string]interface{}{"type": "string"},
					"args":    map[string]interface{}{"type": "array"},
					"env":     map[string]interface{}{"type": "object"},
				},
				Required: []string{"name", "command"},
			},
		},
		Capability: "mount_server",
		MinTier:    registry.TierStandard,
		Handler: func(ctx context.Context, args map[string]interface{}) (protocol.CallToolResult, error) {
			name, ok := stringArg(args, "name")
			if !ok || name == "" {
				return protocol.CallToolResult{}, nerr.New(nerr.KindHandlerError, "missing required arg 'name'")
			}
			command, ok := stringArg(args, "command")
			if !ok || command == "" {
				return protocol.CallToolResult{}, nerr.New(nerr.KindHandlerError, "missing required arg 'command'")
			}
			var cmdArgs []string
			if raw, ok := args["args"].([]interface{}); ok {
				for _, v := range raw {
					if s, ok := v.(string); ok {
						cmdArgs = append(cmdArgs, s)
					}
				}
			}
			var env map[string]string
			if raw, ok := args["env"].(map[string]interface{}); ok {
				env = make(map[string]string, len(raw))
				for k, v := range raw {
					if s, ok := v.(string); ok {
						env[k] = s
					}
				}
			}
			mountID, err := a.Mounter.Mount(ctx, name, command, cmdArgs, env)
			if err != nil {
				return protocol.CallToolResult{}, err
			}
			return jsonResult(map[string]interface{}{"mount_id": mountID})
		},
	}
}

func unmountServerTool(a *App) registry.Entry {
	return registry.Entry{
		Descriptor: protocol.Tool{
			Name:        "brain_unmount_server",
			Description: "Unmount a previously mounted child MCP server.",
			InputSchema: protocol.ToolInputSchema{
				Type:       "object",
				Properties: map[string]interface{}{"mount_id": map[string]interface{}{"type": "string"}},
				Required:   []string{"mount_id"},
			},
		},
		Capability: "mount_server",
		MinTier:    registry.TierStandard,
		Handler: func(ctx context.Context, args map[string]interface{}) (protocol.CallToolResult, error) {
			mountID, ok := stringArg(args, "mount_id")
			if !ok || mountID == "" {
				return protocol.CallToolResult{}, nerr.New(nerr.KindHandlerError, "missing required arg 'mount_id'")
			}
			if err := a.Mounter.Unmount(ctx, mountID); err != nil {
				return protocol.CallToolResult{}, err
			}
			return jsonResult(map[string]interface{}{})
		},
	}
}

func listMountedTool(a *App) registry.Entry {
	return registry.Entry{
		Descriptor: protocol.Tool{
			Name:        "brain_list_mounted",
			Description: "List every persisted mount record with its current status.",
			InputSchema: protocol.ToolInputSchema{Type: "object"},
		},
		Capability: dispatch.OpenCapability,
		MinTier:    registry.TierLaunch,
		Handler: func(ctx context.Context, args map[string]interface{}) (protocol.CallToolResult, error) {
			records, err := a.Mounter.ListMounts(ctx)
			if err != nil {
				return protocol.CallToolResult{}, err
			}
			return jsonResult(records)
		},
	}
}

func discoverMountedToolsTool(a *App) registry.Entry {
	return registry.Entry{
		Descriptor: protocol.Tool{
			Name:        "brain_discover_mounted_tools",
			Description: "Return every mounted child's tool list, namespaced by mount.",
			InputSchema: protocol.ToolInputSchema{
				Type:       "object",
				Properties: map[string]interface{}{"mount_id": map[string]interface{}{"type": "string"}},
			},
		},
		Capability: dispatch.OpenCapability,
		MinTier:    registry.TierLaunch,
		Handler: func(ctx context.Context, args map[string]interface{}) (protocol.CallToolResult, error) {
			var filterName string
			if mountID, ok := stringArg(args, "mount_id"); ok && mountID != "" {
				records, err := a.Mounter.ListMounts(ctx)
				if err != nil {
					return protocol.CallToolResult{}, nerr.New(nerr.KindHandlerError, "list mounts: %v", err)
				}
				for _, r := range records {
					if r.MountID == mountID {
						filterName = r.Name
						break
					}
				}
				if filterName == "" {
					return protocol.CallToolResult{}, nerr.New(nerr.KindToolNotFound, "mount %q not found", mountID)
				}
			}

			byMount := make(map[string][]map[string]interface{})
			for _, t := range a.Mounter.ListTools() {
				mountName, _, _ := qname.Split(t.QualifiedName)
				if filterName != "" && mountName != filterName {
					continue
				}
				byMount[mountName] = append(byMount[mountName], map[string]interface{}{
					"qualified_name": t.QualifiedName,
					"description":    t.Description,
					"input_schema":   t.InputSchema,
				})
			}
			return jsonResult(byMount)
		},
	}
}

func invokeMountedToolTool(a *App) registry.Entry {
	return registry.Entry{
		Descriptor: protocol.Tool{
			Name:        "brain_invoke_mounted_tool",
			Description: "Invoke a tool on a mounted child server by mount_id.",
			InputSchema: protocol.ToolInputSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"mount_id": map[string]interface{}{"type": "string"},
					"tool":     map[string]interface{}{"type": "string"},
					"args":     map[string]interface{}{"type": "object"},
				},
				Required: []string{"mount_id", "tool"},
			},
		},
		Capability: "invoke_mounted_tool",
		MinTier:    registry.TierStandard,
		Handler: func(ctx context.Context, args map[string]interface{}) (protocol.CallToolResult, error) {
			mountID, ok := stringArg(args, "mount_id")
			if !ok || mountID == "" {
				return protocol.CallToolResult{}, nerr.New(nerr.KindHandlerError, "missing required arg 'mount_id'")
			}
			tool, ok := stringArg(args, "tool")
			if !ok || tool == "" {
				return protocol.CallToolResult{}, nerr.New(nerr.KindHandlerError, "missing required arg 'tool'")
			}
			callArgs, _ := args["args"].(map[string]interface{})
			return a.Mounter.Invoke(ctx, mountID, tool, callArgs, 0)
		},
	}
}

func grantPermissionTool(a *App) registry.Entry {
	return registry.Entry{
		Descriptor: protocol.Tool{
			Name:        "brain_grant_permission",
			Description: "Grant a capability by the fingerprint surfaced in a PermissionDenied error.",
			InputSchema: protocol.ToolInputSchema{
				Type:       "object",
				Properties: map[string]interface{}{"fingerprint": map[string]interface{}{"type": "string"}},
				Required:   []string{"fingerprint"},
			},
		},
		Capability: dispatch.OpenCapability,
		MinTier:    registry.TierStandard,
		Handler: func(ctx context.Context, args map[string]interface{}) (protocol.CallToolResult, error) {
			fp, ok := stringArg(args, "fingerprint")
			if !ok || fp == "" {
				return protocol.CallToolResult{}, nerr.New(nerr.KindHandlerError, "missing required arg 'fingerprint'")
			}
			if err := a.Broker.GrantFingerprint(ctx, fp, "host"); err != nil {
				return protocol.CallToolResult{}, err
			}
			return jsonResult(map[string]interface{}{})
		},
	}
}

func revokePermissionTool(a *App) registry.Entry {
	return registry.Entry{
		Descriptor: protocol.Tool{
			Name:        "brain_revoke_permission",
			Description: "Revoke a previously granted capability fingerprint.",
			InputSchema: protocol.ToolInputSchema{
				Type:       "object",
				Properties: map[string]interface{}{"fingerprint": map[string]interface{}{"type": "string"}},
				Required:   []string{"fingerprint"},
			},
		},
		Capability: dispatch.OpenCapability,
		MinTier:    registry.TierStandard,
		Handler: func(ctx context.Context, args map[string]interface{}) (protocol.CallToolResult, error) {
			fp, ok := stringArg(args, "fingerprint")
			if !ok || fp == "" {
				return protocol.CallToolResult{}, nerr.New(nerr.KindHandlerError, "missing required arg 'fingerprint'")
			}
			if err := a.Broker.Revoke(ctx, fp); err != nil {
				return protocol.CallToolResult{}, err
			}
			return jsonResult(map[string]interface{}{})
		},
	}
}

func listGrantsTool(a *App) registry.Entry {
	return registry.Entry{
		Descriptor: protocol.Tool{
			Name:        "brain_list_grants",
			Description: "List every persisted capability grant.",
			InputSchema: protocol.ToolInputSchema{Type: "object"},
		},
		Capability: dispatch.OpenCapability,
		MinTier:    registry.TierStandard,
		Handler: func(ctx context.Context, args map[string]interface{}) (protocol.CallToolResult, error) {
			return jsonResult(a.Broker.List(ctx))
		},
	}
}

func auditLogTool(a *App) registry.Entry {
	return registry.Entry{
		Descriptor: protocol.Tool{
			Name:        "brain_audit_log",
			Description: "Return the last `limit` entries from the audit ledger.",
			InputSchema: protocol.ToolInputSchema{
				Type:       "object",
				Properties: map[string]interface{}{"limit": map[string]interface{}{"type": "number"}},
			},
		},
		Capability: dispatch.OpenCapability,
		MinTier:    registry.TierStandard,
		Handler: func(ctx context.Context, args map[string]interface{}) (protocol.CallToolResult, error) {
			limit := 20
			if v, ok := args["limit"].(float64); ok && v > 0 {
				limit = int(v)
			}
			entries, err := a.Ledger.Tail(ctx, limit)
			if err != nil {
				return protocol.CallToolResult{}, nerr.New(nerr.KindHandlerError, "audit tail: %v", err)
			}
			return jsonResult(entries)
		},
	}
}

func verifyAuditTool(a *App) registry.Entry {
	return registry.Entry{
		Descriptor: protocol.Tool{
			Name:        "brain_verify_audit",
			Description: "Recompute and verify the audit ledger's hash chain.",
			InputSchema: protocol.ToolInputSchema{Type: "object"},
		},
		Capability: dispatch.OpenCapability,
		MinTier:    registry.TierLaunch,
		Handler: func(ctx context.Context, args map[string]interface{}) (protocol.CallToolResult, error) {
			res, err := a.Ledger.Verify(ctx)
			if err != nil {
				return protocol.CallToolResult{}, nerr.New(nerr.KindHandlerError, "audit verify: %v", err)
			}
			return jsonResult(res)
		},
	}
}

// configGenerationTool is [SUPPLEMENT]: recovered from
// original_source/.../runtime/watcher.py's generation-counter pattern.
func configGenerationTool(a *App) registry.Entry {
	return registry.Entry{
		Descriptor: protocol.Tool{
			Name:        "brain_config_generation",
			Description: "Return the BrainRoot config-generation counter, bumped on any config change.",
			InputSchema: protocol.ToolInputSchema{Type: "object"},
		},
		Capability: dispatch.OpenCapability,
		MinTier:    registry.TierLaunch,
		Handler: func(ctx context.Context, args map[string]interface{}) (protocol.CallToolResult, error) {
			return jsonResult(map[string]interface{}{
				"generation": a.ConfigGen.Generation(),
				"brain_root": a.BrainRoot,
			})
		},
	}
}

// pingTool is [SUPPLEMENT]: recovered from
// original_source/.../scripts/nucleus_speed_test.py's cheap round-trip
// liveness probe.
func pingTool(a *App) registry.Entry {
	return registry.Entry{
		Descriptor: protocol.Tool{
			Name:        "brain_ping",
			Description: "Trivial liveness probe.",
			InputSchema: protocol.ToolInputSchema{Type: "object"},
		},
		Capability: dispatch.OpenCapability,
		MinTier:    registry.TierLaunch,
		Handler: func(ctx context.Context, args map[string]interface{}) (protocol.CallToolResult, error) {
			return jsonResult(map[string]interface{}{
				"status":         "ok",
				"uptime_seconds": a.UptimeSeconds(),
			})
		},
	}
}
