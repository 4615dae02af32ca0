// Package registry implements Nucleus's Tool Registry (spec.md §4.4): an
// in-memory, tiered, qualified-name-keyed map of native tool handlers.
// Generalizes the teacher's genai/tool.Registry (name→definition/handler
// map) and internal/tool/registry (per-server qualified-name cache).
package registry

import (
	"context"
	"sync"

	"github.com/eidetic-works/nucleus-mcp/internal/nerr"
	"github.com/eidetic-works/nucleus-mcp/internal/protocol"
	"github.com/eidetic-works/nucleus-mcp/pkg/qname"
)

// Tier is the visibility bucket that decides whether a tool is exposed to
// the host, per spec.md §4.4.
type Tier int

const (
	TierLaunch   Tier = 0
	TierStandard Tier = 1
	TierAdvanced Tier = 2
)

// betaToken is the placeholder "god-mode" constant spec.md §9 calls out as
// a stand-in for a real signed-token/config-flag mechanism in production.
const betaToken = "NUCLEUS-BETA-2024"

// TierFromEnv resolves the process's visibility tier from
// NUCLEUS_TOOL_TIER or NUCLEUS_BETA_TOKEN; absence defaults to TierLaunch,
// per spec.md §6's environment contract.
func TierFromEnv(toolTierEnv, betaTokenEnv string) Tier {
	switch toolTierEnv {
	case "2", "advanced", "ADVANCED":
		return TierAdvanced
	case "1", "standard", "STANDARD":
		return TierStandard
	}
	if betaTokenEnv == betaToken {
		return TierAdvanced
	}
	return TierLaunch
}

// Handler executes a native tool call.
type Handler func(ctx context.Context, args map[string]interface{}) (protocol.CallToolResult, error)

// Entry is one registered native tool.
type Entry struct {
	Descriptor protocol.Tool
	Capability string // "open" means no permission check, per spec.md §4.7
	MinTier    Tier
	Handler    Handler
}

// Registry is the in-process map of native tool handlers.
type Registry struct {
	tier Tier

	mu      sync.RWMutex
	entries map[string]Entry
}

// New constructs a Registry visible at the given tier.
func New(tier Tier) *Registry {
	return &Registry{tier: tier, entries: make(map[string]Entry)}
}

// Register adds or replaces a native tool. The qualified name must match
// spec.md §3's naming grammar and must not contain ":" (native tools carry
// no mount prefix).
func (r *Registry) Register(e Entry) error {
	name := e.Descriptor.Name
	if !qname.Valid(name) {
		return nerr.New(nerr.KindHandlerError, "registry: invalid tool name %q", name)
	}
	if qname.IsMounted(name) {
		return nerr.New(nerr.KindHandlerError, "registry: native tool name %q must not contain ':'", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = e
	return nil
}

// Visible reports whether name is exposed at the registry's current tier.
func (r *Registry) Visible(name string) bool {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	return ok && r.tier >= e.MinTier
}

// Lookup returns the entry for name if it exists and is visible at the
// current tier.
func (r *Registry) Lookup(name string) (Entry, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return Entry{}, nerr.New(nerr.KindToolNotFound, "tool %q not found", name)
	}
	if r.tier < e.MinTier {
		return Entry{}, nerr.New(nerr.KindToolNotVisible, "tool %q not visible at current tier", name)
	}
	return e, nil
}

// List returns every tool descriptor visible at the current tier, for
// tools/list.
func (r *Registry) List() []protocol.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.Tool, 0, len(r.entries))
	for _, e := range r.entries {
		if r.tier >= e.MinTier {
			out = append(out, e.Descriptor)
		}
	}
	return out
}

// Tier returns the registry's configured visibility tier.
func (r *Registry) Tier() Tier {
	return r.tier
}
