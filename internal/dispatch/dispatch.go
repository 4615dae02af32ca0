// Package dispatch implements Nucleus's Governed Tool Dispatch pipeline
// (spec.md §4.7): visibility → policy → consent → routing → execution →
// audit, in that exact order, with every step observable by the ledger.
// Generalizes the teacher's genai/tool.Policy/AskFunc (ask/auto/deny modes)
// and genai/tool.ValidateArgs (JSON-schema required-field validation) into
// a static capability-keyed policy table.
package dispatch

import (
	"context"
	"log"
	"time"

	"github.com/eidetic-works/nucleus-mcp/internal/broker"
	"github.com/eidetic-works/nucleus-mcp/internal/ledger"
	"github.com/eidetic-works/nucleus-mcp/internal/mounter"
	"github.com/eidetic-works/nucleus-mcp/internal/nerr"
	"github.com/eidetic-works/nucleus-mcp/internal/protocol"
	"github.com/eidetic-works/nucleus-mcp/internal/registry"
	"github.com/eidetic-works/nucleus-mcp/pkg/qname"
)

// OpenCapability marks a tool's capability as not requiring a grant.
const OpenCapability = "open"

// DefaultDeadline is the per-tool execution deadline, per spec.md §4.7.
const DefaultDeadline = 120 * time.Second

// extractParamSubset is the hook Policy uses to build a GrantRequest's
// params from a call's arguments. The default keeps every argument;
// callers needing finer-grained capability scoping may register a
// per-capability extractor.
type ParamExtractor func(args map[string]interface{}) map[string]interface{}

func defaultExtractor(args map[string]interface{}) map[string]interface{} { return args }

// Dispatcher is the single entry point for every tool call.
type Dispatcher struct {
	registry *registry.Registry
	mounter  *mounter.Mounter
	b        *broker.Broker
	l        *ledger.Ledger

	extractors map[string]ParamExtractor

	// mountCapabilities is the [SUPPLEMENT] config-driven policy table
	// extending spec.md §4.7's "static table" to mounted tools, which
	// otherwise carry no registry-declared capability. Keyed by qualified
	// name ("{mount}:{tool}"); absent entries stay ungated.
	mountCapabilities map[string]string

	deadline time.Duration
}

// New wires a Dispatcher over its collaborators. Dispatcher holds
// references to Mounter/Registry/Broker/Ledger but owns no long-lived
// state of its own, per spec.md §3's ownership rules.
func New(reg *registry.Registry, mnt *mounter.Mounter, b *broker.Broker, l *ledger.Ledger) *Dispatcher {
	return &Dispatcher{registry: reg, mounter: mnt, b: b, l: l, extractors: make(map[string]ParamExtractor), deadline: DefaultDeadline}
}

// SetDeadline overrides the per-tool execution deadline, per nucleus.yaml's
// callDeadline setting.
func (d *Dispatcher) SetDeadline(deadline time.Duration) {
	d.deadline = deadline
}

// SetMountCapabilities installs the capability a mounted qualified tool
// name must be granted before it may be invoked, per nucleus.yaml's
// capabilityByTool section.
func (d *Dispatcher) SetMountCapabilities(byTool map[string]string) {
	d.mountCapabilities = byTool
}

// SetParamExtractor overrides the param-subset extractor used when
// building a GrantRequest for the given capability.
func (d *Dispatcher) SetParamExtractor(capability string, fn ParamExtractor) {
	d.extractors[capability] = fn
}

func (d *Dispatcher) extractorFor(capability string) ParamExtractor {
	if fn, ok := d.extractors[capability]; ok {
		return fn
	}
	return defaultExtractor
}

// Dispatch routes one incoming tool call through the full pipeline.
func (d *Dispatcher) Dispatch(ctx context.Context, actor, qualifiedName string, args map[string]interface{}) (protocol.CallToolResult, error) {
	// Step 1: visibility.
	mount, tool, isMounted := qname.Split(qualifiedName)

	var capability string
	if !isMounted {
		entry, err := d.registry.Lookup(qualifiedName)
		if err != nil {
			d.auditFailure(ctx, actor, qualifiedName, args, err)
			return protocol.CallToolResult{}, err
		}
		capability = entry.Capability
	} else {
		// Mounted tools carry no registry-declared capability; an operator
		// may still require one via nucleus.yaml's capabilityByTool table.
		capability = d.mountCapabilities[qualifiedName]
	}

	// Step 2: policy resolution.
	if capability != "" && capability != OpenCapability {
		req := broker.GrantRequest{ActorID: actor, Capability: capability, Params: d.extractorFor(capability)(args)}
		granted, fingerprint, err := d.b.Check(ctx, req)
		if err != nil {
			deniedErr := nerr.New(nerr.KindHandlerError, "policy check: %v", err)
			d.auditFailure(ctx, actor, qualifiedName, args, deniedErr)
			return protocol.CallToolResult{}, deniedErr
		}
		// Step 3: consent gate.
		if !granted {
			deniedErr := nerr.Denied(fingerprint)
			_, auditErr := d.l.Append(ctx, "consent_required", actor, qualifiedName, args, map[string]interface{}{"fingerprint": fingerprint})
			if auditErr != nil {
				log.Printf("[dispatch] audit write failed for consent_required: %v", auditErr)
			}
			return protocol.CallToolResult{}, deniedErr
		}
	}

	// Step 4: routing + step 5: execution under deadline.
	result, execErr := d.execute(ctx, qualifiedName, mount, tool, isMounted, args)

	// Step 6: audit append. The dispatcher still returns the original
	// result even if the ledger write fails; it only raises an alarm.
	var resultForHash interface{} = result
	if execErr != nil {
		resultForHash = map[string]interface{}{"error": execErr.Error()}
	}
	if _, auditErr := d.l.Append(ctx, "tool_call", actor, qualifiedName, args, resultForHash); auditErr != nil {
		log.Printf("[dispatch] AuditWriteFailed for %q: %v", qualifiedName, auditErr)
	}

	return result, execErr
}

func (d *Dispatcher) execute(ctx context.Context, qualifiedName, mount, tool string, isMounted bool, args map[string]interface{}) (protocol.CallToolResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, d.deadline)
	defer cancel()

	if isMounted {
		return d.mounter.InvokeByName(execCtx, mount, tool, args, d.deadline)
	}

	entry, err := d.registry.Lookup(qualifiedName)
	if err != nil {
		return protocol.CallToolResult{}, err
	}
	result, err := runHandler(execCtx, entry.Handler, args)
	if err != nil {
		return protocol.CallToolResult{}, err
	}
	return result, nil
}

// runHandler recovers a panicking handler into a HandlerError so a buggy
// native tool can never crash the server, per spec.md §7's "handler
// exceptions never propagate as raw stack traces" rule.
func runHandler(ctx context.Context, h registry.Handler, args map[string]interface{}) (result protocol.CallToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = nerr.New(nerr.KindHandlerError, "panic: %v", r)
		}
	}()
	return h(ctx, args)
}

func (d *Dispatcher) auditFailure(ctx context.Context, actor, qualifiedName string, args map[string]interface{}, err error) {
	if _, auditErr := d.l.Append(ctx, "tool_call", actor, qualifiedName, args, map[string]interface{}{"error": err.Error()}); auditErr != nil {
		log.Printf("[dispatch] AuditWriteFailed for %q: %v", qualifiedName, auditErr)
	}
}
