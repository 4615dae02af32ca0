// Package mounter implements Nucleus's Recursive Mounter (spec.md §4.6):
// lifecycle and registry of Child MCP Clients, with mandatory virtual
// namespacing. Generalizes the teacher's internal/mcp/manager.Manager
// (pool map, Get/Reap/Reconnect/StartReaper) and
// internal/mcp/manager.RepoProvider (persisted client options) from an
// HTTP/SSE per-conversation pool into a stdio-subprocess pool keyed by
// mount_id.
package mounter

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viant/afs"

	"github.com/eidetic-works/nucleus-mcp/internal/brainroot"
	"github.com/eidetic-works/nucleus-mcp/internal/childclient"
	"github.com/eidetic-works/nucleus-mcp/internal/lockmgr"
	"github.com/eidetic-works/nucleus-mcp/internal/nerr"
	"github.com/eidetic-works/nucleus-mcp/internal/protocol"
	"github.com/eidetic-works/nucleus-mcp/pkg/qname"
)

const resourceKey = "mounts"

// DefaultCallDeadline is used when Invoke's caller does not specify one.
const DefaultCallDeadline = 120 * time.Second

// Status values for a MountRecord.
const (
	StatusReady  = "ready"
	StatusFailed = "failed"
)

// MountRecord is persisted at ledger/mounts.json.
type MountRecord struct {
	MountID   string            `json:"mount_id"`
	Name      string            `json:"name"`
	Transport string            `json:"transport"`
	Command   string            `json:"command"`
	Args      []string          `json:"args"`
	Env       map[string]string `json:"env,omitempty"`
	Status    string            `json:"status"`
	MountedAt time.Time         `json:"mounted_at"`
}

// ToolDescriptor mirrors spec.md §3, namespaced for mounted tools.
type ToolDescriptor struct {
	QualifiedName string                  `json:"qualified_name"`
	Description   string                  `json:"description"`
	InputSchema   protocol.ToolInputSchema `json:"input_schema"`
}

// liveMount pairs a persisted record with its running (or absent) client.
type liveMount struct {
	record MountRecord
	client *childclient.Client
}

// Mounter owns the set of Child MCP Clients.
type Mounter struct {
	fs    afs.Service
	locks *lockmgr.Manager

	mu       sync.RWMutex
	byID     map[string]*liveMount
	byName   map[string]string // name -> mount_id, active mounts only
}

// New constructs a Mounter backed by afs.New() and the given Lock Manager.
func New(locks *lockmgr.Manager) *Mounter {
	return &Mounter{
		fs:     afs.New(),
		locks:  locks,
		byID:   make(map[string]*liveMount),
		byName: make(map[string]string),
	}
}

func (m *Mounter) path() (string, error) {
	dir, err := brainroot.Path(brainroot.KindLedger)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "mounts.json"), nil
}

func (m *Mounter) readAll(ctx context.Context) ([]MountRecord, error) {
	path, err := m.path()
	if err != nil {
		return nil, err
	}
	exists, err := m.fs.Exists(ctx, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	data, err := m.fs.DownloadWithURL(ctx, path)
	if err != nil {
		return nil, err
	}
	var records []MountRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (m *Mounter) writeAll(ctx context.Context, records []MountRecord) error {
	path, err := m.path()
	if err != nil {
		return err
	}
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return m.fs.Upload(ctx, path, 0644, bytes.NewReader(data))
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// startClient spawns, initializes, and fetches the tool list for one
// mount record. On any failure the client is stopped and an error is
// returned; the caller decides what happens to the persisted record.
func (m *Mounter) startClient(ctx context.Context, record MountRecord) (*childclient.Client, error) {
	client := childclient.New(record.Name, record.Command, record.Args, envSlice(record.Env))
	if err := client.Start(ctx); err != nil {
		return nil, err
	}
	if err := client.Initialize(ctx); err != nil {
		_ = client.Stop()
		return nil, err
	}
	if _, err := client.ListTools(ctx, childclient.DefaultInitializeTimeout); err != nil {
		_ = client.Stop()
		return nil, err
	}
	return client, nil
}

// Mount creates a MountRecord, starts the client, awaits ready, caches its
// tool list, and persists the record. Duplicate names are rejected. On
// startup failure the record is NOT persisted.
func (m *Mounter) Mount(ctx context.Context, name, command string, args []string, env map[string]string) (string, error) {
	m.mu.Lock()
	if _, exists := m.byName[name]; exists {
		m.mu.Unlock()
		return "", nerr.New(nerr.KindHandlerError, "mount name %q already active", name)
	}
	m.mu.Unlock()

	handle, err := m.locks.Acquire(ctx, resourceKey, "mounter.mount", "")
	if err != nil {
		return "", err
	}
	defer handle.Release()

	record := MountRecord{
		MountID:   uuid.NewString(),
		Name:      name,
		Transport: "stdio",
		Command:   command,
		Args:      args,
		Env:       env,
		Status:    StatusReady,
		MountedAt: time.Now().UTC(),
	}

	client, err := m.startClient(ctx, record)
	if err != nil {
		return "", err
	}

	records, err := m.readAll(ctx)
	if err != nil {
		_ = client.Stop()
		return "", err
	}
	records = append(records, record)
	if err := m.writeAll(ctx, records); err != nil {
		_ = client.Stop()
		return "", err
	}

	m.mu.Lock()
	m.byID[record.MountID] = &liveMount{record: record, client: client}
	m.byName[name] = record.MountID
	m.mu.Unlock()

	return record.MountID, nil
}

// Unmount stops the client, removes the record, and invalidates cached
// tool descriptors.
func (m *Mounter) Unmount(ctx context.Context, mountID string) error {
	handle, err := m.locks.Acquire(ctx, resourceKey, "mounter.unmount", "")
	if err != nil {
		return err
	}
	defer handle.Release()

	m.mu.Lock()
	lm, ok := m.byID[mountID]
	if ok {
		delete(m.byID, mountID)
		delete(m.byName, lm.record.Name)
	}
	m.mu.Unlock()

	if !ok {
		return nerr.New(nerr.KindToolNotFound, "mount %q not found", mountID)
	}
	if lm.client != nil {
		_ = lm.client.Stop()
	}

	records, err := m.readAll(ctx)
	if err != nil {
		return err
	}
	out := records[:0]
	for _, r := range records {
		if r.MountID != mountID {
			out = append(out, r)
		}
	}
	return m.writeAll(ctx, out)
}

// ListMounts returns every persisted record with its current live status.
func (m *Mounter) ListMounts(ctx context.Context) ([]MountRecord, error) {
	records, err := m.readAll(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i, r := range records {
		if lm, ok := m.byID[r.MountID]; ok {
			switch lm.client.State() {
			case childclient.StateReady:
				records[i].Status = StatusReady
			case childclient.StateFailed, childclient.StateClosed:
				records[i].Status = StatusFailed
			}
		}
	}
	return records, nil
}

// ListTools returns the union of every ready child's tool list, each name
// rewritten to "{mount_name}:{tool}".
func (m *Mounter) ListTools() []ToolDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ToolDescriptor
	for _, lm := range m.byID {
		if lm.client.State() != childclient.StateReady {
			continue
		}
		for _, tool := range lm.client.CachedTools() {
			out = append(out, ToolDescriptor{
				QualifiedName: qname.Qualify(lm.record.Name, tool.Name),
				Description:   tool.Description,
				InputSchema:   tool.InputSchema,
			})
		}
	}
	return out
}

// resolveByName finds the live mount for a mount name (used by the
// Dispatcher's ":"-split routing).
func (m *Mounter) resolveByName(name string) (*liveMount, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byName[name]
	if !ok {
		return nil, false
	}
	lm, ok := m.byID[id]
	return lm, ok
}

// Invoke routes a call to a mounted tool by mount_id.
func (m *Mounter) Invoke(ctx context.Context, mountID, tool string, args map[string]interface{}, deadline time.Duration) (protocol.CallToolResult, error) {
	m.mu.RLock()
	lm, ok := m.byID[mountID]
	m.mu.RUnlock()
	if !ok {
		return protocol.CallToolResult{}, nerr.New(nerr.KindToolNotFound, "mount %q not found", mountID)
	}
	if lm.client.State() != childclient.StateReady {
		return protocol.CallToolResult{}, nerr.New(nerr.KindChildClosed, "mount %q is not ready", mountID)
	}
	if deadline <= 0 {
		deadline = DefaultCallDeadline
	}
	return lm.client.Call(ctx, tool, args, deadline)
}

// InvokeByName routes a call via the "{mount_name}:{tool}" qualified name,
// used by the Dispatcher's routing step.
func (m *Mounter) InvokeByName(ctx context.Context, mountName, tool string, args map[string]interface{}, deadline time.Duration) (protocol.CallToolResult, error) {
	lm, ok := m.resolveByName(mountName)
	if !ok {
		return protocol.CallToolResult{}, nerr.New(nerr.KindToolNotFound, "mount %q not found", mountName)
	}
	return m.Invoke(ctx, lm.record.MountID, tool, args, deadline)
}

// Restore re-mounts every persisted record on startup. A record whose
// restart fails is marked status=failed but kept in the file.
func (m *Mounter) Restore(ctx context.Context) error {
	records, err := m.readAll(ctx)
	if err != nil {
		return err
	}
	changed := false
	for i, record := range records {
		client, err := m.startClient(ctx, record)
		if err != nil {
			records[i].Status = StatusFailed
			changed = true
			continue
		}
		records[i].Status = StatusReady
		m.mu.Lock()
		m.byID[record.MountID] = &liveMount{record: records[i], client: client}
		m.byName[record.Name] = record.MountID
		m.mu.Unlock()
	}
	if changed {
		return m.writeAll(ctx, records)
	}
	return nil
}

// Shutdown stops every live child, used during graceful server shutdown.
func (m *Mounter) Shutdown() {
	m.mu.RLock()
	clients := make([]*childclient.Client, 0, len(m.byID))
	for _, lm := range m.byID {
		clients = append(clients, lm.client)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *childclient.Client) {
			defer wg.Done()
			_ = c.Stop()
		}(c)
	}
	wg.Wait()
}
