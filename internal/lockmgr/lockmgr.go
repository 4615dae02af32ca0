// Package lockmgr implements Nucleus's advisory, filesystem-scoped lock
// manager (spec.md §4.1). No file-lock library appears anywhere in the
// example corpus this module was grounded on, so this component is
// deliberately built on the standard library — see DESIGN.md.
package lockmgr

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/eidetic-works/nucleus-mcp/internal/brainroot"
	"github.com/eidetic-works/nucleus-mcp/internal/nerr"
)

// DefaultWait is the default contention timeout before LockContended is
// surfaced (spec.md §4.1).
const DefaultWait = 5 * time.Second

const pollInterval = 25 * time.Millisecond

// Handle is returned by Acquire; Release must be called on every exit path.
type Handle struct {
	path     string
	resource string
}

// Release removes the lockfile, making the resource available again. It is
// safe to call more than once.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	err := os.Remove(h.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

type meta struct {
	Reason    string    `json:"reason,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	PID       int       `json:"pid"`
}

// Manager resolves lock files under BrainRoot/.locks.
type Manager struct {
	wait time.Duration
}

// New constructs a Manager with the default contention wait.
func New() *Manager {
	return &Manager{wait: DefaultWait}
}

// WithWait returns a copy of m using the given contention wait instead of
// DefaultWait.
func (m *Manager) WithWait(d time.Duration) *Manager {
	return &Manager{wait: d}
}

// Acquire takes the named resource's advisory lock, retrying on contention
// (best-effort FIFO via poll order) until ctx is done or the configured wait
// elapses, whichever comes first. reason/agentID are stamped on the lockfile
// for diagnostics only.
func (m *Manager) Acquire(ctx context.Context, resourceKey, reason, agentID string) (*Handle, error) {
	dir, err := brainroot.Path(brainroot.KindLocks)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, resourceKey+".lock")

	wait := m.wait
	if wait <= 0 {
		wait = DefaultWait
	}
	deadline := time.Now().Add(wait)

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			m := meta{Reason: reason, AgentID: agentID, Timestamp: time.Now().UTC(), PID: os.Getpid()}
			b, _ := json.Marshal(m)
			_, _ = f.Write(b)
			_ = f.Close()
			return &Handle{path: path, resource: resourceKey}, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, nerr.New(nerr.KindLockContended, "lock %q: %v", resourceKey, ctx.Err())
		default:
		}
		if time.Now().After(deadline) {
			return nil, nerr.New(nerr.KindLockContended, "lock %q contended after %s", resourceKey, wait)
		}
		select {
		case <-ctx.Done():
			return nil, nerr.New(nerr.KindLockContended, "lock %q: %v", resourceKey, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}
