// Package broker implements Nucleus's Permission Broker (spec.md §4.3):
// persisted capability grants, fingerprinted by request, strict-equality
// matched, with no wildcard fallback.
package broker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/viant/afs"

	"github.com/eidetic-works/nucleus-mcp/internal/brainroot"
	"github.com/eidetic-works/nucleus-mcp/internal/canon"
	"github.com/eidetic-works/nucleus-mcp/internal/lockmgr"
)

const resourceKey = "permissions"

// GrantRequest describes a capability a caller wants to exercise.
type GrantRequest struct {
	ActorID    string                 `json:"actor_id"`
	Capability string                 `json:"capability"`
	Params     map[string]interface{} `json:"params"`
}

// Fingerprint computes SHA-256(agent_id | capability | canonical_json(params)).
func (r GrantRequest) Fingerprint() (string, error) {
	paramsJSON, err := canon.JSON(r.Params)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	buf.WriteString(r.ActorID)
	buf.WriteByte('|')
	buf.WriteString(r.Capability)
	buf.WriteByte('|')
	buf.Write(paramsJSON)
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

// CapabilityGrant is one persisted entry in ledger/permissions.json.
//
// [SUPPLEMENT] ExpiresAt/GrantedBy are recovered from
// original_source/.../runtime/broker.py and identity/gatekeeper.py, which
// timestamp and attribute every grant; they are additive and do not relax
// strict fingerprint equality.
type CapabilityGrant struct {
	Fingerprint string     `json:"fingerprint"`
	GrantedAt   time.Time  `json:"granted_at"`
	GrantedBy   string     `json:"granted_by,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func (g CapabilityGrant) expired(now time.Time) bool {
	return g.ExpiresAt != nil && now.After(*g.ExpiresAt)
}

// Broker persists and checks capability grants.
type Broker struct {
	fs    afs.Service
	locks *lockmgr.Manager
}

// New constructs a Broker backed by afs.New() and the given Lock Manager.
func New(locks *lockmgr.Manager) *Broker {
	return &Broker{fs: afs.New(), locks: locks}
}

func (b *Broker) path() (string, error) {
	dir, err := brainroot.Path(brainroot.KindLedger)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "permissions.json"), nil
}

// readAll loads every grant from disk. On read error the ledger is treated
// as empty (no grants), per spec.md §4.3 — it never crashes.
func (b *Broker) readAll(ctx context.Context) []CapabilityGrant {
	path, err := b.path()
	if err != nil {
		return nil
	}
	exists, err := b.fs.Exists(ctx, path)
	if err != nil || !exists {
		return nil
	}
	data, err := b.fs.DownloadWithURL(ctx, path)
	if err != nil {
		return nil
	}
	var grants []CapabilityGrant
	if err := json.Unmarshal(data, &grants); err != nil {
		return nil
	}
	return grants
}

func (b *Broker) writeAll(ctx context.Context, grants []CapabilityGrant) error {
	path, err := b.path()
	if err != nil {
		return err
	}
	data, err := json.Marshal(grants)
	if err != nil {
		return err
	}
	return b.fs.Upload(ctx, path, 0644, bytes.NewReader(data))
}

// Check reports whether req's fingerprint currently has an unexpired grant.
func (b *Broker) Check(ctx context.Context, req GrantRequest) (bool, string, error) {
	fp, err := req.Fingerprint()
	if err != nil {
		return false, "", err
	}
	grants := b.readAll(ctx)
	now := time.Now().UTC()
	for _, g := range grants {
		if g.Fingerprint == fp && !g.expired(now) {
			return true, fp, nil
		}
	}
	return false, fp, nil
}

// Grant persists a grant for req's fingerprint, attributed to grantedBy.
// Granting then immediately checking the same request returns Granted.
func (b *Broker) Grant(ctx context.Context, req GrantRequest, grantedBy string, expiresAt *time.Time) (string, error) {
	fp, err := req.Fingerprint()
	if err != nil {
		return "", err
	}
	handle, err := b.locks.Acquire(ctx, resourceKey, "broker.grant", grantedBy)
	if err != nil {
		return "", err
	}
	defer handle.Release()

	grants := b.readAll(ctx)
	for i, g := range grants {
		if g.Fingerprint == fp {
			grants[i].GrantedAt = time.Now().UTC()
			grants[i].GrantedBy = grantedBy
			grants[i].ExpiresAt = expiresAt
			return fp, b.writeAll(ctx, grants)
		}
	}
	grants = append(grants, CapabilityGrant{
		Fingerprint: fp,
		GrantedAt:   time.Now().UTC(),
		GrantedBy:   grantedBy,
		ExpiresAt:   expiresAt,
	})
	return fp, b.writeAll(ctx, grants)
}

// GrantFingerprint grants access directly by fingerprint, used when the
// host replays a fingerprint surfaced by a prior PermissionDenied error.
func (b *Broker) GrantFingerprint(ctx context.Context, fingerprint, grantedBy string) error {
	handle, err := b.locks.Acquire(ctx, resourceKey, "broker.grant", grantedBy)
	if err != nil {
		return err
	}
	defer handle.Release()

	grants := b.readAll(ctx)
	for i, g := range grants {
		if g.Fingerprint == fingerprint {
			grants[i].GrantedAt = time.Now().UTC()
			grants[i].GrantedBy = grantedBy
			return b.writeAll(ctx, grants)
		}
	}
	grants = append(grants, CapabilityGrant{
		Fingerprint: fingerprint,
		GrantedAt:   time.Now().UTC(),
		GrantedBy:   grantedBy,
	})
	return b.writeAll(ctx, grants)
}

// Revoke removes the grant for req's fingerprint, if any.
func (b *Broker) Revoke(ctx context.Context, fingerprint string) error {
	handle, err := b.locks.Acquire(ctx, resourceKey, "broker.revoke", "")
	if err != nil {
		return err
	}
	defer handle.Release()

	grants := b.readAll(ctx)
	out := grants[:0]
	for _, g := range grants {
		if g.Fingerprint != fingerprint {
			out = append(out, g)
		}
	}
	return b.writeAll(ctx, out)
}

// List returns every persisted grant.
func (b *Broker) List(ctx context.Context) []CapabilityGrant {
	return b.readAll(ctx)
}
