// Package ledger implements Nucleus's append-only, hash-chained audit
// ledger (spec.md §4.2), persisted at BrainRoot/ledger/audit.jsonl through
// github.com/viant/afs, matching the teacher's use of afs.Service for every
// on-disk resource.
package ledger

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/viant/afs"

	"github.com/eidetic-works/nucleus-mcp/internal/brainroot"
	"github.com/eidetic-works/nucleus-mcp/internal/canon"
	"github.com/eidetic-works/nucleus-mcp/internal/lockmgr"
	"github.com/eidetic-works/nucleus-mcp/internal/nerr"
)

// GenesisHash is the prev_hash of the first entry in an empty ledger.
const GenesisHash = "GENESIS"

const resourceKey = "audit"

// Entry is one line of ledger/audit.jsonl.
type Entry struct {
	Seq        int       `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`
	Action     string    `json:"action"`
	Actor      string    `json:"actor"`
	Target     string    `json:"target"`
	ParamsHash string    `json:"params_hash"`
	ResultHash string    `json:"result_hash"`
	PrevHash   string    `json:"prev_hash"`
	EntryHash  string    `json:"entry_hash"`
}

// withoutHashes returns the subset of fields entry_hash commits to.
func (e Entry) withoutHashes() map[string]interface{} {
	return map[string]interface{}{
		"seq":         e.Seq,
		"timestamp":   e.Timestamp.UTC().Format(time.RFC3339Nano),
		"action":      e.Action,
		"actor":       e.Actor,
		"target":      e.Target,
		"params_hash": e.ParamsHash,
		"result_hash": e.ResultHash,
		"prev_hash":   e.PrevHash,
	}
}

// Ledger is the single-writer audit log guarded by the Lock Manager.
type Ledger struct {
	fs    afs.Service
	locks *lockmgr.Manager
}

// New constructs a Ledger backed by afs.New() and the given Lock Manager.
func New(locks *lockmgr.Manager) *Ledger {
	return &Ledger{fs: afs.New(), locks: locks}
}

func (l *Ledger) path() (string, error) {
	dir, err := brainroot.Path(brainroot.KindLedger)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "audit.jsonl"), nil
}

// Append computes params_hash and result_hash from params/result, chains
// entry_hash onto the current last entry, and writes one new line. It
// returns the new entry's entry_hash.
func (l *Ledger) Append(ctx context.Context, action, actor, target string, params, result interface{}) (string, error) {
	handle, err := l.locks.Acquire(ctx, resourceKey, "ledger.append", actor)
	if err != nil {
		return "", err
	}
	defer handle.Release()

	paramsHash, err := canon.Hash(params)
	if err != nil {
		return "", nerr.New(nerr.KindAuditWriteFailed, "hash params: %v", err)
	}
	resultHash, err := canon.Hash(result)
	if err != nil {
		return "", nerr.New(nerr.KindAuditWriteFailed, "hash result: %v", err)
	}

	entries, err := l.readAllLocked(ctx)
	if err != nil {
		return "", nerr.New(nerr.KindAuditWriteFailed, "read ledger: %v", err)
	}

	prevHash := GenesisHash
	seq := 1
	if n := len(entries); n > 0 {
		prevHash = entries[n-1].EntryHash
		seq = entries[n-1].Seq + 1
	}

	entry := Entry{
		Seq:        seq,
		Timestamp:  time.Now().UTC(),
		Action:     action,
		Actor:      actor,
		Target:     target,
		ParamsHash: paramsHash,
		ResultHash: resultHash,
		PrevHash:   prevHash,
	}
	entryHash, err := hashEntry(entry)
	if err != nil {
		return "", nerr.New(nerr.KindAuditWriteFailed, "hash entry: %v", err)
	}
	entry.EntryHash = entryHash

	line, err := canon.JSON(entry)
	if err != nil {
		return "", nerr.New(nerr.KindAuditWriteFailed, "encode entry: %v", err)
	}

	path, err := l.path()
	if err != nil {
		return "", nerr.New(nerr.KindAuditWriteFailed, "resolve path: %v", err)
	}

	var buf bytes.Buffer
	for _, e := range entries {
		b, _ := canon.JSON(e)
		buf.Write(b)
		buf.WriteByte('\n')
	}
	buf.Write(line)
	buf.WriteByte('\n')

	if err := l.fs.Upload(ctx, path, 0644, bytes.NewReader(buf.Bytes())); err != nil {
		return "", nerr.New(nerr.KindAuditWriteFailed, "write ledger: %v", err)
	}
	return entryHash, nil
}

func hashEntry(e Entry) (string, error) {
	body, err := canon.JSON(e.withoutHashes())
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(append([]byte(e.PrevHash), body...))
	return hex.EncodeToString(sum[:]), nil
}

// readAllLocked reads every entry currently on disk. Caller must hold the
// audit lock.
func (l *Ledger) readAllLocked(ctx context.Context) ([]Entry, error) {
	path, err := l.path()
	if err != nil {
		return nil, err
	}
	exists, err := l.fs.Exists(ctx, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	data, err := l.fs.DownloadWithURL(ctx, path)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("ledger: corrupt line: %w", err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Tail returns the last n entries (fewer if the ledger is shorter).
func (l *Ledger) Tail(ctx context.Context, n int) ([]Entry, error) {
	handle, err := l.locks.Acquire(ctx, resourceKey, "ledger.tail", "")
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	entries, err := l.readAllLocked(ctx)
	if err != nil {
		return nil, err
	}
	if n <= 0 || n >= len(entries) {
		return entries, nil
	}
	return entries[len(entries)-n:], nil
}

// VerifyResult reports the outcome of Verify.
type VerifyResult struct {
	OK     bool `json:"ok"`
	BadSeq int  `json:"bad_seq,omitempty"`
}

// Verify recomputes and compares every hash in the chain. It returns the
// seq of the first entry whose stored entry_hash does not match the
// recomputed value, or whose prev_hash does not match its predecessor.
func (l *Ledger) Verify(ctx context.Context) (VerifyResult, error) {
	handle, err := l.locks.Acquire(ctx, resourceKey, "ledger.verify", "")
	if err != nil {
		return VerifyResult{}, err
	}
	defer handle.Release()

	entries, err := l.readAllLocked(ctx)
	if err != nil {
		return VerifyResult{}, err
	}

	prevHash := GenesisHash
	for _, e := range entries {
		if e.PrevHash != prevHash {
			return VerifyResult{OK: false, BadSeq: e.Seq}, nil
		}
		recomputed, err := hashEntry(e)
		if err != nil {
			return VerifyResult{}, err
		}
		if recomputed != e.EntryHash {
			return VerifyResult{OK: false, BadSeq: e.Seq}, nil
		}
		prevHash = e.EntryHash
	}
	return VerifyResult{OK: true}, nil
}
