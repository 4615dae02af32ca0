// Package brainroot resolves BrainRoot, the working directory that holds
// all of Nucleus's persisted state, and its fixed subtree layout. Adapted
// from the teacher's internal/workspace.Root()/Path() (the
// $AGENTLY_WORKSPACE env-override-or-CWD-relative cached singleton) to
// spec.md §3's $NUCLEAR_BRAIN_PATH convention and fixed ledger/engrams/
// sessions/config/.locks subtree.
package brainroot

import (
	"os"
	"path/filepath"
	"sync"
)

const (
	// envKey overrides the default BrainRoot location.
	envKey = "NUCLEAR_BRAIN_PATH"

	// defaultRootDir is used when envKey is not set.
	defaultRootDir = ".brain"
)

// Fixed subpaths under BrainRoot, per spec.md §3.
const (
	KindLedger   = "ledger"
	KindEngrams  = "engrams"
	KindSessions = "sessions"
	KindConfig   = "config"
	KindLocks    = ".locks"
)

var (
	cachedRoot string
	rootMu     sync.Mutex
)

// Root returns the absolute path to BrainRoot. Resolution order:
//  1. $NUCLEAR_BRAIN_PATH environment variable, if set and non-empty
//  2. CWD + ".brain"
//
// The result is cached for the lifetime of the process; Reset clears the
// cache (used by tests that need a fresh root per case).
func Root() (string, error) {
	rootMu.Lock()
	defer rootMu.Unlock()

	if cachedRoot != "" {
		return cachedRoot, nil
	}

	var root string
	if env := os.Getenv(envKey); env != "" {
		root = abs(env)
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		root = abs(filepath.Join(cwd, defaultRootDir))
	}

	if err := ensureTree(root); err != nil {
		return "", err
	}
	cachedRoot = root
	return cachedRoot, nil
}

// Reset clears the cached root. Test-only.
func Reset() {
	rootMu.Lock()
	defer rootMu.Unlock()
	cachedRoot = ""
}

// Path returns (and creates) the subpath for kind under BrainRoot, e.g.
// Path(KindLedger) == "<root>/ledger".
func Path(kind string) (string, error) {
	root, err := Root()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(root, kind)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// ensureTree creates BrainRoot and every fixed subpath. BrainRoot is created
// once and never deleted by the core.
func ensureTree(root string) error {
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	for _, kind := range []string{KindLedger, KindEngrams, KindSessions, KindConfig, KindLocks} {
		if err := os.MkdirAll(filepath.Join(root, kind), 0755); err != nil {
			return err
		}
	}
	return nil
}

func abs(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	if a, err := filepath.Abs(p); err == nil {
		return a
	}
	return filepath.Clean(p)
}
