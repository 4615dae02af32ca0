package cli

import (
	"path/filepath"

	"github.com/eidetic-works/nucleus-mcp/internal/brainroot"
	"github.com/eidetic-works/nucleus-mcp/internal/config"
	"github.com/eidetic-works/nucleus-mcp/internal/nucleus"
)

// InitError marks a buildApp failure as unrecoverable initialization:
// BrainRoot could not be resolved or created. Mapped to exit code 2 per
// spec.md §6's exit-code table, distinct from an ordinary flag/argument
// error (exit code 1).
type InitError struct {
	Err error
}

func (e *InitError) Error() string { return e.Err.Error() }
func (e *InitError) Unwrap() error { return e.Err }

// buildApp resolves BrainRoot, loads nucleus.yaml (explicit configPath or
// BrainRoot/config/nucleus.yaml), and wires a fresh *nucleus.App. Every
// sub-command calls this once at the start of its Execute.
func buildApp() (*nucleus.App, error) {
	root, err := brainroot.Root()
	if err != nil {
		return nil, &InitError{Err: err}
	}

	path := configPath
	if path == "" {
		configDir, err := brainroot.Path(brainroot.KindConfig)
		if err != nil {
			return nil, &InitError{Err: err}
		}
		path = filepath.Join(configDir, "nucleus.yaml")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return nucleus.New(cfg, root), nil
}
