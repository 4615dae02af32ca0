// Package nucleus wires every collaborator into a single explicit App
// value constructed once at startup and threaded through the Dispatcher,
// Mounter, Registry, Broker, and Ledger. This replaces the teacher's
// instance.Get()/instance.Init() process-wide singleton
// (cmd/agently/shared.go) with the Go-idiomatic explicit-context approach
// spec.md §9 calls for: no process-wide mutable state is required.
package nucleus

import (
	"context"
	"log"
	"time"

	"github.com/eidetic-works/nucleus-mcp/internal/brainroot"
	"github.com/eidetic-works/nucleus-mcp/internal/broker"
	"github.com/eidetic-works/nucleus-mcp/internal/config"
	"github.com/eidetic-works/nucleus-mcp/internal/configgen"
	"github.com/eidetic-works/nucleus-mcp/internal/dispatch"
	"github.com/eidetic-works/nucleus-mcp/internal/ledger"
	"github.com/eidetic-works/nucleus-mcp/internal/lockmgr"
	"github.com/eidetic-works/nucleus-mcp/internal/mounter"
	"github.com/eidetic-works/nucleus-mcp/internal/registry"
	"github.com/eidetic-works/nucleus-mcp/internal/server"
)

// App is the explicit context value holding every wired collaborator.
type App struct {
	BrainRoot string
	// Strict mirrors cfg.Strict: when true, a broken audit chain found
	// during startup Restore is treated as exit code 3 (spec.md §9),
	// rather than merely logged.
	Strict     bool
	Locks      *lockmgr.Manager
	Ledger     *ledger.Ledger
	Broker     *broker.Broker
	Registry   *registry.Registry
	Mounter    *mounter.Mounter
	Dispatcher *dispatch.Dispatcher
	Server     *server.Server
	ConfigGen  *configgen.Counter

	startedAt time.Time
}

// New constructs an App from cfg, wiring every collaborator and registering
// the native brain_* tools.
func New(cfg config.Config, brainRoot string) *App {
	locks := lockmgr.New()
	if wait, err := time.ParseDuration(cfg.LockWait); err == nil && wait > 0 {
		locks = locks.WithWait(wait)
	}
	l := ledger.New(locks)
	b := broker.New(locks)
	reg := registry.New(cfg.ResolveTier())
	mnt := mounter.New(locks)
	d := dispatch.New(reg, mnt, b, l)
	if len(cfg.CapabilityByTool) > 0 {
		d.SetMountCapabilities(cfg.CapabilityByTool)
	}
	if deadline, err := time.ParseDuration(cfg.CallDeadline); err == nil && deadline > 0 {
		d.SetDeadline(deadline)
	}
	srv := server.New(reg, d, mnt)
	if timeout, err := time.ParseDuration(cfg.ShutdownTimeout); err == nil && timeout > 0 {
		srv.WithShutdownTimeout(timeout)
	}

	app := &App{
		BrainRoot:  brainRoot,
		Strict:     cfg.Strict,
		Locks:      locks,
		Ledger:     l,
		Broker:     b,
		Registry:   reg,
		Mounter:    mnt,
		Dispatcher: d,
		Server:     srv,
		ConfigGen:  configgen.New(),
		startedAt:  time.Now(),
	}
	registerNativeTools(app)

	if dir, err := brainroot.Path(brainroot.KindConfig); err == nil {
		if err := app.ConfigGen.Watch(dir); err != nil {
			log.Printf("[nucleus] config watch disabled: %v", err)
		}
	}

	return app
}

// Restore re-mounts every persisted MountRecord, per spec.md §4.6.
func (a *App) Restore(ctx context.Context) error {
	return a.Mounter.Restore(ctx)
}

// UptimeSeconds reports how long the App has been running.
func (a *App) UptimeSeconds() float64 {
	return time.Since(a.startedAt).Seconds()
}
