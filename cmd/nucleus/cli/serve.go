package cli

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/gops/agent"
)

// ServeCmd runs the Nucleus MCP server over stdin/stdout until EOF or an
// interrupt, mirroring the teacher's cmd/agently/serve.go lifecycle.
type ServeCmd struct {
	GopsAddr string `long:"gops-addr" description:"address for the gops diagnostics agent (empty disables it)" default:"127.0.0.1:0"`
}

func (c *ServeCmd) Execute(args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}

	if c.GopsAddr != "" {
		if err := agent.Listen(agent.Options{Addr: c.GopsAddr}); err != nil {
			log.Printf("[nucleus] gops diagnostics agent disabled: %v", err)
		} else {
			defer agent.Close()
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Restore(ctx); err != nil {
		log.Printf("[nucleus] restore mounts: %v", err)
	}

	if result, err := app.Ledger.Verify(ctx); err != nil {
		log.Printf("[nucleus] audit verify on startup: %v", err)
	} else if !result.OK {
		log.Printf("[nucleus] audit chain broken at seq=%d", result.BadSeq)
		if app.Strict {
			os.Exit(3)
		}
	}

	log.Printf("[nucleus] serving on stdio, brain_root=%s", app.BrainRoot)
	return app.Server.Serve(ctx, os.Stdin, os.Stdout)
}
