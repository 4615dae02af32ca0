package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// MountCmd mounts a downstream MCP child server as a stdio subprocess.
type MountCmd struct {
	Name    string   `long:"name" required:"true" description:"mount name, used as the tool-name prefix"`
	Command string   `long:"command" required:"true" description:"executable to spawn"`
	Args    []string `long:"arg" description:"argument to pass to the child (repeatable)"`
	Env     []string `long:"env" description:"KEY=VALUE environment entry to pass to the child (repeatable)"`
}

func (c *MountCmd) Execute(args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}

	env := make(map[string]string, len(c.Env))
	for _, kv := range c.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}

	mountID, err := app.Mounter.Mount(context.Background(), c.Name, c.Command, c.Args, env)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, mountID)
	return nil
}

// UnmountCmd stops and un-persists a previously mounted child server.
type UnmountCmd struct {
	MountID string `short:"i" long:"mount-id" positional-arg-name:"mount-id" description:"mount_id returned by 'nucleus mount'" required:"yes"`
}

func (c *UnmountCmd) Execute(args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	return app.Mounter.Unmount(context.Background(), c.MountID)
}

// MountsCmd lists every persisted mount record.
type MountsCmd struct{}

func (c *MountsCmd) Execute(args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	records, err := app.Mounter.ListMounts(context.Background())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}
