package cli

import (
	"context"
	"encoding/json"
	"os"
)

// GrantCmd grants a capability by the fingerprint surfaced in a prior
// PermissionDenied error.
type GrantCmd struct {
	Fingerprint string `short:"p" long:"fingerprint" positional-arg-name:"fingerprint" required:"yes"`
	By          string `long:"by" description:"identity to attribute the grant to" default:"cli"`
}

func (c *GrantCmd) Execute(args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	return app.Broker.GrantFingerprint(context.Background(), c.Fingerprint, c.By)
}

// RevokeCmd revokes a previously granted capability fingerprint.
type RevokeCmd struct {
	Fingerprint string `short:"p" long:"fingerprint" positional-arg-name:"fingerprint" required:"yes"`
}

func (c *RevokeCmd) Execute(args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	return app.Broker.Revoke(context.Background(), c.Fingerprint)
}

// GrantsCmd lists every persisted capability grant.
type GrantsCmd struct{}

func (c *GrantsCmd) Execute(args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	grants := app.Broker.List(context.Background())
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(grants)
}
