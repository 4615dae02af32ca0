package cli

// Options is the root command that groups every nucleus sub-command. Struct
// tags are interpreted by github.com/jessevdk/go-flags, mirroring the
// teacher's cmd/agently/option.go layout.
type Options struct {
	Config  string       `short:"f" long:"config" description:"path to nucleus.yaml (defaults to BrainRoot/config/nucleus.yaml)"`
	Serve   *ServeCmd    `command:"serve" description:"Run the Nucleus MCP server over stdio"`
	Mount   *MountCmd    `command:"mount" description:"Mount a downstream MCP child server"`
	Unmount *UnmountCmd  `command:"unmount" description:"Unmount a previously mounted child server"`
	Mounts  *MountsCmd   `command:"mounts" description:"List every mounted child server"`
	Grant   *GrantCmd    `command:"grant" description:"Grant a capability by fingerprint"`
	Revoke  *RevokeCmd   `command:"revoke" description:"Revoke a previously granted fingerprint"`
	Grants  *GrantsCmd   `command:"grants" description:"List every persisted capability grant"`
	Audit   *AuditCmd    `command:"audit" description:"Inspect or verify the audit ledger"`
}

// Init instantiates the sub-command referenced by the first argument so that
// flags.Parse can populate its fields.
func (o *Options) Init(firstArg string) {
	switch firstArg {
	case "serve":
		o.Serve = &ServeCmd{}
	case "mount":
		o.Mount = &MountCmd{}
	case "unmount":
		o.Unmount = &UnmountCmd{}
	case "mounts":
		o.Mounts = &MountsCmd{}
	case "grant":
		o.Grant = &GrantCmd{}
	case "revoke":
		o.Revoke = &RevokeCmd{}
	case "grants":
		o.Grants = &GrantsCmd{}
	case "audit":
		o.Audit = &AuditCmd{}
	}
}
