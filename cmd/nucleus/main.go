package main

import (
	"os"

	"github.com/eidetic-works/nucleus-mcp/cmd/nucleus/cli"
)

func main() {
	cli.Run(os.Args[1:])
}
