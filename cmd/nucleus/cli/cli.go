package cli

import (
	"errors"
	"log"
	"os"
	"strings"

	"github.com/jessevdk/go-flags"
)

// configPath holds the -f/--config value extracted before full parsing, so
// buildApp can load it regardless of which sub-command ends up running.
var configPath string

// Run parses args and executes the selected sub-command, mirroring the
// teacher's cmd/agently/cli.go Run entrypoint.
func Run(args []string) {
	configPath = extractConfigPath(args)

	opts := &Options{}
	var first string
	if len(args) > 0 {
		first = args[0]
	}
	opts.Init(first)

	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		var initErr *InitError
		if errors.As(err, &initErr) {
			log.Printf("%v", err)
			os.Exit(2)
		}
		log.Fatalf("%v", err)
	}
}

// extractConfigPath scans raw args for -f/--config before full parsing, the
// same trick the teacher's cli.go uses so a sub-command's Execute can see it.
func extractConfigPath(args []string) string {
	for i, a := range args {
		switch a {
		case "-f", "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		default:
			if strings.HasPrefix(a, "--config=") {
				return strings.TrimPrefix(a, "--config=")
			}
		}
	}
	return ""
}
