// Command egd is the entropy gathering daemon's CLI: start/stop the
// daemon and talk to it over its loopback control channel (spec.md §6).
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:           "egd",
		Usage:          "entropy gathering daemon",
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			startCommand(),
			stopCommand(),
			statusCommand(),
			persistCommand(),
			sourcesCommand(),
			configCommand(),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "/etc/egd/egd.yaml",
				Usage:   "path to daemon configuration file",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

// exitErrHandler preserves exit codes set via cli.Exit so the CLI
// surface's 0/1/2/3 contract (spec.md §6) survives urfave/cli's default
// error handling.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		if msg := exitCoder.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(exitCoder.ExitCode())
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// Exit codes per spec.md §6.
const (
	exitSuccess       = 0
	exitGenericError  = 1
	exitInvalidConfig = 2
	exitUnreachable   = 3
)
