// Command dbgctl drives a remote crash-dump debugging server over MCP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// globalFlags are available on every command and override config values.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a dbgctl.yaml or dbgctl.json config file.",
		},
		&cli.StringFlag{
			Name:    "server-url",
			Aliases: []string{"s"},
			Usage:   "Base URL of the debugging server, e.g. http://localhost:5000.",
		},
		&cli.StringFlag{
			Name:  "api-key",
			Usage: "API key sent with every request.",
		},
		&cli.StringFlag{
			Name:  "user-id",
			Usage: "User the sessions belong to. Defaults to a generated ID kept in the state database.",
		},
		&cli.StringFlag{
			Name:  "tool-timeout",
			Usage: "How long to wait for a tool response, e.g. 90s, 10m, 1d or infinite.",
		},
		&cli.StringFlag{
			Name:  "state-db",
			Usage: "Path of the SQLite database holding the active session.",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Aliases: []string{"l"},
			Usage:   "Set the log level.  One of: debug, info, warn, error.",
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "Enable verbose logging.",
		},
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "dbgctl",
		Usage:   "Control remote crash-dump debugging sessions",
		Version: version,
		Flags:   globalFlags(),
		Before:  setup,
		After:   teardown,
		Commands: []*cli.Command{
			healthCommand(),
			toolsCommand(),
			sessionCommand(),
			dumpCommand(),
			execCommand(),
			analyzeCommand(),
			stateCommand(),
		},
	}
}
