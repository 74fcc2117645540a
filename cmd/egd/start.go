package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/nishisan-dev/egd/internal/audit"
	"github.com/nishisan-dev/egd/internal/config"
	"github.com/nishisan-dev/egd/internal/daemon"
	"github.com/nishisan-dev/egd/internal/lockfile"
	"github.com/nishisan-dev/egd/internal/logging"
)

func startCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "start the daemon in the foreground",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "bypass the lock file's liveness check",
			},
		},
		Action: startAction,
	}
}

func startAction(c *cli.Context) error {
	configPath := c.String("config")

	cfg, err := config.Validate(configPath)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitInvalidConfig)
	}

	logger, closer := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	defer closer.Close()

	lockPath := defaultLockPath()
	lock, err := lockfile.Acquire(lockPath, c.Bool("force"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("acquiring lock file: %v", err), exitGenericError)
	}
	defer lock.Release()

	var journal *audit.Journal
	if cfg.Audit.Enabled {
		path := cfg.Audit.Path
		if path == "" {
			path = defaultAuditPath()
		}
		journal, err = audit.Open(path, logger)
		if err != nil {
			return cli.Exit(fmt.Sprintf("opening audit journal: %v", err), exitGenericError)
		}
		defer journal.Close()
	}

	if err := daemon.RunDaemon(context.Background(), configPath, cfg, logger, journal); err != nil {
		return cli.Exit(fmt.Sprintf("daemon exited with error: %v", err), exitGenericError)
	}
	return nil
}
