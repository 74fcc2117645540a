package main

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/nishisan-dev/egd/internal/config"
)

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "inspect the daemon configuration file",
		Subcommands: []*cli.Command{
			configValidateCommand(),
			configShowCommand(),
		},
	}
}

func configValidateCommand() *cli.Command {
	return &cli.Command{
		Name:   "validate",
		Usage:  "validate the configuration file against its schema and semantic rules",
		Action: configValidateAction,
	}
}

func configValidateAction(c *cli.Context) error {
	if _, err := config.Validate(c.String("config")); err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitInvalidConfig)
	}
	fmt.Println("configuration is valid")
	return nil
}

func configShowCommand() *cli.Command {
	return &cli.Command{
		Name:   "show",
		Usage:  "print the fully-defaulted configuration as JSON",
		Action: configShowAction,
	}
}

func configShowAction(c *cli.Context) error {
	cfg, err := config.Validate(c.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitInvalidConfig)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return cli.Exit(fmt.Sprintf("encoding configuration: %v", err), exitGenericError)
	}
	fmt.Println(string(data))
	return nil
}
