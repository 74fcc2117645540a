package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ryanuber/go-glob"
	"github.com/urfave/cli/v2"

	"github.com/nishisan-dev/egd/internal/client"
	"github.com/nishisan-dev/egd/internal/config"
	"github.com/nishisan-dev/egd/internal/control"
)

func sourcesCommand() *cli.Command {
	return &cli.Command{
		Name:  "sources",
		Usage: "list configured sources and their live state",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "filter",
				Usage: "glob pattern matched against source name, e.g. \"net-*\"",
			},
		},
		Action: sourcesAction,
	}
}

func sourcesAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("loading configuration: %v", err), exitInvalidConfig)
	}

	cl := client.New(cfg.TCPPort)
	resp, _, err := cl.Call(context.Background(), "sources")
	if err != nil {
		return cli.Exit(fmt.Sprintf("%v", err), exitUnreachable)
	}
	if resp.StatusCode >= 400 {
		return cli.Exit(fmt.Sprintf("daemon returned status %d: %s", resp.StatusCode, resp.StatusText), exitGenericError)
	}

	var sources control.SourcesResponse
	if err := remarshal(resp.Data, &sources); err != nil {
		return cli.Exit(fmt.Sprintf("decoding sources response: %v", err), exitGenericError)
	}

	pattern := c.String("filter")
	filtered := sources.Sources[:0]
	for _, s := range sources.Sources {
		if pattern == "" || glob.Glob(pattern, s.Name) {
			filtered = append(filtered, s)
		}
	}

	for _, s := range filtered {
		fmt.Printf("%-24s %-12s failures=%-3d last_success=%s\n",
			s.Name, s.State, s.ConsecutiveFailures, s.LastSuccess.Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}

// remarshal round-trips v (typically an interface{} decoded from a
// generic JSON response) into dst's concrete type.
func remarshal(v interface{}, dst interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
