package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/nishisan-dev/egd/internal/client"
	"github.com/nishisan-dev/egd/internal/config"
	"github.com/nishisan-dev/egd/internal/control"
)

func stopCommand() *cli.Command {
	return &cli.Command{
		Name:   "stop",
		Usage:  "ask the running daemon to shut down gracefully",
		Action: controlAction("quit"),
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "report current pool statistics",
		Action: controlAction("status"),
	}
}

func persistCommand() *cli.Command {
	return &cli.Command{
		Name:   "persist",
		Usage:  "force an immediate pool persist",
		Action: controlAction("persist"),
	}
}

// controlAction dials the daemon's control port, sends command, and
// prints the decoded response. Connection failures map to exit code 3
// ("cannot reach daemon") per spec.md §6.
func controlAction(command string) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return cli.Exit(fmt.Sprintf("loading configuration: %v", err), exitInvalidConfig)
		}

		cl := client.New(cfg.TCPPort)
		resp, remaining, err := cl.Call(context.Background(), command)
		if err != nil {
			return cli.Exit(fmt.Sprintf("%v", err), exitUnreachable)
		}

		if resp.StatusCode >= 400 {
			return cli.Exit(fmt.Sprintf("daemon returned status %d: %s", resp.StatusCode, resp.StatusText), exitGenericError)
		}

		printResponse(resp)
		fmt.Printf("(%.1fs of the 30s control timeout remained after connecting)\n", remaining.AfterConnect.Seconds())
		return nil
	}
}

func printResponse(resp control.Response) {
	data, err := json.MarshalIndent(resp.Data, "", "  ")
	if err != nil {
		fmt.Printf("%+v\n", resp.Data)
		return
	}
	fmt.Println(string(data))
}
