// Package command provides CLI command definitions for chatmesh-cli.
package command

import (
	"context"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/chatmesh/chatmesh-go/internal/cli/connection"
	"github.com/chatmesh/chatmesh-go/internal/cli/output"
)

// healthResult is the /api/health payload.
type healthResult struct {
	Status      string `json:"status"`
	Initialized bool   `json:"initialized"`
	NodeID      string `json:"node_id,omitempty"`
	Version     string `json:"version"`
	Time        string `json:"time"`
}

// HealthCommand returns the health command.
func HealthCommand() *cli.Command {
	return &cli.Command{
		Name:   "health",
		Usage:  "Show node health and identity",
		Action: healthAction,
	}
}

func healthAction(c *cli.Context) error {
	client := Client(c)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := client.Get(ctx, "/api/health")
	if err != nil {
		return err
	}

	var result healthResult
	if err := connection.ParseResponse(resp, &result); err != nil {
		return err
	}

	flags := ParseGlobalFlags(c)
	formatter := output.NewFormatter(output.Format(flags.Output), flags.Wide)
	return formatter.Format(os.Stdout, result)
}
