// Package command provides CLI command definitions for chatmesh-cli.
package command

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/chatmesh/chatmesh-go/internal/cli/connection"
	"github.com/chatmesh/chatmesh-go/internal/cli/output"
)

// messageResult is one message as the API returns it.
type messageResult struct {
	ID          string            `json:"id"`
	RoomID      string            `json:"room_id"`
	SenderID    string            `json:"sender_id"`
	Content     string            `json:"content"`
	VectorClock map[string]uint64 `json:"vector_clock"`
	CreatedAt   float64           `json:"created_at"`
}

// createdAtTime converts the wire timestamp (float seconds) for display.
func (m messageResult) createdAtTime() time.Time {
	return time.UnixMicro(int64(m.CreatedAt * 1e6))
}

// SendCommand returns the send command.
func SendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send a message to a room",
		ArgsUsage: "ROOM_ID MESSAGE...",
		Action:    sendAction,
	}
}

func sendAction(c *cli.Context) error {
	roomID := c.Args().First()
	if roomID == "" {
		return fmt.Errorf("room ID required")
	}
	content := strings.Join(c.Args().Tail(), " ")
	if content == "" {
		return fmt.Errorf("message content required")
	}

	client := Client(c)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := client.Post(ctx, "/api/messages", map[string]string{
		"room_id": roomID,
		"content": content,
	})
	if err != nil {
		return err
	}

	var msg messageResult
	if err := connection.ParseResponse(resp, &msg); err != nil {
		return err
	}

	flags := ParseGlobalFlags(c)
	if flags.Output == string(output.FormatJSON) {
		return (&output.JSONFormatter{}).Format(os.Stdout, msg)
	}
	fmt.Printf("sent %s to %s\n", msg.ID, msg.RoomID)
	return nil
}

// HistoryCommand returns the history command.
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Show a room's message history",
		ArgsUsage: "ROOM_ID",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Value:   50,
				Usage:   "Maximum messages to fetch",
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Messages to skip from the start",
			},
		},
		Action: historyAction,
	}
}

func historyAction(c *cli.Context) error {
	roomID := c.Args().First()
	if roomID == "" {
		return fmt.Errorf("room ID required")
	}

	client := Client(c)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	query := url.Values{}
	query.Set("room_id", roomID)
	if limit := c.Int("limit"); limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	if offset := c.Int("offset"); offset > 0 {
		query.Set("offset", fmt.Sprintf("%d", offset))
	}

	resp, err := client.Get(ctx, "/api/messages?"+query.Encode())
	if err != nil {
		return err
	}

	var msgs []messageResult
	if err := connection.ParseResponse(resp, &msgs); err != nil {
		return err
	}

	flags := ParseGlobalFlags(c)
	if flags.Output == string(output.FormatJSON) {
		return (&output.JSONFormatter{}).Format(os.Stdout, msgs)
	}

	table := &output.Table{
		Headers: []string{"TIME", "SENDER", "CONTENT"},
	}
	if flags.Wide {
		table.Headers = append(table.Headers, "ID", "CLOCK")
	}
	for _, msg := range msgs {
		row := []string{
			msg.createdAtTime().Format("2006-01-02 15:04:05"),
			msg.SenderID,
			msg.Content,
		}
		if flags.Wide {
			row = append(row, msg.ID, formatClock(msg.VectorClock))
		}
		table.Rows = append(table.Rows, row)
	}
	if err := table.Render(os.Stdout); err != nil {
		return err
	}
	fmt.Printf("\nTotal: %d messages\n", len(msgs))
	return nil
}

// formatClock renders a vector clock as "node:count node:count".
func formatClock(clock map[string]uint64) string {
	if len(clock) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(clock))
	for node, count := range clock {
		parts = append(parts, fmt.Sprintf("%s:%d", node, count))
	}
	return strings.Join(parts, " ")
}
