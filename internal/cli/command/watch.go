// Package command provides CLI command definitions for chatmesh-cli.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v2"

	"github.com/chatmesh/chatmesh-go/internal/cli/output"
)

// WatchCommand returns the watch command.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Stream a room's messages live until interrupted",
		ArgsUsage: "ROOM_ID",
		Action:    watchAction,
	}
}

func watchAction(c *cli.Context) error {
	roomID := c.Args().First()
	if roomID == "" {
		return fmt.Errorf("room ID required")
	}

	flags := ParseGlobalFlags(c)
	wsURL, err := watchURL(flags.Server, roomID, flags.Token)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("connect to %s: %w (status %d)", wsURL, err, resp.StatusCode)
		}
		return fmt.Errorf("connect to %s: %w", wsURL, err)
	}
	defer conn.Close()

	fmt.Fprintf(os.Stderr, "watching room %s, Ctrl+C to stop\n", roomID)

	// Close the socket when the context is cancelled so the read loop
	// unblocks.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	jsonOut := flags.Output == string(output.FormatJSON)
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connection closed: %w", err)
		}

		if jsonOut {
			os.Stdout.Write(payload)
			os.Stdout.Write([]byte("\n"))
			continue
		}

		var msg messageResult
		if err := json.Unmarshal(payload, &msg); err != nil {
			// Not a message frame; show it raw.
			fmt.Printf("%s\n", payload)
			continue
		}
		fmt.Printf("[%s] %s: %s\n",
			msg.createdAtTime().Format("15:04:05"), msg.SenderID, msg.Content)
	}
}

// watchURL builds the WebSocket URL for a room. The token travels as a
// query parameter, the browser WebSocket API cannot set headers and
// the server accepts both.
func watchURL(server, roomID, token string) (string, error) {
	base := server
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server address: %w", err)
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/" + url.PathEscape(roomID)

	if token != "" {
		q := u.Query()
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}
