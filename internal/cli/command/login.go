// Package command provides CLI command definitions for chatmesh-cli.
package command

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/chatmesh/chatmesh-go/internal/cli/connection"
)

// loginResult is the /api/login payload.
type loginResult struct {
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LoginCommand returns the login command.
func LoginCommand() *cli.Command {
	return &cli.Command{
		Name:      "login",
		Usage:     "Authenticate and obtain a session token",
		ArgsUsage: "USERNAME",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "password",
				Aliases: []string{"p"},
				Usage:   "Password (prompted when omitted)",
			},
		},
		Action: loginAction,
	}
}

func loginAction(c *cli.Context) error {
	username := c.Args().First()
	if username == "" {
		return fmt.Errorf("username required")
	}

	password := c.String("password")
	if password == "" {
		var err error
		password, err = promptPassword()
		if err != nil {
			return err
		}
	}

	client := Client(c)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := client.Post(ctx, "/api/login", map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return err
	}

	var result loginResult
	if err := connection.ParseResponse(resp, &result); err != nil {
		return err
	}

	fmt.Printf("Logged in as %s (user id %s)\n", result.User.Username, result.User.ID)
	fmt.Printf("Token expires at %s\n\n", result.ExpiresAt.Format(time.RFC3339))
	fmt.Printf("export CHATMESH_TOKEN=%s\n", result.Token)
	return nil
}

// promptPassword reads a password without echo on a terminal, falling
// back to a plain line read when stdin is a pipe.
func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
