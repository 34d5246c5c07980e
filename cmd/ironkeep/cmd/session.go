package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jmcleod/ironkeep/client"
	"github.com/jmcleod/ironkeep/metrics"
)

// passwordEnv lets scripts supply the master password without a terminal.
const passwordEnv = "IRONKEEP_PASSWORD"

var email string

func addEmailFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	_ = cmd.MarkFlagRequired("email")
}

func readPassword(prompt string) (string, error) {
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("interactive input required (or set %s)", passwordEnv)
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("password read failed: %w", err)
	}
	return string(b), nil
}

func readNewPassword(prompt string) (string, error) {
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}
	p1, err := readPassword(prompt)
	if err != nil {
		return "", err
	}
	p2, err := readPassword("Confirm: ")
	if err != nil {
		return "", err
	}
	if p1 != p2 {
		return "", errors.New("passwords do not match")
	}
	return p1, nil
}

func openClient(recorder metrics.Recorder) (*client.Client, error) {
	opts := []client.Option{client.WithLogger(logger)}
	if recorder != nil {
		opts = append(opts, client.WithRecorder(recorder))
	}
	return client.New(cfg, opts...)
}

// login opens the local client and signs in with the --email flag.
func login(ctx context.Context, recorder metrics.Recorder) (*client.Client, error) {
	c, err := openClient(recorder)
	if err != nil {
		return nil, err
	}
	pw, err := readPassword("Master password: ")
	if err != nil {
		c.Close()
		return nil, err
	}
	if err := c.Login(ctx, email, pw); err != nil {
		c.Close()
		return nil, fmt.Errorf("login failed: %w", err)
	}
	return c, nil
}
