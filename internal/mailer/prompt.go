package mailer

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/term"
)

// TerminalPrompt reads a password from the controlling terminal without echo.
func TerminalPrompt(_ context.Context, address string) (string, error) {
	fmt.Fprintf(os.Stderr, "\nEnter Password for %s\n> ", address)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(password), nil
}
