package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	verrors "github.com/systmms/vault-inject/internal/errors"
)

// Prompts go to stderr so stdout stays clean for the command's output.

func promptLine(prompt string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", noTerminalError()
	}
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func promptSecret(prompt string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", noTerminalError()
	}
	fmt.Fprint(os.Stderr, prompt)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return string(secret), nil
}

func noTerminalError() error {
	return verrors.UserError{
		Message:    "Missing credentials and no terminal to prompt on",
		Suggestion: "Pass --username/--password/--token or set the VAULT_INJECT_* environment variables",
	}
}
