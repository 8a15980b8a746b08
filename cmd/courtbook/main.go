// Package main provides courtbook, the command line front end for court
// reservations and club members stored as JSON files.
package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/calvinalkan/courtbook/internal/cli"
)

func main() {
	// A .env file in the working directory may carry COURTBOOK_* settings.
	// Variables already set in the environment win.
	_ = godotenv.Load()

	environ := os.Environ()
	env := make(map[string]string, len(environ))

	for _, e := range environ {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	exitCode := cli.Run(os.Stdin, os.Stdout, os.Stderr, os.Args, env, sigCh)

	os.Exit(exitCode)
}
