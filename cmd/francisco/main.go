// Copyright 2026 © The Francisco Authors
// SPDX-License-Identifier: Apache-2.0

// Command francisco runs the Francisco agent as an MCP server and offers
// commands to inspect and try it locally.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A missing .env is not an error.
	_ = godotenv.Load()

	if err := newApp(os.Stdout, os.Stderr, os.LookupEnv).execute(ctx, os.Args[1:]); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}
