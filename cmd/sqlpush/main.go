// Package main provides the sqlpush command.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/root-talis/sqlpush/internal/cli"
	"github.com/root-talis/sqlpush/internal/config"
)

func main() {
	cfg, err := cli.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("Error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// failures past configuration are reported, not turned into an exit code
	if err := cli.Run(ctx, cfg, os.Stdout, os.Stderr); err != nil {
		log.Printf("sqlpush: %v", err)
	}
}
