// Package main provides the entry point for the presenced server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/activitydesk/presence/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (configPath string, showVersion bool) {
	flag.StringVar(&configPath, "config", "presenced.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return configPath, showVersion
}

func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func run() error {
	configPath, showVersion := parseFlags()

	if showVersion {
		fmt.Printf("presenced version %s\n", server.Version)
		return nil
	}

	srv, err := server.New(configPath)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer func() { _ = srv.Close() }()

	return srv.Run(setupSignalHandler())
}
