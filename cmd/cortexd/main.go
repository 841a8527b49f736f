// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command cortexd runs the Cortex system daemon: a host-local service
// exposing system health, alerting, and AI inference to local clients over
// a unix socket.
//
// # Usage
//
//	# Build
//	go build -o cortexd ./cmd/cortexd
//
//	# Run with the default config search paths
//	./cortexd
//
//	# Run with an explicit config file and socket
//	./cortexd --config /etc/cortex/daemon.conf --socket /run/cortex.sock
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cortexlinux/cortexd/services/daemon"
)

var opts daemon.Options

var rootCmd = &cobra.Command{
	Use:   "cortexd",
	Short: "Cortex system daemon",
	Long: "cortexd serves system health, alerts, and AI inference to local\n" +
		"clients over a unix socket. It is designed to run under a process\n" +
		"supervisor such as systemd, but runs standalone as well.",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New(opts)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return d.Run(ctx)
	},
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the daemon version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s %s\n", daemon.Name, daemon.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file path (default: /etc/cortex/daemon.conf, ~/.cortex/daemon.conf)")
	rootCmd.PersistentFlags().StringVar(&opts.SocketPath, "socket", "", "unix socket path override")
	rootCmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&opts.LogJSON, "json-log", false, "emit JSON logs on stderr")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("cortexd: %v", err)
	}
}
