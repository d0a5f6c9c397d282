// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 OpenStagecraft contributors

package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Logging
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "gaffer",
	Short: "DMX512/RDM bus controller",
	Long: `Gaffer - a CLI controller and analyzer for DMX512/RDM buses.

Provides commands for RDM device discovery and management, DMX frame
transmission, and passive bus monitoring.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 250000]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the GAFFER_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell
history.`,
	Version: "1.0.0",
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 250000, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable driver debug logging")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
