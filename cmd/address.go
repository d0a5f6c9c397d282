// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 OpenStagecraft contributors

package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/openstagecraft/gaffer/pkg/dmx"
	"github.com/spf13/cobra"
)

var addressCmd = &cobra.Command{
	Use:   "address <uid> <start-address>",
	Short: "Set a responder's DMX start address",
	Args:  cobra.ExactArgs(2),
	RunE:  runAddress,
}

func init() {
	rootCmd.AddCommand(addressCmd)
}

func runAddress(cmd *cobra.Command, args []string) error {
	uid, err := dmx.ParseUID(args[0])
	if err != nil {
		return err
	}
	addr, err := strconv.Atoi(args[1])
	if err != nil || addr < 1 || addr > 512 {
		return fmt.Errorf("start address must be 1-512, got %q", args[1])
	}

	port, _, err := openPort()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer port.Close()

	ack, err := port.SetDMXStartAddress(uid, uint16(addr))
	if err != nil {
		return reportAckError("DMX_START_ADDRESS", ack, err)
	}
	fmt.Println(okStyle.Render(fmt.Sprintf("%s start address set to %d", uid, addr)))
	return nil
}
