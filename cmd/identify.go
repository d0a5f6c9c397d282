// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 OpenStagecraft contributors

package cmd

import (
	"fmt"
	"os"

	"github.com/openstagecraft/gaffer/pkg/dmx"
	"github.com/spf13/cobra"
)

var identifyCmd = &cobra.Command{
	Use:   "identify <uid> on|off",
	Short: "Switch a responder's identify indication",
	Args:  cobra.ExactArgs(2),
	RunE:  runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)
}

func runIdentify(cmd *cobra.Command, args []string) error {
	uid, err := dmx.ParseUID(args[0])
	if err != nil {
		return err
	}
	var on bool
	switch args[1] {
	case "on":
		on = true
	case "off":
	default:
		return fmt.Errorf("identify state must be on or off, got %q", args[1])
	}

	port, _, err := openPort()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer port.Close()

	ack, err := port.SetIdentify(uid, on)
	if err != nil {
		return reportAckError("IDENTIFY_DEVICE", ack, err)
	}
	fmt.Println(okStyle.Render(fmt.Sprintf("%s identify %s", uid, args[1])))
	return nil
}
