// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 OpenStagecraft contributors

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/openstagecraft/gaffer/pkg/dmx"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info <uid>",
	Short: "Query DEVICE_INFO and SOFTWARE_VERSION_LABEL from a responder",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	uid, err := dmx.ParseUID(args[0])
	if err != nil {
		return err
	}

	port, connInfo, err := openPort()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer port.Close()

	fmt.Printf("%s %s\n\n", labelStyle.Render("Connection:"), connInfo)

	info, ack, err := port.GetDeviceInfo(uid, 0)
	if err != nil {
		return reportAckError("DEVICE_INFO", ack, err)
	}

	fmt.Printf("Device %s\n", uidStyle.Render(uid.String()))
	fmt.Printf("  RDM version:      %d.%d\n", info.RDMVersion>>8, info.RDMVersion&0xFF)
	fmt.Printf("  Model:            0x%04X\n", info.ModelID)
	fmt.Printf("  Category:         0x%04X\n", info.ProductCategory)
	fmt.Printf("  Software version: 0x%08X\n", info.SoftwareVersionID)
	fmt.Printf("  Footprint:        %d\n", info.Footprint)
	fmt.Printf("  Personality:      %d of %d\n", info.CurrentPersonality, info.PersonalityCount)
	fmt.Printf("  Start address:    %d\n", info.StartAddress)
	fmt.Printf("  Sub-devices:      %d\n", info.SubDeviceCount)
	fmt.Printf("  Sensors:          %d\n", info.SensorCount)

	label, ack, err := port.GetSoftwareVersionLabel(uid, 0)
	if err == nil && ack.Type == dmx.ResponseTypeAck {
		fmt.Printf("  Software label:   %q\n", label)
	}
	return nil
}

func reportAckError(what string, ack dmx.Ack, err error) error {
	var nack *dmx.NackError
	switch {
	case errors.As(err, &nack):
		return fmt.Errorf("%s nacked: %s", what, dmx.FormatNackReason(nack.Reason))
	case errors.Is(err, dmx.ErrTimeout):
		return fmt.Errorf("%s: no response", what)
	default:
		return fmt.Errorf("%s: %w (response %s)", what, err, dmx.FormatResponseType(ack.Type))
	}
}
