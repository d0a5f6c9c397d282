// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 OpenStagecraft contributors

package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	sendRepeat   int
	sendInterval int
)

var sendCmd = &cobra.Command{
	Use:   "send <slot=value>...",
	Short: "Transmit a DMX frame",
	Long: `Write slot values and transmit a DMX frame.

Slots are given as slot=value pairs with slots 1-512 and values 0-255,
for example: gaffer send 1=255 2=128 10=0

With --repeat the frame is retransmitted at the given interval, which
keeps fixtures that require continuous DMX refreshed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().IntVar(&sendRepeat, "repeat", 1, "Number of frames to send (0 = forever)")
	sendCmd.Flags().IntVar(&sendInterval, "interval", 25, "Milliseconds between frames")
}

func runSend(cmd *cobra.Command, args []string) error {
	port, connInfo, err := openPort()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer port.Close()

	maxSlot := 0
	for _, arg := range args {
		parts := strings.SplitN(arg, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("bad slot assignment %q (want slot=value)", arg)
		}
		slot, err := strconv.Atoi(parts[0])
		if err != nil || slot < 1 || slot > 512 {
			return fmt.Errorf("bad slot %q (want 1-512)", parts[0])
		}
		value, err := strconv.Atoi(parts[1])
		if err != nil || value < 0 || value > 255 {
			return fmt.Errorf("bad value %q (want 0-255)", parts[1])
		}
		if err := port.WriteSlot(slot, byte(value)); err != nil {
			return err
		}
		if slot > maxSlot {
			maxSlot = slot
		}
	}

	fmt.Printf("%s %s\n", labelStyle.Render("Connection:"), connInfo)
	fmt.Printf("Sending %d slot(s)\n", maxSlot)

	for i := 0; sendRepeat == 0 || i < sendRepeat; i++ {
		if err := port.Send(maxSlot + 1); err != nil {
			return err
		}
		if err := port.WaitSent(time.Now().Add(time.Second)); err != nil {
			return err
		}
		if sendRepeat != 1 {
			time.Sleep(time.Duration(sendInterval) * time.Millisecond)
		}
	}
	return nil
}
