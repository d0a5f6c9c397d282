// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 OpenStagecraft contributors

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/openstagecraft/gaffer/pkg/dmx"
	"github.com/spf13/cobra"
)

var (
	sniffDuration int
	sniffRDMOnly  bool
)

var sniffCmd = &cobra.Command{
	Use:   "sniff",
	Short: "Passively monitor bus traffic",
	Long: `Listen on the bus and print every received frame.

DMX frames are summarised by size and first slots; RDM frames are decoded
and printed in full. A statistics summary is printed on exit.`,
	RunE: runSniff,
}

func init() {
	rootCmd.AddCommand(sniffCmd)
	sniffCmd.Flags().IntVar(&sniffDuration, "duration", 0, "Seconds to monitor (0 = until interrupted)")
	sniffCmd.Flags().BoolVar(&sniffRDMOnly, "rdm-only", false, "Only print RDM frames")
}

func runSniff(cmd *cobra.Command, args []string) error {
	port, connInfo, err := openPort()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer port.Close()

	fmt.Println(headerStyle.Render("Gaffer - Bus Monitor"))
	fmt.Printf("%s %s\n", labelStyle.Render("Connection:"), connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	var stop <-chan time.Time
	if sniffDuration > 0 {
		stop = time.After(time.Duration(sniffDuration) * time.Second)
	}

	buf := make([]byte, dmx.MaxPacketSize)
	for {
		select {
		case <-interrupt:
			fmt.Println("\n" + port.Statistics().String())
			return nil
		case <-stop:
			fmt.Println("\n" + port.Statistics().String())
			return nil
		default:
		}

		pkt, err := port.Receive(time.Now().Add(time.Second))
		if err != nil {
			continue
		}
		n := port.Read(buf)
		printFrame(pkt, buf[:n])
	}
}

func printFrame(pkt dmx.Packet, data []byte) {
	ts := pkt.Timestamp.Format("15:04:05.000")

	if !pkt.IsRDM {
		if sniffRDMOnly {
			return
		}
		preview := data
		if len(preview) > 9 {
			preview = preview[:9]
		}
		fmt.Printf("[%s] DMX sc=0x%02X slots=%d data=% X...\n",
			ts, pkt.SC, pkt.Size-1, preview)
		return
	}

	h, _, err := dmx.DecodeFrame(data)
	if err != nil {
		fmt.Printf("[%s] %s\n", ts, errorStyle.Render(fmt.Sprintf("RDM frame rejected: %v", err)))
		return
	}
	fmt.Printf("[%s] %s", ts, dmx.FormatHeader(h))
}
