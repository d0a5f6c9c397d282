// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 OpenStagecraft contributors

package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/openstagecraft/gaffer/pkg/dmx"
	"github.com/spf13/cobra"
)

var discoverDebug bool

var (
	uidStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover RDM responders on the bus",
	Long: `Enumerate RDM responders with binary-tree discovery.

All responders are un-muted, then the 48-bit UID space is searched branch
by branch: silent branches are dropped, clean responses are muted and
recorded, and collisions are bisected.

Exit codes:
  0 - Discovery successful (zero or more devices found)
  1 - Discovery failed
  2 - Connection error`,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().BoolVar(&discoverDebug, "debug-discovery", false,
		"Always bisect; skip the single-device fast path")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	port, connInfo, err := openPort()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer port.Close()

	fmt.Println(headerStyle.Render("Gaffer - RDM Discovery"))
	fmt.Printf("%s %s\n", labelStyle.Render("Connection:"), connInfo)
	fmt.Printf("%s %s\n\n", labelStyle.Render("Controller:"), port.UID())

	found, err := port.DiscoverWithCallback(func(uid dmx.UID, index int, mute dmx.DiscMuteParams) {
		flags := ""
		if mute.BootLoader {
			flags += " [boot-loader]"
		}
		if mute.ManagedProxy {
			flags += " [proxy]"
		}
		if !mute.BindingUID.IsNull() {
			flags += fmt.Sprintf(" binding=%s", mute.BindingUID)
		}
		fmt.Printf("  %2d  %s%s\n", index+1, uidStyle.Render(uid.String()), flags)
	})
	if err != nil {
		fmt.Println(errorStyle.Render(fmt.Sprintf("Discovery failed: %v", err)))
		os.Exit(1)
	}

	fmt.Printf("\n%s\n", okStyle.Render(fmt.Sprintf("%d device(s) found", found)))
	return nil
}
