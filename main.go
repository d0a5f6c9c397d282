// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 OpenStagecraft contributors
//
// Gaffer - DMX512/RDM Bus Controller
//
// A CLI tool for driving DMX512 lighting buses and managing RDM
// responders over serial or WebSocket-bridged transports.

package main

import (
	"os"

	"github.com/openstagecraft/gaffer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
