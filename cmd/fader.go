// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 OpenStagecraft contributors

package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/openstagecraft/gaffer/pkg/dmx"
	"github.com/spf13/cobra"
)

var faderChannels int

var faderCmd = &cobra.Command{
	Use:   "fader",
	Short: "Interactive DMX console",
	Long: `A terminal DMX console with one fader per channel.

Keys:
  left/right   select channel
  up/down      nudge level by 1
  pgup/pgdn    nudge level by 16
  f            full (255)
  z            zero (0)
  :            set "channel value" from the prompt
  q            quit

Every change transmits a fresh DMX frame.`,
	RunE: runFader,
}

func init() {
	rootCmd.AddCommand(faderCmd)
	faderCmd.Flags().IntVar(&faderChannels, "channels", 16, "Number of channels to show (1-512)")
}

var (
	faderBarStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	faderSelectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	faderDimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

type faderModel struct {
	port     *dmx.Port
	levels   []byte
	cursor   int
	input    textinput.Model
	entering bool
	status   string
}

func newFaderModel(port *dmx.Port, channels int) faderModel {
	ti := textinput.New()
	ti.Placeholder = "channel value"
	ti.CharLimit = 9
	ti.Width = 16
	return faderModel{
		port:   port,
		levels: make([]byte, channels),
		input:  ti,
	}
}

func (m faderModel) Init() tea.Cmd {
	return nil
}

func (m faderModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	if m.entering {
		switch keyMsg.String() {
		case "enter":
			m.entering = false
			m.applyEntry(m.input.Value())
			m.input.Reset()
			return m, nil
		case "esc":
			m.entering = false
			m.input.Reset()
			return m, nil
		default:
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}
	}

	switch keyMsg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "left", "h":
		if m.cursor > 0 {
			m.cursor--
		}
	case "right", "l":
		if m.cursor < len(m.levels)-1 {
			m.cursor++
		}
	case "up", "k":
		m.nudge(1)
	case "down", "j":
		m.nudge(-1)
	case "pgup":
		m.nudge(16)
	case "pgdown":
		m.nudge(-16)
	case "f":
		m.setLevel(m.cursor, 255)
	case "z":
		m.setLevel(m.cursor, 0)
	case ":":
		m.entering = true
		m.input.Focus()
	}
	return m, nil
}

func (m *faderModel) nudge(delta int) {
	v := int(m.levels[m.cursor]) + delta
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	m.setLevel(m.cursor, byte(v))
}

func (m *faderModel) applyEntry(entry string) {
	fields := strings.Fields(entry)
	if len(fields) != 2 {
		m.status = "want: channel value"
		return
	}
	ch, err1 := strconv.Atoi(fields[0])
	v, err2 := strconv.Atoi(fields[1])
	if err1 != nil || err2 != nil || ch < 1 || ch > len(m.levels) || v < 0 || v > 255 {
		m.status = "want: channel 1-" + strconv.Itoa(len(m.levels)) + ", value 0-255"
		return
	}
	m.cursor = ch - 1
	m.setLevel(ch-1, byte(v))
}

func (m *faderModel) setLevel(ch int, v byte) {
	m.levels[ch] = v
	m.port.WriteSlot(ch+1, v)
	if err := m.port.Send(len(m.levels) + 1); err != nil {
		m.status = fmt.Sprintf("send failed: %v", err)
		return
	}
	m.port.WaitSent(time.Now().Add(time.Second))
	m.status = fmt.Sprintf("ch %d = %d", ch+1, v)
}

const faderHeight = 8

func (m faderModel) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Gaffer - DMX Console"))
	b.WriteString("\n\n")

	for row := faderHeight; row > 0; row-- {
		threshold := row * 256 / (faderHeight + 1)
		for ch := range m.levels {
			cell := "   "
			if int(m.levels[ch]) >= threshold {
				cell = " █ "
			}
			if ch == m.cursor {
				b.WriteString(faderSelectedStyle.Render(cell))
			} else {
				b.WriteString(faderBarStyle.Render(cell))
			}
		}
		b.WriteString("\n")
	}

	for ch := range m.levels {
		label := fmt.Sprintf("%3d", ch+1)
		if ch == m.cursor {
			b.WriteString(faderSelectedStyle.Render(label))
		} else {
			b.WriteString(faderDimStyle.Render(label))
		}
	}
	b.WriteString("\n")
	for ch := range m.levels {
		b.WriteString(fmt.Sprintf("%3d", m.levels[ch]))
	}
	b.WriteString("\n\n")

	if m.entering {
		b.WriteString(m.input.View())
	} else {
		b.WriteString(faderDimStyle.Render(m.status))
	}
	b.WriteString("\n")
	b.WriteString(faderDimStyle.Render("arrows adjust  f full  z zero  : enter  q quit"))
	b.WriteString("\n")
	return b.String()
}

func runFader(cmd *cobra.Command, args []string) error {
	if faderChannels < 1 || faderChannels > 512 {
		return fmt.Errorf("channels must be 1-512, got %d", faderChannels)
	}

	port, _, err := openPort()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer port.Close()

	program := tea.NewProgram(newFaderModel(port, faderChannels))
	_, err = program.Run()
	return err
}
