// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 OpenStagecraft contributors

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/openstagecraft/gaffer/pkg/dmx"
	"go.bug.st/serial"
	"go.uber.org/zap"
	"golang.org/x/term"
)

// SerialBus drives a DMX transceiver through a UART. The break is
// generated with the port's break control; break detection on receive is
// not available through the serial layer, so frame boundaries on the
// inbound side rely on the driver's inter-slot idle timeout.
type SerialBus struct {
	port serial.Port

	mu      sync.Mutex
	handler dmx.Handler
	closed  bool
}

// OpenSerialBus opens a UART in DMX framing: 250 kbit/s, 8 data bits, no
// parity, two stop bits unless overridden.
func OpenSerialBus(portName string, baudRate int) (*SerialBus, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.TwoStopBits,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %v", portName, err)
	}
	return &SerialBus{port: port}, nil
}

func (s *SerialBus) Notify(h dmx.Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
	go s.readPump()
}

func (s *SerialBus) readPump() {
	buf := make([]byte, 600)
	for {
		n, err := s.port.Read(buf)
		s.mu.Lock()
		h := s.handler
		closed := s.closed
		s.mu.Unlock()
		if closed || h == nil {
			return
		}
		if err != nil {
			h.FramingError(err)
			return
		}
		for i := 0; i < n; i++ {
			h.RxByte(buf[i])
		}
	}
}

func (s *SerialBus) Write(p []byte) error {
	if _, err := s.port.Write(p); err != nil {
		return err
	}
	if err := s.port.Drain(); err != nil {
		return err
	}
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h.TxDone()
	}
	return nil
}

func (s *SerialBus) SendBreak(d time.Duration) error {
	return s.port.Break(d)
}

func (s *SerialBus) SetDirection(d dmx.Direction) error {
	// RS-485 transceivers with automatic driver enable need no help.
	return nil
}

func (s *SerialBus) Flush() error {
	return s.port.ResetInputBuffer()
}

func (s *SerialBus) WaitIdle(deadline time.Time) error {
	return s.port.Drain()
}

func (s *SerialBus) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.port.Close()
}

// WebSocketBus tunnels DMX frames over a WebSocket bridge. Each binary
// message carries one frame; the message boundary stands in for the line
// break, so a Break event is delivered ahead of each inbound message.
type WebSocketBus struct {
	conn *websocket.Conn

	mu      sync.Mutex
	handler dmx.Handler
	closed  bool
}

// OpenWebSocketBus dials a DMX-over-WebSocket bridge with HTTP Basic auth.
func OpenWebSocketBus(wsURL, username, password string, skipSSLVerify bool) (*WebSocketBus, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %v", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %v", err)
	}
	return &WebSocketBus{conn: conn}, nil
}

func (w *WebSocketBus) Notify(h dmx.Handler) {
	w.mu.Lock()
	w.handler = h
	w.mu.Unlock()
	go w.readPump()
}

func (w *WebSocketBus) readPump() {
	for {
		messageType, data, err := w.conn.ReadMessage()
		w.mu.Lock()
		h := w.handler
		closed := w.closed
		w.mu.Unlock()
		if closed || h == nil {
			return
		}
		if err != nil {
			h.FramingError(err)
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		h.Break()
		for _, b := range data {
			h.RxByte(b)
		}
	}
}

func (w *WebSocketBus) Write(p []byte) error {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return err
	}
	w.mu.Lock()
	h := w.handler
	w.mu.Unlock()
	if h != nil {
		h.TxDone()
	}
	return nil
}

func (w *WebSocketBus) SendBreak(d time.Duration) error {
	// The message boundary carries the break for bridged transports.
	return nil
}

func (w *WebSocketBus) SetDirection(d dmx.Direction) error { return nil }

func (w *WebSocketBus) Flush() error { return nil }

func (w *WebSocketBus) WaitIdle(deadline time.Time) error { return nil }

func (w *WebSocketBus) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return w.conn.Close()
}

// GetPassword retrieves the WebSocket password from the environment or
// prompts for it.
func GetPassword() (string, error) {
	if pw := os.Getenv("GAFFER_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenBus opens either a serial or WebSocket bus based on the root flags.
func OpenBus() (dmx.Bus, string, error) {
	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		bus, err := OpenWebSocketBus(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return bus, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName != "" {
		bus, err := OpenSerialBus(portName, baudRate)
		if err != nil {
			return nil, "", err
		}
		return bus, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", fmt.Errorf("either --port or --url must be specified")
}

// openPort opens the bus and attaches a controller-side driver port.
func openPort() (*dmx.Port, string, error) {
	bus, info, err := OpenBus()
	if err != nil {
		return nil, "", err
	}

	cfg := dmx.DefaultConfig()
	cfg.EnableResponder = false
	cfg.Store = dmx.NewMemoryStore("")
	cfg.DebugDiscovery = discoverDebug
	if verbose {
		if logger, lerr := zap.NewDevelopment(); lerr == nil {
			cfg.Logger = logger
		}
	}

	port, err := dmx.Open(bus, cfg)
	if err != nil {
		bus.Close()
		return nil, "", err
	}
	return port, info, nil
}
