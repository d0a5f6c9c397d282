// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 OpenStagecraft contributors

package dmx

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestSendFrame(t *testing.T) {
	bus := newScriptedBus(nil)
	port, err := Open(bus, testConfig(0))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer port.Close()

	frame := []byte{SCDMX, 0xFF, 0x80, 0x00, 0x40}
	port.Write(frame)
	if err := port.Send(len(frame)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := port.WaitSent(time.Now().Add(time.Second)); err != nil {
		t.Fatalf("WaitSent: %v", err)
	}

	sent := bus.sentFrames()
	if len(sent) != 1 || !bytes.Equal(sent[0], frame) {
		t.Fatalf("bus saw %d frames: % X", len(sent), sent)
	}
	if bus.breakCount() != 1 {
		t.Errorf("break count %d, want 1", bus.breakCount())
	}
	if got := port.Statistics().FramesSent; got != 1 {
		t.Errorf("FramesSent %d, want 1", got)
	}
}

func TestSendWholeBufferedFrame(t *testing.T) {
	bus := newScriptedBus(nil)
	port, err := Open(bus, testConfig(0))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer port.Close()

	port.WriteSlot(1, 0xAA)
	port.WriteSlot(8, 0x55)
	if err := port.Send(0); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := port.WaitSent(time.Now().Add(time.Second)); err != nil {
		t.Fatalf("WaitSent: %v", err)
	}

	sent := bus.sentFrames()
	if len(sent) != 1 || len(sent[0]) != 9 {
		t.Fatalf("bus saw % X", sent)
	}
	if sent[0][1] != 0xAA || sent[0][8] != 0x55 {
		t.Errorf("slots wrong: % X", sent[0])
	}
}

func TestReceiveFrame(t *testing.T) {
	bus := newScriptedBus(nil)
	port, err := Open(bus, testConfig(0))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer port.Close()

	frame := []byte{SCDMX, 0x01, 0x02, 0x03}
	go func() {
		time.Sleep(2 * time.Millisecond)
		bus.inject(busReply{withBreak: true, data: frame})
	}()

	pkt, err := port.Receive(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if pkt.Size != len(frame) || pkt.SC != SCDMX || pkt.IsRDM {
		t.Errorf("packet %+v", pkt)
	}

	buf := make([]byte, MaxPacketSize)
	n := port.Read(buf)
	if !bytes.Equal(buf[:n], frame) {
		t.Errorf("buffer % X, want % X", buf[:n], frame)
	}
}

func TestReceiveTimeout(t *testing.T) {
	bus := newScriptedBus(nil)
	port, err := Open(bus, testConfig(0))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer port.Close()

	if _, err := port.Receive(time.Now().Add(20 * time.Millisecond)); !errors.Is(err, ErrTimeout) {
		t.Errorf("got %v, want ErrTimeout", err)
	}
}

func TestBreakTerminatesFrame(t *testing.T) {
	bus := newScriptedBus(nil)
	port, err := Open(bus, testConfig(0))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer port.Close()

	go func() {
		time.Sleep(2 * time.Millisecond)
		// A break mid-stream finishes the first frame immediately; the
		// second frame is left to the idle timeout.
		bus.inject(
			busReply{withBreak: true, data: []byte{SCDMX, 0x01, 0x02}},
			busReply{withBreak: true, data: []byte{SCDMX, 0xAA}},
		)
	}()

	pkt, err := port.Receive(time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if pkt.Size != 3 {
		t.Errorf("first frame size %d, want 3", pkt.Size)
	}
}

func TestReceiveRDMFrameCompletesWithoutIdle(t *testing.T) {
	bus := newScriptedBus(nil)
	cfg := testConfig(0)
	cfg.InterSlotTimeout = time.Second // force completion via frame length
	port, err := Open(bus, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer port.Close()

	var frame [64]byte
	h := &Header{DestUID: UID{1, 2}, SrcUID: UID{3, 4}, CC: CCGetCommand, PID: PIDDeviceInfo}
	n, _ := EncodeFrame(frame[:], h, nil)

	go func() {
		time.Sleep(2 * time.Millisecond)
		bus.inject(busReply{withBreak: true, data: frame[:n]})
	}()

	start := time.Now()
	pkt, err := port.Receive(time.Now().Add(5 * time.Second))
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if !pkt.IsRDM || pkt.Size != n {
		t.Errorf("packet %+v, want RDM size %d", pkt, n)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("RDM frame should complete on length, not idle timeout")
	}
}

func TestFramingErrorRidesWithFrame(t *testing.T) {
	bus := newScriptedBus(nil)
	port, err := Open(bus, testConfig(0))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer port.Close()

	go func() {
		time.Sleep(2 * time.Millisecond)
		bus.inject(busReply{withBreak: true, garble: true, data: []byte{SCDMX, 0x01, 0x02}})
	}()

	pkt, err := port.Receive(time.Now().Add(time.Second))
	if !errors.Is(err, ErrBusError) {
		t.Fatalf("got %v, want ErrBusError", err)
	}
	if pkt.Size != 3 {
		t.Errorf("garbled frame size %d, want 3", pkt.Size)
	}
	if got := port.Statistics().FramingErrors; got != 1 {
		t.Errorf("FramingErrors %d, want 1", got)
	}
}

func TestSlotBookkeeping(t *testing.T) {
	bus := newScriptedBus(nil)
	port, err := Open(bus, testConfig(0))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer port.Close()

	if port.SlotWritten(1) {
		t.Error("slot 1 should start unwritten")
	}
	port.WriteSlot(1, 0x10)
	port.WriteSlot(512, 0x20)
	if !port.SlotWritten(1) || !port.SlotWritten(512) {
		t.Error("written slots not tracked")
	}
	if port.SlotWritten(2) {
		t.Error("slot 2 should be unwritten")
	}
	if got := port.ReadSlot(512); got != 0x20 {
		t.Errorf("slot 512 = %d", got)
	}

	port.ClearSlotSet()
	if port.SlotWritten(1) {
		t.Error("ClearSlotSet should forget slot 1")
	}

	if err := port.WriteSlot(513, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("got %v, want ErrInvalidArgument", err)
	}
}
