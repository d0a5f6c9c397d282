// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 OpenStagecraft contributors

package dmx

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// The line state machine sequences break, mark-after-break and slot
// traffic. Transmit is timer-driven: Send arms the break, the break timer
// expiry arms the mark-after-break, the MAB expiry hands the slots to the
// bus, and the bus's TxDone event terminates the frame. Receive is
// event-driven: bytes accumulate until an inter-slot idle gap, a break, a
// full buffer, or a complete RDM frame.
//
// RX events are ignored while transmitting and TX events while receiving;
// a break during reception terminates the current frame and begins the
// next one.

// lineEvents adapts the port to the Bus Handler interface.
type lineEvents struct {
	p *Port
}

func (e *lineEvents) RxByte(b byte) { e.p.onRxByte(b) }
func (e *lineEvents) TxDone() { e.p.onTxDone() }
func (e *lineEvents) Break() { e.p.onBreak() }
func (e *lineEvents) FramingError(err error) { e.p.onFramingError(err) }

// Send transmits size bytes of the port's frame buffer, preceded by a
// break and mark-after-break. Zero sends the whole buffered frame. Send
// returns once the transmission is armed; WaitSent blocks until it has
// drained.
func (p *Port) Send(size int) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if size <= 0 || size > p.size {
		size = p.size
	}
	if err := p.startTxLocked(size, true, false); err != nil {
		p.mu.Unlock()
		return err
	}
	p.slots = [8]uint64{}
	p.mu.Unlock()
	return nil
}

// startTxLocked arms a transmission. Callers hold p.mu.
func (p *Port) startTxLocked(size int, withBreak, expectResponse bool) error {
	switch p.state {
	case stateIdle, stateTxDone, stateRxDone, stateError:
	case stateRxWait, stateRxSlots:
		if p.rxWaiter != nil {
			return ErrBusy
		}
		p.rxTimer.Cancel()
	default:
		return ErrBusy
	}

	p.txSize = size
	p.responseExpected = expectResponse
	p.sending = true
	p.sentCh = make(chan struct{})
	p.stats.FramesSent++

	if withBreak {
		p.state = stateTxBreak
		breakLen := p.cfg.BreakLen
		go func() {
			p.bus.SetDirection(DirectionTx)
			p.bus.SendBreak(breakLen)
		}()
		p.breakTimer.ArmOneShot(breakLen, p.onBreakTimer)
		return nil
	}

	// Discovery responses go out without a break or mark-after-break.
	p.state = stateTxSlots
	buf := append([]byte(nil), p.frame[:size]...)
	go func() {
		p.bus.SetDirection(DirectionTx)
		p.writeSlots(buf)
	}()
	return nil
}

func (p *Port) onBreakTimer() {
	p.mu.Lock()
	if p.state != stateTxBreak {
		p.mu.Unlock()
		return
	}
	p.state = stateTxMAB
	p.mu.Unlock()
	p.breakTimer.ArmOneShot(p.cfg.MABLen, p.onMABTimer)
}

func (p *Port) onMABTimer() {
	p.mu.Lock()
	if p.state != stateTxMAB {
		p.mu.Unlock()
		return
	}
	p.state = stateTxSlots
	buf := append([]byte(nil), p.frame[:p.txSize]...)
	p.mu.Unlock()
	go p.writeSlots(buf)
}

func (p *Port) writeSlots(buf []byte) {
	if err := p.bus.Write(buf); err != nil {
		p.mu.Lock()
		p.state = stateError
		p.finishTxLocked()
		if p.rxWaiter != nil {
			ch := p.rxWaiter
			p.rxWaiter = nil
			ch <- Packet{Err: fmt.Errorf("%w: %v", ErrBusError, err)}
		}
		p.mu.Unlock()
		p.log.Warn("slot write failed", zap.Error(err))
	}
}

// finishTxLocked releases WaitSent waiters. Callers hold p.mu.
func (p *Port) finishTxLocked() {
	if p.sending {
		p.sending = false
		close(p.sentCh)
	}
}

func (p *Port) onTxDone() {
	p.mu.Lock()
	if p.state != stateTxSlots {
		p.mu.Unlock()
		return
	}
	p.state = stateTxDone
	p.finishTxLocked()

	if p.responseExpected {
		p.state = stateRxWait
		p.size = 0
		p.sawBreak = false
		p.rxErr = nil
		timeout := p.cfg.ResponseTimeout
		p.mu.Unlock()
		p.bus.SetDirection(DirectionRx)
		p.rxTimer.ArmOneShot(timeout, p.onResponseTimeout)
		return
	}
	p.state = stateIdle
	p.mu.Unlock()
	p.bus.SetDirection(DirectionRx)
}

// WaitSent blocks until the in-flight transmission has drained onto the
// line, or the deadline passes.
func (p *Port) WaitSent(deadline time.Time) error {
	p.mu.Lock()
	if !p.sending {
		p.mu.Unlock()
		return nil
	}
	ch := p.sentCh
	p.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-time.After(time.Until(deadline)):
		return fmt.Errorf("%w: waiting for transmit drain", ErrTimeout)
	}
}

// Receive blocks until a frame completes or the deadline passes. The
// frame's bytes stay in the port buffer for Read.
func (p *Port) Receive(deadline time.Time) (Packet, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Packet{}, ErrClosed
	}
	if p.rxWaiter != nil {
		p.mu.Unlock()
		return Packet{}, ErrBusy
	}
	ch := make(chan Packet, 1)
	p.rxWaiter = ch
	switch p.state {
	case stateIdle, stateTxDone, stateRxDone, stateError:
		p.state = stateRxWait
		p.size = 0
		p.sawBreak = false
		p.rxErr = nil
	}
	p.mu.Unlock()

	select {
	case pkt := <-ch:
		if pkt.Err != nil {
			return pkt, pkt.Err
		}
		return pkt, nil
	case <-time.After(time.Until(deadline)):
		p.mu.Lock()
		if p.rxWaiter == ch {
			p.rxWaiter = nil
			p.stats.Timeouts++
		}
		p.mu.Unlock()
		// A completion may have raced the deadline.
		select {
		case pkt := <-ch:
			if pkt.Err != nil {
				return pkt, pkt.Err
			}
			return pkt, nil
		default:
		}
		return Packet{}, ErrTimeout
	}
}

func (p *Port) onRxByte(b byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateTxBreak, stateTxMAB, stateTxSlots, stateTxDone, stateError:
		return
	case stateIdle, stateRxDone:
		// A responder listens even when nobody is waiting.
		p.state = stateRxSlots
		p.size = 0
		p.rxErr = nil
	case stateRxWait:
		p.state = stateRxSlots
		p.size = 0
	}

	if p.size >= MaxPacketSize {
		p.finishRxLocked(p.rxErr)
		return
	}
	p.frame[p.size] = b
	p.size++

	if p.rxFrameCompleteLocked() {
		p.finishRxLocked(p.rxErr)
		return
	}
	if p.size >= MaxPacketSize {
		p.finishRxLocked(p.rxErr)
		return
	}
	p.rxTimer.ArmOneShot(p.cfg.InterSlotTimeout, p.onRxIdle)
}

// rxFrameCompleteLocked recognises fully-received RDM frames so that the
// turnaround does not have to wait out the idle gap. Plain DMX frames are
// terminated by a break, idle, or a full buffer.
func (p *Port) rxFrameCompleteLocked() bool {
	switch p.frame[0] {
	case SCRDM:
		return p.size >= 3 && p.size == int(p.frame[2])+2
	case SCPreamble, SCDelimiter:
		pre := 0
		for pre < p.size && pre < discPreambleMaxSize && p.frame[pre] == SCPreamble {
			pre++
		}
		return pre < p.size && p.frame[pre] == SCDelimiter && p.size == pre+17
	}
	return false
}

func (p *Port) onBreak() {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateTxBreak, stateTxMAB, stateTxSlots, stateTxDone, stateError:
		return
	case stateRxSlots:
		if p.size > 0 {
			p.finishRxLocked(p.rxErr)
		}
		p.state = stateRxSlots
		p.size = 0
		p.sawBreak = true
		p.rxErr = nil
	case stateRxWait, stateIdle, stateRxDone:
		p.state = stateRxSlots
		p.size = 0
		p.sawBreak = true
		p.rxErr = nil
	}
}

func (p *Port) onFramingError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.FramingErrors++

	switch p.state {
	case stateRxWait, stateRxSlots:
		// Keep collecting; a framing error with data is how collisions
		// present during discovery. The error rides along with the frame.
		p.rxErr = fmt.Errorf("%w: %v", ErrBusError, err)
		p.rxTimer.ArmOneShot(p.cfg.InterSlotTimeout, p.onRxIdle)
	default:
		p.log.Warn("framing error outside reception",
			zap.Int("state", p.state), zap.Error(err))
	}
}

func (p *Port) onRxIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == stateRxSlots {
		p.finishRxLocked(p.rxErr)
	}
}

func (p *Port) onResponseTimeout() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == stateRxWait && p.size == 0 {
		p.finishRxLocked(ErrTimeout)
	}
}

// finishRxLocked terminates the current frame and hands it to the waiting
// receiver, or to the responder engine when nobody waits. Callers hold
// p.mu.
func (p *Port) finishRxLocked(err error) {
	p.rxTimer.Cancel()
	pkt := Packet{
		Size:      p.size,
		Err:       err,
		Timestamp: time.Now(),
	}
	if p.size > 0 {
		pkt.SC = p.frame[0]
		pkt.IsRDM = pkt.SC == SCRDM || pkt.SC == SCPreamble || pkt.SC == SCDelimiter
	}
	p.state = stateRxDone

	if err == nil && p.size > 0 {
		p.stats.FramesReceived++
	} else if errors.Is(err, ErrTimeout) {
		p.stats.Timeouts++
	}

	if p.rxWaiter != nil {
		ch := p.rxWaiter
		p.rxWaiter = nil
		ch <- pkt
		return
	}

	if pkt.IsRDM && pkt.Err == nil && p.cfg.EnableResponder && !p.closed {
		data := append([]byte(nil), p.frame[:p.size]...)
		go p.respond(data)
	}
}
