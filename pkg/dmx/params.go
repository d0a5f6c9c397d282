// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 OpenStagecraft contributors

package dmx

import (
	"fmt"

	"go.uber.org/zap"
)

// CommandClassMask selects which command classes a parameter accepts.
type CommandClassMask uint8

const (
	CCGet CommandClassMask = 1 << iota
	CCSet
)

// allows reports whether the mask permits the given request class.
func (m CommandClassMask) allows(cc CommandClass) bool {
	switch cc {
	case CCGetCommand:
		return m&CCGet != 0
	case CCSetCommand:
		return m&CCSet != 0
	}
	return false
}

// ParameterDescriptor describes a PID the responder implements: its wire
// size, presentation, permitted command classes and value range.
type ParameterDescriptor struct {
	PID          PID
	PDLSize      int
	DataType     DataType
	CC           CommandClassMask
	Unit         uint8
	Prefix       uint8
	MinValue     uint32
	MaxValue     uint32
	DefaultValue uint32
	Description  string
}

// DriverHandler produces the response for a request against one parameter.
// For a GET it fills pd and returns the response PDL; for a SET it applies
// pd to the slot's backing storage. Returning ok=false declines the
// request with the given NACK reason.
type DriverHandler func(p *Port, h *Header, pd []byte, slot *ParameterSlot) (pdl int, nack NackReason, ok bool)

// ResponderCallback is an optional user hook invoked after a request for
// the parameter has been handled.
type ResponderCallback func(p *Port, h *Header, context any)

// ParameterSlot is one entry in a port's parameter table.
type ParameterSlot struct {
	Desc        ParameterDescriptor
	Format      string
	Param       []byte
	Handler     DriverHandler
	Callback    ResponderCallback
	Context     any
	NonVolatile bool
}

// RegisterParameter adds a parameter to the port's table, or overwrites
// the descriptor and handlers of an already-registered PID. Registrations
// are insert-only for the lifetime of the port. Only the root device is
// supported; multi-sub-device responders are not.
func (p *Port) RegisterParameter(slot ParameterSlot) error {
	if slot.Handler == nil {
		return fmt.Errorf("%w: nil driver handler", ErrInvalidArgument)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.params {
		if p.params[i].Desc.PID == slot.Desc.PID {
			p.params[i] = slot
			return nil
		}
	}
	if len(p.params) >= p.cfg.MaxParameters {
		return fmt.Errorf("%w: parameter table full at %d entries", ErrCapacityExceeded, len(p.params))
	}
	p.params = append(p.params, slot)
	return nil
}

// findSlot returns the table entry for pid. Callers hold p.mu.
func (p *Port) findSlot(pid PID) *ParameterSlot {
	for i := range p.params {
		if p.params[i].Desc.PID == pid {
			return &p.params[i]
		}
	}
	return nil
}

// AllocParameterData carves size bytes from the port's parameter backing
// region. The region is sized by Config.PDBufferSize and never reclaimed.
func (p *Port) AllocParameterData(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: allocation of %d bytes", ErrInvalidArgument, size)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pdHead+size > len(p.pdRegion) {
		return nil, fmt.Errorf("%w: parameter region full", ErrCapacityExceeded)
	}
	buf := p.pdRegion[p.pdHead : p.pdHead+size : p.pdHead+size]
	p.pdHead += size
	return buf, nil
}

// GetParameter copies a parameter's current value into out and returns
// the copied length. ASCII parameters copy up to their measured string
// length; other types copy up to the descriptor's PDL size.
func (p *Port) GetParameter(pid PID, out []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot := p.findSlot(pid)
	if slot == nil || slot.Param == nil {
		return 0, ErrNotRegistered
	}

	n := len(out)
	if slot.Desc.DataType == DSASCII {
		n = strnlen(slot.Param, n)
	} else if n > slot.Desc.PDLSize {
		n = slot.Desc.PDLSize
	}
	copy(out, slot.Param[:min(n, len(slot.Param))])
	return n, nil
}

// SetParameter overwrites a parameter's value. With persist set the value
// is also written to the port's store; a store failure raises the port's
// boot-loader-required flag but does not undo the set.
func (p *Port) SetParameter(pid PID, in []byte, persist bool) error {
	p.mu.Lock()
	slot := p.findSlot(pid)
	if slot == nil || slot.Param == nil {
		p.mu.Unlock()
		return ErrNotRegistered
	}
	if !slot.Desc.CC.allows(CCSetCommand) {
		p.mu.Unlock()
		return fmt.Errorf("%w: PID 0x%04X is not settable", ErrInvalidArgument, uint16(pid))
	}

	n := len(in)
	if n > slot.Desc.PDLSize {
		n = slot.Desc.PDLSize
	}
	copy(slot.Param, in[:n])
	if slot.Desc.DataType == DSASCII && n < len(slot.Param) {
		slot.Param[n] = 0
	}
	ds := slot.Desc.DataType
	p.mu.Unlock()

	if persist && p.cfg.Store != nil {
		if err := p.cfg.Store.Store(p.cfg.Port, pid, ds, in[:n]); err != nil {
			p.mu.Lock()
			p.bootLoaderRequired = true
			p.mu.Unlock()
			p.log.Error("persistent store failed, flagging boot loader",
				zap.Uint16("pid", uint16(pid)), zap.Error(err))
		}
	}
	return nil
}

// BootLoaderRequired reports whether a persistence failure has flagged
// the port as needing a boot loader.
func (p *Port) BootLoaderRequired() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bootLoaderRequired
}
