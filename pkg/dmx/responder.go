// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 OpenStagecraft contributors

package dmx

import (
	"time"

	"go.uber.org/zap"
)

// The responder engine answers inbound RDM requests addressed to this
// port: discovery traffic is handled structurally, everything else is
// dispatched through the parameter table. Broadcast requests other than
// DISC_UNIQUE_BRANCH are acted upon but never answered.

// respond handles one fully-received inbound RDM frame. It runs on its
// own goroutine, off the line machine's event path.
func (p *Port) respond(data []byte) {
	h, pd, err := DecodeFrame(data)
	if err != nil {
		p.log.Debug("ignoring undecodable inbound frame", zap.Error(err))
		return
	}
	if !h.CC.IsRequest() {
		return
	}

	p.mu.Lock()
	uid := p.uid
	muted := p.muted
	p.mu.Unlock()
	if !uid.IsTargeted(h.DestUID) {
		return
	}

	if h.CC == CCDiscCommand {
		switch h.PID {
		case PIDDiscUniqueBranch:
			if muted || len(pd) < 12 {
				return
			}
			lo := getUID(pd[0:6])
			hi := getUID(pd[6:12])
			if !uid.Less(lo) && !hi.Less(uid) {
				p.sendDiscResponse(uid)
			}
			return
		case PIDDiscMute, PIDDiscUnMute:
			p.handleMute(h)
			return
		}
	}

	p.dispatchParameter(h, pd)
}

// handleMute applies DISC_MUTE / DISC_UN_MUTE and replies with the
// control field and, on multi-port devices, the binding UID.
func (p *Port) handleMute(h *Header) {
	p.mu.Lock()
	p.muted = h.PID == PIDDiscMute
	bootLoader := p.bootLoaderRequired
	p.mu.Unlock()

	if h.DestUID.IsBroadcast() {
		return
	}

	var control uint16
	if bootLoader {
		control |= 0x0004
	}
	pd := make([]byte, 2, 8)
	pd[0] = byte(control >> 8)
	pd[1] = byte(control)
	if binding := p.BindingUID(); binding != p.uid {
		var b [6]byte
		putUID(b[:], binding)
		pd = append(pd, b[:]...)
	}
	p.sendResponse(h, ResponseTypeAck, pd)
}

// dispatchParameter resolves a GET or SET through the parameter table.
func (p *Port) dispatchParameter(h *Header, pd []byte) {
	broadcast := h.DestUID.IsBroadcast()

	p.mu.Lock()
	slot := p.findSlot(h.PID)
	p.mu.Unlock()

	switch {
	case slot == nil:
		p.log.Debug("request for unregistered PID",
			zap.Uint16("pid", uint16(h.PID)))
		if !broadcast {
			p.sendNack(h, NRUnknownPid)
		}
		return
	case !slot.Desc.CC.allows(h.CC):
		if !broadcast {
			p.sendNack(h, NRUnsupportedCommandClass)
		}
		return
	case h.SubDevice != SubDeviceRoot && h.SubDevice != SubDeviceAll:
		// Multi-sub-device responders are not supported.
		if !broadcast {
			p.sendNack(h, NRSubDeviceOutOfRange)
		}
		return
	}

	// The request's parameter data is handed to the driver handler in a
	// buffer it overwrites with the response data.
	var buf [MaxParameterData]byte
	copy(buf[:], pd)
	pdl, nack, ok := slot.Handler(p, h, buf[:], slot)
	if !ok {
		if !broadcast {
			p.sendNack(h, nack)
		}
		return
	}
	if slot.Callback != nil {
		slot.Callback(p, h, slot.Context)
	}
	if !broadcast {
		p.sendResponse(h, ResponseTypeAck, buf[:pdl])
	}
}

// sendNack replies NACK_REASON with the given code.
func (p *Port) sendNack(h *Header, reason NackReason) {
	var pd [2]byte
	EmplaceWord(pd[:], uint16(reason))
	p.sendResponse(h, ResponseTypeNackReason, pd[:])
}

// sendResponse emits a standard RDM response frame for the request h.
// The reply is serialised against controller transactions so that it
// reaches the line before any new request can claim the port.
func (p *Port) sendResponse(req *Header, rt ResponseType, pd []byte) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	h := &Header{
		DestUID:      req.SrcUID,
		SrcUID:       p.uid,
		TN:           req.TN,
		ResponseType: rt,
		SubDevice:    req.SubDevice,
		CC:           req.CC + 1,
		PID:          req.PID,
	}

	p.mu.Lock()
	size, err := p.writeRDM(h, pd)
	if err == nil {
		err = p.startTxLocked(size, true, false)
	}
	if err == nil {
		p.stats.RDMResponses++
	}
	p.mu.Unlock()
	if err != nil {
		p.log.Warn("responder reply not sent", zap.Error(err))
		return
	}
	p.WaitSent(time.Now().Add(broadcastSettleTime))
}

// sendDiscResponse emits the break-less discovery response.
func (p *Port) sendDiscResponse(uid UID) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	p.mu.Lock()
	size := EncodeDiscResponse(p.frame[:], uid)
	p.size = size
	err := p.startTxLocked(size, false, false)
	p.mu.Unlock()
	if err != nil {
		p.log.Warn("discovery response not sent", zap.Error(err))
		return
	}
	p.WaitSent(time.Now().Add(broadcastSettleTime))
}

// Muted reports the responder's discovery mute flag.
func (p *Port) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// registerDefaultParameters installs the parameters every responder
// serves: DEVICE_INFO, SOFTWARE_VERSION_LABEL, DMX_START_ADDRESS,
// IDENTIFY_DEVICE and SUPPORTED_PARAMETERS. Discovery PIDs are handled
// ahead of the table and need no slots.
func (p *Port) registerDefaultParameters() error {
	label, err := p.AllocParameterData(33)
	if err != nil {
		return err
	}
	n := copy(label, p.cfg.SoftwareVersionLabel)
	if n < len(label) {
		label[n] = 0
	}

	identify, err := p.AllocParameterData(1)
	if err != nil {
		return err
	}

	regs := []ParameterSlot{
		{
			Desc: ParameterDescriptor{
				PID:      PIDDeviceInfo,
				PDLSize:  deviceInfoPDL,
				DataType: DSBitField,
				CC:       CCGet,
			},
			Format:  "#0100hwwdwbbwwb$",
			Handler: deviceInfoHandler,
		},
		{
			Desc: ParameterDescriptor{
				PID:      PIDSoftwareVersionLabel,
				PDLSize:  32,
				DataType: DSASCII,
				CC:       CCGet,
			},
			Format:  "a$",
			Param:   label,
			Handler: emplaceHandler,
		},
		{
			Desc: ParameterDescriptor{
				PID:      PIDDMXStartAddress,
				PDLSize:  2,
				DataType: DSUnsignedWord,
				CC:       CCGet | CCSet,
				MinValue: 1,
				MaxValue: 512,
			},
			Format:      "w$",
			Handler:     startAddressHandler,
			NonVolatile: true,
		},
		{
			Desc: ParameterDescriptor{
				PID:      PIDIdentifyDevice,
				PDLSize:  1,
				DataType: DSUnsignedByte,
				CC:       CCGet | CCSet,
				MaxValue: 1,
			},
			Format:  "b$",
			Param:   identify,
			Handler: identifyHandler,
		},
		{
			Desc: ParameterDescriptor{
				PID:      PIDSupportedParameters,
				PDLSize:  MaxParameterData,
				DataType: DSUnsignedWord,
				CC:       CCGet,
			},
			Format:  "w",
			Handler: supportedParametersHandler,
		},
	}
	for _, slot := range regs {
		if err := p.RegisterParameter(slot); err != nil {
			return err
		}
	}
	return nil
}

// emplaceHandler is the generic driver handler for parameters whose wire
// form is fully described by their format string. GET emplaces the
// backing storage onto the wire; SET emplaces the request data into the
// backing storage and persists non-volatile slots.
func emplaceHandler(p *Port, h *Header, pd []byte, slot *ParameterSlot) (int, NackReason, bool) {
	switch h.CC {
	case CCGetCommand:
		n, err := Emplace(pd, slot.Format, slot.Param, false)
		if err != nil {
			return 0, NRHardwareFault, false
		}
		return n, 0, true
	case CCSetCommand:
		if int(h.PDL) > slot.Desc.PDLSize {
			return 0, NRFormatError, false
		}
		if _, err := Emplace(slot.Param, slot.Format, pd[:h.PDL], true); err != nil {
			return 0, NRFormatError, false
		}
		if slot.NonVolatile && p.cfg.Store != nil {
			if err := p.cfg.Store.Store(p.cfg.Port, slot.Desc.PID, slot.Desc.DataType, pd[:h.PDL]); err != nil {
				p.mu.Lock()
				p.bootLoaderRequired = true
				p.mu.Unlock()
			}
		}
		return 0, 0, true
	}
	return 0, NRUnsupportedCommandClass, false
}

func deviceInfoHandler(p *Port, h *Header, pd []byte, _ *ParameterSlot) (int, NackReason, bool) {
	if h.CC != CCGetCommand {
		return 0, NRUnsupportedCommandClass, false
	}
	p.mu.Lock()
	n := p.marshalDeviceInfoPD(pd)
	p.mu.Unlock()
	return n, 0, true
}

func startAddressHandler(p *Port, h *Header, pd []byte, _ *ParameterSlot) (int, NackReason, bool) {
	switch h.CC {
	case CCGetCommand:
		addr := p.StartAddress()
		return EmplaceWord(pd, addr), 0, true
	case CCSetCommand:
		if h.PDL != 2 {
			return 0, NRFormatError, false
		}
		addr := uint16(pd[0])<<8 | uint16(pd[1])
		if addr < 1 || addr > 512 {
			return 0, NRDataOutOfRange, false
		}
		p.SetStartAddress(addr)
		return 0, 0, true
	}
	return 0, NRUnsupportedCommandClass, false
}

func identifyHandler(p *Port, h *Header, pd []byte, slot *ParameterSlot) (int, NackReason, bool) {
	switch h.CC {
	case CCGetCommand:
		pd[0] = slot.Param[0]
		return 1, 0, true
	case CCSetCommand:
		if h.PDL != 1 || pd[0] > 1 {
			return 0, NRDataOutOfRange, false
		}
		slot.Param[0] = pd[0]
		p.log.Info("identify device", zap.Bool("on", pd[0] == 1))
		return 0, 0, true
	}
	return 0, NRUnsupportedCommandClass, false
}

func supportedParametersHandler(p *Port, h *Header, pd []byte, _ *ParameterSlot) (int, NackReason, bool) {
	if h.CC != CCGetCommand {
		return 0, NRUnsupportedCommandClass, false
	}
	n := 0
	p.mu.Lock()
	for i := range p.params {
		pid := p.params[i].Desc.PID
		if pid == PIDSupportedParameters {
			continue
		}
		if n+2 > MaxParameterData {
			break
		}
		n += EmplaceWord(pd[n:], uint16(pid))
	}
	p.mu.Unlock()
	return n, 0, true
}
