// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 OpenStagecraft contributors

package dmx

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Ack reports the outcome of one controller request.
//
// Type is ResponseTypeNone when no response was expected or none arrived,
// ResponseTypeInvalid when a response arrived but failed validation, and
// the received response type otherwise. Timer is filled for ACK_TIMER and
// NackReason for NACK_REASON responses.
type Ack struct {
	Err          error
	Size         int
	SrcUID       UID
	MessageCount uint8
	Type         ResponseType
	Timer        time.Duration
	NackReason   NackReason
	PDL          int
}

// SendRequest performs one RDM transaction: it writes, sends and, when a
// response is expected, receives and validates the reply. The request
// header's source UID and port id are filled by the port when left zero;
// its transaction number, message count and PDL are always set by the
// port. pdIn is the outgoing parameter data and pdOut receives the reply's.
//
// A response is expected for every unicast destination and for broadcast
// DISC_UNIQUE_BRANCH requests. The returned error is nil for ACK,
// ACK_TIMER and ACK_OVERFLOW outcomes; inspect Ack.Type to distinguish
// them. NACK_REASON yields a *NackError.
//
// The port's send mutex is acquired without waiting; ErrBusy is returned
// when another transaction holds it.
func (p *Port) SendRequest(h *Header, pdIn, pdOut []byte) (Ack, error) {
	if !p.sendMu.TryLock() {
		return Ack{Type: ResponseTypeNone, Err: ErrBusy}, ErrBusy
	}
	defer p.sendMu.Unlock()
	return p.sendRequest(h, pdIn, pdOut)
}

func validateRequest(h *Header, pdIn []byte) error {
	if h == nil {
		return fmt.Errorf("%w: nil header", ErrInvalidArgument)
	}
	if h.DestUID.IsNull() {
		return fmt.Errorf("%w: null destination UID", ErrInvalidArgument)
	}
	if h.SrcUID.IsBroadcast() {
		return fmt.Errorf("%w: broadcast source UID", ErrInvalidArgument)
	}
	if !h.CC.IsRequest() {
		return fmt.Errorf("%w: command class 0x%02X", ErrInvalidArgument, uint8(h.CC))
	}
	if h.SubDevice > subDeviceMax && h.SubDevice != SubDeviceAll {
		return fmt.Errorf("%w: sub-device %d", ErrInvalidArgument, h.SubDevice)
	}
	if h.SubDevice == SubDeviceAll && h.CC == CCGetCommand {
		return fmt.Errorf("%w: GET to all sub-devices", ErrInvalidArgument)
	}
	if len(pdIn) > MaxParameterData {
		return ErrParameterTooLarge
	}
	return nil
}

// sendRequest is SendRequest without the mutex; discovery holds the send
// mutex across many of these.
func (p *Port) sendRequest(h *Header, pdIn, pdOut []byte) (Ack, error) {
	ack := Ack{Type: ResponseTypeNone}
	if err := validateRequest(h, pdIn); err != nil {
		ack.Err = err
		return ack, err
	}

	if h.PortID == 0 {
		h.PortID = uint8(p.cfg.Port + 1)
	}
	if h.SrcUID.IsNull() {
		h.SrcUID = p.uid
	}
	h.MessageCount = 0
	h.PDL = uint8(len(pdIn))

	responseExpected := !h.DestUID.IsBroadcast() ||
		(h.PID == PIDDiscUniqueBranch && h.CC == CCDiscCommand)

	if err := p.WaitSent(time.Now().Add(broadcastSettleTime)); err != nil {
		ack.Err = err
		return ack, err
	}

	p.mu.Lock()
	h.TN = p.tn
	if _, err := p.writeRDM(h, pdIn); err != nil {
		p.mu.Unlock()
		ack.Err = err
		return ack, err
	}
	p.pending = transaction{
		pending:   true,
		tn:        h.TN,
		cc:        h.CC,
		pid:       h.PID,
		dest:      h.DestUID,
		src:       h.SrcUID,
		startedAt: time.Now(),
	}
	err := p.startTxLocked(p.size, true, responseExpected)
	var ch chan Packet
	if err == nil {
		p.tn++ // wraps modulo 256
		p.stats.RDMRequests++
		if responseExpected {
			ch = make(chan Packet, 1)
			p.rxWaiter = ch
		}
	}
	p.mu.Unlock()

	if err != nil {
		p.clearPending()
		ack.Err = err
		return ack, err
	}

	if !responseExpected {
		p.WaitSent(time.Now().Add(broadcastSettleTime))
		p.clearPending()
		return ack, nil
	}

	var pkt Packet
	select {
	case pkt = <-ch:
	case <-time.After(p.cfg.ResponseTimeout + time.Second):
		// The line machine should always deliver; this is a backstop
		// against a bus that never reports TxDone.
		p.mu.Lock()
		if p.rxWaiter == ch {
			p.rxWaiter = nil
		}
		p.mu.Unlock()
		pkt = Packet{Err: ErrTimeout}
	}
	ack.Size = pkt.Size
	defer p.clearPending()

	if errors.Is(pkt.Err, ErrTimeout) {
		ack.Err = ErrTimeout
		return ack, ErrTimeout
	}
	if pkt.Err != nil && pkt.Size == 0 {
		ack.Type = ResponseTypeInvalid
		ack.Err = pkt.Err
		return ack, pkt.Err
	}

	p.mu.Lock()
	data := append([]byte(nil), p.frame[:pkt.Size]...)
	p.mu.Unlock()

	resp, pd, derr := DecodeFrame(data)
	if pkt.Err != nil {
		// Data arrived through a framing error: report the bus error but
		// let discovery see that bytes were on the line.
		ack.Type = ResponseTypeInvalid
		ack.Err = pkt.Err
		return ack, pkt.Err
	}
	if derr != nil {
		if errors.Is(derr, ErrChecksumMismatch) {
			p.mu.Lock()
			p.stats.ChecksumErrors++
			p.mu.Unlock()
		}
		ack.Type = ResponseTypeInvalid
		ack.Err = derr
		return ack, derr
	}

	isDUB := h.PID == PIDDiscUniqueBranch && h.CC == CCDiscCommand
	if !isDUB {
		switch resp.ResponseType {
		case ResponseTypeAck, ResponseTypeAckTimer, ResponseTypeNackReason, ResponseTypeAckOverflow:
		default:
			ack.Type = ResponseTypeInvalid
			ack.Err = ErrUnexpectedResponse
			return ack, ErrUnexpectedResponse
		}
		if resp.CC != h.CC+1 || resp.PID != h.PID || resp.TN != h.TN ||
			resp.DestUID != h.SrcUID || !resp.SrcUID.IsTargeted(h.DestUID) {
			ack.Type = ResponseTypeInvalid
			ack.Err = ErrUnexpectedResponse
			return ack, ErrUnexpectedResponse
		}
	}

	ack.SrcUID = resp.SrcUID
	ack.MessageCount = resp.MessageCount
	ack.PDL = len(pd)
	copy(pdOut, pd)

	p.mu.Lock()
	p.stats.RDMResponses++
	p.mu.Unlock()

	ack.Type = resp.ResponseType
	if isDUB {
		ack.Type = ResponseTypeAck
	}
	switch ack.Type {
	case ResponseTypeAckTimer:
		if len(pd) >= 2 {
			ticks := uint16(pd[0])<<8 | uint16(pd[1])
			ack.Timer = time.Duration(ticks) * 10 * time.Millisecond
		}
	case ResponseTypeNackReason:
		if len(pd) >= 2 {
			ack.NackReason = NackReason(uint16(pd[0])<<8 | uint16(pd[1]))
		}
		err := &NackError{Reason: ack.NackReason}
		ack.Err = err
		return ack, err
	case ResponseTypeAckOverflow:
		p.log.Warn("ACK_OVERFLOW responses are recorded but not continued",
			zap.Uint16("pid", uint16(h.PID)))
	}
	return ack, nil
}

func (p *Port) clearPending() {
	p.mu.Lock()
	p.pending = transaction{}
	p.mu.Unlock()
}

// DiscMuteParams is the decoded payload of a DISC_MUTE or DISC_UN_MUTE
// response.
type DiscMuteParams struct {
	ManagedProxy  bool
	SubDevice     bool
	BootLoader    bool
	ProxiedDevice bool
	BindingUID    UID
}

// discUniqueBranch broadcasts DISC_UNIQUE_BRANCH for [lo, hi]. Callers
// hold the send mutex.
func (p *Port) discUniqueBranch(lo, hi UID) (UID, Ack, error) {
	var pd [12]byte
	putUID(pd[0:6], lo)
	putUID(pd[6:12], hi)
	h := &Header{
		DestUID:   BroadcastUID,
		CC:        CCDiscCommand,
		PID:       PIDDiscUniqueBranch,
		SubDevice: SubDeviceRoot,
	}
	ack, err := p.sendRequest(h, pd[:], nil)
	return ack.SrcUID, ack, err
}

// discMute sends DISC_MUTE or DISC_UN_MUTE to uid and decodes the mute
// parameters from an ACK. Callers hold the send mutex.
func (p *Port) discMute(uid UID, mute bool) (DiscMuteParams, Ack, error) {
	pid := PIDDiscUnMute
	if mute {
		pid = PIDDiscMute
	}
	h := &Header{
		DestUID:   uid,
		CC:        CCDiscCommand,
		PID:       pid,
		SubDevice: SubDeviceRoot,
	}
	var pdOut [MaxParameterData]byte
	ack, err := p.sendRequest(h, nil, pdOut[:])

	var params DiscMuteParams
	if err == nil && ack.Type == ResponseTypeAck && ack.PDL >= 2 {
		control := uint16(pdOut[0])<<8 | uint16(pdOut[1])
		params.ManagedProxy = control&0x0001 != 0
		params.SubDevice = control&0x0002 != 0
		params.BootLoader = control&0x0004 != 0
		params.ProxiedDevice = control&0x0008 != 0
		if ack.PDL >= 8 {
			params.BindingUID = getUID(pdOut[2:8])
		}
	}
	return params, ack, err
}

// DiscMute mutes a single responder and returns its mute parameters.
func (p *Port) DiscMute(uid UID) (DiscMuteParams, Ack, error) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	return p.discMute(uid, true)
}

// DiscUnMute un-mutes a responder, or every responder when uid is a
// broadcast address.
func (p *Port) DiscUnMute(uid UID) (DiscMuteParams, Ack, error) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	return p.discMute(uid, false)
}

// DiscUniqueBranch broadcasts a discovery branch request and returns the
// responding UID, if exactly one responder answered.
func (p *Port) DiscUniqueBranch(lo, hi UID) (UID, Ack, error) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	return p.discUniqueBranch(lo, hi)
}

// GetDeviceInfo requests DEVICE_INFO from uid.
func (p *Port) GetDeviceInfo(uid UID, subDevice uint16) (DeviceInfo, Ack, error) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	h := &Header{
		DestUID:   uid,
		CC:        CCGetCommand,
		PID:       PIDDeviceInfo,
		SubDevice: subDevice,
	}
	var pdOut [MaxParameterData]byte
	ack, err := p.sendRequest(h, nil, pdOut[:])

	var info DeviceInfo
	if err == nil && ack.Type == ResponseTypeAck && ack.PDL >= deviceInfoPDL {
		info = parseDeviceInfo(pdOut[:ack.PDL])
	}
	return info, ack, err
}

// GetSoftwareVersionLabel requests SOFTWARE_VERSION_LABEL from uid.
func (p *Port) GetSoftwareVersionLabel(uid UID, subDevice uint16) (string, Ack, error) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	h := &Header{
		DestUID:   uid,
		CC:        CCGetCommand,
		PID:       PIDSoftwareVersionLabel,
		SubDevice: subDevice,
	}
	var pdOut [MaxParameterData]byte
	ack, err := p.sendRequest(h, nil, pdOut[:])

	label := ""
	if err == nil && ack.Type == ResponseTypeAck {
		n := strnlen(pdOut[:ack.PDL], 32)
		label = string(pdOut[:n])
	}
	return label, ack, err
}

// SetIdentify switches a responder's identify indication.
func (p *Port) SetIdentify(uid UID, on bool) (Ack, error) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	pd := []byte{0}
	if on {
		pd[0] = 1
	}
	h := &Header{
		DestUID:   uid,
		CC:        CCSetCommand,
		PID:       PIDIdentifyDevice,
		SubDevice: SubDeviceRoot,
	}
	return p.sendRequest(h, pd, nil)
}

// SetDMXStartAddress sets a responder's DMX start address (1-512).
func (p *Port) SetDMXStartAddress(uid UID, address uint16) (Ack, error) {
	if address < 1 || address > 512 {
		return Ack{Type: ResponseTypeNone, Err: ErrInvalidArgument}, ErrInvalidArgument
	}
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	pd := []byte{byte(address >> 8), byte(address)}
	h := &Header{
		DestUID:   uid,
		CC:        CCSetCommand,
		PID:       PIDDMXStartAddress,
		SubDevice: SubDeviceRoot,
	}
	return p.sendRequest(h, pd, nil)
}
