// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 OpenStagecraft contributors

package dmx

import "go.uber.org/zap"

// Personality is one DMX personality of a device: how many consecutive
// slots it occupies and a label for it.
type Personality struct {
	Footprint   uint16
	Description string
}

// DeviceInfo is the decoded DEVICE_INFO parameter.
type DeviceInfo struct {
	RDMVersion         uint16
	ModelID            uint16
	ProductCategory    uint16
	SoftwareVersionID  uint32
	Footprint          uint16
	CurrentPersonality uint8
	PersonalityCount   uint8
	StartAddress       uint16
	SubDeviceCount     uint16
	SensorCount        uint8
}

const deviceInfoPDL = 19

// deviceState is the responder-side device model behind the built-in
// parameters.
type deviceState struct {
	personalities      []Personality
	currentPersonality uint8
	startAddress       uint16
	subDeviceCount     uint16
	sensorCount        uint8
}

// initDevice seeds the device model from the configuration and, when a
// store is attached, restores the persisted start address.
func (p *Port) initDevice() {
	p.dev = deviceState{
		personalities:      p.cfg.Personalities,
		currentPersonality: p.cfg.CurrentPersonality,
		startAddress:       p.cfg.StartAddress,
	}
	if p.dev.startAddress == 0 {
		p.dev.startAddress = 1
		if p.cfg.Store != nil {
			var buf [2]byte
			if n, ok := p.cfg.Store.Load(p.cfg.Port, PIDDMXStartAddress, DSUnsignedWord, buf[:]); ok && n == 2 {
				addr := uint16(buf[0])<<8 | uint16(buf[1])
				if addr >= 1 && addr <= 512 {
					p.dev.startAddress = addr
				}
			}
		}
	}
}

// StartAddress returns the device's DMX start address.
func (p *Port) StartAddress() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dev.startAddress
}

// SetStartAddress sets the device's DMX start address (1-512) and
// persists it when a store is attached.
func (p *Port) SetStartAddress(address uint16) error {
	if address < 1 || address > 512 {
		return ErrInvalidArgument
	}
	p.mu.Lock()
	p.dev.startAddress = address
	p.mu.Unlock()
	p.persistStartAddress(address)
	return nil
}

func (p *Port) persistStartAddress(address uint16) {
	if p.cfg.Store == nil {
		return
	}
	buf := []byte{byte(address >> 8), byte(address)}
	if err := p.cfg.Store.Store(p.cfg.Port, PIDDMXStartAddress, DSUnsignedWord, buf); err != nil {
		p.mu.Lock()
		p.bootLoaderRequired = true
		p.mu.Unlock()
		p.log.Error("persisting start address failed", zap.Error(err))
	}
}

// CurrentPersonality returns the active personality number, indexed from
// one.
func (p *Port) CurrentPersonality() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dev.currentPersonality
}

// PersonalityCount returns how many personalities the device carries.
func (p *Port) PersonalityCount() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return uint8(len(p.dev.personalities))
}

// Footprint returns the slot footprint of the given personality, or of
// the active one when num is zero. Personalities are indexed from one.
func (p *Port) Footprint(num uint8) uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dev.footprintLocked(num)
}

func (d *deviceState) footprintLocked(num uint8) uint16 {
	if num == 0 {
		num = d.currentPersonality
	}
	if num == 0 || int(num) > len(d.personalities) {
		return 0
	}
	return d.personalities[num-1].Footprint
}

func (d *deviceState) footprintLockedCurrent() uint16 {
	return d.footprintLocked(0)
}

// SetPersonality switches the active personality. When the new footprint
// no longer fits the universe at the current start address, the address
// is moved down to the highest one that fits.
func (p *Port) SetPersonality(num uint8) error {
	p.mu.Lock()
	if num < 1 || int(num) > len(p.dev.personalities) {
		p.mu.Unlock()
		return ErrInvalidArgument
	}
	p.dev.currentPersonality = num
	fp := p.dev.footprintLockedCurrent()
	moved := false
	if fp > 0 && p.dev.startAddress+fp-1 > 512 {
		p.dev.startAddress = 512 - fp + 1
		moved = true
	}
	addr := p.dev.startAddress
	p.mu.Unlock()

	if moved {
		p.persistStartAddress(addr)
	}
	return nil
}

// DeviceInfo returns the port's own device description, as served by the
// DEVICE_INFO responder parameter.
func (p *Port) DeviceInfo() DeviceInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return DeviceInfo{
		RDMVersion:         0x0100,
		ModelID:            p.cfg.ModelID,
		ProductCategory:    p.cfg.ProductCategory,
		SoftwareVersionID:  p.cfg.SoftwareVersionID,
		Footprint:          p.dev.footprintLockedCurrent(),
		CurrentPersonality: p.dev.currentPersonality,
		PersonalityCount:   uint8(len(p.dev.personalities)),
		StartAddress:       p.dev.startAddress,
		SubDeviceCount:     p.dev.subDeviceCount,
		SensorCount:        p.dev.sensorCount,
	}
}

// marshalDeviceInfoPD writes the wire-order DEVICE_INFO parameter data.
// Callers hold p.mu.
func (p *Port) marshalDeviceInfoPD(pd []byte) int {
	pd[0] = 0x01 // RDM protocol version 1.0
	pd[1] = 0x00
	pd[2] = byte(p.cfg.ModelID >> 8)
	pd[3] = byte(p.cfg.ModelID)
	pd[4] = byte(p.cfg.ProductCategory >> 8)
	pd[5] = byte(p.cfg.ProductCategory)
	pd[6] = byte(p.cfg.SoftwareVersionID >> 24)
	pd[7] = byte(p.cfg.SoftwareVersionID >> 16)
	pd[8] = byte(p.cfg.SoftwareVersionID >> 8)
	pd[9] = byte(p.cfg.SoftwareVersionID)
	fp := p.dev.footprintLockedCurrent()
	pd[10] = byte(fp >> 8)
	pd[11] = byte(fp)
	pd[12] = p.dev.currentPersonality
	pd[13] = uint8(len(p.dev.personalities))
	pd[14] = byte(p.dev.startAddress >> 8)
	pd[15] = byte(p.dev.startAddress)
	pd[16] = byte(p.dev.subDeviceCount >> 8)
	pd[17] = byte(p.dev.subDeviceCount)
	pd[18] = p.dev.sensorCount
	return deviceInfoPDL
}

// parseDeviceInfo decodes wire-order DEVICE_INFO parameter data.
func parseDeviceInfo(pd []byte) DeviceInfo {
	return DeviceInfo{
		RDMVersion:         uint16(pd[0])<<8 | uint16(pd[1]),
		ModelID:            uint16(pd[2])<<8 | uint16(pd[3]),
		ProductCategory:    uint16(pd[4])<<8 | uint16(pd[5]),
		SoftwareVersionID:  uint32(pd[6])<<24 | uint32(pd[7])<<16 | uint32(pd[8])<<8 | uint32(pd[9]),
		Footprint:          uint16(pd[10])<<8 | uint16(pd[11]),
		CurrentPersonality: pd[12],
		PersonalityCount:   pd[13],
		StartAddress:       uint16(pd[14])<<8 | uint16(pd[15]),
		SubDeviceCount:     uint16(pd[16])<<8 | uint16(pd[17]),
		SensorCount:        pd[18],
	}
}
