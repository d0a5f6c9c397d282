// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 OpenStagecraft contributors

package dmx

import (
	"fmt"
	"net"
	"sync"
)

// UID is the 48-bit RDM unique identifier: a 16-bit ESTA manufacturer id
// followed by a 32-bit device id. Ordering is lexicographic with the
// manufacturer id high.
type UID struct {
	ManID uint16
	DevID uint32
}

// Special UID values.
var (
	NullUID      = UID{0x0000, 0x00000000}
	BroadcastUID = UID{0xFFFF, 0xFFFFFFFF}
	MaxUID       = UID{0x7FFF, 0xFFFFFFFF}
)

// ManufacturerBroadcast returns the broadcast UID that addresses every
// device of a single manufacturer.
func ManufacturerBroadcast(manID uint16) UID {
	return UID{manID, 0xFFFFFFFF}
}

// IsNull returns true for the all-zero UID.
func (u UID) IsNull() bool { return u.ManID == 0 && u.DevID == 0 }

// IsBroadcast returns true for the all-devices broadcast and every
// per-manufacturer broadcast.
func (u UID) IsBroadcast() bool { return u.DevID == 0xFFFFFFFF }

// IsTargeted returns true if this UID is addressed by alias, which may be
// the UID itself or a matching broadcast.
func (u UID) IsTargeted(alias UID) bool {
	if (alias.ManID == 0xFFFF || alias.ManID == u.ManID) && alias.DevID == 0xFFFFFFFF {
		return true
	}
	return u == alias
}

// Less reports lexicographic UID order.
func (u UID) Less(v UID) bool {
	return u.ManID < v.ManID || (u.ManID == v.ManID && u.DevID < v.DevID)
}

// String formats the UID in the conventional manid:devid form.
func (u UID) String() string {
	return fmt.Sprintf("%04X:%08X", u.ManID, u.DevID)
}

// ParseUID parses the manid:devid form accepted by String.
func ParseUID(s string) (UID, error) {
	var man uint16
	var dev uint32
	if _, err := fmt.Sscanf(s, "%4x:%8x", &man, &dev); err != nil {
		return NullUID, fmt.Errorf("%w: bad UID %q", ErrInvalidArgument, s)
	}
	return UID{man, dev}, nil
}

// putUID writes the big-endian wire representation into dst.
func putUID(dst []byte, u UID) {
	dst[0] = byte(u.ManID >> 8)
	dst[1] = byte(u.ManID)
	dst[2] = byte(u.DevID >> 24)
	dst[3] = byte(u.DevID >> 16)
	dst[4] = byte(u.DevID >> 8)
	dst[5] = byte(u.DevID)
}

// getUID reads the big-endian wire representation from src.
func getUID(src []byte) UID {
	return UID{
		ManID: uint16(src[0])<<8 | uint16(src[1]),
		DevID: uint32(src[2])<<24 | uint32(src[3])<<16 | uint32(src[4])<<8 | uint32(src[5]),
	}
}

// uint48 packs the UID into the low 48 bits of a uint64 for branch
// arithmetic during discovery.
func (u UID) uint48() uint64 {
	return uint64(u.ManID)<<32 | uint64(u.DevID)
}

func uidFromUint48(v uint64) UID {
	return UID{ManID: uint16(v >> 32), DevID: uint32(v)}
}

// flipped returns the UID with its six wire bytes reversed. Some responders
// answer only to this form of their own UID; discovery retries with it.
func (u UID) flipped() UID {
	var b [6]byte
	putUID(b[:], u)
	b[0], b[5] = b[5], b[0]
	b[1], b[4] = b[4], b[1]
	b[2], b[3] = b[3], b[2]
	return getUID(b[:])
}

// The binding UID is process-wide: the root identity that multi-port
// devices derive per-port UIDs from.
var (
	bindingMu  sync.Mutex
	bindingUID UID
)

// BindingUID returns the process-wide binding UID, initialising it lazily
// from the first hardware MAC address when it has not been set. The device
// id is taken from MAC bytes 2-5; if no usable interface exists a fixed
// fallback id is used.
func BindingUID() UID {
	bindingMu.Lock()
	defer bindingMu.Unlock()
	if bindingUID.IsNull() {
		bindingUID = UID{DefaultManufacturerID, deriveDeviceID()}
	}
	return bindingUID
}

// SetBindingUID overrides the process-wide binding UID.
func SetBindingUID(u UID) {
	bindingMu.Lock()
	bindingUID = u
	bindingMu.Unlock()
}

func deriveDeviceID() uint32 {
	ifaces, err := net.Interfaces()
	if err == nil {
		for _, ifc := range ifaces {
			hw := ifc.HardwareAddr
			if len(hw) >= 6 && (hw[0]|hw[1]|hw[2]|hw[3]|hw[4]|hw[5]) != 0 {
				return uint32(hw[2])<<24 | uint32(hw[3])<<16 | uint32(hw[4])<<8 | uint32(hw[5])
			}
		}
	}
	return 0x00000001
}
