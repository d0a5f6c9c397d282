// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 OpenStagecraft contributors

package dmx

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config carries the per-port build options. When the port opens, zero
// values of the manufacturer id, timing, capacity, personality, NewTimer
// and Logger fields are replaced by their defaults; the other fields are
// used as given. DefaultConfig returns the full default set.
type Config struct {
	// Port is the logical bus index, used for UID derivation, the default
	// port id in RDM requests, and persistence keys.
	Port int

	// ManufacturerID and DeviceID form the port's UID. Open rejects a
	// manufacturer id outside 0x0001-0x7FFF. DeviceID set to
	// DeriveDeviceID (DefaultConfig's value) derives the UID from the
	// process-wide binding UID with the last octet XORed by the port index.
	ManufacturerID uint16
	DeviceID       uint32

	// Device description served by the responder.
	ModelID              uint16
	ProductCategory      uint16
	SoftwareVersionID    uint32
	SoftwareVersionLabel string
	Personalities        []Personality
	CurrentPersonality   uint8
	StartAddress         uint16

	// Wire timing. BreakLen and MABLen are clamped to the DMX
	// specification bounds.
	BreakLen         time.Duration
	MABLen           time.Duration
	InterSlotTimeout time.Duration
	ResponseTimeout  time.Duration

	// Table capacities.
	MaxParameters int
	PDBufferSize  int

	// EnableResponder registers the built-in parameters and answers
	// inbound RDM requests addressed to this port.
	EnableResponder bool

	// DebugDiscovery disables the single-device fast path so that the
	// discovery algorithm always bisects down to individual addresses.
	DebugDiscovery bool

	// Store backs non-volatile parameters. Nil disables persistence.
	Store Store

	// NewTimer supplies the one-shot timing source. Nil selects the
	// runtime clock.
	NewTimer NewTimerFunc

	// Logger receives driver diagnostics. Nil discards them.
	Logger *zap.Logger
}

// DefaultConfig returns the default port configuration: one personality
// with a footprint of one address, responder enabled.
func DefaultConfig() Config {
	return Config{
		ManufacturerID:       DefaultManufacturerID,
		DeviceID:             DeriveDeviceID,
		ProductCategory:      DefaultProductCategory,
		SoftwareVersionID:    0x03000300,
		SoftwareVersionLabel: "gaffer-dmx",
		Personalities:        []Personality{{Footprint: 1, Description: "Default Personality"}},
		CurrentPersonality:   1,
		EnableResponder:      true,
	}
}

// transaction is the per-port pending controller request.
type transaction struct {
	pending   bool
	tn        uint8
	cc        CommandClass
	pid       PID
	dest      UID
	src       UID
	startedAt time.Time
}

// Packet describes one received frame.
type Packet struct {
	Size      int
	SC        byte
	IsRDM     bool
	Err       error
	Timestamp time.Time
}

// Port is one DMX512/RDM bus instance: a frame buffer, the line state
// machine, the transaction state and the parameter table, driven by an
// abstract Bus and a pair of one-shot timers.
type Port struct {
	cfg Config
	bus Bus
	log *zap.Logger
	uid UID

	// mu is the port critical section guarding the frame buffer, slot
	// set, line state, transaction state and parameter table.
	mu sync.Mutex

	// sendMu serialises controller transactions on the port.
	sendMu sync.Mutex

	frame [MaxPacketSize]byte
	size  int
	slots [8]uint64 // data slots written since the last send

	state            int
	txSize           int
	responseExpected bool
	sending          bool
	sentCh           chan struct{}
	sawBreak         bool
	rxErr            error
	rxWaiter         chan Packet

	breakTimer Timer
	rxTimer    Timer

	tn      uint8
	pending transaction

	params             []ParameterSlot
	pdRegion           []byte
	pdHead             int
	muted              bool
	bootLoaderRequired bool
	discMaxDepth       int

	dev deviceState

	stats  Statistics
	closed bool
}

// Open attaches a port to a bus. The bus's event stream is claimed by the
// port until Close.
func Open(bus Bus, cfg Config) (*Port, error) {
	if bus == nil {
		return nil, fmt.Errorf("%w: nil bus", ErrInvalidArgument)
	}
	applyDefaults(&cfg)

	uid := portUID(cfg)
	if uid.IsNull() || uid.IsBroadcast() || uid.ManID < 0x0001 || uid.ManID > 0x7FFF {
		return nil, fmt.Errorf("%w: unusable port UID %s", ErrInvalidArgument, uid)
	}

	p := &Port{
		cfg:        cfg,
		bus:        bus,
		log:        cfg.Logger,
		uid:        uid,
		pdRegion:   make([]byte, cfg.PDBufferSize),
		breakTimer: cfg.NewTimer(),
		rxTimer:    cfg.NewTimer(),
		stats:      Statistics{StartTime: time.Now()},
	}
	p.frame[0] = SCDMX
	p.size = 1
	p.initDevice()

	if cfg.EnableResponder {
		if err := p.registerDefaultParameters(); err != nil {
			return nil, err
		}
	}

	bus.Notify(&lineEvents{p})
	if err := bus.SetDirection(DirectionRx); err != nil {
		return nil, fmt.Errorf("setting bus direction: %w", err)
	}

	p.log.Info("port opened",
		zap.Int("port", cfg.Port),
		zap.Stringer("uid", uid),
		zap.Bool("responder", cfg.EnableResponder))
	return p, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ManufacturerID == 0 {
		cfg.ManufacturerID = DefaultManufacturerID
	}
	if cfg.BreakLen == 0 {
		cfg.BreakLen = DefaultBreakLen
	}
	cfg.BreakLen = clampDuration(cfg.BreakLen, MinBreakLen, MaxBreakLen)
	if cfg.MABLen == 0 {
		cfg.MABLen = DefaultMABLen
	}
	cfg.MABLen = clampDuration(cfg.MABLen, MinMABLen, MaxMABLen)
	if cfg.InterSlotTimeout == 0 {
		cfg.InterSlotTimeout = DefaultInterSlotTimeout
	}
	if cfg.ResponseTimeout == 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	if cfg.MaxParameters == 0 {
		cfg.MaxParameters = DefaultMaxParameters
	}
	if cfg.PDBufferSize == 0 {
		cfg.PDBufferSize = DefaultPDBufferSize
	}
	if len(cfg.Personalities) == 0 {
		cfg.Personalities = []Personality{{Footprint: 1, Description: "Default Personality"}}
	}
	if len(cfg.Personalities) > MaxPersonalities {
		cfg.Personalities = cfg.Personalities[:MaxPersonalities]
	}
	if cfg.CurrentPersonality == 0 || int(cfg.CurrentPersonality) > len(cfg.Personalities) {
		cfg.CurrentPersonality = 1
	}
	if cfg.NewTimer == nil {
		cfg.NewTimer = newSysTimer
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
}

// portUID derives the port's device UID. An explicit device id is used
// as-is; otherwise the process-wide binding UID supplies the base and the
// last octet is XORed by the port index.
func portUID(cfg Config) UID {
	if cfg.DeviceID != DeriveDeviceID {
		return UID{cfg.ManufacturerID, cfg.DeviceID}
	}
	base := BindingUID()
	if cfg.ManufacturerID != DefaultManufacturerID {
		base.ManID = cfg.ManufacturerID
	}
	base.DevID ^= uint32(cfg.Port) & 0xFF
	return base
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// UID returns the port's device UID.
func (p *Port) UID() UID { return p.uid }

// BindingUID returns the process-wide binding UID this port derives from.
func (p *Port) BindingUID() UID {
	if p.cfg.DeviceID != DeriveDeviceID {
		return p.uid
	}
	return BindingUID()
}

// Close detaches the port from its bus.
func (p *Port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.closed = true
	p.breakTimer.Cancel()
	p.rxTimer.Cancel()
	if p.rxWaiter != nil {
		p.rxWaiter <- Packet{Err: ErrClosed}
		p.rxWaiter = nil
	}
	p.mu.Unlock()

	p.log.Info("port closed", zap.Int("port", p.cfg.Port))
	return p.bus.Close()
}

// Write copies a frame, start code included, into the port's buffer and
// marks the covered data slots. The write is not observable on the wire
// until Send.
func (p *Port) Write(data []byte) int {
	if len(data) > MaxPacketSize {
		data = data[:MaxPacketSize]
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	copy(p.frame[:], data)
	if len(data) > p.size {
		p.size = len(data)
	}
	for i := 1; i < len(data); i++ {
		p.slots[(i-1)/64] |= 1 << uint((i-1)%64)
	}
	return len(data)
}

// WriteSlot sets a single slot. Slot 0 is the start code.
func (p *Port) WriteSlot(slot int, value byte) error {
	if slot < 0 || slot >= MaxPacketSize {
		return fmt.Errorf("%w: slot %d", ErrInvalidArgument, slot)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frame[slot] = value
	if slot >= p.size {
		p.size = slot + 1
	}
	if slot > 0 {
		p.slots[(slot-1)/64] |= 1 << uint((slot-1)%64)
	}
	return nil
}

// Read copies the current frame buffer into out and returns the frame
// size.
func (p *Port) Read(out []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copy(out, p.frame[:p.size])
}

// ReadSlot returns a single slot of the current frame.
func (p *Port) ReadSlot(slot int) byte {
	if slot < 0 || slot >= MaxPacketSize {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frame[slot]
}

// SlotWritten reports whether data slot n (1-512) has been written since
// the last Send, or since the port opened or the slot set was cleared.
func (p *Port) SlotWritten(slot int) bool {
	if slot < 1 || slot > 512 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slots[(slot-1)/64]&(1<<uint((slot-1)%64)) != 0
}

// ClearSlotSet forgets which data slots have been written.
func (p *Port) ClearSlotSet() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slots = [8]uint64{}
}

// writeRDM encodes an RDM frame into the port buffer. Callers hold p.mu.
func (p *Port) writeRDM(h *Header, pd []byte) (int, error) {
	n, err := EncodeFrame(p.frame[:], h, pd)
	if err != nil {
		return 0, err
	}
	p.size = n
	return n, nil
}
