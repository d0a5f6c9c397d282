// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 OpenStagecraft contributors

package dmx

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

// simDevice is one virtual responder behind a discSimBus.
type simDevice struct {
	uid     UID
	muted   bool
	flipBug bool // acknowledges mutes only when addressed by its flipped UID
}

// discSimBus simulates a population of discovery responders with exact
// collision semantics: two or more responders in a queried branch garble
// each other deterministically.
type discSimBus struct {
	mu      sync.Mutex
	handler Handler
	devices []*simDevice

	dubRequests  int
	muteRequests int
	collisions   int
}

func newDiscSimBus(devices ...*simDevice) *discSimBus {
	return &discSimBus{devices: devices}
}

func (b *discSimBus) Notify(h Handler) {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
}

func (b *discSimBus) Write(p []byte) error {
	frame := append([]byte(nil), p...)
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	h.TxDone()

	req, pd, err := DecodeFrame(frame)
	if err != nil || req.CC != CCDiscCommand {
		return nil
	}

	var replies []busReply
	b.mu.Lock()
	switch req.PID {
	case PIDDiscUniqueBranch:
		b.dubRequests++
		if len(pd) >= 12 {
			lo, hi := getUID(pd[0:6]), getUID(pd[6:12])
			var inRange []*simDevice
			for _, d := range b.devices {
				if !d.muted && !d.uid.Less(lo) && !hi.Less(d.uid) {
					inRange = append(inRange, d)
				}
			}
			switch {
			case len(inRange) == 1:
				var buf [discResponseSize]byte
				EncodeDiscResponse(buf[:], inRange[0].uid)
				replies = append(replies, busReply{data: append([]byte(nil), buf[:]...)})
			case len(inRange) > 1:
				b.collisions++
				var buf [discResponseSize]byte
				EncodeDiscResponse(buf[:], inRange[0].uid)
				replies = append(replies, busReply{garble: true, data: append([]byte(nil), buf[:]...)})
			}
		}
	case PIDDiscMute, PIDDiscUnMute:
		mute := req.PID == PIDDiscMute
		if !req.DestUID.IsBroadcast() {
			b.muteRequests++
		}
		for _, d := range b.devices {
			target := d.uid
			if d.flipBug {
				target = d.uid.flipped()
			}
			if !target.IsTargeted(req.DestUID) {
				continue
			}
			d.muted = mute
			if req.DestUID.IsBroadcast() {
				continue
			}
			reply := ackReply(frame, ResponseTypeAck, []byte{0x00, 0x00}, func(h *Header) {
				h.SrcUID = target
			})
			replies = append(replies, reply)
		}
	}
	b.mu.Unlock()

	if len(replies) > 0 {
		go func() {
			time.Sleep(100 * time.Microsecond)
			for _, r := range replies {
				if r.withBreak {
					h.Break()
				}
				if r.garble {
					h.FramingError(errors.New("simulated collision"))
				}
				for _, by := range r.data {
					h.RxByte(by)
				}
			}
		}()
	}
	return nil
}

func (b *discSimBus) SendBreak(d time.Duration) error    { return nil }
func (b *discSimBus) SetDirection(d Direction) error     { return nil }
func (b *discSimBus) Flush() error                       { return nil }
func (b *discSimBus) WaitIdle(deadline time.Time) error  { return nil }
func (b *discSimBus) Close() error                       { return nil }

func (b *discSimBus) counters() (dub, mute, collisions int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dubRequests, b.muteRequests, b.collisions
}

func openDiscController(t *testing.T, bus Bus) *Port {
	t.Helper()
	cfg := testConfig(0)
	cfg.ResponseTimeout = 4 * time.Millisecond
	cfg.InterSlotTimeout = 2 * time.Millisecond
	port, err := Open(bus, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { port.Close() })
	return port
}

func sortedUIDs(uids []UID) []UID {
	out := append([]UID(nil), uids...)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func TestDiscoveryBisection(t *testing.T) {
	// Two adjacent responders collide at every shared branch until the
	// tree splits them apart.
	a := &simDevice{uid: UID{0x0001, 0x00000001}}
	b := &simDevice{uid: UID{0x0001, 0x00000002}}
	bus := newDiscSimBus(a, b)
	port := openDiscController(t, bus)

	uids := make([]UID, 8)
	found, err := port.DiscoverDevices(uids)
	if err != nil {
		t.Fatalf("DiscoverDevices: %v", err)
	}
	if found != 2 {
		t.Fatalf("found %d devices, want 2", found)
	}

	got := sortedUIDs(uids[:found])
	if got[0] != a.uid || got[1] != b.uid {
		t.Errorf("found %v", got)
	}
	if !a.muted || !b.muted {
		t.Error("both devices should end muted")
	}

	_, mutes, collisions := bus.counters()
	if collisions == 0 {
		t.Error("adjacent devices should have collided at least once")
	}
	if mutes < 2 {
		t.Errorf("%d unicast mute requests, want at least 2", mutes)
	}

	port.mu.Lock()
	depth := port.discMaxDepth
	port.mu.Unlock()
	if depth > discStackDepth {
		t.Errorf("branch stack reached %d entries, bound is %d", depth, discStackDepth)
	}
}

func TestDiscoverySingleDevice(t *testing.T) {
	d := &simDevice{uid: UID{0x05E0, 0x12345678}}
	bus := newDiscSimBus(d)
	port := openDiscController(t, bus)

	uids := make([]UID, 4)
	found, err := port.DiscoverDevices(uids)
	if err != nil {
		t.Fatalf("DiscoverDevices: %v", err)
	}
	if found != 1 || uids[0] != d.uid {
		t.Fatalf("found %d, uids %v", found, uids[:1])
	}

	// A lone device takes the fast path: no bisection, one mute.
	_, mutes, collisions := bus.counters()
	if collisions != 0 {
		t.Errorf("%d collisions for a single device", collisions)
	}
	if mutes != 1 {
		t.Errorf("%d unicast mute requests, want 1", mutes)
	}
}

func TestDiscoveryEmptyBus(t *testing.T) {
	bus := newDiscSimBus()
	port := openDiscController(t, bus)

	found, err := port.DiscoverDevices(make([]UID, 4))
	if err != nil {
		t.Fatalf("DiscoverDevices: %v", err)
	}
	if found != 0 {
		t.Errorf("found %d devices on an empty bus", found)
	}
}

func TestDiscoveryRecordingStopsAtCapacity(t *testing.T) {
	devs := []*simDevice{
		{uid: UID{0x0001, 0x00000010}},
		{uid: UID{0x2000, 0x00000020}},
		{uid: UID{0x4000, 0x00000030}},
	}
	bus := newDiscSimBus(devs...)
	port := openDiscController(t, bus)

	uids := make([]UID, 2)
	found, err := port.DiscoverDevices(uids)
	if err != nil {
		t.Fatalf("DiscoverDevices: %v", err)
	}
	if found != 3 {
		t.Errorf("found %d devices, want 3 (count keeps going past capacity)", found)
	}
	for _, uid := range uids {
		if uid.IsNull() {
			t.Error("recorded slots should be filled")
		}
	}
}

func TestDiscoveryFlippedUIDWorkaround(t *testing.T) {
	d := &simDevice{uid: UID{0x0001, 0x00000001}, flipBug: true}
	bus := newDiscSimBus(d)
	port := openDiscController(t, bus)

	uids := make([]UID, 4)
	found, err := port.DiscoverDevices(uids)
	if err != nil {
		t.Fatalf("DiscoverDevices: %v", err)
	}
	if found != 1 {
		t.Fatalf("found %d devices, want 1", found)
	}
	if uids[0] != d.uid.flipped() {
		t.Errorf("recorded %s, want the mute-able flipped form %s", uids[0], d.uid.flipped())
	}
	if !d.muted {
		t.Error("device should end muted via its flipped UID")
	}
}

func TestDiscoveryCallbackVariant(t *testing.T) {
	d := &simDevice{uid: UID{0x05E0, 0x00000042}}
	bus := newDiscSimBus(d)
	port := openDiscController(t, bus)

	var gotUID UID
	var gotIndex int
	found, err := port.DiscoverWithCallback(func(uid UID, index int, mute DiscMuteParams) {
		gotUID = uid
		gotIndex = index
	})
	if err != nil {
		t.Fatalf("DiscoverWithCallback: %v", err)
	}
	if found != 1 || gotUID != d.uid || gotIndex != 0 {
		t.Errorf("found=%d uid=%s index=%d", found, gotUID, gotIndex)
	}

	if _, err := port.DiscoverWithCallback(nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("nil callback: got %v", err)
	}
}

func TestDiscoveryEndToEndOverHub(t *testing.T) {
	// Two real responder ports on a shared hub, far enough apart that
	// one bisection separates them.
	hub := newBusHub()
	ctrl, err := Open(hub.attach(), testConfig(0))
	if err != nil {
		t.Fatalf("open controller: %v", err)
	}
	defer ctrl.Close()

	uidA := UID{0x0001, 0x00000001}
	uidB := UID{0x4000, 0x00000001}
	respA, err := Open(hub.attach(), responderConfig(1, uidA))
	if err != nil {
		t.Fatalf("open responder A: %v", err)
	}
	defer respA.Close()
	respB, err := Open(hub.attach(), responderConfig(2, uidB))
	if err != nil {
		t.Fatalf("open responder B: %v", err)
	}
	defer respB.Close()

	uids := make([]UID, 8)
	found, err := ctrl.DiscoverDevices(uids)
	if err != nil {
		t.Fatalf("DiscoverDevices: %v", err)
	}
	if found != 2 {
		t.Fatalf("found %d devices, want 2", found)
	}
	got := sortedUIDs(uids[:found])
	if got[0] != uidA || got[1] != uidB {
		t.Errorf("found %v, want [%s %s]", got, uidA, uidB)
	}
	if !respA.Muted() || !respB.Muted() {
		t.Error("responders should end muted")
	}
}
