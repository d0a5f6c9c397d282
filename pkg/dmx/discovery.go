// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 OpenStagecraft contributors

package dmx

import (
	"errors"

	"go.uber.org/zap"
)

// Discovery walks the 48-bit UID space as a binary tree: a branch with no
// response is empty, a branch with a clean response holds one responder,
// and a branch whose responses collide is bisected. Responders are muted
// as they are found so that they stop answering branch requests.
//
// The walk uses an explicit branch stack instead of recursion; its depth
// is bounded by the tree height of the UID space.

const discAttempts = 3

// DiscoveryCallback receives each discovered device: its UID, its index
// in discovery order, and the parameters from its mute response.
type DiscoveryCallback func(uid UID, index int, mute DiscMuteParams)

// DiscoverDevices enumerates the bus and fills uids with what it finds,
// returning the number of devices discovered. When more devices respond
// than fit, the extras are counted but not recorded.
func (p *Port) DiscoverDevices(uids []UID) (int, error) {
	return p.discover(func(uid UID, index int, _ DiscMuteParams) {
		if index < len(uids) {
			uids[index] = uid
		}
	})
}

// DiscoverWithCallback enumerates the bus, invoking cb for each device.
func (p *Port) DiscoverWithCallback(cb DiscoveryCallback) (int, error) {
	if cb == nil {
		return 0, ErrInvalidArgument
	}
	return p.discover(cb)
}

type discBranch struct {
	lo, hi uint64
}

func (p *Port) discover(cb DiscoveryCallback) (int, error) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	// Start from a quiet bus.
	if _, _, err := p.discMute(BroadcastUID, false); err != nil && !errors.Is(err, ErrTimeout) {
		return 0, err
	}

	found := 0
	stack := make([]discBranch, 0, discStackDepth)
	stack = append(stack, discBranch{0, MaxUID.uint48()})
	maxDepth := 1

	for len(stack) > 0 {
		branch := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if branch.lo == branch.hi {
			uid := uidFromUint48(branch.lo)
			params, ok := p.muteWithRetry(uid)
			if !ok {
				// Some responders answer only to their byte-flipped UID.
				uid = uid.flipped()
				params, ok = p.muteWithRetry1(uid)
			}
			if ok {
				found = p.record(cb, found, uid, params)
			}
			continue
		}

		responder, collision := p.branchWithRetry(branch)
		if !collision && responder == nil {
			continue // silence: no devices in this range
		}

		bisect := true
		if responder != nil && !p.cfg.DebugDiscovery {
			// Single clean response: mute it and drain the branch without
			// descending. The fast path hides discovery bugs, so debug
			// builds always bisect.
			bisect = p.quickFind(branch, *responder, cb, &found)
		}

		if bisect {
			mid := branch.lo + (branch.hi-branch.lo)/2
			stack = append(stack, discBranch{mid + 1, branch.hi})
			stack = append(stack, discBranch{branch.lo, mid})
			if len(stack) > maxDepth {
				maxDepth = len(stack)
			}
		}
	}

	p.mu.Lock()
	p.discMaxDepth = maxDepth
	p.mu.Unlock()
	p.log.Info("discovery complete",
		zap.Int("devices", found), zap.Int("max_stack_depth", maxDepth))
	return found, nil
}

// record registers one found device with the callback.
func (p *Port) record(cb DiscoveryCallback, found int, uid UID, params DiscMuteParams) int {
	// Prefer the binding UID the responder reported in its mute reply.
	if !params.BindingUID.IsNull() {
		uid = params.BindingUID
	}
	p.log.Debug("device discovered", zap.Stringer("uid", uid), zap.Int("index", found))
	cb(uid, found, params)
	return found + 1
}

// muteWithRetry attempts DISC_MUTE up to the retry limit.
func (p *Port) muteWithRetry(uid UID) (DiscMuteParams, bool) {
	for attempt := 0; attempt < discAttempts; attempt++ {
		params, ack, err := p.discMute(uid, true)
		if err == nil && ack.Type == ResponseTypeAck {
			return params, true
		}
		if ack.Size > 0 {
			break // a reply arrived, just not a usable one
		}
	}
	return DiscMuteParams{}, false
}

// muteWithRetry1 is a single mute attempt, used for the flipped-UID
// fallback.
func (p *Port) muteWithRetry1(uid UID) (DiscMuteParams, bool) {
	params, ack, err := p.discMute(uid, true)
	return params, err == nil && ack.Type == ResponseTypeAck
}

// branchWithRetry broadcasts DISC_UNIQUE_BRANCH for a branch. It returns
// the responding UID when exactly one unmuted device answered, or
// collision=true when replies garbled each other. Silence after all
// retries means the branch is empty.
func (p *Port) branchWithRetry(b discBranch) (responder *UID, collision bool) {
	for attempt := 0; attempt < discAttempts; attempt++ {
		uid, ack, err := p.discUniqueBranch(uidFromUint48(b.lo), uidFromUint48(b.hi))
		switch {
		case err == nil && ack.Type == ResponseTypeAck:
			return &uid, false
		case ack.Size > 0:
			// Bytes arrived but did not validate: more than one device is
			// answering in this range.
			p.mu.Lock()
			p.stats.Collisions++
			p.mu.Unlock()
			return nil, true
		case errors.Is(err, ErrTimeout):
			continue
		}
	}
	return nil, false
}

// quickFind drains a branch that answered cleanly: mute the responder,
// re-query, and repeat until the branch goes quiet. Returns true when a
// collision shows that devices remain and the branch must be bisected.
func (p *Port) quickFind(b discBranch, uid UID, cb DiscoveryCallback, found *int) bool {
	for {
		var params DiscMuteParams
		muted := false
		for attempt := 0; attempt < discAttempts; attempt++ {
			var ack Ack
			var err error
			params, ack, err = p.discMute(uid, true)
			if err == nil && ack.Type == ResponseTypeAck {
				muted = true
				break
			}
		}
		if !muted {
			// A responder that answers the branch but never its own mute
			// (the flipped-UID bug) would keep this loop spinning; descend
			// instead so the singleton fallback can deal with it.
			return true
		}
		*found = p.record(cb, *found, uid, params)

		responder, collision := p.branchWithRetry(b)
		switch {
		case collision:
			return true
		case responder == nil:
			return false
		default:
			uid = *responder
		}
	}
}
