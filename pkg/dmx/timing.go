// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 OpenStagecraft contributors

package dmx

import "time"

// Timer is a one-shot timing source used for break, mark-after-break and
// receive idle intervals. Arming an already-armed timer replaces the
// pending shot. Callbacks run outside the port lock.
type Timer interface {
	ArmOneShot(d time.Duration, fn func())
	Cancel()
}

// NewTimerFunc constructs the timers a port needs. The default uses the
// runtime clock; tests may substitute a controllable source.
type NewTimerFunc func() Timer

// sysTimer implements Timer on the runtime clock.
type sysTimer struct {
	t *time.Timer
}

func newSysTimer() Timer { return &sysTimer{} }

func (s *sysTimer) ArmOneShot(d time.Duration, fn func()) {
	s.Cancel()
	s.t = time.AfterFunc(d, fn)
}

func (s *sysTimer) Cancel() {
	if s.t != nil {
		s.t.Stop()
		s.t = nil
	}
}
