// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 OpenStagecraft contributors

package dmx

import (
	"fmt"
	"time"
)

// Statistics tracks per-port frame and error counters.
type Statistics struct {
	StartTime time.Time

	FramesSent     uint64
	FramesReceived uint64
	RDMRequests    uint64
	RDMResponses   uint64
	ChecksumErrors uint64
	FramingErrors  uint64
	Collisions     uint64
	Timeouts       uint64
}

// Statistics returns a snapshot of the port's counters.
func (p *Port) Statistics() Statistics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// ResetStatistics zeroes the port's counters.
func (p *Port) ResetStatistics() {
	p.mu.Lock()
	defer p.mu.Unlock()
	start := time.Now()
	p.stats = Statistics{StartTime: start}
}

// String returns a formatted statistics summary.
func (s Statistics) String() string {
	elapsed := time.Since(s.StartTime)
	rate := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(s.FramesSent+s.FramesReceived) / secs
	}

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Frames Sent:     %8d\n", s.FramesSent)
	result += fmt.Sprintf("Frames Received: %8d\n", s.FramesReceived)
	result += fmt.Sprintf("RDM Requests:    %8d\n", s.RDMRequests)
	result += fmt.Sprintf("RDM Responses:   %8d\n", s.RDMResponses)
	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d\n", s.ChecksumErrors)
	}
	if s.FramingErrors > 0 {
		result += fmt.Sprintf("Framing Errors:  %8d\n", s.FramingErrors)
	}
	if s.Collisions > 0 {
		result += fmt.Sprintf("Collisions:      %8d\n", s.Collisions)
	}
	if s.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d\n", s.Timeouts)
	}
	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", rate)
	result += "================================\n"
	return result
}
