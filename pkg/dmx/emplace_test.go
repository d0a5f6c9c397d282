// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 OpenStagecraft contributors

package dmx

import (
	"bytes"
	"errors"
	"testing"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		format    string
		size      int
		singleton bool
	}{
		{"uu$", 12, true},
		{"wv$", 8, true},
		{"#0100hwwdwbbwwb$", 19, true},
		{"a$", 32, true},
		{"w$", 2, true},
		{"w", 2, false},
		{"bw", 3, false},
		{"b", 1, false},
		{"#beefh$", 2, true},
		{"#beeh$", 2, true}, // odd digit count rounds up to whole bytes
	}
	for _, tt := range tests {
		size, singleton, err := formatSize(tt.format)
		if err != nil {
			t.Errorf("%q: %v", tt.format, err)
			continue
		}
		if size != tt.size || singleton != tt.singleton {
			t.Errorf("%q: got (%d, %v), want (%d, %v)",
				tt.format, size, singleton, tt.size, tt.singleton)
		}
	}
}

func TestFormatSizeRejects(t *testing.T) {
	bad := []string{
		"va",    // optional UID not at end
		"ab",    // string not at end
		"$b",    // anchor not at end
		"x",     // unknown symbol
		"#h$",   // empty literal
		"#beef", // unterminated literal
	}
	for _, format := range bad {
		if _, _, err := formatSize(format); err == nil {
			t.Errorf("%q: expected error", format)
		}
	}
}

func TestEmplaceScalarRoundTrip(t *testing.T) {
	// Local order is little-endian; wire order is big-endian. A round
	// trip through both directions restores the local image.
	local := []byte{
		0x11,                   // b
		0x22, 0x33,             // w
		0x44, 0x55, 0x66, 0x77, // d
	}
	format := "bwd$"

	wire := make([]byte, len(local))
	n, err := Emplace(wire, format, local, false)
	if err != nil || n != len(local) {
		t.Fatalf("emplace to wire: n=%d err=%v", n, err)
	}
	want := []byte{0x11, 0x33, 0x22, 0x77, 0x66, 0x55, 0x44}
	if !bytes.Equal(wire, want) {
		t.Fatalf("wire % X, want % X", wire, want)
	}

	back := make([]byte, len(local))
	n, err = Emplace(back, format, wire, true)
	if err != nil || n != len(local) {
		t.Fatalf("emplace from wire: n=%d err=%v", n, err)
	}
	if !bytes.Equal(back, local) {
		t.Errorf("round trip gave % X, want % X", back, local)
	}
}

func TestEmplaceUID(t *testing.T) {
	// A UID in local order: manufacturer id then device id, each
	// little-endian.
	local := []byte{0xE0, 0x05, 0x78, 0x56, 0x34, 0x12}
	wire := make([]byte, 6)
	if _, err := Emplace(wire, "u$", local, false); err != nil {
		t.Fatalf("emplace: %v", err)
	}
	if got := getUID(wire); got != (UID{0x05E0, 0x12345678}) {
		t.Errorf("wire UID %s", got)
	}

	back := make([]byte, 6)
	if _, err := Emplace(back, "u$", wire, true); err != nil {
		t.Fatalf("emplace back: %v", err)
	}
	if !bytes.Equal(back, local) {
		t.Errorf("round trip gave % X, want % X", back, local)
	}
}

func TestEmplaceOptionalUID(t *testing.T) {
	word := []byte{0x04, 0x00} // control field, local order
	zeroUID := make([]byte, 6)

	t.Run("omitted on wire when zero", func(t *testing.T) {
		src := append(append([]byte(nil), word...), zeroUID...)
		dst := make([]byte, 8)
		n, err := Emplace(dst, "wv$", src, false)
		if err != nil {
			t.Fatalf("emplace: %v", err)
		}
		if n != 2 {
			t.Errorf("wrote %d bytes, want 2", n)
		}
	})

	t.Run("written as zeros when nulls requested", func(t *testing.T) {
		src := append(append([]byte(nil), word...), zeroUID...)
		dst := make([]byte, 8)
		n, err := Emplace(dst, "wv$", src, true)
		if err != nil {
			t.Fatalf("emplace: %v", err)
		}
		if n != 8 {
			t.Errorf("wrote %d bytes, want 8", n)
		}
	})

	t.Run("present when non-zero", func(t *testing.T) {
		uid := []byte{0xE0, 0x05, 0x78, 0x56, 0x34, 0x12}
		src := append(append([]byte(nil), word...), uid...)
		dst := make([]byte, 8)
		n, err := Emplace(dst, "wv$", src, false)
		if err != nil {
			t.Fatalf("emplace: %v", err)
		}
		if n != 8 {
			t.Errorf("wrote %d bytes, want 8", n)
		}
		if got := getUID(dst[2:8]); got != (UID{0x05E0, 0x12345678}) {
			t.Errorf("UID %s", got)
		}
	})
}

func TestEmplaceASCII(t *testing.T) {
	t.Run("measured length without nulls", func(t *testing.T) {
		src := append([]byte("v3.1.4"), 0)
		dst := make([]byte, 32)
		n, err := Emplace(dst, "a$", src, false)
		if err != nil {
			t.Fatalf("emplace: %v", err)
		}
		if n != 6 || !bytes.Equal(dst[:n], []byte("v3.1.4")) {
			t.Errorf("got %d bytes %q", n, dst[:n])
		}
	})

	t.Run("null terminator added", func(t *testing.T) {
		src := []byte("v3.1.4")
		dst := make([]byte, 32)
		n, err := Emplace(dst, "a$", src, true)
		if err != nil {
			t.Fatalf("emplace: %v", err)
		}
		if n != 7 || dst[6] != 0 {
			t.Errorf("got %d bytes, dst[6]=%d", n, dst[6])
		}
	})

	t.Run("32 character maximum", func(t *testing.T) {
		src := bytes.Repeat([]byte{'x'}, 40)
		dst := make([]byte, 64)
		n, err := Emplace(dst, "a$", src, false)
		if err != nil {
			t.Fatalf("emplace: %v", err)
		}
		if n != 32 {
			t.Errorf("wrote %d bytes, want 32", n)
		}
	})

	t.Run("round trip up to 32", func(t *testing.T) {
		src := []byte("abcdefghijklmnopqrstuvwxyz012345") // exactly 32
		wire := make([]byte, 32)
		n, err := Emplace(wire, "a$", src, false)
		if err != nil || n != 32 {
			t.Fatalf("to wire: n=%d err=%v", n, err)
		}
		local := make([]byte, 33)
		n, err = Emplace(local, "a$", wire, true)
		if err != nil || n != 33 {
			t.Fatalf("from wire: n=%d err=%v", n, err)
		}
		if !bytes.Equal(local[:32], src) || local[32] != 0 {
			t.Errorf("round trip gave %q", local)
		}
	})
}

func TestEmplaceLiteral(t *testing.T) {
	dst := make([]byte, 4)
	src := make([]byte, 4)
	n, err := Emplace(dst, "#beefh$", src, false)
	if err != nil {
		t.Fatalf("emplace: %v", err)
	}
	if n != 2 || dst[0] != 0xBE || dst[1] != 0xEF {
		t.Errorf("literal gave n=%d % X", n, dst[:2])
	}
}

func TestEmplaceArray(t *testing.T) {
	// Three words back to back: a non-singleton format repeats until the
	// source runs out.
	local := []byte{0x01, 0x00, 0x02, 0x00, 0x03, 0x00}
	wire := make([]byte, 6)
	n, err := Emplace(wire, "w", local, false)
	if err != nil {
		t.Fatalf("emplace: %v", err)
	}
	want := []byte{0x00, 0x01, 0x00, 0x02, 0x00, 0x03}
	if n != 6 || !bytes.Equal(wire, want) {
		t.Errorf("got n=%d % X, want % X", n, wire, want)
	}
}

func TestEmplaceDeviceInfoFormat(t *testing.T) {
	// The DEVICE_INFO image: protocol-version literal then the device
	// fields, 19 bytes in both orders.
	local := make([]byte, deviceInfoPDL)
	local[0], local[1] = 0x01, 0x00 // literal position
	local[2], local[3] = 0x34, 0x12 // model id 0x1234
	local[4], local[5] = 0x00, 0x01 // category 0x0100
	local[6] = 0x04                 // software version 4
	local[10], local[11] = 0x02, 0x00
	local[12], local[13] = 1, 1
	local[14], local[15] = 0x7B, 0x00 // start address 123
	local[18] = 2

	wire := make([]byte, deviceInfoPDL)
	n, err := Emplace(wire, "#0100hwwdwbbwwb$", local, false)
	if err != nil || n != deviceInfoPDL {
		t.Fatalf("to wire: n=%d err=%v", n, err)
	}

	info := parseDeviceInfo(wire)
	if info.RDMVersion != 0x0100 || info.ModelID != 0x1234 ||
		info.ProductCategory != 0x0100 || info.SoftwareVersionID != 4 ||
		info.Footprint != 2 || info.CurrentPersonality != 1 ||
		info.PersonalityCount != 1 || info.StartAddress != 123 ||
		info.SensorCount != 2 {
		t.Errorf("decoded %+v", info)
	}

	back := make([]byte, deviceInfoPDL)
	n, err = Emplace(back, "#0100hwwdwbbwwb$", wire, true)
	if err != nil || n != deviceInfoPDL {
		t.Fatalf("from wire: n=%d err=%v", n, err)
	}
	if !bytes.Equal(back, local) {
		t.Errorf("round trip gave % X, want % X", back, local)
	}
}

func TestEmplaceDestinationTooSmall(t *testing.T) {
	src := []byte{0x01, 0x02}
	dst := make([]byte, 1)
	if _, err := Emplace(dst, "w$", src, false); !errors.Is(err, ErrParameterTooLarge) {
		t.Errorf("got %v, want ErrParameterTooLarge", err)
	}
}

func TestEmplaceSourceTooSmall(t *testing.T) {
	src := []byte{0x01}
	dst := make([]byte, 4)
	if _, err := Emplace(dst, "d$", src, false); !errors.Is(err, ErrTruncated) {
		t.Errorf("got %v, want ErrTruncated", err)
	}
}

func TestEmplaceWord(t *testing.T) {
	var dst [2]byte
	if n := EmplaceWord(dst[:], 0x1234); n != 2 {
		t.Fatalf("n=%d", n)
	}
	if dst[0] != 0x12 || dst[1] != 0x34 {
		t.Errorf("got % X", dst)
	}
}
