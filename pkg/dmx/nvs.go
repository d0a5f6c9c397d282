// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 OpenStagecraft contributors

package dmx

import (
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Store is the key-value persistence provider behind non-volatile
// parameters. Keys are derived from the port number and PID. Load returns
// the stored length and whether a record of the matching data type
// existed.
type Store interface {
	Load(port int, pid PID, ds DataType, out []byte) (int, bool)
	Store(port int, pid PID, ds DataType, data []byte) error
}

// nvsRecord is the stored form of one parameter: the data type tag guards
// against reading a value back as the wrong presentation.
type nvsRecord struct {
	DataType uint8  `cbor:"1,keyasint"`
	Data     []byte `cbor:"2,keyasint"`
}

// MemoryStore is an in-process Store holding CBOR-encoded records, and the
// reference implementation for flash- or file-backed providers. A port
// uses it only when its Config supplies it as Store; a port with no Store
// does not persist parameters.
type MemoryStore struct {
	mu        sync.Mutex
	namespace string
	records   map[string][]byte
}

// NewMemoryStore creates an empty store under the given namespace.
func NewMemoryStore(namespace string) *MemoryStore {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &MemoryStore{
		namespace: namespace,
		records:   make(map[string][]byte),
	}
}

func (m *MemoryStore) key(port int, pid PID) string {
	return fmt.Sprintf("%s/p%d.%04x", m.namespace, port, uint16(pid))
}

// Load retrieves a record, decoding it and checking the data type tag.
func (m *MemoryStore) Load(port int, pid PID, ds DataType, out []byte) (int, bool) {
	m.mu.Lock()
	raw, found := m.records[m.key(port, pid)]
	m.mu.Unlock()
	if !found {
		return 0, false
	}

	var rec nvsRecord
	if err := cbor.Unmarshal(raw, &rec); err != nil || rec.DataType != uint8(ds) {
		return 0, false
	}
	return copy(out, rec.Data), true
}

// Store encodes and saves a record.
func (m *MemoryStore) Store(port int, pid PID, ds DataType, data []byte) error {
	raw, err := cbor.Marshal(nvsRecord{DataType: uint8(ds), Data: data})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	m.mu.Lock()
	m.records[m.key(port, pid)] = raw
	m.mu.Unlock()
	return nil
}
