package store

import (
	"fmt"
	"sync"

	"github.com/thinkpilot/nodeflow/records"
)

type memFile struct {
	geometry Geometry
	data     []byte
}

// MemStore keeps files in memory. It behaves like the EEPROM driver and is used by tests and the host emulation.
type MemStore struct {
	mu    sync.Mutex
	files map[records.FileID]*memFile

	// FailWrites makes every write fail when set, to emulate a broken driver.
	FailWrites bool
}

func NewMemStore() *MemStore {
	return &MemStore{
		files: make(map[records.FileID]*memFile),
	}
}

func (m *MemStore) Create(id records.FileID, recordSize, recordCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := Geometry{RecordSize: recordSize, RecordCount: recordCount}
	if f, ok := m.files[id]; ok {
		if f.geometry != g {
			return fmt.Errorf("file %d: %w", id, ErrGeometryMismatch)
		}
		return fmt.Errorf("file %d: %w", id, ErrFileExists)
	}
	if recordSize <= 0 || recordCount <= 0 {
		return fmt.Errorf("file %d: invalid geometry %dx%d", id, recordSize, recordCount)
	}
	m.files[id] = &memFile{geometry: g, data: make([]byte, g.Capacity())}
	return nil
}

func (m *MemStore) Read(id records.FileID, offset, n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[id]
	if !ok {
		return nil, fmt.Errorf("file %d: %w", id, ErrNotFound)
	}
	if err := checkRange(id, f.geometry, offset, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, f.data[offset:offset+n])
	return out, nil
}

func (m *MemStore) Write(id records.FileID, offset int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites {
		return fmt.Errorf("file %d: write failed", id)
	}
	f, ok := m.files[id]
	if !ok {
		return fmt.Errorf("file %d: %w", id, ErrNotFound)
	}
	if err := checkRange(id, f.geometry, offset, len(data)); err != nil {
		return err
	}
	copy(f.data[offset:], data)
	return nil
}
