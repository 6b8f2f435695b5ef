package store

import (
	"errors"
	"fmt"

	"github.com/thinkpilot/nodeflow/records"
)

var (
	ErrFileExists       = errors.New("file exists")
	ErrNotFound         = errors.New("file not found")
	ErrOutOfRange       = errors.New("access outside of file region")
	ErrGeometryMismatch = errors.New("file exists with a different geometry")
)

// Store is the byte addressed non-volatile storage driver. Each file is a fixed size region of `recordCount`
// records of `recordSize` bytes.
type Store interface {
	// Create allocates a file. It returns ErrFileExists if the file is already allocated with the same geometry.
	Create(id records.FileID, recordSize, recordCount int) error
	// Read returns `n` bytes starting at the byte `offset` of the file.
	Read(id records.FileID, offset, n int) ([]byte, error)
	// Write writes `data` at the byte `offset` of the file.
	Write(id records.FileID, offset int, data []byte) error
}

// Geometry describes the fixed size of a file.
type Geometry struct {
	RecordSize  int
	RecordCount int
}

// Capacity is the number of bytes in the region.
func (g Geometry) Capacity() int {
	return g.RecordSize * g.RecordCount
}

func checkRange(id records.FileID, g Geometry, offset, n int) error {
	if offset < 0 || n < 0 || offset+n > g.Capacity() {
		return fmt.Errorf("file %d [%d:%d] of %d bytes: %w", id, offset, offset+n, g.Capacity(), ErrOutOfRange)
	}
	return nil
}

// CreateOrOpen creates a file, treating an existing file of the same geometry as success.
func CreateOrOpen(s Store, id records.FileID, recordSize, recordCount int) (created bool, err error) {
	err = s.Create(id, recordSize, recordCount)
	if errors.Is(err, ErrFileExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
