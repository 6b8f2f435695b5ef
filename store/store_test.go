package store

import (
	"path/filepath"
	"testing"

	"github.com/thinkpilot/nodeflow/records"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the same behaviour checks against any Store implementation
func exerciseStore(t *testing.T, s Store) {
	require.NoError(t, s.Create(records.EntriesFile, records.EntriesRecordSize, 1))

	t.Run("CreateExisting", func(t *testing.T) {
		err := s.Create(records.EntriesFile, records.EntriesRecordSize, 1)
		assert.ErrorIs(t, err, ErrFileExists)

		created, err := CreateOrOpen(s, records.EntriesFile, records.EntriesRecordSize, 1)
		assert.NoError(t, err)
		assert.False(t, created)
	})

	t.Run("CreateMismatch", func(t *testing.T) {
		err := s.Create(records.EntriesFile, records.EntriesRecordSize, 2)
		assert.ErrorIs(t, err, ErrGeometryMismatch)
	})

	t.Run("ZeroedOnCreate", func(t *testing.T) {
		b, err := s.Read(records.EntriesFile, 0, records.EntriesRecordSize)
		require.NoError(t, err)
		assert.Equal(t, make([]byte, records.EntriesRecordSize), b)
	})

	t.Run("WriteThenRead", func(t *testing.T) {
		require.NoError(t, s.Write(records.EntriesFile, 4, []byte{9, 8, 7}))
		b, err := s.Read(records.EntriesFile, 3, 5)
		require.NoError(t, err)
		assert.Equal(t, []byte{0, 9, 8, 7, 0}, b)
	})

	t.Run("OutOfRange", func(t *testing.T) {
		err := s.Write(records.EntriesFile, records.EntriesRecordSize-1, []byte{1, 2})
		assert.ErrorIs(t, err, ErrOutOfRange)
		_, err = s.Read(records.EntriesFile, -1, 1)
		assert.ErrorIs(t, err, ErrOutOfRange)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := s.Read(records.InterruptFile, 0, 1)
		assert.ErrorIs(t, err, ErrNotFound)
		err = s.Write(records.InterruptFile, 0, []byte{1})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("FileZero", func(t *testing.T) {
		// file id 0 must not be confused with an unset key
		require.NoError(t, s.Create(records.ErrorFile, records.ErrorRecordSize, 1))
		require.NoError(t, s.Write(records.ErrorFile, 0, []byte{3}))
		b, err := s.Read(records.ErrorFile, 0, 1)
		require.NoError(t, err)
		assert.Equal(t, []byte{3}, b)
	})
}

func TestMemStore(t *testing.T) {
	exerciseStore(t, NewMemStore())
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eeprom.sqlite")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	exerciseStore(t, s)
	require.NoError(t, s.Close())

	// data survives a reopen, as it would survive a power cycle
	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	b, err := reopened.Read(records.EntriesFile, 4, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8, 7}, b)
}

func TestMemStoreFailWrites(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.Create(records.FlagsFile, records.FlagsRecordSize, 1))
	s.FailWrites = true
	assert.Error(t, s.Write(records.FlagsFile, 0, []byte{1}))
}
