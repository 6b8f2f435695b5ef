package metricgroup

import (
	"testing"

	"github.com/thinkpilot/nodeflow/errtrack"
	"github.com/thinkpilot/nodeflow/records"
	"github.com/thinkpilot/nodeflow/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, capacities Capacities) (*Manager, *errtrack.Tracker) {
	s := store.NewMemStore()
	tracker := errtrack.New(s, 100)
	require.NoError(t, tracker.Init())
	m, err := New(s, capacities, tracker)
	require.NoError(t, err)
	require.NoError(t, m.Init())
	return m, tracker
}

func TestAddRecord(t *testing.T) {
	m, _ := newManager(t, Capacities{16, 16, 16, 16, 8})

	require.NoError(t, m.AddRecord(records.GroupA, []byte{1, 2, 3}))
	require.NoError(t, m.AddSensingEntry(4, records.GroupA))
	require.NoError(t, m.AddSensingEntry(9, records.GroupInterrupt))

	e, err := m.ReadEntriesCounter()
	require.NoError(t, err)
	assert.Equal(t, records.GroupCounters{Entries: 2, Bytes: 4}, e[records.GroupA])
	assert.Equal(t, records.GroupCounters{Entries: 1, Bytes: 1}, e[records.GroupInterrupt])
	assert.Equal(t, records.GroupCounters{}, e[records.GroupB])

	bytes, err := m.ReadBytes()
	require.NoError(t, err)
	assert.Equal(t, [records.NumGroups]int{4, 0, 0, 0, 1}, bytes)

	region, err := m.ReadRegion(records.GroupA, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, region)
}

func TestOverflowDropsNewest(t *testing.T) {
	m, tracker := newManager(t, Capacities{4, 4, 4, 4, 4})

	for i := 0; i < 4; i++ {
		require.NoError(t, m.AddSensingEntry(byte(i), records.GroupB))
	}
	overflow, err := m.IsOverflow(records.GroupB, 1)
	require.NoError(t, err)
	assert.True(t, overflow)

	// capacity + 1
	err = m.AddSensingEntry(0xFF, records.GroupB)
	assert.ErrorIs(t, err, ErrOverflow)

	e, err := m.ReadEntriesCounter()
	require.NoError(t, err)
	assert.Equal(t, records.GroupCounters{Entries: 4, Bytes: 4}, e[records.GroupB])
	// neighbours untouched
	assert.Equal(t, records.GroupCounters{}, e[records.GroupA])
	assert.Equal(t, records.GroupCounters{}, e[records.GroupC])

	region, err := m.ReadRegion(records.GroupB, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 3}, region)

	rec, err := tracker.Read()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), rec.Count)

	// the same overflow is handled the same way again
	assert.ErrorIs(t, m.AddSensingEntry(0xFF, records.GroupB), ErrOverflow)
}

func TestRecordLargerThanRemaining(t *testing.T) {
	m, _ := newManager(t, Capacities{5, 5, 5, 5, 5})
	require.NoError(t, m.AddRecord(records.GroupC, []byte{1, 2, 3}))
	assert.ErrorIs(t, m.AddRecord(records.GroupC, []byte{4, 5, 6}), ErrOverflow)
	require.NoError(t, m.AddRecord(records.GroupC, []byte{4, 5}))
}

func TestClear(t *testing.T) {
	m, _ := newManager(t, Capacities{4, 4, 4, 4, 4})
	require.NoError(t, m.AddSensingEntry(1, records.GroupD))
	require.NoError(t, m.Clear())
	require.NoError(t, m.Clear())

	e, err := m.ReadEntriesCounter()
	require.NoError(t, err)
	assert.Equal(t, records.EntriesRecord{}, e)
}

func TestDueGroups(t *testing.T) {
	m, _ := newManager(t, Capacities{4, 4, 4, 4, 4})
	require.NoError(t, m.SetDueGroups(records.GroupA.Mask()|records.GroupC.Mask()))
	mask, err := m.DueGroups()
	require.NoError(t, err)
	assert.Equal(t, uint16(5), mask)
}

func TestInvalidCapacity(t *testing.T) {
	_, err := New(store.NewMemStore(), Capacities{0, 4, 4, 4, 4}, nil)
	assert.Error(t, err)
	_, err = New(store.NewMemStore(), Capacities{MaxCapacity + 1, 4, 4, 4, 4}, nil)
	assert.Error(t, err)
}

func TestReleaseKeepsLaterEntries(t *testing.T) {
	m, _ := newManager(t, Capacities{8, 8, 8, 8, 8})
	require.NoError(t, m.AddRecord(records.GroupA, []byte{1, 2, 3}))
	require.NoError(t, m.AddSensingEntry(4, records.GroupB))
	sent, err := m.ReadEntriesCounter()
	require.NoError(t, err)

	require.NoError(t, m.AddRecord(records.GroupA, []byte{0xAA, 0xBB}))
	require.NoError(t, m.AddSensingEntry(0xCC, records.GroupC))

	require.NoError(t, m.Release(sent))

	e, err := m.ReadEntriesCounter()
	require.NoError(t, err)
	assert.Equal(t, records.GroupCounters{Entries: 1, Bytes: 2}, e[records.GroupA])
	assert.Equal(t, records.GroupCounters{}, e[records.GroupB])
	assert.Equal(t, records.GroupCounters{Entries: 1, Bytes: 1}, e[records.GroupC])

	a, err := m.ReadRegion(records.GroupA, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, a)
	c, err := m.ReadRegion(records.GroupC, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xCC}, c)

	// the freed space is usable again
	require.NoError(t, m.AddRecord(records.GroupA, []byte{5, 6, 7, 8, 9, 10}))
}

func TestReleaseEverything(t *testing.T) {
	m, _ := newManager(t, Capacities{4, 4, 4, 4, 4})
	require.NoError(t, m.AddRecord(records.GroupD, []byte{1, 2}))
	sent, err := m.ReadEntriesCounter()
	require.NoError(t, err)

	require.NoError(t, m.Release(sent))
	require.NoError(t, m.Release(records.EntriesRecord{}))

	e, err := m.ReadEntriesCounter()
	require.NoError(t, err)
	assert.Equal(t, records.EntriesRecord{}, e)
}
