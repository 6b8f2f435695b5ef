package records

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSizes(t *testing.T) {
	assert.Len(t, ErrorRecord{}.Marshal(), ErrorRecordSize)
	assert.Len(t, DeviceIdentity{}.Marshal(), DeviceIdentitySize)
	assert.Len(t, ScheduleEntry{}.Marshal(), ScheduleEntrySize)
	assert.Len(t, SendScheduleEntry{}.Marshal(), SendScheduleEntrySize)
	assert.Len(t, ClockSyncConfig{}.Marshal(), ClockSyncSize)
	assert.Len(t, FlagsRecord{}.Marshal(), FlagsRecordSize)
	assert.Len(t, GroupTable{}.Marshal(), GroupTableSize)
	assert.Len(t, EntriesRecord{}.Marshal(), EntriesRecordSize)
	assert.Len(t, SendProgress{}.Marshal(), SendProgressSize)
}

func TestScheduleEntryLayout(t *testing.T) {
	// 06:00 is 21600 seconds, which does not fit the 16 bit comparator of older devices
	b := ScheduleEntry{TimeOfDay: 21600, Group: GroupB}.Marshal()
	assert.Equal(t, []byte{0x60, 0x54, 0x00, 0x00, 0x01}, b)
}

func TestEntriesRecordLayout(t *testing.T) {
	var e EntriesRecord
	e[GroupA] = GroupCounters{Entries: 1, Bytes: 4}
	e[GroupInterrupt] = GroupCounters{Entries: 2, Bytes: 0x0102}

	b := e.Marshal()
	// entries first, then bytes
	assert.Equal(t, []byte{1, 0}, b[0:2])
	assert.Equal(t, []byte{2, 0}, b[8:10])
	assert.Equal(t, []byte{4, 0}, b[10:12])
	assert.Equal(t, []byte{0x02, 0x01}, b[18:20])

	var decoded EntriesRecord
	require.NoError(t, decoded.Unmarshal(b))
	assert.Equal(t, e, decoded)
	assert.Equal(t, 4+0x0102, decoded.TotalBytes())
}

func TestDeviceIdentityDecode(t *testing.T) {
	id := DeviceIdentity{
		Mode:    ABP,
		DevEUI:  [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
		DevAddr: 0x26011F00,
	}
	id.AppSessionKey[15] = 0xAA

	var decoded DeviceIdentity
	require.NoError(t, decoded.Unmarshal(id.Marshal()))
	assert.Equal(t, id, decoded)
}

func TestUnmarshalWrongLength(t *testing.T) {
	var p SendProgress
	assert.Error(t, p.Unmarshal([]byte{1, 2}))

	_, err := Uint32([]byte{1})
	assert.Error(t, err)
}

func TestGroupMask(t *testing.T) {
	assert.Equal(t, uint16(1), GroupA.Mask())
	assert.Equal(t, uint16(8), GroupD.Mask())
	assert.Equal(t, uint16(0), GroupInterrupt.Mask())

	f, err := GroupInterrupt.DataFile()
	require.NoError(t, err)
	assert.Equal(t, InterruptFile, f)

	_, err = ParseGroup("E")
	assert.Error(t, err)
}

func TestErrorRecordRecent(t *testing.T) {
	var rec ErrorRecord
	for i := 0; i < MaxErrorLines+3; i++ {
		rec.Lines[int(rec.Head)] = uint16(100 + i)
		rec.Head = (rec.Head + 1) % MaxErrorLines
	}

	recent := rec.Recent()
	require.Len(t, recent, MaxErrorLines)
	assert.Equal(t, uint16(103), recent[0])
	assert.Equal(t, uint16(100+MaxErrorLines+2), recent[MaxErrorLines-1])

	var decoded ErrorRecord
	require.NoError(t, decoded.Unmarshal(rec.Marshal()))
	assert.Equal(t, rec, decoded)
}
