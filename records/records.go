package records

import (
	"encoding/binary"
	"fmt"
)

// Every record is encoded packed and little-endian, with no struct padding.
var le = binary.LittleEndian

// MaxErrorLines is the number of error lines remembered by an ErrorRecord.
const MaxErrorLines = 20

const (
	ErrorRecordSize       = 2 + 2 + 2*MaxErrorLines
	DeviceIdentitySize    = 1 + 8 + 8 + 16 + 4 + 16 + 16
	ScheduleEntrySize     = 5
	SendScheduleEntrySize = 4
	ClockSyncSize         = 5
	FlagsRecordSize       = 3
	U16Size               = 2
	U32Size               = 4
	U64Size               = 8
	GroupTableSize        = 4 * NumScheduledGroups
	EntriesRecordSize     = 4 * NumGroups
	SendProgressSize      = 3 + 4*NumGroups
)

func checkLen(name string, b []byte, want int) error {
	if len(b) != want {
		return fmt.Errorf("%s: got %d bytes, want %d", name, len(b), want)
	}
	return nil
}

// ErrorRecord counts consecutive handled errors and remembers where the most recent ones were raised. Head is the slot
// the next line goes to, it is not reset with Count so the ring stays ordered across streaks.
type ErrorRecord struct {
	Count uint16
	Head  uint16
	Lines [MaxErrorLines]uint16
}

// Recent returns the remembered lines, oldest first. Slots never written are skipped.
func (r ErrorRecord) Recent() []uint16 {
	out := make([]uint16, 0, MaxErrorLines)
	for i := 0; i < MaxErrorLines; i++ {
		line := r.Lines[(int(r.Head)+i)%MaxErrorLines]
		if line != 0 {
			out = append(out, line)
		}
	}
	return out
}

func (r ErrorRecord) Marshal() []byte {
	b := make([]byte, ErrorRecordSize)
	le.PutUint16(b, r.Count)
	le.PutUint16(b[2:], r.Head)
	for i, line := range r.Lines {
		le.PutUint16(b[4+2*i:], line)
	}
	return b
}

func (r *ErrorRecord) Unmarshal(b []byte) error {
	if err := checkLen("error record", b, ErrorRecordSize); err != nil {
		return err
	}
	r.Count = le.Uint16(b)
	r.Head = le.Uint16(b[2:]) % MaxErrorLines
	for i := range r.Lines {
		r.Lines[i] = le.Uint16(b[4+2*i:])
	}
	return nil
}

// ActivationMode selects how the radio joins the network.
type ActivationMode uint8

const (
	OTAA ActivationMode = 0 // over the air activation
	ABP  ActivationMode = 1 // activation by personalisation
)

// DeviceIdentity holds the radio stack credentials. It is written once during provisioning.
type DeviceIdentity struct {
	Mode          ActivationMode
	DevEUI        [8]byte
	AppEUI        [8]byte
	AppKey        [16]byte
	DevAddr       uint32
	NetSessionKey [16]byte
	AppSessionKey [16]byte
}

func (d DeviceIdentity) Marshal() []byte {
	b := make([]byte, 0, DeviceIdentitySize)
	b = append(b, byte(d.Mode))
	b = append(b, d.DevEUI[:]...)
	b = append(b, d.AppEUI[:]...)
	b = append(b, d.AppKey[:]...)
	b = le.AppendUint32(b, d.DevAddr)
	b = append(b, d.NetSessionKey[:]...)
	b = append(b, d.AppSessionKey[:]...)
	return b
}

func (d *DeviceIdentity) Unmarshal(b []byte) error {
	if err := checkLen("device identity", b, DeviceIdentitySize); err != nil {
		return err
	}
	d.Mode = ActivationMode(b[0])
	b = b[1:]
	b = b[copy(d.DevEUI[:], b):]
	b = b[copy(d.AppEUI[:], b):]
	b = b[copy(d.AppKey[:], b):]
	d.DevAddr = le.Uint32(b)
	b = b[4:]
	b = b[copy(d.NetSessionKey[:], b):]
	copy(d.AppSessionKey[:], b)
	return nil
}

// ScheduleEntry is one clock based sensing time for a group.
type ScheduleEntry struct {
	TimeOfDay uint32 // seconds since midnight, 0..86399
	Group     Group
}

func (s ScheduleEntry) Marshal() []byte {
	b := make([]byte, ScheduleEntrySize)
	le.PutUint32(b, s.TimeOfDay)
	b[4] = byte(s.Group)
	return b
}

func (s *ScheduleEntry) Unmarshal(b []byte) error {
	if err := checkLen("schedule entry", b, ScheduleEntrySize); err != nil {
		return err
	}
	s.TimeOfDay = le.Uint32(b)
	s.Group = Group(b[4])
	return nil
}

// SendScheduleEntry is one forced upload time.
type SendScheduleEntry struct {
	TimeOfDay uint32
}

func (s SendScheduleEntry) Marshal() []byte {
	return le.AppendUint32(nil, s.TimeOfDay)
}

func (s *SendScheduleEntry) Unmarshal(b []byte) error {
	if err := checkLen("send schedule entry", b, SendScheduleEntrySize); err != nil {
		return err
	}
	s.TimeOfDay = le.Uint32(b)
	return nil
}

// ClockSyncConfig is the daily time at which the wall clock is synchronised from the network.
type ClockSyncConfig struct {
	TimeOfDay uint32
	Enabled   bool
}

func (c ClockSyncConfig) Marshal() []byte {
	b := le.AppendUint32(make([]byte, 0, ClockSyncSize), c.TimeOfDay)
	return append(b, boolByte(c.Enabled))
}

func (c *ClockSyncConfig) Unmarshal(b []byte) error {
	if err := checkLen("clock sync", b, ClockSyncSize); err != nil {
		return err
	}
	c.TimeOfDay = le.Uint32(b)
	c.Enabled = b[4] != 0
	return nil
}

// Due bits of a FlagsRecord.
const (
	DueSense uint16 = 1 << 0
	DueSend  uint16 = 1 << 1
	DueClock uint16 = 1 << 2
	DueKick  uint16 = 1 << 3
)

// FlagsRecord holds the wake reasons that were pending when the node went to sleep.
type FlagsRecord struct {
	Due       uint16
	WakeupPin bool
}

func (f FlagsRecord) Marshal() []byte {
	b := le.AppendUint16(make([]byte, 0, FlagsRecordSize), f.Due)
	return append(b, boolByte(f.WakeupPin))
}

func (f *FlagsRecord) Unmarshal(b []byte) error {
	if err := checkLen("flags", b, FlagsRecordSize); err != nil {
		return err
	}
	f.Due = le.Uint16(b)
	f.WakeupPin = b[2] != 0
	return nil
}

// GroupTable holds one u32 per scheduled group. It is used for interval periods and accumulators.
type GroupTable [NumScheduledGroups]uint32

func (t GroupTable) Marshal() []byte {
	b := make([]byte, 0, GroupTableSize)
	for _, v := range t {
		b = le.AppendUint32(b, v)
	}
	return b
}

func (t *GroupTable) Unmarshal(b []byte) error {
	if err := checkLen("group table", b, GroupTableSize); err != nil {
		return err
	}
	for i := range t {
		t[i] = le.Uint32(b[4*i:])
	}
	return nil
}

// GroupCounters holds the number of entries and bytes buffered for a group.
type GroupCounters struct {
	Entries uint16
	Bytes   uint16
}

// EntriesRecord holds the counters of every group, the interrupt group last.
type EntriesRecord [NumGroups]GroupCounters

func (e EntriesRecord) Marshal() []byte {
	b := make([]byte, 0, EntriesRecordSize)
	for _, c := range e {
		b = le.AppendUint16(b, c.Entries)
	}
	for _, c := range e {
		b = le.AppendUint16(b, c.Bytes)
	}
	return b
}

func (e *EntriesRecord) Unmarshal(b []byte) error {
	if err := checkLen("entries", b, EntriesRecordSize); err != nil {
		return err
	}
	for i := range e {
		e[i].Entries = le.Uint16(b[2*i:])
		e[i].Bytes = le.Uint16(b[2*NumGroups+2*i:])
	}
	return nil
}

// TotalBytes is the number of buffered bytes across all groups.
func (e EntriesRecord) TotalBytes() int {
	total := 0
	for _, c := range e {
		total += int(c.Bytes)
	}
	return total
}

// SendProgress tracks a payload that is being sent block by block. Frozen holds the group counters at the time the
// payload was first attempted, so block boundaries stay stable while more readings are buffered.
type SendProgress struct {
	BlockNumber uint8
	TotalBlocks uint8
	FailedSends uint8
	Frozen      EntriesRecord
}

// InProgress is true when a payload has been frozen and not yet completed.
func (p SendProgress) InProgress() bool {
	return p.TotalBlocks > 0
}

func (p SendProgress) Marshal() []byte {
	b := []byte{p.BlockNumber, p.TotalBlocks, p.FailedSends}
	return append(b, p.Frozen.Marshal()...)
}

func (p *SendProgress) Unmarshal(b []byte) error {
	if err := checkLen("send progress", b, SendProgressSize); err != nil {
		return err
	}
	p.BlockNumber = b[0]
	p.TotalBlocks = b[1]
	p.FailedSends = b[2]
	return p.Frozen.Unmarshal(b[3:])
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// PutUint16 encodes a single counter record.
func PutUint16(v uint16) []byte { return le.AppendUint16(nil, v) }

// PutUint32 encodes a single counter or time record.
func PutUint32(v uint32) []byte { return le.AppendUint32(nil, v) }

// PutUint64 encodes a single wide counter record.
func PutUint64(v uint64) []byte { return le.AppendUint64(nil, v) }

// Uint16 decodes a record written by PutUint16.
func Uint16(b []byte) (uint16, error) {
	if err := checkLen("u16", b, U16Size); err != nil {
		return 0, err
	}
	return le.Uint16(b), nil
}

// Uint32 decodes a record written by PutUint32.
func Uint32(b []byte) (uint32, error) {
	if err := checkLen("u32", b, U32Size); err != nil {
		return 0, err
	}
	return le.Uint32(b), nil
}

// Uint64 decodes a record written by PutUint64.
func Uint64(b []byte) (uint64, error) {
	if err := checkLen("u64", b, U64Size); err != nil {
		return 0, err
	}
	return le.Uint64(b), nil
}
