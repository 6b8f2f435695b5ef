package scheduler

import (
	"fmt"

	"github.com/thinkpilot/nodeflow/records"
	"github.com/thinkpilot/nodeflow/store"
)

// unusedEntry marks a schedule slot that holds no time.
const unusedEntry = ^uint32(0)

// state reads and writes the persisted scheduling records. Working memory is lost in deep sleep so nothing is cached.
type state struct {
	store store.Store
}

func (s state) readU32(id records.FileID, offset int) (uint32, error) {
	b, err := s.store.Read(id, offset, records.U32Size)
	if err != nil {
		return 0, fmt.Errorf("read file %d: %w", id, err)
	}
	return records.Uint32(b)
}

func (s state) writeU32(id records.FileID, offset int, v uint32) error {
	err := s.store.Write(id, offset, records.PutUint32(v))
	if err != nil {
		return fmt.Errorf("write file %d: %w", id, err)
	}
	return nil
}

func (s state) readTable(id records.FileID) (records.GroupTable, error) {
	var t records.GroupTable
	b, err := s.store.Read(id, 0, records.GroupTableSize)
	if err != nil {
		return t, fmt.Errorf("read file %d: %w", id, err)
	}
	err = t.Unmarshal(b)
	return t, err
}

func (s state) writeTable(id records.FileID, t records.GroupTable) error {
	err := s.store.Write(id, 0, t.Marshal())
	if err != nil {
		return fmt.Errorf("write file %d: %w", id, err)
	}
	return nil
}

// increments holds the three interval counters, each persisted in its own file with its own width.
type increments struct {
	A uint16 // sensing cycles since the last send
	B uint32 // seconds since the last send
	C uint64 // seconds since the last clock sync
}

func (s state) readIncrements() (increments, error) {
	var inc increments
	b, err := s.store.Read(records.IncrementAFile, 0, records.U16Size)
	if err != nil {
		return inc, fmt.Errorf("read increment a: %w", err)
	}
	if inc.A, err = records.Uint16(b); err != nil {
		return inc, err
	}
	if inc.B, err = s.readU32(records.IncrementBFile, 0); err != nil {
		return inc, err
	}
	b, err = s.store.Read(records.IncrementCFile, 0, records.U64Size)
	if err != nil {
		return inc, fmt.Errorf("read increment c: %w", err)
	}
	inc.C, err = records.Uint64(b)
	return inc, err
}

func (s state) writeIncrementA(v uint16) error {
	err := s.store.Write(records.IncrementAFile, 0, records.PutUint16(v))
	if err != nil {
		return fmt.Errorf("write increment a: %w", err)
	}
	return nil
}

func (s state) writeIncrementC(v uint64) error {
	err := s.store.Write(records.IncrementCFile, 0, records.PutUint64(v))
	if err != nil {
		return fmt.Errorf("write increment c: %w", err)
	}
	return nil
}

func (s state) writeIncrements(inc increments) error {
	if err := s.writeIncrementA(inc.A); err != nil {
		return err
	}
	if err := s.writeU32(records.IncrementBFile, 0, inc.B); err != nil {
		return err
	}
	return s.writeIncrementC(inc.C)
}

func (s state) readSchedule(capacity int) ([]records.ScheduleEntry, error) {
	b, err := s.store.Read(records.ScheduleFile, 0, capacity*records.ScheduleEntrySize)
	if err != nil {
		return nil, fmt.Errorf("read schedule: %w", err)
	}
	var entries []records.ScheduleEntry
	for i := 0; i < capacity; i++ {
		var entry records.ScheduleEntry
		if err := entry.Unmarshal(b[i*records.ScheduleEntrySize : (i+1)*records.ScheduleEntrySize]); err != nil {
			return nil, err
		}
		if entry.TimeOfDay == unusedEntry {
			break
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s state) readSendSchedule(capacity int) ([]uint32, error) {
	var times []uint32
	for i := 0; i < capacity; i++ {
		v, err := s.readU32(records.SendScheduleFile, i*records.SendScheduleEntrySize)
		if err != nil {
			return nil, err
		}
		if v == unusedEntry {
			break
		}
		times = append(times, v)
	}
	return times, nil
}

func (s state) readClockSync() (records.ClockSyncConfig, error) {
	var c records.ClockSyncConfig
	b, err := s.store.Read(records.ClockSyncFile, 0, records.ClockSyncSize)
	if err != nil {
		return c, fmt.Errorf("read clock sync: %w", err)
	}
	err = c.Unmarshal(b)
	return c, err
}

func (s state) readFlags() (records.FlagsRecord, error) {
	var f records.FlagsRecord
	b, err := s.store.Read(records.FlagsFile, 0, records.FlagsRecordSize)
	if err != nil {
		return f, fmt.Errorf("read flags: %w", err)
	}
	err = f.Unmarshal(b)
	return f, err
}

func (s state) writeFlags(f records.FlagsRecord) error {
	err := s.store.Write(records.FlagsFile, 0, f.Marshal())
	if err != nil {
		return fmt.Errorf("write flags: %w", err)
	}
	return nil
}
