package metricgroup

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/thinkpilot/nodeflow/errtrack"
	"github.com/thinkpilot/nodeflow/records"
	"github.com/thinkpilot/nodeflow/store"
)

// ErrOverflow is returned when an entry does not fit in what is left of its group's region. The entry is dropped.
var ErrOverflow = errors.New("metric group region full")

// MaxCapacity is the largest region a group can have, as byte counters are 16 bits wide.
const MaxCapacity = 0xFFFF

// Capacities holds the region size in bytes of every group, the interrupt group last.
type Capacities [records.NumGroups]int

// Manager buffers sensing entries per metric group in the store and keeps the entry and byte counters of each group.
//
// When a group's region is full, new entries for that group are dropped and an error is recorded with the tracker.
// Readings already buffered are never overwritten and neighbouring regions are never touched.
type Manager struct {
	store      store.Store
	capacities Capacities
	errors     *errtrack.Tracker
	logger     *slog.Logger
}

func New(s store.Store, capacities Capacities, tracker *errtrack.Tracker) (*Manager, error) {
	for i, c := range capacities {
		if c <= 0 || c > MaxCapacity {
			return nil, fmt.Errorf("group %s: capacity %d must be between 1 and %d", records.Group(i), c, MaxCapacity)
		}
	}
	return &Manager{
		store:      s,
		capacities: capacities,
		errors:     tracker,
		logger:     slog.Default().With("component", "metricgroup"),
	}, nil
}

// Init creates the group regions, the counters file and the due groups file.
func (m *Manager) Init() error {
	for _, g := range records.AllGroups {
		file, err := g.DataFile()
		if err != nil {
			return err
		}
		if _, err := store.CreateOrOpen(m.store, file, 1, m.capacities[g]); err != nil {
			return fmt.Errorf("create group %s region: %w", g, err)
		}
	}
	if _, err := store.CreateOrOpen(m.store, records.EntriesFile, records.EntriesRecordSize, 1); err != nil {
		return fmt.Errorf("create entries file: %w", err)
	}
	if _, err := store.CreateOrOpen(m.store, records.MetricGroupFlagsFile, records.U16Size, 1); err != nil {
		return fmt.Errorf("create metric group flags file: %w", err)
	}
	return nil
}

// Capacity returns the region size of the group in bytes.
func (m *Manager) Capacity(g records.Group) int {
	return m.capacities[g]
}

// ReadEntriesCounter returns the counters of every group. It has no side effects.
func (m *Manager) ReadEntriesCounter() (records.EntriesRecord, error) {
	var e records.EntriesRecord
	b, err := m.store.Read(records.EntriesFile, 0, records.EntriesRecordSize)
	if err != nil {
		return e, fmt.Errorf("read entries: %w", err)
	}
	err = e.Unmarshal(b)
	return e, err
}

// ReadBytes returns the number of bytes buffered for every group. It has no side effects.
func (m *Manager) ReadBytes() ([records.NumGroups]int, error) {
	var out [records.NumGroups]int
	e, err := m.ReadEntriesCounter()
	if err != nil {
		return out, err
	}
	for i, c := range e {
		out[i] = int(c.Bytes)
	}
	return out, nil
}

// IsOverflow reports whether `n` more bytes would exceed the group's region.
func (m *Manager) IsOverflow(g records.Group, n int) (bool, error) {
	if g >= records.NumGroups {
		return false, fmt.Errorf("unknown metric group %d", g)
	}
	e, err := m.ReadEntriesCounter()
	if err != nil {
		return false, err
	}
	return int(e[g].Bytes)+n > m.capacities[g], nil
}

// AddSensingEntry appends a single byte entry to the group.
func (m *Manager) AddSensingEntry(value byte, g records.Group) error {
	return m.AddRecord(g, []byte{value})
}

// AddRecord appends `data` as one entry to the group's region.
func (m *Manager) AddRecord(g records.Group, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	file, err := g.DataFile()
	if err != nil {
		return err
	}
	e, err := m.ReadEntriesCounter()
	if err != nil {
		return err
	}

	used := int(e[g].Bytes)
	if used+len(data) > m.capacities[g] {
		overflowErr := fmt.Errorf("group %s: %d bytes used of %d, dropping %d: %w", g, used, m.capacities[g], len(data), ErrOverflow)
		if trackErr := m.errors.Record(overflowErr); trackErr != nil {
			return errors.Join(overflowErr, trackErr)
		}
		return overflowErr
	}

	// the data goes first, the counters last, so a reset between the two writes loses the entry rather than
	// counting bytes that were never written
	err = m.store.Write(file, used, data)
	if err != nil {
		return fmt.Errorf("write group %s entry: %w", g, err)
	}
	e[g].Bytes += uint16(len(data))
	e[g].Entries++
	err = m.store.Write(records.EntriesFile, 0, e.Marshal())
	if err != nil {
		return fmt.Errorf("write entries: %w", err)
	}

	m.logger.Debug("Stored entry", "group", g, "bytes", len(data), "group_bytes", e[g].Bytes, "group_entries", e[g].Entries)
	return nil
}

// ReadRegion returns the first `n` bytes buffered for the group.
func (m *Manager) ReadRegion(g records.Group, n int) ([]byte, error) {
	file, err := g.DataFile()
	if err != nil {
		return nil, err
	}
	b, err := m.store.Read(file, 0, n)
	if err != nil {
		return nil, fmt.Errorf("read group %s region: %w", g, err)
	}
	return b, nil
}

// Clear resets every group's counters. The region bytes are left in place and are overwritten by later entries.
func (m *Manager) Clear() error {
	err := m.store.Write(records.EntriesFile, 0, records.EntriesRecord{}.Marshal())
	if err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	return nil
}

// Release removes the `sent` leading bytes and entries of every group, keeping entries buffered after them. The kept
// bytes are moved to the start of their region before the counters are written.
func (m *Manager) Release(sent records.EntriesRecord) error {
	e, err := m.ReadEntriesCounter()
	if err != nil {
		return err
	}

	for _, g := range records.AllGroups {
		done := sent[g]
		if done.Bytes == 0 && done.Entries == 0 {
			continue
		}
		cur := e[g]
		if cur.Bytes <= done.Bytes {
			e[g] = records.GroupCounters{}
			continue
		}

		file, err := g.DataFile()
		if err != nil {
			return err
		}
		kept := int(cur.Bytes - done.Bytes)
		tail, err := m.store.Read(file, int(done.Bytes), kept)
		if err != nil {
			return fmt.Errorf("read group %s unsent entries: %w", g, err)
		}
		if err := m.store.Write(file, 0, tail); err != nil {
			return fmt.Errorf("move group %s unsent entries: %w", g, err)
		}

		e[g].Bytes = uint16(kept)
		if cur.Entries > done.Entries {
			e[g].Entries = cur.Entries - done.Entries
		} else {
			e[g].Entries = 0
		}
		m.logger.Debug("Kept entries buffered after the sent payload", "group", g, "bytes", kept, "entries", e[g].Entries)
	}

	if err := m.store.Write(records.EntriesFile, 0, e.Marshal()); err != nil {
		return fmt.Errorf("write entries: %w", err)
	}
	return nil
}

// DueGroups returns the bitmask of groups that should be read on this wake.
func (m *Manager) DueGroups() (uint16, error) {
	b, err := m.store.Read(records.MetricGroupFlagsFile, 0, records.U16Size)
	if err != nil {
		return 0, fmt.Errorf("read metric group flags: %w", err)
	}
	return records.Uint16(b)
}

// SetDueGroups overwrites the bitmask of groups that should be read on the next wake.
func (m *Manager) SetDueGroups(mask uint16) error {
	err := m.store.Write(records.MetricGroupFlagsFile, 0, records.PutUint16(mask))
	if err != nil {
		return fmt.Errorf("write metric group flags: %w", err)
	}
	return nil
}
