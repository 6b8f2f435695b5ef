package scheduler

import (
	"fmt"
	"log/slog"

	"github.com/thinkpilot/nodeflow/records"
	"github.com/thinkpilot/nodeflow/store"
	timeutils "github.com/thinkpilot/nodeflow/time_utils"
)

const (
	// WatchdogTimeoutSecs is the deadline of the external watchdog.
	WatchdogTimeoutSecs = 7200
	// MaxSleepSecs is the longest sleep handed to the sleep controller, leaving margin before the watchdog deadline.
	MaxSleepSecs = 6600

	DefaultScheduleCapacity     = 32
	DefaultSendScheduleCapacity = 10
)

// Settings holds the scheduling parameters that are part of the firmware build rather than the persisted schedule.
type Settings struct {
	ScheduleCapacity      int    // number of clock based sensing times that can be stored
	SendScheduleCapacity  int    // number of forced upload times that can be stored
	SendIntervalSecs      uint32 // upload every this many seconds, 0 to disable
	SensesPerSend         uint16 // upload after this many sensing wakes, 0 to disable
	ClockSyncIntervalSecs uint32 // synchronise the clock every this many seconds, 0 to disable
	MaxSleepSecs          uint32 // cap on a single sleep, defaults to MaxSleepSecs
}

// Due holds the actions that are due on a wake.
type Due struct {
	Groups    uint16 // bitmask of metric groups to read
	Send      bool
	ClockSync bool
}

// Bits returns the due bits of a FlagsRecord. If nothing is due only the watchdog kick bit is set.
func (d Due) Bits() uint16 {
	var bits uint16
	if d.Groups != 0 {
		bits |= records.DueSense
	}
	if d.Send {
		bits |= records.DueSend
	}
	if d.ClockSync {
		bits |= records.DueClock
	}
	if bits == 0 {
		bits = records.DueKick
	}
	return bits
}

// Engine decides when the node next has to wake, and what is due when it does.
//
// Interval groups carry over the seconds beyond their period, rather than restarting from zero, so they do not drift.
// Clock groups fire when one of their times of day is crossed since the last accounted wake. Elapsed time is measured
// against a persisted anchor, as the node keeps no memory across deep sleep.
type Engine struct {
	state      state
	settings   Settings
	zeroDelays int // consecutive plans with a source already due
	logger     *slog.Logger
}

func New(s store.Store, settings Settings) *Engine {
	if settings.ScheduleCapacity <= 0 {
		settings.ScheduleCapacity = DefaultScheduleCapacity
	}
	if settings.SendScheduleCapacity <= 0 {
		settings.SendScheduleCapacity = DefaultSendScheduleCapacity
	}
	if settings.MaxSleepSecs == 0 || settings.MaxSleepSecs > MaxSleepSecs {
		settings.MaxSleepSecs = MaxSleepSecs
	}
	return &Engine{
		state:    state{store: s},
		settings: settings,
		logger:   slog.Default().With("component", "scheduler"),
	}
}

// Init creates the scheduling files. Schedules that did not exist yet start out empty.
func (e *Engine) Init() error {
	files := []struct {
		id          records.FileID
		recordSize  int
		recordCount int
	}{
		{records.ScheduleFile, records.ScheduleEntrySize, e.settings.ScheduleCapacity},
		{records.SendScheduleFile, records.SendScheduleEntrySize, e.settings.SendScheduleCapacity},
		{records.ClockSyncFile, records.ClockSyncSize, 1},
		{records.FlagsFile, records.FlagsRecordSize, 1},
		{records.NextTimeFile, records.U32Size, 1},
		{records.TimeAnchorFile, records.U32Size, 1},
		{records.GroupIntervalsFile, records.GroupTableSize, 1},
		{records.GroupAccumulatorsFile, records.GroupTableSize, 1},
		{records.IncrementAFile, records.U16Size, 1},
		{records.IncrementBFile, records.U32Size, 1},
		{records.IncrementCFile, records.U64Size, 1},
	}
	for _, f := range files {
		created, err := store.CreateOrOpen(e.state.store, f.id, f.recordSize, f.recordCount)
		if err != nil {
			return fmt.Errorf("create file %d: %w", f.id, err)
		}
		if !created {
			continue
		}
		switch f.id {
		case records.ScheduleFile:
			err = e.OverwriteSchedule(nil)
		case records.SendScheduleFile:
			err = e.OverwriteSendSchedule(nil)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// OverwriteSchedule replaces the whole clock based sensing schedule.
func (e *Engine) OverwriteSchedule(entries []records.ScheduleEntry) error {
	if len(entries) > e.settings.ScheduleCapacity {
		return fmt.Errorf("%d schedule entries exceed capacity %d", len(entries), e.settings.ScheduleCapacity)
	}
	b := make([]byte, 0, e.settings.ScheduleCapacity*records.ScheduleEntrySize)
	for _, entry := range entries {
		if err := validateEntry(entry); err != nil {
			return err
		}
		b = append(b, entry.Marshal()...)
	}
	for i := len(entries); i < e.settings.ScheduleCapacity; i++ {
		b = append(b, records.ScheduleEntry{TimeOfDay: unusedEntry}.Marshal()...)
	}
	err := e.state.store.Write(records.ScheduleFile, 0, b)
	if err != nil {
		return fmt.Errorf("write schedule: %w", err)
	}
	return nil
}

// AppendSchedule adds one entry to the clock based sensing schedule.
func (e *Engine) AppendSchedule(entry records.ScheduleEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	entries, err := e.Schedule()
	if err != nil {
		return err
	}
	if len(entries) >= e.settings.ScheduleCapacity {
		return fmt.Errorf("schedule full at %d entries", len(entries))
	}
	err = e.state.store.Write(records.ScheduleFile, len(entries)*records.ScheduleEntrySize, entry.Marshal())
	if err != nil {
		return fmt.Errorf("append schedule: %w", err)
	}
	return nil
}

// Schedule returns the clock based sensing schedule in stored order.
func (e *Engine) Schedule() ([]records.ScheduleEntry, error) {
	return e.state.readSchedule(e.settings.ScheduleCapacity)
}

// OverwriteSendSchedule replaces the forced upload times.
func (e *Engine) OverwriteSendSchedule(times []uint32) error {
	if len(times) > e.settings.SendScheduleCapacity {
		return fmt.Errorf("%d send times exceed capacity %d", len(times), e.settings.SendScheduleCapacity)
	}
	b := make([]byte, 0, e.settings.SendScheduleCapacity*records.SendScheduleEntrySize)
	for i := 0; i < e.settings.SendScheduleCapacity; i++ {
		v := unusedEntry
		if i < len(times) {
			if times[i] >= timeutils.DayInSec {
				return fmt.Errorf("send time %d is not a time of day", times[i])
			}
			v = times[i]
		}
		b = append(b, records.PutUint32(v)...)
	}
	err := e.state.store.Write(records.SendScheduleFile, 0, b)
	if err != nil {
		return fmt.Errorf("write send schedule: %w", err)
	}
	return nil
}

// AppendSendSchedule adds one forced upload time.
func (e *Engine) AppendSendSchedule(timeOfDay uint32) error {
	if timeOfDay >= timeutils.DayInSec {
		return fmt.Errorf("send time %d is not a time of day", timeOfDay)
	}
	times, err := e.SendSchedule()
	if err != nil {
		return err
	}
	if len(times) >= e.settings.SendScheduleCapacity {
		return fmt.Errorf("send schedule full at %d entries", len(times))
	}
	return e.state.writeU32(records.SendScheduleFile, len(times)*records.SendScheduleEntrySize, timeOfDay)
}

// SendSchedule returns the forced upload times.
func (e *Engine) SendSchedule() ([]uint32, error) {
	return e.state.readSendSchedule(e.settings.SendScheduleCapacity)
}

// SetClockSync overwrites the daily clock synchronisation time.
func (e *Engine) SetClockSync(c records.ClockSyncConfig) error {
	if c.TimeOfDay >= timeutils.DayInSec {
		return fmt.Errorf("clock sync time %d is not a time of day", c.TimeOfDay)
	}
	err := e.state.store.Write(records.ClockSyncFile, 0, c.Marshal())
	if err != nil {
		return fmt.Errorf("write clock sync: %w", err)
	}
	return nil
}

// ClockSync returns the daily clock synchronisation time.
func (e *Engine) ClockSync() (records.ClockSyncConfig, error) {
	return e.state.readClockSync()
}

// SetIntervals overwrites the interval period of each group. A zero period leaves the group in clock mode.
func (e *Engine) SetIntervals(periods records.GroupTable) error {
	return e.state.writeTable(records.GroupIntervalsFile, periods)
}

// Intervals returns the interval period of each group.
func (e *Engine) Intervals() (records.GroupTable, error) {
	return e.state.readTable(records.GroupIntervalsFile)
}

// Start anchors the engine at `now`, typically once after a reset. Interval accumulators are kept.
func (e *Engine) Start(now uint32) error {
	if err := e.state.writeU32(records.NextTimeFile, 0, 0); err != nil {
		return err
	}
	return e.state.writeU32(records.TimeAnchorFile, 0, now%timeutils.DayInSec)
}

// Anchor returns the time of day of the last accounted wake.
func (e *Engine) Anchor() (uint32, error) {
	return e.state.readU32(records.TimeAnchorFile, 0)
}

// Wake accounts for the time elapsed since the anchor and returns what is due at `now`. The anchor moves to `now`.
func (e *Engine) Wake(now uint32) (Due, error) {
	now = now % timeutils.DayInSec
	var due Due

	anchor, err := e.Anchor()
	if err != nil {
		return due, err
	}
	elapsed := timeutils.Elapsed(anchor, now)

	intervals, err := e.Intervals()
	if err != nil {
		return due, err
	}
	acc, err := e.state.readTable(records.GroupAccumulatorsFile)
	if err != nil {
		return due, err
	}
	for i, period := range intervals {
		if period == 0 {
			acc[i] = 0
			continue
		}
		acc[i] += elapsed
		if acc[i] >= period {
			due.Groups |= records.Group(i).Mask()
			acc[i] -= period
			// cycles missed while the clock was off only fire once
			if acc[i] >= period {
				acc[i] = acc[i] % period
			}
		}
	}

	schedule, err := e.Schedule()
	if err != nil {
		return due, err
	}
	for _, entry := range schedule {
		if timeutils.Crossed(entry.TimeOfDay, anchor, elapsed) {
			due.Groups |= entry.Group.Mask()
		}
	}

	inc, err := e.state.readIncrements()
	if err != nil {
		return due, err
	}
	if due.Groups != 0 && inc.A < ^uint16(0) {
		inc.A++
	}
	inc.B += elapsed
	inc.C += uint64(elapsed)

	due.Send, err = e.sendDue(anchor, elapsed, inc)
	if err != nil {
		return due, err
	}
	due.ClockSync, err = e.clockSyncDue(anchor, elapsed, inc)
	if err != nil {
		return due, err
	}

	// the anchor is written last: a reset before it re-counts the elapsed time, which fires early rather than late
	if err := e.state.writeTable(records.GroupAccumulatorsFile, acc); err != nil {
		return due, err
	}
	if err := e.state.writeIncrements(inc); err != nil {
		return due, err
	}
	if err := e.state.writeU32(records.TimeAnchorFile, 0, now); err != nil {
		return due, err
	}

	e.logger.Debug("Accounted wake", "now", timeutils.ClockTimeFromSeconds(now), "elapsed", elapsed, "groups", due.Groups, "send", due.Send, "clock_sync", due.ClockSync)
	return due, nil
}

func (e *Engine) sendDue(anchor, elapsed uint32, inc increments) (bool, error) {
	if e.settings.SendIntervalSecs > 0 && inc.B >= e.settings.SendIntervalSecs {
		return true, nil
	}
	if e.settings.SensesPerSend > 0 && inc.A >= e.settings.SensesPerSend {
		return true, nil
	}
	times, err := e.SendSchedule()
	if err != nil {
		return false, err
	}
	for _, t := range times {
		if timeutils.Crossed(t, anchor, elapsed) {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) clockSyncDue(anchor, elapsed uint32, inc increments) (bool, error) {
	if e.settings.ClockSyncIntervalSecs > 0 && inc.C >= uint64(e.settings.ClockSyncIntervalSecs) {
		return true, nil
	}
	sync, err := e.ClockSync()
	if err != nil {
		return false, err
	}
	return sync.Enabled && timeutils.Crossed(sync.TimeOfDay, anchor, elapsed), nil
}

// NextDelay returns the seconds from `now` until the next action of any source, before the sleep cap is applied, and the
// due bits predicted at that time. ok is false when nothing is scheduled at all.
func (e *Engine) NextDelay(now uint32) (delay uint32, predicted Due, ok bool, err error) {
	now = now % timeutils.DayInSec

	candidates := make([]struct {
		delay uint32
		due   Due
	}, 0, 16)
	add := func(d uint32, due Due) {
		candidates = append(candidates, struct {
			delay uint32
			due   Due
		}{d, due})
	}

	intervals, err := e.Intervals()
	if err != nil {
		return 0, Due{}, false, err
	}
	acc, err := e.state.readTable(records.GroupAccumulatorsFile)
	if err != nil {
		return 0, Due{}, false, err
	}
	for i, period := range intervals {
		if period == 0 {
			continue
		}
		d := uint32(0)
		if acc[i] < period {
			d = period - acc[i]
		}
		add(d, Due{Groups: records.Group(i).Mask()})
	}

	schedule, err := e.Schedule()
	if err != nil {
		return 0, Due{}, false, err
	}
	for _, entry := range schedule {
		d, _ := timeutils.NextOccurrenceAfter([]uint32{entry.TimeOfDay}, now)
		add(d, Due{Groups: entry.Group.Mask()})
	}

	inc, err := e.state.readIncrements()
	if err != nil {
		return 0, Due{}, false, err
	}
	if e.settings.SendIntervalSecs > 0 {
		add(remaining(uint64(inc.B), uint64(e.settings.SendIntervalSecs)), Due{Send: true})
	}
	sendTimes, err := e.SendSchedule()
	if err != nil {
		return 0, Due{}, false, err
	}
	if d, found := timeutils.NextOccurrenceAfter(sendTimes, now); found {
		add(d, Due{Send: true})
	}

	if e.settings.ClockSyncIntervalSecs > 0 {
		add(remaining(inc.C, uint64(e.settings.ClockSyncIntervalSecs)), Due{ClockSync: true})
	}
	sync, err := e.ClockSync()
	if err != nil {
		return 0, Due{}, false, err
	}
	if sync.Enabled {
		d, _ := timeutils.NextOccurrenceAfter([]uint32{sync.TimeOfDay}, now)
		add(d, Due{ClockSync: true})
	}

	// every source due at the minimum delay fires together
	for _, c := range candidates {
		switch {
		case !ok || c.delay < delay:
			delay, predicted, ok = c.delay, c.due, true
		case c.delay == delay:
			predicted.Groups |= c.due.Groups
			predicted.Send = predicted.Send || c.due.Send
			predicted.ClockSync = predicted.ClockSync || c.due.ClockSync
		}
	}
	return delay, predicted, ok, nil
}

func remaining(count, period uint64) uint32 {
	if count >= period {
		return 0
	}
	return uint32(period - count)
}

// Plan decides the sleep before the next wake at `now`, capped at the maximum sleep. It persists the planned delay and
// the flags predicted for the wake; a capped sleep predicts a watchdog kick only.
func (e *Engine) Plan(now uint32) (uint32, error) {
	delay, predicted, ok, err := e.NextDelay(now)
	if err != nil {
		return 0, err
	}
	if !ok || delay > e.settings.MaxSleepSecs {
		delay = e.settings.MaxSleepSecs
		predicted = Due{}
	}
	if delay == 0 {
		// a source that is still due right after being handled will never be cleared by sleeping
		e.zeroDelays++
		if e.zeroDelays >= 2 {
			e.logger.Warn("Source still due after wake", "plans", e.zeroDelays, "predicted_due", predicted.Bits())
		}
		delay = 1
	} else {
		e.zeroDelays = 0
	}

	anchor, err := e.Anchor()
	if err != nil {
		return 0, err
	}
	planned := timeutils.Elapsed(anchor, now%timeutils.DayInSec) + delay
	if err := e.state.writeU32(records.NextTimeFile, 0, planned); err != nil {
		return 0, err
	}
	if err := e.state.writeFlags(records.FlagsRecord{Due: predicted.Bits()}); err != nil {
		return 0, err
	}

	e.logger.Info("Planned wake", "sleep_secs", delay, "predicted_due", predicted.Bits())
	return delay, nil
}

// InterruptLatency returns the sleep remaining until the planned wake after an unplanned wake at `now`. Time already
// spent asleep is subtracted, and a wake that is already overdue returns zero. The anchor is not moved, so the next
// timer wake accounts for the whole sleep exactly once.
func (e *Engine) InterruptLatency(now uint32) (uint32, error) {
	anchor, err := e.Anchor()
	if err != nil {
		return 0, err
	}
	planned, err := e.state.readU32(records.NextTimeFile, 0)
	if err != nil {
		return 0, err
	}
	elapsed := timeutils.Elapsed(anchor, now%timeutils.DayInSec)
	if elapsed >= planned {
		return 0, nil
	}
	return planned - elapsed, nil
}

// Flags returns the persisted wake reasons.
func (e *Engine) Flags() (records.FlagsRecord, error) {
	return e.state.readFlags()
}

// SetFlags overwrites the persisted wake reasons.
func (e *Engine) SetFlags(f records.FlagsRecord) error {
	return e.state.writeFlags(f)
}

// ClearSendIncrements restarts the send cadences, after a send attempt or a completed send.
func (e *Engine) ClearSendIncrements() error {
	if err := e.state.writeIncrementA(0); err != nil {
		return err
	}
	return e.state.writeU32(records.IncrementBFile, 0, 0)
}

// ClearClockSyncIncrement restarts the clock sync cadence.
func (e *Engine) ClearClockSyncIncrement() error {
	return e.state.writeIncrementC(0)
}

func validateEntry(entry records.ScheduleEntry) error {
	if entry.TimeOfDay >= timeutils.DayInSec {
		return fmt.Errorf("schedule time %d is not a time of day", entry.TimeOfDay)
	}
	if entry.Group >= records.NumScheduledGroups {
		return fmt.Errorf("schedule group %d cannot be scheduled", entry.Group)
	}
	return nil
}
