package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thinkpilot/nodeflow/radio"
	"github.com/thinkpilot/nodeflow/records"
	timeutils "github.com/thinkpilot/nodeflow/time_utils"
)

// Downlink opcodes. The opcode is the first byte, followed by the packed records it carries.
const (
	OpSenseSchedule byte = 0x01 // n x ScheduleEntry
	OpSendSchedule  byte = 0x02 // n x u32 time of day
	OpClockSync     byte = 0x03 // ClockSyncConfig
	OpSetClock      byte = 0x04 // u32 unix seconds
)

// maxDownlinks bounds the downlinks handled in one wake, so a chatty server cannot keep the radio on.
const maxDownlinks = 8

var ErrBadDownlink = errors.New("malformed downlink")

func (n *Node) receiveDownlinks(ctx context.Context, c *cycle) {
	for i := 0; i < maxDownlinks; i++ {
		data, err := n.radio.Receive(ctx)
		if errors.Is(err, radio.ErrNoDownlink) || errors.Is(err, radio.ErrNotConnected) {
			return
		}
		if err != nil {
			n.fail(c, n.errors.Record(fmt.Errorf("receive downlink: %w", err)))
			return
		}
		if err := n.ApplyDownlink(data); err != nil {
			n.fail(c, n.errors.Record(err))
		}
	}
}

// ApplyDownlink carries out one downlink command. Unknown opcodes are logged and ignored.
func (n *Node) ApplyDownlink(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	op, payload := data[0], data[1:]

	switch op {
	case OpSenseSchedule:
		if len(payload)%records.ScheduleEntrySize != 0 {
			return fmt.Errorf("sense schedule of %d bytes: %w", len(payload), ErrBadDownlink)
		}
		entries := make([]records.ScheduleEntry, len(payload)/records.ScheduleEntrySize)
		for i := range entries {
			b := payload[i*records.ScheduleEntrySize : (i+1)*records.ScheduleEntrySize]
			if err := entries[i].Unmarshal(b); err != nil {
				return err
			}
		}
		if err := n.engine.OverwriteSchedule(entries); err != nil {
			return fmt.Errorf("overwrite schedule: %w", err)
		}
		n.logger.Info("Sense schedule overwritten by downlink", "entries", len(entries))

	case OpSendSchedule:
		if len(payload)%records.SendScheduleEntrySize != 0 {
			return fmt.Errorf("send schedule of %d bytes: %w", len(payload), ErrBadDownlink)
		}
		times := make([]uint32, 0, len(payload)/records.SendScheduleEntrySize)
		for i := 0; i < len(payload); i += records.SendScheduleEntrySize {
			t, err := records.Uint32(payload[i : i+records.SendScheduleEntrySize])
			if err != nil {
				return err
			}
			times = append(times, t)
		}
		if err := n.engine.OverwriteSendSchedule(times); err != nil {
			return fmt.Errorf("overwrite send schedule: %w", err)
		}
		n.logger.Info("Send schedule overwritten by downlink", "entries", len(times))

	case OpClockSync:
		var rec records.ClockSyncConfig
		if err := rec.Unmarshal(payload); err != nil {
			return fmt.Errorf("%w: %w", ErrBadDownlink, err)
		}
		if err := n.engine.SetClockSync(rec); err != nil {
			return fmt.Errorf("set clock sync: %w", err)
		}
		n.logger.Info("Clock sync set by downlink", "time", timeutils.ClockTimeFromSeconds(rec.TimeOfDay), "enabled", rec.Enabled)

	case OpSetClock:
		unix, err := records.Uint32(payload)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBadDownlink, err)
		}
		if err := n.setClock(time.Unix(int64(unix), 0)); err != nil {
			return err
		}

	default:
		n.logger.Warn("Ignoring unknown downlink", "opcode", op, "bytes", len(payload))
	}
	return nil
}

// setClock sets the wall clock and re-anchors the scheduler on the new time of day. The sleep since the last wake is
// not accounted.
func (n *Node) setClock(t time.Time) error {
	if err := n.board.Clock.Set(t); err != nil {
		return fmt.Errorf("set clock: %w", err)
	}
	now := timeutils.SecondOfDay(n.board.Clock.Now())
	if err := n.engine.Start(now); err != nil {
		return err
	}
	if err := n.engine.ClearClockSyncIncrement(); err != nil {
		return err
	}
	n.logger.Info("Clock set by downlink", "time", t.UTC())
	return nil
}
