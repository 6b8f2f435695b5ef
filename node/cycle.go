package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/thinkpilot/nodeflow/errtrack"
	"github.com/thinkpilot/nodeflow/flags"
	"github.com/thinkpilot/nodeflow/metricgroup"
	"github.com/thinkpilot/nodeflow/records"
	timeutils "github.com/thinkpilot/nodeflow/time_utils"
)

// cycle holds what happened during one wake.
type cycle struct {
	clean     bool // no error was recorded
	uploadNow bool // a hook asked for the buffer to be sent in this wake
}

// Sleep puts the board into standby until the planned wake. A wake by the interrupt pin is persisted in the flags
// so the following Cycle handles it.
func (n *Node) Sleep(ctx context.Context) error {
	now := timeutils.SecondOfDay(n.board.Clock.Now())
	secs, err := n.engine.InterruptLatency(now)
	if err != nil {
		return err
	}

	pin, err := n.board.Sleeper.Standby(ctx, secs, n.hooks.HandleInterrupt != nil)
	if err != nil {
		return fmt.Errorf("standby: %w", err)
	}
	if !pin {
		return nil
	}

	rec, err := n.engine.Flags()
	if err != nil {
		return err
	}
	rec.WakeupPin = true
	return n.engine.SetFlags(rec)
}

// Cycle handles one wake to completion: it resolves the wake reason, runs clock sync, sensing and sending in that
// order, plans the next wake and settles the consecutive error count.
func (n *Node) Cycle(ctx context.Context) error {
	n.board.Watchdog.Kick()

	rec, err := n.engine.Flags()
	if err != nil {
		return err
	}
	now := timeutils.SecondOfDay(n.board.Clock.Now())
	c := &cycle{clean: true}

	if rec.WakeupPin {
		return n.interruptWake(ctx, c, now, rec)
	}
	return n.timerWake(ctx, c, now, rec)
}

func (n *Node) timerWake(ctx context.Context, c *cycle, now uint32, stored records.FlagsRecord) error {
	due, err := n.engine.Wake(now)
	if err != nil {
		return fmt.Errorf("account wake: %w", err)
	}
	if err := n.groups.SetDueGroups(due.Groups); err != nil {
		return err
	}

	flag := flags.ResolveRecord(stored)
	if flag != flags.Unknown {
		rec := records.FlagsRecord{Due: due.Bits()}
		if err := n.engine.SetFlags(rec); err != nil {
			return err
		}
		flag = flags.ResolveRecord(rec)
	}
	n.observer.Wake(flag.String())
	n.logger.Info("Woke", "flag", flag, "now", timeutils.ClockTimeFromSeconds(now))

	n.dispatch(ctx, c, flag, stored)

	delay, err := n.engine.Plan(timeutils.SecondOfDay(n.board.Clock.Now()))
	if err != nil {
		return fmt.Errorf("plan wake: %w", err)
	}
	n.observer.PlannedSleep(delay)

	return n.settle(c)
}

func (n *Node) interruptWake(ctx context.Context, c *cycle, now uint32, rec records.FlagsRecord) error {
	n.observer.Wake(flags.WakeupPin.String())
	n.logger.Info("Woke", "flag", flags.WakeupPin, "now", timeutils.ClockTimeFromSeconds(now))

	if n.hooks.HandleInterrupt != nil {
		n.runHook(ctx, c, records.GroupInterrupt, n.hooks.HandleInterrupt)
	}
	if c.uploadNow {
		n.send(ctx, c)
	}

	// only the pin is cleared: the scheduler is neither re-anchored nor re-planned, so the planned wake still happens
	// on time and accounts for the whole sleep once
	rec.WakeupPin = false
	if err := n.engine.SetFlags(rec); err != nil {
		return err
	}

	remaining, err := n.engine.InterruptLatency(timeutils.SecondOfDay(n.board.Clock.Now()))
	if err != nil {
		return err
	}
	n.logger.Debug("Resuming sleep", "remaining_secs", remaining)

	return n.settle(c)
}

func (n *Node) dispatch(ctx context.Context, c *cycle, flag flags.Flag, stored records.FlagsRecord) {
	if flag == flags.Unknown {
		// the watchdog has already been kicked, that is all an unknown wake does
		n.fail(c, n.errors.Record(fmt.Errorf("flags %+v: %w", stored, flags.ErrUnknownFlag)))
		return
	}
	if flag.Syncs() {
		n.syncClock(ctx, c)
	}
	if flag.Senses() {
		n.sense(ctx, c)
	}
	if flag.Sends() || c.uploadNow {
		n.send(ctx, c)
	}
}

func (n *Node) sense(ctx context.Context, c *cycle) {
	mask, err := n.groups.DueGroups()
	if err != nil {
		n.fail(c, n.errors.Record(err))
		return
	}
	for _, g := range records.ScheduledGroups {
		if mask&g.Mask() == 0 {
			continue
		}
		hook := n.hooks.group(g)
		if hook == nil {
			n.logger.Debug("No hook for due group", "group", g)
			continue
		}
		n.runHook(ctx, c, g, hook)
	}
	if err := n.groups.SetDueGroups(0); err != nil {
		n.fail(c, n.errors.Record(err))
	}
}

func (n *Node) runHook(ctx context.Context, c *cycle, g records.Group, hook Hook) {
	r := &Recorder{groups: n.groups, group: g, observer: n.observer}
	err := hook(ctx, r)
	if r.uploadNow {
		c.uploadNow = true
	}
	if err == nil {
		return
	}
	err = fmt.Errorf("group %s hook: %w", g, err)
	if errors.Is(err, metricgroup.ErrOverflow) {
		// already recorded when the entry was dropped
		n.fail(c, nil)
		n.logger.Warn("Metric group full", "error", err)
		return
	}
	n.fail(c, n.errors.Record(err))
}

func (n *Node) send(ctx context.Context, c *cycle) {
	c.uploadNow = false

	// a failed send has been recorded by the sender
	if err := n.sender.Send(ctx); err != nil {
		n.fail(c, nil)
		n.logger.Warn("Send failed", "error", err)
	}
	// the send cadence restarts on every attempt, a failed payload is retried on the next send opportunity
	if err := n.engine.ClearSendIncrements(); err != nil {
		n.fail(c, n.errors.Record(err))
	}
	n.receiveDownlinks(ctx, c)
}

func (n *Node) syncClock(ctx context.Context, c *cycle) {
	if err := n.radio.Connect(ctx); err != nil {
		n.fail(c, n.errors.Record(fmt.Errorf("clock sync: %w", err)))
	} else {
		n.receiveDownlinks(ctx, c)
	}
	// like the send cadence, the sync cadence restarts on every attempt, so a failed sync waits for the next one
	if err := n.engine.ClearClockSyncIncrement(); err != nil {
		n.fail(c, n.errors.Record(err))
	}
}

// fail marks the cycle as not clean. trackErr is the error returned by the tracker, if any.
func (n *Node) fail(c *cycle, trackErr error) {
	c.clean = false
	if trackErr != nil && !errors.Is(trackErr, errtrack.ErrEscalate) {
		n.logger.Error("Failed to record error", "error", trackErr)
	}
}

// settle resets the consecutive error count after a clean wake, and resets the board once too many wakes in a row
// have failed.
func (n *Node) settle(c *cycle) error {
	if c.clean {
		if err := n.errors.Reset(); err != nil {
			return err
		}
	}

	rec, err := n.errors.Read()
	if err != nil {
		return err
	}
	n.observer.ConsecutiveErrors(rec.Count)

	escalate, err := n.errors.Escalate()
	if err != nil {
		return err
	}
	if !escalate {
		return nil
	}
	reason := fmt.Sprintf("%d consecutive errors", rec.Count)
	n.logger.Error("Resetting board", "reason", reason)
	n.board.Resetter.Reset(reason)
	return fmt.Errorf("%s: %w", reason, errtrack.ErrEscalate)
}
