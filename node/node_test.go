package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thinkpilot/nodeflow/errtrack"
	"github.com/thinkpilot/nodeflow/flags"
	"github.com/thinkpilot/nodeflow/metricgroup"
	"github.com/thinkpilot/nodeflow/radio"
	"github.com/thinkpilot/nodeflow/records"
	"github.com/thinkpilot/nodeflow/scheduler"
	"github.com/thinkpilot/nodeflow/store"
)

var midnight = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Set(t time.Time) error {
	c.now = t.UTC()
	return nil
}

// fakeSleeper advances the clock by the requested standby, or wakes early on the next queued pin interrupt.
type fakeSleeper struct {
	clock    *fakeClock
	requests []uint32
	pinAfter []uint32
}

func (s *fakeSleeper) Standby(ctx context.Context, seconds uint32, respondToPin bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.requests = append(s.requests, seconds)
	if respondToPin && len(s.pinAfter) > 0 && s.pinAfter[0] < seconds {
		s.clock.now = s.clock.now.Add(time.Duration(s.pinAfter[0]) * time.Second)
		s.pinAfter = s.pinAfter[1:]
		return true, nil
	}
	s.clock.now = s.clock.now.Add(time.Duration(seconds) * time.Second)
	return false, nil
}

type fakeWatchdog struct{ kicks int }

func (w *fakeWatchdog) Kick() { w.kicks++ }

type fakeResetter struct{ reasons []string }

func (r *fakeResetter) Reset(reason string) { r.reasons = append(r.reasons, reason) }

type fakeRadio struct {
	maxPayload int
	connects   int
	connectErr error
	sent       [][]byte
	downlinks  [][]byte
}

func (r *fakeRadio) Connect(ctx context.Context) error {
	r.connects++
	return r.connectErr
}

func (r *fakeRadio) Send(ctx context.Context, block []byte) (int, error) {
	r.sent = append(r.sent, append([]byte(nil), block...))
	return len(block), nil
}

func (r *fakeRadio) Receive(ctx context.Context) ([]byte, error) {
	if len(r.downlinks) == 0 {
		return nil, radio.ErrNoDownlink
	}
	next := r.downlinks[0]
	r.downlinks = r.downlinks[1:]
	return next, nil
}

func (r *fakeRadio) MaxPayload() int { return r.maxPayload }

func (r *fakeRadio) Stack() radio.Stack { return radio.StackEmulated }

type recordingObserver struct {
	wakes    []string
	overflow []string
	errors   []uint16
	sleeps   []uint32
}

func (o *recordingObserver) Wake(flag string)             { o.wakes = append(o.wakes, flag) }
func (o *recordingObserver) OverflowDropped(group string) { o.overflow = append(o.overflow, group) }
func (o *recordingObserver) ConsecutiveErrors(n uint16)   { o.errors = append(o.errors, n) }
func (o *recordingObserver) PlannedSleep(secs uint32)     { o.sleeps = append(o.sleeps, secs) }

type fixture struct {
	store    *store.MemStore
	clock    *fakeClock
	sleeper  *fakeSleeper
	watchdog *fakeWatchdog
	resetter *fakeResetter
	radio    *fakeRadio
	observer *recordingObserver
}

func newTestNode(t *testing.T, config Config, hooks Hooks, boot State) (*Node, *fixture) {
	t.Helper()
	if config.Capacities == (metricgroup.Capacities{}) {
		config.Capacities = metricgroup.Capacities{16, 16, 16, 16, 16}
	}
	clock := &fakeClock{now: midnight}
	f := &fixture{
		store:    store.NewMemStore(),
		clock:    clock,
		sleeper:  &fakeSleeper{clock: clock},
		watchdog: &fakeWatchdog{},
		resetter: &fakeResetter{},
		radio:    &fakeRadio{maxPayload: 4},
		observer: &recordingObserver{},
	}
	board := Board{
		Sleeper:  f.sleeper,
		Watchdog: f.watchdog,
		Clock:    f.clock,
		Resetter: f.resetter,
		Observer: f.observer,
	}
	n, err := New(f.store, f.radio, board, hooks, config, boot)
	require.NoError(t, err)
	return n, f
}

func errorCount(t *testing.T, n *Node) uint16 {
	t.Helper()
	rec, err := n.errors.Read()
	require.NoError(t, err)
	return rec.Count
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(store.NewMemStore(), &fakeRadio{}, Board{}, Hooks{}, Config{}, StateRun)
	assert.Error(t, err)
}

func TestParseState(t *testing.T) {
	tests := map[string]State{"test": StateTest, "prov": StateProv, "run": StateRun}
	for name, want := range tests {
		parsed, err := ParseState(name)
		require.NoError(t, err)
		assert.Equal(t, want, parsed)
	}
	_, err := ParseState("flash")
	assert.Error(t, err)
}

func TestStateMachine(t *testing.T) {
	identity := records.DeviceIdentity{Mode: records.ABP, DevAddr: 0x26011234}
	selfTests := 0
	hooks := Hooks{SelfTest: func(ctx context.Context) error {
		selfTests++
		if selfTests == 1 {
			return errors.New("radio not fitted")
		}
		return nil
	}}
	n, _ := newTestNode(t, Config{Identity: identity}, hooks, StateTest)
	ctx := context.Background()

	assert.Error(t, n.Step(ctx))
	assert.Equal(t, StateTest, n.State())

	require.NoError(t, n.Step(ctx))
	assert.Equal(t, StateProv, n.State())

	require.NoError(t, n.Step(ctx))
	assert.Equal(t, StateRun, n.State())
	stored, err := n.Identity()
	require.NoError(t, err)
	assert.Equal(t, identity, stored)

	require.NoError(t, n.Step(ctx))
	assert.True(t, n.initialised)
}

func TestInitialiseFailureIsFatal(t *testing.T) {
	n, f := newTestNode(t, Config{Intervals: records.GroupTable{3600}}, Hooks{}, StateRun)
	f.store.FailWrites = true

	err := n.Run(context.Background())
	assert.Error(t, err)
	assert.False(t, n.initialised)
}

func TestInitialisePlansFirstWake(t *testing.T) {
	n, f := newTestNode(t, Config{Intervals: records.GroupTable{3600}}, Hooks{}, StateRun)
	require.NoError(t, n.Initialise(context.Background()))

	rec, err := n.engine.Flags()
	require.NoError(t, err)
	assert.Equal(t, flags.Sensing, flags.ResolveRecord(rec))

	latency, err := n.engine.InterruptLatency(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(3600), latency)
	assert.Equal(t, []uint32{3600}, f.observer.sleeps)
}

func TestSenseThenSend(t *testing.T) {
	next := byte(0)
	hooks := Hooks{MetricGroupA: func(ctx context.Context, r *Recorder) error {
		next++
		return r.AddSensingEntry(next)
	}}
	config := Config{
		Intervals: records.GroupTable{3600},
	}
	config.Scheduler.SensesPerSend = 2
	n, f := newTestNode(t, config, hooks, StateRun)
	ctx := context.Background()

	require.NoError(t, n.Step(ctx)) // initialise
	require.NoError(t, n.Step(ctx)) // 01:00 sense
	assert.Empty(t, f.radio.sent)
	require.NoError(t, n.Step(ctx)) // 02:00 sense and send

	assert.Equal(t, [][]byte{{1, 2}}, f.radio.sent)
	assert.Equal(t, []string{"FLAG_SENSING", "FLAG_SENSE_SEND"}, f.observer.wakes)
	assert.Equal(t, []uint32{3600, 3600}, f.sleeper.requests)
	assert.Equal(t, 2, f.watchdog.kicks)

	entries, err := n.groups.ReadEntriesCounter()
	require.NoError(t, err)
	assert.Equal(t, 0, entries.TotalBytes())
	progress, err := n.sender.Progress()
	require.NoError(t, err)
	assert.False(t, progress.InProgress())
	assert.Equal(t, uint16(0), errorCount(t, n))
}

func TestInterruptWake(t *testing.T) {
	hooks := Hooks{
		MetricGroupA: func(ctx context.Context, r *Recorder) error { return nil },
		HandleInterrupt: func(ctx context.Context, r *Recorder) error {
			assert.Equal(t, records.GroupInterrupt, r.Group())
			r.UploadNow()
			return r.AddSensingEntry(0xEE)
		},
	}
	n, f := newTestNode(t, Config{Intervals: records.GroupTable{3600}}, hooks, StateRun)
	f.sleeper.pinAfter = []uint32{1000}
	ctx := context.Background()

	require.NoError(t, n.Step(ctx)) // initialise
	require.NoError(t, n.Step(ctx)) // pin at 00:16:40
	assert.Equal(t, [][]byte{{0xEE}}, f.radio.sent)

	rec, err := n.engine.Flags()
	require.NoError(t, err)
	assert.False(t, rec.WakeupPin)
	anchor, err := n.engine.Anchor()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), anchor)

	require.NoError(t, n.Step(ctx)) // planned wake at 01:00
	assert.Equal(t, []uint32{3600, 2600}, f.sleeper.requests)
	assert.Equal(t, []string{"FLAG_WAKEUP_PIN", "FLAG_SENSING"}, f.observer.wakes)
	assert.True(t, midnight.Add(time.Hour).Equal(f.clock.now))
}

func TestPinIgnoredWithoutInterruptHook(t *testing.T) {
	n, f := newTestNode(t, Config{Intervals: records.GroupTable{3600}}, Hooks{}, StateRun)
	f.sleeper.pinAfter = []uint32{1000}
	ctx := context.Background()

	require.NoError(t, n.Step(ctx))
	require.NoError(t, n.Step(ctx))
	assert.Equal(t, []string{"FLAG_SENSING"}, f.observer.wakes)
}

func TestEscalationResetsBoard(t *testing.T) {
	hooks := Hooks{MetricGroupA: func(ctx context.Context, r *Recorder) error {
		return errors.New("sensor not responding")
	}}
	config := Config{Intervals: records.GroupTable{60}, ErrorThreshold: 3}
	n, f := newTestNode(t, config, hooks, StateRun)

	err := n.Run(context.Background())
	assert.ErrorIs(t, err, errtrack.ErrEscalate)
	assert.Len(t, f.resetter.reasons, 1)
	assert.Equal(t, uint16(3), errorCount(t, n))
	assert.Equal(t, []uint16{1, 2, 3}, f.observer.errors)
}

func TestCleanWakeResetsErrors(t *testing.T) {
	calls := 0
	hooks := Hooks{MetricGroupA: func(ctx context.Context, r *Recorder) error {
		calls++
		if calls == 1 {
			return errors.New("sensor not responding")
		}
		return nil
	}}
	n, f := newTestNode(t, Config{Intervals: records.GroupTable{60}}, hooks, StateRun)
	ctx := context.Background()

	require.NoError(t, n.Step(ctx))
	require.NoError(t, n.Step(ctx))
	assert.Equal(t, uint16(1), errorCount(t, n))
	require.NoError(t, n.Step(ctx))
	assert.Equal(t, uint16(0), errorCount(t, n))
	assert.Empty(t, f.resetter.reasons)
}

func TestOverflowRecordedOnce(t *testing.T) {
	hooks := Hooks{MetricGroupA: func(ctx context.Context, r *Recorder) error {
		return r.AddSensingEntry(7)
	}}
	config := Config{
		Intervals:  records.GroupTable{60},
		Capacities: metricgroup.Capacities{1, 16, 16, 16, 16},
	}
	n, f := newTestNode(t, config, hooks, StateRun)
	ctx := context.Background()

	require.NoError(t, n.Step(ctx))
	require.NoError(t, n.Step(ctx))
	require.NoError(t, n.Step(ctx))

	assert.Equal(t, uint16(1), errorCount(t, n))
	assert.Equal(t, []string{"A"}, f.observer.overflow)
	region, err := n.groups.ReadRegion(records.GroupA, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, region)
}

func TestUnknownFlagOnlyKicks(t *testing.T) {
	called := false
	hooks := Hooks{MetricGroupA: func(ctx context.Context, r *Recorder) error {
		called = true
		return nil
	}}
	n, f := newTestNode(t, Config{Intervals: records.GroupTable{3600}}, hooks, StateRun)
	ctx := context.Background()
	require.NoError(t, n.Step(ctx))

	require.NoError(t, f.store.Write(records.FlagsFile, 0, records.FlagsRecord{Due: 0x10}.Marshal()))
	require.NoError(t, n.Step(ctx))

	assert.False(t, called)
	assert.Equal(t, []string{"FLAG_UNKNOWN"}, f.observer.wakes)
	assert.Equal(t, 1, f.watchdog.kicks)
	assert.Equal(t, uint16(1), errorCount(t, n))

	rec, err := n.engine.Flags()
	require.NoError(t, err)
	assert.NotEqual(t, flags.Unknown, flags.ResolveRecord(rec))
}

func TestClockSyncAppliesSetClock(t *testing.T) {
	noon := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	config := Config{ClockSync: records.ClockSyncConfig{TimeOfDay: 3600, Enabled: true}}
	n, f := newTestNode(t, config, Hooks{}, StateRun)
	f.radio.downlinks = [][]byte{append([]byte{OpSetClock}, records.PutUint32(uint32(noon.Unix()))...)}
	ctx := context.Background()

	require.NoError(t, n.Step(ctx))
	require.NoError(t, n.Step(ctx))

	assert.Equal(t, []string{"FLAG_CLOCK_SYNCH"}, f.observer.wakes)
	assert.Equal(t, 1, f.radio.connects)
	assert.True(t, noon.Equal(f.clock.now))
	anchor, err := n.engine.Anchor()
	require.NoError(t, err)
	assert.Equal(t, uint32(43200), anchor)
	assert.Empty(t, f.radio.downlinks)
}

func TestFailedClockSyncWaitsForNextInterval(t *testing.T) {
	config := Config{Scheduler: scheduler.Settings{ClockSyncIntervalSecs: 3600}}
	n, f := newTestNode(t, config, Hooks{}, StateRun)
	f.radio.connectErr = errors.New("attach timed out")
	ctx := context.Background()

	require.NoError(t, n.Step(ctx))
	for i := 0; i < 4; i++ {
		require.NoError(t, n.Step(ctx))
	}

	assert.Equal(t, []uint32{3600, 3600, 3600, 3600}, f.sleeper.requests)
	assert.Equal(t, 4, f.radio.connects)
	assert.Equal(t, uint16(4), errorCount(t, n))
	assert.Empty(t, f.resetter.reasons)
}

func TestApplyDownlink(t *testing.T) {
	n, _ := newTestNode(t, Config{}, Hooks{}, StateRun)
	require.NoError(t, n.Initialise(context.Background()))

	t.Run("sense schedule", func(t *testing.T) {
		entry := records.ScheduleEntry{TimeOfDay: 21600, Group: records.GroupB}
		require.NoError(t, n.ApplyDownlink(append([]byte{OpSenseSchedule}, entry.Marshal()...)))
		schedule, err := n.engine.Schedule()
		require.NoError(t, err)
		assert.Equal(t, []records.ScheduleEntry{entry}, schedule)
	})

	t.Run("send schedule", func(t *testing.T) {
		payload := append(records.PutUint32(43200), records.PutUint32(64800)...)
		require.NoError(t, n.ApplyDownlink(append([]byte{OpSendSchedule}, payload...)))
		times, err := n.engine.SendSchedule()
		require.NoError(t, err)
		assert.Equal(t, []uint32{43200, 64800}, times)
	})

	t.Run("clock sync", func(t *testing.T) {
		rec := records.ClockSyncConfig{TimeOfDay: 11700, Enabled: true}
		require.NoError(t, n.ApplyDownlink(append([]byte{OpClockSync}, rec.Marshal()...)))
		stored, err := n.engine.ClockSync()
		require.NoError(t, err)
		assert.Equal(t, rec, stored)
	})

	t.Run("malformed", func(t *testing.T) {
		assert.ErrorIs(t, n.ApplyDownlink([]byte{OpSenseSchedule, 1, 2}), ErrBadDownlink)
		assert.ErrorIs(t, n.ApplyDownlink([]byte{OpSendSchedule, 1, 2, 3}), ErrBadDownlink)
		assert.ErrorIs(t, n.ApplyDownlink([]byte{OpClockSync, 1}), ErrBadDownlink)
		assert.ErrorIs(t, n.ApplyDownlink([]byte{OpSetClock}), ErrBadDownlink)
	})

	t.Run("invalid time of day", func(t *testing.T) {
		entry := records.ScheduleEntry{TimeOfDay: 90000, Group: records.GroupA}
		assert.Error(t, n.ApplyDownlink(append([]byte{OpSenseSchedule}, entry.Marshal()...)))
	})

	t.Run("unknown opcode is ignored", func(t *testing.T) {
		assert.NoError(t, n.ApplyDownlink([]byte{0x7F, 1, 2, 3}))
		assert.NoError(t, n.ApplyDownlink(nil))
	})
}

func TestRunStopsOnCancel(t *testing.T) {
	n, _ := newTestNode(t, Config{Intervals: records.GroupTable{60}}, Hooks{}, StateRun)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.Run(ctx), context.Canceled)
}

func TestStatus(t *testing.T) {
	hooks := Hooks{MetricGroupA: func(ctx context.Context, r *Recorder) error {
		return r.AddRecord([]byte{1, 2, 3})
	}}
	n, f := newTestNode(t, Config{Intervals: records.GroupTable{3600}}, hooks, StateRun)
	ctx := context.Background()
	require.NoError(t, n.Step(ctx))
	require.NoError(t, n.Step(ctx))

	status, err := n.Status()
	require.NoError(t, err)
	assert.Equal(t, "01:00:00", status.Anchor)
	assert.Equal(t, GroupStatus{Entries: 1, Bytes: 3, Capacity: 16}, status.Groups["A"])
	assert.Equal(t, GroupStatus{Capacity: 16}, status.Groups["interrupt"])
	assert.False(t, status.SendInProgress)
	assert.Empty(t, f.radio.sent)
}
