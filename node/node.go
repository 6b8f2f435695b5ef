package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/thinkpilot/nodeflow/errtrack"
	"github.com/thinkpilot/nodeflow/metricgroup"
	"github.com/thinkpilot/nodeflow/radio"
	"github.com/thinkpilot/nodeflow/records"
	"github.com/thinkpilot/nodeflow/scheduler"
	"github.com/thinkpilot/nodeflow/store"
	timeutils "github.com/thinkpilot/nodeflow/time_utils"
	"github.com/thinkpilot/nodeflow/transmit"
)

// State is the stage of the run state machine. A node only ever moves forward through the states.
type State int

const (
	StateTest State = iota // run the board self test
	StateProv              // write the device identity
	StateRun               // sense and send forever
)

func (s State) String() string {
	switch s {
	case StateTest:
		return "TEST"
	case StateProv:
		return "PROV"
	case StateRun:
		return "RUN"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseState converts the configuration name of a boot state.
func ParseState(name string) (State, error) {
	switch name {
	case "test":
		return StateTest, nil
	case "prov":
		return StateProv, nil
	case "run":
		return StateRun, nil
	}
	return 0, fmt.Errorf("unknown boot state '%s'", name)
}

// Sleeper puts the board into standby.
type Sleeper interface {
	// Standby sleeps for `seconds`, returning early with pin set if the wakeup pin fires and `respondToPin` is true.
	Standby(ctx context.Context, seconds uint32, respondToPin bool) (pin bool, err error)
}

type Watchdog interface {
	Kick()
}

// Clock is the real time clock of the board.
type Clock interface {
	Now() time.Time
	Set(t time.Time) error
}

// Resetter restarts the board.
type Resetter interface {
	Reset(reason string)
}

// Observer is told about the outcome of every wake, e.g. for metrics.
type Observer interface {
	Wake(flag string)
	OverflowDropped(group string)
	ConsecutiveErrors(n uint16)
	PlannedSleep(secs uint32)
}

type noopObserver struct{}

func (noopObserver) Wake(string)              {}
func (noopObserver) OverflowDropped(string)   {}
func (noopObserver) ConsecutiveErrors(uint16) {}
func (noopObserver) PlannedSleep(uint32)      {}

// Hook reads sensors and records the readings of one metric group.
type Hook func(ctx context.Context, r *Recorder) error

// Hooks are the user supplied board functions. Any of them may be nil.
type Hooks struct {
	Setup           func(ctx context.Context) error
	SelfTest        func(ctx context.Context) error
	MetricGroupA    Hook
	MetricGroupB    Hook
	MetricGroupC    Hook
	MetricGroupD    Hook
	HandleInterrupt Hook
}

func (h Hooks) group(g records.Group) Hook {
	switch g {
	case records.GroupA:
		return h.MetricGroupA
	case records.GroupB:
		return h.MetricGroupB
	case records.GroupC:
		return h.MetricGroupC
	case records.GroupD:
		return h.MetricGroupD
	case records.GroupInterrupt:
		return h.HandleInterrupt
	}
	return nil
}

// Board holds the hardware collaborators of a node.
type Board struct {
	Sleeper  Sleeper
	Watchdog Watchdog
	Clock    Clock
	Resetter Resetter
	Observer Observer // optional
}

// Config holds the node settings that are loaded into the store on every boot.
type Config struct {
	Identity       records.DeviceIdentity
	Capacities     metricgroup.Capacities
	Intervals      records.GroupTable
	Schedule       []records.ScheduleEntry
	SendTimes      []uint32
	ClockSync      records.ClockSyncConfig
	Scheduler      scheduler.Settings
	ErrorThreshold uint16
}

// Node runs the sense and send cycle of a battery powered sensing node. Everything that has to survive deep sleep or
// a reset is kept in the store.
type Node struct {
	store    store.Store
	radio    radio.Transport
	board    Board
	hooks    Hooks
	config   Config
	observer Observer

	engine *scheduler.Engine
	groups *metricgroup.Manager
	sender *transmit.Sender
	errors *errtrack.Tracker

	state       State
	initialised bool
	logger      *slog.Logger
}

func New(s store.Store, transport radio.Transport, board Board, hooks Hooks, config Config, boot State) (*Node, error) {
	if s == nil || transport == nil {
		return nil, errors.New("a store and a radio are required")
	}
	if board.Sleeper == nil || board.Watchdog == nil || board.Clock == nil || board.Resetter == nil {
		return nil, errors.New("the board sleeper, watchdog, clock and resetter are required")
	}
	observer := board.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	var sendObserver transmit.Observer
	if o, ok := observer.(transmit.Observer); ok {
		sendObserver = o
	}

	tracker := errtrack.New(s, config.ErrorThreshold)
	groups, err := metricgroup.New(s, config.Capacities, tracker)
	if err != nil {
		return nil, fmt.Errorf("create metric groups: %w", err)
	}
	engine := scheduler.New(s, config.Scheduler)

	return &Node{
		store:    s,
		radio:    transport,
		board:    board,
		hooks:    hooks,
		config:   config,
		observer: observer,
		engine:   engine,
		groups:   groups,
		sender:   transmit.New(s, groups, engine, tracker, transport, sendObserver),
		errors:   tracker,
		state:    boot,
		logger:   slog.Default().With("component", "node", "radio", transport.Stack()),
	}, nil
}

func (n *Node) State() State { return n.state }

// Run steps the node until the context is cancelled. Errors in a wake are logged and the node carries on; a failed
// self test, provisioning or initialisation, or an escalation of consecutive errors, ends the run.
func (n *Node) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := n.Step(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !n.initialised || errors.Is(err, errtrack.ErrEscalate) {
			return err
		}
		n.logger.Error("Wake failed", "error", err)
	}
}

// Step performs the work of the current state: the self test, provisioning, the one off initialisation, or one sleep
// and wake of the run state.
func (n *Node) Step(ctx context.Context) error {
	switch n.state {
	case StateTest:
		if n.hooks.SelfTest != nil {
			if err := n.hooks.SelfTest(ctx); err != nil {
				return fmt.Errorf("self test: %w", err)
			}
		}
		n.advance(StateProv)
		return nil

	case StateProv:
		if err := n.Provision(n.config.Identity); err != nil {
			return err
		}
		n.advance(StateRun)
		return nil

	case StateRun:
		if !n.initialised {
			return n.Initialise(ctx)
		}
		if err := n.Sleep(ctx); err != nil {
			return err
		}
		return n.Cycle(ctx)
	}
	return fmt.Errorf("unknown state %s", n.state)
}

func (n *Node) advance(to State) {
	if to <= n.state {
		return
	}
	n.logger.Info("Changing state", "from", n.state, "to", to)
	n.state = to
}

// Provision writes the radio credentials.
func (n *Node) Provision(identity records.DeviceIdentity) error {
	_, err := store.CreateOrOpen(n.store, records.DeviceIdentityFile, records.DeviceIdentitySize, 1)
	if err != nil {
		return fmt.Errorf("create identity file: %w", err)
	}
	err = n.store.Write(records.DeviceIdentityFile, 0, identity.Marshal())
	if err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	n.logger.Info("Provisioned device identity", "mode", identity.Mode)
	return nil
}

// Identity returns the provisioned radio credentials.
func (n *Node) Identity() (records.DeviceIdentity, error) {
	var identity records.DeviceIdentity
	b, err := n.store.Read(records.DeviceIdentityFile, 0, records.DeviceIdentitySize)
	if err != nil {
		return identity, fmt.Errorf("read identity: %w", err)
	}
	err = identity.Unmarshal(b)
	return identity, err
}

// Initialise creates every file and loads the configured schedules, then anchors the scheduler and plans the first
// wake. Any storage failure is fatal.
func (n *Node) Initialise(ctx context.Context) error {
	if err := n.initialise(ctx); err != nil {
		return fmt.Errorf("initialise: %w", err)
	}
	n.initialised = true
	return nil
}

func (n *Node) initialise(ctx context.Context) error {
	if err := n.errors.Init(); err != nil {
		return err
	}
	if _, err := store.CreateOrOpen(n.store, records.DeviceIdentityFile, records.DeviceIdentitySize, 1); err != nil {
		return fmt.Errorf("create identity file: %w", err)
	}
	if err := n.groups.Init(); err != nil {
		return err
	}
	if err := n.engine.Init(); err != nil {
		return err
	}
	if err := n.sender.Init(); err != nil {
		return err
	}

	if err := n.engine.OverwriteSchedule(n.config.Schedule); err != nil {
		return err
	}
	if err := n.engine.OverwriteSendSchedule(n.config.SendTimes); err != nil {
		return err
	}
	if err := n.engine.SetIntervals(n.config.Intervals); err != nil {
		return err
	}
	if err := n.engine.SetClockSync(n.config.ClockSync); err != nil {
		return err
	}

	if n.hooks.Setup != nil {
		if err := n.hooks.Setup(ctx); err != nil {
			return fmt.Errorf("setup: %w", err)
		}
	}

	now := timeutils.SecondOfDay(n.board.Clock.Now())
	if err := n.engine.Start(now); err != nil {
		return err
	}
	delay, err := n.engine.Plan(now)
	if err != nil {
		return err
	}
	n.observer.PlannedSleep(delay)

	n.logger.Info("Initialised", "now", timeutils.ClockTimeFromSeconds(now), "first_wake_secs", delay)
	return nil
}
