package config

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/thinkpilot/nodeflow/records"
	timeutils "github.com/thinkpilot/nodeflow/time_utils"
)

const (
	defaultGroupCapacity   = 512
	defaultErrorThreshold  = 10
	defaultSensesPerSend   = 10
	defaultStorePath       = "nodeflow.db"
	defaultClockSyncPeriod = 86400
)

// BootState selects which stage of the run state machine the node starts in.
type BootState string

const (
	BootTest BootState = "test"
	BootProv BootState = "prov"
	BootRun  BootState = "run"
)

type IdentityConfig struct {
	Mode    string `json:"mode"` // "otaa" or "abp"
	DevEUI  string `json:"devEui"`
	AppEUI  string `json:"appEui"`
	AppKey  string `json:"appKey"`
	DevAddr string `json:"devAddr"`
	NwkSKey string `json:"nwkSKey"`
	AppSKey string `json:"appSKey"`
}

type RadioConfig struct {
	Stack      string         `json:"stack"` // "lorawan", "nbiot" or "emulated"
	MaxPayload int            `json:"maxPayload"`
	Confirmed  bool           `json:"confirmed"`
	Identity   IdentityConfig `json:"identity"`
}

// GroupConfig declares when a metric group is read. Either an interval or a list of HH.MM times of day is given.
type GroupConfig struct {
	IntervalSecs uint32    `json:"intervalSecs"`
	Times        []float64 `json:"times"`
	Capacity     int       `json:"capacity"`
}

type SendConfig struct {
	IntervalSecs  uint32    `json:"intervalSecs"`
	SensesPerSend uint16    `json:"sensesPerSend"`
	Times         []float64 `json:"times"`
}

type ClockSyncConfig struct {
	Enabled      bool    `json:"enabled"`
	Time         float64 `json:"time"`
	IntervalSecs uint32  `json:"intervalSecs"`
}

type ModbusConfig struct {
	Host   string `json:"host"`
	UnitID uint8  `json:"unitId"`
}

type SupabaseConfig struct {
	Url string `json:"url"`
	// keys are specified via env vars
	Schema string `json:"schema"`
}

type Config struct {
	NodeID            uuid.UUID              `json:"nodeId"`
	BootState         BootState              `json:"bootState"`
	StorePath         string                 `json:"storePath"`
	Radio             RadioConfig            `json:"radio"`
	Groups            map[string]GroupConfig `json:"groups"`
	InterruptCapacity int                    `json:"interruptCapacity"`
	Send              SendConfig             `json:"send"`
	ClockSync         ClockSyncConfig        `json:"clockSync"`
	ErrorThreshold    uint16                 `json:"errorThreshold"`
	MaxSleepSecs      uint32                 `json:"maxSleepSecs"`
	Modbus            *ModbusConfig          `json:"modbus"`
	Supabase          *SupabaseConfig        `json:"supabase"`
	MetricsAddr       string                 `json:"metricsAddr"`
}

func Read(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var config Config
	err = json.Unmarshal(content, &config)
	if err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	config.applyDefaults()

	err = config.Validate()
	if err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

func (c *Config) applyDefaults() {
	if c.BootState == "" {
		c.BootState = BootRun
	}
	if c.StorePath == "" {
		c.StorePath = defaultStorePath
	}
	if c.Radio.Stack == "" {
		c.Radio.Stack = "emulated"
	}
	if c.ErrorThreshold == 0 {
		c.ErrorThreshold = defaultErrorThreshold
	}
	if c.Send.IntervalSecs == 0 && c.Send.SensesPerSend == 0 && len(c.Send.Times) == 0 {
		c.Send.SensesPerSend = defaultSensesPerSend
	}
	if c.ClockSync.Enabled && c.ClockSync.IntervalSecs == 0 {
		c.ClockSync.IntervalSecs = defaultClockSyncPeriod
	}
	if c.InterruptCapacity == 0 {
		c.InterruptCapacity = defaultGroupCapacity
	}
	for name, group := range c.Groups {
		if group.Capacity == 0 {
			group.Capacity = defaultGroupCapacity
			c.Groups[name] = group
		}
	}
}

// Validate checks the configuration is consistent, returning every problem found.
func (c *Config) Validate() error {
	var errs []error

	switch c.BootState {
	case BootTest, BootProv, BootRun:
	default:
		errs = append(errs, fmt.Errorf("unknown boot state '%s'", c.BootState))
	}

	if c.NodeID == uuid.Nil {
		errs = append(errs, errors.New("nodeId is required"))
	}

	for name, group := range c.Groups {
		g, err := records.ParseGroup(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if name != g.String() {
			errs = append(errs, fmt.Errorf("group '%s' must be named '%s'", name, g))
			continue
		}
		if group.IntervalSecs != 0 && len(group.Times) != 0 {
			errs = append(errs, fmt.Errorf("group %s: both intervalSecs and times are given", name))
		}
		for _, t := range group.Times {
			if _, err := timeutils.ParseHHMM(t); err != nil {
				errs = append(errs, fmt.Errorf("group %s: %w", name, err))
			}
		}
	}

	for _, t := range c.Send.Times {
		if _, err := timeutils.ParseHHMM(t); err != nil {
			errs = append(errs, fmt.Errorf("send: %w", err))
		}
	}

	if c.ClockSync.Enabled {
		if _, err := timeutils.ParseHHMM(c.ClockSync.Time); err != nil {
			errs = append(errs, fmt.Errorf("clock sync: %w", err))
		}
	}

	if _, err := c.Identity(); err != nil {
		errs = append(errs, err)
	}

	if c.Radio.Stack == "emulated" && c.Supabase == nil {
		errs = append(errs, errors.New("the emulated radio requires a supabase gateway"))
	}

	return errors.Join(errs...)
}

// Capacities returns the region size of each metric group, the interrupt pseudo group last.
func (c *Config) Capacities() [records.NumGroups]int {
	var capacities [records.NumGroups]int
	for _, g := range records.ScheduledGroups {
		capacities[g] = defaultGroupCapacity
		if group, ok := c.Groups[g.String()]; ok && group.Capacity != 0 {
			capacities[g] = group.Capacity
		}
	}
	capacities[records.GroupInterrupt] = c.InterruptCapacity
	return capacities
}

// Intervals returns the period of every interval group, 0 for groups that are clock based or not configured.
func (c *Config) Intervals() records.GroupTable {
	var table records.GroupTable
	for _, g := range records.ScheduledGroups {
		table[g] = c.Groups[g.String()].IntervalSecs
	}
	return table
}

// Schedule returns the clock based sensing times of every group.
func (c *Config) Schedule() ([]records.ScheduleEntry, error) {
	var entries []records.ScheduleEntry
	for _, g := range records.ScheduledGroups {
		for _, t := range c.Groups[g.String()].Times {
			clock, err := timeutils.ParseHHMM(t)
			if err != nil {
				return nil, fmt.Errorf("group %s: %w", g, err)
			}
			entries = append(entries, records.ScheduleEntry{TimeOfDay: clock.Seconds(), Group: g})
		}
	}
	return entries, nil
}

// SendTimes returns the forced upload times as seconds of the day.
func (c *Config) SendTimes() ([]uint32, error) {
	times := make([]uint32, 0, len(c.Send.Times))
	for _, t := range c.Send.Times {
		clock, err := timeutils.ParseHHMM(t)
		if err != nil {
			return nil, fmt.Errorf("send: %w", err)
		}
		times = append(times, clock.Seconds())
	}
	return times, nil
}

func (c *Config) ClockSyncRecord() (records.ClockSyncConfig, error) {
	if !c.ClockSync.Enabled {
		return records.ClockSyncConfig{}, nil
	}
	clock, err := timeutils.ParseHHMM(c.ClockSync.Time)
	if err != nil {
		return records.ClockSyncConfig{}, fmt.Errorf("clock sync: %w", err)
	}
	return records.ClockSyncConfig{TimeOfDay: clock.Seconds(), Enabled: true}, nil
}

// Identity decodes the hex encoded radio credentials. Empty fields are left zero.
func (c *Config) Identity() (records.DeviceIdentity, error) {
	id := c.Radio.Identity
	var identity records.DeviceIdentity

	switch id.Mode {
	case "", "otaa":
		identity.Mode = records.OTAA
	case "abp":
		identity.Mode = records.ABP
	default:
		return records.DeviceIdentity{}, fmt.Errorf("unknown activation mode '%s'", id.Mode)
	}

	fields := []struct {
		name string
		hex  string
		dst  []byte
	}{
		{"devEui", id.DevEUI, identity.DevEUI[:]},
		{"appEui", id.AppEUI, identity.AppEUI[:]},
		{"appKey", id.AppKey, identity.AppKey[:]},
		{"nwkSKey", id.NwkSKey, identity.NetSessionKey[:]},
		{"appSKey", id.AppSKey, identity.AppSessionKey[:]},
	}
	for _, f := range fields {
		if err := decodeHex(f.name, f.hex, f.dst); err != nil {
			return records.DeviceIdentity{}, err
		}
	}

	if id.DevAddr != "" {
		addr, err := strconv.ParseUint(id.DevAddr, 16, 32)
		if err != nil {
			return records.DeviceIdentity{}, fmt.Errorf("devAddr: %w", err)
		}
		identity.DevAddr = uint32(addr)
	}

	return identity, nil
}

func decodeHex(name, s string, dst []byte) error {
	if s == "" {
		return nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if len(b) != len(dst) {
		return fmt.Errorf("%s: got %d bytes, want %d", name, len(b), len(dst))
	}
	copy(dst, b)
	return nil
}
