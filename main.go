package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thinkpilot/nodeflow/api"
	"github.com/thinkpilot/nodeflow/config"
	"github.com/thinkpilot/nodeflow/host"
	"github.com/thinkpilot/nodeflow/modbus"
	"github.com/thinkpilot/nodeflow/node"
	"github.com/thinkpilot/nodeflow/radio"
	"github.com/thinkpilot/nodeflow/records"
	"github.com/thinkpilot/nodeflow/scheduler"
	"github.com/thinkpilot/nodeflow/store"
	"github.com/thinkpilot/nodeflow/supabase"
	"github.com/thinkpilot/nodeflow/telemetry"
)

func main() {

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	// a .env file is optional, the environment is used as is without one
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	if err := run(); err != nil {
		slog.Error("Node stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("Exiting")
}

func run() error {
	configPath := getenv("NODEFLOW_CONFIG", "config.json")
	cfg, err := config.Read(configPath)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	slog.Info("Starting node...", "node_id", cfg.NodeID, "boot_state", cfg.BootState, "radio", cfg.Radio.Stack)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	nodeConfig, err := nodeConfig(cfg)
	if err != nil {
		return err
	}

	st, err := store.NewSQLiteStore(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	transport, err := newTransport(cfg, nodeConfig.Identity)
	if err != nil {
		return err
	}

	metrics, err := telemetry.New(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	hooks, closeHooks, err := newHooks(cfg)
	if err != nil {
		return err
	}
	defer closeHooks()

	speedup, err := strconv.ParseFloat(getenv("NODEFLOW_SPEEDUP", "1"), 64)
	if err != nil {
		return fmt.Errorf("parse NODEFLOW_SPEEDUP: %w", err)
	}

	pin := make(chan struct{}, 1)
	clock := host.NewClock()
	board := node.Board{
		Sleeper:  host.NewSleeper(clock, pin, speedup),
		Watchdog: host.NewWatchdog(clock),
		Clock:    clock,
		Resetter: host.NewResetter(cancel),
		Observer: metrics,
	}

	boot, err := node.ParseState(string(cfg.BootState))
	if err != nil {
		return err
	}
	n, err := node.New(st, transport, board, hooks, nodeConfig, boot)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}

	if cfg.MetricsAddr != "" {
		server := api.New(cfg.MetricsAddr, n, pin, promhttp.Handler())
		go func() {
			if err := server.Run(ctx); err != nil {
				slog.Error("API server stopped", "error", err)
			}
		}()
	}

	err = n.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// nodeConfig converts the file configuration into the settings loaded into the store at boot.
func nodeConfig(cfg config.Config) (node.Config, error) {
	identity, err := cfg.Identity()
	if err != nil {
		return node.Config{}, err
	}
	schedule, err := cfg.Schedule()
	if err != nil {
		return node.Config{}, err
	}
	sendTimes, err := cfg.SendTimes()
	if err != nil {
		return node.Config{}, err
	}
	clockSync, err := cfg.ClockSyncRecord()
	if err != nil {
		return node.Config{}, err
	}

	return node.Config{
		Identity:   identity,
		Capacities: cfg.Capacities(),
		Intervals:  cfg.Intervals(),
		Schedule:   schedule,
		SendTimes:  sendTimes,
		ClockSync:  clockSync,
		Scheduler: scheduler.Settings{
			SendIntervalSecs:      cfg.Send.IntervalSecs,
			SensesPerSend:         cfg.Send.SensesPerSend,
			ClockSyncIntervalSecs: cfg.ClockSync.IntervalSecs,
			MaxSleepSecs:          cfg.MaxSleepSecs,
		},
		ErrorThreshold: cfg.ErrorThreshold,
	}, nil
}

// newTransport creates the configured radio. On a host only the emulated radio has a driver, the LoRaWAN and NB-IoT
// stacks need the board's MAC and modem.
func newTransport(cfg config.Config, identity records.DeviceIdentity) (radio.Transport, error) {
	stack, err := radio.ParseStack(cfg.Radio.Stack)
	if err != nil {
		return nil, err
	}

	switch stack {
	case radio.StackEmulated:
		gateway, err := supabase.New(
			cfg.Supabase.Url,
			os.Getenv("SUPABASE_ANON_KEY"),
			os.Getenv("SUPABASE_USER_KEY"),
			cfg.Supabase.Schema,
			cfg.NodeID,
		)
		if err != nil {
			return nil, fmt.Errorf("create supabase gateway: %w", err)
		}
		return radio.NewEmulated(gateway, cfg.Radio.MaxPayload), nil
	}

	slog.Info("Radio stack needs board drivers", "stack", stack, "mode", identity.Mode)
	return nil, fmt.Errorf("radio stack %s is not available on a host", stack)
}

// newHooks polls the configured modbus sensor for every metric group that has a schedule.
func newHooks(cfg config.Config) (node.Hooks, func(), error) {
	if cfg.Modbus == nil {
		slog.Warn("No sensor configured, metric groups will record nothing")
		return node.Hooks{}, func() {}, nil
	}

	client, err := modbus.NewClient(cfg.Modbus.Host, cfg.Modbus.UnitID)
	if err != nil {
		return node.Hooks{}, nil, fmt.Errorf("create modbus client: %w", err)
	}
	sensor := modbus.NewSensor(client)

	poll := func(ctx context.Context, r *node.Recorder) error {
		reading, err := sensor.Poll()
		if err != nil {
			return err
		}
		slog.Debug("Polled sensor", "group", r.Group(), "temperature", reading.Temperature, "humidity", reading.Humidity, "battery", reading.Battery)
		return r.AddRecord(reading.Record())
	}

	hooks := node.Hooks{}
	for _, g := range records.ScheduledGroups {
		if _, ok := cfg.Groups[g.String()]; !ok {
			continue
		}
		switch g {
		case records.GroupA:
			hooks.MetricGroupA = poll
		case records.GroupB:
			hooks.MetricGroupB = poll
		case records.GroupC:
			hooks.MetricGroupC = poll
		case records.GroupD:
			hooks.MetricGroupD = poll
		}
	}
	hooks.HandleInterrupt = func(ctx context.Context, r *node.Recorder) error {
		r.UploadNow()
		return poll(ctx, r)
	}

	return hooks, func() { client.Close() }, nil
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
