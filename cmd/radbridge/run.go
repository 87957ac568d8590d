package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/radbridge/bridge"
	"github.com/arloliu/radbridge/bus"
	"github.com/arloliu/radbridge/cadence"
	"github.com/arloliu/radbridge/config"
	"github.com/arloliu/radbridge/device"
	"github.com/arloliu/radbridge/device/blescan"
	"github.com/arloliu/radbridge/device/helperproc"
	"github.com/arloliu/radbridge/internal/clock"
	"github.com/arloliu/radbridge/logger"
	"github.com/arloliu/radbridge/metrics"
	"github.com/arloliu/radbridge/recovery"
)

const (
	busConnectWait  = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

type busClient interface {
	bus.Publisher
	Connect(ctx context.Context) error
}

func newBusClient(cfg *config.Config, topics bus.Topics, deviceID string, l logger.Logger) busClient {
	if cfg.Bus.Kind == config.BusNATS {
		return bus.NewNATSClient(bus.NATSConfig{
			URL:       cfg.NATS.URL,
			Name:      "radbridge-" + deviceID,
			Username:  cfg.NATS.Username,
			Password:  cfg.NATS.Password,
			WillTopic: topics.Availability,
		}, l)
	}

	return bus.NewMQTTClient(bus.MQTTConfig{
		Host:      cfg.MQTT.Host,
		Port:      cfg.MQTT.Port,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		ClientID:  "radbridge-" + deviceID,
		WillTopic: topics.Availability,
	}, l)
}

func newAdapter(cfg *config.Config, target device.Target, l logger.Logger) *device.Adapter {
	driver := helperproc.New(cfg.Helper.Command, cfg.Helper.Args, helperproc.WithLogger(l))

	opts := []device.AdapterOption{
		device.WithLogger(l),
		device.WithConnectTimeout(cfg.BLEConnectTimeout()),
		device.WithRecoveryHook(device.NewProcessKillHook(cfg.Helper.KillPatterns, l)),
	}
	if target.Mode == device.ModeBLE && cfg.BLEScanEnabled {
		opts = append(opts, device.WithScanner(blescan.New(l)))
	}

	adapter := device.NewAdapter(driver, opts...)
	if target.Mode == device.ModeBLE {
		l.Info("BLE connect bounded", "connect_timeout", adapter.ConnectTimeout(), "scan", cfg.BLEScanEnabled)
	}

	return adapter
}

func runCommand(c *cli.Context) error {
	cfg, l, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()
	target := cfg.Target()
	deviceID := target.DeviceID()
	units := cfg.Units()
	topics := bus.NewTopics(cfg.MQTT.TopicPrefix, deviceID)

	l.Info("starting radbridge",
		"version", Version,
		"mode", target.Mode,
		"device_id", deviceID,
		"bus", cfg.Bus.Kind,
		"poll_interval", cfg.PollInterval(),
		"first_data_timeout", cfg.FirstDataTimeout(),
		"watchdog", cfg.Watchdog(),
		"rate_unit", units.RateUnit(),
		"dose_unit", units.DoseUnit(),
	)

	// The bus comes up first so status messages are visible while the device
	// connect is still pending.
	client := newBusClient(cfg, topics, deviceID, l)
	connectCtx, cancel := context.WithTimeout(ctx, busConnectWait)
	if err := client.Connect(connectCtx); err != nil {
		l.Warn("bus not connected yet, continuing in the background", "error", err)
	}
	cancel()

	cad := cadence.NewManager(clk.Now(),
		cadence.WithStatusEvery(cfg.StatusPublishEvery()),
		cadence.WithSpectrum(cfg.Spectrum.Enabled, cfg.SpectrumInterval()),
	)

	br := bridge.New(bridge.Config{
		Topics: topics,
		Units:  units,
		Discovery: bus.DiscoveryConfig{
			Prefix:   cfg.MQTT.DiscoveryPrefix,
			DeviceID: deviceID,
			Topics:   topics,
			Units:    units,
		},
		DiscoveryEnabled: cfg.MQTT.Discovery && cfg.Bus.Kind == config.BusMQTT,
		Debug:            cfg.Debug,
		SpectrumRetain:   cfg.Spectrum.Retain,
		PollInterval:     cfg.PollInterval(),
		Clock:            clk,
		Logger:           l,
	}, client, cad)

	rcfg, err := recovery.NewConfig(target,
		recovery.WithScan(cfg.BLEScanEnabled, cfg.BLEScanDuration()),
		recovery.WithMaxRecoveries(cfg.BLEMaxRecoveriesBeforeExit),
		recovery.WithBackoff(cfg.BLEBackoff(), cfg.BLEBackoffMax()),
		recovery.WithWatchdog(cfg.Watchdog()),
		recovery.WithFirstDataTimeout(cfg.FirstDataTimeout()),
		recovery.WithPollInterval(cfg.PollInterval()),
		recovery.WithClock(clk),
		recovery.WithLogger(l),
	)
	if err != nil {
		return fmt.Errorf("recovery config: %w", err)
	}

	ctrl, err := recovery.NewController(rcfg, newAdapter(cfg, target, l), br.Notifier())
	if err != nil {
		return err
	}
	br.Attach(ctrl)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return br.Run(gctx)
	})

	if cfg.Metrics.Listen != "" {
		srv, err := metrics.NewServer(cfg.Metrics.Listen, metrics.Sources{
			Recovery: ctrl.Metrics(),
			Bridge:   br.Metrics(),
			StateMgr: ctrl.StateMgr(),
			Cadence:  cad,
			Clock:    clk,
		}, 3*cfg.PollInterval()+metrics.DefaultHealthMaxAge, l)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return srv.Serve(gctx)
		})
	}

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := br.Shutdown(shutdownCtx); err != nil {
		l.Warn("bus close failed", "error", err)
	}

	switch {
	case runErr == nil, errors.Is(runErr, context.Canceled):
		l.Info("shutdown finished")
		return nil
	case errors.Is(runErr, recovery.ErrExhausted):
		l.Error("exiting for restart", "error", runErr)
		return cli.Exit(runErr.Error(), 1)
	default:
		return runErr
	}
}

func scanCommand(c *cli.Context) error {
	cfg, l, err := loadConfig(c)
	if err != nil {
		return err
	}

	mac := c.String("mac")
	if mac == "" {
		mac = cfg.RadiacodeMAC
	}
	if mac == "" {
		return cli.Exit("no device address: pass --mac or set radiacode_mac", 2)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	seen, err := blescan.New(l).Scan(ctx, mac, c.Duration("duration"))
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	if !seen {
		fmt.Fprintf(c.App.Writer, "%s not seen\n", mac)
		return cli.Exit("", 1)
	}
	fmt.Fprintf(c.App.Writer, "%s seen\n", mac)

	return nil
}
