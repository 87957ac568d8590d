package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/arloliu/radbridge/config"
	"github.com/arloliu/radbridge/logger"
)

// Build information, set via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "radbridge",
		Usage:   "Bridge a Radiacode radiation detector to MQTT or NATS",
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Options file (YAML or JSON)",
				EnvVars: []string{"RADBRIDGE_CONFIG"},
				Value:   config.DefaultPath,
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging and raw_fields publishing",
			},
		},
		Action: runCommand,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the bridge (default)",
				Action: runCommand,
			},
			{
				Name:  "scan",
				Usage: "Scan for a BLE device advertisement",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "mac", Usage: "Device address; defaults to radiacode_mac", Aliases: []string{"m"}},
					&cli.DurationFlag{Name: "duration", Usage: "Scan duration", Value: 5 * time.Second, Aliases: []string{"d"}},
				},
				Action: scanCommand,
			},
			{
				Name:   "config",
				Usage:  "Print the effective configuration as YAML",
				Action: configCommand,
			},
		},
	}
}

// loadConfig loads the options file and sets up the default logger.
func loadConfig(c *cli.Context) (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if c.Bool("debug") {
		cfg.Debug = true
	}

	level := logger.InfoLevel
	if cfg.Debug {
		level = logger.DebugLevel
	}
	l := logger.NewSlog(level, cfg.Debug,
		logger.WithOutput(os.Stdout),
		logger.WithConsole(cfg.Log.Format == config.LogConsole),
		logger.WithFile(logger.FileConfig{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		}),
	)
	logger.SetDefault(l)

	for _, w := range cfg.Warnings {
		l.Warn("config value replaced by default", "detail", w)
	}

	return cfg, l, nil
}

func configCommand(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	for _, w := range cfg.Warnings {
		fmt.Fprintf(c.App.ErrWriter, "warning: %s\n", w)
	}

	out, err := cfg.YAML()
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write(out)

	return err
}
