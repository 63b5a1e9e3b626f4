// pushover-agent logs in to Pushover as a desktop device and runs an external
// command for every notification it receives.
//
// Register a new device (record the printed device id for later runs):
//
//	pushover-agent --login-email=<email> --login-pass=<password> \
//	  --device-name=<name> --command-bin=/usr/local/bin/heyu
//
// Run with a registered device:
//
//	pushover-agent --login-email=<email> --login-pass=<password> \
//	  --device-id=<id> --command-bin=/usr/local/bin/heyu
//
// The process exits 0 when the service asks it to stop or the login is
// rejected, so a process manager that restarts on failure leaves it alone.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	pushover "github.com/pushctl/pushover-agent"
	"github.com/pushctl/pushover-agent/internal/logutils"
	"github.com/pushctl/pushover-agent/status"
)

var version = "dev"

type flags struct {
	ConfigPath     string
	LogLevel       string
	LogFile        string
	LogJSON        bool
	Email          string
	Password       string
	CommandPath    string
	DeviceName     string
	DeviceID       string
	CommandTitles  []string
	StatusAddr     string
	RestartDelay   time.Duration
	DiscardBacklog bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		f         flags
		logCloser func()
	)

	app := &cli.Command{
		Name:    "pushover-agent",
		Usage:   "Run a command for every Pushover notification",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to YAML config file",
				Sources:     cli.EnvVars("PUSHOVER_CONFIG"),
				Destination: &f.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("PUSHOVER_LOG_LEVEL"),
				Value:       "info",
				Destination: &f.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "path to log file (defaults to stdout)",
				Sources:     cli.EnvVars("PUSHOVER_LOG_FILE"),
				Destination: &f.LogFile,
			},
			&cli.BoolFlag{
				Name:        "log-json",
				Usage:       "write JSON log lines instead of human readable ones",
				Destination: &f.LogJSON,
			},
			&cli.StringFlag{
				Name:        "login-email",
				Usage:       "Pushover account login email address",
				Sources:     cli.EnvVars("PUSHOVER_EMAIL"),
				Destination: &f.Email,
			},
			&cli.StringFlag{
				Name:        "login-pass",
				Usage:       "Pushover account login password (prompted when unset on a terminal)",
				Sources:     cli.EnvVars("PUSHOVER_PASSWORD"),
				Destination: &f.Password,
			},
			&cli.StringFlag{
				Name:        "command-bin",
				Usage:       "absolute path to the command invoked for notifications",
				Sources:     cli.EnvVars("PUSHOVER_COMMAND"),
				Destination: &f.CommandPath,
			},
			&cli.StringFlag{
				Name:        "device-name",
				Usage:       "desktop device name; registers the device on every run",
				Sources:     cli.EnvVars("PUSHOVER_DEVICE_NAME"),
				Destination: &f.DeviceName,
			},
			&cli.StringFlag{
				Name:        "device-id",
				Usage:       "id of a device registered on an earlier run",
				Sources:     cli.EnvVars("PUSHOVER_DEVICE_ID"),
				Destination: &f.DeviceID,
			},
			&cli.StringSliceFlag{
				Name:        "command-title",
				Usage:       "notification title that triggers the command (repeatable)",
				Destination: &f.CommandTitles,
			},
			&cli.StringFlag{
				Name:        "status-addr",
				Usage:       "serve /healthz and /status on this address",
				Sources:     cli.EnvVars("PUSHOVER_STATUS_ADDR"),
				Destination: &f.StatusAddr,
			},
			&cli.DurationFlag{
				Name:        "restart-delay",
				Usage:       "pause before reconnecting",
				Value:       pushover.DefaultRestartDelay,
				Destination: &f.RestartDelay,
			},
			&cli.BoolFlag{
				Name:        "discard-backlog",
				Usage:       "acknowledge notifications pending at startup without running the command",
				Destination: &f.DiscardBacklog,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			logger, closer, err := logutils.New(f.LogLevel, f.LogFile, !f.LogJSON)
			if err != nil {
				return ctx, fmt.Errorf("setup logger: %w", err)
			}
			log.Logger = logger
			logCloser = closer
			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if logCloser != nil {
				logCloser()
			}
			return nil
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := buildConfig(c, f)
			if err != nil {
				return err
			}
			return run(ctx, cfg, f.StatusAddr, log.Logger)
		},
	}

	exitCode := 0
	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		exitCode = 1
	}

	stop()
	os.Exit(exitCode)
}

// buildConfig layers explicitly set flags over the config file.
func buildConfig(c *cli.Command, f flags) (pushover.Config, error) {
	cfg, err := pushover.LoadConfigFile(f.ConfigPath)
	if err != nil {
		return cfg, err
	}

	overlay := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	overlay(&cfg.Email, f.Email)
	overlay(&cfg.Password, f.Password)
	overlay(&cfg.CommandPath, f.CommandPath)
	if f.DeviceName != "" || f.DeviceID != "" {
		cfg.DeviceName, cfg.DeviceID = f.DeviceName, f.DeviceID
	}
	if len(f.CommandTitles) > 0 {
		cfg.CommandTitles = f.CommandTitles
	}
	if c.IsSet("restart-delay") {
		cfg.RestartDelay = f.RestartDelay
		if cfg.MaxRestartDelay < cfg.RestartDelay {
			cfg.MaxRestartDelay = cfg.RestartDelay
		}
	}
	if f.DiscardBacklog {
		cfg.DiscardBacklog = true
	}

	if cfg.Password == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, "Pushover password: ")
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return cfg, fmt.Errorf("read password: %w", err)
		}
		cfg.Password = string(pw)
	}

	return cfg, nil
}

func run(ctx context.Context, cfg pushover.Config, statusAddr string, logger zerolog.Logger) error {
	agent, err := pushover.NewAgent(cfg, pushover.WithLogger(logger))
	if err != nil {
		return err
	}

	if statusAddr != "" {
		srv := status.NewServer(statusAddr, agent, logger.With().Str("component", "status").Logger())
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("status server stopped")
			}
		}()
	}

	err = agent.Run(ctx)
	if errors.Is(err, pushover.ErrLoginFailed) {
		// Exit normally so a supervising process manager does not restart
		// with credentials that will keep failing.
		logger.Error().Err(err).Msg("exiting")
		return nil
	}
	return err
}
