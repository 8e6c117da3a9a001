// Command gantryio drives the instrument's light, trigger and spare pins, its
// two pwm channels and its converter from the shell.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/edaniels/golog"
	"github.com/urfave/cli/v2"

	"github.com/mhp/gantryio/board"
	"github.com/mhp/gantryio/hwfile"
)

const (
	flagConfig   = "config"
	flagFake     = "fake"
	flagDebug    = "debug"
	flagFor      = "for"
	flagInterval = "interval"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:            "gantryio",
		Usage:           "drive the instrument's pins, pwm channels and converter",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:  flagFake,
				Usage: "use in-memory hardware instead of sysfs and i2c",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "initialize the board and report what came up",
				Action: statusAction,
			},
			{
				Name:      "pulse",
				Usage:     "emit a pulse train on the trigger pin",
				ArgsUsage: "COUNT WAIT_US",
				Action:    pulseAction,
			},
			{
				Name:      "lights",
				Usage:     "switch the light pin",
				ArgsUsage: "on|off",
				Flags:     []cli.Flag{holdFlag()},
				Action:    levelAction(lights),
			},
			{
				Name:      "spare",
				Usage:     "switch the spare pin",
				ArgsUsage: "on|off",
				Flags:     []cli.Flag{holdFlag()},
				Action:    levelAction(spare),
			},
			{
				Name:      "pwm",
				Usage:     "run a pwm channel",
				ArgsUsage: "CHANNEL DUTY FREQ_HZ",
				Flags:     []cli.Flag{holdFlag()},
				Action:    pwmAction,
			},
			{
				Name:      "read",
				Usage:     "print one converter channel",
				ArgsUsage: "CHANNEL",
				Action:    readAction,
			},
			{
				Name:  "monitor",
				Usage: "print every converter channel until interrupted",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  flagInterval,
						Value: defaultMonitorInterval,
						Usage: "time between reports",
					},
				},
				Action: monitorAction,
			},
			{
				Name:   "host",
				Usage:  "report the host drivers periph finds",
				Action: hostAction,
			},
		},
	}
}

func holdFlag() cli.Flag {
	return &cli.DurationFlag{
		Name:  flagFor,
		Usage: "hold the output for `DURATION`, or until interrupted if zero",
	}
}

func loadConfig(c *cli.Context) (board.Config, error) {
	file := c.String(flagConfig)
	if file == "" {
		return board.DefaultConfig(), nil
	}
	return board.LoadConfig(file)
}

func newLogger(c *cli.Context) golog.Logger {
	if c.Bool(flagDebug) {
		return golog.NewDebugLogger("gantryio")
	}
	return golog.NewDevelopmentLogger("gantryio")
}

// withBoard builds and initializes a board, runs fn and closes the board
// again. A board that fails to initialize is still handed to fn in its
// degraded state. fn's context ends on SIGINT or SIGTERM.
func withBoard(c *cli.Context, cfg board.Config, fn func(ctx context.Context, b *board.Board) error) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(c)
	deps := board.Deps{Provider: hwfile.OS{}}
	if c.Bool(flagFake) {
		deps = fakeDeps(cfg, logger)
	}

	b, err := board.New(cfg, deps, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			logger.Warnw("closing board", "error", cerr)
		}
	}()

	if ierr := b.Init(ctx); ierr != nil {
		logger.Warnw("board initialization failed", "state", b.State(), "error", ierr)
	}
	return fn(ctx, b)
}
