package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/RetrieverRobotics/UMBC-Robosub/internal/config"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/logging"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/printer"
	"github.com/RetrieverRobotics/UMBC-Robosub/pkg/comms"
)

const shutdownTimeout = 5 * time.Second

// runFlags mirrors the run command's flags. Only flags the operator
// actually set override the mission file.
type runFlags struct {
	configPath string

	startDelay         int
	pressureTarget     float64
	pressureTolerance  float64
	validationThrust   float64
	validationDuration int
	selfTest           bool

	serial     string
	baud       int
	redisURL   string
	vehicle    string
	healthAddr string
	noHealth   bool
	period     time.Duration
	reset      bool
	logLevel   string
	logFormat  string
	noConsole  bool
}

var runOpts runFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the mission",
	Long: `Run the mission task tree until every task finishes or the process is
interrupted.

Parameters come from the mission file, then from flags. They are published
on the pi link before the first task starts.

Examples:
  # Bench run against a stubbed microcontroller
  brain run

  # Pool run
  brain run --config mission.yml --serial /dev/ttyACM0 --start-delay 30000

  # Mirror telemetry to shore
  brain run --serial /dev/ttyACM0 --redis-url redis://shore.local:6379/0`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	addRunFlags(runCmd.Flags(), &runOpts)
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(fs *pflag.FlagSet, o *runFlags) {
	fs.StringVarP(&o.configPath, "config", "c", "", "Mission file (defaults apply when omitted)")

	fs.IntVar(&o.startDelay, "start-delay", 0, "Milliseconds before WaitForStart proceeds on its own (0 waits for \"start\")")
	fs.Float64Var(&o.pressureTarget, "pressure-target", 0, "Target pressure for Submerge")
	fs.Float64Var(&o.pressureTolerance, "pressure-tolerance", 0, "Allowed pressure error for Submerge")
	fs.Float64Var(&o.validationThrust, "validation-thrust", 0, "Thrust through the validation gate, -1 to 1")
	fs.IntVar(&o.validationDuration, "validation-duration", 0, "Milliseconds to drive through the validation gate")
	fs.BoolVar(&o.selfTest, "self-test", false, "Pulse every thruster before submerging")

	fs.StringVar(&o.serial, "serial", "", "Microcontroller serial device (stubbed when empty)")
	fs.IntVar(&o.baud, "baud", comms.DefaultBaud, "Serial baud rate")
	fs.StringVar(&o.redisURL, "redis-url", "", "Shore Redis URL for the telemetry mirror")
	fs.StringVar(&o.vehicle, "vehicle", config.DefaultVehicle, "Vehicle name used in Redis keys")
	fs.StringVar(&o.healthAddr, "health-addr", config.DefaultHealthAddr, "Health endpoint listen address")
	fs.BoolVar(&o.noHealth, "no-health", false, "Disable the health endpoint")
	fs.DurationVar(&o.period, "period", 100*time.Millisecond, "Task manager cycle")
	fs.BoolVar(&o.reset, "reset-after-branch", false, "Return finished tasks to ready so they can run again")
	fs.StringVar(&o.logLevel, "log-level", logging.LevelInfo, "Log level (DEBUG, INFO, WARN, ERROR)")
	fs.StringVar(&o.logFormat, "log-format", logging.FormatText, "Log format (json or text)")
	fs.BoolVar(&o.noConsole, "no-console", false, "Do not read operator commands from stdin")
}

// loadRunConfig reads the mission file, or the defaults, then applies every
// flag the operator set and validates the result.
func loadRunConfig(fs *pflag.FlagSet, o *runFlags) (*config.MissionConfig, error) {
	cfg := &config.MissionConfig{Version: "1.0"}
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := cfg.Parameters
	if fs.Changed("start-delay") {
		p.StartDelay = &o.startDelay
	}
	if fs.Changed("pressure-target") {
		p.PressureTarget = &o.pressureTarget
	}
	if fs.Changed("pressure-tolerance") {
		p.PressureTolerance = &o.pressureTolerance
	}
	if fs.Changed("validation-thrust") {
		p.ValidationThrust = &o.validationThrust
	}
	if fs.Changed("validation-duration") {
		p.ValidationDuration = &o.validationDuration
	}
	if fs.Changed("self-test") {
		p.SelfTest = &o.selfTest
	}

	if fs.Changed("serial") {
		cfg.Links.Serial.Device = o.serial
	}
	if fs.Changed("baud") {
		cfg.Links.Serial.Baud = o.baud
	}
	if fs.Changed("redis-url") {
		if cfg.Links.Redis == nil {
			cfg.Links.Redis = &config.RedisConfig{}
		}
		cfg.Links.Redis.URL = o.redisURL
	}
	if fs.Changed("vehicle") && cfg.Links.Redis != nil {
		cfg.Links.Redis.Vehicle = o.vehicle
	}
	if fs.Changed("health-addr") {
		cfg.Health.Addr = o.healthAddr
	}
	if fs.Changed("no-health") {
		cfg.Health.Disabled = o.noHealth
	}
	if fs.Changed("period") {
		cfg.Period = o.period.String()
	}
	if fs.Changed("reset-after-branch") {
		cfg.Reset = o.reset
	}
	if fs.Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	if fs.Changed("log-format") {
		cfg.Logging.Format = o.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	p := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := loadRunConfig(cmd.Flags(), &runOpts)
	if err != nil {
		return p.Error(
			"invalid mission configuration",
			fmt.Sprintf("Error: %v", err),
			[]string{"Check the file with:\n  brain validate " + runOpts.configPath},
		)
	}

	logger := logging.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var teensy comms.Transport
	if dev := cfg.Links.Serial.Device; dev != "" {
		link, err := comms.OpenSerial(dev, cfg.Links.Serial.Baud, comms.WithSerialLogger(logger))
		if err != nil {
			return p.Error(
				fmt.Sprintf("failed to open %s", dev),
				fmt.Sprintf("Error: %v", err),
				[]string{
					"List the available devices:\n  brain ports",
					"Run without hardware by omitting --serial",
				},
			)
		}
		p.Success("opened %s at %d baud\n", dev, cfg.Links.Serial.Baud)
		teensy = link
	} else {
		p.Warning("no serial device, teensy link is stubbed\n")
	}

	var input io.Reader = cmd.InOrStdin()
	if runOpts.noConsole {
		input = nil
	}

	v, err := newVehicle(ctx, cfg, teensy, input, logger)
	if err != nil {
		if c, ok := teensy.(io.Closer); ok {
			_ = c.Close()
		}
		return p.Error("failed to start the vehicle", fmt.Sprintf("Error: %v", err), nil)
	}
	for _, name := range v.rejected {
		p.Warning("start task %s is not registered\n", name)
	}
	for _, d := range v.diags {
		p.Warning("%s\n", d)
	}
	if v.shore != nil {
		p.Success("mirroring to %s as %s/%s\n", cfg.Links.Redis.URL, cfg.Links.Redis.Vehicle, cfg.Links.Redis.Link)
	}

	p.Step("running %s every %s\n", cfg.Start, cfg.PeriodDuration())
	runErr := v.run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := v.shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}

	if runErr != nil {
		return p.Error("mission stopped", fmt.Sprintf("Error: %v", runErr), nil)
	}
	p.Success("mission finished\n")
	return nil
}
