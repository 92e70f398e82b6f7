// Package mission holds the vehicle's concrete behaviors and the workers
// they drive, plus the link and field names they share on the bus.
package mission

import (
	"fmt"
	"io"
	"time"

	"github.com/RetrieverRobotics/UMBC-Robosub/internal/logging"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/task"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/thread"
	"github.com/RetrieverRobotics/UMBC-Robosub/pkg/comms"
)

// Links.
const (
	// LinkPi is the local store for parameters and operator input.
	LinkPi = "pi"
	// LinkTeensy is the microcontroller driving the thrusters and sensors.
	LinkTeensy = "teensy"
)

// Fields on LinkPi.
const (
	FieldCmdline = "cmdline"

	ParamStartDelay         = "start_delay"
	ParamPressureTarget     = "pressure_target"
	ParamPressureTolerance  = "pressure_tolerance"
	ParamValidationThrust   = "validation_thrust"
	ParamValidationDuration = "validation_duration"
	ParamSelfTest           = "self_test"
	ParamThrusters          = "thrusters"

	// Published by the vision pipeline.
	FieldGateBearing = "gate_bearing"
	FieldGatePassed  = "gate_passed"
)

// Fields on LinkTeensy.
const (
	FieldCmd      = "cmd"
	FieldAlive    = "ALIVE"
	FieldEStop    = "ESTOP"
	FieldPressure = "data_pressure"
)

// Fields on the optional shore link.
const (
	FieldShoreCmdline  = "cmdline"
	FieldHeartbeat     = "heartbeat"
	FieldShorePressure = "pressure"
)

// Task names.
const (
	TaskWaitForStart   = "WaitForStart"
	TaskSelfTest       = "SelfTest"
	TaskSubmerge       = "Submerge"
	TaskValidationGate = "ValidationGate"
	TaskQualifierGate  = "QualifierGate"
	TaskSurfaceAndWait = "SurfaceAndWait"
	TaskEStopDaemon    = "EStopDaemon"
	TaskCommsDaemon    = "CommsDaemon"
)

// DefaultStart launches the daemons and waits for the operator.
const DefaultStart = "CommsDaemon, EStopDaemon, WaitForStart"

// DefaultTree runs the qualification run and surfaces on any failure.
const DefaultTree = `
[WaitForStart   ? SelfTest       : SurfaceAndWait]
[SelfTest       ? Submerge       : SurfaceAndWait]
[Submerge       ? ValidationGate : SurfaceAndWait]
[ValidationGate ? QualifierGate  : SurfaceAndWait]
[QualifierGate  ? SurfaceAndWait : SurfaceAndWait]
[EStopDaemon    ? SurfaceAndWait : SurfaceAndWait]
`

// Params are the run parameters published on LinkPi before start.
type Params struct {
	StartDelay         time.Duration
	PressureTarget     float64
	PressureTolerance  float64
	ValidationThrust   float64
	ValidationDuration time.Duration
	SelfTest           bool
	Thrusters          int
}

// DefaultParams returns the parameters used when none are given.
func DefaultParams() Params {
	return Params{
		PressureTarget:     1050,
		PressureTolerance:  3,
		ValidationThrust:   0.5,
		ValidationDuration: 10 * time.Second,
		Thrusters:          8,
	}
}

// PublishParams writes p to LinkPi. Durations are sent as milliseconds.
func PublishParams(bus *comms.Bus, p Params) error {
	values := []struct {
		field string
		value comms.Value
	}{
		{ParamStartDelay, comms.Int(int(p.StartDelay.Milliseconds()))},
		{ParamPressureTarget, comms.Double(p.PressureTarget)},
		{ParamPressureTolerance, comms.Double(p.PressureTolerance)},
		{ParamValidationThrust, comms.Double(p.ValidationThrust)},
		{ParamValidationDuration, comms.Int(int(p.ValidationDuration.Milliseconds()))},
		{ParamSelfTest, comms.Bool(p.SelfTest)},
		{ParamThrusters, comms.Int(p.Thrusters)},
	}
	for _, v := range values {
		if err := bus.SendValue(LinkPi, v.field, v.value); err != nil {
			return fmt.Errorf("failed to publish %s: %w", v.field, err)
		}
	}
	return nil
}

// SetupLinks adds LinkPi as a local store and LinkTeensy bound to teensy.
// A nil teensy stands in a local store for bench runs without hardware.
func SetupLinks(bus *comms.Bus, teensy comms.Transport) error {
	if err := bus.AddLink(LinkPi, comms.NewLocalLink(), comms.CopyLocal); err != nil {
		return err
	}
	if teensy == nil {
		teensy = comms.NewLocalLink()
	}
	return bus.AddLink(LinkTeensy, teensy, comms.CopyLocal)
}

// Deps are what the behaviors need from the rest of the vehicle.
type Deps struct {
	Supervisor *thread.Supervisor
	Bus        *comms.Bus
	Logger     *logging.Logger

	// Input is the operator console. Nil disables the interpreter.
	Input io.Reader

	// ShoreLink names a bus link relayed by CommsDaemon. Empty disables it.
	ShoreLink string

	// Zero values select the defaults below.
	SubmergeTimeout  time.Duration
	QualifierTimeout time.Duration
	KeepAlivePeriod  time.Duration
}

const (
	DefaultSubmergeTimeout  = 20 * time.Second
	DefaultQualifierTimeout = 60 * time.Second
	DefaultKeepAlivePeriod  = time.Second
)

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	if d.SubmergeTimeout <= 0 {
		d.SubmergeTimeout = DefaultSubmergeTimeout
	}
	if d.QualifierTimeout <= 0 {
		d.QualifierTimeout = DefaultQualifierTimeout
	}
	if d.KeepAlivePeriod <= 0 {
		d.KeepAlivePeriod = DefaultKeepAlivePeriod
	}
	return d
}

// Register creates every behavior and registers it with m.
func Register(m *task.Manager, d Deps) error {
	d = d.withDefaults()

	daemon := NewCommsDaemon(d.Input, d.KeepAlivePeriod)
	daemon.Shore = d.ShoreLink

	behaviors := []struct {
		name     string
		behavior task.Behavior
	}{
		{TaskCommsDaemon, daemon},
		{TaskEStopDaemon, &EStopDaemon{}},
		{TaskWaitForStart, &WaitForStart{}},
		{TaskSelfTest, &SelfTest{}},
		{TaskSubmerge, &Submerge{Timeout: d.SubmergeTimeout}},
		{TaskValidationGate, &ValidationGate{}},
		{TaskQualifierGate, &QualifierGate{Timeout: d.QualifierTimeout}},
		{TaskSurfaceAndWait, &SurfaceAndWait{}},
	}

	for _, b := range behaviors {
		t := task.New(b.name, b.behavior, d.Supervisor, d.Bus, task.WithLogger(d.Logger))
		if !m.RegisterTask(t) {
			return fmt.Errorf("task %s already registered", b.name)
		}
	}
	return nil
}
