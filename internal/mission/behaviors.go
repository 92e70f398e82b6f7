package mission

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/RetrieverRobotics/UMBC-Robosub/internal/clock"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/task"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/thread"
	"github.com/RetrieverRobotics/UMBC-Robosub/pkg/comms"
)

// ********************************
// WaitForStart
// ********************************

// WaitForStart succeeds when the operator types "start", or once the start
// delay elapses if one is set.
type WaitForStart struct {
	delay *clock.Timeout
}

func (w *WaitForStart) Update(t *task.Task) task.Result {
	bus := t.Bus()
	switch t.Phase() {
	case task.PhaseInit:
		ms := paramInt(bus, ParamStartDelay, 0)
		w.delay = clock.NewTimeout(time.Duration(ms)*time.Millisecond, ms > 0)
		t.Log().Info("waiting for start", "start_delay_ms", ms)

	case task.PhaseNormal:
		if cmdlineContains(bus, "start") {
			return task.Succeed("starting")
		}
		if w.delay.TimedOut() {
			return task.Succeed("start delay elapsed")
		}

	case task.PhaseStop:
		t.UnloadAll()
	}
	return task.Continued()
}

// ********************************
// SelfTest
// ********************************

// SelfTest pulses every thruster once when self_test is set.
type SelfTest struct {
	sweep *ThrusterSweep
	unit  *thread.Unit
}

func (s *SelfTest) Update(t *task.Task) task.Result {
	bus := t.Bus()
	switch t.Phase() {
	case task.PhaseInit:
		s.unit = nil
		if !paramBool(bus, ParamSelfTest, false) {
			break
		}
		s.sweep = NewThrusterSweep(bus, paramInt(bus, ParamThrusters, DefaultParams().Thrusters))
		s.unit = thread.NewUnit(s.sweep)
		t.Load(s.unit, "thruster_sweep", thread.ClassWorker)
		t.Resume(s.unit)

	case task.PhaseNormal:
		if s.unit == nil {
			return task.Succeed("self test disabled")
		}
		if t.Status(s.unit) != thread.Paused {
			break
		}
		if err := s.sweep.Err(); err != nil {
			return task.Fail(err.Error())
		}
		if s.sweep.Done() {
			return task.Succeed("self test complete")
		}
		t.Resume(s.unit)

	case task.PhaseStop:
		t.UnloadAll()
	}
	return task.Continued()
}

// ********************************
// Submerge
// ********************************

// Submerge commands the target depth and waits for a pressure reading
// inside the tolerance.
type Submerge struct {
	Timeout time.Duration

	target    float64
	tolerance float64
	lastRead  clock.Stamp
	timeout   *clock.Timeout
	initErr   error
}

func (s *Submerge) Update(t *task.Task) task.Result {
	bus := t.Bus()
	switch t.Phase() {
	case task.PhaseInit:
		defaults := DefaultParams()
		s.target = paramDouble(bus, ParamPressureTarget, defaults.PressureTarget)
		s.tolerance = paramDouble(bus, ParamPressureTolerance, defaults.PressureTolerance)

		s.initErr = bus.Send(LinkTeensy, FieldCmd, comms.KindString, "config:depth:"+formatNumber(s.target))
		s.lastRead.Touch()
		s.timeout = clock.NewTimeout(s.Timeout, true)

	case task.PhaseNormal:
		if s.initErr != nil {
			return task.Fail(s.initErr.Error())
		}
		if bus.HasNew(LinkTeensy, FieldPressure, s.lastRead.Time()) {
			s.lastRead.Touch()

			pressure := comms.Get[float64](bus, LinkTeensy, FieldPressure)
			if math.Abs(pressure-s.target) < s.tolerance {
				return task.Succeed("submerged to " + formatNumber(s.target))
			}
		}
		if s.timeout.TimedOut() {
			return task.Fail("timeout")
		}

	case task.PhaseStop:
		t.UnloadAll()
	}
	return task.Continued()
}

// ********************************
// ValidationGate
// ********************************

// ValidationGate drives straight at the validation thrust for the
// validation duration.
type ValidationGate struct {
	timeout *clock.Timeout
	initErr error
}

func (v *ValidationGate) Update(t *task.Task) task.Result {
	bus := t.Bus()
	switch t.Phase() {
	case task.PhaseInit:
		defaults := DefaultParams()
		thrust := paramDouble(bus, ParamValidationThrust, defaults.ValidationThrust)
		ms := paramInt(bus, ParamValidationDuration, int(defaults.ValidationDuration.Milliseconds()))

		v.initErr = bus.Send(LinkTeensy, FieldCmd, comms.KindString, "thrust:"+formatNumber(thrust))
		v.timeout = clock.NewTimeout(time.Duration(ms)*time.Millisecond, true)

	case task.PhaseNormal:
		if v.initErr != nil {
			return task.Fail(v.initErr.Error())
		}
		if v.timeout.TimedOut() {
			return task.Succeed("through validation gate")
		}

	case task.PhaseStop:
		if err := bus.Send(LinkTeensy, FieldCmd, comms.KindString, "stop"); err != nil {
			t.Log().Error("failed to stop thrusters", "error", err)
		}
		t.UnloadAll()
	}
	return task.Continued()
}

// ********************************
// QualifierGate
// ********************************

// QualifierGate searches for the gate, then approaches it until the vision
// pipeline reports it passed.
type QualifierGate struct {
	Timeout time.Duration

	search       *GateSearch
	searchUnit   *thread.Unit
	approach     *GateApproach
	approachUnit *thread.Unit
	timeout      *clock.Timeout
}

const (
	searchYawRate  = 0.2
	approachThrust = 0.4
)

func (q *QualifierGate) Update(t *task.Task) task.Result {
	bus := t.Bus()
	switch t.Phase() {
	case task.PhaseInit:
		q.search = NewGateSearch(bus, searchYawRate)
		q.searchUnit = thread.NewUnit(q.search)
		q.approach, q.approachUnit = nil, nil
		q.timeout = clock.NewTimeout(q.Timeout, true)

		t.Load(q.searchUnit, "search", thread.ClassWorker)
		t.Resume(q.searchUnit)

	case task.PhaseNormal:
		if q.approachUnit == nil && t.Status(q.searchUnit) == thread.Paused {
			if err := q.search.Err(); err != nil {
				return task.Fail(err.Error())
			}
			if strings.Contains(q.search.Direction(), "locked") {
				t.Unload(q.searchUnit)

				q.approach = NewGateApproach(bus, q.search.Bearing(), approachThrust)
				q.approachUnit = thread.NewUnit(q.approach)
				t.Load(q.approachUnit, "approach", thread.ClassWorker)
				t.Resume(q.approachUnit)
			} else {
				t.Resume(q.searchUnit)
			}
		}

		if q.approachUnit != nil && t.Status(q.approachUnit) == thread.Paused {
			if err := q.approach.Err(); err != nil {
				return task.Fail(err.Error())
			}
			if q.approach.Arrived() {
				return task.Succeed("through qualifier gate")
			}
			t.Resume(q.approachUnit)
		}

		if q.timeout.TimedOut() {
			return task.Fail("timeout")
		}

	case task.PhaseStop:
		t.UnloadAll()
	}
	return task.Continued()
}

// ********************************
// SurfaceAndWait
// ********************************

// SurfaceAndWait stops the thrusters and idles forever.
type SurfaceAndWait struct{}

func (SurfaceAndWait) Update(t *task.Task) task.Result {
	switch t.Phase() {
	case task.PhaseInit:
		if err := t.Bus().Send(LinkTeensy, FieldCmd, comms.KindString, "stop"); err != nil {
			t.Log().Error("failed to stop thrusters", "error", err)
		}
	case task.PhaseStop:
		t.UnloadAll()
	}
	return task.Continued()
}

// ********************************
// EStopDaemon
// ********************************

// EStopDaemon fails when the microcontroller asserts ESTOP and forwards an
// operator "estop()" to it.
type EStopDaemon struct{}

func (EStopDaemon) Update(t *task.Task) task.Result {
	bus := t.Bus()
	switch t.Phase() {
	case task.PhaseNormal:
		if comms.IsSetAs[bool](bus, LinkTeensy, FieldEStop) && comms.Get[bool](bus, LinkTeensy, FieldEStop) {
			return task.Fail("estop asserted")
		}
		if cmdlineContains(bus, "estop()") {
			if err := bus.Send(LinkTeensy, FieldCmd, comms.KindString, "ESTOP"); err != nil {
				return task.Fail(err.Error())
			}
			return task.Succeed("estop sent")
		}
	case task.PhaseStop:
		t.UnloadAll()
	}
	return task.Continued()
}

// ********************************
// CommsDaemon
// ********************************

// CommsDaemon forwards operator lines to pi/cmdline, sends a keep-alive
// counter to the microcontroller and pulls inbound data on every link.
//
// When Shore names a link, lines arriving on its cmdline field are
// forwarded too, and a heartbeat and the last pressure reading are sent to
// it with every keep-alive. Shore send failures are logged, never fatal.
type CommsDaemon struct {
	Shore string

	interpreter *Interpreter
	unit        *thread.Unit
	period      time.Duration

	keepAlive *clock.Timeout
	ticker    int
	inputDone bool
	shoreSeen clock.Stamp
	initErr   error
}

// NewCommsDaemon reads operator input from r. A nil r disables it.
func NewCommsDaemon(r io.Reader, keepAlive time.Duration) *CommsDaemon {
	c := &CommsDaemon{period: keepAlive}
	if r != nil {
		c.interpreter = NewInterpreter(r)
		c.unit = thread.NewUnit(c.interpreter, thread.Persistent())
	}
	return c
}

func (c *CommsDaemon) Update(t *task.Task) task.Result {
	switch t.Phase() {
	case task.PhaseInit:
		if c.unit != nil && t.Load(c.unit, "interpreter", thread.ClassCritical) {
			t.Resume(c.unit)
		}
		c.keepAlive = clock.NewTimeout(c.period, false)
		c.shoreSeen.Touch()
		c.initErr = c.service(t)

	case task.PhaseNormal:
		if c.initErr != nil {
			return task.Fail(c.initErr.Error())
		}
		c.forwardInput(t)
		if err := c.service(t); err != nil {
			return task.Fail(err.Error())
		}
		c.forwardShore(t)

	case task.PhaseStop:
		t.UnloadAll()
	}
	return task.Continued()
}

func (c *CommsDaemon) forwardInput(t *task.Task) {
	if c.unit == nil || c.inputDone || t.Status(c.unit) != thread.Paused {
		return
	}
	if line, ok := c.interpreter.Line(); ok {
		if err := t.Bus().Send(LinkPi, FieldCmdline, comms.KindString, line); err != nil {
			t.Log().Warn("failed to store command line", "error", err)
		}
	}
	if err := c.interpreter.Err(); err != nil {
		c.inputDone = true
		t.Log().Info("operator input closed", "reason", err.Error())
		return
	}
	t.Resume(c.unit)
}

// service sends the keep-alive when due and receives on every link. The
// keep-alive timer restarts only after a successful send, so a failed one
// is retried on the next call.
func (c *CommsDaemon) service(t *task.Task) error {
	bus := t.Bus()
	if !c.keepAlive.Enabled() || c.keepAlive.TimedOut() {
		if err := bus.Send(LinkTeensy, FieldAlive, comms.KindInt, c.ticker); err != nil {
			return fmt.Errorf("keep-alive: %w", err)
		}
		c.keepAlive.Reset()
		c.heartbeat(t)
		c.ticker++
	}
	return bus.ReceiveAll()
}

// forwardShore copies a new shore cmdline into pi/cmdline.
func (c *CommsDaemon) forwardShore(t *task.Task) {
	bus := t.Bus()
	if c.Shore == "" || !bus.HasNew(c.Shore, FieldShoreCmdline, c.shoreSeen.Time()) {
		return
	}
	c.shoreSeen.Touch()

	line, err := comms.Lookup[string](bus, c.Shore, FieldShoreCmdline)
	if err != nil {
		t.Log().Warn("ignoring shore command", "error", err)
		return
	}
	if err := bus.Send(LinkPi, FieldCmdline, comms.KindString, line); err != nil {
		t.Log().Warn("failed to store shore command", "error", err)
	}
}

func (c *CommsDaemon) heartbeat(t *task.Task) {
	if c.Shore == "" {
		return
	}
	bus := t.Bus()
	err := bus.Send(c.Shore, FieldHeartbeat, comms.KindInt, c.ticker)
	if comms.IsSetAs[float64](bus, LinkTeensy, FieldPressure) {
		err = errors.Join(err, bus.Send(c.Shore, FieldShorePressure, comms.KindDouble, comms.Get[float64](bus, LinkTeensy, FieldPressure)))
	}
	if err != nil {
		t.Log().Warn("shore telemetry failed", "error", err)
	}
}

func cmdlineContains(bus *comms.Bus, s string) bool {
	line, err := comms.Lookup[string](bus, LinkPi, FieldCmdline)
	return err == nil && strings.Contains(line, s)
}

func paramInt(bus *comms.Bus, field string, def int) int {
	if v, err := comms.Lookup[int](bus, LinkPi, field); err == nil {
		return v
	}
	return def
}

func paramDouble(bus *comms.Bus, field string, def float64) float64 {
	if v, err := comms.Lookup[float64](bus, LinkPi, field); err == nil {
		return v
	}
	return def
}

func paramBool(bus *comms.Bus, field string, def bool) bool {
	if v, err := comms.Lookup[bool](bus, LinkPi, field); err == nil {
		return v
	}
	return def
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
