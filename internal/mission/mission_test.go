package mission

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RetrieverRobotics/UMBC-Robosub/internal/task"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/thread"
	"github.com/RetrieverRobotics/UMBC-Robosub/pkg/comms"
)

type fixture struct {
	bus *comms.Bus
	sup *thread.Supervisor
}

func setup(t *testing.T) fixture {
	t.Helper()
	bus := comms.New()
	require.NoError(t, SetupLinks(bus, nil))
	return fixture{bus: bus, sup: thread.NewSupervisor()}
}

func (f fixture) task(name string, b task.Behavior) *task.Task {
	return task.New(name, b, f.sup, f.bus)
}

func (f fixture) lastCmd() string {
	return comms.Get[string](f.bus, LinkTeensy, FieldCmd)
}

// pollUntil updates tk until it stops returning Continue.
func pollUntil(t *testing.T, tk *task.Task) task.Result {
	t.Helper()
	var r task.Result
	require.Eventually(t, func() bool {
		r = tk.Update()
		return r.Status != task.Continue
	}, 2*time.Second, time.Millisecond)
	return r
}

func TestPublishParams(t *testing.T) {
	f := setup(t)
	p := DefaultParams()
	p.StartDelay = 1500 * time.Millisecond
	p.SelfTest = true
	require.NoError(t, PublishParams(f.bus, p))

	assert.Equal(t, 1500, comms.Get[int](f.bus, LinkPi, ParamStartDelay))
	assert.Equal(t, 1050.0, comms.Get[float64](f.bus, LinkPi, ParamPressureTarget))
	assert.Equal(t, 3.0, comms.Get[float64](f.bus, LinkPi, ParamPressureTolerance))
	assert.Equal(t, 0.5, comms.Get[float64](f.bus, LinkPi, ParamValidationThrust))
	assert.Equal(t, 10000, comms.Get[int](f.bus, LinkPi, ParamValidationDuration))
	assert.True(t, comms.Get[bool](f.bus, LinkPi, ParamSelfTest))
	assert.Equal(t, 8, comms.Get[int](f.bus, LinkPi, ParamThrusters))

	assert.Error(t, PublishParams(comms.New(), p))
}

func TestSetupLinks(t *testing.T) {
	bus := comms.New()
	require.NoError(t, SetupLinks(bus, nil))
	assert.Equal(t, []string{LinkPi, LinkTeensy}, bus.Links())
	assert.ErrorIs(t, SetupLinks(bus, nil), comms.ErrDuplicateLink)
}

func TestWaitForStart(t *testing.T) {
	t.Run("operator start", func(t *testing.T) {
		f := setup(t)
		tk := f.task(TaskWaitForStart, &WaitForStart{})
		tk.Launch(false)
		assert.Equal(t, task.Continue, tk.Update().Status)

		require.NoError(t, f.bus.Send(LinkPi, FieldCmdline, comms.KindString, "please start"))
		assert.Equal(t, task.Succeed("starting"), tk.Update())
	})

	t.Run("start delay", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.bus.Send(LinkPi, ParamStartDelay, comms.KindInt, 10))
		tk := f.task(TaskWaitForStart, &WaitForStart{})
		tk.Launch(false)

		assert.Equal(t, "start delay elapsed", pollUntil(t, tk).Message)
	})

	t.Run("no delay waits forever", func(t *testing.T) {
		f := setup(t)
		tk := f.task(TaskWaitForStart, &WaitForStart{})
		tk.Launch(false)
		time.Sleep(5 * time.Millisecond)
		assert.Equal(t, task.Continue, tk.Update().Status)
	})
}

func TestSubmerge(t *testing.T) {
	t.Run("reaches depth", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.bus.Send(LinkPi, ParamPressureTarget, comms.KindDouble, 1100.0))
		tk := f.task(TaskSubmerge, &Submerge{Timeout: time.Minute})
		tk.Launch(false)
		assert.Equal(t, "config:depth:1100", f.lastCmd())

		assert.Equal(t, task.Continue, tk.Update().Status)

		time.Sleep(time.Millisecond)
		require.NoError(t, f.bus.Send(LinkTeensy, FieldPressure, comms.KindDouble, 1013.0))
		assert.Equal(t, task.Continue, tk.Update().Status)

		time.Sleep(time.Millisecond)
		require.NoError(t, f.bus.Send(LinkTeensy, FieldPressure, comms.KindDouble, 1101.5))
		assert.Equal(t, task.Succeed("submerged to 1100"), tk.Update())
	})

	t.Run("stale reading is ignored", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.bus.Send(LinkTeensy, FieldPressure, comms.KindDouble, 1050.0))
		time.Sleep(time.Millisecond)

		tk := f.task(TaskSubmerge, &Submerge{Timeout: time.Minute})
		tk.Launch(false)
		assert.Equal(t, task.Continue, tk.Update().Status)
	})

	t.Run("times out", func(t *testing.T) {
		f := setup(t)
		tk := f.task(TaskSubmerge, &Submerge{Timeout: 5 * time.Millisecond})
		tk.Launch(false)
		assert.Equal(t, task.Fail("timeout"), pollUntil(t, tk))
	})
}

func TestValidationGate(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.bus.Send(LinkPi, ParamValidationThrust, comms.KindDouble, 0.75))
	require.NoError(t, f.bus.Send(LinkPi, ParamValidationDuration, comms.KindInt, 5))

	tk := f.task(TaskValidationGate, &ValidationGate{})
	tk.Launch(false)
	assert.Equal(t, "thrust:0.75", f.lastCmd())

	assert.Equal(t, task.Success, pollUntil(t, tk).Status)

	tk.Kill(false)
	assert.Equal(t, "stop", f.lastCmd())
}

func TestSelfTest(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := setup(t)
		tk := f.task(TaskSelfTest, &SelfTest{})
		tk.Launch(false)
		assert.Equal(t, task.Succeed("self test disabled"), tk.Update())
		assert.Equal(t, 0, f.sup.ThreadCount())
	})

	t.Run("sweeps every thruster", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.bus.Send(LinkPi, ParamSelfTest, comms.KindBool, true))
		require.NoError(t, f.bus.Send(LinkPi, ParamThrusters, comms.KindInt, 3))

		tk := f.task(TaskSelfTest, &SelfTest{})
		tk.Launch(false)
		assert.Equal(t, 1, f.sup.ThreadCountOf(thread.ClassWorker))

		assert.Equal(t, task.Succeed("self test complete"), pollUntil(t, tk))
		assert.Equal(t, "test:thruster:2", f.lastCmd())

		tk.Kill(true)
		assert.Eventually(t, func() bool { return f.sup.ThreadCount() == 0 }, time.Second, time.Millisecond)
	})
}

func TestEStopDaemon(t *testing.T) {
	t.Run("asserted by microcontroller", func(t *testing.T) {
		f := setup(t)
		tk := f.task(TaskEStopDaemon, &EStopDaemon{})
		tk.Launch(false)

		require.NoError(t, f.bus.Send(LinkTeensy, FieldEStop, comms.KindBool, false))
		assert.Equal(t, task.Continue, tk.Update().Status)

		require.NoError(t, f.bus.Send(LinkTeensy, FieldEStop, comms.KindBool, true))
		assert.Equal(t, task.Fail("estop asserted"), tk.Update())
	})

	t.Run("requested by operator", func(t *testing.T) {
		f := setup(t)
		tk := f.task(TaskEStopDaemon, &EStopDaemon{})
		tk.Launch(false)

		require.NoError(t, f.bus.Send(LinkPi, FieldCmdline, comms.KindString, "estop()"))
		assert.Equal(t, task.Success, tk.Update().Status)
		assert.Equal(t, "ESTOP", f.lastCmd())
	})
}

func TestSurfaceAndWait(t *testing.T) {
	f := setup(t)
	tk := f.task(TaskSurfaceAndWait, &SurfaceAndWait{})
	tk.Launch(false)
	assert.Equal(t, "stop", f.lastCmd())
	assert.Equal(t, task.Continue, tk.Update().Status)
}

// failingTransport fails every receive.
type failingTransport struct{ comms.LocalLink }

func (failingTransport) Receive(comms.FieldWriter) error { return comms.ErrTransportRead }

// deadTransport fails every send.
type deadTransport struct {
	comms.LocalLink
	sends int
}

func (d *deadTransport) Send(string, comms.Value) error {
	d.sends++
	return comms.ErrTransportWrite
}

func TestCommsDaemon(t *testing.T) {
	t.Run("forwards operator lines and keeps alive", func(t *testing.T) {
		f := setup(t)
		tk := f.task(TaskCommsDaemon, NewCommsDaemon(strings.NewReader("hello\nstart\n"), 5*time.Millisecond))

		assert.Equal(t, task.Continue, tk.Launch(false).Status)
		assert.Equal(t, 0, comms.Get[int](f.bus, LinkTeensy, FieldAlive))
		assert.Equal(t, 1, f.sup.ThreadCountOf(thread.ClassCritical))

		require.Eventually(t, func() bool {
			if tk.Update().Status != task.Continue {
				return false
			}
			return comms.Get[string](f.bus, LinkPi, FieldCmdline) == "start"
		}, 2*time.Second, time.Millisecond)

		require.Eventually(t, func() bool {
			tk.Update()
			return comms.Get[int](f.bus, LinkTeensy, FieldAlive) >= 2
		}, 2*time.Second, time.Millisecond)

		tk.Kill(true)
		assert.Equal(t, 1, f.sup.ThreadCount(), "interpreter is persistent")
	})

	t.Run("relays the shore link", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.bus.AddLink("shore", comms.NewLocalLink(), comms.CopyLocal))
		require.NoError(t, f.bus.Send(LinkTeensy, FieldPressure, comms.KindDouble, 1049.5))

		daemon := NewCommsDaemon(nil, time.Hour)
		daemon.Shore = "shore"
		tk := f.task(TaskCommsDaemon, daemon)

		assert.Equal(t, task.Continue, tk.Launch(false).Status)
		assert.Equal(t, 0, comms.Get[int](f.bus, "shore", FieldHeartbeat))
		assert.Equal(t, 1049.5, comms.Get[float64](f.bus, "shore", FieldShorePressure))

		tk.Update()
		assert.False(t, f.bus.IsSet(LinkPi, FieldCmdline))

		time.Sleep(time.Millisecond)
		require.NoError(t, f.bus.Send("shore", FieldShoreCmdline, comms.KindString, "estop()"))
		tk.Update()
		assert.Equal(t, "estop()", comms.Get[string](f.bus, LinkPi, FieldCmdline))
	})

	t.Run("receive failure fails the daemon", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.bus.AddLink("broken", &failingTransport{}, false))
		tk := f.task(TaskCommsDaemon, NewCommsDaemon(nil, time.Second))

		assert.Equal(t, task.Continue, tk.Launch(false).Status)

		r := tk.Update()
		assert.Equal(t, task.Failure, r.Status)
		assert.Contains(t, r.Message, "transport read failed", "launch failure reported on the first update")
	})

	t.Run("dead teensy at launch fails on the first update", func(t *testing.T) {
		bus := comms.New()
		teensy := &deadTransport{}
		require.NoError(t, SetupLinks(bus, teensy))
		tk := task.New(TaskCommsDaemon, NewCommsDaemon(nil, time.Hour), thread.NewSupervisor(), bus)

		assert.Equal(t, task.Continue, tk.Launch(false).Status)

		r := tk.Update()
		assert.Equal(t, task.Failure, r.Status)
		assert.Contains(t, r.Message, "keep-alive")
		assert.Contains(t, r.Message, "transport write failed")
		assert.Equal(t, 1, teensy.sends)

		r = tk.Update()
		assert.Equal(t, task.Failure, r.Status)
		assert.Equal(t, 2, teensy.sends, "failed keep-alive is retried without waiting a period")
	})
}

func TestQualifierGate(t *testing.T) {
	t.Run("search then approach", func(t *testing.T) {
		f := setup(t)
		tk := f.task(TaskQualifierGate, &QualifierGate{Timeout: time.Minute})
		tk.Launch(false)

		require.Eventually(t, func() bool {
			tk.Update()
			return f.lastCmd() == "yaw:0.2"
		}, time.Second, time.Millisecond)

		require.NoError(t, f.bus.Send(LinkPi, FieldGateBearing, comms.KindDouble, 12.5))
		require.Eventually(t, func() bool {
			tk.Update()
			return strings.Contains(f.sup.ListThreads(), "approach @ QualifierGate")
		}, time.Second, time.Millisecond)

		require.Eventually(t, func() bool {
			tk.Update()
			return f.lastCmd() == "thrust:0.4"
		}, time.Second, time.Millisecond)

		require.NoError(t, f.bus.Send(LinkPi, FieldGatePassed, comms.KindBool, true))
		assert.Equal(t, task.Succeed("through qualifier gate"), pollUntil(t, tk))

		tk.Kill(false)
		assert.Eventually(t, func() bool { return f.sup.ThreadCount() == 0 }, time.Second, time.Millisecond)
		assert.Equal(t, "stop", f.lastCmd())
	})

	t.Run("times out", func(t *testing.T) {
		f := setup(t)
		tk := f.task(TaskQualifierGate, &QualifierGate{Timeout: 5 * time.Millisecond})
		tk.Launch(false)
		assert.Equal(t, task.Fail("timeout"), pollUntil(t, tk))
		tk.Kill(false)
	})
}

func TestInterpreter(t *testing.T) {
	i := NewInterpreter(strings.NewReader("one\n"))
	_, ok := i.Line()
	assert.False(t, ok)

	i.Step()
	line, ok := i.Line()
	assert.True(t, ok)
	assert.Equal(t, "one", line)
	_, ok = i.Line()
	assert.False(t, ok)

	i.Step()
	assert.True(t, errors.Is(i.Err(), io.EOF))
}

func TestRegister(t *testing.T) {
	f := setup(t)
	m := task.NewManager()
	require.NoError(t, Register(m, Deps{Supervisor: f.sup, Bus: f.bus}))

	assert.Equal(t,
		"CommsDaemon\nEStopDaemon\nWaitForStart\nSelfTest\nSubmerge\nValidationGate\nQualifierGate\nSurfaceAndWait\n",
		m.ListTasksFilter("all"))
	assert.Empty(t, m.OnStart(DefaultStart))
	assert.Empty(t, m.ConfigureTree(DefaultTree))
	assert.Len(t, m.Branches(), 6)

	assert.Error(t, Register(m, Deps{Supervisor: f.sup, Bus: f.bus}))
}

func TestDefaultMissionFlow(t *testing.T) {
	f := setup(t)
	require.NoError(t, PublishParams(f.bus, Params{
		PressureTarget:     1050,
		PressureTolerance:  3,
		ValidationThrust:   0.5,
		ValidationDuration: time.Millisecond,
	}))

	m := task.NewManager()
	require.NoError(t, Register(m, Deps{
		Supervisor:       f.sup,
		Bus:              f.bus,
		Input:            strings.NewReader("start\n"),
		QualifierTimeout: time.Millisecond,
	}))
	m.OnStart(DefaultStart)
	m.ConfigureTree(DefaultTree)
	m.Start()

	require.Eventually(t, func() bool {
		m.Update(false)
		tk, _ := m.Task(TaskSubmerge)
		return tk.State() == task.Running
	}, 2*time.Second, time.Millisecond)

	time.Sleep(time.Millisecond)
	require.NoError(t, f.bus.Send(LinkTeensy, FieldPressure, comms.KindDouble, 1049.0))

	require.Eventually(t, func() bool {
		m.Update(false)
		tk, _ := m.Task(TaskSurfaceAndWait)
		return tk.State() == task.Running
	}, 2*time.Second, time.Millisecond)

	for _, name := range []string{TaskWaitForStart, TaskSelfTest, TaskSubmerge, TaskValidationGate, TaskQualifierGate} {
		tk, _ := m.Task(name)
		assert.Equal(t, task.Done, tk.State(), name)
	}

	m.KillAll(false)
}
