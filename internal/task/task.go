// Package task sequences the vehicle's behaviors.
//
// A Task wraps a Behavior and walks it through three phases: Init once per
// launch, Normal every cycle, and Stop once when killed. A Manager owns the
// task registry, the start list and the branch table that decides which
// tasks launch when another one succeeds or fails.
package task

import (
	"fmt"
	"sync"

	"github.com/RetrieverRobotics/UMBC-Robosub/internal/identity"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/logging"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/thread"
	"github.com/RetrieverRobotics/UMBC-Robosub/pkg/comms"
)

// Phase selects which part of a behavior runs on an update.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseNormal
	PhaseStop
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "Init"
	case PhaseNormal:
		return "Normal"
	case PhaseStop:
		return "Stop"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// State is a task's lifecycle state.
type State int

const (
	Ready State = iota
	Running
	Done
)

func (s State) String() string {
	switch s {
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Done:
		return "Done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status is the outcome of one update.
type Status int

const (
	Success Status = iota
	Continue
	Failure
)

func (s Status) String() string {
	switch s {
	case Success:
		return "Success"
	case Continue:
		return "Continue"
	case Failure:
		return "Failure"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Result is what a behavior returns from an update.
type Result struct {
	Status  Status
	Message string
}

// Continued keeps the task running.
func Continued() Result {
	return Result{Status: Continue}
}

// Succeed ends the task successfully.
func Succeed(msg string) Result {
	return Result{Status: Success, Message: msg}
}

// Fail ends the task with a failure.
func Fail(msg string) Result {
	return Result{Status: Failure, Message: msg}
}

func (r Result) String() string {
	if r.Message == "" {
		return r.Status.String()
	}
	return r.Status.String() + ": " + r.Message
}

// Behavior is the logic a Task drives. Update is called once per cycle and
// must not block; it reads t.Phase() to decide what to do.
type Behavior interface {
	Update(t *Task) Result
}

// BehaviorFunc adapts a function to Behavior.
type BehaviorFunc func(t *Task) Result

func (f BehaviorFunc) Update(t *Task) Result {
	return f(t)
}

// Option configures a Task.
type Option func(*Task)

// WithLogger sets the task's logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Task) {
		if l != nil {
			t.logger = l
		}
	}
}

// Task is a named, phased behavior.
type Task struct {
	identity.Name

	behavior Behavior
	sup      *thread.Supervisor
	bus      *comms.Bus
	logger   *logging.Logger

	mu    sync.Mutex
	state State
	phase Phase
}

// New creates a Ready task. sup and bus may be nil for behaviors that use
// neither.
func New(name string, b Behavior, sup *thread.Supervisor, bus *comms.Bus, opts ...Option) *Task {
	t := &Task{
		Name:     identity.NewNamed("Task", name),
		behavior: b,
		sup:      sup,
		bus:      bus,
		logger:   logging.Nop(),
		state:    Ready,
		phase:    PhaseInit,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("task", name)
	return t
}

// Phase returns the current phase. Observing Init advances the task to
// Normal, so a behavior sees Init exactly once per launch.
func (t *Task) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.phase
	if p == PhaseInit {
		t.phase = PhaseNormal
	}
	return p
}

// State returns the lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Launch marks the task Running and runs its first update. The first
// update's result is returned but does not end the task; the Manager only
// acts on results from its own update cycle.
func (t *Task) Launch(skipInit bool) Result {
	t.mu.Lock()
	if skipInit {
		t.phase = PhaseNormal
	} else {
		t.phase = PhaseInit
	}
	t.state = Running
	t.mu.Unlock()

	t.logger.Debug("launching", "skip_init", skipInit)
	return t.Update()
}

// SkipInit moves a task still in Init to Normal.
func (t *Task) SkipInit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.phase == PhaseInit {
		t.phase = PhaseNormal
	}
}

// Update runs the behavior once.
func (t *Task) Update() Result {
	return t.behavior.Update(t)
}

// Kill runs the Stop phase once, then leaves the task Ready when
// resetState is true or Done otherwise.
func (t *Task) Kill(resetState bool) {
	t.mu.Lock()
	t.phase = PhaseStop
	t.mu.Unlock()

	t.Update()

	t.mu.Lock()
	if resetState {
		t.state = Ready
	} else {
		t.state = Done
	}
	t.mu.Unlock()
}

// Load starts a unit owned by this task.
func (t *Task) Load(u *thread.Unit, name string, class thread.Class) bool {
	return t.sup.Load(t, u, name, class)
}

// Status reports a unit's status.
func (t *Task) Status(u *thread.Unit) thread.Status {
	return t.sup.Status(u)
}

// Resume asks a unit for one step.
func (t *Task) Resume(u *thread.Unit) bool {
	return t.sup.Resume(u)
}

// Unload asks a unit to clean up and exit.
func (t *Task) Unload(u *thread.Unit) bool {
	return t.sup.Unload(u)
}

// UnloadAll unloads every unit this task loaded.
func (t *Task) UnloadAll() int {
	return t.sup.UnloadAllFromParent(t)
}

// Bus returns the data bus.
func (t *Task) Bus() *comms.Bus {
	return t.bus
}

// Log returns the task's logger.
func (t *Task) Log() *logging.Logger {
	return t.logger
}
