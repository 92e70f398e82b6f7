package task

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RetrieverRobotics/UMBC-Robosub/internal/identity"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/logging"
)

// DefaultPeriod is the control loop period used when Run is given none.
const DefaultPeriod = 100 * time.Millisecond

// MaxPeriod bounds the sleep between control cycles.
const MaxPeriod = 5 * time.Second

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager's logger.
func WithManagerLogger(l *logging.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l.WithComponent("task")
		}
	}
}

// Manager owns the task registry, the start list and the branch table.
// Its methods are meant to be driven from one control goroutine; read-only
// queries are safe from any goroutine.
type Manager struct {
	identity.Name

	mu       sync.Mutex
	tasks    map[string]*Task
	order    []string
	start    []string
	branches map[string]Branch
	logger   *logging.Logger
	onFinish func(name string, r Result)
}

// NewManager creates an empty Manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		Name:     identity.New("TaskManager"),
		tasks:    make(map[string]*Task),
		branches: make(map[string]Branch),
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterTask adds a task. A second task with the same name is ignored and
// false is returned.
func (m *Manager) RegisterTask(t *Task) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := t.InstanceName()
	if _, ok := m.tasks[name]; ok {
		m.logger.Warn("task already registered, ignoring", "task", name)
		return false
	}
	m.tasks[name] = t
	m.order = append(m.order, name)
	return true
}

// Task looks up a registered task.
func (m *Manager) Task(name string) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[name]
	return t, ok
}

// OnStart sets the ordered start list from a comma-separated string.
// Unregistered names are dropped with a warning and returned.
func (m *Manager) OnStart(list string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rejected []string
	m.start = m.start[:0]
	for _, name := range SplitList(list) {
		if _, ok := m.tasks[name]; !ok {
			m.logger.Warn("start task not registered, ignoring", "task", name)
			rejected = append(rejected, name)
			continue
		}
		m.start = append(m.start, name)
	}
	return rejected
}

// ConfigureTree replaces the branch table with the groups parsed from spec.
// Problems are logged and returned; they never abort the remaining groups.
func (m *Manager) ConfigureTree(spec string) []Diagnostic {
	parsed, diags := ParseTree(spec)

	m.mu.Lock()
	m.branches = make(map[string]Branch)
	for _, b := range parsed {
		group := groupText(b)
		if _, ok := m.tasks[b.Root]; !ok {
			diags = append(diags, Diagnostic{Group: group, Kind: UnknownRoot, Msg: fmt.Sprintf("root task %q not registered", b.Root)})
			continue
		}
		if _, ok := m.branches[b.Root]; ok {
			diags = append(diags, Diagnostic{Group: group, Kind: DuplicateBranchRoot, Msg: fmt.Sprintf("a branch already exists for %q", b.Root)})
			continue
		}

		var leafDiags []Diagnostic
		b.OnSuccess, leafDiags = m.knownLeaves(group, "success", b.OnSuccess)
		diags = append(diags, leafDiags...)
		b.OnFailure, leafDiags = m.knownLeaves(group, "failure", b.OnFailure)
		diags = append(diags, leafDiags...)

		if len(b.OnSuccess) == 0 && len(b.OnFailure) == 0 {
			diags = append(diags, Diagnostic{Group: group, Kind: EmptyBranch, Msg: "no valid responses"})
			continue
		}
		m.branches[b.Root] = b
		m.logger.Debug("branch added", "root", b.Root, "on_success", b.OnSuccess, "on_failure", b.OnFailure)
	}
	m.mu.Unlock()

	for _, d := range diags {
		m.logger.Warn("skipping part of task tree", "kind", d.Kind.String(), "group", d.Group, "detail", d.Msg)
	}
	return diags
}

// knownLeaves keeps registered names. Callers hold m.mu.
func (m *Manager) knownLeaves(group, side string, names []string) ([]string, []Diagnostic) {
	var (
		kept  []string
		diags []Diagnostic
	)
	for _, n := range names {
		if _, ok := m.tasks[n]; !ok {
			diags = append(diags, Diagnostic{Group: group, Kind: UnknownLeaf, Msg: fmt.Sprintf("%s task %q not registered", side, n)})
			continue
		}
		kept = append(kept, n)
	}
	return kept, diags
}

// OnFinish registers fn to be called from Update for every task that
// finishes, before its branch targets launch.
func (m *Manager) OnFinish(fn func(name string, r Result)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFinish = fn
}

// Start kills every running task, resetting it, then launches the start
// list in order.
func (m *Manager) Start() {
	m.KillAll(true)
	for _, t := range m.lookup(m.StartList()) {
		m.logger.Debug("launching", "task", t.InstanceName())
		t.Launch(false)
	}
}

// Update runs one control cycle. Every task running at the start of the
// cycle is updated once in registration order; a task that returns anything
// but Continue is killed and its branch targets are launched. Tasks launched
// here are first polled on the next cycle.
func (m *Manager) Update(resetAfterBranch bool) {
	var running []*Task
	for _, t := range m.registered() {
		if t.State() == Running {
			running = append(running, t)
		}
	}

	for _, t := range running {
		if t.State() != Running {
			continue
		}
		result := t.Update()
		if result.Status == Continue {
			continue
		}

		t.Kill(resetAfterBranch)
		m.logger.Info("task finished", "task", t.FullName(), "status", result.Status.String(), "message", result.Message)

		m.mu.Lock()
		onFinish := m.onFinish
		m.mu.Unlock()
		if onFinish != nil {
			onFinish(t.InstanceName(), result)
		}
		m.branch(t.InstanceName(), result.Status)
	}
}

func (m *Manager) branch(root string, status Status) {
	m.mu.Lock()
	b, ok := m.branches[root]
	m.mu.Unlock()
	if !ok {
		return
	}

	var next []string
	switch status {
	case Success:
		next = b.OnSuccess
	case Failure:
		next = b.OnFailure
	}
	for _, t := range m.lookup(next) {
		m.logger.Debug("branching", "from", root, "to", t.InstanceName())
		t.Launch(false)
	}
}

// KillAll kills every running task.
func (m *Manager) KillAll(resetState bool) {
	for _, t := range m.registered() {
		if t.State() == Running {
			m.logger.Debug("killing", "task", t.InstanceName())
			t.Kill(resetState)
		}
	}
}

// TasksRunning reports whether any task is Running.
func (m *Manager) TasksRunning() bool {
	for _, t := range m.registered() {
		if t.State() == Running {
			return true
		}
	}
	return false
}

// Running returns the names of running tasks in registration order.
func (m *Manager) Running() []string {
	var names []string
	for _, t := range m.registered() {
		if t.State() == Running {
			names = append(names, t.InstanceName())
		}
	}
	return names
}

// StartList returns a copy of the start list.
func (m *Manager) StartList() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.start)
}

// Branches returns the branch table sorted by root.
func (m *Manager) Branches() []Branch {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Branch, 0, len(m.branches))
	for _, b := range m.branches {
		out = append(out, Branch{Root: b.Root, OnSuccess: slices.Clone(b.OnSuccess), OnFailure: slices.Clone(b.OnFailure)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Root < out[j].Root })
	return out
}

// ListTasks renders every task with a state marker: '*' running, 'x' done,
// '-' ready.
func (m *Manager) ListTasks() string {
	var b strings.Builder
	b.WriteString("Tasks\n--------\n")
	for _, t := range m.registered() {
		marker := "?"
		switch t.State() {
		case Running:
			marker = "*"
		case Done:
			marker = "x"
		case Ready:
			marker = "-"
		}
		fmt.Fprintf(&b, " %s | %s\n", marker, t.InstanceName())
	}
	b.WriteString("\n")
	return b.String()
}

// ListTasksFilter lists task names one per line. which is "all",
// "running" or "onStart"; anything else yields an empty string.
func (m *Manager) ListTasksFilter(which string) string {
	var names []string
	switch which {
	case "all":
		for _, t := range m.registered() {
			names = append(names, t.InstanceName())
		}
	case "running":
		names = m.Running()
	case "onStart":
		names = m.StartList()
	}

	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		b.WriteString("\n")
	}
	return b.String()
}

// Run starts the start list and drives Update every period until ctx ends
// or no task is running. Running tasks are killed when ctx ends.
func (m *Manager) Run(ctx context.Context, period time.Duration, resetAfterBranch bool) error {
	switch {
	case period <= 0:
		period = DefaultPeriod
	case period > MaxPeriod:
		period = MaxPeriod
	}

	m.Start()
	m.logger.Info("control loop started", "period", period.String(), "start", m.StartList())

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for m.TasksRunning() {
		select {
		case <-ctx.Done():
			m.logger.Info("control loop stopping", "reason", ctx.Err().Error())
			m.KillAll(false)
			return ctx.Err()
		case <-ticker.C:
			m.Update(resetAfterBranch)
		}
	}

	m.logger.Info("no tasks running, control loop finished")
	return nil
}

func (m *Manager) registered() []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookupLocked(m.order)
}

func (m *Manager) lookup(names []string) []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookupLocked(names)
}

func (m *Manager) lookupLocked(names []string) []*Task {
	out := make([]*Task, 0, len(names))
	for _, n := range names {
		if t, ok := m.tasks[n]; ok {
			out = append(out, t)
		}
	}
	return out
}

// groupText renders a parsed group back into DSL form for diagnostics.
func groupText(b Branch) string {
	s := b.Root
	if len(b.OnSuccess) > 0 {
		s += "?" + strings.Join(b.OnSuccess, ",")
	}
	if len(b.OnFailure) > 0 {
		s += ":" + strings.Join(b.OnFailure, ",")
	}
	return s
}
