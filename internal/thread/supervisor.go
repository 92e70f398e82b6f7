package thread

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/RetrieverRobotics/UMBC-Robosub/internal/identity"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/logging"
)

// Class is a unit's priority class.
type Class int

const (
	// ClassCritical units must stay up for the vehicle to operate (comms).
	ClassCritical Class = iota
	// ClassWorker units do task-scoped work and come and go with their task.
	ClassWorker
)

// String returns the single-letter class tag used by ListThreads.
func (c Class) String() string {
	switch c {
	case ClassCritical:
		return "C"
	case ClassWorker:
		return "W"
	default:
		return "?"
	}
}

// Status is what a Supervisor reports about a unit.
type Status int

const (
	NotLoaded Status = iota
	Working
	Paused
)

func (s Status) String() string {
	switch s {
	case NotLoaded:
		return "NotLoaded"
	case Working:
		return "Working"
	case Paused:
		return "Paused"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

type record struct {
	unit  *Unit
	owner identity.Named
	name  string
	class Class
	seq   uint64
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the supervisor's logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l.WithComponent("thread")
		}
	}
}

// Supervisor loads units onto goroutines and tracks them until they exit.
// It is safe for concurrent use.
type Supervisor struct {
	mu      sync.Mutex
	records map[*Unit]*record
	seq     uint64
	wg      sync.WaitGroup
	logger  *logging.Logger
}

// NewSupervisor creates an empty Supervisor.
func NewSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{
		records: make(map[*Unit]*record),
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load runs the unit's Init on the caller's goroutine and starts the unit's
// goroutine. It does nothing and returns false if the unit is already loaded
// or being loaded. Init runs without the supervisor lock, so other units can
// be queried meanwhile, but it still blocks the caller and should be short.
// The unit reports NotLoaded until Init returns.
func (s *Supervisor) Load(owner identity.Named, u *Unit, name string, class Class) bool {
	s.mu.Lock()
	_, loaded := s.records[u]
	s.mu.Unlock()
	if loaded {
		return false
	}
	if !u.tryInit() {
		// Already initialized, here or by another supervisor.
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.records[u] = &record{unit: u, owner: owner, name: name, class: class, seq: s.seq}

	if !u.persistent {
		s.wg.Add(1)
	}
	go u.run(func() { s.exited(u) })

	s.logger.Debug("unit loaded", "unit", name, "owner", ownerName(owner), "class", class.String(), "persistent", u.persistent)
	return true
}

func (s *Supervisor) exited(u *Unit) {
	s.mu.Lock()
	rec, ok := s.records[u]
	if ok {
		delete(s.records, u)
	}
	s.mu.Unlock()

	if ok {
		s.logger.Debug("unit exited", "unit", rec.name)
	}
	s.wg.Done()
}

// Status reports NotLoaded without a record, Working while a step is queued
// or executing, and Paused otherwise.
func (s *Supervisor) Status(u *Unit) Status {
	s.mu.Lock()
	_, ok := s.records[u]
	s.mu.Unlock()

	switch {
	case !ok:
		return NotLoaded
	case u.busy():
		return Working
	default:
		return Paused
	}
}

// Resume queues one step. It never blocks and returns false if the unit is
// not loaded.
func (s *Supervisor) Resume(u *Unit) bool {
	s.mu.Lock()
	_, ok := s.records[u]
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("resume ignored for unit that is not loaded")
		return false
	}
	u.requestStep()
	return true
}

// Unload queues cleanup. The record stays until the unit's goroutine has run
// CleanUp. Returns false for units that are not loaded or are persistent.
func (s *Supervisor) Unload(u *Unit) bool {
	s.mu.Lock()
	rec, ok := s.records[u]
	s.mu.Unlock()

	if !ok {
		return false
	}
	if !u.requestCleanup() {
		s.logger.Debug("persistent unit ignores unload", "unit", rec.name)
		return false
	}
	return true
}

// UnloadAllFromParent unloads every unit owned by owner and returns how many
// accepted the request.
func (s *Supervisor) UnloadAllFromParent(owner identity.Named) int {
	n := 0
	for _, rec := range s.snapshot() {
		if rec.owner == owner && s.Unload(rec.unit) {
			n++
		}
	}
	return n
}

// ThreadCount returns the number of loaded units.
func (s *Supervisor) ThreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// ThreadCountOf returns the number of loaded units in a class.
func (s *Supervisor) ThreadCountOf(class Class) int {
	n := 0
	for _, rec := range s.snapshot() {
		if rec.class == class {
			n++
		}
	}
	return n
}

// ThreadInfo describes one loaded unit.
type ThreadInfo struct {
	Name       string `json:"name"`
	Owner      string `json:"owner"`
	Class      string `json:"class"`
	Status     string `json:"status"`
	Persistent bool   `json:"persistent"`
}

// Threads returns a description of every loaded unit in load order.
func (s *Supervisor) Threads() []ThreadInfo {
	recs := s.snapshot()
	out := make([]ThreadInfo, 0, len(recs))
	for _, rec := range recs {
		out = append(out, ThreadInfo{
			Name:       rec.name,
			Owner:      ownerName(rec.owner),
			Class:      rec.class.String(),
			Status:     s.Status(rec.unit).String(),
			Persistent: rec.unit.persistent,
		})
	}
	return out
}

// ListThreads renders the loaded units for a status dump:
//
//	 > (W ) | search @ qualifier
//	 ||(C*) | interpreter @ comms
func (s *Supervisor) ListThreads() string {
	var b strings.Builder
	b.WriteString("Threads\n--------\n")
	for _, rec := range s.snapshot() {
		switch s.Status(rec.unit) {
		case Working:
			b.WriteString(" > ")
		case Paused:
			b.WriteString(" ||")
		default:
			b.WriteString(" ? ")
		}
		b.WriteString("(")
		b.WriteString(rec.class.String())
		if rec.unit.persistent {
			b.WriteString("*")
		} else {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, ") | %s @ %s\n", rec.name, ownerName(rec.owner))
	}
	return b.String()
}

// Shutdown unloads every unit and waits for the non-persistent ones to run
// CleanUp, or for ctx to end.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	for _, rec := range s.snapshot() {
		s.Unload(rec.unit)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all units exited")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for units to exit: %w", ctx.Err())
	}
}

// snapshot returns the records in load order.
func (s *Supervisor) snapshot() []*record {
	s.mu.Lock()
	recs := make([]*record, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	s.mu.Unlock()

	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	return recs
}

func ownerName(owner identity.Named) string {
	if owner == nil {
		return "-"
	}
	return owner.InstanceName()
}
