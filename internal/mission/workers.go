package mission

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/RetrieverRobotics/UMBC-Robosub/internal/clock"
	"github.com/RetrieverRobotics/UMBC-Robosub/pkg/comms"
)

// Interpreter reads one operator line per step. Its Step blocks on the
// reader, so it is always loaded as a persistent unit.
type Interpreter struct {
	scanner *bufio.Scanner

	mu      sync.Mutex
	line    string
	pending bool
	err     error
}

// NewInterpreter reads lines from r.
func NewInterpreter(r io.Reader) *Interpreter {
	return &Interpreter{scanner: bufio.NewScanner(r)}
}

func (i *Interpreter) Init()    {}
func (i *Interpreter) CleanUp() {}

func (i *Interpreter) Step() {
	if i.scanner.Scan() {
		i.mu.Lock()
		i.line = i.scanner.Text()
		i.pending = true
		i.mu.Unlock()
		return
	}

	err := i.scanner.Err()
	if err == nil {
		err = io.EOF
	}
	i.mu.Lock()
	i.err = err
	i.mu.Unlock()
}

// Line returns the last line read if it has not been taken yet.
func (i *Interpreter) Line() (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.pending {
		return "", false
	}
	i.pending = false
	return i.line, true
}

// Err returns io.EOF once the input is exhausted, or the read error.
func (i *Interpreter) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.err
}

// ThrusterSweep commands a short test pulse on one thruster per step.
type ThrusterSweep struct {
	bus       *comms.Bus
	thrusters int

	mu   sync.Mutex
	next int
	err  error
}

// NewThrusterSweep tests thrusters 0 through thrusters-1.
func NewThrusterSweep(bus *comms.Bus, thrusters int) *ThrusterSweep {
	return &ThrusterSweep{bus: bus, thrusters: thrusters}
}

func (s *ThrusterSweep) Init() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = 0
	s.err = nil
}

func (s *ThrusterSweep) Step() {
	s.mu.Lock()
	n := s.next
	s.mu.Unlock()
	if n >= s.thrusters {
		return
	}

	err := s.bus.Send(LinkTeensy, FieldCmd, comms.KindString, "test:thruster:"+strconv.Itoa(n))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.err = err
		return
	}
	s.next++
}

func (s *ThrusterSweep) CleanUp() {}

// Done reports whether every thruster has been pulsed.
func (s *ThrusterSweep) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next >= s.thrusters
}

// Err returns the first send failure.
func (s *ThrusterSweep) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// GateSearch yaws in place until the vision pipeline publishes a fresh
// gate bearing.
type GateSearch struct {
	bus     *comms.Bus
	yawRate float64

	mu      sync.Mutex
	since   clock.Stamp
	locked  bool
	bearing float64
	err     error
}

// NewGateSearch yaws at yawRate while searching.
func NewGateSearch(bus *comms.Bus, yawRate float64) *GateSearch {
	return &GateSearch{bus: bus, yawRate: yawRate}
}

func (g *GateSearch) Init() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.since = clock.NewStamp()
	g.locked = false
	g.err = nil
}

func (g *GateSearch) Step() {
	g.mu.Lock()
	since := g.since.Time()
	g.mu.Unlock()

	if g.bus.HasNew(LinkPi, FieldGateBearing, since) {
		bearing, err := comms.Lookup[float64](g.bus, LinkPi, FieldGateBearing)
		if err == nil {
			g.mu.Lock()
			g.locked = true
			g.bearing = bearing
			g.mu.Unlock()
			return
		}
	}

	if err := g.bus.Send(LinkTeensy, FieldCmd, comms.KindString, fmt.Sprintf("yaw:%g", g.yawRate)); err != nil {
		g.mu.Lock()
		g.err = err
		g.mu.Unlock()
	}
}

func (g *GateSearch) CleanUp() {}

// Direction returns "locked" once the gate is found, or "searching".
func (g *GateSearch) Direction() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.locked {
		return "locked"
	}
	return "searching"
}

// Bearing returns the bearing the gate was locked at.
func (g *GateSearch) Bearing() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bearing
}

// Err returns the last send failure.
func (g *GateSearch) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// GateApproach steers toward the gate and drives forward until the vision
// pipeline reports the gate passed.
type GateApproach struct {
	bus    *comms.Bus
	thrust float64

	mu      sync.Mutex
	bearing float64
	arrived bool
	err     error
}

// NewGateApproach drives at thrust toward the given starting bearing.
func NewGateApproach(bus *comms.Bus, bearing, thrust float64) *GateApproach {
	return &GateApproach{bus: bus, bearing: bearing, thrust: thrust}
}

func (a *GateApproach) Init() {}

func (a *GateApproach) Step() {
	if comms.IsSetAs[bool](a.bus, LinkPi, FieldGatePassed) && comms.Get[bool](a.bus, LinkPi, FieldGatePassed) {
		a.mu.Lock()
		a.arrived = true
		a.mu.Unlock()
		_ = a.bus.Send(LinkTeensy, FieldCmd, comms.KindString, "stop")
		return
	}

	a.mu.Lock()
	if b, err := comms.Lookup[float64](a.bus, LinkPi, FieldGateBearing); err == nil {
		a.bearing = b
	}
	bearing := a.bearing
	a.mu.Unlock()

	err := errors.Join(
		a.bus.Send(LinkTeensy, FieldCmd, comms.KindString, fmt.Sprintf("heading:%g", bearing)),
		a.bus.Send(LinkTeensy, FieldCmd, comms.KindString, fmt.Sprintf("thrust:%g", a.thrust)),
	)
	if err != nil {
		a.mu.Lock()
		a.err = err
		a.mu.Unlock()
	}
}

func (a *GateApproach) CleanUp() {
	_ = a.bus.Send(LinkTeensy, FieldCmd, comms.KindString, "stop")
}

// Arrived reports whether the gate has been passed.
func (a *GateApproach) Arrived() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.arrived
}

// Err returns the last send failure.
func (a *GateApproach) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}
