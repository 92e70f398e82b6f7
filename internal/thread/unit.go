// Package thread runs worker units on dedicated goroutines and supervises them.
//
// A Unit wraps a Worker. Once loaded by a Supervisor it sits idle on its own
// goroutine until Resume asks it for one Step. Unload asks it to run CleanUp
// and exit once any in-flight step has finished.
package thread

import (
	"sync/atomic"
)

// Worker is the unit of work a Unit drives.
type Worker interface {
	// Init runs once, synchronously, when the unit is loaded.
	Init()
	// Step performs one unit of work. It runs on the unit's goroutine.
	Step()
	// CleanUp runs once after an unload request, on the unit's goroutine.
	CleanUp()
}

// WorkerFuncs adapts plain functions to Worker. Nil functions are skipped.
type WorkerFuncs struct {
	InitFunc    func()
	StepFunc    func()
	CleanUpFunc func()
}

func (w WorkerFuncs) Init() {
	if w.InitFunc != nil {
		w.InitFunc()
	}
}

func (w WorkerFuncs) Step() {
	if w.StepFunc != nil {
		w.StepFunc()
	}
}

func (w WorkerFuncs) CleanUp() {
	if w.CleanUpFunc != nil {
		w.CleanUpFunc()
	}
}

// UnitOption configures a Unit.
type UnitOption func(*Unit)

// Persistent marks a unit that ignores unload requests. Use it for workers
// whose Step blocks on input that cannot be interrupted, such as a terminal.
func Persistent() UnitOption {
	return func(u *Unit) {
		u.persistent = true
	}
}

// Unit is the per-worker state machine. Its flags are independent atomics;
// the goroutine blocks on wake whenever nothing is pending.
type Unit struct {
	worker     Worker
	persistent bool

	initialized      atomic.Bool
	initializing     atomic.Bool
	stepRequested    atomic.Bool
	working          atomic.Bool
	cleanupRequested atomic.Bool

	wake chan struct{}
}

// NewUnit wraps a Worker.
func NewUnit(w Worker, opts ...UnitOption) *Unit {
	u := &Unit{
		worker: w,
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Worker returns the wrapped worker.
func (u *Unit) Worker() Worker {
	return u.worker
}

// IsPersistent reports whether the unit ignores unload requests.
func (u *Unit) IsPersistent() bool {
	return u.persistent
}

// Initialized reports whether Init has run and CleanUp has not.
func (u *Unit) Initialized() bool {
	return u.initialized.Load()
}

// busy reports whether a step is executing or queued.
func (u *Unit) busy() bool {
	return u.working.Load() || u.stepRequested.Load()
}

// tryInit runs Init if the unit is not initialized and no other caller is
// initializing it.
func (u *Unit) tryInit() bool {
	if u.initialized.Load() || !u.initializing.CompareAndSwap(false, true) {
		return false
	}
	defer u.initializing.Store(false)
	if u.initialized.Load() {
		return false
	}
	u.worker.Init()
	u.initialized.Store(true)
	return true
}

func (u *Unit) requestStep() {
	u.stepRequested.Store(true)
	u.signal()
}

func (u *Unit) requestCleanup() bool {
	if u.persistent {
		return false
	}
	u.cleanupRequested.Store(true)
	u.signal()
	return true
}

// signal wakes the goroutine without blocking. One pending signal is enough
// because the loop re-checks every flag after waking.
func (u *Unit) signal() {
	select {
	case u.wake <- struct{}{}:
	default:
	}
}

// run is the unit's goroutine body. exited is called after CleanUp.
func (u *Unit) run(exited func()) {
	for {
		switch {
		case u.cleanupRequested.Load() && !u.persistent:
			u.worker.CleanUp()

			u.cleanupRequested.Store(false)
			u.stepRequested.Store(false)
			u.working.Store(false)
			u.initialized.Store(false)
			exited()
			return

		case u.stepRequested.Load():
			u.working.Store(true)
			u.stepRequested.Store(false)
			u.worker.Step()
			u.working.Store(false)

		default:
			<-u.wake
		}
	}
}
