package adsync

import (
	"sync/atomic"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/semaphore"
)

// ErrCycleInProgress is returned when a trigger arrives while a cycle runs.
var ErrCycleInProgress = eris.New("adsync: a sync cycle is already running")

// CycleGuard admits at most one sync cycle per process. A second trigger is
// refused rather than queued.
type CycleGuard struct {
	sem     *semaphore.Weighted
	running atomic.Bool
}

// NewCycleGuard creates an idle guard.
func NewCycleGuard() *CycleGuard {
	return &CycleGuard{sem: semaphore.NewWeighted(1)}
}

// TryAcquire claims the guard without blocking. It reports false when a cycle
// already holds it.
func (g *CycleGuard) TryAcquire() bool {
	if !g.sem.TryAcquire(1) {
		return false
	}
	g.running.Store(true)
	return true
}

// Release frees the guard. It must follow a successful TryAcquire.
func (g *CycleGuard) Release() {
	g.running.Store(false)
	g.sem.Release(1)
}

// Running reports whether a cycle currently holds the guard.
func (g *CycleGuard) Running() bool { return g.running.Load() }
