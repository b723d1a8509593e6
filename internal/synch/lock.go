package synch

import (
	"fmt"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/thread"
)

// Lock is a sleep lock with an owner. Only the owner may release it.
//
// State machine: Unlocked -> Locked(owner) -> Unlocked. A Lock can be
// acquired and released any number of times.
type Lock struct {
	name  string
	wchan *WaitChannel
	spin  Spinlock
	owner *thread.Thread
	held  bool
}

// NewLock creates an unlocked lock.
func NewLock(name string) *Lock {
	return &Lock{
		name:  name,
		wchan: NewWaitChannel(name),
	}
}

// Name returns the lock name.
func (l *Lock) Name() string { return l.name }

// Acquire blocks until the lock is free and makes t its owner.
func (l *Lock) Acquire(t *thread.Thread) {
	if t.InInterrupt() {
		panic(fmt.Sprintf("lock %s: acquire in interrupt handler", l.name))
	}

	l.spin.Acquire(t)
	if l.held && l.owner == t {
		l.spin.Release(t)
		panic(fmt.Sprintf("lock %s: %s acquiring a lock it already holds", l.name, t.Name()))
	}
	for l.held {
		l.wchan.Sleep(t, &l.spin)
	}
	l.held = true
	l.owner = t
	l.spin.Release(t)
}

// Release frees the lock and wakes one waiter. Releasing a lock t does not
// own means the lock's invariant is already broken; it panics.
func (l *Lock) Release(t *thread.Thread) {
	l.spin.Acquire(t)
	if !l.held || l.owner != t {
		owner := "nobody"
		if l.owner != nil {
			owner = l.owner.Name()
		}
		l.spin.Release(t)
		panic(fmt.Sprintf("lock %s: released by %s, owner is %s", l.name, t.Name(), owner))
	}
	l.owner = nil
	l.held = false
	l.wchan.WakeOne(t, &l.spin)
	l.spin.Release(t)
}

// IsHeldBy reports whether t owns the lock. It never blocks on the lock
// itself.
func (l *Lock) IsHeldBy(t *thread.Thread) bool {
	l.spin.Acquire(t)
	defer l.spin.Release(t)
	return l.held && l.owner == t
}

// Destroy tears the lock down. It panics if the lock is held or has
// waiters.
func (l *Lock) Destroy() {
	if l.held {
		panic(fmt.Sprintf("lock %s: destroyed while held", l.name))
	}
	l.wchan.Destroy()
}
