package synch

import (
	"fmt"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/thread"
)

// Cond is a condition variable used together with a Lock.
//
// Every operation requires the caller to hold the associated lock. Wait
// releases the lock and goes to sleep atomically with respect to Signal and
// Broadcast, but re-acquiring the lock after a wakeup races with other
// threads, so the waited-for predicate must be re-checked in a loop:
//
//	lk.Acquire(t)
//	for !ready {
//		cv.Wait(t, lk)
//	}
//	lk.Release(t)
type Cond struct {
	name  string
	wchan *WaitChannel
	spin  Spinlock
}

// NewCond creates a condition variable.
func NewCond(name string) *Cond {
	return &Cond{
		name:  name,
		wchan: NewWaitChannel(name),
	}
}

// Name returns the condition variable name.
func (c *Cond) Name() string { return c.name }

// Wait releases lk, sleeps until signalled, then re-acquires lk.
func (c *Cond) Wait(t *thread.Thread, lk *Lock) {
	c.assertHeld(t, lk, "wait")

	// The cond spinlock is taken before lk is dropped; a signaller needs
	// both lk and the spinlock, so it cannot slip in between.
	c.spin.Acquire(t)
	lk.Release(t)
	c.wchan.Sleep(t, &c.spin)
	c.spin.Release(t)

	lk.Acquire(t)
}

// Signal wakes one waiter.
func (c *Cond) Signal(t *thread.Thread, lk *Lock) {
	c.assertHeld(t, lk, "signal")

	c.spin.Acquire(t)
	c.wchan.WakeOne(t, &c.spin)
	c.spin.Release(t)
}

// Broadcast wakes every waiter.
func (c *Cond) Broadcast(t *thread.Thread, lk *Lock) {
	c.assertHeld(t, lk, "broadcast")

	c.spin.Acquire(t)
	c.wchan.WakeAll(t, &c.spin)
	c.spin.Release(t)
}

// Destroy tears the condition variable down. It panics if anyone waits.
func (c *Cond) Destroy() {
	c.wchan.Destroy()
}

func (c *Cond) assertHeld(t *thread.Thread, lk *Lock, op string) {
	if lk == nil || !lk.IsHeldBy(t) {
		panic(fmt.Sprintf("cv %s: %s by %s without holding the lock", c.name, op, t.Name()))
	}
}
