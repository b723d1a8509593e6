package synch

import (
	"fmt"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/thread"
)

// Semaphore is a counting semaphore. The count never goes negative.
//
// There is no FIFO guarantee: a thread arriving at Acquire may get the
// semaphore ahead of threads already asleep on it.
type Semaphore struct {
	name  string
	wchan *WaitChannel
	spin  Spinlock
	count uint
}

// NewSemaphore creates a semaphore with the given initial count.
func NewSemaphore(name string, initial uint) *Semaphore {
	return &Semaphore{
		name:  name,
		wchan: NewWaitChannel(name),
		count: initial,
	}
}

// Name returns the semaphore name.
func (s *Semaphore) Name() string { return s.name }

// Acquire (P) blocks until the count is positive, then decrements it.
func (s *Semaphore) Acquire(t *thread.Thread) {
	if t.InInterrupt() {
		panic(fmt.Sprintf("semaphore %s: P in interrupt handler", s.name))
	}

	s.spin.Acquire(t)
	for s.count == 0 {
		s.wchan.Sleep(t, &s.spin)
	}
	s.count--
	s.spin.Release(t)
}

// Release (V) increments the count and wakes one sleeper.
func (s *Semaphore) Release(t *thread.Thread) {
	s.spin.Acquire(t)
	s.count++
	s.wchan.WakeOne(t, &s.spin)
	s.spin.Release(t)
}

// Count returns the current count.
func (s *Semaphore) Count(t *thread.Thread) uint {
	s.spin.Acquire(t)
	defer s.spin.Release(t)
	return s.count
}

// Destroy tears the semaphore down. It panics if threads are asleep on it.
func (s *Semaphore) Destroy() {
	s.wchan.Destroy()
}
