package synch

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/thread"
)

// Spinlock is the low-level mutual-exclusion primitive the sleeping
// primitives are built on. It records its holder so that the layers above
// can assert ownership. The zero value is unlocked.
//
// A Spinlock must never be held across a sleep other than the one performed
// by WaitChannel.Sleep, which drops it for the duration.
type Spinlock struct {
	mu     sync.Mutex
	holder atomic.Pointer[thread.Thread]
}

// Acquire takes the spinlock for t.
func (s *Spinlock) Acquire(t *thread.Thread) {
	if s.holder.Load() == t {
		panic(fmt.Sprintf("spinlock: deadlock, %s already holds it", t.Name()))
	}
	s.mu.Lock()
	s.holder.Store(t)
}

// Release drops the spinlock. t must hold it.
func (s *Spinlock) Release(t *thread.Thread) {
	if s.holder.Load() != t {
		panic(fmt.Sprintf("spinlock: released by %s, which does not hold it", t.Name()))
	}
	s.holder.Store(nil)
	s.mu.Unlock()
}

// DoIHold reports whether t holds the spinlock.
func (s *Spinlock) DoIHold(t *thread.Thread) bool {
	return s.holder.Load() == t
}
