package thread

import "sync"

// Interrupt priority levels.
const (
	IPLNone = 0
	IPLHigh = 1
)

// CPU models one processor's interrupt priority level. Raising the level
// excludes every other thread that raises it on the same CPU, which is the
// guarantee the context switch path relies on when it reads a thread's
// process pointer.
//
// SplHigh is not reentrant: a thread must Splx before raising again.
type CPU struct {
	num   int
	mu    sync.Mutex
	level int
}

// NewCPU creates processor number num.
func NewCPU(num int) *CPU {
	return &CPU{num: num}
}

// Num returns the processor number.
func (c *CPU) Num() int { return c.num }

// SplHigh disables interrupts and returns the previous level.
func (c *CPU) SplHigh() int {
	c.mu.Lock()
	old := c.level
	c.level = IPLHigh
	return old
}

// Splx restores the level returned by SplHigh.
func (c *CPU) Splx(old int) {
	c.level = old
	c.mu.Unlock()
}
