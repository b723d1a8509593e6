// Package thread models kernel threads for the simulated kernel.
//
// A kernel thread is a goroutine plus a *Thread carrying its identity. Go has
// no goroutine-local storage, so the "current thread" is passed explicitly to
// every operation that cares who the caller is (lock ownership, the owning
// process, interrupt context).
package thread

import (
	"runtime"
	"sync/atomic"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/shared/id"
)

// Process is what a thread knows about the process it belongs to.
type Process interface {
	PID() int
	Name() string
}

// Entry is a thread entry point. data and n are opaque to the thread system.
type Entry func(t *Thread, data any, n uint64)

// Thread is a kernel thread.
type Thread struct {
	id   id.ThreadID
	name string
	cpu  *CPU

	// proc is read by the context switch path, so it is only touched at
	// raised interrupt level.
	proc Process

	inInterrupt atomic.Bool
	done        chan struct{}
}

// New creates a thread record for the calling goroutine. It is used for
// the boot thread and by tests; Fork is the way to start new threads.
func New(name string, cpu *CPU) *Thread {
	return &Thread{
		id:   id.NewThreadID(),
		name: name,
		cpu:  cpu,
		done: make(chan struct{}),
	}
}

// ID returns the thread's identifier.
func (t *Thread) ID() id.ThreadID { return t.id }

// Name returns the thread's name.
func (t *Thread) Name() string { return t.name }

// CPU returns the processor the thread runs on.
func (t *Thread) CPU() *CPU { return t.cpu }

// Proc returns the owning process, or nil if the thread is detached.
func (t *Thread) Proc() Process {
	spl := t.cpu.SplHigh()
	p := t.proc
	t.cpu.Splx(spl)
	return p
}

// Rebind points the thread at p (nil detaches it) and returns the previous
// owner. The pointer is swapped with interrupts off so a concurrent context
// switch never sees a half-updated owner.
func (t *Thread) Rebind(p Process) Process {
	spl := t.cpu.SplHigh()
	old := t.proc
	t.proc = p
	t.cpu.Splx(spl)
	return old
}

// InInterrupt reports whether the thread is running an interrupt handler.
func (t *Thread) InInterrupt() bool { return t.inInterrupt.Load() }

// Interrupt runs fn as an interrupt handler on t. Sleeping primitives
// refuse to block while it runs.
func (t *Thread) Interrupt(fn func()) {
	t.inInterrupt.Store(true)
	defer t.inInterrupt.Store(false)
	fn()
}

// Done is closed when a forked thread's entry function returns or the
// thread calls Exit.
func (t *Thread) Done() <-chan struct{} { return t.done }

// Fork creates a thread and starts it at entry. If attach is non-nil it is
// called before the thread runs, to bind the new thread to its process; an
// attach error aborts the fork and nothing is started.
func Fork(name string, cpu *CPU, attach func(*Thread) error, entry Entry, data any, n uint64) (*Thread, error) {
	t := New(name, cpu)
	if attach != nil {
		if err := attach(t); err != nil {
			return nil, err
		}
	}

	go func() {
		defer close(t.done)
		entry(t, data, n)
	}()

	return t, nil
}

// Exit terminates the calling thread. It does not return. The caller must
// already have detached the thread from its process.
func Exit() {
	runtime.Goexit()
}
