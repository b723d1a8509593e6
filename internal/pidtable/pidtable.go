// Package pidtable tracks every process by PID and implements the
// zombie/orphan exit protocol.
//
// Each slot is in one of four states:
//
//	Free     no process
//	Running  live process whose parent is still alive
//	Zombie   exited, parent alive; holds the exit code until reaped
//	Orphan   live process whose parent has exited; reaps itself on exit
//
// One sleep lock guards the whole table and one condition variable is
// broadcast on every exit; waiters re-check their own child. Lock order is
// table lock, then the per-process lock, then handle locks, then spinlocks.
package pidtable

import (
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/errno"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/monitoring"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/synch"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/thread"
)

const (
	// KernelPID belongs to the kernel process and is never freed.
	KernelPID = 1
	// PidMin is the smallest PID handed to user processes.
	PidMin = 2
	// DefaultPidMax is the largest PID when none is configured.
	DefaultPidMax = 250
)

// Process is what the table needs from a process record.
type Process interface {
	PID() int
	// SetPID is called once, under the table lock, when the process is
	// added.
	SetPID(pid int)
	Name() string

	// Children returns the PIDs of the process's unreaped children.
	Children(t *thread.Thread) []int
	AddChild(t *thread.Thread, pid int)
	RemoveChild(t *thread.Thread, pid int)

	// Destroy reclaims the record. It is only called on records no thread
	// belongs to.
	Destroy(t *thread.Thread)
}

// Status is a slot state.
type Status int

const (
	Free Status = iota
	Running
	Zombie
	Orphan
)

func (s Status) String() string {
	switch s {
	case Free:
		return "free"
	case Running:
		return "running"
	case Zombie:
		return "zombie"
	case Orphan:
		return "orphan"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ReapMode decides when a waited-for zombie is reclaimed.
type ReapMode int

const (
	// ReapOnWait reclaims the zombie as soon as waitpid collects it. A
	// second waitpid on the same PID fails.
	ReapOnWait ReapMode = iota
	// ReapOnExit leaves collected zombies in place until their parent
	// exits. Waiting on them again returns the same code.
	ReapOnExit
)

func (m ReapMode) String() string {
	if m == ReapOnExit {
		return "exit"
	}
	return "wait"
}

// ParseReapMode parses "wait" or "exit".
func ParseReapMode(s string) (ReapMode, error) {
	switch s {
	case "", "wait":
		return ReapOnWait, nil
	case "exit":
		return ReapOnExit, nil
	default:
		return 0, fmt.Errorf("pidtable: unknown reap mode %q: %w", s, errno.EINVAL)
	}
}

// Options configures a table.
type Options struct {
	PidMax  int
	Mode    ReapMode
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

type slot struct {
	status   Status
	proc     Process
	exitCode int
}

// Table is the PID table.
type Table struct {
	lock *synch.Lock
	cv   *synch.Cond

	slots []slot // indexed by PID; slot 0 is unused
	avail int
	next  int // next PID to hand out; 0 when none is free

	mode    ReapMode
	log     *zap.Logger
	metrics *monitoring.Metrics
}

// Bootstrap builds the table and enters kproc as PID 1. It panics on a
// PidMax below PidMin or a kernel process that does not carry KernelPID.
func Bootstrap(kproc Process, opts Options) *Table {
	if opts.PidMax == 0 {
		opts.PidMax = DefaultPidMax
	}
	if opts.PidMax < PidMin {
		panic(fmt.Sprintf("pidtable: PidMax %d below PidMin %d", opts.PidMax, PidMin))
	}
	if kproc == nil || kproc.PID() != KernelPID {
		panic("pidtable: kernel process must carry PID 1")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	pt := &Table{
		lock:    synch.NewLock("pidtable"),
		cv:      synch.NewCond("pidtable"),
		slots:   make([]slot, opts.PidMax+1),
		avail:   opts.PidMax - PidMin + 1,
		next:    PidMin,
		mode:    opts.Mode,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
	pt.slots[KernelPID] = slot{status: Running, proc: kproc}
	pt.metrics.SetPidsInUse(pt.inUse())

	pt.log.Info("pid table ready",
		zap.Int("pid_max", opts.PidMax),
		zap.Stringer("reap_mode", opts.Mode))
	return pt
}

// PidMax returns the largest PID.
func (pt *Table) PidMax() int { return len(pt.slots) - 1 }

// Mode returns the reap mode.
func (pt *Table) Mode() ReapMode { return pt.mode }

// Add assigns the next free PID to p, marks it Running and records it as
// a child of parent (which may be nil). It fails with ENPROC when the
// table is full.
func (pt *Table) Add(t *thread.Thread, parent, p Process) (int, error) {
	pt.lock.Acquire(t)
	defer pt.lock.Release(t)

	if pt.avail == 0 {
		return 0, fmt.Errorf("pidtable: add %s: %w", p.Name(), errno.ENPROC)
	}

	pid := pt.next
	if pt.slots[pid].status != Free {
		pt.log.Error("pid cursor on a used slot", zap.Int("pid", pid))
		panic(fmt.Sprintf("pidtable: next pid %d is %s", pid, pt.slots[pid].status))
	}

	pt.slots[pid] = slot{status: Running, proc: p}
	pt.avail--
	p.SetPID(pid)
	if parent != nil {
		parent.AddChild(t, pid)
	}
	pt.next = pt.scan(pid)
	pt.metrics.SetPidsInUse(pt.inUse())

	pt.log.Debug("pid assigned", zap.Int("pid", pid), zap.String("name", p.Name()))
	return pid, nil
}

// Free releases pid unconditionally. It is used to unwind a failed fork;
// normal teardown goes through Exit and Wait.
func (pt *Table) Free(t *thread.Thread, pid int) {
	pt.lock.Acquire(t)
	defer pt.lock.Release(t)

	if pid < PidMin || pid > pt.PidMax() {
		panic(fmt.Sprintf("pidtable: free of invalid pid %d", pid))
	}
	if pt.slots[pid].status == Free {
		return
	}
	pt.release(pid)
	pt.cv.Broadcast(t, pt.lock)
}

// Lookup returns the process holding pid, or nil. It takes the table lock
// unless t already holds it.
func (pt *Table) Lookup(t *thread.Thread, pid int) Process {
	if pid < KernelPID || pid > pt.PidMax() {
		return nil
	}
	if !pt.lock.IsHeldBy(t) {
		pt.lock.Acquire(t)
		defer pt.lock.Release(t)
	}
	return pt.slots[pid].proc
}

// Status returns pid's slot state. Out-of-range PIDs are Free.
func (pt *Table) Status(t *thread.Thread, pid int) Status {
	if pid < KernelPID || pid > pt.PidMax() {
		return Free
	}
	pt.lock.Acquire(t)
	defer pt.lock.Release(t)
	return pt.slots[pid].status
}

// Available returns the number of free PIDs.
func (pt *Table) Available(t *thread.Thread) int {
	pt.lock.Acquire(t)
	defer pt.lock.Release(t)
	return pt.avail
}

// Next returns the PID the next Add will hand out, or 0 if the table is
// full.
func (pt *Table) Next(t *thread.Thread) int {
	pt.lock.Acquire(t)
	defer pt.lock.Release(t)
	return pt.next
}

// Exit records p's exit. Each zombie child is reaped and each running
// child becomes an orphan. Then p either becomes a zombie holding code or,
// if it was itself an orphan, is reaped on the spot. Waiters are woken
// either way.
//
// The calling thread must already be detached from p. Exiting a process
// that is not Running or Orphan panics.
func (pt *Table) Exit(t *thread.Thread, p Process, code int) {
	pt.lock.Acquire(t)
	defer pt.lock.Release(t)

	pid := p.PID()
	if pid < PidMin || pid > pt.PidMax() || pt.slots[pid].proc != p {
		panic(fmt.Sprintf("pidtable: exit of untracked process %s (pid %d)", p.Name(), pid))
	}
	s := &pt.slots[pid]

	children := p.Children(t)
	for _, c := range slices.Backward(children) {
		cs := &pt.slots[c]
		switch cs.status {
		case Zombie:
			pt.reap(t, c, "parent")
		case Running:
			cs.status = Orphan
			pt.log.Debug("orphaned", zap.Int("pid", c), zap.Int("parent", pid))
		default:
			pt.log.Error("child in unexpected state",
				zap.Int("pid", c), zap.Int("parent", pid), zap.Stringer("status", cs.status))
			panic(fmt.Sprintf("pidtable: child %d of %d is %s", c, pid, cs.status))
		}
		p.RemoveChild(t, c)
	}

	switch s.status {
	case Running:
		s.status = Zombie
		s.exitCode = code
		pt.metrics.RecordExit("zombie")
		pt.log.Debug("exited", zap.Int("pid", pid), zap.Int("code", code))
	case Orphan:
		pt.metrics.RecordExit("orphan")
		pt.log.Debug("orphan exited", zap.Int("pid", pid), zap.Int("code", code))
		pt.reap(t, pid, "self")
	default:
		pt.log.Error("exit from unexpected state", zap.Int("pid", pid), zap.Stringer("status", s.status))
		panic(fmt.Sprintf("pidtable: pid %d exiting while %s", pid, s.status))
	}

	pt.cv.Broadcast(t, pt.lock)
}

// Wait blocks until parent's child pid has exited and returns its exit
// code.
//
// Errors: EINVAL for a PID that is out of range or not in use, or for
// non-zero options; ECHILD if pid is not parent's child, or stops being
// tracked while the caller sleeps.
func (pt *Table) Wait(t *thread.Thread, parent Process, pid, options int) (int, error) {
	pt.lock.Acquire(t)
	defer pt.lock.Release(t)

	if pid < KernelPID || pid > pt.PidMax() || pt.slots[pid].status == Free {
		return 0, fmt.Errorf("pidtable: wait %d: no such process: %w", pid, errno.EINVAL)
	}
	if options != 0 {
		return 0, fmt.Errorf("pidtable: wait %d: options %#x: %w", pid, options, errno.EINVAL)
	}
	if !slices.Contains(parent.Children(t), pid) {
		return 0, fmt.Errorf("pidtable: wait %d: not a child of %d: %w", pid, parent.PID(), errno.ECHILD)
	}

	child := pt.slots[pid].proc
	if pt.slots[pid].status != Zombie {
		pt.metrics.WaitBlocked(1)
		for pt.slots[pid].status != Zombie {
			pt.cv.Wait(t, pt.lock)
			if pt.slots[pid].proc != child {
				pt.metrics.WaitBlocked(-1)
				return 0, fmt.Errorf("pidtable: wait %d: child vanished: %w", pid, errno.ECHILD)
			}
		}
		pt.metrics.WaitBlocked(-1)
	}

	code := pt.slots[pid].exitCode
	if pt.mode == ReapOnWait {
		parent.RemoveChild(t, pid)
		pt.reap(t, pid, "wait")
	}
	return code, nil
}

// Entry describes one used slot.
type Entry struct {
	PID      int
	Status   Status
	ExitCode int // meaningful only for zombies
	Proc     Process
}

// Each calls fn for every used slot in PID order, with the table lock
// held. fn may call Lookup but nothing else on the table.
func (pt *Table) Each(t *thread.Thread, fn func(Entry)) {
	pt.lock.Acquire(t)
	defer pt.lock.Release(t)

	for pid := KernelPID; pid < len(pt.slots); pid++ {
		s := pt.slots[pid]
		if s.status == Free {
			continue
		}
		fn(Entry{PID: pid, Status: s.status, ExitCode: s.exitCode, Proc: s.proc})
	}
}

// reap destroys pid's record and releases the slot. Callers hold the lock.
func (pt *Table) reap(t *thread.Thread, pid int, by string) {
	p := pt.slots[pid].proc
	pt.release(pid)
	p.Destroy(t)
	pt.metrics.RecordReap(by)
	pt.log.Debug("reaped", zap.Int("pid", pid), zap.String("by", by))
}

// release clears a slot and pulls the cursor down to it if it is lower.
// Callers hold the lock.
func (pt *Table) release(pid int) {
	pt.slots[pid] = slot{}
	pt.avail++
	if pt.next == 0 || pid < pt.next {
		pt.next = pid
	}
	pt.metrics.SetPidsInUse(pt.inUse())
}

// scan finds the first free PID after from, wrapping around. Callers hold
// the lock.
func (pt *Table) scan(from int) int {
	if pt.avail == 0 {
		return 0
	}
	span := pt.PidMax() - PidMin + 1
	for i := 1; i <= span; i++ {
		pid := PidMin + (from-PidMin+i)%span
		if pt.slots[pid].status == Free {
			return pid
		}
	}
	panic(fmt.Sprintf("pidtable: %d pids available but none free", pt.avail))
}

func (pt *Table) inUse() int {
	return pt.PidMax() - PidMin + 1 - pt.avail + 1
}
