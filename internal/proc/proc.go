// Package proc implements process records and their lifecycle.
//
// A Proc carries two locks. Its spinlock guards the thread count, the
// address space and the current directory, the fields the context-switch
// path and the thread attach/detach path touch. Its sleep lock guards the
// file-descriptor table and the child list. A Handle in the descriptor
// table has its own lock for the offset and reference count, so the Proc
// lock only decides which slot points at which handle.
package proc

import (
	"fmt"
	"slices"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/errno"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/file"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/pidtable"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/synch"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/thread"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/vfs"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/vm"
)

// Proc is a process.
type Proc struct {
	name string
	pid  int // set once when the process enters the pid table

	spin       synch.Spinlock
	numThreads int
	as         vm.AddressSpace
	cwd        vfs.Vnode

	lock     *synch.Lock
	fds      []*file.Handle
	children []int
}

func newProc(name string, openMax int) *Proc {
	return &Proc{
		name: name,
		lock: synch.NewLock(name),
		fds:  make([]*file.Handle, openMax),
	}
}

// PID returns the process ID, 0 before the process is in the table.
func (p *Proc) PID() int { return p.pid }

// SetPID records the PID the table assigned.
func (p *Proc) SetPID(pid int) { p.pid = pid }

// Name returns the process name.
func (p *Proc) Name() string { return p.name }

// String implements fmt.Stringer.
func (p *Proc) String() string { return fmt.Sprintf("%s[%d]", p.name, p.pid) }

// NumThreads returns the number of threads attached to p.
func (p *Proc) NumThreads(t *thread.Thread) int {
	p.spin.Acquire(t)
	defer p.spin.Release(t)
	return p.numThreads
}

// AS returns the address space, which may be nil.
func (p *Proc) AS(t *thread.Thread) vm.AddressSpace {
	p.spin.Acquire(t)
	defer p.spin.Release(t)
	return p.as
}

// SetAS installs as and returns the previous address space.
func (p *Proc) SetAS(t *thread.Thread, as vm.AddressSpace) vm.AddressSpace {
	p.spin.Acquire(t)
	defer p.spin.Release(t)
	old := p.as
	p.as = as
	return old
}

// Cwd returns the current directory with a reference the caller owns, or
// nil.
func (p *Proc) Cwd(t *thread.Thread) vfs.Vnode {
	p.spin.Acquire(t)
	defer p.spin.Release(t)
	if p.cwd != nil {
		p.cwd.IncRef()
	}
	return p.cwd
}

// SetCwd installs v, taking over the caller's reference, and returns the
// previous directory whose reference is now the caller's.
func (p *Proc) SetCwd(t *thread.Thread, v vfs.Vnode) vfs.Vnode {
	p.spin.Acquire(t)
	defer p.spin.Release(t)
	old := p.cwd
	p.cwd = v
	return old
}

// Children returns a copy of the unreaped child PIDs.
func (p *Proc) Children(t *thread.Thread) []int {
	p.lock.Acquire(t)
	defer p.lock.Release(t)
	return slices.Clone(p.children)
}

// AddChild records pid as a child.
func (p *Proc) AddChild(t *thread.Thread, pid int) {
	p.lock.Acquire(t)
	p.children = append(p.children, pid)
	p.lock.Release(t)
}

// RemoveChild forgets pid.
func (p *Proc) RemoveChild(t *thread.Thread, pid int) {
	p.lock.Acquire(t)
	p.children = slices.DeleteFunc(p.children, func(c int) bool { return c == pid })
	p.lock.Release(t)
}

// FdInsert puts h in the lowest free descriptor slot.
func (p *Proc) FdInsert(t *thread.Thread, h *file.Handle) (int, error) {
	p.lock.Acquire(t)
	defer p.lock.Release(t)

	fd := slices.Index(p.fds, nil)
	if fd < 0 {
		return -1, fmt.Errorf("%s: %d descriptors open: %w", p, len(p.fds), errno.EMFILE)
	}
	p.fds[fd] = h
	return fd, nil
}

// FdGet returns the handle in slot fd.
func (p *Proc) FdGet(t *thread.Thread, fd int) (*file.Handle, error) {
	p.lock.Acquire(t)
	defer p.lock.Release(t)

	if fd < 0 || fd >= len(p.fds) || p.fds[fd] == nil {
		return nil, fmt.Errorf("%s: fd %d: %w", p, fd, errno.EBADF)
	}
	return p.fds[fd], nil
}

// FdRemove empties slot fd and returns what was in it.
func (p *Proc) FdRemove(t *thread.Thread, fd int) (*file.Handle, error) {
	p.lock.Acquire(t)
	defer p.lock.Release(t)

	if fd < 0 || fd >= len(p.fds) || p.fds[fd] == nil {
		return nil, fmt.Errorf("%s: fd %d: %w", p, fd, errno.EBADF)
	}
	h := p.fds[fd]
	p.fds[fd] = nil
	return h, nil
}

// FdDup makes slot newfd share the handle in slot oldfd and returns the
// handle newfd held before, if any. The caller closes it.
func (p *Proc) FdDup(t *thread.Thread, oldfd, newfd int) (*file.Handle, error) {
	p.lock.Acquire(t)
	defer p.lock.Release(t)

	if oldfd < 0 || oldfd >= len(p.fds) || p.fds[oldfd] == nil {
		return nil, fmt.Errorf("%s: dup2 fd %d: %w", p, oldfd, errno.EBADF)
	}
	if newfd < 0 || newfd >= len(p.fds) {
		return nil, fmt.Errorf("%s: dup2 to fd %d: %w", p, newfd, errno.EBADF)
	}
	if oldfd == newfd {
		return nil, nil
	}

	h := p.fds[oldfd]
	h.IncRef(t)
	old := p.fds[newfd]
	p.fds[newfd] = h
	return old, nil
}

// OpenFiles returns the number of occupied descriptor slots.
func (p *Proc) OpenFiles(t *thread.Thread) int {
	p.lock.Acquire(t)
	defer p.lock.Release(t)
	n := 0
	for _, h := range p.fds {
		if h != nil {
			n++
		}
	}
	return n
}

// CloseAll drops every open descriptor.
func (p *Proc) CloseAll(t *thread.Thread) {
	p.lock.Acquire(t)
	fds := slices.Clone(p.fds)
	clear(p.fds)
	p.lock.Release(t)

	for _, h := range fds {
		if h != nil {
			h.DecRef(t)
		}
	}
}

// shareFiles gives child a reference to each of p's open handles, slot
// for slot.
func (p *Proc) shareFiles(t *thread.Thread, child *Proc) {
	p.lock.Acquire(t)
	defer p.lock.Release(t)
	for fd, h := range p.fds {
		if h != nil {
			h.IncRef(t)
			child.fds[fd] = h
		}
	}
}

// Destroy reclaims the record: the current directory, the address space
// and any descriptors still open. No thread may belong to p, and the
// kernel process is never destroyed.
func (p *Proc) Destroy(t *thread.Thread) {
	if p.pid == pidtable.KernelPID {
		panic("proc: destroying the kernel process")
	}

	p.spin.Acquire(t)
	if p.numThreads != 0 {
		n := p.numThreads
		p.spin.Release(t)
		panic(fmt.Sprintf("proc: destroying %s with %d threads", p, n))
	}
	cwd, as := p.cwd, p.as
	p.cwd, p.as = nil, nil
	p.spin.Release(t)

	if cwd != nil {
		cwd.DecRef()
	}
	if as != nil {
		if as.Active() {
			as.Deactivate()
		}
		as.Destroy()
	}

	p.CloseAll(t)

	p.lock.Acquire(t)
	p.children = nil
	p.lock.Release(t)
	p.lock.Destroy()
}
