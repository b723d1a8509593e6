package proc

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/errno"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/logging"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/monitoring"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/pidtable"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/thread"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/vm"
)

const (
	// DefaultOpenMax is the size of each descriptor table.
	DefaultOpenMax = 128

	// KernelName names the kernel process.
	KernelName = "[kernel]"
)

// Options configures a Manager.
type Options struct {
	PidMax   int
	OpenMax  int
	ReapMode pidtable.ReapMode
	Logger   *logging.Logger
	Metrics  *monitoring.Metrics
}

// Manager owns the kernel process and the PID table and runs process
// lifecycle operations.
type Manager struct {
	kproc   *Proc
	table   *pidtable.Table
	openMax int

	log     *zap.Logger
	metrics *monitoring.Metrics
}

// Bootstrap creates the kernel process and the PID table.
func Bootstrap(opts Options) *Manager {
	if opts.OpenMax == 0 {
		opts.OpenMax = DefaultOpenMax
	}

	kproc := newProc(KernelName, opts.OpenMax)
	kproc.SetPID(pidtable.KernelPID)

	m := &Manager{
		kproc:   kproc,
		openMax: opts.OpenMax,
		log:     opts.Logger.Subsystem("proc"),
		metrics: opts.Metrics,
	}
	m.table = pidtable.Bootstrap(kproc, pidtable.Options{
		PidMax:  opts.PidMax,
		Mode:    opts.ReapMode,
		Logger:  opts.Logger.Subsystem("pidtable"),
		Metrics: opts.Metrics,
	})
	return m
}

// Kernel returns the kernel process.
func (m *Manager) Kernel() *Proc { return m.kproc }

// Table returns the PID table.
func (m *Manager) Table() *pidtable.Table { return m.table }

// OpenMax returns the descriptor table size.
func (m *Manager) OpenMax() int { return m.openMax }

// Current returns the process t belongs to, or nil.
func Current(t *thread.Thread) *Proc {
	p, _ := t.Proc().(*Proc)
	return p
}

// Lookup returns the process holding pid, or nil.
func (m *Manager) Lookup(t *thread.Thread, pid int) *Proc {
	p, _ := m.table.Lookup(t, pid).(*Proc)
	return p
}

// create builds an empty record outside the PID table.
func (m *Manager) create(name string) *Proc {
	return newProc(name, m.openMax)
}

// CreateRunProgram makes a process for running a user program from the
// kernel menu. It gets a PID, becomes a child of the caller's process and
// inherits its current directory, but has no address space and no open
// files yet.
func (m *Manager) CreateRunProgram(t *thread.Thread, name string) (*Proc, error) {
	parent := m.current(t)

	p := m.create(name)
	if _, err := m.table.Add(t, parent, p); err != nil {
		return nil, fmt.Errorf("proc: create %s: %w", name, err)
	}
	if cwd := parent.Cwd(t); cwd != nil {
		p.SetCwd(t, cwd)
	}

	m.log.Debug("created", zap.Stringer("proc", p), zap.Int("parent", parent.PID()))
	return p, nil
}

// Fork duplicates the caller's process: a new PID, a copy of the address
// space, the same current directory and every open handle shared. The
// child has no threads; the caller attaches one with AddThread.
//
// On failure nothing is left behind.
func (m *Manager) Fork(t *thread.Thread) (*Proc, error) {
	parent := m.current(t)

	child := m.create(parent.Name())
	if _, err := m.table.Add(t, parent, child); err != nil {
		m.metrics.RecordFork(monitoring.Result(err))
		return nil, fmt.Errorf("proc: fork %s: %w", parent, err)
	}

	if as := parent.AS(t); as != nil {
		cas, err := as.Copy()
		if err != nil {
			m.Abandon(t, child)
			m.metrics.RecordFork(monitoring.Result(err))
			return nil, fmt.Errorf("proc: fork %s: copy address space: %w", parent, err)
		}
		child.SetAS(t, cas)
	}
	if cwd := parent.Cwd(t); cwd != nil {
		child.SetCwd(t, cwd)
	}
	parent.shareFiles(t, child)

	m.metrics.RecordFork("ok")
	m.log.Debug("forked", zap.Stringer("parent", parent), zap.Stringer("child", child))
	return child, nil
}

// Abandon unwinds a fork whose child never ran: the child is dropped from
// its parent, its PID is released and its record destroyed.
func (m *Manager) Abandon(t *thread.Thread, child *Proc) {
	if parent := Current(t); parent != nil {
		parent.RemoveChild(t, child.PID())
	}
	m.table.Free(t, child.PID())
	child.Destroy(t)
	m.log.Debug("fork abandoned", zap.Stringer("child", child))
}

// AddThread attaches nt to p. It runs before nt starts, typically as the
// attach hook of thread.Fork.
func (m *Manager) AddThread(p *Proc, nt *thread.Thread) error {
	if nt.Proc() != nil {
		panic(fmt.Sprintf("proc: thread %s already belongs to a process", nt.Name()))
	}

	p.spin.Acquire(nt)
	p.numThreads++
	p.spin.Release(nt)

	nt.Rebind(p)
	return nil
}

// RemoveThread detaches t from its process. Afterwards t belongs to no
// process.
func (m *Manager) RemoveThread(t *thread.Thread) {
	p := Current(t)
	if p == nil {
		panic(fmt.Sprintf("proc: thread %s has no process", t.Name()))
	}

	p.spin.Acquire(t)
	if p.numThreads <= 0 {
		p.spin.Release(t)
		panic(fmt.Sprintf("proc: %s has no threads to remove", p))
	}
	p.numThreads--
	p.spin.Release(t)

	t.Rebind(nil)
}

// Destroy reclaims a record that never made it into the PID table, or
// one the table has released.
func (m *Manager) Destroy(t *thread.Thread, p *Proc) {
	p.Destroy(t)
	m.log.Debug("destroyed", zap.Stringer("proc", p))
}

// Exit ends the caller's process: its descriptors are closed, t is
// detached, and the PID table records the exit code. The caller should
// finish with thread.Exit.
func (m *Manager) Exit(t *thread.Thread, code int) {
	p := m.current(t)
	if p == m.kproc {
		m.log.Error("kernel process exit", zap.String("thread", t.Name()))
		panic("proc: the kernel process cannot exit")
	}

	p.CloseAll(t)
	m.RemoveThread(t)
	m.table.Exit(t, p, code)
}

// Wait waits for the caller's child pid to exit and returns its code.
func (m *Manager) Wait(t *thread.Thread, pid, options int) (int, error) {
	return m.table.Wait(t, m.current(t), pid, options)
}

// Info describes a process for the debug server.
type Info struct {
	PID       int    `json:"pid"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	Threads   int    `json:"threads"`
	Memory    uint64 `json:"memory_bytes"`
	OpenFiles int    `json:"open_files"`
	Children  []int  `json:"children"`
}

// Snapshot describes every process in the table.
func (m *Manager) Snapshot(t *thread.Thread) []Info {
	var out []Info
	m.table.Each(t, func(e pidtable.Entry) {
		p := e.Proc.(*Proc)
		info := Info{
			PID:       e.PID,
			Name:      p.Name(),
			Status:    e.Status.String(),
			Threads:   p.NumThreads(t),
			OpenFiles: p.OpenFiles(t),
			Children:  p.Children(t),
		}
		if e.Status == pidtable.Zombie {
			code := e.ExitCode
			info.ExitCode = &code
		}
		if as := p.AS(t); as != nil {
			info.Memory = as.Size()
		}
		out = append(out, info)
	})
	return out
}

// current returns t's process. Threads outside any process are a kernel
// bug at every call site.
func (m *Manager) current(t *thread.Thread) *Proc {
	p := Current(t)
	if p == nil {
		m.log.Error("thread outside any process", zap.String("thread", t.Name()))
		panic(fmt.Sprintf("proc: thread %s has no process", t.Name()))
	}
	return p
}

// errNoAS is returned when a user operation finds no address space.
var errNoAS = fmt.Errorf("proc: no address space: %w", errno.EFAULT)

// RequireAS returns p's address space or an EFAULT error.
func RequireAS(t *thread.Thread, p *Proc) (vm.AddressSpace, error) {
	if as := p.AS(t); as != nil {
		return as, nil
	}
	return nil, errNoAS
}
