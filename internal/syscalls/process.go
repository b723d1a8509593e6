package syscalls

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/errno"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/file"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/monitoring"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/proc"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/thread"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/vfs"
)

// Fork duplicates the caller's process and starts its one thread at child.
// The parent gets the child's PID. child must end in Exit.
func (h *Handler) Fork(t *thread.Thread, child func(t *thread.Thread)) (pid int, err error) {
	timer := monitoring.NewTimer(h.metrics, "fork")
	defer func() { timer.Stop(err) }()

	p, err := h.procs.Fork(t)
	if err != nil {
		return -1, err
	}

	attach := func(nt *thread.Thread) error { return h.procs.AddThread(p, nt) }
	if _, err := thread.Fork(p.Name(), t.CPU(), attach, enterForked, child, 0); err != nil {
		h.procs.Abandon(t, p)
		return -1, fmt.Errorf("fork: start thread: %w", err)
	}
	return p.PID(), nil
}

// enterForked is the first thing a forked thread runs: it switches to its
// process's address space and continues in the child function.
func enterForked(t *thread.Thread, data any, _ uint64) {
	if as := proc.Current(t).AS(t); as != nil {
		as.Activate()
	}
	data.(func(*thread.Thread))(t)
}

// Waitpid waits for the caller's child pid and returns the pid and its exit
// code.
func (h *Handler) Waitpid(t *thread.Thread, pid, options int) (_ int, code int, err error) {
	timer := monitoring.NewTimer(h.metrics, "waitpid")
	defer func() { timer.Stop(err) }()

	code, err = h.procs.Wait(t, pid, options)
	if err != nil {
		return -1, 0, fmt.Errorf("waitpid %d: %w", pid, err)
	}
	return pid, code, nil
}

// Getpid returns the caller's PID.
func (h *Handler) Getpid(t *thread.Thread) int {
	timer := monitoring.NewTimer(h.metrics, "getpid")
	defer timer.Stop(nil)
	return proc.Current(t).PID()
}

// Exit ends the caller's process with code and terminates the thread. It
// does not return.
func (h *Handler) Exit(t *thread.Thread, code int) {
	pid := proc.Current(t).PID()
	monitoring.NewTimer(h.metrics, "_exit").Stop(nil)

	h.procs.Exit(t, code)
	h.log.Debug("exit", zap.Int("pid", pid), zap.Int("code", code))
	thread.Exit()
}

// RunProgram starts path in a new child of the caller's process, the way
// the kernel menu runs programs. The child gets the console on descriptors
// 0, 1 and 2. Its thread execs path with args, which default to just
// path; if that fails the child exits with ExecFailed. Collect it with
// Waitpid.
func (h *Handler) RunProgram(t *thread.Thread, path string, args []string) (int, error) {
	if len(args) == 0 {
		args = []string{path}
	}
	if len(path)+1 > h.pathMax {
		return -1, fmt.Errorf("run %.32s...: %w", path, errno.ENAMETOOLONG)
	}

	p, err := h.procs.CreateRunProgram(t, path)
	if err != nil {
		return -1, err
	}

	for _, flags := range []int{vfs.O_RDONLY, vfs.O_WRONLY, vfs.O_WRONLY} {
		v, err := h.fs.Open(nil, vfs.Console, flags)
		if err != nil {
			h.procs.Abandon(t, p)
			return -1, fmt.Errorf("run %s: console: %w", path, err)
		}
		if _, err := p.FdInsert(t, file.Open(v, flags)); err != nil {
			h.fs.Close(v)
			h.procs.Abandon(t, p)
			return -1, fmt.Errorf("run %s: console: %w", path, err)
		}
	}

	attach := func(nt *thread.Thread) error { return h.procs.AddThread(p, nt) }
	if _, err := thread.Fork(path, t.CPU(), attach, h.runProgram, args, 0); err != nil {
		h.procs.Abandon(t, p)
		return -1, fmt.Errorf("run %s: start thread: %w", path, err)
	}

	h.log.Debug("running", zap.String("path", path), zap.Int("pid", p.PID()))
	return p.PID(), nil
}

func (h *Handler) runProgram(t *thread.Thread, data any, _ uint64) {
	p := proc.Current(t)
	err := h.Execv(t, p.Name(), data.([]string))
	h.log.Warn("program failed to start", zap.String("path", p.Name()), zap.Error(err))
	h.Exit(t, ExecFailed)
}
