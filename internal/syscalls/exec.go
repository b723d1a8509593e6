package syscalls

import (
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/errno"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/monitoring"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/proc"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/thread"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/vfs"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/vm"
)

// pointerSize is the size of a user pointer on the 32-bit target.
const pointerSize = 4

// Execv replaces the caller's program with path, passing args as argv. On
// success it does not return.
//
// Once the executable is open the old address space is torn down. A
// failure after that point leaves the process with no address space; the
// caller gets the error and has nothing to go back to but Exit.
func (h *Handler) Execv(t *thread.Thread, path string, args []string) error {
	timer := monitoring.NewTimer(h.metrics, "execv")
	argv, entry, err := h.loadImage(t, path, args)
	timer.Stop(err)
	if err != nil {
		return err
	}

	h.user.Enter(t, len(args), argv, argv, entry)
	panic("execv: enter_new_process returned")
}

// loadImage builds the new address space for Execv and returns the user
// argv address (also the initial stack pointer) and the entry point.
func (h *Handler) loadImage(t *thread.Thread, path string, args []string) (uintptr, uintptr, error) {
	if err := h.checkExecArgs(path, args); err != nil {
		return 0, 0, err
	}
	// Kernel copies; the caller's slice may change once we sleep.
	args = append([]string(nil), args...)

	p := proc.Current(t)
	cwd := p.Cwd(t)
	v, err := h.fs.Open(cwd, path, vfs.O_RDONLY)
	if cwd != nil {
		cwd.DecRef()
	}
	if err != nil {
		return 0, 0, fmt.Errorf("execv %s: %w", path, err)
	}
	defer h.fs.Close(v)
	if v.IsDir() {
		return 0, 0, fmt.Errorf("execv %s: %w", path, errno.EISDIR)
	}

	if old := p.SetAS(t, nil); old != nil {
		old.Deactivate()
		old.Destroy()
	}

	as, err := h.vm.Create()
	if err != nil {
		return 0, 0, fmt.Errorf("execv %s: %w", path, err)
	}
	p.SetAS(t, as)
	as.Activate()

	entry, err := h.loader.Load(v, as)
	if err != nil {
		h.dropAS(t, p)
		return 0, 0, fmt.Errorf("execv %s: %w", path, err)
	}

	sp, err := as.DefineStack()
	if err != nil {
		h.dropAS(t, p)
		return 0, 0, fmt.Errorf("execv %s: %w", path, err)
	}

	argv, err := copyOutArgs(as, sp, args)
	if err != nil {
		h.dropAS(t, p)
		return 0, 0, fmt.Errorf("execv %s: %w", path, err)
	}

	h.log.Debug("execv",
		zap.Int("pid", p.PID()),
		zap.String("path", path),
		zap.Int("argc", len(args)),
		zap.Uintptr("entry", entry))
	return argv, entry, nil
}

func (h *Handler) checkExecArgs(path string, args []string) error {
	switch {
	case args == nil:
		return fmt.Errorf("execv: no argument vector: %w", errno.EFAULT)
	case path == "":
		return fmt.Errorf("execv: empty path: %w", errno.EINVAL)
	case len(path)+1 > h.pathMax:
		return fmt.Errorf("execv: path of %d bytes: %w", len(path), errno.ENAMETOOLONG)
	}

	size := (len(args) + 1) * pointerSize
	for _, a := range args {
		size += align(len(a)+1, pointerSize)
	}
	if size > h.argMax {
		return fmt.Errorf("execv %s: arguments exceed %d bytes: %w", path, h.argMax, errno.E2BIG)
	}
	return nil
}

// dropAS tears down the half-built image of a failed execv.
func (h *Handler) dropAS(t *thread.Thread, p *proc.Proc) {
	if as := p.SetAS(t, nil); as != nil {
		as.Deactivate()
		as.Destroy()
	}
}

// copyOutArgs lays argv out below sp: the strings, each NUL terminated and
// padded to pointer alignment, then the NULL-terminated pointer array. It
// returns the address of the array, which is also the new stack pointer.
func copyOutArgs(as vm.AddressSpace, sp uintptr, args []string) (uintptr, error) {
	ptrs := make([]byte, (len(args)+1)*pointerSize)
	for i, a := range args {
		n := align(len(a)+1, pointerSize)
		sp -= uintptr(n)
		buf := make([]byte, n)
		copy(buf, a)
		if err := as.CopyOut(sp, buf); err != nil {
			return 0, err
		}
		binary.BigEndian.PutUint32(ptrs[i*pointerSize:], uint32(sp))
	}

	sp -= uintptr(len(ptrs))
	sp &^= 7
	if err := as.CopyOut(sp, ptrs); err != nil {
		return 0, err
	}
	return sp, nil
}

// CopyInArgs reads back an argv laid out by execv. User runtimes use it on
// entry.
func CopyInArgs(as vm.AddressSpace, argc int, argv uintptr, limit int) ([]string, error) {
	ptrs := make([]byte, argc*pointerSize)
	if err := as.CopyIn(ptrs, argv); err != nil {
		return nil, err
	}
	args := make([]string, argc)
	for i := range args {
		s, err := copyInString(as, uintptr(binary.BigEndian.Uint32(ptrs[i*pointerSize:])), limit)
		if err != nil {
			return nil, err
		}
		args[i] = s
	}
	return args, nil
}

func copyInString(as vm.AddressSpace, addr uintptr, limit int) (string, error) {
	var out []byte
	var b [1]byte
	for len(out) < limit {
		if err := as.CopyIn(b[:], addr); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(out), nil
		}
		out = append(out, b[0])
		addr++
	}
	return "", fmt.Errorf("argument longer than %d bytes: %w", limit, errno.E2BIG)
}

func align(n, to int) int {
	return (n + to - 1) &^ (to - 1)
}
