// Package testbin runs simulated user programs.
//
// A program is a Go function. Installing it writes a small ELF executable
// into the file system whose entry point is unique to the program, so
// execv goes through the real loader; when the kernel enters user mode at
// that address the Runtime runs the matching function on the process's
// thread and exits with its return value.
package testbin

import (
	"fmt"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/loader"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/logging"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/proc"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/syscalls"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/thread"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/vfs"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/vm"
)

const (
	textBase  uintptr = 0x00400000
	textSlots uintptr = 0x00010000

	// Faulted is the exit code of a process that jumped somewhere no
	// program lives or whose argv could not be read.
	Faulted = 255
)

// Program is a user program. It returns its exit code.
type Program func(u *User) int

type program struct {
	name string
	run  Program
}

// Runtime is the user-mode side of the kernel.
type Runtime struct {
	mu    sync.RWMutex
	sys   *syscalls.Handler
	progs map[uintptr]program
	next  uintptr

	log *zap.Logger
}

// NewRuntime creates an empty runtime.
func NewRuntime(logger *logging.Logger) *Runtime {
	return &Runtime{
		progs: make(map[uintptr]program),
		next:  textBase,
		log:   logger.Subsystem("user"),
	}
}

// Bind connects the runtime and the syscall handler to each other.
func (r *Runtime) Bind(h *syscalls.Handler) {
	r.mu.Lock()
	r.sys = h
	r.mu.Unlock()
	h.SetUserMode(r)
}

// Install registers prog and writes its executable to name, creating
// missing directories.
func (r *Runtime) Install(fs *vfs.MemFS, name string, prog Program) error {
	r.mu.Lock()
	entry := r.next
	r.next += textSlots
	r.progs[entry] = program{name: name, run: prog}
	r.mu.Unlock()

	if err := mkdirAll(fs, path.Dir(name)); err != nil {
		return fmt.Errorf("install %s: %w", name, err)
	}
	image := loader.BuildImage(uint32(entry), loader.Segment{
		Vaddr: uint32(entry),
		Data:  []byte(name),
		Perm:  vm.PermRead | vm.PermExec,
	})
	return fs.WriteFile(name, image)
}

// InstallAll installs every program in catalog.
func (r *Runtime) InstallAll(fs *vfs.MemFS, catalog map[string]Program) error {
	for name, prog := range catalog {
		if err := r.Install(fs, name, prog); err != nil {
			return err
		}
	}
	return nil
}

// Enter runs the program living at entry on t. It does not return.
func (r *Runtime) Enter(t *thread.Thread, argc int, argv, sp, entry uintptr) {
	r.mu.RLock()
	prog, ok := r.progs[entry]
	sys := r.sys
	r.mu.RUnlock()

	p := proc.Current(t)
	if !ok {
		r.log.Warn("jump to unmapped entry", zap.Int("pid", p.PID()), zap.Uintptr("entry", entry))
		sys.Exit(t, Faulted)
	}

	args, err := r.args(t, p, argc, argv)
	if err != nil {
		r.log.Warn("bad argv", zap.Int("pid", p.PID()), zap.Error(err))
		sys.Exit(t, Faulted)
	}

	r.log.Debug("enter", zap.Int("pid", p.PID()), zap.String("program", prog.name), zap.Uintptr("sp", sp))
	u := &User{t: t, sys: sys, args: args}
	sys.Exit(t, prog.run(u))
}

func (r *Runtime) args(t *thread.Thread, p *proc.Proc, argc int, argv uintptr) ([]string, error) {
	as, err := proc.RequireAS(t, p)
	if err != nil {
		return nil, err
	}
	return syscalls.CopyInArgs(as, argc, argv, syscalls.DefaultArgMax)
}

func mkdirAll(fs *vfs.MemFS, dir string) error {
	if dir == "/" || dir == "." {
		return nil
	}
	cur := ""
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		cur += "/" + part
		if v, err := fs.Lookup(nil, cur); err == nil {
			isDir := v.IsDir()
			fs.Close(v)
			if !isDir {
				return fmt.Errorf("%s is not a directory", cur)
			}
			continue
		}
		if err := fs.Mkdir(cur); err != nil {
			return err
		}
	}
	return nil
}
