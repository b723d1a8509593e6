// Package syscalls is the system call surface of the kernel.
//
// Every call takes the calling thread explicitly; the process it acts on is
// the one the thread belongs to. Errors wrap errno values, so the user-mode
// side recovers the number with errors.As.
package syscalls

import (
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/loader"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/logging"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/monitoring"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/proc"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/thread"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/vfs"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/vm"
)

const (
	// DefaultArgMax bounds the total size of execv arguments, pointers
	// included.
	DefaultArgMax = 65536
	// DefaultPathMax bounds path names, terminator included.
	DefaultPathMax = 1024

	// ExecFailed is the exit code of a program thread whose first execv
	// failed.
	ExecFailed = 127
)

// UserMode enters user mode in the current process. Enter does not
// return.
type UserMode interface {
	Enter(t *thread.Thread, argc int, argv, sp, entry uintptr)
}

// Options wires a Handler to its collaborators.
type Options struct {
	Procs  *proc.Manager
	FS     vfs.VFS
	VM     vm.Allocator
	Loader loader.Loader
	User   UserMode

	ArgMax  int
	PathMax int

	Logger  *logging.Logger
	Metrics *monitoring.Metrics
}

// Handler dispatches system calls.
type Handler struct {
	procs  *proc.Manager
	fs     vfs.VFS
	vm     vm.Allocator
	loader loader.Loader
	user   UserMode

	argMax  int
	pathMax int

	log     *zap.Logger
	metrics *monitoring.Metrics
}

// New creates a Handler.
func New(opts Options) *Handler {
	if opts.ArgMax == 0 {
		opts.ArgMax = DefaultArgMax
	}
	if opts.PathMax == 0 {
		opts.PathMax = DefaultPathMax
	}
	if opts.Loader == nil {
		opts.Loader = loader.ELF{}
	}
	return &Handler{
		procs:   opts.Procs,
		fs:      opts.FS,
		vm:      opts.VM,
		loader:  opts.Loader,
		user:    opts.User,
		argMax:  opts.ArgMax,
		pathMax: opts.PathMax,
		log:     opts.Logger.Subsystem("syscall"),
		metrics: opts.Metrics,
	}
}

// SetUserMode installs the user-mode entry. It exists for user runtimes
// that need the Handler before they can be built.
func (h *Handler) SetUserMode(u UserMode) { h.user = u }

// Procs returns the process manager.
func (h *Handler) Procs() *proc.Manager { return h.procs }
