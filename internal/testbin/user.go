package testbin

import (
	"errors"
	"fmt"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/errno"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/syscalls"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/thread"
)

// Standard descriptors.
const (
	Stdin  = 0
	Stdout = 1
	Stderr = 2
)

// User is a running program's view of the kernel: its argv and the system
// calls, bound to the program's thread.
type User struct {
	t    *thread.Thread
	sys  *syscalls.Handler
	args []string
}

// Args returns argv.
func (u *User) Args() []string { return u.args }

// Getpid returns the process ID.
func (u *User) Getpid() int { return u.sys.Getpid(u.t) }

// Fork starts child in a copy of this process and returns its PID. The
// child process exits with child's return value.
func (u *User) Fork(child Program) (int, error) {
	return u.sys.Fork(u.t, func(ct *thread.Thread) {
		cu := &User{t: ct, sys: u.sys, args: u.args}
		u.sys.Exit(ct, child(cu))
	})
}

// Waitpid waits for child pid and returns its exit code.
func (u *User) Waitpid(pid int) (int, error) {
	_, code, err := u.sys.Waitpid(u.t, pid, 0)
	return code, err
}

// Exit ends the process. It does not return.
func (u *User) Exit(code int) { u.sys.Exit(u.t, code) }

// Execv replaces the program. It only returns on failure.
func (u *User) Execv(path string, args ...string) error {
	return u.sys.Execv(u.t, path, append([]string{path}, args...))
}

func (u *User) Open(path string, flags int) (int, error) { return u.sys.Open(u.t, path, flags) }
func (u *User) Close(fd int) error                       { return u.sys.Close(u.t, fd) }
func (u *User) Read(fd int, buf []byte) (int, error)     { return u.sys.Read(u.t, fd, buf) }
func (u *User) Write(fd int, buf []byte) (int, error)    { return u.sys.Write(u.t, fd, buf) }
func (u *User) Dup2(oldfd, newfd int) (int, error)       { return u.sys.Dup2(u.t, oldfd, newfd) }
func (u *User) Chdir(path string) error                  { return u.sys.Chdir(u.t, path) }
func (u *User) Getcwd() (string, error)                  { return u.sys.Getcwd(u.t) }

func (u *User) Lseek(fd int, pos int64, whence int) (int64, error) {
	return u.sys.Lseek(u.t, fd, pos, whence)
}

// Printf writes to standard output.
func (u *User) Printf(format string, a ...any) {
	_, _ = u.Write(Stdout, []byte(fmt.Sprintf(format, a...)))
}

// Errno extracts the error number from a system call error, 0 for nil.
func Errno(err error) errno.Errno {
	var e errno.Errno
	if errors.As(err, &e) {
		return e
	}
	return 0
}
