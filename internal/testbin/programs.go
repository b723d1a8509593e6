package testbin

import (
	"io"
	"runtime"
	"strconv"
	"strings"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/errno"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/vfs"
)

// Catalog returns the standard programs keyed by install path.
func Catalog() map[string]Program {
	return map[string]Program{
		"/bin/true":             func(*User) int { return 0 },
		"/bin/false":            func(*User) int { return 1 },
		"/testbin/exitcode":     ExitCode,
		"/testbin/argtest":      ArgTest,
		"/testbin/forktest":     ForkTest,
		"/testbin/forktree":     ForkTree,
		"/testbin/orphan":       Orphan,
		"/testbin/execchain":    ExecChain,
		"/testbin/sharedfile":   SharedFile,
		"/testbin/testdup2":     Dup2Test,
		"/testbin/testwdir":     WdirTest,
		"/testbin/badexec":      BadExec,
		"/testbin/waitnonchild": WaitNonChild,
	}
}

// ExitCode exits with the number in argv[1].
func ExitCode(u *User) int {
	args := u.Args()
	if len(args) < 2 {
		return 0
	}
	code, err := strconv.Atoi(args[1])
	if err != nil {
		u.Printf("exitcode: %q is not a number\n", args[1])
		return 1
	}
	return code
}

// ArgTest prints its arguments.
func ArgTest(u *User) int {
	args := u.Args()
	u.Printf("argc: %d\n", len(args))
	for i, a := range args {
		u.Printf("argv[%d]: %s\n", i, a)
	}
	u.Printf("argv[%d]: [NULL]\n", len(args))
	return 0
}

// ForkTest forks a child that exits with 42 and checks waitpid hands that
// code back.
func ForkTest(u *User) int {
	parent := u.Getpid()
	pid, err := u.Fork(func(c *User) int {
		if c.Getpid() == parent {
			c.Printf("forktest: child has the parent's pid\n")
			return 1
		}
		return 42
	})
	if err != nil {
		u.Printf("forktest: fork: %v\n", err)
		return 1
	}

	code, err := u.Waitpid(pid)
	if err != nil {
		u.Printf("forktest: waitpid: %v\n", err)
		return 1
	}
	u.Printf("forktest: child %d exited with %d\n", pid, code)
	if code != 42 {
		return 1
	}
	return 0
}

// ForkTree builds a binary tree of processes argv[1] levels deep (default
// 3). Every process waits for its children and exits with the number of
// processes in its subtree.
func ForkTree(u *User) int {
	depth := 3
	if args := u.Args(); len(args) > 1 {
		if d, err := strconv.Atoi(args[1]); err == nil {
			depth = d
		}
	}
	n := forkTree(u, depth)
	u.Printf("forktree: %d processes\n", n)
	return 0
}

func forkTree(u *User, depth int) int {
	if depth == 0 {
		return 1
	}
	var pids []int
	for range 2 {
		pid, err := u.Fork(func(c *User) int { return forkTree(c, depth-1) })
		if err != nil {
			u.Printf("forktree: fork at depth %d: %v\n", depth, err)
			continue
		}
		pids = append(pids, pid)
	}
	total := 1
	for _, pid := range pids {
		code, err := u.Waitpid(pid)
		if err != nil {
			u.Printf("forktree: waitpid %d: %v\n", pid, err)
			continue
		}
		total += code
	}
	return total
}

// Orphan forks a child and exits without waiting. The child spins until
// its parent has been reaped, then exits as an orphan and reaps itself.
func Orphan(u *User) int {
	parent := u.Getpid()
	_, err := u.Fork(func(c *User) int {
		for range orphanSpins {
			// The parent's pid stays in use until its own parent reaps it.
			if _, err := c.Waitpid(parent); Errno(err) == errno.EINVAL {
				c.Printf("orphan: parent %d is gone\n", parent)
				return 7
			}
			runtime.Gosched()
		}
		return 1
	})
	if err != nil {
		u.Printf("orphan: fork: %v\n", err)
		return 1
	}
	return 0
}

const orphanSpins = 1 << 20

// ExecChain execs argtest with its own arguments.
func ExecChain(u *User) int {
	err := u.Execv("/testbin/argtest", u.Args()[1:]...)
	u.Printf("execchain: execv: %v\n", err)
	return 1
}

// SharedFile checks that a forked child shares the open file and its
// offset with the parent.
func SharedFile(u *User) int {
	fd, err := u.Open("/tmp/shared", vfs.O_RDWR|vfs.O_CREAT|vfs.O_TRUNC)
	if err != nil {
		u.Printf("sharedfile: open: %v\n", err)
		return 1
	}
	if _, err := u.Write(fd, []byte("parent ")); err != nil {
		return 1
	}

	pid, err := u.Fork(func(c *User) int {
		if _, err := c.Write(fd, []byte("child")); err != nil {
			return 1
		}
		return 0
	})
	if err != nil {
		u.Printf("sharedfile: fork: %v\n", err)
		return 1
	}
	if code, err := u.Waitpid(pid); err != nil || code != 0 {
		u.Printf("sharedfile: child failed: %d %v\n", code, err)
		return 1
	}

	off, err := u.Lseek(fd, 0, io.SeekCurrent)
	if err != nil || off != int64(len("parent child")) {
		u.Printf("sharedfile: offset %d after child write: %v\n", off, err)
		return 1
	}

	if _, err := u.Lseek(fd, 0, io.SeekStart); err != nil {
		return 1
	}
	buf := make([]byte, 64)
	n, err := u.Read(fd, buf)
	if err != nil {
		return 1
	}
	u.Printf("sharedfile: %s\n", buf[:n])
	if err := u.Close(fd); err != nil {
		return 1
	}
	return 0
}

// Dup2Test duplicates stdout, closes the original and checks only the
// copy still works.
func Dup2Test(u *User) int {
	const newStdout = 3

	if n, err := u.Write(Stdout, []byte("Can print this to stdout.\n")); n <= 0 || err != nil {
		return 1
	}
	if fd, err := u.Dup2(Stdout, newStdout); err != nil || fd != newStdout {
		u.Printf("Couldn't dup2 stdout: %v.\n", err)
		return 1
	}
	if n, err := u.Write(newStdout, []byte("This is now also stdout.\n")); n <= 0 || err != nil {
		u.Printf("Couldn't write to new stdout: %v.\n", err)
		return 1
	}
	if err := u.Close(Stdout); err != nil {
		u.Printf("Couldn't close old stdout: %v.\n", err)
		return 1
	}
	if _, err := u.Write(Stdout, []byte("!Shouldn't be able write to old stdout anymore!\n")); err == nil {
		return 1
	}
	if n, err := u.Write(newStdout, []byte("Can still write to new stdout.\n")); n <= 0 || err != nil {
		return 1
	}
	return 0
}

// WdirTest prints the working directory, moves to the parent and prints
// it again.
func WdirTest(u *User) int {
	cwd, err := u.Getcwd()
	if err != nil {
		u.Printf("getcwd() error: %v\n", err)
		return 1
	}
	u.Printf("Current working directory: %q\n", cwd)

	target := ".."
	if args := u.Args(); len(args) > 1 {
		target = args[1]
	}
	if err := u.Chdir(target); err != nil {
		u.Printf("Couldn't change working directory because %v\n", Errno(err).Name())
		return 1
	}
	if cwd, err = u.Getcwd(); err != nil {
		u.Printf("getcwd() error: %v\n", err)
		return 1
	}
	u.Printf("Changed working directory to: %q\n", cwd)
	return 0
}

// BadExec tries execv on things that are not programs and checks the
// errors.
func BadExec(u *User) int {
	cases := []struct {
		path string
		want string
	}{
		{"/testbin/nonexistent", "ENOENT"},
		{"/testbin", "EISDIR"},
		{"", "EINVAL"},
		{strings.Repeat("x", 2048), "ENAMETOOLONG"},
	}
	failed := 0
	for _, c := range cases {
		err := u.Execv(c.path)
		if got := Errno(err).Name(); got != c.want {
			u.Printf("badexec: execv(%.20q): got %s, want %s\n", c.path, got, c.want)
			failed++
		}
	}
	return failed
}

// WaitNonChild checks that waiting for a process that is not a child
// fails.
func WaitNonChild(u *User) int {
	if _, err := u.Waitpid(u.Getpid()); Errno(err).Name() != "ECHILD" {
		u.Printf("waitnonchild: waitpid(self): %v\n", err)
		return 1
	}
	if _, err := u.Waitpid(1); Errno(err).Name() != "ECHILD" {
		u.Printf("waitnonchild: waitpid(1): %v\n", err)
		return 1
	}
	if _, err := u.Waitpid(-5); Errno(err).Name() != "EINVAL" {
		u.Printf("waitnonchild: waitpid(-5): %v\n", err)
		return 1
	}
	return 0
}
