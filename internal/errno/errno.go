// Package errno defines the kernel's error numbers.
//
// Errno values are plain integers that implement error, so callers can
// return them directly, wrap them with fmt.Errorf("...: %w", ...) and match
// them with errors.Is. The numbering follows the OS/161 <kern/errno.h>
// layout so the syscall layer can hand them back to user code verbatim.
package errno

import "fmt"

// Errno is a kernel error number.
type Errno int

const (
	ENOSYS       Errno = 1  // Function not implemented
	ENOMEM       Errno = 3  // Out of memory
	EAGAIN       Errno = 4  // Operation would block
	ESRCH        Errno = 6  // No such process
	ECHILD       Errno = 7  // No child processes
	EFAULT       Errno = 8  // Bad memory reference
	ENAMETOOLONG Errno = 10 // String too long
	EINVAL       Errno = 11 // Invalid argument
	ENOEXEC      Errno = 15 // File is not executable
	EBADF        Errno = 16 // Bad file number
	ENOENT       Errno = 18 // No such file or directory
	ENOTDIR      Errno = 19 // Not a directory
	EISDIR       Errno = 20 // Is a directory
	EEXIST       Errno = 22 // File or object exists
	EMFILE       Errno = 25 // Too many open files
	ENPROC       Errno = 26 // Too many processes in system
	ESPIPE       Errno = 29 // Illegal seek
	E2BIG        Errno = 30 // Argument list too long
)

var messages = map[Errno]string{
	ENOSYS:       "function not implemented",
	ENOMEM:       "out of memory",
	EAGAIN:       "operation would block",
	ESRCH:        "no such process",
	ECHILD:       "no child processes",
	EFAULT:       "bad memory reference",
	ENAMETOOLONG: "string too long",
	EINVAL:       "invalid argument",
	ENOEXEC:      "file is not executable",
	EBADF:        "bad file number",
	ENOENT:       "no such file or directory",
	ENOTDIR:      "not a directory",
	EISDIR:       "is a directory",
	EEXIST:       "file or object exists",
	EMFILE:       "too many open files",
	ENPROC:       "too many processes in system",
	ESPIPE:       "illegal seek",
	E2BIG:        "argument list too long",
}

// Error implements error.
func (e Errno) Error() string {
	if msg, ok := messages[e]; ok {
		return msg
	}
	return fmt.Sprintf("errno %d", int(e))
}

// Name returns the symbolic name, e.g. "ECHILD".
func (e Errno) Name() string {
	switch e {
	case ENOSYS:
		return "ENOSYS"
	case ENOMEM:
		return "ENOMEM"
	case EAGAIN:
		return "EAGAIN"
	case ESRCH:
		return "ESRCH"
	case ECHILD:
		return "ECHILD"
	case EFAULT:
		return "EFAULT"
	case ENAMETOOLONG:
		return "ENAMETOOLONG"
	case EINVAL:
		return "EINVAL"
	case ENOEXEC:
		return "ENOEXEC"
	case EBADF:
		return "EBADF"
	case ENOENT:
		return "ENOENT"
	case ENOTDIR:
		return "ENOTDIR"
	case EISDIR:
		return "EISDIR"
	case EEXIST:
		return "EEXIST"
	case EMFILE:
		return "EMFILE"
	case ENPROC:
		return "ENPROC"
	case ESPIPE:
		return "ESPIPE"
	case E2BIG:
		return "E2BIG"
	default:
		return fmt.Sprintf("E%d", int(e))
	}
}
