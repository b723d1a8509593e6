// Package vfs is the file-system collaborator of the process subsystem.
//
// Processes hold vnodes for their current directory and, through open file
// handles, for every open file. Vnodes are reference counted; Open and
// Lookup return a vnode with a reference the caller owns and Close drops
// it. MemFS is an in-memory implementation with a console device.
package vfs

// Open flags, numbered as in OS/161 <kern/fcntl.h>.
const (
	O_RDONLY  = 0
	O_WRONLY  = 1
	O_RDWR    = 2
	O_ACCMODE = 3

	O_CREAT  = 4
	O_EXCL   = 8
	O_TRUNC  = 16
	O_APPEND = 32
)

// Console is the name of the console device.
const Console = "con:"

// Vnode is a file, directory, or device.
type Vnode interface {
	IncRef()
	// DecRef drops a reference. Dropping the last one reclaims the vnode.
	DecRef()
	RefCount() int

	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Size() int64

	IsDir() bool
	// Seekable is false for devices with no notion of position.
	Seekable() bool
	Path() string
}

// VFS resolves names to vnodes. Relative names are resolved against cwd;
// a nil cwd means the root.
type VFS interface {
	Open(cwd Vnode, name string, flags int) (Vnode, error)
	Lookup(cwd Vnode, name string) (Vnode, error)
	Close(v Vnode)
}

// Readable reports whether flags permit reading.
func Readable(flags int) bool {
	mode := flags & O_ACCMODE
	return mode == O_RDONLY || mode == O_RDWR
}

// Writable reports whether flags permit writing.
func Writable(flags int) bool {
	mode := flags & O_ACCMODE
	return mode == O_WRONLY || mode == O_RDWR
}
