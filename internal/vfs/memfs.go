package vfs

import (
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/errno"
)

// MemFS is an in-memory file system. Names are slash separated; the
// console device is reachable as "con:" from anywhere.
type MemFS struct {
	mu      sync.Mutex
	nodes   map[string]*node
	console *node
}

// NewMemFS creates a file system holding only the root directory. Console
// output goes to out and console input comes from in; either may be nil.
func NewMemFS(out io.Writer, in io.Reader) *MemFS {
	fs := &MemFS{nodes: make(map[string]*node)}
	fs.nodes["/"] = &node{path: "/", dir: true}
	fs.console = &node{path: Console, out: out, in: in, device: true}
	return fs
}

// Root returns the root directory with a reference held.
func (fs *MemFS) Root() Vnode {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := fs.nodes["/"]
	n.IncRef()
	return n
}

// Mkdir creates a directory. Missing parents are an error.
func (fs *MemFS) Mkdir(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p := resolve(nil, name)
	if _, ok := fs.nodes[p]; ok {
		return fmt.Errorf("mkdir %s: %w", p, errno.EEXIST)
	}
	if err := fs.checkParent(p); err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	fs.nodes[p] = &node{path: p, dir: true}
	return nil
}

// WriteFile creates or replaces a file.
func (fs *MemFS) WriteFile(name string, data []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p := resolve(nil, name)
	n, ok := fs.nodes[p]
	if !ok {
		if err := fs.checkParent(p); err != nil {
			return fmt.Errorf("write %s: %w", p, err)
		}
		n = &node{path: p}
		fs.nodes[p] = n
	}
	if n.dir {
		return fmt.Errorf("write %s: %w", p, errno.EISDIR)
	}
	n.mu.Lock()
	n.data = append([]byte(nil), data...)
	n.mu.Unlock()
	return nil
}

// ReadFile returns a copy of a file's contents.
func (fs *MemFS) ReadFile(name string) ([]byte, error) {
	fs.mu.Lock()
	n, ok := fs.nodes[resolve(nil, name)]
	fs.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("read %s: %w", name, errno.ENOENT)
	}
	if n.dir {
		return nil, fmt.Errorf("read %s: %w", name, errno.EISDIR)
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]byte(nil), n.data...), nil
}

// Open resolves name and returns it with a reference held.
func (fs *MemFS) Open(cwd Vnode, name string, flags int) (Vnode, error) {
	if name == "" {
		return nil, fmt.Errorf("open: empty name: %w", errno.EINVAL)
	}
	if name == Console {
		fs.console.IncRef()
		return fs.console, nil
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	p := resolve(cwd, name)
	n, ok := fs.nodes[p]
	switch {
	case ok && flags&O_CREAT != 0 && flags&O_EXCL != 0:
		return nil, fmt.Errorf("open %s: %w", p, errno.EEXIST)
	case !ok && flags&O_CREAT == 0:
		return nil, fmt.Errorf("open %s: %w", p, fs.missing(p))
	case !ok:
		if err := fs.checkParent(p); err != nil {
			return nil, fmt.Errorf("open %s: %w", p, err)
		}
		n = &node{path: p}
		fs.nodes[p] = n
	}

	if n.dir && Writable(flags) {
		return nil, fmt.Errorf("open %s: %w", p, errno.EISDIR)
	}
	if flags&O_TRUNC != 0 && Writable(flags) {
		n.mu.Lock()
		n.data = nil
		n.mu.Unlock()
	}
	n.IncRef()
	return n, nil
}

// Lookup resolves name without opening it, for chdir and friends.
func (fs *MemFS) Lookup(cwd Vnode, name string) (Vnode, error) {
	if name == "" {
		return nil, fmt.Errorf("lookup: empty name: %w", errno.EINVAL)
	}
	if name == Console {
		fs.console.IncRef()
		return fs.console, nil
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	p := resolve(cwd, name)
	n, ok := fs.nodes[p]
	if !ok {
		return nil, fmt.Errorf("lookup %s: %w", p, fs.missing(p))
	}
	n.IncRef()
	return n, nil
}

// Close drops the reference Open or Lookup handed out.
func (fs *MemFS) Close(v Vnode) {
	v.DecRef()
}

// checkParent requires p's parent to exist and be a directory. Callers hold
// fs.mu.
func (fs *MemFS) checkParent(p string) error {
	parent, ok := fs.nodes[path.Dir(p)]
	if !ok {
		return fs.missing(path.Dir(p))
	}
	if !parent.dir {
		return errno.ENOTDIR
	}
	return nil
}

// missing picks the error for a name that does not exist: ENOTDIR when an
// ancestor is a plain file, ENOENT otherwise.
func (fs *MemFS) missing(p string) error {
	for dir := path.Dir(p); dir != "/"; dir = path.Dir(dir) {
		if n, ok := fs.nodes[dir]; ok {
			if !n.dir {
				return errno.ENOTDIR
			}
			break
		}
	}
	return errno.ENOENT
}

func resolve(cwd Vnode, name string) string {
	if strings.HasPrefix(name, "/") {
		return path.Clean(name)
	}
	base := "/"
	if cwd != nil {
		base = cwd.Path()
	}
	return path.Join(base, name)
}

type node struct {
	path   string
	dir    bool
	device bool
	refs   atomic.Int32

	mu   sync.RWMutex
	data []byte

	out io.Writer
	in  io.Reader
}

func (n *node) IncRef() { n.refs.Add(1) }

func (n *node) DecRef() {
	if n.refs.Add(-1) < 0 {
		panic(fmt.Sprintf("vfs: %s: reference count went negative", n.path))
	}
}

func (n *node) RefCount() int { return int(n.refs.Load()) }

func (n *node) ReadAt(p []byte, off int64) (int, error) {
	if n.dir {
		return 0, errno.EISDIR
	}
	if n.device {
		if n.in == nil {
			return 0, nil
		}
		n.mu.Lock()
		c, err := n.in.Read(p)
		n.mu.Unlock()
		if err == io.EOF {
			err = nil
		}
		return c, err
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if off >= int64(len(n.data)) {
		return 0, nil
	}
	return copy(p, n.data[off:]), nil
}

func (n *node) WriteAt(p []byte, off int64) (int, error) {
	if n.dir {
		return 0, errno.EISDIR
	}
	if n.device {
		if n.out == nil {
			return len(p), nil
		}
		n.mu.Lock()
		defer n.mu.Unlock()
		return n.out.Write(p)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if end := off + int64(len(p)); end > int64(len(n.data)) {
		grown := make([]byte, end)
		copy(grown, n.data)
		n.data = grown
	}
	return copy(n.data[off:], p), nil
}

func (n *node) Size() int64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return int64(len(n.data))
}

func (n *node) IsDir() bool    { return n.dir }
func (n *node) Seekable() bool { return !n.device }
func (n *node) Path() string   { return n.path }
