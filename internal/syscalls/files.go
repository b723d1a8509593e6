package syscalls

import (
	"fmt"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/errno"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/file"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/monitoring"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/proc"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/thread"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/vfs"
)

// Open opens path and returns the lowest free descriptor.
func (h *Handler) Open(t *thread.Thread, path string, flags int) (fd int, err error) {
	timer := monitoring.NewTimer(h.metrics, "open")
	defer func() { timer.Stop(err) }()

	if flags&vfs.O_ACCMODE == vfs.O_ACCMODE {
		return -1, fmt.Errorf("open %s: flags %#x: %w", path, flags, errno.EINVAL)
	}
	if len(path)+1 > h.pathMax {
		return -1, fmt.Errorf("open: path of %d bytes: %w", len(path), errno.ENAMETOOLONG)
	}

	p := proc.Current(t)
	cwd := p.Cwd(t)
	v, err := h.fs.Open(cwd, path, flags)
	if cwd != nil {
		cwd.DecRef()
	}
	if err != nil {
		return -1, err
	}

	hd := file.Open(v, flags)
	fd, err = p.FdInsert(t, hd)
	if err != nil {
		hd.DecRef(t)
		return -1, err
	}
	return fd, nil
}

// Close closes fd.
func (h *Handler) Close(t *thread.Thread, fd int) (err error) {
	timer := monitoring.NewTimer(h.metrics, "close")
	defer func() { timer.Stop(err) }()

	hd, err := proc.Current(t).FdRemove(t, fd)
	if err != nil {
		return err
	}
	hd.DecRef(t)
	return nil
}

// Read reads from fd at its offset.
func (h *Handler) Read(t *thread.Thread, fd int, buf []byte) (n int, err error) {
	timer := monitoring.NewTimer(h.metrics, "read")
	defer func() { timer.Stop(err) }()

	hd, err := proc.Current(t).FdGet(t, fd)
	if err != nil {
		return -1, err
	}
	return hd.Read(t, buf)
}

// Write writes to fd at its offset.
func (h *Handler) Write(t *thread.Thread, fd int, buf []byte) (n int, err error) {
	timer := monitoring.NewTimer(h.metrics, "write")
	defer func() { timer.Stop(err) }()

	hd, err := proc.Current(t).FdGet(t, fd)
	if err != nil {
		return -1, err
	}
	return hd.Write(t, buf)
}

// Lseek moves fd's offset.
func (h *Handler) Lseek(t *thread.Thread, fd int, pos int64, whence int) (off int64, err error) {
	timer := monitoring.NewTimer(h.metrics, "lseek")
	defer func() { timer.Stop(err) }()

	hd, err := proc.Current(t).FdGet(t, fd)
	if err != nil {
		return -1, err
	}
	return hd.Seek(t, pos, whence)
}

// Dup2 makes newfd refer to oldfd's open file, closing whatever newfd held.
func (h *Handler) Dup2(t *thread.Thread, oldfd, newfd int) (_ int, err error) {
	timer := monitoring.NewTimer(h.metrics, "dup2")
	defer func() { timer.Stop(err) }()

	old, err := proc.Current(t).FdDup(t, oldfd, newfd)
	if err != nil {
		return -1, err
	}
	if old != nil {
		old.DecRef(t)
	}
	return newfd, nil
}

// Chdir changes the caller's current directory.
func (h *Handler) Chdir(t *thread.Thread, path string) (err error) {
	timer := monitoring.NewTimer(h.metrics, "chdir")
	defer func() { timer.Stop(err) }()

	if len(path)+1 > h.pathMax {
		return fmt.Errorf("chdir: path of %d bytes: %w", len(path), errno.ENAMETOOLONG)
	}

	p := proc.Current(t)
	cwd := p.Cwd(t)
	v, err := h.fs.Lookup(cwd, path)
	if cwd != nil {
		cwd.DecRef()
	}
	if err != nil {
		return err
	}
	if !v.IsDir() {
		h.fs.Close(v)
		return fmt.Errorf("chdir %s: %w", path, errno.ENOTDIR)
	}

	if old := p.SetCwd(t, v); old != nil {
		old.DecRef()
	}
	return nil
}

// Getcwd returns the caller's current directory.
func (h *Handler) Getcwd(t *thread.Thread) (_ string, err error) {
	timer := monitoring.NewTimer(h.metrics, "__getcwd")
	defer func() { timer.Stop(err) }()

	cwd := proc.Current(t).Cwd(t)
	if cwd == nil {
		return "", fmt.Errorf("getcwd: %w", errno.ENOENT)
	}
	defer cwd.DecRef()
	return cwd.Path(), nil
}
