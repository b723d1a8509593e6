// Package file implements open file handles.
//
// A Handle is what a file-descriptor slot points at. Forked processes and
// dup2'd descriptors share one Handle, and with it the offset. The handle's
// own lock serializes I/O, offset updates and reference counting; which
// descriptor slot points at which handle is the owning process's business.
package file

import (
	"fmt"
	"io"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/errno"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/synch"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/thread"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/vfs"
)

// Handle is an open file.
type Handle struct {
	id    id.HandleID
	vn    vfs.Vnode
	flags int

	lock   *synch.Lock
	offset int64
	refs   int
}

// Open wraps an opened vnode. The handle takes over the caller's vnode
// reference and starts with one reference of its own.
func Open(vn vfs.Vnode, flags int) *Handle {
	h := &Handle{
		id:    id.NewHandleID(),
		vn:    vn,
		flags: flags,
		refs:  1,
	}
	h.lock = synch.NewLock(h.id.String())
	return h
}

// ID returns the handle's identifier.
func (h *Handle) ID() id.HandleID { return h.id }

// Vnode returns the underlying vnode.
func (h *Handle) Vnode() vfs.Vnode { return h.vn }

// Flags returns the open flags.
func (h *Handle) Flags() int { return h.flags }

// IncRef adds a reference.
func (h *Handle) IncRef(t *thread.Thread) {
	h.lock.Acquire(t)
	h.refs++
	h.lock.Release(t)
}

// DecRef drops a reference. The last one closes the vnode; it reports
// whether that happened.
func (h *Handle) DecRef(t *thread.Thread) bool {
	h.lock.Acquire(t)
	if h.refs <= 0 {
		h.lock.Release(t)
		panic(fmt.Sprintf("file %s: reference count went negative", h.id))
	}
	h.refs--
	last := h.refs == 0
	h.lock.Release(t)

	if last {
		h.vn.DecRef()
		h.lock.Destroy()
	}
	return last
}

// RefCount returns the number of references.
func (h *Handle) RefCount(t *thread.Thread) int {
	h.lock.Acquire(t)
	defer h.lock.Release(t)
	return h.refs
}

// Offset returns the current offset.
func (h *Handle) Offset(t *thread.Thread) int64 {
	h.lock.Acquire(t)
	defer h.lock.Release(t)
	return h.offset
}

// Read reads at the current offset and advances it.
func (h *Handle) Read(t *thread.Thread, p []byte) (int, error) {
	if !vfs.Readable(h.flags) {
		return 0, fmt.Errorf("read %s: not open for reading: %w", h.vn.Path(), errno.EBADF)
	}

	h.lock.Acquire(t)
	defer h.lock.Release(t)

	n, err := h.vn.ReadAt(p, h.offset)
	h.offset += int64(n)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// Write writes at the current offset, or at the end for O_APPEND, and
// advances it.
func (h *Handle) Write(t *thread.Thread, p []byte) (int, error) {
	if !vfs.Writable(h.flags) {
		return 0, fmt.Errorf("write %s: not open for writing: %w", h.vn.Path(), errno.EBADF)
	}

	h.lock.Acquire(t)
	defer h.lock.Release(t)

	if h.flags&vfs.O_APPEND != 0 {
		h.offset = h.vn.Size()
	}
	n, err := h.vn.WriteAt(p, h.offset)
	h.offset += int64(n)
	return n, err
}

// Seek moves the offset. whence is io.SeekStart, io.SeekCurrent or
// io.SeekEnd.
func (h *Handle) Seek(t *thread.Thread, pos int64, whence int) (int64, error) {
	if !h.vn.Seekable() {
		return 0, fmt.Errorf("seek %s: %w", h.vn.Path(), errno.ESPIPE)
	}

	h.lock.Acquire(t)
	defer h.lock.Release(t)

	var next int64
	switch whence {
	case io.SeekStart:
		next = pos
	case io.SeekCurrent:
		next = h.offset + pos
	case io.SeekEnd:
		next = h.vn.Size() + pos
	default:
		return 0, fmt.Errorf("seek %s: whence %d: %w", h.vn.Path(), whence, errno.EINVAL)
	}
	if next < 0 {
		return 0, fmt.Errorf("seek %s: negative offset %d: %w", h.vn.Path(), next, errno.EINVAL)
	}
	h.offset = next
	return next, nil
}
