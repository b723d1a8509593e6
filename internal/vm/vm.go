// Package vm is the address-space collaborator of the process subsystem.
//
// The process code only relies on the AddressSpace contract: copy (which
// may fail without touching the source), activate/deactivate, destroy,
// region and stack definition, and copying bytes in and out. Manager is a
// small in-memory implementation with a page budget so allocation failure
// can be exercised.
package vm

import (
	"fmt"
	"sync"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/errno"
)

const (
	PageSize = 4096

	// UserStack is the top of the user stack.
	UserStack uintptr = 0x80000000

	// StackPages is the size of the user stack region.
	StackPages = 18
)

// AddressSpace is a process's virtual address space.
type AddressSpace interface {
	// Copy duplicates the address space. On failure the receiver is
	// unchanged.
	Copy() (AddressSpace, error)
	Activate()
	Deactivate()
	Active() bool
	Destroy()

	DefineRegion(vaddr, size uintptr, perm Perm) error
	DefineStack() (uintptr, error)

	CopyOut(dst uintptr, src []byte) error
	CopyIn(dst []byte, src uintptr) error

	// Size returns the bytes of memory backing the space.
	Size() uint64
}

// Allocator creates empty address spaces.
type Allocator interface {
	Create() (AddressSpace, error)
}

// Perm is a region permission mask.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
)

// Manager hands out address spaces from a fixed page budget.
type Manager struct {
	mu    sync.Mutex
	limit int // pages, 0 means unlimited
	used  int
}

// NewManager creates a manager with a budget of limit pages (0 = unlimited).
func NewManager(limit int) *Manager {
	return &Manager{limit: limit}
}

// Used returns the number of pages in use.
func (m *Manager) Used() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

// SetLimit changes the page budget.
func (m *Manager) SetLimit(limit int) {
	m.mu.Lock()
	m.limit = limit
	m.mu.Unlock()
}

// Create returns an empty address space. Its page directory costs one page.
func (m *Manager) Create() (AddressSpace, error) {
	if err := m.reserve(1); err != nil {
		return nil, err
	}
	return &Space{m: m, pages: make(map[uintptr][]byte)}, nil
}

func (m *Manager) reserve(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limit > 0 && m.used+n > m.limit {
		return fmt.Errorf("vm: %d pages requested, %d of %d in use: %w", n, m.used, m.limit, errno.ENOMEM)
	}
	m.used += n
	return nil
}

func (m *Manager) release(n int) {
	m.mu.Lock()
	m.used -= n
	if m.used < 0 {
		panic("vm: page accounting went negative")
	}
	m.mu.Unlock()
}
