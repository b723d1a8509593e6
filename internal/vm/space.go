package vm

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/errno"
)

type region struct {
	base, size uintptr
	perm       Perm
}

func (r region) contains(addr uintptr) bool {
	return addr >= r.base && addr < r.base+r.size
}

// Space is the Manager's AddressSpace. Pages are allocated on first write.
type Space struct {
	m *Manager

	mu        sync.Mutex
	regions   []region
	pages     map[uintptr][]byte
	active    bool
	destroyed bool
}

// Copy duplicates every region and page. The page budget is checked up
// front, so a failed copy allocates nothing.
func (s *Space) Copy() (AddressSpace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assertLive()

	if err := s.m.reserve(len(s.pages) + 1); err != nil {
		return nil, err
	}

	ns := &Space{
		m:       s.m,
		regions: slices.Clone(s.regions),
		pages:   make(map[uintptr][]byte, len(s.pages)),
	}
	for va, pg := range s.pages {
		ns.pages[va] = slices.Clone(pg)
	}
	return ns, nil
}

// Activate marks the space as loaded in the MMU.
func (s *Space) Activate() {
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()
}

// Deactivate flushes the space from the MMU.
func (s *Space) Deactivate() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

// Active reports whether the space is loaded in the MMU.
func (s *Space) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Destroy frees the space. It must be deactivated first.
func (s *Space) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assertLive()
	if s.active {
		panic("vm: destroying an active address space")
	}
	s.m.release(len(s.pages) + 1)
	s.pages = nil
	s.regions = nil
	s.destroyed = true
}

// DefineRegion adds a region. Regions may not overlap.
func (s *Space) DefineRegion(vaddr, size uintptr, perm Perm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assertLive()

	base := vaddr &^ (PageSize - 1)
	size = (size + (vaddr - base) + PageSize - 1) &^ (PageSize - 1)
	if size == 0 {
		return fmt.Errorf("vm: empty region at %#x: %w", vaddr, errno.EINVAL)
	}
	for _, r := range s.regions {
		if base < r.base+r.size && r.base < base+size {
			return fmt.Errorf("vm: region %#x+%#x overlaps %#x+%#x: %w", base, size, r.base, r.size, errno.EINVAL)
		}
	}
	s.regions = append(s.regions, region{base: base, size: size, perm: perm})
	return nil
}

// DefineStack sets up the user stack and returns the initial stack pointer.
func (s *Space) DefineStack() (uintptr, error) {
	const size = StackPages * PageSize
	if err := s.DefineRegion(UserStack-size, size, PermRead|PermWrite); err != nil {
		return 0, err
	}
	return UserStack, nil
}

// CopyOut writes src at user address dst.
func (s *Space) CopyOut(dst uintptr, src []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assertLive()

	for len(src) > 0 {
		pg, err := s.page(dst, true)
		if err != nil {
			return err
		}
		off := dst % PageSize
		n := copy(pg[off:], src)
		src = src[n:]
		dst += uintptr(n)
	}
	return nil
}

// CopyIn reads len(dst) bytes from user address src. Untouched pages read
// as zero.
func (s *Space) CopyIn(dst []byte, src uintptr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assertLive()

	for len(dst) > 0 {
		off := src % PageSize
		n := min(len(dst), int(PageSize-off))
		pg, err := s.page(src, false)
		if err != nil {
			return err
		}
		if pg == nil {
			clear(dst[:n])
		} else {
			copy(dst[:n], pg[off:])
		}
		dst = dst[n:]
		src += uintptr(n)
	}
	return nil
}

// Size returns the bytes of memory backing the space, page directory
// included.
func (s *Space) Size() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.pages)+1) * PageSize
}

// Pages returns the virtual page numbers currently backed, in order.
func (s *Space) Pages() []uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.pages))
}

// page returns the page holding addr, allocating it when alloc is set.
// Callers hold s.mu.
func (s *Space) page(addr uintptr, alloc bool) ([]byte, error) {
	idx := slices.IndexFunc(s.regions, func(r region) bool { return r.contains(addr) })
	if idx < 0 {
		return nil, fmt.Errorf("vm: address %#x not mapped: %w", addr, errno.EFAULT)
	}
	va := addr &^ (PageSize - 1)
	pg, ok := s.pages[va]
	if ok || !alloc {
		return pg, nil
	}
	if err := s.m.reserve(1); err != nil {
		return nil, err
	}
	pg = make([]byte, PageSize)
	s.pages[va] = pg
	return pg, nil
}

func (s *Space) assertLive() {
	if s.destroyed {
		panic("vm: use of destroyed address space")
	}
}
