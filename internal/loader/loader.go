// Package loader loads ELF executables into an address space.
package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/errno"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/vfs"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/vm"
)

// Loader maps an executable into as and returns its entry point.
type Loader interface {
	Load(v vfs.Vnode, as vm.AddressSpace) (uintptr, error)
}

// ELF loads statically linked ELF executables.
type ELF struct{}

// Load defines one region per PT_LOAD segment, copies the file-backed part
// of each in and returns the entry point. Anything that is not a well-formed
// executable fails with ENOEXEC.
func (ELF) Load(v vfs.Vnode, as vm.AddressSpace) (uintptr, error) {
	f, err := elf.NewFile(io.NewSectionReader(vnodeReader{v}, 0, v.Size()))
	if err != nil {
		return 0, fmt.Errorf("load %s: %v: %w", v.Path(), err, errno.ENOEXEC)
	}
	defer f.Close()

	if f.Type != elf.ET_EXEC {
		return 0, fmt.Errorf("load %s: type %s: %w", v.Path(), f.Type, errno.ENOEXEC)
	}

	var loads []*elf.Prog
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if p.Memsz < p.Filesz {
			return 0, fmt.Errorf("load %s: segment at %#x: memsz < filesz: %w", v.Path(), p.Vaddr, errno.ENOEXEC)
		}
		if err := as.DefineRegion(uintptr(p.Vaddr), uintptr(p.Memsz), perm(p.Flags)); err != nil {
			return 0, fmt.Errorf("load %s: %w", v.Path(), err)
		}
		loads = append(loads, p)
	}
	if len(loads) == 0 {
		return 0, fmt.Errorf("load %s: no loadable segments: %w", v.Path(), errno.ENOEXEC)
	}

	for _, p := range loads {
		data := make([]byte, p.Filesz)
		if _, err := p.ReadAt(data, 0); err != nil && err != io.EOF {
			return 0, fmt.Errorf("load %s: segment at %#x: %v: %w", v.Path(), p.Vaddr, err, errno.ENOEXEC)
		}
		if err := as.CopyOut(uintptr(p.Vaddr), data); err != nil {
			return 0, fmt.Errorf("load %s: %w", v.Path(), err)
		}
	}

	return uintptr(f.Entry), nil
}

func perm(flags elf.ProgFlag) vm.Perm {
	var p vm.Perm
	if flags&elf.PF_R != 0 {
		p |= vm.PermRead
	}
	if flags&elf.PF_W != 0 {
		p |= vm.PermWrite
	}
	if flags&elf.PF_X != 0 {
		p |= vm.PermExec
	}
	return p
}

// vnodeReader adapts a vnode to io.ReaderAt, which wants an error on short
// reads.
type vnodeReader struct{ v vfs.Vnode }

func (r vnodeReader) ReadAt(p []byte, off int64) (int, error) {
	n, err := r.v.ReadAt(p, off)
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

// Segment is one loadable segment of an image built by BuildImage.
type Segment struct {
	Vaddr   uint32
	Data    []byte
	MemSize uint32 // 0 means len(Data)
	Perm    vm.Perm
}

// BuildImage assembles a 32-bit big-endian MIPS executable, the format the
// user programs are shipped in.
func BuildImage(entry uint32, segs ...Segment) []byte {
	const (
		ehsize    = 52
		phentsize = 32
	)

	hdr := elf.Header32{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_MIPS),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     entry,
		Phoff:     ehsize,
		Ehsize:    ehsize,
		Phentsize: phentsize,
		Phnum:     uint16(len(segs)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2MSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, hdr)

	off := uint32(ehsize + phentsize*len(segs))
	for _, s := range segs {
		memsz := max(s.MemSize, uint32(len(s.Data)))
		ph := elf.Prog32{
			Type:   uint32(elf.PT_LOAD),
			Off:    off,
			Vaddr:  s.Vaddr,
			Paddr:  s.Vaddr,
			Filesz: uint32(len(s.Data)),
			Memsz:  memsz,
			Flags:  uint32(progFlags(s.Perm)),
			Align:  vm.PageSize,
		}
		_ = binary.Write(&buf, binary.BigEndian, ph)
		off += uint32(len(s.Data))
	}
	for _, s := range segs {
		buf.Write(s.Data)
	}
	return buf.Bytes()
}

func progFlags(p vm.Perm) elf.ProgFlag {
	var f elf.ProgFlag
	if p&vm.PermRead != 0 {
		f |= elf.PF_R
	}
	if p&vm.PermWrite != 0 {
		f |= elf.PF_W
	}
	if p&vm.PermExec != 0 {
		f |= elf.PF_X
	}
	return f
}
