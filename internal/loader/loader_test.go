package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/errno"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/vfs"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/vm"
)

func load(t *testing.T, image []byte) (uintptr, vm.AddressSpace, error) {
	t.Helper()
	fs := vfs.NewMemFS(nil, nil)
	require.NoError(t, fs.Mkdir("/bin"))
	require.NoError(t, fs.WriteFile("/bin/prog", image))
	v, err := fs.Open(nil, "/bin/prog", vfs.O_RDONLY)
	require.NoError(t, err)
	defer fs.Close(v)

	as, err := vm.NewManager(0).Create()
	require.NoError(t, err)
	entry, err := ELF{}.Load(v, as)
	return entry, as, err
}

func TestLoadImage(t *testing.T) {
	image := BuildImage(0x400010,
		Segment{Vaddr: 0x400000, Data: []byte("text segment"), Perm: vm.PermRead | vm.PermExec},
		Segment{Vaddr: 0x500000, Data: []byte("data"), MemSize: 2 * vm.PageSize, Perm: vm.PermRead | vm.PermWrite},
	)

	entry, as, err := load(t, image)
	require.NoError(t, err)
	assert.Equal(t, uintptr(0x400010), entry)

	buf := make([]byte, 12)
	require.NoError(t, as.CopyIn(buf, 0x400000))
	assert.Equal(t, "text segment", string(buf))

	// bss past the file data is mapped and zero.
	require.NoError(t, as.CopyIn(buf[:4], 0x500000+vm.PageSize))
	assert.Equal(t, []byte{0, 0, 0, 0}, buf[:4])
}

func TestLoadRejectsGarbage(t *testing.T) {
	_, _, err := load(t, []byte("#!/bin/sh\necho not an elf\n"))
	assert.ErrorIs(t, err, errno.ENOEXEC)
}

func TestLoadRejectsNonExecutable(t *testing.T) {
	image := BuildImage(0x400000, Segment{Vaddr: 0x400000, Data: []byte{1}, Perm: vm.PermRead})
	image[16], image[17] = 0, 3 // e_type = ET_DYN

	_, _, err := load(t, image)
	assert.ErrorIs(t, err, errno.ENOEXEC)
}

func TestLoadRequiresSegments(t *testing.T) {
	_, _, err := load(t, BuildImage(0x400000))
	assert.ErrorIs(t, err, errno.ENOEXEC)
}

func TestLoadOverlappingSegments(t *testing.T) {
	image := BuildImage(0x400000,
		Segment{Vaddr: 0x400000, Data: []byte{1}, Perm: vm.PermRead},
		Segment{Vaddr: 0x400100, Data: []byte{2}, Perm: vm.PermRead},
	)
	_, _, err := load(t, image)
	assert.ErrorIs(t, err, errno.EINVAL)
}
