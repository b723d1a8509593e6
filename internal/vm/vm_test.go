package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/errno"
)

func TestCopyOutAndIn(t *testing.T) {
	m := NewManager(0)
	as, err := m.Create()
	require.NoError(t, err)

	require.NoError(t, as.DefineRegion(0x400000, 2*PageSize, PermRead|PermWrite))

	// Straddles a page boundary.
	addr := uintptr(0x400000 + PageSize - 3)
	require.NoError(t, as.CopyOut(addr, []byte("hello")))

	buf := make([]byte, 5)
	require.NoError(t, as.CopyIn(buf, addr))
	assert.Equal(t, "hello", string(buf))
	assert.Equal(t, uint64(3*PageSize), as.Size())
}

func TestCopyUnmappedFaults(t *testing.T) {
	as, err := NewManager(0).Create()
	require.NoError(t, err)

	err = as.CopyOut(0x1000, []byte{1})
	assert.ErrorIs(t, err, errno.EFAULT)
	err = as.CopyIn(make([]byte, 1), 0x1000)
	assert.ErrorIs(t, err, errno.EFAULT)
}

func TestOverlappingRegionRejected(t *testing.T) {
	as, err := NewManager(0).Create()
	require.NoError(t, err)

	require.NoError(t, as.DefineRegion(0x400000, PageSize, PermRead))
	assert.ErrorIs(t, as.DefineRegion(0x400800, PageSize, PermRead), errno.EINVAL)
}

func TestCopyIsIndependent(t *testing.T) {
	m := NewManager(0)
	as, err := m.Create()
	require.NoError(t, err)
	sp, err := as.DefineStack()
	require.NoError(t, err)
	require.NoError(t, as.CopyOut(sp-8, []byte("parent!!")))

	clone, err := as.Copy()
	require.NoError(t, err)
	require.NoError(t, clone.CopyOut(sp-8, []byte("child!!!")))

	buf := make([]byte, 8)
	require.NoError(t, as.CopyIn(buf, sp-8))
	assert.Equal(t, "parent!!", string(buf))
	require.NoError(t, clone.CopyIn(buf, sp-8))
	assert.Equal(t, "child!!!", string(buf))
}

func TestCopyFailureLeavesSourceIntact(t *testing.T) {
	m := NewManager(0)
	as, err := m.Create()
	require.NoError(t, err)
	sp, err := as.DefineStack()
	require.NoError(t, err)
	require.NoError(t, as.CopyOut(sp-4, []byte("keep")))

	used := m.Used()
	m.SetLimit(used + 1)

	_, err = as.Copy()
	assert.ErrorIs(t, err, errno.ENOMEM)
	assert.Equal(t, used, m.Used())

	buf := make([]byte, 4)
	require.NoError(t, as.CopyIn(buf, sp-4))
	assert.Equal(t, "keep", string(buf))
}

func TestDestroyReleasesPages(t *testing.T) {
	m := NewManager(0)
	as, err := m.Create()
	require.NoError(t, err)
	_, err = as.DefineStack()
	require.NoError(t, err)
	require.NoError(t, as.CopyOut(UserStack-1, []byte{0xff}))
	assert.Equal(t, 2, m.Used())

	as.Activate()
	assert.Panics(t, func() { as.Destroy() }, "active spaces must be deactivated first")
	as.Deactivate()
	as.Destroy()
	assert.Equal(t, 0, m.Used())
	assert.Panics(t, func() { as.Destroy() })
}

func TestCreateRespectsBudget(t *testing.T) {
	m := NewManager(1)
	_, err := m.Create()
	require.NoError(t, err)
	_, err = m.Create()
	assert.ErrorIs(t, err, errno.ENOMEM)
}
