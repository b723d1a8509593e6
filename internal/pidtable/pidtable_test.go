package pidtable

import (
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/kernel/internal/errno"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/monitoring"
	"github.com/GriffinCanCode/AgentOS/kernel/internal/thread"
)

var cpu = thread.NewCPU(0)

type fakeProc struct {
	name string
	pid  int

	mu        sync.Mutex
	children  []int
	destroyed int
}

func newProc(name string) *fakeProc { return &fakeProc{name: name} }

func (p *fakeProc) PID() int       { return p.pid }
func (p *fakeProc) SetPID(pid int) { p.pid = pid }
func (p *fakeProc) Name() string   { return p.name }

func (p *fakeProc) Destroyed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

func (p *fakeProc) childList() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.children)
}

func (p *fakeProc) Children(*thread.Thread) []int { return p.childList() }

func (p *fakeProc) AddChild(_ *thread.Thread, pid int) {
	p.mu.Lock()
	p.children = append(p.children, pid)
	p.mu.Unlock()
}

func (p *fakeProc) RemoveChild(_ *thread.Thread, pid int) {
	p.mu.Lock()
	p.children = slices.DeleteFunc(p.children, func(c int) bool { return c == pid })
	p.mu.Unlock()
}

func (p *fakeProc) Destroy(*thread.Thread) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed++
	if p.destroyed > 1 {
		panic(fmt.Sprintf("%s destroyed twice", p.name))
	}
}

type fixture struct {
	table   *Table
	kproc   *fakeProc
	metrics *monitoring.Metrics
	t       *thread.Thread
}

func setup(t *testing.T, pidMax int, mode ReapMode) *fixture {
	t.Helper()
	kproc := &fakeProc{name: "[kernel]", pid: KernelPID}
	m := monitoring.NewMetrics()
	return &fixture{
		table:   Bootstrap(kproc, Options{PidMax: pidMax, Mode: mode, Metrics: m}),
		kproc:   kproc,
		metrics: m,
		t:       thread.New("test", cpu),
	}
}

func (f *fixture) add(t *testing.T, parent Process, name string) *fakeProc {
	t.Helper()
	p := newProc(name)
	pid, err := f.table.Add(f.t, parent, p)
	require.NoError(t, err)
	require.Equal(t, pid, p.PID())
	return p
}

func (f *fixture) waitAsync(parent Process, pid int) <-chan waitResult {
	ch := make(chan waitResult, 1)
	go func() {
		code, err := f.table.Wait(thread.New("waiter", cpu), parent, pid, 0)
		ch <- waitResult{code, err}
	}()
	return ch
}

func (f *fixture) waitForBlocked(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.WaitsBlocked) == float64(n)
	}, 2*time.Second, time.Millisecond)
}

type waitResult struct {
	code int
	err  error
}

func receive(t *testing.T, ch <-chan waitResult) waitResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not return")
		return waitResult{}
	}
}

// ============================================================================
// Bootstrap and allocation
// ============================================================================

func TestBootstrap(t *testing.T) {
	f := setup(t, 10, ReapOnWait)

	assert.Equal(t, Running, f.table.Status(f.t, KernelPID))
	assert.Same(t, f.kproc, f.table.Lookup(f.t, KernelPID))
	assert.Equal(t, PidMin, f.table.Next(f.t))
	assert.Equal(t, 9, f.table.Available(f.t))
	assert.Equal(t, 10, f.table.PidMax())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PidsInUse))

	assert.Nil(t, f.table.Lookup(f.t, 0))
	assert.Nil(t, f.table.Lookup(f.t, 2))
	assert.Nil(t, f.table.Lookup(f.t, 11))
}

func TestBootstrapValidation(t *testing.T) {
	assert.Panics(t, func() {
		Bootstrap(&fakeProc{pid: KernelPID}, Options{PidMax: 1})
	})
	assert.Panics(t, func() {
		Bootstrap(&fakeProc{pid: 5}, Options{PidMax: 10})
	})

	pt := Bootstrap(&fakeProc{pid: KernelPID}, Options{})
	assert.Equal(t, DefaultPidMax, pt.PidMax())
}

func TestAddAssignsSequentialPIDs(t *testing.T) {
	f := setup(t, 10, ReapOnWait)

	a := f.add(t, f.kproc, "a")
	b := f.add(t, f.kproc, "b")
	orphanless := f.add(t, nil, "c")

	assert.Equal(t, []int{2, 3, 4}, []int{a.PID(), b.PID(), orphanless.PID()})
	assert.Equal(t, []int{2, 3}, f.kproc.childList())
	assert.Equal(t, 5, f.table.Next(f.t))
	assert.Equal(t, 6, f.table.Available(f.t))
	assert.Same(t, b, f.table.Lookup(f.t, 3))
}

func TestExhaustion(t *testing.T) {
	f := setup(t, 4, ReapOnWait)

	f.add(t, f.kproc, "a")
	b := f.add(t, f.kproc, "b")
	f.add(t, f.kproc, "c")
	assert.Equal(t, 0, f.table.Available(f.t))
	assert.Equal(t, 0, f.table.Next(f.t))

	_, err := f.table.Add(f.t, f.kproc, newProc("d"))
	assert.ErrorIs(t, err, errno.ENPROC)

	f.table.Free(f.t, b.PID())
	assert.Equal(t, 3, f.table.Next(f.t))

	d := f.add(t, f.kproc, "d")
	assert.Equal(t, 3, d.PID())
	assert.Equal(t, 0, f.table.Next(f.t))
}

func TestFreeLowersCursor(t *testing.T) {
	f := setup(t, 10, ReapOnWait)

	a := f.add(t, nil, "a")
	f.add(t, nil, "b")
	f.add(t, nil, "c")
	assert.Equal(t, 5, f.table.Next(f.t))

	f.table.Free(f.t, a.PID())
	assert.Equal(t, 2, f.table.Next(f.t))

	// Next allocation skips the used 3 and 4.
	assert.Equal(t, 2, f.add(t, nil, "d").PID())
	assert.Equal(t, 5, f.table.Next(f.t))
}

func TestFreeIsIdempotentAndGuardsKernel(t *testing.T) {
	f := setup(t, 10, ReapOnWait)
	a := f.add(t, nil, "a")

	f.table.Free(f.t, a.PID())
	f.table.Free(f.t, a.PID())
	assert.Equal(t, 9, f.table.Available(f.t))

	assert.Panics(t, func() { f.table.Free(f.t, KernelPID) })
	assert.Panics(t, func() { f.table.Free(f.t, 11) })
}

// ============================================================================
// Exit and wait
// ============================================================================

func TestWaitBlocksUntilExit(t *testing.T) {
	f := setup(t, 20, ReapOnWait)
	parent := f.add(t, f.kproc, "p10")
	child := f.add(t, parent, "p11")

	ch := f.waitAsync(parent, child.PID())
	f.waitForBlocked(t, 1)

	f.table.Exit(thread.New("p11", cpu), child, 42)

	r := receive(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, 42, r.code)

	assert.Equal(t, Free, f.table.Status(f.t, child.PID()))
	assert.Empty(t, parent.childList())
	assert.Equal(t, 1, child.Destroyed())
	f.waitForBlocked(t, 0)
}

func TestWaitOnZombieReturnsImmediately(t *testing.T) {
	f := setup(t, 20, ReapOnWait)
	parent := f.add(t, f.kproc, "parent")
	child := f.add(t, parent, "child")

	f.table.Exit(f.t, child, 3)
	assert.Equal(t, Zombie, f.table.Status(f.t, child.PID()))
	assert.Zero(t, child.Destroyed(), "zombies keep their record")

	code, err := f.table.Wait(f.t, parent, child.PID(), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	// Reaped: the pid is gone.
	_, err = f.table.Wait(f.t, parent, child.PID(), 0)
	assert.ErrorIs(t, err, errno.EINVAL)
}

func TestOrphanReapsItself(t *testing.T) {
	f := setup(t, 20, ReapOnWait)
	parent := f.add(t, f.kproc, "parent")
	child := f.add(t, parent, "child")

	f.table.Exit(f.t, parent, 0)
	assert.Equal(t, Zombie, f.table.Status(f.t, parent.PID()))
	assert.Equal(t, Orphan, f.table.Status(f.t, child.PID()))
	assert.Empty(t, parent.childList())

	f.table.Exit(f.t, child, 7)
	assert.Equal(t, Free, f.table.Status(f.t, child.PID()))
	assert.Equal(t, 1, child.Destroyed())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Reaps.WithLabelValues("self")))

	// The parent is still waitable by its own parent.
	code, err := f.table.Wait(f.t, f.kproc, parent.PID(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestChildlessExitOnlyChangesOwnSlot(t *testing.T) {
	for _, mode := range []ReapMode{ReapOnWait, ReapOnExit} {
		t.Run(mode.String(), func(t *testing.T) {
			f := setup(t, 20, mode)
			running := f.add(t, f.kproc, "running")
			zombie := f.add(t, f.kproc, "zombie")
			parent := f.add(t, f.kproc, "parent")
			orphan := f.add(t, parent, "orphan")
			f.table.Exit(f.t, zombie, 5)
			f.table.Exit(f.t, parent, 0)
			leaf := f.add(t, f.kproc, "leaf")

			snapshot := func() map[int]Entry {
				m := make(map[int]Entry)
				f.table.Each(f.t, func(e Entry) { m[e.PID] = e })
				return m
			}
			before := snapshot()
			avail := f.table.Available(f.t)
			next := f.table.Next(f.t)
			kids := f.kproc.childList()

			f.table.Exit(f.t, leaf, 9)

			after := snapshot()
			assert.Equal(t, avail, f.table.Available(f.t))
			assert.Equal(t, next, f.table.Next(f.t))
			assert.Equal(t, kids, f.kproc.childList())
			require.Len(t, after, len(before))
			for pid, e := range before {
				if pid == leaf.PID() {
					continue
				}
				assert.Equal(t, e, after[pid], "pid %d", pid)
			}
			assert.Equal(t, Running, before[leaf.PID()].Status)
			assert.Equal(t, Zombie, after[leaf.PID()].Status)
			assert.Equal(t, 9, after[leaf.PID()].ExitCode)

			for _, p := range []*fakeProc{running, zombie, parent, orphan, leaf} {
				assert.Zero(t, p.Destroyed(), p.name)
			}
		})
	}
}

func TestParentExitReapsZombieChildren(t *testing.T) {
	f := setup(t, 20, ReapOnWait)
	parent := f.add(t, f.kproc, "parent")
	dead := f.add(t, parent, "dead")
	live := f.add(t, parent, "live")

	f.table.Exit(f.t, dead, 1)
	f.table.Exit(f.t, parent, 0)

	assert.Equal(t, Free, f.table.Status(f.t, dead.PID()))
	assert.Equal(t, 1, dead.Destroyed())
	assert.Equal(t, Orphan, f.table.Status(f.t, live.PID()))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Reaps.WithLabelValues("parent")))
}

func TestWaitErrors(t *testing.T) {
	f := setup(t, 20, ReapOnWait)
	parent := f.add(t, f.kproc, "parent")
	child := f.add(t, parent, "child")
	sibling := f.add(t, f.kproc, "sibling")

	tests := []struct {
		name    string
		pid     int
		options int
		want    errno.Errno
	}{
		{"negative", -1, 0, errno.EINVAL},
		{"zero", 0, 0, errno.EINVAL},
		{"beyond max", 21, 0, errno.EINVAL},
		{"unused", 15, 0, errno.EINVAL},
		{"options", child.PID(), 1, errno.EINVAL},
		{"not a child", sibling.PID(), 0, errno.ECHILD},
		{"kernel", KernelPID, 0, errno.ECHILD},
		{"self", parent.PID(), 0, errno.ECHILD},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.table.Wait(f.t, parent, tt.pid, tt.options)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReapOnExitKeepsZombies(t *testing.T) {
	f := setup(t, 20, ReapOnExit)
	parent := f.add(t, f.kproc, "parent")
	child := f.add(t, parent, "child")

	f.table.Exit(f.t, child, 9)

	for i := 0; i < 2; i++ {
		code, err := f.table.Wait(f.t, parent, child.PID(), 0)
		require.NoError(t, err)
		assert.Equal(t, 9, code)
	}
	assert.Equal(t, Zombie, f.table.Status(f.t, child.PID()))
	assert.Zero(t, child.Destroyed())

	f.table.Exit(f.t, parent, 0)
	assert.Equal(t, Free, f.table.Status(f.t, child.PID()))
	assert.Equal(t, 1, child.Destroyed())
}

func TestConcurrentUnrelatedWaits(t *testing.T) {
	f := setup(t, 64, ReapOnWait)
	const pairs = 8

	parents := make([]*fakeProc, pairs)
	children := make([]*fakeProc, pairs)
	results := make([]<-chan waitResult, pairs)
	for i := range pairs {
		parents[i] = f.add(t, f.kproc, fmt.Sprintf("parent%d", i))
		children[i] = f.add(t, parents[i], fmt.Sprintf("child%d", i))
	}
	for i := range pairs {
		results[i] = f.waitAsync(parents[i], children[i].PID())
	}
	f.waitForBlocked(t, pairs)

	// Exit in reverse so every broadcast wakes waiters whose child is
	// still running.
	for i := pairs - 1; i >= 0; i-- {
		f.table.Exit(thread.New("child", cpu), children[i], 100+i)
	}
	for i := range pairs {
		r := receive(t, results[i])
		require.NoError(t, r.err)
		assert.Equal(t, 100+i, r.code)
	}
}

func TestWaitTargetVanishes(t *testing.T) {
	f := setup(t, 20, ReapOnWait)
	parent := f.add(t, f.kproc, "parent")
	child := f.add(t, parent, "child")

	// One thread of the parent waits while another exits the process.
	ch := f.waitAsync(parent, child.PID())
	f.waitForBlocked(t, 1)

	f.table.Exit(f.t, parent, 0)
	assert.Equal(t, Orphan, f.table.Status(f.t, child.PID()))

	f.table.Exit(f.t, child, 5)

	r := receive(t, ch)
	assert.ErrorIs(t, r.err, errno.ECHILD)
}

func TestExitMisuse(t *testing.T) {
	f := setup(t, 20, ReapOnWait)
	p := f.add(t, f.kproc, "p")

	f.table.Exit(f.t, p, 0)
	assert.Panics(t, func() { f.table.Exit(f.t, p, 0) }, "zombies cannot exit again")

	assert.Panics(t, func() { f.table.Exit(f.t, newProc("stranger"), 0) })
	assert.Panics(t, func() { f.table.Exit(f.t, f.kproc, 0) })
}

func TestPidReuseAfterReap(t *testing.T) {
	f := setup(t, 3, ReapOnWait)
	a := f.add(t, f.kproc, "a")
	f.add(t, f.kproc, "b")

	f.table.Exit(f.t, a, 0)
	_, err := f.table.Add(f.t, f.kproc, newProc("c"))
	assert.ErrorIs(t, err, errno.ENPROC, "zombies hold their pid")

	_, err = f.table.Wait(f.t, f.kproc, a.PID(), 0)
	require.NoError(t, err)

	c := f.add(t, f.kproc, "c")
	assert.Equal(t, a.PID(), c.PID())
}

func TestEach(t *testing.T) {
	f := setup(t, 20, ReapOnWait)
	parent := f.add(t, f.kproc, "parent")
	child := f.add(t, parent, "child")
	f.table.Exit(f.t, child, 4)

	var got []Entry
	f.table.Each(f.t, func(e Entry) {
		assert.Same(t, e.Proc, f.table.Lookup(f.t, e.PID), "lookup works under the table lock")
		got = append(got, e)
	})

	require.Len(t, got, 3)
	assert.Equal(t, KernelPID, got[0].PID)
	assert.Equal(t, Running, got[1].Status)
	assert.Equal(t, Zombie, got[2].Status)
	assert.Equal(t, 4, got[2].ExitCode)
}

func TestParseReapMode(t *testing.T) {
	m, err := ParseReapMode("exit")
	require.NoError(t, err)
	assert.Equal(t, ReapOnExit, m)

	m, err = ParseReapMode("")
	require.NoError(t, err)
	assert.Equal(t, ReapOnWait, m)

	_, err = ParseReapMode("never")
	assert.ErrorIs(t, err, errno.EINVAL)
	assert.Equal(t, "exit", ReapOnExit.String())
	assert.Equal(t, "zombie", Zombie.String())
}
