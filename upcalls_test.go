package rost

import (
	"testing"

	"github.com/rost-lang/rost/internal/cache"
	"github.com/rost-lang/rost/internal/constants"
	"github.com/rost-lang/rost/internal/task"
	"github.com/stretchr/testify/require"
)

func newBoundUpcalls(d *Domain, tk *task.Task) *Upcalls {
	return &Upcalls{domain: d, task: tk}
}

func TestUpcallsMemoryGroup(t *testing.T) {
	d := testDomain(t)
	tk := task.New("t", nil)
	tk.SetState(task.Running)
	u := newBoundUpcalls(d, tk)

	buf := u.Malloc(16)
	require.Len(t, buf, 16)
	u.Free(buf)

	s := u.NewStr("hello")
	require.Equal(t, "hello", string(s))

	vec := u.NewVec(4, 4)
	require.Len(t, vec, 16)

	grown := u.VecGrow(vec, 4, 8, 4)
	require.Len(t, grown, 32)

	// Growing within already-allocated capacity must not reallocate.
	withRoom := make([]byte, 4, 64)
	sameSlice := u.VecGrow(withRoom, 1, 10, 4)
	require.Equal(t, 40, len(sameSlice))
}

func TestUpcallsSendRecvRoundTripAndMetrics(t *testing.T) {
	d := testDomain(t)
	consumer := task.New("consumer", nil)
	consumer.SetState(task.Running)
	producer := task.New("producer", nil)
	producer.SetState(task.Running)

	uc := newBoundUpcalls(d, consumer)
	up := newBoundUpcalls(d, producer)

	port := uc.NewPort(4)
	ch := up.NewChan(port)

	const n = 10
	for i := 0; i < n; i++ {
		producer.SetState(task.Running)
		_, err := up.Send(ch, []byte{byte(i), 0, 0, 0})
		require.NoError(t, err)

		consumer.SetState(task.Running)
		dst := make([]byte, 4)
		stillBlocked := uc.Recv(port, dst)
		require.False(t, stillBlocked)
		require.Equal(t, byte(i), dst[0])
	}

	snap := d.metrics.Snapshot()
	require.Equal(t, uint64(n), snap.MessagesSent)
	require.Equal(t, uint64(n), snap.MessagesReceived)

	up.DelChan(ch)
	uc.DelPort(port)
}

func TestUpcallsSendAgainstDisassociatedPortFailsTheSender(t *testing.T) {
	d := testDomain(t)
	owner := task.New("owner", nil)
	owner.SetState(task.Running)
	other := task.New("other", nil)
	other.SetState(task.Running)

	uc := newBoundUpcalls(d, owner)
	uo := newBoundUpcalls(d, other)

	port := uc.NewPort(4)
	ch := uo.NewChan(port)
	uc.DelPort(port)
	require.Nil(t, ch.Port)

	other.SetState(task.Running)
	_, err := uo.Send(ch, []byte{1, 2, 3, 4})
	require.Error(t, err)
	require.True(t, other.Dead(), "the decision for this runtime is to fail the sender, not drop silently")
}

func TestUpcallsInterruptedReflectsDomainFlag(t *testing.T) {
	d := testDomain(t)
	tk := task.New("t", nil)
	tk.SetState(task.Running)
	u := newBoundUpcalls(d, tk)

	require.False(t, u.Interrupted())
	d.interrupt = true
	require.True(t, u.Interrupted())
}

func testCrateForUpcalls() *cache.Crate {
	return &cache.Crate{
		NLibs:     1,
		NCSyms:    1,
		NRostSyms: 1,
		Name:      "test-crate",
	}
}

type fakeSymLoader struct{ opens, lookups int }

func (l *fakeSymLoader) OpenLibrary(name string) (any, error) {
	l.opens++
	return name, nil
}

func (l *fakeSymLoader) Symbol(handle any, name string) (uintptr, error) {
	l.lookups++
	return 0x42, nil
}

func TestUpcallsRequireCSymResolvesAndMemoizes(t *testing.T) {
	crate := testCrateForUpcalls()
	var seed [256]uint32
	d, err := NewDomain(&DomainConfig{Name: "t", Timer: noTickTimer{}, Seed: &seed, RootCrate: crate})
	require.NoError(t, err)
	loader := &fakeSymLoader{}
	d.loader = loader

	tk := task.New("t", nil)
	tk.SetState(task.Running)
	tk.Cache = d.GetCache(crate)
	u := newBoundUpcalls(d, tk)

	addr, err := u.RequireCSym(0, 0, "libfoo.so", "do_thing")
	require.NoError(t, err)
	require.Equal(t, uintptr(0x42), addr)

	addr2, err := u.RequireCSym(0, 0, "libfoo.so", "do_thing")
	require.NoError(t, err)
	require.Equal(t, addr, addr2)
	require.Equal(t, 1, loader.lookups, "second call must hit the memoized slot")
}

func TestUpcallsRequireCSymFailureKillsTask(t *testing.T) {
	crate := testCrateForUpcalls()
	var seed [256]uint32
	d, err := NewDomain(&DomainConfig{Name: "t", Timer: noTickTimer{}, Seed: &seed, RootCrate: crate})
	require.NoError(t, err)
	d.loader = cache.NullLoader{}

	tk := task.New("t", nil)
	tk.SetState(task.Running)
	tk.Cache = d.GetCache(crate)
	u := newBoundUpcalls(d, tk)

	_, err = u.RequireCSym(0, 0, "libfoo.so", "missing")
	require.Error(t, err)
	require.True(t, IsFailCode(err, constants.FailCSym))
	require.True(t, tk.Dead())
}

func TestUpcallsRequireRostSymWalksDebugInfo(t *testing.T) {
	var leaf []byte
	leaf = cache.EncodeULEB(leaf, uint64(len("fn")))
	leaf = append(leaf, []byte("fn")...)
	leaf = cache.EncodeULEB(leaf, 0x10)
	leaf = cache.EncodeULEB(leaf, 0)

	var root []byte
	root = cache.EncodeULEB(root, uint64(len("target")))
	root = append(root, []byte("target")...)
	root = cache.EncodeULEB(root, 0)
	root = cache.EncodeULEB(root, 1)
	root = append(root, leaf...)

	target := testCrateForUpcalls()
	target.Name = "target"
	target.DebugInfoBytes = root

	crate := testCrateForUpcalls()
	var seed [256]uint32
	d, err := NewDomain(&DomainConfig{Name: "t", Timer: noTickTimer{}, Seed: &seed, RootCrate: crate})
	require.NoError(t, err)

	tk := task.New("t", nil)
	tk.Cache = d.GetCache(crate)
	u := newBoundUpcalls(d, tk)

	anchor := &cache.CSym{Addr: 0x999, Name: "rost_crate"}
	addr, err := u.RequireRostSym(0, anchor, target, []string{"target", "fn"})
	require.NoError(t, err)
	require.Equal(t, target.ActualBase+target.ImageBaseOff+0x10, addr)
}

func TestUpcallsGetTypeDescInterns(t *testing.T) {
	crate := testCrateForUpcalls()
	var seed [256]uint32
	d, err := NewDomain(&DomainConfig{Name: "t", Timer: noTickTimer{}, Seed: &seed, RootCrate: crate})
	require.NoError(t, err)

	tk := task.New("t", nil)
	tk.Cache = d.GetCache(crate)
	u := newBoundUpcalls(d, tk)

	a := u.GetTypeDesc(cache.TypeDesc{Size: 8, Align: 4}, nil)
	b := u.GetTypeDesc(cache.TypeDesc{Size: 8, Align: 4}, nil)
	require.Same(t, a, b, "identical shape must intern to the same pointer")
}
