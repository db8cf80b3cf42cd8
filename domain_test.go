package rost

import (
	"testing"
	"time"

	"github.com/rost-lang/rost/internal/task"
	"github.com/stretchr/testify/require"
)

// noTickTimer never fires. Tests drive preemption explicitly through
// voluntary Yield calls, so the wall-clock 10ms timer only adds nondeterminism.
type noTickTimer struct{}

func (noTickTimer) Start() <-chan time.Time { return make(chan time.Time) }
func (noTickTimer) Stop()                   {}

func testDomain(t *testing.T) *Domain {
	t.Helper()
	var seed [256]uint32
	for i := range seed {
		seed[i] = uint32(i*2654435761 + 1)
	}
	d, err := NewDomain(&DomainConfig{
		Name:  "test",
		Timer: noTickTimer{},
		Seed:  &seed,
	})
	require.NoError(t, err)
	return d
}

func TestDomainRunExitsCleanlyOnRootReturn(t *testing.T) {
	d := testDomain(t)
	d.SpawnRoot(func(u *Upcalls) int { return 7 })
	require.Equal(t, 0, d.Run(), "a clean root return yields rval 0 regardless of its own return value")
}

func TestDomainExitUpcallIsEquivalentToReturning(t *testing.T) {
	d := testDomain(t)
	var exited bool
	d.SpawnRoot(func(u *Upcalls) int {
		u.Exit(3)
		exited = true
		return 0
	})
	require.Equal(t, 0, d.Run())
	require.True(t, exited, "the body keeps running after Exit; only the compiler's unwind glue would stop it")
}

func TestDomainFailUpcallPropagatesRval1(t *testing.T) {
	d := testDomain(t)
	d.SpawnRoot(func(u *Upcalls) int {
		u.Fail("assertion %d failed", 42)
		return 0
	})
	require.Equal(t, 1, d.Run(), "a failed root task must yield rval 1")
}

func TestDomainKillByAnotherTaskDiesWithoutAffectingTheKiller(t *testing.T) {
	d := testDomain(t)
	var childDead bool
	d.SpawnRoot(func(u *Upcalls) int {
		child := u.NewTask("child", func(cu *Upcalls) int { return 0 })
		u.StartTask(child)
		u.Kill(child)
		childDead = child.Dead()
		return 0
	})
	require.Equal(t, 0, d.Run())
	require.True(t, childDead)
}

// S3 — join: T spawns C, joins it, and wakes exactly once with C already
// dead; C's wait queue held exactly the one joiner before the flush; the
// reaper destroys C only after T releases its reference.
func TestScenarioS3Join(t *testing.T) {
	d := testDomain(t)
	var (
		childRef       *task.Task
		queueLenAtJoin int
		deadAfterJoin  bool
		childRvalSeen  int
	)

	d.SpawnRoot(func(u *Upcalls) int {
		child := u.NewTask("child", func(cu *Upcalls) int { return 42 })
		childRef = child
		u.StartTask(child)

		u.Join(child)
		queueLenAtJoin = child.WaitQueueLen()
		u.Yield()

		deadAfterJoin = child.Dead()
		childRvalSeen = child.Rval
		return 0
	})

	require.Equal(t, 0, d.Run())
	require.Equal(t, 1, queueLenAtJoin, "exactly one joiner queued before the flush")
	require.True(t, deadAfterJoin, "T wakes with C already in dead state")
	require.Equal(t, 42, childRvalSeen)
	require.Equal(t, 0, childRef.WaitQueueLen(), "die's flush empties the wait queue")
	require.Equal(t, 0, childRef.Refcount(), "join's wakeup releases its ref, die releases C's own, reaper can now collect it")
}

// S4 — kill: T spawns C looping forever, kills it, and C transitions to
// dead without any joiner being affected (there is none here); T continues.
func TestScenarioS4Kill(t *testing.T) {
	d := testDomain(t)
	var (
		childRef   *task.Task
		iterations int
		tContinued bool
	)

	d.SpawnRoot(func(u *Upcalls) int {
		child := u.NewTask("child", func(cu *Upcalls) int {
			for {
				iterations++
				cu.Yield()
			}
		})
		childRef = child
		u.StartTask(child)

		// Give the scheduler plenty of chances to run the child before
		// killing it, without depending on a particular PRNG draw.
		for i := 0; i < 50 && iterations == 0; i++ {
			u.Yield()
		}

		u.Kill(child)
		tContinued = true
		return 0
	})

	require.Equal(t, 0, d.Run())
	require.True(t, childRef.Dead(), "C transitions to dead once killed")
	require.Greater(t, iterations, 0, "the loop body ran at least once before the kill")
	require.True(t, tContinued, "T resumes normally after killing C")
}

func TestDomainSchedIsUniformOverRunningVec(t *testing.T) {
	d := testDomain(t)
	names := []string{"a", "b", "c"}
	for _, n := range names {
		tk := d.newTask(n, nil, func(u *Upcalls) int { return 0 })
		d.startTask(tk)
	}

	counts := map[string]int{}
	for i := 0; i < 3000; i++ {
		tk := d.sched()
		require.NotNil(t, tk)
		counts[tk.Name]++
	}
	for _, n := range names {
		require.Greater(t, counts[n], 0, "task %q must be picked with positive probability", n)
	}
}

func TestDomainReapSkipsRootAndRefcountedTasks(t *testing.T) {
	d := testDomain(t)
	root := d.SpawnRoot(func(u *Upcalls) int { return 0 })
	root.Ref()
	d.die(root)
	require.True(t, root.Dead())

	d.reap()
	require.True(t, root.Dead(), "root is never reaped regardless of refcount")

	child := d.newTask("child", root, func(u *Upcalls) int { return 0 })
	child.Ref() // simulate a joiner still holding a reference across the death
	d.die(child)
	require.Equal(t, 1, child.Refcount(), "die drops C's own reference, leaving only the external hold")

	d.reap()
	require.Equal(t, 1, child.Refcount(), "still referenced, so still present")

	child.Unref()
	d.reap()
	require.Equal(t, 0, child.Refcount())
}

func TestDomainEnqueueAndDrainOneIncoming(t *testing.T) {
	d := testDomain(t)
	require.False(t, d.drainOneIncoming(), "nothing queued yet")

	reply := make(chan []byte, 1)
	d.Enqueue(IncomingMessage{Payload: []byte("hello"), Reply: reply})
	require.True(t, d.drainOneIncoming())

	_, stillOpen := <-reply
	require.False(t, stillOpen, "the reply channel is closed once drained")

	require.False(t, d.drainOneIncoming(), "queue is empty again")
}

func TestDomainNewThreadAndStartThreadRunIndependently(t *testing.T) {
	d := testDomain(t)

	var childDone chan int
	var spawnErr error
	d.SpawnRoot(func(u *Upcalls) int {
		child, err := u.NewThread("worker", func(cu *Upcalls) int { return 5 })
		spawnErr = err
		if err == nil {
			childDone = u.StartThread(child)
		}
		return 0
	})

	require.Equal(t, 0, d.Run())
	require.NoError(t, spawnErr)
	require.NotNil(t, childDone)

	select {
	case rval := <-childDone:
		require.Equal(t, 0, rval, "the child domain's own root also exits cleanly, so rval is 0")
	case <-time.After(time.Second):
		t.Fatal("child domain never finished")
	}
}
