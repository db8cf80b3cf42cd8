// Package task implements the domain's task object and its state machine:
// creation, starting, blocking, waking, dying, and the join wait-queue
// that notifies other tasks of a death.
package task

import (
	"fmt"

	"github.com/rost-lang/rost/internal/cache"
)

// FrameGlue is the compiler-provided set of code addresses the runtime
// patches into a task's stack frames: mark/drop/relocate glue for the
// garbage collector. No collector exists in this core; the fields are
// preserved verbatim so the runtime stays ABI-compatible with a future
// one, per the spec's own instruction to keep GC hooks intact.
type FrameGlue struct {
	MarkGlueOff uintptr
	DropGlueOff uintptr
	RelocGlueOff uintptr
}

// Task is a user-level coroutine with its own segmented stack.
type Task struct {
	// Compiler-visible fields.
	Stack        *Segment
	RuntimeSP    uintptr // saved host stack pointer while the task runs
	TaskSP       uintptr // saved task stack pointer while suspended
	GCAllocChain uintptr // head of the GC allocation chain; preserved, unused
	Domain       any     // owning domain; opaque here to avoid an import cycle
	Cache        *cache.Cache
	Coro         any // *glue.Coroutine; opaque here to avoid an import cycle

	// Runtime-only fields.
	state    State
	cond     Condition
	Dptr     []byte // rendezvous slot written by a successful attempt_transmission
	Spawner  *Task
	idx      int
	waiting  *WaitQueue
	alarm    Alarm
	refcount int
	vec      *Vec // the state Vec currently holding this task, if any

	// Rval is set by Fail/Exit for the root task's exit code accounting.
	Rval int
	// Failed records whether the task's death came from fail rather than a
	// clean exit, for the domain to decide its own rval when this is root.
	Failed bool

	Name string
}

// New creates a task with refcount 1, state Blocked (awaiting Start), and
// an empty join wait-queue, matching the spec's creation lifecycle.
func New(name string, spawner *Task) *Task {
	t := &Task{
		state:    Blocked,
		Spawner:  spawner,
		refcount: 1,
		waiting:  NewWaitQueue(),
		Name:     name,
	}
	t.alarm.Receiver = t
	return t
}

// Idx reports the task's index within its current state vector.
func (t *Task) Idx() int { return t.idx }

// CurrentVec reports the state Vec currently holding this task, or nil if
// it has never been pushed onto one. Domains use this to resync a task's
// vector membership after a block/wakeup/die transition changes its
// State() without going through a Vec-aware call.
func (t *Task) CurrentVec() *Vec { return t.vec }

// State reports the task's current state.
func (t *Task) State() State { return t.state }

// Cond reports the condition a blocked task is waiting on, or nil.
func (t *Task) Cond() Condition { return t.cond }

// SetState is called by the domain when a task moves between state
// vectors outside the normal block/wakeup/die transitions, e.g. when a
// newly-created task is first pushed onto the running vector by
// start_task. It never touches Cond.
func (t *Task) SetState(s State) { t.state = s }

// Running reports whether the task is in the running state.
func (t *Task) Running() bool { return t.state == Running }

// Blocked reports whether the task is in the blocked state.
func (t *Task) Blocked() bool { return t.state == Blocked }

// Dead reports whether the task is in the dead state.
func (t *Task) Dead() bool { return t.state == Dead }

// BlockedOn reports whether the task is blocked on exactly this condition.
func (t *Task) BlockedOn(cond Condition) bool {
	return t.state == Blocked && t.cond == cond
}

// Block transitions a running task to blocked on cond. Asserts the task
// was running, matching the original's fatal-assert discipline.
func (t *Task) Block(cond Condition) {
	if t.state != Running {
		panic(fmt.Sprintf("task: block() called on task %q not in running state (state=%s)", t.Name, t.state))
	}
	t.cond = cond
	t.state = Blocked
}

// Wakeup transitions a task blocked on cond back to running. Asserts the
// task was blocked on exactly that condition. Waking from a join (cond is
// the joined-on task itself) releases the reference Join took out on it,
// matching upcall_join's pairing of ref-on-block with deref-on-wake.
func (t *Task) Wakeup(cond Condition) {
	if !t.BlockedOn(cond) {
		panic(fmt.Sprintf("task: wakeup(%v) called on task %q not blocked on it (state=%s, cond=%v)", cond, t.Name, t.state, t.cond))
	}
	t.cond = nil
	t.state = Running
	if joined, ok := cond.(*Task); ok {
		joined.Unref()
	}
}

// Die transitions the task to dead and notifies every task waiting on its
// death, then drops the task's own reference — the one New grants at
// creation — so the reaper can collect it once no joiner or other holder
// still refs it. Used by both self-exit and Kill.
func (t *Task) Die() {
	t.cond = nil
	t.state = Dead
	t.notifyWaitingTasks()
	t.Unref()
}

// Kill forces another task to die immediately. Unlike die(), the
// caller is a different task; the compiler's unwind glue runs the next
// time the killed task's stack would have been activated (an
// implementation detail left to the glue layer, not the state machine).
func (t *Task) Kill() {
	t.Die()
}

// notifyWaitingTasks flushes the task's join wait-queue, waking every
// joiner that is blocked on this task.
func (t *Task) notifyWaitingTasks() {
	t.waiting.Flush(t)
}

// Join registers the caller (already blocked on other) onto other's
// waiting_tasks, so other's death will wake it, and takes out a reference
// on other so it survives until that wakeup releases it — otherwise other
// could be reaped out from under a joiner still waiting to read its Rval.
// Callers check Dead() first and skip the block (and this call) entirely
// when other is already dead, matching upcall_join's behavior.
func (t *Task) Join(other *Task) {
	other.Ref()
	other.waiting.Push(&t.alarm)
}

// WaitQueueLen reports how many joiners are currently queued on the task.
func (t *Task) WaitQueueLen() int { return t.waiting.Len() }

// Ref bumps the task's refcount. Held by join alarms and by anything else
// that needs the task to outlive its own death.
func (t *Task) Ref() { t.refcount++ }

// Unref drops the task's refcount, returning true if it reached zero.
func (t *Task) Unref() bool {
	t.refcount--
	return t.refcount <= 0
}

// Refcount reports the task's current refcount, used by the reaper to
// decide whether a dead task may be destroyed.
func (t *Task) Refcount() int { return t.refcount }
