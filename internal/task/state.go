package task

import "github.com/rost-lang/rost/internal/constants"

// InitVecCap is the initial backing capacity of a new state Vec.
const InitVecCap = constants.InitStateVecSize

// State is one of the three positions a Task can occupy in a domain.
type State int

const (
	// Running means the task lives in the domain's running vector and is
	// eligible to be picked by the scheduler.
	Running State = iota
	// Blocked means the task lives in the domain's blocked vector and has
	// a non-nil Cond it is waiting on.
	Blocked
	// Dead means the task lives in the domain's dead vector, awaiting
	// reaping once its refcount reaches zero.
	Dead
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Vec is a swap-delete vector of tasks, mirroring the domain's
// running/blocked/dead sequences. Index membership is maintained on every
// mutation so a task's Idx field always equals its position here.
type Vec struct {
	tasks []*Task
}

// NewVec creates an empty Vec with the runtime's standard initial capacity.
func NewVec(cap0 int) *Vec {
	return &Vec{tasks: make([]*Task, 0, cap0)}
}

// Len returns the number of tasks currently in the vector.
func (v *Vec) Len() int { return len(v.tasks) }

// At returns the task at index i.
func (v *Vec) At(i int) *Task { return v.tasks[i] }

// Push appends t, recording its new index.
func (v *Vec) Push(t *Task) {
	t.idx = len(v.tasks)
	v.tasks = append(v.tasks, t)
	t.vec = v
}

// Remove swap-deletes the task at index i, fixing up the displaced task's
// idx if one took its place.
func (v *Vec) Remove(i int) {
	last := len(v.tasks) - 1
	v.tasks[i] = v.tasks[last]
	v.tasks[i].idx = i
	v.tasks[last] = nil
	v.tasks = v.tasks[:last]
}

// RemoveTask removes t from the vector using its cached idx.
func (v *Vec) RemoveTask(t *Task) {
	v.Remove(t.idx)
	t.vec = nil
}

// Slice exposes the underlying tasks for iteration. Callers must not
// mutate the returned slice.
func (v *Vec) Slice() []*Task { return v.tasks }
