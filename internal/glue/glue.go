// Package glue stands in for the compiler-emitted entry points the
// runtime re-enters compiled code through: activate, yield, exit_task,
// unwind. Since no compiler exists in this core, a task's "compiled code"
// is a Go closure run on its own goroutine; Coroutine provides the
// save/restore handoff the real ABI would do with raw stack pointers,
// narrowly, behind a safe handle, per the design note that stack
// switching must stay encapsulated.
package glue

// Coroutine drives one task's body on a dedicated goroutine, handing
// control back and forth with the scheduler's activate/yield calls via
// two unbuffered channels. Activate and Yield must only ever be called
// from their respective sides: Activate from the domain's main loop,
// Yield from inside the body.
type Coroutine struct {
	resumeCh chan struct{}
	yieldCh  chan struct{}
	body     func(*Coroutine) int

	started bool
	done    bool
	rval    int
}

// NewCoroutine wraps body, which represents the task's compiled-code
// entry point. body must call Yield on the Coroutine it is given at every
// suspension point; its return value becomes the task's exit code.
func NewCoroutine(body func(*Coroutine) int) *Coroutine {
	return &Coroutine{
		resumeCh: make(chan struct{}),
		yieldCh:  make(chan struct{}),
		body:     body,
	}
}

// Activate enters the coroutine for the first time, or resumes it from
// its last Yield. It blocks until the coroutine yields or returns, then
// reports whether it is still alive and, if not, its return value.
func (c *Coroutine) Activate() (alive bool, rval int) {
	if c.done {
		return false, c.rval
	}
	if !c.started {
		c.started = true
		go func() {
			c.rval = c.body(c)
			c.done = true
			c.yieldCh <- struct{}{}
		}()
	} else {
		c.resumeCh <- struct{}{}
	}
	<-c.yieldCh
	return !c.done, c.rval
}

// Yield hands control back to whoever called Activate and blocks until
// Activate is called again.
func (c *Coroutine) Yield() {
	c.yieldCh <- struct{}{}
	<-c.resumeCh
}

// Glue is the activate entry point the domain's main loop calls through,
// matching the crate ABI's activate_glue contract: enter the task's saved
// continuation, return when it yields or dies.
type Glue interface {
	Activate(co *Coroutine) (alive bool, rval int)
}

// ClosureGlue is the default Glue: activation is just a direct call onto
// the task's Coroutine, since there is no real machine-code frame to
// splice glue into.
type ClosureGlue struct{}

// Activate implements Glue.
func (ClosureGlue) Activate(co *Coroutine) (alive bool, rval int) {
	return co.Activate()
}

var _ Glue = ClosureGlue{}
