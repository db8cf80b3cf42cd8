package rost

import (
	"fmt"

	"github.com/rost-lang/rost/internal/cache"
	"github.com/rost-lang/rost/internal/comm"
	"github.com/rost-lang/rost/internal/constants"
	"github.com/rost-lang/rost/internal/glue"
	"github.com/rost-lang/rost/internal/task"
)

// Upcalls is the surface compiled code calls into, bound to one task and
// its domain. Every method here corresponds to one upcall of §4.9: it
// receives the caller task implicitly (the Upcalls it was handed at
// spawn), logs an entry record, and either mutates only its own domain or
// fails the task with a numeric error code.
type Upcalls struct {
	domain *Domain
	task   *task.Task
}

// Task exposes the task this Upcalls is bound to, for a body closure
// that needs to read its own name or refcount.
func (u *Upcalls) Task() *task.Task { return u.task }

// --- Memory group ---------------------------------------------------

// Malloc allocates size bytes through the domain's service.
func (u *Upcalls) Malloc(size int) []byte {
	u.domain.logger.Upf("malloc(%q, %d)", u.task.Name, size)
	return u.domain.service.Malloc(size)
}

// Free releases buf through the domain's service.
func (u *Upcalls) Free(buf []byte) {
	u.domain.logger.Upf("free(%q)", u.task.Name)
	u.domain.service.Free(buf)
}

// NewStr allocates a copy of s as a task-owned byte buffer, the runtime's
// string representation.
func (u *Upcalls) NewStr(s string) []byte {
	buf := u.domain.service.Malloc(len(s))
	copy(buf, s)
	u.domain.logger.Upf("new_str(%q, %q)", u.task.Name, s)
	return buf
}

// NewVec allocates a vector buffer of n units of unitSize bytes each.
func (u *Upcalls) NewVec(n, unitSize int) []byte {
	u.domain.logger.Upf("new_vec(%q, n=%d, unit=%d)", u.task.Name, n, unitSize)
	return u.domain.service.Malloc(n * unitSize)
}

// VecGrow grows buf (holding n units of unitSize bytes) to hold newN
// units. Per §4.9 this is a fast path when the caller is the buffer's
// only owner and capacity already suffices (mirrored here as: the
// requested capacity is already met, so the same slice is returned
// un-reallocated); otherwise it reallocates and copies.
func (u *Upcalls) VecGrow(buf []byte, n, newN, unitSize int) []byte {
	u.domain.logger.Upf("vec_grow(%q, %d -> %d)", u.task.Name, n, newN)
	if newN*unitSize <= cap(buf) {
		return buf[:newN*unitSize]
	}
	return u.domain.service.Realloc(buf, newN*unitSize)
}

// Log implements upcall_log_str / upcall_log_int: user code logging a
// message through the host service under the ulog category, which is in
// the default mask when ROST_LOG is unset.
func (u *Upcalls) Log(msg string) {
	u.domain.service.Log(msg)
}

// --- Comm group --------------------------------------------------------

// NewPort creates a port owned by the caller with the given unit size.
func (u *Upcalls) NewPort(unitSize int) *comm.Port {
	u.domain.logger.Upf("new_port(%q, unit=%d)", u.task.Name, unitSize)
	return comm.NewPort(u.task, unitSize)
}

// DelPort drops a reference to port, closing it once the refcount reaches
// zero so every channel still addressing it is disassociated first.
func (u *Upcalls) DelPort(port *comm.Port) {
	u.domain.logger.Upf("del_port(%q)", u.task.Name)
	if port.Unref() {
		port.Close()
	}
}

// NewChan creates a channel owned by the caller, addressing port.
func (u *Upcalls) NewChan(port *comm.Port) *comm.Channel {
	u.domain.logger.Upf("new_chan(%q)", u.task.Name)
	return comm.NewChannel(u.task, port)
}

// CloneChan creates a new channel owned by the caller, addressing the
// same port as an existing channel, permitting multiple producers.
func (u *Upcalls) CloneChan(c *comm.Channel) *comm.Channel {
	u.domain.logger.Upf("clone_chan(%q)", u.task.Name)
	return comm.Clone(u.task, c)
}

// DelChan drops a reference to c, disassociating it from its port once
// the refcount reaches zero.
func (u *Upcalls) DelChan(c *comm.Channel) {
	u.domain.logger.Upf("del_chan(%q)", u.task.Name)
	if c.Unref() {
		c.Disassociate()
	}
}

// Send implements upcall_send. It yields (via the body calling Yield
// itself, per the compiler's contract) if the caller is still blocked
// afterward; here it simply reports that fact, since this runtime has no
// separate yield point distinct from the upcall boundary for a Go
// closure body.
func (u *Upcalls) Send(c *comm.Channel, sptr []byte) (stillBlocked bool, err error) {
	u.domain.logger.Upf("send(%q)", u.task.Name)

	owner := (*task.Task)(nil)
	if c.Port != nil {
		owner = c.Port.Owner
	}

	stillBlocked, err = comm.Send(u.task, c, sptr)
	u.domain.resync(u.task)
	if owner != nil {
		u.domain.resync(owner)
	}

	blocked := stillBlocked
	u.domain.metrics.RecordSend(blocked)

	if err != nil {
		u.domain.Fail(u.task, WrapTaskError("send", constants.FailAssertion, err))
		return false, err
	}
	return stillBlocked, nil
}

// Recv implements upcall_recv. randIntn selects the domain's PRNG so
// writer selection matches the rest of the scheduler's randomness.
func (u *Upcalls) Recv(port *comm.Port, dptr []byte) (stillBlocked bool) {
	u.domain.logger.Upf("recv(%q)", u.task.Name)

	writers := append([]*task.Task(nil), channelOwnersOf(port)...)

	stillBlocked = comm.Recv(u.task, port, dptr, u.domain.prng.Intn)
	u.domain.resync(u.task)
	for _, owner := range writers {
		if owner != nil {
			u.domain.resync(owner)
		}
	}

	u.domain.metrics.RecordRecv(stillBlocked)
	return stillBlocked
}

// channelOwnersOf collects the owning task of every channel currently
// addressing port, so the caller can conservatively resync whichever one
// Recv's internal attempt_transmission happened to wake.
func channelOwnersOf(port *comm.Port) []*task.Task {
	owners := make([]*task.Task, 0, len(port.Chans))
	for _, c := range port.Chans {
		owners = append(owners, c.Owner)
	}
	return owners
}

// Interrupted reports whether the preemption timer has set the domain's
// interrupt flag since it was last cleared. Compiled code polls this at
// function prologues and calls Yield when it reports true; the runtime
// never interrupts a task's closure directly.
func (u *Upcalls) Interrupted() bool {
	return u.domain.interrupt
}

// Yield implements upcall_yield: the caller's compiled code checked the
// domain's interrupt flag and is voluntarily giving up the rest of its
// time slice. It clears the flag and hands control back to the main loop
// via the task's own Coroutine.
func (u *Upcalls) Yield() {
	u.domain.logger.Upf("yield(%q)", u.task.Name)
	u.domain.interrupt = false
	u.task.Coro.(*glue.Coroutine).Yield()
}

// Join implements upcall_join: block the caller on other's death unless
// other is already dead, in which case this is a no-op (matching the
// spec's "callers check Dead() first and skip the block entirely").
func (u *Upcalls) Join(other *task.Task) {
	u.domain.logger.Upf("join(%q, %q)", u.task.Name, other.Name)
	if other.Dead() {
		return
	}
	u.task.Block(other)
	u.domain.resync(u.task)
	u.task.Join(other)
}

// --- Task lifecycle group -----------------------------------------------

// NewTask creates a new task running body, owned by the caller's domain.
func (u *Upcalls) NewTask(name string, body func(*Upcalls) int) *task.Task {
	u.domain.logger.Upf("new_task(%q -> %q)", u.task.Name, name)
	return u.domain.newTask(name, u.task, body)
}

// StartTask transitions a newly created task to running.
func (u *Upcalls) StartTask(t *task.Task) {
	u.domain.logger.Upf("start_task(%q -> %q)", u.task.Name, t.Name)
	u.domain.startTask(t)
}

// NewThread clones the host service and spins up a brand new Domain with
// its own PRNG, allocator, and caches, matching §5's "clones the host
// service, creates a new domain ... starts a new OS thread running its
// main loop". Here that OS thread is a goroutine. The returned Domain
// reuses this domain's logger, loader and glue; no task, port or channel
// is shared between the two.
func (u *Upcalls) NewThread(name string, rootBody func(*Upcalls) int) (*Domain, error) {
	u.domain.logger.Upf("new_thread(%q -> %q)", u.task.Name, name)
	child, err := NewDomain(&DomainConfig{
		Name:      name,
		Logger:    u.domain.logger,
		Service:   u.domain.service.Clone(),
		Loader:    u.domain.loader,
		Glue:      u.domain.glueImp,
		RootCrate: u.domain.rootCrate,
	})
	if err != nil {
		return nil, err
	}
	child.rootTask = child.newTask("root", nil, rootBody)
	return child, nil
}

// StartThread starts child's root task and runs its main loop on its own
// goroutine, returning a channel that receives its final rval once it
// finishes.
func (u *Upcalls) StartThread(child *Domain) <-chan int {
	u.domain.logger.Upf("start_thread(%q -> %q)", u.task.Name, child.Name)
	done := make(chan int, 1)
	child.startTask(child.rootTask)
	go func() {
		done <- child.Run()
	}()
	return done
}

// Exit implements upcall_exit: the caller dies cleanly with rval as its
// exit code.
func (u *Upcalls) Exit(rval int) {
	u.domain.logger.Upf("exit(%q, %d)", u.task.Name, rval)
	u.domain.Exit(u.task, rval)
}

// Fail implements upcall_fail: a user assertion failed. This is distinct
// from the service's Fatal, which aborts the whole process for a broken
// runtime invariant; Fail only kills the one task.
func (u *Upcalls) Fail(format string, args ...any) {
	err := WrapTaskError("fail", constants.FailAssertion, fmt.Errorf(format, args...))
	u.domain.logger.Errf("fail(%q): %v", u.task.Name, err)
	u.domain.Fail(u.task, err)
}

// Kill implements upcall_kill: the caller forces target to die.
func (u *Upcalls) Kill(target *task.Task) {
	u.domain.logger.Upf("kill(%q -> %q)", u.task.Name, target.Name)
	u.domain.Kill(target)
}

// --- Symbol resolution group ---------------------------------------------

// RequireCSym resolves a C symbol by index via the task's active crate
// cache, failing the task with FailCSym on any resolution error.
func (u *Upcalls) RequireCSym(idx, libIdx int, libName, symName string) (uintptr, error) {
	u.domain.logger.Upf("require_c_sym(%q, %s::%s)", u.task.Name, libName, symName)
	sym, err := u.task.Cache.GetCSym(idx, libIdx, libName, symName, u.domain.loader)
	if err != nil {
		wrapped := WrapTaskError("require_c_sym", constants.FailCSym, err)
		u.domain.Fail(u.task, wrapped)
		return 0, wrapped
	}
	return sym.Addr, nil
}

// RequireRostSym resolves an inter-crate symbol by walking path through
// target's debug info, failing the task with FailRostSym on any error.
func (u *Upcalls) RequireRostSym(idx int, anchor *cache.CSym, target *cache.Crate, path []string) (uintptr, error) {
	u.domain.logger.Upf("require_rost_sym(%q, %v)", u.task.Name, path)
	sym, err := u.task.Cache.GetRostSym(idx, anchor, target, path)
	if err != nil {
		wrapped := WrapTaskError("require_rost_sym", constants.FailRostSym, err)
		u.domain.Fail(u.task, wrapped)
		return 0, wrapped
	}
	return sym.Addr, nil
}

// GetTypeDesc interns a type descriptor through the task's active crate
// cache.
func (u *Upcalls) GetTypeDesc(prefix cache.TypeDesc, descs []*cache.TypeDesc) *cache.TypeDesc {
	u.domain.logger.Upf("get_type_desc(%q)", u.task.Name)
	return u.task.Cache.GetTypeDesc(prefix, descs)
}
