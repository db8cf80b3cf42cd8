package rost

import (
	"time"

	"github.com/rost-lang/rost/internal/cache"
	"github.com/rost-lang/rost/internal/constants"
	"github.com/rost-lang/rost/internal/glue"
	"github.com/rost-lang/rost/internal/logging"
	"github.com/rost-lang/rost/internal/task"
	"github.com/rost-lang/rost/internal/timer"
)

// IncomingMessage is one delivery accepted through a domain's incoming
// queue from another domain's new_thread/clone_chan machinery. The
// abstraction hides that cross-domain transport is by value copy: no
// task, port, channel, or heap object is ever shared by pointer across
// domains, so a message carries only a payload and, if the sender wants
// one, a channel to deliver a reply back by value.
type IncomingMessage struct {
	Payload []byte
	Reply   chan<- []byte
}

// DomainConfig configures a new Domain. Any nil field falls back to a
// sensible default built from the process environment, mirroring
// logging.DefaultConfig.
type DomainConfig struct {
	Name      string
	Logger    *logging.Logger
	Service   Service
	Loader    cache.Loader
	Glue      glue.Glue
	Timer     timer.Timer
	TimeSlice time.Duration
	RootCrate *cache.Crate
	// Seed pins the domain's PRNG for reproducible tests. Nil seeds from
	// OS entropy, matching the spec's default.
	Seed *[256]uint32
	// IncomingCapacity sizes the cross-domain message queue's buffer.
	IncomingCapacity int
}

// DefaultDomainConfig builds a DomainConfig from the process environment.
func DefaultDomainConfig(name string) *DomainConfig {
	return &DomainConfig{
		Name:             name,
		Logger:           logging.NewLogger(logging.DefaultConfig()),
		Loader:           cache.NewPluginLoader(),
		Glue:             glue.ClosureGlue{},
		TimeSlice:        constants.TimeSliceMS,
		IncomingCapacity: 16,
	}
}

// Domain is a process-local world hosting one cooperative scheduler. Each
// Domain maps 1:1 to an OS thread in the spec's model; here that is a Go
// goroutine running Run, with every task body running on its own
// goroutine parked behind a glue.Coroutine so only one is ever
// conceptually "active" at a time.
type Domain struct {
	Name string

	running *task.Vec
	blocked *task.Vec
	dead    *task.Vec

	caches []*cache.Cache

	prng    *ISAAC
	loader  cache.Loader
	glueImp glue.Glue
	timerImp timer.Timer
	logger  *logging.Logger
	service Service
	metrics *Metrics

	rootCrate *cache.Crate
	rootTask  *task.Task
	active    *task.Task

	interrupt bool // set by the preemption timer, observed and cleared around activation

	rval int

	// incoming is safe for concurrent send/receive as-is (it's a Go
	// channel): it is the one object two domains' goroutines ever touch at
	// the same time.
	incoming chan IncomingMessage
}

// NewDomain creates a Domain from cfg, falling back to defaults for any
// zero field. It does not start the scheduler; call SpawnRoot then Run.
func NewDomain(cfg *DomainConfig) (*Domain, error) {
	if cfg == nil {
		cfg = DefaultDomainConfig("domain")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger(logging.DefaultConfig())
	}
	service := cfg.Service
	if service == nil {
		service = NewDefaultService(logger)
	}
	loader := cfg.Loader
	if loader == nil {
		loader = cache.NewPluginLoader()
	}
	g := cfg.Glue
	if g == nil {
		g = glue.ClosureGlue{}
	}
	slice := cfg.TimeSlice
	if slice <= 0 {
		slice = constants.TimeSliceMS
	}
	tmr := cfg.Timer
	if tmr == nil {
		tmr = timer.NewTickerTimer(slice)
	}

	var prng *ISAAC
	if cfg.Seed != nil {
		prng = NewISAACFromSeed(*cfg.Seed)
	} else {
		p, err := NewISAAC()
		if err != nil {
			return nil, err
		}
		prng = p
	}

	cap := cfg.IncomingCapacity
	if cap <= 0 {
		cap = 16
	}

	d := &Domain{
		Name:      cfg.Name,
		running:   task.NewVec(task.InitVecCap),
		blocked:   task.NewVec(task.InitVecCap),
		dead:      task.NewVec(task.InitVecCap),
		prng:      prng,
		loader:    loader,
		glueImp:   g,
		timerImp:  tmr,
		logger:    logger,
		service:   service,
		metrics:   NewMetrics(),
		rootCrate: cfg.RootCrate,
		incoming:  make(chan IncomingMessage, cap),
	}
	return d, nil
}

// vecFor returns the Vec backing state s.
func (d *Domain) vecFor(s task.State) *task.Vec {
	switch s {
	case task.Running:
		return d.running
	case task.Blocked:
		return d.blocked
	case task.Dead:
		return d.dead
	default:
		return nil
	}
}

// resync moves t into the Vec matching its current State(), if it is not
// already there. Every upcall that can change a task's state — directly,
// or as a side effect deep inside the comm package's rendezvous logic —
// calls this afterward for every task it touched, since Block/Wakeup/Die
// only update Task.State() itself and know nothing of Domain's vectors.
func (d *Domain) resync(t *task.Task) {
	want := d.vecFor(t.State())
	if t.CurrentVec() == want {
		return
	}
	if cur := t.CurrentVec(); cur != nil {
		cur.RemoveTask(t)
	}
	want.Push(t)
}

// GetCache finds or creates the per-(domain, crate) cache for crate,
// bumping its refcount, matching domain.get_cache's find-or-create
// contract.
func (d *Domain) GetCache(crate *cache.Crate) *cache.Cache {
	for _, c := range d.caches {
		if c.Crate == crate {
			c.Ref()
			return c
		}
	}
	c := cache.New(crate)
	c.Ref()
	c.SetIdx(len(d.caches))
	d.caches = append(d.caches, c)
	return c
}

// newTask builds a Task and its Coroutine wrapping body, pushes it onto
// the blocked vector (refcount 1, state blocked, awaiting start), and
// returns it. body receives the Upcalls bound to this exact task.
func (d *Domain) newTask(name string, spawner *task.Task, body func(*Upcalls) int) *task.Task {
	t := task.New(name, spawner)
	t.Domain = d
	if d.rootCrate != nil {
		t.Cache = d.GetCache(d.rootCrate)
	}
	up := &Upcalls{domain: d, task: t}
	t.Coro = glue.NewCoroutine(func(*glue.Coroutine) int {
		return body(up)
	})
	d.blocked.Push(t)
	d.metrics.RecordSpawn()
	d.logger.Taskf("new_task %q (spawner=%v)", name, spawnerName(spawner))
	return t
}

func spawnerName(t *task.Task) string {
	if t == nil {
		return "<none>"
	}
	return t.Name
}

// startTask transitions t from blocked to running, matching
// upcall_start_task.
func (d *Domain) startTask(t *task.Task) {
	t.SetState(task.Running)
	d.resync(t)
	d.logger.Taskf("start_task %q", t.Name)
}

// SpawnRoot creates the domain's root task running body and starts it
// immediately, since nothing else exists yet to schedule it.
func (d *Domain) SpawnRoot(body func(*Upcalls) int) *task.Task {
	t := d.newTask("root", nil, body)
	d.rootTask = t
	d.startTask(t)
	return t
}

// sched picks one task uniformly at random from running, or nil if it is
// empty, per §4.8.
func (d *Domain) sched() *task.Task {
	n := d.running.Len()
	if n == 0 {
		return nil
	}
	return d.running.At(d.prng.Intn(n))
}

// reap destroys every dead task whose refcount has reached zero, except
// the root (the domain itself holds the last word on the root's fate).
func (d *Domain) reap() {
	tasks := d.dead.Slice()
	for i := 0; i < len(tasks); {
		t := tasks[i]
		if t != d.rootTask && t.Refcount() <= 0 {
			d.dead.RemoveTask(t)
			tasks = d.dead.Slice()
			continue
		}
		i++
	}
}

// Enqueue accepts a cross-domain message onto this domain's incoming
// queue. Safe to call from another domain's goroutine: it is the only
// point at which two domains ever touch the same Go channel.
func (d *Domain) Enqueue(msg IncomingMessage) {
	d.incoming <- msg
}

// drainOneIncoming consumes a single pending cross-domain message, if
// any, without blocking. It exists so sched() finding nothing runnable
// can still make forward progress while other tasks are blocked,
// matching §4.8 step 2's "consume one cross-thread message (if any)".
func (d *Domain) drainOneIncoming() bool {
	select {
	case msg := <-d.incoming:
		d.logger.Domf("incoming message (%d bytes)", len(msg.Payload))
		if msg.Reply != nil {
			close(msg.Reply)
		}
		return true
	default:
		return false
	}
}

// Run executes the domain's main loop until both the running and blocked
// vectors are empty, then returns the final rval: 0 if the root task
// exited cleanly, 1 if it failed. SpawnRoot must have been called first.
func (d *Domain) Run() int {
	ticks := d.timerImp.Start()
	defer d.timerImp.Stop()

	for {
		d.reap()

		t := d.sched()
		if t == nil {
			d.metrics.RecordSchedule(false)
			if d.blocked.Len() > 0 {
				d.drainOneIncoming()
				if d.running.Len() == 0 {
					// Nothing became runnable; avoid a hot spin while
					// everything is genuinely blocked on external state.
					// A domain whose last runnable task blocks forever
					// with nothing ever arriving on incoming busy-idles
					// here indefinitely rather than exiting.
					time.Sleep(time.Millisecond)
				}
				continue
			}
			break
		}

		d.activate(t, ticks)
	}

	d.metrics.Stop()
	return d.rval
}

// activate runs one task for up to one time slice via the glue layer,
// handling the aftermath: a natural return from the task's body is
// treated as an implicit exit; a task already dead (via fail/exit/kill
// during this activation) is left alone; root task failure sets rval.
func (d *Domain) activate(t *task.Task, ticks <-chan time.Time) {
	d.active = t
	d.metrics.RecordSchedule(true)
	d.logger.Domf("activate %q", t.Name)

	select {
	case <-ticks:
		d.interrupt = true
	default:
	}

	alive, rval := d.glueImp.Activate(t.Coro.(*glue.Coroutine))

	d.active = nil
	if !alive && !t.Dead() {
		t.Rval = rval
		d.Exit(t, rval)
	}

	if t == d.rootTask && t.Dead() && t.Failed {
		d.rval = 1
	}
}

// Exit implements upcall_exit: the task dies cleanly with rval as its
// exit code.
func (d *Domain) Exit(t *task.Task, rval int) {
	t.Rval = rval
	d.die(t)
	d.metrics.RecordExit()
	d.logger.Upf("exit(%q, rval=%d)", t.Name, rval)
}

// Fail implements upcall_fail / the fail(code) sites of §7: the task
// dies, marked failed, so a failed root task propagates rval = 1.
func (d *Domain) Fail(t *task.Task, err error) {
	t.Failed = true
	d.die(t)
	d.metrics.RecordKill()
	d.logger.Errf("fail(%q): %v", t.Name, err)
}

// Kill implements upcall_kill: another task forces t to die immediately.
func (d *Domain) Kill(t *task.Task) {
	if t.Dead() {
		return
	}
	d.die(t)
	d.metrics.RecordKill()
	d.logger.Taskf("kill %q", t.Name)
}

// die transitions t to dead and resyncs its vector membership. task.Die
// wakes every joiner in t's wait queue as a side effect, which changes
// those joiners' State() without moving them out of the blocked vector;
// resync each of them against a snapshot taken before the wake, since
// the vector itself mutates as tasks are moved out of it.
func (d *Domain) die(t *task.Task) {
	if t.Dead() {
		return
	}
	previouslyBlocked := append([]*task.Task(nil), d.blocked.Slice()...)

	t.Die()
	d.resync(t)
	for _, joiner := range previouslyBlocked {
		d.resync(joiner)
	}
}
