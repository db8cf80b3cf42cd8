// Command rostd boots a single rost domain and runs its root task to
// completion, exiting with the domain's final rval per the runtime's
// external interface.
//
// There is no compiler in this tree, so rostd cannot load a real
// compiler-emitted crate image off disk; -demo selects one of a small set
// of root task bodies that exercise the upcall surface directly, standing
// in for what compiled code would otherwise drive.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	rost "github.com/rost-lang/rost"
	"github.com/rost-lang/rost/internal/logging"
	"github.com/rost-lang/rost/internal/task"
)

func main() {
	var (
		logMask  = flag.String("log", "", "override ROST_LOG: comma-substring of err,mem,comm,task,up,dom,ulog,trace,dwarf,cache,timer,all")
		color    = flag.Bool("color", false, "enable ANSI-colored log output (overrides ROST_COLOR_LOG)")
		demo     = flag.String("demo", "pingpong", "demo root task to run: pingpong, fanout, fail")
		seedFlag = flag.Uint64("seed", 0, "pin the domain's PRNG for reproducible scheduling (0 = seed from OS entropy)")
	)
	flag.Parse()

	logCfg := logging.DefaultConfig()
	if *logMask != "" {
		logCfg.Mask = logging.ParseMask(*logMask)
	}
	if *color {
		logCfg.Color = true
	}
	logger := logging.NewLogger(logCfg)
	logging.SetDefault(logger)

	cfg := rost.DefaultDomainConfig("rostd")
	cfg.Logger = logger
	if *seedFlag != 0 {
		var seed [256]uint32
		s := *seedFlag
		for i := range seed {
			s = s*6364136223846793005 + 1442695040888963407
			seed[i] = uint32(s >> 32)
		}
		cfg.Seed = &seed
	}

	d, err := rost.NewDomain(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rostd: failed to create domain: %v\n", err)
		os.Exit(1)
	}

	body, ok := demos[*demo]
	if !ok {
		fmt.Fprintf(os.Stderr, "rostd: unknown demo %q (want one of: pingpong, fanout, fail)\n", *demo)
		os.Exit(1)
	}
	d.SpawnRoot(body)

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "=== rostd goroutine dump ===\n%s\n", buf[:n])
			pprof.Lookup("goroutine").WriteTo(os.Stderr, 2)
		}
	}()

	done := make(chan int, 1)
	go func() { done <- d.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case rval := <-done:
		os.Exit(rval)
	case <-sigCh:
		// The runtime has no external cancellation upcall: a domain's tasks
		// run cooperatively to completion or to their own fail/exit. There
		// is nothing safe to interrupt mid-activation, so an external
		// signal just stops the process; in-flight state is discarded.
		fmt.Fprintln(os.Stderr, "rostd: interrupted, exiting without waiting for the domain to drain")
		os.Exit(130)
	case <-time.After(30 * time.Second):
		fmt.Fprintln(os.Stderr, "rostd: demo did not finish within 30s, exiting")
		os.Exit(1)
	}
}

var demos = map[string]func(*rost.Upcalls) int{
	"pingpong": pingpongDemo,
	"fanout":   fanoutDemo,
	"fail":     failDemo,
}

// pingpongDemo spawns a producer and a consumer sharing one port, sends a
// handful of messages between them, and joins the producer before exiting.
func pingpongDemo(u *rost.Upcalls) int {
	port := u.NewPort(4)

	producer := u.NewTask("producer", func(pu *rost.Upcalls) int {
		ch := pu.NewChan(port)
		for i := 0; i < 5; i++ {
			buf := pu.NewStr(fmt.Sprintf("%04d", i))
			stillBlocked, err := pu.Send(ch, buf)
			if err != nil {
				pu.Fail("send failed: %v", err)
				return 1
			}
			if stillBlocked {
				// Blocked on our token; the consumer's recv will complete
				// the rendezvous and wake us.
				pu.Yield()
			}
		}
		pu.DelChan(ch)
		return 0
	})
	u.StartTask(producer)

	consumer := u.NewTask("consumer", func(cu *rost.Upcalls) int {
		for i := 0; i < 5; i++ {
			dst := make([]byte, 4)
			if cu.Recv(port, dst) {
				// No writer was ready; a later send will fill dst and wake us.
				cu.Yield()
			}
			cu.Log(string(dst))
		}
		return 0
	})
	u.StartTask(consumer)

	u.Join(producer)
	u.Yield()
	u.Join(consumer)
	u.Yield()

	u.DelPort(port)
	return 0
}

// fanoutDemo spawns several workers that each exit with their own index as
// rval, and joins every one of them before exiting itself.
func fanoutDemo(u *rost.Upcalls) int {
	const n = 4
	children := make([]*task.Task, 0, n)
	for i := 0; i < n; i++ {
		idx := i
		child := u.NewTask(fmt.Sprintf("worker-%d", idx), func(wu *rost.Upcalls) int {
			wu.Log(fmt.Sprintf("worker %d running", idx))
			return idx
		})
		u.StartTask(child)
		children = append(children, child)
	}

	for _, child := range children {
		u.Join(child)
		u.Yield()
	}
	return 0
}

// failDemo deliberately fails a user assertion to exercise the rval=1 exit
// path.
func failDemo(u *rost.Upcalls) int {
	u.Fail("deliberate failure for the fail demo")
	return 0
}
