//go:build giouring
// +build giouring

// This file wires an io_uring-backed tick source as an alternative to the
// ticker default: each tick is routed through a ring completion before it
// is delivered. The schedule itself still comes from a time.Ticker on a
// goroutine. Built only with -tags giouring, mirroring how
// the rest of this tree gates its io_uring path, since iouring.New
// requires a real io_uring-capable kernel that is not assumed present by
// default.
package timer

import (
	"fmt"
	"time"

	"github.com/iceber/iouring-go"
	iouring_syscall "github.com/iceber/iouring-go/syscall"
)

// RingTimer ticks by submitting one plain NOP SQE on each time.Ticker
// tick and forwarding the tick once that NOP completes, so the preemption
// clock rides the same completion queue as any I/O the host later adds to
// this ring. No kernel-side timeout is attached.
type RingTimer struct {
	ring  *iouring.IOURing
	slice time.Duration
	stop  chan struct{}
}

// NewRingTimer opens a small dedicated ring for tick submission.
func NewRingTimer(slice time.Duration) (*RingTimer, error) {
	ring, err := iouring.New(8)
	if err != nil {
		return nil, fmt.Errorf("timer: open ring: %v", err)
	}
	return &RingTimer{ring: ring, slice: slice, stop: make(chan struct{})}, nil
}

// Start implements Timer by submitting one NOP per slice and forwarding
// its completion as a tick; ticks stop once Stop is called.
func (r *RingTimer) Start() <-chan time.Time {
	out := make(chan time.Time)
	go func() {
		ticker := time.NewTicker(r.slice)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				close(out)
				return
			case now := <-ticker.C:
				ch := make(chan iouring.Result)
				prep := func(sqe iouring_syscall.SubmissionQueueEntry, _ *iouring.UserData) {
					sqe.PrepOperation(iouring_syscall.IORING_OP_NOP, -1, 0, 0, 0)
				}
				if _, err := r.ring.SubmitRequest(prep, ch); err != nil {
					continue
				}
				<-ch
				select {
				case out <- now:
				case <-r.stop:
					close(out)
					return
				}
			}
		}
	}()
	return out
}

// Stop implements Timer.
func (r *RingTimer) Stop() {
	close(r.stop)
	if r.ring != nil {
		r.ring.Close()
	}
}

var _ Timer = (*RingTimer)(nil)
