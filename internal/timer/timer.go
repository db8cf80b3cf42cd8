// Package timer provides the domain's preemption clock: a periodic tick
// that the scheduler samples once per iteration to decide whether the
// running task has exhausted its time slice.
package timer

import (
	"time"

	"github.com/rost-lang/rost/internal/constants"
)

// Timer is a source of preemption ticks. Start begins ticking at the
// configured slice and returns a channel that receives a value once per
// slice; Stop releases the underlying resource. A Timer may be started
// at most once.
type Timer interface {
	Start() <-chan time.Time
	Stop()
}

// TickerTimer is the default Timer, backed by the standard library's
// time.Ticker. It is accurate enough for cooperative time-slicing and
// needs no host support beyond what every Go program already has.
type TickerTimer struct {
	slice  time.Duration
	ticker *time.Ticker
}

// NewTickerTimer creates a Timer with the given slice duration. A
// non-positive slice falls back to constants.TimeSliceMS.
func NewTickerTimer(slice time.Duration) *TickerTimer {
	if slice <= 0 {
		slice = constants.TimeSliceMS
	}
	return &TickerTimer{slice: slice}
}

// Start implements Timer.
func (t *TickerTimer) Start() <-chan time.Time {
	t.ticker = time.NewTicker(t.slice)
	return t.ticker.C
}

// Stop implements Timer.
func (t *TickerTimer) Stop() {
	if t.ticker != nil {
		t.ticker.Stop()
	}
}

var _ Timer = (*TickerTimer)(nil)
