//go:build !giouring
// +build !giouring

package timer

import (
	"fmt"
	"time"
)

// NewRingTimer is available when built with -tags giouring.
func NewRingTimer(slice time.Duration) (*RingTimer, error) {
	return nil, fmt.Errorf("timer: giouring not enabled; build with -tags giouring")
}

// RingTimer is declared here too so its name resolves without the
// giouring build tag; it is never constructed in that configuration.
type RingTimer struct{}

// Start implements Timer; unreachable without giouring.
func (r *RingTimer) Start() <-chan time.Time { return nil }

// Stop implements Timer; unreachable without giouring.
func (r *RingTimer) Stop() {}
