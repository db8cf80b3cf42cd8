// Package comm implements the communication core: ports, channels, the
// per-channel ring buffer, send/receive rendezvous, and the writer-token
// mechanism that makes receive fair.
package comm

import (
	"fmt"

	"github.com/rost-lang/rost/internal/constants"
)

// CircBuf is a fixed-unit-size ring buffer with geometric growth, capped
// at constants.MaxCircBufSize bytes. Each unit is UnitSize bytes; push and
// shift always move exactly one unit.
type CircBuf struct {
	unitSize int
	data     []byte // capacity in units is len(data)/unitSize
	next     int    // head index, in units
	unread   int    // count of occupied units
}

// NewCircBuf creates a buffer sized for constants.InitCircBufUnits units
// of unitSize bytes each.
func NewCircBuf(unitSize int) *CircBuf {
	return &CircBuf{
		unitSize: unitSize,
		data:     make([]byte, constants.InitCircBufUnits*unitSize),
	}
}

// capacityUnits returns the buffer's current capacity in units.
func (c *CircBuf) capacityUnits() int {
	if c.unitSize == 0 {
		return 0
	}
	return len(c.data) / c.unitSize
}

// Unread reports how many units are currently buffered.
func (c *CircBuf) Unread() int { return c.unread }

// CapacityUnits exposes the current unit capacity, used by invariant
// checks in tests.
func (c *CircBuf) CapacityUnits() int { return c.capacityUnits() }

// grow doubles the buffer's unit capacity, failing if that would exceed
// the hard cap.
func (c *CircBuf) grow() error {
	newCapUnits := c.capacityUnits() * 2
	if newCapUnits == 0 {
		newCapUnits = constants.InitCircBufUnits
	}
	newSize := newCapUnits * c.unitSize
	if newSize > constants.MaxCircBufSize {
		return fmt.Errorf("comm: circular buffer would exceed max size %d bytes", constants.MaxCircBufSize)
	}
	next := make([]byte, newSize)
	// Copy existing units out in FIFO order starting at 0 in the new
	// buffer, since next/unread are about to be renormalized.
	for i := 0; i < c.unread; i++ {
		srcUnit := (c.next + i) % c.capacityUnits()
		copy(next[i*c.unitSize:(i+1)*c.unitSize], c.data[srcUnit*c.unitSize:(srcUnit+1)*c.unitSize])
	}
	c.data = next
	c.next = 0
	return nil
}

// Push copies one unit from src into the buffer, growing first if full.
func (c *CircBuf) Push(src []byte) error {
	if len(src) != c.unitSize {
		return fmt.Errorf("comm: push unit size %d != buffer unit size %d", len(src), c.unitSize)
	}
	if c.unread == c.capacityUnits() {
		if err := c.grow(); err != nil {
			return err
		}
	}
	slot := (c.next + c.unread) % c.capacityUnits()
	copy(c.data[slot*c.unitSize:(slot+1)*c.unitSize], src)
	c.unread++
	return nil
}

// Shift copies the oldest unit into dst and advances the head. Requires
// Unread() > 0.
func (c *CircBuf) Shift(dst []byte) error {
	if c.unread == 0 {
		return fmt.Errorf("comm: shift on empty circular buffer")
	}
	if len(dst) != c.unitSize {
		return fmt.Errorf("comm: shift unit size %d != buffer unit size %d", len(dst), c.unitSize)
	}
	copy(dst, c.data[c.next*c.unitSize:(c.next+1)*c.unitSize])
	c.next = (c.next + 1) % c.capacityUnits()
	c.unread--
	return nil
}

// Transfer drains every remaining unit into dst (which must be sized for
// Unread() units) in FIFO order.
func (c *CircBuf) Transfer(dst []byte) error {
	n := c.unread
	if len(dst) != n*c.unitSize {
		return fmt.Errorf("comm: transfer dst sized for %d bytes, need %d", len(dst), n*c.unitSize)
	}
	for i := 0; i < n; i++ {
		if err := c.Shift(dst[i*c.unitSize : (i+1)*c.unitSize]); err != nil {
			return err
		}
	}
	return nil
}
