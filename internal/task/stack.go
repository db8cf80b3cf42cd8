package task

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Segment is one link of a task's stack, mmap'd directly rather than
// carved from a process-wide arena so each task's stack can be grown and
// released independently. Go's own goroutine stack backs the actual
// activation frames (see internal/glue); Segment exists so the runtime
// preserves the original ABI's segmented-stack bookkeeping — limit,
// identifier, byte count — for tasks to report through the upcall
// surface, and so stack growth has observable, testable semantics.
type Segment struct {
	data  []byte
	Limit uintptr // high-water mark, mirrors the original's "limit" field
	Next  *Segment
	Prev  *Segment
}

// NewSegment mmaps a new anonymous, private region of n bytes.
func NewSegment(n int) (*Segment, error) {
	data, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("task: mmap stack segment: %w", err)
	}
	s := &Segment{data: data}
	s.Limit = uintptr(len(data))
	return s, nil
}

// Size returns the segment's byte capacity.
func (s *Segment) Size() int { return len(s.data) }

// Release munmaps the segment. Segments must be released in LIFO order,
// tail first, matching the original teardown discipline.
func (s *Segment) Release() error {
	if s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	return err
}

// Grow appends a new segment sized to max(current*2, n+overhead) and
// chains it onto s, returning the new tail.
func Grow(s *Segment, n, overhead int) (*Segment, error) {
	want := s.Size() * 2
	if need := n + overhead; need > want {
		want = need
	}
	next, err := NewSegment(want)
	if err != nil {
		return nil, err
	}
	next.Prev = s
	s.Next = next
	return next, nil
}

// ReleaseChain releases every segment in the chain starting at tail and
// walking Prev links, i.e. LIFO order.
func ReleaseChain(tail *Segment) error {
	for seg := tail; seg != nil; {
		prev := seg.Prev
		if err := seg.Release(); err != nil {
			return err
		}
		seg = prev
	}
	return nil
}
