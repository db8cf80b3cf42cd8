package rost

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/rost-lang/rost/internal/logging"
)

// Service is the host facade the runtime allocates and aborts through:
// malloc/realloc/free, a fatal-assertion primitive, and clone for
// spinning up a new domain's own service instance. Go's allocator and
// garbage collector stand in for the host malloc/free pair; Service
// exists so every runtime-internal allocation is logged and counted the
// same way regardless of what actually backs memory.
type Service interface {
	Malloc(size int) []byte
	Realloc(buf []byte, size int) []byte
	Free(buf []byte)
	Log(msg string)
	Fatal(expr, file string, line int)
	Clone() Service
}

// DefaultService is the Service every domain uses unless a caller
// supplies its own (e.g. tests wanting to assert on fatal calls instead
// of exiting). It delegates logging to a logging.Logger and counts
// outstanding allocations so domain teardown can assert the count
// returns to zero.
type DefaultService struct {
	logger   *logging.Logger
	outstanding int64
}

// NewDefaultService creates a DefaultService logging through logger. A
// nil logger falls back to logging.Default().
func NewDefaultService(logger *logging.Logger) *DefaultService {
	if logger == nil {
		logger = logging.Default()
	}
	return &DefaultService{logger: logger}
}

// Malloc allocates a zeroed buffer of size bytes and logs the request at
// MEM level, matching "every allocation is logged at MEM level".
func (s *DefaultService) Malloc(size int) []byte {
	atomic.AddInt64(&s.outstanding, 1)
	s.logger.Memf("malloc(%d)", size)
	return make([]byte, size)
}

// Realloc grows or shrinks buf to size, copying existing contents, and
// logs the request.
func (s *DefaultService) Realloc(buf []byte, size int) []byte {
	s.logger.Memf("realloc(%p, %d)", buf, size)
	next := make([]byte, size)
	copy(next, buf)
	return next
}

// Free releases buf; Go's GC reclaims the memory once unreferenced, but
// the accounting counter still decrements so leak checks on domain
// teardown remain meaningful.
func (s *DefaultService) Free(buf []byte) {
	if buf == nil {
		return
	}
	atomic.AddInt64(&s.outstanding, -1)
	s.logger.Memf("free(%p)", buf)
}

// Outstanding reports the number of Malloc calls not yet matched by
// Free, for leak checks on domain teardown.
func (s *DefaultService) Outstanding() int64 {
	return atomic.LoadInt64(&s.outstanding)
}

// Log writes a user log_str/log_int upcall's message.
func (s *DefaultService) Log(msg string) {
	s.logger.ULogf("%s", msg)
}

// Fatal reports a failed runtime invariant and aborts the process, per
// the spec's "Fatal asserts ... abort the process through the service's
// fatal" — these are never task failures, they are bugs in the runtime
// itself.
func (s *DefaultService) Fatal(expr, file string, line int) {
	s.logger.Errf("fatal assertion failed: %s at %s:%d", expr, file, line)
	fmt.Fprintf(os.Stderr, "rost: fatal: %s at %s:%d\n", expr, file, line)
	os.Exit(2)
}

// Clone creates a new DefaultService for a domain spawned by new_thread,
// sharing the same logger; its own allocation counter starts at zero.
func (s *DefaultService) Clone() Service {
	return NewDefaultService(s.logger)
}

var _ Service = (*DefaultService)(nil)
