// Package logging implements the category-gated tracing the runtime uses
// in place of a generic log level. A message belongs to exactly one
// category (err, mem, comm, task, up, dom, ulog, trace, dwarf, cache,
// timer) and is only written if that category is enabled by ROST_LOG.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fatih/color"
)

// Category is one bit of the ROST_LOG mask.
type Category uint32

const (
	CategoryErr Category = 1 << iota
	CategoryMem
	CategoryComm
	CategoryTask
	CategoryUp
	CategoryDom
	CategoryULog
	CategoryTrace
	CategoryDwarf
	CategoryCache
	CategoryTimer

	categoryAll = CategoryErr | CategoryMem | CategoryComm | CategoryTask |
		CategoryUp | CategoryDom | CategoryULog | CategoryTrace |
		CategoryDwarf | CategoryCache | CategoryTimer
)

// defaultMask is used when ROST_LOG is unset: user log calls and errors
// are visible, the internal trace categories are not.
const defaultMask = CategoryULog | CategoryErr

var categoryNames = map[string]Category{
	"err":   CategoryErr,
	"mem":   CategoryMem,
	"comm":  CategoryComm,
	"task":  CategoryTask,
	"up":    CategoryUp,
	"dom":   CategoryDom,
	"ulog":  CategoryULog,
	"trace": CategoryTrace,
	"dwarf": CategoryDwarf,
	"cache": CategoryCache,
	"timer": CategoryTimer,
	"all":   categoryAll,
}

var categoryColor = map[Category]*color.Color{
	CategoryErr:   color.New(color.FgRed, color.Bold),
	CategoryMem:   color.New(color.FgYellow),
	CategoryComm:  color.New(color.FgCyan),
	CategoryTask:  color.New(color.FgGreen),
	CategoryUp:    color.New(color.FgMagenta),
	CategoryDom:   color.New(color.FgBlue),
	CategoryULog:  color.New(color.FgWhite),
	CategoryTrace: color.New(color.FgHiBlack),
	CategoryDwarf: color.New(color.FgHiYellow),
	CategoryCache: color.New(color.FgHiCyan),
	CategoryTimer: color.New(color.FgHiBlue),
}

// ParseMask parses a ROST_LOG-style string: a substring match against
// category names, any of which enables that category. An empty string
// yields the default mask.
func ParseMask(s string) Category {
	if s == "" {
		return defaultMask
	}
	var mask Category
	for name, cat := range categoryNames {
		if strings.Contains(s, name) {
			mask |= cat
		}
	}
	if mask == 0 {
		return defaultMask
	}
	return mask
}

// MaskFromEnv reads ROST_LOG from the environment.
func MaskFromEnv() Category {
	return ParseMask(os.Getenv("ROST_LOG"))
}

// ColorFromEnv reports whether ROST_COLOR_LOG requests ANSI coloring: any
// value, as long as the variable is set, enables it.
func ColorFromEnv() bool {
	_, ok := os.LookupEnv("ROST_COLOR_LOG")
	return ok
}

// Logger writes category-gated, optionally indented trace lines for one
// domain. Each domain owns its own Logger rather than sharing a process
// singleton, since domains run independent schedules and must be free to
// mix ROST_LOG settings in tests.
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	mask   Category
	color  bool
	indent int32
	tag    string
}

// Config configures a Logger.
type Config struct {
	Output io.Writer
	Mask   Category
	Color  bool
	// Tag identifies the owning domain in each line, e.g. its address.
	Tag string
}

// DefaultConfig builds a Config from the process environment.
func DefaultConfig() *Config {
	return &Config{
		Output: os.Stderr,
		Mask:   MaskFromEnv(),
		Color:  ColorFromEnv(),
	}
}

// NewLogger creates a Logger from the given Config, falling back to
// DefaultConfig for any zero fields.
func NewLogger(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	return &Logger{
		out:   out,
		mask:  cfg.Mask,
		color: cfg.Color,
		tag:   cfg.Tag,
	}
}

var (
	defaultLogger atomic.Pointer[Logger]
)

// Default returns the process-wide fallback logger, used by code that has
// no domain context of its own (e.g. early CLI bootstrap).
func Default() *Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	l := NewLogger(nil)
	defaultLogger.CompareAndSwap(nil, l)
	return defaultLogger.Load()
}

// SetDefault replaces the process-wide fallback logger.
func SetDefault(l *Logger) {
	defaultLogger.Store(l)
}

// Enabled reports whether cat is enabled on this logger.
func (l *Logger) Enabled(cat Category) bool {
	return l.mask&cat != 0
}

// Indent increases the nesting depth used to prefix trace lines, mirroring
// the original runtime's indent/outdent pair around nested calls.
func (l *Logger) Indent() { atomic.AddInt32(&l.indent, 1) }

// Outdent decreases the nesting depth.
func (l *Logger) Outdent() {
	if atomic.AddInt32(&l.indent, -1) < 0 {
		atomic.StoreInt32(&l.indent, 0)
	}
}

// ResetIndent zeroes the nesting depth.
func (l *Logger) ResetIndent() { atomic.StoreInt32(&l.indent, 0) }

func (l *Logger) line(cat Category, msg string) {
	if !l.Enabled(cat) {
		return
	}
	depth := int(atomic.LoadInt32(&l.indent))
	l.mu.Lock()
	defer l.mu.Unlock()
	prefix := strings.Repeat("  ", depth)
	if l.tag != "" {
		prefix = l.tag + " " + prefix
	}
	text := prefix + msg
	if l.color {
		if c, ok := categoryColor[cat]; ok {
			text = c.Sprint(text)
		}
	}
	fmt.Fprintln(l.out, text)
}

// Logf writes a formatted line under the given category.
func (l *Logger) Logf(cat Category, format string, args ...any) {
	if !l.Enabled(cat) {
		return
	}
	l.line(cat, fmt.Sprintf(format, args...))
}

// Errf logs under CategoryErr. Error lines are also gated by the mask
// like any other category, but default on.
func (l *Logger) Errf(format string, args ...any) { l.Logf(CategoryErr, format, args...) }

// Memf logs a memory-allocation trace line.
func (l *Logger) Memf(format string, args ...any) { l.Logf(CategoryMem, format, args...) }

// Commf logs a port/channel/rendezvous trace line.
func (l *Logger) Commf(format string, args ...any) { l.Logf(CategoryComm, format, args...) }

// Taskf logs a task state-transition trace line.
func (l *Logger) Taskf(format string, args ...any) { l.Logf(CategoryTask, format, args...) }

// Upf logs an upcall trace line.
func (l *Logger) Upf(format string, args ...any) { l.Logf(CategoryUp, format, args...) }

// Domf logs a domain lifecycle trace line.
func (l *Logger) Domf(format string, args ...any) { l.Logf(CategoryDom, format, args...) }

// ULogf logs a user log_str/log_int upcall, enabled by default.
func (l *Logger) ULogf(format string, args ...any) { l.Logf(CategoryULog, format, args...) }

// Cachef logs a crate-cache resolution trace line.
func (l *Logger) Cachef(format string, args ...any) { l.Logf(CategoryCache, format, args...) }

// Timerf logs a preemption timer trace line.
func (l *Logger) Timerf(format string, args ...any) { l.Logf(CategoryTimer, format, args...) }
