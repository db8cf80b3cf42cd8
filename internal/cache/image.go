// Package cache implements the per-domain crate cache: lazy, memoized
// resolution of dynamic libraries, C symbols, inter-crate symbols, and
// structurally-interned type descriptors.
package cache

import (
	"fmt"
	"plugin"
)

// MemArea is a {base, limit} window into a crate's immutable image,
// used for the two debug sections the cache's symbol walker reads.
type MemArea struct {
	Base uintptr
	Lim  uintptr
}

// Size returns the window's byte length.
func (m MemArea) Size() uintptr { return m.Lim - m.Base }

// Crate is the runtime's read-only view of a compiler-emitted image: a
// base address plus offsets to the four glue entry points and the two
// debug sections, along with the array counts the cache sizes itself by.
type Crate struct {
	// ActualBase is where the crate image was actually loaded.
	ActualBase uintptr
	// SelfAddr is the address the compiler assumed the image would load
	// at; RelocationDiff rebases any image-stored pointer.
	SelfAddr uintptr

	ImageBaseOff uintptr

	ActivateGlueOff uintptr
	ExitTaskGlueOff uintptr
	UnwindGlueOff   uintptr
	YieldGlueOff    uintptr

	DebugInfoOff   uintptr
	DebugInfoSize  uintptr
	DebugAbbrevOff uintptr
	DebugAbbrevSize uintptr

	NRostSyms int
	NCSyms    int
	NLibs     int

	// Name identifies the crate for logging and cache identity; crates
	// are otherwise compared by pointer.
	Name string

	// DebugInfoBytes holds the crate's .debug_info section contents in
	// memory. A real loader would read DebugInfo()'s {base,lim} window
	// directly out of the mapped image; since no compiler exists in this
	// core, crates carry their debug bytes alongside the offsets so
	// inter-crate symbol resolution has something to walk.
	DebugInfoBytes []byte
}

// RelocationDiff is the delta between where the image actually loaded and
// where the compiler assumed it would, applied to any image-stored
// pointer before use.
func (c *Crate) RelocationDiff() uintptr {
	return c.ActualBase - c.SelfAddr
}

// base returns the address the crate object was actually loaded at; the
// glue and debug-section offsets are all relative to it.
func (c *Crate) base() uintptr {
	return c.ActualBase
}

// ActivateGlue returns the absolute address of the crate's activate glue.
func (c *Crate) ActivateGlue() uintptr { return c.base() + c.ActivateGlueOff }

// ExitTaskGlue returns the absolute address of the crate's exit-task glue.
func (c *Crate) ExitTaskGlue() uintptr { return c.base() + c.ExitTaskGlueOff }

// UnwindGlue returns the absolute address of the crate's unwind glue.
func (c *Crate) UnwindGlue() uintptr { return c.base() + c.UnwindGlueOff }

// YieldGlue returns the absolute address of the crate's yield glue.
func (c *Crate) YieldGlue() uintptr { return c.base() + c.YieldGlueOff }

// DebugInfo returns the crate's .debug_info window, rebased.
func (c *Crate) DebugInfo() MemArea {
	base := c.base() + c.DebugInfoOff
	return MemArea{Base: base, Lim: base + c.DebugInfoSize}
}

// DebugAbbrev returns the crate's .debug_abbrev window, rebased.
func (c *Crate) DebugAbbrev() MemArea {
	base := c.base() + c.DebugAbbrevOff
	return MemArea{Base: base, Lim: base + c.DebugAbbrevSize}
}

// LoadCrateFromPlugin opens a Go plugin at path and looks up a symbol
// named "RostCrate" of type *Crate. This stands in for the original
// runtime's dynamic-loader-plus-"rost_crate"-C-symbol convention: since
// the host platform's only idiomatic non-cgo dlopen/dlsym facility is the
// standard library's plugin package, the crate reader is built directly
// on it rather than on a third-party loader.
func LoadCrateFromPlugin(path string) (*Crate, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cache: open crate plugin %s: %w", path, err)
	}
	sym, err := p.Lookup("RostCrate")
	if err != nil {
		return nil, fmt.Errorf("cache: lookup RostCrate in %s: %w", path, err)
	}
	crate, ok := sym.(*Crate)
	if !ok {
		return nil, fmt.Errorf("cache: %s RostCrate symbol has wrong type %T", path, sym)
	}
	return crate, nil
}
