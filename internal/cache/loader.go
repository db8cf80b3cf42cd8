package cache

import (
	"fmt"
	"plugin"
)

// Loader abstracts the platform dynamic-library loader the crate cache
// resolves libraries and C symbols through. The spec treats the loader as
// an external collaborator, specified only by this interface.
type Loader interface {
	// OpenLibrary resolves a library by the name a crate's image recorded
	// for it (e.g. "libm.so.6"), returning an opaque handle.
	OpenLibrary(name string) (any, error)
	// Symbol resolves a C symbol's address within a previously opened
	// library handle.
	Symbol(handle any, name string) (uintptr, error)
}

// PluginLoader implements Loader on top of the standard library's plugin
// package, the only idiomatic non-cgo dlopen/dlsym facility available.
// Go plugins only export Go symbols (not raw C symbols), so Symbol here
// looks up a package-level variable of type uintptr or func() uintptr
// named sym — sufficient to ground the resolution protocol without
// fabricating a cgo dependency no example in the pack carries.
type PluginLoader struct {
	opened map[string]*plugin.Plugin
}

// NewPluginLoader creates a Loader backed by stdlib plugin.
func NewPluginLoader() *PluginLoader {
	return &PluginLoader{opened: make(map[string]*plugin.Plugin)}
}

// OpenLibrary opens (or returns the cached) plugin at path.
func (l *PluginLoader) OpenLibrary(path string) (any, error) {
	if p, ok := l.opened[path]; ok {
		return p, nil
	}
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cache: open library %s: %w", path, err)
	}
	l.opened[path] = p
	return p, nil
}

// Symbol resolves name within the plugin handle produced by OpenLibrary.
func (l *PluginLoader) Symbol(handle any, name string) (uintptr, error) {
	p, ok := handle.(*plugin.Plugin)
	if !ok {
		return 0, fmt.Errorf("cache: symbol lookup on non-plugin handle %T", handle)
	}
	sym, err := p.Lookup(name)
	if err != nil {
		return 0, fmt.Errorf("cache: lookup symbol %s: %w", name, err)
	}
	switch v := sym.(type) {
	case *uintptr:
		return *v, nil
	case func() uintptr:
		return v(), nil
	default:
		return 0, fmt.Errorf("cache: symbol %s has unsupported type %T", name, sym)
	}
}

// NullLoader never resolves anything; useful for tests exercising the
// cache's own memoization without a real dynamic library on disk.
type NullLoader struct{}

func (NullLoader) OpenLibrary(name string) (any, error) {
	return nil, fmt.Errorf("cache: no library named %s", name)
}

func (NullLoader) Symbol(handle any, name string) (uintptr, error) {
	return 0, fmt.Errorf("cache: no symbol named %s", name)
}
