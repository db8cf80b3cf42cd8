package cache

import "fmt"

// Lib is a resolved dynamic library handle, owned by the cache slot that
// first resolved it.
type Lib struct {
	Handle any
	Name   string
}

// CSym is a resolved C symbol, holding a reference to the library it came
// from.
type CSym struct {
	Addr uintptr
	Lib  *Lib
	Name string
}

// RostSym is a resolved inter-crate symbol: an address inside another
// crate's image, reached by resolving that crate's anchor C symbol and
// then walking a debug-info path.
type RostSym struct {
	Addr  uintptr
	CSym  *CSym
	Crate *Crate
}

// Cache is the per-(domain, crate) memoization table the spec calls the
// crate cache: fixed-size, compiler-index-addressed arrays of libraries,
// C symbols, and inter-crate symbols, plus a structurally-interned type
// descriptor pool. Resolution is guarded only by "already resolved?"
// since a domain never runs two tasks concurrently.
type Cache struct {
	Crate *Crate
	idx   int // this cache's position in the domain's cache vector

	libs     []*Lib
	cSyms    []*CSym
	rostSyms []*RostSym
	types    *typeDescTable

	refcount int
}

// New creates a Cache sized for crate's declared array counts. All slots
// start nil; they are filled in lazily by the Get* methods.
func New(crate *Crate) *Cache {
	return &Cache{
		Crate:    crate,
		libs:     make([]*Lib, crate.NLibs),
		cSyms:    make([]*CSym, crate.NCSyms),
		rostSyms: make([]*RostSym, crate.NRostSyms),
		types:    newTypeDescTable(),
	}
}

// Idx reports this cache's index within its owning domain's cache vector.
func (c *Cache) Idx() int { return c.idx }

// SetIdx is called once by the domain when the cache is added to its
// vector.
func (c *Cache) SetIdx(i int) { c.idx = i }

// Ref bumps the cache's refcount. Domain.GetCache calls this on every
// lookup, matching the original get_cache's unconditional ref().
func (c *Cache) Ref() { c.refcount++ }

// Unref drops the cache's refcount, returning true if it reached zero.
func (c *Cache) Unref() bool {
	c.refcount--
	return c.refcount <= 0
}

// GetLib resolves library idx by name via loader, memoizing the result.
// Once a slot is non-nil it is never rewritten (invariant 6).
func (c *Cache) GetLib(idx int, name string, loader Loader) (*Lib, error) {
	if idx < 0 || idx >= len(c.libs) {
		return nil, fmt.Errorf("cache: lib index %d out of range [0,%d)", idx, len(c.libs))
	}
	if c.libs[idx] != nil {
		return c.libs[idx], nil
	}
	handle, err := loader.OpenLibrary(name)
	if err != nil {
		return nil, err
	}
	lib := &Lib{Handle: handle, Name: name}
	c.libs[idx] = lib
	return lib, nil
}

// GetCSym resolves C symbol idx, owning a reference to the library it
// came from.
func (c *Cache) GetCSym(idx int, libIdx int, libName, symName string, loader Loader) (*CSym, error) {
	if idx < 0 || idx >= len(c.cSyms) {
		return nil, fmt.Errorf("cache: c_sym index %d out of range [0,%d)", idx, len(c.cSyms))
	}
	if c.cSyms[idx] != nil {
		return c.cSyms[idx], nil
	}
	lib, err := c.GetLib(libIdx, libName, loader)
	if err != nil {
		return nil, err
	}
	addr, err := loader.Symbol(lib.Handle, symName)
	if err != nil {
		return nil, err
	}
	sym := &CSym{Addr: addr, Lib: lib, Name: symName}
	c.cSyms[idx] = sym
	return sym, nil
}

// GetRostSym resolves inter-crate symbol idx: it walks path through the
// target crate's debug info to find the symbol's offset and adds it to
// the target's image base (its load address plus ImageBaseOff). The
// anchor C symbol (conventionally named "rost_crate" in the target
// library) is recorded on the result; target is supplied by the caller,
// not read through anchor.
func (c *Cache) GetRostSym(idx int, anchor *CSym, target *Crate, path []string) (*RostSym, error) {
	if idx < 0 || idx >= len(c.rostSyms) {
		return nil, fmt.Errorf("cache: rost_sym index %d out of range [0,%d)", idx, len(c.rostSyms))
	}
	if c.rostSyms[idx] != nil {
		return c.rostSyms[idx], nil
	}
	info := NewDebugInfo(target.DebugInfoBytes)
	offset, err := info.FindDIEByPath(path)
	if err != nil {
		return nil, err
	}
	sym := &RostSym{Addr: target.ActualBase + target.ImageBaseOff + uintptr(offset), CSym: anchor, Crate: target}
	c.rostSyms[idx] = sym
	return sym, nil
}

// GetTypeDesc interns a type descriptor with the given prefix fields and
// child descriptors, returning the canonical pointer for that shape.
func (c *Cache) GetTypeDesc(prefix TypeDesc, descs []*TypeDesc) *TypeDesc {
	return c.types.intern(prefix, descs)
}
