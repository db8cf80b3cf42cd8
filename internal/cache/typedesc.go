package cache

import "fmt"

// TypeDesc is the compiler-known prefix plus the runtime's structural
// interning suffix: the same (size, align, child identities) tuple
// always resolves to the same *TypeDesc within one crate cache.
type TypeDesc struct {
	FirstParam   uintptr
	Size         uintptr
	Align        uintptr
	CopyGlueOff  uintptr
	DropGlueOff  uintptr
	FreeGlueOff  uintptr
	MarkGlueOff  uintptr
	ObjDropGlueOff uintptr

	Descs []*TypeDesc
}

// structKey is the interning key: identity of children matters, not deep
// equality, matching the spec's "tuple of child-descriptor identities".
type structKey struct {
	size, align uintptr
	children    string
}

func keyOf(size, align uintptr, descs []*TypeDesc) structKey {
	children := make([]byte, 0, len(descs)*8)
	for _, d := range descs {
		children = append(children, []byte(fmt.Sprintf("%p;", d))...)
	}
	return structKey{size: size, align: align, children: string(children)}
}

// typeDescTable interns TypeDesc values by structural key.
type typeDescTable struct {
	byKey map[structKey]*TypeDesc
}

func newTypeDescTable() *typeDescTable {
	return &typeDescTable{byKey: make(map[structKey]*TypeDesc)}
}

// intern returns the canonical *TypeDesc for the given shape, creating
// and storing one on first sight and returning the same pointer on every
// subsequent call with an identical (size, align, child identity) tuple.
func (t *typeDescTable) intern(prefix TypeDesc, descs []*TypeDesc) *TypeDesc {
	key := keyOf(prefix.Size, prefix.Align, descs)
	if existing, ok := t.byKey[key]; ok {
		return existing
	}
	td := prefix
	td.Descs = descs
	t.byKey[key] = &td
	return &td
}
