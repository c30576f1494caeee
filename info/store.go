package info

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/bcopt/classfile"
)

var log = commonlog.GetLogger("bcopt.info")

// ContractError reports a Store call on an element that cannot carry
// metadata: a nil element or one that was never added to a class pool.
type ContractError struct {
	Op      string
	Element string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("info: %s on %s", e.Op, e.Element)
}

// Store holds one optional metadata object per element. It is safe for
// concurrent use on different elements; writes to the same element must be
// ordered by the caller.
type Store struct {
	mu    sync.RWMutex
	infos map[classfile.ElementID]Info
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{infos: make(map[classfile.ElementID]Info)}
}

func idOf(op string, e classfile.Element) classfile.ElementID {
	if isNil(e) {
		panic(&ContractError{Op: op, Element: "nil element"})
	}
	id := e.ID()
	if id == 0 {
		panic(&ContractError{Op: op, Element: e.String() + " (not in a class pool)"})
	}
	return id
}

func isNil(e classfile.Element) bool {
	switch e := e.(type) {
	case nil:
		return true
	case *classfile.Class:
		return e == nil
	case *classfile.Field:
		return e == nil
	case *classfile.Method:
		return e == nil
	case *classfile.CodeAttribute:
		return e == nil
	}
	return false
}

// isNilInfo reports whether i is nil or a nil pointer of one of the
// metadata kinds.
func isNilInfo(i Info) bool {
	switch i := i.(type) {
	case nil:
		return true
	case *ClassInfo:
		return i == nil
	case *FieldInfo:
		return i == nil
	case *MethodInfo:
		return i == nil
	case *CodeInfo:
		return i == nil
	case *ProgramClassInfo:
		return i == nil
	case *ProgramFieldInfo:
		return i == nil
	case *ProgramMethodInfo:
		return i == nil
	case *ProgramCodeInfo:
		return i == nil
	}
	return false
}

// Get returns the metadata of e. ok is false when none is stored.
func (s *Store) Get(e classfile.Element) (Info, bool) {
	id := idOf("Get", e)
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.infos[id]
	if !ok || isNilInfo(i) {
		return nil, false
	}
	return i, true
}

// Set replaces the metadata of e. A nil info, typed or not, clears it.
func (s *Store) Set(e classfile.Element, i Info) {
	id := idOf("Set", e)
	s.mu.Lock()
	defer s.mu.Unlock()
	if isNilInfo(i) {
		delete(s.infos, id)
		return
	}
	s.infos[id] = i
}

// IsKept reports whether e has metadata that marks it kept.
func (s *Store) IsKept(e classfile.Element) bool {
	i, ok := s.Get(e)
	return ok && i.Kept()
}

// IsEditable reports whether e has program metadata.
func (s *Store) IsEditable(e classfile.Element) bool {
	i, ok := s.Get(e)
	return ok && i.Editable()
}

// Len returns the number of elements with metadata.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.infos)
}

// ---------------------------------------------------------------------------
// Typed access
// ---------------------------------------------------------------------------

// ClassInfoOf returns the class facts of c, generic or program, or nil.
func (s *Store) ClassInfoOf(c *classfile.Class) *ClassInfo {
	i, _ := s.Get(c)
	switch i := i.(type) {
	case *ClassInfo:
		return i
	case *ProgramClassInfo:
		return &i.ClassInfo
	}
	return nil
}

// ProgramClassInfoOf returns the editable metadata of c, or nil.
func (s *Store) ProgramClassInfoOf(c *classfile.Class) *ProgramClassInfo {
	i, _ := s.Get(c)
	p, _ := i.(*ProgramClassInfo)
	return p
}

// FieldInfoOf returns the field facts of f, generic or program, or nil.
func (s *Store) FieldInfoOf(f *classfile.Field) *FieldInfo {
	i, _ := s.Get(f)
	switch i := i.(type) {
	case *FieldInfo:
		return i
	case *ProgramFieldInfo:
		return &i.FieldInfo
	}
	return nil
}

// ProgramFieldInfoOf returns the editable metadata of f, or nil.
func (s *Store) ProgramFieldInfoOf(f *classfile.Field) *ProgramFieldInfo {
	i, _ := s.Get(f)
	p, _ := i.(*ProgramFieldInfo)
	return p
}

// MethodInfoOf returns the method facts of m, generic or program, or nil.
func (s *Store) MethodInfoOf(m *classfile.Method) *MethodInfo {
	i, _ := s.Get(m)
	switch i := i.(type) {
	case *MethodInfo:
		return i
	case *ProgramMethodInfo:
		return &i.MethodInfo
	}
	return nil
}

// ProgramMethodInfoOf returns the editable metadata of m, or nil.
func (s *Store) ProgramMethodInfoOf(m *classfile.Method) *ProgramMethodInfo {
	i, _ := s.Get(m)
	p, _ := i.(*ProgramMethodInfo)
	return p
}

// CodeInfoOf returns the code facts of code, generic or program, or nil.
func (s *Store) CodeInfoOf(code *classfile.CodeAttribute) *CodeInfo {
	i, _ := s.Get(code)
	switch i := i.(type) {
	case *CodeInfo:
		return i
	case *ProgramCodeInfo:
		return &i.CodeInfo
	}
	return nil
}

// ProgramCodeInfoOf returns the editable metadata of code, or nil.
func (s *Store) ProgramCodeInfoOf(code *classfile.CodeAttribute) *ProgramCodeInfo {
	i, _ := s.Get(code)
	p, _ := i.(*ProgramCodeInfo)
	return p
}

// RefreshCode stores a fresh code info for code after a rewrite, keeping
// the kind and kept flag of the previous one. Code without metadata stays
// without.
func (s *Store) RefreshCode(code *classfile.CodeAttribute) {
	i, ok := s.Get(code)
	if !ok {
		return
	}
	if i.Editable() {
		s.Set(code, &ProgramCodeInfo{CodeInfo{Keep: i.Kept()}})
	} else {
		s.Set(code, &CodeInfo{Keep: i.Kept()})
	}
	log.Debugf("refreshed code info %d", code.ID())
}

// ---------------------------------------------------------------------------
// Snapshot
// ---------------------------------------------------------------------------

// Fact is the exported view of one element's metadata.
type Fact struct {
	Element  string `cbor:"element"`
	Kind     string `cbor:"kind"`
	Kept     bool   `cbor:"kept"`
	Editable bool   `cbor:"editable"`
}

// Snapshot returns the metadata of every element of p that has any, in
// element ID order. Code bodies are named after their method.
func (s *Store) Snapshot(p *classfile.ClassPool) []Fact {
	names := make(map[classfile.ElementID]string)
	for _, c := range p.Classes() {
		names[c.ID()] = c.String()
		for _, f := range c.Fields {
			names[f.ID()] = f.String()
		}
		for _, m := range c.Methods {
			names[m.ID()] = m.String()
			if code := m.Code(); code != nil {
				names[code.ID()] = m.String() + "/Code"
			}
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Fact
	for _, id := range slices.Sorted(maps.Keys(s.infos)) {
		name, ok := names[id]
		if !ok {
			continue
		}
		i := s.infos[id]
		out = append(out, Fact{Element: name, Kind: kindName(i), Kept: i.Kept(), Editable: i.Editable()})
	}
	return out
}
