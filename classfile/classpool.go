package classfile

import (
	"fmt"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/bcopt/classfile/instruction"
)

var log = commonlog.GetLogger("bcopt.classfile")

// ObjectClass is the root of every class hierarchy.
const ObjectClass = "java/lang/Object"

// ClassPool is the arena of all classes under optimization. It assigns the
// element IDs that key optimization metadata.
type ClassPool struct {
	mu       sync.RWMutex
	classes  []*Class
	byName   map[string]*Class
	elements []Element // indexed by ElementID; slot 0 unused
}

// NewClassPool creates an empty pool.
func NewClassPool() *ClassPool {
	return &ClassPool{
		byName:   make(map[string]*Class),
		elements: []Element{nil},
	}
}

// Add registers a class and assigns IDs to it, its members and their code
// bodies. Every code body must decode; a class with malformed code is
// rejected.
func (p *ClassPool) Add(c *Class) error {
	for _, m := range c.Methods {
		if code := m.Code(); code != nil {
			if _, err := instruction.DecodeAll(code.Code); err != nil {
				return fmt.Errorf("class %s: method %s%s: %w", c.Name, m.Name(), m.Descriptor(), err)
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.byName[c.Name]; exists {
		return fmt.Errorf("class %s: duplicate class", c.Name)
	}
	p.classes = append(p.classes, c)
	p.byName[c.Name] = c
	p.assign(c)
	log.Debugf("added class %s (%d fields, %d methods, library=%t)", c.Name, len(c.Fields), len(c.Methods), c.Library)
	return nil
}

// Assign gives IDs to elements of c added after the class entered the pool,
// such as a method synthesized by a pass.
func (p *ClassPool) Assign(c *Class) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.assign(c)
}

func (p *ClassPool) assign(c *Class) {
	if c.id == 0 {
		c.id = p.next(c)
	}
	for _, f := range c.Fields {
		f.class = c
		if f.id == 0 {
			f.id = p.next(f)
		}
	}
	for _, m := range c.Methods {
		m.class = c
		if m.id == 0 {
			m.id = p.next(m)
		}
		if code := m.Code(); code != nil && code.id == 0 {
			code.id = p.next(code)
		}
	}
}

func (p *ClassPool) next(e Element) ElementID {
	p.elements = append(p.elements, e)
	return ElementID(len(p.elements) - 1)
}

// Class returns the named class, or nil.
func (p *ClassPool) Class(name string) *Class {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.byName[name]
}

// Classes returns the classes in the order they were added.
func (p *ClassPool) Classes() []*Class {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Class, len(p.classes))
	copy(out, p.classes)
	return out
}

// Size returns the number of classes.
func (p *ClassPool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.classes)
}

// Element returns the element with the given ID, or nil.
func (p *ClassPool) Element(id ElementID) Element {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if id == 0 || int(id) >= len(p.elements) {
		return nil
	}
	return p.elements[id]
}

// ElementCount returns the number of IDs assigned so far.
func (p *ClassPool) ElementCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.elements) - 1
}

// ---------------------------------------------------------------------------
// Hierarchy
// ---------------------------------------------------------------------------

// IsAncestor reports whether ancestor is a strict supertype (superclass or
// superinterface) of name. known is false when the answer depends on a class
// missing from the pool. java/lang/Object is an ancestor of every other
// class without needing to be present.
func (p *ClassPool) IsAncestor(ancestor, name string) (is, known bool) {
	if ancestor == name {
		return false, true
	}
	if ancestor == ObjectClass {
		return true, true
	}
	return p.isAncestor(ancestor, name, make(map[string]bool))
}

func (p *ClassPool) isAncestor(ancestor, name string, seen map[string]bool) (is, known bool) {
	if seen[name] {
		return false, true
	}
	seen[name] = true
	c := p.Class(name)
	if c == nil {
		return false, false
	}
	known = true
	supers := c.Interfaces
	if c.SuperName != "" {
		supers = append([]string{c.SuperName}, supers...)
	}
	for _, s := range supers {
		if s == ancestor {
			return true, true
		}
		if s == ObjectClass {
			continue
		}
		sub, subKnown := p.isAncestor(ancestor, s, seen)
		if sub {
			return true, true
		}
		known = known && subKnown
	}
	return false, known
}

// DeclaringClass returns the class that declares the named member as seen
// from owner: owner itself, its nearest superclass declaring it, or for
// methods and static fields a superinterface. It returns nil when the member
// cannot be resolved within the pool.
func (p *ClassPool) DeclaringClass(owner, name, desc string, field bool) *Class {
	declares := func(c *Class) bool {
		if field {
			return c.FindField(name, desc) != nil
		}
		return c.FindMethod(name, desc) != nil
	}
	for n := owner; n != ""; {
		c := p.Class(n)
		if c == nil {
			break
		}
		if declares(c) {
			return c
		}
		n = c.SuperName
	}
	seen := make(map[string]bool)
	var search func(n string) *Class
	search = func(n string) *Class {
		c := p.Class(n)
		if c == nil {
			return nil
		}
		for _, i := range c.Interfaces {
			if seen[i] {
				continue
			}
			seen[i] = true
			ic := p.Class(i)
			if ic == nil {
				continue
			}
			if declares(ic) {
				return ic
			}
			if found := search(i); found != nil {
				return found
			}
		}
		if c.SuperName != "" {
			return search(c.SuperName)
		}
		return nil
	}
	return search(owner)
}
