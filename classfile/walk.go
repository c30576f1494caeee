package classfile

import "fmt"

// Walker holds the visitors of a full traversal. Nil visitors are skipped.
type Walker struct {
	Class       ClassVisitor
	Member      MemberVisitor
	Attribute   AttributeVisitor
	Instruction InstructionVisitor
	Exception   ExceptionVisitor
}

// Walk traverses every class of the pool depth first: class, class
// attributes, then each field and method with its attributes, and for code
// bodies the instructions, the exception table and the nested attributes.
// An element is visited at most once per walk.
func Walk(p *ClassPool, w Walker) error {
	visited := make(map[ElementID]bool)
	enter := func(e Element) bool {
		if visited[e.ID()] {
			return false
		}
		visited[e.ID()] = true
		return true
	}

	for _, c := range p.Classes() {
		if !enter(c) {
			continue
		}
		if w.Class != nil {
			w.Class.VisitClass(c)
		}
		if w.Attribute != nil {
			c.AttributesAccept(w.Attribute)
		}
		for _, f := range c.Fields {
			if !enter(f) {
				continue
			}
			if w.Member != nil {
				w.Member.VisitField(c, f)
			}
			if w.Attribute != nil {
				f.AttributesAccept(c, w.Attribute)
			}
		}
		for _, m := range c.Methods {
			if !enter(m) {
				continue
			}
			if w.Member != nil {
				w.Member.VisitMethod(c, m)
			}
			if w.Attribute != nil {
				m.AttributesAccept(c, w.Attribute)
			}
			code := m.Code()
			if code == nil || !enter(code) {
				continue
			}
			if w.Instruction != nil {
				if err := code.InstructionsAccept(c, m, w.Instruction); err != nil {
					return fmt.Errorf("walk %s: %w", m, err)
				}
			}
			if w.Exception != nil {
				code.ExceptionsAccept(c, m, w.Exception)
			}
			if w.Attribute != nil {
				code.AttributesAccept(c, m, w.Attribute)
			}
		}
	}
	return nil
}
