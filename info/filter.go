package info

import "github.com/chazu/bcopt/classfile"

// Filters route elements by their metadata. Every visit ends in exactly one
// of: the accepted visitor, the rejected visitor, or nothing when the chosen
// visitor is nil or the metadata does not qualify. Absent metadata routes
// as not kept and not editable.

// KeptClassFilter sends kept classes to Accepted and the others to Rejected.
type KeptClassFilter struct {
	Store    *Store
	Accepted classfile.ClassVisitor
	Rejected classfile.ClassVisitor
}

func (f *KeptClassFilter) VisitClass(c *classfile.Class) {
	v := f.Rejected
	if f.Store.IsKept(c) {
		v = f.Accepted
	}
	if v != nil {
		v.VisitClass(c)
	}
}

// KeptMemberFilter sends kept fields and methods to Accepted and the others
// to Rejected.
type KeptMemberFilter struct {
	Store    *Store
	Accepted classfile.MemberVisitor
	Rejected classfile.MemberVisitor
}

func (f *KeptMemberFilter) VisitField(c *classfile.Class, fd *classfile.Field) {
	v := f.Rejected
	if f.Store.IsKept(fd) {
		v = f.Accepted
	}
	if v != nil {
		v.VisitField(c, fd)
	}
}

func (f *KeptMemberFilter) VisitMethod(c *classfile.Class, m *classfile.Method) {
	v := f.Rejected
	if f.Store.IsKept(m) {
		v = f.Accepted
	}
	if v != nil {
		v.VisitMethod(c, m)
	}
}

// KeptCodeFilter sends kept code bodies to Accepted and the others to
// Rejected. Attributes other than code bodies are dropped.
type KeptCodeFilter struct {
	Store    *Store
	Accepted classfile.AttributeVisitor
	Rejected classfile.AttributeVisitor
}

func (f *KeptCodeFilter) VisitAttribute(c *classfile.Class, m classfile.Member, a classfile.Attribute) {
	code, ok := a.(*classfile.CodeAttribute)
	if !ok {
		return
	}
	v := f.Rejected
	if f.Store.IsKept(code) {
		v = f.Accepted
	}
	if v != nil {
		v.VisitAttribute(c, m, code)
	}
}

// EditableClassFilter forwards classes with program metadata.
type EditableClassFilter struct {
	Store   *Store
	Visitor classfile.ClassVisitor
}

func (f *EditableClassFilter) VisitClass(c *classfile.Class) {
	if f.Store.IsEditable(c) {
		f.Visitor.VisitClass(c)
	}
}

// EditableMemberFilter forwards fields and methods with program metadata.
type EditableMemberFilter struct {
	Store   *Store
	Visitor classfile.MemberVisitor
}

func (f *EditableMemberFilter) VisitField(c *classfile.Class, fd *classfile.Field) {
	if f.Store.IsEditable(fd) {
		f.Visitor.VisitField(c, fd)
	}
}

func (f *EditableMemberFilter) VisitMethod(c *classfile.Class, m *classfile.Method) {
	if f.Store.IsEditable(m) {
		f.Visitor.VisitMethod(c, m)
	}
}

// EditableCodeFilter forwards code bodies with program metadata and drops
// every other attribute.
type EditableCodeFilter struct {
	Store   *Store
	Visitor classfile.AttributeVisitor
}

func (f *EditableCodeFilter) VisitAttribute(c *classfile.Class, m classfile.Member, a classfile.Attribute) {
	if code, ok := a.(*classfile.CodeAttribute); ok && f.Store.IsEditable(code) {
		f.Visitor.VisitAttribute(c, m, code)
	}
}
