package classfile

import (
	"github.com/chazu/bcopt/classfile/instruction"
)

// Visitors are dispatched synchronously and depth first. A panic in a
// visitor propagates to the caller of the Accept method unchanged.

type ClassVisitor interface {
	VisitClass(c *Class)
}

type MemberVisitor interface {
	VisitField(c *Class, f *Field)
	VisitMethod(c *Class, m *Method)
}

// AttributeVisitor receives class, member and code attributes. m is nil for
// class attributes; code attributes nested in a Code attribute are visited
// with the owning method.
type AttributeVisitor interface {
	VisitAttribute(c *Class, m Member, a Attribute)
}

type InstructionVisitor interface {
	VisitInstruction(c *Class, m *Method, code *CodeAttribute, offset int, ins instruction.Instruction)
}

type ExceptionVisitor interface {
	VisitException(c *Class, m *Method, code *CodeAttribute, e *ExceptionInfo)
}

// ---------------------------------------------------------------------------
// Accept methods
// ---------------------------------------------------------------------------

// ClassesAccept visits every class in the pool in the order they were added.
func (p *ClassPool) ClassesAccept(v ClassVisitor) {
	for _, c := range p.Classes() {
		v.VisitClass(c)
	}
}

// ClassAccept visits the named class, if present.
func (p *ClassPool) ClassAccept(name string, v ClassVisitor) {
	if c := p.Class(name); c != nil {
		v.VisitClass(c)
	}
}

func (c *Class) FieldsAccept(v MemberVisitor) {
	for _, f := range c.Fields {
		v.VisitField(c, f)
	}
}

func (c *Class) MethodsAccept(v MemberVisitor) {
	for _, m := range c.Methods {
		v.VisitMethod(c, m)
	}
}

func (c *Class) AttributesAccept(v AttributeVisitor) {
	for _, a := range c.Attributes {
		v.VisitAttribute(c, nil, a)
	}
}

func (m *member) attributesAccept(c *Class, owner Member, v AttributeVisitor) {
	for _, a := range m.Attributes {
		v.VisitAttribute(c, owner, a)
	}
}

func (f *Field) AttributesAccept(c *Class, v AttributeVisitor) {
	f.attributesAccept(c, f, v)
}

func (m *Method) AttributesAccept(c *Class, v AttributeVisitor) {
	m.attributesAccept(c, m, v)
}

// AttributesAccept visits the attributes nested in a code body.
func (code *CodeAttribute) AttributesAccept(c *Class, m *Method, v AttributeVisitor) {
	for _, a := range code.Attributes {
		v.VisitAttribute(c, m, a)
	}
}

// InstructionsAccept decodes the code body and visits every instruction in
// offset order.
func (code *CodeAttribute) InstructionsAccept(c *Class, m *Method, v InstructionVisitor) error {
	located, err := instruction.DecodeAll(code.Code)
	if err != nil {
		return err
	}
	for _, l := range located {
		v.VisitInstruction(c, m, code, l.Offset, l.Instruction)
	}
	return nil
}

// ExceptionsAccept visits every exception table entry.
func (code *CodeAttribute) ExceptionsAccept(c *Class, m *Method, v ExceptionVisitor) {
	for i := range code.ExceptionTable {
		v.VisitException(c, m, code, &code.ExceptionTable[i])
	}
}

// ExceptionsAcceptRange visits the entries whose range intersects
// [start, end).
func (code *CodeAttribute) ExceptionsAcceptRange(c *Class, m *Method, start, end int, v ExceptionVisitor) {
	for i := range code.ExceptionTable {
		if code.ExceptionTable[i].Overlaps(start, end) {
			v.VisitException(c, m, code, &code.ExceptionTable[i])
		}
	}
}

// ---------------------------------------------------------------------------
// Func adapters
// ---------------------------------------------------------------------------

type ClassVisitorFunc func(c *Class)

func (f ClassVisitorFunc) VisitClass(c *Class) { f(c) }

// MemberVisitorFuncs dispatches to whichever handler is set; a nil handler
// makes that member kind a no-op.
type MemberVisitorFuncs struct {
	Field  func(c *Class, f *Field)
	Method func(c *Class, m *Method)
}

func (v MemberVisitorFuncs) VisitField(c *Class, f *Field) {
	if v.Field != nil {
		v.Field(c, f)
	}
}

func (v MemberVisitorFuncs) VisitMethod(c *Class, m *Method) {
	if v.Method != nil {
		v.Method(c, m)
	}
}

type AttributeVisitorFunc func(c *Class, m Member, a Attribute)

func (f AttributeVisitorFunc) VisitAttribute(c *Class, m Member, a Attribute) { f(c, m, a) }

type InstructionVisitorFunc func(c *Class, m *Method, code *CodeAttribute, offset int, ins instruction.Instruction)

func (f InstructionVisitorFunc) VisitInstruction(c *Class, m *Method, code *CodeAttribute, offset int, ins instruction.Instruction) {
	f(c, m, code, offset, ins)
}

type ExceptionVisitorFunc func(c *Class, m *Method, code *CodeAttribute, e *ExceptionInfo)

func (f ExceptionVisitorFunc) VisitException(c *Class, m *Method, code *CodeAttribute, e *ExceptionInfo) {
	f(c, m, code, e)
}

// AttributeHandlers is an AttributeVisitor with one optional handler per
// attribute kind. Kinds without a handler go to Default, and are ignored
// when Default is nil too.
type AttributeHandlers struct {
	Code                   func(c *Class, m Member, a *CodeAttribute)
	Signature              func(c *Class, m Member, a *SignatureAttribute)
	LineNumberTable        func(c *Class, m Member, a *LineNumberTableAttribute)
	LocalVariableTable     func(c *Class, m Member, a *LocalVariableTableAttribute)
	LocalVariableTypeTable func(c *Class, m Member, a *LocalVariableTypeTableAttribute)
	StackMapTable          func(c *Class, m Member, a *StackMapTableAttribute)
	Default                func(c *Class, m Member, a Attribute)
}

func (h AttributeHandlers) VisitAttribute(c *Class, m Member, a Attribute) {
	switch a := a.(type) {
	case *CodeAttribute:
		if h.Code != nil {
			h.Code(c, m, a)
			return
		}
	case *SignatureAttribute:
		if h.Signature != nil {
			h.Signature(c, m, a)
			return
		}
	case *LineNumberTableAttribute:
		if h.LineNumberTable != nil {
			h.LineNumberTable(c, m, a)
			return
		}
	case *LocalVariableTableAttribute:
		if h.LocalVariableTable != nil {
			h.LocalVariableTable(c, m, a)
			return
		}
	case *LocalVariableTypeTableAttribute:
		if h.LocalVariableTypeTable != nil {
			h.LocalVariableTypeTable(c, m, a)
			return
		}
	case *StackMapTableAttribute:
		if h.StackMapTable != nil {
			h.StackMapTable(c, m, a)
			return
		}
	}
	if h.Default != nil {
		h.Default(c, m, a)
	}
}

// ---------------------------------------------------------------------------
// Composing adapters
// ---------------------------------------------------------------------------

// AllMemberVisitor visits every field and then every method of a class.
type AllMemberVisitor struct {
	Visitor MemberVisitor
}

func (a AllMemberVisitor) VisitClass(c *Class) {
	c.FieldsAccept(a.Visitor)
	c.MethodsAccept(a.Visitor)
}

// AllAttributeVisitor visits the attributes of each member it is given. With
// Deep set, the attributes nested in code bodies are visited as well.
type AllAttributeVisitor struct {
	Visitor AttributeVisitor
	Deep    bool
}

func (a AllAttributeVisitor) VisitClass(c *Class) {
	c.AttributesAccept(a.Visitor)
}

func (a AllAttributeVisitor) VisitField(c *Class, f *Field) {
	f.AttributesAccept(c, a.Visitor)
}

func (a AllAttributeVisitor) VisitMethod(c *Class, m *Method) {
	m.AttributesAccept(c, a.Visitor)
	if code := m.Code(); a.Deep && code != nil {
		code.AttributesAccept(c, m, a.Visitor)
	}
}

// AllInstructionVisitor visits the instructions of every code attribute it
// is given. Code bodies are validated when their class enters the pool, so a
// decode failure here panics.
type AllInstructionVisitor struct {
	Visitor InstructionVisitor
}

func (a AllInstructionVisitor) VisitAttribute(c *Class, m Member, attr Attribute) {
	code, ok := attr.(*CodeAttribute)
	if !ok {
		return
	}
	method, _ := m.(*Method)
	if err := code.InstructionsAccept(c, method, a.Visitor); err != nil {
		panic(err)
	}
}

// MultiClassVisitor forwards each class to every visitor in order.
type MultiClassVisitor []ClassVisitor

func (mv MultiClassVisitor) VisitClass(c *Class) {
	for _, v := range mv {
		v.VisitClass(c)
	}
}

// MultiMemberVisitor forwards each member to every visitor in order.
type MultiMemberVisitor []MemberVisitor

func (mv MultiMemberVisitor) VisitField(c *Class, f *Field) {
	for _, v := range mv {
		v.VisitField(c, f)
	}
}

func (mv MultiMemberVisitor) VisitMethod(c *Class, m *Method) {
	for _, v := range mv {
		v.VisitMethod(c, m)
	}
}
