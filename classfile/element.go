package classfile

import "fmt"

// ElementID identifies a class, field, method or code body within one
// ClassPool. IDs are assigned when a class is added to the pool and never
// reused; 0 means unassigned.
type ElementID uint32

// Element is anything that can carry optimization metadata.
type Element interface {
	ID() ElementID
	String() string
}

// Class is a program or library class.
type Class struct {
	id         ElementID
	Access     AccessFlags
	Name       string // internal name, e.g. "java/util/List"
	SuperName  string // empty for java/lang/Object
	Interfaces []string
	Pool       *ConstantPool
	Fields     []*Field
	Methods    []*Method
	Attributes []Attribute

	// Library classes are read-only: their metadata is never editable and
	// passes never rewrite them.
	Library bool
}

// NewClass creates a class with an empty constant pool.
func NewClass(access AccessFlags, name, superName string, interfaces ...string) *Class {
	return &Class{
		Access:     access,
		Name:       name,
		SuperName:  superName,
		Interfaces: interfaces,
		Pool:       NewConstantPool(),
	}
}

func (c *Class) ID() ElementID  { return c.id }
func (c *Class) String() string { return c.Name }

// AddField declares a field, interning its name and descriptor.
func (c *Class) AddField(access AccessFlags, name, desc string) *Field {
	f := &Field{member{
		Access:          access,
		NameIndex:       c.Pool.InternUtf8(name),
		DescriptorIndex: c.Pool.InternUtf8(desc),
		class:           c,
	}}
	c.Fields = append(c.Fields, f)
	return f
}

// AddMethod declares a method, interning its name and descriptor. A nil code
// body declares an abstract or native method.
func (c *Class) AddMethod(access AccessFlags, name, desc string, code *CodeAttribute) *Method {
	m := &Method{member{
		Access:          access,
		NameIndex:       c.Pool.InternUtf8(name),
		DescriptorIndex: c.Pool.InternUtf8(desc),
		class:           c,
	}}
	if code != nil {
		m.Attributes = append(m.Attributes, code)
	}
	c.Methods = append(c.Methods, m)
	return m
}

// FindField returns the field declared with the given name and descriptor.
func (c *Class) FindField(name, desc string) *Field {
	for _, f := range c.Fields {
		if f.Name() == name && f.Descriptor() == desc {
			return f
		}
	}
	return nil
}

// FindMethod returns the method declared with the given name and descriptor.
func (c *Class) FindMethod(name, desc string) *Method {
	for _, m := range c.Methods {
		if m.Name() == name && m.Descriptor() == desc {
			return m
		}
	}
	return nil
}

// Signature returns the class's generic signature, or "".
func (c *Class) Signature() string {
	if s := findAttribute[*SignatureAttribute](c.Attributes); s != nil {
		return c.Pool.Utf8(s.SignatureIndex)
	}
	return ""
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

// Member is a field or a method.
type Member interface {
	Element
	Class() *Class
	Flags() AccessFlags
	Name() string
	Descriptor() string
	Accept(c *Class, v MemberVisitor)
}

// member holds what fields and methods share.
type member struct {
	id              ElementID
	Access          AccessFlags
	NameIndex       int
	DescriptorIndex int
	Attributes      []Attribute
	class           *Class
}

func (m *member) ID() ElementID      { return m.id }
func (m *member) Class() *Class      { return m.class }
func (m *member) Flags() AccessFlags { return m.Access }

func (m *member) Name() string {
	return m.class.Pool.Utf8(m.NameIndex)
}

func (m *member) Descriptor() string {
	return m.class.Pool.Utf8(m.DescriptorIndex)
}

// SetDescriptor interns desc and repoints the member to it. The old
// constant stays in the pool.
func (m *member) SetDescriptor(desc string) {
	m.DescriptorIndex = m.class.Pool.InternUtf8(desc)
}

// SignatureAttribute returns the member's Signature attribute, or nil.
func (m *member) SignatureAttribute() *SignatureAttribute {
	return findAttribute[*SignatureAttribute](m.Attributes)
}

// Signature returns the member's generic signature, or "".
func (m *member) Signature() string {
	if s := m.SignatureAttribute(); s != nil {
		return m.class.Pool.Utf8(s.SignatureIndex)
	}
	return ""
}

func (m *member) String() string {
	return fmt.Sprintf("%s.%s%s", m.class.Name, m.Name(), m.Descriptor())
}

// Field is a declared field.
type Field struct {
	member
}

// Method is a declared method.
type Method struct {
	member
}

func (f *Field) Accept(c *Class, v MemberVisitor)  { v.VisitField(c, f) }
func (m *Method) Accept(c *Class, v MemberVisitor) { v.VisitMethod(c, m) }

// Code returns the method's code body, or nil for abstract and native
// methods.
func (m *Method) Code() *CodeAttribute {
	return findAttribute[*CodeAttribute](m.Attributes)
}

// IsInitializer reports whether the method is an instance constructor.
func (m *Method) IsInitializer() bool {
	return m.Name() == "<init>"
}

// IsClassInitializer reports whether the method is a static initializer.
func (m *Method) IsClassInitializer() bool {
	return m.Name() == "<clinit>"
}
