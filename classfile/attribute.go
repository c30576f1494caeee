package classfile

// Attribute names.
const (
	AttrCode                   = "Code"
	AttrSignature              = "Signature"
	AttrLineNumberTable        = "LineNumberTable"
	AttrLocalVariableTable     = "LocalVariableTable"
	AttrLocalVariableTypeTable = "LocalVariableTypeTable"
	AttrStackMapTable          = "StackMapTable"
)

// Attribute is one of the attribute kinds below. The set is closed; kinds the
// optimizer does not interpret are carried as *UnknownAttribute.
type Attribute interface {
	AttributeName() string
}

// CodeAttribute is a method's code body.
type CodeAttribute struct {
	id             ElementID
	MaxStack       int
	MaxLocals      int
	Code           []byte
	ExceptionTable []ExceptionInfo
	Attributes     []Attribute
}

// ExceptionInfo is one exception table entry. EndPC is exclusive.
// CatchType is a Class constant index, or 0 for a catch-all handler.
type ExceptionInfo struct {
	StartPC   int
	EndPC     int
	HandlerPC int
	CatchType int
}

// SignatureAttribute holds the generic signature of a class or member.
type SignatureAttribute struct {
	SignatureIndex int
}

type LineNumber struct {
	StartPC int
	Line    int
}

type LineNumberTableAttribute struct {
	Entries []LineNumber
}

// LocalVariable is an entry of a LocalVariableTable, or of a
// LocalVariableTypeTable where DescriptorIndex refers to a signature.
type LocalVariable struct {
	StartPC         int
	Length          int
	NameIndex       int
	DescriptorIndex int
	Index           int
}

type LocalVariableTableAttribute struct {
	Entries []LocalVariable
}

type LocalVariableTypeTableAttribute struct {
	Entries []LocalVariable
}

// UnknownAttribute carries an attribute's raw bytes unchanged.
type UnknownAttribute struct {
	Name string
	Info []byte
}

func (*CodeAttribute) AttributeName() string                   { return AttrCode }
func (*SignatureAttribute) AttributeName() string              { return AttrSignature }
func (*LineNumberTableAttribute) AttributeName() string        { return AttrLineNumberTable }
func (*LocalVariableTableAttribute) AttributeName() string     { return AttrLocalVariableTable }
func (*LocalVariableTypeTableAttribute) AttributeName() string { return AttrLocalVariableTypeTable }
func (*StackMapTableAttribute) AttributeName() string          { return AttrStackMapTable }
func (a *UnknownAttribute) AttributeName() string              { return a.Name }

// NewCodeAttribute creates a code body without side tables.
func NewCodeAttribute(maxStack, maxLocals int, code []byte) *CodeAttribute {
	return &CodeAttribute{MaxStack: maxStack, MaxLocals: maxLocals, Code: code}
}

// ID returns the code body's element ID, or 0 before the owning class is
// added to a ClassPool.
func (c *CodeAttribute) ID() ElementID { return c.id }

func (c *CodeAttribute) String() string { return "Code" }

// Covers reports whether offset lies in [StartPC, EndPC).
func (e ExceptionInfo) Covers(offset int) bool {
	return offset >= e.StartPC && offset < e.EndPC
}

// Overlaps reports whether the entry's range intersects [start, end).
func (e ExceptionInfo) Overlaps(start, end int) bool {
	return e.StartPC < end && start < e.EndPC
}

// IsCatchAll reports whether the handler catches every throwable.
func (e ExceptionInfo) IsCatchAll() bool {
	return e.CatchType == 0
}

// IsCovered reports whether any exception range covers offset.
func (c *CodeAttribute) IsCovered(offset int) bool {
	for _, e := range c.ExceptionTable {
		if e.Covers(offset) {
			return true
		}
	}
	return false
}

func (c *CodeAttribute) LineNumberTable() *LineNumberTableAttribute {
	return findAttribute[*LineNumberTableAttribute](c.Attributes)
}

func (c *CodeAttribute) LocalVariableTable() *LocalVariableTableAttribute {
	return findAttribute[*LocalVariableTableAttribute](c.Attributes)
}

func (c *CodeAttribute) LocalVariableTypeTable() *LocalVariableTypeTableAttribute {
	return findAttribute[*LocalVariableTypeTableAttribute](c.Attributes)
}

func (c *CodeAttribute) StackMapTable() *StackMapTableAttribute {
	return findAttribute[*StackMapTableAttribute](c.Attributes)
}

// findAttribute returns the first attribute of type T, or the zero value.
func findAttribute[T Attribute](attrs []Attribute) T {
	for _, a := range attrs {
		if t, ok := a.(T); ok {
			return t
		}
	}
	var zero T
	return zero
}
