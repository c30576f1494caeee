package classfile

import (
	"fmt"
	"sync"
)

// ConstantTag identifies the kind of a constant pool entry.
type ConstantTag uint8

const (
	ConstantUtf8               ConstantTag = 1
	ConstantInteger            ConstantTag = 3
	ConstantFloat              ConstantTag = 4
	ConstantLong               ConstantTag = 5
	ConstantDouble             ConstantTag = 6
	ConstantClass              ConstantTag = 7
	ConstantString             ConstantTag = 8
	ConstantFieldref           ConstantTag = 9
	ConstantMethodref          ConstantTag = 10
	ConstantInterfaceMethodref ConstantTag = 11
	ConstantNameAndType        ConstantTag = 12
	ConstantMethodHandle       ConstantTag = 15
	ConstantMethodType         ConstantTag = 16
	ConstantInvokeDynamic      ConstantTag = 18
)

func (t ConstantTag) String() string {
	switch t {
	case ConstantUtf8:
		return "Utf8"
	case ConstantInteger:
		return "Integer"
	case ConstantFloat:
		return "Float"
	case ConstantLong:
		return "Long"
	case ConstantDouble:
		return "Double"
	case ConstantClass:
		return "Class"
	case ConstantString:
		return "String"
	case ConstantFieldref:
		return "Fieldref"
	case ConstantMethodref:
		return "Methodref"
	case ConstantInterfaceMethodref:
		return "InterfaceMethodref"
	case ConstantNameAndType:
		return "NameAndType"
	case ConstantMethodHandle:
		return "MethodHandle"
	case ConstantMethodType:
		return "MethodType"
	case ConstantInvokeDynamic:
		return "InvokeDynamic"
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// Constant is a constant pool entry. All implementations are comparable
// values so equal constants can be interned.
type Constant interface {
	Tag() ConstantTag
}

type Utf8Constant struct{ Value string }
type IntegerConstant struct{ Value int32 }
type FloatConstant struct{ Bits uint32 }
type LongConstant struct{ Value int64 }
type DoubleConstant struct{ Bits uint64 }
type ClassConstant struct{ NameIndex int }
type StringConstant struct{ StringIndex int }
type MethodTypeConstant struct{ DescriptorIndex int }

// RefConstant is a Fieldref, Methodref or InterfaceMethodref.
type RefConstant struct {
	RefTag           ConstantTag
	ClassIndex       int
	NameAndTypeIndex int
}

type NameAndTypeConstant struct {
	NameIndex       int
	DescriptorIndex int
}

type MethodHandleConstant struct {
	Kind     uint8
	RefIndex int
}

type InvokeDynamicConstant struct {
	BootstrapIndex   int
	NameAndTypeIndex int
}

func (Utf8Constant) Tag() ConstantTag          { return ConstantUtf8 }
func (IntegerConstant) Tag() ConstantTag       { return ConstantInteger }
func (FloatConstant) Tag() ConstantTag         { return ConstantFloat }
func (LongConstant) Tag() ConstantTag          { return ConstantLong }
func (DoubleConstant) Tag() ConstantTag        { return ConstantDouble }
func (ClassConstant) Tag() ConstantTag         { return ConstantClass }
func (StringConstant) Tag() ConstantTag        { return ConstantString }
func (MethodTypeConstant) Tag() ConstantTag    { return ConstantMethodType }
func (c RefConstant) Tag() ConstantTag         { return c.RefTag }
func (NameAndTypeConstant) Tag() ConstantTag   { return ConstantNameAndType }
func (MethodHandleConstant) Tag() ConstantTag  { return ConstantMethodHandle }
func (InvokeDynamicConstant) Tag() ConstantTag { return ConstantInvokeDynamic }

// isWide reports whether a constant occupies two pool slots.
func isWide(c Constant) bool {
	t := c.Tag()
	return t == ConstantLong || t == ConstantDouble
}

// ---------------------------------------------------------------------------
// ConstantPool
// ---------------------------------------------------------------------------

// ConstantPool is the constant pool of one class. Index 0 is unused, and the
// slot after a long or double is unusable, as in the class file format.
//
// The pool is append-only: existing indices never change, so references held
// by code bodies stay valid while passes intern new constants. The pool is
// safe for concurrent use.
type ConstantPool struct {
	mu      sync.RWMutex
	entries []Constant
	index   map[Constant]int
}

// NewConstantPool creates an empty pool.
func NewConstantPool() *ConstantPool {
	return &ConstantPool{
		entries: []Constant{nil},
		index:   make(map[Constant]int),
	}
}

// Len returns the constant_pool_count: one more than the highest index.
func (p *ConstantPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// Get returns the constant at index, or nil for index 0, the unusable slot
// after a wide constant, or an index past the end.
func (p *ConstantPool) Get(index int) Constant {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if index <= 0 || index >= len(p.entries) {
		return nil
	}
	return p.entries[index]
}

// Add appends a constant without looking for an existing equal entry and
// returns its index. Decoders use it to rebuild a pool in its original order.
func (p *ConstantPool) Add(c Constant) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.add(c)
}

func (p *ConstantPool) add(c Constant) int {
	idx := len(p.entries)
	p.entries = append(p.entries, c)
	if isWide(c) {
		p.entries = append(p.entries, nil)
	}
	if _, ok := p.index[c]; !ok {
		p.index[c] = idx
	}
	return idx
}

// Intern returns the index of a constant equal to c, adding it if absent.
func (p *ConstantPool) Intern(c Constant) int {
	p.mu.RLock()
	idx, ok := p.index[c]
	p.mu.RUnlock()
	if ok {
		return idx
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx, ok := p.index[c]; ok {
		return idx
	}
	return p.add(c)
}

// Each calls fn for every used slot in index order.
func (p *ConstantPool) Each(fn func(index int, c Constant)) {
	p.mu.RLock()
	entries := p.entries
	p.mu.RUnlock()
	for i, c := range entries {
		if c != nil {
			fn(i, c)
		}
	}
}

func (p *ConstantPool) InternUtf8(s string) int {
	return p.Intern(Utf8Constant{Value: s})
}

func (p *ConstantPool) InternClass(name string) int {
	return p.Intern(ClassConstant{NameIndex: p.InternUtf8(name)})
}

func (p *ConstantPool) InternString(s string) int {
	return p.Intern(StringConstant{StringIndex: p.InternUtf8(s)})
}

func (p *ConstantPool) InternNameAndType(name, desc string) int {
	return p.Intern(NameAndTypeConstant{
		NameIndex:       p.InternUtf8(name),
		DescriptorIndex: p.InternUtf8(desc),
	})
}

// InternRef interns a Fieldref, Methodref or InterfaceMethodref.
func (p *ConstantPool) InternRef(tag ConstantTag, class, name, desc string) int {
	switch tag {
	case ConstantFieldref, ConstantMethodref, ConstantInterfaceMethodref:
	default:
		panic(fmt.Sprintf("classfile.InternRef: %s is not a member reference", tag))
	}
	return p.Intern(RefConstant{
		RefTag:           tag,
		ClassIndex:       p.InternClass(class),
		NameAndTypeIndex: p.InternNameAndType(name, desc),
	})
}

func (p *ConstantPool) InternFieldref(class, name, desc string) int {
	return p.InternRef(ConstantFieldref, class, name, desc)
}

func (p *ConstantPool) InternMethodref(class, name, desc string) int {
	return p.InternRef(ConstantMethodref, class, name, desc)
}

func (p *ConstantPool) InternInterfaceMethodref(class, name, desc string) int {
	return p.InternRef(ConstantInterfaceMethodref, class, name, desc)
}

// ---------------------------------------------------------------------------
// Typed lookups. These panic when the index does not hold the expected kind:
// a code body referring to the wrong kind of constant is malformed.
// ---------------------------------------------------------------------------

func (p *ConstantPool) mustGet(index int, what string) Constant {
	c := p.Get(index)
	if c == nil {
		panic(fmt.Sprintf("classfile: constant #%d: expected %s, found empty slot", index, what))
	}
	return c
}

func kindPanic(index int, what string, c Constant) {
	panic(fmt.Sprintf("classfile: constant #%d: expected %s, found %s", index, what, c.Tag()))
}

// Tag returns the tag of the constant at index, or 0 for an empty slot.
func (p *ConstantPool) Tag(index int) ConstantTag {
	if c := p.Get(index); c != nil {
		return c.Tag()
	}
	return 0
}

// Utf8 returns the string of a Utf8 constant.
func (p *ConstantPool) Utf8(index int) string {
	c := p.mustGet(index, "Utf8")
	u, ok := c.(Utf8Constant)
	if !ok {
		kindPanic(index, "Utf8", c)
	}
	return u.Value
}

// ClassName returns the internal name of a Class constant.
func (p *ConstantPool) ClassName(index int) string {
	c := p.mustGet(index, "Class")
	cc, ok := c.(ClassConstant)
	if !ok {
		kindPanic(index, "Class", c)
	}
	return p.Utf8(cc.NameIndex)
}

func (p *ConstantPool) ref(index int) RefConstant {
	c := p.mustGet(index, "member reference")
	r, ok := c.(RefConstant)
	if !ok {
		kindPanic(index, "member reference", c)
	}
	return r
}

func (p *ConstantPool) nameAndType(index int) NameAndTypeConstant {
	c := p.mustGet(index, "NameAndType")
	nt, ok := c.(NameAndTypeConstant)
	if !ok {
		kindPanic(index, "NameAndType", c)
	}
	return nt
}

// refNameAndType returns the NameAndType of a member reference or an
// InvokeDynamic constant.
func (p *ConstantPool) refNameAndType(index int) NameAndTypeConstant {
	if indy, ok := p.Get(index).(InvokeDynamicConstant); ok {
		return p.nameAndType(indy.NameAndTypeIndex)
	}
	return p.nameAndType(p.ref(index).NameAndTypeIndex)
}

// RefClassName returns the owner class name of a member reference.
func (p *ConstantPool) RefClassName(index int) string {
	return p.ClassName(p.ref(index).ClassIndex)
}

// RefName returns the member name of a member reference or InvokeDynamic.
func (p *ConstantPool) RefName(index int) string {
	return p.Utf8(p.refNameAndType(index).NameIndex)
}

// RefType returns the descriptor of a member reference or InvokeDynamic. It
// satisfies instruction.Resolver.
func (p *ConstantPool) RefType(index int) string {
	return p.Utf8(p.refNameAndType(index).DescriptorIndex)
}
