package classfile

import (
	"fmt"

	"github.com/chazu/bcopt/classfile/descriptor"
)

// VerificationTag is the tag of a verification_type_info.
type VerificationTag uint8

const (
	VerifyTop               VerificationTag = 0
	VerifyInteger           VerificationTag = 1
	VerifyFloat             VerificationTag = 2
	VerifyDouble            VerificationTag = 3
	VerifyLong              VerificationTag = 4
	VerifyNull              VerificationTag = 5
	VerifyUninitializedThis VerificationTag = 6
	VerifyObject            VerificationTag = 7
	VerifyUninitialized     VerificationTag = 8
)

// VerificationType is one entry of a frame's locals or stack. Long and
// Double take a single entry, as in the class file format.
type VerificationType struct {
	Tag        VerificationTag
	ClassIndex int // VerifyObject: Class constant index
	Offset     int // VerifyUninitialized: offset of the new instruction
}

func (v VerificationType) String() string {
	switch v.Tag {
	case VerifyTop:
		return "top"
	case VerifyInteger:
		return "int"
	case VerifyFloat:
		return "float"
	case VerifyDouble:
		return "double"
	case VerifyLong:
		return "long"
	case VerifyNull:
		return "null"
	case VerifyUninitializedThis:
		return "uninitializedThis"
	case VerifyObject:
		return fmt.Sprintf("object#%d", v.ClassIndex)
	case VerifyUninitialized:
		return fmt.Sprintf("uninitialized(%d)", v.Offset)
	}
	return fmt.Sprintf("tag(%d)", v.Tag)
}

// StackMapFrame is an expanded (full_frame equivalent) stack map frame at an
// absolute code offset. The compressed delta encoding is a concern of the
// class file writer.
type StackMapFrame struct {
	Offset int
	Locals []VerificationType
	Stack  []VerificationType
}

// StackMapTableAttribute holds frames in increasing offset order.
type StackMapTableAttribute struct {
	Frames []StackMapFrame
}

// FrameAt returns the frame at offset, if any.
func (s *StackMapTableAttribute) FrameAt(offset int) (StackMapFrame, bool) {
	for _, f := range s.Frames {
		if f.Offset == offset {
			return f, true
		}
	}
	return StackMapFrame{}, false
}

// VerificationTypeOf returns the verification type of a field type,
// interning a Class constant for references.
func VerificationTypeOf(pool *ConstantPool, t string) VerificationType {
	switch t[0] {
	case descriptor.Boolean, descriptor.Byte, descriptor.Char, descriptor.Short, descriptor.Int:
		return VerificationType{Tag: VerifyInteger}
	case descriptor.Float:
		return VerificationType{Tag: VerifyFloat}
	case descriptor.Long:
		return VerificationType{Tag: VerifyLong}
	case descriptor.Double:
		return VerificationType{Tag: VerifyDouble}
	case descriptor.Array:
		return VerificationType{Tag: VerifyObject, ClassIndex: pool.InternClass(t)}
	}
	return VerificationType{Tag: VerifyObject, ClassIndex: pool.InternClass(descriptor.ClassNameOf(t))}
}

// InitialFrame returns the implicit frame at offset 0 of a method: the
// receiver (uninitializedThis in a constructor) followed by the parameters.
func InitialFrame(c *Class, m *Method) StackMapFrame {
	var locals []VerificationType
	if !m.Access.IsStatic() {
		if m.IsInitializer() && c.Name != "java/lang/Object" {
			locals = append(locals, VerificationType{Tag: VerifyUninitializedThis})
		} else {
			locals = append(locals, VerificationType{Tag: VerifyObject, ClassIndex: c.Pool.InternClass(c.Name)})
		}
	}
	for _, p := range descriptor.ParameterTypes(m.Descriptor()) {
		locals = append(locals, VerificationTypeOf(c.Pool, p))
	}
	return StackMapFrame{Offset: 0, Locals: locals}
}
