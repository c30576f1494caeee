package instruction

import "github.com/chazu/bcopt/classfile/descriptor"

// Resolver looks up the descriptor behind a constant pool reference. It is
// satisfied by classfile.ConstantPool.
type Resolver interface {
	// RefType returns the field or method descriptor of a Fieldref,
	// Methodref, InterfaceMethodref or InvokeDynamic constant.
	RefType(index int) string
}

// StackEffect returns the number of stack slots ins pops and pushes.
// Operand-dependent opcodes consult r for the referenced descriptor.
func StackEffect(ins Instruction, r Resolver) (pop, push int) {
	op := ins.Opcode()
	info := op.Info()
	pop, push = info.Pop, info.Push
	if pop != variable && push != variable {
		return pop, push
	}

	c, ok := ins.(*Constant)
	if !ok {
		return 0, 0
	}
	switch op {
	case OpGetstatic:
		return 0, descriptor.TypeSize(r.RefType(c.Index))
	case OpPutstatic:
		return descriptor.TypeSize(r.RefType(c.Index)), 0
	case OpGetfield:
		return 1, descriptor.TypeSize(r.RefType(c.Index))
	case OpPutfield:
		return 1 + descriptor.TypeSize(r.RefType(c.Index)), 0
	case OpInvokestatic, OpInvokedynamic:
		desc := r.RefType(c.Index)
		return descriptor.ParameterSize(desc), descriptor.TypeSize(descriptor.ReturnType(desc))
	case OpInvokevirtual, OpInvokespecial, OpInvokeinterface:
		desc := r.RefType(c.Index)
		return 1 + descriptor.ParameterSize(desc), descriptor.TypeSize(descriptor.ReturnType(desc))
	case OpMultianewarray:
		return c.Count, 1
	}
	return 0, 0
}
