package instruction

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single JVM instruction opcode.
type Opcode byte

// Constants
const (
	OpNop        Opcode = 0x00
	OpAconstNull Opcode = 0x01
	OpIconstM1   Opcode = 0x02
	OpIconst0    Opcode = 0x03
	OpIconst1    Opcode = 0x04
	OpIconst2    Opcode = 0x05
	OpIconst3    Opcode = 0x06
	OpIconst4    Opcode = 0x07
	OpIconst5    Opcode = 0x08
	OpLconst0    Opcode = 0x09
	OpLconst1    Opcode = 0x0a
	OpFconst0    Opcode = 0x0b
	OpFconst1    Opcode = 0x0c
	OpFconst2    Opcode = 0x0d
	OpDconst0    Opcode = 0x0e
	OpDconst1    Opcode = 0x0f
	OpBipush     Opcode = 0x10
	OpSipush     Opcode = 0x11
	OpLdc        Opcode = 0x12
	OpLdcW       Opcode = 0x13
	OpLdc2W      Opcode = 0x14
)

// Loads
const (
	OpIload   Opcode = 0x15
	OpLload   Opcode = 0x16
	OpFload   Opcode = 0x17
	OpDload   Opcode = 0x18
	OpAload   Opcode = 0x19
	OpIload0  Opcode = 0x1a
	OpLload0  Opcode = 0x1e
	OpFload0  Opcode = 0x22
	OpDload0  Opcode = 0x26
	OpAload0  Opcode = 0x2a
	OpIaload  Opcode = 0x2e
	OpLaload  Opcode = 0x2f
	OpFaload  Opcode = 0x30
	OpDaload  Opcode = 0x31
	OpAaload  Opcode = 0x32
	OpBaload  Opcode = 0x33
	OpCaload  Opcode = 0x34
	OpSaload  Opcode = 0x35
	OpAload3  Opcode = 0x2d
	OpIload3  Opcode = 0x1d
	OpLload3  Opcode = 0x21
	OpFload3  Opcode = 0x25
	OpDload3  Opcode = 0x29
)

// Stores
const (
	OpIstore  Opcode = 0x36
	OpLstore  Opcode = 0x37
	OpFstore  Opcode = 0x38
	OpDstore  Opcode = 0x39
	OpAstore  Opcode = 0x3a
	OpIstore0 Opcode = 0x3b
	OpLstore0 Opcode = 0x3f
	OpFstore0 Opcode = 0x43
	OpDstore0 Opcode = 0x47
	OpAstore0 Opcode = 0x4b
	OpAstore3 Opcode = 0x4e
	OpIastore Opcode = 0x4f
	OpLastore Opcode = 0x50
	OpFastore Opcode = 0x51
	OpDastore Opcode = 0x52
	OpAastore Opcode = 0x53
	OpBastore Opcode = 0x54
	OpCastore Opcode = 0x55
	OpSastore Opcode = 0x56
)

// Stack
const (
	OpPop    Opcode = 0x57
	OpPop2   Opcode = 0x58
	OpDup    Opcode = 0x59
	OpDupX1  Opcode = 0x5a
	OpDupX2  Opcode = 0x5b
	OpDup2   Opcode = 0x5c
	OpDup2X1 Opcode = 0x5d
	OpDup2X2 Opcode = 0x5e
	OpSwap   Opcode = 0x5f
)

// Math and conversions
const (
	OpIadd  Opcode = 0x60
	OpLadd  Opcode = 0x61
	OpFadd  Opcode = 0x62
	OpDadd  Opcode = 0x63
	OpIsub  Opcode = 0x64
	OpImul  Opcode = 0x68
	OpLmul  Opcode = 0x69
	OpIdiv  Opcode = 0x6c
	OpIrem  Opcode = 0x70
	OpIneg  Opcode = 0x74
	OpIinc  Opcode = 0x84
	OpI2l   Opcode = 0x85
	OpL2i   Opcode = 0x88
	OpLcmp  Opcode = 0x94
	OpFcmpl Opcode = 0x95
	OpDcmpg Opcode = 0x98
)

// Control flow
const (
	OpIfeq         Opcode = 0x99
	OpIfne         Opcode = 0x9a
	OpIflt         Opcode = 0x9b
	OpIfge         Opcode = 0x9c
	OpIfgt         Opcode = 0x9d
	OpIfle         Opcode = 0x9e
	OpIfIcmpeq     Opcode = 0x9f
	OpIfIcmpne     Opcode = 0xa0
	OpIfIcmplt     Opcode = 0xa1
	OpIfIcmpge     Opcode = 0xa2
	OpIfIcmpgt     Opcode = 0xa3
	OpIfIcmple     Opcode = 0xa4
	OpIfAcmpeq     Opcode = 0xa5
	OpIfAcmpne     Opcode = 0xa6
	OpGoto         Opcode = 0xa7
	OpJsr          Opcode = 0xa8
	OpRet          Opcode = 0xa9
	OpTableSwitch  Opcode = 0xaa
	OpLookupSwitch Opcode = 0xab
	OpIreturn      Opcode = 0xac
	OpLreturn      Opcode = 0xad
	OpFreturn      Opcode = 0xae
	OpDreturn      Opcode = 0xaf
	OpAreturn      Opcode = 0xb0
	OpReturn       Opcode = 0xb1
	OpIfnull       Opcode = 0xc6
	OpIfnonnull    Opcode = 0xc7
	OpGotoW        Opcode = 0xc8
	OpJsrW         Opcode = 0xc9
)

// References
const (
	OpGetstatic       Opcode = 0xb2
	OpPutstatic       Opcode = 0xb3
	OpGetfield        Opcode = 0xb4
	OpPutfield        Opcode = 0xb5
	OpInvokevirtual   Opcode = 0xb6
	OpInvokespecial   Opcode = 0xb7
	OpInvokestatic    Opcode = 0xb8
	OpInvokeinterface Opcode = 0xb9
	OpInvokedynamic   Opcode = 0xba
	OpNew             Opcode = 0xbb
	OpNewarray        Opcode = 0xbc
	OpAnewarray       Opcode = 0xbd
	OpArraylength     Opcode = 0xbe
	OpAthrow          Opcode = 0xbf
	OpCheckcast       Opcode = 0xc0
	OpInstanceof      Opcode = 0xc1
	OpMonitorenter    Opcode = 0xc2
	OpMonitorexit     Opcode = 0xc3
	OpWide            Opcode = 0xc4
	OpMultianewarray  Opcode = 0xc5
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// Format classifies how an opcode's operands are laid out.
type Format int

const (
	FormatNone     Format = iota // no operands
	FormatByte                   // signed byte immediate (bipush, newarray)
	FormatShort                  // signed short immediate (sipush)
	FormatVar                    // local variable index (+ increment for iinc)
	FormatVarShort               // implicit local variable index (iload_0 ...)
	FormatConst1                 // 8-bit constant pool index (ldc)
	FormatConst2                 // 16-bit constant pool index
	FormatBranch                 // 16-bit relative branch
	FormatBranchW                // 32-bit relative branch
	FormatSwitch                 // tableswitch / lookupswitch
	FormatWide                   // wide prefix
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name   string // mnemonic
	Format Format // operand layout
	Pop    int    // stack slots popped (-1 = depends on operands)
	Push   int    // stack slots pushed (-1 = depends on operands)
}

const variable = -1

// opcodeTable maps opcodes to their metadata.
var opcodeTable [256]OpcodeInfo

func def(op Opcode, name string, format Format, pop, push int) {
	opcodeTable[op] = OpcodeInfo{Name: name, Format: format, Pop: pop, Push: push}
}

func init() {
	def(OpNop, "nop", FormatNone, 0, 0)
	def(OpAconstNull, "aconst_null", FormatNone, 0, 1)
	for i, name := range []string{"iconst_m1", "iconst_0", "iconst_1", "iconst_2", "iconst_3", "iconst_4", "iconst_5"} {
		def(OpIconstM1+Opcode(i), name, FormatNone, 0, 1)
	}
	def(OpLconst0, "lconst_0", FormatNone, 0, 2)
	def(OpLconst1, "lconst_1", FormatNone, 0, 2)
	def(OpFconst0, "fconst_0", FormatNone, 0, 1)
	def(OpFconst1, "fconst_1", FormatNone, 0, 1)
	def(OpFconst2, "fconst_2", FormatNone, 0, 1)
	def(OpDconst0, "dconst_0", FormatNone, 0, 2)
	def(OpDconst1, "dconst_1", FormatNone, 0, 2)
	def(OpBipush, "bipush", FormatByte, 0, 1)
	def(OpSipush, "sipush", FormatShort, 0, 1)
	def(OpLdc, "ldc", FormatConst1, 0, 1)
	def(OpLdcW, "ldc_w", FormatConst2, 0, 1)
	def(OpLdc2W, "ldc2_w", FormatConst2, 0, 2)

	// Typed load/store families share a layout: base op, then the four
	// implicit-index forms.
	kinds := []struct {
		prefix string
		size   int
	}{{"i", 1}, {"l", 2}, {"f", 1}, {"d", 2}, {"a", 1}}
	for k, kind := range kinds {
		def(OpIload+Opcode(k), kind.prefix+"load", FormatVar, 0, kind.size)
		def(OpIstore+Opcode(k), kind.prefix+"store", FormatVar, kind.size, 0)
		for n := 0; n < 4; n++ {
			def(OpIload0+Opcode(k*4+n), fmt.Sprintf("%sload_%d", kind.prefix, n), FormatVarShort, 0, kind.size)
			def(OpIstore0+Opcode(k*4+n), fmt.Sprintf("%sstore_%d", kind.prefix, n), FormatVarShort, kind.size, 0)
		}
	}

	def(OpIaload, "iaload", FormatNone, 2, 1)
	def(OpLaload, "laload", FormatNone, 2, 2)
	def(OpFaload, "faload", FormatNone, 2, 1)
	def(OpDaload, "daload", FormatNone, 2, 2)
	def(OpAaload, "aaload", FormatNone, 2, 1)
	def(OpBaload, "baload", FormatNone, 2, 1)
	def(OpCaload, "caload", FormatNone, 2, 1)
	def(OpSaload, "saload", FormatNone, 2, 1)
	def(OpIastore, "iastore", FormatNone, 3, 0)
	def(OpLastore, "lastore", FormatNone, 4, 0)
	def(OpFastore, "fastore", FormatNone, 3, 0)
	def(OpDastore, "dastore", FormatNone, 4, 0)
	def(OpAastore, "aastore", FormatNone, 3, 0)
	def(OpBastore, "bastore", FormatNone, 3, 0)
	def(OpCastore, "castore", FormatNone, 3, 0)
	def(OpSastore, "sastore", FormatNone, 3, 0)

	def(OpPop, "pop", FormatNone, 1, 0)
	def(OpPop2, "pop2", FormatNone, 2, 0)
	def(OpDup, "dup", FormatNone, 1, 2)
	def(OpDupX1, "dup_x1", FormatNone, 2, 3)
	def(OpDupX2, "dup_x2", FormatNone, 3, 4)
	def(OpDup2, "dup2", FormatNone, 2, 4)
	def(OpDup2X1, "dup2_x1", FormatNone, 3, 5)
	def(OpDup2X2, "dup2_x2", FormatNone, 4, 6)
	def(OpSwap, "swap", FormatNone, 2, 2)

	// Binary arithmetic: add, sub, mul, div, rem in i, l, f, d order.
	for a, name := range []string{"add", "sub", "mul", "div", "rem"} {
		base := OpIadd + Opcode(a*4)
		def(base, "i"+name, FormatNone, 2, 1)
		def(base+1, "l"+name, FormatNone, 4, 2)
		def(base+2, "f"+name, FormatNone, 2, 1)
		def(base+3, "d"+name, FormatNone, 4, 2)
	}
	def(0x74, "ineg", FormatNone, 1, 1)
	def(0x75, "lneg", FormatNone, 2, 2)
	def(0x76, "fneg", FormatNone, 1, 1)
	def(0x77, "dneg", FormatNone, 2, 2)
	def(0x78, "ishl", FormatNone, 2, 1)
	def(0x79, "lshl", FormatNone, 3, 2)
	def(0x7a, "ishr", FormatNone, 2, 1)
	def(0x7b, "lshr", FormatNone, 3, 2)
	def(0x7c, "iushr", FormatNone, 2, 1)
	def(0x7d, "lushr", FormatNone, 3, 2)
	def(0x7e, "iand", FormatNone, 2, 1)
	def(0x7f, "land", FormatNone, 4, 2)
	def(0x80, "ior", FormatNone, 2, 1)
	def(0x81, "lor", FormatNone, 4, 2)
	def(0x82, "ixor", FormatNone, 2, 1)
	def(0x83, "lxor", FormatNone, 4, 2)
	def(OpIinc, "iinc", FormatVar, 0, 0)

	def(0x85, "i2l", FormatNone, 1, 2)
	def(0x86, "i2f", FormatNone, 1, 1)
	def(0x87, "i2d", FormatNone, 1, 2)
	def(0x88, "l2i", FormatNone, 2, 1)
	def(0x89, "l2f", FormatNone, 2, 1)
	def(0x8a, "l2d", FormatNone, 2, 2)
	def(0x8b, "f2i", FormatNone, 1, 1)
	def(0x8c, "f2l", FormatNone, 1, 2)
	def(0x8d, "f2d", FormatNone, 1, 2)
	def(0x8e, "d2i", FormatNone, 2, 1)
	def(0x8f, "d2l", FormatNone, 2, 2)
	def(0x90, "d2f", FormatNone, 2, 1)
	def(0x91, "i2b", FormatNone, 1, 1)
	def(0x92, "i2c", FormatNone, 1, 1)
	def(0x93, "i2s", FormatNone, 1, 1)
	def(0x94, "lcmp", FormatNone, 4, 1)
	def(0x95, "fcmpl", FormatNone, 2, 1)
	def(0x96, "fcmpg", FormatNone, 2, 1)
	def(0x97, "dcmpl", FormatNone, 4, 1)
	def(0x98, "dcmpg", FormatNone, 4, 1)

	for i, name := range []string{"ifeq", "ifne", "iflt", "ifge", "ifgt", "ifle"} {
		def(OpIfeq+Opcode(i), name, FormatBranch, 1, 0)
	}
	for i, name := range []string{"if_icmpeq", "if_icmpne", "if_icmplt", "if_icmpge", "if_icmpgt", "if_icmple", "if_acmpeq", "if_acmpne"} {
		def(OpIfIcmpeq+Opcode(i), name, FormatBranch, 2, 0)
	}
	def(OpGoto, "goto", FormatBranch, 0, 0)
	def(OpJsr, "jsr", FormatBranch, 0, 1)
	def(OpRet, "ret", FormatVar, 0, 0)
	def(OpTableSwitch, "tableswitch", FormatSwitch, 1, 0)
	def(OpLookupSwitch, "lookupswitch", FormatSwitch, 1, 0)
	def(OpIreturn, "ireturn", FormatNone, 1, 0)
	def(OpLreturn, "lreturn", FormatNone, 2, 0)
	def(OpFreturn, "freturn", FormatNone, 1, 0)
	def(OpDreturn, "dreturn", FormatNone, 2, 0)
	def(OpAreturn, "areturn", FormatNone, 1, 0)
	def(OpReturn, "return", FormatNone, 0, 0)

	def(OpGetstatic, "getstatic", FormatConst2, 0, variable)
	def(OpPutstatic, "putstatic", FormatConst2, variable, 0)
	def(OpGetfield, "getfield", FormatConst2, 1, variable)
	def(OpPutfield, "putfield", FormatConst2, variable, 0)
	def(OpInvokevirtual, "invokevirtual", FormatConst2, variable, variable)
	def(OpInvokespecial, "invokespecial", FormatConst2, variable, variable)
	def(OpInvokestatic, "invokestatic", FormatConst2, variable, variable)
	def(OpInvokeinterface, "invokeinterface", FormatConst2, variable, variable)
	def(OpInvokedynamic, "invokedynamic", FormatConst2, variable, variable)
	def(OpNew, "new", FormatConst2, 0, 1)
	def(OpNewarray, "newarray", FormatByte, 1, 1)
	def(OpAnewarray, "anewarray", FormatConst2, 1, 1)
	def(OpArraylength, "arraylength", FormatNone, 1, 1)
	def(OpAthrow, "athrow", FormatNone, 1, 0)
	def(OpCheckcast, "checkcast", FormatConst2, 1, 1)
	def(OpInstanceof, "instanceof", FormatConst2, 1, 1)
	def(OpMonitorenter, "monitorenter", FormatNone, 1, 0)
	def(OpMonitorexit, "monitorexit", FormatNone, 1, 0)
	def(OpWide, "wide", FormatWide, 0, 0)
	def(OpMultianewarray, "multianewarray", FormatConst2, variable, 1)
	def(OpIfnull, "ifnull", FormatBranch, 1, 0)
	def(OpIfnonnull, "ifnonnull", FormatBranch, 1, 0)
	def(OpGotoW, "goto_w", FormatBranchW, 0, 0)
	def(OpJsrW, "jsr_w", FormatBranchW, 0, 1)
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info := opcodeTable[op]; info.Name != "" {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("unknown_%02x", byte(op))}
}

// Valid reports whether op is a defined JVM opcode.
func (op Opcode) Valid() bool {
	return opcodeTable[op].Name != ""
}

// Name returns the mnemonic for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// IsReturn reports whether op returns from the method.
func (op Opcode) IsReturn() bool {
	return op >= OpIreturn && op <= OpReturn
}

// IsInvoke reports whether op invokes a method.
func (op Opcode) IsInvoke() bool {
	return op >= OpInvokevirtual && op <= OpInvokedynamic
}

// IsFieldAccess reports whether op reads or writes a field.
func (op Opcode) IsFieldAccess() bool {
	return op >= OpGetstatic && op <= OpPutfield
}

// IsConditionalBranch reports whether op branches on a condition.
func (op Opcode) IsConditionalBranch() bool {
	return (op >= OpIfeq && op <= OpIfAcmpne) || op == OpIfnull || op == OpIfnonnull
}

// EndsBlock reports whether control never falls through op.
func (op Opcode) EndsBlock() bool {
	switch op {
	case OpGoto, OpGotoW, OpRet, OpTableSwitch, OpLookupSwitch, OpAthrow:
		return true
	}
	return op.IsReturn()
}

// ReturnOpcodeFor returns the return opcode matching a return type descriptor.
func ReturnOpcodeFor(ret string) Opcode {
	switch ret[0] {
	case 'V':
		return OpReturn
	case 'J':
		return OpLreturn
	case 'F':
		return OpFreturn
	case 'D':
		return OpDreturn
	case 'L', '[':
		return OpAreturn
	default:
		return OpIreturn
	}
}

// StoreOpcodeFor returns the canonical store opcode for a field type.
func StoreOpcodeFor(t string) Opcode {
	return typedOpcode(OpIstore, t)
}

// LoadOpcodeFor returns the canonical load opcode for a field type.
func LoadOpcodeFor(t string) Opcode {
	return typedOpcode(OpIload, t)
}

func typedOpcode(base Opcode, t string) Opcode {
	switch t[0] {
	case 'J':
		return base + 1
	case 'F':
		return base + 2
	case 'D':
		return base + 3
	case 'L', '[':
		return base + 4
	default:
		return base
	}
}
