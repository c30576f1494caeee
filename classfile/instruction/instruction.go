package instruction

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Instruction kinds
// ---------------------------------------------------------------------------

// Instruction is a decoded JVM instruction. Offset-dependent encodings
// (switch padding) take the offset at which the instruction is placed.
type Instruction interface {
	Opcode() Opcode
	Length(offset int) int
	Encode(buf []byte, offset int) []byte
	String() string
}

// Simple is an instruction without operands, or with an immediate value
// (bipush, sipush, newarray).
type Simple struct {
	Op    Opcode
	Value int
}

// Variable is a local variable instruction: loads, stores, iinc and ret.
// Op may be one of the implicit-index forms such as iload_1, in which case
// Index must agree with it.
type Variable struct {
	Op        Opcode
	Index     int
	Increment int  // iinc only
	Wide      bool // force the wide encoding
}

// Constant is an instruction with a constant pool operand.
type Constant struct {
	Op    Opcode
	Index int // constant pool index
	Count int // invokeinterface argument count, multianewarray dimensions
}

// Branch is a jump with a single relative target.
type Branch struct {
	Op     Opcode
	Offset int // relative to the start of the instruction
}

// Switch is a tableswitch or lookupswitch. For tableswitch, Keys is nil and
// the case values run from Low upward; for lookupswitch, Keys holds the
// sorted match values. Jumps are relative to the start of the instruction.
type Switch struct {
	Op      Opcode
	Default int
	Low     int
	Keys    []int
	Jumps   []int
}

func (s *Simple) Opcode() Opcode   { return s.Op }
func (v *Variable) Opcode() Opcode { return v.Op }
func (c *Constant) Opcode() Opcode { return c.Op }
func (b *Branch) Opcode() Opcode   { return b.Op }
func (s *Switch) Opcode() Opcode   { return s.Op }

// ---------------------------------------------------------------------------
// Lengths
// ---------------------------------------------------------------------------

func (s *Simple) Length(int) int {
	switch s.Op.Info().Format {
	case FormatByte:
		return 2
	case FormatShort:
		return 3
	}
	return 1
}

func (v *Variable) isWide() bool {
	if v.Wide || v.Index > math.MaxUint8 {
		return true
	}
	return v.Op == OpIinc && (v.Increment < math.MinInt8 || v.Increment > math.MaxInt8)
}

func (v *Variable) Length(int) int {
	if v.Op.Info().Format == FormatVarShort {
		return 1
	}
	wide := v.isWide()
	switch {
	case v.Op == OpIinc && wide:
		return 6
	case v.Op == OpIinc:
		return 3
	case wide:
		return 4
	}
	return 2
}

func (c *Constant) Length(int) int {
	switch c.Op {
	case OpLdc:
		if c.Index > math.MaxUint8 {
			return 3
		}
		return 2
	case OpInvokeinterface, OpInvokedynamic:
		return 5
	case OpMultianewarray:
		return 4
	}
	return 3
}

func (b *Branch) Length(int) int {
	if b.Op == OpGotoW || b.Op == OpJsrW {
		return 5
	}
	return 3
}

// padding returns the number of alignment bytes after the opcode.
func padding(offset int) int {
	return (4 - (offset+1)%4) % 4
}

func (s *Switch) Length(offset int) int {
	n := 1 + padding(offset)
	if s.Op == OpTableSwitch {
		return n + 12 + 4*len(s.Jumps)
	}
	return n + 8 + 8*len(s.Jumps)
}

// High returns the highest case value of a tableswitch.
func (s *Switch) High() int {
	return s.Low + len(s.Jumps) - 1
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

func appendU16(buf []byte, v int) []byte {
	return binary.BigEndian.AppendUint16(buf, uint16(v))
}

func appendU32(buf []byte, v int) []byte {
	return binary.BigEndian.AppendUint32(buf, uint32(int32(v)))
}

func (s *Simple) Encode(buf []byte, _ int) []byte {
	buf = append(buf, byte(s.Op))
	switch s.Op.Info().Format {
	case FormatByte:
		buf = append(buf, byte(int8(s.Value)))
	case FormatShort:
		buf = appendU16(buf, s.Value)
	}
	return buf
}

func (v *Variable) Encode(buf []byte, _ int) []byte {
	if v.Op.Info().Format == FormatVarShort {
		return append(buf, byte(v.Op))
	}
	if v.isWide() {
		buf = append(buf, byte(OpWide), byte(v.Op))
		buf = appendU16(buf, v.Index)
		if v.Op == OpIinc {
			buf = appendU16(buf, v.Increment)
		}
		return buf
	}
	buf = append(buf, byte(v.Op), byte(v.Index))
	if v.Op == OpIinc {
		buf = append(buf, byte(int8(v.Increment)))
	}
	return buf
}

func (c *Constant) Encode(buf []byte, _ int) []byte {
	switch c.Op {
	case OpLdc:
		if c.Index > math.MaxUint8 {
			buf = append(buf, byte(OpLdcW))
			return appendU16(buf, c.Index)
		}
		return append(buf, byte(OpLdc), byte(c.Index))
	case OpInvokeinterface:
		buf = append(buf, byte(c.Op))
		buf = appendU16(buf, c.Index)
		return append(buf, byte(c.Count), 0)
	case OpInvokedynamic:
		buf = append(buf, byte(c.Op))
		buf = appendU16(buf, c.Index)
		return append(buf, 0, 0)
	case OpMultianewarray:
		buf = append(buf, byte(c.Op))
		buf = appendU16(buf, c.Index)
		return append(buf, byte(c.Count))
	}
	buf = append(buf, byte(c.Op))
	return appendU16(buf, c.Index)
}

func (b *Branch) Encode(buf []byte, _ int) []byte {
	buf = append(buf, byte(b.Op))
	if b.Op == OpGotoW || b.Op == OpJsrW {
		return appendU32(buf, b.Offset)
	}
	return appendU16(buf, b.Offset)
}

func (s *Switch) Encode(buf []byte, offset int) []byte {
	buf = append(buf, byte(s.Op))
	for i := 0; i < padding(offset); i++ {
		buf = append(buf, 0)
	}
	buf = appendU32(buf, s.Default)
	if s.Op == OpTableSwitch {
		buf = appendU32(buf, s.Low)
		buf = appendU32(buf, s.High())
		for _, j := range s.Jumps {
			buf = appendU32(buf, j)
		}
		return buf
	}
	buf = appendU32(buf, len(s.Jumps))
	for i, j := range s.Jumps {
		buf = appendU32(buf, s.Keys[i])
		buf = appendU32(buf, j)
	}
	return buf
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Canonical returns the explicit-index opcode for implicit-index forms,
// e.g. iload for iload_2.
func (v *Variable) Canonical() Opcode {
	switch {
	case v.Op >= OpIload0 && v.Op <= OpAload3:
		return OpIload + (v.Op-OpIload0)/4
	case v.Op >= OpIstore0 && v.Op <= OpAstore3:
		return OpIstore + (v.Op-OpIstore0)/4
	}
	return v.Op
}

// IsLoad reports whether v reads a local variable onto the stack.
func (v *Variable) IsLoad() bool {
	op := v.Canonical()
	return op >= OpIload && op <= OpAload
}

// IsStore reports whether v writes a local variable from the stack.
func (v *Variable) IsStore() bool {
	op := v.Canonical()
	return op >= OpIstore && op <= OpAstore
}

// SlotSize returns the number of local slots the variable occupies.
func (v *Variable) SlotSize() int {
	switch v.Canonical() {
	case OpLload, OpDload, OpLstore, OpDstore:
		return 2
	}
	return 1
}

// Target returns the absolute target of a branch placed at offset.
func (b *Branch) Target(offset int) int {
	return offset + b.Offset
}

// Targets returns every absolute target of the switch, default first.
func (s *Switch) Targets(offset int) []int {
	targets := make([]int, 0, len(s.Jumps)+1)
	targets = append(targets, offset+s.Default)
	for _, j := range s.Jumps {
		targets = append(targets, offset+j)
	}
	return targets
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// NewSimple returns an operand-less instruction.
func NewSimple(op Opcode) *Simple {
	return &Simple{Op: op}
}

// NewVariable returns a load or store of the given canonical opcode,
// choosing the implicit-index form for slots 0 to 3.
func NewVariable(op Opcode, index int) *Variable {
	switch {
	case index <= 3 && op >= OpIload && op <= OpAload:
		return &Variable{Op: OpIload0 + (op-OpIload)*4 + Opcode(index), Index: index}
	case index <= 3 && op >= OpIstore && op <= OpAstore:
		return &Variable{Op: OpIstore0 + (op-OpIstore)*4 + Opcode(index), Index: index}
	}
	return &Variable{Op: op, Index: index}
}

// NewLoad returns the load of a local of field type t.
func NewLoad(t string, index int) *Variable {
	return NewVariable(LoadOpcodeFor(t), index)
}

// NewStore returns the store to a local of field type t.
func NewStore(t string, index int) *Variable {
	return NewVariable(StoreOpcodeFor(t), index)
}

// NewIinc returns an iinc of the given local.
func NewIinc(index, increment int) *Variable {
	return &Variable{Op: OpIinc, Index: index, Increment: increment}
}

// NewConstant returns a constant pool instruction.
func NewConstant(op Opcode, index int) *Constant {
	return &Constant{Op: op, Index: index}
}

// NewBranch returns a branch with a relative offset.
func NewBranch(op Opcode, offset int) *Branch {
	return &Branch{Op: op, Offset: offset}
}

// PushInt returns the shortest instruction pushing an int constant that does
// not need the constant pool.
func PushInt(v int) Instruction {
	switch {
	case v >= -1 && v <= 5:
		return NewSimple(OpIconst0 + Opcode(v))
	case v >= math.MinInt8 && v <= math.MaxInt8:
		return &Simple{Op: OpBipush, Value: v}
	case v >= math.MinInt16 && v <= math.MaxInt16:
		return &Simple{Op: OpSipush, Value: v}
	}
	panic(fmt.Sprintf("instruction.PushInt: %d needs a constant pool entry", v))
}

// PushDefault returns the instruction pushing the zero value of field type t.
func PushDefault(t string) Instruction {
	switch t[0] {
	case 'J':
		return NewSimple(OpLconst0)
	case 'F':
		return NewSimple(OpFconst0)
	case 'D':
		return NewSimple(OpDconst0)
	case 'L', '[':
		return NewSimple(OpAconstNull)
	}
	return NewSimple(OpIconst0)
}

// ---------------------------------------------------------------------------
// Formatting
// ---------------------------------------------------------------------------

func (s *Simple) String() string {
	switch s.Op.Info().Format {
	case FormatByte, FormatShort:
		return fmt.Sprintf("%s %d", s.Op, s.Value)
	}
	return s.Op.Name()
}

func (v *Variable) String() string {
	switch {
	case v.Op.Info().Format == FormatVarShort:
		return v.Op.Name()
	case v.Op == OpIinc:
		return fmt.Sprintf("iinc %d %d", v.Index, v.Increment)
	}
	return fmt.Sprintf("%s %d", v.Op, v.Index)
}

func (c *Constant) String() string {
	switch c.Op {
	case OpInvokeinterface, OpMultianewarray:
		return fmt.Sprintf("%s #%d %d", c.Op, c.Index, c.Count)
	}
	return fmt.Sprintf("%s #%d", c.Op, c.Index)
}

func (b *Branch) String() string {
	return fmt.Sprintf("%s %+d", b.Op, b.Offset)
}

func (s *Switch) String() string {
	return fmt.Sprintf("%s default=%+d cases=%d", s.Op, s.Default, len(s.Jumps))
}
