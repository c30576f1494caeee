package instruction

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Builder: helper for constructing code bodies
// ---------------------------------------------------------------------------

// Builder helps construct JVM bytecode sequences.
type Builder struct {
	bytes []byte
}

// NewBuilder creates a new bytecode builder.
func NewBuilder() *Builder {
	return &Builder{bytes: make([]byte, 0, 64)}
}

// Bytes returns the constructed bytecode.
func (b *Builder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length, which is the offset of the next
// instruction.
func (b *Builder) Len() int {
	return len(b.bytes)
}

// Emit appends an instruction and returns its offset.
func (b *Builder) Emit(ins Instruction) int {
	offset := len(b.bytes)
	b.bytes = ins.Encode(b.bytes, offset)
	return offset
}

// EmitOp appends an operand-less instruction and returns its offset.
func (b *Builder) EmitOp(op Opcode) int {
	return b.Emit(NewSimple(op))
}

// Load appends the shortest load of a local of field type t.
func (b *Builder) Load(t string, index int) int {
	return b.Emit(NewLoad(t, index))
}

// Store appends the shortest store to a local of field type t.
func (b *Builder) Store(t string, index int) int {
	return b.Emit(NewStore(t, index))
}

// EmitConstant appends a constant pool instruction.
func (b *Builder) EmitConstant(op Opcode, index int) int {
	return b.Emit(NewConstant(op, index))
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label represents a branch target that may not be placed yet.
type Label struct {
	resolved bool
	position int   // target offset once resolved
	refs     []int // offsets of branch instructions waiting for this label
}

// NewLabel creates an unresolved label.
func (b *Builder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Position returns the resolved offset of the label.
func (l *Label) Position() int {
	if !l.resolved {
		panic("label not resolved")
	}
	return l.position
}

// Mark resolves a label to the current position.
func (b *Builder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)

	// Patch all forward references
	for _, ref := range label.refs {
		offset := label.position - ref
		binary.BigEndian.PutUint16(b.bytes[ref+1:], uint16(int16(offset)))
	}
	label.refs = nil
}

// EmitJump emits a 16-bit branch to a label and returns its offset.
func (b *Builder) EmitJump(op Opcode, label *Label) int {
	offset := len(b.bytes)
	if label.resolved {
		return b.Emit(NewBranch(op, label.position-offset))
	}
	label.refs = append(label.refs, offset)
	return b.Emit(NewBranch(op, 0))
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// Disassemble returns a listing of a code body, one instruction per line.
// Undecodable trailing bytes are reported on the last line.
func Disassemble(code []byte) string {
	var sb strings.Builder
	for offset := 0; offset < len(code); {
		ins, err := Decode(code, offset)
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		if err != nil {
			sb.WriteString(err.Error())
			break
		}
		sb.WriteString(formatLocated(offset, ins))
		offset += ins.Length(offset)
	}
	return sb.String()
}

func formatLocated(offset int, ins Instruction) string {
	if br, ok := ins.(*Branch); ok {
		return fmt.Sprintf("%04d  %s (-> %04d)", offset, ins, br.Target(offset))
	}
	return fmt.Sprintf("%04d  %s", offset, ins)
}
