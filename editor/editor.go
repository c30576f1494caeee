// Package editor rewrites JVM code bodies.
//
// A CodeEditor session collects edits keyed by original instruction offset
// (insert before, replace, delete) and materializes them in one pass: it
// replays the original instructions into a fresh buffer, lays out branches,
// and translates every offset-valued structure of the code body (branch
// targets, exception ranges, line numbers, local variable ranges and stack
// map frames) to the new offsets. Max stack and max locals are recomputed.
//
// Branches inside edit payloads are relative to the original offset the edit
// is keyed on, and must target an original instruction. For example, a goto
// with offset -n registered at original offset n jumps to the first
// instruction of the method.
package editor

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/bcopt/classfile"
	"github.com/chazu/bcopt/classfile/instruction"
)

var log = commonlog.GetLogger("bcopt.editor")

// MaxCodeLength is the class file limit on a code body.
const MaxCodeLength = 65535

// CodeEditor edits one code body at a time. It is not safe for concurrent
// use; give each goroutine its own editor.
type CodeEditor struct {
	code     *classfile.CodeAttribute
	located  []instruction.Located
	boundary []bool // indexed by original offset

	pre      map[int][]instruction.Instruction
	replaced map[int][]instruction.Instruction // nil slice: deleted

	offsets *OffsetMap
}

// NewCodeEditor creates an editor without a session.
func NewCodeEditor() *CodeEditor {
	return &CodeEditor{}
}

// Reset starts a session on code, discarding any edits of a previous
// session. It fails when the code does not decode or a branch does not
// target an instruction boundary.
func (e *CodeEditor) Reset(code *classfile.CodeAttribute) error {
	located, err := instruction.DecodeAll(code.Code)
	if err != nil {
		return err
	}
	boundary := make([]bool, len(code.Code)+1)
	for _, l := range located {
		boundary[l.Offset] = true
	}
	for _, l := range located {
		for _, target := range branchTargets(l.Offset, l.Instruction) {
			if target < 0 || target >= len(code.Code) || !boundary[target] {
				return &instruction.DecodeError{
					Offset: l.Offset,
					Msg:    fmt.Sprintf("%s targets %d, which is not an instruction", l.Instruction.Opcode(), target),
				}
			}
		}
	}
	at := func(offset int, endOK bool) bool {
		if offset == len(code.Code) {
			return endOK
		}
		return offset >= 0 && offset < len(code.Code) && boundary[offset]
	}
	for _, ex := range code.ExceptionTable {
		if !at(ex.StartPC, false) || !at(ex.EndPC, true) || !at(ex.HandlerPC, false) {
			return fmt.Errorf("exception range %d-%d -> %d does not align with instructions", ex.StartPC, ex.EndPC, ex.HandlerPC)
		}
	}
	if smt := code.StackMapTable(); smt != nil {
		for _, f := range smt.Frames {
			if !at(f.Offset, false) {
				return fmt.Errorf("stack map frame at %d does not align with an instruction", f.Offset)
			}
		}
	}

	e.code = code
	e.located = located
	e.boundary = boundary
	e.pre = make(map[int][]instruction.Instruction)
	e.replaced = make(map[int][]instruction.Instruction)
	e.offsets = nil
	return nil
}

func (e *CodeEditor) check(op string, offset int) {
	if e.code == nil {
		panic(&ConsistencyError{Offset: offset, Msg: op + " without an open session"})
	}
	if offset < 0 || offset >= len(e.code.Code) || !e.boundary[offset] {
		panic(&OffsetError{Op: op, Offset: offset, Length: len(e.code.Code)})
	}
}

// InsertBeforeOffset emits ins before the instruction at offset. Branches
// to offset land on the first inserted instruction. A later call for the
// same offset replaces the earlier insertion.
func (e *CodeEditor) InsertBeforeOffset(offset int, ins ...instruction.Instruction) {
	e.check("InsertBeforeOffset", offset)
	e.pre[offset] = ins
}

// ReplaceInstruction emits ins instead of the instruction at offset. A
// later replace or delete for the same offset wins; replacing with no
// instructions deletes.
func (e *CodeEditor) ReplaceInstruction(offset int, ins ...instruction.Instruction) {
	e.check("ReplaceInstruction", offset)
	if len(ins) == 0 {
		ins = nil
	}
	e.replaced[offset] = ins
}

// DeleteInstruction drops the instruction at offset. Branches to it land on
// the nearest surviving successor.
func (e *CodeEditor) DeleteInstruction(offset int) {
	e.check("DeleteInstruction", offset)
	e.replaced[offset] = nil
}

// Modified reports whether the session holds any edit.
func (e *CodeEditor) Modified() bool {
	return len(e.pre) > 0 || len(e.replaced) > 0
}

// IsModified reports whether an edit is registered at offset.
func (e *CodeEditor) IsModified(offset int) bool {
	_, p := e.pre[offset]
	_, r := e.replaced[offset]
	return p || r
}

// isDeleted reports whether the instruction at offset is dropped without
// replacement.
func (e *CodeEditor) isDeleted(offset int) bool {
	ins, ok := e.replaced[offset]
	return ok && ins == nil
}

// OffsetMap returns the translation built by the last Apply. After an Apply
// without edits it is the identity on the original boundaries.
func (e *CodeEditor) OffsetMap() *OffsetMap {
	if e.offsets == nil {
		panic(&ConsistencyError{Offset: -1, Msg: "OffsetMap before Apply"})
	}
	return e.offsets
}

// Apply materializes the session's edits into code, which must be the body
// the session was reset with. Without edits the body is left untouched. The
// session ends either way.
func (e *CodeEditor) Apply(c *classfile.Class, m *classfile.Method, code *classfile.CodeAttribute) error {
	if e.code == nil || code != e.code {
		panic(&ConsistencyError{Offset: -1, Msg: "Apply on a code body the session was not reset with"})
	}
	defer e.end()

	if !e.Modified() {
		e.offsets = newOffsetMap(len(code.Code))
		for _, l := range e.located {
			e.offsets.set(l.Offset, l.Offset, l.Offset)
		}
		e.offsets.set(len(code.Code), len(code.Code), len(code.Code))
		return nil
	}

	emissions, index, self := e.replay()
	positions, err := layout(emissions)
	if err != nil {
		return fmt.Errorf("%s: %w", m, err)
	}
	total := positions[len(emissions)]
	if total > MaxCodeLength {
		return fmt.Errorf("%s: %d bytes: %w", m, total, ErrCodeTooLarge)
	}

	offsets := newOffsetMap(len(code.Code))
	for orig, idx := range index {
		if idx >= 0 {
			offsets.set(orig, positions[idx], positions[self[orig]])
		}
	}

	newCode := encode(emissions, positions)
	handlers := remapExceptions(code.ExceptionTable, offsets)
	stack, err := (&StackSizeComputer{Resolver: c.Pool}).Compute(newCode, handlers)
	if err != nil {
		return fmt.Errorf("%s: %w", m, err)
	}
	if len(e.replaced) == 0 {
		stack = max(stack, code.MaxStack)
	}

	oldLength, oldStack, oldLocals := len(code.Code), code.MaxStack, code.MaxLocals
	code.Code = newCode
	code.ExceptionTable = handlers
	remapAttributes(code, offsets, e.survived)
	code.MaxStack = stack
	code.MaxLocals = max(oldLocals, ComputeMaxLocals(c, m, code))

	e.offsets = offsets
	log.Debugf("%s: %d insertions, %d replacements, code %d -> %d bytes, stack %d -> %d, locals %d -> %d",
		m, len(e.pre), len(e.replaced), oldLength, len(newCode), oldStack, code.MaxStack, oldLocals, code.MaxLocals)
	return nil
}

func (e *CodeEditor) end() {
	e.code = nil
	e.located = nil
	e.boundary = nil
	e.pre = nil
	e.replaced = nil
}

// survived reports whether the original instruction at offset was kept or
// replaced rather than deleted.
func (e *CodeEditor) survived(offset int) bool {
	return !e.isDeleted(offset)
}

// ---------------------------------------------------------------------------
// Replay
// ---------------------------------------------------------------------------

// emission is one instruction of the rewritten code. Branch targets are
// held as emission indices until layout assigns positions.
type emission struct {
	ins     instruction.Instruction
	op      instruction.Opcode // branch opcode, widened during layout
	targets []int              // *Branch: one target; *Switch: default, then jumps
}

// replay builds the emission list and, for every original boundary and the
// code end, the index of the first emission at or after it (index) and of
// the first emission past the insertions before it (self).
func (e *CodeEditor) replay() (emissions []emission, index, self []int) {
	length := len(e.code.Code)
	index = make([]int, length+1)
	self = make([]int, length+1)
	for i := range index {
		index[i] = -1
		self[i] = -1
	}

	type pending struct {
		at     int
		origin int
	}
	var unresolved []pending

	emit := func(origin int, ins instruction.Instruction) {
		if len(branchTargets(origin, ins)) > 0 {
			unresolved = append(unresolved, pending{at: len(emissions), origin: origin})
		}
		emissions = append(emissions, emission{ins: ins, op: ins.Opcode()})
	}

	for _, l := range e.located {
		index[l.Offset] = len(emissions)
		for _, ins := range e.pre[l.Offset] {
			emit(l.Offset, ins)
		}
		self[l.Offset] = len(emissions)
		if repl, ok := e.replaced[l.Offset]; ok {
			for _, ins := range repl {
				emit(l.Offset, ins)
			}
			continue
		}
		emit(l.Offset, l.Instruction)
	}
	index[length] = len(emissions)
	self[length] = len(emissions)

	for _, p := range unresolved {
		em := &emissions[p.at]
		for _, target := range branchTargets(p.origin, em.ins) {
			if target < 0 || target >= length || index[target] < 0 {
				panic(&ConsistencyError{Offset: p.origin, Msg: fmt.Sprintf("%s targets original offset %d, which is not an instruction", em.ins, target)})
			}
			// A deleted target with no surviving successor resolves to the
			// code end, where no instruction starts.
			if index[target] >= len(emissions) {
				panic(&ConsistencyError{Offset: p.origin, Msg: fmt.Sprintf("%s targets original offset %d, which resolves past the end of the code", em.ins, target)})
			}
			em.targets = append(em.targets, index[target])
		}
	}
	return emissions, index, self
}

// branchTargets returns the absolute targets of a branch or switch placed at
// offset, or nil for other instructions.
func branchTargets(offset int, ins instruction.Instruction) []int {
	switch ins := ins.(type) {
	case *instruction.Branch:
		return []int{ins.Target(offset)}
	case *instruction.Switch:
		return ins.Targets(offset)
	}
	return nil
}
