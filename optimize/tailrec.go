// Package optimize holds the code-rewriting passes: tail recursion to loop
// conversion and member reference generalization.
package optimize

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/bcopt/classfile"
	"github.com/chazu/bcopt/classfile/descriptor"
	"github.com/chazu/bcopt/classfile/instruction"
	"github.com/chazu/bcopt/editor"
	"github.com/chazu/bcopt/info"
)

var log = commonlog.GetLogger("bcopt.optimize")

// ---------------------------------------------------------------------------
// TailRecursionSimplifier
// ---------------------------------------------------------------------------

// TailRecursionSimplifier turns calls of a method to itself that are
// immediately returned into a jump back to the method entry. The arguments
// on the stack are stored into the parameter slots first, last parameter
// first, receiver last.
//
// Only methods that cannot be overridden qualify (private, static or final),
// and not synchronized, native or abstract ones, nor initializers. A call
// qualifies when it is not inside an exception range and the stack holds
// nothing but its arguments.
type TailRecursionSimplifier struct {
	// Store, when set, gets a fresh code info for every rewritten body.
	Store *info.Store
	// Observer, when set, is called once per rewritten call with the
	// original offset and instruction.
	Observer classfile.InstructionVisitor

	editor *editor.CodeEditor
	errs   []error
	count  int
}

// NewTailRecursionSimplifier creates a simplifier.
func NewTailRecursionSimplifier(store *info.Store, observer classfile.InstructionVisitor) *TailRecursionSimplifier {
	return &TailRecursionSimplifier{
		Store:    store,
		Observer: observer,
		editor:   editor.NewCodeEditor(),
	}
}

// VisitField does nothing.
func (s *TailRecursionSimplifier) VisitField(*classfile.Class, *classfile.Field) {}

// VisitMethod simplifies m, recording a failure for Err.
func (s *TailRecursionSimplifier) VisitMethod(c *classfile.Class, m *classfile.Method) {
	n, err := s.Simplify(c, m)
	if err != nil {
		s.errs = append(s.errs, err)
	}
	s.count += n
}

// Err returns the failures recorded by VisitMethod.
func (s *TailRecursionSimplifier) Err() error {
	return errors.Join(s.errs...)
}

// Count returns the number of calls rewritten through VisitMethod.
func (s *TailRecursionSimplifier) Count() int {
	return s.count
}

// IsEligible reports whether m may have its self calls turned into jumps.
func IsEligible(m *classfile.Method) bool {
	a := m.Access
	if !(a.IsPrivate() || a.IsStatic() || a.IsFinal()) {
		return false
	}
	if a.IsSynchronized() || a.IsNative() || a.IsAbstract() {
		return false
	}
	if m.IsInitializer() || m.IsClassInitializer() {
		return false
	}
	return m.Code() != nil
}

type tailCall struct {
	offset int
	call   instruction.Instruction
	ret    int // offset of the return following the call
}

// Simplify rewrites the qualifying self calls of m and returns how many it
// rewrote. An ineligible method is left alone without opening an editor
// session.
func (s *TailRecursionSimplifier) Simplify(c *classfile.Class, m *classfile.Method) (int, error) {
	if !IsEligible(m) {
		return 0, nil
	}
	code := m.Code()
	calls, err := s.findTailCalls(c, m, code)
	if err != nil || len(calls) == 0 {
		return 0, err
	}

	if s.editor == nil {
		s.editor = editor.NewCodeEditor()
	}
	e := s.editor
	if err := e.Reset(code); err != nil {
		return 0, fmt.Errorf("%s: %w", m, err)
	}

	targeted := branchTargets(code)
	stores, maxSlot := parameterStores(m)
	for _, tc := range calls {
		payload := append(append([]instruction.Instruction(nil), stores...), instruction.NewBranch(instruction.OpGoto, -tc.offset))
		e.ReplaceInstruction(tc.offset, payload...)
		if !targeted[tc.ret] {
			e.DeleteInstruction(tc.ret)
		}
	}

	if err := e.Apply(c, m, code); err != nil {
		return 0, fmt.Errorf("tail recursion in %s: %w", m, err)
	}
	if code.MaxLocals < maxSlot {
		code.MaxLocals = maxSlot
	}
	// The entry is now a jump target.
	if smt := code.StackMapTable(); smt != nil {
		if _, ok := smt.FrameAt(0); !ok {
			smt.Frames = append([]classfile.StackMapFrame{classfile.InitialFrame(c, m)}, smt.Frames...)
		}
	}
	if s.Store != nil {
		s.Store.RefreshCode(code)
	}
	if s.Observer != nil {
		for _, tc := range calls {
			s.Observer.VisitInstruction(c, m, code, tc.offset, tc.call)
		}
	}
	log.Debugf("%s: %d tail calls turned into jumps", m, len(calls))
	return len(calls), nil
}

func (s *TailRecursionSimplifier) findTailCalls(c *classfile.Class, m *classfile.Method, code *classfile.CodeAttribute) ([]tailCall, error) {
	located, err := instruction.DecodeAll(code.Code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m, err)
	}

	static := m.Access.IsStatic()
	desc := m.Descriptor()
	ret := instruction.ReturnOpcodeFor(descriptor.ReturnType(desc))
	argSize := descriptor.MethodLocalsSize(desc, static)

	var depths map[int]int
	var calls []tailCall
	for i, l := range located[:max(len(located)-1, 0)] {
		ins, ok := l.Instruction.(*instruction.Constant)
		if !ok || !s.isSelfCall(c, m, ins, static) {
			continue
		}
		next := located[i+1]
		if next.Opcode() != ret || code.IsCovered(l.Offset) {
			continue
		}
		if depths == nil {
			depths, err = (&editor.StackSizeComputer{Resolver: c.Pool}).Depths(code.Code, code.ExceptionTable)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", m, err)
			}
		}
		if d, ok := depths[l.Offset]; !ok || d != argSize {
			continue
		}
		calls = append(calls, tailCall{offset: l.Offset, call: ins, ret: next.Offset})
	}
	return calls, nil
}

func (s *TailRecursionSimplifier) isSelfCall(c *classfile.Class, m *classfile.Method, ins *instruction.Constant, static bool) bool {
	switch ins.Op {
	case instruction.OpInvokestatic:
		if !static {
			return false
		}
	case instruction.OpInvokevirtual, instruction.OpInvokespecial:
		if static {
			return false
		}
	default:
		return false
	}
	p := c.Pool
	return p.RefClassName(ins.Index) == c.Name &&
		p.RefName(ins.Index) == m.Name() &&
		p.RefType(ins.Index) == m.Descriptor()
}

// parameterStores returns the stores that move the arguments of a call to m
// from the stack into m's parameter slots, and the number of slots they use.
func parameterStores(m *classfile.Method) ([]instruction.Instruction, int) {
	params := descriptor.ParameterTypes(m.Descriptor())
	slot := 0
	if !m.Access.IsStatic() {
		slot = 1
	}
	slots := make([]int, len(params))
	for i, p := range params {
		slots[i] = slot
		slot += descriptor.TypeSize(p)
	}

	var stores []instruction.Instruction
	for i := len(params) - 1; i >= 0; i-- {
		stores = append(stores, instruction.NewStore(params[i], slots[i]))
	}
	if !m.Access.IsStatic() {
		stores = append(stores, instruction.NewStore("L", 0))
	}
	return stores, slot
}

// branchTargets returns the offsets code can jump to: branch and switch
// targets and exception handlers.
func branchTargets(code *classfile.CodeAttribute) map[int]bool {
	targets := make(map[int]bool)
	located, err := instruction.DecodeAll(code.Code)
	if err != nil {
		return targets
	}
	for _, l := range located {
		switch ins := l.Instruction.(type) {
		case *instruction.Branch:
			targets[ins.Target(l.Offset)] = true
		case *instruction.Switch:
			for _, t := range ins.Targets(l.Offset) {
				targets[t] = true
			}
		}
	}
	for _, ex := range code.ExceptionTable {
		targets[ex.HandlerPC] = true
	}
	return targets
}
