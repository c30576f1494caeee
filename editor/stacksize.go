package editor

import (
	"fmt"

	"github.com/chazu/bcopt/classfile"
	"github.com/chazu/bcopt/classfile/descriptor"
	"github.com/chazu/bcopt/classfile/instruction"
)

// StackSizeComputer computes the maximum operand stack depth of a code body
// by following control flow from the entry point (empty stack) and from
// every exception handler (one exception reference on the stack).
type StackSizeComputer struct {
	Resolver instruction.Resolver
}

// Compute returns the maximum stack depth of code with the given handlers.
func (s *StackSizeComputer) Compute(code []byte, handlers []classfile.ExceptionInfo) (int, error) {
	_, maxDepth, err := s.analyze(code, handlers)
	return maxDepth, err
}

// Depths returns the stack depth before every reachable instruction of
// code, keyed by offset.
func (s *StackSizeComputer) Depths(code []byte, handlers []classfile.ExceptionInfo) (map[int]int, error) {
	depths, _, err := s.analyze(code, handlers)
	return depths, err
}

func (s *StackSizeComputer) analyze(code []byte, handlers []classfile.ExceptionInfo) (map[int]int, int, error) {
	located, err := instruction.DecodeAll(code)
	if err != nil {
		return nil, 0, err
	}
	if len(located) == 0 {
		return map[int]int{}, 0, nil
	}
	index := make(map[int]int, len(located))
	for i, l := range located {
		index[l.Offset] = i
	}

	depth := make([]int, len(located))
	for i := range depth {
		depth[i] = -1
	}
	var work []int
	var flowErr error
	reach := func(offset, d int) {
		if offset == len(code) {
			return // falls off the end; the verifier rejects that, not us
		}
		i, ok := index[offset]
		if !ok {
			if flowErr == nil {
				flowErr = fmt.Errorf("control flow reaches offset %d, which is not an instruction", offset)
			}
			return
		}
		if depth[i] >= 0 {
			return
		}
		depth[i] = d
		work = append(work, i)
	}

	maxDepth := 0
	reach(0, 0)
	for _, h := range handlers {
		reach(h.HandlerPC, 1)
		maxDepth = max(maxDepth, 1)
	}

	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		l := located[i]
		op := l.Opcode()
		next := l.Offset + l.Length(l.Offset)

		pop, push := instruction.StackEffect(l.Instruction, s.Resolver)
		if depth[i] < pop {
			return nil, 0, fmt.Errorf("%s at %d pops %d of %d: %w", op, l.Offset, pop, depth[i], ErrStackUnderflow)
		}
		after := depth[i] - pop + push
		maxDepth = max(maxDepth, after)

		switch ins := l.Instruction.(type) {
		case *instruction.Branch:
			reach(ins.Target(l.Offset), after)
			switch {
			case op == instruction.OpJsr || op == instruction.OpJsrW:
				// The subroutine returns with the return address consumed.
				reach(next, depth[i])
			case op.IsConditionalBranch():
				reach(next, after)
			}
		case *instruction.Switch:
			for _, t := range ins.Targets(l.Offset) {
				reach(t, after)
			}
		default:
			if !op.EndsBlock() {
				reach(next, after)
			}
		}
		if flowErr != nil {
			return nil, 0, flowErr
		}
	}

	depths := make(map[int]int, len(located))
	for i, l := range located {
		if depth[i] >= 0 {
			depths[l.Offset] = depth[i]
		}
	}
	return depths, maxDepth, nil
}

// ComputeMaxLocals returns the number of local slots code needs: the
// receiver and parameters of m, every slot a variable instruction touches,
// and every slot a local variable table entry describes.
func ComputeMaxLocals(c *classfile.Class, m *classfile.Method, code *classfile.CodeAttribute) int {
	size := descriptor.MethodLocalsSize(m.Descriptor(), m.Access.IsStatic())

	located, err := instruction.DecodeAll(code.Code)
	if err == nil {
		for _, l := range located {
			if v, ok := l.Instruction.(*instruction.Variable); ok {
				size = max(size, v.Index+v.SlotSize())
			}
		}
	}
	if lvt := code.LocalVariableTable(); lvt != nil {
		for _, e := range lvt.Entries {
			size = max(size, e.Index+descriptor.TypeSize(c.Pool.Utf8(e.DescriptorIndex)))
		}
	}
	if lvtt := code.LocalVariableTypeTable(); lvtt != nil {
		for _, e := range lvtt.Entries {
			if sig := c.Pool.Utf8(e.DescriptorIndex); sig != "" {
				size = max(size, e.Index+descriptor.ParameterSlotSize(sig[0]))
			}
		}
	}
	return size
}
