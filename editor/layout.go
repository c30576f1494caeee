package editor

import (
	"fmt"
	"math"

	"github.com/chazu/bcopt/classfile/instruction"
)

func narrow(op instruction.Opcode) instruction.Opcode {
	switch op {
	case instruction.OpGotoW:
		return instruction.OpGoto
	case instruction.OpJsrW:
		return instruction.OpJsr
	}
	return op
}

func widen(op instruction.Opcode) (instruction.Opcode, bool) {
	switch op {
	case instruction.OpGoto:
		return instruction.OpGotoW, true
	case instruction.OpJsr:
		return instruction.OpJsrW, true
	}
	return op, false
}

func (em *emission) length(offset int) int {
	if _, ok := em.ins.(*instruction.Branch); ok {
		return instruction.NewBranch(em.op, 0).Length(offset)
	}
	return em.ins.Length(offset)
}

// positions returns the offset of every emission, followed by the total
// length.
func positions(ems []emission) []int {
	pos := make([]int, len(ems)+1)
	offset := 0
	for i := range ems {
		pos[i] = offset
		offset += ems[i].length(offset)
	}
	pos[len(ems)] = offset
	return pos
}

// layout assigns offsets to the emissions. Every branch starts in its narrow
// form; gotos and jsrs whose target is out of 16-bit range are widened and
// the layout is recomputed until it no longer changes. Widening only ever
// grows the code, so this converges.
func layout(ems []emission) ([]int, error) {
	for i := range ems {
		if _, ok := ems[i].ins.(*instruction.Branch); ok {
			ems[i].op = narrow(ems[i].op)
		}
	}

	for {
		pos := positions(ems)
		changed := false
		for i := range ems {
			em := &ems[i]
			if _, ok := em.ins.(*instruction.Branch); !ok {
				continue
			}
			if em.op == instruction.OpGotoW || em.op == instruction.OpJsrW {
				continue
			}
			rel := pos[em.targets[0]] - pos[i]
			if rel >= math.MinInt16 && rel <= math.MaxInt16 {
				continue
			}
			wide, ok := widen(em.op)
			if !ok {
				return nil, fmt.Errorf("%s at %d (offset %d): %w", em.op, pos[i], rel, ErrBranchOutOfRange)
			}
			em.op = wide
			changed = true
		}
		if !changed {
			return pos, nil
		}
	}
}

// encode writes the laid-out emissions, resolving branch targets to
// relative offsets.
func encode(ems []emission, pos []int) []byte {
	buf := make([]byte, 0, pos[len(ems)])
	for i, em := range ems {
		at := pos[i]
		switch ins := em.ins.(type) {
		case *instruction.Branch:
			buf = instruction.NewBranch(em.op, pos[em.targets[0]]-at).Encode(buf, at)
		case *instruction.Switch:
			s := *ins
			s.Default = pos[em.targets[0]] - at
			s.Jumps = make([]int, len(ins.Jumps))
			for j := range s.Jumps {
				s.Jumps[j] = pos[em.targets[j+1]] - at
			}
			buf = s.Encode(buf, at)
		default:
			buf = ins.Encode(buf, at)
		}
	}
	return buf
}
