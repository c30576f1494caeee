package instruction

import (
	"encoding/binary"
	"fmt"
)

// DecodeError reports malformed bytecode.
type DecodeError struct {
	Offset int
	Msg    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bytecode offset %d: %s", e.Offset, e.Msg)
}

type reader struct {
	code  []byte
	start int
	pos   int
	err   error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.code) {
		r.err = &DecodeError{Offset: r.start, Msg: "bytecode underflow"}
		return false
	}
	return true
}

func (r *reader) u1() int {
	if !r.need(1) {
		return 0
	}
	v := r.code[r.pos]
	r.pos++
	return int(v)
}

func (r *reader) s1() int {
	return int(int8(r.u1()))
}

func (r *reader) u2() int {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.code[r.pos:])
	r.pos += 2
	return int(v)
}

func (r *reader) s2() int {
	return int(int16(r.u2()))
}

func (r *reader) s4() int {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.code[r.pos:])
	r.pos += 4
	return int(int32(v))
}

// Decode decodes the instruction starting at offset.
func Decode(code []byte, offset int) (Instruction, error) {
	if offset < 0 || offset >= len(code) {
		return nil, &DecodeError{Offset: offset, Msg: "offset outside code"}
	}
	r := &reader{code: code, start: offset, pos: offset + 1}
	op := Opcode(code[offset])
	info := op.Info()
	if !op.Valid() {
		return nil, &DecodeError{Offset: offset, Msg: fmt.Sprintf("unknown opcode 0x%02x", byte(op))}
	}

	var ins Instruction
	switch info.Format {
	case FormatNone:
		ins = &Simple{Op: op}
	case FormatByte:
		ins = &Simple{Op: op, Value: r.s1()}
	case FormatShort:
		ins = &Simple{Op: op, Value: r.s2()}
	case FormatVarShort:
		v := &Variable{Op: op}
		v.Index = int(op-v.Canonical().shortBase()) % 4
		ins = v
	case FormatVar:
		v := &Variable{Op: op, Index: r.u1()}
		if op == OpIinc {
			v.Increment = r.s1()
		}
		ins = v
	case FormatWide:
		inner := Opcode(r.u1())
		if inner.Info().Format != FormatVar {
			return nil, &DecodeError{Offset: offset, Msg: fmt.Sprintf("wide prefix on %s", inner)}
		}
		v := &Variable{Op: inner, Index: r.u2(), Wide: true}
		if inner == OpIinc {
			v.Increment = r.s2()
		}
		ins = v
	case FormatConst1:
		ins = &Constant{Op: op, Index: r.u1()}
	case FormatConst2:
		c := &Constant{Op: op, Index: r.u2()}
		switch op {
		case OpInvokeinterface:
			c.Count = r.u1()
			r.u1()
		case OpInvokedynamic:
			r.u2()
		case OpMultianewarray:
			c.Count = r.u1()
		}
		ins = c
	case FormatBranch:
		ins = &Branch{Op: op, Offset: r.s2()}
	case FormatBranchW:
		ins = &Branch{Op: op, Offset: r.s4()}
	case FormatSwitch:
		s := &Switch{Op: op}
		r.pos += padding(offset)
		s.Default = r.s4()
		if op == OpTableSwitch {
			s.Low = r.s4()
			high := r.s4()
			if r.err == nil && high < s.Low {
				return nil, &DecodeError{Offset: offset, Msg: "tableswitch high < low"}
			}
			for i := s.Low; r.err == nil && i <= high; i++ {
				s.Jumps = append(s.Jumps, r.s4())
			}
		} else {
			n := r.s4()
			if r.err == nil && n < 0 {
				return nil, &DecodeError{Offset: offset, Msg: "negative lookupswitch count"}
			}
			for i := 0; r.err == nil && i < n; i++ {
				s.Keys = append(s.Keys, r.s4())
				s.Jumps = append(s.Jumps, r.s4())
			}
		}
		ins = s
	}
	if r.err != nil {
		return nil, r.err
	}
	return ins, nil
}

// shortBase returns the first implicit-index opcode of a load/store family.
func (op Opcode) shortBase() Opcode {
	switch {
	case op >= OpIload && op <= OpAload:
		return OpIload0 + (op-OpIload)*4
	case op >= OpIstore && op <= OpAstore:
		return OpIstore0 + (op-OpIstore)*4
	}
	return op
}

// Located pairs an instruction with its offset in a code body.
type Located struct {
	Offset int
	Instruction
}

// DecodeAll decodes every instruction of a code body in offset order.
func DecodeAll(code []byte) ([]Located, error) {
	var out []Located
	for offset := 0; offset < len(code); {
		ins, err := Decode(code, offset)
		if err != nil {
			return nil, err
		}
		out = append(out, Located{Offset: offset, Instruction: ins})
		offset += ins.Length(offset)
	}
	return out, nil
}
