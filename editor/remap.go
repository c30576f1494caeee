package editor

import (
	"maps"
	"slices"

	"github.com/chazu/bcopt/classfile"
)

// remapExceptions translates the exception table. Entries whose range
// becomes empty are dropped.
func remapExceptions(table []classfile.ExceptionInfo, m *OffsetMap) []classfile.ExceptionInfo {
	out := make([]classfile.ExceptionInfo, 0, len(table))
	for _, e := range table {
		start, end := m.New(e.StartPC), m.New(e.EndPC)
		if start >= end {
			log.Debugf("dropping exception range %d-%d, empty after rewrite", e.StartPC, e.EndPC)
			continue
		}
		handler := m.New(e.HandlerPC)
		if handler >= m.Length() {
			panic(&ConsistencyError{Offset: e.HandlerPC, Msg: "exception handler resolves past the end of the code"})
		}
		out = append(out, classfile.ExceptionInfo{
			StartPC:   start,
			EndPC:     end,
			HandlerPC: handler,
			CatchType: e.CatchType,
		})
	}
	return out
}

// remapAttributes translates the offset-bearing attributes nested in code.
func remapAttributes(code *classfile.CodeAttribute, m *OffsetMap, survived func(int) bool) {
	for _, a := range code.Attributes {
		switch a := a.(type) {
		case *classfile.LineNumberTableAttribute:
			a.Entries = remapLineNumbers(a.Entries, m)
		case *classfile.LocalVariableTableAttribute:
			a.Entries = remapLocals(a.Entries, m)
		case *classfile.LocalVariableTypeTableAttribute:
			a.Entries = remapLocals(a.Entries, m)
		case *classfile.StackMapTableAttribute:
			a.Frames = remapFrames(a.Frames, m, survived)
		}
	}
}

// remapLineNumbers drops entries that land at or past the end of the code.
func remapLineNumbers(entries []classfile.LineNumber, m *OffsetMap) []classfile.LineNumber {
	out := entries[:0]
	for _, e := range entries {
		n, ok := m.Lookup(e.StartPC)
		if !ok {
			log.Warningf("dropping line number %d at %d, not an instruction", e.Line, e.StartPC)
			continue
		}
		if n >= m.Length() {
			continue
		}
		out = append(out, classfile.LineNumber{StartPC: n, Line: e.Line})
	}
	return out
}

// remapLocals translates local variable ranges. A range that was not empty
// before and is empty now is dropped.
func remapLocals(entries []classfile.LocalVariable, m *OffsetMap) []classfile.LocalVariable {
	out := entries[:0]
	for _, e := range entries {
		start, ok1 := m.Lookup(e.StartPC)
		end, ok2 := m.Lookup(e.StartPC + e.Length)
		if !ok1 || !ok2 {
			log.Warningf("dropping local variable %d at %d+%d, not an instruction range", e.Index, e.StartPC, e.Length)
			continue
		}
		if end <= start && e.Length > 0 {
			continue
		}
		e.StartPC, e.Length = start, end-start
		out = append(out, e)
	}
	return out
}

// remapFrames translates frames and the offsets inside uninitialized
// verification types. Frames at or past the end are dropped. When several
// frames land on one offset, a frame whose instruction survived wins over
// one whose instruction was deleted; otherwise the later frame wins.
func remapFrames(frames []classfile.StackMapFrame, m *OffsetMap, survived func(int) bool) []classfile.StackMapFrame {
	type candidate struct {
		frame    classfile.StackMapFrame
		survived bool
	}
	byOffset := make(map[int]candidate, len(frames))
	for _, f := range frames {
		n := m.New(f.Offset)
		if n >= m.Length() {
			continue
		}
		s := survived(f.Offset)
		if prev, ok := byOffset[n]; ok && prev.survived && !s {
			continue
		}
		byOffset[n] = candidate{
			frame: classfile.StackMapFrame{
				Offset: n,
				Locals: remapTypes(f.Locals, m),
				Stack:  remapTypes(f.Stack, m),
			},
			survived: s,
		}
	}

	out := make([]classfile.StackMapFrame, 0, len(byOffset))
	for _, n := range slices.Sorted(maps.Keys(byOffset)) {
		out = append(out, byOffset[n].frame)
	}
	return out
}

func remapTypes(types []classfile.VerificationType, m *OffsetMap) []classfile.VerificationType {
	if types == nil {
		return nil
	}
	out := make([]classfile.VerificationType, len(types))
	for i, t := range types {
		if t.Tag == classfile.VerifyUninitialized {
			t.Offset = m.NewInstruction(t.Offset)
		}
		out[i] = t
	}
	return out
}
