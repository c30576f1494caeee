package editor

import (
	"errors"
	"fmt"
)

var (
	// ErrBranchOutOfRange is returned when a conditional branch or switch
	// no longer reaches its target after the code was laid out again.
	ErrBranchOutOfRange = errors.New("branch offset out of range")

	// ErrCodeTooLarge is returned when the rewritten code exceeds the
	// class file limit of 65535 bytes.
	ErrCodeTooLarge = errors.New("code length exceeds 65535 bytes")

	// ErrStackUnderflow is returned when stack size computation finds an
	// instruction popping more values than the stack holds.
	ErrStackUnderflow = errors.New("operand stack underflow")
)

// OffsetError reports an edit keyed on an offset that is not the start of
// an instruction in the original code. It is raised with panic: a pass
// addressing a non-instruction offset is a programming error.
type OffsetError struct {
	Op     string // the editing operation
	Offset int
	Length int // original code length
}

func (e *OffsetError) Error() string {
	return fmt.Sprintf("editor.%s: offset %d is not an instruction boundary (code length %d)", e.Op, e.Offset, e.Length)
}

// ConsistencyError reports an internal inconsistency inside an edit
// session, such as an offset lookup for an offset the session never
// produced. It is raised with panic and is never recovered by passes.
type ConsistencyError struct {
	Offset int
	Msg    string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("editor: internal inconsistency at offset %d: %s", e.Offset, e.Msg)
}
