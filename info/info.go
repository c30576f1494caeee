// Package info holds the optimization metadata passes attach to classes,
// fields, methods and code bodies.
//
// Metadata lives in a Store keyed by element ID, never in the element
// itself. Each element has at most one metadata object at a time. The
// generic kinds (ClassInfo, FieldInfo, MethodInfo, CodeInfo) describe
// library elements and are read-only by convention; the Program kinds embed
// them and mark an element as editable by later passes.
package info

// Info is the metadata of one element.
type Info interface {
	// Kept reports whether the element must not be removed, inlined,
	// renamed or otherwise transformed.
	Kept() bool
	// Editable reports whether the element originates from the program
	// being optimized and may be rewritten.
	Editable() bool
}

// ---------------------------------------------------------------------------
// Generic kinds
// ---------------------------------------------------------------------------

// ClassInfo records facts about a class.
type ClassInfo struct {
	Keep                        bool
	Instantiated                bool
	SideEffectsOnInitialization bool
}

func (i *ClassInfo) Kept() bool     { return i.Keep }
func (i *ClassInfo) Editable() bool { return false }

// FieldInfo records facts about a field.
type FieldInfo struct {
	Keep    bool
	Read    bool
	Written bool
}

func (i *FieldInfo) Kept() bool     { return i.Keep }
func (i *FieldInfo) Editable() bool { return false }

// MethodInfo records facts about a method. Parameter bit sets are indexed by
// parameter slot position, receiver first for instance methods.
type MethodInfo struct {
	Keep                bool
	SideEffects         bool
	ExternalSideEffects bool
	EscapingParameters  uint64
	ReturnedParameters  uint64
	ReturnsNewInstance  bool
}

func (i *MethodInfo) Kept() bool     { return i.Keep }
func (i *MethodInfo) Editable() bool { return false }

// IsParameterEscaping reports whether parameter n may escape the method.
func (i *MethodInfo) IsParameterEscaping(n int) bool {
	return n >= 0 && n < 64 && i.EscapingParameters&(1<<n) != 0
}

// IsParameterReturned reports whether parameter n may be the return value.
func (i *MethodInfo) IsParameterReturned(n int) bool {
	return n >= 0 && n < 64 && i.ReturnedParameters&(1<<n) != 0
}

// CodeInfo records facts about a code body.
type CodeInfo struct {
	Keep bool
}

func (i *CodeInfo) Kept() bool     { return i.Keep }
func (i *CodeInfo) Editable() bool { return false }

// ---------------------------------------------------------------------------
// Program kinds
// ---------------------------------------------------------------------------

// ProgramClassInfo is the editable metadata of a program class.
type ProgramClassInfo struct{ ClassInfo }

func (i *ProgramClassInfo) Editable() bool { return true }

// ProgramFieldInfo is the editable metadata of a program field.
type ProgramFieldInfo struct{ FieldInfo }

func (i *ProgramFieldInfo) Editable() bool { return true }

func (i *ProgramFieldInfo) MarkRead()    { i.Read = true }
func (i *ProgramFieldInfo) MarkWritten() { i.Written = true }

// ProgramMethodInfo is the editable metadata of a program method.
type ProgramMethodInfo struct{ MethodInfo }

func (i *ProgramMethodInfo) Editable() bool { return true }

// MarkParameterEscaping records that parameter n may escape. Parameters past
// the 64th are not tracked.
func (i *ProgramMethodInfo) MarkParameterEscaping(n int) {
	if n >= 0 && n < 64 {
		i.EscapingParameters |= 1 << n
	}
}

// MarkParameterReturned records that parameter n may be returned.
func (i *ProgramMethodInfo) MarkParameterReturned(n int) {
	if n >= 0 && n < 64 {
		i.ReturnedParameters |= 1 << n
	}
}

// ProgramCodeInfo is the editable metadata of a program code body.
type ProgramCodeInfo struct{ CodeInfo }

func (i *ProgramCodeInfo) Editable() bool { return true }

// kindName names the element kind an Info describes.
func kindName(i Info) string {
	switch i.(type) {
	case *ClassInfo, *ProgramClassInfo:
		return "class"
	case *FieldInfo, *ProgramFieldInfo:
		return "field"
	case *MethodInfo, *ProgramMethodInfo:
		return "method"
	case *CodeInfo, *ProgramCodeInfo:
		return "code"
	}
	return "unknown"
}
