package editor

// OffsetMap translates original code offsets into rewritten ones. Only
// instruction boundaries of the original code and the original code length
// have an entry.
//
// Two translations exist per offset. New gives the landing point: the first
// instruction emitted for the offset, which is inserted code when there is
// any. NewInstruction gives where the original instruction, or its
// replacement, itself starts.
type OffsetMap struct {
	offsets      []int // indexed by original offset; -1 where no instruction starts
	instructions []int
}

func newOffsetMap(length int) *OffsetMap {
	m := &OffsetMap{
		offsets:      make([]int, length+1),
		instructions: make([]int, length+1),
	}
	for i := range m.offsets {
		m.offsets[i] = -1
		m.instructions[i] = -1
	}
	return m
}

func (m *OffsetMap) set(orig, landing, self int) {
	m.offsets[orig] = landing
	m.instructions[orig] = self
}

// Lookup returns the new offset of an original offset.
func (m *OffsetMap) Lookup(orig int) (int, bool) {
	if orig < 0 || orig >= len(m.offsets) || m.offsets[orig] < 0 {
		return 0, false
	}
	return m.offsets[orig], true
}

// New returns the new offset of an original offset. It panics with
// *ConsistencyError for an offset that has no entry.
func (m *OffsetMap) New(orig int) int {
	n, ok := m.Lookup(orig)
	if !ok {
		panic(&ConsistencyError{Offset: orig, Msg: "no translation for original offset"})
	}
	return n
}

// NewInstruction returns the new offset of the original instruction at orig
// itself, past any code inserted before it. It panics with
// *ConsistencyError for an offset that has no entry.
func (m *OffsetMap) NewInstruction(orig int) int {
	if orig < 0 || orig >= len(m.instructions) || m.instructions[orig] < 0 {
		panic(&ConsistencyError{Offset: orig, Msg: "no instruction translation for original offset"})
	}
	return m.instructions[orig]
}

// OriginalLength returns the length of the code the map translates from.
func (m *OffsetMap) OriginalLength() int {
	return len(m.offsets) - 1
}

// Length returns the length of the rewritten code.
func (m *OffsetMap) Length() int {
	return m.offsets[len(m.offsets)-1]
}
