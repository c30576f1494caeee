package fixup

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chazu/bcopt/classfile"
	"github.com/chazu/bcopt/classfile/instruction"
	"github.com/chazu/bcopt/editor"
	"github.com/chazu/bcopt/info"
)

// DummyTypes are the parameter types appended to disambiguate constructors,
// in the order they are tried.
var DummyTypes = []string{"I", "Z", "B", "S", "C", "J", "F", "D"}

// ErrNoUniqueDescriptor is returned when no single dummy parameter makes a
// constructor descriptor unique within its class.
var ErrNoUniqueDescriptor = errors.New("no unique initializer descriptor")

// Rename records a constructor whose descriptor changed. Calls made with
// OldDescriptor must be redirected to NewDescriptor, pushing a default for
// Dummy when it is set.
type Rename struct {
	Class         string
	OldDescriptor string
	NewDescriptor string
	Dummy         string
}

// ---------------------------------------------------------------------------
// InitializerDisambiguator
// ---------------------------------------------------------------------------

// InitializerDisambiguator gives constructors of a class distinct
// descriptors. A constructor whose descriptor collides with another one gets
// a trailing dummy parameter; successive constructors of the same class
// start from successive entries of DummyTypes. Every constructor that gains
// a parameter has LocalCountFixer and SignatureFixer run on it exactly once.
//
// It is safe for concurrent use on different classes.
type InitializerDisambiguator struct {
	mu      sync.Mutex
	renames []Rename
	next    map[string]int
}

func NewInitializerDisambiguator() *InitializerDisambiguator {
	return &InitializerDisambiguator{next: make(map[string]int)}
}

// Renames returns the descriptor changes made through SetDescriptor.
func (d *InitializerDisambiguator) Renames() []Rename {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Rename(nil), d.renames...)
}

// SetDescriptor changes the descriptor of constructor m to desc, appending
// a dummy parameter when desc is already taken by another constructor of c.
// desc must accept the same stack arguments as the current descriptor, as a
// reference parameter specialized to a subtype does. The change is recorded
// for InitializerInvocationFixer.
func (d *InitializerDisambiguator) SetDescriptor(c *classfile.Class, m *classfile.Method, desc string) (Rename, error) {
	if !m.IsInitializer() {
		panic(&DescriptorError{Descriptor: m.Descriptor(), Msg: m.String() + " is not a constructor"})
	}
	old := m.Descriptor()
	r := Rename{Class: c.Name, OldDescriptor: old, NewDescriptor: desc}
	if taken(c, m, desc) {
		final, dummy, err := d.unique(c, m, desc)
		if err != nil {
			return Rename{}, err
		}
		r.NewDescriptor, r.Dummy = final, dummy
	}
	if r.NewDescriptor == old {
		return r, nil
	}
	m.SetDescriptor(r.NewDescriptor)
	if r.Dummy != "" {
		fix(c, m)
	}
	log.Infof("%s.<init>%s -> %s", c.Name, old, r.NewDescriptor)

	d.mu.Lock()
	d.renames = append(d.renames, r)
	d.mu.Unlock()
	return r, nil
}

// Disambiguate gives every constructor of c that shares its descriptor with
// an earlier one a dummy parameter, and returns how many it changed. Calls
// keep resolving to the first constructor of each group, so no Rename is
// recorded.
func (d *InitializerDisambiguator) Disambiguate(c *classfile.Class) (int, error) {
	seen := make(map[string]bool)
	var n int
	for _, m := range c.Methods {
		if !m.IsInitializer() {
			continue
		}
		desc := m.Descriptor()
		if !seen[desc] {
			seen[desc] = true
			continue
		}
		final, _, err := d.unique(c, m, desc)
		if err != nil {
			return n, err
		}
		m.SetDescriptor(final)
		fix(c, m)
		seen[final] = true
		log.Infof("%s: duplicate <init>%s -> %s", c.Name, desc, final)
		n++
	}
	return n, nil
}

// unique returns desc with one dummy parameter appended that no other
// constructor of c uses.
func (d *InitializerDisambiguator) unique(c *classfile.Class, m *classfile.Method, desc string) (string, string, error) {
	paren := strings.IndexByte(desc, ')')
	if paren < 0 {
		panic(&DescriptorError{Descriptor: desc, Msg: "no closing parenthesis"})
	}
	d.mu.Lock()
	start := d.next[c.Name]
	d.next[c.Name]++
	d.mu.Unlock()

	for i := range DummyTypes {
		dummy := DummyTypes[(start+i)%len(DummyTypes)]
		candidate := desc[:paren] + dummy + desc[paren:]
		if !taken(c, m, candidate) {
			return candidate, dummy, nil
		}
	}
	return "", "", fmt.Errorf("%s.<init>%s: %w", c.Name, desc, ErrNoUniqueDescriptor)
}

// taken reports whether a constructor of c other than m has desc.
func taken(c *classfile.Class, m *classfile.Method, desc string) bool {
	for _, other := range c.Methods {
		if other != m && other.IsInitializer() && other.Descriptor() == desc {
			return true
		}
	}
	return false
}

func fix(c *classfile.Class, m *classfile.Method) {
	LocalCountFixer{}.Fix(c, m)
	SignatureFixer{}.Fix(c, m)
}

// ---------------------------------------------------------------------------
// InitializerInvocationFixer
// ---------------------------------------------------------------------------

// InitializerInvocationFixer redirects invokespecial calls of renamed
// constructors to their new descriptors, pushing a default value for an
// appended dummy parameter right before the call.
type InitializerInvocationFixer struct {
	// Store, when set, gets a fresh code info for every rewritten body.
	Store *info.Store

	renames map[string]Rename
	editor  *editor.CodeEditor
	errs    []error
	count   int
}

func NewInitializerInvocationFixer(store *info.Store, renames ...Rename) *InitializerInvocationFixer {
	f := &InitializerInvocationFixer{
		Store:   store,
		renames: make(map[string]Rename, len(renames)),
		editor:  editor.NewCodeEditor(),
	}
	for _, r := range renames {
		f.renames[r.Class+"."+r.OldDescriptor] = r
	}
	return f
}

// VisitField does nothing.
func (f *InitializerInvocationFixer) VisitField(*classfile.Class, *classfile.Field) {}

// VisitMethod fixes the calls in m, recording a failure for Err.
func (f *InitializerInvocationFixer) VisitMethod(c *classfile.Class, m *classfile.Method) {
	n, err := f.Fix(c, m)
	if err != nil {
		f.errs = append(f.errs, err)
	}
	f.count += n
}

// Err returns the failures recorded by VisitMethod.
func (f *InitializerInvocationFixer) Err() error {
	return errors.Join(f.errs...)
}

// Count returns the number of calls fixed through VisitMethod.
func (f *InitializerInvocationFixer) Count() int {
	return f.count
}

// Fix rewrites the calls of renamed constructors in m and returns how many
// it rewrote.
func (f *InitializerInvocationFixer) Fix(c *classfile.Class, m *classfile.Method) (int, error) {
	code := m.Code()
	if code == nil || len(f.renames) == 0 {
		return 0, nil
	}
	located, err := instruction.DecodeAll(code.Code)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", m, err)
	}
	if err := f.editor.Reset(code); err != nil {
		return 0, fmt.Errorf("%s: %w", m, err)
	}

	var n int
	cp := c.Pool
	for _, l := range located {
		ins, ok := l.Instruction.(*instruction.Constant)
		if !ok || ins.Op != instruction.OpInvokespecial || cp.RefName(ins.Index) != "<init>" {
			continue
		}
		r, ok := f.renames[cp.RefClassName(ins.Index)+"."+cp.RefType(ins.Index)]
		if !ok {
			continue
		}
		if r.Dummy != "" {
			f.editor.InsertBeforeOffset(l.Offset, instruction.PushDefault(r.Dummy))
		}
		f.editor.ReplaceInstruction(l.Offset,
			instruction.NewConstant(instruction.OpInvokespecial, cp.InternMethodref(r.Class, "<init>", r.NewDescriptor)))
		n++
	}
	if n == 0 {
		return 0, nil
	}
	if err := f.editor.Apply(c, m, code); err != nil {
		return 0, fmt.Errorf("fixing initializer calls in %s: %w", m, err)
	}
	if f.Store != nil {
		f.Store.RefreshCode(code)
	}
	log.Debugf("%s: %d initializer calls fixed", m, n)
	return n, nil
}
