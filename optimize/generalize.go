package optimize

import (
	"errors"
	"fmt"

	"github.com/chazu/bcopt/classfile"
	"github.com/chazu/bcopt/classfile/descriptor"
	"github.com/chazu/bcopt/classfile/instruction"
	"github.com/chazu/bcopt/editor"
	"github.com/chazu/bcopt/info"
)

// Generalization decides which ancestor a field or method reference may be
// bound to instead of its current owner.
type Generalization interface {
	// Generalize returns the proposed owner for the reference made by ins
	// at offset in m, or false to leave it alone.
	Generalize(c *classfile.Class, m *classfile.Method, offset int, ins *instruction.Constant) (string, bool)
}

// GeneralizationFunc adapts a function to Generalization.
type GeneralizationFunc func(c *classfile.Class, m *classfile.Method, offset int, ins *instruction.Constant) (string, bool)

func (f GeneralizationFunc) Generalize(c *classfile.Class, m *classfile.Method, offset int, ins *instruction.Constant) (string, bool) {
	return f(c, m, offset, ins)
}

// DeclaringClassGeneralization proposes the class that declares the
// referenced member, as found by walking the class pool from the current
// owner. Private members, and members the calling class could not access
// through the declaring class, are left alone.
type DeclaringClassGeneralization struct {
	Pool *classfile.ClassPool
}

func (g DeclaringClassGeneralization) Generalize(c *classfile.Class, m *classfile.Method, offset int, ins *instruction.Constant) (string, bool) {
	cp := c.Pool
	owner := cp.RefClassName(ins.Index)
	name, desc := cp.RefName(ins.Index), cp.RefType(ins.Index)
	field := ins.Op.IsFieldAccess()

	decl := g.Pool.DeclaringClass(owner, name, desc, field)
	if decl == nil || decl.Name == owner {
		return "", false
	}
	var access classfile.AccessFlags
	if field {
		access = decl.FindField(name, desc).Access
	} else {
		access = decl.FindMethod(name, desc).Access
	}
	samePackage := descriptor.Package(decl.Name) == descriptor.Package(c.Name)
	switch {
	case access.IsPrivate():
		return "", false
	case !access.IsPublic() && !samePackage:
		return "", false
	case !decl.Access.IsPublic() && !samePackage:
		return "", false
	}
	return decl.Name, true
}

// MemberReferenceGeneralizer rebinds field and method references to the
// ancestor a Generalization proposes. The member name and descriptor stay
// the same and so does the opcode, except that invokevirtual becomes
// invokeinterface when the new owner is an interface. invokespecial and
// invokedynamic are never touched, and a proposal that is not a known
// strict ancestor of the current owner is ignored.
type MemberReferenceGeneralizer struct {
	Pool           *classfile.ClassPool
	Generalization Generalization

	// Fields and Methods enable the two kinds of references independently.
	Fields  bool
	Methods bool

	FieldObserver  classfile.InstructionVisitor
	MethodObserver classfile.InstructionVisitor

	// Store, when set, gets a fresh code info for every rewritten body.
	Store *info.Store

	editor *editor.CodeEditor
	errs   []error
	count  int
}

// NewMemberReferenceGeneralizer creates a generalizer using
// DeclaringClassGeneralization.
func NewMemberReferenceGeneralizer(pool *classfile.ClassPool, fields, methods bool) *MemberReferenceGeneralizer {
	return &MemberReferenceGeneralizer{
		Pool:           pool,
		Generalization: DeclaringClassGeneralization{Pool: pool},
		Fields:         fields,
		Methods:        methods,
		editor:         editor.NewCodeEditor(),
	}
}

// VisitField does nothing.
func (g *MemberReferenceGeneralizer) VisitField(*classfile.Class, *classfile.Field) {}

// VisitMethod generalizes the references in m, recording a failure for Err.
func (g *MemberReferenceGeneralizer) VisitMethod(c *classfile.Class, m *classfile.Method) {
	n, err := g.Generalize(c, m)
	if err != nil {
		g.errs = append(g.errs, err)
	}
	g.count += n
}

// Err returns the failures recorded by VisitMethod.
func (g *MemberReferenceGeneralizer) Err() error {
	return errors.Join(g.errs...)
}

// Count returns the number of references rewritten through VisitMethod.
func (g *MemberReferenceGeneralizer) Count() int {
	return g.count
}

type generalized struct {
	offset int
	ins    *instruction.Constant
	field  bool
}

// Generalize rewrites the references in m's code and returns how many it
// rebound.
func (g *MemberReferenceGeneralizer) Generalize(c *classfile.Class, m *classfile.Method) (int, error) {
	code := m.Code()
	if code == nil || (!g.Fields && !g.Methods) {
		return 0, nil
	}
	located, err := instruction.DecodeAll(code.Code)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", m, err)
	}

	if g.editor == nil {
		g.editor = editor.NewCodeEditor()
	}
	e := g.editor
	if err := e.Reset(code); err != nil {
		return 0, fmt.Errorf("%s: %w", m, err)
	}

	var done []generalized
	for _, l := range located {
		ins, ok := l.Instruction.(*instruction.Constant)
		if !ok {
			continue
		}
		field := ins.Op.IsFieldAccess()
		switch {
		case field && !g.Fields:
			continue
		case !field && !g.Methods:
			continue
		case !field && ins.Op != instruction.OpInvokevirtual && ins.Op != instruction.OpInvokestatic && ins.Op != instruction.OpInvokeinterface:
			continue
		}
		if repl := g.generalize(c, m, l.Offset, ins); repl != nil {
			e.ReplaceInstruction(l.Offset, repl)
			done = append(done, generalized{offset: l.Offset, ins: ins, field: field})
		}
	}

	if err := e.Apply(c, m, code); err != nil {
		return 0, fmt.Errorf("generalizing %s: %w", m, err)
	}
	if len(done) == 0 {
		return 0, nil
	}
	if g.Store != nil {
		g.Store.RefreshCode(code)
	}
	for _, d := range done {
		observer := g.MethodObserver
		if d.field {
			observer = g.FieldObserver
		}
		if observer != nil {
			observer.VisitInstruction(c, m, code, d.offset, d.ins)
		}
	}
	log.Debugf("%s: %d references generalized", m, len(done))
	return len(done), nil
}

// generalize returns the rebound instruction, or nil.
func (g *MemberReferenceGeneralizer) generalize(c *classfile.Class, m *classfile.Method, offset int, ins *instruction.Constant) *instruction.Constant {
	owner, ok := g.Generalization.Generalize(c, m, offset, ins)
	if !ok {
		return nil
	}
	cp := c.Pool
	current := cp.RefClassName(ins.Index)
	if is, known := g.Pool.IsAncestor(owner, current); !is || !known {
		log.Debugf("%s: %s is not a known ancestor of %s", m, owner, current)
		return nil
	}
	name, desc := cp.RefName(ins.Index), cp.RefType(ins.Index)

	if ins.Op.IsFieldAccess() {
		return instruction.NewConstant(ins.Op, cp.InternFieldref(owner, name, desc))
	}

	var iface bool
	switch target := g.Pool.Class(owner); {
	case target != nil:
		iface = target.Access.IsInterface()
	case owner == classfile.ObjectClass:
	default:
		return nil
	}

	switch {
	case ins.Op == instruction.OpInvokestatic:
		if iface {
			return nil
		}
		return instruction.NewConstant(ins.Op, cp.InternMethodref(owner, name, desc))
	case iface:
		return &instruction.Constant{
			Op:    instruction.OpInvokeinterface,
			Index: cp.InternInterfaceMethodref(owner, name, desc),
			Count: 1 + descriptor.ParameterSize(desc),
		}
	case ins.Op == instruction.OpInvokeinterface:
		// Only java/lang/Object is a class ancestor of an interface.
		return nil
	}
	return instruction.NewConstant(ins.Op, cp.InternMethodref(owner, name, desc))
}
