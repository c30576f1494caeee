package optimize

import (
	"fmt"
	"testing"

	"github.com/chazu/bcopt/classfile"
	"github.com/chazu/bcopt/classfile/instruction"
)

// hierarchy builds:
//
//	Base            public run()V, public field count I, private secret()V
//	Sub extends Base
//	Iface           interface, act()V
//	Impl extends Object implements Iface (abstract, declares nothing)
//	Orphan extends Missing
func hierarchy(t *testing.T) *classfile.ClassPool {
	t.Helper()
	p := classfile.NewClassPool()
	ret := func() *classfile.CodeAttribute {
		return classfile.NewCodeAttribute(0, 1, []byte{byte(instruction.OpReturn)})
	}

	base := classfile.NewClass(classfile.AccPublic, "Base", classfile.ObjectClass)
	base.AddMethod(classfile.AccPublic, "run", "()V", ret())
	base.AddMethod(classfile.AccPrivate, "secret", "()V", ret())
	base.AddField(classfile.AccPublic, "count", "I")
	base.AddMethod(classfile.AccPublic|classfile.AccStatic, "make", "()V", ret())

	sub := classfile.NewClass(classfile.AccPublic, "Sub", "Base")

	iface := classfile.NewClass(classfile.AccPublic|classfile.AccInterface|classfile.AccAbstract, "Iface", classfile.ObjectClass)
	iface.AddMethod(classfile.AccPublic|classfile.AccAbstract, "act", "()V", nil)

	impl := classfile.NewClass(classfile.AccPublic|classfile.AccAbstract, "Impl", classfile.ObjectClass, "Iface")
	orphan := classfile.NewClass(classfile.AccPublic, "Orphan", "Missing")

	for _, c := range []*classfile.Class{base, sub, iface, impl, orphan} {
		if err := p.Add(c); err != nil {
			t.Fatal(err)
		}
	}
	return p
}

// caller adds a class whose method use(param) runs build.
func caller(t *testing.T, p *classfile.ClassPool, param string, build func(c *classfile.Class, b *instruction.Builder)) (*classfile.Class, *classfile.Method) {
	t.Helper()
	c := classfile.NewClass(classfile.AccPublic, "Caller", classfile.ObjectClass)
	b := instruction.NewBuilder()
	build(c, b)
	b.EmitOp(instruction.OpReturn)
	m := c.AddMethod(classfile.AccPublic, "use", "("+param+")V", classfile.NewCodeAttribute(2, 2, b.Bytes()))
	if err := p.Add(c); err != nil {
		t.Fatal(err)
	}
	return c, m
}

func refAt(t *testing.T, c *classfile.Class, code []byte, offset int) (*instruction.Constant, string) {
	t.Helper()
	ins, err := instruction.Decode(code, offset)
	if err != nil {
		t.Fatal(err)
	}
	k := ins.(*instruction.Constant)
	return k, c.Pool.RefClassName(k.Index) + "." + c.Pool.RefName(k.Index) + c.Pool.RefType(k.Index)
}

func TestGeneralizeFieldsAndMethods(t *testing.T) {
	tests := []struct {
		name       string
		fields     bool
		methods    bool
		wantRun    string
		wantCount  string
		fieldSeen  int
		methodSeen int
	}{
		{"both", true, true, "Base.run()V", "Base.countI", 1, 1},
		{"fields only", true, false, "Sub.run()V", "Base.countI", 1, 0},
		{"methods only", false, true, "Base.run()V", "Sub.countI", 0, 1},
		{"neither", false, false, "Sub.run()V", "Sub.countI", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := hierarchy(t)
			c, m := caller(t, p, "LSub;", func(c *classfile.Class, b *instruction.Builder) {
				b.Load("L", 1)
				b.EmitConstant(instruction.OpInvokevirtual, c.Pool.InternMethodref("Sub", "run", "()V")) // 1
				b.Load("L", 1)
				b.EmitConstant(instruction.OpGetfield, c.Pool.InternFieldref("Sub", "count", "I")) // 5
				b.EmitOp(instruction.OpPop)
				b.Load("L", 1)
				b.EmitConstant(instruction.OpInvokespecial, c.Pool.InternMethodref("Sub", "run", "()V")) // 10
			})
			code := m.Code()
			length := len(code.Code)
			layout := layoutOf(t, code.Code)
			_, before := refAt(t, c, code.Code, 1)
			callEffectPop, callEffectPush := instruction.StackEffect(mustDecode(t, code.Code, 1), c.Pool)

			var fieldSites, methodSites []site
			g := NewMemberReferenceGeneralizer(p, tt.fields, tt.methods)
			g.FieldObserver = siteRecorder(&fieldSites)
			g.MethodObserver = siteRecorder(&methodSites)
			n, err := g.Generalize(c, m)
			if err != nil {
				t.Fatal(err)
			}

			if len(code.Code) != length {
				t.Fatalf("length changed: %d -> %d", length, len(code.Code))
			}
			if got := layoutOf(t, code.Code); got != layout {
				t.Errorf("instruction layout changed\n got %s\nwant %s", got, layout)
			}
			if n != tt.fieldSeen+tt.methodSeen {
				t.Errorf("rewrote %d references", n)
			}
			if _, got := refAt(t, c, code.Code, 1); got != tt.wantRun {
				t.Errorf("invokevirtual ref = %s, want %s (was %s)", got, tt.wantRun, before)
			}
			if _, got := refAt(t, c, code.Code, 5); got != tt.wantCount {
				t.Errorf("getfield ref = %s, want %s", got, tt.wantCount)
			}
			if k, got := refAt(t, c, code.Code, 10); got != "Sub.run()V" || k.Op != instruction.OpInvokespecial {
				t.Errorf("invokespecial rewritten to %s %s", k.Op, got)
			}
			pop, push := instruction.StackEffect(mustDecode(t, code.Code, 1), c.Pool)
			if pop != callEffectPop || push != callEffectPush {
				t.Errorf("stack effect changed: %d/%d -> %d/%d", callEffectPop, callEffectPush, pop, push)
			}
			if len(fieldSites) != tt.fieldSeen || len(methodSites) != tt.methodSeen {
				t.Errorf("observers saw %v and %v", fieldSites, methodSites)
			}
			if tt.fieldSeen == 1 && fieldSites[0] != (site{5, instruction.OpGetfield}) {
				t.Errorf("field observer saw %v", fieldSites)
			}
		})
	}
}

// layoutOf lists the offset and opcode of every instruction in code.
func layoutOf(t *testing.T, code []byte) string {
	t.Helper()
	all, err := instruction.DecodeAll(code)
	if err != nil {
		t.Fatal(err)
	}
	var out string
	for _, l := range all {
		out += fmt.Sprintf("%d:%s ", l.Offset, l.Opcode())
	}
	return out
}

func mustDecode(t *testing.T, code []byte, offset int) instruction.Instruction {
	t.Helper()
	ins, err := instruction.Decode(code, offset)
	if err != nil {
		t.Fatal(err)
	}
	return ins
}

func TestGeneralizeToInterface(t *testing.T) {
	p := hierarchy(t)
	c, m := caller(t, p, "LImpl;", func(c *classfile.Class, b *instruction.Builder) {
		b.Load("L", 1)
		b.EmitConstant(instruction.OpInvokevirtual, c.Pool.InternMethodref("Impl", "act", "()V"))
	})
	n, err := NewMemberReferenceGeneralizer(p, false, true).Generalize(c, m)
	if err != nil || n != 1 {
		t.Fatalf("n = %d, err = %v", n, err)
	}
	want := "0000  aload_1\n0001  invokeinterface #%d 1\n0006  return"
	k, ref := refAt(t, c, m.Code().Code, 1)
	if ref != "Iface.act()V" || c.Pool.Tag(k.Index) != classfile.ConstantInterfaceMethodref {
		t.Errorf("ref = %s (%s)", ref, c.Pool.Tag(k.Index))
	}
	if got := instruction.Disassemble(m.Code().Code); got != fmt.Sprintf(want, k.Index) {
		t.Errorf("got\n%s", got)
	}
}

func TestGeneralizeSkips(t *testing.T) {
	tests := []struct {
		name     string
		param    string
		build    func(c *classfile.Class, b *instruction.Builder)
		proposal Generalization
	}{
		{"private member of ancestor", "LSub;", func(c *classfile.Class, b *instruction.Builder) {
			b.Load("L", 1)
			b.EmitConstant(instruction.OpInvokevirtual, c.Pool.InternMethodref("Sub", "secret", "()V"))
		}, nil},
		{"already the declaring class", "LBase;", func(c *classfile.Class, b *instruction.Builder) {
			b.Load("L", 1)
			b.EmitConstant(instruction.OpInvokevirtual, c.Pool.InternMethodref("Base", "run", "()V"))
		}, nil},
		{"narrowing", "LBase;", func(c *classfile.Class, b *instruction.Builder) {
			b.Load("L", 1)
			b.EmitConstant(instruction.OpInvokevirtual, c.Pool.InternMethodref("Base", "run", "()V"))
		}, propose("Sub")},
		{"unrelated", "LSub;", func(c *classfile.Class, b *instruction.Builder) {
			b.Load("L", 1)
			b.EmitConstant(instruction.OpInvokevirtual, c.Pool.InternMethodref("Sub", "run", "()V"))
		}, propose("Iface")},
		{"unknown hierarchy", "LOrphan;", func(c *classfile.Class, b *instruction.Builder) {
			b.Load("L", 1)
			b.EmitConstant(instruction.OpInvokevirtual, c.Pool.InternMethodref("Orphan", "run", "()V"))
		}, propose("Elsewhere")},
		{"unresolved member", "LSub;", func(c *classfile.Class, b *instruction.Builder) {
			b.Load("L", 1)
			b.EmitConstant(instruction.OpInvokevirtual, c.Pool.InternMethodref("Sub", "missing", "()V"))
		}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := hierarchy(t)
			c, m := caller(t, p, tt.param, tt.build)
			before := string(m.Code().Code)
			g := NewMemberReferenceGeneralizer(p, true, true)
			if tt.proposal != nil {
				g.Generalization = tt.proposal
			}
			n, err := g.Generalize(c, m)
			if err != nil {
				t.Fatal(err)
			}
			if n != 0 || string(m.Code().Code) != before {
				t.Errorf("rewritten:\n%s", instruction.Disassemble(m.Code().Code))
			}
		})
	}
}

func TestGeneralizeStaticCall(t *testing.T) {
	p := hierarchy(t)
	c, m := caller(t, p, "", func(c *classfile.Class, b *instruction.Builder) {
		b.EmitConstant(instruction.OpInvokestatic, c.Pool.InternMethodref("Sub", "make", "()V"))
	})
	g := NewMemberReferenceGeneralizer(p, false, true)
	c.MethodsAccept(g)
	if err := g.Err(); err != nil {
		t.Fatal(err)
	}
	if g.Count() != 1 {
		t.Fatalf("count = %d", g.Count())
	}
	if k, ref := refAt(t, c, m.Code().Code, 0); ref != "Base.make()V" || k.Op != instruction.OpInvokestatic {
		t.Errorf("got %s %s", k.Op, ref)
	}
}

func propose(owner string) Generalization {
	return GeneralizationFunc(func(*classfile.Class, *classfile.Method, int, *instruction.Constant) (string, bool) {
		return owner, true
	})
}
