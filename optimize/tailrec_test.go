package optimize

import (
	"testing"

	"github.com/chazu/bcopt/classfile"
	"github.com/chazu/bcopt/classfile/instruction"
	"github.com/chazu/bcopt/info"
)

type site struct {
	offset int
	op     instruction.Opcode
}

func siteRecorder(sites *[]site) classfile.InstructionVisitor {
	return classfile.InstructionVisitorFunc(func(c *classfile.Class, m *classfile.Method, code *classfile.CodeAttribute, offset int, ins instruction.Instruction) {
		*sites = append(*sites, site{offset, ins.Opcode()})
	})
}

// sumMethod adds:
//
//	static int sum(int n, int acc) { return n == 0 ? acc : sum(n - 1, acc + n); }
func sumMethod(c *classfile.Class, access classfile.AccessFlags) *classfile.Method {
	self := c.Pool.InternMethodref(c.Name, "sum", "(II)I")
	b := instruction.NewBuilder()
	rec := b.NewLabel()
	b.Load("I", 0)
	b.EmitJump(instruction.OpIfne, rec)
	b.Load("I", 1)
	b.EmitOp(instruction.OpIreturn)
	b.Mark(rec)
	b.Load("I", 0)
	b.EmitOp(instruction.OpIconst1)
	b.EmitOp(instruction.OpIsub)
	b.Load("I", 0)
	b.Load("I", 1)
	b.EmitOp(instruction.OpIadd)
	b.EmitConstant(instruction.OpInvokestatic, self) // 12
	b.EmitOp(instruction.OpIreturn)
	return c.AddMethod(access, "sum", "(II)I", classfile.NewCodeAttribute(3, 2, b.Bytes()))
}

// loopMethod adds:
//
//	void loop(int n) { if (n == 0) return; this.loop(n - 1); }
func loopMethod(c *classfile.Class, access classfile.AccessFlags, call instruction.Opcode) *classfile.Method {
	self := c.Pool.InternMethodref(c.Name, "loop", "(I)V")
	b := instruction.NewBuilder()
	done := b.NewLabel()
	b.Load("I", 1)
	b.EmitJump(instruction.OpIfeq, done)
	b.Load("L", 0)
	b.Load("I", 1)
	b.EmitOp(instruction.OpIconst1)
	b.EmitOp(instruction.OpIsub)
	b.EmitConstant(call, self) // 8
	b.EmitOp(instruction.OpReturn)
	b.Mark(done)
	b.EmitOp(instruction.OpReturn) // 12
	return c.AddMethod(access, "loop", "(I)V", classfile.NewCodeAttribute(3, 2, b.Bytes()))
}

func addToPool(t *testing.T, c *classfile.Class) {
	t.Helper()
	if err := classfile.NewClassPool().Add(c); err != nil {
		t.Fatal(err)
	}
}

func TestTailRecursionStatic(t *testing.T) {
	c := classfile.NewClass(classfile.AccPublic, "T", classfile.ObjectClass)
	m := sumMethod(c, classfile.AccPublic|classfile.AccStatic)
	addToPool(t, c)

	var sites []site
	s := NewTailRecursionSimplifier(nil, siteRecorder(&sites))
	n, err := s.Simplify(c, m)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("rewrote %d calls, want 1", n)
	}

	want := "0000  iload_0\n" +
		"0001  ifne +5 (-> 0006)\n" +
		"0004  iload_1\n" +
		"0005  ireturn\n" +
		"0006  iload_0\n" +
		"0007  iconst_1\n" +
		"0008  isub\n" +
		"0009  iload_0\n" +
		"0010  iload_1\n" +
		"0011  iadd\n" +
		"0012  istore_1\n" +
		"0013  istore_0\n" +
		"0014  goto -14 (-> 0000)"
	if got := instruction.Disassemble(m.Code().Code); got != want {
		t.Errorf("got\n%s\nwant\n%s", got, want)
	}
	if len(sites) != 1 || sites[0] != (site{12, instruction.OpInvokestatic}) {
		t.Errorf("observer saw %v", sites)
	}
	if m.Descriptor() != "(II)I" || m.Code().MaxLocals != 2 {
		t.Errorf("descriptor %s, max locals %d", m.Descriptor(), m.Code().MaxLocals)
	}
}

func TestTailRecursionEligibility(t *testing.T) {
	tests := []struct {
		name    string
		access  classfile.AccessFlags
		call    instruction.Opcode
		rewrite bool
	}{
		{"private", classfile.AccPrivate, instruction.OpInvokespecial, true},
		{"private virtual call", classfile.AccPrivate, instruction.OpInvokevirtual, true},
		{"final", classfile.AccPublic | classfile.AccFinal, instruction.OpInvokevirtual, true},
		{"public", classfile.AccPublic, instruction.OpInvokevirtual, false},
		{"synchronized private", classfile.AccPrivate | classfile.AccSynchronized, instruction.OpInvokespecial, false},
		{"static call of instance method", classfile.AccPrivate, instruction.OpInvokestatic, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := classfile.NewClass(classfile.AccPublic, "T", classfile.ObjectClass)
			m := loopMethod(c, tt.access, tt.call)
			addToPool(t, c)
			before := append([]byte(nil), m.Code().Code...)

			var sites []site
			n, err := NewTailRecursionSimplifier(nil, siteRecorder(&sites)).Simplify(c, m)
			if err != nil {
				t.Fatal(err)
			}
			if !tt.rewrite {
				if n != 0 || len(sites) != 0 || string(m.Code().Code) != string(before) {
					t.Errorf("ineligible method rewritten:\n%s", instruction.Disassemble(m.Code().Code))
				}
				return
			}

			want := "0000  iload_1\n" +
				"0001  ifeq +12 (-> 0013)\n" +
				"0004  aload_0\n" +
				"0005  iload_1\n" +
				"0006  iconst_1\n" +
				"0007  isub\n" +
				"0008  istore_1\n" +
				"0009  astore_0\n" +
				"0010  goto -10 (-> 0000)\n" +
				"0013  return"
			if got := instruction.Disassemble(m.Code().Code); got != want {
				t.Errorf("got\n%s\nwant\n%s", got, want)
			}
			if len(sites) != 1 || sites[0].offset != 8 {
				t.Errorf("observer saw %v", sites)
			}
		})
	}
}

func TestIsEligible(t *testing.T) {
	c := classfile.NewClass(classfile.AccPublic, "T", classfile.ObjectClass)
	code := func() *classfile.CodeAttribute { return classfile.NewCodeAttribute(0, 1, []byte{byte(instruction.OpReturn)}) }
	tests := []struct {
		m    *classfile.Method
		want bool
	}{
		{c.AddMethod(classfile.AccStatic, "s", "()V", code()), true},
		{c.AddMethod(classfile.AccPrivate|classfile.AccNative, "n", "()V", nil), false},
		{c.AddMethod(classfile.AccPrivate, "<init>", "()V", code()), false},
		{c.AddMethod(classfile.AccStatic, "<clinit>", "()V", code()), false},
		{c.AddMethod(classfile.AccProtected, "p", "()V", code()), false},
		{c.AddMethod(classfile.AccStatic|classfile.AccSynchronized, "y", "()V", code()), false},
	}
	for _, tt := range tests {
		if got := IsEligible(tt.m); got != tt.want {
			t.Errorf("IsEligible(%s %s) = %v, want %v", tt.m.Access.MethodString(), tt.m.Name(), got, tt.want)
		}
	}
}

func TestTailRecursionSkipsNonQualifyingCalls(t *testing.T) {
	tests := []struct {
		name  string
		build func(c *classfile.Class, b *instruction.Builder)
		setup func(code *classfile.CodeAttribute)
	}{
		{"extra value below the arguments", func(c *classfile.Class, b *instruction.Builder) {
			b.EmitOp(instruction.OpIconst5)
			b.Load("I", 0)
			b.EmitConstant(instruction.OpInvokestatic, c.Pool.InternMethodref(c.Name, "f", "(I)I"))
			b.EmitOp(instruction.OpIreturn)
		}, nil},
		{"result used", func(c *classfile.Class, b *instruction.Builder) {
			b.Load("I", 0)
			b.EmitConstant(instruction.OpInvokestatic, c.Pool.InternMethodref(c.Name, "f", "(I)I"))
			b.EmitOp(instruction.OpIconst1)
			b.EmitOp(instruction.OpIadd)
			b.EmitOp(instruction.OpIreturn)
		}, nil},
		{"overload", func(c *classfile.Class, b *instruction.Builder) {
			b.Load("I", 0)
			b.EmitOp(instruction.OpI2l)
			b.EmitConstant(instruction.OpInvokestatic, c.Pool.InternMethodref(c.Name, "f", "(J)I"))
			b.EmitOp(instruction.OpIreturn)
		}, nil},
		{"other owner", func(c *classfile.Class, b *instruction.Builder) {
			b.Load("I", 0)
			b.EmitConstant(instruction.OpInvokestatic, c.Pool.InternMethodref("U", "f", "(I)I"))
			b.EmitOp(instruction.OpIreturn)
		}, nil},
		{"inside exception range", func(c *classfile.Class, b *instruction.Builder) {
			b.Load("I", 0)
			b.EmitConstant(instruction.OpInvokestatic, c.Pool.InternMethodref(c.Name, "f", "(I)I"))
			b.EmitOp(instruction.OpIreturn)
			b.EmitOp(instruction.OpAthrow) // 5: handler
		}, func(code *classfile.CodeAttribute) {
			code.ExceptionTable = []classfile.ExceptionInfo{{StartPC: 0, EndPC: 5, HandlerPC: 5}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := classfile.NewClass(classfile.AccPublic, "T", classfile.ObjectClass)
			b := instruction.NewBuilder()
			tt.build(c, b)
			code := classfile.NewCodeAttribute(3, 2, b.Bytes())
			if tt.setup != nil {
				tt.setup(code)
			}
			m := c.AddMethod(classfile.AccStatic, "f", "(I)I", code)
			addToPool(t, c)
			before := append([]byte(nil), code.Code...)

			n, err := NewTailRecursionSimplifier(nil, nil).Simplify(c, m)
			if err != nil {
				t.Fatal(err)
			}
			if n != 0 || string(code.Code) != string(before) {
				t.Errorf("rewritten:\n%s", instruction.Disassemble(code.Code))
			}
		})
	}
}

func TestTailRecursionKeepsTargetedReturnAndAddsEntryFrame(t *testing.T) {
	// static void f(int n) { if (n != 0) f(n - 1); }
	c := classfile.NewClass(classfile.AccPublic, "T", classfile.ObjectClass)
	b := instruction.NewBuilder()
	end := b.NewLabel()
	b.Load("I", 0)
	b.EmitJump(instruction.OpIfeq, end)
	b.Load("I", 0)
	b.EmitOp(instruction.OpIconst1)
	b.EmitOp(instruction.OpIsub)
	b.EmitConstant(instruction.OpInvokestatic, c.Pool.InternMethodref("T", "f", "(I)V")) // 7
	b.Mark(end)
	b.EmitOp(instruction.OpReturn) // 10
	code := classfile.NewCodeAttribute(2, 1, b.Bytes())
	intLocal := []classfile.VerificationType{{Tag: classfile.VerifyInteger}}
	code.Attributes = append(code.Attributes, &classfile.StackMapTableAttribute{Frames: []classfile.StackMapFrame{
		{Offset: 10, Locals: intLocal},
	}})
	m := c.AddMethod(classfile.AccStatic, "f", "(I)V", code)
	p := classfile.NewClassPool()
	if err := p.Add(c); err != nil {
		t.Fatal(err)
	}

	store := info.NewStore()
	old := &info.ProgramCodeInfo{}
	store.Set(code, old)

	n, err := NewTailRecursionSimplifier(store, nil).Simplify(c, m)
	if err != nil || n != 1 {
		t.Fatalf("n = %d, err = %v", n, err)
	}

	want := "0000  iload_0\n" +
		"0001  ifeq +10 (-> 0011)\n" +
		"0004  iload_0\n" +
		"0005  iconst_1\n" +
		"0006  isub\n" +
		"0007  istore_0\n" +
		"0008  goto -8 (-> 0000)\n" +
		"0011  return"
	if got := instruction.Disassemble(code.Code); got != want {
		t.Errorf("got\n%s\nwant\n%s", got, want)
	}

	frames := code.StackMapTable().Frames
	if len(frames) != 2 || frames[0].Offset != 0 || frames[1].Offset != 11 {
		t.Fatalf("frames = %+v", frames)
	}
	if len(frames[0].Locals) != 1 || frames[0].Locals[0].Tag != classfile.VerifyInteger || len(frames[0].Stack) != 0 {
		t.Errorf("entry frame = %+v", frames[0])
	}

	if got := store.ProgramCodeInfoOf(code); got == nil || got == old {
		t.Error("code info not refreshed")
	}
}

func TestTailRecursionVisitor(t *testing.T) {
	c := classfile.NewClass(classfile.AccPublic, "T", classfile.ObjectClass)
	sumMethod(c, classfile.AccStatic)
	loopMethod(c, classfile.AccPublic, instruction.OpInvokevirtual)
	addToPool(t, c)

	s := NewTailRecursionSimplifier(nil, nil)
	c.MethodsAccept(s)
	if err := s.Err(); err != nil {
		t.Fatal(err)
	}
	if s.Count() != 1 {
		t.Errorf("count = %d, want 1", s.Count())
	}
}
