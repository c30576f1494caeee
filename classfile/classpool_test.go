package classfile

import (
	"strings"
	"testing"

	"github.com/chazu/bcopt/classfile/instruction"
)

func returnCode() *CodeAttribute {
	b := instruction.NewBuilder()
	b.EmitOp(instruction.OpReturn)
	return NewCodeAttribute(0, 1, b.Bytes())
}

func newTestPool(t *testing.T, classes ...*Class) *ClassPool {
	t.Helper()
	p := NewClassPool()
	for _, c := range classes {
		if err := p.Add(c); err != nil {
			t.Fatalf("Add(%s): %v", c.Name, err)
		}
	}
	return p
}

func TestClassPoolAssignsIDs(t *testing.T) {
	c := NewClass(AccPublic, "com/example/A", ObjectClass)
	f := c.AddField(AccPrivate, "count", "I")
	m := c.AddMethod(AccPublic, "run", "()V", returnCode())
	abstract := c.AddMethod(AccPublic|AccAbstract, "other", "()V", nil)

	p := newTestPool(t, c)

	ids := map[ElementID]Element{}
	for _, e := range []Element{c, f, m, m.Code(), abstract} {
		if e.ID() == 0 {
			t.Errorf("%s: no ID assigned", e)
		}
		if _, dup := ids[e.ID()]; dup {
			t.Errorf("%s: duplicate ID %d", e, e.ID())
		}
		ids[e.ID()] = e
		if p.Element(e.ID()) != e {
			t.Errorf("Element(%d) does not return %s", e.ID(), e)
		}
	}
	if p.ElementCount() != 5 {
		t.Errorf("ElementCount = %d, want 5", p.ElementCount())
	}

	late := c.AddMethod(AccPrivate, "late", "()V", returnCode())
	p.Assign(c)
	if late.ID() == 0 || late.Code().ID() == 0 {
		t.Error("Assign did not give IDs to a late method")
	}
	if m.ID() != ids[m.ID()].ID() {
		t.Error("Assign changed an existing ID")
	}
}

func TestClassPoolRejectsMalformedCode(t *testing.T) {
	c := NewClass(AccPublic, "Bad", ObjectClass)
	c.AddMethod(AccPublic, "m", "()V", NewCodeAttribute(0, 1, []byte{byte(instruction.OpSipush)}))
	err := NewClassPool().Add(c)
	if err == nil || !strings.Contains(err.Error(), "Bad") {
		t.Errorf("Add = %v, want malformed code error", err)
	}
}

func TestClassPoolRejectsDuplicates(t *testing.T) {
	p := newTestPool(t, NewClass(AccPublic, "A", ObjectClass))
	if err := p.Add(NewClass(AccPublic, "A", ObjectClass)); err == nil {
		t.Error("duplicate class accepted")
	}
}

func hierarchy(t *testing.T) *ClassPool {
	base := NewClass(AccPublic, "Base", ObjectClass, "Iface")
	base.AddMethod(AccPublic, "run", "()V", returnCode())
	base.AddField(AccProtected, "size", "I")
	mid := NewClass(AccPublic, "Mid", "Base")
	leaf := NewClass(AccPublic, "Leaf", "Mid")
	iface := NewClass(AccPublic|AccInterface|AccAbstract, "Iface", "")
	iface.AddMethod(AccPublic|AccAbstract, "call", "()I", nil)
	orphan := NewClass(AccPublic, "Orphan", "Missing")
	return newTestPool(t, base, mid, leaf, iface, orphan)
}

func TestIsAncestor(t *testing.T) {
	p := hierarchy(t)
	tests := []struct {
		ancestor, name string
		is, known      bool
	}{
		{"Base", "Leaf", true, true},
		{"Mid", "Leaf", true, true},
		{"Iface", "Leaf", true, true},
		{"Leaf", "Base", false, true},
		{"Leaf", "Leaf", false, true},
		{ObjectClass, "Leaf", true, true},
		{"Base", "Orphan", false, false},
		{"Base", "Unknown", false, false},
	}
	for _, tt := range tests {
		is, known := p.IsAncestor(tt.ancestor, tt.name)
		if is != tt.is || known != tt.known {
			t.Errorf("IsAncestor(%s, %s) = (%t, %t), want (%t, %t)",
				tt.ancestor, tt.name, is, known, tt.is, tt.known)
		}
	}
}

func TestDeclaringClass(t *testing.T) {
	p := hierarchy(t)
	tests := []struct {
		owner, name, desc string
		field             bool
		want              string
	}{
		{"Leaf", "run", "()V", false, "Base"},
		{"Leaf", "size", "I", true, "Base"},
		{"Leaf", "call", "()I", false, "Iface"},
		{"Leaf", "missing", "()V", false, ""},
		{"Orphan", "run", "()V", false, ""},
	}
	for _, tt := range tests {
		got := p.DeclaringClass(tt.owner, tt.name, tt.desc, tt.field)
		name := ""
		if got != nil {
			name = got.Name
		}
		if name != tt.want {
			t.Errorf("DeclaringClass(%s, %s) = %q, want %q", tt.owner, tt.name, name, tt.want)
		}
	}
}

func TestMemberAccessors(t *testing.T) {
	c := NewClass(AccPublic, "com/example/A", ObjectClass)
	m := c.AddMethod(AccPublic, "<init>", "(Ljava/util/List;)V", returnCode())
	m.Attributes = append(m.Attributes, &SignatureAttribute{
		SignatureIndex: c.Pool.InternUtf8("(Ljava/util/List<Ljava/lang/String;>;)V"),
	})

	if !m.IsInitializer() || m.IsClassInitializer() {
		t.Error("initializer classification")
	}
	if got := m.String(); got != "com/example/A.<init>(Ljava/util/List;)V" {
		t.Errorf("String = %q", got)
	}
	if got := m.Signature(); got != "(Ljava/util/List<Ljava/lang/String;>;)V" {
		t.Errorf("Signature = %q", got)
	}

	old := m.DescriptorIndex
	m.SetDescriptor("(Ljava/util/List;I)V")
	if m.DescriptorIndex == old || m.Descriptor() != "(Ljava/util/List;I)V" {
		t.Errorf("SetDescriptor: %q", m.Descriptor())
	}
	if c.Pool.Utf8(old) != "(Ljava/util/List;)V" {
		t.Error("old descriptor constant was modified")
	}
	if c.FindMethod("<init>", "(Ljava/util/List;I)V") != m {
		t.Error("FindMethod after SetDescriptor")
	}
}

func TestInitialFrame(t *testing.T) {
	c := NewClass(AccPublic, "com/example/A", ObjectClass)
	ctor := c.AddMethod(AccPublic, "<init>", "(IJ[Ljava/lang/String;)V", returnCode())
	static := c.AddMethod(AccStatic, "s", "(DLjava/lang/Object;)V", returnCode())

	f := InitialFrame(c, ctor)
	want := []VerificationTag{VerifyUninitializedThis, VerifyInteger, VerifyLong, VerifyObject}
	if len(f.Locals) != len(want) {
		t.Fatalf("ctor locals = %v", f.Locals)
	}
	for i, tag := range want {
		if f.Locals[i].Tag != tag {
			t.Errorf("ctor local %d = %s", i, f.Locals[i])
		}
	}
	if got := c.Pool.ClassName(f.Locals[3].ClassIndex); got != "[Ljava/lang/String;" {
		t.Errorf("array class = %q", got)
	}

	f = InitialFrame(c, static)
	if len(f.Locals) != 2 || f.Locals[0].Tag != VerifyDouble {
		t.Fatalf("static locals = %v", f.Locals)
	}
	if got := c.Pool.ClassName(f.Locals[1].ClassIndex); got != ObjectClass {
		t.Errorf("object class = %q", got)
	}
}
