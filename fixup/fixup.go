// Package fixup keeps a constructor consistent after it gains a trailing
// dummy parameter: the local variable count of its code, its generic
// signature, and the calls that invoke it.
package fixup

import (
	"fmt"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/bcopt/classfile"
	"github.com/chazu/bcopt/classfile/descriptor"
)

var log = commonlog.GetLogger("bcopt.fixup")

// DescriptorError reports a descriptor or signature the fixups cannot
// handle. It is raised with panic: callers only run fixups on descriptors
// that gained a base type parameter.
type DescriptorError struct {
	Descriptor string
	Signature  string
	Msg        string
}

func (e *DescriptorError) Error() string {
	if e.Signature != "" {
		return fmt.Sprintf("fixup: descriptor %q, signature %q: %s", e.Descriptor, e.Signature, e.Msg)
	}
	return fmt.Sprintf("fixup: descriptor %q: %s", e.Descriptor, e.Msg)
}

// LocalCountFixer raises the local variable count of a method's code to
// what its descriptor needs: the receiver of an instance method plus the
// parameter slots, two for long and double. It never lowers the count.
type LocalCountFixer struct{}

// Fix applies the fixer to m. Methods without code are left alone.
func (LocalCountFixer) Fix(c *classfile.Class, m *classfile.Method) {
	code := m.Code()
	if code == nil {
		return
	}
	need := descriptor.MethodLocalsSize(m.Descriptor(), m.Access.IsStatic())
	if code.MaxLocals < need {
		log.Debugf("%s: max locals %d -> %d", m, code.MaxLocals, need)
		code.MaxLocals = need
	}
}

// VisitMethod implements classfile.MemberVisitor.
func (f LocalCountFixer) VisitMethod(c *classfile.Class, m *classfile.Method) { f.Fix(c, m) }

// VisitField implements classfile.MemberVisitor.
func (LocalCountFixer) VisitField(*classfile.Class, *classfile.Field) {}

// SignatureFixer copies the last parameter of a method's descriptor into
// its generic signature, just before the signature's closing parenthesis.
// The new signature is interned in the class constant pool and the
// attribute repointed; the old constant stays.
//
// The last parameter must be a base type. Only one parameter is spliced, so
// a descriptor that gained several parameters is not fully mirrored.
type SignatureFixer struct{}

// Fix applies the fixer to m. Methods without a signature are left alone.
func (SignatureFixer) Fix(c *classfile.Class, m *classfile.Method) {
	attr := m.SignatureAttribute()
	if attr == nil {
		return
	}
	desc := m.Descriptor()
	sig := c.Pool.Utf8(attr.SignatureIndex)
	updated := SpliceSignature(desc, sig)
	attr.SignatureIndex = c.Pool.InternUtf8(updated)
	log.Debugf("%s: signature %s -> %s", m, sig, updated)
}

// VisitMethod implements classfile.MemberVisitor.
func (f SignatureFixer) VisitMethod(c *classfile.Class, m *classfile.Method) { f.Fix(c, m) }

// VisitField implements classfile.MemberVisitor.
func (SignatureFixer) VisitField(*classfile.Class, *classfile.Field) {}

// SpliceSignature returns sig with the last parameter type of desc inserted
// before its closing parenthesis. It panics with *DescriptorError when
// either string has no closing parenthesis or the last parameter of desc is
// not a base type.
func SpliceSignature(desc, sig string) string {
	dclose := strings.IndexByte(desc, ')')
	if dclose < 0 {
		panic(&DescriptorError{Descriptor: desc, Msg: "no closing parenthesis"})
	}
	sclose := strings.IndexByte(sig, ')')
	if sclose < 0 {
		panic(&DescriptorError{Descriptor: desc, Signature: sig, Msg: "signature has no closing parenthesis"})
	}
	params, _, err := descriptor.Parse(desc)
	if err != nil {
		panic(&DescriptorError{Descriptor: desc, Msg: err.Error()})
	}
	if len(params) == 0 {
		panic(&DescriptorError{Descriptor: desc, Msg: "no parameters"})
	}
	last := params[len(params)-1]
	if len(last) != 1 || !descriptor.IsBaseType(last[0]) {
		panic(&DescriptorError{Descriptor: desc, Msg: fmt.Sprintf("last parameter %s is not a base type", last)})
	}
	return sig[:sclose] + last + sig[sclose:]
}
