// Package image stores a class pool as a CBOR image: every class with its
// constant pool in original index order, members, and attributes. Element
// IDs are not stored; they are assigned again when the image is loaded.
package image

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/tliron/commonlog"

	"github.com/chazu/bcopt/classfile"
)

// Version is the image format version.
const Version = 1

var log = commonlog.GetLogger("bcopt.image")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type wireImage struct {
	Version int         `cbor:"1,keyasint"`
	Classes []wireClass `cbor:"2,keyasint"`
}

type wireClass struct {
	Access     uint16          `cbor:"1,keyasint"`
	Name       string          `cbor:"2,keyasint"`
	Super      string          `cbor:"3,keyasint,omitempty"`
	Interfaces []string        `cbor:"4,keyasint,omitempty"`
	Library    bool            `cbor:"5,keyasint,omitempty"`
	Constants  []wireConstant  `cbor:"6,keyasint"`
	Fields     []wireMember    `cbor:"7,keyasint,omitempty"`
	Methods    []wireMember    `cbor:"8,keyasint,omitempty"`
	Attributes []wireAttribute `cbor:"9,keyasint,omitempty"`
}

// wireConstant is a constant pool entry. Which of the value fields are set
// depends on Tag.
type wireConstant struct {
	Index int    `cbor:"1,keyasint"`
	Tag   uint8  `cbor:"2,keyasint"`
	Str   string `cbor:"3,keyasint,omitempty"`
	Int   int64  `cbor:"4,keyasint,omitempty"`
	Bits  uint64 `cbor:"5,keyasint,omitempty"`
	A     int    `cbor:"6,keyasint,omitempty"`
	B     int    `cbor:"7,keyasint,omitempty"`
}

type wireMember struct {
	Access     uint16          `cbor:"1,keyasint"`
	Name       int             `cbor:"2,keyasint"`
	Descriptor int             `cbor:"3,keyasint"`
	Attributes []wireAttribute `cbor:"4,keyasint,omitempty"`
}

type wireAttribute struct {
	Name      string                    `cbor:"1,keyasint"`
	Signature int                       `cbor:"2,keyasint,omitempty"`
	Code      *wireCode                 `cbor:"3,keyasint,omitempty"`
	Lines     []classfile.LineNumber    `cbor:"4,keyasint,omitempty"`
	Locals    []classfile.LocalVariable `cbor:"5,keyasint,omitempty"`
	Frames    []classfile.StackMapFrame `cbor:"6,keyasint,omitempty"`
	Info      []byte                    `cbor:"7,keyasint,omitempty"`
}

type wireCode struct {
	MaxStack   int                       `cbor:"1,keyasint"`
	MaxLocals  int                       `cbor:"2,keyasint"`
	Code       []byte                    `cbor:"3,keyasint"`
	Exceptions []classfile.ExceptionInfo `cbor:"4,keyasint,omitempty"`
	Attributes []wireAttribute           `cbor:"5,keyasint,omitempty"`
}

// ---------------------------------------------------------------------------
// Marshal / Unmarshal
// ---------------------------------------------------------------------------

// Marshal serializes the classes of p to CBOR bytes. The encoding is
// deterministic.
func Marshal(p *classfile.ClassPool) ([]byte, error) {
	img := wireImage{Version: Version}
	for _, c := range p.Classes() {
		wc, err := encodeClass(c)
		if err != nil {
			return nil, err
		}
		img.Classes = append(img.Classes, wc)
	}
	return cborEncMode.Marshal(&img)
}

// Unmarshal deserializes an image into a new class pool.
func Unmarshal(data []byte) (*classfile.ClassPool, error) {
	var img wireImage
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("image: unmarshal: %w", err)
	}
	if img.Version != Version {
		return nil, fmt.Errorf("image: unsupported version %d", img.Version)
	}
	p := classfile.NewClassPool()
	for _, wc := range img.Classes {
		c, err := decodeClass(wc)
		if err != nil {
			return nil, fmt.Errorf("image: class %s: %w", wc.Name, err)
		}
		if err := p.Add(c); err != nil {
			return nil, fmt.Errorf("image: %w", err)
		}
	}
	return p, nil
}

// WriteFile writes the image of p to path.
func WriteFile(path string, p *classfile.ClassPool) error {
	data, err := Marshal(p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("image: %w", err)
	}
	log.Infof("wrote %d classes to %s (%d bytes)", p.Size(), path, len(data))
	return nil
}

// ReadFile loads the image at path.
func ReadFile(path string) (*classfile.ClassPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	p, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Infof("read %d classes from %s", p.Size(), path)
	return p, nil
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

func encodeClass(c *classfile.Class) (wireClass, error) {
	wc := wireClass{
		Access:     uint16(c.Access),
		Name:       c.Name,
		Super:      c.SuperName,
		Interfaces: c.Interfaces,
		Library:    c.Library,
	}
	var err error
	c.Pool.Each(func(index int, k classfile.Constant) {
		if err == nil {
			var w wireConstant
			w, err = encodeConstant(index, k)
			wc.Constants = append(wc.Constants, w)
		}
	})
	if err != nil {
		return wc, err
	}
	for _, f := range c.Fields {
		wc.Fields = append(wc.Fields, wireMember{
			Access:     uint16(f.Access),
			Name:       f.NameIndex,
			Descriptor: f.DescriptorIndex,
			Attributes: encodeAttributes(f.Attributes),
		})
	}
	for _, m := range c.Methods {
		wc.Methods = append(wc.Methods, wireMember{
			Access:     uint16(m.Access),
			Name:       m.NameIndex,
			Descriptor: m.DescriptorIndex,
			Attributes: encodeAttributes(m.Attributes),
		})
	}
	wc.Attributes = encodeAttributes(c.Attributes)
	return wc, nil
}

func encodeConstant(index int, k classfile.Constant) (wireConstant, error) {
	w := wireConstant{Index: index, Tag: uint8(k.Tag())}
	switch k := k.(type) {
	case classfile.Utf8Constant:
		w.Str = k.Value
	case classfile.IntegerConstant:
		w.Int = int64(k.Value)
	case classfile.FloatConstant:
		w.Bits = uint64(k.Bits)
	case classfile.LongConstant:
		w.Int = k.Value
	case classfile.DoubleConstant:
		w.Bits = k.Bits
	case classfile.ClassConstant:
		w.A = k.NameIndex
	case classfile.StringConstant:
		w.A = k.StringIndex
	case classfile.MethodTypeConstant:
		w.A = k.DescriptorIndex
	case classfile.RefConstant:
		w.A, w.B = k.ClassIndex, k.NameAndTypeIndex
	case classfile.NameAndTypeConstant:
		w.A, w.B = k.NameIndex, k.DescriptorIndex
	case classfile.MethodHandleConstant:
		w.A, w.B = int(k.Kind), k.RefIndex
	case classfile.InvokeDynamicConstant:
		w.A, w.B = k.BootstrapIndex, k.NameAndTypeIndex
	default:
		return w, fmt.Errorf("image: constant #%d: unknown kind %T", index, k)
	}
	return w, nil
}

func encodeAttributes(attrs []classfile.Attribute) []wireAttribute {
	var out []wireAttribute
	for _, a := range attrs {
		w := wireAttribute{Name: a.AttributeName()}
		switch a := a.(type) {
		case *classfile.CodeAttribute:
			w.Code = &wireCode{
				MaxStack:   a.MaxStack,
				MaxLocals:  a.MaxLocals,
				Code:       a.Code,
				Exceptions: a.ExceptionTable,
				Attributes: encodeAttributes(a.Attributes),
			}
		case *classfile.SignatureAttribute:
			w.Signature = a.SignatureIndex
		case *classfile.LineNumberTableAttribute:
			w.Lines = a.Entries
		case *classfile.LocalVariableTableAttribute:
			w.Locals = a.Entries
		case *classfile.LocalVariableTypeTableAttribute:
			w.Locals = a.Entries
		case *classfile.StackMapTableAttribute:
			w.Frames = a.Frames
		case *classfile.UnknownAttribute:
			w.Info = a.Info
		}
		out = append(out, w)
	}
	return out
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

func decodeClass(wc wireClass) (*classfile.Class, error) {
	c := classfile.NewClass(classfile.AccessFlags(wc.Access), wc.Name, wc.Super, wc.Interfaces...)
	c.Library = wc.Library
	for _, w := range wc.Constants {
		k, err := decodeConstant(w)
		if err != nil {
			return nil, err
		}
		if idx := c.Pool.Add(k); idx != w.Index {
			return nil, fmt.Errorf("constant %s lands at #%d, recorded at #%d", k.Tag(), idx, w.Index)
		}
	}
	for _, w := range wc.Fields {
		if err := checkMember(c, w); err != nil {
			return nil, err
		}
		f := &classfile.Field{}
		f.Access = classfile.AccessFlags(w.Access)
		f.NameIndex, f.DescriptorIndex = w.Name, w.Descriptor
		f.Attributes = decodeAttributes(w.Attributes)
		c.Fields = append(c.Fields, f)
	}
	for _, w := range wc.Methods {
		if err := checkMember(c, w); err != nil {
			return nil, err
		}
		m := &classfile.Method{}
		m.Access = classfile.AccessFlags(w.Access)
		m.NameIndex, m.DescriptorIndex = w.Name, w.Descriptor
		m.Attributes = decodeAttributes(w.Attributes)
		c.Methods = append(c.Methods, m)
	}
	c.Attributes = decodeAttributes(wc.Attributes)
	return c, nil
}

func checkMember(c *classfile.Class, w wireMember) error {
	for _, idx := range []int{w.Name, w.Descriptor} {
		if _, ok := c.Pool.Get(idx).(classfile.Utf8Constant); !ok {
			return fmt.Errorf("member name or descriptor #%d is not a Utf8 constant", idx)
		}
	}
	return nil
}

func decodeConstant(w wireConstant) (classfile.Constant, error) {
	switch tag := classfile.ConstantTag(w.Tag); tag {
	case classfile.ConstantUtf8:
		return classfile.Utf8Constant{Value: w.Str}, nil
	case classfile.ConstantInteger:
		return classfile.IntegerConstant{Value: int32(w.Int)}, nil
	case classfile.ConstantFloat:
		return classfile.FloatConstant{Bits: uint32(w.Bits)}, nil
	case classfile.ConstantLong:
		return classfile.LongConstant{Value: w.Int}, nil
	case classfile.ConstantDouble:
		return classfile.DoubleConstant{Bits: w.Bits}, nil
	case classfile.ConstantClass:
		return classfile.ClassConstant{NameIndex: w.A}, nil
	case classfile.ConstantString:
		return classfile.StringConstant{StringIndex: w.A}, nil
	case classfile.ConstantMethodType:
		return classfile.MethodTypeConstant{DescriptorIndex: w.A}, nil
	case classfile.ConstantFieldref, classfile.ConstantMethodref, classfile.ConstantInterfaceMethodref:
		return classfile.RefConstant{RefTag: tag, ClassIndex: w.A, NameAndTypeIndex: w.B}, nil
	case classfile.ConstantNameAndType:
		return classfile.NameAndTypeConstant{NameIndex: w.A, DescriptorIndex: w.B}, nil
	case classfile.ConstantMethodHandle:
		return classfile.MethodHandleConstant{Kind: uint8(w.A), RefIndex: w.B}, nil
	case classfile.ConstantInvokeDynamic:
		return classfile.InvokeDynamicConstant{BootstrapIndex: w.A, NameAndTypeIndex: w.B}, nil
	}
	return nil, fmt.Errorf("constant #%d: unknown tag %d", w.Index, w.Tag)
}

func decodeAttributes(ws []wireAttribute) []classfile.Attribute {
	var out []classfile.Attribute
	for _, w := range ws {
		var a classfile.Attribute
		switch w.Name {
		case classfile.AttrCode:
			code := classfile.NewCodeAttribute(0, 0, nil)
			if w.Code != nil {
				code.MaxStack, code.MaxLocals = w.Code.MaxStack, w.Code.MaxLocals
				code.Code = w.Code.Code
				code.ExceptionTable = w.Code.Exceptions
				code.Attributes = decodeAttributes(w.Code.Attributes)
			}
			a = code
		case classfile.AttrSignature:
			a = &classfile.SignatureAttribute{SignatureIndex: w.Signature}
		case classfile.AttrLineNumberTable:
			a = &classfile.LineNumberTableAttribute{Entries: w.Lines}
		case classfile.AttrLocalVariableTable:
			a = &classfile.LocalVariableTableAttribute{Entries: w.Locals}
		case classfile.AttrLocalVariableTypeTable:
			a = &classfile.LocalVariableTypeTableAttribute{Entries: w.Locals}
		case classfile.AttrStackMapTable:
			a = &classfile.StackMapTableAttribute{Frames: w.Frames}
		default:
			a = &classfile.UnknownAttribute{Name: w.Name, Info: w.Info}
		}
		out = append(out, a)
	}
	return out
}
