// Package descriptor parses JVM field and method descriptors.
//
// Descriptors are the erased type strings stored in the constant pool, e.g.
// "(ILjava/lang/String;[J)V". All functions here are pure; malformed
// descriptors are reported through *Error.
package descriptor

import (
	"fmt"
	"strings"
)

// Base type characters.
const (
	Boolean = 'Z'
	Byte    = 'B'
	Char    = 'C'
	Short   = 'S'
	Int     = 'I'
	Long    = 'J'
	Float   = 'F'
	Double  = 'D'
	Void    = 'V'
	Object  = 'L'
	Array   = '['
)

// Error reports a malformed descriptor.
type Error struct {
	Descriptor string
	Pos        int
	Msg        string
}

func (e *Error) Error() string {
	return fmt.Sprintf("descriptor %q at %d: %s", e.Descriptor, e.Pos, e.Msg)
}

// IsBaseType reports whether c is a primitive (non-void) type character.
func IsBaseType(c byte) bool {
	switch c {
	case Boolean, Byte, Char, Short, Int, Long, Float, Double:
		return true
	}
	return false
}

// ParameterSlotSize returns the number of local variable slots a value of the
// type starting with c occupies: 2 for long and double, 1 for everything else.
func ParameterSlotSize(c byte) int {
	if c == Long || c == Double {
		return 2
	}
	return 1
}

// TypeSize returns the slot size of a single field type, 0 for void.
func TypeSize(t string) int {
	if t == "" || t[0] == Void {
		return 0
	}
	return ParameterSlotSize(t[0])
}

// scanType returns the end index of the field type starting at i.
func scanType(desc string, i int) (int, error) {
	start := i
	for i < len(desc) && desc[i] == Array {
		i++
	}
	if i >= len(desc) {
		return 0, &Error{Descriptor: desc, Pos: start, Msg: "truncated type"}
	}
	switch c := desc[i]; {
	case IsBaseType(c):
		return i + 1, nil
	case c == Object:
		end := strings.IndexByte(desc[i:], ';')
		if end < 0 {
			return 0, &Error{Descriptor: desc, Pos: i, Msg: "unterminated class type"}
		}
		return i + end + 1, nil
	default:
		return 0, &Error{Descriptor: desc, Pos: i, Msg: fmt.Sprintf("unexpected %q", c)}
	}
}

// Parse splits a method descriptor into its parameter types and return type.
func Parse(desc string) (params []string, ret string, err error) {
	if len(desc) == 0 || desc[0] != '(' {
		return nil, "", &Error{Descriptor: desc, Pos: 0, Msg: "missing '('"}
	}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		end, err := scanType(desc, i)
		if err != nil {
			return nil, "", err
		}
		params = append(params, desc[i:end])
		i = end
	}
	if i >= len(desc) {
		return nil, "", &Error{Descriptor: desc, Pos: i, Msg: "missing ')'"}
	}
	ret = desc[i+1:]
	if ret == "V" {
		return params, ret, nil
	}
	end, err := scanType(desc, i+1)
	if err != nil {
		return nil, "", err
	}
	if end != len(desc) {
		return nil, "", &Error{Descriptor: desc, Pos: end, Msg: "trailing characters"}
	}
	return params, ret, nil
}

func mustParse(desc string) ([]string, string) {
	params, ret, err := Parse(desc)
	if err != nil {
		panic(err)
	}
	return params, ret
}

// ParameterTypes returns the parameter types of a method descriptor.
// Panics with *Error on a malformed descriptor.
func ParameterTypes(desc string) []string {
	params, _ := mustParse(desc)
	return params
}

// ReturnType returns the return type of a method descriptor.
func ReturnType(desc string) string {
	_, ret := mustParse(desc)
	return ret
}

// ParameterCount returns the number of declared parameters.
func ParameterCount(desc string) int {
	return len(ParameterTypes(desc))
}

// ParameterSize returns the number of local slots the parameters occupy,
// excluding any receiver.
func ParameterSize(desc string) int {
	size := 0
	for _, p := range ParameterTypes(desc) {
		size += ParameterSlotSize(p[0])
	}
	return size
}

// MethodLocalsSize returns the slots needed by the parameters plus the
// receiver for instance methods.
func MethodLocalsSize(desc string, static bool) int {
	size := ParameterSize(desc)
	if !static {
		size++
	}
	return size
}

// ClassNameOf returns the internal class name of an object type such as
// "Ljava/lang/String;", or the descriptor itself for array types.
func ClassNameOf(t string) string {
	if len(t) > 2 && t[0] == Object && t[len(t)-1] == ';' {
		return t[1 : len(t)-1]
	}
	return t
}

// OfClass returns the field descriptor of an internal class name.
func OfClass(name string) string {
	if strings.HasPrefix(name, "[") {
		return name
	}
	return "L" + name + ";"
}

// Package returns the package part of an internal class name.
func Package(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[:i]
	}
	return ""
}
