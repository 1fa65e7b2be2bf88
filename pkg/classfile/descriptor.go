package classfile

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// FieldType is one type of a field or method descriptor. Kind is the
// descriptor character (B C D F I J S Z V L [); ClassName is set for L,
// Elem for [.
type FieldType struct {
	Kind      byte
	ClassName string
	Elem      *FieldType
}

// IsReference reports whether the type is a class or array reference.
func (t FieldType) IsReference() bool {
	return t.Kind == 'L' || t.Kind == '['
}

// Slots returns the number of local variable / operand stack slots the type
// occupies.
func (t FieldType) Slots() int {
	switch t.Kind {
	case 'V':
		return 0
	case 'J', 'D':
		return 2
	default:
		return 1
	}
}

func (t FieldType) String() string {
	switch t.Kind {
	case 'L':
		return "L" + t.ClassName + ";"
	case '[':
		return "[" + t.Elem.String()
	default:
		return string(t.Kind)
	}
}

// MethodDescriptor is a parsed method descriptor.
type MethodDescriptor struct {
	Params []FieldType
	Return FieldType
}

// ArgSlots returns the number of local slots the parameters occupy.
func (d *MethodDescriptor) ArgSlots() int {
	n := 0
	for _, p := range d.Params {
		n += p.Slots()
	}
	return n
}

func (d *MethodDescriptor) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for _, p := range d.Params {
		b.WriteString(p.String())
	}
	b.WriteByte(')')
	b.WriteString(d.Return.String())
	return b.String()
}

// ParseMethodDescriptor parses a descriptor such as "(IJLjava/lang/String;)V".
func ParseMethodDescriptor(desc string) (*MethodDescriptor, error) {
	if len(desc) == 0 || desc[0] != '(' {
		return nil, fmt.Errorf("invalid method descriptor %q: missing '('", desc)
	}
	md := &MethodDescriptor{}
	i := 1
	for {
		if i >= len(desc) {
			return nil, fmt.Errorf("invalid method descriptor %q: missing ')'", desc)
		}
		if desc[i] == ')' {
			i++
			break
		}
		ft, n, err := parseFieldType(desc[i:], false)
		if err != nil {
			return nil, fmt.Errorf("invalid method descriptor %q: %w", desc, err)
		}
		md.Params = append(md.Params, ft)
		i += n
	}
	ret, n, err := parseFieldType(desc[i:], true)
	if err != nil {
		return nil, fmt.Errorf("invalid method descriptor %q: return type: %w", desc, err)
	}
	if i+n != len(desc) {
		return nil, fmt.Errorf("invalid method descriptor %q: trailing characters", desc)
	}
	md.Return = ret
	return md, nil
}

// parseFieldType parses one type at the start of s and returns it with the
// number of bytes consumed.
func parseFieldType(s string, allowVoid bool) (FieldType, int, error) {
	if len(s) == 0 {
		return FieldType{}, 0, fmt.Errorf("unexpected end of descriptor")
	}
	switch c := s[0]; c {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return FieldType{Kind: c}, 1, nil
	case 'V':
		if !allowVoid {
			return FieldType{}, 0, fmt.Errorf("void is only valid as a return type")
		}
		return FieldType{Kind: 'V'}, 1, nil
	case 'L':
		end := strings.IndexByte(s, ';')
		if end < 0 {
			return FieldType{}, 0, fmt.Errorf("unterminated class type %q", s)
		}
		name := s[1:end]
		if !ValidClassName(name) {
			return FieldType{}, 0, fmt.Errorf("invalid class name %q", name)
		}
		return FieldType{Kind: 'L', ClassName: name}, end + 1, nil
	case '[':
		elem, n, err := parseFieldType(s[1:], false)
		if err != nil {
			return FieldType{}, 0, err
		}
		return FieldType{Kind: '[', Elem: &elem}, n + 1, nil
	default:
		return FieldType{}, 0, fmt.Errorf("invalid type character '%c'", c)
	}
}

// Class file limits on names and descriptors.
const (
	// MaxUTF8Len is the longest string a CONSTANT_Utf8 entry holds, in
	// modified UTF-8 bytes.
	MaxUTF8Len = 0xFFFF
	// MaxArgSlots is the most parameter slots a method takes, counting
	// this for instance methods.
	MaxArgSlots = 255
)

// ValidUnqualifiedName reports whether name may be used as a method name
// other than <init> and <clinit>.
func ValidUnqualifiedName(name string) bool {
	if !storable(name) {
		return false
	}
	return !strings.ContainsAny(name, ".;[/<>")
}

// ValidClassName reports whether name is a well-formed binary class name in
// internal form (slash separated, no empty segments).
func ValidClassName(name string) bool {
	if !storable(name) {
		return false
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" || strings.ContainsAny(seg, ".;[") {
			return false
		}
	}
	return true
}

// storable reports whether s is non-empty valid UTF-8 that fits a Utf8
// constant.
func storable(s string) bool {
	return s != "" && utf8.ValidString(s) && ModifiedUTF8Len(s) <= MaxUTF8Len
}
