// Package signature describes the type of a trampoline: a name, a return
// type and ordered parameter types, and encodes it into a JVM method
// descriptor.
package signature

import (
	"fmt"
	"strings"

	"github.com/daimatz/gotramp/pkg/classfile"
)

// Kind enumerates the TypeTag variants. The zero Kind is invalid so that a
// zero TypeTag is never mistaken for a real type.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindVoid
	KindBoolean
	KindByte
	KindChar
	KindShort
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindReference
)

var kindNames = [...]string{
	KindInvalid:   "invalid",
	KindVoid:      "void",
	KindBoolean:   "boolean",
	KindByte:      "byte",
	KindChar:      "char",
	KindShort:     "short",
	KindInt:       "int",
	KindLong:      "long",
	KindFloat:     "float",
	KindDouble:    "double",
	KindReference: "reference",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// TypeTag is one parameter or return type.
type TypeTag struct {
	kind  Kind
	class string
}

// Predefined tags.
var (
	Void    = TypeTag{kind: KindVoid}
	Boolean = TypeTag{kind: KindBoolean}
	Byte    = TypeTag{kind: KindByte}
	Char    = TypeTag{kind: KindChar}
	Short   = TypeTag{kind: KindShort}
	Int     = TypeTag{kind: KindInt}
	Long    = TypeTag{kind: KindLong}
	Float   = TypeTag{kind: KindFloat}
	Double  = TypeTag{kind: KindDouble}
)

// Reference returns the tag of an object reference to the class with the
// given internal name (java/lang/String).
func Reference(class string) TypeTag {
	return TypeTag{kind: KindReference, class: class}
}

// Kind returns the variant.
func (t TypeTag) Kind() Kind { return t.kind }

// ClassRef returns the class of a reference tag, "" otherwise.
func (t TypeTag) ClassRef() string { return t.class }

func (t TypeTag) String() string {
	if t.kind == KindReference {
		return t.class
	}
	return t.kind.String()
}

var primitiveFragments = map[Kind]string{
	KindVoid:    "V",
	KindBoolean: "Z",
	KindByte:    "B",
	KindChar:    "C",
	KindShort:   "S",
	KindInt:     "I",
	KindLong:    "J",
	KindFloat:   "F",
	KindDouble:  "D",
}

// fragment returns the descriptor fragment of t, or a reason it has none.
func (t TypeTag) fragment() (string, string) {
	if t.kind == KindReference {
		if !classfile.ValidClassName(t.class) {
			return "", fmt.Sprintf("invalid class name %q", t.class)
		}
		return "L" + t.class + ";", ""
	}
	if f, ok := primitiveFragments[t.kind]; ok {
		return f, ""
	}
	return "", fmt.Sprintf("unknown type kind %s", t.kind)
}

// CallSignature is an immutable function type with a name.
type CallSignature struct {
	name   string
	ret    TypeTag
	params []TypeTag
}

// New returns a signature. params is copied.
func New(name string, ret TypeTag, params ...TypeTag) CallSignature {
	return CallSignature{
		name:   name,
		ret:    ret,
		params: append([]TypeTag(nil), params...),
	}
}

// Name returns the member name.
func (s CallSignature) Name() string { return s.name }

// ReturnType returns the return tag.
func (s CallSignature) ReturnType() TypeTag { return s.ret }

// ParameterTypes returns a copy of the parameter tags in order.
func (s CallSignature) ParameterTypes() []TypeTag {
	return append([]TypeTag(nil), s.params...)
}

// Arity returns the number of parameters.
func (s CallSignature) Arity() int { return len(s.params) }

func (s CallSignature) String() string {
	parts := make([]string, len(s.params))
	for i, p := range s.params {
		parts[i] = p.String()
	}
	return fmt.Sprintf("%s %s(%s)", s.ret, s.name, strings.Join(parts, ", "))
}

// ReturnPosition is the Position of an UnsupportedTypeError raised for the
// return type.
const ReturnPosition = -1

// UnsupportedTypeError reports a tag that has no descriptor encoding.
type UnsupportedTypeError struct {
	Position int
	Tag      TypeTag
	Reason   string
}

func (e *UnsupportedTypeError) Error() string {
	where := "return type"
	if e.Position != ReturnPosition {
		where = fmt.Sprintf("parameter %d", e.Position)
	}
	return fmt.Sprintf("unsupported %s %s: %s", where, e.Tag, e.Reason)
}

// Encode returns the method descriptor of sig: the parameter fragments in
// order followed by the return fragment. Parameters may take at most
// classfile.MaxArgSlots slots, long and double counting as two, and the
// descriptor must fit a class file constant.
func Encode(sig CallSignature) (string, error) {
	var b strings.Builder
	b.WriteByte('(')
	slots, size := 0, 2
	for i, p := range sig.params {
		if p.kind == KindVoid {
			return "", &UnsupportedTypeError{Position: i, Tag: p, Reason: "void is not a value type"}
		}
		f, reason := p.fragment()
		if reason == "" {
			slots += p.slots()
			size += classfile.ModifiedUTF8Len(f)
			reason = checkLimits(slots, size)
		}
		if reason != "" {
			return "", &UnsupportedTypeError{Position: i, Tag: p, Reason: reason}
		}
		b.WriteString(f)
	}
	b.WriteByte(')')
	f, reason := sig.ret.fragment()
	if reason == "" {
		reason = checkLimits(slots, size+classfile.ModifiedUTF8Len(f))
	}
	if reason != "" {
		return "", &UnsupportedTypeError{Position: ReturnPosition, Tag: sig.ret, Reason: reason}
	}
	b.WriteString(f)
	return b.String(), nil
}

func checkLimits(slots, size int) string {
	switch {
	case slots > classfile.MaxArgSlots:
		return fmt.Sprintf("parameters exceed %d slots", classfile.MaxArgSlots)
	case size > classfile.MaxUTF8Len:
		return fmt.Sprintf("descriptor exceeds %d bytes", classfile.MaxUTF8Len)
	}
	return ""
}

func (t TypeTag) slots() int {
	if t.kind == KindLong || t.kind == KindDouble {
		return 2
	}
	return 1
}

// ParseType maps a textual type name to a tag: the Java primitive keywords,
// or a class in internal (java/lang/String) or descriptor
// (Ljava/lang/String;) form.
func ParseType(name string) (TypeTag, error) {
	name = strings.TrimSpace(name)
	for k, n := range kindNames {
		if Kind(k) != KindInvalid && Kind(k) != KindReference && n == name {
			return TypeTag{kind: Kind(k)}, nil
		}
	}
	class := name
	if strings.HasPrefix(class, "L") && strings.HasSuffix(class, ";") {
		class = class[1 : len(class)-1]
	}
	if !classfile.ValidClassName(class) {
		return TypeTag{}, fmt.Errorf("unknown type %q", name)
	}
	return Reference(class), nil
}
