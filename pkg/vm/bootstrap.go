package vm

import (
	"github.com/daimatz/gotramp/pkg/classfile"
)

// Well-known class and member names.
const (
	ObjectClassName        = "java/lang/Object"
	MethodHandlesClassName = "java/lang/invoke/MethodHandles"
	LookupClassName        = "java/lang/invoke/MethodHandles$Lookup"
	LookupMethodName       = "lookup"
	LookupDescriptor       = "()Ljava/lang/invoke/MethodHandles$Lookup;"
)

// objectClassBytes assembles the root class: a public java/lang/Object
// whose only member is an empty constructor.
func objectClassBytes() ([]byte, error) {
	cb := classfile.NewClassBuilder(classfile.AccPublic|classfile.AccSuper, ObjectClassName, "")
	code := classfile.NewCode(cb.Pool()).Insn(classfile.OpReturn)
	if err := cb.AddMethod(classfile.AccPublic, "<init>", "()V", code); err != nil {
		return nil, err
	}
	return cb.Bytes()
}
