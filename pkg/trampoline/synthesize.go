package trampoline

import (
	"fmt"

	"github.com/daimatz/gotramp/pkg/classfile"
	"github.com/daimatz/gotramp/pkg/signature"
	"github.com/daimatz/gotramp/pkg/vm"
)

// Fixed shape of a synthesized unit.
const (
	TemplateClassName  = "CompiledMethodClassTemplate"
	AccessorName       = "getLookup"
	AccessorDescriptor = vm.LookupDescriptor
)

var reservedNames = map[string]bool{
	AccessorName: true,
	"<init>":     true,
	"<clinit>":   true,
}

// Synthesize emits the class file of a trampoline unit for sig, whose
// descriptor must be the encoding of sig. The class has exactly three
// methods: a constructor that only runs Object's, the public static native
// stub sig.Name() with the descriptor, and a public static accessor that
// returns MethodHandles.lookup() from inside the class. The output is a
// pure function of the inputs.
func Synthesize(sig signature.CallSignature, descriptor string) ([]byte, error) {
	name := sig.Name()
	fail := func(kind Kind, cause error, format string, args ...any) error {
		return &Error{
			Stage:      StageSynthesize,
			Kind:       kind,
			Name:       name,
			Descriptor: descriptor,
			Detail:     fmt.Sprintf(format, args...),
			Cause:      cause,
		}
	}

	if reservedNames[name] {
		return nil, fail(KindNameCollision, nil, "%q is reserved by the synthesized unit", name)
	}
	if !classfile.ValidUnqualifiedName(name) {
		return nil, fail(KindInvalidName, nil, "%.64q is not a valid method name", name)
	}

	cb := classfile.NewClassBuilder(classfile.AccPublic|classfile.AccSuper, TemplateClassName, vm.ObjectClassName)
	cb.AddInnerClass(vm.LookupClassName, vm.MethodHandlesClassName, "Lookup",
		classfile.AccPublic|classfile.AccStatic|classfile.AccFinal)

	ctor := classfile.NewCode(cb.Pool()).
		VarInsn(classfile.OpAload, 0).
		MethodInsn(classfile.OpInvokespecial, vm.ObjectClassName, "<init>", "()V").
		Insn(classfile.OpReturn)
	if err := cb.AddMethod(classfile.AccPublic, "<init>", "()V", ctor); err != nil {
		return nil, fail(KindInvalidName, err, "emitting constructor")
	}

	// name is valid and fits a constant, so only a descriptor that is not
	// an encoding of a signature fails here or in Bytes.
	if err := cb.AddMethod(classfile.AccPublic|classfile.AccStatic|classfile.AccNative, name, descriptor, nil); err != nil {
		return nil, fail(KindUnsupportedType, err, "emitting native stub")
	}

	accessor := classfile.NewCode(cb.Pool()).
		MethodInsn(classfile.OpInvokestatic, vm.MethodHandlesClassName, vm.LookupMethodName, vm.LookupDescriptor).
		Insn(classfile.OpAreturn)
	if err := cb.AddMethod(classfile.AccPublic|classfile.AccStatic, AccessorName, AccessorDescriptor, accessor); err != nil {
		return nil, fail(KindInvalidName, err, "emitting accessor")
	}

	data, err := cb.Bytes()
	if err != nil {
		return nil, fail(KindUnsupportedType, err, "serializing unit")
	}
	return data, nil
}
