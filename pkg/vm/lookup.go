package vm

import (
	"fmt"

	"github.com/daimatz/gotramp/pkg/classfile"
)

// Lookup is a MethodHandles.Lookup: a capability to resolve members with
// the access rights of its lookup class.
type Lookup struct {
	lookupClass *Class
}

// LookupClass returns the class whose access rights the lookup carries.
func (l *Lookup) LookupClass() *Class { return l.lookupClass }

func (l *Lookup) String() string { return l.lookupClass.Name }

// FindStatic resolves the static method name+descriptor in refc and its
// superclasses.
func (l *Lookup) FindStatic(refc *Class, name, descriptor string) (*MethodHandle, error) {
	if refc == nil {
		return nil, NewJavaException("java/lang/NullPointerException")
	}
	if refc.vm != l.lookupClass.vm {
		return nil, newJavaExceptionf("java/lang/IllegalAccessException", "%s is not visible from %s", refc.Name, l.lookupClass.Name)
	}
	md, err := classfile.ParseMethodDescriptor(descriptor)
	if err != nil {
		return nil, newJavaExceptionf("java/lang/IllegalArgumentException", "%v", err)
	}
	owner, m := refc.FindMethod(name, descriptor)
	if m == nil {
		return nil, newJavaExceptionf("java/lang/NoSuchMethodException", "no such method: %s.%s%s", refc.Name, name, descriptor)
	}
	if !m.IsStatic() {
		return nil, newJavaExceptionf("java/lang/IllegalAccessException", "no such static method: %s.%s%s", refc.Name, name, descriptor)
	}
	if m.AccessFlags&classfile.AccPrivate != 0 && !l.lookupClass.canAccess(owner) {
		return nil, newJavaExceptionf("java/lang/IllegalAccessException", "member is private: %s.%s%s, from %s", owner.Name, name, descriptor, l.lookupClass.Name)
	}
	return &MethodHandle{class: owner, method: m, md: md}, nil
}

// MethodHandle is a direct handle to a static method.
type MethodHandle struct {
	class  *Class
	method *classfile.MethodInfo
	md     *classfile.MethodDescriptor
}

// Class returns the class declaring the target method.
func (h *MethodHandle) Class() *Class { return h.class }

// Name returns the target method name.
func (h *MethodHandle) Name() string { return h.method.Name }

// Descriptor returns the method type as a descriptor.
func (h *MethodHandle) Descriptor() string { return h.method.Descriptor }

// Type returns the parsed method type.
func (h *MethodHandle) Type() *classfile.MethodDescriptor { return h.md }

func (h *MethodHandle) String() string {
	return fmt.Sprintf("MethodHandle%s", h.method.Descriptor)
}

// Invoke calls the target with exactly typed arguments. The result is the
// zero Value for void methods.
func (h *MethodHandle) Invoke(args ...Value) (Value, error) {
	if err := checkArgs(h.md, args); err != nil {
		return Value{}, newJavaExceptionf("java/lang/invoke/WrongMethodTypeException", "%s: %v", h.method.Descriptor, err)
	}
	t := &thread{vm: h.class.vm}
	return t.invoke(h.class, h.method, args)
}
