package vm

import (
	"fmt"

	"github.com/daimatz/gotramp/pkg/classfile"
)

// Supported class file versions.
const (
	minMajorVersion = 45
	maxMajorVersion = classfile.MajorVersionJava8
)

// VerifyError reports a class file rejected at definition time.
type VerifyError struct {
	Class  string
	Method string
	Reason string
}

func (e *VerifyError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("verify %s: %s", e.Class, e.Reason)
	}
	return fmt.Sprintf("verify %s.%s: %s", e.Class, e.Method, e.Reason)
}

// Verify checks the structural constraints the interpreter relies on:
// well-formed names and descriptors, method bodies present exactly when
// expected, and straight-line code whose operand stack and locals stay
// within the declared frame and whose single return matches the descriptor.
func Verify(cf *classfile.ClassFile) error {
	name, err := cf.ClassName()
	if err != nil {
		return &VerifyError{Class: "?", Reason: fmt.Sprintf("this_class: %v", err)}
	}
	fail := func(method, format string, args ...interface{}) error {
		return &VerifyError{Class: name, Method: method, Reason: fmt.Sprintf(format, args...)}
	}

	if cf.MajorVersion < minMajorVersion || cf.MajorVersion > maxMajorVersion {
		return fail("", "unsupported class file version %d.%d", cf.MajorVersion, cf.MinorVersion)
	}
	if !classfile.ValidClassName(name) {
		return fail("", "invalid class name %q", name)
	}
	if cf.AccessFlags&(classfile.AccInterface|classfile.AccAbstract) != 0 {
		return fail("", "interfaces and abstract classes are not supported")
	}
	if len(cf.Interfaces) != 0 {
		return fail("", "implemented interfaces are not supported")
	}
	if cf.SuperClass == 0 {
		if name != ObjectClassName {
			return fail("", "missing superclass")
		}
	} else {
		super, err := classfile.GetClassName(cf.ConstantPool, cf.SuperClass)
		if err != nil {
			return fail("", "super_class: %v", err)
		}
		if !classfile.ValidClassName(super) {
			return fail("", "invalid superclass name %q", super)
		}
	}

	seen := make(map[string]bool, len(cf.Methods))
	for i := range cf.Methods {
		m := &cf.Methods[i]
		key := m.Name + m.Descriptor
		if seen[key] {
			return fail(key, "duplicate method")
		}
		seen[key] = true
		if err := verifyMethod(cf, m); err != nil {
			return fail(key, "%v", err)
		}
	}
	return nil
}

func verifyMethod(cf *classfile.ClassFile, m *classfile.MethodInfo) error {
	md, err := classfile.ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return err
	}
	switch m.Name {
	case "<init>":
		if m.IsStatic() || md.Return.Kind != 'V' {
			return fmt.Errorf("constructor must be an instance method returning void")
		}
	case "<clinit>":
		if !m.IsStatic() || len(md.Params) != 0 || md.Return.Kind != 'V' {
			return fmt.Errorf("class initializer must be static ()V")
		}
	default:
		if !classfile.ValidUnqualifiedName(m.Name) {
			return fmt.Errorf("invalid method name %q", m.Name)
		}
	}

	params := md.ArgSlots()
	if !m.IsStatic() {
		params++
	}
	if params > classfile.MaxArgSlots {
		return fmt.Errorf("%d parameter slots exceed %d", params, classfile.MaxArgSlots)
	}

	bodyless := m.AccessFlags&(classfile.AccNative|classfile.AccAbstract) != 0
	switch {
	case bodyless && m.Code != nil:
		return fmt.Errorf("native or abstract method has code")
	case bodyless:
		return nil
	case m.Code == nil:
		return fmt.Errorf("missing Code attribute")
	}

	if int(m.Code.MaxLocals) < params {
		return fmt.Errorf("max_locals %d below the %d parameter slots", m.Code.MaxLocals, params)
	}
	if len(m.Code.ExceptionHandlers) != 0 {
		return fmt.Errorf("exception handlers are not supported")
	}
	return verifyCode(cf.ConstantPool, m.Code, md)
}

func verifyCode(pool []classfile.ConstantPoolEntry, code *classfile.CodeAttribute, md *classfile.MethodDescriptor) error {
	insns, err := classfile.Decode(code.Code)
	if err != nil {
		return err
	}
	if len(insns) == 0 {
		return fmt.Errorf("empty code")
	}

	depth := 0
	for i, ins := range insns {
		pop, push := ins.Info.Pop, ins.Info.Push
		switch ins.Op {
		case classfile.OpLdc, classfile.OpLdcW:
			if err := checkConstant(pool, ins.Operand, classfile.TagInteger, classfile.TagFloat, classfile.TagString); err != nil {
				return fmt.Errorf("%s at pc=%d: %w", ins.Info.Name, ins.PC, err)
			}
		case classfile.OpLdc2W:
			if err := checkConstant(pool, ins.Operand, classfile.TagLong, classfile.TagDouble); err != nil {
				return fmt.Errorf("%s at pc=%d: %w", ins.Info.Name, ins.PC, err)
			}
		case classfile.OpInvokestatic, classfile.OpInvokespecial:
			ref, err := classfile.ResolveMethodref(pool, ins.Operand)
			if err != nil {
				return fmt.Errorf("%s at pc=%d: %w", ins.Info.Name, ins.PC, err)
			}
			if ref.MethodName == "<clinit>" ||
				(ins.Op == classfile.OpInvokestatic && ref.MethodName == "<init>") {
				return fmt.Errorf("%s at pc=%d: cannot invoke %s", ins.Info.Name, ins.PC, ref.MethodName)
			}
			if pop, push, err = classfile.InvokeEffect(ins.Op, ref.Descriptor); err != nil {
				return fmt.Errorf("%s at pc=%d: %w", ins.Info.Name, ins.PC, err)
			}
		}

		if depth < pop {
			return fmt.Errorf("operand stack underflow at pc=%d (%s)", ins.PC, ins.Info.Name)
		}
		depth += push - pop
		if depth > int(code.MaxStack) {
			return fmt.Errorf("operand stack overflow at pc=%d: depth %d exceeds max_stack %d", ins.PC, depth, code.MaxStack)
		}
		if slot := ins.LocalSlot(); slot >= 0 && slot+ins.Info.Width > int(code.MaxLocals) {
			return fmt.Errorf("local %d at pc=%d exceeds max_locals %d", slot, ins.PC, code.MaxLocals)
		}

		if ins.Info.Return != 0 {
			if i != len(insns)-1 {
				return fmt.Errorf("return at pc=%d is not the last instruction", ins.PC)
			}
			if want := classfile.ReturnKind(md.Return); ins.Info.Return != want {
				return fmt.Errorf("%s does not match return type %s", ins.Info.Name, md.Return)
			}
		}
	}
	if insns[len(insns)-1].Info.Return == 0 {
		return fmt.Errorf("code falls off the end")
	}
	return nil
}

func checkConstant(pool []classfile.ConstantPoolEntry, index uint16, tags ...uint8) error {
	if int(index) >= len(pool) || pool[index] == nil {
		return fmt.Errorf("invalid constant pool index %d", index)
	}
	tag := pool[index].Tag()
	for _, t := range tags {
		if tag == t {
			return nil
		}
	}
	return fmt.Errorf("constant pool index %d has unexpected tag %d", index, tag)
}
