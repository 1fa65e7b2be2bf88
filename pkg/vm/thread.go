package vm

import (
	"fmt"

	"github.com/daimatz/gotramp/pkg/classfile"
)

// thread is the state of one invocation chain. It is never shared between
// goroutines.
type thread struct {
	vm    *VM
	depth int
}

// invoke runs m, declared in class, with args laid out receiver first.
func (t *thread) invoke(class *Class, m *classfile.MethodInfo, args []Value) (Value, error) {
	t.depth++
	defer func() { t.depth-- }()
	if t.depth > maxFrameDepth {
		return Value{}, newJavaExceptionf("java/lang/StackOverflowError", "frame depth exceeded %d", maxFrameDepth)
	}

	md, err := classfile.ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return Value{}, err
	}
	if m.IsNative() {
		return t.invokeNative(class, m, md, args)
	}
	if m.Code == nil {
		return Value{}, newJavaExceptionf("java/lang/AbstractMethodError", "%s.%s%s", class.Name, m.Name, m.Descriptor)
	}
	return t.executeMethod(class, m, md, args)
}

func (t *thread) invokeNative(class *Class, m *classfile.MethodInfo, md *classfile.MethodDescriptor, args []Value) (Value, error) {
	fn := class.Native(m.Name, m.Descriptor)
	if fn == nil {
		return Value{}, newJavaExceptionf("java/lang/UnsatisfiedLinkError", "%s.%s%s", class.Name, m.Name, m.Descriptor)
	}
	ret, err := fn(args)
	if err != nil {
		return Value{}, err
	}
	if md.Return.Kind == 'V' {
		return Value{}, nil
	}
	if err := checkValue(md.Return, ret); err != nil {
		return Value{}, fmt.Errorf("native %s.%s%s returned %s: %w", class.Name, m.Name, m.Descriptor, ret.Type, err)
	}
	return narrow(md.Return, ret), nil
}

// executeMethod interprets the bytecode of m.
func (t *thread) executeMethod(class *Class, m *classfile.MethodInfo, md *classfile.MethodDescriptor, args []Value) (ret Value, err error) {
	frame := NewFrame(m.Code.MaxLocals, m.Code.MaxStack, m.Code.Code, class)

	// Frame accessors panic on malformed code that got past verification.
	defer func() {
		if r := recover(); r != nil {
			err = newJavaExceptionf("java/lang/VerifyError", "%s.%s%s at pc=%d: %v", class.Name, m.Name, m.Descriptor, frame.PC, r)
		}
	}()

	// long and double arguments take two local slots
	slot := 0
	for _, arg := range args {
		frame.SetLocal(slot, arg)
		slot += arg.Slots()
	}

	for frame.PC < len(frame.Code) {
		opcode := frame.Code[frame.PC]
		frame.PC++

		retVal, hasReturn, err := t.executeInstruction(frame, opcode)
		if err != nil {
			return Value{}, err
		}
		if hasReturn {
			if md.Return.Kind == 'V' {
				return Value{}, nil
			}
			return narrow(md.Return, retVal), nil
		}
	}
	return Value{}, newJavaExceptionf("java/lang/VerifyError", "%s.%s%s falls off the end of its code", class.Name, m.Name, m.Descriptor)
}
