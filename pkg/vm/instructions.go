package vm

import (
	"fmt"

	"github.com/daimatz/gotramp/pkg/classfile"
)

// executeInstruction executes a single bytecode instruction.
// Returns (returnValue, hasReturn, error).
func (t *thread) executeInstruction(frame *Frame, opcode byte) (Value, bool, error) {
	info, ok := classfile.LookupOpcode(opcode)
	if !ok {
		return Value{}, false, fmt.Errorf("unknown opcode: 0x%02X at PC=%d", opcode, frame.PC-1)
	}
	if info.Width > 0 {
		return Value{}, false, executeLocal(frame, info)
	}

	switch opcode {
	case classfile.OpNop:
		// do nothing

	// --- Constant load instructions ---
	case classfile.OpAconstNull:
		frame.Push(NullValue())

	case classfile.OpIconstM1, classfile.OpIconst0, classfile.OpIconst1, classfile.OpIconst2,
		classfile.OpIconst3, classfile.OpIconst4, classfile.OpIconst5:
		frame.Push(IntValue(int32(opcode) - classfile.OpIconst0))

	case classfile.OpLconst0:
		frame.Push(LongValue(0))
	case classfile.OpLconst1:
		frame.Push(LongValue(1))

	case classfile.OpFconst0:
		frame.Push(FloatValue(0.0))
	case classfile.OpFconst1:
		frame.Push(FloatValue(1.0))
	case classfile.OpFconst2:
		frame.Push(FloatValue(2.0))

	case classfile.OpDconst0:
		frame.Push(DoubleValue(0.0))
	case classfile.OpDconst1:
		frame.Push(DoubleValue(1.0))

	case classfile.OpBipush:
		val := frame.ReadI8()
		frame.Push(IntValue(int32(val)))

	case classfile.OpSipush:
		val := frame.ReadI16()
		frame.Push(IntValue(int32(val)))

	case classfile.OpLdc:
		index := frame.ReadU8()
		return Value{}, false, t.executeLdc(frame, uint16(index))

	case classfile.OpLdcW:
		index := frame.ReadU16()
		return Value{}, false, t.executeLdc(frame, index)

	case classfile.OpLdc2W:
		index := frame.ReadU16()
		pool := frame.Class.File.ConstantPool
		if int(index) >= len(pool) || pool[index] == nil {
			return Value{}, false, fmt.Errorf("ldc2_w: invalid constant pool index %d", index)
		}
		switch c := pool[index].(type) {
		case *classfile.ConstantLong:
			frame.Push(LongValue(c.Value))
		case *classfile.ConstantDouble:
			frame.Push(DoubleValue(c.Value))
		default:
			return Value{}, false, fmt.Errorf("ldc2_w: unsupported type at index %d", index)
		}

	// --- Stack manipulation ---
	case classfile.OpPop:
		if v := frame.Pop(); v.Slots() != 1 {
			return Value{}, false, fmt.Errorf("pop: category 2 value %s on top of stack", v.Type)
		}

	case classfile.OpPop2:
		if v := frame.Pop(); v.Slots() == 1 {
			if w := frame.Pop(); w.Slots() != 1 {
				return Value{}, false, fmt.Errorf("pop2: splits category 2 value %s", w.Type)
			}
		}

	case classfile.OpDup:
		v := frame.Peek()
		if v.Slots() != 1 {
			return Value{}, false, fmt.Errorf("dup: category 2 value %s on top of stack", v.Type)
		}
		frame.Push(v)

	case classfile.OpSwap:
		v2 := frame.Pop()
		v1 := frame.Pop()
		if v1.Slots() != 1 || v2.Slots() != 1 {
			return Value{}, false, fmt.Errorf("swap: category 2 operand")
		}
		frame.Push(v2)
		frame.Push(v1)

	// --- Arithmetic ---
	case classfile.OpIadd:
		return Value{}, false, binaryOp(frame, TypeInt, func(a, b Value) Value { return IntValue(a.Int + b.Int) })
	case classfile.OpLadd:
		return Value{}, false, binaryOp(frame, TypeLong, func(a, b Value) Value { return LongValue(a.Long + b.Long) })
	case classfile.OpFadd:
		return Value{}, false, binaryOp(frame, TypeFloat, func(a, b Value) Value { return FloatValue(a.Float + b.Float) })
	case classfile.OpDadd:
		return Value{}, false, binaryOp(frame, TypeDouble, func(a, b Value) Value { return DoubleValue(a.Double + b.Double) })

	case classfile.OpIsub:
		return Value{}, false, binaryOp(frame, TypeInt, func(a, b Value) Value { return IntValue(a.Int - b.Int) })
	case classfile.OpLsub:
		return Value{}, false, binaryOp(frame, TypeLong, func(a, b Value) Value { return LongValue(a.Long - b.Long) })
	case classfile.OpFsub:
		return Value{}, false, binaryOp(frame, TypeFloat, func(a, b Value) Value { return FloatValue(a.Float - b.Float) })
	case classfile.OpDsub:
		return Value{}, false, binaryOp(frame, TypeDouble, func(a, b Value) Value { return DoubleValue(a.Double - b.Double) })

	case classfile.OpImul:
		return Value{}, false, binaryOp(frame, TypeInt, func(a, b Value) Value { return IntValue(a.Int * b.Int) })
	case classfile.OpLmul:
		return Value{}, false, binaryOp(frame, TypeLong, func(a, b Value) Value { return LongValue(a.Long * b.Long) })
	case classfile.OpFmul:
		return Value{}, false, binaryOp(frame, TypeFloat, func(a, b Value) Value { return FloatValue(a.Float * b.Float) })
	case classfile.OpDmul:
		return Value{}, false, binaryOp(frame, TypeDouble, func(a, b Value) Value { return DoubleValue(a.Double * b.Double) })

	case classfile.OpIneg:
		v, err := popType(frame, TypeInt)
		if err != nil {
			return Value{}, false, fmt.Errorf("ineg: %w", err)
		}
		frame.Push(IntValue(-v.Int))

	// --- Conversions ---
	case classfile.OpI2l, classfile.OpI2f, classfile.OpI2d:
		v, err := popType(frame, TypeInt)
		if err != nil {
			return Value{}, false, fmt.Errorf("%s: %w", info.Name, err)
		}
		switch opcode {
		case classfile.OpI2l:
			frame.Push(LongValue(int64(v.Int)))
		case classfile.OpI2f:
			frame.Push(FloatValue(float32(v.Int)))
		default:
			frame.Push(DoubleValue(float64(v.Int)))
		}

	case classfile.OpL2i:
		v, err := popType(frame, TypeLong)
		if err != nil {
			return Value{}, false, fmt.Errorf("l2i: %w", err)
		}
		frame.Push(IntValue(int32(v.Long)))

	// --- Returns ---
	case classfile.OpIreturn, classfile.OpLreturn, classfile.OpFreturn, classfile.OpDreturn, classfile.OpAreturn:
		v := frame.Pop()
		want := returnValueType(info.Return)
		if v.Type != want && !(want == TypeRef && v.Type == TypeNull) {
			return Value{}, false, fmt.Errorf("%s: got %s", info.Name, v.Type)
		}
		return v, true, nil

	case classfile.OpReturn:
		return Value{}, true, nil

	// --- Method invocation ---
	case classfile.OpInvokespecial:
		return Value{}, false, t.executeInvokespecial(frame)

	case classfile.OpInvokestatic:
		return Value{}, false, t.executeInvokestatic(frame)

	default:
		return Value{}, false, fmt.Errorf("unknown opcode: 0x%02X at PC=%d", opcode, frame.PC-1)
	}

	return Value{}, false, nil
}

// executeLocal handles the load and store families, both the explicit
// operand form and the _<n> forms.
func executeLocal(frame *Frame, info classfile.OpcodeInfo) error {
	index := info.Local
	if info.LocalOperand {
		index = int(frame.ReadU8())
	}
	typ := localValueType(info.Name[0])
	if info.Push > 0 {
		v := frame.GetLocal(index)
		if !typeMatches(typ, v) {
			return fmt.Errorf("%s %d: local holds %s", info.Name, index, v.Type)
		}
		frame.Push(v)
		return nil
	}
	v := frame.Pop()
	if !typeMatches(typ, v) {
		return fmt.Errorf("%s %d: got %s", info.Name, index, v.Type)
	}
	frame.SetLocal(index, v)
	return nil
}

// executeLdc handles the ldc instruction.
func (t *thread) executeLdc(frame *Frame, index uint16) error {
	pool := frame.Class.File.ConstantPool
	if int(index) >= len(pool) || pool[index] == nil {
		return fmt.Errorf("ldc: invalid constant pool index %d", index)
	}

	entry := pool[index]
	switch c := entry.(type) {
	case *classfile.ConstantInteger:
		frame.Push(IntValue(c.Value))
	case *classfile.ConstantFloat:
		frame.Push(FloatValue(c.Value))
	case *classfile.ConstantString:
		str, err := classfile.GetUtf8(pool, c.StringIndex)
		if err != nil {
			return fmt.Errorf("ldc: resolving string: %w", err)
		}
		frame.Push(RefValue(str))
	default:
		return fmt.Errorf("ldc: unsupported constant pool entry type at index %d (tag=%d)", index, entry.Tag())
	}
	return nil
}

// executeInvokespecial handles the invokespecial instruction.
func (t *thread) executeInvokespecial(frame *Frame) error {
	index := frame.ReadU16()
	methodRef, err := classfile.ResolveMethodref(frame.Class.File.ConstantPool, index)
	if err != nil {
		return fmt.Errorf("invokespecial: %w", err)
	}
	md, err := classfile.ParseMethodDescriptor(methodRef.Descriptor)
	if err != nil {
		return fmt.Errorf("invokespecial: %w", err)
	}

	class, err := t.vm.resolveClass(frame.Class, methodRef.ClassName)
	if err != nil {
		return err
	}
	owner, method := class.FindMethod(methodRef.MethodName, methodRef.Descriptor)
	if method == nil {
		return newJavaExceptionf("java/lang/NoSuchMethodError", "%s.%s%s", methodRef.ClassName, methodRef.MethodName, methodRef.Descriptor)
	}
	if method.IsStatic() {
		return newJavaExceptionf("java/lang/IncompatibleClassChangeError", "%s.%s%s is static", owner.Name, method.Name, method.Descriptor)
	}
	if err := checkMemberAccess(frame.Class, owner, method); err != nil {
		return err
	}

	args, err := popArgs(frame, md)
	if err != nil {
		return fmt.Errorf("invokespecial %s.%s: %w", methodRef.ClassName, methodRef.MethodName, err)
	}
	receiver := frame.Pop()
	if receiver.IsNull() {
		return NewJavaException("java/lang/NullPointerException")
	}
	fullArgs := make([]Value, 0, len(args)+1)
	fullArgs = append(fullArgs, receiver)
	fullArgs = append(fullArgs, args...)

	retVal, err := t.invoke(owner, method, fullArgs)
	if err != nil {
		return err
	}
	if md.Return.Kind != 'V' {
		frame.Push(retVal)
	}
	return nil
}

// executeInvokestatic handles the invokestatic instruction.
func (t *thread) executeInvokestatic(frame *Frame) error {
	index := frame.ReadU16()
	methodRef, err := classfile.ResolveMethodref(frame.Class.File.ConstantPool, index)
	if err != nil {
		return fmt.Errorf("invokestatic: %w", err)
	}

	// MethodHandles.lookup() is caller sensitive: the lookup belongs to the
	// class whose code makes the call.
	if methodRef.ClassName == MethodHandlesClassName &&
		methodRef.MethodName == LookupMethodName &&
		methodRef.Descriptor == LookupDescriptor {
		frame.Push(RefValue(t.vm.Lookup(frame.Class)))
		return nil
	}

	md, err := classfile.ParseMethodDescriptor(methodRef.Descriptor)
	if err != nil {
		return fmt.Errorf("invokestatic: %w", err)
	}
	class, err := t.vm.resolveClass(frame.Class, methodRef.ClassName)
	if err != nil {
		return err
	}
	owner, method := class.FindMethod(methodRef.MethodName, methodRef.Descriptor)
	if method == nil {
		return newJavaExceptionf("java/lang/NoSuchMethodError", "%s.%s%s", methodRef.ClassName, methodRef.MethodName, methodRef.Descriptor)
	}
	if !method.IsStatic() {
		return newJavaExceptionf("java/lang/IncompatibleClassChangeError", "%s.%s%s is not static", owner.Name, method.Name, method.Descriptor)
	}
	if err := checkMemberAccess(frame.Class, owner, method); err != nil {
		return err
	}

	args, err := popArgs(frame, md)
	if err != nil {
		return fmt.Errorf("invokestatic %s.%s: %w", methodRef.ClassName, methodRef.MethodName, err)
	}
	retVal, err := t.invoke(owner, method, args)
	if err != nil {
		return err
	}
	if md.Return.Kind != 'V' {
		frame.Push(retVal)
	}
	return nil
}

// checkMemberAccess applies the private access rule; every other member is
// reachable since all classes share one package space.
func checkMemberAccess(from, owner *Class, m *classfile.MethodInfo) error {
	if m.AccessFlags&classfile.AccPrivate != 0 && !from.canAccess(owner) {
		return newJavaExceptionf("java/lang/IllegalAccessError", "%s cannot access private %s.%s%s", from.Name, owner.Name, m.Name, m.Descriptor)
	}
	return nil
}

// popArgs pops the descriptor's parameters, last first, and type checks
// them.
func popArgs(frame *Frame, md *classfile.MethodDescriptor) ([]Value, error) {
	args := make([]Value, len(md.Params))
	for i := len(args) - 1; i >= 0; i-- {
		args[i] = frame.Pop()
	}
	if err := checkArgs(md, args); err != nil {
		return nil, err
	}
	return args, nil
}

func popType(frame *Frame, typ ValueType) (Value, error) {
	v := frame.Pop()
	if !typeMatches(typ, v) {
		return Value{}, fmt.Errorf("expected %s, got %s", typ, v.Type)
	}
	return v, nil
}

func binaryOp(frame *Frame, typ ValueType, op func(a, b Value) Value) error {
	v2, err := popType(frame, typ)
	if err != nil {
		return err
	}
	v1, err := popType(frame, typ)
	if err != nil {
		return err
	}
	frame.Push(op(v1, v2))
	return nil
}

func typeMatches(typ ValueType, v Value) bool {
	if typ == TypeRef {
		return v.Type == TypeRef || v.Type == TypeNull
	}
	return v.Type == typ
}

func localValueType(prefix byte) ValueType {
	switch prefix {
	case 'l':
		return TypeLong
	case 'f':
		return TypeFloat
	case 'd':
		return TypeDouble
	case 'a':
		return TypeRef
	default:
		return TypeInt
	}
}

func returnValueType(kind byte) ValueType {
	switch kind {
	case 'J':
		return TypeLong
	case 'F':
		return TypeFloat
	case 'D':
		return TypeDouble
	case 'L':
		return TypeRef
	default:
		return TypeInt
	}
}
