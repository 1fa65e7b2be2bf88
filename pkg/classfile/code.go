package classfile

import (
	"fmt"
	"math"
)

// Code assembles the bytecode of one method. The operand stack depth and
// the highest local slot are tracked as instructions are emitted, so
// max_stack and max_locals come out of the emission itself.
type Code struct {
	pool      *ConstantPoolBuilder
	buf       []byte
	depth     int
	maxStack  int
	maxLocals int
	err       error
}

// NewCode returns an assembler whose constant references go to pool.
func NewCode(pool *ConstantPoolBuilder) *Code {
	return &Code{pool: pool}
}

// Pool returns the constant pool the code refers to.
func (c *Code) Pool() *ConstantPoolBuilder { return c.pool }

func (c *Code) fail(format string, args ...any) {
	if c.err == nil {
		c.err = fmt.Errorf(format, args...)
	}
}

func (c *Code) apply(name string, pop, push int) {
	if c.depth < pop {
		c.fail("%s at pc=%d pops %d slots with %d on the stack", name, len(c.buf), pop, c.depth)
		return
	}
	c.depth += push - pop
	if c.depth > c.maxStack {
		c.maxStack = c.depth
	}
}

func (c *Code) emit(op byte, operands ...byte) OpcodeInfo {
	info, ok := LookupOpcode(op)
	if !ok {
		c.fail("unsupported opcode 0x%02X", op)
		return OpcodeInfo{}
	}
	if len(operands) != info.Operands {
		c.fail("%s takes %d operand bytes, got %d", info.Name, info.Operands, len(operands))
		return OpcodeInfo{}
	}
	c.buf = append(c.buf, op)
	c.buf = append(c.buf, operands...)
	return info
}

// Insn emits an instruction without operands.
func (c *Code) Insn(op byte) *Code {
	info := c.emit(op)
	if info.Name == "" {
		return c
	}
	c.apply(info.Name, info.Pop, info.Push)
	if info.Local >= 0 && info.Width > 0 {
		c.touchLocal(info.Local, info.Width)
	}
	return c
}

// VarInsn emits a load or store of the given local slot, choosing the short
// _<n> form when one exists. op is the explicit-operand opcode (iload,
// lstore, ...).
func (c *Code) VarInsn(op byte, slot int) *Code {
	info, ok := LookupOpcode(op)
	if !ok || !info.LocalOperand {
		c.fail("opcode 0x%02X is not a local variable instruction", op)
		return c
	}
	if slot < 0 || slot > math.MaxUint8 {
		c.fail("%s: local slot %d out of range", info.Name, slot)
		return c
	}
	if short, ok := shortLocalForm(op, slot); ok {
		return c.Insn(short)
	}
	c.emit(op, byte(slot))
	c.apply(info.Name, info.Pop, info.Push)
	c.touchLocal(slot, info.Width)
	return c
}

func shortLocalForm(op byte, slot int) (byte, bool) {
	if slot > 3 {
		return 0, false
	}
	var base byte
	switch op {
	case OpIload:
		base = OpIload0
	case OpLload:
		base = OpLload0
	case OpFload:
		base = OpFload0
	case OpDload:
		base = OpDload0
	case OpAload:
		base = OpAload0
	case OpIstore:
		base = OpIstore0
	case OpLstore:
		base = OpLstore0
	case OpFstore:
		base = OpFstore0
	case OpDstore:
		base = OpDstore0
	case OpAstore:
		base = OpAstore0
	default:
		return 0, false
	}
	return base + byte(slot), true
}

func (c *Code) touchLocal(slot, width int) {
	if slot+width > c.maxLocals {
		c.maxLocals = slot + width
	}
}

// IntInsn pushes an int constant with the shortest encoding.
func (c *Code) IntInsn(v int32) *Code {
	switch {
	case v >= -1 && v <= 5:
		return c.Insn(OpIconst0 + byte(v))
	case v >= math.MinInt8 && v <= math.MaxInt8:
		c.emit(OpBipush, byte(int8(v)))
	case v >= math.MinInt16 && v <= math.MaxInt16:
		c.emit(OpSipush, byte(uint16(v)>>8), byte(v))
	default:
		return c.LdcInsn(c.pool.Integer(v))
	}
	c.apply("push", 0, 1)
	return c
}

// LdcInsn loads a single-slot constant pool entry (int, float, string).
func (c *Code) LdcInsn(index uint16) *Code {
	if index <= math.MaxUint8 {
		c.emit(OpLdc, byte(index))
	} else {
		c.emit(OpLdcW, byte(index>>8), byte(index))
	}
	c.apply("ldc", 0, 1)
	return c
}

// Ldc2Insn loads a long or double constant pool entry.
func (c *Code) Ldc2Insn(index uint16) *Code {
	c.emit(OpLdc2W, byte(index>>8), byte(index))
	c.apply("ldc2_w", 0, 2)
	return c
}

// MethodInsn emits invokestatic or invokespecial against owner.name:desc.
func (c *Code) MethodInsn(op byte, owner, name, descriptor string) *Code {
	pop, push, err := InvokeEffect(op, descriptor)
	if err != nil {
		c.fail("%s.%s: %v", owner, name, err)
		return c
	}
	idx := c.pool.Methodref(owner, name, descriptor)
	info := c.emit(op, byte(idx>>8), byte(idx))
	c.apply(info.Name, pop, push)
	return c
}

// finish validates the body and returns the Code attribute. paramSlots is
// the number of local slots taken by the receiver and parameters.
func (c *Code) finish(paramSlots int) (*CodeAttribute, error) {
	if c.err != nil {
		return nil, c.err
	}
	if len(c.buf) == 0 {
		return nil, fmt.Errorf("empty code")
	}
	last, _ := LookupOpcode(c.buf[lastOpcodeOffset(c.buf)])
	if last.Return == 0 {
		return nil, fmt.Errorf("code does not end with a return instruction")
	}
	locals := c.maxLocals
	if paramSlots > locals {
		locals = paramSlots
	}
	if c.maxStack > math.MaxUint16 || locals > math.MaxUint16 {
		return nil, fmt.Errorf("frame too large: stack=%d locals=%d", c.maxStack, locals)
	}
	code := make([]byte, len(c.buf))
	copy(code, c.buf)
	return &CodeAttribute{
		MaxStack:  uint16(c.maxStack),
		MaxLocals: uint16(locals),
		Code:      code,
	}, nil
}

func lastOpcodeOffset(code []byte) int {
	insns, err := Decode(code)
	if err != nil || len(insns) == 0 {
		return 0
	}
	return insns[len(insns)-1].PC
}
