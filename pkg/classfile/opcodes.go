package classfile

import "fmt"

// Opcodes
const (
	OpNop        = 0x00
	OpAconstNull = 0x01
	OpIconstM1   = 0x02
	OpIconst0    = 0x03
	OpIconst1    = 0x04
	OpIconst2    = 0x05
	OpIconst3    = 0x06
	OpIconst4    = 0x07
	OpIconst5    = 0x08
	OpLconst0    = 0x09
	OpLconst1    = 0x0A
	OpFconst0    = 0x0B
	OpFconst1    = 0x0C
	OpFconst2    = 0x0D
	OpDconst0    = 0x0E
	OpDconst1    = 0x0F
	OpBipush     = 0x10
	OpSipush     = 0x11
	OpLdc        = 0x12
	OpLdcW       = 0x13
	OpLdc2W      = 0x14
	OpIload      = 0x15
	OpLload      = 0x16
	OpFload      = 0x17
	OpDload      = 0x18
	OpAload      = 0x19
	OpIload0     = 0x1A
	OpLload0     = 0x1E
	OpFload0     = 0x22
	OpDload0     = 0x26
	OpAload0     = 0x2A
	OpAload1     = 0x2B
	OpIstore     = 0x36
	OpLstore     = 0x37
	OpFstore     = 0x38
	OpDstore     = 0x39
	OpAstore     = 0x3A
	OpIstore0    = 0x3B
	OpLstore0    = 0x3F
	OpFstore0    = 0x43
	OpDstore0    = 0x47
	OpAstore0    = 0x4B
	OpPop        = 0x57
	OpPop2       = 0x58
	OpDup        = 0x59
	OpSwap       = 0x5F
	OpIadd       = 0x60
	OpLadd       = 0x61
	OpFadd       = 0x62
	OpDadd       = 0x63
	OpIsub       = 0x64
	OpLsub       = 0x65
	OpFsub       = 0x66
	OpDsub       = 0x67
	OpImul       = 0x68
	OpLmul       = 0x69
	OpFmul       = 0x6A
	OpDmul       = 0x6B
	OpIneg       = 0x74
	OpI2l        = 0x85
	OpI2f        = 0x86
	OpI2d        = 0x87
	OpL2i        = 0x88

	OpIreturn       = 0xAC
	OpLreturn       = 0xAD
	OpFreturn       = 0xAE
	OpDreturn       = 0xAF
	OpAreturn       = 0xB0
	OpReturn        = 0xB1
	OpInvokespecial = 0xB7
	OpInvokestatic  = 0xB8
)

// OpcodeInfo describes the static shape of an instruction.
//
// Pop and Push count operand stack slots (long and double take two). Local
// is the implicit local slot of the _<n> forms, LocalOperand marks forms
// whose slot is the u1 operand, and Width is the number of local slots the
// access touches. Return is the descriptor kind a return instruction
// requires ('I' covers Z B C S I, 'L' covers references, 'V' for return).
type OpcodeInfo struct {
	Name         string
	Operands     int
	Pop          int
	Push         int
	Local        int
	LocalOperand bool
	Width        int
	Return       byte
}

// IsInvoke reports whether the instruction's stack effect depends on a
// method descriptor.
func (o OpcodeInfo) IsInvoke() bool {
	return o.Name == "invokestatic" || o.Name == "invokespecial"
}

var opcodeTable [256]*OpcodeInfo

func define(op byte, info OpcodeInfo) {
	if info.Local == 0 && !info.LocalOperand && info.Width == 0 {
		info.Local = -1
	}
	opcodeTable[op] = &info
}

// defineLocals registers the explicit-operand form at op and the four
// implicit forms at op0..op0+3.
func defineLocals(op, op0 byte, prefix string, load bool, width int) {
	pop, push := 0, width
	if !load {
		pop, push = width, 0
	}
	suffix := "load"
	if !load {
		suffix = "store"
	}
	define(op, OpcodeInfo{Name: prefix + suffix, Operands: 1, Pop: pop, Push: push, LocalOperand: true, Width: width})
	for i := 0; i < 4; i++ {
		opcodeTable[op0+byte(i)] = &OpcodeInfo{
			Name:  fmt.Sprintf("%s%s_%d", prefix, suffix, i),
			Pop:   pop,
			Push:  push,
			Local: i,
			Width: width,
		}
	}
}

func init() {
	define(OpNop, OpcodeInfo{Name: "nop"})
	define(OpAconstNull, OpcodeInfo{Name: "aconst_null", Push: 1})
	for i := 0; i <= 6; i++ {
		define(OpIconstM1+byte(i), OpcodeInfo{Name: fmt.Sprintf("iconst_%d", i-1), Push: 1})
	}
	opcodeTable[OpIconstM1].Name = "iconst_m1"
	define(OpLconst0, OpcodeInfo{Name: "lconst_0", Push: 2})
	define(OpLconst1, OpcodeInfo{Name: "lconst_1", Push: 2})
	define(OpFconst0, OpcodeInfo{Name: "fconst_0", Push: 1})
	define(OpFconst1, OpcodeInfo{Name: "fconst_1", Push: 1})
	define(OpFconst2, OpcodeInfo{Name: "fconst_2", Push: 1})
	define(OpDconst0, OpcodeInfo{Name: "dconst_0", Push: 2})
	define(OpDconst1, OpcodeInfo{Name: "dconst_1", Push: 2})
	define(OpBipush, OpcodeInfo{Name: "bipush", Operands: 1, Push: 1})
	define(OpSipush, OpcodeInfo{Name: "sipush", Operands: 2, Push: 1})
	define(OpLdc, OpcodeInfo{Name: "ldc", Operands: 1, Push: 1})
	define(OpLdcW, OpcodeInfo{Name: "ldc_w", Operands: 2, Push: 1})
	define(OpLdc2W, OpcodeInfo{Name: "ldc2_w", Operands: 2, Push: 2})

	defineLocals(OpIload, OpIload0, "i", true, 1)
	defineLocals(OpLload, OpLload0, "l", true, 2)
	defineLocals(OpFload, OpFload0, "f", true, 1)
	defineLocals(OpDload, OpDload0, "d", true, 2)
	defineLocals(OpAload, OpAload0, "a", true, 1)
	defineLocals(OpIstore, OpIstore0, "i", false, 1)
	defineLocals(OpLstore, OpLstore0, "l", false, 2)
	defineLocals(OpFstore, OpFstore0, "f", false, 1)
	defineLocals(OpDstore, OpDstore0, "d", false, 2)
	defineLocals(OpAstore, OpAstore0, "a", false, 1)

	define(OpPop, OpcodeInfo{Name: "pop", Pop: 1})
	define(OpPop2, OpcodeInfo{Name: "pop2", Pop: 2})
	define(OpDup, OpcodeInfo{Name: "dup", Pop: 1, Push: 2})
	define(OpSwap, OpcodeInfo{Name: "swap", Pop: 2, Push: 2})

	define(OpIadd, OpcodeInfo{Name: "iadd", Pop: 2, Push: 1})
	define(OpLadd, OpcodeInfo{Name: "ladd", Pop: 4, Push: 2})
	define(OpFadd, OpcodeInfo{Name: "fadd", Pop: 2, Push: 1})
	define(OpDadd, OpcodeInfo{Name: "dadd", Pop: 4, Push: 2})
	define(OpIsub, OpcodeInfo{Name: "isub", Pop: 2, Push: 1})
	define(OpLsub, OpcodeInfo{Name: "lsub", Pop: 4, Push: 2})
	define(OpFsub, OpcodeInfo{Name: "fsub", Pop: 2, Push: 1})
	define(OpDsub, OpcodeInfo{Name: "dsub", Pop: 4, Push: 2})
	define(OpImul, OpcodeInfo{Name: "imul", Pop: 2, Push: 1})
	define(OpLmul, OpcodeInfo{Name: "lmul", Pop: 4, Push: 2})
	define(OpFmul, OpcodeInfo{Name: "fmul", Pop: 2, Push: 1})
	define(OpDmul, OpcodeInfo{Name: "dmul", Pop: 4, Push: 2})
	define(OpIneg, OpcodeInfo{Name: "ineg", Pop: 1, Push: 1})
	define(OpI2l, OpcodeInfo{Name: "i2l", Pop: 1, Push: 2})
	define(OpI2f, OpcodeInfo{Name: "i2f", Pop: 1, Push: 1})
	define(OpI2d, OpcodeInfo{Name: "i2d", Pop: 1, Push: 2})
	define(OpL2i, OpcodeInfo{Name: "l2i", Pop: 2, Push: 1})

	define(OpIreturn, OpcodeInfo{Name: "ireturn", Pop: 1, Return: 'I'})
	define(OpLreturn, OpcodeInfo{Name: "lreturn", Pop: 2, Return: 'J'})
	define(OpFreturn, OpcodeInfo{Name: "freturn", Pop: 1, Return: 'F'})
	define(OpDreturn, OpcodeInfo{Name: "dreturn", Pop: 2, Return: 'D'})
	define(OpAreturn, OpcodeInfo{Name: "areturn", Pop: 1, Return: 'L'})
	define(OpReturn, OpcodeInfo{Name: "return", Return: 'V'})

	define(OpInvokespecial, OpcodeInfo{Name: "invokespecial", Operands: 2})
	define(OpInvokestatic, OpcodeInfo{Name: "invokestatic", Operands: 2})
}

// LookupOpcode returns the description of op, or false if the opcode is not
// part of the supported instruction set.
func LookupOpcode(op byte) (OpcodeInfo, bool) {
	info := opcodeTable[op]
	if info == nil {
		return OpcodeInfo{}, false
	}
	return *info, true
}

// ReturnKind maps a descriptor type to the kind a return instruction for it
// must carry.
func ReturnKind(t FieldType) byte {
	switch t.Kind {
	case 'Z', 'B', 'C', 'S', 'I':
		return 'I'
	case '[':
		return 'L'
	default:
		return t.Kind
	}
}

// InvokeEffect returns the operand stack slots an invoke instruction pops
// and pushes for the given method descriptor.
func InvokeEffect(op byte, descriptor string) (pop, push int, err error) {
	md, err := ParseMethodDescriptor(descriptor)
	if err != nil {
		return 0, 0, err
	}
	pop = md.ArgSlots()
	switch op {
	case OpInvokestatic:
	case OpInvokespecial:
		pop++ // receiver
	default:
		return 0, 0, fmt.Errorf("opcode 0x%02X is not an invoke instruction", op)
	}
	return pop, md.Return.Slots(), nil
}

// Instruction is a decoded instruction.
type Instruction struct {
	PC      int
	Op      byte
	Operand uint16
	Info    OpcodeInfo
}

// LocalSlot returns the local slot accessed by the instruction, or -1.
func (ins Instruction) LocalSlot() int {
	if ins.Info.LocalOperand {
		return int(ins.Operand)
	}
	return ins.Info.Local
}

// Decode splits bytecode into instructions. It fails on opcodes outside the
// supported set and on truncated operands.
func Decode(code []byte) ([]Instruction, error) {
	var out []Instruction
	for pc := 0; pc < len(code); {
		op := code[pc]
		info, ok := LookupOpcode(op)
		if !ok {
			return nil, fmt.Errorf("unsupported opcode 0x%02X at pc=%d", op, pc)
		}
		if pc+1+info.Operands > len(code) {
			return nil, fmt.Errorf("truncated %s at pc=%d", info.Name, pc)
		}
		ins := Instruction{PC: pc, Op: op, Info: info}
		switch info.Operands {
		case 1:
			ins.Operand = uint16(code[pc+1])
		case 2:
			ins.Operand = uint16(code[pc+1])<<8 | uint16(code[pc+2])
		}
		out = append(out, ins)
		pc += 1 + info.Operands
	}
	return out, nil
}
