package jit

import "encoding/binary"

// System V argument registers: rdi, rsi, rdx, rcx, r8, r9; xmm0-7.

// AddInt32 returns int32 a+b: lea eax, [rdi+rsi]; ret.
func AddInt32() ([]byte, error) {
	return []byte{0x8D, 0x04, 0x37, 0xC3}, nil
}

// SubInt64 returns int64 a-b: mov rax, rdi; sub rax, rsi; ret.
func SubInt64() ([]byte, error) {
	return []byte{
		0x48, 0x89, 0xF8,
		0x48, 0x29, 0xF0,
		0xC3,
	}, nil
}

// AddFloat64 returns float64 a+b: addsd xmm0, xmm1; ret.
func AddFloat64() ([]byte, error) {
	return []byte{0xF2, 0x0F, 0x58, 0xC1, 0xC3}, nil
}

// MulFloat32 returns float32 a*b: mulss xmm0, xmm1; ret.
func MulFloat32() ([]byte, error) {
	return []byte{0xF3, 0x0F, 0x59, 0xC1, 0xC3}, nil
}

// ConstInt32 returns a routine without arguments that returns v:
// mov eax, imm32; ret.
func ConstInt32(v int32) ([]byte, error) {
	code := []byte{0xB8, 0, 0, 0, 0, 0xC3}
	binary.LittleEndian.PutUint32(code[1:], uint32(v))
	return code, nil
}

// AddInt32JNI adds the third and fourth arguments, skipping the two JNI
// tokens: lea eax, [rdx+rcx]; ret.
func AddInt32JNI() ([]byte, error) {
	return []byte{0x8D, 0x04, 0x0A, 0xC3}, nil
}
