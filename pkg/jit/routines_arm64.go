package jit

// AAPCS64 argument registers: x0-x7 (w0-w7 for 32-bit), v0-v7.

const arm64Ret = 0xD65F03C0

// AddInt32 returns int32 a+b: add w0, w0, w1; ret.
func AddInt32() ([]byte, error) {
	return words(0x0B010000, arm64Ret), nil
}

// SubInt64 returns int64 a-b: sub x0, x0, x1; ret.
func SubInt64() ([]byte, error) {
	return words(0xCB010000, arm64Ret), nil
}

// AddFloat64 returns float64 a+b: fadd d0, d0, d1; ret.
func AddFloat64() ([]byte, error) {
	return words(0x1E612800, arm64Ret), nil
}

// MulFloat32 returns float32 a*b: fmul s0, s0, s1; ret.
func MulFloat32() ([]byte, error) {
	return words(0x1E210800, arm64Ret), nil
}

// ConstInt32 returns a routine without arguments that returns v:
// movz w0, #lo; movk w0, #hi, lsl 16; ret.
func ConstInt32(v int32) ([]byte, error) {
	u := uint32(v)
	movz := uint32(0x52800000) | (u&0xFFFF)<<5
	movk := uint32(0x72A00000) | (u>>16)<<5
	return words(movz, movk, arm64Ret), nil
}

// AddInt32JNI adds the third and fourth arguments, skipping the two JNI
// tokens: add w0, w2, w3; ret.
func AddInt32JNI() ([]byte, error) {
	return words(0x0B030040, arm64Ret), nil
}
