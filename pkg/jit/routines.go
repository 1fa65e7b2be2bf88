package jit

import (
	"encoding/binary"
	"fmt"
	"runtime"
)

// ErrNoRoutines is returned by the routine constructors on architectures
// without hand-assembled code.
var ErrNoRoutines = fmt.Errorf("jit: no routines for %s", runtime.GOARCH)

// Routine names accepted by Routine.
const (
	RoutineAddInt32    = "add_int32"
	RoutineSubInt64    = "sub_int64"
	RoutineAddFloat64  = "add_float64"
	RoutineMulFloat32  = "mul_float32"
	RoutineAddInt32JNI = "add_int32_jni"
)

// Routine returns the machine code of a named routine for the running
// architecture.
func Routine(name string) ([]byte, error) {
	switch name {
	case RoutineAddInt32:
		return AddInt32()
	case RoutineSubInt64:
		return SubInt64()
	case RoutineAddFloat64:
		return AddFloat64()
	case RoutineMulFloat32:
		return MulFloat32()
	case RoutineAddInt32JNI:
		return AddInt32JNI()
	default:
		return nil, fmt.Errorf("jit: unknown routine %q", name)
	}
}

func words(ws ...uint32) []byte {
	out := make([]byte, 4*len(ws))
	for i, w := range ws {
		binary.LittleEndian.PutUint32(out[4*i:], w)
	}
	return out
}
