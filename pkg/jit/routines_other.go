//go:build !amd64 && !arm64

package jit

func AddInt32() ([]byte, error)        { return nil, ErrNoRoutines }
func SubInt64() ([]byte, error)        { return nil, ErrNoRoutines }
func AddFloat64() ([]byte, error)      { return nil, ErrNoRoutines }
func MulFloat32() ([]byte, error)      { return nil, ErrNoRoutines }
func ConstInt32(int32) ([]byte, error) { return nil, ErrNoRoutines }
func AddInt32JNI() ([]byte, error)     { return nil, ErrNoRoutines }
