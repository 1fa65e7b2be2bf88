package jit

import (
	"errors"
	"testing"
)

func TestRoutine(t *testing.T) {
	names := []string{
		RoutineAddInt32,
		RoutineSubInt64,
		RoutineAddFloat64,
		RoutineMulFloat32,
		RoutineAddInt32JNI,
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			code, err := Routine(name)
			if errors.Is(err, ErrNoRoutines) {
				t.Skip(err)
			}
			if err != nil {
				t.Fatalf("Routine: %v", err)
			}
			if len(code) == 0 {
				t.Error("empty code")
			}
		})
	}

	if _, err := Routine("no_such_routine"); err == nil || errors.Is(err, ErrNoRoutines) {
		t.Errorf("unknown routine: got %v", err)
	}
}

func TestConstInt32Encodes(t *testing.T) {
	a, err := ConstInt32(1)
	if errors.Is(err, ErrNoRoutines) {
		t.Skip(err)
	}
	if err != nil {
		t.Fatal(err)
	}
	b, err := ConstInt32(-1)
	if err != nil {
		t.Fatal(err)
	}
	if string(a) == string(b) {
		t.Error("different constants give identical code")
	}
}

func TestMap(t *testing.T) {
	code, err := AddInt32()
	if errors.Is(err, ErrNoRoutines) {
		t.Skip(err)
	}
	if err != nil {
		t.Fatal(err)
	}

	r, err := Map(code)
	if err != nil {
		t.Skipf("cannot map code: %v", err)
	}
	if r.Address() == 0 {
		t.Error("Address() = 0")
	}
	if r.Size() != len(code) {
		t.Errorf("Size() = %d, want %d", r.Size(), len(code))
	}
	if err := r.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := r.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
}

func TestMapEmpty(t *testing.T) {
	if _, err := Map(nil); err == nil {
		t.Error("Map(nil): expected error")
	}
}
