package native

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/daimatz/gotramp/pkg/classfile"
	"github.com/daimatz/gotramp/pkg/jit"
)

// fakeAddr is never called; purego only records it.
const fakeAddr = uintptr(0x1000)

func TestParseConvention(t *testing.T) {
	tests := []struct {
		in      string
		want    Convention
		wantErr bool
	}{
		{in: "", want: ConventionSystem},
		{in: "system", want: ConventionSystem},
		{in: "native", want: ConventionSystem},
		{in: " JNI ", want: ConventionJNI},
		{in: "stdcall", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseConvention(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseConvention(%q) = %s, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseConvention(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseConvention(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestGoType(t *testing.T) {
	tests := []struct {
		kind byte
		want reflect.Type
	}{
		{'Z', reflect.TypeOf(false)},
		{'B', reflect.TypeOf(int8(0))},
		{'C', reflect.TypeOf(uint16(0))},
		{'S', reflect.TypeOf(int16(0))},
		{'I', reflect.TypeOf(int32(0))},
		{'J', reflect.TypeOf(int64(0))},
		{'F', reflect.TypeOf(float32(0))},
		{'D', reflect.TypeOf(float64(0))},
		{'L', reflect.TypeOf(uintptr(0))},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got, err := GoType(classfile.FieldType{Kind: tt.kind})
			if err != nil {
				t.Fatalf("GoType: %v", err)
			}
			if got != tt.want {
				t.Errorf("GoType = %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := GoType(classfile.FieldType{Kind: 'V'}); err == nil {
		t.Error("GoType(V): expected error")
	}
}

func TestNewFunction(t *testing.T) {
	f, err := NewFunction(fakeAddr, "(IJ)D", WithJNI(1, 2))
	if err != nil {
		t.Fatalf("NewFunction: %v", err)
	}
	if f.Address() != fakeAddr {
		t.Errorf("Address = 0x%x", f.Address())
	}
	if f.Descriptor() != "(IJ)D" {
		t.Errorf("Descriptor = %q", f.Descriptor())
	}
	if f.Convention() != ConventionJNI {
		t.Errorf("Convention = %s, want jni", f.Convention())
	}
	if len(f.MethodDescriptor().Params) != 2 {
		t.Errorf("MethodDescriptor has %d params, want 2", len(f.MethodDescriptor().Params))
	}
}

func TestNewFunctionErrors(t *testing.T) {
	tests := []struct {
		name    string
		addr    uintptr
		desc    string
		opts    []Option
		wantErr string
	}{
		{"nil address", 0, "()V", nil, "nil code address"},
		{"bad descriptor", fakeAddr, "(I", nil, "descriptor"},
		{"too many arguments", fakeAddr, "(" + strings.Repeat("I", MaxArgs+1) + ")V", nil, "exceed"},
		{"too many with JNI", fakeAddr, "(" + strings.Repeat("I", MaxArgs-1) + ")V", []Option{WithJNI(0, 0)}, "exceed"},
		{"unknown convention", fakeAddr, "()V", []Option{WithConvention(Convention(9))}, "convention"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFunction(tt.addr, tt.desc, tt.opts...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestCallArgumentChecks(t *testing.T) {
	f, err := NewFunction(fakeAddr, "(IJ)I")
	if err != nil {
		t.Fatalf("NewFunction: %v", err)
	}

	tests := []struct {
		name string
		args []any
	}{
		{"too few", []any{int32(1)}},
		{"too many", []any{int32(1), int64(2), int32(3)}},
		{"untyped int", []any{1, int64(2)}},
		{"wrong width", []any{int32(1), int32(2)}},
		{"nil", []any{nil, int64(2)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.Call(tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func mapCode(t *testing.T, routine func() ([]byte, error)) uintptr {
	t.Helper()

	code, err := routine()
	if errors.Is(err, jit.ErrNoRoutines) {
		t.Skip(err)
	}
	if err != nil {
		t.Fatal(err)
	}
	region, err := jit.Map(code)
	if err != nil {
		t.Skipf("cannot map code: %v", err)
	}
	t.Cleanup(func() { _ = region.Release() })
	return uintptr(region.Address())
}

func TestCall(t *testing.T) {
	tests := []struct {
		name    string
		routine func() ([]byte, error)
		desc    string
		opts    []Option
		args    []any
		want    any
	}{
		{"int", jit.AddInt32, "(II)I", nil, []any{int32(2), int32(3)}, int32(5)},
		{"long", jit.SubInt64, "(JJ)J", nil, []any{int64(10), int64(3)}, int64(7)},
		{"double", jit.AddFloat64, "(DD)D", nil, []any{0.5, 0.25}, 0.75},
		{"float", jit.MulFloat32, "(FF)F", nil, []any{float32(3), float32(0.5)}, float32(1.5)},
		{"jni", jit.AddInt32JNI, "(II)I", []Option{WithJNI(7, 8)}, []any{int32(4), int32(5)}, int32(9)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFunction(mapCode(t, tt.routine), tt.desc, tt.opts...)
			if err != nil {
				t.Fatalf("NewFunction: %v", err)
			}
			got, err := f.Call(tt.args...)
			if err != nil {
				t.Fatalf("Call: %v", err)
			}
			if got != tt.want {
				t.Errorf("Call = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}
