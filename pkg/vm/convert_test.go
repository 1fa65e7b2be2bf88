package vm

import (
	"testing"

	"github.com/daimatz/gotramp/pkg/classfile"
)

func TestValueGoRoundTrip(t *testing.T) {
	tests := []struct {
		kind byte
		in   any
		want Value
	}{
		{'Z', true, IntValue(1)},
		{'Z', false, IntValue(0)},
		{'B', int8(-5), IntValue(-5)},
		{'C', uint16(65535), IntValue(65535)},
		{'S', int16(-300), IntValue(-300)},
		{'I', int32(7), IntValue(7)},
		{'J', int64(1) << 40, LongValue(1 << 40)},
		{'F', float32(0.25), FloatValue(0.25)},
		{'D', 1e100, DoubleValue(1e100)},
		{'L', uintptr(0xBEEF), RefValue(uintptr(0xBEEF))},
	}

	for _, tt := range tests {
		ft := classfile.FieldType{Kind: tt.kind, ClassName: "java/lang/Object"}
		t.Run(ft.String(), func(t *testing.T) {
			v, err := ValueFromGo(ft, tt.in)
			if err != nil {
				t.Fatalf("ValueFromGo: %v", err)
			}
			if v != tt.want {
				t.Errorf("ValueFromGo: got %v, want %v", v, tt.want)
			}
			back, err := v.ToGo(ft)
			if err != nil {
				t.Fatalf("ToGo: %v", err)
			}
			if back != tt.in {
				t.Errorf("ToGo: got %v (%T), want %v (%T)", back, back, tt.in, tt.in)
			}
		})
	}
}

func TestValueFromGoErrors(t *testing.T) {
	tests := []struct {
		name string
		kind byte
		in   any
	}{
		{"int as long", 'J', int32(1)},
		{"int64 as int", 'I', int64(1)},
		{"string reference", 'L', "s"},
		{"void", 'V', nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ValueFromGo(classfile.FieldType{Kind: tt.kind, ClassName: "java/lang/Object"}, tt.in); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNullReferences(t *testing.T) {
	obj := classfile.FieldType{Kind: 'L', ClassName: "java/lang/Object"}

	for _, in := range []any{nil, uintptr(0)} {
		v, err := ValueFromGo(obj, in)
		if err != nil {
			t.Fatalf("ValueFromGo(%v): %v", in, err)
		}
		if !v.IsNull() {
			t.Errorf("ValueFromGo(%v) = %v, want null", in, v)
		}
	}

	got, err := NullValue().ToGo(obj)
	if err != nil {
		t.Fatalf("ToGo: %v", err)
	}
	if got != uintptr(0) {
		t.Errorf("ToGo(null) = %v, want uintptr(0)", got)
	}

	if _, err := RefValue("heap").ToGo(obj); err == nil {
		t.Error("expected error converting a heap reference")
	}
}

func TestToGoRangeChecks(t *testing.T) {
	if _, err := IntValue(128).ToGo(classfile.FieldType{Kind: 'B'}); err == nil {
		t.Error("expected error for 128 as byte")
	}
	if _, err := IntValue(2).ToGo(classfile.FieldType{Kind: 'Z'}); err == nil {
		t.Error("expected error for 2 as boolean")
	}
	if _, err := LongValue(1).ToGo(classfile.FieldType{Kind: 'I'}); err == nil {
		t.Error("expected error for long as int")
	}
}
