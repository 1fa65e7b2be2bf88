package vm

import (
	"fmt"
	"math"

	"github.com/daimatz/gotramp/pkg/classfile"
)

// checkValue reports whether v can be passed or returned as t. Integral
// types narrower than int must hold a value in their range.
func checkValue(t classfile.FieldType, v Value) error {
	switch t.Kind {
	case 'Z', 'B', 'C', 'S', 'I':
		if v.Type != TypeInt {
			return fmt.Errorf("expected %s, got %s", t, v.Type)
		}
		if !intFits(t.Kind, v.Int) {
			return fmt.Errorf("%d out of range for %s", v.Int, t)
		}
	case 'J':
		if v.Type != TypeLong {
			return fmt.Errorf("expected long, got %s", v.Type)
		}
	case 'F':
		if v.Type != TypeFloat {
			return fmt.Errorf("expected float, got %s", v.Type)
		}
	case 'D':
		if v.Type != TypeDouble {
			return fmt.Errorf("expected double, got %s", v.Type)
		}
	case 'L', '[':
		if v.Type != TypeRef && v.Type != TypeNull {
			return fmt.Errorf("expected %s, got %s", t, v.Type)
		}
	default:
		return fmt.Errorf("no values of type %s", t)
	}
	return nil
}

func intFits(kind byte, v int32) bool {
	switch kind {
	case 'Z':
		return v == 0 || v == 1
	case 'B':
		return v >= math.MinInt8 && v <= math.MaxInt8
	case 'C':
		return v >= 0 && v <= math.MaxUint16
	case 'S':
		return v >= math.MinInt16 && v <= math.MaxInt16
	default:
		return true
	}
}

// checkArgs checks args against the descriptor's parameters.
func checkArgs(md *classfile.MethodDescriptor, args []Value) error {
	if len(args) != len(md.Params) {
		return fmt.Errorf("expected %d arguments, got %d", len(md.Params), len(args))
	}
	for i, p := range md.Params {
		if err := checkValue(p, args[i]); err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
	}
	return nil
}

// narrow truncates an int result to the width of a boolean, byte, char or
// short return type, as the JVM does on ireturn.
func narrow(t classfile.FieldType, v Value) Value {
	if v.Type != TypeInt {
		return v
	}
	switch t.Kind {
	case 'Z':
		return IntValue(v.Int & 1)
	case 'B':
		return IntValue(int32(int8(v.Int)))
	case 'C':
		return IntValue(int32(uint16(v.Int)))
	case 'S':
		return IntValue(int32(int16(v.Int)))
	}
	return v
}

// ValueFromGo converts a Go value of the type native.GoType gives for t
// into a Value. References are carried as uintptr; nil and uintptr(0) both
// give null.
func ValueFromGo(t classfile.FieldType, v any) (Value, error) {
	switch t.Kind {
	case 'Z':
		if b, ok := v.(bool); ok {
			if b {
				return IntValue(1), nil
			}
			return IntValue(0), nil
		}
	case 'B':
		if x, ok := v.(int8); ok {
			return IntValue(int32(x)), nil
		}
	case 'C':
		if x, ok := v.(uint16); ok {
			return IntValue(int32(x)), nil
		}
	case 'S':
		if x, ok := v.(int16); ok {
			return IntValue(int32(x)), nil
		}
	case 'I':
		if x, ok := v.(int32); ok {
			return IntValue(x), nil
		}
	case 'J':
		if x, ok := v.(int64); ok {
			return LongValue(x), nil
		}
	case 'F':
		if x, ok := v.(float32); ok {
			return FloatValue(x), nil
		}
	case 'D':
		if x, ok := v.(float64); ok {
			return DoubleValue(x), nil
		}
	case 'L', '[':
		switch x := v.(type) {
		case nil:
			return NullValue(), nil
		case uintptr:
			if x == 0 {
				return NullValue(), nil
			}
			return RefValue(x), nil
		}
	default:
		return Value{}, fmt.Errorf("no values of type %s", t)
	}
	return Value{}, fmt.Errorf("cannot convert %T to %s", v, t)
}

// ToGo converts v to the Go representation of t. Only null and uintptr
// references convert; other heap references have no raw form.
func (v Value) ToGo(t classfile.FieldType) (any, error) {
	if err := checkValue(t, v); err != nil {
		return nil, err
	}
	switch t.Kind {
	case 'Z':
		return v.Int != 0, nil
	case 'B':
		return int8(v.Int), nil
	case 'C':
		return uint16(v.Int), nil
	case 'S':
		return int16(v.Int), nil
	case 'I':
		return v.Int, nil
	case 'J':
		return v.Long, nil
	case 'F':
		return v.Float, nil
	case 'D':
		return v.Double, nil
	}
	if v.IsNull() {
		return uintptr(0), nil
	}
	p, ok := v.Ref.(uintptr)
	if !ok {
		return nil, fmt.Errorf("reference %T has no raw representation", v.Ref)
	}
	return p, nil
}
