package trampoline

import (
	"fmt"
	"reflect"

	"github.com/daimatz/gotramp/pkg/classfile"
	"github.com/daimatz/gotramp/pkg/native"
	"github.com/daimatz/gotramp/pkg/signature"
)

// Handle is a built trampoline. Invoking it runs the native stub in the VM,
// which transfers control to the bound address.
type Handle struct {
	invoker    Invoker
	sig        signature.CallSignature
	descriptor string
	address    uint64
	unit       string
}

// Invoke calls the trampoline. Arguments must have the Go types
// native.GoType gives for the parameters; the result is nil for void.
func (h *Handle) Invoke(args ...any) (any, error) {
	return h.invoker.Invoke(args...)
}

// Signature returns the signature the handle was built for.
func (h *Handle) Signature() signature.CallSignature { return h.sig }

// Descriptor returns the encoded method descriptor.
func (h *Handle) Descriptor() string { return h.descriptor }

// Address returns the bound code address.
func (h *Handle) Address() uint64 { return h.address }

// UnitName returns the runtime name of the unit holding the stub.
func (h *Handle) UnitName() string { return h.unit }

func (h *Handle) String() string {
	return fmt.Sprintf("%s%s@0x%x", h.sig.Name(), h.descriptor, h.address)
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// As returns h as a Go function of type F. F's parameters must be the Go
// types of the descriptor's parameters, and its results either (R, error)
// with R the Go type of the return type, or just (error) for void.
//
//	add, err := trampoline.As[func(int32, int32) (int32, error)](h)
func As[F any](h *Handle) (F, error) {
	var zero F
	ft := reflect.TypeOf((*F)(nil)).Elem()
	if ft.Kind() != reflect.Func {
		return zero, fmt.Errorf("%s is not a function type", ft)
	}
	md, err := classfile.ParseMethodDescriptor(h.descriptor)
	if err != nil {
		return zero, err
	}
	if ft.IsVariadic() || ft.NumIn() != len(md.Params) {
		return zero, fmt.Errorf("%s does not match %s: want %d parameters", ft, h.descriptor, len(md.Params))
	}
	for i, p := range md.Params {
		want, err := native.GoType(p)
		if err != nil {
			return zero, err
		}
		if ft.In(i) != want {
			return zero, fmt.Errorf("%s does not match %s: parameter %d is %s, want %s", ft, h.descriptor, i, ft.In(i), want)
		}
	}

	void := md.Return.Kind == 'V'
	switch {
	case void && ft.NumOut() == 1 && ft.Out(0) == errorType:
	case !void && ft.NumOut() == 2 && ft.Out(1) == errorType:
		want, err := native.GoType(md.Return)
		if err != nil {
			return zero, err
		}
		if ft.Out(0) != want {
			return zero, fmt.Errorf("%s does not match %s: result is %s, want %s", ft, h.descriptor, ft.Out(0), want)
		}
	default:
		if void {
			return zero, fmt.Errorf("%s does not match %s: want results (error)", ft, h.descriptor)
		}
		return zero, fmt.Errorf("%s does not match %s: want results (%s, error)", ft, h.descriptor, md.Return)
	}

	fn := reflect.MakeFunc(ft, func(in []reflect.Value) []reflect.Value {
		args := make([]any, len(in))
		for i, v := range in {
			args[i] = v.Interface()
		}
		res, err := h.Invoke(args...)

		errv := reflect.New(errorType).Elem()
		if err != nil {
			errv.Set(reflect.ValueOf(err))
		}
		if void {
			return []reflect.Value{errv}
		}
		if err != nil || res == nil {
			return []reflect.Value{reflect.Zero(ft.Out(0)), errv}
		}
		return []reflect.Value{reflect.ValueOf(res), errv}
	})
	return fn.Interface().(F), nil
}
