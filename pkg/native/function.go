// Package native calls machine code at raw addresses. A Function is built
// from a code address and a JVM method descriptor; the descriptor decides
// the Go types of the arguments and result, and purego performs the call
// under the platform C calling convention.
package native

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/ebitengine/purego"
	"go.uber.org/zap"

	"github.com/daimatz/gotramp/pkg/classfile"
)

// MaxArgs is the largest number of machine-level arguments a Function
// accepts, implicit JNI arguments included.
const MaxArgs = 15

// Convention selects how descriptor arguments map to machine arguments.
type Convention int

const (
	// ConventionSystem passes exactly the descriptor's parameters, in order,
	// under the platform C calling convention.
	ConventionSystem Convention = iota
	// ConventionJNI prepends two pointer-sized arguments, an environment
	// token and a class token, the way RegisterNatives-bound static methods
	// receive JNIEnv* and jclass.
	ConventionJNI
)

func (c Convention) String() string {
	switch c {
	case ConventionSystem:
		return "system"
	case ConventionJNI:
		return "jni"
	default:
		return fmt.Sprintf("Convention(%d)", int(c))
	}
}

// ParseConvention maps "system" and "jni" to conventions. An empty string
// selects ConventionSystem.
func ParseConvention(s string) (Convention, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "system", "native":
		return ConventionSystem, nil
	case "jni":
		return ConventionJNI, nil
	default:
		return 0, fmt.Errorf("unknown calling convention %q", s)
	}
}

type config struct {
	convention Convention
	env        uintptr
	class      uintptr
}

// Option configures NewFunction.
type Option func(*config)

// WithConvention selects the convention. With ConventionJNI the implicit
// tokens are zero unless WithJNI is used.
func WithConvention(c Convention) Option {
	return func(cfg *config) { cfg.convention = c }
}

// WithJNI selects ConventionJNI with the given environment and class tokens.
func WithJNI(env, class uintptr) Option {
	return func(cfg *config) {
		cfg.convention = ConventionJNI
		cfg.env = env
		cfg.class = class
	}
}

// Function is a raw code address typed by a method descriptor.
type Function struct {
	addr       uintptr
	descriptor string
	md         *classfile.MethodDescriptor
	convention Convention
	implicit   []reflect.Value
	params     []reflect.Type
	fn         reflect.Value
}

var uintptrType = reflect.TypeOf(uintptr(0))

// GoType returns the Go type a descriptor type is passed as: the JVM
// primitive widths map to the Go integer and float types of the same width,
// char to uint16, and references to uintptr.
func GoType(t classfile.FieldType) (reflect.Type, error) {
	switch t.Kind {
	case 'Z':
		return reflect.TypeOf(false), nil
	case 'B':
		return reflect.TypeOf(int8(0)), nil
	case 'C':
		return reflect.TypeOf(uint16(0)), nil
	case 'S':
		return reflect.TypeOf(int16(0)), nil
	case 'I':
		return reflect.TypeOf(int32(0)), nil
	case 'J':
		return reflect.TypeOf(int64(0)), nil
	case 'F':
		return reflect.TypeOf(float32(0)), nil
	case 'D':
		return reflect.TypeOf(float64(0)), nil
	case 'L', '[':
		return uintptrType, nil
	default:
		return nil, fmt.Errorf("type %s has no Go representation", t)
	}
}

// NewFunction types the code at addr with descriptor.
func NewFunction(addr uintptr, descriptor string, opts ...Option) (f *Function, err error) {
	if addr == 0 {
		return nil, fmt.Errorf("native: nil code address")
	}
	md, err := classfile.ParseMethodDescriptor(descriptor)
	if err != nil {
		return nil, fmt.Errorf("native: %w", err)
	}
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}

	f = &Function{
		addr:       addr,
		descriptor: descriptor,
		md:         md,
		convention: cfg.convention,
	}
	var in []reflect.Type
	switch cfg.convention {
	case ConventionSystem:
	case ConventionJNI:
		f.implicit = []reflect.Value{reflect.ValueOf(cfg.env), reflect.ValueOf(cfg.class)}
		in = append(in, uintptrType, uintptrType)
	default:
		return nil, fmt.Errorf("native: unsupported convention %s", cfg.convention)
	}
	for i, p := range md.Params {
		t, err := GoType(p)
		if err != nil {
			return nil, fmt.Errorf("native: parameter %d: %w", i, err)
		}
		f.params = append(f.params, t)
		in = append(in, t)
	}
	if len(in) > MaxArgs {
		return nil, fmt.Errorf("native: %d arguments exceed the limit of %d", len(in), MaxArgs)
	}
	var out []reflect.Type
	if md.Return.Kind != 'V' {
		t, err := GoType(md.Return)
		if err != nil {
			return nil, fmt.Errorf("native: return type: %w", err)
		}
		out = append(out, t)
	}

	ptr := reflect.New(reflect.FuncOf(in, out, false))
	defer func() {
		// purego panics on signatures it cannot lower.
		if r := recover(); r != nil {
			f = nil
			err = fmt.Errorf("native: cannot bind %s at 0x%x: %v", descriptor, addr, r)
		}
	}()
	purego.RegisterFunc(ptr.Interface(), addr)
	f.fn = ptr.Elem()

	Logger().Debug("native function created",
		zap.Uintptr("address", addr),
		zap.String("descriptor", descriptor),
		zap.Stringer("convention", cfg.convention))
	return f, nil
}

// Address returns the code address.
func (f *Function) Address() uintptr { return f.addr }

// Descriptor returns the method descriptor.
func (f *Function) Descriptor() string { return f.descriptor }

// Convention returns the calling convention.
func (f *Function) Convention() Convention { return f.convention }

// MethodDescriptor returns the parsed descriptor.
func (f *Function) MethodDescriptor() *classfile.MethodDescriptor { return f.md }

// Call invokes the code. Each argument must have exactly the Go type GoType
// gives for its parameter. The result is nil for void descriptors.
func (f *Function) Call(args ...any) (any, error) {
	if len(args) != len(f.params) {
		return nil, fmt.Errorf("native: %s takes %d arguments, got %d", f.descriptor, len(f.params), len(args))
	}
	in := make([]reflect.Value, 0, len(f.implicit)+len(args))
	in = append(in, f.implicit...)
	for i, a := range args {
		v := reflect.ValueOf(a)
		if !v.IsValid() || v.Type() != f.params[i] {
			return nil, fmt.Errorf("native: argument %d: got %T, want %s", i, a, f.params[i])
		}
		in = append(in, v)
	}
	out := f.fn.Call(in)
	if len(out) == 0 {
		return nil, nil
	}
	return out[0].Interface(), nil
}
