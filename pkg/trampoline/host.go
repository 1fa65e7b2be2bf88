package trampoline

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/daimatz/gotramp/pkg/native"
	"github.com/daimatz/gotramp/pkg/vm"
)

// Loader defines synthesized units in the host with the privileges of a
// host class.
type Loader interface {
	DefineAnonymous(unit []byte, host string) (Unit, error)
}

// Unit is a loaded unit.
type Unit interface {
	Name() string
	// Lookup runs the unit's accessor and returns a lookup carrying the
	// unit's own access rights.
	Lookup() (Lookup, error)
}

// Lookup resolves static members of the unit it came from.
type Lookup interface {
	FindStatic(member, descriptor string) (Invoker, error)
}

// Invoker calls a resolved member. Arguments and results use the Go types
// native.GoType gives for the descriptor.
type Invoker interface {
	Invoke(args ...any) (any, error)
}

// BindingRecord ties the native member of a loaded unit to a code address.
type BindingRecord struct {
	Unit       Unit
	Member     string
	Descriptor string
	Address    uint64
}

// Binder attaches a BindingRecord's address to its member so that calls of
// the member transfer control to the address.
type Binder interface {
	Bind(rec BindingRecord) error
}

// NativeRegistrar is implemented by units that accept native functions for
// their members.
type NativeRegistrar interface {
	RegisterFunction(member string, fn *native.Function) error
	// Tokens returns the environment and class tokens passed as the
	// implicit arguments of the JNI convention.
	Tokens() (env, class uintptr)
}

// VMLoader defines units as anonymous classes of a VM.
type VMLoader struct {
	VM *vm.VM
}

// DefineAnonymous parses, verifies and defines unit. host names the class
// whose access rights the unit shares; "" selects java/lang/Object.
func (l VMLoader) DefineAnonymous(unit []byte, host string) (Unit, error) {
	if l.VM == nil {
		return nil, fmt.Errorf("no VM")
	}
	if host == "" {
		host = vm.ObjectClassName
	}
	hostClass, err := l.VM.LoadClass(host)
	if err != nil {
		return nil, fmt.Errorf("resolving host %s: %w", host, err)
	}
	class, err := l.VM.DefineAnonymousClass(hostClass, unit)
	if err != nil {
		return nil, err
	}
	return &vmUnit{vm: l.VM, class: class}, nil
}

type vmUnit struct {
	vm    *vm.VM
	class *vm.Class
}

func (u *vmUnit) Name() string { return u.class.Name }

// Class returns the anonymous class backing the unit.
func (u *vmUnit) Class() *vm.Class { return u.class }

func (u *vmUnit) Lookup() (Lookup, error) {
	v, err := u.vm.InvokeStatic(u.class, AccessorName, AccessorDescriptor)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", AccessorName, err)
	}
	lookup, ok := v.Ref.(*vm.Lookup)
	if !ok || lookup == nil {
		return nil, fmt.Errorf("%s returned %s, not a lookup", AccessorName, v)
	}
	return &vmLookup{class: u.class, lookup: lookup}, nil
}

func (u *vmUnit) Tokens() (uintptr, uintptr) {
	return u.vm.EnvToken(), u.class.Token()
}

func (u *vmUnit) RegisterFunction(member string, fn *native.Function) error {
	md := fn.MethodDescriptor()
	return u.class.RegisterNative(member, fn.Descriptor(), func(args []vm.Value) (vm.Value, error) {
		in := make([]any, len(args))
		for i, a := range args {
			x, err := a.ToGo(md.Params[i])
			if err != nil {
				return vm.Value{}, fmt.Errorf("argument %d: %w", i, err)
			}
			in[i] = x
		}
		out, err := fn.Call(in...)
		if err != nil {
			return vm.Value{}, err
		}
		if md.Return.Kind == 'V' {
			return vm.Value{}, nil
		}
		return vm.ValueFromGo(md.Return, out)
	})
}

type vmLookup struct {
	class  *vm.Class
	lookup *vm.Lookup
}

func (l *vmLookup) FindStatic(member, descriptor string) (Invoker, error) {
	mh, err := l.lookup.FindStatic(l.class, member, descriptor)
	if err != nil {
		return nil, err
	}
	return &vmInvoker{mh: mh}, nil
}

type vmInvoker struct {
	mh *vm.MethodHandle
}

func (i *vmInvoker) Invoke(args ...any) (any, error) {
	md := i.mh.Type()
	if len(args) != len(md.Params) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", i.mh, len(md.Params), len(args))
	}
	in := make([]vm.Value, len(args))
	for n, a := range args {
		v, err := vm.ValueFromGo(md.Params[n], a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", n, err)
		}
		in[n] = v
	}
	out, err := i.mh.Invoke(in...)
	if err != nil {
		return nil, err
	}
	if md.Return.Kind == 'V' {
		return nil, nil
	}
	return out.ToGo(md.Return)
}

// NativeBinder binds members to machine code through the native package.
type NativeBinder struct {
	Convention native.Convention
	// Logger receives bind events. Nil means Logger().
	Logger *zap.Logger
}

// Bind creates a native function for the record's address and registers it
// on the unit, which must be a NativeRegistrar.
func (b NativeBinder) Bind(rec BindingRecord) error {
	if rec.Address == 0 {
		return fmt.Errorf("nil code address")
	}
	if uint64(uintptr(rec.Address)) != rec.Address {
		return fmt.Errorf("address 0x%x does not fit a pointer", rec.Address)
	}
	reg, ok := rec.Unit.(NativeRegistrar)
	if !ok {
		return fmt.Errorf("unit %T does not accept native functions", rec.Unit)
	}

	var opts []native.Option
	switch b.Convention {
	case native.ConventionJNI:
		env, class := reg.Tokens()
		opts = append(opts, native.WithJNI(env, class))
	default:
		opts = append(opts, native.WithConvention(b.Convention))
	}
	fn, err := native.NewFunction(uintptr(rec.Address), rec.Descriptor, opts...)
	if err != nil {
		return err
	}
	if err := reg.RegisterFunction(rec.Member, fn); err != nil {
		return err
	}

	log := b.Logger
	if log == nil {
		log = Logger()
	}
	log.Debug("native bound",
		zap.String("unit", rec.Unit.Name()),
		zap.String("member", rec.Member),
		zap.String("descriptor", rec.Descriptor),
		zap.Uint64("address", rec.Address),
		zap.Stringer("convention", fn.Convention()))
	return nil
}
