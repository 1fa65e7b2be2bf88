// Package trampoline turns a call signature and a raw code address into a
// handle the VM invokes as an ordinary static method. Each Build
// synthesizes a class with a native stub, defines it as an anonymous class,
// binds the stub to the address and resolves a method handle to it.
package trampoline

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/daimatz/gotramp/pkg/native"
	"github.com/daimatz/gotramp/pkg/signature"
	"github.com/daimatz/gotramp/pkg/vm"
)

// Builder builds trampolines. A Builder holds no per-request state and may
// be used from several goroutines.
type Builder struct {
	vm         *vm.VM
	loader     Loader
	binder     Binder
	host       string
	convention native.Convention
	logger     *zap.Logger
}

// NewBuilder returns a Builder that defines units in v. A nil v gets a
// fresh VM.
func NewBuilder(v *vm.VM, opts ...Option) *Builder {
	if v == nil {
		v = vm.NewVM(nil)
	}
	b := &Builder{vm: v}
	for _, opt := range opts {
		opt(b)
	}
	if b.loader == nil {
		b.loader = VMLoader{VM: v}
	}
	if b.logger == nil {
		b.logger = Logger()
	}
	if b.binder == nil {
		b.binder = NativeBinder{Convention: b.convention, Logger: b.logger}
	}
	return b
}

// VM returns the VM units are defined in.
func (b *Builder) VM() *vm.VM { return b.vm }

// Build returns a handle that calls the code at address with the types of
// sig. On failure it returns an *Error and no handle.
func (b *Builder) Build(sig signature.CallSignature, address uint64) (*Handle, error) {
	req := &request{sig: sig, address: address, state: stateNew, log: b.logger}

	descriptor, err := signature.Encode(sig)
	if err != nil {
		return nil, req.fail(StageEncode, KindUnsupportedType, err, "")
	}
	req.descriptor = descriptor
	req.advance(stateEncoded)

	data, err := Synthesize(sig, descriptor)
	if err != nil {
		return nil, req.abort(err)
	}
	req.advance(stateSynthesized)

	unit, err := b.loader.DefineAnonymous(data, b.host)
	if err != nil {
		return nil, req.fail(StageLoad, KindLoadRejected, err, "")
	}
	req.unit = unit
	req.advance(stateLoaded)

	rec := BindingRecord{
		Unit:       unit,
		Member:     sig.Name(),
		Descriptor: descriptor,
		Address:    address,
	}
	if err := b.binder.Bind(rec); err != nil {
		return nil, req.fail(StageBind, KindBindingFailed, err, fmt.Sprintf("address 0x%x", address))
	}
	req.advance(stateBound)

	lookup, err := unit.Lookup()
	if err != nil {
		return nil, req.fail(StageResolve, KindResolution, err, "obtaining lookup")
	}
	invoker, err := lookup.FindStatic(sig.Name(), descriptor)
	if err != nil {
		return nil, req.fail(StageResolve, KindResolution, err, "")
	}
	req.advance(stateResolved)

	return &Handle{
		invoker:    invoker,
		sig:        sig,
		descriptor: descriptor,
		address:    address,
		unit:       unit.Name(),
	}, nil
}

type state int

const (
	stateNew state = iota
	stateEncoded
	stateSynthesized
	stateLoaded
	stateBound
	stateResolved
	stateFailed
)

var stateNames = [...]string{
	stateNew:         "new",
	stateEncoded:     "encoded",
	stateSynthesized: "synthesized",
	stateLoaded:      "loaded",
	stateBound:       "bound",
	stateResolved:    "resolved",
	stateFailed:      "failed",
}

func (s state) String() string { return stateNames[s] }

// request tracks one Build call. States only move forward one step at a
// time, and stateFailed is terminal.
type request struct {
	sig        signature.CallSignature
	descriptor string
	address    uint64
	unit       Unit
	state      state
	log        *zap.Logger
}

func (r *request) advance(to state) {
	if r.state == stateFailed || to != r.state+1 {
		panic(fmt.Sprintf("trampoline: invalid transition %s -> %s", r.state, to))
	}
	r.state = to

	fields := []zap.Field{
		zap.String("member", r.sig.Name()),
		zap.Stringer("state", to),
	}
	if r.descriptor != "" {
		fields = append(fields, zap.String("descriptor", r.descriptor))
	}
	if r.unit != nil {
		fields = append(fields, zap.String("unit", r.unit.Name()))
	}
	if to == stateBound {
		fields = append(fields, zap.Uint64("address", r.address))
	}
	r.log.Debug("trampoline state", fields...)
}

func (r *request) fail(stage Stage, kind Kind, cause error, detail string) error {
	return r.abort(&Error{
		Cause:      cause,
		Stage:      stage,
		Kind:       kind,
		Name:       r.sig.Name(),
		Descriptor: r.descriptor,
		Detail:     detail,
	})
}

// abort moves the request to stateFailed and returns err.
func (r *request) abort(err error) error {
	from := r.state
	r.state = stateFailed
	r.log.Debug("trampoline failed",
		zap.String("member", r.sig.Name()),
		zap.Stringer("from", from),
		zap.Error(err))
	return err
}
