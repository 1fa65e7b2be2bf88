package trampoline

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/daimatz/gotramp/pkg/classfile"
	"github.com/daimatz/gotramp/pkg/jit"
	"github.com/daimatz/gotramp/pkg/native"
	"github.com/daimatz/gotramp/pkg/signature"
	"github.com/daimatz/gotramp/pkg/vm"
)

func manyInts(n int) []signature.TypeTag {
	out := make([]signature.TypeTag, n)
	for i := range out {
		out[i] = signature.Int
	}
	return out
}

// mapRoutine places a routine in executable memory, skipping the test where
// no routine or mapping exists.
func mapRoutine(t *testing.T, routine func() ([]byte, error)) uint64 {
	t.Helper()

	code, err := routine()
	if errors.Is(err, jit.ErrNoRoutines) {
		t.Skip(err)
	}
	if err != nil {
		t.Fatalf("routine: %v", err)
	}
	region, err := jit.Map(code)
	if err != nil {
		t.Skipf("cannot map code: %v", err)
	}
	t.Cleanup(func() { _ = region.Release() })
	return region.Address()
}

var addSig = signature.New("add", signature.Int, signature.Int, signature.Int)

func TestBuildRoundTrip(t *testing.T) {
	addr := mapRoutine(t, jit.AddInt32)

	h, err := NewBuilder(nil).Build(addSig, addr)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if h.Descriptor() != "(II)I" {
		t.Errorf("Descriptor() = %q, want (II)I", h.Descriptor())
	}
	if h.Address() != addr {
		t.Errorf("Address() = 0x%x, want 0x%x", h.Address(), addr)
	}
	if !strings.HasPrefix(h.UnitName(), TemplateClassName+"/0x") {
		t.Errorf("UnitName() = %q", h.UnitName())
	}

	tests := []struct {
		a, b, want int32
	}{
		{2, 3, 5},
		{-7, 7, 0},
		{2147483647, 1, -2147483648},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d+%d", tt.a, tt.b), func(t *testing.T) {
			got, err := h.Invoke(tt.a, tt.b)
			if err != nil {
				t.Fatalf("Invoke: %v", err)
			}
			if got != tt.want {
				t.Errorf("Invoke = %v, want %d", got, tt.want)
			}
		})
	}
}

func TestBuildOtherTypes(t *testing.T) {
	tests := []struct {
		name    string
		routine func() ([]byte, error)
		sig     signature.CallSignature
		args    []any
		want    any
	}{
		{
			name:    "long",
			routine: jit.SubInt64,
			sig:     signature.New("sub", signature.Long, signature.Long, signature.Long),
			args:    []any{int64(1) << 40, int64(1)},
			want:    int64(1)<<40 - 1,
		},
		{
			name:    "double",
			routine: jit.AddFloat64,
			sig:     signature.New("addDouble", signature.Double, signature.Double, signature.Double),
			args:    []any{1.5, 2.25},
			want:    3.75,
		},
		{
			name:    "float",
			routine: jit.MulFloat32,
			sig:     signature.New("mul", signature.Float, signature.Float, signature.Float),
			args:    []any{float32(1.5), float32(4)},
			want:    float32(6),
		},
		{
			name:    "no arguments",
			routine: func() ([]byte, error) { return jit.ConstInt32(42) },
			sig:     signature.New("answer", signature.Int),
			want:    int32(42),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := mapRoutine(t, tt.routine)
			h, err := NewBuilder(nil).Build(tt.sig, addr)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			got, err := h.Invoke(tt.args...)
			if err != nil {
				t.Fatalf("Invoke: %v", err)
			}
			if got != tt.want {
				t.Errorf("Invoke = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestBuildJNIConvention(t *testing.T) {
	addr := mapRoutine(t, jit.AddInt32JNI)

	h, err := NewBuilder(nil, WithConvention(native.ConventionJNI)).Build(addSig, addr)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got, err := h.Invoke(int32(20), int32(22))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != int32(42) {
		t.Errorf("Invoke = %v, want 42", got)
	}
}

func TestAs(t *testing.T) {
	addr := mapRoutine(t, jit.AddInt32)

	h, err := NewBuilder(nil).Build(addSig, addr)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	add, err := As[func(int32, int32) (int32, error)](h)
	if err != nil {
		t.Fatalf("As: %v", err)
	}
	got, err := add(40, 2)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if got != 42 {
		t.Errorf("add(40, 2) = %d, want 42", got)
	}

	if _, err := As[func(int64, int32) (int32, error)](h); err == nil {
		t.Error("As with wrong parameter type: expected error")
	}
	if _, err := As[func(int32, int32) int32](h); err == nil {
		t.Error("As without error result: expected error")
	}
	if _, err := As[func(int32) (int32, error)](h); err == nil {
		t.Error("As with wrong arity: expected error")
	}
	if _, err := As[int](h); err == nil {
		t.Error("As with non-function type: expected error")
	}
}

func TestBuildThroughVM(t *testing.T) {
	addr := mapRoutine(t, jit.AddInt32)

	v := vm.NewVM(nil)
	h, err := NewBuilder(v).Build(addSig, addr)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := v.LoadClass(h.UnitName()); err == nil {
		t.Errorf("unit %s is reachable by name", h.UnitName())
	}
	if _, err := v.LoadClass(TemplateClassName); err == nil {
		t.Errorf("%s is reachable by name", TemplateClassName)
	}
}

func TestBuildUnsupportedType(t *testing.T) {
	loader := &countingLoader{}
	binder := &countingBinder{}
	b := NewBuilder(nil, WithLoader(loader), WithBinder(binder))

	tests := []struct {
		name string
		sig  signature.CallSignature
		pos  int
	}{
		{"void parameter", signature.New("f", signature.Int, signature.Int, signature.Void), 1},
		{"zero return", signature.New("f", signature.TypeTag{}), signature.ReturnPosition},
		{"bad reference", signature.New("f", signature.Void, signature.Reference("java.lang.String")), 0},
		{"invalid utf-8 reference", signature.New("f", signature.Void, signature.Int, signature.Reference("a/B\xff")), 1},
		{"too many parameters", signature.New("f", signature.Int, manyInts(300)...), 255},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Build(tt.sig, 0x1000)
			if !errors.Is(err, ErrUnsupportedType) {
				t.Fatalf("Build error = %v, want unsupported type", err)
			}
			var ute *signature.UnsupportedTypeError
			if !errors.As(err, &ute) {
				t.Fatalf("error %v does not wrap *signature.UnsupportedTypeError", err)
			}
			if ute.Position != tt.pos {
				t.Errorf("Position = %d, want %d", ute.Position, tt.pos)
			}
		})
	}
	if loader.calls != 0 || binder.calls != 0 {
		t.Errorf("loader called %d times, binder %d times, want 0", loader.calls, binder.calls)
	}
}

func TestBuildNameCollision(t *testing.T) {
	loader := &countingLoader{}
	binder := &countingBinder{}
	b := NewBuilder(nil, WithLoader(loader), WithBinder(binder))

	for _, name := range []string{"getLookup", "<init>", "<clinit>"} {
		t.Run(name, func(t *testing.T) {
			_, err := b.Build(signature.New(name, signature.Void), 0x1000)
			if !errors.Is(err, ErrNameCollision) {
				t.Fatalf("Build error = %v, want name collision", err)
			}
			var te *Error
			if errors.As(err, &te) && te.Stage != StageSynthesize {
				t.Errorf("Stage = %s, want %s", te.Stage, StageSynthesize)
			}
		})
	}
	if loader.calls != 0 || binder.calls != 0 {
		t.Errorf("loader called %d times, binder %d times, want 0", loader.calls, binder.calls)
	}
}

func TestBuildInvalidName(t *testing.T) {
	loader := &countingLoader{}
	b := NewBuilder(nil, WithLoader(loader))

	tests := []struct {
		desc string
		name string
	}{
		{"empty", ""},
		{"dot", "a.b"},
		{"semicolon", "a;b"},
		{"bracket", "a[b"},
		{"slash", "a/b"},
		{"angle brackets", "<foo>"},
		{"invalid utf-8", "ad\xffd"},
		{"too long", strings.Repeat("n", classfile.MaxUTF8Len+1)},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			_, err := b.Build(signature.New(tt.name, signature.Int, signature.Int, signature.Int), 0x1000)
			if !errors.Is(err, ErrInvalidName) {
				t.Fatalf("Build error = %v, want invalid name", err)
			}
			var te *Error
			if errors.As(err, &te) && te.Stage != StageSynthesize {
				t.Errorf("Stage = %s, want %s", te.Stage, StageSynthesize)
			}
		})
	}
	if loader.calls != 0 {
		t.Errorf("loader called %d times, want 0", loader.calls)
	}
}

func TestBuildLogsToConfiguredLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	b := NewBuilder(nil, WithLogger(zap.New(core)))
	if _, err := b.Build(addSig, 0x1000); err != nil {
		t.Fatalf("Build: %v", err)
	}

	bound := logs.FilterMessage("native bound").All()
	if len(bound) != 1 {
		t.Fatalf("got %d native bound entries, want 1", len(bound))
	}
	if got := bound[0].ContextMap()["member"]; got != "add" {
		t.Errorf("member = %v, want add", got)
	}
}

func TestBuildBindingFailed(t *testing.T) {
	t.Run("binder error", func(t *testing.T) {
		cause := errors.New("refused")
		b := NewBuilder(nil, WithBinder(&countingBinder{err: cause}))
		_, err := b.Build(addSig, 0x1000)
		if !errors.Is(err, ErrBindingFailed) {
			t.Fatalf("Build error = %v, want binding failed", err)
		}
		if !errors.Is(err, cause) {
			t.Errorf("error %v does not wrap the binder's cause", err)
		}
	})

	t.Run("nil address", func(t *testing.T) {
		_, err := NewBuilder(nil).Build(addSig, 0)
		if !errors.Is(err, ErrBindingFailed) {
			t.Fatalf("Build error = %v, want binding failed", err)
		}
	})

	t.Run("unit without registrar", func(t *testing.T) {
		b := NewBuilder(nil, WithLoader(fakeLoader{unit: fakeUnit{}}))
		_, err := b.Build(addSig, 0x1000)
		if !errors.Is(err, ErrBindingFailed) {
			t.Fatalf("Build error = %v, want binding failed", err)
		}
	})
}

func TestBuildIdempotentFailure(t *testing.T) {
	b := NewBuilder(nil)
	var first error
	for i := 0; i < 3; i++ {
		_, err := b.Build(addSig, 0)
		if err == nil {
			t.Fatal("Build with nil address succeeded")
		}
		if i == 0 {
			first = err
			continue
		}
		if !errors.Is(err, first) {
			t.Errorf("attempt %d: %v, want the same kind as %v", i, err, first)
		}
		if err.Error() != first.Error() {
			t.Errorf("attempt %d: %q, want %q", i, err.Error(), first.Error())
		}
	}
}

func TestBuildLoadRejected(t *testing.T) {
	t.Run("loader error", func(t *testing.T) {
		cause := errors.New("no room")
		b := NewBuilder(nil, WithLoader(fakeLoader{err: cause}))
		_, err := b.Build(addSig, 0x1000)
		if !errors.Is(err, ErrLoadRejected) {
			t.Fatalf("Build error = %v, want load rejected", err)
		}
		if !errors.Is(err, cause) {
			t.Errorf("error %v does not wrap the loader's cause", err)
		}
	})

	t.Run("verifier", func(t *testing.T) {
		v := vm.NewVM(nil)
		b := NewBuilder(v, WithLoader(corruptingLoader{VMLoader{VM: v}}))
		_, err := b.Build(addSig, 0x1000)
		if !errors.Is(err, ErrLoadRejected) {
			t.Fatalf("Build error = %v, want load rejected", err)
		}
		var ve *vm.VerifyError
		if !errors.As(err, &ve) {
			t.Errorf("error %v does not wrap *vm.VerifyError", err)
		}
	})

	t.Run("unknown host", func(t *testing.T) {
		_, err := NewBuilder(nil, WithHost("no/such/Host")).Build(addSig, 0x1000)
		if !errors.Is(err, ErrLoadRejected) {
			t.Fatalf("Build error = %v, want load rejected", err)
		}
	})
}

func TestBuildResolution(t *testing.T) {
	cause := errors.New("lookup denied")
	b := NewBuilder(nil,
		WithLoader(fakeLoader{unit: fakeUnit{lookupErr: cause}}),
		WithBinder(&countingBinder{}))
	_, err := b.Build(addSig, 0x1000)
	if !errors.Is(err, ErrResolution) {
		t.Fatalf("Build error = %v, want resolution", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("error %v does not wrap the lookup's cause", err)
	}
}

func TestBuildConcurrent(t *testing.T) {
	const n = 8

	// Even requests build value()I over a constant, odd ones add(II)I.
	addrs := make([]uint64, n)
	for i := range addrs {
		if i%2 == 0 {
			addrs[i] = mapRoutine(t, func() ([]byte, error) { return jit.ConstInt32(int32(i * 100)) })
		} else {
			addrs[i] = mapRoutine(t, jit.AddInt32)
		}
	}
	valueSig := signature.New("value", signature.Int)

	b := NewBuilder(nil)
	handles := make([]*Handle, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sig := valueSig
			if i%2 == 1 {
				sig = addSig
			}
			handles[i], errs[i] = b.Build(sig, addrs[i])
		}(i)
	}
	wg.Wait()

	names := make(map[string]bool)
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Build %d: %v", i, errs[i])
		}
		if names[handles[i].UnitName()] {
			t.Errorf("unit name %s used twice", handles[i].UnitName())
		}
		names[handles[i].UnitName()] = true

		var got any
		var err error
		want := int32(i * 100)
		if i%2 == 0 {
			got, err = handles[i].Invoke()
		} else {
			got, err = handles[i].Invoke(int32(i), int32(1000))
			want = int32(i + 1000)
		}
		if err != nil {
			t.Fatalf("Invoke %d: %v", i, err)
		}
		if got != want {
			t.Errorf("handle %d (%s) returned %v, want %d", i, handles[i].Signature(), got, want)
		}
	}
}

func TestSynthesize(t *testing.T) {
	sig := signature.New("add", signature.Int, signature.Int, signature.Int)
	data, err := Synthesize(sig, "(II)I")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	again, err := Synthesize(sig, "(II)I")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(again) != string(data) {
		t.Error("Synthesize is not deterministic")
	}

	cf, err := classfile.ParseBytes(data)
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if cf.MajorVersion != 52 {
		t.Errorf("MajorVersion = %d, want 52", cf.MajorVersion)
	}
	name, err := cf.ClassName()
	if err != nil || name != TemplateClassName {
		t.Errorf("ClassName() = %q, %v", name, err)
	}
	if len(cf.Methods) != 3 {
		t.Fatalf("%d methods, want 3", len(cf.Methods))
	}
	if err := vm.Verify(cf); err != nil {
		t.Errorf("Verify: %v", err)
	}

	tests := []struct {
		name, desc string
		access     uint16
		code       bool
	}{
		{"<init>", "()V", classfile.AccPublic, true},
		{"add", "(II)I", classfile.AccPublic | classfile.AccStatic | classfile.AccNative, false},
		{AccessorName, AccessorDescriptor, classfile.AccPublic | classfile.AccStatic, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := cf.FindMethod(tt.name, tt.desc)
			if m == nil {
				t.Fatalf("method %s%s missing", tt.name, tt.desc)
			}
			if m.AccessFlags != tt.access {
				t.Errorf("AccessFlags = 0x%04x, want 0x%04x", m.AccessFlags, tt.access)
			}
			if (m.Code != nil) != tt.code {
				t.Errorf("has Code = %v, want %v", m.Code != nil, tt.code)
			}
		})
	}
}

type countingLoader struct {
	calls int
}

func (l *countingLoader) DefineAnonymous([]byte, string) (Unit, error) {
	l.calls++
	return fakeUnit{}, nil
}

type countingBinder struct {
	calls int
	err   error
}

func (b *countingBinder) Bind(BindingRecord) error {
	b.calls++
	return b.err
}

type fakeLoader struct {
	unit Unit
	err  error
}

func (l fakeLoader) DefineAnonymous([]byte, string) (Unit, error) {
	return l.unit, l.err
}

type fakeUnit struct {
	lookupErr error
}

func (fakeUnit) Name() string { return "FakeUnit" }

func (u fakeUnit) Lookup() (Lookup, error) {
	if u.lookupErr != nil {
		return nil, u.lookupErr
	}
	return nil, errors.New("fake unit has no lookup")
}

// corruptingLoader raises the unit's major version past the supported
// range before defining it, which the verifier rejects.
type corruptingLoader struct {
	VMLoader
}

func (l corruptingLoader) DefineAnonymous(unit []byte, host string) (Unit, error) {
	data := append([]byte(nil), unit...)
	data[7] = 60
	return l.VMLoader.DefineAnonymous(data, host)
}
