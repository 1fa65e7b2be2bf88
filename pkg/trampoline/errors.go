package trampoline

import (
	"strings"
)

// Stage names the build step that failed.
type Stage string

const (
	StageEncode     Stage = "encode"
	StageSynthesize Stage = "synthesize"
	StageLoad       Stage = "load"
	StageBind       Stage = "bind"
	StageResolve    Stage = "resolve"
)

// Kind categorizes a build failure.
type Kind string

const (
	KindUnsupportedType Kind = "unsupported_type" // signature uses a type with no descriptor
	KindNameCollision   Kind = "name_collision"   // name clashes with a synthesized member
	KindInvalidName     Kind = "invalid_name"     // name is not a legal method name
	KindLoadRejected    Kind = "load_rejected"    // loader refused the unit
	KindBindingFailed   Kind = "binding_failed"   // binder refused the address
	KindResolution      Kind = "resolution"       // handle lookup failed after binding
)

// Error is the failure of one Build call.
type Error struct {
	Cause      error
	Stage      Stage
	Kind       Kind
	Name       string
	Descriptor string
	Detail     string
}

func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Stage))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Name != "" {
		b.WriteString(" ")
		b.WriteString(e.Name)
		b.WriteString(e.Descriptor)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same Kind. A target with a
// Stage also has to match the stage.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Stage == "" || t.Stage == e.Stage)
}

// Sentinels for errors.Is.
var (
	ErrUnsupportedType = &Error{Kind: KindUnsupportedType}
	ErrNameCollision   = &Error{Kind: KindNameCollision}
	ErrInvalidName     = &Error{Kind: KindInvalidName}
	ErrLoadRejected    = &Error{Kind: KindLoadRejected}
	ErrBindingFailed   = &Error{Kind: KindBindingFailed}
	ErrResolution      = &Error{Kind: KindResolution}
)
