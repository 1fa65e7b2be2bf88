package trampoline

import (
	"go.uber.org/zap"

	"github.com/daimatz/gotramp/pkg/native"
)

// Option configures a Builder.
type Option func(*Builder)

// WithLoader replaces the VM loader.
func WithLoader(l Loader) Option {
	return func(b *Builder) { b.loader = l }
}

// WithBinder replaces the native binder. WithConvention has no effect on a
// custom binder.
func WithBinder(bd Binder) Option {
	return func(b *Builder) { b.binder = bd }
}

// WithHost names the class whose access rights synthesized units share.
func WithHost(class string) Option {
	return func(b *Builder) { b.host = class }
}

// WithConvention selects the calling convention of the default binder.
func WithConvention(c native.Convention) Option {
	return func(b *Builder) { b.convention = c }
}

// WithLogger sets the logger of the Builder and its default binder. It
// defaults to Logger().
func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) { b.logger = l }
}
