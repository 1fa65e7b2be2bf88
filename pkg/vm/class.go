package vm

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/daimatz/gotramp/pkg/classfile"
)

// NativeMethod implements a method declared ACC_NATIVE. args holds one
// Value per descriptor parameter (no receiver: only static natives are
// bound). The returned Value is ignored for void methods.
type NativeMethod func(args []Value) (Value, error)

// Class is a loaded, verified class.
type Class struct {
	// Name is the runtime name. For anonymous classes it differs from the
	// name recorded in the class file.
	Name string
	File *classfile.ClassFile
	// FileName is this_class as written in the class file.
	FileName  string
	Super     *Class
	Host      *Class
	Anonymous bool

	vm    *VM
	token uintptr

	mu      sync.RWMutex
	natives map[string]NativeMethod
}

func nativeKey(name, descriptor string) string {
	return name + descriptor
}

// VM returns the VM the class is defined in.
func (c *Class) VM() *VM { return c.vm }

// Token returns an opaque non-zero identifier, unique within the process,
// passed to natives bound with the JNI convention as the class argument.
func (c *Class) Token() uintptr { return c.token }

// FindMethod looks the method up in the class and its superclasses and
// returns it with the class that declares it.
func (c *Class) FindMethod(name, descriptor string) (*Class, *classfile.MethodInfo) {
	for k := c; k != nil; k = k.Super {
		if m := k.File.FindMethod(name, descriptor); m != nil {
			return k, m
		}
	}
	return nil, nil
}

// RegisterNative binds fn to the native method name+descriptor declared in
// this class, replacing any earlier binding. It fails when no such method
// is declared or the method is not native.
func (c *Class) RegisterNative(name, descriptor string, fn NativeMethod) error {
	if fn == nil {
		return fmt.Errorf("registering %s.%s%s: nil native", c.Name, name, descriptor)
	}
	m := c.File.FindMethod(name, descriptor)
	if m == nil {
		return newJavaExceptionf("java/lang/NoSuchMethodError", "%s.%s%s", c.Name, name, descriptor)
	}
	if !m.IsNative() {
		return newJavaExceptionf("java/lang/NoSuchMethodError", "%s.%s%s is not native", c.Name, name, descriptor)
	}
	if !m.IsStatic() {
		return fmt.Errorf("registering %s.%s%s: only static natives can be bound", c.Name, name, descriptor)
	}

	c.mu.Lock()
	if c.natives == nil {
		c.natives = make(map[string]NativeMethod)
	}
	c.natives[nativeKey(name, descriptor)] = fn
	c.mu.Unlock()

	Logger().Debug("native registered",
		zap.String("class", c.Name),
		zap.String("method", name),
		zap.String("descriptor", descriptor))
	return nil
}

// UnregisterNatives drops every binding of the class.
func (c *Class) UnregisterNatives() {
	c.mu.Lock()
	c.natives = nil
	c.mu.Unlock()
}

// Native returns the binding of a native method, or nil.
func (c *Class) Native(name, descriptor string) NativeMethod {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.natives[nativeKey(name, descriptor)]
}

// canAccess reports whether code in c may link against members of target.
// A class reaches itself, its host and the anonymous classes it hosts.
func (c *Class) canAccess(target *Class) bool {
	if c == target {
		return true
	}
	return target.Host == c || c.Host == target
}

func (c *Class) String() string { return c.Name }
