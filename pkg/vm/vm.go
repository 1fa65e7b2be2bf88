package vm

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/daimatz/gotramp/pkg/classfile"
)

// maxFrameDepth is the maximum number of nested method calls.
const maxFrameDepth = 1024

// tokens hands out process-unique identifiers for VMs and classes.
var tokens atomic.Uintptr

// VM is the virtual machine that executes Java bytecode. Classes are
// defined once and then shared; each invocation runs on its own thread
// state, so a VM may be used from several goroutines.
type VM struct {
	loader ClassLoader
	env    uintptr

	mu      sync.Mutex
	classes map[string]*Class

	anonSeq atomic.Uint64
}

// NewVM creates a VM that resolves named classes through cl. cl may be nil,
// in which case only java/lang/Object and classes passed to DefineClass are
// known.
func NewVM(cl ClassLoader) *VM {
	vm := &VM{
		loader:  cl,
		env:     tokens.Add(1),
		classes: make(map[string]*Class),
	}
	data, err := objectClassBytes()
	if err != nil {
		panic(fmt.Sprintf("assembling %s: %v", ObjectClassName, err))
	}
	if _, err := vm.DefineClass(data); err != nil {
		panic(fmt.Sprintf("defining %s: %v", ObjectClassName, err))
	}
	return vm
}

// EnvToken returns the opaque environment identifier passed to natives bound
// with the JNI convention.
func (vm *VM) EnvToken() uintptr { return vm.env }

// LoadClass returns the named class, loading and verifying it on first use.
func (vm *VM) LoadClass(name string) (*Class, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.loadClassLocked(name, 0)
}

func (vm *VM) loadClassLocked(name string, depth int) (*Class, error) {
	if c, ok := vm.classes[name]; ok {
		return c, nil
	}
	if depth > maxFrameDepth {
		return nil, newJavaExceptionf("java/lang/ClassCircularityError", "%s", name)
	}
	if vm.loader == nil {
		return nil, newJavaExceptionf("java/lang/NoClassDefFoundError", "%s", name)
	}
	cf, err := vm.loader.LoadClass(name)
	if err != nil {
		e := newJavaExceptionf("java/lang/NoClassDefFoundError", "%s", name)
		Logger().Debug("class not found", zap.String("class", name), zap.Error(err))
		return nil, e
	}
	fileName, err := cf.ClassName()
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", name, err)
	}
	if fileName != name {
		return nil, newJavaExceptionf("java/lang/NoClassDefFoundError", "%s (wrong name: %s)", name, fileName)
	}
	c, err := vm.link(cf, name, depth)
	if err != nil {
		return nil, err
	}
	vm.classes[name] = c
	return c, nil
}

// link verifies cf and resolves its superclass. vm.mu must be held.
func (vm *VM) link(cf *classfile.ClassFile, name string, depth int) (*Class, error) {
	if err := Verify(cf); err != nil {
		return nil, err
	}
	fileName, _ := cf.ClassName()
	c := &Class{
		Name:     name,
		File:     cf,
		FileName: fileName,
		vm:       vm,
		token:    tokens.Add(1),
	}
	if superName := cf.SuperClassName(); superName != "" {
		super, err := vm.loadClassLocked(superName, depth+1)
		if err != nil {
			return nil, fmt.Errorf("resolving superclass of %s: %w", name, err)
		}
		c.Super = super
	}
	return c, nil
}

// DefineClass defines a named class from a class file image.
func (vm *VM) DefineClass(data []byte) (*Class, error) {
	cf, err := classfile.ParseBytes(data)
	if err != nil {
		return nil, newJavaExceptionf("java/lang/ClassFormatError", "%v", err)
	}
	name, err := cf.ClassName()
	if err != nil {
		return nil, newJavaExceptionf("java/lang/ClassFormatError", "%v", err)
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if _, ok := vm.classes[name]; ok {
		return nil, newJavaExceptionf("java/lang/LinkageError", "duplicate class definition: %s", name)
	}
	c, err := vm.link(cf, name, 0)
	if err != nil {
		return nil, err
	}
	vm.classes[name] = c
	Logger().Debug("class defined", zap.String("class", name))
	return c, nil
}

// DefineAnonymousClass defines a class that is not registered under any
// name: it cannot be found through LoadClass and several may be defined from
// the same image. The class shares host's access rights. Its runtime name is
// the file name followed by a unique suffix.
func (vm *VM) DefineAnonymousClass(host *Class, data []byte) (*Class, error) {
	if host == nil {
		return nil, fmt.Errorf("defining anonymous class: nil host")
	}
	if host.vm != vm {
		return nil, fmt.Errorf("defining anonymous class: host %s belongs to another VM", host.Name)
	}
	cf, err := classfile.ParseBytes(data)
	if err != nil {
		return nil, newJavaExceptionf("java/lang/ClassFormatError", "%v", err)
	}
	fileName, err := cf.ClassName()
	if err != nil {
		return nil, newJavaExceptionf("java/lang/ClassFormatError", "%v", err)
	}
	name := fmt.Sprintf("%s/0x%x", fileName, vm.anonSeq.Add(1))

	vm.mu.Lock()
	c, err := vm.link(cf, name, 0)
	vm.mu.Unlock()
	if err != nil {
		return nil, err
	}
	c.Host = host
	c.Anonymous = true

	Logger().Debug("anonymous class defined",
		zap.String("class", name),
		zap.String("host", host.Name))
	return c, nil
}

// NewInstance allocates an instance of class and runs its no-argument
// constructor.
func (vm *VM) NewInstance(class *Class) (*JObject, error) {
	owner, m := class.FindMethod("<init>", "()V")
	if m == nil || owner != class {
		return nil, newJavaExceptionf("java/lang/NoSuchMethodError", "%s.<init>()V", class.Name)
	}
	obj := NewObject(class)
	t := &thread{vm: vm}
	if _, err := t.invoke(class, m, []Value{RefValue(obj)}); err != nil {
		return nil, err
	}
	return obj, nil
}

// InvokeStatic runs the static method name+descriptor of class, looked up
// in the class and its superclasses. args must match the descriptor.
func (vm *VM) InvokeStatic(class *Class, name, descriptor string, args ...Value) (Value, error) {
	owner, m := class.FindMethod(name, descriptor)
	if m == nil {
		return Value{}, newJavaExceptionf("java/lang/NoSuchMethodError", "%s.%s%s", class.Name, name, descriptor)
	}
	if !m.IsStatic() {
		return Value{}, newJavaExceptionf("java/lang/IncompatibleClassChangeError", "%s.%s%s is not static", class.Name, name, descriptor)
	}
	md, err := classfile.ParseMethodDescriptor(descriptor)
	if err != nil {
		return Value{}, err
	}
	if err := checkArgs(md, args); err != nil {
		return Value{}, newJavaExceptionf("java/lang/IllegalArgumentException", "%s.%s%s: %v", class.Name, name, descriptor, err)
	}
	t := &thread{vm: vm}
	return t.invoke(owner, m, args)
}

// Lookup returns a lookup object with the full access rights of class, as
// MethodHandles.lookup() does when called from code in class.
func (vm *VM) Lookup(class *Class) *Lookup {
	return &Lookup{lookupClass: class}
}

// resolveClass resolves a class reference made by code in from. A class's
// own file name resolves to the class itself, which is how anonymous classes
// reach their members.
func (vm *VM) resolveClass(from *Class, name string) (*Class, error) {
	if from != nil && name == from.FileName {
		return from, nil
	}
	return vm.LoadClass(name)
}
