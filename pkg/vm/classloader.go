package vm

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/daimatz/gotramp/pkg/classfile"
)

// ClassLoader loads .class files by class name.
type ClassLoader interface {
	LoadClass(name string) (*classfile.ClassFile, error)
}

// UserClassLoader loads user classes from the classpath, delegating to the parent first.
type UserClassLoader struct {
	ClassPath string
	Parent    ClassLoader

	mu    sync.Mutex
	Cache map[string]*classfile.ClassFile
}

// NewUserClassLoader creates a new UserClassLoader. parent may be nil.
func NewUserClassLoader(classPath string, parent ClassLoader) *UserClassLoader {
	return &UserClassLoader{
		ClassPath: classPath,
		Parent:    parent,
		Cache:     make(map[string]*classfile.ClassFile),
	}
}

func (cl *UserClassLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cf, ok := cl.Cache[name]; ok {
		return cf, nil
	}
	if cl.Parent != nil {
		if cf, err := cl.Parent.LoadClass(name); err == nil {
			return cf, nil
		}
	}
	path := filepath.Join(cl.ClassPath, filepath.FromSlash(name)+".class")
	cf, err := classfile.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("user: class %s not found: %w", name, err)
	}
	cl.Cache[name] = cf
	return cf, nil
}

// MemoryClassLoader serves classes from in-memory class file images.
type MemoryClassLoader struct {
	Parent ClassLoader

	mu      sync.Mutex
	classes map[string]*classfile.ClassFile
}

// NewMemoryClassLoader creates an empty loader. parent may be nil.
func NewMemoryClassLoader(parent ClassLoader) *MemoryClassLoader {
	return &MemoryClassLoader{
		Parent:  parent,
		classes: make(map[string]*classfile.ClassFile),
	}
}

// Add parses data and makes it loadable under its this_class name, which
// it returns.
func (cl *MemoryClassLoader) Add(data []byte) (string, error) {
	cf, err := classfile.ParseBytes(data)
	if err != nil {
		return "", fmt.Errorf("memory: parsing class: %w", err)
	}
	name, err := cf.ClassName()
	if err != nil {
		return "", fmt.Errorf("memory: resolving this_class: %w", err)
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()
	if _, ok := cl.classes[name]; ok {
		return "", fmt.Errorf("memory: duplicate class %s", name)
	}
	cl.classes[name] = cf
	return name, nil
}

func (cl *MemoryClassLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	if cl.Parent != nil {
		if cf, err := cl.Parent.LoadClass(name); err == nil {
			return cf, nil
		}
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cf, ok := cl.classes[name]; ok {
		return cf, nil
	}
	return nil, fmt.Errorf("memory: class %s not found", name)
}
