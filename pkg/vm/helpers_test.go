package vm

import (
	"errors"
	"testing"

	"github.com/daimatz/gotramp/pkg/classfile"
)

// testMethod describes one method of a class assembled by buildClass. A nil
// body declares a method without code (native).
type testMethod struct {
	access uint16
	name   string
	desc   string
	body   func(c *classfile.Code)
}

func staticMethod(name, desc string, body func(c *classfile.Code)) testMethod {
	return testMethod{access: classfile.AccPublic | classfile.AccStatic, name: name, desc: desc, body: body}
}

// buildClass assembles a class file image.
func buildClass(t *testing.T, name, super string, methods ...testMethod) []byte {
	t.Helper()

	cb := classfile.NewClassBuilder(classfile.AccPublic|classfile.AccSuper, name, super)
	for _, m := range methods {
		var code *classfile.Code
		if m.body != nil {
			code = classfile.NewCode(cb.Pool())
			m.body(code)
		}
		if err := cb.AddMethod(m.access, m.name, m.desc, code); err != nil {
			t.Fatalf("AddMethod %s%s: %v", m.name, m.desc, err)
		}
	}
	data, err := cb.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	return data
}

// defineClass defines a class in a fresh VM.
func defineClass(t *testing.T, name string, methods ...testMethod) (*VM, *Class) {
	t.Helper()

	v := NewVM(nil)
	class, err := v.DefineClass(buildClass(t, name, ObjectClassName, methods...))
	if err != nil {
		t.Fatalf("DefineClass %s: %v", name, err)
	}
	return v, class
}

// javaExceptionClass returns the class name of the JavaException in err's
// chain, or "".
func javaExceptionClass(err error) string {
	var je *JavaException
	if errors.As(err, &je) {
		return je.ClassName()
	}
	return ""
}

func addIntBody(c *classfile.Code) {
	c.VarInsn(classfile.OpIload, 0).VarInsn(classfile.OpIload, 1).Insn(classfile.OpIadd).Insn(classfile.OpIreturn)
}
