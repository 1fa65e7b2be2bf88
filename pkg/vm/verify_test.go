package vm

import (
	"errors"
	"strings"
	"testing"

	"github.com/daimatz/gotramp/pkg/classfile"
)

// parsedClass assembles a valid class with one static int method and parses
// it back so that tests can corrupt the structure.
func parsedClass(t *testing.T) *classfile.ClassFile {
	t.Helper()

	cf, err := classfile.ParseBytes(buildClass(t, "V", ObjectClassName,
		staticMethod("add", "(II)I", addIntBody),
		testMethod{access: classfile.AccPublic | classfile.AccStatic | classfile.AccNative, name: "nat", desc: "()V"},
	))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if err := Verify(cf); err != nil {
		t.Fatalf("Verify of the valid class: %v", err)
	}
	return cf
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cf *classfile.ClassFile)
		reason string
	}{
		{"future version", func(cf *classfile.ClassFile) { cf.MajorVersion = 61 }, "version"},
		{"interface", func(cf *classfile.ClassFile) { cf.AccessFlags |= classfile.AccInterface }, "interfaces"},
		{"missing superclass", func(cf *classfile.ClassFile) { cf.SuperClass = 0 }, "missing superclass"},
		{"duplicate method", func(cf *classfile.ClassFile) { cf.Methods = append(cf.Methods, cf.Methods[0]) }, "duplicate"},
		{"bad method name", func(cf *classfile.ClassFile) { cf.Methods[0].Name = "a.b" }, "invalid method name"},
		{"bad descriptor", func(cf *classfile.ClassFile) { cf.Methods[0].Descriptor = "(Q)I" }, "descriptor"},
		{"static constructor", func(cf *classfile.ClassFile) { cf.Methods[0].Name = "<init>" }, "constructor"},
		{"missing code", func(cf *classfile.ClassFile) { cf.Methods[0].Code = nil }, "missing Code"},
		{"native with code", func(cf *classfile.ClassFile) { cf.Methods[1].Code = cf.Methods[0].Code }, "native or abstract"},
		{"stack overflow", func(cf *classfile.ClassFile) { cf.Methods[0].Code.MaxStack = 1 }, "exceeds max_stack"},
		{"too many parameter slots", func(cf *classfile.ClassFile) {
			cf.Methods[1].Descriptor = "(" + strings.Repeat("J", 128) + ")V"
		}, "slots exceed"},
		{"receiver takes a slot", func(cf *classfile.ClassFile) {
			cf.Methods[1].AccessFlags &^= classfile.AccStatic
			cf.Methods[1].Descriptor = "(" + strings.Repeat("I", 255) + ")V"
		}, "256 parameter slots"},
		{"locals below parameters", func(cf *classfile.ClassFile) { cf.Methods[0].Code.MaxLocals = 1 }, "parameter slots"},
		{"wrong return", func(cf *classfile.ClassFile) {
			code := cf.Methods[0].Code.Code
			code[len(code)-1] = classfile.OpFreturn
		}, "does not match"},
		{"falls off the end", func(cf *classfile.ClassFile) {
			code := cf.Methods[0].Code.Code
			cf.Methods[0].Code.Code = code[:len(code)-1]
		}, "falls off"},
		{"unsupported opcode", func(cf *classfile.ClassFile) {
			cf.Methods[0].Code.Code = []byte{0xA7, 0x00, 0x00} // goto
		}, "unsupported opcode"},
		{"underflow", func(cf *classfile.ClassFile) {
			cf.Methods[0].Code.Code = []byte{classfile.OpIadd, classfile.OpIreturn}
		}, "underflow"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cf := parsedClass(t)
			tt.mutate(cf)
			err := Verify(cf)
			var ve *VerifyError
			if !errors.As(err, &ve) {
				t.Fatalf("Verify: got %v, want *VerifyError", err)
			}
			if ve.Class != "V" {
				t.Errorf("Class: got %q, want V", ve.Class)
			}
			if !strings.Contains(err.Error(), tt.reason) {
				t.Errorf("error %q does not mention %q", err, tt.reason)
			}
		})
	}
}

func TestVerifyRejectsAtDefinition(t *testing.T) {
	cb := classfile.NewClassBuilder(classfile.AccPublic|classfile.AccInterface, "I", ObjectClassName)
	data, err := cb.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	var ve *VerifyError
	if _, err := NewVM(nil).DefineClass(data); !errors.As(err, &ve) {
		t.Errorf("DefineClass: got %v, want *VerifyError", err)
	}
}
