package classfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const classMagic = 0xCAFEBABE

// ParseFile opens and parses a .class file from the given path.
func ParseFile(path string) (*ClassFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// ParseBytes parses a class file held in memory.
func ParseBytes(data []byte) (*ClassFile, error) {
	r := bytes.NewReader(data)
	cf, err := Parse(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after class file", r.Len())
	}
	return cf, nil
}

// Parse reads a .class file from the given reader and returns a ClassFile.
func Parse(r io.Reader) (*ClassFile, error) {
	cf := &ClassFile{}

	// Magic number
	var magic uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return nil, fmt.Errorf("reading magic number: %w", err)
	}
	if magic != classMagic {
		return nil, fmt.Errorf("invalid magic number: 0x%X (expected 0xCAFEBABE)", magic)
	}

	// Version
	if err := binary.Read(r, binary.BigEndian, &cf.MinorVersion); err != nil {
		return nil, fmt.Errorf("reading minor version: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &cf.MajorVersion); err != nil {
		return nil, fmt.Errorf("reading major version: %w", err)
	}

	// Constant pool
	var cpCount uint16
	if err := binary.Read(r, binary.BigEndian, &cpCount); err != nil {
		return nil, fmt.Errorf("reading constant pool count: %w", err)
	}
	pool, err := parseConstantPool(r, cpCount)
	if err != nil {
		return nil, fmt.Errorf("parsing constant pool: %w", err)
	}
	cf.ConstantPool = pool

	// Access flags, this_class, super_class
	if err := binary.Read(r, binary.BigEndian, &cf.AccessFlags); err != nil {
		return nil, fmt.Errorf("reading access flags: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &cf.ThisClass); err != nil {
		return nil, fmt.Errorf("reading this_class: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &cf.SuperClass); err != nil {
		return nil, fmt.Errorf("reading super_class: %w", err)
	}

	// Interfaces
	var interfacesCount uint16
	if err := binary.Read(r, binary.BigEndian, &interfacesCount); err != nil {
		return nil, fmt.Errorf("reading interfaces count: %w", err)
	}
	cf.Interfaces = make([]uint16, interfacesCount)
	for i := uint16(0); i < interfacesCount; i++ {
		if err := binary.Read(r, binary.BigEndian, &cf.Interfaces[i]); err != nil {
			return nil, fmt.Errorf("reading interface %d: %w", i, err)
		}
	}

	// Fields
	var fieldsCount uint16
	if err := binary.Read(r, binary.BigEndian, &fieldsCount); err != nil {
		return nil, fmt.Errorf("reading fields count: %w", err)
	}
	cf.Fields, err = parseFields(r, cf.ConstantPool, fieldsCount)
	if err != nil {
		return nil, fmt.Errorf("parsing fields: %w", err)
	}

	// Methods
	var methodsCount uint16
	if err := binary.Read(r, binary.BigEndian, &methodsCount); err != nil {
		return nil, fmt.Errorf("reading methods count: %w", err)
	}
	cf.Methods, err = parseMethods(r, cf.ConstantPool, methodsCount)
	if err != nil {
		return nil, fmt.Errorf("parsing methods: %w", err)
	}

	// Class-level attributes (InnerClasses is kept, others skipped)
	if err := cf.parseClassAttributes(r); err != nil {
		return nil, fmt.Errorf("parsing class attributes: %w", err)
	}

	return cf, nil
}

// member is the layout fields and methods share.
type member struct {
	access     uint16
	name       string
	descriptor string
	attrs      []AttributeInfo
}

func parseMembers(r io.Reader, pool []ConstantPoolEntry, kind string, count uint16) ([]member, error) {
	members := make([]member, count)
	for i := range members {
		var header [4]uint16 // access_flags, name_index, descriptor_index, attributes_count
		if err := binary.Read(r, binary.BigEndian, &header); err != nil {
			return nil, fmt.Errorf("reading %s %d header: %w", kind, i, err)
		}
		name, err := GetUtf8(pool, header[1])
		if err != nil {
			return nil, fmt.Errorf("resolving %s %d name: %w", kind, i, err)
		}
		desc, err := GetUtf8(pool, header[2])
		if err != nil {
			return nil, fmt.Errorf("resolving %s %d descriptor: %w", kind, i, err)
		}
		attrs, err := parseAttributeInfos(r, pool, header[3])
		if err != nil {
			return nil, fmt.Errorf("parsing %s %s attributes: %w", kind, name, err)
		}
		members[i] = member{access: header[0], name: name, descriptor: desc, attrs: attrs}
	}
	return members, nil
}

func parseFields(r io.Reader, pool []ConstantPoolEntry, count uint16) ([]FieldInfo, error) {
	members, err := parseMembers(r, pool, "field", count)
	if err != nil {
		return nil, err
	}
	fields := make([]FieldInfo, len(members))
	for i, m := range members {
		fields[i] = FieldInfo{
			AccessFlags: m.access,
			Name:        m.name,
			Descriptor:  m.descriptor,
			Attributes:  m.attrs,
		}
	}
	return fields, nil
}

func parseMethods(r io.Reader, pool []ConstantPoolEntry, count uint16) ([]MethodInfo, error) {
	members, err := parseMembers(r, pool, "method", count)
	if err != nil {
		return nil, err
	}
	methods := make([]MethodInfo, len(members))
	for i, m := range members {
		methods[i] = MethodInfo{
			AccessFlags: m.access,
			Name:        m.name,
			Descriptor:  m.descriptor,
			Attributes:  m.attrs,
		}
		for _, attr := range m.attrs {
			if attr.Name != "Code" {
				continue
			}
			if methods[i].Code != nil {
				return nil, fmt.Errorf("method %s%s: more than one Code attribute", m.name, m.descriptor)
			}
			code, err := parseCodeAttribute(attr.Data)
			if err != nil {
				return nil, fmt.Errorf("parsing Code attribute for method %s: %w", m.name, err)
			}
			methods[i].Code = code
		}
	}
	return methods, nil
}

func parseAttributeInfos(r io.Reader, pool []ConstantPoolEntry, count uint16) ([]AttributeInfo, error) {
	attrs := make([]AttributeInfo, count)
	for i := uint16(0); i < count; i++ {
		var nameIndex uint16
		if err := binary.Read(r, binary.BigEndian, &nameIndex); err != nil {
			return nil, fmt.Errorf("reading attribute %d name index: %w", i, err)
		}
		var length uint32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, fmt.Errorf("reading attribute %d length: %w", i, err)
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("reading attribute %d data: %w", i, err)
		}

		name, err := GetUtf8(pool, nameIndex)
		if err != nil {
			return nil, fmt.Errorf("resolving attribute %d name: %w", i, err)
		}

		attrs[i] = AttributeInfo{Name: name, Data: data}
	}
	return attrs, nil
}

// parseCodeAttribute decodes max_stack, max_locals, the bytecode and the
// exception table. Nested attributes (LineNumberTable and friends) are
// skipped.
func parseCodeAttribute(data []byte) (*CodeAttribute, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("Code attribute too short: %d bytes", len(data))
	}
	be := binary.BigEndian
	attr := &CodeAttribute{
		MaxStack:  be.Uint16(data[0:]),
		MaxLocals: be.Uint16(data[2:]),
	}

	codeLength := int(be.Uint32(data[4:]))
	offset := 8
	if codeLength == 0 || len(data)-offset < codeLength+2 {
		return nil, fmt.Errorf("Code attribute data too short for code_length %d", codeLength)
	}
	attr.Code = append([]byte(nil), data[offset:offset+codeLength]...)
	offset += codeLength

	handlers := int(be.Uint16(data[offset:]))
	offset += 2
	if len(data)-offset < handlers*8 {
		return nil, fmt.Errorf("exception table of %d entries truncated", handlers)
	}
	for i := 0; i < handlers; i++ {
		e := data[offset+8*i:]
		attr.ExceptionHandlers = append(attr.ExceptionHandlers, ExceptionHandler{
			StartPC:   be.Uint16(e[0:]),
			EndPC:     be.Uint16(e[2:]),
			HandlerPC: be.Uint16(e[4:]),
			CatchType: be.Uint16(e[6:]),
		})
	}
	return attr, nil
}

func (cf *ClassFile) parseClassAttributes(r io.Reader) error {
	var count uint16
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return fmt.Errorf("reading class attributes count: %w", err)
	}
	attrs, err := parseAttributeInfos(r, cf.ConstantPool, count)
	if err != nil {
		return err
	}
	for _, attr := range attrs {
		if attr.Name == "InnerClasses" {
			cf.InnerClasses, err = parseInnerClasses(cf.ConstantPool, attr.Data)
			if err != nil {
				return fmt.Errorf("parsing InnerClasses: %w", err)
			}
		}
	}
	return nil
}

func parseInnerClasses(pool []ConstantPoolEntry, data []byte) ([]InnerClassInfo, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("InnerClasses data too short")
	}
	n := int(binary.BigEndian.Uint16(data[0:2]))
	if len(data) != 2+n*8 {
		return nil, fmt.Errorf("InnerClasses length %d does not match %d entries", len(data), n)
	}
	entries := make([]InnerClassInfo, n)
	for i := 0; i < n; i++ {
		off := 2 + i*8
		inner, err := GetClassName(pool, binary.BigEndian.Uint16(data[off:]))
		if err != nil {
			return nil, fmt.Errorf("entry %d inner class: %w", i, err)
		}
		entry := InnerClassInfo{
			InnerClass:  inner,
			AccessFlags: binary.BigEndian.Uint16(data[off+6:]),
		}
		// outer_class_info_index and inner_name_index are optional (0).
		if idx := binary.BigEndian.Uint16(data[off+2:]); idx != 0 {
			if entry.OuterClass, err = GetClassName(pool, idx); err != nil {
				return nil, fmt.Errorf("entry %d outer class: %w", i, err)
			}
		}
		if idx := binary.BigEndian.Uint16(data[off+4:]); idx != 0 {
			if entry.InnerName, err = GetUtf8(pool, idx); err != nil {
				return nil, fmt.Errorf("entry %d inner name: %w", i, err)
			}
		}
		entries[i] = entry
	}
	return entries, nil
}

// ClassName returns the fully qualified name of this class.
func (cf *ClassFile) ClassName() (string, error) {
	return GetClassName(cf.ConstantPool, cf.ThisClass)
}

// FindMethod finds a method by name and descriptor.
func (cf *ClassFile) FindMethod(name, descriptor string) *MethodInfo {
	for i := range cf.Methods {
		if cf.Methods[i].Name == name && cf.Methods[i].Descriptor == descriptor {
			return &cf.Methods[i]
		}
	}
	return nil
}

// FindMethodByName finds a method by name only (first match).
func (cf *ClassFile) FindMethodByName(name string) *MethodInfo {
	for i := range cf.Methods {
		if cf.Methods[i].Name == name {
			return &cf.Methods[i]
		}
	}
	return nil
}
