package classfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// ConstantPoolBuilder accumulates constant pool entries, deduplicating
// identical ones. Index 0 is reserved, like in parsed pools.
type ConstantPoolBuilder struct {
	entries []ConstantPoolEntry
	index   map[string]uint16
}

// NewConstantPoolBuilder returns an empty pool.
func NewConstantPoolBuilder() *ConstantPoolBuilder {
	return &ConstantPoolBuilder{
		entries: []ConstantPoolEntry{nil},
		index:   make(map[string]uint16),
	}
}

func (b *ConstantPoolBuilder) add(key string, e ConstantPoolEntry) uint16 {
	if idx, ok := b.index[key]; ok {
		return idx
	}
	idx := uint16(len(b.entries))
	b.entries = append(b.entries, e)
	if e.Tag() == TagLong || e.Tag() == TagDouble {
		b.entries = append(b.entries, nil) // second slot
	}
	b.index[key] = idx
	return idx
}

// Utf8 returns the index of a CONSTANT_Utf8 entry.
func (b *ConstantPoolBuilder) Utf8(s string) uint16 {
	return b.add("utf8:"+s, &ConstantUtf8{Value: s})
}

// Class returns the index of a CONSTANT_Class entry for an internal name.
func (b *ConstantPoolBuilder) Class(name string) uint16 {
	nameIdx := b.Utf8(name)
	return b.add("class:"+name, &ConstantClass{NameIndex: nameIdx})
}

// String returns the index of a CONSTANT_String entry.
func (b *ConstantPoolBuilder) String(s string) uint16 {
	idx := b.Utf8(s)
	return b.add("string:"+s, &ConstantString{StringIndex: idx})
}

// Integer returns the index of a CONSTANT_Integer entry.
func (b *ConstantPoolBuilder) Integer(v int32) uint16 {
	return b.add(fmt.Sprintf("int:%d", v), &ConstantInteger{Value: v})
}

// Float returns the index of a CONSTANT_Float entry.
func (b *ConstantPoolBuilder) Float(v float32) uint16 {
	return b.add(fmt.Sprintf("float:%08x", math.Float32bits(v)), &ConstantFloat{Value: v})
}

// Long returns the index of a CONSTANT_Long entry.
func (b *ConstantPoolBuilder) Long(v int64) uint16 {
	return b.add(fmt.Sprintf("long:%d", v), &ConstantLong{Value: v})
}

// Double returns the index of a CONSTANT_Double entry.
func (b *ConstantPoolBuilder) Double(v float64) uint16 {
	return b.add(fmt.Sprintf("double:%016x", math.Float64bits(v)), &ConstantDouble{Value: v})
}

// NameAndType returns the index of a CONSTANT_NameAndType entry.
func (b *ConstantPoolBuilder) NameAndType(name, descriptor string) uint16 {
	n := b.Utf8(name)
	d := b.Utf8(descriptor)
	return b.add("nat:"+name+":"+descriptor, &ConstantNameAndType{NameIndex: n, DescriptorIndex: d})
}

// Methodref returns the index of a CONSTANT_Methodref entry.
func (b *ConstantPoolBuilder) Methodref(owner, name, descriptor string) uint16 {
	c := b.Class(owner)
	nat := b.NameAndType(name, descriptor)
	return b.add("mref:"+owner+"."+name+":"+descriptor, &ConstantMethodref{ClassIndex: c, NameAndTypeIndex: nat})
}

// Entries returns the pool in parsed form (1-indexed).
func (b *ConstantPoolBuilder) Entries() []ConstantPoolEntry {
	return b.entries
}

func (b *ConstantPoolBuilder) write(w *bytes.Buffer) error {
	if len(b.entries) > math.MaxUint16 {
		return fmt.Errorf("constant pool too large: %d entries", len(b.entries))
	}
	putU16(w, uint16(len(b.entries)))
	for i, e := range b.entries {
		if e == nil {
			continue
		}
		w.WriteByte(e.Tag())
		switch c := e.(type) {
		case *ConstantUtf8:
			data := encodeModifiedUTF8(c.Value)
			if len(data) > MaxUTF8Len {
				return fmt.Errorf("constant pool index %d: Utf8 too long", i)
			}
			putU16(w, uint16(len(data)))
			w.Write(data)
		case *ConstantInteger:
			putU32(w, uint32(c.Value))
		case *ConstantFloat:
			putU32(w, math.Float32bits(c.Value))
		case *ConstantLong:
			putU32(w, uint32(uint64(c.Value)>>32))
			putU32(w, uint32(c.Value))
		case *ConstantDouble:
			bits := math.Float64bits(c.Value)
			putU32(w, uint32(bits>>32))
			putU32(w, uint32(bits))
		case *ConstantClass:
			putU16(w, c.NameIndex)
		case *ConstantString:
			putU16(w, c.StringIndex)
		case *ConstantMethodref:
			putU16(w, c.ClassIndex)
			putU16(w, c.NameAndTypeIndex)
		case *ConstantNameAndType:
			putU16(w, c.NameIndex)
			putU16(w, c.DescriptorIndex)
		default:
			return fmt.Errorf("constant pool index %d: cannot write tag %d", i, e.Tag())
		}
	}
	return nil
}

// encodeModifiedUTF8 encodes s the way class files store strings: NUL and
// supplementary characters use the multi-byte forms.
func encodeModifiedUTF8(s string) []byte {
	var out []byte
	for _, r := range s {
		switch {
		case r != 0 && r < 0x80:
			out = append(out, byte(r))
		case r < 0x800:
			out = append(out, 0xC0|byte(r>>6), 0x80|byte(r&0x3F))
		case r < 0x10000:
			out = append(out, 0xE0|byte(r>>12), 0x80|byte((r>>6)&0x3F), 0x80|byte(r&0x3F))
		default:
			r -= 0x10000
			hi := 0xD800 + (r >> 10)
			lo := 0xDC00 + (r & 0x3FF)
			for _, c := range []rune{hi, lo} {
				out = append(out, 0xE0|byte(c>>12), 0x80|byte((c>>6)&0x3F), 0x80|byte(c&0x3F))
			}
		}
	}
	return out
}

// ModifiedUTF8Len returns the number of bytes s takes in a class file.
func ModifiedUTF8Len(s string) int {
	n := 0
	for _, r := range s {
		switch {
		case r != 0 && r < 0x80:
			n++
		case r < 0x800:
			n += 2
		case r < 0x10000:
			n += 3
		default:
			n += 6
		}
	}
	return n
}

type methodEntry struct {
	access     uint16
	name       string
	descriptor string
	code       *CodeAttribute
}

// ClassBuilder assembles a class file.
type ClassBuilder struct {
	pool       *ConstantPoolBuilder
	access     uint16
	thisClass  uint16
	superClass uint16
	methods    []methodEntry
	inner      []InnerClassInfo
}

// NewClassBuilder starts a class named name extending super. An empty super
// is only valid for java/lang/Object.
func NewClassBuilder(access uint16, name, super string) *ClassBuilder {
	cb := &ClassBuilder{
		pool:   NewConstantPoolBuilder(),
		access: access,
	}
	cb.thisClass = cb.pool.Class(name)
	if super != "" {
		cb.superClass = cb.pool.Class(super)
	}
	return cb
}

// Pool returns the builder's constant pool.
func (cb *ClassBuilder) Pool() *ConstantPoolBuilder { return cb.pool }

// AddInnerClass records an InnerClasses entry.
func (cb *ClassBuilder) AddInnerClass(inner, outer, simpleName string, access uint16) {
	cb.pool.Class(inner)
	if outer != "" {
		cb.pool.Class(outer)
	}
	if simpleName != "" {
		cb.pool.Utf8(simpleName)
	}
	cb.inner = append(cb.inner, InnerClassInfo{
		InnerClass:  inner,
		OuterClass:  outer,
		InnerName:   simpleName,
		AccessFlags: access,
	})
}

// AddMethod adds a method. code must be nil for native and abstract methods
// and non-nil otherwise; its max_stack and max_locals are taken from the
// assembler.
func (cb *ClassBuilder) AddMethod(access uint16, name, descriptor string, code *Code) error {
	md, err := ParseMethodDescriptor(descriptor)
	if err != nil {
		return err
	}
	bodyless := access&(AccNative|AccAbstract) != 0
	switch {
	case bodyless && code != nil:
		return fmt.Errorf("method %s%s: native or abstract method cannot have code", name, descriptor)
	case !bodyless && code == nil:
		return fmt.Errorf("method %s%s: missing code", name, descriptor)
	}
	for _, m := range cb.methods {
		if m.name == name && m.descriptor == descriptor {
			return fmt.Errorf("duplicate method %s%s", name, descriptor)
		}
	}
	entry := methodEntry{access: access, name: name, descriptor: descriptor}
	if code != nil {
		params := md.ArgSlots()
		if access&AccStatic == 0 {
			params++
		}
		attr, err := code.finish(params)
		if err != nil {
			return fmt.Errorf("method %s%s: %w", name, descriptor, err)
		}
		entry.code = attr
	}
	cb.pool.Utf8(name)
	cb.pool.Utf8(descriptor)
	cb.methods = append(cb.methods, entry)
	return nil
}

// Bytes serializes the class file.
func (cb *ClassBuilder) Bytes() ([]byte, error) {
	// Attribute names must be in the pool before it is written.
	codeName := uint16(0)
	for _, m := range cb.methods {
		if m.code != nil {
			codeName = cb.pool.Utf8("Code")
			break
		}
	}
	innerName := uint16(0)
	if len(cb.inner) > 0 {
		innerName = cb.pool.Utf8("InnerClasses")
	}

	var w bytes.Buffer
	putU32(&w, classMagic)
	putU16(&w, 0)
	putU16(&w, MajorVersionJava8)
	if err := cb.pool.write(&w); err != nil {
		return nil, fmt.Errorf("writing constant pool: %w", err)
	}
	putU16(&w, cb.access)
	putU16(&w, cb.thisClass)
	putU16(&w, cb.superClass)
	putU16(&w, 0) // interfaces
	putU16(&w, 0) // fields

	putU16(&w, uint16(len(cb.methods)))
	for _, m := range cb.methods {
		putU16(&w, m.access)
		putU16(&w, cb.pool.Utf8(m.name))
		putU16(&w, cb.pool.Utf8(m.descriptor))
		if m.code == nil {
			putU16(&w, 0)
			continue
		}
		putU16(&w, 1)
		putU16(&w, codeName)
		body := encodeCodeAttribute(m.code)
		putU32(&w, uint32(len(body)))
		w.Write(body)
	}

	if len(cb.inner) == 0 {
		putU16(&w, 0)
		return w.Bytes(), nil
	}
	putU16(&w, 1)
	putU16(&w, innerName)
	putU32(&w, uint32(2+8*len(cb.inner)))
	putU16(&w, uint16(len(cb.inner)))
	for _, ic := range cb.inner {
		putU16(&w, cb.pool.Class(ic.InnerClass))
		if ic.OuterClass != "" {
			putU16(&w, cb.pool.Class(ic.OuterClass))
		} else {
			putU16(&w, 0)
		}
		if ic.InnerName != "" {
			putU16(&w, cb.pool.Utf8(ic.InnerName))
		} else {
			putU16(&w, 0)
		}
		putU16(&w, ic.AccessFlags)
	}
	return w.Bytes(), nil
}

func encodeCodeAttribute(c *CodeAttribute) []byte {
	var w bytes.Buffer
	putU16(&w, c.MaxStack)
	putU16(&w, c.MaxLocals)
	putU32(&w, uint32(len(c.Code)))
	w.Write(c.Code)
	putU16(&w, 0) // exception table
	putU16(&w, 0) // attributes
	return w.Bytes()
}

func putU16(w *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.Write(b[:])
}

func putU32(w *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.Write(b[:])
}
