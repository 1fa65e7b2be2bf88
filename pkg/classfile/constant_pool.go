package classfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf16"
)

// Constant pool tags
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
)

// refPairs maps the tags made of two u2 indexes to their field names.
var refPairs = map[uint8][2]string{
	TagFieldref:           {"class_index", "name_and_type_index"},
	TagMethodref:          {"class_index", "name_and_type_index"},
	TagInterfaceMethodref: {"class_index", "name_and_type_index"},
	TagNameAndType:        {"name_index", "descriptor_index"},
}

// opaqueSizes holds the sizes of entries kept only as placeholders.
var opaqueSizes = map[uint8]int{
	TagMethodHandle:  3, // reference_kind u1, reference_index u2
	TagMethodType:    2, // descriptor_index u2
	TagDynamic:       4, // bootstrap_method_attr_index u2, name_and_type_index u2
	TagInvokeDynamic: 4,
}

// parseConstantPool reads constant_pool_count-1 entries from the reader.
// The returned slice is 1-indexed: index 0 is nil, as is the slot after
// each Long and Double.
func parseConstantPool(r io.Reader, count uint16) ([]ConstantPoolEntry, error) {
	pool := make([]ConstantPoolEntry, count)

	for i := uint16(1); i < count; i++ {
		var tag uint8
		if err := binary.Read(r, binary.BigEndian, &tag); err != nil {
			return nil, fmt.Errorf("reading constant pool tag at index %d: %w", i, err)
		}

		entry, err := parseConstant(r, tag)
		if err != nil {
			return nil, fmt.Errorf("constant pool index %d: %w", i, err)
		}
		pool[i] = entry
		if tag == TagLong || tag == TagDouble {
			if i+1 >= count {
				return nil, fmt.Errorf("constant pool index %d: 8-byte constant in the last slot", i)
			}
			i++
		}
	}

	return pool, nil
}

func parseConstant(r io.Reader, tag uint8) (ConstantPoolEntry, error) {
	if names, ok := refPairs[tag]; ok {
		var a, b uint16
		if err := binary.Read(r, binary.BigEndian, &a); err != nil {
			return nil, fmt.Errorf("reading %s: %w", names[0], err)
		}
		if err := binary.Read(r, binary.BigEndian, &b); err != nil {
			return nil, fmt.Errorf("reading %s: %w", names[1], err)
		}
		switch tag {
		case TagFieldref:
			return &ConstantFieldref{ClassIndex: a, NameAndTypeIndex: b}, nil
		case TagMethodref:
			return &ConstantMethodref{ClassIndex: a, NameAndTypeIndex: b}, nil
		case TagInterfaceMethodref:
			return &ConstantInterfaceMethodref{ClassIndex: a, NameAndTypeIndex: b}, nil
		default:
			return &ConstantNameAndType{NameIndex: a, DescriptorIndex: b}, nil
		}
	}
	if n, ok := opaqueSizes[tag]; ok {
		if _, err := io.ReadFull(r, make([]byte, n)); err != nil {
			return nil, fmt.Errorf("reading tag %d body: %w", tag, err)
		}
		return &constantPlaceholder{tag: tag}, nil
	}

	switch tag {
	case TagUtf8:
		var length uint16
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, fmt.Errorf("reading Utf8 length: %w", err)
		}
		raw := make([]byte, length)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, fmt.Errorf("reading Utf8 bytes: %w", err)
		}
		s, err := decodeModifiedUTF8(raw)
		if err != nil {
			return nil, err
		}
		return &ConstantUtf8{Value: s}, nil

	case TagInteger, TagFloat, TagClass, TagString:
		var v uint32
		size := 4
		if tag == TagClass || tag == TagString {
			size = 2
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("reading tag %d body: %w", tag, err)
		}
		for _, c := range buf {
			v = v<<8 | uint32(c)
		}
		switch tag {
		case TagInteger:
			return &ConstantInteger{Value: int32(v)}, nil
		case TagFloat:
			return &ConstantFloat{Value: math.Float32frombits(v)}, nil
		case TagClass:
			return &ConstantClass{NameIndex: uint16(v)}, nil
		default:
			return &ConstantString{StringIndex: uint16(v)}, nil
		}

	case TagLong, TagDouble:
		var v uint64
		if err := binary.Read(r, binary.BigEndian, &v); err != nil {
			return nil, fmt.Errorf("reading tag %d body: %w", tag, err)
		}
		if tag == TagLong {
			return &ConstantLong{Value: int64(v)}, nil
		}
		return &ConstantDouble{Value: math.Float64frombits(v)}, nil

	default:
		return nil, fmt.Errorf("unknown constant pool tag %d", tag)
	}
}

// decodeModifiedUTF8 decodes the string encoding of class files: NUL is
// two bytes and supplementary characters are surrogate pairs.
func decodeModifiedUTF8(b []byte) (string, error) {
	var units []uint16
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80 && c != 0:
			units = append(units, uint16(c))
			i++
		case c&0xE0 == 0xC0 && i+1 < len(b) && b[i+1]&0xC0 == 0x80:
			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0 && i+2 < len(b) && b[i+1]&0xC0 == 0x80 && b[i+2]&0xC0 == 0x80:
			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3
		default:
			return "", fmt.Errorf("malformed modified UTF-8 at byte %d", i)
		}
	}
	return string(utf16.Decode(units)), nil
}

// constantPlaceholder is used for constant pool entries we don't fully parse.
type constantPlaceholder struct {
	tag uint8
}

func (c *constantPlaceholder) Tag() uint8 { return c.tag }

// GetUtf8 returns the Utf8 string at the given constant pool index.
func GetUtf8(pool []ConstantPoolEntry, index uint16) (string, error) {
	if int(index) >= len(pool) || pool[index] == nil {
		return "", fmt.Errorf("invalid constant pool index %d", index)
	}
	utf8, ok := pool[index].(*ConstantUtf8)
	if !ok {
		return "", fmt.Errorf("constant pool index %d is not Utf8 (tag=%d)", index, pool[index].Tag())
	}
	return utf8.Value, nil
}

// GetClassName returns the class name referenced by a CONSTANT_Class entry.
func GetClassName(pool []ConstantPoolEntry, classIndex uint16) (string, error) {
	if int(classIndex) >= len(pool) || pool[classIndex] == nil {
		return "", fmt.Errorf("invalid constant pool index %d", classIndex)
	}
	class, ok := pool[classIndex].(*ConstantClass)
	if !ok {
		return "", fmt.Errorf("constant pool index %d is not Class", classIndex)
	}
	return GetUtf8(pool, class.NameIndex)
}

// MethodRefInfo holds resolved method reference info.
type MethodRefInfo struct {
	ClassName  string
	MethodName string
	Descriptor string
}

// ResolveMethodref resolves a CONSTANT_Methodref entry.
func ResolveMethodref(pool []ConstantPoolEntry, index uint16) (*MethodRefInfo, error) {
	if int(index) >= len(pool) || pool[index] == nil {
		return nil, fmt.Errorf("invalid constant pool index %d", index)
	}
	mref, ok := pool[index].(*ConstantMethodref)
	if !ok {
		return nil, fmt.Errorf("constant pool index %d is not Methodref", index)
	}

	className, err := GetClassName(pool, mref.ClassIndex)
	if err != nil {
		return nil, fmt.Errorf("resolving Methodref class: %w", err)
	}

	if int(mref.NameAndTypeIndex) >= len(pool) || pool[mref.NameAndTypeIndex] == nil {
		return nil, fmt.Errorf("invalid NameAndType index %d", mref.NameAndTypeIndex)
	}
	nat, ok := pool[mref.NameAndTypeIndex].(*ConstantNameAndType)
	if !ok {
		return nil, fmt.Errorf("constant pool index %d is not NameAndType", mref.NameAndTypeIndex)
	}

	methodName, err := GetUtf8(pool, nat.NameIndex)
	if err != nil {
		return nil, fmt.Errorf("resolving method name: %w", err)
	}

	descriptor, err := GetUtf8(pool, nat.DescriptorIndex)
	if err != nil {
		return nil, fmt.Errorf("resolving method descriptor: %w", err)
	}

	return &MethodRefInfo{
		ClassName:  className,
		MethodName: methodName,
		Descriptor: descriptor,
	}, nil
}
