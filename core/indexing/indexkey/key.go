package indexkey

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Type identifies the kind of value held by a Key. The numeric order of the
// constants is the cross-type sort order, except that Int and Double share one
// rank and are compared by value.
type Type byte

const (
	TypeMinValue Type = iota
	TypeNull
	TypeInt
	TypeDouble
	TypeString
	TypeBinary
	TypeObjectID
	TypeBoolean
	TypeDateTime
	TypeMaxValue
)

var typeNames = map[Type]string{
	TypeMinValue: "MinValue",
	TypeNull:     "Null",
	TypeInt:      "Int",
	TypeDouble:   "Double",
	TypeString:   "String",
	TypeBinary:   "Binary",
	TypeObjectID: "ObjectID",
	TypeBoolean:  "Boolean",
	TypeDateTime: "DateTime",
	TypeMaxValue: "MaxValue",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", byte(t))
}

// rank folds both numeric types into one ordering class.
func (t Type) rank() int {
	if t == TypeDouble {
		return int(TypeInt)
	}
	return int(t)
}

var (
	ErrUnsupportedKeyType = errors.New("value type cannot be used as an index key")
	ErrInvalidKeyEncoding = errors.New("invalid index key encoding")
)

// ObjectIDLength is the size of a BSON ObjectID.
const ObjectIDLength = 12

// Key is an immutable, typed index key value.
type Key struct {
	typ Type
	num int64   // Int, Boolean (0/1), DateTime (unix millis)
	dbl float64 // Double
	str string  // String
	raw []byte  // Binary, ObjectID
}

func MinValue() Key               { return Key{typ: TypeMinValue} }
func MaxValue() Key               { return Key{typ: TypeMaxValue} }
func Null() Key                   { return Key{typ: TypeNull} }
func Int(v int64) Key             { return Key{typ: TypeInt, num: v} }
func Double(v float64) Key        { return Key{typ: TypeDouble, dbl: v} }
func String(v string) Key         { return Key{typ: TypeString, str: v} }
func DateTimeMillis(ms int64) Key { return Key{typ: TypeDateTime, num: ms} }

func DateTime(t time.Time) Key { return DateTimeMillis(t.UnixMilli()) }

func Bool(v bool) Key {
	if v {
		return Key{typ: TypeBoolean, num: 1}
	}
	return Key{typ: TypeBoolean}
}

func Binary(v []byte) Key {
	return Key{typ: TypeBinary, raw: bytes.Clone(v)}
}

func ObjectID(v [ObjectIDLength]byte) Key {
	return Key{typ: TypeObjectID, raw: v[:]}
}

func (k Key) Type() Type   { return k.typ }
func (k Key) IsNull() bool { return k.typ == TypeNull }

// Str returns the string payload; it is empty for non-string keys.
func (k Key) Str() string { return k.str }

func (k Key) Int64() int64 { return k.num }

func (k Key) Float64() float64 {
	if k.typ == TypeInt {
		return float64(k.num)
	}
	return k.dbl
}

func (k Key) Bytes() []byte { return k.raw }

func (k Key) Bool() bool { return k.num != 0 }

func (k Key) Time() time.Time { return time.UnixMilli(k.num).UTC() }

func (k Key) String() string {
	switch k.typ {
	case TypeMinValue, TypeMaxValue, TypeNull:
		return k.typ.String()
	case TypeInt:
		return fmt.Sprintf("%d", k.num)
	case TypeDouble:
		return fmt.Sprintf("%g", k.dbl)
	case TypeString:
		return fmt.Sprintf("%q", k.str)
	case TypeBinary, TypeObjectID:
		return fmt.Sprintf("%s(%x)", k.typ, k.raw)
	case TypeBoolean:
		return fmt.Sprintf("%t", k.Bool())
	case TypeDateTime:
		return k.Time().Format(time.RFC3339Nano)
	}
	return k.typ.String()
}

// Compare orders two keys. Keys of different types are ordered by type rank;
// strings are compared with coll (ordinal when nil).
func Compare(a, b Key, coll Collation) int {
	if ra, rb := a.typ.rank(), b.typ.rank(); ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch a.typ {
	case TypeInt, TypeDouble:
		if a.typ == TypeInt && b.typ == TypeInt {
			return cmp.Compare(a.num, b.num)
		}
		return cmp.Compare(a.Float64(), b.Float64())
	case TypeString:
		if coll == nil {
			return cmp.Compare(a.str, b.str)
		}
		return coll.CompareString(a.str, b.str)
	case TypeBinary, TypeObjectID:
		return bytes.Compare(a.raw, b.raw)
	case TypeBoolean, TypeDateTime:
		return cmp.Compare(a.num, b.num)
	}
	return 0
}

// EncodedLen is the number of bytes AppendBinary produces for k.
func (k Key) EncodedLen() int {
	switch k.typ {
	case TypeInt, TypeDouble, TypeDateTime:
		return 1 + 8
	case TypeString:
		return 1 + 2 + len(k.str)
	case TypeBinary:
		return 1 + 2 + len(k.raw)
	case TypeObjectID:
		return 1 + ObjectIDLength
	case TypeBoolean:
		return 1 + 1
	}
	return 1
}

// AppendBinary appends the persisted form of k: one type byte followed by a
// little-endian payload.
func (k Key) AppendBinary(dst []byte) []byte {
	dst = append(dst, byte(k.typ))
	switch k.typ {
	case TypeInt, TypeDateTime:
		dst = binary.LittleEndian.AppendUint64(dst, uint64(k.num))
	case TypeDouble:
		dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(k.dbl))
	case TypeString:
		dst = binary.LittleEndian.AppendUint16(dst, uint16(len(k.str)))
		dst = append(dst, k.str...)
	case TypeBinary:
		dst = binary.LittleEndian.AppendUint16(dst, uint16(len(k.raw)))
		dst = append(dst, k.raw...)
	case TypeObjectID:
		dst = append(dst, k.raw...)
	case TypeBoolean:
		dst = append(dst, byte(k.num))
	}
	return dst
}

// Decode parses a key written by AppendBinary and reports how many bytes it
// consumed.
func Decode(buf []byte) (Key, int, error) {
	if len(buf) < 1 {
		return Key{}, 0, fmt.Errorf("%w: empty buffer", ErrInvalidKeyEncoding)
	}
	typ := Type(buf[0])
	body := buf[1:]
	need := func(n int) error {
		if len(body) < n {
			return fmt.Errorf("%w: %s needs %d bytes, have %d", ErrInvalidKeyEncoding, typ, n, len(body))
		}
		return nil
	}
	switch typ {
	case TypeMinValue, TypeMaxValue, TypeNull:
		return Key{typ: typ}, 1, nil
	case TypeInt, TypeDateTime:
		if err := need(8); err != nil {
			return Key{}, 0, err
		}
		return Key{typ: typ, num: int64(binary.LittleEndian.Uint64(body))}, 9, nil
	case TypeDouble:
		if err := need(8); err != nil {
			return Key{}, 0, err
		}
		return Double(math.Float64frombits(binary.LittleEndian.Uint64(body))), 9, nil
	case TypeString, TypeBinary:
		if err := need(2); err != nil {
			return Key{}, 0, err
		}
		n := int(binary.LittleEndian.Uint16(body))
		if err := need(2 + n); err != nil {
			return Key{}, 0, err
		}
		payload := body[2 : 2+n]
		if typ == TypeString {
			return String(string(payload)), 3 + n, nil
		}
		return Binary(payload), 3 + n, nil
	case TypeObjectID:
		if err := need(ObjectIDLength); err != nil {
			return Key{}, 0, err
		}
		var oid [ObjectIDLength]byte
		copy(oid[:], body)
		return ObjectID(oid), 1 + ObjectIDLength, nil
	case TypeBoolean:
		if err := need(1); err != nil {
			return Key{}, 0, err
		}
		return Bool(body[0] != 0), 2, nil
	}
	return Key{}, 0, fmt.Errorf("%w: unknown type byte %d", ErrInvalidKeyEncoding, buf[0])
}
