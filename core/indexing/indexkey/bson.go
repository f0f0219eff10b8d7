package indexkey

import (
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FromRawValue converts a BSON element value into an index key. Embedded
// documents, arrays and the remaining exotic BSON types cannot be indexed.
func FromRawValue(v bson.RawValue) (Key, error) {
	switch v.Type {
	case bsontype.Null, bsontype.Undefined:
		return Null(), nil
	case bsontype.MinKey:
		return MinValue(), nil
	case bsontype.MaxKey:
		return MaxValue(), nil
	case bsontype.Int32:
		return Int(int64(v.Int32())), nil
	case bsontype.Int64:
		return Int(v.Int64()), nil
	case bsontype.Double:
		return Double(v.Double()), nil
	case bsontype.Decimal128:
		f, err := strconv.ParseFloat(v.Decimal128().String(), 64)
		if err != nil {
			return Key{}, fmt.Errorf("%w: decimal128 %s: %v", ErrUnsupportedKeyType, v.Decimal128(), err)
		}
		return Double(f), nil
	case bsontype.String:
		return String(v.StringValue()), nil
	case bsontype.Binary:
		_, data := v.Binary()
		return Binary(data), nil
	case bsontype.ObjectID:
		return ObjectID(v.ObjectID()), nil
	case bsontype.Boolean:
		return Bool(v.Boolean()), nil
	case bsontype.DateTime:
		return DateTimeMillis(v.DateTime()), nil
	}
	return Key{}, fmt.Errorf("%w: %s", ErrUnsupportedKeyType, v.Type)
}

// FromValue converts a Go value (as used by callers of the engine API) into a
// key.
func FromValue(v any) (Key, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Key:
		return x, nil
	case int:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint32:
		return Int(int64(x)), nil
	case float32:
		return Double(float64(x)), nil
	case float64:
		return Double(x), nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case []byte:
		return Binary(x), nil
	case primitive.ObjectID:
		return ObjectID(x), nil
	case primitive.DateTime:
		return DateTimeMillis(int64(x)), nil
	case time.Time:
		return DateTime(x), nil
	case primitive.MinKey:
		return MinValue(), nil
	case primitive.MaxKey:
		return MaxValue(), nil
	case bson.RawValue:
		return FromRawValue(x)
	}
	return Key{}, fmt.Errorf("%w: %T", ErrUnsupportedKeyType, v)
}

// Value converts k back into the Go value the BSON encoder expects.
func (k Key) Value() any {
	switch k.typ {
	case TypeMinValue:
		return primitive.MinKey{}
	case TypeMaxValue:
		return primitive.MaxKey{}
	case TypeInt:
		return k.num
	case TypeDouble:
		return k.dbl
	case TypeString:
		return k.str
	case TypeBinary:
		return primitive.Binary{Data: k.raw}
	case TypeObjectID:
		var oid primitive.ObjectID
		copy(oid[:], k.raw)
		return oid
	case TypeBoolean:
		return k.Bool()
	case TypeDateTime:
		return primitive.DateTime(k.num)
	}
	return nil
}
