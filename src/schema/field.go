package schema

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

type FieldType string

const (
	TypeString      FieldType = "string"
	TypeNumber      FieldType = "number"
	TypeDate        FieldType = "date"
	TypeBoolean     FieldType = "boolean"
	TypeReference   FieldType = "reference"
	TypeArray       FieldType = "array"
	TypeSubDocument FieldType = "subdocument"
	TypeID          FieldType = "id"
	TypeAny         FieldType = "any"
	TypeVirtual     FieldType = "virtual"
)

// ParseFieldType accepts the canonical names plus a few common aliases used
// in schema files.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string", "text":
		return TypeString, nil
	case "number", "int", "integer", "float", "double":
		return TypeNumber, nil
	case "date", "datetime", "time":
		return TypeDate, nil
	case "boolean", "bool":
		return TypeBoolean, nil
	case "reference", "ref":
		return TypeReference, nil
	case "array", "list":
		return TypeArray, nil
	case "subdocument", "object", "document":
		return TypeSubDocument, nil
	case "id", "objectid":
		return TypeID, nil
	case "any", "mixed", "":
		return TypeAny, nil
	case "virtual":
		return TypeVirtual, nil
	default:
		return "", fmt.Errorf("unknown field type %q", s)
	}
}

// VirtualGetter computes a virtual field from the document data.
type VirtualGetter func(doc bson.M) interface{}

// VirtualSetter writes a virtual field back into the stored fields.
type VirtualSetter func(doc bson.M, value interface{}) error

// Field describes one field of a schema. Items describes the elements of an
// array field; Fields holds the children of a sub-document. Default may be a
// plain value or a func() interface{} evaluated per document.
type Field struct {
	Name     string
	Type     FieldType
	Ref      string
	Items    *Field
	Fields   []*Field
	Default  interface{}
	Enum     []interface{}
	Index    bool
	Required bool

	Getter VirtualGetter
	Setter VirtualSetter
}

func String(name string) *Field  { return &Field{Name: name, Type: TypeString} }
func Number(name string) *Field  { return &Field{Name: name, Type: TypeNumber} }
func Date(name string) *Field    { return &Field{Name: name, Type: TypeDate} }
func Boolean(name string) *Field { return &Field{Name: name, Type: TypeBoolean} }
func Any(name string) *Field     { return &Field{Name: name, Type: TypeAny} }
func ID(name string) *Field      { return &Field{Name: name, Type: TypeID} }

// Ref declares a single reference to a document of the target collection.
func Ref(name, target string) *Field {
	return &Field{Name: name, Type: TypeReference, Ref: target}
}

// RefArray declares an array of references to the target collection.
func RefArray(name, target string) *Field {
	return &Field{Name: name, Type: TypeArray, Items: &Field{Type: TypeReference, Ref: target}}
}

// Array declares an array whose elements are described by items.
func Array(name string, items *Field) *Field {
	return &Field{Name: name, Type: TypeArray, Items: items}
}

// Sub declares a nested sub-document.
func Sub(name string, fields ...*Field) *Field {
	return &Field{Name: name, Type: TypeSubDocument, Fields: fields}
}

// SubArray declares an array of sub-documents. Each entry gets its own _id.
func SubArray(name string, fields ...*Field) *Field {
	return &Field{Name: name, Type: TypeArray, Items: &Field{Type: TypeSubDocument, Fields: fields}}
}

// Virtual declares a computed field backed by a getter/setter pair. Virtual
// fields are never stored.
func Virtual(name string, get VirtualGetter, set VirtualSetter) *Field {
	return &Field{Name: name, Type: TypeVirtual, Getter: get, Setter: set}
}

func (f *Field) WithDefault(v interface{}) *Field {
	f.Default = v
	return f
}

func (f *Field) WithEnum(values ...interface{}) *Field {
	f.Enum = values
	return f
}

func (f *Field) Indexed() *Field {
	f.Index = true
	return f
}

func (f *Field) Require() *Field {
	f.Required = true
	return f
}

func (f *Field) IsVirtual() bool {
	return f.Type == TypeVirtual
}

// defaultValue evaluates the declared default.
func (f *Field) defaultValue() interface{} {
	if fn, ok := f.Default.(func() interface{}); ok {
		return fn()
	}
	return f.Default
}

// check validates the field declaration itself (not a document value).
func (f *Field) check(path string) error {
	switch f.Type {
	case TypeReference:
		if f.Ref == "" {
			return fmt.Errorf("field %s: reference without target collection", path)
		}
	case TypeArray:
		if f.Items == nil {
			return fmt.Errorf("field %s: array without item descriptor", path)
		}
		if f.Items.IsVirtual() {
			return fmt.Errorf("field %s: array of virtual fields", path)
		}
	case TypeSubDocument:
		if len(f.Fields) == 0 {
			return fmt.Errorf("field %s: sub-document without fields", path)
		}
	case TypeVirtual:
		if f.Getter == nil && f.Setter == nil {
			return fmt.Errorf("field %s: virtual field needs a getter or a setter", path)
		}
	case TypeString, TypeNumber, TypeDate, TypeBoolean, TypeID, TypeAny:
	default:
		return fmt.Errorf("field %s: unknown type %q", path, f.Type)
	}
	return nil
}

// clone copies the declaration so callers cannot mutate a declared schema.
func (f *Field) clone() *Field {
	c := *f
	if f.Items != nil {
		c.Items = f.Items.clone()
	}
	if f.Fields != nil {
		c.Fields = make([]*Field, len(f.Fields))
		for i, child := range f.Fields {
			c.Fields[i] = child.clone()
		}
	}
	if f.Enum != nil {
		c.Enum = append([]interface{}(nil), f.Enum...)
	}
	return &c
}
