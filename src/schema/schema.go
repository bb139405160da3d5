package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"syndrodm/src/helpers"
	"syndrodm/src/odmerr"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Schema is the declared shape of one collection. The field table is fixed
// once the schema is declared.
type Schema struct {
	name     string
	fields   []*Field
	byPath   map[string]*Field
	maxDepth int

	fkMu    sync.Mutex
	fkCache ForeignKeyMap
}

func newSchema(name string, fields []*Field, maxDepth int) (*Schema, error) {
	s := &Schema{
		name:     name,
		byPath:   make(map[string]*Field),
		maxDepth: maxDepth,
	}
	for _, f := range fields {
		if f == nil {
			return nil, fmt.Errorf("schema %s: nil field", name)
		}
		s.fields = append(s.fields, f.clone())
	}
	if err := s.index(); err != nil {
		return nil, err
	}
	return s, nil
}

type indexItem struct {
	prefix string
	fields []*Field
	depth  int
}

// index checks the declarations, adds the implicit _id of array sub-document
// entries and builds the path lookup table.
func (s *Schema) index() error {
	stack := []indexItem{{fields: s.fields}}
	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if item.depth > s.maxDepth {
			return fmt.Errorf("schema %s: nesting under %q exceeds max depth %d", s.name, item.prefix, s.maxDepth)
		}

		seen := make(map[string]bool, len(item.fields))
		for _, f := range item.fields {
			if f.Name == "" || strings.Contains(f.Name, ".") || strings.HasPrefix(f.Name, "$") {
				return fmt.Errorf("schema %s: invalid field name %q under %q", s.name, f.Name, item.prefix)
			}
			if seen[f.Name] {
				return fmt.Errorf("schema %s: duplicate field %q", s.name, helpers.JoinPath(item.prefix, f.Name))
			}
			seen[f.Name] = true

			path := helpers.JoinPath(item.prefix, f.Name)
			if err := f.check(path); err != nil {
				return fmt.Errorf("schema %s: %w", s.name, err)
			}
			s.byPath[path] = f

			switch f.Type {
			case TypeSubDocument:
				stack = append(stack, indexItem{prefix: path, fields: f.Fields, depth: item.depth + 1})
			case TypeArray:
				items := f.Items
				if err := items.check(path + ".$"); err != nil {
					return fmt.Errorf("schema %s: %w", s.name, err)
				}
				if items.Type == TypeSubDocument {
					if !hasField(items.Fields, "_id") {
						items.Fields = append([]*Field{ID("_id")}, items.Fields...)
					}
					stack = append(stack, indexItem{prefix: path, fields: items.Fields, depth: item.depth + 1})
				}
			}
		}
	}
	return nil
}

func hasField(fields []*Field, name string) bool {
	for _, f := range fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func (s *Schema) Name() string {
	return s.name
}

// Fields returns the top-level field declarations.
func (s *Schema) Fields() []*Field {
	return s.fields
}

// Field returns the declaration at a dotted path. Array hops use the element
// declaration, so "items.price" resolves inside an array of sub-documents.
// Numeric segments (array indexes) are skipped.
func (s *Schema) Field(path string) (*Field, bool) {
	var clean []string
	for _, seg := range helpers.SplitPath(path) {
		if _, err := strconv.Atoi(seg); err == nil {
			continue
		}
		clean = append(clean, seg)
	}
	f, ok := s.byPath[strings.Join(clean, ".")]
	return f, ok
}

// AddField is rejected: schemas are fixed once declared.
func (s *Schema) AddField(f *Field) error {
	name := ""
	if f != nil {
		name = f.Name
	}
	return odmerr.New(odmerr.KindSchemaFrozen, "add field", s.name, name, "fields cannot be added after declaration")
}

// Virtual returns the virtual field declared under name.
func (s *Schema) Virtual(name string) (*Field, bool) {
	for _, f := range s.fields {
		if f.Name == name && f.IsVirtual() {
			return f, true
		}
	}
	return nil, false
}

// Indexes lists the paths of fields declared with the index flag.
func (s *Schema) Indexes() []string {
	var out []string
	for path, f := range s.byPath {
		if f.Index {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

// ApplyDefaults fills missing fields that declare a default, recursing into
// sub-documents, and gives array sub-document entries an _id.
func (s *Schema) ApplyDefaults(doc bson.M) {
	applyDefaults(doc, s.fields)
}

func applyDefaults(doc map[string]interface{}, fields []*Field) {
	for _, f := range fields {
		if f.IsVirtual() {
			continue
		}
		val, exists := doc[f.Name]
		if (!exists || val == nil) && f.Default != nil {
			doc[f.Name] = helpers.Clone(f.defaultValue())
			val, exists = doc[f.Name], true
		}
		if !exists || val == nil {
			continue
		}
		switch f.Type {
		case TypeSubDocument:
			if m, ok := helpers.AsMap(val); ok {
				applyDefaults(m, f.Fields)
			}
		case TypeArray:
			if f.Items.Type != TypeSubDocument {
				continue
			}
			arr, ok := helpers.AsSlice(val)
			if !ok {
				continue
			}
			for _, entry := range arr {
				m, ok := helpers.AsMap(entry)
				if !ok {
					continue
				}
				if _, has := m["_id"]; !has {
					m["_id"] = primitive.NewObjectID()
				}
				applyDefaults(m, f.Items.Fields)
			}
		}
	}
}

// Validate checks doc against the declared types, enums and required flags.
// With partial set, missing required fields are accepted (documents loaded
// through a field selection). Undeclared fields are accepted.
func (s *Schema) Validate(doc bson.M, partial bool) error {
	return validateFields(s.name, "", doc, s.fields, partial)
}

func validateFields(collection, prefix string, doc map[string]interface{}, fields []*Field, partial bool) error {
	for _, f := range fields {
		if f.IsVirtual() {
			continue
		}
		path := helpers.JoinPath(prefix, f.Name)
		val, exists := doc[f.Name]
		if !exists || val == nil {
			if f.Required && !partial {
				return odmerr.New(odmerr.KindValidation, "validate", collection, path, "field is required")
			}
			continue
		}
		if err := validateValue(collection, path, val, f, partial); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(collection, path string, val interface{}, f *Field, partial bool) error {
	if val == nil {
		return nil
	}
	typeErr := func() error {
		return odmerr.New(odmerr.KindValidation, "validate", collection, path, "expected %s, got %T", f.Type, val)
	}

	switch f.Type {
	case TypeAny:
	case TypeString:
		if _, ok := val.(string); !ok {
			return typeErr()
		}
	case TypeNumber:
		if _, ok := helpers.ToFloat(val); !ok {
			return typeErr()
		}
	case TypeBoolean:
		if _, ok := val.(bool); !ok {
			return typeErr()
		}
	case TypeDate:
		if !isDate(val) {
			return typeErr()
		}
	case TypeID:
		if !isIdentity(val) {
			return typeErr()
		}
	case TypeReference:
		if !isIdentity(val) {
			m, ok := helpers.AsMap(val)
			if !ok || !isIdentity(m["_id"]) {
				return typeErr()
			}
		}
	case TypeSubDocument:
		m, ok := helpers.AsMap(val)
		if !ok {
			return typeErr()
		}
		if err := validateFields(collection, path, m, f.Fields, partial); err != nil {
			return err
		}
	case TypeArray:
		arr, ok := helpers.AsSlice(val)
		if !ok {
			return typeErr()
		}
		for i, item := range arr {
			if err := validateValue(collection, fmt.Sprintf("%s.%d", path, i), item, f.Items, partial); err != nil {
				return err
			}
		}
	}

	if len(f.Enum) > 0 {
		for _, allowed := range f.Enum {
			if helpers.Equal(val, allowed) {
				return nil
			}
		}
		return odmerr.New(odmerr.KindValidation, "validate", collection, path, "value %v is not one of %v", val, f.Enum)
	}
	return nil
}

func isIdentity(v interface{}) bool {
	switch t := v.(type) {
	case string:
		return t != ""
	case primitive.ObjectID:
		return !t.IsZero()
	default:
		_, ok := helpers.ToFloat(v)
		return ok
	}
}

func isDate(v interface{}) bool {
	if _, ok := helpers.ToTime(v); ok {
		return true
	}
	if s, ok := v.(string); ok {
		if _, err := time.Parse(time.RFC3339, s); err == nil {
			return true
		}
	}
	return false
}
