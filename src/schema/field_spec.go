package schema

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// FieldSpec is the file representation of a field declaration:
//
//	favourite: {type: reference, ref: widgets}
//	tags:      {type: array, items: {type: string}}
//	color:     string
//
// A scalar value is shorthand for {type: <value>}.
type FieldSpec struct {
	Type     string        `yaml:"type"`
	Ref      string        `yaml:"ref,omitempty"`
	Items    *FieldSpec    `yaml:"items,omitempty"`
	Fields   FieldSpecs    `yaml:"fields,omitempty"`
	Default  interface{}   `yaml:"default,omitempty"`
	Enum     []interface{} `yaml:"enum,omitempty"`
	Index    bool          `yaml:"index,omitempty"`
	Required bool          `yaml:"required,omitempty"`
}

type fieldSpecAlias FieldSpec

func (fs *FieldSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		fs.Type = node.Value
		return nil
	}
	var alias fieldSpecAlias
	if err := node.Decode(&alias); err != nil {
		return err
	}
	*fs = FieldSpec(alias)
	return nil
}

// NamedFieldSpec pairs a field name with its declaration.
type NamedFieldSpec struct {
	Name string
	Spec FieldSpec
}

// FieldSpecs keeps declarations in file order.
type FieldSpecs []NamedFieldSpec

func (s *FieldSpecs) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: fields must be a mapping", node.Line)
	}
	out := make(FieldSpecs, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var spec FieldSpec
		if err := node.Content[i+1].Decode(&spec); err != nil {
			return fmt.Errorf("field %s: %w", node.Content[i].Value, err)
		}
		out = append(out, NamedFieldSpec{Name: node.Content[i].Value, Spec: spec})
	}
	*s = out
	return nil
}

func (s FieldSpecs) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, nf := range s {
		val := &yaml.Node{}
		if err := val.Encode(nf.Spec); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: nf.Name}, val)
	}
	return node, nil
}

// Fields converts the specs into field descriptors.
func (s FieldSpecs) Fields() ([]*Field, error) {
	out := make([]*Field, 0, len(s))
	for _, nf := range s {
		f, err := nf.Spec.field(nf.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (fs FieldSpec) field(name string) (*Field, error) {
	t, err := ParseFieldType(fs.Type)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", name, err)
	}
	if t == TypeVirtual {
		return nil, fmt.Errorf("field %s: virtual fields cannot be declared in a file", name)
	}

	f := &Field{
		Name:     name,
		Type:     t,
		Ref:      fs.Ref,
		Default:  fs.Default,
		Enum:     fs.Enum,
		Index:    fs.Index,
		Required: fs.Required,
	}
	if fs.Items != nil {
		items, err := fs.Items.field("")
		if err != nil {
			return nil, fmt.Errorf("field %s items: %w", name, err)
		}
		f.Items = items
	}
	if len(fs.Fields) > 0 {
		children, err := fs.Fields.Fields()
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		f.Fields = children
	}
	return f, nil
}
