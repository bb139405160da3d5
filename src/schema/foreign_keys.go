package schema

import (
	"fmt"
	"sort"
	"strings"
)

type ForeignKeyKind int

const (
	KindReference ForeignKeyKind = iota + 1
	KindReferenceArray
	KindSubDocument
)

func (k ForeignKeyKind) String() string {
	switch k {
	case KindReference:
		return "reference"
	case KindReferenceArray:
		return "reference-array"
	case KindSubDocument:
		return "subdocument"
	default:
		return "unknown"
	}
}

// ForeignKey describes one entry of a schema's foreign-key map. InArray is
// set for sub-document nodes whose entries live inside an array.
type ForeignKey struct {
	Path    string
	Kind    ForeignKeyKind
	Target  string
	InArray bool
}

// IsReference reports whether the key stores identities of another document.
func (fk ForeignKey) IsReference() bool {
	return fk.Kind == KindReference || fk.Kind == KindReferenceArray
}

// ForeignKeyMap is the flat map from dotted path to foreign-key metadata.
type ForeignKeyMap map[string]ForeignKey

// Paths returns the map keys in sorted order.
func (m ForeignKeyMap) Paths() []string {
	out := make([]string, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (m ForeignKeyMap) Lookup(path string) (ForeignKey, bool) {
	fk, ok := m[path]
	return fk, ok
}

// ReferencePrefix returns the shortest reference path that is a proper
// prefix of path, i.e. the reference the path descends through.
func (m ForeignKeyMap) ReferencePrefix(path string) (ForeignKey, bool) {
	segs := strings.Split(path, ".")
	for i := 1; i < len(segs); i++ {
		fk, ok := m[strings.Join(segs[:i], ".")]
		if ok && fk.IsReference() {
			return fk, true
		}
	}
	return ForeignKey{}, false
}

func (m ForeignKeyMap) clone() ForeignKeyMap {
	out := make(ForeignKeyMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type fkItem struct {
	prefix string
	fields []*Field
	depth  int
}

// ExtractForeignKeys flattens the reference structure of fields into a
// ForeignKeyMap. Top-level id/_id fields are the document identity and are
// left out; nested _id fields, including the implicit one on array
// sub-document entries, are kept as target-less references.
func ExtractForeignKeys(fields []*Field, maxDepth int) (ForeignKeyMap, error) {
	out := ForeignKeyMap{}
	stack := []fkItem{{fields: fields}}
	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if item.depth > maxDepth {
			return nil, fmt.Errorf("foreign keys: nesting under %q exceeds max depth %d", item.prefix, maxDepth)
		}

		for _, f := range item.fields {
			path := f.Name
			if item.prefix != "" {
				path = item.prefix + "." + f.Name
			}

			switch f.Type {
			case TypeID:
				if item.prefix == "" && (f.Name == "_id" || f.Name == "id") {
					continue
				}
				out[path] = ForeignKey{Path: path, Kind: KindReference}
			case TypeReference:
				if item.prefix == "" && (f.Name == "_id" || f.Name == "id") {
					continue
				}
				out[path] = ForeignKey{Path: path, Kind: KindReference, Target: f.Ref}
			case TypeSubDocument:
				out[path] = ForeignKey{Path: path, Kind: KindSubDocument}
				stack = append(stack, fkItem{prefix: path, fields: f.Fields, depth: item.depth + 1})
			case TypeArray:
				if f.Items == nil {
					continue
				}
				switch f.Items.Type {
				case TypeReference:
					out[path] = ForeignKey{Path: path, Kind: KindReferenceArray, Target: f.Items.Ref}
				case TypeSubDocument:
					out[path] = ForeignKey{Path: path, Kind: KindSubDocument, InArray: true}
					stack = append(stack, fkItem{prefix: path, fields: f.Items.Fields, depth: item.depth + 1})
				}
			}
		}
	}
	return out, nil
}

type extractConfig struct {
	noCache bool
}

type ExtractOption func(*extractConfig)

// NoCache recomputes the map and replaces the cached copy.
func NoCache() ExtractOption {
	return func(c *extractConfig) { c.noCache = true }
}

// ForeignKeys returns the schema's foreign-key map, computing it on first
// use. The returned map is a copy.
func (s *Schema) ForeignKeys(opts ...ExtractOption) (ForeignKeyMap, error) {
	var cfg extractConfig
	for _, o := range opts {
		o(&cfg)
	}

	s.fkMu.Lock()
	defer s.fkMu.Unlock()
	if s.fkCache != nil && !cfg.noCache {
		return s.fkCache.clone(), nil
	}
	fks, err := ExtractForeignKeys(s.fields, s.maxDepth)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", s.name, err)
	}
	s.fkCache = fks
	return fks.clone(), nil
}
