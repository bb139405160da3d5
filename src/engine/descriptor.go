package engine

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"syndrodm/src/helpers"
	"syndrodm/src/odmerr"

	"go.mongodb.org/mongo-driver/bson"
)

// Descriptor keys. Every other key of a descriptor mapping is a filter.
const (
	KeyCollection     = "$collection"
	KeyID             = "$id"
	KeySingle         = "$single"
	KeyCount          = "$count"
	KeySort           = "$sort"
	KeyLimit          = "$limit"
	KeySkip           = "$skip"
	KeyPopulate       = "$populate"
	KeySelect         = "$select"
	KeyContext        = "$ctx"
	KeyIgnoreNotFound = "$ignoreNotFound"
	KeyNoCache        = "$noCache"
)

// Descriptor is the transport independent description of one query. When ID
// is set the filter is ignored and the result is a single document.
type Descriptor struct {
	Collection     string
	ID             interface{}
	Filter         bson.M
	Single         bool
	CountOnly      bool
	Sort           bson.D
	Limit          int64
	Skip           int64
	Populate       []string
	Select         []string
	Context        map[string]interface{}
	IgnoreNotFound bool
	NoCache        bool
}

func malformed(collection, format string, args ...interface{}) error {
	return odmerr.New(odmerr.KindMalformedDescriptor, "query", collection, "", format, args...)
}

// ParseDescriptor builds a Descriptor from its mapping form, e.g.
//
//	{"$collection": "users", "$populate": "favourite", "color": "blue"}
//
// Values may come from JSON, YAML or query strings, so numbers and flags are
// also accepted as strings.
func ParseDescriptor(m map[string]interface{}) (*Descriptor, error) {
	d := &Descriptor{Filter: bson.M{}}

	coll, ok := m[KeyCollection].(string)
	if !ok || coll == "" {
		return nil, malformed("", "%s is required", KeyCollection)
	}
	d.Collection = coll

	var err error
	for key, val := range m {
		switch key {
		case KeyCollection:
		case KeyID:
			d.ID = val
		case KeySingle:
			d.Single, err = parseFlag(val)
		case KeyCount:
			d.CountOnly, err = parseFlag(val)
		case KeyIgnoreNotFound:
			d.IgnoreNotFound, err = parseFlag(val)
		case KeyNoCache:
			d.NoCache, err = parseFlag(val)
		case KeyLimit:
			d.Limit, err = parseCount(val)
		case KeySkip:
			d.Skip, err = parseCount(val)
		case KeySort:
			d.Sort, err = ParseSort(val)
		case KeyPopulate:
			d.Populate, err = parseList(val)
		case KeySelect:
			d.Select, err = parseSelect(val)
		case KeyContext:
			ctxMap, isMap := helpers.AsMap(val)
			if !isMap && val != nil {
				return nil, malformed(coll, "%s must be a mapping, got %T", key, val)
			}
			d.Context = ctxMap
		case "$and", "$or", "$nor":
			d.Filter[key] = val
		default:
			if strings.HasPrefix(key, "$") {
				return nil, malformed(coll, "unknown directive %s", key)
			}
			d.Filter[key] = val
		}
		if err != nil {
			return nil, malformed(coll, "%s: %v", key, err)
		}
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks the directives for conflicts.
func (d *Descriptor) Validate() error {
	if d.Collection == "" {
		return malformed("", "collection is required")
	}
	if d.Limit < 0 {
		return malformed(d.Collection, "negative limit %d", d.Limit)
	}
	if d.Skip < 0 {
		return malformed(d.Collection, "negative skip %d", d.Skip)
	}
	if _, err := d.Projection(); err != nil {
		return err
	}
	return nil
}

// IsSingle reports whether the query yields at most one document.
func (d *Descriptor) IsSingle() bool {
	return d.ID != nil || d.Single
}

// Projection flattens Select into a driver projection. Entries starting
// with "-" exclude a path; include and exclude entries cannot be mixed.
func (d *Descriptor) Projection() (bson.M, error) {
	if len(d.Select) == 0 {
		return nil, nil
	}
	proj := bson.M{}
	includes, excludes := 0, 0
	for _, raw := range d.Select {
		path := strings.TrimSpace(raw)
		if path == "" {
			continue
		}
		if strings.HasPrefix(path, "-") {
			path = strings.TrimPrefix(path, "-")
			if path == "" {
				continue
			}
			excludes++
			proj[path] = 0
		} else {
			path = strings.TrimPrefix(path, "+")
			includes++
			proj[path] = 1
		}
	}
	if includes > 0 && excludes > 0 {
		return nil, malformed(d.Collection, "select cannot mix included and excluded fields")
	}
	if len(proj) == 0 {
		return nil, nil
	}
	return proj, nil
}

// Clone copies the descriptor so hooks of one query cannot leak into the
// caller's value.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	c.Filter = bson.M{}
	if d.Filter != nil {
		c.Filter = helpers.CloneDoc(d.Filter)
	}
	c.Sort = append(bson.D(nil), d.Sort...)
	c.Populate = append([]string(nil), d.Populate...)
	c.Select = append([]string(nil), d.Select...)
	if d.Context != nil {
		c.Context = helpers.Clone(d.Context).(map[string]interface{})
	}
	return &c
}

func parseFlag(v interface{}) (bool, error) {
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case string:
		if t == "" {
			return true, nil
		}
		return strconv.ParseBool(t)
	default:
		if f, ok := helpers.ToFloat(v); ok {
			return f != 0, nil
		}
	}
	return false, errUnexpected(v)
}

func parseCount(v interface{}) (int64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(t), 10, 64)
	default:
		f, ok := helpers.ToFloat(v)
		if !ok {
			return 0, errUnexpected(v)
		}
		if f != math.Trunc(f) {
			return 0, errNotInteger(f)
		}
		return int64(f), nil
	}
}

func parseList(v interface{}) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return helpers.SplitList(t), nil
	}
	items, ok := helpers.AsSlice(v)
	if !ok {
		return nil, errUnexpected(v)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, errUnexpected(item)
		}
		out = append(out, helpers.SplitList(s)...)
	}
	return out, nil
}

// parseSelect accepts a list of paths ("a", "-b") or a projection mapping.
func parseSelect(v interface{}) ([]string, error) {
	m, ok := helpers.AsMap(v)
	if !ok {
		return parseList(v)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		include := true
		switch t := m[k].(type) {
		case bool:
			include = t
		default:
			if f, isNum := helpers.ToFloat(t); isNum {
				include = f != 0
			}
		}
		if include {
			out = append(out, k)
		} else {
			out = append(out, "-"+k)
		}
	}
	return out, nil
}

// ParseSort accepts "name,-age", a list of such keys, a bson.D or a mapping
// of path to direction. Mapping keys are ordered alphabetically.
func ParseSort(v interface{}) (bson.D, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bson.D:
		return t, nil
	case string:
		return sortKeys(helpers.SplitList(t)), nil
	}
	if m, ok := helpers.AsMap(v); ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := bson.D{}
		for _, k := range keys {
			dir, err := sortDirection(m[k])
			if err != nil {
				return nil, err
			}
			out = append(out, bson.E{Key: k, Value: dir})
		}
		return out, nil
	}
	list, err := parseList(v)
	if err != nil {
		return nil, err
	}
	return sortKeys(list), nil
}

func sortKeys(keys []string) bson.D {
	out := bson.D{}
	for _, k := range keys {
		if strings.HasPrefix(k, "-") {
			out = append(out, bson.E{Key: strings.TrimPrefix(k, "-"), Value: -1})
			continue
		}
		out = append(out, bson.E{Key: strings.TrimPrefix(k, "+"), Value: 1})
	}
	return out
}

func sortDirection(v interface{}) (int, error) {
	if s, ok := v.(string); ok {
		switch strings.ToLower(s) {
		case "asc", "ascending", "1":
			return 1, nil
		case "desc", "descending", "-1":
			return -1, nil
		}
		return 0, errUnexpected(v)
	}
	f, ok := helpers.ToFloat(v)
	if !ok {
		return 0, errUnexpected(v)
	}
	if f < 0 {
		return -1, nil
	}
	return 1, nil
}

func errUnexpected(v interface{}) error {
	return fmt.Errorf("unexpected value %v (%T)", v, v)
}

func errNotInteger(f float64) error {
	return fmt.Errorf("%v is not an integer", f)
}
