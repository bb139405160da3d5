package helpers

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SplitPath splits a dotted field path into its segments.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// JoinPath joins a prefix and a field name with a dot, skipping an empty prefix.
func JoinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// HasPathPrefix reports whether prefix is a segment-wise prefix of path
// (or equal to it).
func HasPathPrefix(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+".")
}

// AsMap returns v as a mutable map when it is one of the document shapes
// produced by drivers or callers.
func AsMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case bson.M:
		return map[string]interface{}(t), true
	case bson.D:
		m := make(map[string]interface{}, len(t))
		for _, e := range t {
			m[e.Key] = e.Value
		}
		return m, true
	default:
		return nil, false
	}
}

// AsSlice returns v as a slice when it is an array shape. Typed slices of
// scalars are converted into a fresh []interface{}.
func AsSlice(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case []interface{}:
		return t, true
	case bson.A:
		return []interface{}(t), true
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	case []bson.M:
		out := make([]interface{}, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out, true
	case []map[string]interface{}:
		out := make([]interface{}, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out, true
	case []primitive.ObjectID:
		out := make([]interface{}, len(t))
		for i, id := range t {
			out[i] = id
		}
		return out, true
	default:
		return nil, false
	}
}

// GetPath reads the value at a dotted path. Numeric segments index into
// arrays. The second return value is false when any segment is missing.
func GetPath(doc map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = doc
	for _, seg := range SplitPath(path) {
		if m, ok := AsMap(cur); ok {
			v, exists := m[seg]
			if !exists {
				return nil, false
			}
			cur = v
			continue
		}
		if s, ok := AsSlice(cur); ok {
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(s) {
				return nil, false
			}
			cur = s[idx]
			continue
		}
		return nil, false
	}
	return cur, true
}

// CollectPath returns every value reachable at segs starting from v, fanning
// out through arrays that are met on the way (an array at the end of the path
// is returned as is). Numeric segments still index arrays directly.
func CollectPath(v interface{}, segs []string) []interface{} {
	if len(segs) == 0 {
		return []interface{}{v}
	}
	if m, ok := AsMap(v); ok {
		next, exists := m[segs[0]]
		if !exists {
			return nil
		}
		return CollectPath(next, segs[1:])
	}
	if s, ok := AsSlice(v); ok {
		if idx, err := strconv.Atoi(segs[0]); err == nil {
			if idx < 0 || idx >= len(s) {
				return nil
			}
			return CollectPath(s[idx], segs[1:])
		}
		var out []interface{}
		for _, item := range s {
			out = append(out, CollectPath(item, segs)...)
		}
		return out
	}
	return nil
}

// mutable returns v as a container that writes in place. bson.D becomes a
// bson.M and typed slices become a bson.A; changed reports a conversion, in
// which case the caller must store the result back into the parent.
func mutable(v interface{}) (out interface{}, changed bool) {
	switch t := v.(type) {
	case map[string]interface{}, bson.M, []interface{}, bson.A:
		return v, false
	case bson.D:
		m, _ := AsMap(t)
		return bson.M(m), true
	}
	if s, ok := AsSlice(v); ok {
		return bson.A(s), true
	}
	return v, false
}

// child returns the entry key of container c, converted by mutable and
// written back when needed.
func child(c interface{}, key string) (interface{}, bool) {
	if m, ok := AsMap(c); ok {
		next, exists := m[key]
		if !exists {
			return nil, false
		}
		if conv, changed := mutable(next); changed {
			m[key] = conv
			next = conv
		}
		return next, true
	}
	if s, ok := AsSlice(c); ok {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(s) {
			return nil, false
		}
		next := s[idx]
		if conv, changed := mutable(next); changed {
			s[idx] = conv
			next = conv
		}
		return next, true
	}
	return nil, false
}

// SetPath assigns value at a dotted path, creating intermediate maps as
// needed. A numeric segment on an existing array assigns that index. Typed
// slices and bson.D values on the way are replaced by bson.A and bson.M so
// the assignment lands in doc.
func SetPath(doc map[string]interface{}, path string, value interface{}) error {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return fmt.Errorf("empty path")
	}
	var cur interface{} = doc
	for i, seg := range segs {
		last := i == len(segs)-1
		if m, ok := AsMap(cur); ok {
			if last {
				m[seg] = value
				return nil
			}
			next, exists := child(m, seg)
			if !exists || next == nil {
				next = map[string]interface{}{}
				m[seg] = next
			}
			cur = next
			continue
		}
		if s, ok := AsSlice(cur); ok {
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(s) {
				return fmt.Errorf("path %q: invalid array index %q", path, seg)
			}
			if last {
				s[idx] = value
				return nil
			}
			if s[idx] == nil {
				s[idx] = map[string]interface{}{}
			}
			cur, _ = child(s, seg)
			continue
		}
		return fmt.Errorf("path %q: segment %q is not a container", path, strings.Join(segs[:i], "."))
	}
	return nil
}

// UnsetPath removes the key at a dotted path. Array elements cannot be
// removed, they are set to nil instead.
func UnsetPath(doc map[string]interface{}, path string) bool {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return false
	}
	var parent interface{} = doc
	for _, seg := range segs[:len(segs)-1] {
		next, ok := child(parent, seg)
		if !ok {
			return false
		}
		parent = next
	}
	key := segs[len(segs)-1]
	if m, ok := AsMap(parent); ok {
		if _, exists := m[key]; !exists {
			return false
		}
		delete(m, key)
		return true
	}
	if s, ok := AsSlice(parent); ok {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(s) {
			return false
		}
		s[idx] = nil
		return true
	}
	return false
}

// WalkPath calls fn for every map that holds the last segment of segs,
// traversing maps and fanning out through arrays on the intermediate
// segments. fn receives the holding map and the final key; the key may be
// absent from the map.
func WalkPath(v interface{}, segs []string, fn func(holder map[string]interface{}, key string)) {
	if len(segs) == 0 {
		return
	}
	if s, ok := AsSlice(v); ok {
		for _, item := range s {
			WalkPath(item, segs, fn)
		}
		return
	}
	m, ok := AsMap(v)
	if !ok {
		return
	}
	if len(segs) == 1 {
		fn(m, segs[0])
		return
	}
	next, exists := m[segs[0]]
	if !exists || next == nil {
		return
	}
	WalkPath(next, segs[1:], fn)
}

// Clone deep copies document-shaped values. Maps and arrays are copied,
// scalars (including time.Time and ObjectID values) are returned as is.
func Clone(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = Clone(val)
		}
		return out
	case bson.M:
		out := make(bson.M, len(t))
		for k, val := range t {
			out[k] = Clone(val)
		}
		return out
	case bson.D:
		out := make(bson.D, len(t))
		for i, e := range t {
			out[i] = bson.E{Key: e.Key, Value: Clone(e.Value)}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = Clone(val)
		}
		return out
	case bson.A:
		out := make(bson.A, len(t))
		for i, val := range t {
			out[i] = Clone(val)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []primitive.ObjectID:
		return append([]primitive.ObjectID(nil), t...)
	case []bson.M:
		out := make([]bson.M, len(t))
		for i, m := range t {
			out[i], _ = Clone(m).(bson.M)
		}
		return out
	case []map[string]interface{}:
		out := make([]map[string]interface{}, len(t))
		for i, m := range t {
			out[i], _ = Clone(m).(map[string]interface{})
		}
		return out
	default:
		return v
	}
}

// CloneDoc deep copies a document.
func CloneDoc(doc bson.M) bson.M {
	if doc == nil {
		return nil
	}
	return Clone(doc).(bson.M)
}

// IDKey normalises an identity value into a string usable as a map key, so
// a hex string and the ObjectID it encodes compare equal.
func IDKey(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case primitive.ObjectID:
		return t.Hex()
	case *primitive.ObjectID:
		if t == nil {
			return ""
		}
		return t.Hex()
	case map[string]interface{}:
		return IDKey(t["_id"])
	case bson.M:
		return IDKey(t["_id"])
	default:
		return fmt.Sprint(v)
	}
}

// Equal compares two document values for equality: maps and arrays by
// content, numbers across integer and float types, times by instant.
func Equal(a, b interface{}) bool {
	if am, ok := AsMap(a); ok {
		bm, ok := AsMap(b)
		if !ok || len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, exists := bm[k]
			if !exists || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	if as, ok := AsSlice(a); ok {
		bs, ok := AsSlice(b)
		if !ok || len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !Equal(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	if af, ok := ToFloat(a); ok {
		bf, ok := ToFloat(b)
		return ok && af == bf
	}
	if at, ok := ToTime(a); ok {
		bt, ok := ToTime(b)
		return ok && at.Equal(bt)
	}
	if aid, ok := a.(primitive.ObjectID); ok {
		return IDKey(aid) == IDKey(b)
	}
	if bid, ok := b.(primitive.ObjectID); ok {
		return IDKey(bid) == IDKey(a)
	}
	return reflect.DeepEqual(a, b)
}

// ToFloat converts any Go or BSON numeric value to float64.
func ToFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// ToTime converts time.Time and BSON datetimes to time.Time.
func ToTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case primitive.DateTime:
		return t.Time(), true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	default:
		return time.Time{}, false
	}
}

// Normalize converts ordered documents (bson.D) into bson.M and typed slices
// into bson.A recursively, so values can be edited in place through AsMap and
// AsSlice.
func Normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.D:
		out := make(bson.M, len(t))
		for _, e := range t {
			out[e.Key] = Normalize(e.Value)
		}
		return out
	case bson.M:
		for k, val := range t {
			t[k] = Normalize(val)
		}
		return t
	case map[string]interface{}:
		for k, val := range t {
			t[k] = Normalize(val)
		}
		return t
	case bson.A:
		for i, val := range t {
			t[i] = Normalize(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = Normalize(val)
		}
		return t
	case []string, []bson.M, []map[string]interface{}, []primitive.ObjectID:
		s, _ := AsSlice(t)
		return Normalize(bson.A(s))
	default:
		return v
	}
}

// NormalizeDoc normalizes a decoded document in place and returns it.
func NormalizeDoc(doc bson.M) bson.M {
	if doc == nil {
		return nil
	}
	return Normalize(doc).(bson.M)
}
