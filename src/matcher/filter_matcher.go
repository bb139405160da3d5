// Package matcher evaluates Mongo-style filter documents against in-memory
// documents and orders documents by sort keys. It backs the memory driver
// and the filters the engine can only evaluate after population.
package matcher

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"syndrodm/src/helpers"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Match reports whether doc satisfies every condition in filter. Keys are
// dotted paths or the logical operators $and / $or / $nor.
func Match(doc map[string]interface{}, filter map[string]interface{}) (bool, error) {
	for key, cond := range filter {
		var ok bool
		var err error
		switch key {
		case "$and":
			ok, err = matchLogical(doc, cond, func(results []bool) bool {
				for _, r := range results {
					if !r {
						return false
					}
				}
				return true
			})
		case "$or":
			ok, err = matchLogical(doc, cond, func(results []bool) bool {
				for _, r := range results {
					if r {
						return true
					}
				}
				return false
			})
		case "$nor":
			ok, err = matchLogical(doc, cond, func(results []bool) bool {
				for _, r := range results {
					if r {
						return false
					}
				}
				return true
			})
		default:
			if strings.HasPrefix(key, "$") {
				return false, fmt.Errorf("unsupported top-level operator %s", key)
			}
			ok, err = MatchPath(doc, key, cond)
		}
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchLogical(doc map[string]interface{}, cond interface{}, combine func([]bool) bool) (bool, error) {
	clauses, ok := helpers.AsSlice(cond)
	if !ok {
		return false, fmt.Errorf("logical operator expects an array, got %T", cond)
	}
	results := make([]bool, 0, len(clauses))
	for _, c := range clauses {
		sub, ok := helpers.AsMap(c)
		if !ok {
			return false, fmt.Errorf("logical operator clause must be a document, got %T", c)
		}
		r, err := Match(doc, sub)
		if err != nil {
			return false, err
		}
		results = append(results, r)
	}
	return combine(results), nil
}

// MatchPath evaluates one condition against the values found at path. Arrays
// met on the way fan out, so a condition matches when any reachable value
// matches it (exact match) or any reachable array contains a matching
// element (containment).
func MatchPath(doc map[string]interface{}, path string, cond interface{}) (bool, error) {
	values := helpers.CollectPath(doc, helpers.SplitPath(path))

	if ops, ok := operatorMap(cond); ok {
		for op, arg := range ops {
			r, err := evalOperator(op, arg, values)
			if err != nil {
				return false, fmt.Errorf("path %s: %w", path, err)
			}
			if !r {
				return false, nil
			}
		}
		return true, nil
	}

	return anyEqual(values, cond), nil
}

func operatorMap(cond interface{}) (map[string]interface{}, bool) {
	m, ok := helpers.AsMap(cond)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

// anyEqual implements equality with containment. A nil condition also
// matches a missing field.
func anyEqual(values []interface{}, cond interface{}) bool {
	if cond == nil && len(values) == 0 {
		return true
	}
	for _, v := range values {
		if helpers.Equal(v, cond) {
			return true
		}
		if arr, ok := helpers.AsSlice(v); ok {
			for _, item := range arr {
				if helpers.Equal(item, cond) {
					return true
				}
			}
		}
	}
	return false
}

// flatten expands reachable arrays into their elements for the comparison
// operators.
func flatten(values []interface{}) []interface{} {
	var out []interface{}
	for _, v := range values {
		if arr, ok := helpers.AsSlice(v); ok {
			out = append(out, arr...)
			continue
		}
		out = append(out, v)
	}
	return out
}

func evalOperator(op string, arg interface{}, values []interface{}) (bool, error) {
	switch op {
	case "$eq":
		return anyEqual(values, arg), nil
	case "$ne":
		return !anyEqual(values, arg), nil
	case "$in":
		list, ok := helpers.AsSlice(arg)
		if !ok {
			return false, fmt.Errorf("$in expects an array, got %T", arg)
		}
		for _, candidate := range list {
			if anyEqual(values, candidate) {
				return true, nil
			}
		}
		return false, nil
	case "$nin":
		list, ok := helpers.AsSlice(arg)
		if !ok {
			return false, fmt.Errorf("$nin expects an array, got %T", arg)
		}
		for _, candidate := range list {
			if anyEqual(values, candidate) {
				return false, nil
			}
		}
		return true, nil
	case "$gt", "$gte", "$lt", "$lte":
		for _, v := range flatten(values) {
			if !sameClass(v, arg) {
				continue
			}
			c := Compare(v, arg)
			switch {
			case op == "$gt" && c > 0,
				op == "$gte" && c >= 0,
				op == "$lt" && c < 0,
				op == "$lte" && c <= 0:
				return true, nil
			}
		}
		return false, nil
	case "$exists":
		want, ok := arg.(bool)
		if !ok {
			return false, fmt.Errorf("$exists expects a boolean, got %T", arg)
		}
		return (len(values) > 0) == want, nil
	case "$regex":
		pattern, ok := arg.(string)
		if !ok {
			if re, isRegex := arg.(primitive.Regex); isRegex {
				pattern = re.Pattern
			} else {
				return false, fmt.Errorf("$regex expects a string, got %T", arg)
			}
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("$regex: %w", err)
		}
		for _, v := range flatten(values) {
			if s, ok := v.(string); ok && re.MatchString(s) {
				return true, nil
			}
		}
		return false, nil
	case "$size":
		n, ok := helpers.ToFloat(arg)
		if !ok {
			return false, fmt.Errorf("$size expects a number, got %T", arg)
		}
		for _, v := range values {
			if arr, ok := helpers.AsSlice(v); ok && float64(len(arr)) == n {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("unsupported operator %s", op)
	}
}

// sameClass reports whether two values share a sort class, so range
// operators never match across types (as in Mongo).
func sameClass(a, b interface{}) bool {
	return typeRank(a) == typeRank(b)
}

// typeRank follows the BSON comparison order.
func typeRank(v interface{}) int {
	if v == nil {
		return 1
	}
	if _, ok := helpers.ToFloat(v); ok {
		return 2
	}
	if _, ok := helpers.ToTime(v); ok {
		return 9
	}
	switch v.(type) {
	case string:
		return 3
	case primitive.ObjectID:
		return 7
	case bool:
		return 8
	}
	if _, ok := helpers.AsMap(v); ok {
		return 4
	}
	if _, ok := helpers.AsSlice(v); ok {
		return 5
	}
	return 10
}

// Compare orders two values, returning -1, 0 or 1.
func Compare(a, b interface{}) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 1:
		return 0
	case 2:
		fa, _ := helpers.ToFloat(a)
		fb, _ := helpers.ToFloat(b)
		return cmpOrdered(fa, fb)
	case 3:
		return strings.Compare(a.(string), b.(string))
	case 7:
		return strings.Compare(a.(primitive.ObjectID).Hex(), b.(primitive.ObjectID).Hex())
	case 8:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	case 9:
		ta, _ := helpers.ToTime(a)
		tb, _ := helpers.ToTime(b)
		switch {
		case ta.Before(tb):
			return -1
		case ta.After(tb):
			return 1
		default:
			return 0
		}
	case 5:
		sa, _ := helpers.AsSlice(a)
		sb, _ := helpers.AsSlice(b)
		for i := 0; i < len(sa) && i < len(sb); i++ {
			if c := Compare(sa[i], sb[i]); c != 0 {
				return c
			}
		}
		return cmpOrdered(len(sa), len(sb))
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

func cmpOrdered[T int | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// SortDocuments orders docs in place by the sort keys (1 ascending,
// -1 descending). Missing fields sort as nil. The sort is stable.
func SortDocuments(docs []bson.M, keys bson.D) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			dir := 1
			if f, ok := helpers.ToFloat(k.Value); ok && f < 0 {
				dir = -1
			}
			vi, _ := helpers.GetPath(docs[i], k.Key)
			vj, _ := helpers.GetPath(docs[j], k.Key)
			if c := Compare(vi, vj); c != 0 {
				return c*dir < 0
			}
		}
		return false
	})
}
