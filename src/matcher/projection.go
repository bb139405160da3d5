package matcher

import (
	"syndrodm/src/helpers"

	"go.mongodb.org/mongo-driver/bson"
)

// Project applies a Mongo-style projection ({path: 1} includes or
// {path: 0} excludes) to a copy of doc. _id is kept unless explicitly
// excluded. Mixed projections are rejected by the engine before they get here;
// Project treats the first non-_id entry as deciding the mode.
func Project(doc bson.M, projection bson.M) bson.M {
	if len(projection) == 0 {
		return doc
	}

	include := false
	for k, v := range projection {
		if k == "_id" {
			continue
		}
		include = truthy(v)
		break
	}

	if !include {
		out := helpers.CloneDoc(doc)
		for path, v := range projection {
			if truthy(v) {
				continue
			}
			removePath(out, helpers.SplitPath(path))
		}
		return out
	}

	out := bson.M{}
	keepID := true
	for path, v := range projection {
		if path == "_id" {
			keepID = truthy(v)
			continue
		}
		if !truthy(v) {
			continue
		}
		copyPath(out, doc, helpers.SplitPath(path))
	}
	if id, ok := doc["_id"]; ok && keepID {
		out["_id"] = id
	}
	return out
}

func truthy(v interface{}) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	if f, ok := helpers.ToFloat(v); ok {
		return f != 0
	}
	return v != nil
}

// copyPath copies the value at segs from src into dst, rebuilding the
// intermediate documents and arrays.
func copyPath(dst map[string]interface{}, src map[string]interface{}, segs []string) {
	val, ok := src[segs[0]]
	if !ok {
		return
	}
	if len(segs) == 1 {
		dst[segs[0]] = helpers.Clone(val)
		return
	}
	if m, ok := helpers.AsMap(val); ok {
		child, ok := helpers.AsMap(dst[segs[0]])
		if !ok {
			child = map[string]interface{}{}
			dst[segs[0]] = child
		}
		copyPath(child, m, segs[1:])
		return
	}
	if arr, ok := helpers.AsSlice(val); ok {
		existing, _ := helpers.AsSlice(dst[segs[0]])
		out := make([]interface{}, 0, len(arr))
		for i, item := range arr {
			m, ok := helpers.AsMap(item)
			if !ok {
				continue
			}
			var child map[string]interface{}
			if i < len(existing) {
				child, _ = helpers.AsMap(existing[i])
			}
			if child == nil {
				child = map[string]interface{}{}
			}
			copyPath(child, m, segs[1:])
			out = append(out, child)
		}
		dst[segs[0]] = out
	}
}

func removePath(doc map[string]interface{}, segs []string) {
	helpers.WalkPath(doc, segs, func(holder map[string]interface{}, key string) {
		delete(holder, key)
	})
}
