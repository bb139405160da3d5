// Package tracker records which fields of a document changed since it was
// loaded or last saved.
package tracker

import (
	"sort"
	"strconv"

	"syndrodm/src/helpers"

	"go.mongodb.org/mongo-driver/bson"
)

// Tracker combines explicit marks with a diff against the snapshot taken at
// load/save time, so direct edits of the data map are seen as well.
type Tracker struct {
	snapshot bson.M
	marks    map[string]struct{}
}

func New(data bson.M) *Tracker {
	return &Tracker{
		snapshot: helpers.CloneDoc(data),
		marks:    make(map[string]struct{}),
	}
}

// Mark flags path as dirty. Marking a composite value marks only its own
// path, which covers everything below it.
func (t *Tracker) Mark(path string) {
	if path == "" {
		return
	}
	t.marks[path] = struct{}{}
}

// Modified returns the sorted, distinct dirty paths of current. A dirty
// ancestor hides its descendants.
func (t *Tracker) Modified(current bson.M) []string {
	set := make(map[string]struct{}, len(t.marks))
	for p := range t.marks {
		set[p] = struct{}{}
	}
	diff(t.snapshot, current, "", set)
	return rootMost(set)
}

// IsModified reports whether path, one of its ancestors or one of its
// descendants is dirty.
func (t *Tracker) IsModified(current bson.M, path string) bool {
	for _, p := range t.Modified(current) {
		if helpers.HasPathPrefix(path, p) || helpers.HasPathPrefix(p, path) {
			return true
		}
	}
	return false
}

// Snapshot returns the value stored at path when the document was loaded or
// last saved.
func (t *Tracker) Snapshot(path string) (interface{}, bool) {
	return helpers.GetPath(t.snapshot, path)
}

// Reset takes a new snapshot and clears the marks.
func (t *Tracker) Reset(current bson.M) {
	t.snapshot = helpers.CloneDoc(current)
	t.marks = make(map[string]struct{})
}

func diff(before, after map[string]interface{}, prefix string, out map[string]struct{}) {
	for k, av := range after {
		path := helpers.JoinPath(prefix, k)
		bv, ok := before[k]
		if !ok {
			out[path] = struct{}{}
			continue
		}
		diffValue(bv, av, path, out)
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			out[helpers.JoinPath(prefix, k)] = struct{}{}
		}
	}
}

func diffValue(before, after interface{}, path string, out map[string]struct{}) {
	bm, bIsMap := helpers.AsMap(before)
	am, aIsMap := helpers.AsMap(after)
	if bIsMap && aIsMap {
		diff(bm, am, path, out)
		return
	}
	bs, bIsSlice := helpers.AsSlice(before)
	as, aIsSlice := helpers.AsSlice(after)
	if bIsSlice && aIsSlice && len(bs) == len(as) {
		for i := range as {
			diffValue(bs[i], as[i], path+"."+strconv.Itoa(i), out)
		}
		return
	}
	if !helpers.Equal(before, after) {
		out[path] = struct{}{}
	}
}

func rootMost(set map[string]struct{}) []string {
	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	out := paths[:0]
	for _, p := range paths {
		covered := false
		for _, kept := range out {
			if helpers.HasPathPrefix(p, kept) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, p)
		}
	}
	return out
}
