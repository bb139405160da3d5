package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"syndrodm/src/helpers"
	"syndrodm/src/odmerr"
	"syndrodm/src/schema"

	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"
)

// popHop is one reference substitution of a populate plan. next holds the
// remaining hops, resolved against the target schema.
type popHop struct {
	fk     schema.ForeignKey
	target *schema.Schema
	next   []*popHop
}

func populateErr(collection, path, format string, args ...interface{}) error {
	return odmerr.New(odmerr.KindPopulate, "populate", collection, path, format, args...)
}

// Populate replaces the references at paths in docs with the referenced
// documents. docs are modified in place.
func (e *Engine) Populate(ctx context.Context, collection string, docs []bson.M, paths ...string) error {
	s, err := e.registry.Resolve(collection)
	if err != nil {
		return err
	}
	return e.populate(ctx, s, docs, paths, false)
}

func (e *Engine) populate(ctx context.Context, s *schema.Schema, docs []bson.M, paths []string, noCache bool) error {
	if len(paths) == 0 || len(docs) == 0 {
		return nil
	}
	plan, err := e.planPopulate(s, paths, 0, noCache)
	if err != nil {
		return err
	}
	maps := make([]map[string]interface{}, len(docs))
	for i, d := range docs {
		maps[i] = d
	}
	return e.execPopulate(ctx, plan, maps)
}

// planPopulate resolves every path into reference hops. Paths sharing the
// same first reference are merged so each reference is substituted once per
// level.
func (e *Engine) planPopulate(s *schema.Schema, paths []string, depth int, noCache bool) ([]*popHop, error) {
	if depth >= e.opts.PopulateDepth {
		return nil, populateErr(s.Name(), strings.Join(paths, ","), "population deeper than %d hops", e.opts.PopulateDepth)
	}
	var fkOpts []schema.ExtractOption
	if noCache {
		fkOpts = append(fkOpts, schema.NoCache())
	}
	fks, err := s.ForeignKeys(fkOpts...)
	if err != nil {
		return nil, odmerr.Wrap(odmerr.KindPopulate, "populate", s.Name(), err)
	}

	type hopGroup struct {
		fk         schema.ForeignKey
		remainders []string
	}
	groups := map[string]*hopGroup{}
	var order []string
	add := func(fk schema.ForeignKey, remainder string) {
		g, ok := groups[fk.Path]
		if !ok {
			g = &hopGroup{fk: fk}
			groups[fk.Path] = g
			order = append(order, fk.Path)
		}
		if remainder != "" {
			g.remainders = append(g.remainders, remainder)
		}
	}

	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		hops, err := splitPopulatePath(s, fks, path)
		if err != nil {
			return nil, err
		}
		for _, h := range hops {
			add(h.fk, h.remainder)
		}
	}

	plan := make([]*popHop, 0, len(order))
	for _, p := range order {
		g := groups[p]
		target, err := e.registry.Resolve(g.fk.Target)
		if err != nil {
			return nil, odmerr.Wrap(odmerr.KindPopulate, "populate", s.Name(), fmt.Errorf("path %s: %w", p, err))
		}
		hop := &popHop{fk: g.fk, target: target}
		if len(g.remainders) > 0 {
			hop.next, err = e.planPopulate(target, g.remainders, depth+1, noCache)
			if err != nil {
				return nil, err
			}
		}
		plan = append(plan, hop)
	}
	return plan, nil
}

type hopSplit struct {
	fk        schema.ForeignKey
	remainder string
}

// splitPopulatePath finds the first reference on path. A path naming a
// sub-document expands to every reference below it.
func splitPopulatePath(s *schema.Schema, fks schema.ForeignKeyMap, path string) ([]hopSplit, error) {
	segs := helpers.SplitPath(path)
	for i := 1; i <= len(segs); i++ {
		prefix := strings.Join(segs[:i], ".")
		fk, ok := fks[prefix]
		if !ok {
			if _, declared := s.Field(prefix); !declared {
				return nil, populateErr(s.Name(), path, "unknown field %q", segs[i-1])
			}
			if i < len(segs) {
				return nil, populateErr(s.Name(), path, "field %q holds no documents", prefix)
			}
			return nil, populateErr(s.Name(), path, "field %q is not a reference", prefix)
		}
		if fk.IsReference() {
			if fk.Target == "" {
				return nil, populateErr(s.Name(), path, "field %q has no target collection", prefix)
			}
			return []hopSplit{{fk: fk, remainder: strings.Join(segs[i:], ".")}}, nil
		}
		if i == len(segs) {
			var out []hopSplit
			for _, p := range fks.Paths() {
				child := fks[p]
				if !child.IsReference() || child.Target == "" || !strings.HasPrefix(p, prefix+".") {
					continue
				}
				if _, crosses := fks.ReferencePrefix(p); crosses {
					continue
				}
				out = append(out, hopSplit{fk: child})
			}
			if len(out) == 0 {
				return nil, populateErr(s.Name(), path, "sub-document %q holds no references", prefix)
			}
			return out, nil
		}
	}
	return nil, populateErr(s.Name(), path, "empty path")
}

// execPopulate runs one level of the plan: it gathers the ids of every hop,
// fetches each target collection once, substitutes, then descends.
func (e *Engine) execPopulate(ctx context.Context, plan []*popHop, docs []map[string]interface{}) error {
	ids := map[string]map[string]interface{}{}
	for _, hop := range plan {
		target := hop.fk.Target
		if ids[target] == nil {
			ids[target] = map[string]interface{}{}
		}
		for _, doc := range docs {
			collectIDs(doc, hop.fk, ids[target])
		}
	}

	fetched, err := e.fetchTargets(ctx, ids)
	if err != nil {
		return err
	}

	for _, hop := range plan {
		found := fetched[hop.fk.Target]
		var populated []map[string]interface{}
		for _, doc := range docs {
			populated = append(populated, e.substitute(doc, hop.fk, found)...)
		}
		if len(hop.next) > 0 && len(populated) > 0 {
			if err := e.execPopulate(ctx, hop.next, populated); err != nil {
				return err
			}
		}
	}
	return nil
}

// fetchTargets issues one Find per target collection, concurrently when more
// than one target is involved.
func (e *Engine) fetchTargets(ctx context.Context, ids map[string]map[string]interface{}) (map[string]map[string]bson.M, error) {
	out := make(map[string]map[string]bson.M, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for target, set := range ids {
		found := map[string]bson.M{}
		out[target] = found
		if len(set) == 0 {
			continue
		}
		target, set := target, set
		g.Go(func() error {
			keys := make([]string, 0, len(set))
			for k := range set {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			in := make(bson.A, 0, len(keys))
			for _, k := range keys {
				in = append(in, set[k])
			}

			populateFetches.WithLabelValues(target).Inc()
			docs, err := e.driver.Find(gctx, target, bson.M{"_id": bson.M{"$in": in}}, nil)
			if err != nil {
				return odmerr.Wrap(odmerr.KindPopulate, "populate", target, err)
			}
			e.logger.Debugw("populate fetch", "target", target, "ids", len(in), "found", len(docs))

			for _, d := range docs {
				found[helpers.IDKey(d["_id"])] = d
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// refID returns the identity stored in a reference value. Already populated
// values yield the _id of the embedded document.
func refID(v interface{}) (interface{}, bool) {
	if v == nil {
		return nil, false
	}
	if m, ok := helpers.AsMap(v); ok {
		id, has := m["_id"]
		return id, has && id != nil
	}
	return v, true
}

func collectIDs(doc map[string]interface{}, fk schema.ForeignKey, into map[string]interface{}) {
	helpers.WalkPath(doc, helpers.SplitPath(fk.Path), func(holder map[string]interface{}, key string) {
		val, ok := holder[key]
		if !ok {
			return
		}
		if fk.Kind == schema.KindReferenceArray {
			items, _ := helpers.AsSlice(val)
			for _, item := range items {
				if id, ok := refID(item); ok {
					into[helpers.IDKey(id)] = id
				}
			}
			return
		}
		if id, ok := refID(val); ok {
			into[helpers.IDKey(id)] = id
		}
	})
}

// substitute writes copies of the fetched documents into doc at the hop's
// path and returns the inserted documents.
func (e *Engine) substitute(doc map[string]interface{}, fk schema.ForeignKey, found map[string]bson.M) []map[string]interface{} {
	var inserted []map[string]interface{}
	resolve := func(v interface{}) (bson.M, bool) {
		id, ok := refID(v)
		if !ok {
			return nil, false
		}
		target, ok := found[helpers.IDKey(id)]
		if !ok {
			return nil, false
		}
		c := helpers.CloneDoc(target)
		inserted = append(inserted, c)
		return c, true
	}

	helpers.WalkPath(doc, helpers.SplitPath(fk.Path), func(holder map[string]interface{}, key string) {
		val, ok := holder[key]
		if !ok {
			return
		}
		if fk.Kind != schema.KindReferenceArray {
			if d, ok := resolve(val); ok {
				holder[key] = d
			} else {
				holder[key] = nil
			}
			return
		}
		items, isSlice := helpers.AsSlice(val)
		if !isSlice {
			holder[key] = nil
			return
		}
		out := make(bson.A, 0, len(items))
		for _, item := range items {
			if d, ok := resolve(item); ok {
				out = append(out, d)
			} else if !e.opts.DropUnresolved {
				out = append(out, nil)
			}
		}
		holder[key] = out
	})
	return inserted
}

// populatePathFor returns the populate path a filter on path needs: the
// longest prefix of path that ends on a reference, following references
// across collections. ok is false when path crosses no reference.
func (e *Engine) populatePathFor(s *schema.Schema, fks schema.ForeignKeyMap, path string) (string, bool, error) {
	var prefix []string
	remaining := path
	cur, curFKs := s, fks
	for hops := 0; hops < e.opts.PopulateDepth; hops++ {
		fk, ok := curFKs.ReferencePrefix(remaining)
		if !ok {
			break
		}
		prefix = append(prefix, fk.Path)
		remaining = strings.TrimPrefix(remaining, fk.Path+".")
		if fk.Target == "" {
			break
		}
		target, err := e.registry.Resolve(fk.Target)
		if err != nil {
			return "", false, odmerr.Wrap(odmerr.KindPopulate, "query", cur.Name(), fmt.Errorf("path %s: %w", path, err))
		}
		targetFKs, err := target.ForeignKeys()
		if err != nil {
			return "", false, odmerr.Wrap(odmerr.KindPopulate, "query", target.Name(), err)
		}
		cur, curFKs = target, targetFKs
	}
	if len(prefix) == 0 {
		return "", false, nil
	}
	return strings.Join(prefix, "."), true, nil
}
