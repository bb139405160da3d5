package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"syndrodm/src/driver"
	"syndrodm/src/helpers"
	"syndrodm/src/hooks"
	"syndrodm/src/matcher"
	"syndrodm/src/odmerr"
	"syndrodm/src/schema"

	"go.mongodb.org/mongo-driver/bson"
)

type ResultKind int

const (
	ResultMany ResultKind = iota
	ResultSingle
	ResultCount
)

// Result holds what a query produced: one document (possibly nil), a list
// of documents or a count, depending on Kind.
type Result struct {
	Kind      ResultKind
	Document  *Document
	Documents []*Document
	Count     int64
}

// Len is the number of documents in the result (the count for count
// queries).
func (r *Result) Len() int {
	switch r.Kind {
	case ResultSingle:
		if r.Document == nil {
			return 0
		}
		return 1
	case ResultCount:
		return int(r.Count)
	default:
		return len(r.Documents)
	}
}

// Value returns the result in the shape a response body carries.
func (r *Result) Value() interface{} {
	switch r.Kind {
	case ResultSingle:
		if r.Document == nil {
			return nil
		}
		return r.Document
	case ResultCount:
		return r.Count
	default:
		if r.Documents == nil {
			return []*Document{}
		}
		return r.Documents
	}
}

// QueryMap parses a descriptor mapping and runs it.
func (e *Engine) QueryMap(ctx context.Context, m map[string]interface{}) (*Result, error) {
	d, err := ParseDescriptor(m)
	if err != nil {
		return nil, err
	}
	return e.Query(ctx, d)
}

// Query runs a descriptor: resolve the schema and its foreign keys, fire the
// query hooks, fetch, populate, apply filters that need populated values,
// wrap the documents and fire the postQuery hooks. The descriptor is copied
// before hooks see it.
func (e *Engine) Query(ctx context.Context, desc *Descriptor) (res *Result, err error) {
	start := time.Now()
	defer func() { observe(desc.Collection, "query", start, err) }()

	if err := desc.Validate(); err != nil {
		return nil, err
	}
	s, err := e.registry.Resolve(desc.Collection)
	if err != nil {
		return nil, err
	}
	var fkOpts []schema.ExtractOption
	if desc.NoCache {
		fkOpts = append(fkOpts, schema.NoCache())
	}
	fks, err := s.ForeignKeys(fkOpts...)
	if err != nil {
		return nil, err
	}

	d := desc.Clone()
	if err := e.hooks.Fire(ctx, d.Collection, hooks.EventQuery, d); err != nil {
		hookAborts.WithLabelValues(d.Collection, hooks.EventQuery).Inc()
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if d.Collection != s.Name() {
		return nil, malformed(s.Name(), "query hooks cannot change the collection")
	}

	projection, _ := d.Projection()
	// An id lookup ignores every other filter field.
	var direct, deferred bson.M
	var autoPopulate []string
	if d.ID == nil {
		direct, deferred, autoPopulate, err = e.partitionFilter(s, fks, d.Filter)
		if err != nil {
			return nil, err
		}
	}
	populate := mergePaths(d.Populate, autoPopulate)

	var raw []bson.M
	switch {
	case d.ID != nil:
		doc, err := e.driver.FindOne(ctx, s.Name(), bson.M{"_id": d.ID}, &driver.FindOptions{Projection: projection})
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", s.Name(), err)
		}
		if doc == nil {
			if d.IgnoreNotFound {
				res = &Result{Kind: ResultSingle}
				if d.CountOnly {
					res = &Result{Kind: ResultCount}
				}
				if err := e.postQuery(ctx, d, res); err != nil {
					return nil, err
				}
				return res, nil
			}
			return nil, odmerr.New(odmerr.KindNotFound, "query", s.Name(), "", "no document with id %v", d.ID)
		}
		raw = []bson.M{doc}

	case d.CountOnly && len(deferred) == 0:
		n, err := e.driver.Count(ctx, s.Name(), direct)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", s.Name(), err)
		}
		res = &Result{Kind: ResultCount, Count: n}
		if err := e.postQuery(ctx, d, res); err != nil {
			return nil, err
		}
		return res, nil

	default:
		opts := &driver.FindOptions{Sort: d.Sort, Projection: projection}
		if len(deferred) == 0 {
			opts.Skip = d.Skip
			opts.Limit = d.Limit
			if d.Single && !d.CountOnly {
				opts.Limit = 1
			}
		}
		if d.CountOnly {
			opts.Projection = nil
		}
		raw, err = e.driver.Find(ctx, s.Name(), direct, opts)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", s.Name(), err)
		}
	}

	if len(populate) > 0 && len(raw) > 0 {
		if err := e.populate(ctx, s, raw, populate, d.NoCache); err != nil {
			return nil, err
		}
	}

	if len(deferred) > 0 {
		raw, err = filterDocuments(raw, deferred)
		if err != nil {
			return nil, malformed(s.Name(), "%v", err)
		}
		raw = paginate(raw, d.Skip, d.Limit)
	}

	switch {
	case d.CountOnly:
		res = &Result{Kind: ResultCount, Count: int64(len(raw))}
	case d.IsSingle():
		res = &Result{Kind: ResultSingle}
		if len(raw) > 0 {
			res.Document = e.wrap(s, raw[0], projection != nil)
		}
	default:
		res = &Result{Kind: ResultMany, Documents: make([]*Document, len(raw))}
		for i, doc := range raw {
			res.Documents[i] = e.wrap(s, doc, projection != nil)
		}
	}

	if err := e.postQuery(ctx, d, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) postQuery(ctx context.Context, d *Descriptor, res *Result) error {
	if err := e.hooks.Fire(ctx, d.Collection, hooks.EventPostQuery, d, res); err != nil {
		hookAborts.WithLabelValues(d.Collection, hooks.EventPostQuery).Inc()
		return err
	}
	return nil
}

// partitionFilter splits filter into the conditions the driver can evaluate
// and those that descend through a reference and must wait for population.
// It also returns the populate paths the deferred conditions need.
func (e *Engine) partitionFilter(s *schema.Schema, fks schema.ForeignKeyMap, filter bson.M) (direct, deferred bson.M, populate []string, err error) {
	direct, deferred = bson.M{}, bson.M{}
	for key, cond := range filter {
		var paths []string
		if key == "$and" || key == "$or" || key == "$nor" {
			paths = filterPaths(cond)
		} else {
			paths = []string{key}
		}

		needs := []string{}
		for _, p := range paths {
			pp, ok, err := e.populatePathFor(s, fks, p)
			if err != nil {
				return nil, nil, nil, err
			}
			if ok {
				needs = append(needs, pp)
			}
		}
		if len(needs) == 0 {
			direct[key] = cond
			continue
		}
		deferred[key] = cond
		populate = append(populate, needs...)
	}
	return direct, deferred, populate, nil
}

// filterPaths lists the field paths used inside a logical operator.
func filterPaths(cond interface{}) []string {
	clauses, _ := helpers.AsSlice(cond)
	var out []string
	for _, c := range clauses {
		m, ok := helpers.AsMap(c)
		if !ok {
			continue
		}
		for k, v := range m {
			if strings.HasPrefix(k, "$") {
				out = append(out, filterPaths(v)...)
				continue
			}
			out = append(out, k)
		}
	}
	return out
}

func filterDocuments(docs []bson.M, filter bson.M) ([]bson.M, error) {
	out := docs[:0]
	for _, doc := range docs {
		ok, err := matcher.Match(doc, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func paginate(docs []bson.M, skip, limit int64) []bson.M {
	if skip > 0 {
		if skip >= int64(len(docs)) {
			return docs[:0]
		}
		docs = docs[skip:]
	}
	if limit > 0 && limit < int64(len(docs)) {
		docs = docs[:limit]
	}
	return docs
}

// mergePaths appends extra to base, skipping paths that a requested path
// already covers. "a.b" covers "a".
func mergePaths(base, extra []string) []string {
	out := append([]string(nil), base...)
	for _, p := range extra {
		covered := false
		for _, b := range out {
			if helpers.HasPathPrefix(b, p) {
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

// FindByID loads one document by id, populating paths.
func (e *Engine) FindByID(ctx context.Context, collection string, id interface{}, populate ...string) (*Document, error) {
	res, err := e.Query(ctx, &Descriptor{Collection: collection, ID: id, Populate: populate})
	if err != nil {
		return nil, err
	}
	return res.Document, nil
}

// Find returns every document of collection matching filter.
func (e *Engine) Find(ctx context.Context, collection string, filter bson.M, populate ...string) ([]*Document, error) {
	res, err := e.Query(ctx, &Descriptor{Collection: collection, Filter: filter, Populate: populate})
	if err != nil {
		return nil, err
	}
	return res.Documents, nil
}

// FindOne returns the first document matching filter, or nil.
func (e *Engine) FindOne(ctx context.Context, collection string, filter bson.M, populate ...string) (*Document, error) {
	res, err := e.Query(ctx, &Descriptor{Collection: collection, Filter: filter, Single: true, Populate: populate})
	if err != nil {
		return nil, err
	}
	return res.Document, nil
}

// Count counts the documents of collection matching filter.
func (e *Engine) Count(ctx context.Context, collection string, filter bson.M) (int64, error) {
	res, err := e.Query(ctx, &Descriptor{Collection: collection, Filter: filter, CountOnly: true})
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}
