package engine

import (
	"context"

	"syndrodm/src/hooks"

	"go.mongodb.org/mongo-driver/bson"
)

// Collection is a handle on one declared collection.
type Collection struct {
	engine *Engine
	name   string
}

func (e *Engine) Collection(name string) *Collection {
	return &Collection{engine: e, name: name}
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) Hook(event string, fn hooks.HookFunc) *Collection {
	c.engine.Hook(c.name, event, fn)
	return c
}

func (c *Collection) On(event string, fn hooks.ListenerFunc) *Collection {
	c.engine.On(c.name, event, fn)
	return c
}

func (c *Collection) Create(ctx context.Context, fields bson.M) (*Document, error) {
	return c.engine.Create(ctx, c.name, fields)
}

func (c *Collection) FindByID(ctx context.Context, id interface{}, populate ...string) (*Document, error) {
	return c.engine.FindByID(ctx, c.name, id, populate...)
}

func (c *Collection) Update(ctx context.Context, id interface{}, fields bson.M) (*Document, error) {
	return c.engine.Update(ctx, c.name, id, fields)
}

func (c *Collection) Delete(ctx context.Context, id interface{}) (*Document, error) {
	return c.engine.Delete(ctx, c.name, id)
}

// Find starts a query on the collection.
func (c *Collection) Find(filter bson.M) *QueryBuilder {
	q := &QueryBuilder{engine: c.engine, desc: &Descriptor{Collection: c.name, Filter: bson.M{}}}
	return q.Filter(filter)
}

func (c *Collection) Count(ctx context.Context, filter bson.M) (int64, error) {
	return c.Find(filter).Count(ctx)
}

// QueryBuilder assembles a Descriptor fluently, e.g.
//
//	users.Find(nil).Where("color", "blue").Populate("favourite").Sort("-number").All(ctx)
type QueryBuilder struct {
	engine *Engine
	desc   *Descriptor
}

func (q *QueryBuilder) Where(path string, cond interface{}) *QueryBuilder {
	q.desc.Filter[path] = cond
	return q
}

func (q *QueryBuilder) Filter(filter bson.M) *QueryBuilder {
	for k, v := range filter {
		q.desc.Filter[k] = v
	}
	return q
}

func (q *QueryBuilder) ID(id interface{}) *QueryBuilder {
	q.desc.ID = id
	return q
}

// Sort appends keys in "name" / "-name" form.
func (q *QueryBuilder) Sort(keys ...string) *QueryBuilder {
	q.desc.Sort = append(q.desc.Sort, sortKeys(keys)...)
	return q
}

func (q *QueryBuilder) Skip(n int64) *QueryBuilder {
	q.desc.Skip = n
	return q
}

func (q *QueryBuilder) Limit(n int64) *QueryBuilder {
	q.desc.Limit = n
	return q
}

func (q *QueryBuilder) Populate(paths ...string) *QueryBuilder {
	q.desc.Populate = append(q.desc.Populate, paths...)
	return q
}

func (q *QueryBuilder) Select(paths ...string) *QueryBuilder {
	q.desc.Select = append(q.desc.Select, paths...)
	return q
}

func (q *QueryBuilder) Single() *QueryBuilder {
	q.desc.Single = true
	return q
}

func (q *QueryBuilder) IgnoreNotFound() *QueryBuilder {
	q.desc.IgnoreNotFound = true
	return q
}

func (q *QueryBuilder) NoCache() *QueryBuilder {
	q.desc.NoCache = true
	return q
}

// Context attaches a value hooks can read from the descriptor.
func (q *QueryBuilder) Context(key string, value interface{}) *QueryBuilder {
	if q.desc.Context == nil {
		q.desc.Context = map[string]interface{}{}
	}
	q.desc.Context[key] = value
	return q
}

// Descriptor returns a copy of the descriptor built so far.
func (q *QueryBuilder) Descriptor() *Descriptor {
	return q.desc.Clone()
}

func (q *QueryBuilder) Exec(ctx context.Context) (*Result, error) {
	return q.engine.Query(ctx, q.desc.Clone())
}

func (q *QueryBuilder) All(ctx context.Context) ([]*Document, error) {
	d := q.desc.Clone()
	d.Single, d.CountOnly = false, false
	res, err := q.engine.Query(ctx, d)
	if err != nil {
		return nil, err
	}
	if res.Kind == ResultSingle {
		if res.Document == nil {
			return nil, nil
		}
		return []*Document{res.Document}, nil
	}
	return res.Documents, nil
}

func (q *QueryBuilder) One(ctx context.Context) (*Document, error) {
	d := q.desc.Clone()
	d.Single, d.CountOnly = true, false
	res, err := q.engine.Query(ctx, d)
	if err != nil {
		return nil, err
	}
	return res.Document, nil
}

func (q *QueryBuilder) Count(ctx context.Context) (int64, error) {
	d := q.desc.Clone()
	d.CountOnly = true
	res, err := q.engine.Query(ctx, d)
	if err != nil {
		return 0, err
	}
	if res.Kind != ResultCount {
		return int64(res.Len()), nil
	}
	return res.Count, nil
}
