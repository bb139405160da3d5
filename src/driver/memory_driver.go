package driver

import (
	"context"
	"fmt"
	"sync"

	"syndrodm/src/helpers"
	"syndrodm/src/matcher"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

type memCollection struct {
	docs []bson.M
	byID map[string]int
}

func (c *memCollection) reindex() {
	c.byID = make(map[string]int, len(c.docs))
	for i, d := range c.docs {
		c.byID[helpers.IDKey(d["_id"])] = i
	}
}

// MemoryDriver keeps every collection in memory. Documents handed out are
// copies; documents handed in are copied before they are stored.
type MemoryDriver struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
	logger      *zap.SugaredLogger

	// persist is called with the full content of a collection after every
	// mutation, while the write lock is held.
	persist func(collection string, docs []bson.M) error
}

func NewMemoryDriver(logger *zap.SugaredLogger) *MemoryDriver {
	return &MemoryDriver{
		collections: make(map[string]*memCollection),
		logger:      helpers.OrNop(logger),
	}
}

// Load replaces the content of a collection.
func (d *MemoryDriver) Load(collection string, docs []bson.M) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &memCollection{docs: make([]bson.M, 0, len(docs))}
	for _, doc := range docs {
		c.docs = append(c.docs, helpers.CloneDoc(doc))
	}
	c.reindex()
	d.collections[collection] = c
}

// Collections lists the collections that hold data.
func (d *MemoryDriver) Collections() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.collections))
	for name := range d.collections {
		out = append(out, name)
	}
	return out
}

func (d *MemoryDriver) coll(name string) *memCollection {
	c, ok := d.collections[name]
	if !ok {
		c = &memCollection{byID: map[string]int{}}
		d.collections[name] = c
	}
	return c
}

// match returns the stored documents (not copies) matching filter, in
// insertion order.
func (d *MemoryDriver) match(collection string, filter bson.M) ([]bson.M, error) {
	c, ok := d.collections[collection]
	if !ok {
		return nil, nil
	}
	if id, only := idOnly(filter); only {
		if i, found := c.byID[helpers.IDKey(id)]; found {
			return []bson.M{c.docs[i]}, nil
		}
		return nil, nil
	}
	var out []bson.M
	for _, doc := range c.docs {
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

// idOnly reports whether filter is a plain {_id: value} lookup.
func idOnly(filter bson.M) (interface{}, bool) {
	if len(filter) != 1 {
		return nil, false
	}
	id, ok := filter["_id"]
	if !ok || id == nil {
		return nil, false
	}
	if _, isMap := helpers.AsMap(id); isMap {
		return nil, false
	}
	if _, isSlice := helpers.AsSlice(id); isSlice {
		return nil, false
	}
	return id, true
}

func (d *MemoryDriver) FindOne(ctx context.Context, collection string, filter bson.M, opts *FindOptions) (bson.M, error) {
	o := FindOptions{Limit: 1}
	if opts != nil {
		o = *opts
		o.Limit = 1
	}
	docs, err := d.Find(ctx, collection, filter, &o)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

func (d *MemoryDriver) Find(ctx context.Context, collection string, filter bson.M, opts *FindOptions) ([]bson.M, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	matched, err := d.match(collection, filter)
	var out []bson.M
	if err == nil {
		out = make([]bson.M, len(matched))
		for i, doc := range matched {
			out[i] = helpers.CloneDoc(doc)
		}
	}
	d.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}

	if opts == nil {
		return out, nil
	}
	matcher.SortDocuments(out, opts.Sort)
	if opts.Skip > 0 {
		if opts.Skip >= int64(len(out)) {
			out = out[:0]
		} else {
			out = out[opts.Skip:]
		}
	}
	if opts.Limit > 0 && opts.Limit < int64(len(out)) {
		out = out[:opts.Limit]
	}
	if len(opts.Projection) > 0 {
		for i, doc := range out {
			out[i] = matcher.Project(doc, opts.Projection)
		}
	}
	return out, nil
}

func (d *MemoryDriver) Count(ctx context.Context, collection string, filter bson.M) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	matched, err := d.match(collection, filter)
	if err != nil {
		return 0, fmt.Errorf("count in %s: %w", collection, err)
	}
	return int64(len(matched)), nil
}

func (d *MemoryDriver) Insert(ctx context.Context, collection string, fields bson.M) (bson.M, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc := helpers.CloneDoc(fields)
	if doc == nil {
		doc = bson.M{}
	}
	if id, ok := doc["_id"]; !ok || id == nil {
		doc["_id"] = helpers.GenerateUUID()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.coll(collection)
	key := helpers.IDKey(doc["_id"])
	if _, exists := c.byID[key]; exists {
		return nil, fmt.Errorf("insert into %s: duplicate _id %s", collection, key)
	}
	c.docs = append(c.docs, doc)
	c.byID[key] = len(c.docs) - 1
	if err := d.flush(collection, c); err != nil {
		c.docs = c.docs[:len(c.docs)-1]
		delete(c.byID, key)
		return nil, err
	}
	d.logger.Debugw("inserted document", "collection", collection, "id", key)
	return helpers.CloneDoc(doc), nil
}

func (d *MemoryDriver) Update(ctx context.Context, collection string, id interface{}, fields bson.M) (bson.M, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	set, unset := splitUpdate(fields)

	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.collections[collection]
	if !ok {
		return nil, nil
	}
	i, found := c.byID[helpers.IDKey(id)]
	if !found {
		return nil, nil
	}

	updated := helpers.CloneDoc(c.docs[i])
	for path, v := range set {
		if path == "_id" {
			continue
		}
		if err := helpers.SetPath(updated, path, helpers.Clone(v)); err != nil {
			return nil, fmt.Errorf("update %s/%v: %w", collection, id, err)
		}
	}
	for _, path := range unset {
		helpers.UnsetPath(updated, path)
	}

	previous := c.docs[i]
	c.docs[i] = updated
	if err := d.flush(collection, c); err != nil {
		c.docs[i] = previous
		return nil, err
	}
	return helpers.CloneDoc(updated), nil
}

func (d *MemoryDriver) Remove(ctx context.Context, collection string, id interface{}) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.collections[collection]
	if !ok {
		return false, nil
	}
	i, found := c.byID[helpers.IDKey(id)]
	if !found {
		return false, nil
	}

	previous := c.docs
	docs := make([]bson.M, 0, len(c.docs)-1)
	docs = append(docs, c.docs[:i]...)
	docs = append(docs, c.docs[i+1:]...)
	c.docs = docs
	c.reindex()
	if err := d.flush(collection, c); err != nil {
		c.docs = previous
		c.reindex()
		return false, err
	}
	return true, nil
}

func (d *MemoryDriver) Close(ctx context.Context) error {
	return nil
}

func (d *MemoryDriver) flush(collection string, c *memCollection) error {
	if d.persist == nil {
		return nil
	}
	if err := d.persist(collection, c.docs); err != nil {
		return fmt.Errorf("persist %s: %w", collection, err)
	}
	return nil
}
