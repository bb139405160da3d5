package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"syndrodm/src/driver"
	"syndrodm/src/helpers"
	"syndrodm/src/hooks"
	"syndrodm/src/odmerr"
	"syndrodm/src/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

// countingDriver records the storage calls made per collection.
type countingDriver struct {
	*driver.MemoryDriver

	mu      sync.Mutex
	finds   map[string]int
	updates int
	inserts int
	removes int
}

func (c *countingDriver) Find(ctx context.Context, collection string, filter bson.M, opts *driver.FindOptions) ([]bson.M, error) {
	c.mu.Lock()
	c.finds[collection]++
	c.mu.Unlock()
	return c.MemoryDriver.Find(ctx, collection, filter, opts)
}

func (c *countingDriver) Insert(ctx context.Context, collection string, fields bson.M) (bson.M, error) {
	c.mu.Lock()
	c.inserts++
	c.mu.Unlock()
	return c.MemoryDriver.Insert(ctx, collection, fields)
}

func (c *countingDriver) Update(ctx context.Context, collection string, id interface{}, fields bson.M) (bson.M, error) {
	c.mu.Lock()
	c.updates++
	c.mu.Unlock()
	return c.MemoryDriver.Update(ctx, collection, id, fields)
}

func (c *countingDriver) Remove(ctx context.Context, collection string, id interface{}) (bool, error) {
	c.mu.Lock()
	c.removes++
	c.mu.Unlock()
	return c.MemoryDriver.Remove(ctx, collection, id)
}

func (c *countingDriver) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finds = map[string]int{}
	c.updates, c.inserts, c.removes = 0, 0, 0
}

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	r := schema.NewRegistry()
	_, err := r.Declare("stores",
		schema.ID("_id"),
		schema.String("name").Require(),
		schema.String("city"),
	)
	require.NoError(t, err)
	_, err = r.Declare("widgets",
		schema.ID("_id"),
		schema.String("name").Require(),
		schema.String("color").WithEnum("red", "green", "blue"),
		schema.Number("number"),
		schema.Ref("store", "stores"),
	)
	require.NoError(t, err)
	_, err = r.Declare("users",
		schema.ID("_id"),
		schema.String("name").Require(),
		schema.String("color"),
		schema.Ref("favourite", "widgets"),
		schema.RefArray("wishlist", "widgets"),
		schema.SubArray("mostPurchased",
			schema.Number("number").WithDefault(1),
			schema.Ref("item", "widgets"),
		),
		schema.Sub("address",
			schema.String("street"),
			schema.Sub("geo", schema.Number("lat"), schema.Ref("nearest", "stores")),
		),
		schema.Virtual("display",
			func(doc bson.M) interface{} {
				name, _ := doc["name"].(string)
				return "@" + name
			},
			nil,
		),
	)
	require.NoError(t, err)
	_, err = r.Declare("ghosts",
		schema.ID("_id"),
		schema.Ref("haunts", "nowhere"),
	)
	require.NoError(t, err)
	return r
}

func seed(d *driver.MemoryDriver) {
	d.Load("stores", []bson.M{
		{"_id": "s1", "name": "central", "city": "Paris"},
	})
	d.Load("widgets", []bson.M{
		{"_id": "w1", "name": "alpha", "color": "blue", "number": 1},
		{"_id": "w2", "name": "beta", "color": "blue", "number": 2},
		{"_id": "w3", "name": "gamma", "color": "red", "number": 3, "store": "s1"},
	})
	d.Load("users", []bson.M{
		{
			"_id": "u1", "name": "ann", "color": "blue",
			"favourite": "w1",
			"wishlist":  bson.A{"w1", "w2", "gone"},
			"mostPurchased": bson.A{
				bson.M{"_id": "mp1", "number": 5, "item": "w3"},
				bson.M{"_id": "mp2", "number": 2, "item": "deleted"},
			},
			"address": bson.M{"street": "rue", "geo": bson.M{"lat": 48.8, "nearest": "s1"}},
		},
		{"_id": "u2", "name": "bob", "color": "red", "favourite": "w3", "wishlist": bson.A{}},
		{"_id": "u3", "name": "cat", "favourite": "w2"},
	})
	d.Load("ghosts", []bson.M{{"_id": "g1", "haunts": "x"}})
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *countingDriver) {
	t.Helper()
	mem := driver.NewMemoryDriver(nil)
	seed(mem)
	drv := &countingDriver{MemoryDriver: mem}
	drv.reset()
	return New(testRegistry(t), drv, nil, nil, opts...), drv
}

func TestCountWidgets(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	res, err := e.QueryMap(ctx, map[string]interface{}{"$collection": "widgets", "$count": true, "color": "blue"})
	require.NoError(t, err)
	assert.Equal(t, ResultCount, res.Kind)
	assert.EqualValues(t, 2, res.Count)

	n, err := e.Count(ctx, "widgets", bson.M{"color": "purple"})
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestQueryInvalidCollection(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Query(context.Background(), &Descriptor{Collection: "nope"})
	assert.True(t, errors.Is(err, odmerr.ErrInvalidCollection))
}

func TestQueryByID(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	res, err := e.Query(ctx, &Descriptor{Collection: "widgets", ID: "w2"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Len())
	name, _ := res.Document.Get("name")
	assert.Equal(t, "beta", name)

	_, err = e.Query(ctx, &Descriptor{Collection: "widgets", ID: "missing"})
	assert.True(t, errors.Is(err, odmerr.ErrNotFound))

	res, err = e.Query(ctx, &Descriptor{Collection: "widgets", ID: "missing", IgnoreNotFound: true})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Len())
	assert.Nil(t, res.Document)
	assert.Nil(t, res.Value())
}

func TestQueryByIDIgnoresFilter(t *testing.T) {
	e, drv := newTestEngine(t)
	ctx := context.Background()

	res, err := e.Query(ctx, &Descriptor{Collection: "users", ID: "u2", Filter: bson.M{"favourite.color": "blue", "name": "ann"}})
	require.NoError(t, err)
	require.NotNil(t, res.Document)
	fav, _ := res.Document.Get("favourite")
	assert.Equal(t, "w3", fav)
	assert.Zero(t, drv.finds["widgets"])

	res, err = e.Query(ctx, &Descriptor{Collection: "ghosts", ID: "g1", Filter: bson.M{"haunts.x": 1}})
	require.NoError(t, err)
	assert.Equal(t, "g1", res.Document.ID())
}

func TestQuerySortSkipLimit(t *testing.T) {
	e, _ := newTestEngine(t)
	docs, err := e.Collection("widgets").Find(nil).Sort("-number").Skip(1).Limit(1).All(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "w2", docs[0].ID())
}

func TestQuerySelect(t *testing.T) {
	e, _ := newTestEngine(t)
	doc, err := e.Collection("users").Find(bson.M{"name": "bob"}).Select("name").One(context.Background())
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.True(t, doc.Partial())
	_, has := doc.Get("color")
	assert.False(t, has)

	_, err = e.QueryMap(context.Background(), map[string]interface{}{
		"$collection": "users", "$select": []interface{}{"name", "-color"},
	})
	assert.True(t, errors.Is(err, odmerr.ErrMalformedDescriptor))
}

func TestPopulateBatchesPerTarget(t *testing.T) {
	e, drv := newTestEngine(t)
	docs, err := e.Find(context.Background(), "users", nil, "favourite", "wishlist")
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, 1, drv.finds["users"])
	assert.Equal(t, 1, drv.finds["widgets"], "one fetch for every widget reference")

	fav, _ := docs[0].Get("favourite.name")
	assert.Equal(t, "alpha", fav)

	wish, _ := docs[0].Get("wishlist")
	require.Len(t, wish, 3)
	assert.Nil(t, wish.(bson.A)[2])
	assert.False(t, docs[0].IsModified(), "population is not a modification")
}

func TestPopulateDropUnresolved(t *testing.T) {
	e, _ := newTestEngine(t, WithDropUnresolved())
	doc, err := e.FindByID(context.Background(), "users", "u1", "wishlist")
	require.NoError(t, err)
	wish, _ := doc.Get("wishlist")
	assert.Len(t, wish, 2)
}

func TestPopulateRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := e.Create(ctx, "users", bson.M{"name": "dan", "favourite": "w1"})
	require.NoError(t, err)

	raw, err := e.FindByID(ctx, "users", created.ID())
	require.NoError(t, err)
	rawFav, _ := raw.Get("favourite")
	assert.Equal(t, "w1", rawFav)

	populated, err := e.FindByID(ctx, "users", created.ID(), "favourite")
	require.NoError(t, err)
	popID, _ := populated.Get("favourite._id")
	assert.Equal(t, rawFav, popID)
	name, _ := populated.Get("favourite.name")
	assert.Equal(t, "alpha", name)
}

func TestPopulateArraySubDocuments(t *testing.T) {
	e, _ := newTestEngine(t)
	doc, err := e.FindByID(context.Background(), "users", "u1", "mostPurchased.item")
	require.NoError(t, err)

	item, _ := doc.Get("mostPurchased.0.item.name")
	assert.Equal(t, "gamma", item)

	missing, has := doc.Get("mostPurchased.1.item")
	assert.True(t, has)
	assert.Nil(t, missing)
	number, _ := doc.Get("mostPurchased.1.number")
	assert.EqualValues(t, 2, number)
}

func TestPopulateMultiHop(t *testing.T) {
	e, drv := newTestEngine(t)
	doc, err := e.FindByID(context.Background(), "users", "u1", "mostPurchased.item.store", "address.geo.nearest")
	require.NoError(t, err)

	city, _ := doc.Get("mostPurchased.0.item.store.city")
	assert.Equal(t, "Paris", city)
	nearest, _ := doc.Get("address.geo.nearest.name")
	assert.Equal(t, "central", nearest)
	assert.Equal(t, 1, drv.finds["widgets"])
}

func TestPopulateSubDocumentExpands(t *testing.T) {
	e, _ := newTestEngine(t)
	doc, err := e.FindByID(context.Background(), "users", "u1", "address")
	require.NoError(t, err)
	name, _ := doc.Get("address.geo.nearest.name")
	assert.Equal(t, "central", name)
}

func TestPopulateErrors(t *testing.T) {
	e, drv := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		collection string
		path       string
	}{
		{"unknown field", "users", "nope"},
		{"not a reference", "users", "name"},
		{"unknown target", "ghosts", "haunts"},
		{"unknown nested", "users", "favourite.nope.deeper"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv.reset()
			_, err := e.Find(ctx, tt.collection, nil, tt.path)
			assert.True(t, errors.Is(err, odmerr.ErrPopulate), "got %v", err)
		})
	}
}

func TestDeferredFilter(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	docs, err := e.Find(ctx, "users", bson.M{"favourite.color": "red"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "u2", docs[0].ID())

	n, err := e.Count(ctx, "users", bson.M{"favourite.color": "blue"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	docs, err = e.Find(ctx, "users", bson.M{"$or": bson.A{
		bson.M{"favourite.name": "beta"},
		bson.M{"name": "bob"},
	}})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestQueryHooks(t *testing.T) {
	e, drv := newTestEngine(t)
	ctx := context.Background()

	var order []string
	e.Hook("widgets", hooks.EventQuery, func(ctx context.Context, inv *hooks.Invocation) error {
		order = append(order, "first")
		inv.Arg(0).(*Descriptor).Filter["color"] = "red"
		return nil
	})
	e.Hook("widgets", hooks.EventQuery, func(ctx context.Context, inv *hooks.Invocation) error {
		order = append(order, "second")
		return nil
	})
	e.On("widgets", hooks.EventPostQuery, func(ctx context.Context, inv *hooks.Invocation) error {
		order = append(order, "listener")
		return nil
	})

	caller := &Descriptor{Collection: "widgets", Filter: bson.M{}}
	res, err := e.Query(ctx, caller)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Len())
	assert.Equal(t, []string{"first", "second", "listener"}, order)
	assert.Empty(t, caller.Filter, "hooks work on a copy")

	boom := errors.New("boom")
	e.Hook("stores", hooks.EventQuery, func(ctx context.Context, inv *hooks.Invocation) error { return boom })
	drv.reset()
	_, err = e.Find(ctx, "stores", nil)
	assert.True(t, errors.Is(err, odmerr.ErrHookAborted))
	assert.True(t, errors.Is(err, boom))
	assert.Zero(t, drv.finds["stores"])
}

func TestPostQueryHookError(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Hook("widgets", hooks.EventPostQuery, func(ctx context.Context, inv *hooks.Invocation) error {
		return errors.New("no")
	})
	res, err := e.Find(context.Background(), "widgets", nil)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, odmerr.ErrHookAborted))
}

func TestSaveTracksModifications(t *testing.T) {
	e, drv := newTestEngine(t)
	ctx := context.Background()

	doc, err := e.FindByID(ctx, "users", "u2")
	require.NoError(t, err)
	assert.False(t, doc.IsModified())

	require.NoError(t, doc.Set("color", "green"))
	assert.Equal(t, []string{"color"}, doc.Modified())
	assert.True(t, doc.IsModified("color"))
	assert.False(t, doc.IsModified("name"))

	require.NoError(t, doc.Save(ctx))
	assert.False(t, doc.IsModified())
	assert.Equal(t, 1, drv.updates)

	reloaded, err := e.FindByID(ctx, "users", "u2")
	require.NoError(t, err)
	color, _ := reloaded.Get("color")
	assert.Equal(t, "green", color)

	require.NoError(t, reloaded.Save(ctx))
	assert.Equal(t, 1, drv.updates, "nothing to write")
}

func TestSaveArrayElementOfTypedSlice(t *testing.T) {
	e, drv := newTestEngine(t)
	ctx := context.Background()

	doc, err := e.Create(ctx, "widgets", bson.M{
		"name": "delta",
		"tags": []string{"a", "b"},
		"dims": bson.D{{Key: "w", Value: 1}},
	})
	require.NoError(t, err)

	require.NoError(t, doc.Set("tags.0", "z"))
	require.NoError(t, doc.Set("dims.w", 2))
	tag, _ := doc.Get("tags.0")
	assert.Equal(t, "z", tag)
	assert.Equal(t, []string{"dims.w", "tags.0"}, doc.Modified())
	require.NoError(t, doc.Save(ctx))

	stored, err := e.Driver().FindOne(ctx, "widgets", bson.M{"_id": doc.ID()}, nil)
	require.NoError(t, err)
	tag, _ = helpers.GetPath(stored, "tags.0")
	assert.Equal(t, "z", tag)
	w, _ := helpers.GetPath(stored, "dims.w")
	assert.EqualValues(t, 2, w)

	// loaded documents carry whatever slice type the driver holds
	drv.Load("widgets", []bson.M{{"_id": "w9", "name": "eta", "tags": []string{"x", "y"}}})
	loaded, err := e.FindByID(ctx, "widgets", "w9")
	require.NoError(t, err)
	require.NoError(t, loaded.Set("tags.1", "q"))
	require.NoError(t, loaded.Save(ctx))
	stored, err = e.Driver().FindOne(ctx, "widgets", bson.M{"_id": "w9"}, nil)
	require.NoError(t, err)
	tag, _ = helpers.GetPath(stored, "tags.1")
	assert.Equal(t, "q", tag)
}

func TestSaveUnsetAndValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	doc, err := e.FindByID(ctx, "users", "u1")
	require.NoError(t, err)
	doc.Unset("address")
	require.NoError(t, doc.Save(ctx))

	reloaded, err := e.FindByID(ctx, "users", "u1")
	require.NoError(t, err)
	_, has := reloaded.Get("address")
	assert.False(t, has)

	require.NoError(t, reloaded.Set("favourite", 12.5))
	require.NoError(t, reloaded.Set("name", 3))
	err = reloaded.Save(ctx)
	var oe *odmerr.Error
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, odmerr.KindValidation, oe.Kind)
	assert.Equal(t, "name", oe.Path)

	assert.Error(t, reloaded.Set("_id", "other"))
	assert.Error(t, reloaded.Set("display", "x"))
}

func TestSavePopulatedReferenceStoresID(t *testing.T) {
	e, drv := newTestEngine(t)
	ctx := context.Background()

	doc, err := e.FindByID(ctx, "users", "u1", "favourite", "wishlist")
	require.NoError(t, err)
	require.NoError(t, doc.Set("favourite.name", "renamed"))
	require.NoError(t, doc.Set("wishlist", bson.A{bson.M{"_id": "w3", "name": "gamma"}}))
	assert.Equal(t, []string{"favourite.name", "wishlist"}, doc.Modified())
	require.NoError(t, doc.Save(ctx))

	raw, err := drv.MemoryDriver.FindOne(ctx, "users", bson.M{"_id": "u1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "w1", raw["favourite"])
	assert.Equal(t, bson.A{"w3"}, raw["wishlist"])

	widget, err := drv.MemoryDriver.FindOne(ctx, "widgets", bson.M{"_id": "w1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "alpha", widget["name"])

	local, _ := doc.Get("favourite.name")
	assert.Equal(t, "renamed", local)
}

func TestSaveHooks(t *testing.T) {
	e, drv := newTestEngine(t)
	ctx := context.Background()

	listened := false
	e.Hook("users", hooks.EventSave, func(ctx context.Context, inv *hooks.Invocation) error {
		doc := inv.Arg(0).(*Document)
		if doc.IsModified("color") {
			return errors.New("color is frozen")
		}
		return nil
	})
	e.On("users", hooks.EventSave, func(ctx context.Context, inv *hooks.Invocation) error {
		listened = true
		return nil
	})

	doc, err := e.FindByID(ctx, "users", "u3")
	require.NoError(t, err)
	require.NoError(t, doc.Set("color", "red"))
	err = doc.Save(ctx)
	assert.True(t, errors.Is(err, odmerr.ErrHookAborted))
	assert.False(t, odmerr.IsCommitted(err))
	assert.Zero(t, drv.updates)
	assert.False(t, listened)
	assert.True(t, doc.IsModified("color"))
}

func TestPostSaveHookIsCommitted(t *testing.T) {
	e, drv := newTestEngine(t)
	ctx := context.Background()
	e.Hook("users", hooks.EventPostSave, func(ctx context.Context, inv *hooks.Invocation) error {
		return errors.New("audit down")
	})

	doc, err := e.Update(ctx, "users", "u3", bson.M{"color": "green"})
	require.Error(t, err)
	assert.True(t, odmerr.IsCommitted(err))
	require.NotNil(t, doc)
	assert.Equal(t, 1, drv.updates)

	raw, err := drv.MemoryDriver.FindOne(ctx, "users", bson.M{"_id": "u3"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "green", raw["color"])
}

func TestCreate(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	var created []string
	e.On("users", hooks.EventPostCreate, func(ctx context.Context, inv *hooks.Invocation) error {
		created = append(created, inv.Arg(0).(*Document).ID().(string))
		return nil
	})

	doc, err := e.Create(ctx, "users", bson.M{
		"name":          "dan",
		"favourite":     bson.M{"_id": "w2", "name": "beta"},
		"mostPurchased": bson.A{bson.M{"item": "w1"}},
	})
	require.NoError(t, err)
	require.NotNil(t, doc.ID())
	assert.Equal(t, []string{doc.ID().(string)}, created)
	assert.False(t, doc.IsModified())

	number, _ := doc.Get("mostPurchased.0.number")
	assert.EqualValues(t, 1, number)
	_, hasID := doc.Get("mostPurchased.0._id")
	assert.True(t, hasID)

	stored, err := e.FindByID(ctx, "users", doc.ID())
	require.NoError(t, err)
	fav, _ := stored.Get("favourite")
	assert.Equal(t, "w2", fav)
	display, _ := stored.Get("display")
	assert.Equal(t, "@dan", display)

	_, err = e.Create(ctx, "users", bson.M{"color": "red"})
	assert.True(t, errors.Is(err, odmerr.ErrValidation))

	_, err = e.Create(ctx, "widgets", bson.M{"name": "delta", "color": "purple"})
	assert.True(t, errors.Is(err, odmerr.ErrValidation))
}

func TestCreateHookAbortSkipsInsert(t *testing.T) {
	e, drv := newTestEngine(t)
	e.Hook("widgets", hooks.EventCreate, func(ctx context.Context, inv *hooks.Invocation) error {
		return errors.New("read only")
	})
	_, err := e.Collection("widgets").Create(context.Background(), bson.M{"name": "delta"})
	assert.True(t, errors.Is(err, odmerr.ErrHookAborted))
	assert.Zero(t, drv.inserts)
}

func TestDelete(t *testing.T) {
	e, drv := newTestEngine(t)
	ctx := context.Background()

	var deleted interface{}
	e.On("widgets", hooks.EventPostDelete, func(ctx context.Context, inv *hooks.Invocation) error {
		deleted = inv.Arg(0).(*Document).ID()
		return nil
	})

	doc, err := e.Delete(ctx, "widgets", "w1")
	require.NoError(t, err)
	assert.True(t, doc.Detached())
	assert.Equal(t, "w1", deleted)
	assert.Equal(t, 1, drv.removes)

	assert.True(t, errors.Is(doc.Save(ctx), odmerr.ErrNotFound))
	assert.True(t, errors.Is(doc.Delete(ctx), odmerr.ErrNotFound))

	_, err = e.Delete(ctx, "widgets", "w1")
	assert.True(t, errors.Is(err, odmerr.ErrNotFound))

	user, err := e.FindByID(ctx, "users", "u1", "favourite")
	require.NoError(t, err)
	fav, has := user.Get("favourite")
	assert.True(t, has)
	assert.Nil(t, fav)
}

func TestDocumentFireAndMarshal(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	var got []interface{}
	e.Hook("widgets", "audit", func(ctx context.Context, inv *hooks.Invocation) error {
		got = inv.Args
		return nil
	})
	doc, err := e.FindByID(ctx, "widgets", "w1")
	require.NoError(t, err)
	require.NoError(t, doc.Fire(ctx, "audit", "extra"))
	require.Len(t, got, 2)
	assert.Same(t, doc, got[0])
	assert.Equal(t, "extra", got[1])

	out, err := doc.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"_id":"w1","name":"alpha","color":"blue","number":1}`, string(out))
	assert.Equal(t, "widgets(w1)", doc.String())
}

func TestDocumentPopulateKeepsDirtySet(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	doc, err := e.FindByID(ctx, "users", "u2")
	require.NoError(t, err)
	require.NoError(t, doc.Set("color", "blue"))
	require.NoError(t, doc.Populate(ctx, "favourite"))
	assert.Equal(t, []string{"color"}, doc.Modified())

	m := doc.ToMap(true)
	assert.Equal(t, "@bob", m["display"])
}
