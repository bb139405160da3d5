package engine

import (
	"context"
	"fmt"

	"syndrodm/src/helpers"
	"syndrodm/src/odmerr"
	"syndrodm/src/schema"
	"syndrodm/src/tracker"

	"github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson"
)

// Document is a stored record. Its data is a plain bson.M; the engine,
// schema and change tracker live beside it, so serialising a Document only
// ever yields the data.
type Document struct {
	data bson.M

	engine   *Engine
	schema   *schema.Schema
	tracker  *tracker.Tracker
	partial  bool
	detached bool
}

func (e *Engine) wrap(s *schema.Schema, data bson.M, partial bool) *Document {
	if data == nil {
		data = bson.M{}
	}
	return &Document{
		data:    data,
		engine:  e,
		schema:  s,
		tracker: tracker.New(data),
		partial: partial,
	}
}

func (d *Document) ID() interface{} {
	return d.data["_id"]
}

func (d *Document) Collection() string {
	return d.schema.Name()
}

func (d *Document) Schema() *schema.Schema {
	return d.schema
}

// Data returns the live data map. Direct edits are picked up by Modified
// through the snapshot diff.
func (d *Document) Data() bson.M {
	return d.data
}

// Partial reports whether the document was loaded through a field
// selection.
func (d *Document) Partial() bool {
	return d.partial
}

// Detached reports whether the document was deleted.
func (d *Document) Detached() bool {
	return d.detached
}

// Get reads a dotted path. Virtual fields are computed by their getter.
func (d *Document) Get(path string) (interface{}, bool) {
	if f, ok := d.schema.Virtual(path); ok {
		if f.Getter == nil {
			return nil, false
		}
		return f.Getter(d.data), true
	}
	return helpers.GetPath(d.data, path)
}

// Set assigns a dotted path and marks it dirty. Assigning a virtual field
// runs its setter, which marks whatever stored fields it changed through the
// snapshot diff.
func (d *Document) Set(path string, value interface{}) error {
	if f, ok := d.schema.Virtual(path); ok {
		if f.Setter == nil {
			return odmerr.New(odmerr.KindValidation, "set", d.Collection(), path, "virtual field is read only")
		}
		return f.Setter(d.data, value)
	}
	if path == "_id" {
		return odmerr.New(odmerr.KindValidation, "set", d.Collection(), path, "identity cannot be changed")
	}
	if err := helpers.SetPath(d.data, path, value); err != nil {
		return odmerr.Wrap(odmerr.KindValidation, "set", d.Collection(), err)
	}
	d.tracker.Mark(path)
	return nil
}

// Unset removes a dotted path.
func (d *Document) Unset(path string) {
	if helpers.UnsetPath(d.data, path) {
		d.tracker.Mark(path)
	}
}

// Modified lists the dirty paths, sorted.
func (d *Document) Modified() []string {
	return d.tracker.Modified(d.data)
}

// IsModified reports whether any of the paths is dirty. Without a path it
// reports whether anything is; see Modified for the sorted list.
func (d *Document) IsModified(path ...string) bool {
	if len(path) == 0 {
		return len(d.Modified()) > 0
	}
	for _, p := range path {
		if d.tracker.IsModified(d.data, p) {
			return true
		}
	}
	return false
}

// Fire runs the hooks and listeners of a custom event with the document as
// first argument.
func (d *Document) Fire(ctx context.Context, event string, args ...interface{}) error {
	return d.engine.hooks.Fire(ctx, d.Collection(), event, append([]interface{}{d}, args...)...)
}

// Populate resolves references of this document in place. Population does
// not count as a modification.
func (d *Document) Populate(ctx context.Context, paths ...string) error {
	dirty := d.Modified()
	if err := d.engine.populate(ctx, d.schema, []bson.M{d.data}, paths, false); err != nil {
		return err
	}
	d.tracker.Reset(d.data)
	for _, p := range dirty {
		d.tracker.Mark(p)
	}
	return nil
}

// Save writes the dirty paths. References that were populated are stored as
// their ids again.
func (d *Document) Save(ctx context.Context) error {
	return d.engine.save(ctx, d)
}

// Delete removes the document from storage and detaches it.
func (d *Document) Delete(ctx context.Context) error {
	return d.engine.deleteDocument(ctx, d)
}

// ToMap returns a copy of the data, optionally with virtual fields computed.
func (d *Document) ToMap(virtuals bool) bson.M {
	out := helpers.CloneDoc(d.data)
	if !virtuals {
		return out
	}
	for _, f := range d.schema.Fields() {
		if f.IsVirtual() && f.Getter != nil {
			out[f.Name] = f.Getter(d.data)
		}
	}
	return out
}

func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.data)
}

func (d *Document) MarshalBSON() ([]byte, error) {
	return bson.Marshal(d.data)
}

func (d *Document) String() string {
	return fmt.Sprintf("%s(%v)", d.Collection(), d.ID())
}
