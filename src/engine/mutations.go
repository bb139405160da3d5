package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"syndrodm/src/helpers"
	"syndrodm/src/hooks"
	"syndrodm/src/odmerr"
	"syndrodm/src/schema"

	"go.mongodb.org/mongo-driver/bson"
)

// Create validates fields against the collection schema, stores them and
// returns the tracked document. Populated references in fields are stored as
// their ids.
func (e *Engine) Create(ctx context.Context, collection string, fields bson.M) (doc *Document, err error) {
	start := time.Now()
	defer func() { observe(collection, "create", start, err) }()

	s, err := e.registry.Resolve(collection)
	if err != nil {
		return nil, err
	}
	data := helpers.NormalizeDoc(helpers.CloneDoc(fields))
	if data == nil {
		data = bson.M{}
	}
	if err := applyVirtuals(s, data); err != nil {
		return nil, err
	}
	s.ApplyDefaults(data)

	doc = e.wrap(s, data, false)
	if err := e.hooks.Fire(ctx, collection, hooks.EventCreate, doc); err != nil {
		hookAborts.WithLabelValues(collection, hooks.EventCreate).Inc()
		return nil, err
	}
	if err := s.Validate(doc.data, false); err != nil {
		return nil, err
	}
	fks, err := s.ForeignKeys()
	if err != nil {
		return nil, err
	}

	stored, err := e.driver.Insert(ctx, collection, depopulate(doc.data, fks))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", collection, err)
	}
	doc.data["_id"] = stored["_id"]
	doc.tracker.Reset(doc.data)
	e.logger.Debugw("document created", "collection", collection, "id", doc.ID())

	if err := e.hooks.Fire(ctx, collection, hooks.EventPostCreate, doc); err != nil {
		hookAborts.WithLabelValues(collection, hooks.EventPostCreate).Inc()
		return doc, committed(err)
	}
	return doc, nil
}

// Update loads the document with id, assigns fields (dotted paths allowed,
// nil unsets) and saves it.
func (e *Engine) Update(ctx context.Context, collection string, id interface{}, fields bson.M) (*Document, error) {
	doc, err := e.FindByID(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	for path, v := range fields {
		if v == nil {
			doc.Unset(path)
			continue
		}
		if err := doc.Set(path, v); err != nil {
			return nil, err
		}
	}
	if err := doc.Save(ctx); err != nil {
		if odmerr.IsCommitted(err) {
			return doc, err
		}
		return nil, err
	}
	return doc, nil
}

// Delete loads the document with id and deletes it.
func (e *Engine) Delete(ctx context.Context, collection string, id interface{}) (*Document, error) {
	doc, err := e.FindByID(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if err := doc.Delete(ctx); err != nil {
		if odmerr.IsCommitted(err) {
			return doc, err
		}
		return nil, err
	}
	return doc, nil
}

func (e *Engine) save(ctx context.Context, d *Document) (err error) {
	collection := d.Collection()
	start := time.Now()
	defer func() { observe(collection, "save", start, err) }()

	if d.detached {
		return odmerr.New(odmerr.KindNotFound, "save", collection, "", "document %v was deleted", d.ID())
	}
	if d.ID() == nil {
		return odmerr.New(odmerr.KindValidation, "save", collection, "_id", "document has no identity")
	}
	if err := e.hooks.Fire(ctx, collection, hooks.EventSave, d); err != nil {
		hookAborts.WithLabelValues(collection, hooks.EventSave).Inc()
		return err
	}
	d.schema.ApplyDefaults(d.data)
	if err := d.schema.Validate(d.data, d.partial); err != nil {
		return err
	}
	fks, err := d.schema.ForeignKeys()
	if err != nil {
		return err
	}

	update := e.buildUpdate(d, fks)
	if len(update) > 0 {
		stored, err := e.driver.Update(ctx, collection, d.ID(), update)
		if err != nil {
			return fmt.Errorf("save %s: %w", collection, err)
		}
		if stored == nil {
			return odmerr.New(odmerr.KindNotFound, "save", collection, "", "no document with id %v", d.ID())
		}
		e.logger.Debugw("document saved", "collection", collection, "id", d.ID(), "update", update)
	}
	d.tracker.Reset(d.data)

	if err := e.hooks.Fire(ctx, collection, hooks.EventPostSave, d); err != nil {
		hookAborts.WithLabelValues(collection, hooks.EventPostSave).Inc()
		return committed(err)
	}
	return nil
}

// buildUpdate turns the dirty paths of d into a $set/$unset document. A
// change below a reference saves the whole reference, as an id.
func (e *Engine) buildUpdate(d *Document, fks schema.ForeignKeyMap) bson.M {
	dirty := d.Modified()
	if len(dirty) == 0 {
		return nil
	}
	seen := map[string]struct{}{}
	var paths []string
	for _, p := range dirty {
		p = collapseToReference(fks, p)
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		paths = append(paths, p)
	}

	stored := depopulate(d.data, fks)
	set, unset := bson.M{}, bson.M{}
	for _, p := range paths {
		if p == "_id" {
			continue
		}
		v, ok := helpers.GetPath(stored, p)
		if !ok {
			unset[p] = ""
			continue
		}
		set[p] = v
	}
	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return update
}

func (e *Engine) deleteDocument(ctx context.Context, d *Document) (err error) {
	collection := d.Collection()
	start := time.Now()
	defer func() { observe(collection, "delete", start, err) }()

	if d.detached {
		return odmerr.New(odmerr.KindNotFound, "delete", collection, "", "document %v was already deleted", d.ID())
	}
	if err := e.hooks.Fire(ctx, collection, hooks.EventDelete, d); err != nil {
		hookAborts.WithLabelValues(collection, hooks.EventDelete).Inc()
		return err
	}
	removed, err := e.driver.Remove(ctx, collection, d.ID())
	if err != nil {
		return fmt.Errorf("delete %s: %w", collection, err)
	}
	if !removed {
		return odmerr.New(odmerr.KindNotFound, "delete", collection, "", "no document with id %v", d.ID())
	}
	d.detached = true
	e.logger.Debugw("document deleted", "collection", collection, "id", d.ID())

	if err := e.hooks.Fire(ctx, collection, hooks.EventPostDelete, d); err != nil {
		hookAborts.WithLabelValues(collection, hooks.EventPostDelete).Inc()
		return committed(err)
	}
	return nil
}

// committed flags a post hook failure as happening after the write.
func committed(err error) error {
	var oe *odmerr.Error
	if errors.As(err, &oe) {
		c := *oe
		c.Committed = true
		return &c
	}
	w := odmerr.Wrap(odmerr.KindHookAborted, "", "", err)
	w.Committed = true
	return w
}

// applyVirtuals moves virtual fields out of data through their setters.
func applyVirtuals(s *schema.Schema, data bson.M) error {
	for _, f := range s.Fields() {
		if !f.IsVirtual() {
			continue
		}
		v, ok := data[f.Name]
		if !ok {
			continue
		}
		delete(data, f.Name)
		if f.Setter == nil {
			return odmerr.New(odmerr.KindValidation, "create", s.Name(), f.Name, "virtual field is read only")
		}
		if err := f.Setter(data, v); err != nil {
			return odmerr.Wrap(odmerr.KindValidation, "create", s.Name(), err)
		}
	}
	return nil
}

// schemaPath drops array indexes from a document path so it can be looked up
// in a foreign-key map.
func schemaPath(path string) string {
	segs := helpers.SplitPath(path)
	out := segs[:0:0]
	for _, s := range segs {
		if _, err := strconv.Atoi(s); err == nil {
			continue
		}
		out = append(out, s)
	}
	return strings.Join(out, ".")
}

// collapseToReference shortens a path that descends into a (populated)
// reference to the reference itself.
func collapseToReference(fks schema.ForeignKeyMap, path string) string {
	segs := helpers.SplitPath(path)
	for i := 1; i < len(segs); i++ {
		prefix := strings.Join(segs[:i], ".")
		if fk, ok := fks[schemaPath(prefix)]; ok && fk.IsReference() {
			return prefix
		}
	}
	return path
}

// depopulate returns a copy of doc with every populated reference replaced
// by its id. Unresolved entries of reference arrays are dropped.
func depopulate(doc bson.M, fks schema.ForeignKeyMap) bson.M {
	out := helpers.CloneDoc(doc)
	for _, p := range fks.Paths() {
		fk := fks[p]
		if !fk.IsReference() {
			continue
		}
		helpers.WalkPath(out, helpers.SplitPath(fk.Path), func(holder map[string]interface{}, key string) {
			val, ok := holder[key]
			if !ok || val == nil {
				return
			}
			if fk.Kind != schema.KindReferenceArray {
				if id, ok := refID(val); ok {
					holder[key] = id
				}
				return
			}
			items, isSlice := helpers.AsSlice(val)
			if !isSlice {
				return
			}
			ids := make(bson.A, 0, len(items))
			for _, item := range items {
				if id, ok := refID(item); ok {
					ids = append(ids, id)
				}
			}
			holder[key] = ids
		})
	}
	return out
}
