// Package driver defines the storage boundary the engine talks to and the
// drivers shipped with it: in-memory, file backed and MongoDB.
package driver

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// FindOptions are applied by the driver to a single fetch.
type FindOptions struct {
	Sort       bson.D
	Skip       int64
	Limit      int64
	Projection bson.M
}

// Driver is the storage boundary. FindOne returns a nil document without an
// error when nothing matches; Update returns nil the same way and Remove
// reports whether a document was removed.
//
// Update accepts either plain fields (treated as $set) or an update
// document made of $set and $unset.
type Driver interface {
	FindOne(ctx context.Context, collection string, filter bson.M, opts *FindOptions) (bson.M, error)
	Find(ctx context.Context, collection string, filter bson.M, opts *FindOptions) ([]bson.M, error)
	Count(ctx context.Context, collection string, filter bson.M) (int64, error)
	Insert(ctx context.Context, collection string, fields bson.M) (bson.M, error)
	Update(ctx context.Context, collection string, id interface{}, fields bson.M) (bson.M, error)
	Remove(ctx context.Context, collection string, id interface{}) (bool, error)
	Close(ctx context.Context) error
}

// splitUpdate separates an update document into the fields to set and the
// paths to unset.
func splitUpdate(fields bson.M) (set bson.M, unset []string) {
	set = bson.M{}
	hasOps := false
	for k, v := range fields {
		switch k {
		case "$set":
			hasOps = true
			if m, ok := v.(bson.M); ok {
				for p, val := range m {
					set[p] = val
				}
			} else if m, ok := v.(map[string]interface{}); ok {
				for p, val := range m {
					set[p] = val
				}
			}
		case "$unset":
			hasOps = true
			switch u := v.(type) {
			case bson.M:
				for p := range u {
					unset = append(unset, p)
				}
			case map[string]interface{}:
				for p := range u {
					unset = append(unset, p)
				}
			case []string:
				unset = append(unset, u...)
			}
		}
	}
	if hasOps {
		return set, unset
	}
	for k, v := range fields {
		set[k] = v
	}
	return set, nil
}
