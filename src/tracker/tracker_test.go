package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
)

func sample() bson.M {
	return bson.M{
		"_id":   "u1",
		"name":  "ann",
		"age":   31,
		"tags":  bson.A{"a", "b"},
		"items": bson.A{bson.M{"_id": "i1", "qty": 1}, bson.M{"_id": "i2", "qty": 2}},
		"address": bson.M{
			"street": "main",
			"geo":    bson.M{"lat": 1.5, "lng": 2.5},
		},
	}
}

func TestUnchanged(t *testing.T) {
	doc := sample()
	tr := New(doc)
	assert.Empty(t, tr.Modified(doc))
	assert.False(t, tr.IsModified(doc, "name"))
}

func TestScalarChange(t *testing.T) {
	doc := sample()
	tr := New(doc)
	doc["name"] = "bob"
	assert.Equal(t, []string{"name"}, tr.Modified(doc))
	assert.True(t, tr.IsModified(doc, "name"))
	assert.False(t, tr.IsModified(doc, "age"))
}

func TestNestedChanges(t *testing.T) {
	doc := sample()
	tr := New(doc)
	doc["address"].(bson.M)["geo"].(bson.M)["lat"] = 9.0
	doc["items"].(bson.A)[1].(bson.M)["qty"] = 5

	assert.Equal(t, []string{"address.geo.lat", "items.1.qty"}, tr.Modified(doc))
	assert.True(t, tr.IsModified(doc, "address"))
	assert.True(t, tr.IsModified(doc, "address.geo.lat.whatever"))
	assert.False(t, tr.IsModified(doc, "address.street"))
	assert.True(t, tr.IsModified(doc, "items"))
}

func TestReplacingCompositeMarksOwnPath(t *testing.T) {
	doc := sample()
	tr := New(doc)
	doc["address"] = bson.M{"street": "side"}
	tr.Mark("address")
	doc["tags"] = bson.A{"a", "b", "c"}

	assert.Equal(t, []string{"address", "tags"}, tr.Modified(doc))
}

func TestMarkSubsumesDescendants(t *testing.T) {
	doc := sample()
	tr := New(doc)
	tr.Mark("address.geo.lat")
	tr.Mark("address.street")
	assert.Equal(t, []string{"address.geo.lat", "address.street"}, tr.Modified(doc))

	tr.Mark("address")
	assert.Equal(t, []string{"address"}, tr.Modified(doc))
}

func TestAddedAndRemovedFields(t *testing.T) {
	doc := sample()
	tr := New(doc)
	delete(doc, "age")
	doc["nickname"] = "annie"
	assert.Equal(t, []string{"age", "nickname"}, tr.Modified(doc))
}

func TestNumericTypesCompareByValue(t *testing.T) {
	doc := sample()
	tr := New(doc)
	doc["age"] = int64(31)
	assert.Empty(t, tr.Modified(doc))
}

func TestReset(t *testing.T) {
	doc := sample()
	tr := New(doc)
	doc["name"] = "bob"
	tr.Mark("tags")
	tr.Reset(doc)
	assert.Empty(t, tr.Modified(doc))

	v, ok := tr.Snapshot("name")
	assert.True(t, ok)
	assert.Equal(t, "bob", v)
}

func TestSnapshotIsIndependent(t *testing.T) {
	doc := sample()
	tr := New(doc)
	doc["tags"].(bson.A)[0] = "z"
	assert.Equal(t, []string{"tags.0"}, tr.Modified(doc))
	v, _ := tr.Snapshot("tags.0")
	assert.Equal(t, "a", v)
}
