package matcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func widget() bson.M {
	return bson.M{
		"_id":    "w1",
		"name":   "sprocket",
		"color":  "blue",
		"number": 4,
		"tags":   bson.A{"metal", "small"},
		"parts": bson.A{
			bson.M{"name": "gear", "weight": 2.5},
			bson.M{"name": "axle", "weight": 7},
		},
		"made": time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name   string
		filter bson.M
		want   bool
	}{
		{"empty", bson.M{}, true},
		{"equal", bson.M{"color": "blue"}, true},
		{"not equal", bson.M{"color": "red"}, false},
		{"numeric across types", bson.M{"number": 4.0}, true},
		{"array containment", bson.M{"tags": "metal"}, true},
		{"nested fan out", bson.M{"parts.name": "axle"}, true},
		{"missing is nil", bson.M{"missing": nil}, true},
		{"gt", bson.M{"number": bson.M{"$gt": 3}}, true},
		{"lte", bson.M{"number": bson.M{"$lte": 3}}, false},
		{"range on array elements", bson.M{"parts.weight": bson.M{"$gt": 5}}, true},
		{"range across types", bson.M{"name": bson.M{"$gt": 1}}, false},
		{"in", bson.M{"color": bson.M{"$in": bson.A{"red", "blue"}}}, true},
		{"nin", bson.M{"color": bson.M{"$nin": bson.A{"red", "blue"}}}, false},
		{"ne", bson.M{"color": bson.M{"$ne": "red"}}, true},
		{"exists", bson.M{"tags": bson.M{"$exists": true}}, true},
		{"not exists", bson.M{"missing": bson.M{"$exists": true}}, false},
		{"regex", bson.M{"name": bson.M{"$regex": "^spr"}}, true},
		{"size", bson.M{"tags": bson.M{"$size": 2}}, true},
		{"date", bson.M{"made": bson.M{"$lt": time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)}}, true},
		{"and", bson.M{"$and": bson.A{bson.M{"color": "blue"}, bson.M{"number": 4}}}, true},
		{"or", bson.M{"$or": bson.A{bson.M{"color": "red"}, bson.M{"number": 4}}}, true},
		{"nor", bson.M{"$nor": bson.A{bson.M{"color": "red"}, bson.M{"number": 4}}}, false},
		{"embedded document equality", bson.M{"parts.0": bson.M{"name": "gear", "weight": 2.5}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Match(widget(), tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchErrors(t *testing.T) {
	for _, filter := range []bson.M{
		{"$where": "x"},
		{"color": bson.M{"$near": 1}},
		{"$or": "x"},
		{"color": bson.M{"$in": "red"}},
		{"name": bson.M{"$regex": "("}},
	} {
		_, err := Match(widget(), filter)
		assert.Error(t, err, "%v", filter)
	}
}

func TestSortDocuments(t *testing.T) {
	docs := []bson.M{
		{"_id": 1, "color": "red", "number": 2},
		{"_id": 2, "color": "blue", "number": 9},
		{"_id": 3, "color": "red", "number": 5},
		{"_id": 4},
	}
	SortDocuments(docs, bson.D{{Key: "color", Value: 1}, {Key: "number", Value: -1}})

	ids := make([]interface{}, len(docs))
	for i, d := range docs {
		ids[i] = d["_id"]
	}
	assert.Equal(t, []interface{}{4, 2, 3, 1}, ids)
}

func TestProject(t *testing.T) {
	doc := widget()

	inc := Project(doc, bson.M{"name": 1, "parts.name": 1})
	assert.Equal(t, "w1", inc["_id"])
	assert.Equal(t, "sprocket", inc["name"])
	_, hasColor := inc["color"]
	assert.False(t, hasColor)

	exc := Project(doc, bson.M{"tags": 0, "_id": 0})
	_, hasTags := exc["tags"]
	assert.False(t, hasTags)
	_, hasID := exc["_id"]
	assert.False(t, hasID)
	assert.Equal(t, "blue", exc["color"])

	_, stillTags := doc["tags"]
	assert.True(t, stillTags, "projection works on a copy")
}
