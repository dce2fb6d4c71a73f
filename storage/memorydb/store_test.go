package memorydb

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindomxu/ambrosus-node/storage"
)

type record struct {
	ID      string                   `bson:"id"`
	Value   int64                    `bson:"value"`
	Entries []map[string]interface{} `bson:"entries,omitempty"`
}

func TestInsertAndFindByID(t *testing.T) {
	ctx := context.Background()
	coll := New().Collection("records")

	require.NoError(t, coll.InsertOne(ctx, record{ID: "a", Value: 1}))

	var got record
	require.NoError(t, coll.FindByID(ctx, "id", "a", &got))
	assert.Equal(t, record{ID: "a", Value: 1}, got)

	assert.ErrorIs(t, coll.FindByID(ctx, "id", "missing", &got), storage.ErrNotFound)
}

func TestFindWithRangeSortAndPagination(t *testing.T) {
	ctx := context.Background()
	coll := New().Collection("records")
	for i := int64(0); i < 10; i++ {
		require.NoError(t, coll.InsertOne(ctx, record{ID: string(rune('a' + i)), Value: i}))
	}

	filter := storage.Filter{}.And(storage.Gte("value", int64(2)), storage.Lte("value", int64(8)))
	var got []record
	require.NoError(t, coll.Find(ctx, filter, storage.FindOptions{
		SortBy:        "value",
		SortDirection: storage.Descending,
		Skip:          1,
		Limit:         3,
	}, &got))
	require.Len(t, got, 3)
	assert.Equal(t, int64(7), got[0].Value)
	assert.Equal(t, int64(5), got[2].Value)

	count, err := coll.Count(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
}

func TestNeMatchesOnlyPresentNonNullValues(t *testing.T) {
	ctx := context.Background()
	coll := New().Collection("records")
	require.NoError(t, coll.InsertOne(ctx, record{ID: "a", Value: 1}))
	require.NoError(t, coll.InsertOne(ctx, record{ID: "b", Value: 2}))

	// Ne against nil selects documents where the field is set at all.
	var got []record
	require.NoError(t, coll.Find(ctx, storage.Filter{}.And(storage.Ne("marker", nil)), storage.FindOptions{}, &got))
	assert.Empty(t, got)

	_, err := coll.UpdateMany(ctx,
		storage.Filter{}.And(storage.Eq("id", "a")),
		storage.Update{Set: map[string]interface{}{"marker": "x"}},
	)
	require.NoError(t, err)

	require.NoError(t, coll.Find(ctx, storage.Filter{}.And(storage.Ne("marker", nil)), storage.FindOptions{}, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)

	// Ne against a value matches everything but that value, missing
	// fields included.
	require.NoError(t, coll.Find(ctx, storage.Filter{}.And(storage.Ne("marker", "x")), storage.FindOptions{}, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestElemMatchWithDottedKey(t *testing.T) {
	ctx := context.Background()
	coll := New().Collection("records")
	require.NoError(t, coll.InsertOne(ctx, record{ID: "a", Entries: []map[string]interface{}{
		{"type": "reading", "acceleration": map[string]interface{}{"valueX": int64(5)}},
	}}))
	require.NoError(t, coll.InsertOne(ctx, record{ID: "b", Entries: []map[string]interface{}{
		{"type": "reading", "acceleration": map[string]interface{}{"valueX": int64(6)}},
	}}))

	filter := storage.Filter{}.And(storage.ElemMatch("entries", storage.Eq("acceleration.valueX", int64(5))))
	var got []record
	require.NoError(t, coll.Find(ctx, filter, storage.FindOptions{}, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestNearFiltersAndOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	coll := New().Collection("records")
	point := func(id string, lon, lat float64) record {
		return record{ID: id, Entries: []map[string]interface{}{
			{"type": "location", "geoJson": map[string]interface{}{
				"type":        "Point",
				"coordinates": []interface{}{lon, lat},
			}},
		}}
	}
	require.NoError(t, coll.InsertOne(ctx, point("far", 0, 1)))
	require.NoError(t, coll.InsertOne(ctx, point("near", 0, 0.00005)))
	require.NoError(t, coll.InsertOne(ctx, point("origin", 0, 0)))

	filter := storage.Filter{}.And(storage.Near("entries.geoJson", 0, 0, 1000))
	var got []record
	require.NoError(t, coll.Find(ctx, filter, storage.FindOptions{}, &got))
	require.Len(t, got, 2)
	assert.Equal(t, "origin", got[0].ID)
	assert.Equal(t, "near", got[1].ID)
}

func TestUpdateManyIsConditional(t *testing.T) {
	ctx := context.Background()
	coll := New().Collection("records")
	require.NoError(t, coll.InsertOne(ctx, record{ID: "a", Value: 1}))
	require.NoError(t, coll.InsertOne(ctx, record{ID: "b", Value: 2}))

	modified, err := coll.UpdateMany(ctx,
		storage.Filter{}.And(storage.Eq("value", int64(1))),
		storage.Update{Set: map[string]interface{}{"value": int64(10)}},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(1), modified)

	var got record
	require.NoError(t, coll.FindByID(ctx, "id", "a", &got))
	assert.Equal(t, int64(10), got.Value)
	require.NoError(t, coll.FindByID(ctx, "id", "b", &got))
	assert.Equal(t, int64(2), got.Value)
}

// Reads and updates contend on the same documents; the race detector
// verifies decode never observes a concurrent mutation.
func TestConcurrentFindAndUpdateMany(t *testing.T) {
	ctx := context.Background()
	coll := New().Collection("records")
	for i := int64(0); i < 20; i++ {
		require.NoError(t, coll.InsertOne(ctx, record{ID: string(rune('a' + i)), Value: i}))
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			var got []record
			if err := coll.Find(ctx, storage.Filter{}, storage.FindOptions{
				SortBy:        "value",
				SortDirection: storage.Ascending,
			}, &got); err != nil {
				errs[0] = err
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if _, err := coll.UpdateMany(ctx, storage.Filter{},
				storage.Update{Set: map[string]interface{}{"value": int64(i)}},
			); err != nil {
				errs[1] = err
				return
			}
		}
	}()
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
}

func TestUpdateManySetsAndUnsetsNestedPaths(t *testing.T) {
	ctx := context.Background()
	coll := New().Collection("records")
	require.NoError(t, coll.InsertOne(ctx, record{ID: "a", Value: 1}))

	// A nil equality matches documents missing the field entirely.
	modified, err := coll.UpdateMany(ctx,
		storage.Filter{}.And(storage.Eq("metadata.bundleId", nil)),
		storage.Update{Set: map[string]interface{}{"metadata.bundleId": "stub"}},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(1), modified)

	// Once set, the nil filter no longer matches.
	modified, err = coll.UpdateMany(ctx,
		storage.Filter{}.And(storage.Eq("metadata.bundleId", nil)),
		storage.Update{Set: map[string]interface{}{"metadata.bundleId": "other"}},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(0), modified)

	modified, err = coll.UpdateMany(ctx,
		storage.Filter{}.And(storage.Eq("metadata.bundleId", "stub")),
		storage.Update{Unset: []string{"metadata.bundleId"}},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(1), modified)
}
