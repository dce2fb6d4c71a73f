package entities

import (
	"sort"

	"github.com/kindomxu/ambrosus-node/entity"
	"github.com/kindomxu/ambrosus-node/storage"
)

// Event query composition. The conjunct order is fixed and observable:
// access level first, then data element matches in sorted key order, then
// the geospatial predicate, then assetId, createdBy, fromTimestamp and
// toTimestamp. Golden tests assert on this shape, so any reordering is a
// breaking change.

// AssembleEventsFilter translates validated find-events params into the
// storage filter.
func AssembleEventsFilter(params *entity.FindEventsParams, accessLevel int64) storage.Filter {
	filter := AddAccessLevelLimitationIfNeeded(storage.Filter{}, accessLevel)

	dataKeys := make([]string, 0, len(params.Data))
	for key := range params.Data {
		dataKeys = append(dataKeys, key)
	}
	sort.Strings(dataKeys)
	for _, key := range dataKeys {
		filter = filter.And(storage.ElemMatch("content.data", storage.Eq(key, params.Data[key])))
	}

	if params.Geo != nil {
		filter = filter.And(storage.Near("content.data.geoJson",
			params.Geo.Longitude, params.Geo.Latitude, params.Geo.MaxDistance))
	}
	if params.AssetID != "" {
		filter = filter.And(storage.Eq("content.idData.assetId", params.AssetID))
	}
	if params.CreatedBy != "" {
		filter = filter.And(storage.Eq("content.idData.createdBy", params.CreatedBy))
	}
	if params.FromTimestamp != nil {
		filter = filter.And(storage.Gte("content.idData.timestamp", *params.FromTimestamp))
	}
	if params.ToTimestamp != nil {
		filter = filter.And(storage.Lte("content.idData.timestamp", *params.ToTimestamp))
	}
	return filter
}

// AssembleAssetsFilter translates validated find-assets params into the
// storage filter, with the same createdBy/timestamp ordering as events.
func AssembleAssetsFilter(params *entity.FindAssetsParams) storage.Filter {
	filter := storage.Filter{}
	if params.CreatedBy != "" {
		filter = filter.And(storage.Eq("content.idData.createdBy", params.CreatedBy))
	}
	if params.FromTimestamp != nil {
		filter = filter.And(storage.Gte("content.idData.timestamp", *params.FromTimestamp))
	}
	if params.ToTimestamp != nil {
		filter = filter.And(storage.Lte("content.idData.timestamp", *params.ToTimestamp))
	}
	return filter
}

// AddAccessLevelLimitationIfNeeded appends the access-level gate unless an
// identical condition is already present. Applying it twice is a no-op.
func AddAccessLevelLimitationIfNeeded(filter storage.Filter, accessLevel int64) storage.Filter {
	cond := storage.Lte("content.idData.accessLevel", accessLevel)
	if filter.Contains(cond) {
		return filter
	}
	return filter.And(cond)
}
