package entity

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Find-parameter validation. Callers hand over loosely typed mappings
// (query strings or JSON); these functions whitelist keys, cast the
// integer-typed fields and reject everything the query engine cannot
// serve.

const (
	// DefaultPerPage is the page size applied when perPage is absent.
	DefaultPerPage = 100
	// MaxPerPage bounds a single result page.
	MaxPerPage = 1000
)

// FindAssetsParams are the validated, casted asset query parameters.
type FindAssetsParams struct {
	Page          int64
	PerPage       int64
	CreatedBy     string
	FromTimestamp *int64
	ToTimestamp   *int64
}

// FindEventsParams are the validated, casted event query parameters.
type FindEventsParams struct {
	Page          int64
	PerPage       int64
	AssetID       string
	CreatedBy     string
	FromTimestamp *int64
	ToTimestamp   *int64
	// Data maps entry fields to required scalar values; dotted keys are
	// honoured verbatim. The reserved geoJson key is extracted into Geo.
	Data map[string]interface{}
	Geo  *GeoParams
}

// GeoParams is the geospatial predicate accepted under data.geoJson.
type GeoParams struct {
	Longitude   float64
	Latitude    float64
	MaxDistance float64
}

// ValidateAndCastFindAssetsParams validates a raw parameter mapping for the
// asset query.
func ValidateAndCastFindAssetsParams(raw map[string]interface{}) (*FindAssetsParams, error) {
	out := &FindAssetsParams{Page: 0, PerPage: DefaultPerPage}
	for key := range raw {
		switch key {
		case "page", "perPage", "fromTimestamp", "toTimestamp", "createdBy":
		default:
			return nil, NewValidationError("unknown query parameter %q", key)
		}
	}
	if err := castPaging(raw, &out.Page, &out.PerPage); err != nil {
		return nil, err
	}
	var err error
	if out.FromTimestamp, err = castOptionalTimestamp(raw, "fromTimestamp"); err != nil {
		return nil, err
	}
	if out.ToTimestamp, err = castOptionalTimestamp(raw, "toTimestamp"); err != nil {
		return nil, err
	}
	if out.CreatedBy, err = castOptionalAddress(raw, "createdBy"); err != nil {
		return nil, err
	}
	return out, nil
}

// ValidateAndCastFindEventsParams validates a raw parameter mapping for the
// event query, including the nested data mapping and the reserved geoJson
// predicate.
func ValidateAndCastFindEventsParams(raw map[string]interface{}) (*FindEventsParams, error) {
	out := &FindEventsParams{Page: 0, PerPage: DefaultPerPage}
	for key := range raw {
		switch key {
		case "page", "perPage", "fromTimestamp", "toTimestamp", "createdBy", "assetId", "data":
		default:
			return nil, NewValidationError("unknown query parameter %q", key)
		}
	}
	if err := castPaging(raw, &out.Page, &out.PerPage); err != nil {
		return nil, err
	}
	var err error
	if out.FromTimestamp, err = castOptionalTimestamp(raw, "fromTimestamp"); err != nil {
		return nil, err
	}
	if out.ToTimestamp, err = castOptionalTimestamp(raw, "toTimestamp"); err != nil {
		return nil, err
	}
	if out.CreatedBy, err = castOptionalAddress(raw, "createdBy"); err != nil {
		return nil, err
	}
	if v, ok := raw["assetId"]; ok {
		s, isString := v.(string)
		if !isString {
			return nil, NewValidationError("assetId must be a string")
		}
		out.AssetID = s
	}
	if v, ok := raw["data"]; ok {
		dataMap, isMap := v.(map[string]interface{})
		if !isMap {
			return nil, NewValidationError("data must be a mapping")
		}
		if out.Data, out.Geo, err = castDataParams(dataMap); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func castDataParams(raw map[string]interface{}) (map[string]interface{}, *GeoParams, error) {
	data := make(map[string]interface{})
	var geo *GeoParams
	for key, value := range raw {
		if key == "geoJson" {
			parsed, err := castGeoParams(value)
			if err != nil {
				return nil, nil, err
			}
			geo = parsed
			continue
		}
		// The reserved key is only legal at the top of data.
		if strings.HasPrefix(key, "geoJson.") || strings.HasSuffix(key, ".geoJson") || strings.Contains(key, ".geoJson.") {
			return nil, nil, NewValidationError("geoJson is only accepted as data.geoJson")
		}
		switch value.(type) {
		case string, float64, float32, int, int32, int64:
			data[key] = value
		default:
			return nil, nil, NewValidationError("data.%s must be a scalar value", key)
		}
	}
	if len(data) == 0 {
		data = nil
	}
	return data, geo, nil
}

func castGeoParams(value interface{}) (*GeoParams, error) {
	raw, ok := value.(map[string]interface{})
	if !ok {
		return nil, NewValidationError("data.geoJson must be a mapping")
	}
	for key := range raw {
		switch key {
		case "locationLongitude", "locationLatitude", "locationMaxDistance":
		default:
			return nil, NewValidationError("unknown data.geoJson parameter %q", key)
		}
	}
	geo := &GeoParams{}
	fields := []struct {
		key  string
		into *float64
	}{
		{"locationLongitude", &geo.Longitude},
		{"locationLatitude", &geo.Latitude},
		{"locationMaxDistance", &geo.MaxDistance},
	}
	for _, f := range fields {
		v, ok := raw[f.key]
		if !ok {
			return nil, NewValidationError("data.geoJson.%s is required", f.key)
		}
		n, err := castFloat(v, "data.geoJson."+f.key)
		if err != nil {
			return nil, err
		}
		*f.into = n
	}
	return geo, nil
}

func castPaging(raw map[string]interface{}, page, perPage *int64) error {
	if v, ok := raw["page"]; ok {
		n, err := castNonNegativeInt(v, "page")
		if err != nil {
			return err
		}
		*page = n
	}
	if v, ok := raw["perPage"]; ok {
		n, err := castNonNegativeInt(v, "perPage")
		if err != nil {
			return err
		}
		if n < 1 || n > MaxPerPage {
			return NewValidationError("perPage must be between 1 and %d", MaxPerPage)
		}
		*perPage = n
	}
	return nil
}

func castOptionalTimestamp(raw map[string]interface{}, key string) (*int64, error) {
	v, ok := raw[key]
	if !ok {
		return nil, nil
	}
	n, err := castNonNegativeInt(v, key)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func castOptionalAddress(raw map[string]interface{}, key string) (string, error) {
	v, ok := raw[key]
	if !ok {
		return "", nil
	}
	s, isString := v.(string)
	if !isString || !common.IsHexAddress(s) {
		return "", NewValidationError("%s must be a 20 byte hex address", key)
	}
	return s, nil
}

// castNonNegativeInt accepts the dual string/number form: integer-typed
// inputs pass through, strings are cast and must be numeric.
func castNonNegativeInt(v interface{}, key string) (int64, error) {
	var n int64
	switch val := v.(type) {
	case int:
		n = int64(val)
	case int32:
		n = int64(val)
	case int64:
		n = val
	case float64:
		if val != float64(int64(val)) {
			return 0, NewValidationError("%s must be a non-negative integer", key)
		}
		n = int64(val)
	case string:
		parsed, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, NewValidationError("%s must be a non-negative integer", key)
		}
		n = parsed
	default:
		return 0, NewValidationError("%s must be a non-negative integer", key)
	}
	if n < 0 {
		return 0, NewValidationError("%s must be a non-negative integer", key)
	}
	return n, nil
}

func castFloat(v interface{}, key string) (float64, error) {
	switch val := v.(type) {
	case int:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case float32:
		return float64(val), nil
	case float64:
		return val, nil
	case string:
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, NewValidationError("%s must be a number", key)
		}
		return parsed, nil
	default:
		return 0, NewValidationError("%s must be a number", key)
	}
}
