package storage

import "reflect"

// Filter is an ordered conjunction of conditions. The order is observable:
// backends translate conditions in slice order and the repository's golden
// tests assert on the composed shape.
type Filter struct {
	Conditions []Condition
}

// Operator enumerates the condition kinds the backends understand.
type Operator string

const (
	// OpEq matches documents whose field equals the value. A nil value
	// matches both explicit nulls and missing fields.
	OpEq Operator = "eq"
	// OpNe matches documents whose field differs from the value. A nil
	// value matches fields present with a non-null value, mirroring
	// mongo's $ne.
	OpNe Operator = "ne"
	// OpLte matches fields less than or equal to the value.
	OpLte Operator = "lte"
	// OpGte matches fields greater than or equal to the value.
	OpGte Operator = "gte"
	// OpElemMatch matches array fields containing at least one element
	// satisfying all nested conditions.
	OpElemMatch Operator = "elemMatch"
	// OpNear matches GeoJSON Point fields within Geo.MaxDistance meters of
	// Geo's coordinates, ordered nearest first.
	OpNear Operator = "near"
)

// Condition is a single predicate over a dotted field path.
type Condition struct {
	Path     string
	Operator Operator
	Value    interface{}
	Nested   []Condition
	Geo      *GeoNear
}

// GeoNear carries the parameters of an OpNear condition.
type GeoNear struct {
	Longitude   float64
	Latitude    float64
	MaxDistance float64
}

// Eq builds an equality condition.
func Eq(path string, value interface{}) Condition {
	return Condition{Path: path, Operator: OpEq, Value: value}
}

// Ne builds an inequality condition.
func Ne(path string, value interface{}) Condition {
	return Condition{Path: path, Operator: OpNe, Value: value}
}

// Lte builds a less-than-or-equal condition.
func Lte(path string, value interface{}) Condition {
	return Condition{Path: path, Operator: OpLte, Value: value}
}

// Gte builds a greater-than-or-equal condition.
func Gte(path string, value interface{}) Condition {
	return Condition{Path: path, Operator: OpGte, Value: value}
}

// ElemMatch builds an array element-match condition.
func ElemMatch(path string, nested ...Condition) Condition {
	return Condition{Path: path, Operator: OpElemMatch, Nested: nested}
}

// Near builds a geospatial proximity condition.
func Near(path string, longitude, latitude, maxDistance float64) Condition {
	return Condition{Path: path, Operator: OpNear, Geo: &GeoNear{
		Longitude:   longitude,
		Latitude:    latitude,
		MaxDistance: maxDistance,
	}}
}

// And appends conditions, returning a new filter. Filters are values so
// callers can branch without aliasing surprises.
func (f Filter) And(conds ...Condition) Filter {
	merged := make([]Condition, 0, len(f.Conditions)+len(conds))
	merged = append(merged, f.Conditions...)
	merged = append(merged, conds...)
	return Filter{Conditions: merged}
}

// Contains reports whether an identical condition is already present. Used
// to keep repeated access-level limitation idempotent.
func (f Filter) Contains(c Condition) bool {
	for _, existing := range f.Conditions {
		if conditionsEqual(existing, c) {
			return true
		}
	}
	return false
}

func conditionsEqual(a, b Condition) bool {
	if a.Path != b.Path || a.Operator != b.Operator || !reflect.DeepEqual(a.Value, b.Value) {
		return false
	}
	if (a.Geo == nil) != (b.Geo == nil) {
		return false
	}
	if a.Geo != nil && *a.Geo != *b.Geo {
		return false
	}
	if len(a.Nested) != len(b.Nested) {
		return false
	}
	for i := range a.Nested {
		if !conditionsEqual(a.Nested[i], b.Nested[i]) {
			return false
		}
	}
	return true
}
