package memorydb

import (
	"math"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kindomxu/ambrosus-node/storage"
)

const earthRadiusMeters = 6371008.8

func valuesEqual(a, b interface{}) bool {
	if na, ok := asNumber(a); ok {
		nb, okb := asNumber(b)
		return okb && na == nb
	}
	if sa, ok := a.(string); ok {
		sb, okb := b.(string)
		return okb && sa == sb
	}
	if ba, ok := a.(bool); ok {
		bb, okb := b.(bool)
		return okb && ba == bb
	}
	return a == nil && b == nil
}

// compareValues orders two scalars; numbers compare numerically, strings
// lexicographically. Mixed types compare as unequal extremes, which keeps
// sorting total.
func compareValues(a, b interface{}) int {
	if na, ok := asNumber(a); ok {
		if nb, okb := asNumber(b); okb {
			switch {
			case na < nb:
				return -1
			case na > nb:
				return 1
			default:
				return 0
			}
		}
		return -1
	}
	if sa, ok := a.(string); ok {
		if sb, okb := b.(string); okb {
			return strings.Compare(sa, sb)
		}
		return 1
	}
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	return 1
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case primitive.DateTime:
		return float64(n), true
	default:
		return 0, false
	}
}

// nearestDistance returns the smallest haversine distance in meters between
// the query point and any GeoJSON Point found at path, or +Inf when none.
func nearestDistance(container interface{}, path string, geo *storage.GeoNear) float64 {
	best := math.Inf(1)
	for _, point := range collectPoints(container, path) {
		d := haversine(geo.Latitude, geo.Longitude, point[1], point[0])
		if d < best {
			best = d
		}
	}
	return best
}

func collectPoints(container interface{}, path string) [][2]float64 {
	var points [][2]float64
	var walk func(v interface{}, path string)
	walk = func(v interface{}, path string) {
		if path == "" {
			if p, ok := asGeoPoint(v); ok {
				points = append(points, p)
			}
			return
		}
		head, rest, _ := strings.Cut(path, ".")
		switch val := v.(type) {
		case bson.M:
			if child, ok := val[head]; ok {
				walk(child, rest)
			}
		case map[string]interface{}:
			walk(bson.M(val), path)
		case bson.A:
			for _, elem := range val {
				walk(elem, path)
			}
		}
	}
	walk(container, path)
	return points
}

func asGeoPoint(v interface{}) ([2]float64, bool) {
	doc, ok := v.(bson.M)
	if !ok {
		return [2]float64{}, false
	}
	if t, _ := doc["type"].(string); t != "Point" {
		return [2]float64{}, false
	}
	coords, ok := doc["coordinates"].(bson.A)
	if !ok || len(coords) != 2 {
		return [2]float64{}, false
	}
	lon, okLon := asNumber(coords[0])
	lat, okLat := asNumber(coords[1])
	if !okLon || !okLat {
		return [2]float64{}, false
	}
	return [2]float64{lon, lat}, true
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
