// Package memorydb implements the storage boundary in process. It evaluates
// the same filter language the mongodb backend translates, so repository
// tests and dev mode run against real query semantics without a deployment.
package memorydb

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/kindomxu/ambrosus-node/storage"
)

// Store is an in-process storage.Store. Documents round-trip through bson
// so stored shapes match what the mongo backend would persist.
type Store struct {
	mu          sync.Mutex
	collections map[string]*collection
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

// Collection returns the named collection, creating it on first use.
func (s *Store) Collection(name string) storage.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		return c
	}
	c := &collection{}
	s.collections[name] = c
	return c
}

// EnsureIndexes is a no-op; the evaluator needs no indexes.
func (s *Store) EnsureIndexes(_ context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close(_ context.Context) error { return nil }

type collection struct {
	mu   sync.Mutex
	docs []bson.M
}

func (c *collection) InsertOne(_ context.Context, doc interface{}) error {
	m, err := toDocument(doc)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, m)
	return nil
}

func (c *collection) FindByID(_ context.Context, idField, id string, out interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, doc := range c.docs {
		if v, ok := lookupPath(doc, idField); ok && valuesEqual(v, id) {
			return decodeDocument(doc, out)
		}
	}
	return storage.ErrNotFound
}

// Find holds the collection lock until the matched documents are decoded;
// they alias the live maps a concurrent UpdateMany mutates.
func (c *collection) Find(_ context.Context, filter storage.Filter, opts storage.FindOptions, out interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	matched := c.match(filter)
	if opts.SortBy != "" {
		sortDocs(matched, opts.SortBy, opts.SortDirection)
	}
	if opts.Skip > 0 {
		if opts.Skip >= int64(len(matched)) {
			matched = nil
		} else {
			matched = matched[opts.Skip:]
		}
	}
	if opts.Limit > 0 && int64(len(matched)) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return decodeDocuments(matched, out)
}

func (c *collection) Count(_ context.Context, filter storage.Filter) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.match(filter))), nil
}

func (c *collection) UpdateMany(_ context.Context, filter storage.Filter, update storage.Update) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var modified int64
	for i, doc := range c.docs {
		if !matchesFilter(doc, filter) {
			continue
		}
		for path, value := range update.Set {
			setPath(doc, path, value)
		}
		for _, path := range update.Unset {
			unsetPath(doc, path)
		}
		c.docs[i] = doc
		modified++
	}
	return modified, nil
}

// match returns matching documents; when a near condition is present they
// come back ordered by proximity, which a later stable sort preserves for
// equal keys, mirroring the tested mongo shapes.
func (c *collection) match(filter storage.Filter) []bson.M {
	var matched []bson.M
	for _, doc := range c.docs {
		if matchesFilter(doc, filter) {
			matched = append(matched, doc)
		}
	}
	for _, cond := range filter.Conditions {
		if cond.Operator == storage.OpNear {
			geo := cond.Geo
			path := cond.Path
			sort.SliceStable(matched, func(i, j int) bool {
				return nearestDistance(matched[i], path, geo) < nearestDistance(matched[j], path, geo)
			})
		}
	}
	return matched
}

func matchesFilter(doc bson.M, filter storage.Filter) bool {
	for _, cond := range filter.Conditions {
		if !matchesCondition(doc, cond) {
			return false
		}
	}
	return true
}

func matchesCondition(container interface{}, cond storage.Condition) bool {
	switch cond.Operator {
	case storage.OpEq:
		v, ok := lookupPath(container, cond.Path)
		if cond.Value == nil {
			return !ok || v == nil
		}
		return ok && valuesEqual(v, cond.Value)
	case storage.OpNe:
		v, ok := lookupPath(container, cond.Path)
		if cond.Value == nil {
			return ok && v != nil
		}
		return !ok || !valuesEqual(v, cond.Value)
	case storage.OpLte:
		v, ok := lookupPath(container, cond.Path)
		return ok && compareValues(v, cond.Value) <= 0
	case storage.OpGte:
		v, ok := lookupPath(container, cond.Path)
		return ok && compareValues(v, cond.Value) >= 0
	case storage.OpElemMatch:
		arr, ok := lookupPath(container, cond.Path)
		if !ok {
			return false
		}
		elems, ok := arr.(bson.A)
		if !ok {
			return false
		}
		for _, elem := range elems {
			all := true
			for _, nested := range cond.Nested {
				if !matchesCondition(elem, nested) {
					all = false
					break
				}
			}
			if all {
				return true
			}
		}
		return false
	case storage.OpNear:
		return nearestDistance(container, cond.Path, cond.Geo) <= cond.Geo.MaxDistance
	default:
		return false
	}
}

// lookupPath walks a dotted path through nested documents. Stepping into an
// array fans out over its elements, matching mongo's traversal.
func lookupPath(container interface{}, path string) (interface{}, bool) {
	if path == "" {
		return container, true
	}
	head, rest, _ := strings.Cut(path, ".")
	switch v := container.(type) {
	case bson.M:
		child, ok := v[head]
		if !ok {
			return nil, false
		}
		if rest == "" {
			return child, true
		}
		return lookupPath(child, rest)
	case map[string]interface{}:
		return lookupPath(bson.M(v), path)
	case bson.A:
		for _, elem := range v {
			if found, ok := lookupPath(elem, path); ok {
				return found, true
			}
		}
		return nil, false
	default:
		return nil, false
	}
}

func setPath(doc bson.M, path string, value interface{}) {
	head, rest, _ := strings.Cut(path, ".")
	if rest == "" {
		doc[head] = normalizeValue(value)
		return
	}
	child, ok := doc[head].(bson.M)
	if !ok {
		child = bson.M{}
		doc[head] = child
	}
	setPath(child, rest, value)
}

func unsetPath(doc bson.M, path string) {
	head, rest, _ := strings.Cut(path, ".")
	if rest == "" {
		delete(doc, head)
		return
	}
	if child, ok := doc[head].(bson.M); ok {
		unsetPath(child, rest)
	}
}

func sortDocs(docs []bson.M, path string, direction storage.SortDirection) {
	sort.SliceStable(docs, func(i, j int) bool {
		vi, _ := lookupPath(docs[i], path)
		vj, _ := lookupPath(docs[j], path)
		if direction == storage.Descending {
			return compareValues(vi, vj) > 0
		}
		return compareValues(vi, vj) < 0
	})
}

func toDocument(doc interface{}) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "could not encode document")
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(err, "could not decode document")
	}
	return m, nil
}

func decodeDocument(doc bson.M, out interface{}) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "could not encode document")
	}
	return errors.Wrap(bson.Unmarshal(raw, out), "could not decode document")
}

func decodeDocuments(docs []bson.M, out interface{}) error {
	outValue := reflect.ValueOf(out)
	if outValue.Kind() != reflect.Ptr || outValue.Elem().Kind() != reflect.Slice {
		return errors.New("out must be a pointer to a slice")
	}
	sliceValue := outValue.Elem()
	elemType := sliceValue.Type().Elem()
	result := reflect.MakeSlice(sliceValue.Type(), 0, len(docs))
	for _, doc := range docs {
		var target reflect.Value
		if elemType.Kind() == reflect.Ptr {
			target = reflect.New(elemType.Elem())
		} else {
			target = reflect.New(elemType)
		}
		if err := decodeDocument(doc, target.Interface()); err != nil {
			return err
		}
		if elemType.Kind() == reflect.Ptr {
			result = reflect.Append(result, target)
		} else {
			result = reflect.Append(result, target.Elem())
		}
	}
	sliceValue.Set(result)
	return nil
}

func normalizeValue(value interface{}) interface{} {
	raw, err := bson.Marshal(bson.M{"v": value})
	if err != nil {
		return value
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return value
	}
	return m["v"]
}
