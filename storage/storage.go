// Package storage defines the document-store boundary the repositories are
// written against. Two backends implement it: storage/mongodb for
// production and storage/memorydb for tests and dev mode.
package storage

import (
	"context"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by FindByID when no document carries the id.
var ErrNotFound = errors.New("document not found")

// Store exposes named collections of bson-encodable documents.
type Store interface {
	Collection(name string) Collection
	// EnsureIndexes installs the indexes the query engine relies on, in
	// particular the 2dsphere index over content.data.geoJson.
	EnsureIndexes(ctx context.Context) error
	Close(ctx context.Context) error
}

// Collection is a single document collection. Documents are persisted
// verbatim; the id field named by the caller is the primary key.
type Collection interface {
	InsertOne(ctx context.Context, doc interface{}) error
	// FindByID decodes the document whose idField equals id into out.
	FindByID(ctx context.Context, idField, id string, out interface{}) error
	// Find decodes all matching documents into out, which must be a
	// pointer to a slice.
	Find(ctx context.Context, filter Filter, opts FindOptions, out interface{}) error
	Count(ctx context.Context, filter Filter) (int64, error)
	// UpdateMany applies update to every document matching filter and
	// returns the number of modified documents. The filter-and-set pair is
	// atomic per document, which is what the bundling claim relies on.
	UpdateMany(ctx context.Context, filter Filter, update Update) (int64, error)
}

// SortDirection orders Find results.
type SortDirection int

const (
	// Ascending sort order.
	Ascending SortDirection = 1
	// Descending sort order.
	Descending SortDirection = -1
)

// FindOptions carries sort and pagination settings for Find.
type FindOptions struct {
	SortBy        string
	SortDirection SortDirection
	Skip          int64
	Limit         int64
}

// Update describes a partial document update.
type Update struct {
	Set   map[string]interface{}
	Unset []string
}
