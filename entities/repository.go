// Package entities persists assets, events and bundles and owns the
// begin/end bundle state machine. Records are stored verbatim; all
// redaction happens on the way out.
package entities

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kindomxu/ambrosus-node/entity"
	"github.com/kindomxu/ambrosus-node/storage"
)

var log = logrus.WithField("prefix", "entities")

const (
	assetsCollection     = "assets"
	eventsCollection     = "events"
	bundlesCollection    = "bundles"
	workerLogsCollection = "workerLogs"
)

// Repository is the durable store for all entities.
type Repository struct {
	assets  storage.Collection
	events  storage.Collection
	bundles storage.Collection
}

// NewRepository builds a repository over the given store.
func NewRepository(store storage.Store) *Repository {
	return &Repository{
		assets:  store.Collection(assetsCollection),
		events:  store.Collection(eventsCollection),
		bundles: store.Collection(bundlesCollection),
	}
}

// StoreAsset persists an asset verbatim.
func (r *Repository) StoreAsset(ctx context.Context, a *entity.Asset) error {
	return errors.Wrap(r.assets.InsertOne(ctx, a), "could not store asset")
}

// GetAsset returns the asset with the given id, or nil when absent.
func (r *Repository) GetAsset(ctx context.Context, assetID string) (*entity.Asset, error) {
	var a entity.Asset
	err := r.assets.FindByID(ctx, "assetId", assetID, &a)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not load asset")
	}
	return &a, nil
}

// StoreEvent persists an event verbatim, data included.
func (r *Repository) StoreEvent(ctx context.Context, e *entity.Event) error {
	return errors.Wrap(r.events.InsertOne(ctx, e), "could not store event")
}

// GetEvent returns the event with the given id redacted for the reader's
// access level, or nil when absent.
func (r *Repository) GetEvent(ctx context.Context, eventID string, accessLevel int64) (*entity.Event, error) {
	var e entity.Event
	err := r.events.FindByID(ctx, "eventId", eventID, &e)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not load event")
	}
	return entity.RedactEventForAccessLevel(&e, accessLevel), nil
}

// FindEventsResult is one page of matching events plus the unpaginated
// match count.
type FindEventsResult struct {
	Results     []*entity.Event
	ResultCount int64
}

// FindEvents returns the newest-first page of events satisfying params,
// with per-result redaction applied.
func (r *Repository) FindEvents(ctx context.Context, params *entity.FindEventsParams, accessLevel int64) (*FindEventsResult, error) {
	filter := AssembleEventsFilter(params, accessLevel)

	count, err := r.events.Count(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "could not count events")
	}

	var found []*entity.Event
	err = r.events.Find(ctx, filter, storage.FindOptions{
		SortBy:        "content.idData.timestamp",
		SortDirection: storage.Descending,
		Skip:          params.Page * params.PerPage,
		Limit:         params.PerPage,
	}, &found)
	if err != nil {
		return nil, errors.Wrap(err, "could not find events")
	}

	results := make([]*entity.Event, 0, len(found))
	for _, e := range found {
		results = append(results, entity.RedactEventForAccessLevel(e, accessLevel))
	}
	return &FindEventsResult{Results: results, ResultCount: count}, nil
}

// FindAssetsResult is one page of matching assets plus the unpaginated
// match count.
type FindAssetsResult struct {
	Results     []*entity.Asset
	ResultCount int64
}

// FindAssets returns the newest-first page of assets satisfying params.
func (r *Repository) FindAssets(ctx context.Context, params *entity.FindAssetsParams) (*FindAssetsResult, error) {
	filter := AssembleAssetsFilter(params)

	count, err := r.assets.Count(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "could not count assets")
	}
	var found []*entity.Asset
	err = r.assets.Find(ctx, filter, storage.FindOptions{
		SortBy:        "content.idData.timestamp",
		SortDirection: storage.Descending,
		Skip:          params.Page * params.PerPage,
		Limit:         params.PerPage,
	}, &found)
	if err != nil {
		return nil, errors.Wrap(err, "could not find assets")
	}
	return &FindAssetsResult{Results: found, ResultCount: count}, nil
}

// StoreBundle persists an assembled bundle.
func (r *Repository) StoreBundle(ctx context.Context, b *entity.Bundle) error {
	return errors.Wrap(r.bundles.InsertOne(ctx, b), "could not store bundle")
}

// GetBundle returns the bundle with the given id, proof metadata included,
// or nil when absent.
func (r *Repository) GetBundle(ctx context.Context, bundleID string) (*entity.Bundle, error) {
	var b entity.Bundle
	err := r.bundles.FindByID(ctx, "bundleId", bundleID, &b)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not load bundle")
	}
	return &b, nil
}

// BundleSet is the claimed entity set returned by BeginBundle.
type BundleSet struct {
	Assets []*entity.Asset
	Events []*entity.Event
}

// Size returns the number of claimed entities.
func (s *BundleSet) Size() int {
	return len(s.Assets) + len(s.Events)
}

// BeginBundle atomically claims every unbundled entity for stubID and
// returns the claimed set. The claim is a filtered bulk update (set the
// bundle id only where currently null), so a concurrent caller with a
// different stub observes disjoint, possibly empty, sets. When limit is
// positive, entities claimed beyond it are released again, oldest first
// retained.
func (r *Repository) BeginBundle(ctx context.Context, stubID string, limit int) (*BundleSet, error) {
	unbundled := storage.Filter{}.And(storage.Eq("metadata.bundleId", nil))
	claim := storage.Update{Set: map[string]interface{}{"metadata.bundleId": stubID}}

	if _, err := r.assets.UpdateMany(ctx, unbundled, claim); err != nil {
		return nil, errors.Wrap(err, "could not claim assets")
	}
	if _, err := r.events.UpdateMany(ctx, unbundled, claim); err != nil {
		return nil, errors.Wrap(err, "could not claim events")
	}

	claimed := storage.Filter{}.And(storage.Eq("metadata.bundleId", stubID))
	oldestFirst := storage.FindOptions{
		SortBy:        "content.idData.timestamp",
		SortDirection: storage.Ascending,
	}
	set := &BundleSet{}
	if err := r.assets.Find(ctx, claimed, oldestFirst, &set.Assets); err != nil {
		return nil, errors.Wrap(err, "could not load claimed assets")
	}
	if err := r.events.Find(ctx, claimed, oldestFirst, &set.Events); err != nil {
		return nil, errors.Wrap(err, "could not load claimed events")
	}

	if limit > 0 && set.Size() > limit {
		if err := r.releaseOverflow(ctx, stubID, set, limit); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// releaseOverflow trims a claimed set down to limit entities, unsetting the
// stub on the overflow. Assets fill the bundle before events.
func (r *Repository) releaseOverflow(ctx context.Context, stubID string, set *BundleSet, limit int) error {
	release := storage.Update{Unset: []string{"metadata.bundleId"}}

	keptAssets := len(set.Assets)
	if keptAssets > limit {
		keptAssets = limit
	}
	for _, a := range set.Assets[keptAssets:] {
		filter := storage.Filter{}.
			And(storage.Eq("assetId", a.AssetID)).
			And(storage.Eq("metadata.bundleId", stubID))
		if _, err := r.assets.UpdateMany(ctx, filter, release); err != nil {
			return errors.Wrap(err, "could not release asset")
		}
	}
	set.Assets = set.Assets[:keptAssets]

	keptEvents := limit - keptAssets
	if keptEvents > len(set.Events) {
		keptEvents = len(set.Events)
	}
	for _, e := range set.Events[keptEvents:] {
		filter := storage.Filter{}.
			And(storage.Eq("eventId", e.EventID)).
			And(storage.Eq("metadata.bundleId", stubID))
		if _, err := r.events.UpdateMany(ctx, filter, release); err != nil {
			return errors.Wrap(err, "could not release event")
		}
	}
	set.Events = set.Events[:keptEvents]
	return nil
}

// EndBundle renames the claim stub to the real bundle id on every claimed
// entity. Repeating the same (stub, bundle) transition is a no-op.
func (r *Repository) EndBundle(ctx context.Context, stubID, bundleID string) error {
	claimed := storage.Filter{}.And(storage.Eq("metadata.bundleId", stubID))
	rename := storage.Update{Set: map[string]interface{}{"metadata.bundleId": bundleID}}
	if _, err := r.assets.UpdateMany(ctx, claimed, rename); err != nil {
		return errors.Wrap(err, "could not commit assets")
	}
	if _, err := r.events.UpdateMany(ctx, claimed, rename); err != nil {
		return errors.Wrap(err, "could not commit events")
	}
	return nil
}

// DiscardBundling releases every entity still claimed under stubID back to
// the unbundled state. Committed entities are never touched: their bundle
// id no longer equals the stub.
func (r *Repository) DiscardBundling(ctx context.Context, stubID string) error {
	claimed := storage.Filter{}.And(storage.Eq("metadata.bundleId", stubID))
	release := storage.Update{Unset: []string{"metadata.bundleId"}}
	if _, err := r.assets.UpdateMany(ctx, claimed, release); err != nil {
		return errors.Wrap(err, "could not release assets")
	}
	if _, err := r.events.UpdateMany(ctx, claimed, release); err != nil {
		return errors.Wrap(err, "could not release events")
	}
	return nil
}

// ReleaseOrphanedClaims frees every entity claimed under a bundle id that
// matches no stored bundle record. A crash between claiming and committing
// leaves entities under a stub that no later run knows about; the sweep
// returns them to the unbundled state. Must run before any worker starts
// claiming, otherwise an in-flight stub looks orphaned. Returns the number
// of released stubs.
func (r *Repository) ReleaseOrphanedClaims(ctx context.Context) (int, error) {
	claimed := storage.Filter{}.And(storage.Ne("metadata.bundleId", nil))

	bundleIDs := make(map[string]struct{})
	var assets []*entity.Asset
	if err := r.assets.Find(ctx, claimed, storage.FindOptions{}, &assets); err != nil {
		return 0, errors.Wrap(err, "could not load claimed assets")
	}
	for _, a := range assets {
		bundleIDs[a.Metadata.BundleID] = struct{}{}
	}
	var events []*entity.Event
	if err := r.events.Find(ctx, claimed, storage.FindOptions{}, &events); err != nil {
		return 0, errors.Wrap(err, "could not load claimed events")
	}
	for _, e := range events {
		bundleIDs[e.Metadata.BundleID] = struct{}{}
	}

	released := 0
	for bundleID := range bundleIDs {
		bundle, err := r.GetBundle(ctx, bundleID)
		if err != nil {
			return released, err
		}
		if bundle != nil {
			continue
		}
		if err := r.DiscardBundling(ctx, bundleID); err != nil {
			return released, err
		}
		log.WithField("bundleId", bundleID).Warn("Released entities claimed by an abandoned bundling")
		released++
	}
	return released, nil
}

// StoreBundleProofMetadata stamps the bundle record with its on-chain proof
// and propagates the transaction hash to every member entity.
func (r *Repository) StoreBundleProofMetadata(ctx context.Context, bundleID string, proofBlock int64, txHash string) error {
	bundleFilter := storage.Filter{}.And(storage.Eq("bundleId", bundleID))
	stamp := storage.Update{Set: map[string]interface{}{
		"metadata.proofBlock":            proofBlock,
		"metadata.bundleTransactionHash": txHash,
	}}
	if _, err := r.bundles.UpdateMany(ctx, bundleFilter, stamp); err != nil {
		return errors.Wrap(err, "could not stamp bundle proof")
	}

	members := storage.Filter{}.And(storage.Eq("metadata.bundleId", bundleID))
	propagate := storage.Update{Set: map[string]interface{}{"metadata.bundleTransactionHash": txHash}}
	if _, err := r.assets.UpdateMany(ctx, members, propagate); err != nil {
		return errors.Wrap(err, "could not propagate proof to assets")
	}
	if _, err := r.events.UpdateMany(ctx, members, propagate); err != nil {
		return errors.Wrap(err, "could not propagate proof to events")
	}
	log.WithFields(logrus.Fields{"bundleId": bundleID, "txHash": txHash}).Debug("Stored bundle proof metadata")
	return nil
}

// StoreBundleShelteringExpiration stamps the bundle's sheltering expiration
// read back from the registry.
func (r *Repository) StoreBundleShelteringExpiration(ctx context.Context, bundleID string, holdUntil int64) error {
	filter := storage.Filter{}.And(storage.Eq("bundleId", bundleID))
	update := storage.Update{Set: map[string]interface{}{"metadata.holdUntil": holdUntil}}
	_, err := r.bundles.UpdateMany(ctx, filter, update)
	return errors.Wrap(err, "could not store sheltering expiration")
}

// FindBundlesWithoutUploadProof returns every stored bundle that has not
// been registered on chain yet.
func (r *Repository) FindBundlesWithoutUploadProof(ctx context.Context) ([]*entity.Bundle, error) {
	filter := storage.Filter{}.And(storage.Eq("metadata.bundleTransactionHash", nil))
	var found []*entity.Bundle
	if err := r.bundles.Find(ctx, filter, storage.FindOptions{
		SortBy:        "content.idData.timestamp",
		SortDirection: storage.Ascending,
	}, &found); err != nil {
		return nil, errors.Wrap(err, "could not find unregistered bundles")
	}
	return found, nil
}
