// Package engine orchestrates the node's data model: validated ingress,
// redacted reads, the bundling lifecycle and peer bundle sheltering.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kindomxu/ambrosus-node/blockchain"
	"github.com/kindomxu/ambrosus-node/entities"
	"github.com/kindomxu/ambrosus-node/entity"
)

var log = logrus.WithField("prefix", "engine")

// UploadsRepository is the on-chain surface the bundling lifecycle needs.
type UploadsRepository interface {
	UploadBundle(ctx context.Context, bundleID string, storagePeriods int64) (*blockchain.UploadProof, error)
}

// BundleFetcher downloads a bundle from a peer shelterer.
type BundleFetcher interface {
	Fetch(ctx context.Context, sheltererID, bundleID string) (*entity.Bundle, error)
}

// ShelteringExpirationReader reads a bundle's sheltering expiration from the
// registry.
type ShelteringExpirationReader interface {
	ShelteringExpirationDate(ctx context.Context, bundleID string) (int64, error)
}

// DataModelEngine is the single write path into the node's data model.
type DataModelEngine struct {
	repo       *entities.Repository
	validator  *entity.Validator
	builder    *entity.Builder
	uploads    UploadsRepository
	fetcher    BundleFetcher
	expiration ShelteringExpirationReader
	nodeSecret string
	now        func() time.Time

	mu         sync.Mutex
	inProgress map[int64]string
}

// Config carries the engine's collaborators.
type Config struct {
	Repository *entities.Repository
	Validator  *entity.Validator
	Builder    *entity.Builder
	Uploads    UploadsRepository
	Fetcher    BundleFetcher
	Expiration ShelteringExpirationReader
	NodeSecret string
}

// New builds the engine.
func New(cfg Config) *DataModelEngine {
	return &DataModelEngine{
		repo:       cfg.Repository,
		validator:  cfg.Validator,
		builder:    cfg.Builder,
		uploads:    cfg.Uploads,
		fetcher:    cfg.Fetcher,
		expiration: cfg.Expiration,
		nodeSecret: cfg.NodeSecret,
		now:        time.Now,
		inProgress: make(map[int64]string),
	}
}

// CreateAsset validates the asset, stamps its upload timestamp and stores
// it. The stamped asset is returned.
func (e *DataModelEngine) CreateAsset(ctx context.Context, a *entity.Asset) (*entity.Asset, error) {
	if err := e.validator.ValidateAsset(a); err != nil {
		return nil, err
	}
	stamped := e.builder.SetAssetUploadTimestamp(a)
	if err := e.repo.StoreAsset(ctx, stamped); err != nil {
		return nil, err
	}
	return stamped, nil
}

// CreateEvent validates the event, stamps its upload timestamp and stores
// it. The stamped event is returned.
func (e *DataModelEngine) CreateEvent(ctx context.Context, ev *entity.Event) (*entity.Event, error) {
	if err := e.validator.ValidateEvent(ev); err != nil {
		return nil, err
	}
	stamped := e.builder.SetEventUploadTimestamp(ev)
	if err := e.repo.StoreEvent(ctx, stamped); err != nil {
		return nil, err
	}
	return stamped, nil
}

// GetAsset returns the asset or nil when absent.
func (e *DataModelEngine) GetAsset(ctx context.Context, assetID string) (*entity.Asset, error) {
	return e.repo.GetAsset(ctx, assetID)
}

// GetEvent returns the event redacted for the reader, or nil when absent.
func (e *DataModelEngine) GetEvent(ctx context.Context, eventID string, accessLevel int64) (*entity.Event, error) {
	return e.repo.GetEvent(ctx, eventID, accessLevel)
}

// FindEvents returns a redacted result page.
func (e *DataModelEngine) FindEvents(ctx context.Context, params *entity.FindEventsParams, accessLevel int64) (*entities.FindEventsResult, error) {
	return e.repo.FindEvents(ctx, params, accessLevel)
}

// FindAssets returns a result page.
func (e *DataModelEngine) FindAssets(ctx context.Context, params *entity.FindAssetsParams) (*entities.FindAssetsResult, error) {
	return e.repo.FindAssets(ctx, params)
}

// InitialiseBundling claims every free entity under a fresh stub tied to
// sequenceNumber and assembles the candidate bundle. The candidate is not
// stored; callers either finalise or cancel.
func (e *DataModelEngine) InitialiseBundling(ctx context.Context, sequenceNumber int64, itemsCountLimit int) (*entity.Bundle, error) {
	stubID := uuid.NewString()
	e.setStub(sequenceNumber, stubID)

	set, err := e.repo.BeginBundle(ctx, stubID, itemsCountLimit)
	if err != nil {
		return nil, err
	}
	bundle, err := e.builder.AssembleBundle(set.Assets, set.Events, e.now().Unix(), e.nodeSecret)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"bundleId": bundle.BundleID,
		"entities": set.Size(),
	}).Debug("Initialised bundling")
	return bundle, nil
}

// FinaliseBundling stores the candidate, commits its members, uploads the
// proof on chain and stamps the proof metadata. An upload failure leaves the
// bundle stored but unregistered; the retry sweep picks it up later.
func (e *DataModelEngine) FinaliseBundling(ctx context.Context, bundle *entity.Bundle, sequenceNumber int64, storagePeriods int64) (*entity.Bundle, error) {
	stubID, ok := e.takeStub(sequenceNumber)
	if !ok {
		return nil, errors.Errorf("no bundling in progress for sequence number %d", sequenceNumber)
	}
	if err := e.repo.StoreBundle(ctx, bundle); err != nil {
		e.releaseStub(ctx, stubID)
		return nil, err
	}
	if err := e.repo.EndBundle(ctx, stubID, bundle.BundleID); err != nil {
		e.releaseStub(ctx, stubID)
		return nil, err
	}
	proof, err := e.uploads.UploadBundle(ctx, bundle.BundleID, storagePeriods)
	if err != nil {
		return nil, errors.Wrap(err, "bundle upload failed")
	}
	if err := e.repo.StoreBundleProofMetadata(ctx, bundle.BundleID, proof.BlockNumber, proof.TransactionHash); err != nil {
		return nil, err
	}
	return e.repo.GetBundle(ctx, bundle.BundleID)
}

// CancelBundling releases every entity claimed under the sequence number's
// stub.
func (e *DataModelEngine) CancelBundling(ctx context.Context, sequenceNumber int64) error {
	stubID, ok := e.takeStub(sequenceNumber)
	if !ok {
		return nil
	}
	return e.repo.DiscardBundling(ctx, stubID)
}

// releaseStub frees the entities claimed under a stub that can no longer
// be committed. Best effort: a failure here leaves the stub for the
// startup sweep.
func (e *DataModelEngine) releaseStub(ctx context.Context, stubID string) {
	if err := e.repo.DiscardBundling(ctx, stubID); err != nil {
		log.WithError(err).WithField("stubId", stubID).Warn("Could not release claimed entities")
	}
}

// ReleaseOrphanedClaims frees entities claimed by a bundling that never
// committed, e.g. after a crash between claiming and storing the bundle.
// Runs once on startup, before the workers begin claiming.
func (e *DataModelEngine) ReleaseOrphanedClaims(ctx context.Context) error {
	released, err := e.repo.ReleaseOrphanedClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "could not release orphaned claims")
	}
	if released > 0 {
		log.WithField("stubs", released).Info("Released orphaned bundling claims")
	}
	return nil
}

// UploadNotRegisteredBundles re-uploads every stored bundle lacking an
// on-chain proof and returns the ones registered this sweep. Individual
// upload failures are logged and skipped.
func (e *DataModelEngine) UploadNotRegisteredBundles(ctx context.Context, storagePeriods int64) ([]*entity.Bundle, error) {
	unregistered, err := e.repo.FindBundlesWithoutUploadProof(ctx)
	if err != nil {
		return nil, err
	}
	registered := make([]*entity.Bundle, 0, len(unregistered))
	for _, bundle := range unregistered {
		proof, err := e.uploads.UploadBundle(ctx, bundle.BundleID, storagePeriods)
		if err != nil {
			log.WithError(err).WithField("bundleId", bundle.BundleID).Warn("Retried bundle upload failed")
			continue
		}
		if err := e.repo.StoreBundleProofMetadata(ctx, bundle.BundleID, proof.BlockNumber, proof.TransactionHash); err != nil {
			return registered, err
		}
		registered = append(registered, bundle)
	}
	return registered, nil
}

// DownloadBundle fetches the bundle from the shelterer, validates it end to
// end and stores it.
func (e *DataModelEngine) DownloadBundle(ctx context.Context, bundleID, sheltererID string) (*entity.Bundle, error) {
	bundle, err := e.fetcher.Fetch(ctx, sheltererID, bundleID)
	if err != nil {
		return nil, err
	}
	if bundle.BundleID != bundleID {
		return nil, errors.Errorf("shelterer served bundle %s instead of %s", bundle.BundleID, bundleID)
	}
	if err := e.validator.ValidateBundle(bundle); err != nil {
		return nil, err
	}
	if err := e.repo.StoreBundle(ctx, bundle); err != nil {
		return nil, err
	}
	return bundle, nil
}

// UpdateShelteringExpirationDate reads the bundle's sheltering expiration
// from the registry and persists it.
func (e *DataModelEngine) UpdateShelteringExpirationDate(ctx context.Context, bundleID string) error {
	holdUntil, err := e.expiration.ShelteringExpirationDate(ctx, bundleID)
	if err != nil {
		return err
	}
	return e.repo.StoreBundleShelteringExpiration(ctx, bundleID, holdUntil)
}

func (e *DataModelEngine) setStub(sequenceNumber int64, stubID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inProgress[sequenceNumber] = stubID
}

func (e *DataModelEngine) takeStub(sequenceNumber int64) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	stubID, ok := e.inProgress[sequenceNumber]
	if ok {
		delete(e.inProgress, sequenceNumber)
	}
	return stubID, ok
}
