package engine

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindomxu/ambrosus-node/blockchain"
	"github.com/kindomxu/ambrosus-node/entities"
	"github.com/kindomxu/ambrosus-node/entity"
	"github.com/kindomxu/ambrosus-node/entity/schema"
	"github.com/kindomxu/ambrosus-node/storage"
	"github.com/kindomxu/ambrosus-node/storage/memorydb"
	"github.com/kindomxu/ambrosus-node/testing/fixtures"
)

type fakeUploads struct {
	err            error
	uploads        []string
	nextTx         string
	nextProofBlock int64
}

func (u *fakeUploads) UploadBundle(ctx context.Context, bundleID string, storagePeriods int64) (*blockchain.UploadProof, error) {
	if u.err != nil {
		return nil, u.err
	}
	u.uploads = append(u.uploads, bundleID)
	tx := u.nextTx
	if tx == "" {
		tx = "0xtx"
	}
	return &blockchain.UploadProof{BlockNumber: u.nextProofBlock, TransactionHash: tx}, nil
}

type fakeFetcher struct {
	bundle *entity.Bundle
	err    error
}

func (f *fakeFetcher) Fetch(ctx context.Context, sheltererID, bundleID string) (*entity.Bundle, error) {
	return f.bundle, f.err
}

type fakeExpiration struct {
	holdUntil int64
	err       error
}

func (f *fakeExpiration) ShelteringExpirationDate(ctx context.Context, bundleID string) (int64, error) {
	return f.holdUntil, f.err
}

type engineFixture struct {
	engine  *DataModelEngine
	repo    *entities.Repository
	uploads *fakeUploads
	fetcher *fakeFetcher
	account *fixtures.Account
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	registry, err := schema.NewRegistry()
	require.NoError(t, err)
	repo := entities.NewRepository(memorydb.New())
	account := fixtures.NewAccount(t)
	uploads := &fakeUploads{nextProofBlock: 10}
	fetcher := &fakeFetcher{}
	eng := New(Config{
		Repository: repo,
		Validator:  entity.NewValidator(86400, registry),
		Builder:    entity.NewBuilder(),
		Uploads:    uploads,
		Fetcher:    fetcher,
		Expiration: &fakeExpiration{holdUntil: 999},
		NodeSecret: account.Secret,
	})
	return &engineFixture{engine: eng, repo: repo, uploads: uploads, fetcher: fetcher, account: account}
}

func TestCreateAssetValidatesStampsAndStores(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	asset := fixtures.CreateAsset(t, f.account, time.Now().Unix(), 0)

	stored, err := f.engine.CreateAsset(ctx, asset)
	require.NoError(t, err)
	require.NotNil(t, stored.Metadata)
	assert.NotZero(t, stored.Metadata.EntityUploadTimestamp)

	got, err := f.engine.GetAsset(ctx, asset.AssetID)
	require.NoError(t, err)
	assert.Equal(t, asset.AssetID, got.AssetID)
}

func TestCreateAssetRejectsTamperedContent(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	asset := fixtures.CreateAsset(t, f.account, time.Now().Unix(), 0)
	asset.Content.IDData.SequenceNumber++

	_, err := f.engine.CreateAsset(ctx, asset)
	require.Error(t, err)
	assert.IsType(t, &entity.ValidationError{}, err)

	got, err := f.engine.GetAsset(ctx, asset.AssetID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCreateEventValidatesAndStores(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	now := time.Now().Unix()
	asset := fixtures.CreateAsset(t, f.account, now, 0)
	event := fixtures.CreateEvent(t, f.account, asset.AssetID, now, 2, fixtures.DefaultData())

	stored, err := f.engine.CreateEvent(ctx, event)
	require.NoError(t, err)
	require.NotNil(t, stored.Metadata)

	got, err := f.engine.GetEvent(ctx, event.EventID, 5)
	require.NoError(t, err)
	assert.NotNil(t, got.Content.Data)
}

func TestBundlingLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	now := time.Now().Unix()
	asset := fixtures.CreateAsset(t, f.account, now, 0)
	event := fixtures.CreateEvent(t, f.account, asset.AssetID, now, 0, fixtures.DefaultData())
	require.NoError(t, f.repo.StoreAsset(ctx, asset))
	require.NoError(t, f.repo.StoreEvent(ctx, event))

	candidate, err := f.engine.InitialiseBundling(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, candidate.Content.Entries, 2)

	finalised, err := f.engine.FinaliseBundling(ctx, candidate, 0, 3)
	require.NoError(t, err)
	require.NotNil(t, finalised)
	require.NotNil(t, finalised.Metadata)
	assert.Equal(t, int64(10), finalised.Metadata.ProofBlock)
	assert.Equal(t, "0xtx", finalised.Metadata.BundleTransactionHash)
	assert.Equal(t, []string{candidate.BundleID}, f.uploads.uploads)

	gotAsset, err := f.repo.GetAsset(ctx, asset.AssetID)
	require.NoError(t, err)
	assert.Equal(t, candidate.BundleID, gotAsset.Metadata.BundleID)
	assert.Equal(t, "0xtx", gotAsset.Metadata.BundleTransactionHash)

	// Everything is claimed; a second round finds nothing.
	second, err := f.engine.InitialiseBundling(ctx, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, second.Content.Entries)
}

func TestFinaliseBundlingUploadFailureLeavesBundleUnregistered(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	now := time.Now().Unix()
	asset := fixtures.CreateAsset(t, f.account, now, 0)
	require.NoError(t, f.repo.StoreAsset(ctx, asset))

	candidate, err := f.engine.InitialiseBundling(ctx, 0, 0)
	require.NoError(t, err)

	f.uploads.err = errors.New("gas too low")
	_, err = f.engine.FinaliseBundling(ctx, candidate, 0, 3)
	require.Error(t, err)

	// The bundle exists, its members are committed, but no proof landed.
	unregistered, err := f.repo.FindBundlesWithoutUploadProof(ctx)
	require.NoError(t, err)
	require.Len(t, unregistered, 1)
	assert.Equal(t, candidate.BundleID, unregistered[0].BundleID)

	// The retry sweep registers it once the chain accepts uploads again.
	f.uploads.err = nil
	registered, err := f.engine.UploadNotRegisteredBundles(ctx, 3)
	require.NoError(t, err)
	require.Len(t, registered, 1)
	assert.Equal(t, candidate.BundleID, registered[0].BundleID)

	unregistered, err = f.repo.FindBundlesWithoutUploadProof(ctx)
	require.NoError(t, err)
	assert.Empty(t, unregistered)
}

func TestUploadNotRegisteredBundlesSkipsFailures(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	bundle := fixtures.CreateBundle(t, f.account, nil, nil, time.Now().Unix())
	require.NoError(t, f.repo.StoreBundle(ctx, bundle))

	f.uploads.err = errors.New("still down")
	registered, err := f.engine.UploadNotRegisteredBundles(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, registered)
}

func TestCancelBundlingReleasesClaims(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	now := time.Now().Unix()
	require.NoError(t, f.repo.StoreAsset(ctx, fixtures.CreateAsset(t, f.account, now, 0)))

	candidate, err := f.engine.InitialiseBundling(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, candidate.Content.Entries, 1)

	require.NoError(t, f.engine.CancelBundling(ctx, 0))

	// Cancelling twice is harmless, and the entity is claimable again.
	require.NoError(t, f.engine.CancelBundling(ctx, 0))
	reclaimed, err := f.engine.InitialiseBundling(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, reclaimed.Content.Entries, 1)
}

// flakyInserts wraps a collection whose inserts can be made to fail.
type flakyInserts struct {
	storage.Collection
	fail bool
}

func (c *flakyInserts) InsertOne(ctx context.Context, doc interface{}) error {
	if c.fail {
		return errors.New("disk full")
	}
	return c.Collection.InsertOne(ctx, doc)
}

type flakyBundleStore struct {
	storage.Store
	bundles *flakyInserts
}

func (s *flakyBundleStore) Collection(name string) storage.Collection {
	if name == "bundles" {
		return s.bundles
	}
	return s.Store.Collection(name)
}

func TestFinaliseBundlingStoreFailureReleasesClaims(t *testing.T) {
	ctx := context.Background()
	registry, err := schema.NewRegistry()
	require.NoError(t, err)
	inner := memorydb.New()
	bundles := &flakyInserts{Collection: inner.Collection("bundles")}
	repo := entities.NewRepository(&flakyBundleStore{Store: inner, bundles: bundles})
	account := fixtures.NewAccount(t)
	eng := New(Config{
		Repository: repo,
		Validator:  entity.NewValidator(86400, registry),
		Builder:    entity.NewBuilder(),
		Uploads:    &fakeUploads{},
		Fetcher:    &fakeFetcher{},
		Expiration: &fakeExpiration{},
		NodeSecret: account.Secret,
	})
	require.NoError(t, repo.StoreAsset(ctx, fixtures.CreateAsset(t, account, time.Now().Unix(), 0)))

	candidate, err := eng.InitialiseBundling(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, candidate.Content.Entries, 1)

	bundles.fail = true
	_, err = eng.FinaliseBundling(ctx, candidate, 0, 3)
	require.Error(t, err)

	// The claimed asset was released and is bundled on the next round.
	bundles.fail = false
	retried, err := eng.InitialiseBundling(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, retried.Content.Entries, 1)
}

func TestReleaseOrphanedClaimsFreesAbandonedBundling(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	now := time.Now().Unix()
	require.NoError(t, f.repo.StoreAsset(ctx, fixtures.CreateAsset(t, f.account, now, 0)))

	// A bundling claims the asset and then the process dies before the
	// bundle is stored; the stub survives only on the entity.
	candidate, err := f.engine.InitialiseBundling(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, candidate.Content.Entries, 1)

	require.NoError(t, f.engine.ReleaseOrphanedClaims(ctx))

	reclaimed, err := f.engine.InitialiseBundling(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, reclaimed.Content.Entries, 1)
}

func TestDownloadBundleValidatesAndStores(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	asset := fixtures.CreateAsset(t, f.account, 100, 0)
	bundle := fixtures.CreateBundle(t, f.account, []*entity.Asset{asset}, nil, 100)
	f.fetcher.bundle = bundle

	got, err := f.engine.DownloadBundle(ctx, bundle.BundleID, "0xshelterer")
	require.NoError(t, err)
	assert.Equal(t, bundle.BundleID, got.BundleID)

	stored, err := f.repo.GetBundle(ctx, bundle.BundleID)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestDownloadBundleRejectsWrongBundle(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	bundle := fixtures.CreateBundle(t, f.account, nil, nil, 100)
	f.fetcher.bundle = bundle

	_, err := f.engine.DownloadBundle(ctx, "0xexpected", "0xshelterer")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instead of")
}

func TestDownloadBundleRejectsInvalidBundle(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	bundle := fixtures.CreateBundle(t, f.account, nil, nil, 100)
	bundle.Content.IDData.EntriesHash = "0x11"
	f.fetcher.bundle = bundle

	_, err := f.engine.DownloadBundle(ctx, bundle.BundleID, "0xshelterer")
	require.Error(t, err)
	assert.IsType(t, &entity.ValidationError{}, err)
}

func TestUpdateShelteringExpirationDate(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	bundle := fixtures.CreateBundle(t, f.account, nil, nil, 100)
	require.NoError(t, f.repo.StoreBundle(ctx, bundle))

	require.NoError(t, f.engine.UpdateShelteringExpirationDate(ctx, bundle.BundleID))

	got, err := f.repo.GetBundle(ctx, bundle.BundleID)
	require.NoError(t, err)
	require.NotNil(t, got.Metadata)
	assert.Equal(t, int64(999), got.Metadata.HoldUntil)
}
