package workers

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	logTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindomxu/ambrosus-node/entity"
)

type fakeUploadsRepo struct {
	enough     bool
	fundsErr   error
	limit      int
	fundsCalls int
	limitCalls int
}

func (r *fakeUploadsRepo) CheckIfEnoughFundsForUpload(ctx context.Context, storagePeriods int64) (bool, error) {
	r.fundsCalls++
	return r.enough, r.fundsErr
}

func (r *fakeUploadsRepo) BundleItemsCountLimit(ctx context.Context) (int, error) {
	r.limitCalls++
	return r.limit, nil
}

type fakeUploadEngine struct {
	candidate   *entity.Bundle
	finaliseErr error

	initSeqs    []int64
	initLimits  []int
	finalised   []string
	cancelled   []int64
	retrySweeps int
	retryResult []*entity.Bundle
}

func (e *fakeUploadEngine) InitialiseBundling(ctx context.Context, sequenceNumber int64, itemsCountLimit int) (*entity.Bundle, error) {
	e.initSeqs = append(e.initSeqs, sequenceNumber)
	e.initLimits = append(e.initLimits, itemsCountLimit)
	return e.candidate, nil
}

func (e *fakeUploadEngine) FinaliseBundling(ctx context.Context, bundle *entity.Bundle, sequenceNumber int64, storagePeriods int64) (*entity.Bundle, error) {
	if e.finaliseErr != nil {
		return nil, e.finaliseErr
	}
	e.finalised = append(e.finalised, bundle.BundleID)
	registered := *bundle
	registered.Metadata = &entity.BundleMetadata{ProofBlock: 10, BundleTransactionHash: "0xtx"}
	return &registered, nil
}

func (e *fakeUploadEngine) CancelBundling(ctx context.Context, sequenceNumber int64) error {
	e.cancelled = append(e.cancelled, sequenceNumber)
	return nil
}

func (e *fakeUploadEngine) UploadNotRegisteredBundles(ctx context.Context, storagePeriods int64) ([]*entity.Bundle, error) {
	e.retrySweeps++
	return e.retryResult, nil
}

type recordingUploadStrategy struct {
	periods   int64
	bundle    bool
	successes int
}

func (s *recordingUploadStrategy) WorkerInterval() time.Duration    { return time.Hour }
func (s *recordingUploadStrategy) StoragePeriods() int64            { return s.periods }
func (s *recordingUploadStrategy) ShouldBundle(*entity.Bundle) bool { return s.bundle }
func (s *recordingUploadStrategy) BundlingSucceeded()               { s.successes++ }

func candidateBundle() *entity.Bundle {
	return &entity.Bundle{
		BundleID: "0xcandidate",
		Content: entity.BundleContent{
			Entries: entity.BundleEntries{&entity.Asset{AssetID: "0xasset"}},
		},
	}
}

func newUploadWorkerFixture(retryPeriod int64) (*UploadWorker, *fakeUploadEngine, *fakeUploadsRepo, *recordingUploadStrategy, *logTest.Hook) {
	engine := &fakeUploadEngine{candidate: candidateBundle()}
	repo := &fakeUploadsRepo{enough: true, limit: 100}
	strategy := &recordingUploadStrategy{periods: 3, bundle: true}
	logger, hook := logTest.NewNullLogger()
	worker := NewUploadWorker(engine, repo, strategy, retryPeriod, logger)
	return worker, engine, repo, strategy, hook
}

func lastMessages(hook *logTest.Hook) []string {
	messages := make([]string, 0, len(hook.Entries))
	for _, e := range hook.Entries {
		messages = append(messages, e.Message)
	}
	return messages
}

func TestUploadTickInsufficientFundsShortCircuits(t *testing.T) {
	worker, engine, repo, _, hook := newUploadWorkerFixture(12)
	repo.enough = false

	worker.tick(context.Background())

	assert.Equal(t, 1, repo.fundsCalls)
	assert.Zero(t, repo.limitCalls)
	assert.Zero(t, engine.retrySweeps)
	assert.Empty(t, engine.initSeqs)
	assert.Contains(t, lastMessages(hook), "Insufficient funds to upload the bundle")
}

func TestUploadTickBundlesAndIncrementsSequence(t *testing.T) {
	worker, engine, _, strategy, hook := newUploadWorkerFixture(12)

	worker.tick(context.Background())
	worker.tick(context.Background())

	assert.Equal(t, []int64{0, 1}, engine.initSeqs)
	assert.Equal(t, []int{100, 100}, engine.initLimits)
	assert.Equal(t, []string{"0xcandidate", "0xcandidate"}, engine.finalised)
	assert.Equal(t, 2, strategy.successes)
	assert.Contains(t, lastMessages(hook), "Bundle uploaded")
}

func TestUploadTickKeepsSequenceOnFailure(t *testing.T) {
	worker, engine, _, strategy, hook := newUploadWorkerFixture(12)
	engine.finaliseErr = errors.New("gas too low")

	worker.tick(context.Background())
	worker.tick(context.Background())

	// The same sequence number is retried until an upload lands.
	assert.Equal(t, []int64{0, 0}, engine.initSeqs)
	assert.Zero(t, strategy.successes)
	assert.Contains(t, lastMessages(hook), "Bundle upload failed")

	engine.finaliseErr = nil
	worker.tick(context.Background())
	assert.Equal(t, []int64{0, 0, 0}, engine.initSeqs)
	assert.Equal(t, 1, strategy.successes)
}

func TestUploadTickCancelsWhenStrategyDeclines(t *testing.T) {
	worker, engine, _, strategy, hook := newUploadWorkerFixture(12)
	strategy.bundle = false

	worker.tick(context.Background())

	assert.Empty(t, engine.finalised)
	assert.Equal(t, []int64{0}, engine.cancelled)
	assert.Contains(t, lastMessages(hook), "Bundling process canceled")
}

func TestUploadRetrySweepScheduling(t *testing.T) {
	worker, engine, _, _, _ := newUploadWorkerFixture(3)
	engine.retryResult = []*entity.Bundle{{BundleID: "0xlate"}}

	// The counter starts saturated, so the first tick sweeps and resets.
	worker.tick(context.Background())
	require.Equal(t, 1, engine.retrySweeps)

	worker.tick(context.Background())
	worker.tick(context.Background())
	require.Equal(t, 1, engine.retrySweeps)

	worker.tick(context.Background())
	assert.Equal(t, 2, engine.retrySweeps)
}

func TestUploadRetrySweepRepeatsUntilSomethingRegisters(t *testing.T) {
	worker, engine, _, _, _ := newUploadWorkerFixture(3)
	engine.retryResult = nil

	// An empty sweep does not reset the counter, so every tick keeps
	// sweeping until a bundle actually registers.
	worker.tick(context.Background())
	worker.tick(context.Background())
	assert.Equal(t, 2, engine.retrySweeps)
}
