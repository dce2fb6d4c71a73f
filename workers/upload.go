package workers

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/kindomxu/ambrosus-node/entity"
)

// UploadsRepository is the on-chain surface the upload worker consults
// before spending a tick.
type UploadsRepository interface {
	CheckIfEnoughFundsForUpload(ctx context.Context, storagePeriods int64) (bool, error)
	BundleItemsCountLimit(ctx context.Context) (int, error)
}

// UploadEngine is the bundling lifecycle the upload worker drives.
type UploadEngine interface {
	InitialiseBundling(ctx context.Context, sequenceNumber int64, itemsCountLimit int) (*entity.Bundle, error)
	FinaliseBundling(ctx context.Context, bundle *entity.Bundle, sequenceNumber int64, storagePeriods int64) (*entity.Bundle, error)
	CancelBundling(ctx context.Context, sequenceNumber int64) error
	UploadNotRegisteredBundles(ctx context.Context, storagePeriods int64) ([]*entity.Bundle, error)
}

// UploadWorker periodically assembles the free entities into a bundle and
// commits it on chain. sequenceNumber and sinceLastRetry are worker-local
// and not persisted across restarts.
type UploadWorker struct {
	*PeriodicWorker

	engine      UploadEngine
	uploads     UploadsRepository
	strategy    UploadStrategy
	retryPeriod int64

	sequenceNumber int64
	sinceLastRetry int64
}

// NewUploadWorker builds the worker. retryPeriod is the number of ticks
// between sweeps for bundles that missed their on-chain registration; the
// counter starts saturated so the first tick always sweeps.
func NewUploadWorker(engine UploadEngine, uploads UploadsRepository, strategy UploadStrategy, retryPeriod int64, logger *logrus.Logger) *UploadWorker {
	w := &UploadWorker{
		engine:         engine,
		uploads:        uploads,
		strategy:       strategy,
		retryPeriod:    retryPeriod,
		sinceLastRetry: retryPeriod,
	}
	w.PeriodicWorker = NewPeriodicWorker("upload", strategy.WorkerInterval(), logger, w.tick)
	return w
}

func (w *UploadWorker) tick(ctx context.Context) {
	storagePeriods := w.strategy.StoragePeriods()

	enough, err := w.uploads.CheckIfEnoughFundsForUpload(ctx, storagePeriods)
	if err != nil {
		w.log.WithError(err).Error("Could not check upload funds")
		return
	}
	if !enough {
		w.log.Warn("Insufficient funds to upload the bundle")
		return
	}

	w.retryUploadIfNecessary(ctx, storagePeriods)

	itemsCountLimit, err := w.uploads.BundleItemsCountLimit(ctx)
	if err != nil {
		w.log.WithError(err).Error("Could not read bundle items count limit")
		return
	}

	candidate, err := w.engine.InitialiseBundling(ctx, w.sequenceNumber, itemsCountLimit)
	if err != nil {
		w.log.WithError(err).Error("Could not initialise bundling")
		return
	}

	if !w.strategy.ShouldBundle(candidate) {
		if err := w.engine.CancelBundling(ctx, w.sequenceNumber); err != nil {
			w.log.WithError(err).Error("Could not cancel bundling")
			return
		}
		w.log.Info("Bundling process canceled")
		return
	}

	result, err := w.engine.FinaliseBundling(ctx, candidate, w.sequenceNumber, storagePeriods)
	if err != nil || result == nil {
		w.log.WithError(err).Error("Bundle upload failed")
		return
	}
	w.log.WithFields(logrus.Fields{
		"bundleId": result.BundleID,
		"txHash":   result.Metadata.BundleTransactionHash,
	}).Info("Bundle uploaded")
	w.strategy.BundlingSucceeded()
	w.sequenceNumber++
}

// retryUploadIfNecessary re-registers stored but unregistered bundles once
// every retryPeriod ticks.
func (w *UploadWorker) retryUploadIfNecessary(ctx context.Context, storagePeriods int64) {
	w.sinceLastRetry++
	if w.sinceLastRetry < w.retryPeriod {
		return
	}
	registered, err := w.engine.UploadNotRegisteredBundles(ctx, storagePeriods)
	if err != nil {
		w.log.WithError(err).Error("Could not retry bundle uploads")
		return
	}
	if len(registered) > 0 {
		w.log.WithField("count", len(registered)).Info("Registered bundles missing an upload proof")
		w.sinceLastRetry = 0
	}
}
