package workers

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kindomxu/ambrosus-node/blockchain"
	"github.com/kindomxu/ambrosus-node/cache"
	"github.com/kindomxu/ambrosus-node/entity"
)

// ChallengesRepository is the challenge feed surface the worker polls.
type ChallengesRepository interface {
	OngoingChallenges(ctx context.Context) ([]blockchain.Challenge, error)
	ResolveChallenge(ctx context.Context, challengeID string) error
}

// ChallengeEngine is the sheltering lifecycle the challenge worker drives.
type ChallengeEngine interface {
	DownloadBundle(ctx context.Context, bundleID, sheltererID string) (*entity.Bundle, error)
	UpdateShelteringExpirationDate(ctx context.Context, bundleID string) error
}

// ChallengeWorker polls the on-chain challenge feed and resolves at most one
// challenge per tick. Failed challenges are negatively cached so the worker
// does not hammer the same broken shelterer every tick.
type ChallengeWorker struct {
	*PeriodicWorker

	engine     ChallengeEngine
	challenges ChallengesRepository
	strategy   ChallengeStrategy
	failed     *cache.FailedChallengesCache
}

// NewChallengeWorker builds the worker.
func NewChallengeWorker(engine ChallengeEngine, challenges ChallengesRepository, strategy ChallengeStrategy, failed *cache.FailedChallengesCache, logger *logrus.Logger) *ChallengeWorker {
	w := &ChallengeWorker{
		engine:     engine,
		challenges: challenges,
		strategy:   strategy,
		failed:     failed,
	}
	w.PeriodicWorker = NewPeriodicWorker("challenge", strategy.WorkerInterval(), logger, w.tick)
	return w
}

func (w *ChallengeWorker) tick(ctx context.Context) {
	challenges, err := w.challenges.OngoingChallenges(ctx)
	if err != nil {
		w.log.WithError(err).Error("Could not read challenge feed")
		return
	}
	w.log.WithField("count", len(challenges)).Info("Challenges found")

	for _, challenge := range challenges {
		if w.tryWithChallenge(ctx, challenge) {
			break
		}
	}
	w.failed.ClearOutdatedChallenges()
}

// tryWithChallenge attempts one challenge end to end. A failure anywhere in
// the flow negatively caches the challenge and lets the tick move on to the
// next one.
func (w *ChallengeWorker) tryWithChallenge(ctx context.Context, c blockchain.Challenge) bool {
	if w.failed.DidChallengeFailRecently(c.ChallengeID) {
		return false
	}
	if !w.strategy.ShouldFetchBundle(c) {
		w.log.WithField("challengeId", c.ChallengeID).Info("Decided not to download bundle")
		return false
	}
	bundle, err := w.engine.DownloadBundle(ctx, c.BundleID, c.SheltererID)
	if err != nil {
		w.challengeFailed(c, err)
		return false
	}
	if !w.strategy.ShouldResolveChallenge(bundle) {
		w.log.WithField("challengeId", c.ChallengeID).Info("Challenge resolution cancelled")
		return false
	}
	if err := w.challenges.ResolveChallenge(ctx, c.ChallengeID); err != nil {
		w.challengeFailed(c, err)
		return false
	}
	if err := w.engine.UpdateShelteringExpirationDate(ctx, bundle.BundleID); err != nil {
		w.challengeFailed(c, err)
		return false
	}
	w.strategy.AfterChallengeResolution(bundle)
	w.log.WithFields(logrus.Fields{
		"challengeId": c.ChallengeID,
		"bundleId":    c.BundleID,
	}).Info("Challenge resolved")
	return true
}

func (w *ChallengeWorker) challengeFailed(c blockchain.Challenge, err error) {
	w.failed.RememberFailedChallenge(c.ChallengeID, w.strategy.RetryTimeout())
	// %+v prints the stack attached by pkg/errors.
	w.log.WithFields(logrus.Fields{
		"challengeId": c.ChallengeID,
		"error":       fmt.Sprintf("%+v", err),
	}).Error("Challenge attempt failed")
}
