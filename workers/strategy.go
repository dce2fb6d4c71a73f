package workers

import (
	"time"

	"github.com/kindomxu/ambrosus-node/blockchain"
	"github.com/kindomxu/ambrosus-node/entity"
)

// UploadStrategy decides how the upload worker spends its ticks.
type UploadStrategy interface {
	WorkerInterval() time.Duration
	StoragePeriods() int64
	ShouldBundle(candidate *entity.Bundle) bool
	BundlingSucceeded()
}

// RegularUploadStrategy bundles whenever the candidate holds any entities.
type RegularUploadStrategy struct {
	Interval time.Duration
	Periods  int64
}

// NewRegularUploadStrategy returns the default hermes strategy: one storage
// period, bundling every interval.
func NewRegularUploadStrategy(interval time.Duration) *RegularUploadStrategy {
	return &RegularUploadStrategy{Interval: interval, Periods: 1}
}

func (s *RegularUploadStrategy) WorkerInterval() time.Duration { return s.Interval }

func (s *RegularUploadStrategy) StoragePeriods() int64 { return s.Periods }

func (s *RegularUploadStrategy) ShouldBundle(candidate *entity.Bundle) bool {
	return len(candidate.Content.Entries) > 0
}

func (s *RegularUploadStrategy) BundlingSucceeded() {}

// ChallengeStrategy decides which shelter challenges the challenge worker
// participates in.
type ChallengeStrategy interface {
	WorkerInterval() time.Duration
	RetryTimeout() time.Duration
	ShouldFetchBundle(c blockchain.Challenge) bool
	ShouldResolveChallenge(b *entity.Bundle) bool
	AfterChallengeResolution(b *entity.Bundle)
}

// RegularChallengeStrategy fetches and resolves every challenge it sees.
type RegularChallengeStrategy struct {
	Interval time.Duration
	Retry    time.Duration
}

// NewRegularChallengeStrategy returns the default atlas strategy.
func NewRegularChallengeStrategy(interval, retryTimeout time.Duration) *RegularChallengeStrategy {
	return &RegularChallengeStrategy{Interval: interval, Retry: retryTimeout}
}

func (s *RegularChallengeStrategy) WorkerInterval() time.Duration { return s.Interval }

func (s *RegularChallengeStrategy) RetryTimeout() time.Duration { return s.Retry }

func (s *RegularChallengeStrategy) ShouldFetchBundle(blockchain.Challenge) bool { return true }

func (s *RegularChallengeStrategy) ShouldResolveChallenge(*entity.Bundle) bool { return true }

func (s *RegularChallengeStrategy) AfterChallengeResolution(*entity.Bundle) {}
