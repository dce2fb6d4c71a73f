package blockchain

import "context"

// Challenge is one entry of the on-chain shelter challenge feed.
type Challenge struct {
	ChallengeID string
	SheltererID string
	BundleID    string
	Count       int64
}

// ChallengesRepository exposes the challenge feed and resolution to the
// challenge worker.
type ChallengesRepository struct {
	gateway *ContractGateway
}

// NewChallengesRepository builds the repository over the gateway.
func NewChallengesRepository(gateway *ContractGateway) *ChallengesRepository {
	return &ChallengesRepository{gateway: gateway}
}

// OngoingChallenges returns the current challenge feed in contract order.
func (r *ChallengesRepository) OngoingChallenges(ctx context.Context) ([]Challenge, error) {
	return r.gateway.ActiveChallenges(ctx)
}

// ResolveChallenge claims the challenge for this node.
func (r *ChallengesRepository) ResolveChallenge(ctx context.Context, challengeID string) error {
	return r.gateway.ResolveChallenge(ctx, challengeID)
}
