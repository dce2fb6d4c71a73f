// Package blockchain adapts the on-chain registry for the rest of the node:
// chain sync waiting, bundle proof uploads, the shelter challenge feed and
// peer bundle downloads.
package blockchain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "blockchain")

// SyncStatus is the chain head position reported while the client is still
// catching up.
type SyncStatus struct {
	CurrentBlock uint64
	HighestBlock uint64
}

// Done reports whether the chain has caught up with its known head.
func (s SyncStatus) Done() bool {
	return s.CurrentBlock >= s.HighestBlock
}

// SyncChecker reports the client's sync progress. A nil status means the
// client is not syncing at all.
type SyncChecker interface {
	SyncStatus(ctx context.Context) (*SyncStatus, error)
}

// WaitForChainSync polls the checker every interval until the chain is in
// sync, invoking cb once per poll that still reports syncing. The callback
// is never invoked when the chain is already in sync on the first poll.
func WaitForChainSync(ctx context.Context, checker SyncChecker, interval time.Duration, cb func(SyncStatus)) error {
	for {
		status, err := checker.SyncStatus(ctx)
		if err != nil {
			return errors.Wrap(err, "could not query sync status")
		}
		if status == nil || status.Done() {
			return nil
		}
		if cb != nil {
			cb(*status)
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// ClientSyncChecker reads sync progress from an RPC client.
type ClientSyncChecker struct {
	client *ethclient.Client
}

// NewClientSyncChecker wraps the given client.
func NewClientSyncChecker(client *ethclient.Client) *ClientSyncChecker {
	return &ClientSyncChecker{client: client}
}

// SyncStatus implements SyncChecker.
func (c *ClientSyncChecker) SyncStatus(ctx context.Context) (*SyncStatus, error) {
	progress, err := c.client.SyncProgress(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not read sync progress")
	}
	if progress == nil {
		return nil, nil
	}
	return &SyncStatus{CurrentBlock: progress.CurrentBlock, HighestBlock: progress.HighestBlock}, nil
}
