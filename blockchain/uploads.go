package blockchain

import (
	"context"

	"github.com/sirupsen/logrus"
)

// UploadsRepository exposes the registry operations the upload worker needs.
type UploadsRepository struct {
	gateway *ContractGateway
}

// NewUploadsRepository builds the repository over the gateway.
func NewUploadsRepository(gateway *ContractGateway) *UploadsRepository {
	return &UploadsRepository{gateway: gateway}
}

// CheckIfEnoughFundsForUpload reports whether the node's balance covers the
// upload fee for the given number of storage periods.
func (r *UploadsRepository) CheckIfEnoughFundsForUpload(ctx context.Context, storagePeriods int64) (bool, error) {
	fee, err := r.gateway.FeeForUpload(ctx, storagePeriods)
	if err != nil {
		return false, err
	}
	balance, err := r.gateway.Balance(ctx)
	if err != nil {
		return false, err
	}
	enough := balance.Cmp(fee) >= 0
	if !enough {
		log.WithFields(logrus.Fields{
			"balance": balance.String(),
			"fee":     fee.String(),
		}).Warn("Balance below upload fee")
	}
	return enough, nil
}

// UploadBundle registers the bundle hash on chain and returns the mined
// proof.
func (r *UploadsRepository) UploadBundle(ctx context.Context, bundleID string, storagePeriods int64) (*UploadProof, error) {
	return r.gateway.RegisterBundle(ctx, bundleID, storagePeriods)
}

// BundleItemsCountLimit returns the registry's cap on entities per bundle.
func (r *UploadsRepository) BundleItemsCountLimit(ctx context.Context) (int, error) {
	return r.gateway.BundleItemsCountLimit(ctx)
}
