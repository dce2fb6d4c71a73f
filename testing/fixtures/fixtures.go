// Package fixtures creates correctly hashed and signed entities for tests.
package fixtures

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kindomxu/ambrosus-node/crypto/identity"
	"github.com/kindomxu/ambrosus-node/entity"
)

// Account is a test identity.
type Account struct {
	Secret  string
	Address string
}

// NewAccount generates a fresh secp256k1 test identity.
func NewAccount(t *testing.T) *Account {
	t.Helper()
	secret, err := identity.RandomSecret()
	require.NoError(t, err)
	address, err := identity.AddressFromSecret(secret)
	require.NoError(t, err)
	return &Account{Secret: secret, Address: address}
}

// CreateAsset builds a valid signed asset created by the account.
func CreateAsset(t *testing.T, account *Account, timestamp, sequenceNumber int64) *entity.Asset {
	t.Helper()
	idData := entity.AssetIDData{
		CreatedBy:      account.Address,
		Timestamp:      timestamp,
		SequenceNumber: sequenceNumber,
	}
	signature, err := identity.Sign(account.Secret, idData)
	require.NoError(t, err)
	content := entity.AssetContent{IDData: idData, Signature: signature}
	assetID, err := identity.CalculateHash(content)
	require.NoError(t, err)
	return &entity.Asset{AssetID: assetID, Content: content}
}

// DefaultData is a minimal valid data sequence for events.
func DefaultData() []entity.DataEntry {
	return []entity.DataEntry{{"type": "custom.test.entry", "value": "observed"}}
}

// LocationData builds an ambrosus.event.location entry around a GeoJSON
// point.
func LocationData(longitude, latitude float64) []entity.DataEntry {
	return []entity.DataEntry{{
		"type": "ambrosus.event.location",
		"geoJson": map[string]interface{}{
			"type":        "Point",
			"coordinates": []interface{}{longitude, latitude},
		},
	}}
}

// CreateEvent builds a valid signed event attached to assetID.
func CreateEvent(t *testing.T, account *Account, assetID string, timestamp, accessLevel int64, data []entity.DataEntry) *entity.Event {
	t.Helper()
	dataHash, err := identity.CalculateHash(data)
	require.NoError(t, err)
	idData := entity.EventIDData{
		AssetID:     assetID,
		CreatedBy:   account.Address,
		Timestamp:   timestamp,
		DataHash:    dataHash,
		AccessLevel: accessLevel,
	}
	signature, err := identity.Sign(account.Secret, idData)
	require.NoError(t, err)
	content := entity.EventContent{IDData: idData, Data: data, Signature: signature}
	eventID, err := identity.CalculateHash(content)
	require.NoError(t, err)
	return &entity.Event{EventID: eventID, Content: content}
}

// CreateBundle assembles a valid bundle over the given entities, signed by
// the account.
func CreateBundle(t *testing.T, account *Account, assets []*entity.Asset, events []*entity.Event, timestamp int64) *entity.Bundle {
	t.Helper()
	bundle, err := entity.NewBuilder().AssembleBundle(assets, events, timestamp, account.Secret)
	require.NoError(t, err)
	return bundle
}
