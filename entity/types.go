// Package entity defines the canonical data shapes of the network (assets,
// events, bundles), their builders and their validation pipeline. Every
// ingress passes through this package before touching storage.
package entity

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Asset is the root entity representing a physical or digital object. It is
// immutable after creation; only server-side metadata changes over its
// lifetime.
type Asset struct {
	AssetID  string         `json:"assetId" bson:"assetId"`
	Content  AssetContent   `json:"content" bson:"content"`
	Metadata *AssetMetadata `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// AssetContent is the signed, content-addressed part of an asset.
type AssetContent struct {
	IDData    AssetIDData `json:"idData" bson:"idData"`
	Signature string      `json:"signature" bson:"signature"`
}

// AssetIDData is the payload the creator signs.
type AssetIDData struct {
	CreatedBy      string `json:"createdBy" bson:"createdBy"`
	Timestamp      int64  `json:"timestamp" bson:"timestamp"`
	SequenceNumber int64  `json:"sequenceNumber" bson:"sequenceNumber"`
}

// AssetMetadata is server-side only and never part of the content hash.
type AssetMetadata struct {
	BundleID              string `json:"bundleId,omitempty" bson:"bundleId,omitempty"`
	BundleTransactionHash string `json:"bundleTransactionHash,omitempty" bson:"bundleTransactionHash,omitempty"`
	EntityUploadTimestamp int64  `json:"entityUploadTimestamp,omitempty" bson:"entityUploadTimestamp,omitempty"`
}

// Event is a timestamped observation attached to an asset.
type Event struct {
	EventID  string         `json:"eventId" bson:"eventId"`
	Content  EventContent   `json:"content" bson:"content"`
	Metadata *EventMetadata `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// EventContent carries the signed id data and the typed data entries. Data
// is absent on events redacted for the reader's access level.
type EventContent struct {
	IDData    EventIDData `json:"idData" bson:"idData"`
	Data      []DataEntry `json:"data,omitempty" bson:"data,omitempty"`
	Signature string      `json:"signature" bson:"signature"`
}

// EventIDData is the payload the creator signs. DataHash commits to the
// data entries so redaction cannot be silently undone or forged.
type EventIDData struct {
	AssetID     string `json:"assetId" bson:"assetId"`
	CreatedBy   string `json:"createdBy" bson:"createdBy"`
	Timestamp   int64  `json:"timestamp" bson:"timestamp"`
	DataHash    string `json:"dataHash" bson:"dataHash"`
	AccessLevel int64  `json:"accessLevel" bson:"accessLevel"`
}

// EventMetadata is server-side only.
type EventMetadata struct {
	BundleID              string `json:"bundleId,omitempty" bson:"bundleId,omitempty"`
	BundleTransactionHash string `json:"bundleTransactionHash,omitempty" bson:"bundleTransactionHash,omitempty"`
	EntityUploadTimestamp int64  `json:"entityUploadTimestamp,omitempty" bson:"entityUploadTimestamp,omitempty"`
}

// DataEntry is one typed entry of an event's data sequence. The "type" key
// selects the schema it is validated against.
type DataEntry map[string]interface{}

// Type returns the entry's type string, or "" when missing or malformed.
func (e DataEntry) Type() string {
	t, _ := e["type"].(string)
	return t
}

// Bundle is a signed collection of assets and redacted events committed on
// chain.
type Bundle struct {
	BundleID string          `json:"bundleId" bson:"bundleId"`
	Content  BundleContent   `json:"content" bson:"content"`
	Metadata *BundleMetadata `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// BundleContent is the content-addressed part of a bundle.
type BundleContent struct {
	IDData    BundleIDData  `json:"idData" bson:"idData"`
	Signature string        `json:"signature" bson:"signature"`
	Entries   BundleEntries `json:"entries" bson:"entries"`
}

// BundleIDData is the payload the bundling node signs. EntriesHash commits
// to the entry set.
type BundleIDData struct {
	CreatedBy   string `json:"createdBy" bson:"createdBy"`
	Timestamp   int64  `json:"timestamp" bson:"timestamp"`
	EntriesHash string `json:"entriesHash" bson:"entriesHash"`
}

// BundleMetadata is populated once the bundle proof lands on chain.
// HoldUntil is the sheltering expiration read back from the registry.
type BundleMetadata struct {
	ProofBlock            int64  `json:"proofBlock,omitempty" bson:"proofBlock,omitempty"`
	BundleTransactionHash string `json:"bundleTransactionHash,omitempty" bson:"bundleTransactionHash,omitempty"`
	HoldUntil             int64  `json:"holdUntil,omitempty" bson:"holdUntil,omitempty"`
}

// BundleEntries is the heterogeneous entry set of a bundle: assets and
// redacted events, keyed by their ids.
type BundleEntries []interface{}

// UnmarshalJSON decodes each entry strictly as an asset or an event,
// discriminating on the id field present.
func (e *BundleEntries) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return errors.Wrap(err, "entries must be an array")
	}
	entries := make(BundleEntries, 0, len(raws))
	for i, raw := range raws {
		var ids struct {
			AssetID *string `json:"assetId"`
			EventID *string `json:"eventId"`
		}
		if err := json.Unmarshal(raw, &ids); err != nil {
			return errors.Wrapf(err, "entry %d is not an object", i)
		}
		switch {
		case ids.AssetID != nil:
			asset, err := DecodeAsset(raw)
			if err != nil {
				return errors.Wrapf(err, "entry %d", i)
			}
			entries = append(entries, asset)
		case ids.EventID != nil:
			event, err := DecodeEvent(raw)
			if err != nil {
				return errors.Wrapf(err, "entry %d", i)
			}
			entries = append(entries, event)
		default:
			return errors.Errorf("entry %d carries neither assetId nor eventId", i)
		}
	}
	*e = entries
	return nil
}
