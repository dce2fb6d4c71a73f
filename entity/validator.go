package entity

import (
	"regexp"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kindomxu/ambrosus-node/crypto/identity"
	"github.com/kindomxu/ambrosus-node/entity/schema"
)

var hashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// Validator gates every ingress. It holds only immutable configuration and
// checks, in this fixed order: shape, hash, signature, timestamp. The first
// failing stage determines the error class, which tests rely on.
type Validator struct {
	timestampLimit int64
	registry       *schema.Registry
	now            func() time.Time
}

// NewValidator builds a validator with the given ingress timestamp window
// in seconds and the type-schema registry.
func NewValidator(timestampLimit int64, registry *schema.Registry) *Validator {
	return &Validator{timestampLimit: timestampLimit, registry: registry, now: time.Now}
}

// NewValidatorWithClock is NewValidator with an injected clock for tests.
func NewValidatorWithClock(timestampLimit int64, registry *schema.Registry, now func() time.Time) *Validator {
	return &Validator{timestampLimit: timestampLimit, registry: registry, now: now}
}

// ValidateAsset checks an asset against all ingress invariants.
func (v *Validator) ValidateAsset(a *Asset) error {
	// Shape.
	if !hashPattern.MatchString(a.AssetID) {
		return NewValidationError("assetId must be a 32 byte hex string")
	}
	if !common.IsHexAddress(a.Content.IDData.CreatedBy) {
		return NewValidationError("content.idData.createdBy must be a valid address")
	}
	if a.Content.IDData.Timestamp < 0 {
		return NewValidationError("content.idData.timestamp must be a non-negative integer")
	}
	if a.Content.IDData.SequenceNumber < 0 {
		return NewValidationError("content.idData.sequenceNumber must be a non-negative integer")
	}
	if a.Content.Signature == "" {
		return NewValidationError("content.signature is required")
	}
	// Hash.
	if err := v.checkHash(a.AssetID, a.Content, "assetId"); err != nil {
		return err
	}
	// Signature.
	if err := identity.ValidateSignature(a.Content.IDData.CreatedBy, a.Content.Signature, a.Content.IDData); err != nil {
		return NewValidationError("signature verification failed: %v", err)
	}
	// Timestamp.
	return v.checkTimestampWithinLimit(a.Content.IDData.Timestamp)
}

// ValidateEvent checks an event against all ingress invariants, including
// the per-type schemas of its data entries.
func (v *Validator) ValidateEvent(e *Event) error {
	// Shape.
	if !hashPattern.MatchString(e.EventID) {
		return NewValidationError("eventId must be a 32 byte hex string")
	}
	if !hashPattern.MatchString(e.Content.IDData.AssetID) {
		return NewValidationError("content.idData.assetId must be a 32 byte hex string")
	}
	if !common.IsHexAddress(e.Content.IDData.CreatedBy) {
		return NewValidationError("content.idData.createdBy must be a valid address")
	}
	if e.Content.IDData.Timestamp < 0 {
		return NewValidationError("content.idData.timestamp must be a non-negative integer")
	}
	if e.Content.IDData.AccessLevel < 0 {
		return NewValidationError("content.idData.accessLevel must be a non-negative integer")
	}
	if !hashPattern.MatchString(e.Content.IDData.DataHash) {
		return NewValidationError("content.idData.dataHash must be a 32 byte hex string")
	}
	if e.Content.Signature == "" {
		return NewValidationError("content.signature is required")
	}
	if len(e.Content.Data) == 0 {
		return NewValidationError("content.data must contain at least one entry")
	}
	if err := v.validateDataEntries(e.Content.Data); err != nil {
		return err
	}
	// Hash.
	if err := v.checkHash(e.EventID, e.Content, "eventId"); err != nil {
		return err
	}
	if err := v.checkHash(e.Content.IDData.DataHash, e.Content.Data, "content.idData.dataHash"); err != nil {
		return err
	}
	// Signature.
	if err := identity.ValidateSignature(e.Content.IDData.CreatedBy, e.Content.Signature, e.Content.IDData); err != nil {
		return NewValidationError("signature verification failed: %v", err)
	}
	// Timestamp.
	return v.checkTimestampWithinLimit(e.Content.IDData.Timestamp)
}

// ValidateBundle checks a bundle's shape, both hashes and the signature.
// Bundles carry no ingress timestamp window; peers may serve old bundles.
func (v *Validator) ValidateBundle(b *Bundle) error {
	// Shape.
	if !hashPattern.MatchString(b.BundleID) {
		return NewValidationError("bundleId must be a 32 byte hex string")
	}
	if !common.IsHexAddress(b.Content.IDData.CreatedBy) {
		return NewValidationError("content.idData.createdBy must be a valid address")
	}
	if b.Content.IDData.Timestamp < 0 {
		return NewValidationError("content.idData.timestamp must be a non-negative integer")
	}
	if !hashPattern.MatchString(b.Content.IDData.EntriesHash) {
		return NewValidationError("content.idData.entriesHash must be a 32 byte hex string")
	}
	if b.Content.Signature == "" {
		return NewValidationError("content.signature is required")
	}
	// Hash.
	if err := v.checkHash(b.BundleID, b.Content, "bundleId"); err != nil {
		return err
	}
	if err := v.checkHash(b.Content.IDData.EntriesHash, b.Content.Entries, "content.idData.entriesHash"); err != nil {
		return err
	}
	// Signature.
	if err := identity.ValidateSignature(b.Content.IDData.CreatedBy, b.Content.Signature, b.Content.IDData); err != nil {
		return NewValidationError("signature verification failed: %v", err)
	}
	return nil
}

func (v *Validator) validateDataEntries(data []DataEntry) error {
	for _, entry := range data {
		failures, err := v.registry.ValidateEntry(entry)
		if err != nil {
			return NewValidationError("could not validate data entry: %v", err)
		}
		if len(failures) > 0 {
			schemaErrors := make([]SchemaError, 0, len(failures))
			for _, f := range failures {
				schemaErrors = append(schemaErrors, SchemaError{DataPath: f.DataPath, Message: f.Message})
			}
			return &JsonValidationError{Errors: schemaErrors}
		}
	}
	return nil
}

func (v *Validator) checkHash(expected string, value interface{}, field string) error {
	ok, err := identity.CheckHashMatches(expected, value)
	if err != nil {
		return NewValidationError("could not hash %s: %v", field, err)
	}
	if !ok {
		return NewValidationError("%s does not match the content hash", field)
	}
	return nil
}

func (v *Validator) checkTimestampWithinLimit(timestamp int64) error {
	now := v.now().Unix()
	if timestamp > now+v.timestampLimit || timestamp < now-v.timestampLimit {
		return NewValidationError("timestamp is outside the allowed window of %d seconds", v.timestampLimit)
	}
	return nil
}
