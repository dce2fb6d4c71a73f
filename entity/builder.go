package entity

import (
	"time"

	"github.com/pkg/errors"

	"github.com/kindomxu/ambrosus-node/crypto/identity"
)

// Builder produces and reshapes entities. All operations return copies; the
// inputs are never mutated.
type Builder struct {
	now func() time.Time
}

// NewBuilder creates a builder using the wall clock.
func NewBuilder() *Builder {
	return &Builder{now: time.Now}
}

// NewBuilderWithClock creates a builder with an injected clock for tests.
func NewBuilderWithClock(now func() time.Time) *Builder {
	return &Builder{now: now}
}

// SetAssetBundle returns a copy of a with metadata.bundleId set.
func SetAssetBundle(a *Asset, bundleID string) *Asset {
	out := *a
	out.Metadata = copyAssetMetadata(a.Metadata)
	out.Metadata.BundleID = bundleID
	return &out
}

// SetEventBundle returns a copy of e with metadata.bundleId set.
func SetEventBundle(e *Event, bundleID string) *Event {
	out := *e
	out.Metadata = copyEventMetadata(e.Metadata)
	out.Metadata.BundleID = bundleID
	return &out
}

// RemoveAssetBundle returns a copy of a without metadata.bundleId. Other
// metadata is preserved; empty metadata drops entirely.
func RemoveAssetBundle(a *Asset) *Asset {
	out := *a
	if a.Metadata == nil {
		return &out
	}
	md := *a.Metadata
	md.BundleID = ""
	if md == (AssetMetadata{}) {
		out.Metadata = nil
	} else {
		out.Metadata = &md
	}
	return &out
}

// RemoveEventBundle returns a copy of e without metadata.bundleId.
func RemoveEventBundle(e *Event) *Event {
	out := *e
	if e.Metadata == nil {
		return &out
	}
	md := *e.Metadata
	md.BundleID = ""
	if md == (EventMetadata{}) {
		out.Metadata = nil
	} else {
		out.Metadata = &md
	}
	return &out
}

// SetAssetUploadTimestamp stamps metadata.entityUploadTimestamp with the
// current time in seconds.
func (b *Builder) SetAssetUploadTimestamp(a *Asset) *Asset {
	out := *a
	out.Metadata = copyAssetMetadata(a.Metadata)
	out.Metadata.EntityUploadTimestamp = b.now().Unix()
	return &out
}

// SetEventUploadTimestamp stamps metadata.entityUploadTimestamp with the
// current time in seconds.
func (b *Builder) SetEventUploadTimestamp(e *Event) *Event {
	out := *e
	out.Metadata = copyEventMetadata(e.Metadata)
	out.Metadata.EntityUploadTimestamp = b.now().Unix()
	return &out
}

// RedactEventForAccessLevel applies the disclosure gate: an event whose
// accessLevel exceeds the reader's level loses content.data, everything
// else stays intact. This one predicate serves both repository reads and
// bundle publication.
func RedactEventForAccessLevel(e *Event, accessLevel int64) *Event {
	if e.Content.IDData.AccessLevel <= accessLevel {
		return e
	}
	out := *e
	out.Content.Data = nil
	return &out
}

// PrepareEventForBundlePublication redacts an event for the public record:
// any accessLevel above zero loses its data.
func PrepareEventForBundlePublication(e *Event) *Event {
	return RedactEventForAccessLevel(e, 0)
}

// AssembleBundle composes, hashes and signs a bundle over the given assets
// and events. Entities enter the bundle stripped of their claim stub and
// events are redacted for publication.
func (b *Builder) AssembleBundle(assets []*Asset, events []*Event, timestamp int64, secret string) (*Bundle, error) {
	entries := make(BundleEntries, 0, len(assets)+len(events))
	for _, a := range assets {
		entries = append(entries, RemoveAssetBundle(a))
	}
	for _, e := range events {
		entries = append(entries, PrepareEventForBundlePublication(RemoveEventBundle(e)))
	}

	createdBy, err := identity.AddressFromSecret(secret)
	if err != nil {
		return nil, errors.Wrap(err, "could not derive bundling address")
	}
	entriesHash, err := identity.CalculateHash(entries)
	if err != nil {
		return nil, errors.Wrap(err, "could not hash entries")
	}
	idData := BundleIDData{
		CreatedBy:   createdBy,
		Timestamp:   timestamp,
		EntriesHash: entriesHash,
	}
	signature, err := identity.Sign(secret, idData)
	if err != nil {
		return nil, errors.Wrap(err, "could not sign bundle")
	}
	content := BundleContent{
		IDData:    idData,
		Signature: signature,
		Entries:   entries,
	}
	bundleID, err := identity.CalculateHash(content)
	if err != nil {
		return nil, errors.Wrap(err, "could not hash bundle")
	}
	return &Bundle{BundleID: bundleID, Content: content}, nil
}

func copyAssetMetadata(md *AssetMetadata) *AssetMetadata {
	if md == nil {
		return &AssetMetadata{}
	}
	out := *md
	return &out
}

func copyEventMetadata(md *EventMetadata) *EventMetadata {
	if md == nil {
		return &EventMetadata{}
	}
	out := *md
	return &out
}
