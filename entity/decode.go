package entity

import (
	"bytes"
	"encoding/json"
)

// Strict decoders: unknown fields anywhere in the document are rejected,
// which is the shape whitelist of the validation pipeline. Decoding errors
// surface as ValidationError so callers treat them as terminal.

// DecodeAsset parses raw JSON into an Asset, rejecting unknown fields.
func DecodeAsset(raw []byte) (*Asset, error) {
	var a Asset
	if err := decodeStrict(raw, &a); err != nil {
		return nil, NewValidationError("malformed asset: %v", err)
	}
	return &a, nil
}

// DecodeEvent parses raw JSON into an Event, rejecting unknown fields.
func DecodeEvent(raw []byte) (*Event, error) {
	var e Event
	if err := decodeStrict(raw, &e); err != nil {
		return nil, NewValidationError("malformed event: %v", err)
	}
	return &e, nil
}

// DecodeBundle parses raw JSON into a Bundle, rejecting unknown fields.
// Entries decode recursively through the same strict path.
func DecodeBundle(raw []byte) (*Bundle, error) {
	var b Bundle
	if err := decodeStrict(raw, &b); err != nil {
		return nil, NewValidationError("malformed bundle: %v", err)
	}
	return &b, nil
}

func decodeStrict(raw []byte, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
