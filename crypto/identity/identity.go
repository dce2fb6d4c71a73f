// Package identity implements the cryptographic primitives every entity in
// the network is addressed and authenticated with: keccak256 hashes over
// canonical JSON and secp256k1 signatures recoverable to an ethereum-style
// address.
package identity

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

var (
	// ErrSignatureMismatch is returned when a signature recovers to a
	// different address than the claimed signer.
	ErrSignatureMismatch = errors.New("signature does not match the declared address")
	// ErrMalformedSignature is returned when a signature cannot be decoded
	// or recovered at all.
	ErrMalformedSignature = errors.New("malformed signature")
)

// CalculateHash returns the 0x-prefixed keccak256 hash of the canonical
// JSON form of v. Entity ids, data hashes and entries hashes are all
// produced by this function.
func CalculateHash(v interface{}) (string, error) {
	pre, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(crypto.Keccak256(pre)), nil
}

// CheckHashMatches reports whether hash equals CalculateHash(v). Comparison
// is case-insensitive on the hex digits.
func CheckHashMatches(hash string, v interface{}) (bool, error) {
	computed, err := CalculateHash(v)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(hash, computed), nil
}

// Sign produces a 0x-prefixed, 65-byte recoverable signature over the
// canonical hash of v using the given hex-encoded secp256k1 secret.
func Sign(secret string, v interface{}) (string, error) {
	key, err := crypto.HexToECDSA(strip0x(secret))
	if err != nil {
		return "", errors.Wrap(err, "invalid secret")
	}
	pre, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sig, err := crypto.Sign(crypto.Keccak256(pre), key)
	if err != nil {
		return "", errors.Wrap(err, "could not sign")
	}
	return hexutil.Encode(sig), nil
}

// ValidateSignature fails loudly when signature over v does not recover to
// address.
func ValidateSignature(address, signature string, v interface{}) error {
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return ErrMalformedSignature
	}
	pre, err := CanonicalJSON(v)
	if err != nil {
		return err
	}
	// The recovery id may be stored in ethereum tx form (27/28).
	recSig := make([]byte, len(sig))
	copy(recSig, sig)
	if recSig[crypto.RecoveryIDOffset] >= 27 {
		recSig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(crypto.Keccak256(pre), recSig)
	if err != nil {
		return ErrMalformedSignature
	}
	recovered := crypto.PubkeyToAddress(*pub)
	if !AddressesEqual(address, recovered.Hex()) {
		return ErrSignatureMismatch
	}
	return nil
}

// AddressFromSecret derives the 0x-prefixed address controlled by the
// hex-encoded secp256k1 secret.
func AddressFromSecret(secret string) (string, error) {
	key, err := crypto.HexToECDSA(strip0x(secret))
	if err != nil {
		return "", errors.Wrap(err, "invalid secret")
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

// AddressesEqual compares two hex addresses ignoring checksum casing.
func AddressesEqual(a, b string) bool {
	return common.IsHexAddress(a) && common.IsHexAddress(b) &&
		common.HexToAddress(a) == common.HexToAddress(b)
}

// RandomSecret generates a fresh secp256k1 secret, hex encoded. Used by dev
// mode when no key is configured.
func RandomSecret() (string, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", errors.Wrap(err, "could not generate key")
	}
	return hex.EncodeToString(crypto.FromECDSA(key)), nil
}

func strip0x(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}
