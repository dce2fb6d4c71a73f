package identity_test

import (
	"testing"

	"github.com/kindomxu/ambrosus-node/crypto/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSONSortsKeysAndKeepsNumbers(t *testing.T) {
	in := map[string]interface{}{
		"b": 2,
		"a": map[string]interface{}{"y": "text", "x": []interface{}{1, 2.5}},
	}
	out, err := identity.CanonicalJSON(in)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"x":[1,2.5],"y":"text"},"b":2}`, string(out))
}

func TestCanonicalJSONIsStableAcrossStructsAndMaps(t *testing.T) {
	type idData struct {
		CreatedBy string `json:"createdBy"`
		Timestamp int64  `json:"timestamp"`
	}
	fromStruct, err := identity.CanonicalJSON(idData{CreatedBy: "0xabc", Timestamp: 7})
	require.NoError(t, err)
	fromMap, err := identity.CanonicalJSON(map[string]interface{}{
		"timestamp": 7,
		"createdBy": "0xabc",
	})
	require.NoError(t, err)
	assert.Equal(t, fromStruct, fromMap)
}

func TestCalculateHashMatchesItself(t *testing.T) {
	v := map[string]interface{}{"foo": "bar", "n": 42}
	hash, err := identity.CalculateHash(v)
	require.NoError(t, err)
	assert.Len(t, hash, 66)
	assert.Equal(t, "0x", hash[:2])

	ok, err := identity.CheckHashMatches(hash, v)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = identity.CheckHashMatches(hash, map[string]interface{}{"foo": "bar", "n": 43})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignAndValidateRoundTrip(t *testing.T) {
	secret, err := identity.RandomSecret()
	require.NoError(t, err)
	address, err := identity.AddressFromSecret(secret)
	require.NoError(t, err)

	payload := map[string]interface{}{"createdBy": address, "timestamp": 100}
	sig, err := identity.Sign(secret, payload)
	require.NoError(t, err)

	require.NoError(t, identity.ValidateSignature(address, sig, payload))

	// Tampered payload fails loudly.
	tampered := map[string]interface{}{"createdBy": address, "timestamp": 101}
	assert.ErrorIs(t, identity.ValidateSignature(address, sig, tampered), identity.ErrSignatureMismatch)

	// Wrong signer fails loudly.
	otherSecret, err := identity.RandomSecret()
	require.NoError(t, err)
	other, err := identity.AddressFromSecret(otherSecret)
	require.NoError(t, err)
	assert.ErrorIs(t, identity.ValidateSignature(other, sig, payload), identity.ErrSignatureMismatch)
}

func TestValidateSignatureRejectsGarbage(t *testing.T) {
	assert.ErrorIs(t, identity.ValidateSignature("0x0000000000000000000000000000000000000000", "0xdead", nil), identity.ErrMalformedSignature)
}

func TestAddressesEqualIgnoresChecksumCasing(t *testing.T) {
	assert.True(t, identity.AddressesEqual(
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
	))
	assert.False(t, identity.AddressesEqual("not-an-address", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"))
}
