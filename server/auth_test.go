package server

import (
	"crypto/ed25519"
	"encoding/base64"
	"net/http/httptest"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeypair(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return base58.Encode(pub), priv
}

func TestVerifyEd25519Signature(t *testing.T) {
	pubkey, priv := testKeypair(t)
	message := []byte(`{"user":"abc"}`)
	sig := ed25519.Sign(priv, message)

	t.Run("valid standard base64", func(t *testing.T) {
		valid, err := verifyEd25519Signature(pubkey, message, base64.StdEncoding.EncodeToString(sig))
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("valid url-safe base64", func(t *testing.T) {
		valid, err := verifyEd25519Signature(pubkey, message, base64.URLEncoding.EncodeToString(sig))
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("valid raw base64", func(t *testing.T) {
		valid, err := verifyEd25519Signature(pubkey, message, base64.RawStdEncoding.EncodeToString(sig))
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("tampered message", func(t *testing.T) {
		valid, err := verifyEd25519Signature(pubkey, []byte(`{"user":"xyz"}`), base64.StdEncoding.EncodeToString(sig))
		require.NoError(t, err)
		assert.False(t, valid)
	})

	t.Run("wrong key", func(t *testing.T) {
		otherPubkey, _ := testKeypair(t)
		valid, err := verifyEd25519Signature(otherPubkey, message, base64.StdEncoding.EncodeToString(sig))
		require.NoError(t, err)
		assert.False(t, valid)
	})

	t.Run("malformed pubkey", func(t *testing.T) {
		_, err := verifyEd25519Signature("not-base58-!!", message, base64.StdEncoding.EncodeToString(sig))
		require.Error(t, err)
	})

	t.Run("truncated signature", func(t *testing.T) {
		_, err := verifyEd25519Signature(pubkey, message, base64.StdEncoding.EncodeToString(sig[:32]))
		require.Error(t, err)
	})
}

func TestAuthenticate(t *testing.T) {
	pubkey, priv := testKeypair(t)
	body := []byte(`{"admin":"abc"}`)

	t.Run("valid request", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/api/claim", nil)
		r.Header.Set(signerHeader, pubkey)
		r.Header.Set(signatureHeader, base64.StdEncoding.EncodeToString(ed25519.Sign(priv, body)))

		signer, err := authenticate(r, body)
		require.NoError(t, err)
		assert.Equal(t, pubkey, signer.String())
	})

	t.Run("missing signer header", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/api/claim", nil)
		r.Header.Set(signatureHeader, base64.StdEncoding.EncodeToString(ed25519.Sign(priv, body)))
		_, err := authenticate(r, body)
		require.Error(t, err)
	})

	t.Run("missing signature header", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/api/claim", nil)
		r.Header.Set(signerHeader, pubkey)
		_, err := authenticate(r, body)
		require.Error(t, err)
	})

	t.Run("signature over different body", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/api/claim", nil)
		r.Header.Set(signerHeader, pubkey)
		r.Header.Set(signatureHeader, base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte("other"))))
		_, err := authenticate(r, body)
		require.Error(t, err)
	})
}

func TestIPFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.1.2.3:4567"
	assert.Equal(t, "10.1.2.3", ipFromRequest(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ipFromRequest(r))
}
