package server

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Callers authenticate by signing the raw request body with the ed25519 key
// behind their wallet pubkey, wallet-adapter style. The signer header carries
// the base58 pubkey and the signature header the base64 signature bytes.
const (
	signerHeader    = "X-Signer"
	signatureHeader = "X-Signature"
)

// authenticate verifies the request signature and returns the proven signer
// identity. The signature must cover the exact body bytes.
func authenticate(r *http.Request, body []byte) (solana.PublicKey, error) {
	pubkeyStr := r.Header.Get(signerHeader)
	if pubkeyStr == "" {
		return solana.PublicKey{}, fmt.Errorf("missing %s header", signerHeader)
	}
	signatureStr := r.Header.Get(signatureHeader)
	if signatureStr == "" {
		return solana.PublicKey{}, fmt.Errorf("missing %s header", signatureHeader)
	}

	valid, err := verifyEd25519Signature(pubkeyStr, body, signatureStr)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if !valid {
		return solana.PublicKey{}, fmt.Errorf("signature verification failed")
	}

	signer, err := solana.PublicKeyFromBase58(pubkeyStr)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to parse signer pubkey: %w", err)
	}
	return signer, nil
}

// verifyEd25519Signature verifies an ed25519 signature over message, with the
// pubkey in base58 and the signature in base64 (padded, URL-safe or raw).
func verifyEd25519Signature(publicKeyBase58 string, message []byte, signatureBase64 string) (bool, error) {
	publicKeyBytes, err := base58.Decode(publicKeyBase58)
	if err != nil {
		return false, fmt.Errorf("failed to decode public key: %w", err)
	}
	if len(publicKeyBytes) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size: expected %d, got %d", ed25519.PublicKeySize, len(publicKeyBytes))
	}

	signatureBytes, err := base64.StdEncoding.DecodeString(signatureBase64)
	if err != nil {
		// Try URL-safe base64
		signatureBytes, err = base64.URLEncoding.DecodeString(signatureBase64)
		if err != nil {
			// Try raw base64 (without padding)
			signatureBytes, err = base64.RawStdEncoding.DecodeString(signatureBase64)
			if err != nil {
				return false, fmt.Errorf("failed to decode signature: %w", err)
			}
		}
	}
	if len(signatureBytes) != ed25519.SignatureSize {
		return false, fmt.Errorf("invalid signature size: expected %d, got %d", ed25519.SignatureSize, len(signatureBytes))
	}

	return ed25519.Verify(ed25519.PublicKey(publicKeyBytes), message, signatureBytes), nil
}

// ipFromRequest extracts the client IP, preferring the first hop recorded by
// a proxy.
func ipFromRequest(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
