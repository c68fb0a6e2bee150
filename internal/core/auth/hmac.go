// Package auth verifies webhook signatures and admin API tokens.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// Signature headers, in lookup order. The tracker still sends the legacy name.
var SignatureHeaders = []string{"Clubhouse-Signature", "Shortcut-Signature"}

// ComputeHMAC computes the HMAC-SHA256 of body using secret.
func ComputeHMAC(secret []byte, body []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	return h.Sum(nil)
}

// Sign returns the hex signature the tracker would send for body.
func Sign(secret []byte, body []byte) string {
	return hex.EncodeToString(ComputeHMAC(secret, body))
}

// VerifyHMAC verifies HMAC signature using constant-time comparison.
func VerifyHMAC(expected, computed []byte) bool {
	return hmac.Equal(expected, computed)
}

// VerifySignature checks sigHex against the HMAC of body. The comparison is
// on the decoded bytes, so hex case is ignored and an uppercase signature is
// accepted where a byte-for-byte string match would reject it. Surrounding
// whitespace is trimmed.
func VerifySignature(secret []byte, body []byte, sigHex string) error {
	sigHex = strings.TrimSpace(sigHex)
	if sigHex == "" {
		return ErrSignatureMissing
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return ErrSignatureFormat
	}
	if !VerifyHMAC(sig, ComputeHMAC(secret, body)) {
		return ErrSignatureMismatch
	}
	return nil
}

// SignatureFromRequest returns the first non-empty signature header.
func SignatureFromRequest(r *http.Request) string {
	for _, h := range SignatureHeaders {
		if v := r.Header.Get(h); v != "" {
			return v
		}
	}
	return ""
}

// Verifier checks webhook deliveries against a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify checks the request's signature header against body.
func (v *Verifier) Verify(r *http.Request, body []byte) error {
	return VerifySignature(v.secret, body, SignatureFromRequest(r))
}
