package lemonsqueezy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// VerifySignature checks that signature is the hex-encoded HMAC-SHA256 of
// the exact raw request body under the shared secret.
//
// The comparison is constant-time and the function fails closed: an empty
// secret, an empty signature, or malformed hex all return false. It must be
// called on the raw body bytes as delivered; re-serializing parsed JSON
// breaks verification whenever the provider's formatting differs.
func VerifySignature(body []byte, signature string, secret []byte) bool {
	if len(secret) == 0 || signature == "" {
		return false
	}

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	if _, err := mac.Write(body); err != nil {
		return false
	}
	return hmac.Equal(provided, mac.Sum(nil))
}

// SignBody computes the hex HMAC-SHA256 digest for a body. Used by tests
// and by local tooling that replays captured webhook deliveries.
func SignBody(body []byte, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
