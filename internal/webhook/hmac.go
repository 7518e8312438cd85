package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"strings"
)

// errVerification is the only error verification returns, so callers cannot
// leak which check failed.
var errVerification = errors.New("webhook verification failed")

// verifySignature checks signature against an HMAC of body keyed by secret.
// Accepted forms are "sha256=<hex>", "sha1=<hex>" and a bare sha256 hex.
func verifySignature(body []byte, signature, secret string) error {
	if secret == "" || signature == "" {
		return errVerification
	}
	newHash, want, err := parseSignature(signature)
	if err != nil {
		return errVerification
	}
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), want) {
		return errVerification
	}
	return nil
}

func parseSignature(signature string) (func() hash.Hash, []byte, error) {
	newHash := sha256.New
	hexSig := strings.TrimSpace(signature)
	if algo, rest, ok := strings.Cut(hexSig, "="); ok {
		switch strings.ToLower(algo) {
		case "sha256":
		case "sha1":
			newHash = sha1.New
		default:
			return nil, nil, errVerification
		}
		hexSig = rest
	}
	raw, err := hex.DecodeString(hexSig)
	if err != nil {
		return nil, nil, err
	}
	return newHash, raw, nil
}

// Sign returns the "sha256=<hex>" signature of body, as GitHub sends it.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
