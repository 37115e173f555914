package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrSignatureInvalid is returned for every verification failure. The text
// is deliberately generic: missing secret, missing header, malformed hex,
// and a plain mismatch are indistinguishable to the caller.
var ErrSignatureInvalid = errors.New("webhook verification failed")

// Verifier checks HMAC-SHA256 request signatures against a shared secret.
//
// Supported header formats:
//   - "sha256=<hex>" (GitHub X-Hub-Signature-256)
//   - "<hex>" (plain hex)
type Verifier struct {
	secret        string
	allowUnsigned bool
}

func NewVerifier(secret string, allowUnsigned bool) *Verifier {
	return &Verifier{secret: secret, allowUnsigned: allowUnsigned}
}

// Verify compares the claimed signature to the HMAC-SHA256 of body in
// constant time. It fails closed: an unconfigured secret rejects every
// delivery unless allowUnsigned was set explicitly.
func (v *Verifier) Verify(body []byte, signature string) error {
	if v.secret == "" {
		if v.allowUnsigned {
			return nil
		}
		return ErrSignatureInvalid
	}
	if signature == "" {
		return ErrSignatureInvalid
	}

	claimed, err := parseSignature(signature)
	if err != nil {
		return ErrSignatureInvalid
	}

	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	if subtle.ConstantTimeCompare(expected, claimed) != 1 {
		return ErrSignatureInvalid
	}
	return nil
}

// parseSignature decodes the signature header into raw bytes.
func parseSignature(signature string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return nil, err
	}
	if len(raw) != sha256.Size {
		return nil, errors.New("wrong signature length")
	}
	return raw, nil
}

// Sign computes the GitHub-style "sha256=<hex>" signature for a body.
// Used by tests and by senders that need to produce valid deliveries.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
