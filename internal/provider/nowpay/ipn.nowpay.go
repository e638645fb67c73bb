package nowpay

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"strings"

	"deposit-service/pkg/xerrors"
)

// IPN verification. The provider signs the HMAC-SHA512 of the callback
// body re-serialized with lexicographically sorted keys; the hex digest
// arrives in the x-nowpayments-sig header. Canonicalization is pure so it
// can be tested against fixed vectors.

const SignatureHeader = "x-nowpayments-sig"

// canonicalIPN re-serializes the payload with sorted keys while preserving
// number literals byte-for-byte. The remote signer computed its signature
// over exactly this byte sequence.
func canonicalIPN(body []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload map[string]interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	// Encode appends a newline.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func computeIPNSignature(secret string, canonical []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyIPN authenticates an inbound notification. It never mutates state
// and never logs; callers map the sentinel errors to HTTP rejections.
func VerifyIPN(secret string, body []byte, provided string) error {
	provided = strings.TrimSpace(strings.ToLower(provided))
	if provided == "" {
		return xerrors.ErrMissingSignature
	}

	canonical, err := canonicalIPN(body)
	if err != nil {
		return xerrors.ErrMalformedPayload
	}

	expected := computeIPNSignature(secret, canonical)
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return xerrors.ErrBadSignature
	}
	return nil
}
