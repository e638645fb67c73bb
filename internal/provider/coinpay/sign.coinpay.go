package coinpay

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"deposit-service/pkg/xerrors"
)

// Callback verification. The provider signs hash_hmac('sha1', ...) over a
// PHP-style serialization of the callback fields sorted by name, with the
// verify_hash field removed. That serialization is length-prefixed and
// type-tagged, and must be replicated byte-for-byte.

const signatureField = "verify_hash"

// phpSerialize renders a decoded JSON value the way PHP's serialize() does.
// String lengths are byte lengths, not rune counts.
func phpSerialize(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("N;")
	case bool:
		if val {
			buf.WriteString("b:1;")
		} else {
			buf.WriteString("b:0;")
		}
	case string:
		fmt.Fprintf(buf, "s:%d:\"%s\";", len(val), val)
	case json.Number:
		s := val.String()
		if !strings.ContainsAny(s, ".eE") {
			fmt.Fprintf(buf, "i:%s;", s)
		} else {
			fmt.Fprintf(buf, "d:%s;", s)
		}
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(buf, "a:%d:{", len(val))
		for _, k := range keys {
			fmt.Fprintf(buf, "s:%d:\"%s\";", len(k), k)
			if err := phpSerialize(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteString("}")
	case []interface{}:
		fmt.Fprintf(buf, "a:%d:{", len(val))
		for i, item := range val {
			fmt.Fprintf(buf, "i:%d;", i)
			if err := phpSerialize(buf, item); err != nil {
				return err
			}
		}
		buf.WriteString("}")
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
	return nil
}

// canonicalCallback strips the signature field and serializes the rest.
func canonicalCallback(payload map[string]interface{}) ([]byte, error) {
	fields := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if k == signatureField {
			continue
		}
		fields[k] = v
	}

	var buf bytes.Buffer
	if err := phpSerialize(&buf, fields); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func computeCallbackSignature(secret string, canonical []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCallback authenticates a decoded callback payload; pure, so it can
// be tested against fixed vectors.
func VerifyCallback(secret string, payload map[string]interface{}) error {
	raw, ok := payload[signatureField]
	if !ok {
		return xerrors.ErrMissingSignature
	}
	provided, ok := raw.(string)
	if !ok || strings.TrimSpace(provided) == "" {
		return xerrors.ErrMissingSignature
	}

	canonical, err := canonicalCallback(payload)
	if err != nil {
		return xerrors.ErrMalformedPayload
	}

	expected := computeCallbackSignature(secret, canonical)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(provided))) {
		return xerrors.ErrBadSignature
	}
	return nil
}
