package coinpay

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"deposit-service/internal/domain"
	"deposit-service/pkg/xerrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "callback-secret"

func TestPhpSerialize(t *testing.T) {
	tests := []struct {
		name  string
		input string // JSON
		want  string
	}{
		{"string", `"hello"`, `s:5:"hello";`},
		{"multibyte string uses byte length", `"héllo"`, "s:6:\"héllo\";"},
		{"integer", `42`, `i:42;`},
		{"negative integer", `-7`, `i:-7;`},
		{"float", `1.5`, `d:1.5;`},
		{"exponent stays a float", `1e3`, `d:1e3;`},
		{"bool true", `true`, `b:1;`},
		{"bool false", `false`, `b:0;`},
		{"null", `null`, `N;`},
		{"list", `["a","b"]`, `a:2:{i:0;s:1:"a";i:1;s:1:"b";}`},
		{
			"map with sorted keys",
			`{"b":"2","a":"1"}`,
			`a:2:{s:1:"a";s:1:"1";s:1:"b";s:1:"2";}`,
		},
		{
			"nested",
			`{"x":{"n":1}}`,
			`a:1:{s:1:"x";a:1:{s:1:"n";i:1;}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := json.NewDecoder(bytes.NewReader([]byte(tt.input)))
			dec.UseNumber()
			var v interface{}
			require.NoError(t, dec.Decode(&v))

			var buf bytes.Buffer
			require.NoError(t, phpSerialize(&buf, v))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func decodePayload(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var payload map[string]interface{}
	require.NoError(t, dec.Decode(&payload))
	return payload
}

func sign(t *testing.T, payload map[string]interface{}) string {
	t.Helper()
	canonical, err := canonicalCallback(payload)
	require.NoError(t, err)
	return computeCallbackSignature(testSecret, canonical)
}

func TestVerifyCallback(t *testing.T) {
	payload := decodePayload(t, `{"txn_id":"CPX123","status":"completed","currency":"LTC","amount":"1.25","txid":"abc"}`)
	payload[signatureField] = sign(t, payload)

	t.Run("accepts valid signature", func(t *testing.T) {
		assert.NoError(t, VerifyCallback(testSecret, payload))
	})

	t.Run("the signature field itself is excluded", func(t *testing.T) {
		// Re-signing the payload that already carries verify_hash must
		// produce the same digest.
		assert.Equal(t, payload[signatureField], sign(t, payload))
	})

	t.Run("rejects mutated amount", func(t *testing.T) {
		tampered := decodePayload(t, `{"txn_id":"CPX123","status":"completed","currency":"LTC","amount":"999","txid":"abc"}`)
		tampered[signatureField] = payload[signatureField]
		assert.ErrorIs(t, VerifyCallback(testSecret, tampered), xerrors.ErrBadSignature)
	})

	t.Run("rejects missing signature", func(t *testing.T) {
		unsigned := decodePayload(t, `{"txn_id":"CPX123"}`)
		assert.ErrorIs(t, VerifyCallback(testSecret, unsigned), xerrors.ErrMissingSignature)
	})

	t.Run("rejects wrong secret", func(t *testing.T) {
		assert.ErrorIs(t, VerifyCallback("other", payload), xerrors.ErrBadSignature)
	})
}

func TestParseWebhook(t *testing.T) {
	p := NewProvider(NewClient("http://example.invalid", "key"), testSecret, "http://cb", zap.NewNop())

	payload := decodePayload(t, `{"txn_id":"CPX123","status":"completed","currency":"LTC","amount":"1.25","fiat_amount":"101.3","txid":"abc"}`)
	payload[signatureField] = sign(t, payload)
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	event, err := p.ParseWebhook(http.Header{}, body)
	require.NoError(t, err)
	assert.Equal(t, "coinpay", event.Gateway)
	assert.Equal(t, "CPX123", event.ExternalPaymentID)
	assert.Equal(t, domain.StatusFinished, event.Status)
	assert.Equal(t, "1.25", event.ActuallyPaid.String())
	assert.Equal(t, "101.3", event.PaidFiat.String())
	assert.Equal(t, "ltc", event.PayCurrency)
	assert.Equal(t, "abc", event.TxHash)
}

func TestParseWebhookRejections(t *testing.T) {
	p := NewProvider(NewClient("http://example.invalid", "key"), testSecret, "http://cb", zap.NewNop())

	t.Run("unsigned", func(t *testing.T) {
		_, err := p.ParseWebhook(http.Header{}, []byte(`{"txn_id":"CPX123"}`))
		assert.ErrorIs(t, err, xerrors.ErrMissingSignature)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := p.ParseWebhook(http.Header{}, []byte(`txn_id=CPX123`))
		assert.ErrorIs(t, err, xerrors.ErrMalformedPayload)
	})

	t.Run("signed but zero amount", func(t *testing.T) {
		payload := decodePayload(t, `{"txn_id":"CPX123","status":"completed","currency":"LTC","amount":"0"}`)
		payload[signatureField] = sign(t, payload)
		body, err := json.Marshal(payload)
		require.NoError(t, err)
		_, err = p.ParseWebhook(http.Header{}, body)
		assert.ErrorIs(t, err, xerrors.ErrMalformedPayload)
	})
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, domain.StatusConfirming, mapStatus("pending"))
	assert.Equal(t, domain.StatusFinished, mapStatus("completed"))
	assert.Equal(t, domain.StatusFailed, mapStatus("cancelled"))
}
