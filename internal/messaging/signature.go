package messaging

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Signature headers, in lookup order. SignalWire LaML callbacks also carry the
// Twilio header for compatibility.
var signatureHeaders = []string{"X-SignalWire-Signature", "X-Twilio-Signature"}

// Verifier checks carrier webhook signatures. The key is the project auth
// token (or dedicated signing key), never a per-tenant secret.
type Verifier struct {
	key []byte
}

// NewVerifier builds a verifier for the given signing key.
func NewVerifier(key string) *Verifier {
	return &Verifier{key: []byte(key)}
}

// Verify recomputes HMAC-SHA1 over url + sorted(key+value) pairs and
// compares it in constant time. Any malformed input yields false.
func (v *Verifier) Verify(rawURL string, form url.Values, signature string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	if v == nil || len(v.key) == 0 {
		return false
	}
	signature = strings.TrimSpace(signature)
	if signature == "" || rawURL == "" {
		return false
	}
	provided, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	expected := computeSignature(buildSignaturePayload(rawURL, form), v.key)
	return hmac.Equal(provided, expected)
}

// Sign produces the header value a carrier would send. Used by tests and the
// local webhook replay tooling.
func (v *Verifier) Sign(rawURL string, form url.Values) string {
	return base64.StdEncoding.EncodeToString(computeSignature(buildSignaturePayload(rawURL, form), v.key))
}

// SignatureFromRequest returns the first non-empty signature header.
func SignatureFromRequest(r *http.Request) string {
	for _, h := range signatureHeaders {
		if sig := r.Header.Get(h); sig != "" {
			return sig
		}
	}
	return ""
}

func buildSignaturePayload(rawURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(rawURL)
	for _, key := range keys {
		for _, value := range params[key] {
			payload.WriteString(key)
			payload.WriteString(value)
		}
	}
	return payload.String()
}

func computeSignature(data string, key []byte) []byte {
	h := hmac.New(sha1.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}
