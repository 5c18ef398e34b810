package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// Version is the scheme identifier carried in the signature header value
	Version = "v1"

	// HeaderEventID carries the stable event identifier
	HeaderEventID = "X-Webhook-Id"

	// HeaderTimestamp carries the signing timestamp in Unix milliseconds
	HeaderTimestamp = "X-Webhook-Timestamp"

	// HeaderSignature carries "v1=<hex hmac>"
	HeaderSignature = "X-Webhook-Signature"
)

// Signature is a versioned HMAC-SHA256 digest
type Signature struct {
	Version string
	Digest  string
}

// String returns the header form: v1=<hex>
func (s Signature) String() string {
	return s.Version + "=" + s.Digest
}

// Parse parses a header value in the form v1=<hex>
func Parse(header string) (Signature, error) {
	version, digest, ok := strings.Cut(strings.TrimSpace(header), "=")
	if !ok || version == "" || digest == "" {
		return Signature{}, fmt.Errorf("invalid signature format, expected 'version=digest'")
	}
	return Signature{Version: version, Digest: digest}, nil
}

// SignedContent returns the exact bytes that are signed: {timestampMillis}.{body}
func SignedContent(timestamp time.Time, body []byte) []byte {
	ts := strconv.FormatInt(timestamp.UnixMilli(), 10)
	out := make([]byte, 0, len(ts)+1+len(body))
	out = append(out, ts...)
	out = append(out, '.')
	return append(out, body...)
}

// Sign computes the signature of body at timestamp keyed by secret.
func Sign(secret string, timestamp time.Time, body []byte) (Signature, error) {
	if secret == "" {
		return Signature{}, fmt.Errorf("signing secret is empty")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(SignedContent(timestamp, body))

	return Signature{
		Version: Version,
		Digest:  hex.EncodeToString(mac.Sum(nil)),
	}, nil
}

// Verify checks a received signature header using constant-time comparison.
// tolerance bounds how old the timestamp may be relative to now; zero disables the check.
func Verify(secret, header, timestampHeader string, body []byte, now time.Time, tolerance time.Duration) (bool, error) {
	sig, err := Parse(header)
	if err != nil {
		return false, err
	}
	if sig.Version != Version {
		return false, fmt.Errorf("unsupported signature version: %s", sig.Version)
	}

	ms, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return false, fmt.Errorf("invalid timestamp header: %w", err)
	}
	ts := time.UnixMilli(ms)
	if tolerance > 0 {
		if age := now.Sub(ts); age > tolerance || age < -tolerance {
			return false, fmt.Errorf("timestamp outside tolerance: %s", age)
		}
	}

	expected, err := Sign(secret, ts, body)
	if err != nil {
		return false, err
	}

	got, err := hex.DecodeString(sig.Digest)
	if err != nil {
		return false, fmt.Errorf("decoding signature: %w", err)
	}
	want, _ := hex.DecodeString(expected.Digest)

	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
