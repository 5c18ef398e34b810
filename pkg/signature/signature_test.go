package signature_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/cassiomorais/payflow/pkg/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign_MatchesManualHMAC(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	body := []byte(`{"order_id":"ord_1","status":"captured"}`)

	sig, err := signature.Sign("whsec_test", ts, body)
	require.NoError(t, err)

	mac := hmac.New(sha256.New, []byte("whsec_test"))
	mac.Write([]byte("1700000000123." + string(body)))
	want := hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, "v1", sig.Version)
	assert.Equal(t, want, sig.Digest)
	assert.Equal(t, "v1="+want, sig.String())
}

func TestSign_EmptySecret(t *testing.T) {
	_, err := signature.Sign("", time.Now(), []byte("{}"))
	assert.Error(t, err)
}

func TestSign_Deterministic(t *testing.T) {
	ts := time.UnixMilli(42)
	a, _ := signature.Sign("k", ts, []byte("x"))
	b, _ := signature.Sign("k", ts, []byte("x"))
	c, _ := signature.Sign("k", ts.Add(time.Millisecond), []byte("x"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a.Digest, c.Digest)
}

func TestParse(t *testing.T) {
	sig, err := signature.Parse("v1=abcdef")
	require.NoError(t, err)
	assert.Equal(t, "v1", sig.Version)
	assert.Equal(t, "abcdef", sig.Digest)

	for _, bad := range []string{"", "v1", "=abc", "v1="} {
		_, err := signature.Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestVerify(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	body := []byte(`{"a":1}`)
	sig, err := signature.Sign("secret", now, body)
	require.NoError(t, err)
	tsHeader := "1700000000000"

	ok, err := signature.Verify("secret", sig.String(), tsHeader, body, now, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = signature.Verify("other", sig.String(), tsHeader, body, now, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = signature.Verify("secret", sig.String(), tsHeader, []byte(`{"a":2}`), now, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = signature.Verify("secret", sig.String(), tsHeader, body, now.Add(10*time.Minute), time.Minute)
	assert.Error(t, err)

	_, err = signature.Verify("secret", "v2="+sig.Digest, tsHeader, body, now, 0)
	assert.Error(t, err)
}
