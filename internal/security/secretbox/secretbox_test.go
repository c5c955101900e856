package secretbox

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey(seed byte) []byte {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = seed + byte(i)
	}
	return raw
}

func TestSealOpen_RoundTrip(t *testing.T) {
	t.Parallel()
	box, err := New(base64.StdEncoding.EncodeToString(testKey(1)))
	require.NoError(t, err)

	msg := `{"access_token":"abc","refresh":"✓"}`
	ct, err := box.Seal(msg)
	require.NoError(t, err)
	require.NotContains(t, ct, "access_token")

	pt, err := box.Open(ct)
	require.NoError(t, err)
	require.Equal(t, msg, pt)
}

func TestOpen_DetectsTamper(t *testing.T) {
	t.Parallel()
	box, err := New(hex.EncodeToString(testKey(7)))
	require.NoError(t, err)

	ct, err := box.Seal("top secret")
	require.NoError(t, err)

	nonce, body, ok := strings.Cut(ct, "|")
	require.True(t, ok)
	raw, err := base64.StdEncoding.DecodeString(body)
	require.NoError(t, err)
	raw[0] ^= 0xFF

	_, err = box.Open(nonce + "|" + base64.StdEncoding.EncodeToString(raw))
	require.Error(t, err)
}

func TestOpen_WrongKey(t *testing.T) {
	t.Parallel()
	a, err := New(base64.StdEncoding.EncodeToString(testKey(1)))
	require.NoError(t, err)
	b, err := New(base64.StdEncoding.EncodeToString(testKey(2)))
	require.NoError(t, err)

	ct, err := a.Seal("hola")
	require.NoError(t, err)
	_, err = b.Open(ct)
	require.Error(t, err)
}

func TestDisabledBox(t *testing.T) {
	t.Parallel()
	box, err := New("")
	require.NoError(t, err)
	require.False(t, box.Enabled())

	_, err = box.Seal("x")
	require.ErrorIs(t, err, ErrNoKey)

	pt, err := box.Open("")
	require.NoError(t, err)
	require.Empty(t, pt)
}

func TestNew_RejectsShortKey(t *testing.T) {
	t.Parallel()
	_, err := New("too-short")
	require.Error(t, err)
}
