package store

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(b byte) string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Repeat(string(b), 32)))
}

func TestSealer_RoundTripAndRotation(t *testing.T) {
	old, err := NewSealer([]string{key('a')})
	require.NoError(t, err)
	sealed, err := old.Seal("secret plan")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, sealedPrefix))

	rotated, err := NewSealer([]string{key('b'), key('a')})
	require.NoError(t, err)
	plain, err := rotated.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "secret plan", plain)

	other, err := NewSealer([]string{key('c')})
	require.NoError(t, err)
	_, err = other.Open(sealed)
	assert.Error(t, err)
}

func TestSealer_NilPassesThrough(t *testing.T) {
	s, err := NewSealer(nil)
	require.NoError(t, err)
	assert.Nil(t, s)

	out, err := s.Seal("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)

	out, err = s.Open("legacy plaintext")
	require.NoError(t, err)
	assert.Equal(t, "legacy plaintext", out)
}

func TestNewSealer_RejectsBadKeys(t *testing.T) {
	_, err := NewSealer([]string{"not base64!"})
	assert.Error(t, err)
	_, err = NewSealer([]string{base64.StdEncoding.EncodeToString([]byte("short"))})
	assert.Error(t, err)
}

func TestSealer_PrefixedPlaintext(t *testing.T) {
	var clear *Sealer
	sealing, err := NewSealer([]string{key('a')})
	require.NoError(t, err)

	for _, in := range []string{"gcm1:what is this?", "gcm1:QUJD", "txt1:nested", "plain"} {
		for name, s := range map[string]*Sealer{"clear": clear, "sealing": sealing} {
			stored, err := s.Seal(in)
			require.NoError(t, err, name)
			out, err := s.Open(stored)
			require.NoError(t, err, name)
			assert.Equal(t, in, out, name)
		}
	}

	out, err := clear.Open("gcm1:written before escaping existed")
	require.NoError(t, err)
	assert.Equal(t, "gcm1:written before escaping existed", out)
}
