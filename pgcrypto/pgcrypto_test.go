package pgcrypto

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptBufferRoundTripAllModes(t *testing.T) {
	modes := []Mode{AES128CBC, AES192CBC, AES256CBC, AES128CTR, AES192CTR, AES256CTR}
	plain := []byte("the quick brown fox jumps over the lazy dog")
	for _, mode := range modes {
		ct, err := EncryptBuffer(plain, "topsecret", mode)
		require.NoError(t, err)

		pt, err := DecryptBuffer(ct, "topsecret", mode)
		require.NoError(t, err)

		require.Equal(t, plain, pt[:len(plain)])
		require.Equal(t, byte(0), pt[len(plain)], "decrypted buffer must carry a trailing NUL")
	}
}

func TestDecryptBufferRejectsWrongPassword(t *testing.T) {
	ct, err := EncryptBuffer([]byte("secret"), "topsecret", AES256CBC)
	require.NoError(t, err)

	pt, err := DecryptBuffer(ct, "wrongpassword", AES256CBC)
	if err == nil {
		require.NotEqual(t, "secret", string(pt[:len(pt)-1]))
	}
}

func TestEncryptFileDeletesSourceOnSuccess(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello pgvictoria, this spans more than one block of data"), 0600))

	dst, err := EncryptFile(src, "", "topsecret")
	require.NoError(t, err)
	require.Equal(t, src+".aes", dst)

	_, err = os.Stat(src)
	require.True(t, os.IsNotExist(err), "source file must be deleted after successful encryption")

	_, err = os.Stat(dst)
	require.NoError(t, err)
}

func TestDecryptFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "data.bin")
	original := bytes.Repeat([]byte("0123456789abcdef"), 1000) // multi-chunk-adjacent content
	require.NoError(t, os.WriteFile(src, original, 0600))

	encPath, err := EncryptFile(src, "", "topsecret")
	require.NoError(t, err)

	decPath, err := DecryptFile(encPath, "", "topsecret")
	require.NoError(t, err)
	require.Equal(t, trimOneExt(encPath), decPath)

	_, err = os.Stat(encPath)
	require.True(t, os.IsNotExist(err), "source file must be deleted after successful decryption")

	got, err := os.ReadFile(decPath)
	require.NoError(t, err)
	require.Equal(t, original, got)
}

func trimOneExt(p string) string {
	ext := filepath.Ext(p)
	return p[:len(p)-len(ext)]
}

func TestUsersFileLineDecryptsToCleartextPassword(t *testing.T) {
	// S6: "alice:<base64 of aes256cbc('secret', master_key)>" with master
	// key "topsecret" must decrypt to "secret".
	ct, err := EncryptBuffer([]byte("secret"), "topsecret", AES256CBC)
	require.NoError(t, err)
	line := "alice:" + base64.StdEncoding.EncodeToString(ct)

	username, encoded, found := splitOnce(line, ':')
	require.True(t, found)
	require.Equal(t, "alice", username)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	pt, err := DecryptBuffer(raw, "topsecret", AES256CBC)
	require.NoError(t, err)
	require.Equal(t, "secret", string(pt[:len(pt)-1]))
}

func splitOnce(s string, sep byte) (before, after string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

func TestDeriveKeyIVIsDeterministic(t *testing.T) {
	k1, iv1 := deriveKeyIV("topsecret", AES256CBC)
	k2, iv2 := deriveKeyIV("topsecret", AES256CBC)
	require.Equal(t, k1, k2)
	require.Equal(t, iv1, iv2)
	require.Len(t, k1, 32)
	require.Len(t, iv1, 16)
}

func TestDeriveKeyIVLengthsPerMode(t *testing.T) {
	cases := []struct {
		mode   Mode
		keyLen int
	}{
		{AES128CBC, 16}, {AES192CBC, 24}, {AES256CBC, 32},
		{AES128CTR, 16}, {AES192CTR, 24}, {AES256CTR, 32},
	}
	for _, c := range cases {
		k, iv := deriveKeyIV("password", c.mode)
		require.Len(t, k, c.keyLen)
		require.Len(t, iv, 16)
	}
}
