package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuthenticationOK(t *testing.T) {
	m := AuthenticationOK()
	code, err := m.AuthCode()
	require.NoError(t, err)
	require.Equal(t, int32(0), code)
}

func TestAuthenticationCleartextPassword(t *testing.T) {
	m := AuthenticationCleartextPassword()
	code, err := m.AuthCode()
	require.NoError(t, err)
	require.Equal(t, int32(3), code)
}

func TestAuthenticationMD5Password(t *testing.T) {
	salt := [4]byte{1, 2, 3, 4}
	m := AuthenticationMD5Password(salt)
	code, err := m.AuthCode()
	require.NoError(t, err)
	require.Equal(t, int32(5), code)

	r := NewReader(m)
	r.Skip(9)
	require.Equal(t, salt[:], r.Bytes(4))
}

func TestAuthenticationSASL(t *testing.T) {
	m := AuthenticationSASL()
	code, err := m.AuthCode()
	require.NoError(t, err)
	require.Equal(t, int32(10), code)

	r := NewReader(m)
	r.Skip(9)
	require.Equal(t, ScramMechanism, r.CString())
}

func TestAuthCodeRejectsNonAuthMessage(t *testing.T) {
	_, err := Message{'p', 0, 0, 0, 5}.AuthCode()
	require.Error(t, err)
}

func TestPasswordMessageRoundTrip(t *testing.T) {
	m := PasswordMessage("s3cr3t")
	require.Equal(t, byte('p'), m.Kind())

	pw, err := m.ExtractPassword()
	require.NoError(t, err)
	require.Equal(t, "s3cr3t", pw)
}

func TestMD5PasswordHashIsDeterministic(t *testing.T) {
	salt := [4]byte{0xde, 0xad, 0xbe, 0xef}
	h1 := MD5PasswordHash("alice", "s3cr3t", salt)
	h2 := MD5PasswordHash("alice", "s3cr3t", salt)
	require.Equal(t, h1, h2)
	require.True(t, len(h1) == 35 && h1[:3] == "md5")

	different := MD5PasswordHash("bob", "s3cr3t", salt)
	require.NotEqual(t, h1, different)
}

func TestGenerateSaltProducesFourBytes(t *testing.T) {
	salt, err := GenerateSalt()
	require.NoError(t, err)
	require.Len(t, salt, 4)
}

func TestAuthMD5SaltRoundTrip(t *testing.T) {
	salt := [4]byte{9, 8, 7, 6}
	m := AuthenticationMD5Password(salt)

	got, err := m.AuthMD5Salt()
	require.NoError(t, err)
	require.Equal(t, salt, got)
}

func TestAuthMD5SaltRejectsOtherAuthCode(t *testing.T) {
	_, err := AuthenticationOK().AuthMD5Salt()
	require.Error(t, err)
}

func TestAuthSASLPayloadRoundTripContinueAndFinal(t *testing.T) {
	cont, err := AuthenticationSASLContinue("r=fyko,s=QSX,i=4096").AuthSASLPayload()
	require.NoError(t, err)
	require.Equal(t, "r=fyko,s=QSX,i=4096", cont)

	final, err := AuthenticationSASLFinal("v=rmF9pqV8S7suAoZWja4dJRkFsKQ=").AuthSASLPayload()
	require.NoError(t, err)
	require.Equal(t, "v=rmF9pqV8S7suAoZWja4dJRkFsKQ=", final)
}

func TestAuthSASLPayloadRejectsOtherAuthCode(t *testing.T) {
	_, err := AuthenticationOK().AuthSASLPayload()
	require.Error(t, err)
}
