package protocol

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// AuthenticationRequest sub-codes, as carried in the 4-byte code field of
// a backend 'R' message.
const (
	authOK                = 0
	authCleartextPassword = 3
	authMD5Password       = 5
	authSASL              = 10
	authSASLContinue      = 11
	authSASLFinal         = 12
)

// ScramMechanism is the single SASL mechanism this engine offers or
// accepts.
const ScramMechanism = "SCRAM-SHA-256"

// AuthenticationOK builds the fixed 9-byte frame that ends a successful
// authentication exchange.
func AuthenticationOK() Message {
	w := NewWriter()
	w.Uint32(authOK)
	return newMessage('R', w.Bytes())
}

// AuthenticationCleartextPassword requests a plaintext PasswordMessage.
func AuthenticationCleartextPassword() Message {
	w := NewWriter()
	w.Uint32(authCleartextPassword)
	return newMessage('R', w.Bytes())
}

// AuthenticationMD5Password requests an MD5-hashed PasswordMessage,
// carrying the 4-byte salt the client must mix in.
func AuthenticationMD5Password(salt [4]byte) Message {
	w := NewWriter()
	w.Uint32(authMD5Password)
	w.Raw(salt[:])
	return newMessage('R', w.Bytes())
}

// AuthenticationSASL announces the supported SASL mechanism list — here
// always the single entry SCRAM-SHA-256.
func AuthenticationSASL() Message {
	w := NewWriter()
	w.Uint32(authSASL)
	w.CString(ScramMechanism)
	w.Uint8(0) // terminates the mechanism list
	return newMessage('R', w.Bytes())
}

// AuthenticationSASLContinue carries the server-first SCRAM message.
func AuthenticationSASLContinue(serverFirst string) Message {
	w := NewWriter()
	w.Uint32(authSASLContinue)
	w.Raw([]byte(serverFirst))
	return newMessage('R', w.Bytes())
}

// AuthenticationSASLFinal carries the server-final SCRAM message
// (the server signature).
func AuthenticationSASLFinal(serverFinal string) Message {
	w := NewWriter()
	w.Uint32(authSASLFinal)
	w.Raw([]byte(serverFinal))
	return newMessage('R', w.Bytes())
}

// AuthCode returns the 4-byte sub-code of an AuthenticationRequest
// message, or an error if m isn't one.
func (m Message) AuthCode() (int32, error) {
	if m.Kind() != 'R' {
		return 0, fmt.Errorf("not an authentication request: %q", m.Kind())
	}
	r := NewReader(m)
	r.Skip(5) // kind + length
	return r.Int32(), nil
}

// PasswordMessage builds the frontend reply to a cleartext or MD5
// password request.
func PasswordMessage(password string) Message {
	w := NewWriter()
	w.CString(password)
	return newMessage('p', w.Bytes())
}

// ExtractPassword returns the password text carried in a PasswordMessage
// (or a SASLInitialResponse's SASL-specific inner payload needs its own
// parser — see ScramClient).
func (m Message) ExtractPassword() (string, error) {
	if m.Kind() != 'p' {
		return "", fmt.Errorf("not a password message: %q", m.Kind())
	}
	r := NewReader(m)
	r.Skip(5)
	return r.CString(), nil
}

// SASLInitialResponse builds the frontend message that names the chosen
// mechanism and carries the client-first SCRAM payload.
func SASLInitialResponse(mechanism, clientFirst string) Message {
	w := NewWriter()
	w.CString(mechanism)
	w.Int32(int32(len(clientFirst)))
	w.Raw([]byte(clientFirst))
	return newMessage('p', w.Bytes())
}

// SASLResponse builds the frontend message carrying a subsequent SCRAM
// payload (client-final).
func SASLResponse(payload string) Message {
	w := NewWriter()
	w.Raw([]byte(payload))
	return newMessage('p', w.Bytes())
}

// AuthMD5Salt returns the 4-byte salt carried in an
// AuthenticationMD5Password message.
func (m Message) AuthMD5Salt() ([4]byte, error) {
	var salt [4]byte
	code, err := m.AuthCode()
	if err != nil {
		return salt, err
	}
	if code != authMD5Password {
		return salt, fmt.Errorf("not an MD5 authentication request: code %d", code)
	}
	r := NewReader(m)
	r.Skip(9) // kind + length + code
	copy(salt[:], r.Bytes(4))
	return salt, nil
}

// AuthSASLPayload returns the raw SCRAM payload carried in an
// AuthenticationSASLContinue or AuthenticationSASLFinal message: every
// byte after the 4-byte sub-code to the end of the frame.
func (m Message) AuthSASLPayload() (string, error) {
	code, err := m.AuthCode()
	if err != nil {
		return "", err
	}
	if code != authSASLContinue && code != authSASLFinal {
		return "", fmt.Errorf("not a SASL continue/final message: code %d", code)
	}
	r := NewReader(m)
	r.Skip(9)
	return string(r.Remaining()), nil
}

// GenerateSalt returns 4 cryptographically random bytes for MD5
// authentication.
func GenerateSalt() ([4]byte, error) {
	var salt [4]byte
	_, err := rand.Read(salt[:])
	return salt, err
}

// MD5PasswordHash computes the "md5" + hex(md5(hex(md5(password+username)) + salt))
// digest PostgreSQL's MD5 authentication method requires.
func MD5PasswordHash(username, password string, salt [4]byte) string {
	inner := md5.Sum([]byte(password + username))
	innerHex := hex.EncodeToString(inner[:])
	outer := md5.Sum(append([]byte(innerHex), salt[:]...))
	return "md5" + hex.EncodeToString(outer[:])
}
