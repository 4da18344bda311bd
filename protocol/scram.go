package protocol

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// ScramIterationCount is the PBKDF2 iteration count of message.c's fixed
// "i=4096" continue payload. ServerFirstMessage falls back to it when a
// server-first message carries no i= attribute.
const ScramIterationCount = 4096

// ScramClient drives the client side of a SCRAM-SHA-256 exchange: build
// the client-first message, absorb the server-first message, and produce
// the client-final message plus the expected server signature to verify
// against the server-final message.
type ScramClient struct {
	nonce          string
	clientFirstMsg string
	serverFirstMsg string
	saltedPassword []byte
}

// NewScramClient creates a client with a fresh random nonce.
func NewScramClient() (*ScramClient, error) {
	nonce, err := randomNonce(24)
	if err != nil {
		return nil, err
	}
	return NewScramClientWithNonce(nonce), nil
}

// NewScramClientWithNonce creates a client with a caller-supplied nonce,
// for deterministic tests.
func NewScramClientWithNonce(nonce string) *ScramClient {
	c := &ScramClient{nonce: nonce}
	c.clientFirstMsg = "n=,r=" + nonce
	return c
}

func randomNonce(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawStdEncoding.EncodeToString(raw), nil
}

// ClientFirstMessage returns the wire payload carried in the
// SASLInitialResponse: a GS2 header of " n,," (the leading space matches
// this engine's on-the-wire SCRAM framing, grounded on the original
// implementation's message builder) followed by the client-first-bare
// message "n=,r=<nonce>" that feeds the AuthMessage computation.
func (c *ScramClient) ClientFirstMessage() string {
	return " n,," + c.clientFirstMsg
}

// ServerFirstMessage parses the server-first message (r=<cn><sn>,s=<salt>,i=<count>)
// carried in an AuthenticationSASLContinue frame and derives the salted
// password via PBKDF2-HMAC-SHA256.
func (c *ScramClient) ServerFirstMessage(msg, password string) error {
	c.serverFirstMsg = msg

	var serverNonce, saltB64 string
	iterations := ScramIterationCount
	for _, field := range strings.Split(msg, ",") {
		if len(field) < 2 || field[1] != '=' {
			continue
		}
		switch field[0] {
		case 'r':
			serverNonce = field[2:]
		case 's':
			saltB64 = field[2:]
		case 'i':
			n, err := strconv.Atoi(field[2:])
			if err != nil {
				return fmt.Errorf("scram: bad iteration count %q: %w", field[2:], err)
			}
			iterations = n
		}
	}
	if !strings.HasPrefix(serverNonce, c.nonce) {
		return fmt.Errorf("scram: server nonce does not extend client nonce")
	}
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return fmt.Errorf("scram: bad salt: %w", err)
	}

	c.saltedPassword = pbkdf2.Key([]byte(password), salt, iterations, sha256.Size, sha256.New)
	return nil
}

// ClientFinalMessage builds the client-final message ("c=...,r=...,p=...")
// and returns it alongside the base64-encoded ServerSignature the final
// server message must match.
func (c *ScramClient) ClientFinalMessage() (message, expectedServerSignature string) {
	clientFinalWithoutProof := "c=biws,r=" + c.finalNonce()
	authMessage := c.clientFirstMsg + "," + c.serverFirstMsg + "," + clientFinalWithoutProof

	clientKey := hmacSHA256(c.saltedPassword, "Client Key")
	storedKey := sha256.Sum256(clientKey)
	clientSignature := hmacSHA256(storedKey[:], authMessage)
	clientProof := xorBytes(clientKey, clientSignature)

	serverKey := hmacSHA256(c.saltedPassword, "Server Key")
	serverSignature := hmacSHA256(serverKey, authMessage)

	message = clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)
	expectedServerSignature = base64.StdEncoding.EncodeToString(serverSignature)
	return message, expectedServerSignature
}

func (c *ScramClient) finalNonce() string {
	for _, field := range strings.Split(c.serverFirstMsg, ",") {
		if strings.HasPrefix(field, "r=") {
			return field[2:]
		}
	}
	return c.nonce
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// ParseServerFinal extracts the base64 server signature ("v=...") from
// an AuthenticationSASLFinal payload.
func ParseServerFinal(msg string) (string, error) {
	for _, field := range strings.Split(msg, ",") {
		if strings.HasPrefix(field, "v=") {
			return field[2:], nil
		}
	}
	return "", fmt.Errorf("scram: server-final message missing signature")
}
