// Package secret implements the master key provider (C8) and the
// users-file reader that depends on it: each line is
// "username:base64(ciphertext)", decrypted with AES-256-CBC under the
// master key to recover the cleartext password.
package secret

import (
	"bufio"
	"encoding/base64"
	"os"
	"strings"

	"github.com/pgvictoria/pgvictoria/pgcrypto"
	"github.com/pgvictoria/pgvictoria/pgerr"
)

// MasterKeyProvider supplies the process-wide symmetric key used to
// derive AES keys via the legacy SHA-1 derivation. Its storage is
// opaque to this package; callers hand in whichever implementation
// fits their deployment (environment variable, file, external vault).
type MasterKeyProvider interface {
	MasterKey() ([]byte, error)
}

// EnvMasterKeyProvider reads the master key from an environment
// variable. It exists for local development and tests; production
// deployments should supply their own MasterKeyProvider.
type EnvMasterKeyProvider struct {
	VarName string
}

// MasterKey returns the value of VarName, or a ConfigMasterKeyMissing
// error if it is unset or empty.
func (p EnvMasterKeyProvider) MasterKey() ([]byte, error) {
	v := os.Getenv(p.VarName)
	if v == "" {
		return nil, pgerr.ConfigError(pgerr.ConfigMasterKeyMissing, "master key environment variable %s is not set", p.VarName)
	}
	return []byte(v), nil
}

// User is a single decoded users-file entry.
type User struct {
	Username string
	Password string
}

// NumberOfUsers bounds how many entries a users file may contain; a
// file with more fails distinctly from "master key missing" so callers
// can tell the two failure modes apart.
const NumberOfUsers = 64

// MaxUsernameLength and MaxPasswordLength mirror the fixed-size buffers
// the legacy format reserves per user entry.
const (
	MaxUsernameLength = 128
	MaxPasswordLength = 1024
)

// LoadUsers reads path, decrypting each line's ciphertext under the
// master key supplied by provider. A file with more than NumberOfUsers
// entries fails with ConfigUserCountExceeded, distinct from a missing
// master key.
func LoadUsers(path string, provider MasterKeyProvider) ([]User, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pgerr.ConfigError(pgerr.ConfigFileError, "open %s: %v", path, err)
	}
	defer f.Close()

	masterKey, err := provider.MasterKey()
	if err != nil {
		return nil, err
	}

	var users []User
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}

		username, encoded, ok := strings.Cut(line, ":")
		if !ok {
			return nil, pgerr.ConfigError(pgerr.ConfigFileError, "malformed users file line: %q", line)
		}

		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, pgerr.ConfigError(pgerr.ConfigFileError, "decode users file line for %q: %v", username, err)
		}

		plain, err := pgcrypto.DecryptBuffer(raw, string(masterKey), pgcrypto.AES256CBC)
		if err != nil {
			return nil, pgerr.ConfigError(pgerr.ConfigFileError, "decrypt password for %q: %v", username, err)
		}
		password := string(plain[:len(plain)-1]) // strip the trailing NUL pgcrypto appends

		if len(username) >= MaxUsernameLength || len(password) >= MaxPasswordLength {
			continue // invalid entry, skip like the legacy loader does
		}

		users = append(users, User{Username: username, Password: password})
	}
	if err := scanner.Err(); err != nil {
		return nil, pgerr.ConfigError(pgerr.ConfigFileError, "read %s: %v", path, err)
	}

	if len(users) > NumberOfUsers {
		return nil, pgerr.ConfigError(pgerr.ConfigUserCountExceeded, "users file has %d entries, exceeding the limit of %d", len(users), NumberOfUsers)
	}

	return users, nil
}
