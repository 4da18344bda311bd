package secret

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pgvictoria/pgvictoria/pgcrypto"
	"github.com/pgvictoria/pgvictoria/pgerr"
	"github.com/stretchr/testify/require"
)

type staticKeyProvider struct{ key string }

func (p staticKeyProvider) MasterKey() ([]byte, error) { return []byte(p.key), nil }

func writeUsersFile(t *testing.T, dir string, entries map[string]string, masterKey string) string {
	t.Helper()
	path := filepath.Join(dir, "pgvictoria_users")
	var lines []string
	for username, password := range entries {
		ct, err := pgcrypto.EncryptBuffer([]byte(password), masterKey, pgcrypto.AES256CBC)
		require.NoError(t, err)
		lines = append(lines, fmt.Sprintf("%s:%s", username, base64.StdEncoding.EncodeToString(ct)))
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600))
	return path
}

func TestLoadUsersDecryptsPasswords(t *testing.T) {
	dir := t.TempDir()
	path := writeUsersFile(t, dir, map[string]string{"alice": "secret"}, "topsecret")

	users, err := LoadUsers(path, staticKeyProvider{"topsecret"})
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, "alice", users[0].Username)
	require.Equal(t, "secret", users[0].Password)
}

func TestLoadUsersMasterKeyMissing(t *testing.T) {
	dir := t.TempDir()
	path := writeUsersFile(t, dir, map[string]string{"alice": "secret"}, "topsecret")

	_, err := LoadUsers(path, EnvMasterKeyProvider{VarName: "PGVICTORIA_TEST_UNSET_KEY_VAR"})
	require.Error(t, err)
	status, ok := pgerr.ConfigStatusOf(err)
	require.True(t, ok)
	require.Equal(t, pgerr.ConfigMasterKeyMissing, status)
	_ = path
}

func TestLoadUsersOverLimitIsDistinctStatus(t *testing.T) {
	dir := t.TempDir()
	entries := map[string]string{}
	for i := 0; i < NumberOfUsers+1; i++ {
		entries[fmt.Sprintf("user%02d", i)] = "secret"
	}
	path := writeUsersFile(t, dir, entries, "topsecret")

	_, err := LoadUsers(path, staticKeyProvider{"topsecret"})
	require.Error(t, err)
	status, ok := pgerr.ConfigStatusOf(err)
	require.True(t, ok)
	require.Equal(t, pgerr.ConfigUserCountExceeded, status)
	require.NotEqual(t, pgerr.ConfigMasterKeyMissing, status)
}

func TestLoadUsersFileNotFound(t *testing.T) {
	_, err := LoadUsers("/nonexistent/path/users", staticKeyProvider{"topsecret"})
	require.Error(t, err)
	status, ok := pgerr.ConfigStatusOf(err)
	require.True(t, ok)
	require.Equal(t, pgerr.ConfigFileError, status)
}
