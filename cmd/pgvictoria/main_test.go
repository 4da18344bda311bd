package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func resetFlags(t *testing.T) {
	t.Helper()
	configFlag, usersFlag, dirFlag = "", "", ""
	t.Cleanup(func() { configFlag, usersFlag, dirFlag = "", "", "" })
}

func TestResolvePathsDefaults(t *testing.T) {
	resetFlags(t)
	os.Unsetenv(configDirEnvVar)

	cfgPath, usersPath := resolvePaths()
	require.Equal(t, defaultConfigPath, cfgPath)
	require.Equal(t, defaultUsersPath, usersPath)
}

func TestResolvePathsExplicitFlagsWin(t *testing.T) {
	resetFlags(t)
	configFlag = "/tmp/custom.conf"
	usersFlag = "/tmp/custom_users.conf"

	cfgPath, usersPath := resolvePaths()
	require.Equal(t, "/tmp/custom.conf", cfgPath)
	require.Equal(t, "/tmp/custom_users.conf", usersPath)
}

func TestResolvePathsUsesConfigDirFlag(t *testing.T) {
	resetFlags(t)
	dirFlag = "/srv/pgvictoria"

	cfgPath, usersPath := resolvePaths()
	require.Equal(t, filepath.Join("/srv/pgvictoria", "pgvictoria.conf"), cfgPath)
	require.Equal(t, filepath.Join("/srv/pgvictoria", "pgvictoria_users.conf"), usersPath)
}

func TestResolvePathsUsesConfigDirEnvVar(t *testing.T) {
	resetFlags(t)
	t.Setenv(configDirEnvVar, "/env/pgvictoria")

	cfgPath, _ := resolvePaths()
	require.Equal(t, filepath.Join("/env/pgvictoria", "pgvictoria.conf"), cfgPath)
}

func TestResolvePathsFlagDirBeatsEnvVar(t *testing.T) {
	resetFlags(t)
	t.Setenv(configDirEnvVar, "/env/pgvictoria")
	dirFlag = "/flag/pgvictoria"

	cfgPath, _ := resolvePaths()
	require.Equal(t, filepath.Join("/flag/pgvictoria", "pgvictoria.conf"), cfgPath)
}
