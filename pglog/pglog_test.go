package pglog

import (
	"testing"

	"github.com/charmbracelet/log"
	"github.com/pgvictoria/pgvictoria/config"
	"github.com/stretchr/testify/require"
)

func TestLevelOfMapsDebugTiersToDebugLevel(t *testing.T) {
	tiers := []config.LogLevel{
		config.LogDebug1, config.LogDebug2, config.LogDebug3,
		config.LogDebug4, config.LogDebug5,
	}
	for _, tier := range tiers {
		require.Equal(t, log.DebugLevel, levelOf(tier))
	}
}

func TestLevelOfMapsOrdinaryLevels(t *testing.T) {
	require.Equal(t, log.InfoLevel, levelOf(config.LogInfo))
	require.Equal(t, log.WarnLevel, levelOf(config.LogWarn))
	require.Equal(t, log.ErrorLevel, levelOf(config.LogError))
	require.Equal(t, log.ErrorLevel, levelOf(config.LogFatal))
}

func TestRotationSizeMBFloorsAtOne(t *testing.T) {
	require.Equal(t, 100, rotationSizeMB(0))
	require.Equal(t, 1, rotationSizeMB(1024))
	require.Equal(t, 10, rotationSizeMB(10*1024*1024))
}

func TestRotationAgeDaysDisabledAtZero(t *testing.T) {
	require.Equal(t, 0, rotationAgeDays(0))
	require.Equal(t, 1, rotationAgeDays(3600))
	require.Equal(t, 2, rotationAgeDays(2*24*3600))
}

func TestStartConsoleDoesNotError(t *testing.T) {
	cfg := config.NewMain()
	cfg.LogType = config.LogConsole
	require.NoError(t, Start(cfg))
}
