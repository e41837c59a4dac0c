package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCleanAndExpandPathExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := cleanAndExpandPath("~/basis-tracker")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "basis-tracker"), got)
}

func TestCleanAndExpandPathEmpty(t *testing.T) {
	got, err := cleanAndExpandPath("")
	require.NoError(t, err)
	require.Equal(t, "", got)
}

func TestDefaultConfigHasRequiredDefaults(t *testing.T) {
	cfg := defaultConfig()
	require.Equal(t, defaultServerPort, cfg.Server.Port)
	require.Equal(t, defaultCommitInterval, cfg.CommitIntervalSecs)
	require.False(t, cfg.CommitSubmitTransaction)
	require.Equal(t, 1.0, cfg.CollateralAlertThreshold)
}
