package utils

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger("debug", "text", "stdout", ""))
	assert.Equal(t, logrus.DebugLevel, Logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, Logger.Formatter)

	require.NoError(t, InitLogger("warn", "json", "stdout", ""))
	assert.Equal(t, logrus.WarnLevel, Logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, Logger.Formatter)
}

func TestInitLoggerRejectsBadLevel(t *testing.T) {
	assert.Error(t, InitLogger("loud", "json", "stdout", ""))
}

func TestInitLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hookbin.log")
	require.NoError(t, InitLogger("info", "json", "file", path))

	Logger.Info("write something")
	assert.FileExists(t, path)
}

func TestGetLoggerLazyDefault(t *testing.T) {
	Logger = nil

	logger := GetLogger()
	require.NotNil(t, logger)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}
