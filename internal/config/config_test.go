package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("WATCHDECK_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.DevMode)
	assert.Equal(t, "0 */5 * * * *", cfg.SweepSchedule)
	assert.Equal(t, 2, cfg.DispatchWorkers)
	assert.Equal(t, 3, cfg.DispatchRetries)
	assert.Equal(t, 90*24*time.Hour, cfg.AuditRetention)
	assert.Empty(t, cfg.Archive.Bucket, "archive upload disabled by default")
	assert.True(t, filepath.IsAbs(cfg.DataDir))
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("WATCHDECK_DATA_DIR", t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("AUDIT_RETENTION_DAYS", "30")
	t.Setenv("ARCHIVE_S3_BUCKET", "watchdeck-archives")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, 30*24*time.Hour, cfg.AuditRetention)
	assert.Equal(t, "watchdeck-archives", cfg.Archive.Bucket)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("WATCHDECK_DATA_DIR", t.TempDir())

	t.Run("bad port", func(t *testing.T) {
		t.Setenv("PORT", "70000")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("zero workers", func(t *testing.T) {
		t.Setenv("DISPATCH_WORKERS", "0")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("non-positive retention", func(t *testing.T) {
		t.Setenv("AUDIT_RETENTION_DAYS", "0")
		_, err := Load()
		assert.Error(t, err)
	})
}
