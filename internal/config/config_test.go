package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, RoleAll, cfg.Role)
	assert.Equal(t, 5*time.Minute, cfg.IdempotencyGrace)
	assert.Equal(t, 3, cfg.AccountCeiling)
	assert.Equal(t, 5*time.Minute, cfg.MaxBackoff)
	assert.Equal(t, 3*time.Second, cfg.TikTokProcessingDelay)
	assert.Zero(t, cfg.DispatchDelay)
	assert.Equal(t, 35*time.Minute, cfg.RelayVisibility)
	assert.True(t, cfg.ServesEdit())
	assert.True(t, cfg.ServesUpload())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("WORKER_ROLE", "upload")
	t.Setenv("TIKTOK_PROCESSING_DELAY", "10s")
	t.Setenv("ACCOUNT_CONCURRENCY", "5")
	t.Setenv("DISPATCH_DELAY", "45s")
	t.Setenv("RELAY_VISIBILITY_TIMEOUT", "1h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.ServesEdit())
	assert.True(t, cfg.ServesUpload())
	assert.Equal(t, 10*time.Second, cfg.TikTokProcessingDelay)
	assert.Equal(t, 5, cfg.AccountCeiling)
	assert.Equal(t, 45*time.Second, cfg.DispatchDelay)
	assert.Equal(t, time.Hour, cfg.RelayVisibility)
}
