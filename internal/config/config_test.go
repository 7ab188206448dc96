package config

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.AuthSecret)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, "America/Lima", cfg.TenantTimezone)
	assert.Equal(t, 480*time.Minute, cfg.AccessTokenTTL())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.MigrateOnStart)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("TENANT_TIMEZONE", "America/Bogota")
	t.Setenv("METHOD_CACHE_TTL_SECONDS", "0")
	t.Setenv("OPERATOR_LOCK_TTL_SECONDS", "30")
	t.Setenv("LOG_FORMAT", "console")
	t.Setenv("MIGRATE_ON_START", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, 60*time.Second, cfg.MethodCacheTTL(), "non-positive TTL falls back to default")
	assert.Equal(t, 30*time.Second, cfg.OperatorLockTTL())
	assert.Equal(t, "console", cfg.Log.Format)
	assert.False(t, cfg.MigrateOnStart)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/Bogota", loc.String())
}

func TestLocationRejectsUnknownZone(t *testing.T) {
	cfg := Config{TenantTimezone: "Mars/Olympus"}
	_, err := cfg.Location()
	assert.Error(t, err)
}
