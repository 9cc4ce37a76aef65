// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package configs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "server:\n  port: \"9090\"\n"))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "http://localhost:3000", cfg.BackendURL)
	assert.Equal(t, BackendInMemory, cfg.Cache.Type)
	assert.Equal(t, 300, cfg.Cache.DefaultTTLSeconds)
	assert.Equal(t, 60, cfg.Cache.CleanupIntervalSeconds)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 16, cfg.RateLimit.Shards)
	assert.Equal(t, DefaultProfiles(), cfg.RateLimit.Profiles)
	assert.Equal(t, DefaultRules(), cfg.RateLimit.Rules)
	assert.Equal(t, DefaultCacheRoutes(), cfg.Cache.Routes)
}

func TestLoadConfig_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
cache:
  type: redis
  default_ttl_seconds: 30
  routes:
    - prefix: /api/courses
      resource: courses
      vary: category
      ttl_seconds: 45
rate_limit:
  profiles:
    default: {limit: 5, window_seconds: 10}
    public: {limit: 50, window_seconds: 10}
  rules:
    - prefix: /api/
      profile: default
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.Cache.Type)
	assert.Equal(t, 30, cfg.Cache.DefaultTTLSeconds)
	require.Len(t, cfg.Cache.Routes, 1)
	assert.Equal(t, "category", cfg.Cache.Routes[0].Vary)
	assert.Equal(t, 45, cfg.Cache.Routes[0].TTLSeconds)
	assert.Equal(t, ProfileConfig{Limit: 5, WindowSeconds: 10}, cfg.RateLimit.Profiles["default"])
	require.Len(t, cfg.RateLimit.Rules, 1)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("CATALOG_BACKEND_URL", "http://cms.internal:3000")
	t.Setenv("CATALOG_CACHE_DEFAULT_TTL_SECONDS", "42")
	t.Setenv("CATALOG_ADMIN_TOKEN", "s3cret")

	cfg, err := LoadConfig(writeConfig(t, "log:\n  level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, "http://cms.internal:3000", cfg.BackendURL)
	assert.Equal(t, 42, cfg.Cache.DefaultTTLSeconds)
	assert.Equal(t, "s3cret", cfg.Admin.Token)
	assert.Equal(t, "debug", cfg.Log.LogLevel)
}

// 仓库自带的示例配置与内置默认值保持一致
func TestLoadConfig_ExampleFile(t *testing.T) {
	cfg, err := LoadConfig("config.yaml")
	require.NoError(t, err)

	assert.Equal(t, DefaultCacheRoutes(), cfg.Cache.Routes)
	assert.Equal(t, DefaultProfiles(), cfg.RateLimit.Profiles)
	assert.Equal(t, DefaultRules(), cfg.RateLimit.Rules)
	assert.Empty(t, cfg.Admin.Token)
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "server: [unterminated\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Config{
			Cache:     CacheConfig{Type: BackendInMemory},
			RateLimit: RateLimitConfig{Type: BackendInMemory},
		}
		cfg.applyDefaults()
		return cfg
	}

	t.Run("valid defaults", func(t *testing.T) {
		cfg := valid()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("unknown cache type", func(t *testing.T) {
		cfg := valid()
		cfg.Cache.Type = "memcached"
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})

	t.Run("unknown limiter type", func(t *testing.T) {
		cfg := valid()
		cfg.RateLimit.Type = "etcd"
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})

	t.Run("non-positive profile", func(t *testing.T) {
		cfg := valid()
		cfg.RateLimit.Profiles["auth"] = ProfileConfig{Limit: 0, WindowSeconds: 60}
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})

	t.Run("rule references missing profile", func(t *testing.T) {
		cfg := valid()
		cfg.RateLimit.Rules = append(cfg.RateLimit.Rules, RuleConfig{Prefix: "/api/upload", Profile: "uploads"})
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})

	t.Run("missing public profile", func(t *testing.T) {
		cfg := valid()
		delete(cfg.RateLimit.Profiles, "public")
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})
}
