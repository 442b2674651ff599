package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "memory")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "5000", cfg.ServerPort)
	assert.Equal(t, 20*time.Second, cfg.SchedulerInterval)
	assert.Equal(t, 20*time.Second, cfg.ClickDwellWindow)
	assert.Equal(t, 1000, cfg.AuditPageSize)
	assert.Equal(t, 2*time.Minute, cfg.SourceTimeout)
	assert.Equal(t, "https://accounts.zoho.com/oauth/v2/token", cfg.Zoho.TokenURL)
	assert.Equal(t, 200, cfg.Zoho.PageSize)
	assert.False(t, cfg.Zoho.Enabled())
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
}

func TestLoadConfigPrefixedGroups(t *testing.T) {
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("ZOHO_CLIENT_ID", "id")
	t.Setenv("ZOHO_CLIENT_SECRET", "secret")
	t.Setenv("ZOHO_REFRESH_TOKEN", "refresh")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("CLICK_DWELL_WINDOW", "45s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Zoho.Enabled())
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 45*time.Second, cfg.ClickDwellWindow)

	client := NewRedisClient(cfg.Redis)
	require.NotNil(t, client)
	assert.Equal(t, "localhost:6379", client.Options().Addr)
	assert.Nil(t, NewRedisClient(RedisConfig{}))
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	t.Run("postgres without password", func(t *testing.T) {
		t.Setenv("DB_DRIVER", "postgres")
		t.Setenv("DB_PASSWORD", "")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "DB_PASSWORD")
	})
	t.Run("short key", func(t *testing.T) {
		t.Setenv("DB_DRIVER", "memory")
		t.Setenv("ENCRYPTION_KEY", "short")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "ENCRYPTION_KEY")
	})
	t.Run("source budget below request timeout", func(t *testing.T) {
		t.Setenv("DB_DRIVER", "memory")
		t.Setenv("SOURCE_TIMEOUT", "10s")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "SOURCE_TIMEOUT")
	})
	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("DB_DRIVER", "sqlite")
		_, err := LoadConfig()
		assert.Error(t, err)
	})
}

func TestMaskPassword(t *testing.T) {
	assert.Equal(t, "host=db password=***** dbname=x", maskPassword("host=db password=hunter2 dbname=x"))
	assert.Equal(t, "host=db password=*****", maskPassword("host=db password=hunter2"))
	assert.Equal(t, "host=db", maskPassword("host=db"))
}
