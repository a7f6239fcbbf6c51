package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:5000", cfg.ServerURL)
	assert.Equal(t, 60*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 100, cfg.PreviewRowCap)
	assert.True(t, cfg.AutoAdvanceOnTrainSuccess)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Empty(t, cfg.ModelCatalog)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_URL", "http://ml.internal:8080")
	t.Setenv("REQUEST_TIMEOUT", "5s")
	t.Setenv("PREVIEW_ROW_CAP", "10")
	t.Setenv("AUTO_ADVANCE_ON_TRAIN_SUCCESS", "false")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test,http://b.test")
	t.Setenv("MODEL_CATALOG", "/etc/forecastica/models.yml")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "http://ml.internal:8080", cfg.ServerURL)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 10, cfg.PreviewRowCap)
	assert.False(t, cfg.AutoAdvanceOnTrainSuccess)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	assert.Equal(t, "/etc/forecastica/models.yml", cfg.ModelCatalog)
}

func TestLoadConfigRejectsRelativeServerURL(t *testing.T) {
	t.Setenv("SERVER_URL", "/upload")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidateFixesRowCap(t *testing.T) {
	cfg := Config{ServerURL: "http://x", RequestTimeout: time.Second, PreviewRowCap: -1, SessionCacheSize: 1}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.PreviewRowCap)
}
