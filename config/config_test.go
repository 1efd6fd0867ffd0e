package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func missing(t *testing.T) (string, string) {
	dir := t.TempDir()
	return filepath.Join(dir, "conf.json"), filepath.Join(dir, ".env")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FAL_KEY", "")
	t.Setenv("FAL_API_KEY", "")
	jsonPath, envPath := missing(t)

	cfg, err := LoadFrom(jsonPath, envPath)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Settings.Port)
	assert.Equal(t, "fal", cfg.Settings.ImageHost)
	assert.True(t, cfg.Upload.Compress)
	assert.Equal(t, 1024, cfg.Upload.MaxEdge)
	assert.Equal(t, 80, cfg.Upload.Quality)
	assert.Equal(t, "jpeg", cfg.Upload.OutputFormat)
	assert.Empty(t, cfg.APIKeys.FalAI, "a missing credential is not a startup error")
	assert.Equal(t, 30*time.Second, cfg.HTTP.ReadTimeout())
	assert.Empty(t, cfg.Warnings)
}

func TestLoadLayersJSONThenEnv(t *testing.T) {
	jsonPath, envPath := missing(t)
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{
		"API_KEYS": {"FAL_KEY": "from-json", "MODELSCOPE_API_KEY": "ms-json"},
		"SETTINGS": {"PORT": "9000"},
		"UPLOAD": {"MAX_EDGE": 512}
	}`), 0o600))
	t.Setenv("FAL_KEY", "from-env")
	t.Setenv("MODELSCOPE_API_KEY", "")
	t.Setenv("COMPRESS_UPLOADS", "false")
	t.Setenv("DOWNLOAD_HOST_ALLOWLIST", " Example.com, cdn.test ,")

	cfg, err := LoadFrom(jsonPath, envPath)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.APIKeys.FalAI)
	assert.Equal(t, "ms-json", cfg.APIKeys.ModelScope)
	assert.Equal(t, "9000", cfg.Settings.Port)
	assert.Equal(t, 512, cfg.Upload.MaxEdge)
	assert.False(t, cfg.Upload.Compress)
	assert.Equal(t, []string{"example.com", "cdn.test"}, cfg.Settings.DownloadHostAllowlist)
}

func TestLoadNormalizesAllowlistFromJSON(t *testing.T) {
	jsonPath, envPath := missing(t)
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{
		"SETTINGS": {"DOWNLOAD_HOST_ALLOWLIST": ["FAL.media", " cdn.Test. ", ""]}
	}`), 0o600))
	t.Setenv("DOWNLOAD_HOST_ALLOWLIST", "")

	cfg, err := LoadFrom(jsonPath, envPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"fal.media", "cdn.test"}, cfg.Settings.DownloadHostAllowlist)
}

func TestLoadAcceptsLegacyFalKeyName(t *testing.T) {
	t.Setenv("FAL_KEY", "")
	t.Setenv("FAL_API_KEY", "legacy")
	jsonPath, envPath := missing(t)

	cfg, err := LoadFrom(jsonPath, envPath)
	require.NoError(t, err)
	assert.Equal(t, "legacy", cfg.APIKeys.FalAI)
}

func TestLoadDotEnv(t *testing.T) {
	const key = "CLOUDFLARE_ACCOUNT_ID"
	prev, had := os.LookupEnv(key)
	require.NoError(t, os.Unsetenv(key))
	t.Cleanup(func() {
		if had {
			os.Setenv(key, prev)
		} else {
			os.Unsetenv(key)
		}
	})

	jsonPath, envPath := missing(t)
	require.NoError(t, os.WriteFile(envPath, []byte(key+"=acct-from-dotenv\n"), 0o600))

	cfg, err := LoadFrom(jsonPath, envPath)
	require.NoError(t, err)
	assert.Equal(t, "acct-from-dotenv", cfg.CloudflareCredentials.AccountID)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"output format", "OUTPUT_FORMAT", "gif"},
		{"image host", "IMAGE_HOST", "s3"},
		{"quality", "JPEG_QUALITY", "101"},
		{"max edge", "MAX_EDGE", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			jsonPath, envPath := missing(t)
			_, err := LoadFrom(jsonPath, envPath)
			assert.Error(t, err)
		})
	}
}

func TestLoadBadJSON(t *testing.T) {
	jsonPath, envPath := missing(t)
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{`), 0o600))
	_, err := LoadFrom(jsonPath, envPath)
	assert.Error(t, err)
}

func TestLoadWarnsAboutDefaultSessionSecret(t *testing.T) {
	t.Setenv("WEB_PASSWORD", "pw")
	t.Setenv("SESSION_SECRET", "")
	jsonPath, envPath := missing(t)

	cfg, err := LoadFrom(jsonPath, envPath)
	require.NoError(t, err)
	assert.Len(t, cfg.Warnings, 1)
}
