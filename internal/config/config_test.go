package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/catchup/internal/transfer"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, transfer.BackendAuto, cfg.Transport)
	assert.Equal(t, 10, cfg.Chunks)
	assert.Equal(t, 3, cfg.Retry.Attempts)
	assert.True(t, cfg.Repair)
	assert.False(t, cfg.Archive.Enabled())
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFileYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
username: alice
password: secret
archiveBase: http://tv.example:8080/timeshift
transport: native
chunks: 20
unknownChunkSize: 64MB
retry:
  attempts: 0
  backoff: 2s
chunkTimeout: 5m
limitRate: 1MB
repair: false
workers: 4
archive:
  bucket: recordings
  prefix: tv/
  region: eu-west-2
http:
  timeout: 30s
  userAgent: VLC/3.0.20
  headers:
    X-Token: abc
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.Username)
	assert.Equal(t, "http://tv.example:8080/timeshift", cfg.ArchiveBase)
	assert.Equal(t, transfer.BackendNative, cfg.Transport)
	assert.Equal(t, 20, cfg.Chunks)
	assert.Equal(t, int64(64*1024*1024), cfg.UnknownChunkSize)
	assert.Equal(t, 0, cfg.Retry.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.Backoff)
	assert.Equal(t, 5*time.Minute, cfg.ChunkTimeout)
	assert.Equal(t, int64(1024*1024), cfg.LimitRate)
	assert.False(t, cfg.Repair)
	assert.Equal(t, 4, cfg.Workers)
	assert.True(t, cfg.Archive.Enabled())
	assert.Equal(t, "eu-west-2", cfg.Archive.Region)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, map[string]string{"X-Token": "abc"}, cfg.HTTP.Headers)
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.ValidateProvider())
}

func TestLoadFromFileJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "username": "bob",
  "password": "pw",
  "baseURL": "http://tv.example:8080",
  "archiveBase": "http://tv.example:8080/timeshift"
}`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "bob", cfg.Username)
	assert.Equal(t, "http://tv.example:8080", cfg.BaseURL)
	assert.Equal(t, 10, cfg.Chunks)
	assert.True(t, cfg.Repair)
}

func TestLoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")

	_, err = LoadFromFile(writeConfig(t, "bad.yaml", "chunks: [1"))
	assert.ErrorContains(t, err, "parse config file")

	_, err = LoadFromFile(writeConfig(t, "bad.yaml", "chunkTimeout: soon"))
	assert.ErrorContains(t, err, "parse chunkTimeout")

	_, err = LoadFromFile(writeConfig(t, "bad.yaml", "limitRate: fast"))
	assert.ErrorContains(t, err, "parse limitRate")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CATCHUP_USERNAME", "carol")
	t.Setenv("CATCHUP_CHUNKS", "5")
	t.Setenv("CATCHUP_LIMIT_RATE", "500KB")
	t.Setenv("CATCHUP_RETRY_BACKOFF", "250ms")
	t.Setenv("CATCHUP_REPAIR", "false")
	t.Setenv("CATCHUP_ARCHIVE_BUCKET", "tv")

	cfg := Default()
	require.NoError(t, cfg.LoadFromEnv())
	assert.Equal(t, "carol", cfg.Username)
	assert.Equal(t, 5, cfg.Chunks)
	assert.Equal(t, int64(500*1024), cfg.LimitRate)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.Backoff)
	assert.False(t, cfg.Repair)
	assert.Equal(t, "tv", cfg.Archive.Bucket)
}

func TestLoadFromEnvInvalid(t *testing.T) {
	t.Setenv("CATCHUP_CHUNKS", "many")
	cfg := Default()
	assert.ErrorContains(t, cfg.LoadFromEnv(), "parse CATCHUP_CHUNKS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"transport", func(c *Config) { c.Transport = "curl" }},
		{"zero chunks", func(c *Config) { c.Chunks = 0 }},
		{"too many chunks", func(c *Config) { c.Chunks = 101 }},
		{"width", func(c *Config) { c.ChunkWidth = 150 }},
		{"retries", func(c *Config) { c.Retry.Attempts = -1 }},
		{"backoff", func(c *Config) { c.Retry.Backoff = -time.Second }},
		{"interval", func(c *Config) { c.ProgressInterval = 0 }},
		{"rate", func(c *Config) { c.LimitRate = -1 }},
		{"workers", func(c *Config) { c.Workers = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.Transport = "WGET"
	assert.NoError(t, cfg.Validate())
}

func TestValidateProvider(t *testing.T) {
	cfg := Default()
	assert.ErrorContains(t, cfg.ValidateProvider(), "username and password")
	cfg.Username, cfg.Password = "u", "p"
	assert.ErrorContains(t, cfg.ValidateProvider(), "archiveBase")
	cfg.ArchiveBase = "http://tv.example/timeshift"
	assert.NoError(t, cfg.ValidateProvider())
}

func TestMerge(t *testing.T) {
	base := Default()
	base.Username = "alice"
	base.HTTP.Headers = map[string]string{"A": "1", "B": "2"}

	merged := base.Merge(Config{
		Transport: transfer.BackendWget,
		Chunks:    4,
		LimitRate: 1000,
		HTTP:      HTTPConfig{Headers: map[string]string{"B": "3"}},
	})
	assert.Equal(t, "alice", merged.Username)
	assert.Equal(t, transfer.BackendWget, merged.Transport)
	assert.Equal(t, 4, merged.Chunks)
	assert.Equal(t, int64(1000), merged.LimitRate)
	assert.Equal(t, 3, merged.Retry.Attempts)
	assert.Equal(t, map[string]string{"A": "1", "B": "3"}, merged.HTTP.Headers)
	assert.Equal(t, "2", base.HTTP.Headers["B"])
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.ChunkWidth = 25
	cfg.Retry.Attempts = 5
	cfg.HTTP.Proxy = "http://proxy:3128"
	cfg.HTTP.Headers = map[string]string{"X": "y"}

	plan := cfg.PlanOptions()
	assert.Equal(t, 10, plan.ChunkCount)
	assert.Equal(t, 25, plan.WidthPercent)

	opts := cfg.TransferOptions()
	assert.Equal(t, 5, opts.MaxRetries)
	assert.Equal(t, cfg.ChunkTimeout, opts.ChunkTimeout)

	hc := cfg.HTTPClientConfig()
	assert.Equal(t, "http://proxy:3128", hc.ProxyURL)
	hc.Headers["X"] = "z"
	assert.Equal(t, "y", cfg.HTTP.Headers["X"])
}
