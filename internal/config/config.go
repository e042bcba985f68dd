package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tanq16/catchup/internal/transfer"
	"github.com/tanq16/catchup/internal/utils"
	"gopkg.in/yaml.v3"
)

// Config holds provider credentials and transfer tuning for catchup.
type Config struct {
	Username         string
	Password         string
	BaseURL          string
	ArchiveBase      string
	OutputDir        string
	Transport        string
	Chunks           int
	ChunkWidth       int
	UnknownChunkSize int64
	Retry            RetryConfig
	ChunkTimeout     time.Duration
	ProgressInterval time.Duration
	LimitRate        int64
	Repair           bool
	Workers          int
	Archive          ArchiveConfig
	HTTP             HTTPConfig
}

// RetryConfig bounds the attempts per chunk.
type RetryConfig struct {
	Attempts int
	Backoff  time.Duration
}

type ArchiveConfig struct {
	Bucket  string
	Prefix  string
	Profile string
	Region  string
}

func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

type HTTPConfig struct {
	Timeout   time.Duration
	UserAgent string
	Proxy     string
	Headers   map[string]string
}

func Default() Config {
	return Config{
		OutputDir:        ".",
		Transport:        transfer.BackendAuto,
		Chunks:           transfer.DefaultChunkCount,
		UnknownChunkSize: transfer.DefaultUnknownChunkBytes,
		Retry: RetryConfig{
			Attempts: transfer.DefaultMaxRetries,
			Backoff:  transfer.DefaultRetryBackoff,
		},
		ChunkTimeout:     transfer.DefaultChunkTimeout,
		ProgressInterval: transfer.DefaultSampleInterval,
		Repair:           true,
		Workers:          2,
		HTTP: HTTPConfig{
			Timeout: 60 * time.Second,
		},
	}
}

// yamlConfig mirrors Config with string sizes and durations. Keys follow the
// camelCase names of the JSON config files, which parse as YAML too.
type yamlConfig struct {
	Username         string            `yaml:"username"`
	Password         string            `yaml:"password"`
	BaseURL          string            `yaml:"baseURL"`
	ArchiveBase      string            `yaml:"archiveBase"`
	OutputDir        string            `yaml:"outputDir"`
	Transport        string            `yaml:"transport"`
	Chunks           int               `yaml:"chunks"`
	ChunkWidth       int               `yaml:"chunkWidth"`
	UnknownChunkSize string            `yaml:"unknownChunkSize"`
	Retry            yamlRetryConfig   `yaml:"retry"`
	ChunkTimeout     string            `yaml:"chunkTimeout"`
	ProgressInterval string            `yaml:"progressInterval"`
	LimitRate        string            `yaml:"limitRate"`
	Repair           *bool             `yaml:"repair"`
	Workers          int               `yaml:"workers"`
	Archive          yamlArchiveConfig `yaml:"archive"`
	HTTP             yamlHTTPConfig    `yaml:"http"`
}

type yamlRetryConfig struct {
	Attempts *int   `yaml:"attempts"`
	Backoff  string `yaml:"backoff"`
}

type yamlArchiveConfig struct {
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
	Profile string `yaml:"profile"`
	Region  string `yaml:"region"`
}

type yamlHTTPConfig struct {
	Timeout   string            `yaml:"timeout"`
	UserAgent string            `yaml:"userAgent"`
	Proxy     string            `yaml:"proxy"`
	Headers   map[string]string `yaml:"headers"`
}

// FindFile returns the first config file found in the working directory or
// the user config directory, or "" when there is none.
func FindFile() string {
	candidates := []string{"config.yaml", "config.yml", "config.json"}
	if dir, err := os.UserConfigDir(); err == nil {
		for _, name := range []string{"config.yaml", "config.json"} {
			candidates = append(candidates, filepath.Join(dir, "catchup", name))
		}
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	cfg.Username = yc.Username
	cfg.Password = yc.Password
	cfg.BaseURL = yc.BaseURL
	cfg.ArchiveBase = yc.ArchiveBase
	if yc.OutputDir != "" {
		cfg.OutputDir = yc.OutputDir
	}
	if yc.Transport != "" {
		cfg.Transport = yc.Transport
	}
	if yc.Chunks != 0 {
		cfg.Chunks = yc.Chunks
	}
	cfg.ChunkWidth = yc.ChunkWidth
	if yc.UnknownChunkSize != "" {
		size, err := utils.ParseBytes(yc.UnknownChunkSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse unknownChunkSize: %w", err)
		}
		cfg.UnknownChunkSize = size
	}
	if yc.Retry.Attempts != nil {
		cfg.Retry.Attempts = *yc.Retry.Attempts
	}
	if err := parseDuration(yc.Retry.Backoff, "retry.backoff", &cfg.Retry.Backoff); err != nil {
		return Config{}, err
	}
	if err := parseDuration(yc.ChunkTimeout, "chunkTimeout", &cfg.ChunkTimeout); err != nil {
		return Config{}, err
	}
	if err := parseDuration(yc.ProgressInterval, "progressInterval", &cfg.ProgressInterval); err != nil {
		return Config{}, err
	}
	if yc.LimitRate != "" {
		rate, err := utils.ParseBytes(yc.LimitRate)
		if err != nil {
			return Config{}, fmt.Errorf("parse limitRate: %w", err)
		}
		cfg.LimitRate = rate
	}
	if yc.Repair != nil {
		cfg.Repair = *yc.Repair
	}
	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	cfg.Archive = ArchiveConfig(yc.Archive)
	if err := parseDuration(yc.HTTP.Timeout, "http.timeout", &cfg.HTTP.Timeout); err != nil {
		return Config{}, err
	}
	cfg.HTTP.UserAgent = yc.HTTP.UserAgent
	cfg.HTTP.Proxy = yc.HTTP.Proxy
	cfg.HTTP.Headers = yc.HTTP.Headers
	return cfg, nil
}

func parseDuration(v, key string, dst *time.Duration) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}

// LoadFromEnv overrides values from CATCHUP_ environment variables.
func (c *Config) LoadFromEnv() error {
	strs := map[string]*string{
		"CATCHUP_USERNAME":        &c.Username,
		"CATCHUP_PASSWORD":        &c.Password,
		"CATCHUP_BASE_URL":        &c.BaseURL,
		"CATCHUP_ARCHIVE_BASE":    &c.ArchiveBase,
		"CATCHUP_OUTPUT_DIR":      &c.OutputDir,
		"CATCHUP_TRANSPORT":       &c.Transport,
		"CATCHUP_ARCHIVE_BUCKET":  &c.Archive.Bucket,
		"CATCHUP_ARCHIVE_PREFIX":  &c.Archive.Prefix,
		"CATCHUP_ARCHIVE_PROFILE": &c.Archive.Profile,
		"CATCHUP_ARCHIVE_REGION":  &c.Archive.Region,
		"CATCHUP_USER_AGENT":      &c.HTTP.UserAgent,
		"CATCHUP_PROXY":           &c.HTTP.Proxy,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	ints := map[string]*int{
		"CATCHUP_CHUNKS":         &c.Chunks,
		"CATCHUP_CHUNK_WIDTH":    &c.ChunkWidth,
		"CATCHUP_RETRY_ATTEMPTS": &c.Retry.Attempts,
		"CATCHUP_WORKERS":        &c.Workers,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", key, err)
			}
			*dst = n
		}
	}
	sizes := map[string]*int64{
		"CATCHUP_UNKNOWN_CHUNK_SIZE": &c.UnknownChunkSize,
		"CATCHUP_LIMIT_RATE":         &c.LimitRate,
	}
	for key, dst := range sizes {
		if v := os.Getenv(key); v != "" {
			n, err := utils.ParseBytes(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", key, err)
			}
			*dst = n
		}
	}
	durations := map[string]*time.Duration{
		"CATCHUP_RETRY_BACKOFF":     &c.Retry.Backoff,
		"CATCHUP_CHUNK_TIMEOUT":     &c.ChunkTimeout,
		"CATCHUP_PROGRESS_INTERVAL": &c.ProgressInterval,
		"CATCHUP_TIMEOUT":           &c.HTTP.Timeout,
	}
	for key, dst := range durations {
		if err := parseDuration(os.Getenv(key), key, dst); err != nil {
			return err
		}
	}
	if v := os.Getenv("CATCHUP_REPAIR"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse CATCHUP_REPAIR: %w", err)
		}
		c.Repair = b
	}
	return nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Transport) {
	case transfer.BackendAuto, transfer.BackendNative, transfer.BackendWget:
	default:
		return fmt.Errorf("config: transport must be auto, native or wget, got %q", c.Transport)
	}
	if c.Chunks < 1 || c.Chunks > 100 {
		return errors.New("config: chunks must be between 1 and 100")
	}
	if c.ChunkWidth < 0 || c.ChunkWidth > 100 {
		return errors.New("config: chunkWidth must be between 0 and 100 percent")
	}
	if c.UnknownChunkSize <= 0 {
		return errors.New("config: unknownChunkSize must be positive")
	}
	if c.Retry.Attempts < 0 {
		return errors.New("config: retry.attempts must not be negative")
	}
	if c.Retry.Backoff < 0 || c.ChunkTimeout < 0 || c.HTTP.Timeout < 0 {
		return errors.New("config: durations must not be negative")
	}
	if c.ProgressInterval <= 0 {
		return errors.New("config: progressInterval must be positive")
	}
	if c.LimitRate < 0 {
		return errors.New("config: limitRate must not be negative")
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	return nil
}

// ValidateProvider checks the values needed to build catchup URLs.
func (c *Config) ValidateProvider() error {
	if c.Username == "" || c.Password == "" {
		return errors.New("config: username and password are required")
	}
	if c.ArchiveBase == "" {
		return errors.New("config: archiveBase is required")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	for _, p := range []struct {
		dst *string
		src string
	}{
		{&c.Username, override.Username},
		{&c.Password, override.Password},
		{&c.BaseURL, override.BaseURL},
		{&c.ArchiveBase, override.ArchiveBase},
		{&c.OutputDir, override.OutputDir},
		{&c.Transport, override.Transport},
		{&c.Archive.Bucket, override.Archive.Bucket},
		{&c.Archive.Prefix, override.Archive.Prefix},
		{&c.Archive.Profile, override.Archive.Profile},
		{&c.Archive.Region, override.Archive.Region},
		{&c.HTTP.UserAgent, override.HTTP.UserAgent},
		{&c.HTTP.Proxy, override.HTTP.Proxy},
	} {
		if p.src != "" {
			*p.dst = p.src
		}
	}
	if override.Chunks != 0 {
		c.Chunks = override.Chunks
	}
	if override.ChunkWidth != 0 {
		c.ChunkWidth = override.ChunkWidth
	}
	if override.UnknownChunkSize != 0 {
		c.UnknownChunkSize = override.UnknownChunkSize
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.ChunkTimeout != 0 {
		c.ChunkTimeout = override.ChunkTimeout
	}
	if override.ProgressInterval != 0 {
		c.ProgressInterval = override.ProgressInterval
	}
	if override.LimitRate != 0 {
		c.LimitRate = override.LimitRate
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.HTTP.Timeout != 0 {
		c.HTTP.Timeout = override.HTTP.Timeout
	}
	if len(override.HTTP.Headers) > 0 {
		headers := make(map[string]string, len(c.HTTP.Headers)+len(override.HTTP.Headers))
		for k, v := range c.HTTP.Headers {
			headers[k] = v
		}
		for k, v := range override.HTTP.Headers {
			headers[k] = v
		}
		c.HTTP.Headers = headers
	}
	return c
}

func (c Config) PlanOptions() transfer.PlanOptions {
	return transfer.PlanOptions{
		ChunkCount:        c.Chunks,
		WidthPercent:      c.ChunkWidth,
		UnknownChunkBytes: c.UnknownChunkSize,
	}
}

func (c Config) TransferOptions() transfer.Options {
	opts := transfer.DefaultOptions()
	opts.MaxRetries = c.Retry.Attempts
	opts.RetryBackoff = c.Retry.Backoff
	opts.ChunkTimeout = c.ChunkTimeout
	opts.SampleInterval = c.ProgressInterval
	return opts
}

func (c Config) HTTPClientConfig() utils.HTTPClientConfig {
	headers := make(map[string]string, len(c.HTTP.Headers))
	for k, v := range c.HTTP.Headers {
		headers[k] = v
	}
	return utils.HTTPClientConfig{
		Timeout:      c.HTTP.Timeout,
		ProxyURL:     c.HTTP.Proxy,
		UserAgent:    c.HTTP.UserAgent,
		Headers:      headers,
		LargeBuffers: true,
	}
}
