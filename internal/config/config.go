package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	BaseURL           string   `yaml:"baseURL"`
	LogLevel          string   `yaml:"logLevel"`
	PollInterval      string   `yaml:"pollInterval"`
	HTTPTimeout       string   `yaml:"httpTimeout"`
	AutoPoll          *bool    `yaml:"autoPoll"`
	RedisAddr         string   `yaml:"redisAddr"`
	RedisPassword     string   `yaml:"redisPassword"`
	CacheTTL          string   `yaml:"cacheTTL"`
	MaxUploadBytes    int64    `yaml:"maxUploadBytes"`
	AllowedExtensions []string `yaml:"allowedExtensions"`
}

// Config is the parsed, validated runtime configuration.
type Config struct {
	BaseURL           string
	LogLevel          string
	PollInterval      time.Duration
	HTTPTimeout       time.Duration
	AutoPoll          bool
	RedisAddr         string
	RedisPassword     string
	CacheTTL          time.Duration
	MaxUploadBytes    int64
	AllowedExtensions []string
}

// Load reads config from path (defaults to config.yaml), applies DOCTRACK_*
// env overrides and fills defaults. A missing file is fine as long as the
// base URL arrives via environment.
func Load(path string) (Config, error) {
	fc := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	case os.IsNotExist(err):
		// env-only configuration
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if v := os.Getenv("DOCTRACK_BASE_URL"); v != "" {
		fc.BaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("DOCTRACK_LOG_LEVEL"); v != "" {
		fc.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("DOCTRACK_POLL_INTERVAL"); v != "" {
		fc.PollInterval = strings.TrimSpace(v)
	}
	if v := os.Getenv("DOCTRACK_HTTP_TIMEOUT"); v != "" {
		fc.HTTPTimeout = strings.TrimSpace(v)
	}
	if v := os.Getenv("DOCTRACK_AUTO_POLL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			fc.AutoPoll = &b
		}
	}
	if v := os.Getenv("DOCTRACK_REDIS_ADDR"); v != "" {
		fc.RedisAddr = strings.TrimSpace(v)
	}
	if v := os.Getenv("DOCTRACK_REDIS_PASSWORD"); v != "" {
		fc.RedisPassword = v
	}
	if v := os.Getenv("DOCTRACK_CACHE_TTL"); v != "" {
		fc.CacheTTL = strings.TrimSpace(v)
	}
	if v := os.Getenv("DOCTRACK_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			fc.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("DOCTRACK_ALLOWED_EXTENSIONS"); v != "" {
		fc.AllowedExtensions = fc.AllowedExtensions[:0]
		for _, ext := range strings.Split(v, ",") {
			if ext = strings.TrimSpace(ext); ext != "" {
				fc.AllowedExtensions = append(fc.AllowedExtensions, ext)
			}
		}
	}

	cfg := Config{
		BaseURL:           strings.TrimRight(fc.BaseURL, "/"),
		LogLevel:          fc.LogLevel,
		AutoPoll:          true,
		RedisAddr:         fc.RedisAddr,
		RedisPassword:     fc.RedisPassword,
		MaxUploadBytes:    fc.MaxUploadBytes,
		AllowedExtensions: fc.AllowedExtensions,
	}
	if cfg.BaseURL == "" {
		return Config{}, fmt.Errorf("baseURL required")
	}
	if fc.AutoPoll != nil {
		cfg.AutoPoll = *fc.AutoPoll
	}
	if cfg.PollInterval, err = parseDuration(fc.PollInterval, 2*time.Second); err != nil {
		return Config{}, fmt.Errorf("pollInterval: %w", err)
	}
	if cfg.HTTPTimeout, err = parseDuration(fc.HTTPTimeout, 30*time.Second); err != nil {
		return Config{}, fmt.Errorf("httpTimeout: %w", err)
	}
	if cfg.CacheTTL, err = parseDuration(fc.CacheTTL, 0); err != nil {
		return Config{}, fmt.Errorf("cacheTTL: %w", err)
	}
	return cfg, nil
}

func parseDuration(raw string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}
