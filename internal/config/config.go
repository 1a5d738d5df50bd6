package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	ASR     ASRConfig     `yaml:"asr"`
	Cache   CacheConfig   `yaml:"cache"`
	Media   MediaConfig   `yaml:"media"`
	Logging LoggingConfig `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port      int    `yaml:"port"`
	Address   string `yaml:"address"`
	Enabled   bool   `yaml:"enabled"`
	UploadDir string `yaml:"upload_dir"`
}

// ASRConfig contains remote transcription API configuration
type ASRConfig struct {
	APIHost        string `yaml:"api_host"`
	APIVersion     string `yaml:"api_version"`
	AppID          string `yaml:"app_id"`
	SecretKey      string `yaml:"secret_key"`
	Language       string `yaml:"language"`
	RoleType       int    `yaml:"role_type"`
	SpeakerNumber  int    `yaml:"speaker_number"`
	PieceSizeMiB   int    `yaml:"piece_size_mib"`
	RequestTimeout int    `yaml:"request_timeout"` // seconds
	PollInterval   int    `yaml:"poll_interval"`   // seconds
	PollTimeout    int    `yaml:"poll_timeout"`    // seconds
}

// CacheConfig contains result cache configuration
type CacheConfig struct {
	MaxEntries      int `yaml:"max_entries"`
	ExpirationHours int `yaml:"expiration_hours"`
}

// MediaConfig contains video pre-processing configuration
type MediaConfig struct {
	FFmpegPath string `yaml:"ffmpeg_path"`
	TempDir    string `yaml:"temp_dir"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file. Credentials left empty in
// the file fall back to the XFYUN_APP_ID and XFYUN_SECRET_KEY environment
// variables before validation runs.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.ASR.applyEnvCredentials()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvCredentials fills empty credential fields from the environment.
func (a *ASRConfig) applyEnvCredentials() {
	if a.AppID == "" {
		a.AppID = os.Getenv("XFYUN_APP_ID")
	}
	if a.SecretKey == "" {
		a.SecretKey = os.Getenv("XFYUN_SECRET_KEY")
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.ASR.Validate(); err != nil {
		return fmt.Errorf("asr config: %w", err)
	}

	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates transcription API configuration
func (a *ASRConfig) Validate() error {
	if a.APIHost == "" {
		return fmt.Errorf("api_host cannot be empty")
	}

	if a.APIVersion != "v1" && a.APIVersion != "v2" {
		return fmt.Errorf("api_version must be 'v1' or 'v2', got '%s'", a.APIVersion)
	}

	if a.AppID == "" {
		return fmt.Errorf("app_id cannot be empty (set it or the XFYUN_APP_ID environment variable)")
	}

	if a.SecretKey == "" {
		return fmt.Errorf("secret_key cannot be empty (set it or the XFYUN_SECRET_KEY environment variable)")
	}

	if a.RoleType < 0 {
		return fmt.Errorf("role_type cannot be negative, got %d", a.RoleType)
	}

	if a.SpeakerNumber < 0 {
		return fmt.Errorf("speaker_number cannot be negative, got %d", a.SpeakerNumber)
	}

	if a.PieceSizeMiB < 0 {
		return fmt.Errorf("piece_size_mib cannot be negative, got %d", a.PieceSizeMiB)
	}

	if a.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout cannot be negative, got %d", a.RequestTimeout)
	}

	if a.PollInterval < 0 {
		return fmt.Errorf("poll_interval cannot be negative, got %d", a.PollInterval)
	}

	if a.PollTimeout < 0 {
		return fmt.Errorf("poll_timeout cannot be negative, got %d", a.PollTimeout)
	}

	return nil
}

// Validate validates cache configuration
func (c *CacheConfig) Validate() error {
	if c.MaxEntries < 0 {
		return fmt.Errorf("max_entries cannot be negative, got %d", c.MaxEntries)
	}

	if c.ExpirationHours < 0 {
		return fmt.Errorf("expiration_hours cannot be negative, got %d", c.ExpirationHours)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetPieceSize returns the upload piece size in bytes; zero means the
// uploader's default.
func (a *ASRConfig) GetPieceSize() int64 {
	return int64(a.PieceSizeMiB) * 1024 * 1024
}

// GetRequestTimeout returns the per-request timeout as a time.Duration
func (a *ASRConfig) GetRequestTimeout() time.Duration {
	return time.Duration(a.RequestTimeout) * time.Second
}

// GetPollInterval returns the poll interval as a time.Duration
func (a *ASRConfig) GetPollInterval() time.Duration {
	return time.Duration(a.PollInterval) * time.Second
}

// GetPollTimeout returns the poll timeout as a time.Duration
func (a *ASRConfig) GetPollTimeout() time.Duration {
	return time.Duration(a.PollTimeout) * time.Second
}

// GetExpiration returns the cache entry lifetime as a time.Duration
func (c *CacheConfig) GetExpiration() time.Duration {
	return time.Duration(c.ExpirationHours) * time.Hour
}
