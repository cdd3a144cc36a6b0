package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    Server    `yaml:"server"`
	Sync      Sync      `yaml:"sync"`
	Repos     []Repo    `yaml:"repos"`
	Storage   Storage   `yaml:"storage"`
	Fetcher   Fetcher   `yaml:"fetcher"`
	Search    Search    `yaml:"search"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Log       Log       `yaml:"log"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Sync struct {
	Interval time.Duration `yaml:"interval"` // 0 disables periodic sync
}

// Repo is a repository that is re-ingested on every sync.
type Repo struct {
	URL         string `yaml:"url"`
	Description string `yaml:"description"`
}

type Storage struct {
	Path string `yaml:"path"`
}

type Fetcher struct {
	Type       string        `yaml:"type"` // github, git
	UserAgent  string        `yaml:"user_agent"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	GitHub     GitHub        `yaml:"github"`
}

type GitHub struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

type Search struct {
	PageSize int `yaml:"page_size"`
}

type RateLimit struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

type Log struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Filename   string `yaml:"filename"`    // log file path
	MaxSize    int    `yaml:"max_size"`    // megabytes
	MaxBackups int    `yaml:"max_backups"` // number of backups
	MaxAge     int    `yaml:"max_age"`     // days
	Compress   bool   `yaml:"compress"`    // compress rotated files
}

const (
	FetcherGitHub = "github"
	FetcherGit    = "git"

	DefaultPageSize = 20
	MaxPageSize     = 100
)

var (
	config  *Config
	loadErr error
	once    sync.Once
)

// Load loads the configuration from the default config file
func Load() (*Config, error) {
	once.Do(func() {
		config, loadErr = LoadFromFile("config/config.yaml")
	})
	return config, loadErr
}

// Get returns the configuration loaded by Load
func Get() *Config {
	return config
}

// LoadFromFile loads the configuration from the specified file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and fills in defaults for unset fields.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := ensureDirs(cfg.Storage.Path); err != nil {
		return nil, fmt.Errorf("failed to create storage dirs: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data"
	}
	if c.Fetcher.Type == "" {
		c.Fetcher.Type = FetcherGitHub
	}
	if c.Fetcher.UserAgent == "" {
		c.Fetcher.UserAgent = "dora-registry/1.0"
	}
	if c.Fetcher.Timeout == 0 {
		c.Fetcher.Timeout = 30 * time.Second
	}
	if c.Fetcher.MaxRetries == 0 {
		c.Fetcher.MaxRetries = 3
	}
	if c.Fetcher.GitHub.BaseURL == "" {
		c.Fetcher.GitHub.BaseURL = "https://api.github.com"
	}
	if c.Search.PageSize <= 0 {
		c.Search.PageSize = DefaultPageSize
	}
	if c.Search.PageSize > MaxPageSize {
		c.Search.PageSize = MaxPageSize
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Filename == "" {
		c.Log.Filename = filepath.Join("logs", "dora-registry.log")
	}
}

func (c *Config) validate() error {
	switch c.Fetcher.Type {
	case FetcherGitHub, FetcherGit:
	default:
		return fmt.Errorf("unknown fetcher type %q", c.Fetcher.Type)
	}
	for i, repo := range c.Repos {
		if repo.URL == "" {
			return fmt.Errorf("repos[%d]: url is required", i)
		}
	}
	return nil
}

// ensureDirs creates necessary directories if they don't exist
func ensureDirs(basePath string) error {
	dirs := []string{
		basePath,
		filepath.Join(basePath, "repos"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
