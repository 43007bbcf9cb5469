package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models apigen.yml.
type Config struct {
	Server struct {
		ListenAddr string `yaml:"listen_addr"`
		BasePath   string `yaml:"base_path"`
	} `yaml:"server"`
	Source struct {
		FetchTimeoutSec int    `yaml:"fetch_timeout_sec"`
		SpecPath        string `yaml:"spec_path"`
	} `yaml:"source"`
	Callback struct {
		TimeoutSec int    `yaml:"timeout_sec"`
		TargetPath string `yaml:"target_path"`
	} `yaml:"callback"`
	RAG struct {
		BaseURL         string `yaml:"base_url"`
		APIKey          string `yaml:"api_key"`
		SetupMaxWaitSec int    `yaml:"setup_max_wait_sec"`
		PollIntervalSec int    `yaml:"poll_interval_sec"`
		QueryTimeoutSec int    `yaml:"query_timeout_sec"`
	} `yaml:"rag"`
	Workers struct {
		Count     int `yaml:"count"`
		QueueSize int `yaml:"queue_size"`
	} `yaml:"workers"`
}

func (c *Config) FetchTimeout() time.Duration    { return secs(c.Source.FetchTimeoutSec) }
func (c *Config) CallbackTimeout() time.Duration { return secs(c.Callback.TimeoutSec) }
func (c *Config) RAGSetupMaxWait() time.Duration { return secs(c.RAG.SetupMaxWaitSec) }
func (c *Config) RAGPollInterval() time.Duration { return secs(c.RAG.PollIntervalSec) }
func (c *Config) RAGQueryTimeout() time.Duration { return secs(c.RAG.QueryTimeoutSec) }

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("config.server.listen_addr is required")
	}
	if c.Source.FetchTimeoutSec <= 0 {
		return fmt.Errorf("config.source.fetch_timeout_sec must be positive")
	}
	if c.Source.SpecPath == "" {
		return fmt.Errorf("config.source.spec_path is required")
	}
	if c.Callback.TimeoutSec <= 0 {
		return fmt.Errorf("config.callback.timeout_sec must be positive")
	}
	if c.Callback.TargetPath == "" {
		return fmt.Errorf("config.callback.target_path is required")
	}
	if c.RAG.SetupMaxWaitSec <= 0 || c.RAG.PollIntervalSec <= 0 {
		return fmt.Errorf("config.rag wait/poll intervals must be positive")
	}
	if c.RAG.QueryTimeoutSec <= 0 {
		return fmt.Errorf("config.rag.query_timeout_sec must be positive")
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("config.workers.count must be positive")
	}
	if c.Workers.QueueSize <= 0 {
		return fmt.Errorf("config.workers.queue_size must be positive")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "apigen.yml")
}

// Load reads and validates config from workspace, falling back to defaults
// when the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses config from raw YAML bytes. Missing sections keep their
// default values, then the result is validated.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	cfg.Server.ListenAddr = "127.0.0.1:8080"
	cfg.Server.BasePath = "/v1"
	cfg.Source.FetchTimeoutSec = 20
	cfg.Source.SpecPath = "openapi.json"
	cfg.Callback.TimeoutSec = 30
	cfg.Callback.TargetPath = ".openapi/v3.0/openapi.json"
	cfg.RAG.SetupMaxWaitSec = 1800
	cfg.RAG.PollIntervalSec = 10
	cfg.RAG.QueryTimeoutSec = 120
	cfg.Workers.Count = 2
	cfg.Workers.QueueSize = 16
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  listen_addr: 127.0.0.1:8080
  base_path: /v1

source:
  fetch_timeout_sec: 20
  spec_path: openapi.json

callback:
  timeout_sec: 30
  target_path: .openapi/v3.0/openapi.json

rag:
  base_url: ""
  api_key: ""
  setup_max_wait_sec: 1800
  poll_interval_sec: 10
  query_timeout_sec: 120

workers:
  count: 2
  queue_size: 16
`
