package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultConfigPath    = "config.json"
	DefaultServerAddress = ":8090"
	DefaultProvider      = "gemini"
	DefaultModel         = "gemini-2.0-flash-exp"
	DefaultMaxUploadMB   = 200
	DefaultQueueSize     = 32

	EnvConfigPath     = "VIDEOINSIGHT_CONFIG"
	EnvGoogleAPIKey   = "GOOGLE_API_KEY"
	EnvSearchEngineID = "GOOGLE_SEARCH_ENGINE_ID"
)

// ErrMissingAPIKey is returned by Validate when no Gemini credential is available.
var ErrMissingAPIKey = errors.New("gemini api key not configured (set " + EnvGoogleAPIKey + ")")

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Search      SearchConfig              `json:"search"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	LogLevel      string `json:"log_level"`
	AccessToken   string `json:"access_token"`

	ScratchDir           string `json:"scratch_dir"`
	MaxUploadMB          int64  `json:"max_upload_mb"`
	ScratchSweepInterval int    `json:"scratch_sweep_interval"` // minutes
	ScratchFileTTL       int    `json:"scratch_file_ttl"`       // minutes

	MinWorkers        int `json:"min_workers"`
	MaxWorkers        int `json:"max_workers"`
	QueueSize         int `json:"queue_size"`
	WorkerIdleTimeout int `json:"worker_idle_timeout"` // seconds

	RateLimit         int `json:"rate_limit"`
	RateWindowSeconds int `json:"rate_window_seconds"`

	// AnalysisTimeout bounds one run in seconds; 0 leaves timeouts to the providers.
	AnalysisTimeout   int    `json:"analysis_timeout_seconds"`
	UploadPollSeconds int    `json:"upload_poll_seconds"`
	DeleteRemoteMedia bool   `json:"delete_remote_media"`
	HistoryDB         string `json:"history_db"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type SearchConfig struct {
	GoogleAPIKey   string `json:"google_api_key"`
	SearchEngineID string `json:"search_engine_id"`
	MaxResults     int    `json:"max_results"`
	Disabled       bool   `json:"disabled"`
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing file at the default location is not an error: defaults and
// environment overrides are used instead.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var cfg Config
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if db, ok := cfg.Databases["sqlite3"]; ok && db.DSN != "" && db.DSN != ":memory:" && !filepath.IsAbs(db.DSN) {
		db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
		cfg.Databases["sqlite3"] = db
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = DefaultServerAddress
	}
	if b.LogLevel == "" {
		b.LogLevel = "info"
	}
	if b.ScratchDir == "" {
		b.ScratchDir = filepath.Join(os.TempDir(), "videoinsight")
	}
	if b.MaxUploadMB <= 0 {
		b.MaxUploadMB = DefaultMaxUploadMB
	}
	if b.MinWorkers <= 0 {
		b.MinWorkers = 1
	}
	if b.MaxWorkers <= 0 {
		b.MaxWorkers = 4
	}
	if b.MaxWorkers < b.MinWorkers {
		b.MaxWorkers = b.MinWorkers
	}
	if b.QueueSize <= 0 {
		b.QueueSize = DefaultQueueSize
	}
	if b.RateWindowSeconds <= 0 {
		b.RateWindowSeconds = 60
	}
	if b.UploadPollSeconds <= 0 {
		b.UploadPollSeconds = 2
	}
	b.HistoryDB = strings.ToLower(strings.TrimSpace(b.HistoryDB))

	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	prov := c.Providers[DefaultProvider]
	if prov.Model == "" {
		prov.Model = DefaultModel
	}
	c.Providers[DefaultProvider] = prov

	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = 5
	}
}

func (c *Config) applyEnv() {
	if key := strings.TrimSpace(os.Getenv(EnvGoogleAPIKey)); key != "" {
		prov := c.Providers[DefaultProvider]
		if prov.APIKey == "" {
			prov.APIKey = key
			c.Providers[DefaultProvider] = prov
		}
		if c.Search.GoogleAPIKey == "" {
			c.Search.GoogleAPIKey = key
		}
	}
	if id := strings.TrimSpace(os.Getenv(EnvSearchEngineID)); id != "" && c.Search.SearchEngineID == "" {
		c.Search.SearchEngineID = id
	}
}

// Validate reports configuration problems that would make every analysis fail.
func (c *Config) Validate() error {
	if c.Providers[DefaultProvider].APIKey == "" {
		return ErrMissingAPIKey
	}
	switch c.BasicConfig.HistoryDB {
	case "", "sqlite", "sqlite3", "mysql":
	default:
		return fmt.Errorf("unsupported history_db: %s", c.BasicConfig.HistoryDB)
	}
	return nil
}

// Gemini returns the provider settings used to build the agent.
func (c *Config) Gemini() ProviderConfig {
	return c.Providers[DefaultProvider]
}

// MaxUploadBytes converts max_upload_mb to bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.BasicConfig.MaxUploadMB << 20
}
