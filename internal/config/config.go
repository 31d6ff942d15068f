package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LogConfig controls the process logger.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ScraperConfig bounds a scrape session. Headless is a pointer so an absent
// key can default to true.
type ScraperConfig struct {
	Headless       *bool `yaml:"headless"`
	MaxReviews     int   `yaml:"max_reviews"`
	YearLimit      int   `yaml:"year_limit"`
	TimeoutSecs    int   `yaml:"timeout_secs"`
	NavTimeoutSecs int   `yaml:"nav_timeout_secs"`
}

// HeadlessOn reports the effective headless setting.
func (c ScraperConfig) HeadlessOn() bool { return c.Headless == nil || *c.Headless }

// EmbeddingConfig selects and configures the embedder. The openai backend
// talks to any OpenAI-compatible /embeddings endpoint (Ollama included);
// the hash backend is deterministic and fully offline.
type EmbeddingConfig struct {
	Backend       string `yaml:"backend"`
	Model         string `yaml:"model"`
	BaseURL       string `yaml:"base_url"`
	APIKeyEnv     string `yaml:"api_key_env"`
	TimeoutSecs   int    `yaml:"timeout_secs"`
	RateLimitRPS  int    `yaml:"rate_limit_rps"`
	Workers       int    `yaml:"workers"`
	CacheSize     int    `yaml:"cache_size"`
	HashDimension int    `yaml:"hash_dimension"`
}

// LLMConfig configures the chat-completion client used for answers.
type LLMConfig struct {
	Model              string   `yaml:"model"`
	BaseURL            string   `yaml:"base_url"`
	APIKeyEnv          string   `yaml:"api_key_env"`
	Temperature        *float64 `yaml:"temperature"`
	MaxTokens          int      `yaml:"max_tokens"`
	TimeoutSecs        int      `yaml:"timeout_secs"`
	ContextTokenBudget int      `yaml:"context_token_budget"`
}

// TemperatureValue reports the effective sampling temperature.
func (c LLMConfig) TemperatureValue() float64 {
	if c.Temperature == nil {
		return 0.7
	}
	return *c.Temperature
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// StorageConfig selects and configures the vector store backend.
type StorageConfig struct {
	Backend    string        `yaml:"backend"`
	Path       string        `yaml:"path"`
	Collection string        `yaml:"collection"`
	Qdrant     *QdrantConfig `yaml:"qdrant,omitempty"`
}

// RetrievalConfig tunes query behavior. Dedupe switches indexing from
// append-only to overwrite-by-content-identity.
type RetrievalConfig struct {
	TopK   int  `yaml:"top_k"`
	Dedupe bool `yaml:"dedupe"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Log       LogConfig       `yaml:"log"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Storage   StorageConfig   `yaml:"storage"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
}

// Load reads a config from a specified path. If the file does not exist,
// returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/reviewlens/config.yaml.
// If neither exists, it writes defaults to the user path and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects values the components cannot run with.
func (c *AppConfig) Validate() error {
	if c.Scraper.MaxReviews < 1 {
		return fmt.Errorf("scraper.max_reviews must be >= 1, got %d", c.Scraper.MaxReviews)
	}
	if c.Scraper.YearLimit < 0 {
		return fmt.Errorf("scraper.year_limit must be >= 0, got %d", c.Scraper.YearLimit)
	}
	switch c.Embedding.Backend {
	case "openai", "hash":
	default:
		return fmt.Errorf("unknown embedding backend %q", c.Embedding.Backend)
	}
	switch c.Storage.Backend {
	case "local", "memory":
	case "qdrant":
		if c.Storage.Qdrant == nil || c.Storage.Qdrant.URL == "" {
			return errors.New("storage.qdrant.url required for the qdrant backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "local" && c.Storage.Path == "" {
		return errors.New("storage.path required for the local backend")
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval.top_k must be >= 1, got %d", c.Retrieval.TopK)
	}
	if t := c.LLM.TemperatureValue(); t < 0 || t > 2 {
		return fmt.Errorf("llm.temperature must be in [0,2], got %g", t)
	}
	if c.Embedding.Workers < 1 {
		return fmt.Errorf("embedding.workers must be >= 1, got %d", c.Embedding.Workers)
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "reviewlens", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Scraper.Headless == nil {
		t := true
		cfg.Scraper.Headless = &t
	}
	if cfg.Scraper.MaxReviews == 0 {
		cfg.Scraper.MaxReviews = 100
	}
	if cfg.Scraper.YearLimit == 0 {
		cfg.Scraper.YearLimit = 1
	}
	if cfg.Scraper.TimeoutSecs == 0 {
		cfg.Scraper.TimeoutSecs = 120
	}
	if cfg.Scraper.NavTimeoutSecs == 0 {
		cfg.Scraper.NavTimeoutSecs = 30
	}
	if cfg.Embedding.Backend == "" {
		cfg.Embedding.Backend = "hash"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedding.TimeoutSecs == 0 {
		cfg.Embedding.TimeoutSecs = 30
	}
	if cfg.Embedding.RateLimitRPS == 0 {
		cfg.Embedding.RateLimitRPS = 4
	}
	if cfg.Embedding.Workers == 0 {
		cfg.Embedding.Workers = 4
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 512
	}
	if cfg.Embedding.HashDimension == 0 {
		cfg.Embedding.HashDimension = 384
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 600
	}
	if cfg.LLM.TimeoutSecs == 0 {
		cfg.LLM.TimeoutSecs = 30
	}
	if cfg.LLM.ContextTokenBudget == 0 {
		cfg.LLM.ContextTokenBudget = 3000
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "local"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join("data", "reviews")
	}
	if cfg.Storage.Collection == "" {
		cfg.Storage.Collection = "reviews"
	}
	if cfg.Storage.Qdrant != nil {
		if cfg.Storage.Qdrant.APIKeyEnv == "" {
			cfg.Storage.Qdrant.APIKeyEnv = "QDRANT_API_KEY"
		}
		if cfg.Storage.Qdrant.TimeoutSecs == 0 {
			cfg.Storage.Qdrant.TimeoutSecs = 15
		}
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
}
