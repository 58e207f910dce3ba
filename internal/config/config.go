package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the agent service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Storage   StorageConfig   `yaml:"storage"`
	Notifier  NotifierConfig  `yaml:"notifier"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Prompts   PromptsConfig   `yaml:"prompts"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP API, gRPC ops listener and metrics endpoint.
type ServerConfig struct {
	HTTPAddress     string        `yaml:"httpAddress"`
	GRPCAddress     string        `yaml:"grpcAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LLMConfig groups the pluggable generation backends.
type LLMConfig struct {
	Default string        `yaml:"default"`
	Timeout time.Duration `yaml:"timeout"`
	Ollama  OllamaConfig  `yaml:"ollama"`
	Gemini  GeminiConfig  `yaml:"gemini"`
	Claude  ClaudeConfig  `yaml:"claude"`
}

// OllamaConfig configures the local OpenAI-style backend.
type OllamaConfig struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`
}

// GeminiConfig configures the Google Gemini backend.
type GeminiConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

// ClaudeConfig configures the Anthropic Claude backend.
type ClaudeConfig struct {
	APIKey    string `yaml:"apiKey"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"maxTokens"`
}

// EmbeddingConfig selects the embedder used for retrieval queries.
type EmbeddingConfig struct {
	Provider string       `yaml:"provider"`
	Ollama   OllamaConfig `yaml:"ollama"`
	Gemini   GeminiConfig `yaml:"gemini"`
}

// QdrantConfig configures the vector similarity store.
type QdrantConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout"`
}

// StorageConfig configures the report store.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// NotifierConfig configures the outbound alert integration.
type NotifierConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Channels []string      `yaml:"channels"`
	Timeout  time.Duration `yaml:"timeout"`
}

// AnalysisConfig tunes the chunking and retrieval behaviour of the pipeline.
type AnalysisConfig struct {
	Collection        string  `yaml:"collection"`
	TopK              int     `yaml:"topK"`
	SOPCollection     string  `yaml:"sopCollection"`
	SOPTopK           int     `yaml:"sopTopK"`
	ModelWindowTokens int     `yaml:"modelWindowTokens"`
	ChunkBudgetRatio  float64 `yaml:"chunkBudgetRatio"`
	CharsPerToken     int     `yaml:"charsPerToken"`
}

// PromptsConfig points at the system prompt directory. When empty, built-in
// prompts are used.
type PromptsConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls Valkey-backed caching of retrieval lookups.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	RetrievalTTL time.Duration `yaml:"retrievalTTL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("AEGIS_AGENT_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddress:     ":10001",
			GRPCAddress:     ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		LLM: LLMConfig{
			Default: "ollama",
			Timeout: 120 * time.Second,
			Ollama:  OllamaConfig{Host: "http://localhost:11434", Model: "llama3"},
			Gemini:  GeminiConfig{Model: "gemini-2.0-flash"},
			Claude:  ClaudeConfig{Model: "claude-sonnet-4-20250514", MaxTokens: 8192},
		},
		Embedding: EmbeddingConfig{
			Provider: "ollama",
			Ollama:   OllamaConfig{Host: "http://localhost:11434", Model: "nomic-embed-text"},
			Gemini:   GeminiConfig{Model: "text-embedding-004"},
		},
		Qdrant: QdrantConfig{
			Endpoint: "http://localhost:6333",
			Timeout:  5 * time.Second,
		},
		Storage: StorageConfig{Path: "aegis-agent.db"},
		Notifier: NotifierConfig{
			Channels: []string{"it-server", "security-team"},
			Timeout:  5 * time.Second,
		},
		Analysis: AnalysisConfig{
			Collection:        "SecurityCriteria",
			TopK:              5,
			SOPCollection:     "SOP",
			SOPTopK:           5,
			ModelWindowTokens: 128000,
			ChunkBudgetRatio:  0.6,
			CharsPerToken:     4,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			RetrievalTTL: 2 * time.Minute,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AEGIS_AGENT_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("AEGIS_AGENT_GRPC_ADDRESS"); v != "" {
		cfg.Server.GRPCAddress = v
	}
	if v := os.Getenv("AEGIS_AGENT_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("AEGIS_AGENT_LLM_DEFAULT"); v != "" {
		cfg.LLM.Default = v
	}
	if v := os.Getenv("AEGIS_AGENT_LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LLM.Timeout = d
		}
	}
	if v := os.Getenv("AEGIS_AGENT_OLLAMA_HOST"); v != "" {
		cfg.LLM.Ollama.Host = v
		cfg.Embedding.Ollama.Host = v
	}
	if v := os.Getenv("AEGIS_AGENT_OLLAMA_MODEL"); v != "" {
		cfg.LLM.Ollama.Model = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.LLM.Gemini.APIKey = v
		cfg.Embedding.Gemini.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.Claude.APIKey = v
	}
	if v := os.Getenv("AEGIS_AGENT_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("AEGIS_AGENT_QDRANT_URL"); v != "" {
		cfg.Qdrant.Endpoint = v
	}
	if v := os.Getenv("AEGIS_AGENT_QDRANT_API_KEY"); v != "" {
		cfg.Qdrant.APIKey = v
	}
	if v := os.Getenv("AEGIS_AGENT_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("AEGIS_AGENT_NOTIFIER_URL"); v != "" {
		cfg.Notifier.Endpoint = v
	}
	if v := os.Getenv("AEGIS_AGENT_NOTIFIER_CHANNELS"); v != "" {
		channels := strings.Split(v, ",")
		trimmed := channels[:0]
		for _, ch := range channels {
			if ch = strings.TrimSpace(ch); ch != "" {
				trimmed = append(trimmed, ch)
			}
		}
		cfg.Notifier.Channels = trimmed
	}
	if v := os.Getenv("AEGIS_AGENT_PROMPTS_DIR"); v != "" {
		cfg.Prompts.Dir = v
	}
	if v := os.Getenv("AEGIS_AGENT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AEGIS_AGENT_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("AEGIS_AGENT_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("AEGIS_AGENT_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("AEGIS_AGENT_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("AEGIS_AGENT_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("AEGIS_AGENT_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("AEGIS_AGENT_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("AEGIS_AGENT_CACHE_RETRIEVAL_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.RetrievalTTL = d
		}
	}
	if v := os.Getenv("AEGIS_AGENT_ANALYSIS_COLLECTION"); v != "" {
		cfg.Analysis.Collection = v
	}
	if v := os.Getenv("AEGIS_AGENT_ANALYSIS_TOP_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			cfg.Analysis.TopK = k
		}
	}
	if v := os.Getenv("AEGIS_AGENT_SOP_COLLECTION"); v != "" {
		cfg.Analysis.SOPCollection = v
	}
}
