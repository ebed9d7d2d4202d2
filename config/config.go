package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the document Q&A service
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	RAG       RAGConfig       `mapstructure:"rag"`
	Providers ProvidersConfig `mapstructure:"providers"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address      string   `mapstructure:"address"`
	JWTSecret    string   `mapstructure:"jwt_secret"` // empty disables auth
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// StorageConfig contains the shared state store settings
type StorageConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// LimitsConfig contains session lifecycle and throttling settings
type LimitsConfig struct {
	RateMinInterval    time.Duration `mapstructure:"rate_min_interval"`
	SessionTTL         time.Duration `mapstructure:"session_ttl"`
	InactivityWindow   time.Duration `mapstructure:"inactivity_window"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	SweepCron          string        `mapstructure:"sweep_cron"` // overrides sweep_interval when set
}

func (l LimitsConfig) Validate() error {
	if l.RateMinInterval <= 0 {
		return fmt.Errorf("limits.rate_min_interval must be > 0")
	}
	if l.SessionTTL <= 0 {
		return fmt.Errorf("limits.session_ttl must be > 0")
	}
	if l.InactivityWindow < l.SessionTTL {
		return fmt.Errorf("limits.inactivity_window must be >= limits.session_ttl")
	}
	return nil
}

// IngestConfig contains task queue and worker pool settings
type IngestConfig struct {
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	TaskTimeout    time.Duration `mapstructure:"task_timeout"`
	TaskRetention  time.Duration `mapstructure:"task_retention"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
}

func (i IngestConfig) Validate() error {
	if i.Workers <= 0 {
		return fmt.Errorf("ingest.workers must be > 0")
	}
	if i.QueueSize <= 0 {
		return fmt.Errorf("ingest.queue_size must be > 0")
	}
	return nil
}

// RAGConfig selects and tunes the content-processing backend
type RAGConfig struct {
	Provider     string `mapstructure:"provider"` // openai or mock
	ChunkTokens  int    `mapstructure:"chunk_tokens"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
	MaxChunks    int    `mapstructure:"max_chunks"`
	TopK         int    `mapstructure:"top_k"`
	Encoding     string `mapstructure:"encoding"`
}

func (r RAGConfig) Validate() error {
	switch r.Provider {
	case "openai", "mock":
	default:
		return fmt.Errorf("rag.provider must be openai or mock, got %q", r.Provider)
	}
	if r.ChunkOverlap >= r.ChunkTokens {
		return fmt.Errorf("rag.chunk_overlap must be smaller than rag.chunk_tokens")
	}
	return nil
}

// ProvidersConfig contains LLM provider configurations
type ProvidersConfig struct {
	OpenAI OpenAIConfig `mapstructure:"openai"`
}

// OpenAIConfig contains OpenAI API settings
type OpenAIConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	CompletionModel string        `mapstructure:"completion_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("server.address", ":8000")
	viper.SetDefault("server.allow_origins", []string{"*"})
	viper.SetDefault("limits.rate_min_interval", "3s")
	viper.SetDefault("limits.session_ttl", "1800s")
	viper.SetDefault("limits.inactivity_window", "108000s")
	viper.SetDefault("limits.sweep_interval", "1800s")
	viper.SetDefault("ingest.workers", 2)
	viper.SetDefault("ingest.queue_size", 100)
	viper.SetDefault("ingest.task_timeout", "10m")
	viper.SetDefault("ingest.task_retention", "1h")
	viper.SetDefault("ingest.max_upload_bytes", 16<<20)
	viper.SetDefault("rag.provider", "mock")
	viper.SetDefault("rag.chunk_tokens", 300)
	viper.SetDefault("rag.chunk_overlap", 60)
	viper.SetDefault("rag.max_chunks", 256)
	viper.SetDefault("rag.top_k", 5)
	viper.SetDefault("rag.encoding", "cl100k_base")
	viper.SetDefault("providers.openai.completion_model", "gpt-4o-mini")
	viper.SetDefault("providers.openai.embedding_model", "text-embedding-3-small")
	viper.SetDefault("providers.openai.temperature", 0.2)
	viper.SetDefault("providers.openai.max_tokens", 1024)
	viper.SetDefault("providers.openai.timeout", "30s")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("DOCQA")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (DOCQA_*)

	err := viper.ReadInConfig()
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	if err := config.Limits.Validate(); err != nil {
		panic(err)
	}
	if err := config.Ingest.Validate(); err != nil {
		panic(err)
	}
	if err := config.RAG.Validate(); err != nil {
		panic(err)
	}
	return &config
}
