package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	EmbedLLM LLMConfig      `yaml:"embed_llm"`
	ChatLLM  LLMConfig      `yaml:"chat_llm"`
	Chunking ChunkingConfig `yaml:"chunking"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Local    LocalConfig    `yaml:"local"`
	LogDir   string         `yaml:"log_dir"`
}

type DatabaseConfig struct {
	// URL is a full DSN (postgres://...); when set it wins over the
	// individual fields below.
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	Debug    bool   `yaml:"debug"`
}

type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	Key     string `yaml:"key"`
	Model   string `yaml:"model"`
}

type ChunkingConfig struct {
	MaxTokens     int  `yaml:"max_tokens"`
	OverlapTokens int  `yaml:"overlap_tokens"`
	InjectHeading bool `yaml:"inject_chapter_heading"`
}

type IngestConfig struct {
	BatchSize int `yaml:"batch_size"`
	// DelayMS is the fixed sleep between embedding calls, a blunt
	// rate limit for a local batch tool.
	DelayMS int `yaml:"delay_ms"`
}

type LocalConfig struct {
	DBPath        string `yaml:"db_path"`
	Collection    string `yaml:"collection"`
	EncryptionKey string `yaml:"encryption_key"`
	TopK          int    `yaml:"top_k"`
}

// LoadConfig reads the yaml config file if present, then applies environment
// overrides (a .env file is honored when present) and defaults. A missing
// config file is not an error; missing required values surface in Validate.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Database.Host, "DB_HOST")
	setInt(&c.Database.Port, "DB_PORT")
	setString(&c.Database.Name, "DB_NAME")
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.SSLMode, "DB_SSLMODE")

	setString(&c.EmbedLLM.BaseURL, "EMBED_BASE_URL")
	setString(&c.EmbedLLM.Key, "EMBED_API_KEY")
	setString(&c.EmbedLLM.Key, "OPENROUTER_KEY")
	setString(&c.EmbedLLM.Model, "EMBED_MODEL")

	setString(&c.ChatLLM.BaseURL, "CHAT_BASE_URL")
	setString(&c.ChatLLM.Key, "CHAT_API_KEY")
	setString(&c.ChatLLM.Model, "CHAT_MODEL")

	setInt(&c.Chunking.MaxTokens, "CHUNK_MAX_TOKENS")
	setInt(&c.Chunking.OverlapTokens, "CHUNK_OVERLAP_TOKENS")
	setInt(&c.Ingest.BatchSize, "INGEST_BATCH_SIZE")
}

func (c *Config) applyDefaults() {
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Chunking.MaxTokens == 0 {
		c.Chunking.MaxTokens = 300
	}
	if c.Chunking.OverlapTokens == 0 && c.Chunking.MaxTokens > 50 {
		c.Chunking.OverlapTokens = 50
	}
	if c.Ingest.BatchSize == 0 {
		c.Ingest.BatchSize = 100
	}
	if c.Local.DBPath == "" {
		c.Local.DBPath = "./chromemdb"
	}
	if c.Local.Collection == "" {
		c.Local.Collection = "book_chunks"
	}
	if c.Local.TopK == 0 {
		c.Local.TopK = 5
	}
	if c.LogDir == "" {
		c.LogDir = "./logs"
	}
}

// Validate rejects invalid chunking bounds and batch sizes before any
// processing begins.
func (c *Config) Validate() error {
	if c.Chunking.MaxTokens <= 0 {
		return fmt.Errorf("chunking max_tokens must be positive, got %d", c.Chunking.MaxTokens)
	}
	if c.Chunking.OverlapTokens < 0 || c.Chunking.OverlapTokens >= c.Chunking.MaxTokens {
		return fmt.Errorf("chunking overlap_tokens must be in [0, %d), got %d",
			c.Chunking.MaxTokens, c.Chunking.OverlapTokens)
	}
	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("ingest batch_size must be positive, got %d", c.Ingest.BatchSize)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
