package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	HTTPAddr  string `toml:"http_addr"`
	JWTSecret string `toml:"jwt_secret"`

	// DB
	DBDriver string `toml:"db_driver"`
	DBDSN    string `toml:"db_dsn"`

	// Redis (empty addr disables the model cache)
	RedisAddr     string        `toml:"redis_addr"`
	RedisPassword string        `toml:"redis_password"`
	RedisDB       int           `toml:"redis_db"`
	ModelCacheTTL time.Duration `toml:"model_cache_ttl"`

	// Ollama backend
	OllamaBaseURL     string        `toml:"ollama_base_url"`
	OllamaModel       string        `toml:"ollama_model"`
	StreamIdleTimeout time.Duration `toml:"stream_idle_timeout"`
	PersistTimeout    time.Duration `toml:"persist_timeout"`

	// uploads
	UploadDir      string `toml:"upload_dir"`
	MaxUploadBytes int64  `toml:"max_upload_bytes"`

	// rabbitMQ (empty url disables turn events)
	RabbitURL         string `toml:"rabbit_url"`
	RabbitQueue       string `toml:"rabbit_queue"`
	WorkerConcurrency int    `toml:"worker_concurrency"`

	DefaultUsername string `toml:"default_username"`
}

// DevJWTSecret is the built-in signing secret. Anyone who knows it can mint tokens.
const DevJWTSecret = "dev-secret-change-me"

// UsesDevSecret reports whether tokens are signed with the built-in secret.
func (c Config) UsesDevSecret() bool {
	return c.JWTSecret == "" || c.JWTSecret == DevJWTSecret
}

func defaults() Config {
	return Config{
		HTTPAddr:          ":5000",
		JWTSecret:         DevJWTSecret,
		DBDriver:          "sqlite",
		DBDSN:             "woolychat.db",
		RedisAddr:         "",
		ModelCacheTTL:     30 * time.Second,
		OllamaBaseURL:     "http://localhost:11434",
		OllamaModel:       "llama3:latest",
		StreamIdleTimeout: 2 * time.Minute,
		PersistTimeout:    30 * time.Second,
		UploadDir:         "uploads",
		MaxUploadBytes:    5 * 1024 * 1024,
		RabbitQueue:       "turn_events",
		WorkerConcurrency: 2,
		DefaultUsername:   "admin",
	}
}

// Load reads the optional TOML file named by WOOLYCHAT_CONFIG, then applies
// environment overrides on top of it.
func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv("WOOLYCHAT_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	str(&cfg.HTTPAddr, "HTTP_ADDR")
	str(&cfg.JWTSecret, "JWT_SECRET")
	str(&cfg.DBDriver, "DB_DRIVER")
	str(&cfg.DBDSN, "DB_DSN")
	str(&cfg.RedisAddr, "REDIS_ADDR")
	str(&cfg.RedisPassword, "REDIS_PASSWORD")
	str(&cfg.OllamaBaseURL, "OLLAMA_BASE_URL")
	str(&cfg.OllamaModel, "OLLAMA_MODEL")
	str(&cfg.UploadDir, "UPLOAD_DIR")
	str(&cfg.RabbitURL, "RABBIT_URL")
	str(&cfg.RabbitQueue, "RABBIT_QUEUE")
	str(&cfg.DefaultUsername, "DEFAULT_USERNAME")

	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerConcurrency = n
		}
	}
	if err := dur(&cfg.ModelCacheTTL, "MODEL_CACHE_TTL"); err != nil {
		return Config{}, err
	}
	if err := dur(&cfg.StreamIdleTimeout, "STREAM_IDLE_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if err := dur(&cfg.PersistTimeout, "PERSIST_TIMEOUT"); err != nil {
		return Config{}, err
	}

	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 2
	}
	if cfg.WorkerConcurrency > 50 {
		cfg.WorkerConcurrency = 50
	}
	return cfg, nil
}

func str(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func dur(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
