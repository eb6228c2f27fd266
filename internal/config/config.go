package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Backend selects the transport adapter variant at process startup.
const (
	BackendSelfHosted = "selfhosted"
	BackendHosted     = "hosted"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Vault     VaultConfig
	Transport TransportConfig
	Worker    WorkerConfig
	API       APIConfig
	Tasks     TasksConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
}

type VaultConfig struct {
	// KeyHex is the AEAD key, 64 hex chars. Required wherever the
	// vault is opened; validated there, not here, so read-only
	// processes can start without it.
	KeyHex   string
	BlobRoot string
}

type TransportConfig struct {
	Backend     string
	CountryCode string
	Hosted      HostedConfig
}

type HostedConfig struct {
	BaseURL string
	Token   string
}

type WorkerConfig struct {
	Concurrency    int
	SendsPerWindow int
	Window         time.Duration
	SendTimeout    time.Duration
	LockTTL        time.Duration
}

type APIConfig struct {
	Key string
}

type TasksConfig struct {
	// Secret authenticates the external scheduler; empty disables the
	// task-queue runtime endpoint.
	Secret string
}

func LoadAll() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: mustEnv("POSTGRES_URL"),
		},
		Redis: loadRedisConfig(),
		Vault: VaultConfig{
			KeyHex:   os.Getenv("VAULT_KEY"),
			BlobRoot: getEnv("VAULT_BLOB_ROOT", "/var/lib/zapengine/blobs"),
		},
		Transport: TransportConfig{
			Backend:     getEnv("WA_BACKEND", BackendSelfHosted),
			CountryCode: getEnv("DEFAULT_COUNTRY_CODE", "55"),
			Hosted: HostedConfig{
				BaseURL: os.Getenv("WA_PROVIDER_URL"),
				Token:   os.Getenv("WA_PROVIDER_TOKEN"),
			},
		},
		Worker: WorkerConfig{
			Concurrency:    getEnvInt("WORKER_CONCURRENCY", 4),
			SendsPerWindow: getEnvInt("SENDS_PER_WINDOW", 30),
			Window:         time.Duration(getEnvInt("SEND_WINDOW_SECONDS", 60)) * time.Second,
			SendTimeout:    time.Duration(getEnvInt("SEND_TIMEOUT_SECONDS", 30)) * time.Second,
			LockTTL:        time.Duration(getEnvInt("SESSION_LOCK_TTL_SECONDS", 120)) * time.Second,
		},
		API: APIConfig{
			Key: mustEnv("API_KEY"),
		},
		Tasks: TasksConfig{
			Secret: os.Getenv("TASKS_SECRET"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() RedisConfig {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       getEnvInt("REDIS_DB", 0),
	}
}

func validate(cfg *Config) error {
	switch cfg.Transport.Backend {
	case BackendSelfHosted, BackendHosted:
	default:
		return fmt.Errorf("WA_BACKEND must be %q or %q, got %q",
			BackendSelfHosted, BackendHosted, cfg.Transport.Backend)
	}
	if cfg.Worker.SendsPerWindow <= 0 {
		return fmt.Errorf("SENDS_PER_WINDOW must be > 0")
	}
	if cfg.Worker.Concurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be > 0")
	}
	return nil
}

func mustEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("missing required env var: %s", key))
	}
	return val
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		panic(fmt.Sprintf("invalid int for env %s: %s", key, v))
	}
	return i
}
