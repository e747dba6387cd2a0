// Package config loads server configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the server
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Auth      AuthConfig
	Logging   LoggingConfig
	RateLimit RateLimitConfig
	Security  SecurityConfig
	Proxy     ProxyConfig
	Metrics   MetricsConfig
	Networks  NetworksConfig
	Explorer  ExplorerConfig
	Compiler  CompilerConfig
	Deploy    DeployConfig
	Analysis  AnalysisConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int
	Host         string
	ReadTimeout  int // seconds
	WriteTimeout int // seconds
	IdleTimeout  int // seconds
	// AllowedOrigins feeds both CORS and the websocket origin check.
	AllowedOrigins []string
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type     string // "sqlite" or "postgres"
	Postgres PostgresConfig
	SQLite   SQLiteConfig
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	URL string
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	Type string // "none" or "api-key"
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string
	Format string // "text" or "json"
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	Enabled        bool
	RequestsPerMin int
	BurstSize      int
	CleanupMinutes int
	// DeploysPerHour caps requests that can broadcast transactions.
	DeploysPerHour int
}

// SecurityConfig holds security filter settings
type SecurityConfig struct {
	FilterEnabled bool
	MaxBodySizeMB int
}

// ProxyConfig holds trusted proxy settings for X-Forwarded-For handling
type ProxyConfig struct {
	TrustProxy     bool
	TrustedProxies []string // CIDR notation
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled bool
	// Port serves /metrics on a separate listener when non-zero.
	Port int
}

// NetworksConfig holds the JSON-RPC endpoint per network
type NetworksConfig struct {
	MumbaiRPC  string
	AmoyRPC    string
	PolygonRPC string
}

// ExplorerConfig holds Polygonscan verification settings
type ExplorerConfig struct {
	APIKey           string
	CompilerVersion  string
	OptimizationUsed bool
	Runs             int
	PollInterval     time.Duration
	MaxAttempts      int
	RequestTimeout   time.Duration
}

// CompilerConfig holds compiler toolchain settings
type CompilerConfig struct {
	Toolchain     string // "hardhat" or "solc"
	Command       string
	ProjectDir    string
	TempDir       string
	Timeout       time.Duration
	MaxConcurrent int
	SolcVersion   string
	// Optimizer settings must match what verification submits to the explorer.
	OptimizerEnabled bool
	OptimizerRuns    int
}

// DeployConfig holds transaction settings
type DeployConfig struct {
	// PrivateKey is the fallback signing key. Never log it.
	PrivateKey    string
	Timeout       time.Duration
	GasLimit      uint64
	GasMultiplier float64
}

// AnalysisConfig holds the generative AI settings for contract analysis
type AnalysisConfig struct {
	APIKey string
	Model  string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvInt("PORT", 8080),
			Host:           getEnv("HOST", "0.0.0.0"),
			ReadTimeout:    getEnvInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout:   getEnvInt("SERVER_WRITE_TIMEOUT", 600),
			IdleTimeout:    getEnvInt("SERVER_IDLE_TIMEOUT", 120),
			AllowedOrigins: getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"}),
		},
		Storage: StorageConfig{
			Type: getEnv("STORAGE_TYPE", "sqlite"),
			Postgres: PostgresConfig{
				URL: getEnv("DATABASE_URL", ""),
			},
			SQLite: SQLiteConfig{
				Path: getEnv("SQLITE_PATH", "./data/polybuilder.db"),
			},
		},
		Auth: AuthConfig{
			Type: getEnv("AUTH_TYPE", "none"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMin: getEnvInt("RATE_LIMIT_RPM", 300),
			BurstSize:      getEnvInt("RATE_LIMIT_BURST", 50),
			CleanupMinutes: getEnvInt("RATE_LIMIT_CLEANUP_MINUTES", 10),
			DeploysPerHour: getEnvInt("RATE_LIMIT_DEPLOYS_PER_HOUR", 30),
		},
		Security: SecurityConfig{
			FilterEnabled: getEnvBool("SECURITY_FILTER_ENABLED", true),
			MaxBodySizeMB: getEnvInt("SECURITY_MAX_BODY_SIZE_MB", 10),
		},
		Proxy: ProxyConfig{
			TrustProxy:     getEnvBool("TRUST_PROXY", false),
			TrustedProxies: getEnvStringSlice("TRUSTED_PROXIES", []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Port:    getEnvInt("METRICS_PORT", 0),
		},
		Networks: NetworksConfig{
			MumbaiRPC:  getEnv("POLYGON_MUMBAI_RPC", "https://rpc-mumbai.maticvigil.com"),
			AmoyRPC:    getEnv("POLYGON_AMOY_RPC", "https://rpc-amoy.polygon.technology"),
			PolygonRPC: getEnv("POLYGON_MAINNET_RPC", "https://polygon-rpc.com"),
		},
		Explorer: ExplorerConfig{
			APIKey:           getEnv("POLYGONSCAN_API_KEY", ""),
			CompilerVersion:  getEnv("VERIFY_COMPILER_VERSION", "v0.8.20+commit.a1b79de6"),
			OptimizationUsed: getEnvBool("VERIFY_OPTIMIZATION_USED", true),
			Runs:             getEnvInt("VERIFY_RUNS", 200),
			PollInterval:     getEnvDuration("VERIFY_POLL_INTERVAL", 5*time.Second),
			MaxAttempts:      getEnvInt("VERIFY_MAX_ATTEMPTS", 30),
			RequestTimeout:   getEnvDuration("VERIFY_REQUEST_TIMEOUT", 30*time.Second),
		},
		Compiler: CompilerConfig{
			Toolchain:     getEnv("COMPILER_TOOLCHAIN", "hardhat"),
			Command:       getEnv("COMPILER_COMMAND", "npx hardhat compile"),
			ProjectDir:    getEnv("COMPILER_PROJECT_DIR", ""),
			TempDir:       getEnv("COMPILER_TEMP_DIR", os.TempDir()),
			Timeout:       getEnvDuration("COMPILER_TIMEOUT", 2*time.Minute),
			MaxConcurrent: getEnvInt("COMPILER_MAX_CONCURRENT", 2),
			SolcVersion:   getEnv("COMPILER_SOLC_VERSION", "0.8.20"),
		},
		Deploy: DeployConfig{
			PrivateKey:    getEnv("PRIVATE_KEY", ""),
			Timeout:       getEnvDuration("DEPLOY_TIMEOUT", 5*time.Minute),
			GasLimit:      uint64(getEnvInt("DEPLOY_GAS_LIMIT", 0)),
			GasMultiplier: getEnvFloat("DEPLOY_GAS_MULTIPLIER", 1.2),
		},
		Analysis: AnalysisConfig{
			APIKey: getEnv("GEMINI_API_KEY", ""),
			Model:  getEnv("ANALYSIS_MODEL", "gemini-2.0-flash"),
		},
	}

	// If DATABASE_URL is set, default to postgres
	if cfg.Storage.Postgres.URL != "" && cfg.Storage.Type == "sqlite" {
		cfg.Storage.Type = "postgres"
	}

	if cfg.Compiler.MaxConcurrent < 1 {
		cfg.Compiler.MaxConcurrent = 1
	}
	cfg.Compiler.OptimizerEnabled = cfg.Explorer.OptimizationUsed
	cfg.Compiler.OptimizerRuns = cfg.Explorer.Runs

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("5s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
