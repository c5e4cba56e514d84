// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Completion providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config holds all application configuration.
type Config struct {
	AppName        string
	Env            string
	Port           string
	LogLevel       string
	AllowedOrigins []string
	GRPCHealthAddr string // empty disables the gRPC health listener

	LLM      LLMConfig
	Store    StoreConfig
	Quota    QuotaConfig
	Audit    AuditConfig
	Upstream UpstreamConfig
}

// LLMConfig selects and configures the completion provider.
type LLMConfig struct {
	Provider       string
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	OpenAIModel    string
	GeminiAPIKey   string
	GeminiModel    string
	PlannerModel   string
	RequestTimeout time.Duration
}

// StoreConfig controls the counter/cache backend.
type StoreConfig struct {
	Backend       string
	RedisURL      string
	DBPath        string
	SweepInterval time.Duration
	MemoryEntries int
}

// QuotaConfig controls the per-user daily allowance.
type QuotaConfig struct {
	DailyLimit int
	AdminRoles []string
}

// AuditConfig controls audit event sinks.
type AuditConfig struct {
	Enabled    bool
	Path       string
	QueueSize  int
	MQTTBroker string
	MQTTTopic  string
}

// UpstreamConfig holds the data tool endpoints and credentials.
type UpstreamConfig struct {
	InternalAPIKey   string
	BridgeURL        string
	AlertsURL        string
	NDVIURL          string
	NDVIToken        string
	FrostURL         string
	IndexURL         string
	OpenMeteoURL     string
	ToolTimeout      time.Duration
	ForecastCacheTTL time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("AUDIT_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		AppName:        getEnv("APP_NAME", "Yieldera AI Backend"),
		Env:            getEnv("APP_ENV", "development"),
		Port:           getEnv("PORT", "8000"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"https://yieldera.net", "https://www.yieldera.net", "http://localhost:3000"}),
		GRPCHealthAddr: getEnv("GRPC_HEALTH_ADDR", ""),
		LLM: LLMConfig{
			Provider:       strings.ToLower(getEnv("LLM_PROVIDER", ProviderOpenAI)),
			OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4-turbo-preview"),
			GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
			GeminiModel:    getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			PlannerModel:   getEnv("PLANNER_MODEL", "gpt-3.5-turbo"),
			RequestTimeout: getEnvDuration("PROVIDER_TIMEOUT", 60*time.Second),
		},
		Store: StoreConfig{
			Backend:       strings.ToLower(getEnv("STORE_BACKEND", BackendRedis)),
			RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			DBPath:        getEnv("DB_PATH", "./data/advisor.db"),
			SweepInterval: getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
			MemoryEntries: getEnvInt("MEMORY_CACHE_ENTRIES", 10000),
		},
		Quota: QuotaConfig{
			DailyLimit: getEnvInt("RATE_LIMIT_PER_DAY", 5),
			AdminRoles: getEnvList("ADMIN_ROLES", []string{"admin", "administrator"}),
		},
		Audit: AuditConfig{
			Enabled:    getEnvBool("AUDIT_LOG_ENABLED", true),
			Path:       getEnv("AUDIT_LOG_PATH", "./data/logs/audit.ndjson"),
			QueueSize:  queueSize,
			MQTTBroker: getEnv("AUDIT_MQTT_BROKER", ""),
			MQTTTopic:  getEnv("AUDIT_MQTT_TOPIC", "yieldera/audit"),
		},
		Upstream: UpstreamConfig{
			InternalAPIKey:   getEnv("INTERNAL_API_KEY", ""),
			BridgeURL:        getEnv("PHP_BRIDGE_URL", "http://localhost/dashboard/api/internal/ai_bridge.php"),
			AlertsURL:        getEnv("ALERTS_API_URL", "https://yieldera-alerts-main.onrender.com/api"),
			NDVIURL:          getEnv("NDVI_API_URL", "https://ndvi-backend-2.onrender.com/api/gee_ndvi"),
			NDVIToken:        getEnv("GEE_API_TOKEN", ""),
			FrostURL:         getEnv("FROST_API_URL", "https://yieldera-frost-monitor.onrender.com"),
			IndexURL:         getEnv("INDEX_API_URL", "https://yieldera-index.onrender.com"),
			OpenMeteoURL:     getEnv("OPEN_METEO_URL", "https://api.open-meteo.com/v1/forecast"),
			ToolTimeout:      getEnvDuration("TOOL_TIMEOUT", 30*time.Second),
			ForecastCacheTTL: getEnvDuration("FORECAST_CACHE_TTL", 4*time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.Store.Backend {
	case BackendRedis, BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be one of redis, sqlite, memory (got %q)", c.Store.Backend)
	}
	if c.Store.Backend == BackendSQLite && c.Store.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty for the sqlite backend")
	}
	if c.Store.MemoryEntries <= 0 {
		return fmt.Errorf("MEMORY_CACHE_ENTRIES must be > 0")
	}
	if c.Quota.DailyLimit <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_DAY must be > 0")
	}
	if len(c.Quota.AdminRoles) == 0 {
		return fmt.Errorf("ADMIN_ROLES cannot be empty")
	}
	switch c.LLM.Provider {
	case ProviderOpenAI:
		if c.LLM.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
	case ProviderGemini:
		if c.LLM.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
		}
	default:
		return fmt.Errorf("LLM_PROVIDER must be openai or gemini (got %q)", c.LLM.Provider)
	}
	if c.LLM.RequestTimeout <= 0 || c.Upstream.ToolTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT and TOOL_TIMEOUT must be > 0")
	}
	if c.Audit.Enabled && c.Audit.Path == "" {
		return fmt.Errorf("AUDIT_LOG_PATH cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "" || c.Env == "development"
}

// ChatModel returns the model name for the selected provider.
func (c *Config) ChatModel() string {
	if c.LLM.Provider == ProviderGemini {
		return c.LLM.GeminiModel
	}
	return c.LLM.OpenAIModel
}

// PlanModel returns the model used by the plan generator. Gemini deployments
// plan with the chat model because the planner default names an OpenAI model.
func (c *Config) PlanModel() string {
	if c.LLM.Provider == ProviderGemini {
		return c.LLM.GeminiModel
	}
	return c.LLM.PlannerModel
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// getEnvList splits a comma-separated variable, dropping empty items.
func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
