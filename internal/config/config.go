package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/BothRocks/hari2-sub000/internal/tracing"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port        int `mapstructure:"port"`
	MetricsPort int `mapstructure:"metrics_port"`
	RateLimit   struct {
		RequestsPerSecond float64 `mapstructure:"requests_per_second"`
		Burst             int     `mapstructure:"burst"`
	} `mapstructure:"rate_limit"`
}

// LLMConfig points at the OpenAI-compatible completion service.
type LLMConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKeyEnv      string        `mapstructure:"api_key_env"`
	EvaluatorModel string        `mapstructure:"evaluator_model"`
	GeneratorModel string        `mapstructure:"generator_model"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// SearchConfig points at the internal hybrid search service and the
// external web search API.
type SearchConfig struct {
	Internal struct {
		BaseURL string        `mapstructure:"base_url"`
		Timeout time.Duration `mapstructure:"timeout"`
		TopK    int           `mapstructure:"top_k"`
	} `mapstructure:"internal"`
	External struct {
		BaseURL   string        `mapstructure:"base_url"`
		APIKeyEnv string        `mapstructure:"api_key_env"`
		Timeout   time.Duration `mapstructure:"timeout"`
		Depth     string        `mapstructure:"depth"`
	} `mapstructure:"external"`
}

// GuardrailConfig carries run defaults; callers may override per request.
type GuardrailConfig struct {
	MaxIterations  int     `mapstructure:"max_iterations"`
	TimeoutSeconds float64 `mapstructure:"timeout_seconds"`
	CostCeilingUSD float64 `mapstructure:"cost_ceiling_usd"`
}

// StreamingConfig controls the progress event manager.
type StreamingConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RingCapacity  int           `mapstructure:"ring_capacity"`
	StreamTTL     time.Duration `mapstructure:"stream_ttl"`
	SubscriberBuf int           `mapstructure:"subscriber_buffer"`
}

// UsageConfig controls the token usage ledger.
type UsageConfig struct {
	Driver string `mapstructure:"driver"` // postgres | sqlite3 | "" (disabled)
	DSN    string `mapstructure:"dsn"`
}

// Config is the root assistant configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Guardrail GuardrailConfig `mapstructure:"guardrails"`
	Streaming StreamingConfig `mapstructure:"streaming"`
	Usage     UsageConfig     `mapstructure:"usage"`
	Tracing   tracing.Config  `mapstructure:"tracing"`
}

// Load reads assistant.yaml from CONFIG_PATH or ./config/assistant.yaml,
// applies env overrides, and fills defaults.
func Load() (*Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "./config/assistant.yaml"
	}

	v := viper.New()
	v.SetConfigFile(cfgPath)
	v.SetEnvPrefix("ASSISTANT")
	v.AutomaticEnv()

	var c Config
	if err := v.ReadInConfig(); err != nil {
		// Missing file is fine; defaults plus env cover local dev.
		if _, statErr := os.Stat(cfgPath); statErr == nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = 2112
	}
	if c.Server.RateLimit.RequestsPerSecond == 0 {
		c.Server.RateLimit.RequestsPerSecond = 5
	}
	if c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = 10
	}

	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = envOr("LLM_SERVICE_URL", "http://llm-service:8000")
	}
	if c.LLM.APIKeyEnv == "" {
		c.LLM.APIKeyEnv = "LLM_API_KEY"
	}
	if c.LLM.EvaluatorModel == "" {
		c.LLM.EvaluatorModel = "gpt-4o-mini"
	}
	if c.LLM.GeneratorModel == "" {
		c.LLM.GeneratorModel = "gpt-4o"
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 60 * time.Second
	}

	if c.Search.Internal.BaseURL == "" {
		c.Search.Internal.BaseURL = envOr("HYBRID_SEARCH_URL", "http://hybrid-search:8090")
	}
	if c.Search.Internal.Timeout == 0 {
		c.Search.Internal.Timeout = 10 * time.Second
	}
	if c.Search.Internal.TopK == 0 {
		c.Search.Internal.TopK = 5
	}
	if c.Search.External.BaseURL == "" {
		c.Search.External.BaseURL = "https://api.tavily.com"
	}
	if c.Search.External.APIKeyEnv == "" {
		c.Search.External.APIKeyEnv = "TAVILY_API_KEY"
	}
	if c.Search.External.Timeout == 0 {
		c.Search.External.Timeout = 20 * time.Second
	}
	if c.Search.External.Depth == "" {
		c.Search.External.Depth = "basic"
	}

	if c.Guardrail.MaxIterations == 0 {
		c.Guardrail.MaxIterations = 3
	}
	if c.Guardrail.TimeoutSeconds == 0 {
		c.Guardrail.TimeoutSeconds = 120
	}
	if c.Guardrail.CostCeilingUSD == 0 {
		c.Guardrail.CostCeilingUSD = 1.0
	}

	if c.Streaming.RedisAddr == "" {
		c.Streaming.RedisAddr = os.Getenv("REDIS_ADDR")
	}
	if c.Streaming.RingCapacity == 0 {
		c.Streaming.RingCapacity = 256
	}
	if c.Streaming.StreamTTL == 0 {
		c.Streaming.StreamTTL = 30 * time.Minute
	}
	if c.Streaming.SubscriberBuf == 0 {
		c.Streaming.SubscriberBuf = 256
	}

	if c.Usage.Driver == "" {
		c.Usage.Driver = os.Getenv("USAGE_DRIVER")
	}
	if c.Usage.DSN == "" {
		c.Usage.DSN = os.Getenv("USAGE_DSN")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
