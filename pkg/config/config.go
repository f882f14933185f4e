package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/osvaldoandrade/formq/internal/backoff"
	"github.com/osvaldoandrade/formq/internal/documents"
	"github.com/osvaldoandrade/formq/internal/ratelimit"
	"github.com/osvaldoandrade/formq/pkg/auth"
	"github.com/osvaldoandrade/formq/pkg/persistence"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port      int    `yaml:"port"`
	Env       string `yaml:"env"`
	Timezone  string `yaml:"timezone"`
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	PersistenceProvider string         `yaml:"persistenceProvider"`
	PersistenceConfig   map[string]any `yaml:"persistenceConfig"`

	// AuthProvider names a pkg/auth validator ("static", "jwks").
	AuthProvider string         `yaml:"authProvider"`
	AuthConfig   map[string]any `yaml:"authConfig"`

	LLM       LLMConfig       `yaml:"llm"`
	Documents DocumentsConfig `yaml:"documents"`

	MaxParallelRuns  int `yaml:"maxParallelRuns"`
	MaxBatchQuantity int `yaml:"maxBatchQuantity"`

	FormFetchTimeoutSeconds  int    `yaml:"formFetchTimeoutSeconds"`
	FormSubmitTimeoutSeconds int    `yaml:"formSubmitTimeoutSeconds"`
	RandomFillEmail          string `yaml:"randomFillEmail"`

	WebhookHmacSecret            string `yaml:"webhookHmacSecret"`
	JobWebhookMaxAttempts        int    `yaml:"jobWebhookMaxAttempts"`
	JobWebhookBaseBackoffSeconds int    `yaml:"jobWebhookBaseBackoffSeconds"`
	JobWebhookMaxBackoffSeconds  int    `yaml:"jobWebhookMaxBackoffSeconds"`

	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type LLMConfig struct {
	Provider       string  `yaml:"provider"`
	APIKey         string  `yaml:"apiKey"`
	Model          string  `yaml:"model"`
	BaseURL        string  `yaml:"baseUrl"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"maxTokens"`
	TimeoutSeconds int     `yaml:"timeoutSeconds"`
	MaxRetries     int     `yaml:"maxRetries"`

	// Delay between solver attempts; "none" retries immediately.
	BackoffPolicy string `yaml:"backoffPolicy"`
	BackoffBaseMs int    `yaml:"backoffBaseMs"`
	BackoffMaxMs  int    `yaml:"backoffMaxMs"`
}

// DocumentsConfig controls how uploads are chunked and how many chunks the
// solver sees per batch.
type DocumentsConfig struct {
	ChunkSize      int   `yaml:"chunkSize"`
	ChunkOverlap   int   `yaml:"chunkOverlap"`
	ContextChunks  int   `yaml:"contextChunks"`
	MaxUploadBytes int64 `yaml:"maxUploadBytes"`
}

type RateLimitConfig struct {
	KeyPrefix string           `yaml:"keyPrefix"`
	Submit    ratelimit.Bucket `yaml:"submit"`
	Webhook   ratelimit.Bucket `yaml:"webhook"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	OTLPInsecure bool    `yaml:"otlpInsecure"`
	SampleRatio  float64 `yaml:"sampleRatio"`
}

func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return parse(data)
}

// LoadConfigOptional behaves like LoadConfig but treats an empty path or a
// missing file as an empty document, so env vars and defaults still apply.
func LoadConfigOptional(filePath string) (*Config, error) {
	if strings.TrimSpace(filePath) == "" {
		return parse(nil)
	}
	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return parse(nil)
	}
	if err != nil {
		return nil, err
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	var c Config
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, err
		}
	}
	c.applyEnv()
	c.applyDefaults()
	log.Printf("formq config: {Port:%d Env:%s Persistence:%s Auth:%s LLM:%s/%s Parallel:%d}\n",
		c.Port, c.Env, c.PersistenceProvider, c.AuthProvider, c.LLM.Provider, c.LLM.Model, c.MaxParallelRuns)
	return &c, nil
}

func (c *Config) applyEnv() {
	envInt("PORT", &c.Port)
	envString("FORMQ_ENV", &c.Env)
	envString("REDIS_ADDR", &c.RedisAddr)
	envString("REDIS_PASSWORD", &c.RedisPassword)
	envString("PERSISTENCE_PROVIDER", &c.PersistenceProvider)
	envString("AUTH_PROVIDER", &c.AuthProvider)
	envString("LLM_PROVIDER", &c.LLM.Provider)
	envString("GEMINI_API_KEY", &c.LLM.APIKey)
	envString("LLM_MODEL", &c.LLM.Model)
	envInt("LLM_MAX_RETRIES", &c.LLM.MaxRetries)
	envInt("MAX_PARALLEL_RUNS", &c.MaxParallelRuns)
	envInt("MAX_BATCH_QUANTITY", &c.MaxBatchQuantity)
	envString("WEBHOOK_HMAC_SECRET", &c.WebhookHmacSecret)
	envString("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Tracing.OTLPEndpoint)
	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Tracing.Enabled = b
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.PersistenceProvider == "" {
		c.PersistenceProvider = "memory"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "gemini"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gemini-2.5-flash"
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 30
	}
	if c.LLM.MaxRetries <= 0 {
		c.LLM.MaxRetries = 3
	}
	if c.LLM.BackoffPolicy == "" {
		c.LLM.BackoffPolicy = backoff.PolicyNone
	}
	if c.Documents.ChunkSize <= 0 {
		c.Documents.ChunkSize = documents.DefaultChunkSize
	}
	if c.Documents.ChunkOverlap <= 0 {
		c.Documents.ChunkOverlap = documents.DefaultChunkOverlap
	}
	if c.Documents.ContextChunks <= 0 {
		c.Documents.ContextChunks = documents.DefaultTopK
	}
	if c.Documents.MaxUploadBytes <= 0 {
		c.Documents.MaxUploadBytes = documents.MaxSize
	}
	if c.MaxParallelRuns <= 0 {
		c.MaxParallelRuns = 9
	}
	if c.MaxBatchQuantity <= 0 {
		c.MaxBatchQuantity = 1000
	}
	if c.FormFetchTimeoutSeconds <= 0 {
		c.FormFetchTimeoutSeconds = 10
	}
	if c.FormSubmitTimeoutSeconds <= 0 {
		c.FormSubmitTimeoutSeconds = 5
	}
	if c.JobWebhookMaxAttempts <= 0 {
		c.JobWebhookMaxAttempts = 5
	}
	if c.JobWebhookBaseBackoffSeconds <= 0 {
		c.JobWebhookBaseBackoffSeconds = 2
	}
	if c.JobWebhookMaxBackoffSeconds <= 0 {
		c.JobWebhookMaxBackoffSeconds = 60
	}
	if c.RateLimit.KeyPrefix == "" {
		c.RateLimit.KeyPrefix = ratelimit.DefaultKeyPrefix
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "formq"
	}
}

func (c *Config) Validate() error {
	var errs []string
	dev := c.IsDev()

	if c.MaxParallelRuns <= 0 {
		errs = append(errs, "maxParallelRuns must be positive")
	}
	if c.MaxBatchQuantity <= 0 {
		errs = append(errs, "maxBatchQuantity must be positive")
	}
	if c.LLM.MaxRetries <= 0 {
		errs = append(errs, "llm.maxRetries must be positive")
	}
	if c.Documents.ChunkOverlap >= c.Documents.ChunkSize {
		errs = append(errs, "documents.chunkOverlap must be smaller than documents.chunkSize")
	}
	if c.Documents.MaxUploadBytes > documents.MaxSize {
		errs = append(errs, fmt.Sprintf("documents.maxUploadBytes must not exceed %d", documents.MaxSize))
	}
	if !backoff.Valid(c.LLM.BackoffPolicy) {
		errs = append(errs, fmt.Sprintf("llm.backoffPolicy %q is not supported", c.LLM.BackoffPolicy))
	}
	if strings.TrimSpace(c.PersistenceProvider) == "" {
		errs = append(errs, "persistenceProvider is required")
	}

	switch c.AuthProvider {
	case "":
		if !dev {
			errs = append(errs, "authProvider is required in non-dev")
		}
	case "jwks":
		raw, _ := c.AuthConfig["jwksUrl"].(string)
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, "authConfig.jwksUrl must be a valid http(s) URL")
		}
	}

	if strings.TrimSpace(c.WebhookHmacSecret) == "" && !dev {
		errs = append(errs, "webhookHmacSecret is required in non-dev")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) IsDev() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "dev")
}

// PersistenceProviderConfig renders the plugin section for persistence.NewPersistence.
func (c *Config) PersistenceProviderConfig() (persistence.ProviderConfig, error) {
	raw, err := rawSection(c.PersistenceConfig)
	if err != nil {
		return persistence.ProviderConfig{}, fmt.Errorf("persistenceConfig: %w", err)
	}
	return persistence.ProviderConfig{Type: c.PersistenceProvider, Config: raw}, nil
}

func (c *Config) AuthProviderConfig() (auth.ProviderConfig, error) {
	raw, err := rawSection(c.AuthConfig)
	if err != nil {
		return auth.ProviderConfig{}, fmt.Errorf("authConfig: %w", err)
	}
	return auth.ProviderConfig{Type: c.AuthProvider, Config: raw}, nil
}

func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

func (c *Config) SolverBackoff() backoff.Policy {
	return backoff.Policy{
		Name: c.LLM.BackoffPolicy,
		Base: time.Duration(c.LLM.BackoffBaseMs) * time.Millisecond,
		Max:  time.Duration(c.LLM.BackoffMaxMs) * time.Millisecond,
	}
}

func rawSection(section map[string]any) (json.RawMessage, error) {
	if len(section) == 0 {
		return json.RawMessage(`{}`), nil
	}
	b, err := json.Marshal(section)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
